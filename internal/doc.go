// Package internal 實作協作編輯中繼服務。
//
// 系統設計問題：
//
//	多個瀏覽器分頁同時編輯同一份程式碼，如何即時同步文件、游標與聊天，
//	並讓任何人都能執行程式、把結果推給整個房間？
//
// 組成：
//   - Manager：房間成員表（以連接計算成員，以名稱去重顯示）
//   - Route：無狀態的事件中繼規則表
//   - ExecutionProxy：外部沙箱執行代理與結果正規化
//   - Hub / Connection：WebSocket 傳輸、心跳與事件分派
//   - Handler：健康檢查、統計與跨來源規則
//   - Listen：端口被佔用時改試下一個端口
//
// 伺服器不保存任何持久狀態：房間在最後一個連接離開時立即回收，
// 活動紀錄即時衍生、廣播後即丟棄。
package internal
