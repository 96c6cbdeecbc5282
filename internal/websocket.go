package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/koopa0/collab-relay/internal/limiter"
	"github.com/koopa0/collab-relay/pkg/logger"
)

// 系統設計問題：
//   如何讓同一房間的多個編輯器即時同步？
//
// 核心挑戰：
//   1. 即時通信：編輯、游標、聊天需要立即推送給房間其他人
//   2. 連接管理：分頁關閉、網路中斷都必須等同離開房間
//   3. 心跳機制：檢測死連接（瀏覽器崩潰、網路異常）
//   4. 隔離失敗：外部執行服務變慢或單一訊息處理 panic 不能影響其他連接
//
// 設計方案：
//   ✅ WebSocket - 全雙工通信（低延遲、服務器推送）
//   ✅ Hub 模式 - 集中管理所有連接，房間成員交給 Manager
//   ✅ Ping/Pong 心跳 - 檢測死連接（54s/60s）
//   ✅ 緩衝 channel - 非阻塞發送，慢消費者只會漏訊息
//   ✅ 非同步執行 - compileCode 在獨立 goroutine 中等待外部服務

// HubConfig 連接層參數
type HubConfig struct {
	MaxMessageBytes  int64
	SendBuffer       int
	PingInterval     time.Duration
	PongWait         time.Duration
	WriteWait        time.Duration
	ExecBurst        int64
	ExecRefillPerSec int64
	Origins          OriginPolicy
}

// HubConfigFrom 從應用配置取出連接層參數
func HubConfigFrom(cfg *Config) HubConfig {
	return HubConfig{
		MaxMessageBytes:  cfg.WebSocket.MaxMessageBytes,
		SendBuffer:       cfg.WebSocket.SendBuffer,
		PingInterval:     cfg.WebSocket.PingInterval,
		PongWait:         cfg.WebSocket.PongWait,
		WriteWait:        cfg.WebSocket.WriteWait,
		ExecBurst:        cfg.Limits.ExecBurst,
		ExecRefillPerSec: cfg.Limits.ExecRefillPerSec,
		Origins: OriginPolicy{
			Allowed:    cfg.Server.AllowedOrigins,
			Production: cfg.Server.Production,
		},
	}
}

// Hub WebSocket 連接中心
//
// Hub 只負責傳輸：升級連接、讀寫訊息、把事件分派給 Manager、
// 中繼規則表或執行代理。房間成員狀態全部在 Manager 裡。
type Hub struct {
	manager *Manager
	proxy   *ExecutionProxy
	logger  *slog.Logger
	cfg     HubConfig

	upgrader    websocket.Upgrader
	connections map[string]*Connection // connID -> Connection
	mu          sync.RWMutex
	stopped     bool

	ctx    context.Context // 取消時中止所有進行中的執行請求
	cancel context.CancelFunc
	wg     sync.WaitGroup // 讀寫 goroutine 與執行請求

	now func() time.Time
}

// Connection 一個客戶端的 WebSocket 連接
type Connection struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	session *Session             // 只由 readPump 讀寫
	limiter *limiter.TokenBucket // 限制 compileCode 頻率
	ctx     context.Context      // 帶有 conn_id 的日誌上下文

	mu       sync.Mutex
	closed   bool
	lastPong time.Time
}

// NewHub 創建 WebSocket Hub
func NewHub(manager *Manager, proxy *ExecutionProxy, cfg HubConfig, log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	hub := &Hub{
		manager:     manager,
		proxy:       proxy,
		logger:      log,
		cfg:         cfg,
		connections: make(map[string]*Connection),
		ctx:         ctx,
		cancel:      cancel,
		now:         time.Now,
	}
	hub.upgrader = websocket.Upgrader{
		CheckOrigin:     cfg.Origins.AllowRequest,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return hub
}

// ServeWS 處理 WebSocket 連接
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已經回應錯誤狀態碼
		hub.logger.Warn("升級 WebSocket 失敗",
			"error", err,
			"origin", r.Header.Get("Origin"),
			"remote_addr", r.RemoteAddr)
		return
	}

	id := uuid.NewString()
	c := &Connection{
		id:       id,
		conn:     conn,
		send:     make(chan []byte, hub.cfg.SendBuffer),
		hub:      hub,
		limiter:  limiter.NewTokenBucket(hub.cfg.ExecBurst, hub.cfg.ExecRefillPerSec),
		ctx:      logger.WithConnID(hub.ctx, id),
		lastPong: hub.now(),
	}
	c.session = NewSession(c)

	if !hub.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()

	hub.logger.InfoContext(c.ctx, "WebSocket 連接建立", "remote_addr", r.RemoteAddr)
}

// register 註冊連接；Hub 已停止時返回 false
func (hub *Hub) register(c *Connection) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.stopped {
		return false
	}
	hub.connections[c.id] = c
	hub.wg.Add(2) // readPump + writePump
	return true
}

// unregister 取消註冊連接
func (hub *Hub) unregister(c *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if actual, exists := hub.connections[c.id]; exists && actual == c {
		delete(hub.connections, c.id)
	}
}

// ConnectionCount 獲取連接數
func (hub *Hub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.connections)
}

// Stop 停止 Hub：中止執行請求、關閉所有連接並等待 goroutine 結束
func (hub *Hub) Stop(ctx context.Context) error {
	hub.cancel()

	hub.mu.Lock()
	hub.stopped = true
	conns := make([]*Connection, 0, len(hub.connections))
	for _, c := range hub.connections {
		conns = append(conns, c)
	}
	hub.mu.Unlock()

	// 關閉 send 讓 writePump 送出 close frame，readPump 隨後讀到錯誤並離開房間
	for _, c := range conns {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		hub.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		hub.logger.Info("WebSocket Hub 已停止", "connections", len(conns))
		return nil
	case <-ctx.Done():
		for _, c := range conns {
			c.conn.Close()
		}
		return ctx.Err()
	}
}

// ID 實現 Sender
func (c *Connection) ID() string {
	return c.id
}

// Send 實現 Sender：非阻塞排入發送佇列
//
// 緩衝區滿或連接已關閉時丟棄訊息並返回 false。
func (c *Connection) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.hub.logger.WarnContext(c.ctx, "連接緩衝區滿，丟棄訊息")
		return false
	}
}

// close 關閉發送佇列（只會執行一次）
func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump 讀取客戶端消息
//
// 心跳（讀取端）：PongWait 內沒有收到任何訊息（包括 Pong）就關閉連接。
// 離開時不論原因（主動關閉、網路中斷、超時）都以 Disconnect 離開房間。
func (c *Connection) readPump() {
	hub := c.hub
	defer hub.wg.Done()
	defer func() {
		hub.manager.Disconnect(c.session)
		hub.unregister(c)
		c.close()
		c.conn.Close()
		hub.logger.InfoContext(c.ctx, "WebSocket 連接關閉")
	}()

	if hub.cfg.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(hub.cfg.MaxMessageBytes)
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(hub.cfg.PongWait)); err != nil {
		hub.logger.ErrorContext(c.ctx, "設置讀取期限失敗", "error", err)
	}

	// Pong 處理器（收到 Pong 重置超時）
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(hub.cfg.PongWait)); err != nil {
			hub.logger.ErrorContext(c.ctx, "設置讀取期限失敗", "error", err)
		}
		c.mu.Lock()
		c.lastPong = hub.now()
		c.mu.Unlock()
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				hub.logger.WarnContext(c.ctx, "WebSocket 讀取錯誤",
					"error", err,
					"room_id", c.session.RoomID)
			}
			return
		}

		// 收到任何訊息都代表連接存活
		if err := c.conn.SetReadDeadline(time.Now().Add(hub.cfg.PongWait)); err != nil {
			hub.logger.ErrorContext(c.ctx, "設置讀取期限失敗", "error", err)
		}

		if messageType == websocket.TextMessage {
			c.dispatch(message)
		}
	}
}

// dispatch 處理單一訊息；panic 只影響這一則訊息
func (c *Connection) dispatch(message []byte) {
	defer logger.Recover(c.hub.logger, "dispatch")
	c.handleMessage(message)
}

// writePump 寫入消息到客戶端
//
// 心跳（發送端）：每 PingInterval 送出 Ping，客戶端自動回覆 Pong。
// send 被關閉時送出 close frame 後結束。
func (c *Connection) writePump() {
	hub := c.hub
	ticker := time.NewTicker(hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		hub.wg.Done()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(hub.cfg.WriteWait)); err != nil {
				hub.logger.ErrorContext(c.ctx, "設置寫入期限失敗", "error", err)
			}
			if !ok {
				// 嘗試發送關閉消息，忽略錯誤（連接可能已關閉）
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				hub.logger.DebugContext(c.ctx, "發送消息失敗", "error", err)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(hub.cfg.WriteWait)); err != nil {
				hub.logger.ErrorContext(c.ctx, "設置寫入期限失敗", "error", err)
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 解析並分派客戶端消息
//
// 格式錯誤或缺少必要欄位的事件直接丟棄，不回應錯誤。
func (c *Connection) handleMessage(message []byte) {
	hub := c.hub

	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		hub.logger.DebugContext(c.ctx, "解析客戶端消息失敗", "error", err)
		return
	}

	p, err := DecodePayload(msg.Data)
	if err != nil {
		hub.logger.DebugContext(c.ctx, "解析事件資料失敗", "event", msg.Event, "error", err)
		return
	}

	switch msg.Event {
	case EventJoin:
		hub.manager.Join(c.session, p.RoomID, p.Name())
	case EventLeaveRoom:
		hub.manager.Leave(c.session)
	case EventCompileCode:
		c.compile(p)
	default:
		broadcasts := Route(msg.Event, p, hub.now())
		if broadcasts == nil {
			hub.logger.DebugContext(c.ctx, "忽略事件", "event", msg.Event)
			return
		}
		c.publish(broadcasts)
	}
}

// publish 投遞中繼規則表產生的廣播
//
// 相鄰且同房間同範圍的廣播合併成一次投遞，確保接收者看到的順序與產生順序一致。
func (c *Connection) publish(broadcasts []Broadcast) {
	hub := c.hub

	for i := 0; i < len(broadcasts); {
		head := broadcasts[i]
		msgs := make([][]byte, 0, len(broadcasts)-i)

		j := i
		for ; j < len(broadcasts) && broadcasts[j].RoomID == head.RoomID && broadcasts[j].Scope == head.Scope; j++ {
			msg, err := Encode(broadcasts[j].Event, broadcasts[j].Data)
			if err != nil {
				hub.logger.ErrorContext(c.ctx, "序列化事件失敗", "event", broadcasts[j].Event, "error", err)
				continue
			}
			msgs = append(msgs, msg)
		}
		i = j

		switch head.Scope {
		case ScopeRoom:
			hub.manager.Broadcast(head.RoomID, "", msgs...)
		case ScopeOthers:
			hub.manager.Broadcast(head.RoomID, c.id, msgs...)
		}
	}
}

// compile 非同步執行程式碼，結果廣播給整個房間
//
// 超過頻率限制時不呼叫外部服務，但仍把失敗結果廣播給整個房間。
func (c *Connection) compile(p Payload) {
	hub := c.hub

	req := ExecRequest{
		Language: p.Language,
		Version:  p.Version,
		Stdin:    p.StdinText(),
		RoomID:   p.RoomID,
	}
	if p.Code != nil {
		req.Code = *p.Code
	}
	if !req.Valid() {
		hub.logger.DebugContext(c.ctx, "忽略無效的執行請求", "room_id", p.RoomID)
		return
	}

	if !c.limiter.Allow() {
		hub.logger.WarnContext(c.ctx, "執行請求過於頻繁", "room_id", req.RoomID)
		c.publish([]Broadcast{{
			RoomID: req.RoomID,
			Scope:  ScopeRoom,
			Event:  EventCodeResponse,
			Data:   codeResponse{Run: RateLimitedResult()},
		}})
		return
	}

	// readPump 持有 wg 計數，這裡 Add 不會與 Stop 的 Wait 競爭
	hub.wg.Add(1)
	go func() {
		defer hub.wg.Done()
		defer logger.Recover(hub.logger, "compileCode")

		ctx := logger.WithRoomID(c.ctx, req.RoomID)
		result := hub.proxy.Execute(ctx, req)

		msg, err := Encode(EventCodeResponse, codeResponse{Run: result})
		if err != nil {
			hub.logger.ErrorContext(ctx, "序列化執行結果失敗", "error", err)
			return
		}
		delivered := hub.manager.Broadcast(req.RoomID, "", msg)
		hub.logger.DebugContext(ctx, "執行結果已廣播", "delivered", delivered)
	}()
}
