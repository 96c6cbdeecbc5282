package internal

import (
	"encoding/json"
)

// 入站事件
const (
	EventJoin            = "join"
	EventLeaveRoom       = "leaveRoom"
	EventCodeChange      = "codeChange"
	EventTyping          = "typing"
	EventLanguageChange  = "languageChange"
	EventCursorMove      = "cursorMove"
	EventSelectionChange = "selectionChange"
	EventChatMessage     = "chatMessage"
	EventChatTyping      = "chatTyping"
	EventRunExecuted     = "runExecuted"
	EventCompileCode     = "compileCode"
)

// 出站事件（chatMessage、chatTyping 與入站同名）
const (
	EventUserJoined      = "userJoined"
	EventCodeUpdate      = "codeUpdate"
	EventUserTyping      = "userTyping"
	EventLanguageUpdate  = "languageUpdate"
	EventCursorUpdate    = "cursorUpdate"
	EventSelectionUpdate = "selectionUpdate"
	EventSessionLog      = "sessionLog"
	EventCodeResponse    = "codeResponse"
)

// Message 線上訊息格式，兩個方向都是 {"event": ..., "data": ...}
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outboundMessage 出站訊息（Data 在序列化時才展開）
type outboundMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Encode 序列化一個出站訊息
func Encode(event string, data any) ([]byte, error) {
	return json.Marshal(outboundMessage{Event: event, Data: data})
}

// Payload 入站事件的欄位聯集
//
// 各事件只使用自己需要的欄位；欄位名稱沿用網頁客戶端（userName、input），
// 同時接受 displayName、stdin 作為別名。
type Payload struct {
	RoomID      string          `json:"roomId"`
	UserName    string          `json:"userName"`
	DisplayName string          `json:"displayName"`
	Code        *string         `json:"code"` // 指標：空字串是合法文件，缺少才算無效
	Language    string          `json:"language"`
	Position    json.RawMessage `json:"position"`
	Selection   json.RawMessage `json:"selection"`
	Message     string          `json:"message"`
	Version     string          `json:"version"`
	Input       string          `json:"input"`
	Stdin       string          `json:"stdin"`
}

// Name 返回客戶端聲稱的顯示名稱
func (p Payload) Name() string {
	if p.UserName != "" {
		return p.UserName
	}
	return p.DisplayName
}

// StdinText 返回標準輸入內容
func (p Payload) StdinText() string {
	if p.Input != "" {
		return p.Input
	}
	return p.Stdin
}

// present 判斷原始 JSON 欄位是否存在且非 null
func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// DecodePayload 解析事件資料；沒有資料（如 leaveRoom）時返回零值
func DecodePayload(data json.RawMessage) (Payload, error) {
	var p Payload
	if !present(data) {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// 出站資料結構

type cursorUpdate struct {
	UserName string          `json:"userName"`
	Position json.RawMessage `json:"position"`
}

type selectionUpdate struct {
	UserName  string          `json:"userName"`
	Selection json.RawMessage `json:"selection"`
}

type chatMessage struct {
	UserName  string `json:"userName"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type chatTyping struct {
	UserName string `json:"userName"`
}

type codeResponse struct {
	Run ExecResult `json:"run"`
}
