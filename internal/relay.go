package internal

import (
	"time"
)

// Scope 廣播範圍
type Scope int

const (
	// ScopeRoom 房間內所有連接（含發送者）
	ScopeRoom Scope = iota
	// ScopeOthers 房間內除發送者外的連接
	ScopeOthers
)

func (s Scope) String() string {
	switch s {
	case ScopeRoom:
		return "room"
	case ScopeOthers:
		return "others"
	default:
		return "unknown"
	}
}

// Broadcast 一個待投遞的出站事件
type Broadcast struct {
	RoomID string
	Scope  Scope
	Event  string
	Data   any
}

// routeFunc 把一個入站事件轉成出站廣播；返回 nil 表示事件無效並丟棄
type routeFunc func(p Payload, now time.Time) []Broadcast

// routes 無狀態的中繼規則表
//
// join、leaveRoom、compileCode 會修改成員表或呼叫外部服務，不在表內。
var routes = map[string]routeFunc{
	EventCodeChange: func(p Payload, _ time.Time) []Broadcast {
		if p.RoomID == "" || p.Code == nil {
			return nil
		}
		return others(p.RoomID, EventCodeUpdate, *p.Code)
	},
	EventTyping: func(p Payload, _ time.Time) []Broadcast {
		if p.RoomID == "" || p.Name() == "" {
			return nil
		}
		return others(p.RoomID, EventUserTyping, p.Name())
	},
	EventLanguageChange: func(p Payload, _ time.Time) []Broadcast {
		if p.RoomID == "" || p.Language == "" {
			return nil
		}
		return others(p.RoomID, EventLanguageUpdate, p.Language)
	},
	EventCursorMove: func(p Payload, _ time.Time) []Broadcast {
		if p.RoomID == "" || p.Name() == "" || !present(p.Position) {
			return nil
		}
		return others(p.RoomID, EventCursorUpdate, cursorUpdate{UserName: p.Name(), Position: p.Position})
	},
	EventSelectionChange: func(p Payload, _ time.Time) []Broadcast {
		if p.RoomID == "" || p.Name() == "" || !present(p.Selection) {
			return nil
		}
		return others(p.RoomID, EventSelectionUpdate, selectionUpdate{UserName: p.Name(), Selection: p.Selection})
	},
	EventChatMessage: func(p Payload, now time.Time) []Broadcast {
		if p.RoomID == "" || p.Name() == "" || p.Message == "" {
			return nil
		}
		return []Broadcast{
			{
				RoomID: p.RoomID,
				Scope:  ScopeRoom,
				Event:  EventChatMessage,
				Data:   chatMessage{UserName: p.Name(), Message: p.Message, Timestamp: now.UnixMilli()},
			},
			{
				RoomID: p.RoomID,
				Scope:  ScopeRoom,
				Event:  EventSessionLog,
				Data:   NewLogEntry(LogChat, p.Name(), p.Message, now),
			},
		}
	},
	EventChatTyping: func(p Payload, _ time.Time) []Broadcast {
		if p.RoomID == "" || p.Name() == "" {
			return nil
		}
		return others(p.RoomID, EventChatTyping, chatTyping{UserName: p.Name()})
	},
	EventRunExecuted: func(p Payload, now time.Time) []Broadcast {
		if p.RoomID == "" || p.Name() == "" {
			return nil
		}
		return []Broadcast{{
			RoomID: p.RoomID,
			Scope:  ScopeRoom,
			Event:  EventSessionLog,
			Data:   NewLogEntry(LogRun, p.Name(), "", now),
		}}
	},
}

// Route 依規則表把入站事件轉成出站廣播
//
// 純函式：不讀寫成員表。未知事件或缺少必要欄位時返回 nil。
func Route(event string, p Payload, now time.Time) []Broadcast {
	route, ok := routes[event]
	if !ok {
		return nil
	}
	return route(p, now)
}

// IsRelayed 事件是否由規則表處理
func IsRelayed(event string) bool {
	_, ok := routes[event]
	return ok
}

func others(roomID, event string, data any) []Broadcast {
	return []Broadcast{{RoomID: roomID, Scope: ScopeOthers, Event: event, Data: data}}
}
