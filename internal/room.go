package internal

import (
	"slices"
	"sync"
)

// Sender 可接收廣播的連接
//
// Send 必須是非阻塞的：慢消費者只會漏掉訊息，不能拖住整個房間。
type Sender interface {
	ID() string
	Send(msg []byte) bool
}

// member 一個連接在房間中的成員聲明
type member struct {
	conn Sender
	name string
}

// Room 協作房間
//
// 兩層模型：
//   - 成員資格以「連接」計算（同一顯示名稱可以有多個分頁）
//   - 對外顯示以「名稱」去重
//
// 所以移除一個連接不會讓同名的另一個連接從清單消失。
//
// 房間在第一次加入時建立，最後一個連接離開時標記為 closed 並從
// Manager 移除；closed 之後的房間不再接受成員，加入者會重新取得新房間。
type Room struct {
	ID string

	mu      sync.Mutex         // 序列化同一房間的所有讀寫與廣播
	members map[string]*member // connID -> member
	closed  bool
}

func newRoom(id string) *Room {
	return &Room{
		ID:      id,
		members: make(map[string]*member),
	}
}

// namesLocked 返回去重排序後的顯示名稱（需持有 r.mu）
func (r *Room) namesLocked() []string {
	names := make([]string, 0, len(r.members))
	for _, m := range r.members {
		names = append(names, m.name)
	}
	return UniqueNames(names)
}

// deliverLocked 把訊息依序送給房間內除 excludeID 外的所有連接（需持有 r.mu）
//
// 持鎖投遞保證同一房間的所有接收者看到相同的事件順序。
func (r *Room) deliverLocked(excludeID string, msgs ...[]byte) int {
	delivered := 0
	for id, m := range r.members {
		if id == excludeID {
			continue
		}
		for _, msg := range msgs {
			if msg != nil && m.conn.Send(msg) {
				delivered++
			}
		}
	}
	return delivered
}

// UniqueNames 去重並排序顯示名稱
func UniqueNames(names []string) []string {
	out := slices.Clone(names)
	slices.Sort(out)
	return slices.Compact(out)
}
