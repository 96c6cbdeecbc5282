package internal

import (
	"sync"
	"time"
)

// LogKind 活動紀錄類型
type LogKind string

const (
	LogInfo  LogKind = "info"
	LogChat  LogKind = "chat"
	LogLeave LogKind = "leave"
	LogRun   LogKind = "run"
)

// MaxLogEntries 客戶端保留的活動紀錄上限
const MaxLogEntries = 100

// LogEntry 一筆活動紀錄
//
// 伺服器不保存紀錄：每筆都是從中繼事件即時衍生、廣播後即丟棄，
// 新加入的連接不會收到歷史紀錄。
type LogEntry struct {
	Kind      LogKind `json:"type"`
	Actor     string  `json:"user"`
	Message   string  `json:"message,omitempty"`
	Timestamp int64   `json:"timestamp"` // Unix 毫秒
}

// NewLogEntry 建立活動紀錄
func NewLogEntry(kind LogKind, actor, message string, at time.Time) LogEntry {
	return LogEntry{
		Kind:      kind,
		Actor:     actor,
		Message:   message,
		Timestamp: at.UnixMilli(),
	}
}

// Time 返回紀錄時間
func (e LogEntry) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// LogBuffer 客戶端的有界活動紀錄（最新在前，超出上限時淘汰最舊的）
type LogBuffer struct {
	mu      sync.Mutex
	entries []LogEntry // 依到達順序，最舊在前
	limit   int
}

// NewLogBuffer 建立有界紀錄緩衝；limit <= 0 時使用 MaxLogEntries
func NewLogBuffer(limit int) *LogBuffer {
	if limit <= 0 {
		limit = MaxLogEntries
	}
	return &LogBuffer{
		entries: make([]LogEntry, 0, limit),
		limit:   limit,
	}
}

// Add 加入一筆紀錄
func (b *LogBuffer) Add(e LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == b.limit {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:b.limit-1]
	}
	b.entries = append(b.entries, e)
}

// Entries 返回紀錄副本，最新在前
func (b *LogBuffer) Entries() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]LogEntry, len(b.entries))
	for i, e := range b.entries {
		out[len(b.entries)-1-i] = e
	}
	return out
}

// Len 返回目前保留的紀錄數
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
