package internal

import (
	"log/slog"
	"sync"
	"time"
)

// 系統設計問題：
//   多個連接同時加入、離開同一房間時，如何保持成員清單一致並即時廣播？
//
// 核心挑戰：
//   1. 去重顯示：同一使用者開多個分頁，清單只顯示一次名稱
//   2. 並發控制：同房間的加入/離開不能互相覆蓋；不同房間互不阻塞
//   3. 資源回收：空房間立即刪除，不留殘骸
//   4. 廣播範圍：加入廣播給所有人（含自己），離開只廣播給留下的人
//
// 設計方案：
//   ✅ 兩層鎖 - Manager.mu 只保護 roomID -> *Room 映射，Room.mu 序列化單一房間
//   ✅ 鎖順序 - 只有 leave 會在持有 Room.mu 時取 Manager.mu，其他路徑從不反向持有
//   ✅ closed 旗標 - 被回收的房間拒絕新成員，加入者重試取得新房間
//   ✅ 持鎖投遞 - 非阻塞 Send，同房間事件順序對所有接收者一致

// Session 每個連接的明確狀態（目前房間與聲稱的名稱）
//
// 只由擁有該連接的 goroutine 讀寫，不跨連接共享。
type Session struct {
	Conn   Sender
	RoomID string
	Name   string
}

// NewSession 建立尚未加入任何房間的連接狀態
func NewSession(conn Sender) *Session {
	return &Session{Conn: conn}
}

// InRoom 是否已加入房間
func (s *Session) InRoom() bool {
	return s.RoomID != ""
}

// Stats 成員表統計
type Stats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

// Manager 房間成員表
//
// 唯一的跨連接共享狀態；只能透過 Join / Leave / Disconnect / Broadcast 操作，
// 原始映射永不外露。
type Manager struct {
	rooms  map[string]*Room // roomID -> Room
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

// NewManager 創建房間成員表
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		rooms:  make(map[string]*Room),
		logger: logger,
		now:    time.Now,
	}
}

// Join 讓連接加入房間
//
// 若連接已在另一個房間，先以 leave 語義離開（不關閉連接）。
// 成員清單廣播給房間內所有連接，包含剛加入的自己。
// roomID 或 name 為空時靜默忽略。
func (m *Manager) Join(sess *Session, roomID, name string) bool {
	if sess == nil || sess.Conn == nil || roomID == "" || name == "" {
		return false
	}

	if sess.InRoom() && sess.RoomID != roomID {
		m.leave(sess, false)
	}

	connID := sess.Conn.ID()
	var (
		names       []string
		connections int
	)

	for {
		room := m.getOrCreateRoom(roomID)

		room.mu.Lock()
		if room.closed {
			// 在取得指標與上鎖之間被回收，重新取得
			room.mu.Unlock()
			continue
		}

		room.members[connID] = &member{conn: sess.Conn, name: name}
		names = room.namesLocked()
		connections = len(room.members)

		room.deliverLocked("",
			m.encode(EventUserJoined, names),
			m.encode(EventSessionLog, NewLogEntry(LogInfo, name, "joined the room", m.now())),
		)
		room.mu.Unlock()
		break
	}

	sess.RoomID = roomID
	sess.Name = name

	m.logger.Info("使用者加入房間",
		"room_id", roomID,
		"conn_id", connID,
		"user", name,
		"users", names,
		"connections", connections)

	return true
}

// Leave 讓連接離開目前的房間
//
// 沒有加入任何房間時為 no-op。
func (m *Manager) Leave(sess *Session) bool {
	return m.leave(sess, false)
}

// Disconnect 連接關閉時呼叫：與 Leave 相同，另外向留下的成員廣播 leave 活動紀錄
func (m *Manager) Disconnect(sess *Session) bool {
	return m.leave(sess, true)
}

// leave 移除連接的成員聲明
func (m *Manager) leave(sess *Session, announce bool) bool {
	if sess == nil || sess.Conn == nil || !sess.InRoom() {
		return false
	}

	roomID, name := sess.RoomID, sess.Name
	connID := sess.Conn.ID()
	sess.RoomID, sess.Name = "", ""

	m.mu.Lock()
	room, exists := m.rooms[roomID]
	m.mu.Unlock()
	if !exists {
		return false
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if _, ok := room.members[connID]; !ok {
		return false
	}
	delete(room.members, connID)

	if len(room.members) == 0 {
		room.closed = true
		m.mu.Lock()
		if m.rooms[roomID] == room {
			delete(m.rooms, roomID)
		}
		m.mu.Unlock()

		m.logger.Info("房間已清空並移除",
			"room_id", roomID,
			"conn_id", connID,
			"user", name)
		return true
	}

	names := room.namesLocked()
	msgs := [][]byte{m.encode(EventUserJoined, names)}
	if announce {
		msgs = append(msgs, m.encode(EventSessionLog, NewLogEntry(LogLeave, name, "", m.now())))
	}
	room.deliverLocked("", msgs...)

	m.logger.Info("使用者離開房間",
		"room_id", roomID,
		"conn_id", connID,
		"user", name,
		"disconnected", announce,
		"users", names)

	return true
}

// Broadcast 把訊息依序廣播給房間內除 excludeID 以外的連接
//
// 房間不存在時不做任何事；返回成功排入的訊息數。
func (m *Manager) Broadcast(roomID, excludeID string, msgs ...[]byte) int {
	if roomID == "" || len(msgs) == 0 {
		return 0
	}

	m.mu.Lock()
	room, exists := m.rooms[roomID]
	m.mu.Unlock()
	if !exists {
		return 0
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed {
		return 0
	}
	return room.deliverLocked(excludeID, msgs...)
}

// Members 返回房間目前的去重顯示名稱；房間不存在時返回 nil
func (m *Manager) Members(roomID string) []string {
	m.mu.Lock()
	room, exists := m.rooms[roomID]
	m.mu.Unlock()
	if !exists {
		return nil
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.closed {
		return nil
	}
	return room.namesLocked()
}

// RoomExists 房間是否存在（至少有一個連接）
func (m *Manager) RoomExists(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.rooms[roomID]
	return exists
}

// Stats 獲取統計資訊
func (m *Manager) Stats() Stats {
	// 先複製房間指標再逐一上鎖，避免與 leave 的鎖順序相反
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.Unlock()

	stats := Stats{}
	for _, room := range rooms {
		room.mu.Lock()
		if !room.closed {
			stats.Rooms++
			stats.Connections += len(room.members)
		}
		room.mu.Unlock()
	}
	return stats
}

// getOrCreateRoom 取得房間，不存在時建立
func (m *Manager) getOrCreateRoom(roomID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[roomID]
	if !exists {
		room = newRoom(roomID)
		m.rooms[roomID] = room
		m.logger.Debug("房間已創建", "room_id", roomID)
	}
	return room
}

// encode 序列化出站訊息；失敗代表程式錯誤，記錄後返回 nil
func (m *Manager) encode(event string, data any) []byte {
	msg, err := Encode(event, data)
	if err != nil {
		m.logger.Error("序列化事件失敗", "event", event, "error", err)
		return nil
	}
	return msg
}
