package internal_test

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koopa0/collab-relay/internal"
	"github.com/koopa0/collab-relay/pkg/logger"
	"github.com/stretchr/testify/assert"
)

// TestStress_ConcurrentJoinLeave 測試同一房間併發加入和離開
func TestStress_ConcurrentJoinLeave(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	manager := internal.NewManager(logger.Discard())

	const (
		numConns      = 100
		numOperations = 20 // 每個連接加入離開的次數
	)

	var (
		wg         sync.WaitGroup
		joinCount  int32
		leaveCount int32
	)

	start := time.Now()

	for i := 0; i < numConns; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			sess := internal.NewSession(newRecorder(fmt.Sprintf("conn_%d", id)))
			name := fmt.Sprintf("user_%d", id%10) // 故意製造同名連接

			for j := 0; j < numOperations; j++ {
				if manager.Join(sess, "big-room", name) {
					atomic.AddInt32(&joinCount, 1)
				}
				time.Sleep(time.Microsecond * time.Duration(rand.Intn(100)))

				var ok bool
				if j%2 == 0 {
					ok = manager.Leave(sess)
				} else {
					ok = manager.Disconnect(sess)
				}
				if ok {
					atomic.AddInt32(&leaveCount, 1)
				}
			}
		}(i)
	}

	wg.Wait()
	duration := time.Since(start)

	t.Logf("加入離開壓力測試結果:")
	t.Logf("  加入: %d", joinCount)
	t.Logf("  離開: %d", leaveCount)
	t.Logf("  耗時: %v", duration)

	assert.Equal(t, int32(numConns*numOperations), joinCount)
	assert.Equal(t, joinCount, leaveCount)

	// 所有連接都離開後房間必須被回收
	assert.False(t, manager.RoomExists("big-room"))
	assert.Equal(t, internal.Stats{}, manager.Stats())
}

// TestStress_MembersMatchConnections 併發後成員清單等於存活連接的名稱
func TestStress_MembersMatchConnections(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	manager := internal.NewManager(logger.Discard())

	const numConns = 60

	sessions := make([]*internal.Session, numConns)
	var wg sync.WaitGroup
	for i := 0; i < numConns; i++ {
		sessions[i] = internal.NewSession(newRecorder(fmt.Sprintf("conn_%d", i)))
		wg.Add(1)
		go func(sess *internal.Session, i int) {
			defer wg.Done()
			manager.Join(sess, "room-x", fmt.Sprintf("user_%d", i%7))
		}(sessions[i], i)
	}
	wg.Wait()

	// 奇數連接離開，偶數留下
	for i := 1; i < numConns; i += 2 {
		wg.Add(1)
		go func(sess *internal.Session) {
			defer wg.Done()
			manager.Disconnect(sess)
		}(sessions[i])
	}
	wg.Wait()

	expected := make([]string, 0, numConns/2)
	for i := 0; i < numConns; i += 2 {
		expected = append(expected, sessions[i].Name)
	}
	assert.Equal(t, internal.UniqueNames(expected), manager.Members("room-x"))
	assert.Equal(t, numConns/2, manager.Stats().Connections)

	// 每個留下的連接最後看到的清單都一致
	want := manager.Members("room-x")
	for i := 0; i < numConns; i += 2 {
		assert.Equal(t, want, lastMembers(t, sessions[i].Conn.(*recorder)))
	}
}

// TestStress_ParallelRooms 不同房間完全並行
func TestStress_ParallelRooms(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	manager := internal.NewManager(logger.Discard())

	const (
		numRooms     = 50
		connsPerRoom = 10
		msgsPerConn  = 20
	)

	var (
		wg        sync.WaitGroup
		delivered int64
	)

	for r := 0; r < numRooms; r++ {
		roomID := fmt.Sprintf("room_%d", r)
		sessions := make([]*internal.Session, connsPerRoom)
		for c := range sessions {
			sessions[c] = internal.NewSession(newRecorder(fmt.Sprintf("%s_conn_%d", roomID, c)))
			manager.Join(sessions[c], roomID, fmt.Sprintf("user_%d", c))
		}

		for _, sess := range sessions {
			wg.Add(1)
			go func(sess *internal.Session) {
				defer wg.Done()
				for i := 0; i < msgsPerConn; i++ {
					msg, err := internal.Encode(internal.EventCodeUpdate, fmt.Sprintf("v%d", i))
					if err != nil {
						continue
					}
					n := manager.Broadcast(sess.RoomID, sess.Conn.ID(), msg)
					atomic.AddInt64(&delivered, int64(n))
				}
			}(sess)
		}
	}

	wg.Wait()

	assert.Equal(t, int64(numRooms*connsPerRoom*msgsPerConn*(connsPerRoom-1)), delivered)
	assert.Equal(t, internal.Stats{Rooms: numRooms, Connections: numRooms * connsPerRoom}, manager.Stats())
}
