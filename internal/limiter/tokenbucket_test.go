package limiter_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koopa0/collab-relay/internal/limiter"
	"github.com/stretchr/testify/assert"
)

// fakeClock 可手動推進的時鐘
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// TestTokenBucket_Burst 測試突發容量
func TestTokenBucket_Burst(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	tb := limiter.NewTokenBucketWithClock(3, 1, clock.Now)

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "第四次請求應被拒絕")
}

// TestTokenBucket_Refill 測試按時間填充且不超過容量
func TestTokenBucket_Refill(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	tb := limiter.NewTokenBucketWithClock(2, 1, clock.Now)

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	clock.Advance(500 * time.Millisecond)
	assert.False(t, tb.Allow(), "半秒不足以產生令牌")

	clock.Advance(600 * time.Millisecond)
	assert.True(t, tb.Allow())

	clock.Advance(time.Hour)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "填充不應超過容量")
}

func TestTokenBucket_Unlimited(t *testing.T) {
	tb := limiter.NewTokenBucket(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, tb.Allow())
	}

	var nilBucket *limiter.TokenBucket
	assert.True(t, nilBucket.Allow())
}

// TestTokenBucket_Concurrent 測試併發下不會超發
func TestTokenBucket_Concurrent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	tb := limiter.NewTokenBucketWithClock(50, 1, clock.Now)

	var allowed int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tb.Allow() {
				atomic.AddInt32(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(50), allowed)
}
