// Package limiter 實作單機令牌桶，用於限制每個連接的程式執行請求。
//
// 設計考量：
//   - 只保護外部執行服務，不限制一般協作事件（編輯、游標等）
//   - 每個連接一個桶，存活期與連接相同，不需要分散式狀態
//   - 執行緒安全（使用 sync.Mutex）
package limiter

import (
	"sync"
	"time"
)

// TokenBucket 實作令牌桶演算法。
//
// 演算法原理：
//  1. 固定容量的桶，以固定速率填充令牌
//  2. 請求到達時，嘗試從桶中取出令牌
//  3. 有令牌則允許請求，無令牌則拒絕
//
// 允許短時間突發（例如連按幾次「執行」），但長期速率受 refillRate 約束。
type TokenBucket struct {
	capacity   int64            // 桶容量（最多存放多少令牌）
	tokens     int64            // 當前令牌數
	refillRate int64            // 填充速率（每秒填充多少令牌）
	lastRefill time.Time        // 上次填充時間
	now        func() time.Time // 時鐘（測試可替換）
	mu         sync.Mutex
}

// NewTokenBucket 建立新的令牌桶限流器。
//
// capacity 決定最大突發量，refillRate 決定平均速率。
// capacity <= 0 表示不限流。
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return NewTokenBucketWithClock(capacity, refillRate, time.Now)
}

// NewTokenBucketWithClock 使用指定時鐘建立令牌桶。
func NewTokenBucketWithClock(capacity, refillRate int64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity, // 初始化時桶是滿的
		refillRate: refillRate,
		lastRefill: now(),
		now:        now,
	}
}

// Allow 檢查是否允許請求通過，允許時消耗一個令牌。
func (tb *TokenBucket) Allow() bool {
	if tb == nil || tb.capacity <= 0 {
		return true
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	elapsed := now.Sub(tb.lastRefill)
	tokensToAdd := int64(elapsed.Seconds() * float64(tb.refillRate))

	if tokensToAdd > 0 {
		// 填充令牌，但不超過容量
		tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
		tb.lastRefill = now
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}

	return false
}
