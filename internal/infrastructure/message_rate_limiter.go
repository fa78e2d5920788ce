package infrastructure

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MessageRateLimiter throttles outbound sends per connection so a burst
// from the operator UI cannot get the number flagged by the network.
type MessageRateLimiter struct {
	mu      sync.Mutex
	buckets map[int64]*sendBucket
	rate    rate.Limit
	burst   int
	now     func() time.Time
}

type sendBucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewMessageRateLimiter allows perSecond sends per connection with the given burst
func NewMessageRateLimiter(perSecond float64, burst int) *MessageRateLimiter {
	return &MessageRateLimiter{
		buckets: make(map[int64]*sendBucket),
		rate:    rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow consumes one token for connectionID if available
func (rl *MessageRateLimiter) Allow(connectionID int64) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[connectionID]
	if !ok {
		b = &sendBucket{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.buckets[connectionID] = b
	}
	b.lastUsed = now
	return b.limiter.AllowN(now, 1)
}

// WaitTime returns how long until the next send on connectionID is allowed
func (rl *MessageRateLimiter) WaitTime(connectionID int64) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[connectionID]
	if !ok {
		return 0
	}
	now := rl.now()
	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return 0
	}
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return wait
}

func (rl *MessageRateLimiter) Reset(connectionID int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, connectionID)
}

// Sweep drops buckets idle for longer than maxIdle and returns how many went
func (rl *MessageRateLimiter) Sweep(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for id, b := range rl.buckets {
		if now.Sub(b.lastUsed) > maxIdle {
			delete(rl.buckets, id)
			removed++
		}
	}
	return removed
}
