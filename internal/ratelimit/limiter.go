// Package ratelimit provides an in-process token-bucket limiter keyed by an
// arbitrary string (IP address, email). Buckets refill lazily from elapsed
// time at check time; there is no background refill timer.
package ratelimit

import (
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

const defaultShards = 16

// Result is the outcome of a limiter check. RetryAfter is only meaningful
// when Allowed is false, and is coarse: time until the bucket refills.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

type bucket struct {
	tokens     int
	limit      int
	window     time.Duration
	lastRefill time.Time
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// Limiter is an explicitly owned, injectable limiter. Construct one per
// process and pass it by reference; tests instantiate isolated instances.
// Keys are sharded by murmur3 hash so unrelated keys do not contend.
type Limiter struct {
	shards []*shard
	now    func() time.Time
}

// New creates a limiter with the given shard count (<=0 uses the default).
func New(shardCount int) *Limiter {
	if shardCount <= 0 {
		shardCount = defaultShards
	}
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{buckets: make(map[string]*bucket)}
	}
	return &Limiter{shards: shards, now: time.Now}
}

func (l *Limiter) shardFor(key string) *shard {
	h := murmur3.Sum32([]byte(key))
	return l.shards[h%uint32(len(l.shards))]
}

// Check consumes one token from key's bucket. The bucket holds up to limit
// tokens and refills fully once window has elapsed since the last refill.
// Refill-then-decrement happens under the shard lock, so concurrent callers
// for the same key cannot double-spend.
func (l *Limiter) Check(key string, limit int, window time.Duration) Result {
	now := l.now()
	s := l.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{tokens: limit, limit: limit, window: window, lastRefill: now}
		s.buckets[key] = b
	}

	// Limit or window changed for an existing key; take the new policy.
	if b.limit != limit || b.window != window {
		b.limit = limit
		b.window = window
		if b.tokens > limit {
			b.tokens = limit
		}
	}

	elapsed := now.Sub(b.lastRefill)
	if elapsed >= b.window {
		b.tokens = b.limit
		b.lastRefill = now
	}

	if b.tokens > 0 {
		b.tokens--
		return Result{Allowed: true}
	}

	return Result{
		Allowed:    false,
		RetryAfter: b.window - now.Sub(b.lastRefill),
	}
}

// Sweep drops buckets that have been idle long enough to be full again.
// Called on a coarse interval; never required for correctness.
func (l *Limiter) Sweep() int {
	now := l.now()
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for key, b := range s.buckets {
			if now.Sub(b.lastRefill) >= 2*b.window {
				delete(s.buckets, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
