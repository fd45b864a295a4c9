package dpop

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultReplayTTL is how long a jti stays recorded. It must cover the
	// validator's iat window with margin.
	DefaultReplayTTL = 5 * time.Minute

	// DefaultMaxEntries caps the cache; beyond it, Record fails closed.
	DefaultMaxEntries = 100_000

	// DefaultSweepInterval is how often expired entries are collected.
	DefaultSweepInterval = 30 * time.Second

	// MaxJTILength bounds accepted jti values.
	MaxJTILength = 1024
)

// ReplayCache records seen jtis so a proof cannot be accepted twice.
// Safe for concurrent use.
type ReplayCache struct {
	entries    sync.Map // jti -> expiry (unixNano int64)
	entryCount atomic.Int64
	maxEntries int64
	ttl        time.Duration

	stopSweep chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
}

// ReplayCacheOption configures a ReplayCache.
type ReplayCacheOption func(*ReplayCache)

// WithTTL sets how long a jti stays recorded.
func WithTTL(ttl time.Duration) ReplayCacheOption {
	return func(c *ReplayCache) { c.ttl = ttl }
}

// WithMaxEntries caps the number of live entries.
func WithMaxEntries(n int) ReplayCacheOption {
	return func(c *ReplayCache) { c.maxEntries = int64(n) }
}

// NewReplayCache creates a replay cache and starts its background sweep.
// Call Close to stop it.
func NewReplayCache(opts ...ReplayCacheOption) *ReplayCache {
	c := &ReplayCache{
		maxEntries: DefaultMaxEntries,
		ttl:        DefaultReplayTTL,
		stopSweep:  make(chan struct{}),
		sweepDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.sweepLoop()
	return c
}

// Record marks jti as seen. Returns true if it was already recorded and has
// not expired. Fails closed when the cache is full.
func (c *ReplayCache) Record(jti string) (bool, error) {
	if jti == "" {
		return false, ErrInvalidJTI
	}
	if len(jti) > MaxJTILength {
		return false, ErrInvalidJTI
	}

	now := time.Now()
	expiry := now.Add(c.ttl).UnixNano()

	if prev, loaded := c.entries.LoadOrStore(jti, expiry); loaded {
		if prev.(int64) > now.UnixNano() {
			return true, nil
		}
		// Expired entry still present between sweeps; refresh it.
		c.entries.Store(jti, expiry)
		return false, nil
	}

	if c.entryCount.Add(1) > c.maxEntries {
		c.entries.Delete(jti)
		c.entryCount.Add(-1)
		return false, ErrCacheFull
	}
	return false, nil
}

func (c *ReplayCache) sweepLoop() {
	defer close(c.sweepDone)
	ticker := time.NewTicker(DefaultSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopSweep:
			return
		case <-ticker.C:
			now := time.Now().UnixNano()
			c.entries.Range(func(key, value any) bool {
				if value.(int64) <= now {
					c.entries.Delete(key)
					c.entryCount.Add(-1)
				}
				return true
			})
		}
	}
}

// Close stops the sweep goroutine.
func (c *ReplayCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopSweep)
		<-c.sweepDone
	})
	return nil
}
