package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAllowsUpToLimit(t *testing.T) {
	l := New(0)

	for i := 0; i < 3; i++ {
		res := l.Check("ip:10.0.0.1", 3, time.Minute)
		assert.True(t, res.Allowed, "call %d within limit", i+1)
	}

	res := l.Check("ip:10.0.0.1", 3, time.Minute)
	assert.False(t, res.Allowed, "4th call within window denied")
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, time.Minute)
}

func TestCheckRefillsAfterWindow(t *testing.T) {
	l := New(4)
	current := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		assert.True(t, l.Check("k", 3, time.Minute).Allowed)
	}
	assert.False(t, l.Check("k", 3, time.Minute).Allowed)

	current = current.Add(time.Minute)
	assert.True(t, l.Check("k", 3, time.Minute).Allowed, "allowed again after the window elapses")
}

func TestCheckIndependentKeys(t *testing.T) {
	l := New(0)

	assert.True(t, l.Check("a@b.com", 1, time.Minute).Allowed)
	assert.False(t, l.Check("a@b.com", 1, time.Minute).Allowed)
	assert.True(t, l.Check("c@d.com", 1, time.Minute).Allowed, "unrelated key unaffected")
}

func TestCheckConcurrentSameKey(t *testing.T) {
	l := New(8)
	const limit = 50
	const callers = 200

	var allowed int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("shared", limit, time.Minute).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, allowed, "refill-then-decrement is atomic")
}

func TestSweep(t *testing.T) {
	l := New(2)
	current := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return current }

	for i := 0; i < 10; i++ {
		l.Check(fmt.Sprintf("k%d", i), 3, time.Minute)
	}

	assert.Equal(t, 0, l.Sweep(), "fresh buckets stay")

	current = current.Add(3 * time.Minute)
	assert.Equal(t, 10, l.Sweep())
}
