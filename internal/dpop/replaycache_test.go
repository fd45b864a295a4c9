package dpop

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayCacheRecord(t *testing.T) {
	c := NewReplayCache()
	defer c.Close()

	replay, err := c.Record("jti-1")
	require.NoError(t, err)
	assert.False(t, replay)

	replay, err = c.Record("jti-1")
	require.NoError(t, err)
	assert.True(t, replay)

	replay, err = c.Record("jti-2")
	require.NoError(t, err)
	assert.False(t, replay)
}

func TestReplayCacheInvalidJTI(t *testing.T) {
	c := NewReplayCache()
	defer c.Close()

	_, err := c.Record("")
	assert.ErrorIs(t, err, ErrInvalidJTI)

	long := make([]byte, MaxJTILength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = c.Record(string(long))
	assert.ErrorIs(t, err, ErrInvalidJTI)
}

func TestReplayCacheExpiry(t *testing.T) {
	c := NewReplayCache(WithTTL(10 * time.Millisecond))
	defer c.Close()

	_, err := c.Record("jti-exp")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	replay, err := c.Record("jti-exp")
	require.NoError(t, err)
	assert.False(t, replay, "expired entries are not replays")
}

func TestReplayCacheFull(t *testing.T) {
	c := NewReplayCache(WithMaxEntries(2))
	defer c.Close()

	_, err := c.Record("a")
	require.NoError(t, err)
	_, err = c.Record("b")
	require.NoError(t, err)

	_, err = c.Record("c")
	assert.ErrorIs(t, err, ErrCacheFull)
}

func TestReplayCacheConcurrent(t *testing.T) {
	c := NewReplayCache()
	defer c.Close()

	const workers = 16
	var replays int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			replay, err := c.Record("shared-jti")
			require.NoError(t, err)
			if replay {
				mu.Lock()
				replays++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, workers-1, replays, "exactly one recorder wins")

	// Unrelated keys never contend
	for i := 0; i < 100; i++ {
		replay, err := c.Record(fmt.Sprintf("jti-%d", i))
		require.NoError(t, err)
		assert.False(t, replay)
	}
}
