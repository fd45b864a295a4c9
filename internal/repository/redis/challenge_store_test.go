package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authcore/internal/client"
	"authcore/internal/model"
)

func newTestStore(t *testing.T) (*ChallengeStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewChallengeStore(client.NewRedisClientFromExisting(rdb)), mr
}

func testChallenge(sessionID string) *model.OtpChallenge {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.OtpChallenge{
		SessionID:     sessionID,
		Email:         "a@b.com",
		CodeHash:      "deadbeef",
		AuthRequestID: "req:1",
		ClientID:      "client-1",
		DeviceInfo:    "test-agent",
		ExpiresAt:     now.Add(10 * time.Minute),
		CreatedAt:     now,
	}
}

func TestChallengeRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	want := testChallenge("sess-1")
	require.NoError(t, store.CreateChallenge(ctx, want))

	got, err := store.GetChallenge(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, want.Email, got.Email)
	assert.Equal(t, want.CodeHash, got.CodeHash)
	assert.Equal(t, want.AuthRequestID, got.AuthRequestID)
	assert.Equal(t, want.ClientID, got.ClientID)
	assert.Equal(t, want.DeviceInfo, got.DeviceInfo)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, 0, got.Attempts)
	assert.False(t, got.Used)
}

func TestGetChallengeMissing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.GetChallenge(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrChallengeNotFound)
}

func TestCreateChallengeSetsTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateChallenge(ctx, testChallenge("sess-ttl")))

	mr.FastForward(11 * time.Minute)
	_, err := store.GetChallenge(ctx, "sess-ttl")
	assert.ErrorIs(t, err, model.ErrChallengeNotFound)
}

func TestIncrementAttempts(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateChallenge(ctx, testChallenge("sess-2")))

	for i := 1; i <= 3; i++ {
		n, err := store.IncrementAttempts(ctx, "sess-2")
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	got, err := store.GetChallenge(ctx, "sess-2")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Attempts)

	_, err = store.IncrementAttempts(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrChallengeNotFound)
}

func TestMarkUsedTransitionsOnce(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateChallenge(ctx, testChallenge("sess-3")))

	ok, err := store.MarkUsed(ctx, "sess-3")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.MarkUsed(ctx, "sess-3")
	require.NoError(t, err)
	assert.False(t, ok, "second transition must lose")

	got, err := store.GetChallenge(ctx, "sess-3")
	require.NoError(t, err)
	assert.True(t, got.Used)

	ok, err = store.MarkUsed(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFailureWindowCount(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Two failures inside the window, one well before it
	require.NoError(t, store.RecordFailure(ctx, "a@b.com", now.Add(-2*time.Hour)))
	require.NoError(t, store.RecordFailure(ctx, "a@b.com", now.Add(-30*time.Minute)))
	require.NoError(t, store.RecordFailure(ctx, "a@b.com", now))

	n, err := store.CountFailuresSince(ctx, "a@b.com", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Failures are per identity
	n, err = store.CountFailuresSince(ctx, "other@b.com", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRecordFailurePrunesOldEntries(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.RecordFailure(ctx, "a@b.com", now.Add(-48*time.Hour)))
	require.NoError(t, store.RecordFailure(ctx, "a@b.com", now))

	members, err := mr.ZMembers(failurePrefix + "a@b.com")
	require.NoError(t, err)
	assert.Len(t, members, 1)
}
