// Package redis persists OTP challenges in Redis hashes with native TTL
// expiry and tracks per-identity failures in sorted sets for the rolling
// lockout window.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"authcore/internal/client"
	"authcore/internal/model"
	"authcore/internal/util"
)

const (
	challengePrefix = "otpc:"
	failurePrefix   = "otpf:"

	// Failure entries only matter inside the lockout window; the sorted
	// set is kept a day at most.
	failureRetention = 24 * time.Hour
)

// incrAttemptsScript bumps the counter only when the challenge hash still
// exists; -1 signals a missing challenge.
var incrAttemptsScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
return redis.call('HINCRBY', KEYS[1], 'attempts', 1)
`)

// markUsedScript transitions used 0->1. Returns -1 when the challenge is
// missing, 0 when it was already used, 1 on a successful transition.
var markUsedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'used') == '1' then
  return 0
end
redis.call('HSET', KEYS[1], 'used', '1')
return 1
`)

type ChallengeStore struct {
	client *client.RedisClient
}

func NewChallengeStore(client *client.RedisClient) *ChallengeStore {
	return &ChallengeStore{client: client}
}

var _ model.ChallengeStore = (*ChallengeStore)(nil)

func (s *ChallengeStore) CreateChallenge(ctx context.Context, challenge *model.OtpChallenge) error {
	key := challengePrefix + challenge.SessionID
	ttl := time.Until(challenge.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("challenge already expired")
	}

	fields := map[string]interface{}{
		"email":           challenge.Email,
		"code_hash":       challenge.CodeHash,
		"auth_request_id": challenge.AuthRequestID,
		"client_id":       challenge.ClientID,
		"device_info":     challenge.DeviceInfo,
		"expires_at":      challenge.ExpiresAt.Unix(),
		"attempts":        challenge.Attempts,
		"used":            boolField(challenge.Used),
		"created_at":      challenge.CreatedAt.Unix(),
	}

	pipe := s.client.Client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to store OTP challenge",
			util.String("session_id", challenge.SessionID),
			util.ErrorField(err))
		return fmt.Errorf("failed to store challenge: %w", err)
	}
	return nil
}

func (s *ChallengeStore) GetChallenge(ctx context.Context, sessionID string) (*model.OtpChallenge, error) {
	key := challengePrefix + sessionID

	fields, err := s.client.Client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	if len(fields) == 0 {
		return nil, model.ErrChallengeNotFound
	}

	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt expires_at for %s: %w", sessionID, err)
	}
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt created_at for %s: %w", sessionID, err)
	}
	attempts, err := strconv.Atoi(fields["attempts"])
	if err != nil {
		return nil, fmt.Errorf("corrupt attempts for %s: %w", sessionID, err)
	}

	return &model.OtpChallenge{
		SessionID:     sessionID,
		Email:         fields["email"],
		CodeHash:      fields["code_hash"],
		AuthRequestID: fields["auth_request_id"],
		ClientID:      fields["client_id"],
		DeviceInfo:    fields["device_info"],
		ExpiresAt:     time.Unix(expiresAt, 0).UTC(),
		Attempts:      attempts,
		Used:          fields["used"] == "1",
		CreatedAt:     time.Unix(createdAt, 0).UTC(),
	}, nil
}

func (s *ChallengeStore) IncrementAttempts(ctx context.Context, sessionID string) (int, error) {
	key := challengePrefix + sessionID

	n, err := incrAttemptsScript.Run(ctx, s.client.Client, []string{key}).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	if n < 0 {
		return 0, model.ErrChallengeNotFound
	}
	return int(n), nil
}

func (s *ChallengeStore) MarkUsed(ctx context.Context, sessionID string) (bool, error) {
	key := challengePrefix + sessionID

	n, err := markUsedScript.Run(ctx, s.client.Client, []string{key}).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to mark challenge used: %w", err)
	}
	return n == 1, nil
}

func (s *ChallengeStore) RecordFailure(ctx context.Context, email string, at time.Time) error {
	key := failurePrefix + email

	pipe := s.client.Client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(at.Unix()),
		Member: uuid.NewString(),
	})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(at.Add(-failureRetention).Unix(), 10))
	pipe.Expire(ctx, key, failureRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to record identity failure", util.ErrorField(err))
		return fmt.Errorf("failed to record failure: %w", err)
	}
	return nil
}

func (s *ChallengeStore) CountFailuresSince(ctx context.Context, email string, since time.Time) (int, error) {
	key := failurePrefix + email

	n, err := s.client.Client.ZCount(ctx, key,
		strconv.FormatInt(since.Unix(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count failures: %w", err)
	}
	return int(n), nil
}

// DeleteExpired is a no-op for Redis: challenge keys carry their TTL and
// the server reclaims them.
func (s *ChallengeStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
