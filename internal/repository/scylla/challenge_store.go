package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"authcore/internal/model"
	"authcore/internal/util"
)

const (
	// casRetries bounds the compare-and-set loop for attempt counting.
	casRetries = 10

	failureRetentionSeconds = 24 * 60 * 60
)

// ChallengeStore implements model.ChallengeStore on ScyllaDB. Rows carry
// their own TTL so expired challenges are reclaimed server side.
type ChallengeStore struct {
	client *ScyllaClient
}

func NewChallengeStore(client *ScyllaClient) *ChallengeStore {
	return &ChallengeStore{client: client}
}

var _ model.ChallengeStore = (*ChallengeStore)(nil)

func (s *ChallengeStore) CreateChallenge(ctx context.Context, challenge *model.OtpChallenge) error {
	ttl := int(time.Until(challenge.ExpiresAt).Seconds())
	if ttl <= 0 {
		return fmt.Errorf("challenge already expired")
	}

	query := s.client.Prepared.CreateChallenge.Bind(
		challenge.SessionID, challenge.Email, challenge.CodeHash,
		challenge.AuthRequestID, challenge.ClientID, challenge.DeviceInfo,
		challenge.ExpiresAt, challenge.Attempts, challenge.Used,
		challenge.CreatedAt, ttl).WithContext(ctx)

	if err := s.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create OTP challenge",
			util.String("session_id", challenge.SessionID),
			util.ErrorField(err))
		return fmt.Errorf("failed to create challenge: %w", err)
	}
	return nil
}

func (s *ChallengeStore) GetChallenge(ctx context.Context, sessionID string) (*model.OtpChallenge, error) {
	challenge := &model.OtpChallenge{SessionID: sessionID}

	query := s.client.Prepared.GetChallenge.Bind(sessionID).WithContext(ctx)
	err := s.client.ScanWithRetry(query,
		&challenge.Email, &challenge.CodeHash, &challenge.AuthRequestID,
		&challenge.ClientID, &challenge.DeviceInfo, &challenge.ExpiresAt,
		&challenge.Attempts, &challenge.Used, &challenge.CreatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, model.ErrChallengeNotFound
		}
		util.Error("Failed to load OTP challenge",
			util.String("session_id", sessionID),
			util.ErrorField(err))
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	return challenge, nil
}

// IncrementAttempts reads the counter and advances it with a conditional
// update, retrying when another verifier raced in between.
func (s *ChallengeStore) IncrementAttempts(ctx context.Context, sessionID string) (int, error) {
	for i := 0; i < casRetries; i++ {
		challenge, err := s.GetChallenge(ctx, sessionID)
		if err != nil {
			return 0, err
		}

		next := challenge.Attempts + 1
		query := s.client.Prepared.CASAttempts.Bind(next, sessionID, challenge.Attempts).WithContext(ctx)

		applied, err := query.ScanCAS(&challenge.Attempts)
		if err != nil {
			return 0, fmt.Errorf("failed to increment attempts: %w", err)
		}
		if applied {
			return next, nil
		}
	}
	return 0, fmt.Errorf("attempt counter contention on %s", sessionID)
}

func (s *ChallengeStore) MarkUsed(ctx context.Context, sessionID string) (bool, error) {
	var current bool
	query := s.client.Prepared.CASUsed.Bind(sessionID).WithContext(ctx)

	applied, err := query.ScanCAS(&current)
	if err != nil {
		if err == gocql.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to mark challenge used: %w", err)
	}
	return applied, nil
}

func (s *ChallengeStore) RecordFailure(ctx context.Context, email string, at time.Time) error {
	query := s.client.Prepared.RecordFailure.Bind(
		email, at, uuid.New().String(), failureRetentionSeconds).WithContext(ctx)

	if err := s.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to record identity failure", util.ErrorField(err))
		return fmt.Errorf("failed to record failure: %w", err)
	}
	return nil
}

func (s *ChallengeStore) CountFailuresSince(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	query := s.client.Prepared.CountFailures.Bind(email, since).WithContext(ctx)

	if err := s.client.ScanWithRetry(query, &count); err != nil {
		return 0, fmt.Errorf("failed to count failures: %w", err)
	}
	return count, nil
}

// DeleteExpired is a no-op: rows are written with a TTL and the cluster
// reclaims them.
func (s *ChallengeStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
