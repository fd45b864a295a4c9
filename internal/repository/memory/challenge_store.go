// Package memory provides an in-process ChallengeStore for tests and
// single-process deployments. All mutations of one challenge happen under
// the store mutex, which gives the per-row atomicity the verification path
// requires.
package memory

import (
	"context"
	"sync"
	"time"

	"authcore/internal/model"
)

type ChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]*model.OtpChallenge
	failures   map[string][]time.Time
}

func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{
		challenges: make(map[string]*model.OtpChallenge),
		failures:   make(map[string][]time.Time),
	}
}

func (s *ChallengeStore) CreateChallenge(_ context.Context, challenge *model.OtpChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *challenge
	s.challenges[challenge.SessionID] = &clone
	return nil
}

func (s *ChallengeStore) GetChallenge(_ context.Context, sessionID string) (*model.OtpChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[sessionID]
	if !ok {
		return nil, model.ErrChallengeNotFound
	}
	clone := *challenge
	return &clone, nil
}

func (s *ChallengeStore) IncrementAttempts(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[sessionID]
	if !ok {
		return 0, model.ErrChallengeNotFound
	}
	challenge.Attempts++
	return challenge.Attempts, nil
}

func (s *ChallengeStore) MarkUsed(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[sessionID]
	if !ok {
		return false, nil
	}
	if challenge.Used {
		return false, nil
	}
	challenge.Used = true
	return true, nil
}

func (s *ChallengeStore) RecordFailure(_ context.Context, email string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures[email] = append(s.failures[email], at)
	return nil
}

func (s *ChallengeStore) CountFailuresSince(_ context.Context, email string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, at := range s.failures[email] {
		if !at.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *ChallengeStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, challenge := range s.challenges {
		if challenge.Expired(now) {
			delete(s.challenges, id)
			removed++
		}
	}

	// Failure-log entries age out with the same pass; anything older than
	// a day is outside every plausible lockout window.
	cutoff := now.Add(-24 * time.Hour)
	for email, times := range s.failures {
		kept := times[:0]
		for _, at := range times {
			if at.After(cutoff) {
				kept = append(kept, at)
			}
		}
		if len(kept) == 0 {
			delete(s.failures, email)
		} else {
			s.failures[email] = kept
		}
	}

	return removed, nil
}

var _ model.ChallengeStore = (*ChallengeStore)(nil)
