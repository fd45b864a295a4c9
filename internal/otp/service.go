// Package otp implements the one-time-passcode lifecycle: issuing codes
// tied to an authentication attempt, verifying them with per-challenge
// attempt caps and per-identity rolling lockout, and expiring stale
// challenges.
package otp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"authcore/internal/audit"
	"authcore/internal/crypto"
	"authcore/internal/model"
	"authcore/internal/util"
)

// Config carries the policy knobs. Zero values fall back to the deployed
// defaults: 8 digits, 10 minute TTL, 5 attempts per code, lockout at 15
// failures over a rolling hour.
type Config struct {
	CodeDigits       int
	TTL              time.Duration
	MaxAttempts      int
	LockoutThreshold int
	LockoutWindow    time.Duration
}

func (c Config) withDefaults() Config {
	if c.CodeDigits <= 0 {
		c.CodeDigits = 8
	}
	if c.TTL <= 0 {
		c.TTL = 10 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.LockoutThreshold <= 0 {
		c.LockoutThreshold = 15
	}
	if c.LockoutWindow <= 0 {
		c.LockoutWindow = time.Hour
	}
	return c
}

// CreateParams is the context an OTP challenge is issued for. ClientID and
// DeviceInfo are opaque to this subsystem.
type CreateParams struct {
	Email         string
	AuthRequestID string
	ClientID      string
	DeviceInfo    string
}

// Created is the result of issuing a challenge. Code goes to the mail
// system and is never persisted or logged; SessionID is the opaque handle
// the client presents back.
type Created struct {
	Code      string
	SessionID string
	ExpiresAt time.Time
}

// VerifiedIdentity is returned on successful verification.
type VerifiedIdentity struct {
	Email         string
	AuthRequestID string
	ClientID      string
}

// Service issues and verifies OTP challenges against an injected store.
type Service struct {
	store model.ChallengeStore
	audit audit.Recorder
	cfg   Config
	now   func() time.Time
}

// NewService creates a Service. A nil recorder disables audit events.
func NewService(store model.ChallengeStore, recorder audit.Recorder, cfg Config) *Service {
	if recorder == nil {
		recorder = audit.Nop()
	}
	return &Service{
		store: store,
		audit: recorder,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
	}
}

// Create issues a fresh challenge for the given identity and returns the
// raw code together with the session handle.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Created, error) {
	email := util.NormalizeEmail(params.Email)

	code, err := generateCode(s.cfg.CodeDigits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	sessionBytes, err := crypto.RandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}
	sessionID := hex.EncodeToString(sessionBytes)

	now := s.now().UTC()
	challenge := &model.OtpChallenge{
		SessionID:     sessionID,
		Email:         email,
		CodeHash:      hashCode(code),
		AuthRequestID: params.AuthRequestID,
		ClientID:      util.SanitizeInput(params.ClientID),
		DeviceInfo:    util.SanitizeInput(params.DeviceInfo),
		ExpiresAt:     now.Add(s.cfg.TTL),
		Attempts:      0,
		Used:          false,
		CreatedAt:     now,
	}

	if err := s.store.CreateChallenge(ctx, challenge); err != nil {
		util.Error("Failed to persist OTP challenge", util.ErrorField(err))
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}

	s.audit.Record(ctx, model.SecurityEvent{
		EventType: "otp_created",
		Email:     email,
		ClientID:  challenge.ClientID,
		SessionID: sessionID,
		CreatedAt: now,
	})
	util.Info("OTP challenge created",
		util.String("session_id", sessionID),
		util.Time("expires_at", challenge.ExpiresAt))

	return &Created{Code: code, SessionID: sessionID, ExpiresAt: challenge.ExpiresAt}, nil
}

// VerifyCode runs the verification state machine. Order matters:
// existence, used, expiry, identity lockout (before any attempt is
// consumed), atomic attempt increment against the cap, then the
// constant-time hash comparison.
func (s *Service) VerifyCode(ctx context.Context, sessionID, submittedCode string) (*VerifiedIdentity, error) {
	now := s.now().UTC()

	challenge, err := s.store.GetChallenge(ctx, sessionID)
	if err != nil {
		if err == model.ErrChallengeNotFound {
			return nil, ErrInvalidOrExpired
		}
		util.Error("Failed to load OTP challenge", util.ErrorField(err))
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}

	if challenge.Used {
		// A burned challenge (attempt cap exceeded) stays TooManyAttempts;
		// only a genuinely consumed one reports AlreadyUsed.
		if challenge.Attempts > s.cfg.MaxAttempts {
			return nil, ErrTooManyAttempts
		}
		return nil, ErrAlreadyUsed
	}
	if challenge.Expired(now) {
		return nil, ErrExpired
	}

	failures, err := s.store.CountFailuresSince(ctx, challenge.Email, now.Add(-s.cfg.LockoutWindow))
	if err != nil {
		util.Error("Failed to count identity failures", util.ErrorField(err))
		return nil, fmt.Errorf("failed to check lockout: %w", err)
	}
	if failures >= s.cfg.LockoutThreshold {
		s.recordEvent(ctx, "otp_locked", challenge, now)
		return nil, ErrLocked
	}

	attempts, err := s.store.IncrementAttempts(ctx, sessionID)
	if err != nil {
		util.Error("Failed to increment attempts", util.ErrorField(err))
		return nil, fmt.Errorf("failed to increment attempts: %w", err)
	}
	if attempts > s.cfg.MaxAttempts {
		// Burn the challenge so it cannot be retried even after the
		// lockout window rolls over.
		if _, err := s.store.MarkUsed(ctx, sessionID); err != nil {
			util.Error("Failed to burn challenge", util.ErrorField(err))
		}
		s.recordEvent(ctx, "otp_burned", challenge, now)
		return nil, ErrTooManyAttempts
	}

	if !crypto.ConstantTimeEqual([]byte(hashCode(submittedCode)), []byte(challenge.CodeHash)) {
		if err := s.store.RecordFailure(ctx, challenge.Email, now); err != nil {
			util.Error("Failed to record identity failure", util.ErrorField(err))
		}
		s.recordEvent(ctx, "otp_failed", challenge, now)
		return nil, ErrIncorrectCode
	}

	used, err := s.store.MarkUsed(ctx, sessionID)
	if err != nil {
		util.Error("Failed to mark challenge used", util.ErrorField(err))
		return nil, fmt.Errorf("failed to mark used: %w", err)
	}
	if !used {
		// A concurrent verification won the transition.
		return nil, ErrAlreadyUsed
	}

	s.recordEvent(ctx, "otp_verified", challenge, now)
	util.Info("OTP verified", util.String("session_id", sessionID))

	return &VerifiedIdentity{
		Email:         challenge.Email,
		AuthRequestID: challenge.AuthRequestID,
		ClientID:      challenge.ClientID,
	}, nil
}

// Cleanup removes expired challenges. Safe to call repeatedly and
// concurrently; returns the number removed.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	removed, err := s.store.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired challenges: %w", err)
	}
	if removed > 0 {
		util.Info("Expired OTP challenges removed", util.Int("count", removed))
	}
	return removed, nil
}

func (s *Service) recordEvent(ctx context.Context, eventType string, challenge *model.OtpChallenge, now time.Time) {
	s.audit.Record(ctx, model.SecurityEvent{
		EventType: eventType,
		Email:     challenge.Email,
		ClientID:  challenge.ClientID,
		SessionID: challenge.SessionID,
		CreatedAt: now,
	})
}

// generateCode draws a uniform numeric code of the given digit length,
// left-padded with zeros.
func generateCode(digits int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

func hashCode(code string) string {
	return hex.EncodeToString(crypto.SHA256([]byte(code)))
}
