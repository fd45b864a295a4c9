package model

import (
	"context"
	"errors"
	"time"
)

// ErrChallengeNotFound is returned by stores when no challenge exists for a
// session ID. Callers map it to the generic invalid-or-expired outcome.
var ErrChallengeNotFound = errors.New("otp challenge not found")

// -------------------- OTP CHALLENGE --------------------

// OtpChallenge is one outstanding email verification attempt. The raw code
// is never stored; only its hash.
type OtpChallenge struct {
	SessionID     string    `json:"session_id" db:"session_id"`         // 256-bit random, hex; lookup key and CSRF binding
	Email         string    `json:"email" db:"email"`                   // normalized (lowercased)
	CodeHash      string    `json:"code_hash" db:"code_hash"`           // hex SHA-256 of the code digits
	AuthRequestID string    `json:"auth_request_id" db:"auth_request_id"`
	ClientID      string    `json:"client_id" db:"client_id"`           // opaque context
	DeviceInfo    string    `json:"device_info" db:"device_info"`       // opaque context
	ExpiresAt     time.Time `json:"expires_at" db:"expires_at"`
	Attempts      int       `json:"attempts" db:"attempts"`
	Used          bool      `json:"used" db:"used"`                     // transitions false->true at most once
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Expired reports whether the challenge is past its TTL at now.
func (c *OtpChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// -------------------- FAILURE LOG --------------------

// IdentityFailure is one failed OTP attempt for an email, used only to
// compute the rolling lockout count. Entries outside the window are ignored;
// pruning is the store's concern.
type IdentityFailure struct {
	Email     string    `json:"email" db:"email"`
	FailedAt  time.Time `json:"failed_at" db:"failed_at"`
}

// -------------------- SECURITY EVENTS --------------------

// SecurityEvent is an audit record of a security-relevant outcome.
type SecurityEvent struct {
	EventType  string    `json:"event_type" db:"event_type"`
	Email      string    `json:"email" db:"email"`
	ClientID   string    `json:"client_id" db:"client_id"`
	SessionID  string    `json:"session_id" db:"session_id"`
	RemoteAddr string    `json:"remote_addr" db:"remote_addr"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// -------------------- STORE INTERFACE --------------------

// ChallengeStore is the transactional storage collaborator for OTP
// challenges and the failure log. IncrementAttempts and MarkUsed must be
// atomic per session ID: two concurrent verifications may never both pass
// the attempt check, and exactly one may observe used false->true.
type ChallengeStore interface {
	CreateChallenge(ctx context.Context, challenge *OtpChallenge) error
	GetChallenge(ctx context.Context, sessionID string) (*OtpChallenge, error)

	// IncrementAttempts atomically bumps the attempt counter and returns
	// the new value.
	IncrementAttempts(ctx context.Context, sessionID string) (int, error)

	// MarkUsed atomically transitions used false->true. Returns false when
	// the challenge was already used (or missing).
	MarkUsed(ctx context.Context, sessionID string) (bool, error)

	RecordFailure(ctx context.Context, email string, at time.Time) error
	CountFailuresSince(ctx context.Context, email string, since time.Time) (int, error)

	// DeleteExpired removes challenges whose expiry has passed, returning
	// the number removed. Safe to call repeatedly and concurrently.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
