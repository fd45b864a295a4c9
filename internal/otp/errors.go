package otp

import "errors"

// Verification outcomes. These form a closed set; handlers map them to
// user-safe messages that never reveal whether an email is registered or
// how many attempts remain.
var (
	// ErrInvalidOrExpired covers unknown session IDs; indistinguishable
	// from expiry by design.
	ErrInvalidOrExpired = errors.New("invalid or expired verification session")

	// ErrAlreadyUsed: the challenge was consumed by a prior success.
	ErrAlreadyUsed = errors.New("verification code already used")

	// ErrExpired: past the challenge TTL, regardless of code correctness.
	ErrExpired = errors.New("verification code expired")

	// ErrLocked: the identity is over its rolling failure threshold.
	// Checked before an attempt is consumed, so a locked-out caller cannot
	// probe remaining attempts.
	ErrLocked = errors.New("too many failed attempts for this identity")

	// ErrTooManyAttempts: the per-challenge attempt cap was exceeded; the
	// challenge is burned and stays unusable.
	ErrTooManyAttempts = errors.New("too many attempts for this code")

	// ErrIncorrectCode: hash mismatch. The attempt was consumed and a
	// failure-log entry recorded.
	ErrIncorrectCode = errors.New("incorrect verification code")
)
