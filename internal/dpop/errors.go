package dpop

import (
	"errors"
	"fmt"
)

var (
	// ErrProofRejected is terminal: the endpoint rejected our proof after
	// the single nonce retry was already spent.
	ErrProofRejected = errors.New("dpop proof rejected after nonce retry")

	// ErrReplay indicates a jti has already been seen within its TTL.
	ErrReplay = errors.New("dpop jti replay detected")

	// ErrInvalidJTI indicates an empty or oversized jti.
	ErrInvalidJTI = errors.New("invalid jti")

	// ErrCacheFull indicates the replay cache reached its entry cap.
	ErrCacheFull = errors.New("replay cache full")
)

// ProofError describes why a proof failed validation. The reason is for
// server-side logs only; clients see a generic rejection.
type ProofError struct {
	Reason string
}

func (e *ProofError) Error() string {
	return fmt.Sprintf("invalid dpop proof: %s", e.Reason)
}

func errInvalidProof(reason string) error {
	return &ProofError{Reason: reason}
}
