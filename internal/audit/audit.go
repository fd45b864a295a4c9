// Package audit records security-relevant events (challenge issuance,
// verification failures, lockouts) to an append-only sink. Recording is
// best-effort: failures are logged and never propagate into the
// authentication path.
package audit

import (
	"context"

	"authcore/internal/model"
)

// Recorder accepts security events. Implementations must not block the
// caller beyond a short write and must swallow their own failures.
type Recorder interface {
	Record(ctx context.Context, event model.SecurityEvent)
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, model.SecurityEvent) {}

// Nop returns a recorder that drops everything. Used in tests and when
// auditing is disabled.
func Nop() Recorder {
	return nopRecorder{}
}
