package domain

import (
	"context"
	"time"
)

// Audit actions recorded by the dispatcher.
const (
	AuditDenied           = "denied"
	AuditRateLimited      = "rate_limited"
	AuditConfirmRequested = "confirm_requested"
	AuditConfirmed        = "confirmed"
	AuditCancelled        = "cancelled"
	AuditSuperseded       = "superseded"
	AuditExecuted         = "executed"
	AuditFailed           = "failed"
	AuditExpired          = "expired"
)

type AuditEntry struct {
	IntentID  string
	Caller    string
	Action    string // one of the Audit* constants
	Code      string // action code involved, if any
	Result    string // ok | error | denied
	Details   string
	CreatedAt time.Time
}

// AuditLogger persists audit entries.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry AuditEntry) error
}
