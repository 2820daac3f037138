package ledger

import (
	"context"
	"time"
)

// =============================================================================
// AUDIT LOG - Append-only, tied to correlation id
// =============================================================================

// AuditEntry records who did what within a command. One row per
// state-changing transaction, written inside that transaction.
type AuditEntry struct {
	ID             string
	TenantID       TenantID
	UserID         UserID
	Action         string // "invoice.post", "payment.reverse", ...
	EntityType     string
	EntityID       string
	IdempotencyKey string
	CorrelationID  string
	Metadata       map[string]any
	OccurredAt     time.Time
}

// AuditTx is the slice of the transactional store the audit log writes
// through. Append-only: no update, no delete.
type AuditTx interface {
	InsertAuditEntry(ctx context.Context, entry *AuditEntry) error
}
