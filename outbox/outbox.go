/*
Package outbox carries every semantic fact out of the write path.

PURPOSE:
  Each state-changing transaction inserts one event row per fact inside
  the same database transaction as the business change. After commit, a
  fast-path publish attempt is made in process; if it fails, a background
  publisher drains the unpublished rows later. Either way delivery is
  at-least-once and consumers dedupe by event id.

ORDERING:
  Events share a partition key (the tenant id). Rows inserted by one
  transaction are drained in insertion order, so same-partition consumers
  observe them in the order the transaction emitted them.

FAST PATH:
  The synchronous publish attempt after commit is a latency optimization,
  never load-bearing. Its failure is logged and swallowed; the row stays
  unpublished for the drainer.
*/
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/cashflowhq/cashflow-api/ledger"
)

// =============================================================================
// EVENT ENVELOPE
// =============================================================================

// Canonical event types emitted by the core.
const (
	EventJournalEntryCreated  = "journal.entry.created"
	EventJournalEntryReversed = "journal.entry.reversed"
	EventInvoicePosted        = "invoice.posted"
	EventPaymentRecorded      = "payment.recorded"
	EventPaymentReversed      = "payment.reversed"
	EventCreditNotePosted     = "credit_note.posted"
	EventBillPosted           = "bill.posted"
	EventBillPaymentRecorded  = "bill.payment.recorded"
	EventInventoryRecalc      = "inventory.recalc.requested"
)

const (
	schemaVersion = "v1"
	source        = "cashflow-api"
)

// Event is one outbox row. ID is unique per tenant; PartitionKey is the
// tenant id so same-tenant events keep their relative order.
type Event struct {
	ID            int64
	TenantID      ledger.TenantID
	EventID       string
	EventType     string
	SchemaVersion string
	OccurredAt    time.Time
	Source        string
	PartitionKey  string
	CorrelationID string
	CausationID   string
	AggregateType string
	AggregateID   string
	Type          string // PascalCase name, e.g. "InvoicePosted"
	Payload       json.RawMessage
	PublishedAt   *time.Time
}

// New builds an event envelope. payload must be JSON-serializable.
func New(tenantID ledger.TenantID, eventType, aggregateType, aggregateID, correlationID string, payload any) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		TenantID:      tenantID,
		EventID:       uuid.NewString(),
		EventType:     eventType,
		SchemaVersion: schemaVersion,
		OccurredAt:    time.Now().UTC(),
		Source:        source,
		PartitionKey:  string(tenantID),
		CorrelationID: correlationID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Type:          pascalCase(eventType),
		Payload:       raw,
	}, nil
}

// pascalCase turns "journal.entry.created" into "JournalEntryCreated".
// Underscores inside a segment also break words ("credit_note" -> CreditNote).
func pascalCase(eventType string) string {
	out := make([]byte, 0, len(eventType))
	upper := true
	for i := 0; i < len(eventType); i++ {
		c := eventType[i]
		if c == '.' || c == '_' {
			upper = true
			continue
		}
		if upper && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = false
		out = append(out, c)
	}
	return string(out)
}
