package ledger

import (
	"context"
	"fmt"
)

// =============================================================================
// SEQUENCE SERVICE - Human-readable document numbers
// =============================================================================

// DocType keys a per-tenant number sequence.
type DocType string

const (
	DocInvoice      DocType = "INVOICE"
	DocCreditNote   DocType = "CREDIT_NOTE"
	DocExpense      DocType = "EXPENSE"
	DocPurchaseBill DocType = "PURCHASE_BILL"
	DocPayment      DocType = "PAYMENT"
	DocRefund       DocType = "REFUND"
)

var docPrefixes = map[DocType]string{
	DocInvoice:      "INV",
	DocCreditNote:   "CN",
	DocExpense:      "EXP",
	DocPurchaseBill: "BILL",
	DocPayment:      "PAY",
	DocRefund:       "REF",
}

// SequenceTx is the slice of the transactional store sequences use. The
// implementation must serialize increments per (tenant, docType) so that
// concurrent commands never observe the same value.
type SequenceTx interface {
	// NextSequence atomically increments and returns the counter for
	// (tenant, docType), starting at 1.
	NextSequence(ctx context.Context, tenantID TenantID, docType DocType) (int64, error)
}

// NextNumber produces the next human-readable number for a document,
// e.g. INV-00042. Must run inside the command's transaction so aborted
// commands do not burn numbers observable as gaps mid-flight.
func NextNumber(ctx context.Context, tx SequenceTx, tenantID TenantID, docType DocType) (string, error) {
	n, err := tx.NextSequence(ctx, tenantID, docType)
	if err != nil {
		return "", err
	}
	prefix, ok := docPrefixes[docType]
	if !ok {
		prefix = string(docType)
	}
	return fmt.Sprintf("%s-%05d", prefix, n), nil
}
