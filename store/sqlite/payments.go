/*
payments.go - Payment and refund rows

PURPOSE:
  Payments are created POSTED with their journal entry; the only later
  write is the reversal stamp (UpdatePayment). Refunds are insert-only.
*/
package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/cashflowhq/cashflow-api/books"
	"github.com/cashflowhq/cashflow-api/ledger"
)

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, tenant_id, number, doc_kind, document_id, amount,
	bank_account_id, payment_date, payment_mode, attachment_uri,
	journal_entry_id, reversed_at, reversal_journal_entry_id,
	created_by_user_id, created_at`

func scanPayment(row rowScanner) (*books.Payment, error) {
	var p books.Payment
	err := row.Scan(
		strCol{&p.ID}, strCol{(*string)(&p.TenantID)}, strCol{&p.Number},
		strCol{(*string)(&p.DocKind)}, strCol{&p.DocumentID},
		moneyCol{&p.Amount}, strCol{(*string)(&p.BankAccountID)},
		dateCol{&p.PaymentDate}, strCol{&p.PaymentMode}, strCol{&p.AttachmentURI},
		strCol{(*string)(&p.JournalEntryID)},
		timePtrCol{&p.ReversedAt}, strCol{(*string)(&p.ReversalJournalEntryID)},
		strCol{(*string)(&p.CreatedByUserID)}, timeCol{&p.CreatedAt},
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *Tx) GetPaymentForUpdate(ctx context.Context, tenantID ledger.TenantID, id string) (*books.Payment, error) {
	return scanPayment(t.q.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE tenant_id = ? AND id = ?`,
		tenantID, id))
}

func (t *Tx) InsertPayment(ctx context.Context, p *books.Payment) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, p.Number, p.DocKind, p.DocumentID,
		p.Amount.String(), p.BankAccountID, p.PaymentDate.String(),
		nullString(p.PaymentMode), nullString(p.AttachmentURI),
		p.JournalEntryID, nullTimeArg(p.ReversedAt),
		nullString(string(p.ReversalJournalEntryID)),
		nullString(string(p.CreatedByUserID)), timeArg(p.CreatedAt))
	return err
}

func (t *Tx) UpdatePayment(ctx context.Context, p *books.Payment) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE payments SET reversed_at = ?, reversal_journal_entry_id = ?
		WHERE tenant_id = ? AND id = ?`,
		nullTimeArg(p.ReversedAt),
		nullString(string(p.ReversalJournalEntryID)),
		p.TenantID, p.ID)
	return err
}

func (t *Tx) queryPayments(ctx context.Context, query string, args ...any) ([]*books.Payment, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*books.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *Tx) PaymentsForDocument(ctx context.Context, tenantID ledger.TenantID, kind books.DocKind, documentID string) ([]*books.Payment, error) {
	return t.queryPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments
		WHERE tenant_id = ? AND doc_kind = ? AND document_id = ?
		ORDER BY created_at, id`,
		tenantID, kind, documentID)
}

func (t *Tx) ListPayments(ctx context.Context, tenantID ledger.TenantID, kinds []books.DocKind) ([]*books.Payment, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(kinds)), ", ")
	args := []any{tenantID}
	for _, k := range kinds {
		args = append(args, k)
	}
	return t.queryPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments
		WHERE tenant_id = ? AND doc_kind IN (`+placeholders+`)
		ORDER BY created_at, id`,
		args...)
}

// =============================================================================
// REFUNDS
// =============================================================================

const refundColumns = `id, tenant_id, number, credit_note_id, amount,
	bank_account_id, refund_date, journal_entry_id, created_by_user_id, created_at`

func (t *Tx) InsertRefund(ctx context.Context, r *books.Refund) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO refunds (`+refundColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TenantID, r.Number, r.CreditNoteID,
		r.Amount.String(), r.BankAccountID, r.RefundDate.String(),
		r.JournalEntryID, nullString(string(r.CreatedByUserID)),
		timeArg(r.CreatedAt))
	return err
}

func (t *Tx) RefundsForCreditNote(ctx context.Context, tenantID ledger.TenantID, creditNoteID string) ([]*books.Refund, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT `+refundColumns+` FROM refunds
		WHERE tenant_id = ? AND credit_note_id = ? ORDER BY created_at, id`,
		tenantID, creditNoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*books.Refund
	for rows.Next() {
		var r books.Refund
		err := rows.Scan(
			strCol{&r.ID}, strCol{(*string)(&r.TenantID)}, strCol{&r.Number},
			strCol{&r.CreditNoteID}, moneyCol{&r.Amount},
			strCol{(*string)(&r.BankAccountID)}, dateCol{&r.RefundDate},
			strCol{(*string)(&r.JournalEntryID)},
			strCol{(*string)(&r.CreatedByUserID)}, timeCol{&r.CreatedAt},
		)
		if err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
