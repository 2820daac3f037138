/*
ledger.go - Chart of accounts, journal, sequences, audit, closed periods

PURPOSE:
  The journal tables are append-only: InsertJournalEntry writes the entry
  and its lines atomically, and the only later write is the void marker.
  The partial unique index on (tenant, reversal_of_journal_entry_id)
  turns a second direct reversal into ALREADY_REVERSED.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cashflowhq/cashflow-api/ledger"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, tenant_id, code, name, type, normal_balance,
	report_group, cashflow_activity, is_active, created_at`

func scanAccount(row rowScanner) (*ledger.Account, error) {
	var a ledger.Account
	err := row.Scan(
		strCol{(*string)(&a.ID)}, strCol{(*string)(&a.TenantID)},
		strCol{&a.Code}, strCol{&a.Name},
		strCol{(*string)(&a.Type)}, strCol{(*string)(&a.NormalBalance)},
		strCol{&a.ReportGroup}, strCol{&a.CashflowActivity},
		boolCol{&a.IsActive}, timeCol{&a.CreatedAt},
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *Tx) GetAccount(ctx context.Context, tenantID ledger.TenantID, accountID ledger.AccountID) (*ledger.Account, error) {
	return scanAccount(t.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE tenant_id = ? AND id = ?`,
		tenantID, accountID))
}

func (t *Tx) FindAccountByCode(ctx context.Context, tenantID ledger.TenantID, code string, typ ledger.AccountType) (*ledger.Account, error) {
	return scanAccount(t.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE tenant_id = ? AND code = ? AND type = ?`,
		tenantID, code, typ))
}

func (t *Tx) InsertAccount(ctx context.Context, a *ledger.Account) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, a.Code, a.Name, a.Type, a.NormalBalance,
		nullString(a.ReportGroup), nullString(a.CashflowActivity),
		boolArg(a.IsActive), timeArg(a.CreatedAt))
	return err
}

// ListAccounts returns the tenant's chart of accounts ordered by code.
func (t *Tx) ListAccounts(ctx context.Context, tenantID ledger.TenantID) ([]*ledger.Account, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE tenant_id = ? ORDER BY code, id`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// JOURNAL ENTRIES
// =============================================================================

const journalEntryColumns = `id, tenant_id, date, description, location_id,
	reversal_of_journal_entry_id, reversal_reason,
	voided_at, void_reason, voided_by_user_id,
	created_by_user_id, created_at`

func (t *Tx) InsertJournalEntry(ctx context.Context, entry *ledger.JournalEntry) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO journal_entries (`+journalEntryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TenantID, entry.Date.String(),
		nullString(entry.Description), nullString(string(entry.LocationID)),
		nullString(string(entry.ReversalOfJournalEntryID)),
		nullString(entry.ReversalReason),
		nullTimeArg(entry.VoidedAt), nullString(entry.VoidReason),
		nullString(string(entry.VoidedByUserID)),
		nullString(string(entry.CreatedByUserID)), timeArg(entry.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "ux_journal_entry_reversal") {
			return ledger.Conflictf(ledger.CodeAlreadyReversed,
				"journal entry %s already has a reversal", entry.ReversalOfJournalEntryID)
		}
		return err
	}

	for _, l := range entry.Lines {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO journal_entry_lines (id, tenant_id, journal_entry_id, account_id, debit, credit)
			VALUES (?, ?, ?, ?, ?, ?)`,
			l.ID, l.TenantID, l.JournalEntryID, l.AccountID,
			l.Debit.String(), l.Credit.String())
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) GetJournalEntry(ctx context.Context, tenantID ledger.TenantID, id ledger.JournalEntryID) (*ledger.JournalEntry, error) {
	row := t.q.QueryRowContext(ctx,
		`SELECT `+journalEntryColumns+` FROM journal_entries WHERE tenant_id = ? AND id = ?`,
		tenantID, id)

	var e ledger.JournalEntry
	err := row.Scan(
		strCol{(*string)(&e.ID)}, strCol{(*string)(&e.TenantID)},
		dateCol{&e.Date}, strCol{&e.Description},
		strCol{(*string)(&e.LocationID)},
		strCol{(*string)(&e.ReversalOfJournalEntryID)}, strCol{&e.ReversalReason},
		timePtrCol{&e.VoidedAt}, strCol{&e.VoidReason},
		strCol{(*string)(&e.VoidedByUserID)},
		strCol{(*string)(&e.CreatedByUserID)}, timeCol{&e.CreatedAt},
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := t.q.QueryContext(ctx, `
		SELECT id, tenant_id, journal_entry_id, account_id, debit, credit
		FROM journal_entry_lines WHERE journal_entry_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var l ledger.JournalEntryLine
		err := rows.Scan(
			strCol{&l.ID}, strCol{(*string)(&l.TenantID)},
			strCol{(*string)(&l.JournalEntryID)}, strCol{(*string)(&l.AccountID)},
			moneyCol{&l.Debit}, moneyCol{&l.Credit},
		)
		if err != nil {
			return nil, err
		}
		e.Lines = append(e.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &e, nil
}

// MarkJournalEntryVoided stamps the void markers on an original entry.
// The lines are untouched; the reversing entry carries the offsets.
func (t *Tx) MarkJournalEntryVoided(ctx context.Context, tenantID ledger.TenantID, id ledger.JournalEntryID, reason string, by ledger.UserID, at time.Time) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE journal_entries SET voided_at = ?, void_reason = ?, voided_by_user_id = ?
		WHERE tenant_id = ? AND id = ? AND voided_at IS NULL`,
		timeArg(at), nullString(reason), nullString(string(by)), tenantID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("journal entry %s: not found or already voided", id)
	}
	return nil
}

// =============================================================================
// SEQUENCES
// =============================================================================

func (t *Tx) NextSequence(ctx context.Context, tenantID ledger.TenantID, docType ledger.DocType) (int64, error) {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO sequences (tenant_id, doc_type, value) VALUES (?, ?, 0)
		ON CONFLICT (tenant_id, doc_type) DO NOTHING`, tenantID, docType)
	if err != nil {
		return 0, err
	}
	if _, err := t.q.ExecContext(ctx, `
		UPDATE sequences SET value = value + 1 WHERE tenant_id = ? AND doc_type = ?`,
		tenantID, docType); err != nil {
		return 0, err
	}

	var value int64
	err = t.q.QueryRowContext(ctx, `
		SELECT value FROM sequences WHERE tenant_id = ? AND doc_type = ?`,
		tenantID, docType).Scan(&value)
	return value, err
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (t *Tx) InsertAuditEntry(ctx context.Context, entry *ledger.AuditEntry) error {
	var metadata any
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		metadata = string(raw)
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, tenant_id, user_id, action, entity_type,
			entity_id, idempotency_key, correlation_id, metadata, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TenantID, nullString(string(entry.UserID)), entry.Action,
		nullString(entry.EntityType), nullString(entry.EntityID),
		nullString(entry.IdempotencyKey), nullString(entry.CorrelationID),
		metadata, timeArg(entry.OccurredAt))
	return err
}

// =============================================================================
// CLOSED PERIODS
// =============================================================================

// InsertClosedPeriod records one closed range for the tenant.
func (t *Tx) InsertClosedPeriod(ctx context.Context, tenantID ledger.TenantID, r ledger.ClosedRange) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO closed_periods (tenant_id, from_date, to_date) VALUES (?, ?, ?)
		ON CONFLICT (tenant_id, from_date, to_date) DO NOTHING`,
		tenantID, r.From.String(), r.To.String())
	return err
}

// ClosedPeriods implements books.PeriodStore.
func (s *Store) ClosedPeriods(ctx context.Context, tenantID ledger.TenantID) ([]ledger.ClosedRange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT from_date, to_date FROM closed_periods
		WHERE tenant_id = ? ORDER BY from_date`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.ClosedRange
	for rows.Next() {
		var r ledger.ClosedRange
		if err := rows.Scan(dateCol{&r.From}, dateCol{&r.To}); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
