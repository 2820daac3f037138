/*
poster.go - Balanced journal entry posting

PURPOSE:
  The Poster is the single write path into the journal. It validates the
  line set (balance, account scope), assigns identifiers, and persists the
  entry and its lines inside the caller's transaction.

DERIVATIONS:
  ReverseLines:    swap debit and credit per line, same accounts, same
                   amounts. Used by void and payment-reversal flows.
  AdjustmentLines: per-account net delta between the original posting and
                   the desired posting. Used by posted-document edits.

REVERSAL UNIQUENESS:
  When ReversalOfJournalEntryID is set, the store's uniqueness constraint
  admits at most one direct reversal per original. A second attempt fails
  with ALREADY_REVERSED.
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cashflowhq/cashflow-api/money"
)

// =============================================================================
// STORE SLICE - What the poster needs from the transaction
// =============================================================================

// Tx is the slice of the transactional store the poster writes through.
// Implemented by store/sqlite.Tx.
type Tx interface {
	// GetAccount returns the account within the tenant, or nil when absent.
	GetAccount(ctx context.Context, tenantID TenantID, accountID AccountID) (*Account, error)

	// InsertJournalEntry persists the entry and all lines atomically with
	// the surrounding transaction. Fails with ALREADY_REVERSED when the
	// entry's reversal target already has a direct reversal.
	InsertJournalEntry(ctx context.Context, entry *JournalEntry) error
}

// =============================================================================
// POSTER
// =============================================================================

// PostInput describes one journal entry to create.
type PostInput struct {
	TenantID        TenantID
	Date            money.Date
	Description     string
	Lines           []Line
	CreatedByUserID UserID
	LocationID      LocationID

	ReversalOfJournalEntryID JournalEntryID
	ReversalReason           string

	// SkipAccountValidation bypasses the per-account tenant/active check.
	// Only reversal flows set this: the original entry already proved the
	// accounts, and a void must succeed even if an account was deactivated
	// since.
	SkipAccountValidation bool
}

// Poster builds and persists balanced journal entries.
type Poster struct{}

// NewPoster returns a Poster.
func NewPoster() *Poster { return &Poster{} }

// Post validates in, persists the entry through tx, and returns it.
func (p *Poster) Post(ctx context.Context, tx Tx, in PostInput) (*JournalEntry, error) {
	if len(in.Lines) < 2 {
		return nil, Errf(CodeUnbalancedEntry, 400, "journal entry requires at least 2 lines, got %d", len(in.Lines))
	}

	totalDebit, totalCredit := money.Zero, money.Zero
	for _, l := range in.Lines {
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return nil, Validationf("journal line amounts must not be negative")
		}
		if l.Debit.IsZero() == l.Credit.IsZero() {
			return nil, Validationf("journal line must carry exactly one of debit or credit")
		}
		totalDebit = totalDebit.Add(l.Debit)
		totalCredit = totalCredit.Add(l.Credit)
	}
	if !totalDebit.Equal(totalCredit) {
		return nil, Errf(CodeUnbalancedEntry, 400, "journal entry does not balance: debit %s, credit %s", totalDebit, totalCredit)
	}

	if !in.SkipAccountValidation {
		for _, l := range in.Lines {
			acct, err := tx.GetAccount(ctx, in.TenantID, l.AccountID)
			if err != nil {
				return nil, err
			}
			if acct == nil {
				return nil, NotFoundf("account %s not found", l.AccountID)
			}
			if !acct.IsActive {
				return nil, Validationf("account %s (%s) is inactive", acct.Code, acct.Name)
			}
		}
	}

	entry := &JournalEntry{
		ID:                       JournalEntryID(uuid.NewString()),
		TenantID:                 in.TenantID,
		Date:                     in.Date,
		Description:              in.Description,
		LocationID:               in.LocationID,
		ReversalOfJournalEntryID: in.ReversalOfJournalEntryID,
		ReversalReason:           in.ReversalReason,
		CreatedByUserID:          in.CreatedByUserID,
		CreatedAt:                time.Now().UTC(),
	}
	for _, l := range in.Lines {
		entry.Lines = append(entry.Lines, JournalEntryLine{
			ID:             uuid.NewString(),
			TenantID:       in.TenantID,
			JournalEntryID: entry.ID,
			AccountID:      l.AccountID,
			Debit:          l.Debit,
			Credit:         l.Credit,
		})
	}

	if err := tx.InsertJournalEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// =============================================================================
// DERIVATIONS
// =============================================================================

// ReverseLines returns the swapped (debit <-> credit) lines of an entry.
func ReverseLines(lines []JournalEntryLine) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, Line{AccountID: l.AccountID, Debit: l.Credit, Credit: l.Debit})
	}
	return out
}

// AdjustmentLines computes the minimal balanced line set carrying the
// per-account net delta desired - original. Positive deltas debit, negative
// deltas credit, zero deltas are omitted. A nil result with nil error means
// the adjustment is a no-op. A single surviving nonzero account cannot
// balance and is rejected.
func AdjustmentLines(original, desired []Line) ([]Line, error) {
	net := map[AccountID]money.Money{}
	order := []AccountID{}

	add := func(acct AccountID, delta money.Money) {
		if _, seen := net[acct]; !seen {
			order = append(order, acct)
		}
		net[acct] = net[acct].Add(delta)
	}

	// A debit is a positive signed amount, a credit negative.
	for _, l := range desired {
		add(l.AccountID, l.Debit.Sub(l.Credit))
	}
	for _, l := range original {
		add(l.AccountID, l.Credit.Sub(l.Debit))
	}

	var out []Line
	for _, acct := range order {
		delta := net[acct]
		switch {
		case delta.IsPositive():
			out = append(out, Debit(acct, delta))
		case delta.IsNegative():
			out = append(out, Credit(acct, delta.Neg()))
		}
	}

	if len(out) == 0 {
		return nil, nil
	}
	if len(out) == 1 {
		return nil, Errf(CodeUnbalancedEntry, 400, "adjustment nets to a single account %s and cannot balance", out[0].AccountID)
	}
	return out, nil
}

// LinesOf converts persisted lines back to posting input lines.
func LinesOf(lines []JournalEntryLine) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, Line{AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit})
	}
	return out
}
