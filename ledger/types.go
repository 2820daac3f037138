/*
Package ledger is the double-entry core: the chart of accounts, the
immutable journal, and the poster that turns balanced line sets into
persisted journal entries.

PURPOSE:
  Every accepted mutation in the system flows through this package as a
  balanced journal entry. Documents, payments and stock moves all reference
  the entries created here; nothing else writes to the journal.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: journal entries and their lines are never updated or
     deleted. Corrections are separate reversal or adjustment entries.
  2. BALANCED: every entry has at least two lines and sums debits equal to
     credits at two decimal places.
  3. TENANT-SCOPED: every referenced account belongs to the entry's tenant
     and is active.
  4. ONE DIRECT REVERSAL: at most one entry may reverse a given original;
     the store enforces this with a uniqueness constraint.

CORRECTIONS:
  A posted document is never edited in place. A void produces a reversal
  entry (debit and credit swapped line for line); a posted-edit produces an
  adjustment entry carrying only the per-account net delta.

SEE ALSO:
  - poster.go: posting, reversal derivation, adjustment derivation
  - accounts.go: canonical account auto-provisioning
  - store/sqlite: persistence
*/
package ledger

import (
	"time"

	"github.com/cashflowhq/cashflow-api/money"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	TenantID       string
	AccountID      string
	JournalEntryID string
	UserID         string
	LocationID     string
)

// =============================================================================
// ACCOUNT - Chart-of-accounts node
// =============================================================================

type AccountType string

const (
	AccountAsset     AccountType = "ASSET"
	AccountLiability AccountType = "LIABILITY"
	AccountEquity    AccountType = "EQUITY"
	AccountIncome    AccountType = "INCOME"
	AccountExpense   AccountType = "EXPENSE"
)

type NormalBalance string

const (
	NormalDebit  NormalBalance = "DEBIT"
	NormalCredit NormalBalance = "CREDIT"
)

// Account is a canonical chart-of-accounts node. Accounts are never deleted;
// deactivation is soft via IsActive.
type Account struct {
	ID               AccountID
	TenantID         TenantID
	Code             string
	Name             string
	Type             AccountType
	NormalBalance    NormalBalance
	ReportGroup      string
	CashflowActivity string
	IsActive         bool
	CreatedAt        time.Time
}

// =============================================================================
// JOURNAL ENTRY - Immutable posting
// =============================================================================

// JournalEntry is an immutable posting. The only fields ever written after
// insert are the void markers on an original entry when its document is
// voided; the reversing lines always live in a separate entry.
type JournalEntry struct {
	ID          JournalEntryID
	TenantID    TenantID
	Date        money.Date
	Description string
	LocationID  LocationID

	ReversalOfJournalEntryID JournalEntryID
	ReversalReason           string

	VoidedAt       *time.Time
	VoidReason     string
	VoidedByUserID UserID

	CreatedByUserID UserID
	CreatedAt       time.Time

	Lines []JournalEntryLine
}

// JournalEntryLine carries exactly one of debit or credit; never both,
// never neither.
type JournalEntryLine struct {
	ID             string
	TenantID       TenantID
	JournalEntryID JournalEntryID
	AccountID      AccountID
	Debit          money.Money
	Credit         money.Money
}

// TotalDebit sums the debit side at 2dp.
func (e *JournalEntry) TotalDebit() money.Money {
	total := money.Zero
	for _, l := range e.Lines {
		total = total.Add(l.Debit)
	}
	return total
}

// TotalCredit sums the credit side at 2dp.
func (e *JournalEntry) TotalCredit() money.Money {
	total := money.Zero
	for _, l := range e.Lines {
		total = total.Add(l.Credit)
	}
	return total
}

// IsVoided reports whether the entry has been soft-voided.
func (e *JournalEntry) IsVoided() bool { return e.VoidedAt != nil }

// =============================================================================
// LINE SPEC - Input to the poster
// =============================================================================

// Line is an unpersisted debit-or-credit against an account. Posting input
// uses Lines; persisted entries use JournalEntryLine.
type Line struct {
	AccountID AccountID
	Debit     money.Money
	Credit    money.Money
}

// Debit builds a debit line.
func Debit(account AccountID, amount money.Money) Line {
	return Line{AccountID: account, Debit: amount}
}

// Credit builds a credit line.
func Credit(account AccountID, amount money.Money) Line {
	return Line{AccountID: account, Credit: amount}
}
