/*
tx.go - Transactional store contract for the document services

PURPOSE:
  One interface describing everything a command transaction can touch.
  store/sqlite.Tx implements it; tests substitute the same sqlite store on
  an in-memory database. The ...ForUpdate readers are the authoritative
  serializer for document state transitions: the implementation must hold
  the row against concurrent writers until the transaction ends.
*/
package books

import (
	"context"
	"time"

	"github.com/cashflowhq/cashflow-api/inventory"
	"github.com/cashflowhq/cashflow-api/ledger"
	"github.com/cashflowhq/cashflow-api/outbox"
)

// Tx is the write-path view of the store inside one transaction.
type Tx interface {
	ledger.Tx
	ledger.AccountTx
	ledger.SequenceTx
	ledger.AuditTx
	inventory.Tx

	// --- company, parties, catalog ---
	GetCompany(ctx context.Context, tenantID ledger.TenantID) (*Company, error)
	InsertCompany(ctx context.Context, company *Company) error
	UpdateCompany(ctx context.Context, company *Company) error

	GetCustomer(ctx context.Context, tenantID ledger.TenantID, id string) (*Customer, error)
	InsertCustomer(ctx context.Context, c *Customer) error
	UpdateCustomer(ctx context.Context, c *Customer) error
	ListCustomers(ctx context.Context, tenantID ledger.TenantID) ([]*Customer, error)

	GetVendor(ctx context.Context, tenantID ledger.TenantID, id string) (*Vendor, error)
	InsertVendor(ctx context.Context, v *Vendor) error
	UpdateVendor(ctx context.Context, v *Vendor) error
	ListVendors(ctx context.Context, tenantID ledger.TenantID) ([]*Vendor, error)

	GetItem(ctx context.Context, tenantID ledger.TenantID, id string) (*Item, error)
	InsertItem(ctx context.Context, it *Item) error
	UpdateItem(ctx context.Context, it *Item) error
	ListItems(ctx context.Context, tenantID ledger.TenantID) ([]*Item, error)

	GetLocation(ctx context.Context, tenantID ledger.TenantID, id ledger.LocationID) (*Location, error)
	DefaultLocation(ctx context.Context, tenantID ledger.TenantID) (*Location, error)
	InsertLocation(ctx context.Context, l *Location) error
	GetBankingAccount(ctx context.Context, tenantID ledger.TenantID, accountID ledger.AccountID) (*BankingAccount, error)
	InsertBankingAccount(ctx context.Context, b *BankingAccount) error

	// --- journal reads and void marking ---
	GetJournalEntry(ctx context.Context, tenantID ledger.TenantID, id ledger.JournalEntryID) (*ledger.JournalEntry, error)
	MarkJournalEntryVoided(ctx context.Context, tenantID ledger.TenantID, id ledger.JournalEntryID, reason string, by ledger.UserID, at time.Time) error

	// --- invoices ---
	GetInvoice(ctx context.Context, tenantID ledger.TenantID, id string) (*Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, tenantID ledger.TenantID, id string) (*Invoice, error)
	InsertInvoice(ctx context.Context, inv *Invoice) error
	UpdateInvoice(ctx context.Context, inv *Invoice) error
	DeleteInvoice(ctx context.Context, tenantID ledger.TenantID, id string) error
	ListInvoices(ctx context.Context, tenantID ledger.TenantID) ([]*Invoice, error)

	// --- credit notes ---
	GetCreditNote(ctx context.Context, tenantID ledger.TenantID, id string) (*CreditNote, error)
	GetCreditNoteForUpdate(ctx context.Context, tenantID ledger.TenantID, id string) (*CreditNote, error)
	InsertCreditNote(ctx context.Context, cn *CreditNote) error
	UpdateCreditNote(ctx context.Context, cn *CreditNote) error
	DeleteCreditNote(ctx context.Context, tenantID ledger.TenantID, id string) error
	ListCreditNotes(ctx context.Context, tenantID ledger.TenantID) ([]*CreditNote, error)

	// PostedCreditNotesForInvoice returns POSTED credit notes linked to the
	// invoice (void-blocking and return-capacity checks).
	PostedCreditNotesForInvoice(ctx context.Context, tenantID ledger.TenantID, invoiceID string) ([]*CreditNote, error)

	// --- expenses ---
	GetExpense(ctx context.Context, tenantID ledger.TenantID, id string) (*Expense, error)
	GetExpenseForUpdate(ctx context.Context, tenantID ledger.TenantID, id string) (*Expense, error)
	InsertExpense(ctx context.Context, e *Expense) error
	UpdateExpense(ctx context.Context, e *Expense) error
	DeleteExpense(ctx context.Context, tenantID ledger.TenantID, id string) error
	ListExpenses(ctx context.Context, tenantID ledger.TenantID) ([]*Expense, error)

	// --- purchase bills ---
	GetPurchaseBill(ctx context.Context, tenantID ledger.TenantID, id string) (*PurchaseBill, error)
	GetPurchaseBillForUpdate(ctx context.Context, tenantID ledger.TenantID, id string) (*PurchaseBill, error)
	InsertPurchaseBill(ctx context.Context, b *PurchaseBill) error
	UpdatePurchaseBill(ctx context.Context, b *PurchaseBill) error
	ListPurchaseBills(ctx context.Context, tenantID ledger.TenantID) ([]*PurchaseBill, error)

	// --- payments and refunds ---
	GetPaymentForUpdate(ctx context.Context, tenantID ledger.TenantID, id string) (*Payment, error)
	InsertPayment(ctx context.Context, p *Payment) error
	UpdatePayment(ctx context.Context, p *Payment) error
	PaymentsForDocument(ctx context.Context, tenantID ledger.TenantID, kind DocKind, documentID string) ([]*Payment, error)
	ListPayments(ctx context.Context, tenantID ledger.TenantID, kinds []DocKind) ([]*Payment, error)

	InsertRefund(ctx context.Context, r *Refund) error
	RefundsForCreditNote(ctx context.Context, tenantID ledger.TenantID, creditNoteID string) ([]*Refund, error)

	// --- stock history ---
	StockMovesByReference(ctx context.Context, tenantID ledger.TenantID, referenceType, referenceID string) ([]*inventory.StockMove, error)

	// LinkStockMoveJournalEntry stamps the journal entry id on a move.
	// Allowed only while the move's journal entry id is still unset.
	LinkStockMoveJournalEntry(ctx context.Context, tenantID ledger.TenantID, moveID string, jeID ledger.JournalEntryID) error

	// --- outbox ---
	InsertEvent(ctx context.Context, ev *outbox.Event) error
}

// Store opens transactions.
type Store interface {
	// WithTx runs fn in one transaction: commit on nil, rollback on error.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Read runs fn outside any command transaction (lock-key computation,
	// list endpoints).
	Read(ctx context.Context, fn func(tx Tx) error) error
}

// PeriodStore is implemented by stores that persist closed periods.
type PeriodStore interface {
	ClosedPeriods(ctx context.Context, tenantID ledger.TenantID) ([]ledger.ClosedRange, error)
}

// PeriodGuardFor builds a period guard over a store that also implements
// PeriodStore.
func PeriodGuardFor(store Store) ledger.PeriodGuard {
	if ps, ok := store.(PeriodStore); ok {
		return ledger.NewPeriodGuard(periodSourceFunc(ps.ClosedPeriods))
	}
	return ledger.NewPeriodGuard(periodSourceFunc(func(context.Context, ledger.TenantID) ([]ledger.ClosedRange, error) {
		return nil, nil
	}))
}

type periodSourceFunc func(ctx context.Context, tenantID ledger.TenantID) ([]ledger.ClosedRange, error)

func (f periodSourceFunc) ClosedPeriods(ctx context.Context, tenantID ledger.TenantID) ([]ledger.ClosedRange, error) {
	return f(ctx, tenantID)
}
