/*
Package books implements the document services: invoices, credit notes,
expenses, purchase bills, their payments and refunds, and the opening
balance postings. It is the orchestration layer that ties together locks,
idempotency, the ledger poster, the inventory engine, the audit log and
the outbox into single atomic commands.

COMMAND SHAPE:
  Every mutating command follows the same pipeline:
    compute lock keys -> WithLocks -> idempotency Run -> WithTx:
      row-lock aggregate -> domain validation -> stock moves -> journal
      posting -> document update -> audit row -> outbox rows -> commit
    -> fast-path publish -> cached response

STATE MACHINES:
  Invoice:       DRAFT -> APPROVED -> POSTED -> {PARTIAL, PAID, VOID}
  CreditNote:    DRAFT -> APPROVED -> POSTED -> {VOID}
  Expense:       DRAFT -> APPROVED -> POSTED -> {PARTIAL, PAID, VOID}
  PurchaseBill:  DRAFT -> POSTED -> {PARTIAL, PAID}
  Payments and refunds are created POSTED; payment reversal stamps the row
  and recomputes the parent status. VOID is terminal everywhere.

IMMUTABILITY:
  Posted documents are never edited in place: an edit is an adjustment
  entry, a void is a reversal entry. Documents own their lines; journal
  entries and stock moves are append-only.
*/
package books

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cashflowhq/cashflow-api/inventory"
	"github.com/cashflowhq/cashflow-api/ledger"
	"github.com/cashflowhq/cashflow-api/money"
)

// =============================================================================
// WRITE CONTEXT
// =============================================================================

// WriteContext carries the per-command metadata every service call needs:
// who, for which tenant, under which idempotency key and correlation id.
type WriteContext struct {
	TenantID       ledger.TenantID
	UserID         ledger.UserID
	IdempotencyKey string
	CorrelationID  string
	Now            time.Time
}

// =============================================================================
// COMPANY - Tenant configuration
// =============================================================================

// Company is the tenant row. Distinguished account ids are nullable until
// configured; flows that need one fail with a CONFIGURATION error when it
// is missing or mistyped.
type Company struct {
	ID           ledger.TenantID
	Name         string
	BaseCurrency string // 3-letter code, empty = not enforced
	TimeZone     string // IANA name, empty = UTC

	AccountsReceivableAccountID   ledger.AccountID
	AccountsPayableAccountID      ledger.AccountID
	OpeningBalanceEquityAccountID ledger.AccountID
	InventoryAssetAccountID       ledger.AccountID
	COGSAccountID                 ledger.AccountID
	DefaultLocationID             ledger.LocationID
}

// =============================================================================
// PARTIES AND CATALOG
// =============================================================================

type Customer struct {
	ID             string
	TenantID       ledger.TenantID
	Name           string
	Email          string
	OpeningBalance money.Money // positive = customer owes
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Vendor struct {
	ID             string
	TenantID       ledger.TenantID
	Name           string
	Email          string
	OpeningBalance money.Money // positive = owed to vendor
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ItemKind string

const (
	ItemGoods   ItemKind = "GOODS"
	ItemService ItemKind = "SERVICE"
)

type Item struct {
	ID                string
	TenantID          ledger.TenantID
	Name              string
	Kind              ItemKind
	TrackInventory    bool
	SalesPrice        money.Money
	PurchaseCost      money.Money
	IncomeAccountID   ledger.AccountID
	ExpenseAccountID  ledger.AccountID
	DefaultLocationID ledger.LocationID
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Location struct {
	ID        ledger.LocationID
	TenantID  ledger.TenantID
	Name      string
	IsDefault bool
}

type BankingKind string

const (
	BankingBank       BankingKind = "BANK"
	BankingCash       BankingKind = "CASH"
	BankingCreditCard BankingKind = "CREDIT_CARD"
)

// BankingAccount registers a ledger account as usable for receiving or
// sending payments.
type BankingAccount struct {
	ID        string
	TenantID  ledger.TenantID
	AccountID ledger.AccountID
	Kind      BankingKind
	Name      string
}

// =============================================================================
// DOCUMENT STATUS
// =============================================================================

type DocStatus string

const (
	StatusDraft    DocStatus = "DRAFT"
	StatusApproved DocStatus = "APPROVED"
	StatusPosted   DocStatus = "POSTED"
	StatusPartial  DocStatus = "PARTIAL"
	StatusPaid     DocStatus = "PAID"
	StatusVoid     DocStatus = "VOID"
)

// =============================================================================
// INVOICE
// =============================================================================

// PaymentProof is an uploaded proof-of-payment reference waiting to be
// attached to a recorded payment. Proofs are marked used, never deleted.
type PaymentProof struct {
	ID         string
	StorageURI string
	Used       bool
}

type Invoice struct {
	ID         string
	TenantID   ledger.TenantID
	Number     string
	CustomerID string
	Status     DocStatus

	InvoiceDate money.Date
	DueDate     money.Date
	Currency    string
	LocationID  ledger.LocationID

	Subtotal   money.Money
	TaxAmount  money.Money
	Total      money.Money
	AmountPaid money.Money

	JournalEntryID               ledger.JournalEntryID
	LastAdjustmentJournalEntryID ledger.JournalEntryID
	VoidJournalEntryID           ledger.JournalEntryID

	// Opaque token backing the customer-facing share link. Rotated on
	// every mint; empty until a link is first requested.
	PublicLinkToken string

	PendingPaymentProofs []PaymentProof
	Lines                []InvoiceLine

	CreatedAt time.Time
	UpdatedAt time.Time
}

type InvoiceLine struct {
	ID          string
	TenantID    ledger.TenantID
	InvoiceID   string
	ItemID      inventory.ItemID
	Description string

	Quantity       decimal.Decimal
	UnitPrice      money.Money
	DiscountAmount money.Money
	TaxRate        money.Rate
	TaxAmount      money.Money

	IncomeAccountID ledger.AccountID
	LocationID      ledger.LocationID // resolved at posting for tracked lines
}

// Subtotal is quantity*unitPrice - discount at 2dp.
func (l InvoiceLine) Subtotal() money.Money {
	return l.UnitPrice.Mul(l.Quantity).Sub(l.DiscountAmount)
}

// =============================================================================
// CREDIT NOTE
// =============================================================================

type CreditNote struct {
	ID         string
	TenantID   ledger.TenantID
	Number     string
	CustomerID string
	InvoiceID  string // optional source invoice link
	Status     DocStatus

	Date     money.Date
	Currency string

	Subtotal       money.Money
	TaxAmount      money.Money
	Total          money.Money
	AmountRefunded money.Money

	JournalEntryID               ledger.JournalEntryID
	LastAdjustmentJournalEntryID ledger.JournalEntryID
	VoidJournalEntryID           ledger.JournalEntryID

	Lines []CreditNoteLine

	CreatedAt time.Time
	UpdatedAt time.Time
}

type CreditNoteLine struct {
	ID            string
	TenantID      ledger.TenantID
	CreditNoteID  string
	ItemID        inventory.ItemID
	InvoiceLineID string // optional link to the credited invoice line
	Description   string

	Quantity       decimal.Decimal
	UnitPrice      money.Money
	DiscountAmount money.Money
	TaxRate        money.Rate
	TaxAmount      money.Money

	IncomeAccountID ledger.AccountID
}

func (l CreditNoteLine) Subtotal() money.Money {
	return l.UnitPrice.Mul(l.Quantity).Sub(l.DiscountAmount)
}

// =============================================================================
// EXPENSE (VENDOR BILL)
// =============================================================================

type Expense struct {
	ID       string
	TenantID ledger.TenantID
	Number   string
	VendorID string
	Status   DocStatus

	ExpenseDate money.Date
	DueDate     money.Date
	Currency    string

	Subtotal   money.Money
	TaxAmount  money.Money
	Total      money.Money
	AmountPaid money.Money

	JournalEntryID               ledger.JournalEntryID
	LastAdjustmentJournalEntryID ledger.JournalEntryID
	VoidJournalEntryID           ledger.JournalEntryID

	Lines []ExpenseLine

	CreatedAt time.Time
	UpdatedAt time.Time
}

type ExpenseLine struct {
	ID               string
	TenantID         ledger.TenantID
	ExpenseID        string
	Description      string
	ExpenseAccountID ledger.AccountID
	Amount           money.Money
	TaxRate          money.Rate
	TaxAmount        money.Money
}

// =============================================================================
// PURCHASE BILL
// =============================================================================

type PurchaseBill struct {
	ID       string
	TenantID ledger.TenantID
	Number   string
	VendorID string
	Status   DocStatus

	BillDate   money.Date
	DueDate    money.Date
	Currency   string
	LocationID ledger.LocationID

	Subtotal   money.Money
	TaxAmount  money.Money
	Total      money.Money
	AmountPaid money.Money

	JournalEntryID ledger.JournalEntryID

	Lines []PurchaseBillLine

	CreatedAt time.Time
	UpdatedAt time.Time
}

type PurchaseBillLine struct {
	ID             string
	TenantID       ledger.TenantID
	PurchaseBillID string
	ItemID         inventory.ItemID // tracked goods feed inventory
	Description    string

	Quantity decimal.Decimal
	UnitCost money.Money
	TaxRate  money.Rate
	TaxAmount money.Money

	// ExpenseAccountID receives the cost for non-tracked lines.
	ExpenseAccountID ledger.AccountID
	LocationID       ledger.LocationID
}

func (l PurchaseBillLine) Subtotal() money.Money {
	return l.UnitCost.Mul(l.Quantity)
}

// =============================================================================
// PAYMENTS AND REFUNDS
// =============================================================================

// DocKind names the parent document family of a payment.
type DocKind string

const (
	KindInvoice      DocKind = "INVOICE"
	KindExpense      DocKind = "EXPENSE"
	KindPurchaseBill DocKind = "PURCHASE_BILL"
)

// Payment is a recorded receipt (invoice) or disbursement (expense,
// purchase bill). Created POSTED with its journal entry; a reversal stamps
// ReversedAt and ReversalJournalEntryID and recomputes the parent status.
type Payment struct {
	ID         string
	TenantID   ledger.TenantID
	Number     string
	DocKind    DocKind
	DocumentID string

	Amount        money.Money
	BankAccountID ledger.AccountID
	PaymentDate   money.Date
	PaymentMode   string
	AttachmentURI string

	JournalEntryID         ledger.JournalEntryID
	ReversedAt             *time.Time
	ReversalJournalEntryID ledger.JournalEntryID

	CreatedByUserID ledger.UserID
	CreatedAt       time.Time
}

// IsReversed reports whether the payment has been reversed.
func (p *Payment) IsReversed() bool { return p.ReversedAt != nil }

// Refund pays out the remaining balance of a posted credit note.
type Refund struct {
	ID           string
	TenantID     ledger.TenantID
	Number       string
	CreditNoteID string

	Amount        money.Money
	BankAccountID ledger.AccountID
	RefundDate    money.Date

	JournalEntryID ledger.JournalEntryID

	CreatedByUserID ledger.UserID
	CreatedAt       time.Time
}
