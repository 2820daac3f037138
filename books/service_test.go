package books_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashflowhq/cashflow-api/books"
	"github.com/cashflowhq/cashflow-api/idempotency"
	"github.com/cashflowhq/cashflow-api/inventory"
	"github.com/cashflowhq/cashflow-api/ledger"
	"github.com/cashflowhq/cashflow-api/locks"
	"github.com/cashflowhq/cashflow-api/money"
	"github.com/cashflowhq/cashflow-api/outbox"
	"github.com/cashflowhq/cashflow-api/store/sqlite"
)

// ===== FIXTURE =====

// fixture runs the full service over an in-memory sqlite store with one
// provisioned tenant: a chart of accounts, a default location, a banking
// account, one customer and one vendor.
type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *sqlite.Store
	svc   *books.Service

	tenant ledger.TenantID

	ar        ledger.AccountID
	ap        ledger.AccountID
	equity    ledger.AccountID
	stockAcct ledger.AccountID
	cogs      ledger.AccountID
	bank      ledger.AccountID
	income    ledger.AccountID
	rent      ledger.AccountID

	location   ledger.LocationID
	customerID string
	vendorID   string
}

func m(s string) money.Money { return money.MustParse(s) }

func d(s string) money.Date {
	dt, err := money.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return dt
}

func qty(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  st,
		tenant: ledger.TenantID("t-" + uuid.NewString()[:8]),
	}
	f.svc = books.NewService(st, locks.NewManager(nil, nil), idempotency.NewRunner(st), outbox.NewPublisher(st, nil, nil), nil)

	require.NoError(t, st.WithTx(f.ctx, func(tx books.Tx) error {
		f.ar = f.addAccount(tx, "1200", "Accounts Receivable", ledger.AccountAsset, ledger.NormalDebit)
		f.ap = f.addAccount(tx, "2000", "Accounts Payable", ledger.AccountLiability, ledger.NormalCredit)
		f.equity = f.addAccount(tx, "3900", "Opening Balance Equity", ledger.AccountEquity, ledger.NormalCredit)
		f.stockAcct = f.addAccount(tx, "1400", "Inventory Asset", ledger.AccountAsset, ledger.NormalDebit)
		f.cogs = f.addAccount(tx, "5000", "Cost of Goods Sold", ledger.AccountExpense, ledger.NormalDebit)
		f.bank = f.addAccount(tx, "1000", "Main Bank", ledger.AccountAsset, ledger.NormalDebit)
		f.income = f.addAccount(tx, "4100", "Product Sales", ledger.AccountIncome, ledger.NormalCredit)
		f.rent = f.addAccount(tx, "6100", "Rent", ledger.AccountExpense, ledger.NormalDebit)

		f.location = ledger.LocationID(uuid.NewString())
		if err := tx.InsertLocation(f.ctx, &books.Location{
			ID: f.location, TenantID: f.tenant, Name: "Main Warehouse", IsDefault: true,
		}); err != nil {
			return err
		}
		if err := tx.InsertCompany(f.ctx, &books.Company{
			ID:                            f.tenant,
			Name:                          "Acme Trading",
			BaseCurrency:                  "USD",
			AccountsReceivableAccountID:   f.ar,
			AccountsPayableAccountID:      f.ap,
			OpeningBalanceEquityAccountID: f.equity,
			InventoryAssetAccountID:       f.stockAcct,
			COGSAccountID:                 f.cogs,
			DefaultLocationID:             f.location,
		}); err != nil {
			return err
		}
		if err := tx.InsertBankingAccount(f.ctx, &books.BankingAccount{
			ID: uuid.NewString(), TenantID: f.tenant, AccountID: f.bank,
			Kind: books.BankingBank, Name: "Main Bank",
		}); err != nil {
			return err
		}

		f.customerID = uuid.NewString()
		if err := tx.InsertCustomer(f.ctx, &books.Customer{
			ID: f.customerID, TenantID: f.tenant, Name: "Globex",
			OpeningBalance: money.Zero, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		f.vendorID = uuid.NewString()
		return tx.InsertVendor(f.ctx, &books.Vendor{
			ID: f.vendorID, TenantID: f.tenant, Name: "Initech Supplies",
			OpeningBalance: money.Zero, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		})
	}))
	return f
}

func (f *fixture) addAccount(tx books.Tx, code, name string, typ ledger.AccountType, nb ledger.NormalBalance) ledger.AccountID {
	id := ledger.AccountID(uuid.NewString())
	require.NoError(f.t, tx.InsertAccount(f.ctx, &ledger.Account{
		ID: id, TenantID: f.tenant, Code: code, Name: name,
		Type: typ, NormalBalance: nb, IsActive: true, CreatedAt: time.Now().UTC(),
	}))
	return id
}

// wc returns a write context with a fresh idempotency key.
func (f *fixture) wc() books.WriteContext {
	return books.WriteContext{
		TenantID:       f.tenant,
		UserID:         "user-1",
		IdempotencyKey: uuid.NewString(),
		Now:            time.Now().UTC(),
	}
}

// serviceItem registers a non-tracked item billed to the income account.
func (f *fixture) serviceItem(name string, price money.Money) string {
	id := uuid.NewString()
	require.NoError(f.t, f.store.WithTx(f.ctx, func(tx books.Tx) error {
		return tx.InsertItem(f.ctx, &books.Item{
			ID: id, TenantID: f.tenant, Name: name, Kind: books.ItemService,
			SalesPrice: price, IncomeAccountID: f.income,
			CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		})
	}))
	return id
}

// trackedItem registers an inventory-tracked goods item.
func (f *fixture) trackedItem(name string, price money.Money) string {
	id := uuid.NewString()
	require.NoError(f.t, f.store.WithTx(f.ctx, func(tx books.Tx) error {
		return tx.InsertItem(f.ctx, &books.Item{
			ID: id, TenantID: f.tenant, Name: name, Kind: books.ItemGoods,
			TrackInventory: true, SalesPrice: price, IncomeAccountID: f.income,
			CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		})
	}))
	return id
}

// receiveStock posts a purchase bill receiving quantity units at unitCost.
func (f *fixture) receiveStock(itemID string, quantity decimal.Decimal, unitCost money.Money, date money.Date) {
	res, err := f.svc.CreatePurchaseBill(f.ctx, f.wc(), books.CreatePurchaseBillInput{
		VendorID: f.vendorID,
		BillDate: date,
		Lines: []books.PurchaseBillLineInput{
			{ItemID: itemID, Quantity: quantity, UnitCost: unitCost},
		},
	})
	require.NoError(f.t, err)
	bill := decodeView[books.PurchaseBillView](f.t, res)
	_, err = f.svc.PostPurchaseBill(f.ctx, f.wc(), bill.ID)
	require.NoError(f.t, err)
}

// postedInvoice creates and posts an invoice for the given lines.
func (f *fixture) postedInvoice(date money.Date, lines ...books.InvoiceLineInput) books.InvoiceView {
	res, err := f.svc.CreateInvoice(f.ctx, f.wc(), books.CreateInvoiceInput{
		CustomerID:  f.customerID,
		InvoiceDate: date,
		Lines:       lines,
	})
	require.NoError(f.t, err)
	inv := decodeView[books.InvoiceView](f.t, res)
	res, err = f.svc.PostInvoice(f.ctx, f.wc(), inv.ID)
	require.NoError(f.t, err)
	return decodeView[books.InvoiceView](f.t, res)
}

// entry loads a journal entry committed by a command.
func (f *fixture) entry(id string) *ledger.JournalEntry {
	var e *ledger.JournalEntry
	require.NoError(f.t, f.store.Read(f.ctx, func(tx books.Tx) error {
		var err error
		e, err = tx.GetJournalEntry(f.ctx, f.tenant, ledger.JournalEntryID(id))
		return err
	}))
	require.NotNil(f.t, e)
	return e
}

// stockBalance reads the current (quantity, unit cost) for the item at the
// default location.
func (f *fixture) stockBalance(itemID string) (decimal.Decimal, money.Money) {
	var q decimal.Decimal
	var c money.Money
	require.NoError(f.t, f.store.Read(f.ctx, func(tx books.Tx) error {
		bal, err := tx.GetStockBalanceForUpdate(f.ctx, f.tenant, f.location, inventory.ItemID(itemID))
		if err != nil {
			return err
		}
		require.NotNil(f.t, bal)
		q, c = bal.Quantity, bal.UnitCost
		return nil
	}))
	return q, c
}

func decodeView[V any](t *testing.T, res idempotency.Result) V {
	t.Helper()
	var v V
	require.NoError(t, json.Unmarshal(res.Body, &v))
	return v
}

// lineAmounts sums an entry's debit and credit against one account.
func lineAmounts(e *ledger.JournalEntry, acct ledger.AccountID) (money.Money, money.Money) {
	debit, credit := money.Zero, money.Zero
	for _, l := range e.Lines {
		if l.AccountID == acct {
			debit = debit.Add(l.Debit)
			credit = credit.Add(l.Credit)
		}
	}
	return debit, credit
}

// closedPeriods is a stub period source.
type closedPeriods []ledger.ClosedRange

func (c closedPeriods) ClosedPeriods(context.Context, ledger.TenantID) ([]ledger.ClosedRange, error) {
	return c, nil
}

// ===== COMMAND PIPELINE =====

func TestRunCommand_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	itemID := f.serviceItem("Consulting", m("100.00"))

	// GIVEN a create command completed under a key
	wc := f.wc()
	in := books.CreateInvoiceInput{
		CustomerID:  f.customerID,
		InvoiceDate: d("2025-03-10"),
		Lines:       []books.InvoiceLineInput{{ItemID: itemID, Quantity: qty(1), UnitPrice: m("100.00")}},
	}
	first, err := f.svc.CreateInvoice(f.ctx, wc, in)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, 201, first.StatusCode)

	// WHEN the same key is retried
	second, err := f.svc.CreateInvoice(f.ctx, wc, in)
	require.NoError(t, err)

	// THEN the cached response replays byte for byte and no second invoice
	// exists
	assert.True(t, second.Replayed)
	assert.Equal(t, first.StatusCode, second.StatusCode)
	assert.Equal(t, string(first.Body), string(second.Body))

	views, err := f.svc.ListInvoices(f.ctx, f.tenant)
	require.NoError(t, err)
	assert.Len(t, views, 1)
}

func TestRunCommand_DomainErrorCachedAgainstKey(t *testing.T) {
	f := newFixture(t)

	wc := f.wc()
	_, err := f.svc.CreateInvoice(f.ctx, wc, books.CreateInvoiceInput{
		CustomerID:  "nope",
		InvoiceDate: d("2025-03-10"),
		Lines:       []books.InvoiceLineInput{{ItemID: "nope", Quantity: qty(1)}},
	})
	require.True(t, ledger.IsCode(err, ledger.CodeNotFound))

	// The failure is terminal for the key: the retry replays the cached
	// error envelope instead of re-running.
	res, err := f.svc.CreateInvoice(f.ctx, wc, books.CreateInvoiceInput{
		CustomerID:  "nope",
		InvoiceDate: d("2025-03-10"),
		Lines:       []books.InvoiceLineInput{{ItemID: "nope", Quantity: qty(1)}},
	})
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, 404, res.StatusCode)
	assert.Contains(t, string(res.Body), "not found")
}

func TestRunCommand_MissingIdempotencyKey(t *testing.T) {
	f := newFixture(t)

	wc := f.wc()
	wc.IdempotencyKey = ""
	_, err := f.svc.CreateInvoice(f.ctx, wc, books.CreateInvoiceInput{
		CustomerID:  f.customerID,
		InvoiceDate: d("2025-03-10"),
		Lines:       []books.InvoiceLineInput{{ItemID: "x", Quantity: qty(1)}},
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeValidation))
}

// ===== PERIOD CLOSE =====

func TestPostInvoice_ClosedPeriodRejected(t *testing.T) {
	f := newFixture(t)
	f.svc.Periods = ledger.NewPeriodGuard(closedPeriods{{From: d("2025-01-01"), To: d("2025-03-31")}})
	itemID := f.serviceItem("Consulting", m("100.00"))

	res, err := f.svc.CreateInvoice(f.ctx, f.wc(), books.CreateInvoiceInput{
		CustomerID:  f.customerID,
		InvoiceDate: d("2025-03-15"),
		Lines:       []books.InvoiceLineInput{{ItemID: itemID, Quantity: qty(1), UnitPrice: m("100.00")}},
	})
	require.NoError(t, err)
	inv := decodeView[books.InvoiceView](t, res)

	_, err = f.svc.PostInvoice(f.ctx, f.wc(), inv.ID)
	assert.True(t, ledger.IsCode(err, ledger.CodePeriodClosed))

	// One day past the boundary posts fine.
	res, err = f.svc.UpdateInvoice(f.ctx, f.wc(), inv.ID, books.UpdateInvoiceInput{
		InvoiceDate: d("2025-04-01"),
		Lines:       []books.InvoiceLineInput{{ItemID: itemID, Quantity: qty(1), UnitPrice: m("100.00")}},
	})
	require.NoError(t, err)
	_, err = f.svc.PostInvoice(f.ctx, f.wc(), inv.ID)
	assert.NoError(t, err)
}

// ===== CURRENCY =====

func TestCreateInvoice_CurrencyMismatch(t *testing.T) {
	f := newFixture(t)
	itemID := f.serviceItem("Consulting", m("100.00"))

	_, err := f.svc.CreateInvoice(f.ctx, f.wc(), books.CreateInvoiceInput{
		CustomerID:  f.customerID,
		InvoiceDate: d("2025-03-10"),
		Currency:    "EUR",
		Lines:       []books.InvoiceLineInput{{ItemID: itemID, Quantity: qty(1), UnitPrice: m("100.00")}},
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeCurrencyMismatch))
}
