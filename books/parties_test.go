package books_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashflowhq/cashflow-api/books"
	"github.com/cashflowhq/cashflow-api/ledger"
)

// ===== CUSTOMERS =====

func TestCreateCustomer_OpeningBalance(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreateCustomer(f.ctx, f.wc(), books.CustomerInput{
		Name:           "Wayne Enterprises",
		Email:          "ap@wayne.example",
		OpeningBalance: m("500.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, 201, res.StatusCode)
	c := decodeView[books.CustomerView](t, res)
	assert.Equal(t, m("500.00"), c.OpeningBalance)

	// Saving the same balance again posts nothing; a change posts the delta.
	res, err = f.svc.UpdateCustomer(f.ctx, f.wc(), c.ID, books.CustomerInput{
		Name: "Wayne Enterprises", OpeningBalance: m("500.00"),
	})
	require.NoError(t, err)
	res, err = f.svc.UpdateCustomer(f.ctx, f.wc(), c.ID, books.CustomerInput{
		Name: "Wayne Enterprises", OpeningBalance: m("350.00"),
	})
	require.NoError(t, err)
	c = decodeView[books.CustomerView](t, res)
	assert.Equal(t, m("350.00"), c.OpeningBalance)

	view, err := f.svc.GetCustomer(f.ctx, f.tenant, c.ID)
	require.NoError(t, err)
	assert.Equal(t, m("350.00"), view.OpeningBalance)
}

func TestCreateCustomer_OpeningBalanceNeedsEquityAccount(t *testing.T) {
	f := newFixture(t)

	// A tenant whose company never configured Opening Balance Equity.
	bare := ledger.TenantID("t-" + uuid.NewString()[:8])
	var ar ledger.AccountID
	require.NoError(t, f.store.WithTx(f.ctx, func(tx books.Tx) error {
		ar = ledger.AccountID(uuid.NewString())
		if err := tx.InsertAccount(f.ctx, &ledger.Account{
			ID: ar, TenantID: bare, Code: "1200", Name: "Accounts Receivable",
			Type: ledger.AccountAsset, NormalBalance: ledger.NormalDebit, IsActive: true, CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return tx.InsertCompany(f.ctx, &books.Company{
			ID: bare, Name: "Bare Co", AccountsReceivableAccountID: ar,
		})
	}))

	wc := books.WriteContext{
		TenantID: bare, UserID: "user-1",
		IdempotencyKey: uuid.NewString(), Now: time.Now().UTC(),
	}
	_, err := f.svc.CreateCustomer(f.ctx, wc, books.CustomerInput{
		Name: "Globex", OpeningBalance: m("100.00"),
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeConfiguration))

	// A zero balance never touches the ledger, so the bare company is fine.
	wc.IdempotencyKey = uuid.NewString()
	res, err := f.svc.CreateCustomer(f.ctx, wc, books.CustomerInput{Name: "Globex"})
	require.NoError(t, err)
	assert.Equal(t, 201, res.StatusCode)
}

// ===== VENDORS =====

func TestCreateVendor_OpeningBalance(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreateVendor(f.ctx, f.wc(), books.VendorInput{
		Name:           "Hooli Supplies",
		OpeningBalance: m("200.00"),
	})
	require.NoError(t, err)
	v := decodeView[books.VendorView](t, res)
	assert.Equal(t, m("200.00"), v.OpeningBalance)

	vendors, err := f.svc.ListVendors(f.ctx, f.tenant)
	require.NoError(t, err)
	assert.Len(t, vendors, 2) // fixture vendor + Hooli
}

// ===== ITEMS =====

func TestCreateItem_Validation(t *testing.T) {
	f := newFixture(t)

	// Only GOODS may track inventory.
	_, err := f.svc.CreateItem(f.ctx, f.wc(), books.ItemInput{
		Name: "Retainer", Kind: books.ItemService, TrackInventory: true,
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeValidation))

	// Income account must actually be an INCOME account.
	_, err = f.svc.CreateItem(f.ctx, f.wc(), books.ItemInput{
		Name: "Widget", Kind: books.ItemGoods, IncomeAccountID: string(f.bank),
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeConfiguration))

	_, err = f.svc.CreateItem(f.ctx, f.wc(), books.ItemInput{
		Name: "Widget", Kind: books.ItemGoods, SalesPrice: m("-1.00"),
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeValidation))

	res, err := f.svc.CreateItem(f.ctx, f.wc(), books.ItemInput{
		Name: "Widget", Kind: books.ItemGoods, TrackInventory: true,
		SalesPrice:      m("10.00"),
		IncomeAccountID: string(f.income),
	})
	require.NoError(t, err)
	it := decodeView[books.ItemView](t, res)
	assert.True(t, it.TrackInventory)

	res, err = f.svc.UpdateItem(f.ctx, f.wc(), it.ID, books.ItemInput{
		Name: "Widget Mk2", Kind: books.ItemGoods, TrackInventory: true,
		SalesPrice:      m("12.00"),
		IncomeAccountID: string(f.income),
	})
	require.NoError(t, err)
	it = decodeView[books.ItemView](t, res)
	assert.Equal(t, "Widget Mk2", it.Name)

	items, err := f.svc.ListItems(f.ctx, f.tenant)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
