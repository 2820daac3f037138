package books_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashflowhq/cashflow-api/books"
	"github.com/cashflowhq/cashflow-api/ledger"
	"github.com/cashflowhq/cashflow-api/money"
)

// ===== POSTING =====

func TestPostPurchaseBill_TrackedAndExpenseLines(t *testing.T) {
	f := newFixture(t)
	itemID := f.trackedItem("Widget", m("10.00"))

	// GIVEN a bill with one tracked line and one plain expense line
	res, err := f.svc.CreatePurchaseBill(f.ctx, f.wc(), books.CreatePurchaseBillInput{
		VendorID: f.vendorID,
		BillDate: d("2025-03-01"),
		Lines: []books.PurchaseBillLineInput{
			{ItemID: itemID, Quantity: qty(10), UnitCost: m("3.00")},
			{Description: "Freight", Quantity: qty(1), UnitCost: m("25.00"), ExpenseAccountID: string(f.rent)},
		},
	})
	require.NoError(t, err)
	bill := decodeView[books.PurchaseBillView](t, res)
	assert.Equal(t, books.StatusDraft, bill.Status)
	assert.Equal(t, "BILL-00001", bill.Number)
	assert.Equal(t, m("55.00"), bill.Total)

	// WHEN it is posted
	res, err = f.svc.PostPurchaseBill(f.ctx, f.wc(), bill.ID)
	require.NoError(t, err)
	bill = decodeView[books.PurchaseBillView](t, res)

	// THEN inventory receives the tracked cost and AP is credited in full
	assert.Equal(t, books.StatusPosted, bill.Status)
	entry := f.entry(bill.JournalEntryID)
	invDr, _ := lineAmounts(entry, f.stockAcct)
	assert.Equal(t, m("30.00"), invDr)
	expDr, _ := lineAmounts(entry, f.rent)
	assert.Equal(t, m("25.00"), expDr)
	_, apCr := lineAmounts(entry, f.ap)
	assert.Equal(t, m("55.00"), apCr)

	q, c := f.stockBalance(itemID)
	assert.True(t, q.Equal(qty(10)), "got quantity %s", q)
	assert.Equal(t, m("3.00"), c)

	// Posted bills cannot be posted or edited again.
	_, err = f.svc.PostPurchaseBill(f.ctx, f.wc(), bill.ID)
	assert.True(t, ledger.IsCode(err, ledger.CodeState))
	_, err = f.svc.UpdatePurchaseBill(f.ctx, f.wc(), bill.ID, books.UpdatePurchaseBillInput{
		Lines: []books.PurchaseBillLineInput{{ItemID: itemID, Quantity: qty(1), UnitCost: m("3.00")}},
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeState))
}

// ===== WEIGHTED AVERAGE COST =====

func TestWeightedAverageCost_AcrossReceiptsAndIssue(t *testing.T) {
	f := newFixture(t)
	itemID := f.trackedItem("Widget", m("10.00"))

	// GIVEN 10 units at 3.00 and 10 units at 5.00
	f.receiveStock(itemID, qty(10), m("3.00"), d("2025-03-01"))
	f.receiveStock(itemID, qty(10), m("5.00"), d("2025-03-02"))

	q, c := f.stockBalance(itemID)
	require.True(t, q.Equal(qty(20)))
	require.Equal(t, m("4.00"), c)

	// WHEN an invoice issues 5 units
	inv := f.postedInvoice(d("2025-03-10"), books.InvoiceLineInput{
		ItemID: itemID, Quantity: qty(5), UnitPrice: m("10.00"),
	})

	// THEN COGS carries 5 x 4.00 and the balance keeps the average
	entry := f.entry(inv.JournalEntryID)
	cogsDr, _ := lineAmounts(entry, f.cogs)
	assert.Equal(t, m("20.00"), cogsDr)
	_, invCr := lineAmounts(entry, f.stockAcct)
	assert.Equal(t, m("20.00"), invCr)

	q, c = f.stockBalance(itemID)
	assert.True(t, q.Equal(qty(15)), "got quantity %s", q)
	assert.Equal(t, m("4.00"), c)
}

func TestPostInvoice_InsufficientStock(t *testing.T) {
	f := newFixture(t)
	itemID := f.trackedItem("Widget", m("10.00"))
	f.receiveStock(itemID, qty(3), m("3.00"), d("2025-03-01"))

	res, err := f.svc.CreateInvoice(f.ctx, f.wc(), books.CreateInvoiceInput{
		CustomerID:  f.customerID,
		InvoiceDate: d("2025-03-10"),
		Lines:       []books.InvoiceLineInput{{ItemID: itemID, Quantity: qty(5), UnitPrice: m("10.00")}},
	})
	require.NoError(t, err)
	inv := decodeView[books.InvoiceView](t, res)

	_, err = f.svc.PostInvoice(f.ctx, f.wc(), inv.ID)
	assert.True(t, ledger.IsCode(err, ledger.CodeOutOfStock))

	// The rejected posting left nothing behind.
	q, _ := f.stockBalance(itemID)
	assert.True(t, q.Equal(qty(3)), "got quantity %s", q)
	view, err := f.svc.GetInvoice(f.ctx, f.tenant, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, books.StatusDraft, view.Status)
}

func TestPostInvoice_FutureInventoryDateRejected(t *testing.T) {
	f := newFixture(t)
	itemID := f.trackedItem("Widget", m("10.00"))
	f.receiveStock(itemID, qty(10), m("3.00"), d("2025-03-01"))

	future := money.TodayIn(nil).AddDays(2)
	res, err := f.svc.CreateInvoice(f.ctx, f.wc(), books.CreateInvoiceInput{
		CustomerID:  f.customerID,
		InvoiceDate: future,
		Lines:       []books.InvoiceLineInput{{ItemID: itemID, Quantity: qty(1), UnitPrice: m("10.00")}},
	})
	require.NoError(t, err)
	inv := decodeView[books.InvoiceView](t, res)

	_, err = f.svc.PostInvoice(f.ctx, f.wc(), inv.ID)
	assert.True(t, ledger.IsCode(err, ledger.CodeFutureInventory))
}
