package books_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashflowhq/cashflow-api/books"
	"github.com/cashflowhq/cashflow-api/ledger"
	"github.com/cashflowhq/cashflow-api/money"
)

// ===== DRAFT LIFECYCLE =====

func TestInvoice_DraftLifecycle(t *testing.T) {
	f := newFixture(t)
	itemID := f.serviceItem("Consulting", m("100.00"))

	res, err := f.svc.CreateInvoice(f.ctx, f.wc(), books.CreateInvoiceInput{
		CustomerID:  f.customerID,
		InvoiceDate: d("2025-03-10"),
		DueDate:     d("2025-04-09"),
		Lines: []books.InvoiceLineInput{
			{ItemID: itemID, Quantity: qty(2), UnitPrice: m("100.00"), TaxRate: money.MustParseRate("0.10")},
		},
	})
	require.NoError(t, err)
	inv := decodeView[books.InvoiceView](t, res)

	assert.Equal(t, books.StatusDraft, inv.Status)
	assert.Equal(t, "INV-00001", inv.Number)
	assert.Equal(t, m("200.00"), inv.Subtotal)
	assert.Equal(t, m("20.00"), inv.TaxAmount)
	assert.Equal(t, m("220.00"), inv.Total)
	assert.Empty(t, inv.JournalEntryID)

	// Drafts are fully editable.
	res, err = f.svc.UpdateInvoice(f.ctx, f.wc(), inv.ID, books.UpdateInvoiceInput{
		Lines: []books.InvoiceLineInput{
			{ItemID: itemID, Quantity: qty(1), UnitPrice: m("100.00"), DiscountAmount: m("10.00")},
		},
	})
	require.NoError(t, err)
	inv = decodeView[books.InvoiceView](t, res)
	assert.Equal(t, m("90.00"), inv.Total)

	res, err = f.svc.ApproveInvoice(f.ctx, f.wc(), inv.ID)
	require.NoError(t, err)
	inv = decodeView[books.InvoiceView](t, res)
	assert.Equal(t, books.StatusApproved, inv.Status)

	// APPROVED is no longer editable or deletable.
	_, err = f.svc.UpdateInvoice(f.ctx, f.wc(), inv.ID, books.UpdateInvoiceInput{
		Lines: []books.InvoiceLineInput{{ItemID: itemID, Quantity: qty(1), UnitPrice: m("50.00")}},
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeState))
	_, err = f.svc.DeleteInvoice(f.ctx, f.wc(), inv.ID)
	assert.True(t, ledger.IsCode(err, ledger.CodeState))
}

func TestInvoice_SequentialNumbers(t *testing.T) {
	f := newFixture(t)
	itemID := f.serviceItem("Consulting", m("100.00"))

	for i, want := range []string{"INV-00001", "INV-00002", "INV-00003"} {
		res, err := f.svc.CreateInvoice(f.ctx, f.wc(), books.CreateInvoiceInput{
			CustomerID:  f.customerID,
			InvoiceDate: d("2025-03-10"),
			Lines:       []books.InvoiceLineInput{{ItemID: itemID, Quantity: qty(1), UnitPrice: m("10.00")}},
		})
		require.NoError(t, err, "invoice %d", i)
		assert.Equal(t, want, decodeView[books.InvoiceView](t, res).Number)
	}
}

func TestDeleteInvoice_DraftOnly(t *testing.T) {
	f := newFixture(t)
	itemID := f.serviceItem("Consulting", m("100.00"))

	res, err := f.svc.CreateInvoice(f.ctx, f.wc(), books.CreateInvoiceInput{
		CustomerID:  f.customerID,
		InvoiceDate: d("2025-03-10"),
		Lines:       []books.InvoiceLineInput{{ItemID: itemID, Quantity: qty(1), UnitPrice: m("10.00")}},
	})
	require.NoError(t, err)
	inv := decodeView[books.InvoiceView](t, res)

	_, err = f.svc.DeleteInvoice(f.ctx, f.wc(), inv.ID)
	require.NoError(t, err)

	_, err = f.svc.GetInvoice(f.ctx, f.tenant, inv.ID)
	assert.True(t, ledger.IsCode(err, ledger.CodeNotFound))
}

// ===== POSTING =====

func TestPostInvoice_ServiceLines(t *testing.T) {
	f := newFixture(t)
	itemID := f.serviceItem("Consulting", m("100.00"))

	// GIVEN an approved invoice for 2 x 100.00 at 10% tax
	res, err := f.svc.CreateInvoice(f.ctx, f.wc(), books.CreateInvoiceInput{
		CustomerID:  f.customerID,
		InvoiceDate: d("2025-03-10"),
		Lines: []books.InvoiceLineInput{
			{ItemID: itemID, Quantity: qty(2), UnitPrice: m("100.00"), TaxRate: money.MustParseRate("0.10")},
		},
	})
	require.NoError(t, err)
	inv := decodeView[books.InvoiceView](t, res)
	_, err = f.svc.ApproveInvoice(f.ctx, f.wc(), inv.ID)
	require.NoError(t, err)

	// WHEN it is posted
	res, err = f.svc.PostInvoice(f.ctx, f.wc(), inv.ID)
	require.NoError(t, err)
	inv = decodeView[books.InvoiceView](t, res)

	// THEN the journal entry balances: Dr AR 220 / Cr Income 200 / Cr Tax 20
	assert.Equal(t, books.StatusPosted, inv.Status)
	require.NotEmpty(t, inv.JournalEntryID)
	entry := f.entry(inv.JournalEntryID)
	assert.Equal(t, m("220.00"), entry.TotalDebit())
	assert.Equal(t, m("220.00"), entry.TotalCredit())

	arDr, _ := lineAmounts(entry, f.ar)
	assert.Equal(t, m("220.00"), arDr)
	_, incomeCr := lineAmounts(entry, f.income)
	assert.Equal(t, m("200.00"), incomeCr)

	// Output tax lands on the lazily provisioned Tax Payable account.
	var taxAcct *ledger.Account
	require.NoError(t, f.store.Read(f.ctx, func(tx books.Tx) error {
		var err error
		taxAcct, err = tx.FindAccountByCode(f.ctx, f.tenant, ledger.CodeTaxPayable, ledger.AccountLiability)
		return err
	}))
	require.NotNil(t, taxAcct)
	_, taxCr := lineAmounts(entry, taxAcct.ID)
	assert.Equal(t, m("20.00"), taxCr)

	// Posting again is a state error.
	_, err = f.svc.PostInvoice(f.ctx, f.wc(), inv.ID)
	assert.True(t, ledger.IsCode(err, ledger.CodeState))
}

// ===== ADJUST =====

func TestAdjustInvoice_PostsNetDelta(t *testing.T) {
	f := newFixture(t)
	itemID := f.serviceItem("Consulting", m("100.00"))

	inv := f.postedInvoice(d("2025-03-10"), books.InvoiceLineInput{
		ItemID: itemID, Quantity: qty(1), UnitPrice: m("100.00"), TaxRate: money.MustParseRate("0.10"),
	})
	require.Equal(t, m("110.00"), inv.Total)

	// Raise the invoice to 150.00 + 15.00 tax.
	res, err := f.svc.AdjustInvoice(f.ctx, f.wc(), inv.ID, books.UpdateInvoiceInput{
		Lines: []books.InvoiceLineInput{
			{ItemID: itemID, Quantity: qty(1), UnitPrice: m("150.00"), TaxRate: money.MustParseRate("0.10")},
		},
	})
	require.NoError(t, err)
	adjusted := decodeView[books.InvoiceView](t, res)

	assert.Equal(t, m("165.00"), adjusted.Total)
	assert.Equal(t, books.StatusPosted, adjusted.Status)
	require.NotEmpty(t, adjusted.LastAdjustmentJournalEntryID)
	assert.Equal(t, inv.JournalEntryID, adjusted.JournalEntryID)

	// The adjustment entry carries only the per-account delta.
	delta := f.entry(adjusted.LastAdjustmentJournalEntryID)
	arDr, _ := lineAmounts(delta, f.ar)
	assert.Equal(t, m("55.00"), arDr)
	_, incomeCr := lineAmounts(delta, f.income)
	assert.Equal(t, m("50.00"), incomeCr)
	assert.Equal(t, delta.TotalDebit(), delta.TotalCredit())

	// A second adjustment reverses the first; landing back on the original
	// posting leaves no active adjustment at all.
	res, err = f.svc.AdjustInvoice(f.ctx, f.wc(), inv.ID, books.UpdateInvoiceInput{
		Lines: []books.InvoiceLineInput{
			{ItemID: itemID, Quantity: qty(1), UnitPrice: m("100.00"), TaxRate: money.MustParseRate("0.10")},
		},
	})
	require.NoError(t, err)
	second := decodeView[books.InvoiceView](t, res)
	assert.Equal(t, m("110.00"), second.Total)
	assert.Empty(t, second.LastAdjustmentJournalEntryID)
}

func TestAdjustInvoice_InventoryTrackedRejected(t *testing.T) {
	f := newFixture(t)
	itemID := f.trackedItem("Widget", m("10.00"))
	f.receiveStock(itemID, qty(10), m("3.00"), d("2025-03-01"))

	inv := f.postedInvoice(d("2025-03-10"), books.InvoiceLineInput{
		ItemID: itemID, Quantity: qty(5), UnitPrice: m("10.00"),
	})

	_, err := f.svc.AdjustInvoice(f.ctx, f.wc(), inv.ID, books.UpdateInvoiceInput{
		Lines: []books.InvoiceLineInput{{ItemID: itemID, Quantity: qty(4), UnitPrice: m("10.00")}},
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeCannotAdjust))
}

func TestAdjustInvoice_BlockedByPayments(t *testing.T) {
	f := newFixture(t)
	itemID := f.serviceItem("Consulting", m("100.00"))

	inv := f.postedInvoice(d("2025-03-10"), books.InvoiceLineInput{
		ItemID: itemID, Quantity: qty(1), UnitPrice: m("100.00"),
	})
	_, err := f.svc.RecordInvoicePayment(f.ctx, f.wc(), inv.ID, books.RecordPaymentInput{
		Amount: m("40.00"), BankAccountID: string(f.bank),
	})
	require.NoError(t, err)

	_, err = f.svc.AdjustInvoice(f.ctx, f.wc(), inv.ID, books.UpdateInvoiceInput{
		Lines: []books.InvoiceLineInput{{ItemID: itemID, Quantity: qty(1), UnitPrice: m("50.00")}},
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeState))
}

// ===== VOID =====

func TestVoidInvoice_ReversesAndRestocks(t *testing.T) {
	f := newFixture(t)
	itemID := f.trackedItem("Widget", m("10.00"))
	f.receiveStock(itemID, qty(20), m("4.00"), d("2025-03-01"))

	inv := f.postedInvoice(d("2025-03-10"), books.InvoiceLineInput{
		ItemID: itemID, Quantity: qty(5), UnitPrice: m("10.00"),
	})
	q, _ := f.stockBalance(itemID)
	require.True(t, q.Equal(qty(15)))

	res, err := f.svc.VoidInvoice(f.ctx, f.wc(), inv.ID, books.VoidInvoiceInput{Reason: "duplicate"})
	require.NoError(t, err)
	voided := decodeView[books.InvoiceView](t, res)

	assert.Equal(t, books.StatusVoid, voided.Status)
	require.NotEmpty(t, voided.VoidJournalEntryID)

	// The reversal swaps the original's sides line for line.
	original := f.entry(inv.JournalEntryID)
	reversal := f.entry(voided.VoidJournalEntryID)
	assert.True(t, original.IsVoided())
	assert.Equal(t, original.ID, reversal.ReversalOfJournalEntryID)
	assert.Equal(t, original.TotalDebit(), reversal.TotalCredit())
	_, arCr := lineAmounts(reversal, f.ar)
	assert.Equal(t, m("50.00"), arCr)

	// Stock is restored at the issued cost.
	q, c := f.stockBalance(itemID)
	assert.True(t, q.Equal(qty(20)), "got quantity %s", q)
	assert.Equal(t, m("4.00"), c)

	// VOID is terminal.
	_, err = f.svc.VoidInvoice(f.ctx, f.wc(), inv.ID, books.VoidInvoiceInput{Reason: "again"})
	assert.True(t, ledger.IsCode(err, ledger.CodeState))
}

func TestVoidInvoice_BlockedByPayments(t *testing.T) {
	f := newFixture(t)
	itemID := f.serviceItem("Consulting", m("100.00"))

	inv := f.postedInvoice(d("2025-03-10"), books.InvoiceLineInput{
		ItemID: itemID, Quantity: qty(1), UnitPrice: m("100.00"),
	})
	_, err := f.svc.RecordInvoicePayment(f.ctx, f.wc(), inv.ID, books.RecordPaymentInput{
		Amount: m("100.00"), BankAccountID: string(f.bank),
	})
	require.NoError(t, err)

	_, err = f.svc.VoidInvoice(f.ctx, f.wc(), inv.ID, books.VoidInvoiceInput{Reason: "mistake"})
	assert.True(t, ledger.IsCode(err, ledger.CodeState))
}

// ===== PUBLIC LINK =====

func TestCreateInvoicePublicLink_RotatesToken(t *testing.T) {
	f := newFixture(t)
	itemID := f.serviceItem("Consulting", m("100.00"))

	res, err := f.svc.CreateInvoice(f.ctx, f.wc(), books.CreateInvoiceInput{
		CustomerID:  f.customerID,
		InvoiceDate: d("2025-03-10"),
		Lines:       []books.InvoiceLineInput{{ItemID: itemID, Quantity: qty(1), UnitPrice: m("100.00")}},
	})
	require.NoError(t, err)
	inv := decodeView[books.InvoiceView](t, res)

	// Drafts are not shareable.
	_, err = f.svc.CreateInvoicePublicLink(f.ctx, f.wc(), inv.ID)
	assert.True(t, ledger.IsCode(err, ledger.CodeState))

	_, err = f.svc.PostInvoice(f.ctx, f.wc(), inv.ID)
	require.NoError(t, err)

	res, err = f.svc.CreateInvoicePublicLink(f.ctx, f.wc(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 201, res.StatusCode)
	first := decodeView[map[string]string](t, res)
	require.NotEmpty(t, first["token"])

	// Minting again rotates the token; old links stop resolving.
	res, err = f.svc.CreateInvoicePublicLink(f.ctx, f.wc(), inv.ID)
	require.NoError(t, err)
	second := decodeView[map[string]string](t, res)
	require.NotEmpty(t, second["token"])
	assert.NotEqual(t, first["token"], second["token"])

	view, err := f.svc.GetInvoice(f.ctx, f.tenant, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, second["token"], view.PublicLinkToken)
}
