package books_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashflowhq/cashflow-api/books"
	"github.com/cashflowhq/cashflow-api/ledger"
)

// ===== POSTING =====

func TestPostCreditNote_ReversesRevenue(t *testing.T) {
	f := newFixture(t)
	itemID := f.serviceItem("Consulting", m("100.00"))

	inv := f.postedInvoice(d("2025-03-10"), books.InvoiceLineInput{
		ItemID: itemID, Quantity: qty(2), UnitPrice: m("100.00"),
	})

	res, err := f.svc.CreateCreditNote(f.ctx, f.wc(), books.CreateCreditNoteInput{
		CustomerID: f.customerID,
		InvoiceID:  inv.ID,
		Date:       d("2025-03-12"),
		Lines: []books.CreditNoteLineInput{
			{ItemID: itemID, Quantity: qty(1), UnitPrice: m("100.00")},
		},
	})
	require.NoError(t, err)
	cn := decodeView[books.CreditNoteView](t, res)
	assert.Equal(t, "CN-00001", cn.Number)
	assert.Equal(t, books.StatusDraft, cn.Status)

	res, err = f.svc.PostCreditNote(f.ctx, f.wc(), cn.ID)
	require.NoError(t, err)
	cn = decodeView[books.CreditNoteView](t, res)
	assert.Equal(t, books.StatusPosted, cn.Status)

	// Dr Income 100 / Cr AR 100.
	entry := f.entry(cn.JournalEntryID)
	incomeDr, _ := lineAmounts(entry, f.income)
	assert.Equal(t, m("100.00"), incomeDr)
	_, arCr := lineAmounts(entry, f.ar)
	assert.Equal(t, m("100.00"), arCr)
}

// ===== RETURN ALLOCATION =====

func TestPostCreditNote_RestocksFIFOAtIssuedCost(t *testing.T) {
	f := newFixture(t)
	itemID := f.trackedItem("Widget", m("10.00"))

	// GIVEN stock at an average cost of 4.00 and an invoice that issued
	// 5 + 5 units across two lines
	f.receiveStock(itemID, qty(10), m("3.00"), d("2025-03-01"))
	f.receiveStock(itemID, qty(10), m("5.00"), d("2025-03-02"))
	inv := f.postedInvoice(d("2025-03-10"),
		books.InvoiceLineInput{ItemID: itemID, Quantity: qty(5), UnitPrice: m("10.00")},
		books.InvoiceLineInput{ItemID: itemID, Quantity: qty(5), UnitPrice: m("10.00")},
	)
	q, _ := f.stockBalance(itemID)
	require.True(t, q.Equal(qty(10)))

	// WHEN a credit note returns 7 units (crossing the first issue move
	// into the second)
	res, err := f.svc.CreateCreditNote(f.ctx, f.wc(), books.CreateCreditNoteInput{
		CustomerID: f.customerID,
		InvoiceID:  inv.ID,
		Date:       d("2025-03-15"),
		Lines: []books.CreditNoteLineInput{
			{ItemID: itemID, Quantity: qty(7), UnitPrice: m("10.00")},
		},
	})
	require.NoError(t, err)
	cn := decodeView[books.CreditNoteView](t, res)
	res, err = f.svc.PostCreditNote(f.ctx, f.wc(), cn.ID)
	require.NoError(t, err)
	cn = decodeView[books.CreditNoteView](t, res)

	// THEN 7 x 4.00 re-enters stock and COGS reverses exactly
	entry := f.entry(cn.JournalEntryID)
	invDr, _ := lineAmounts(entry, f.stockAcct)
	assert.Equal(t, m("28.00"), invDr)
	_, cogsCr := lineAmounts(entry, f.cogs)
	assert.Equal(t, m("28.00"), cogsCr)

	q, c := f.stockBalance(itemID)
	assert.True(t, q.Equal(qty(17)), "got quantity %s", q)
	assert.Equal(t, m("4.00"), c)

	// A second note may return the remaining 3 units, no more.
	res, err = f.svc.CreateCreditNote(f.ctx, f.wc(), books.CreateCreditNoteInput{
		CustomerID: f.customerID,
		InvoiceID:  inv.ID,
		Date:       d("2025-03-16"),
		Lines: []books.CreditNoteLineInput{
			{ItemID: itemID, Quantity: qty(4), UnitPrice: m("10.00")},
		},
	})
	require.NoError(t, err)
	over := decodeView[books.CreditNoteView](t, res)
	_, err = f.svc.PostCreditNote(f.ctx, f.wc(), over.ID)
	assert.True(t, ledger.IsCode(err, ledger.CodeOverReturn))

	res, err = f.svc.CreateCreditNote(f.ctx, f.wc(), books.CreateCreditNoteInput{
		CustomerID: f.customerID,
		InvoiceID:  inv.ID,
		Date:       d("2025-03-16"),
		Lines: []books.CreditNoteLineInput{
			{ItemID: itemID, Quantity: qty(3), UnitPrice: m("10.00")},
		},
	})
	require.NoError(t, err)
	rest := decodeView[books.CreditNoteView](t, res)
	_, err = f.svc.PostCreditNote(f.ctx, f.wc(), rest.ID)
	require.NoError(t, err)

	q, _ = f.stockBalance(itemID)
	assert.True(t, q.Equal(qty(20)), "got quantity %s", q)
}

// ===== REFUNDS =====

func TestRecordRefund_CapsAtRemainingCredit(t *testing.T) {
	f := newFixture(t)
	itemID := f.serviceItem("Consulting", m("100.00"))

	res, err := f.svc.CreateCreditNote(f.ctx, f.wc(), books.CreateCreditNoteInput{
		CustomerID: f.customerID,
		Date:       d("2025-03-12"),
		Lines: []books.CreditNoteLineInput{
			{ItemID: itemID, Quantity: qty(1), UnitPrice: m("80.00")},
		},
	})
	require.NoError(t, err)
	cn := decodeView[books.CreditNoteView](t, res)
	res, err = f.svc.PostCreditNote(f.ctx, f.wc(), cn.ID)
	require.NoError(t, err)
	cn = decodeView[books.CreditNoteView](t, res)

	_, err = f.svc.RecordRefund(f.ctx, f.wc(), cn.ID, books.RecordRefundInput{
		Amount: m("80.01"), BankAccountID: string(f.bank),
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeValidation))

	res, err = f.svc.RecordRefund(f.ctx, f.wc(), cn.ID, books.RecordRefundInput{
		Amount: m("50.00"), BankAccountID: string(f.bank), RefundDate: d("2025-03-13"),
	})
	require.NoError(t, err)
	refund := decodeView[books.RefundView](t, res)
	assert.Equal(t, "REF-00001", refund.Number)

	// Dr AR / Cr Bank.
	entry := f.entry(refund.JournalEntryID)
	arDr, _ := lineAmounts(entry, f.ar)
	assert.Equal(t, m("50.00"), arDr)
	_, bankCr := lineAmounts(entry, f.bank)
	assert.Equal(t, m("50.00"), bankCr)

	// A refunded note cannot be voided.
	_, err = f.svc.VoidCreditNote(f.ctx, f.wc(), cn.ID, books.VoidInvoiceInput{Reason: "late"})
	assert.True(t, ledger.IsCode(err, ledger.CodeState))

	// The cap follows the refunded amount down.
	_, err = f.svc.RecordRefund(f.ctx, f.wc(), cn.ID, books.RecordRefundInput{
		Amount: m("30.01"), BankAccountID: string(f.bank),
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeValidation))
}

// ===== INVOICE-SCOPED CREATION =====

func TestCreateInvoiceCreditNote_InheritsInvoiceDefaults(t *testing.T) {
	f := newFixture(t)
	itemID := f.serviceItem("Consulting", m("100.00"))
	inv := f.postedInvoice(d("2025-03-10"), books.InvoiceLineInput{
		ItemID: itemID, Quantity: qty(2), UnitPrice: m("100.00"),
	})

	// Customer, date and currency all come from the invoice.
	res, err := f.svc.CreateInvoiceCreditNote(f.ctx, f.wc(), inv.ID, books.InvoiceCreditNoteInput{
		Lines: []books.CreditNoteLineInput{
			{ItemID: itemID, Quantity: qty(1), UnitPrice: m("100.00")},
		},
	})
	require.NoError(t, err)
	cn := decodeView[books.CreditNoteView](t, res)
	assert.Equal(t, f.customerID, cn.CustomerID)
	assert.Equal(t, inv.ID, cn.InvoiceID)
	assert.Equal(t, d("2025-03-10"), cn.Date)

	_, err = f.svc.PostCreditNote(f.ctx, f.wc(), cn.ID)
	require.NoError(t, err)

	_, err = f.svc.CreateInvoiceCreditNote(f.ctx, f.wc(), "missing", books.InvoiceCreditNoteInput{
		Lines: []books.CreditNoteLineInput{
			{ItemID: itemID, Quantity: qty(1), UnitPrice: m("100.00")},
		},
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeNotFound))
}

// ===== ADJUST =====

func TestAdjustCreditNote_PostsNetDelta(t *testing.T) {
	f := newFixture(t)
	itemID := f.serviceItem("Consulting", m("100.00"))

	res, err := f.svc.CreateCreditNote(f.ctx, f.wc(), books.CreateCreditNoteInput{
		CustomerID: f.customerID,
		Date:       d("2025-03-12"),
		Lines: []books.CreditNoteLineInput{
			{ItemID: itemID, Quantity: qty(1), UnitPrice: m("80.00")},
		},
	})
	require.NoError(t, err)
	cn := decodeView[books.CreditNoteView](t, res)
	res, err = f.svc.PostCreditNote(f.ctx, f.wc(), cn.ID)
	require.NoError(t, err)
	cn = decodeView[books.CreditNoteView](t, res)

	// GIVEN a posted 80.00 note, WHEN it is adjusted up to 100.00
	res, err = f.svc.AdjustCreditNote(f.ctx, f.wc(), cn.ID, books.UpdateCreditNoteInput{
		Lines: []books.CreditNoteLineInput{
			{ItemID: itemID, Quantity: qty(1), UnitPrice: m("100.00")},
		},
	})
	require.NoError(t, err)
	cn = decodeView[books.CreditNoteView](t, res)
	assert.Equal(t, m("100.00"), cn.Total)
	require.NotEmpty(t, cn.LastAdjustmentJournalEntryID)
	firstAdj := cn.LastAdjustmentJournalEntryID

	// THEN the delta entry is Dr Income 20 / Cr AR 20
	adj := f.entry(firstAdj)
	incomeDr, _ := lineAmounts(adj, f.income)
	assert.Equal(t, m("20.00"), incomeDr)
	_, arCr := lineAmounts(adj, f.ar)
	assert.Equal(t, m("20.00"), arCr)

	// A second adjustment supersedes the first: its delta is still computed
	// against the original posting, never against the prior adjustment.
	res, err = f.svc.AdjustCreditNote(f.ctx, f.wc(), cn.ID, books.UpdateCreditNoteInput{
		Lines: []books.CreditNoteLineInput{
			{ItemID: itemID, Quantity: qty(1), UnitPrice: m("60.00")},
		},
	})
	require.NoError(t, err)
	cn = decodeView[books.CreditNoteView](t, res)
	assert.Equal(t, m("60.00"), cn.Total)
	require.NotEmpty(t, cn.LastAdjustmentJournalEntryID)
	assert.NotEqual(t, firstAdj, cn.LastAdjustmentJournalEntryID)

	adj = f.entry(cn.LastAdjustmentJournalEntryID)
	arDr, _ := lineAmounts(adj, f.ar)
	assert.Equal(t, m("20.00"), arDr)
	_, incomeCr := lineAmounts(adj, f.income)
	assert.Equal(t, m("20.00"), incomeCr)
}

func TestAdjustCreditNote_Blocked(t *testing.T) {
	f := newFixture(t)
	serviceID := f.serviceItem("Consulting", m("100.00"))

	res, err := f.svc.CreateCreditNote(f.ctx, f.wc(), books.CreateCreditNoteInput{
		CustomerID: f.customerID,
		Date:       d("2025-03-12"),
		Lines: []books.CreditNoteLineInput{
			{ItemID: serviceID, Quantity: qty(1), UnitPrice: m("80.00")},
		},
	})
	require.NoError(t, err)
	cn := decodeView[books.CreditNoteView](t, res)

	// Drafts cannot be adjusted, only posted notes.
	_, err = f.svc.AdjustCreditNote(f.ctx, f.wc(), cn.ID, books.UpdateCreditNoteInput{
		Lines: []books.CreditNoteLineInput{
			{ItemID: serviceID, Quantity: qty(1), UnitPrice: m("90.00")},
		},
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeState))

	_, err = f.svc.PostCreditNote(f.ctx, f.wc(), cn.ID)
	require.NoError(t, err)
	_, err = f.svc.RecordRefund(f.ctx, f.wc(), cn.ID, books.RecordRefundInput{
		Amount: m("10.00"), BankAccountID: string(f.bank), RefundDate: d("2025-03-13"),
	})
	require.NoError(t, err)

	// A refunded note is settled money; edit by reversal only.
	_, err = f.svc.AdjustCreditNote(f.ctx, f.wc(), cn.ID, books.UpdateCreditNoteInput{
		Lines: []books.CreditNoteLineInput{
			{ItemID: serviceID, Quantity: qty(1), UnitPrice: m("90.00")},
		},
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeState))

	// Tracked returns moved stock, so the note must be voided and reissued.
	trackedID := f.trackedItem("Widget", m("10.00"))
	f.receiveStock(trackedID, qty(10), m("4.00"), d("2025-03-01"))
	inv := f.postedInvoice(d("2025-03-10"), books.InvoiceLineInput{
		ItemID: trackedID, Quantity: qty(5), UnitPrice: m("10.00"),
	})
	res, err = f.svc.CreateCreditNote(f.ctx, f.wc(), books.CreateCreditNoteInput{
		CustomerID: f.customerID,
		InvoiceID:  inv.ID,
		Date:       d("2025-03-12"),
		Lines: []books.CreditNoteLineInput{
			{ItemID: trackedID, Quantity: qty(2), UnitPrice: m("10.00")},
		},
	})
	require.NoError(t, err)
	tracked := decodeView[books.CreditNoteView](t, res)
	_, err = f.svc.PostCreditNote(f.ctx, f.wc(), tracked.ID)
	require.NoError(t, err)

	_, err = f.svc.AdjustCreditNote(f.ctx, f.wc(), tracked.ID, books.UpdateCreditNoteInput{
		Lines: []books.CreditNoteLineInput{
			{ItemID: trackedID, Quantity: qty(1), UnitPrice: m("10.00")},
		},
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeCannotAdjust))
}

// ===== VOID =====

func TestVoidCreditNote_ReissuesReturnedStock(t *testing.T) {
	f := newFixture(t)
	itemID := f.trackedItem("Widget", m("10.00"))
	f.receiveStock(itemID, qty(10), m("4.00"), d("2025-03-01"))
	inv := f.postedInvoice(d("2025-03-10"), books.InvoiceLineInput{
		ItemID: itemID, Quantity: qty(5), UnitPrice: m("10.00"),
	})

	res, err := f.svc.CreateCreditNote(f.ctx, f.wc(), books.CreateCreditNoteInput{
		CustomerID: f.customerID,
		InvoiceID:  inv.ID,
		Date:       d("2025-03-12"),
		Lines: []books.CreditNoteLineInput{
			{ItemID: itemID, Quantity: qty(2), UnitPrice: m("10.00")},
		},
	})
	require.NoError(t, err)
	cn := decodeView[books.CreditNoteView](t, res)
	_, err = f.svc.PostCreditNote(f.ctx, f.wc(), cn.ID)
	require.NoError(t, err)
	q, _ := f.stockBalance(itemID)
	require.True(t, q.Equal(qty(7)))

	res, err = f.svc.VoidCreditNote(f.ctx, f.wc(), cn.ID, books.VoidInvoiceInput{Reason: "entered twice"})
	require.NoError(t, err)
	voided := decodeView[books.CreditNoteView](t, res)
	assert.Equal(t, books.StatusVoid, voided.Status)

	q, _ = f.stockBalance(itemID)
	assert.True(t, q.Equal(qty(5)), "got quantity %s", q)

	original := f.entry(cn.JournalEntryID)
	assert.True(t, original.IsVoided())
}
