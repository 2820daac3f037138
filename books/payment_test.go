package books_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashflowhq/cashflow-api/books"
	"github.com/cashflowhq/cashflow-api/ledger"
)

// ===== RECORDING =====

func TestRecordInvoicePayment_PartialThenFull(t *testing.T) {
	f := newFixture(t)
	itemID := f.serviceItem("Consulting", m("40.00"))
	inv := f.postedInvoice(d("2025-03-10"), books.InvoiceLineInput{
		ItemID: itemID, Quantity: qty(1), UnitPrice: m("40.00"),
	})

	// A partial receipt moves the invoice to PARTIAL.
	res, err := f.svc.RecordInvoicePayment(f.ctx, f.wc(), inv.ID, books.RecordPaymentInput{
		Amount: m("15.00"), BankAccountID: string(f.bank), PaymentDate: d("2025-03-11"),
	})
	require.NoError(t, err)
	assert.Equal(t, 201, res.StatusCode)
	p := decodeView[books.PaymentView](t, res)
	assert.Equal(t, "PAY-00001", p.Number)
	assert.Equal(t, books.StatusPartial, p.DocumentStatus)

	// Dr Bank / Cr AR.
	entry := f.entry(p.JournalEntryID)
	bankDr, _ := lineAmounts(entry, f.bank)
	assert.Equal(t, m("15.00"), bankDr)
	_, arCr := lineAmounts(entry, f.ar)
	assert.Equal(t, m("15.00"), arCr)

	// A receipt above the remaining 25.00 is rejected.
	_, err = f.svc.RecordInvoicePayment(f.ctx, f.wc(), inv.ID, books.RecordPaymentInput{
		Amount: m("25.01"), BankAccountID: string(f.bank),
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeValidation))

	// Settling the remainder moves the invoice to PAID.
	res, err = f.svc.RecordInvoicePayment(f.ctx, f.wc(), inv.ID, books.RecordPaymentInput{
		Amount: m("25.00"), BankAccountID: string(f.bank), PaymentDate: d("2025-03-12"),
	})
	require.NoError(t, err)
	p = decodeView[books.PaymentView](t, res)
	assert.Equal(t, books.StatusPaid, p.DocumentStatus)

	// PAID documents accept no further payments.
	_, err = f.svc.RecordInvoicePayment(f.ctx, f.wc(), inv.ID, books.RecordPaymentInput{
		Amount: m("1.00"), BankAccountID: string(f.bank),
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeState))
}

func TestRecordInvoicePayment_BankAccountChecks(t *testing.T) {
	f := newFixture(t)
	itemID := f.serviceItem("Consulting", m("40.00"))
	inv := f.postedInvoice(d("2025-03-10"), books.InvoiceLineInput{
		ItemID: itemID, Quantity: qty(1), UnitPrice: m("40.00"),
	})

	// An asset account with no banking registration is a config problem.
	_, err := f.svc.RecordInvoicePayment(f.ctx, f.wc(), inv.ID, books.RecordPaymentInput{
		Amount: m("10.00"), BankAccountID: string(f.ar),
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeConfiguration))

	// A non-asset account cannot receive money at all.
	_, err = f.svc.RecordInvoicePayment(f.ctx, f.wc(), inv.ID, books.RecordPaymentInput{
		Amount: m("10.00"), BankAccountID: string(f.income),
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeConfiguration))

	// The declared mode must match the banking account kind.
	_, err = f.svc.RecordInvoicePayment(f.ctx, f.wc(), inv.ID, books.RecordPaymentInput{
		Amount: m("10.00"), BankAccountID: string(f.bank), PaymentMode: "CASH",
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeValidation))
}

// ===== REVERSAL =====

func TestReversePayment_RestoresParentStatus(t *testing.T) {
	f := newFixture(t)
	itemID := f.serviceItem("Consulting", m("40.00"))
	inv := f.postedInvoice(d("2025-03-10"), books.InvoiceLineInput{
		ItemID: itemID, Quantity: qty(1), UnitPrice: m("40.00"),
	})

	res, err := f.svc.RecordInvoicePayment(f.ctx, f.wc(), inv.ID, books.RecordPaymentInput{
		Amount: m("40.00"), BankAccountID: string(f.bank), PaymentDate: d("2025-03-11"),
	})
	require.NoError(t, err)
	p := decodeView[books.PaymentView](t, res)
	assert.Equal(t, books.StatusPaid, p.DocumentStatus)

	res, err = f.svc.ReversePayment(f.ctx, f.wc(), p.ID)
	require.NoError(t, err)
	reversed := decodeView[books.PaymentView](t, res)
	assert.Equal(t, books.StatusPosted, reversed.DocumentStatus)
	assert.NotNil(t, reversed.ReversedAt)
	assert.NotEmpty(t, reversed.ReversalJournalEntryID)

	// The reversal entry swaps the original sides: Dr AR / Cr Bank.
	reversal := f.entry(reversed.ReversalJournalEntryID)
	arDr, _ := lineAmounts(reversal, f.ar)
	assert.Equal(t, m("40.00"), arDr)
	_, bankCr := lineAmounts(reversal, f.bank)
	assert.Equal(t, m("40.00"), bankCr)

	view, err := f.svc.GetInvoice(f.ctx, f.tenant, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, m("0.00"), view.AmountPaid)

	// The full amount is payable again after the reversal.
	_, err = f.svc.RecordInvoicePayment(f.ctx, f.wc(), inv.ID, books.RecordPaymentInput{
		Amount: m("40.00"), BankAccountID: string(f.bank),
	})
	require.NoError(t, err)

	_, err = f.svc.ReversePayment(f.ctx, f.wc(), p.ID)
	assert.True(t, ledger.IsCode(err, ledger.CodeAlreadyReversed))
}

// ===== READS =====

func TestListPayments_SplitByDocumentFamily(t *testing.T) {
	f := newFixture(t)
	itemID := f.serviceItem("Consulting", m("40.00"))
	inv := f.postedInvoice(d("2025-03-10"), books.InvoiceLineInput{
		ItemID: itemID, Quantity: qty(1), UnitPrice: m("40.00"),
	})
	_, err := f.svc.RecordInvoicePayment(f.ctx, f.wc(), inv.ID, books.RecordPaymentInput{
		Amount: m("40.00"), BankAccountID: string(f.bank),
	})
	require.NoError(t, err)

	res, err := f.svc.CreateExpense(f.ctx, f.wc(), books.CreateExpenseInput{
		VendorID:    f.vendorID,
		ExpenseDate: d("2025-03-10"),
		Lines: []books.ExpenseLineInput{
			{Description: "Office rent", Amount: m("120.00"), ExpenseAccountID: string(f.rent)},
		},
	})
	require.NoError(t, err)
	exp := decodeView[books.ExpenseView](t, res)
	_, err = f.svc.PostExpense(f.ctx, f.wc(), exp.ID, books.PostExpenseInput{})
	require.NoError(t, err)
	_, err = f.svc.RecordExpensePayment(f.ctx, f.wc(), exp.ID, books.RecordPaymentInput{
		Amount: m("120.00"), BankAccountID: string(f.bank),
	})
	require.NoError(t, err)

	sales, err := f.svc.ListSalesPayments(f.ctx, f.tenant)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, books.KindInvoice, sales[0].DocKind)
	assert.Equal(t, books.StatusPaid, sales[0].DocumentStatus)

	purchases, err := f.svc.ListPurchasePayments(f.ctx, f.tenant)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, books.KindExpense, purchases[0].DocKind)
	assert.Equal(t, m("120.00"), purchases[0].Amount)
}
