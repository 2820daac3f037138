/*
views.go - Wire representations of the domain model

PURPOSE:
  Commands cache their serialized response for idempotent replay, so the
  service builds the wire shape itself and the API layer writes it
  verbatim. One view type per aggregate, converted in one place.
*/
package books

import (
	"time"

	"github.com/cashflowhq/cashflow-api/money"
)

// =============================================================================
// VIEWS
// =============================================================================

type InvoiceView struct {
	ID          string            `json:"id"`
	Number      string            `json:"number"`
	CustomerID  string            `json:"customerId"`
	Status      DocStatus         `json:"status"`
	InvoiceDate money.Date        `json:"invoiceDate"`
	DueDate     money.Date        `json:"dueDate,omitempty"`
	Currency    string            `json:"currency,omitempty"`
	LocationID  string            `json:"locationId,omitempty"`
	Subtotal    money.Money       `json:"subtotal"`
	TaxAmount   money.Money       `json:"taxAmount"`
	Total       money.Money       `json:"total"`
	AmountPaid  money.Money       `json:"amountPaid"`
	JournalEntryID               string `json:"journalEntryId,omitempty"`
	LastAdjustmentJournalEntryID string `json:"lastAdjustmentJournalEntryId,omitempty"`
	VoidJournalEntryID           string `json:"voidJournalEntryId,omitempty"`
	PublicLinkToken              string `json:"publicLinkToken,omitempty"`
	Lines       []InvoiceLineView `json:"lines"`
}

type InvoiceLineView struct {
	ID              string      `json:"id"`
	ItemID          string      `json:"itemId"`
	Description     string      `json:"description,omitempty"`
	Quantity        string      `json:"quantity"`
	UnitPrice       money.Money `json:"unitPrice"`
	DiscountAmount  money.Money `json:"discountAmount"`
	TaxRate         money.Rate  `json:"taxRate"`
	TaxAmount       money.Money `json:"taxAmount"`
	IncomeAccountID string      `json:"incomeAccountId,omitempty"`
}

func invoiceView(inv *Invoice) *InvoiceView {
	v := &InvoiceView{
		ID:          inv.ID,
		Number:      inv.Number,
		CustomerID:  inv.CustomerID,
		Status:      inv.Status,
		InvoiceDate: inv.InvoiceDate,
		DueDate:     inv.DueDate,
		Currency:    inv.Currency,
		LocationID:  string(inv.LocationID),
		Subtotal:    inv.Subtotal,
		TaxAmount:   inv.TaxAmount,
		Total:       inv.Total,
		AmountPaid:  inv.AmountPaid,
		JournalEntryID:               string(inv.JournalEntryID),
		LastAdjustmentJournalEntryID: string(inv.LastAdjustmentJournalEntryID),
		VoidJournalEntryID:           string(inv.VoidJournalEntryID),
		PublicLinkToken:              inv.PublicLinkToken,
		Lines:       []InvoiceLineView{},
	}
	for _, l := range inv.Lines {
		v.Lines = append(v.Lines, InvoiceLineView{
			ID:              l.ID,
			ItemID:          string(l.ItemID),
			Description:     l.Description,
			Quantity:        l.Quantity.String(),
			UnitPrice:       l.UnitPrice,
			DiscountAmount:  l.DiscountAmount,
			TaxRate:         l.TaxRate,
			TaxAmount:       l.TaxAmount,
			IncomeAccountID: string(l.IncomeAccountID),
		})
	}
	return v
}

type CreditNoteView struct {
	ID             string      `json:"id"`
	Number         string      `json:"number"`
	CustomerID     string      `json:"customerId"`
	InvoiceID      string      `json:"invoiceId,omitempty"`
	Status         DocStatus   `json:"status"`
	Date           money.Date  `json:"date"`
	Subtotal       money.Money `json:"subtotal"`
	TaxAmount      money.Money `json:"taxAmount"`
	Total          money.Money `json:"total"`
	AmountRefunded money.Money `json:"amountRefunded"`
	JournalEntryID string      `json:"journalEntryId,omitempty"`
	LastAdjustmentJournalEntryID string `json:"lastAdjustmentJournalEntryId,omitempty"`
}

func creditNoteView(cn *CreditNote) *CreditNoteView {
	return &CreditNoteView{
		ID:             cn.ID,
		Number:         cn.Number,
		CustomerID:     cn.CustomerID,
		InvoiceID:      cn.InvoiceID,
		Status:         cn.Status,
		Date:           cn.Date,
		Subtotal:       cn.Subtotal,
		TaxAmount:      cn.TaxAmount,
		Total:          cn.Total,
		AmountRefunded: cn.AmountRefunded,
		JournalEntryID: string(cn.JournalEntryID),
		LastAdjustmentJournalEntryID: string(cn.LastAdjustmentJournalEntryID),
	}
}

type ExpenseView struct {
	ID             string      `json:"id"`
	Number         string      `json:"number"`
	VendorID       string      `json:"vendorId"`
	Status         DocStatus   `json:"status"`
	ExpenseDate    money.Date  `json:"expenseDate"`
	Subtotal       money.Money `json:"subtotal"`
	TaxAmount      money.Money `json:"taxAmount"`
	Total          money.Money `json:"total"`
	AmountPaid     money.Money `json:"amountPaid"`
	JournalEntryID string      `json:"journalEntryId,omitempty"`
}

func expenseView(e *Expense) *ExpenseView {
	return &ExpenseView{
		ID:             e.ID,
		Number:         e.Number,
		VendorID:       e.VendorID,
		Status:         e.Status,
		ExpenseDate:    e.ExpenseDate,
		Subtotal:       e.Subtotal,
		TaxAmount:      e.TaxAmount,
		Total:          e.Total,
		AmountPaid:     e.AmountPaid,
		JournalEntryID: string(e.JournalEntryID),
	}
}

type PurchaseBillView struct {
	ID             string      `json:"id"`
	Number         string      `json:"number"`
	VendorID       string      `json:"vendorId"`
	Status         DocStatus   `json:"status"`
	BillDate       money.Date  `json:"billDate"`
	Subtotal       money.Money `json:"subtotal"`
	TaxAmount      money.Money `json:"taxAmount"`
	Total          money.Money `json:"total"`
	AmountPaid     money.Money `json:"amountPaid"`
	JournalEntryID string      `json:"journalEntryId,omitempty"`
}

func purchaseBillView(b *PurchaseBill) *PurchaseBillView {
	return &PurchaseBillView{
		ID:             b.ID,
		Number:         b.Number,
		VendorID:       b.VendorID,
		Status:         b.Status,
		BillDate:       b.BillDate,
		Subtotal:       b.Subtotal,
		TaxAmount:      b.TaxAmount,
		Total:          b.Total,
		AmountPaid:     b.AmountPaid,
		JournalEntryID: string(b.JournalEntryID),
	}
}

type PaymentView struct {
	ID             string      `json:"id"`
	Number         string      `json:"number"`
	DocKind        DocKind     `json:"docKind"`
	DocumentID     string      `json:"documentId"`
	Amount         money.Money `json:"amount"`
	BankAccountID  string      `json:"bankAccountId"`
	PaymentDate    money.Date  `json:"paymentDate"`
	PaymentMode    string      `json:"paymentMode,omitempty"`
	AttachmentURI  string      `json:"attachmentUri,omitempty"`
	JournalEntryID string      `json:"journalEntryId"`
	ReversedAt     *time.Time  `json:"reversedAt,omitempty"`
	ReversalJournalEntryID string `json:"reversalJournalEntryId,omitempty"`
	DocumentStatus DocStatus   `json:"documentStatus"`
}

func paymentView(p *Payment, docStatus DocStatus) *PaymentView {
	return &PaymentView{
		ID:             p.ID,
		Number:         p.Number,
		DocKind:        p.DocKind,
		DocumentID:     p.DocumentID,
		Amount:         p.Amount,
		BankAccountID:  string(p.BankAccountID),
		PaymentDate:    p.PaymentDate,
		PaymentMode:    p.PaymentMode,
		AttachmentURI:  p.AttachmentURI,
		JournalEntryID: string(p.JournalEntryID),
		ReversedAt:     p.ReversedAt,
		ReversalJournalEntryID: string(p.ReversalJournalEntryID),
		DocumentStatus: docStatus,
	}
}

type RefundView struct {
	ID             string      `json:"id"`
	Number         string      `json:"number"`
	CreditNoteID   string      `json:"creditNoteId"`
	Amount         money.Money `json:"amount"`
	BankAccountID  string      `json:"bankAccountId"`
	RefundDate     money.Date  `json:"refundDate"`
	JournalEntryID string      `json:"journalEntryId"`
}

func refundView(r *Refund) *RefundView {
	return &RefundView{
		ID:             r.ID,
		Number:         r.Number,
		CreditNoteID:   r.CreditNoteID,
		Amount:         r.Amount,
		BankAccountID:  string(r.BankAccountID),
		RefundDate:     r.RefundDate,
		JournalEntryID: string(r.JournalEntryID),
	}
}

type CustomerView struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Email          string      `json:"email,omitempty"`
	OpeningBalance money.Money `json:"openingBalance"`
}

func customerView(c *Customer) *CustomerView {
	return &CustomerView{ID: c.ID, Name: c.Name, Email: c.Email, OpeningBalance: c.OpeningBalance}
}

type VendorView struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Email          string      `json:"email,omitempty"`
	OpeningBalance money.Money `json:"openingBalance"`
}

func vendorView(v *Vendor) *VendorView {
	return &VendorView{ID: v.ID, Name: v.Name, Email: v.Email, OpeningBalance: v.OpeningBalance}
}

type ItemView struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Kind            ItemKind    `json:"kind"`
	TrackInventory  bool        `json:"trackInventory"`
	SalesPrice      money.Money `json:"salesPrice"`
	PurchaseCost    money.Money `json:"purchaseCost"`
	IncomeAccountID string      `json:"incomeAccountId,omitempty"`
}

func itemView(it *Item) *ItemView {
	return &ItemView{
		ID:              it.ID,
		Name:            it.Name,
		Kind:            it.Kind,
		TrackInventory:  it.TrackInventory,
		SalesPrice:      it.SalesPrice,
		PurchaseCost:    it.PurchaseCost,
		IncomeAccountID: string(it.IncomeAccountID),
	}
}
