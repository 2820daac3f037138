/*
payment.go - Payment recording and reversal for invoices, expenses and
purchase bills

PURPOSE:
  One Payment model serves all three document families; DocKind selects
  the parent and the journal shape. Receipts post Dr Bank / Cr AR,
  disbursements Dr AP / Cr Bank. A reversal never deletes: it posts the
  swapped entry, stamps the payment row and recomputes the parent status
  from the non-reversed payments.

OVER-PAYMENT:
  remaining = total - sum(non-reversed payments); an amount above the
  remaining balance is rejected before anything is written.
*/
package books

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/cashflowhq/cashflow-api/idempotency"
	"github.com/cashflowhq/cashflow-api/ledger"
	"github.com/cashflowhq/cashflow-api/locks"
	"github.com/cashflowhq/cashflow-api/money"
	"github.com/cashflowhq/cashflow-api/outbox"
)

// =============================================================================
// INPUTS
// =============================================================================

type RecordPaymentInput struct {
	Amount         money.Money `json:"amount"`
	BankAccountID  string      `json:"bankAccountId" validate:"required"`
	PaymentDate    money.Date  `json:"paymentDate"`
	PaymentMode    string      `json:"paymentMode"`
	PendingProofID string      `json:"pendingProofId"`
	AttachmentURI  string      `json:"attachmentUri"`
}

// =============================================================================
// RECORDING
// =============================================================================

// RecordInvoicePayment records a customer receipt against a POSTED or
// PARTIAL invoice: Dr Bank / Cr AR.
func (s *Service) RecordInvoicePayment(ctx context.Context, wc WriteContext, invoiceID string, in RecordPaymentInput) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("invoice:payment", string(wc.TenantID), invoiceID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, emit *eventBuffer) (int, any, error) {
		inv, err := s.invoiceForUpdate(ctx, tx, wc.TenantID, invoiceID)
		if err != nil {
			return 0, nil, err
		}
		if inv.Status != StatusPosted && inv.Status != StatusPartial {
			return 0, nil, ledger.Statef("payments require a POSTED or PARTIAL invoice, invoice %s is %s", inv.Number, inv.Status)
		}
		company, err := requireCompany(ctx, tx, wc.TenantID)
		if err != nil {
			return 0, nil, err
		}
		arAccount, err := requireConfiguredAccount(ctx, tx, wc.TenantID, company.AccountsReceivableAccountID, "accounts receivable", ledger.AccountAsset)
		if err != nil {
			return 0, nil, err
		}
		bankAccountID, err := s.checkBankAccount(ctx, tx, wc.TenantID, in.BankAccountID, in.PaymentMode)
		if err != nil {
			return 0, nil, err
		}

		payments, err := tx.PaymentsForDocument(ctx, wc.TenantID, KindInvoice, inv.ID)
		if err != nil {
			return 0, nil, err
		}
		p, err := s.insertPayment(ctx, tx, wc, paymentSpec{
			kind:       KindInvoice,
			documentID: inv.ID,
			docNumber:  inv.Number,
			total:      inv.Total,
			paid:       nonReversedTotal(payments),
			in:         in,
			lines: func(amount money.Money) []ledger.Line {
				return []ledger.Line{ledger.Debit(bankAccountID, amount), ledger.Credit(arAccount.ID, amount)}
			},
		})
		if err != nil {
			return 0, nil, err
		}

		// Attach an uploaded proof without deleting it.
		if in.PendingProofID != "" {
			attached := false
			for i := range inv.PendingPaymentProofs {
				proof := &inv.PendingPaymentProofs[i]
				if proof.ID == in.PendingProofID && !proof.Used {
					p.AttachmentURI = proof.StorageURI
					proof.Used = true
					attached = true
					break
				}
			}
			if !attached {
				return 0, nil, ledger.NotFoundf("pending payment proof %s not found on invoice %s", in.PendingProofID, inv.Number)
			}
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return 0, nil, err
			}
		}

		inv.AmountPaid = inv.AmountPaid.Add(p.Amount)
		inv.Status = statusForPaid(inv.Total, inv.AmountPaid)
		inv.UpdatedAt = wc.Now
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return 0, nil, err
		}

		if err := s.finishPayment(ctx, tx, emit, wc, p, "invoice.payment.record", outbox.EventPaymentRecorded); err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, paymentView(p, inv.Status), nil
	})
}

// RecordExpensePayment records a disbursement against a POSTED or PARTIAL
// expense: Dr AP / Cr Bank.
func (s *Service) RecordExpensePayment(ctx context.Context, wc WriteContext, expenseID string, in RecordPaymentInput) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("expense:payment", string(wc.TenantID), expenseID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, emit *eventBuffer) (int, any, error) {
		e, err := s.expenseForUpdate(ctx, tx, wc.TenantID, expenseID)
		if err != nil {
			return 0, nil, err
		}
		if e.Status != StatusPosted && e.Status != StatusPartial {
			return 0, nil, ledger.Statef("payments require a POSTED or PARTIAL expense, expense %s is %s", e.Number, e.Status)
		}
		company, err := requireCompany(ctx, tx, wc.TenantID)
		if err != nil {
			return 0, nil, err
		}
		apAccount, err := requireConfiguredAccount(ctx, tx, wc.TenantID, company.AccountsPayableAccountID, "accounts payable", ledger.AccountLiability)
		if err != nil {
			return 0, nil, err
		}
		bankAccountID, err := s.checkBankAccount(ctx, tx, wc.TenantID, in.BankAccountID, in.PaymentMode)
		if err != nil {
			return 0, nil, err
		}

		payments, err := tx.PaymentsForDocument(ctx, wc.TenantID, KindExpense, e.ID)
		if err != nil {
			return 0, nil, err
		}
		p, err := s.insertPayment(ctx, tx, wc, paymentSpec{
			kind:       KindExpense,
			documentID: e.ID,
			docNumber:  e.Number,
			total:      e.Total,
			paid:       nonReversedTotal(payments),
			in:         in,
			lines: func(amount money.Money) []ledger.Line {
				return []ledger.Line{ledger.Debit(apAccount.ID, amount), ledger.Credit(bankAccountID, amount)}
			},
		})
		if err != nil {
			return 0, nil, err
		}

		e.AmountPaid = e.AmountPaid.Add(p.Amount)
		e.Status = statusForPaid(e.Total, e.AmountPaid)
		e.UpdatedAt = wc.Now
		if err := tx.UpdateExpense(ctx, e); err != nil {
			return 0, nil, err
		}

		if err := s.finishPayment(ctx, tx, emit, wc, p, "expense.payment.record", outbox.EventPaymentRecorded); err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, paymentView(p, e.Status), nil
	})
}

// RecordBillPayment records a disbursement against a POSTED or PARTIAL
// purchase bill: Dr AP / Cr Bank.
func (s *Service) RecordBillPayment(ctx context.Context, wc WriteContext, billID string, in RecordPaymentInput) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("bill:payment", string(wc.TenantID), billID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, emit *eventBuffer) (int, any, error) {
		b, err := s.billForUpdate(ctx, tx, wc.TenantID, billID)
		if err != nil {
			return 0, nil, err
		}
		if b.Status != StatusPosted && b.Status != StatusPartial {
			return 0, nil, ledger.Statef("payments require a POSTED or PARTIAL purchase bill, bill %s is %s", b.Number, b.Status)
		}
		company, err := requireCompany(ctx, tx, wc.TenantID)
		if err != nil {
			return 0, nil, err
		}
		apAccount, err := requireConfiguredAccount(ctx, tx, wc.TenantID, company.AccountsPayableAccountID, "accounts payable", ledger.AccountLiability)
		if err != nil {
			return 0, nil, err
		}
		bankAccountID, err := s.checkBankAccount(ctx, tx, wc.TenantID, in.BankAccountID, in.PaymentMode)
		if err != nil {
			return 0, nil, err
		}

		payments, err := tx.PaymentsForDocument(ctx, wc.TenantID, KindPurchaseBill, b.ID)
		if err != nil {
			return 0, nil, err
		}
		p, err := s.insertPayment(ctx, tx, wc, paymentSpec{
			kind:       KindPurchaseBill,
			documentID: b.ID,
			docNumber:  b.Number,
			total:      b.Total,
			paid:       nonReversedTotal(payments),
			in:         in,
			lines: func(amount money.Money) []ledger.Line {
				return []ledger.Line{ledger.Debit(apAccount.ID, amount), ledger.Credit(bankAccountID, amount)}
			},
		})
		if err != nil {
			return 0, nil, err
		}

		b.AmountPaid = b.AmountPaid.Add(p.Amount)
		b.Status = statusForPaid(b.Total, b.AmountPaid)
		b.UpdatedAt = wc.Now
		if err := tx.UpdatePurchaseBill(ctx, b); err != nil {
			return 0, nil, err
		}

		if err := s.finishPayment(ctx, tx, emit, wc, p, "bill.payment.record", outbox.EventBillPaymentRecorded); err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, paymentView(p, b.Status), nil
	})
}

// =============================================================================
// REVERSAL
// =============================================================================

// ReversePayment posts the swapped entry for a recorded payment, stamps
// the payment and recomputes the parent document status.
func (s *Service) ReversePayment(ctx context.Context, wc WriteContext, paymentID string) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("payment:reverse", string(wc.TenantID), paymentID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, emit *eventBuffer) (int, any, error) {
		p, err := tx.GetPaymentForUpdate(ctx, wc.TenantID, paymentID)
		if err != nil {
			return 0, nil, err
		}
		if p == nil {
			return 0, nil, ledger.NotFoundf("payment %s not found", paymentID)
		}
		if p.IsReversed() {
			return 0, nil, ledger.Conflictf(ledger.CodeAlreadyReversed, "payment %s is already reversed", p.Number)
		}

		original, err := tx.GetJournalEntry(ctx, wc.TenantID, p.JournalEntryID)
		if err != nil {
			return 0, nil, err
		}
		if original == nil {
			return 0, nil, ledger.NotFoundf("payment journal entry %s not found", p.JournalEntryID)
		}
		reversal, err := s.Poster.Post(ctx, tx, ledger.PostInput{
			TenantID:                 wc.TenantID,
			Date:                     p.PaymentDate,
			Description:              fmt.Sprintf("Reversal of payment %s", p.Number),
			Lines:                    ledger.ReverseLines(original.Lines),
			CreatedByUserID:          wc.UserID,
			ReversalOfJournalEntryID: original.ID,
			ReversalReason:           "payment reversed",
			SkipAccountValidation:    true,
		})
		if err != nil {
			return 0, nil, err
		}

		now := wc.Now
		p.ReversedAt = &now
		p.ReversalJournalEntryID = reversal.ID
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return 0, nil, err
		}

		docStatus, err := s.recomputeParentStatus(ctx, tx, wc, p)
		if err != nil {
			return 0, nil, err
		}

		if err := s.audit(ctx, tx, wc, "payment.reverse", "Payment", p.ID, map[string]any{
			"number": p.Number, "reversalJournalEntryId": string(reversal.ID),
		}); err != nil {
			return 0, nil, err
		}
		if err := s.emit(ctx, tx, emit, wc, outbox.EventJournalEntryCreated, "JournalEntry", string(reversal.ID), journalEntryPayload(reversal)); err != nil {
			return 0, nil, err
		}
		if err := s.emit(ctx, tx, emit, wc, outbox.EventJournalEntryReversed, "JournalEntry", string(original.ID), map[string]any{
			"journalEntryId": string(original.ID), "reversalJournalEntryId": string(reversal.ID),
		}); err != nil {
			return 0, nil, err
		}
		if err := s.emit(ctx, tx, emit, wc, outbox.EventPaymentReversed, "Payment", p.ID, map[string]any{
			"paymentId": p.ID, "documentId": p.DocumentID, "docKind": string(p.DocKind), "amount": p.Amount.String(),
		}); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, paymentView(p, docStatus), nil
	})
}

// =============================================================================
// READS
// =============================================================================

// ListSalesPayments returns invoice payments for the tenant.
func (s *Service) ListSalesPayments(ctx context.Context, tenantID ledger.TenantID) ([]*PaymentView, error) {
	return s.listPayments(ctx, tenantID, []DocKind{KindInvoice})
}

// ListPurchasePayments returns expense and purchase-bill payments.
func (s *Service) ListPurchasePayments(ctx context.Context, tenantID ledger.TenantID) ([]*PaymentView, error) {
	return s.listPayments(ctx, tenantID, []DocKind{KindExpense, KindPurchaseBill})
}

func (s *Service) listPayments(ctx context.Context, tenantID ledger.TenantID, kinds []DocKind) ([]*PaymentView, error) {
	views := []*PaymentView{}
	err := s.Store.Read(ctx, func(tx Tx) error {
		payments, err := tx.ListPayments(ctx, tenantID, kinds)
		if err != nil {
			return err
		}
		for _, p := range payments {
			status, err := s.parentStatus(ctx, tx, tenantID, p)
			if err != nil {
				return err
			}
			views = append(views, paymentView(p, status))
		}
		return nil
	})
	return views, err
}

// =============================================================================
// HELPERS
// =============================================================================

// checkBankAccount validates the receiving/sending account: must be an
// ASSET account registered as a banking account whose kind is not
// CREDIT_CARD, and whose kind matches the supplied payment mode.
func (s *Service) checkBankAccount(ctx context.Context, tx Tx, tenantID ledger.TenantID, bankAccountID, paymentMode string) (ledger.AccountID, error) {
	id := ledger.AccountID(bankAccountID)
	acct, err := tx.GetAccount(ctx, tenantID, id)
	if err != nil {
		return "", err
	}
	if acct == nil {
		return "", ledger.NotFoundf("bank account %s not found", bankAccountID)
	}
	if acct.Type != ledger.AccountAsset {
		return "", ledger.Configf("bank account %s (%s) must be ASSET, got %s", acct.Code, acct.Name, acct.Type)
	}
	banking, err := tx.GetBankingAccount(ctx, tenantID, id)
	if err != nil {
		return "", err
	}
	if banking == nil {
		return "", ledger.Configf("account %s (%s) is not registered as a banking account", acct.Code, acct.Name)
	}
	if banking.Kind == BankingCreditCard {
		return "", ledger.Validationf("credit card accounts cannot receive or send direct payments")
	}
	if paymentMode != "" && paymentMode != string(banking.Kind) {
		return "", ledger.Validationf("payment mode %s does not match banking account kind %s", paymentMode, banking.Kind)
	}
	return id, nil
}

// paymentSpec is what insertPayment needs to know about the parent.
type paymentSpec struct {
	kind       DocKind
	documentID string
	docNumber  string
	total      money.Money
	paid       money.Money
	in         RecordPaymentInput
	lines      func(amount money.Money) []ledger.Line
}

// insertPayment enforces the remaining-balance cap, posts the entry and
// inserts the payment row.
func (s *Service) insertPayment(ctx context.Context, tx Tx, wc WriteContext, spec paymentSpec) (*Payment, error) {
	if !spec.in.Amount.IsPositive() {
		return nil, ledger.Validationf("payment amount must be positive")
	}
	remaining := spec.total.Sub(spec.paid)
	if spec.in.Amount.GreaterThan(remaining) {
		return nil, ledger.Validationf("amount cannot exceed remaining balance of %s", remaining)
	}
	date := spec.in.PaymentDate
	if date.IsZero() {
		date = money.DateOf(wc.Now)
	}
	if err := s.Periods.CheckOpen(ctx, wc.TenantID, date, "payment.record"); err != nil {
		return nil, err
	}

	number, err := ledger.NextNumber(ctx, tx, wc.TenantID, ledger.DocPayment)
	if err != nil {
		return nil, err
	}
	entry, err := s.Poster.Post(ctx, tx, ledger.PostInput{
		TenantID:        wc.TenantID,
		Date:            date,
		Description:     fmt.Sprintf("Payment %s for %s", number, spec.docNumber),
		Lines:           spec.lines(spec.in.Amount),
		CreatedByUserID: wc.UserID,
	})
	if err != nil {
		return nil, err
	}

	p := &Payment{
		ID:              uuid.NewString(),
		TenantID:        wc.TenantID,
		Number:          number,
		DocKind:         spec.kind,
		DocumentID:      spec.documentID,
		Amount:          spec.in.Amount,
		BankAccountID:   ledger.AccountID(spec.in.BankAccountID),
		PaymentDate:     date,
		PaymentMode:     spec.in.PaymentMode,
		AttachmentURI:   spec.in.AttachmentURI,
		JournalEntryID:  entry.ID,
		CreatedByUserID: wc.UserID,
		CreatedAt:       wc.Now,
	}
	if err := tx.InsertPayment(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// finishPayment writes the audit row and the created/recorded event pair.
func (s *Service) finishPayment(ctx context.Context, tx Tx, emit *eventBuffer, wc WriteContext, p *Payment, action, eventType string) error {
	if err := s.audit(ctx, tx, wc, action, "Payment", p.ID, map[string]any{
		"number": p.Number, "amount": p.Amount.String(), "documentId": p.DocumentID,
	}); err != nil {
		return err
	}
	entry, err := tx.GetJournalEntry(ctx, wc.TenantID, p.JournalEntryID)
	if err != nil {
		return err
	}
	if entry != nil {
		if err := s.emit(ctx, tx, emit, wc, outbox.EventJournalEntryCreated, "JournalEntry", string(entry.ID), journalEntryPayload(entry)); err != nil {
			return err
		}
	}
	return s.emit(ctx, tx, emit, wc, eventType, "Payment", p.ID, map[string]any{
		"paymentId": p.ID, "documentId": p.DocumentID, "docKind": string(p.DocKind), "amount": p.Amount.String(),
	})
}

// recomputeParentStatus re-derives the parent document's status after a
// reversal and persists it.
func (s *Service) recomputeParentStatus(ctx context.Context, tx Tx, wc WriteContext, p *Payment) (DocStatus, error) {
	payments, err := tx.PaymentsForDocument(ctx, wc.TenantID, p.DocKind, p.DocumentID)
	if err != nil {
		return "", err
	}
	paid := nonReversedTotal(payments)

	switch p.DocKind {
	case KindInvoice:
		inv, err := s.invoiceForUpdate(ctx, tx, wc.TenantID, p.DocumentID)
		if err != nil {
			return "", err
		}
		inv.AmountPaid = paid
		inv.Status = statusForPaid(inv.Total, paid)
		inv.UpdatedAt = wc.Now
		return inv.Status, tx.UpdateInvoice(ctx, inv)
	case KindExpense:
		e, err := s.expenseForUpdate(ctx, tx, wc.TenantID, p.DocumentID)
		if err != nil {
			return "", err
		}
		e.AmountPaid = paid
		e.Status = statusForPaid(e.Total, paid)
		e.UpdatedAt = wc.Now
		return e.Status, tx.UpdateExpense(ctx, e)
	case KindPurchaseBill:
		b, err := s.billForUpdate(ctx, tx, wc.TenantID, p.DocumentID)
		if err != nil {
			return "", err
		}
		b.AmountPaid = paid
		b.Status = statusForPaid(b.Total, paid)
		b.UpdatedAt = wc.Now
		return b.Status, tx.UpdatePurchaseBill(ctx, b)
	}
	return "", ledger.Validationf("unknown payment document kind %q", p.DocKind)
}

// parentStatus reads the parent document's current status.
func (s *Service) parentStatus(ctx context.Context, tx Tx, tenantID ledger.TenantID, p *Payment) (DocStatus, error) {
	switch p.DocKind {
	case KindInvoice:
		inv, err := tx.GetInvoice(ctx, tenantID, p.DocumentID)
		if err != nil || inv == nil {
			return "", err
		}
		return inv.Status, nil
	case KindExpense:
		e, err := tx.GetExpense(ctx, tenantID, p.DocumentID)
		if err != nil || e == nil {
			return "", err
		}
		return e.Status, nil
	case KindPurchaseBill:
		b, err := tx.GetPurchaseBill(ctx, tenantID, p.DocumentID)
		if err != nil || b == nil {
			return "", err
		}
		return b.Status, nil
	}
	return "", nil
}
