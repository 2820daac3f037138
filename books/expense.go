/*
expense.go - Vendor expense (bill) lifecycle

PURPOSE:
  DRAFT -> APPROVED -> POSTED -> {PARTIAL, PAID, VOID}. Posting debits the
  per-line expense accounts and credits AP. The paid-immediately variant
  credits the bank instead, jumps straight to PAID and synthesizes the
  payment row so downstream payment listings stay complete.

TAX:
  Input tax on a bill debits Tax Payable, netting against the output tax
  collected on sales.
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

type ExpenseLineInput struct {
	Description      string      `json:"description"`
	ExpenseAccountID string      `json:"expenseAccountId" validate:"required"`
	Amount           money.Money `json:"amount"`
	TaxRate          money.Rate  `json:"taxRate"`
}

type CreateExpenseInput struct {
	VendorID    string             `json:"vendorId" validate:"required"`
	ExpenseDate money.Date         `json:"expenseDate"`
	DueDate     money.Date         `json:"dueDate"`
	Currency    string             `json:"currency" validate:"omitempty,len=3"`
	Lines       []ExpenseLineInput `json:"lines" validate:"min=1,dive"`
}

type UpdateExpenseInput struct {
	ExpenseDate money.Date         `json:"expenseDate"`
	DueDate     money.Date         `json:"dueDate"`
	Lines       []ExpenseLineInput `json:"lines" validate:"min=1,dive"`
}

// PostExpenseInput selects the AP or paid-immediately posting shape.
type PostExpenseInput struct {
	PaidImmediately bool       `json:"paidImmediately"`
	BankAccountID   string     `json:"bankAccountId" validate:"required_if=PaidImmediately true"`
	PaymentMode     string     `json:"paymentMode"`
	PaymentDate     money.Date `json:"paymentDate"`
}

// =============================================================================
// DRAFT LIFECYCLE
// =============================================================================

// CreateExpense creates a DRAFT expense.
func (s *Service) CreateExpense(ctx context.Context, wc WriteContext, in CreateExpenseInput) (idempotency.Result, error) {
	return s.runCommand(ctx, wc, nil, func(ctx context.Context, tx Tx, _ *eventBuffer) (int, any, error) {
		company, err := requireCompany(ctx, tx, wc.TenantID)
		if err != nil {
			return 0, nil, err
		}
		if err := checkCurrency(company, in.Currency); err != nil {
			return 0, nil, err
		}
		vendor, err := tx.GetVendor(ctx, wc.TenantID, in.VendorID)
		if err != nil {
			return 0, nil, err
		}
		if vendor == nil {
			return 0, nil, ledger.NotFoundf("vendor %s not found", in.VendorID)
		}
		if in.ExpenseDate.IsZero() {
			return 0, nil, ledger.Validationf("expenseDate is required")
		}

		e := &Expense{
			ID:          uuid.NewString(),
			TenantID:    wc.TenantID,
			VendorID:    in.VendorID,
			Status:      StatusDraft,
			ExpenseDate: in.ExpenseDate,
			DueDate:     in.DueDate,
			Currency:    in.Currency,
			CreatedAt:   wc.Now,
			UpdatedAt:   wc.Now,
		}
		e.Number, err = ledger.NextNumber(ctx, tx, wc.TenantID, ledger.DocExpense)
		if err != nil {
			return 0, nil, err
		}
		if err := s.setExpenseLines(ctx, tx, e, in.Lines); err != nil {
			return 0, nil, err
		}

		if err := tx.InsertExpense(ctx, e); err != nil {
			return 0, nil, err
		}
		if err := s.audit(ctx, tx, wc, "expense.create", "Expense", e.ID, map[string]any{"number": e.Number}); err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, expenseView(e), nil
	})
}

// UpdateExpense replaces the header and lines of a DRAFT expense.
func (s *Service) UpdateExpense(ctx context.Context, wc WriteContext, expenseID string, in UpdateExpenseInput) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("expense:update", string(wc.TenantID), expenseID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, _ *eventBuffer) (int, any, error) {
		e, err := s.expenseForUpdate(ctx, tx, wc.TenantID, expenseID)
		if err != nil {
			return 0, nil, err
		}
		if e.Status != StatusDraft {
			return 0, nil, ledger.Statef("only DRAFT expenses can be edited, expense %s is %s", e.Number, e.Status)
		}
		if !in.ExpenseDate.IsZero() {
			e.ExpenseDate = in.ExpenseDate
		}
		e.DueDate = in.DueDate
		if err := s.setExpenseLines(ctx, tx, e, in.Lines); err != nil {
			return 0, nil, err
		}
		e.UpdatedAt = wc.Now
		if err := tx.UpdateExpense(ctx, e); err != nil {
			return 0, nil, err
		}
		if err := s.audit(ctx, tx, wc, "expense.update", "Expense", e.ID, nil); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, expenseView(e), nil
	})
}

// DeleteExpense removes a DRAFT expense.
func (s *Service) DeleteExpense(ctx context.Context, wc WriteContext, expenseID string) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("expense:update", string(wc.TenantID), expenseID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, _ *eventBuffer) (int, any, error) {
		e, err := s.expenseForUpdate(ctx, tx, wc.TenantID, expenseID)
		if err != nil {
			return 0, nil, err
		}
		if e.Status != StatusDraft {
			return 0, nil, ledger.Statef("only DRAFT expenses can be deleted, expense %s is %s", e.Number, e.Status)
		}
		if err := tx.DeleteExpense(ctx, wc.TenantID, expenseID); err != nil {
			return 0, nil, err
		}
		if err := s.audit(ctx, tx, wc, "expense.delete", "Expense", e.ID, map[string]any{"number": e.Number}); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, map[string]any{"deleted": true}, nil
	})
}

// ApproveExpense moves DRAFT -> APPROVED.
func (s *Service) ApproveExpense(ctx context.Context, wc WriteContext, expenseID string) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("expense:update", string(wc.TenantID), expenseID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, _ *eventBuffer) (int, any, error) {
		e, err := s.expenseForUpdate(ctx, tx, wc.TenantID, expenseID)
		if err != nil {
			return 0, nil, err
		}
		if e.Status != StatusDraft {
			return 0, nil, ledger.Statef("only DRAFT expenses can be approved, expense %s is %s", e.Number, e.Status)
		}
		e.Status = StatusApproved
		e.UpdatedAt = wc.Now
		if err := tx.UpdateExpense(ctx, e); err != nil {
			return 0, nil, err
		}
		if err := s.audit(ctx, tx, wc, "expense.approve", "Expense", e.ID, nil); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, expenseView(e), nil
	})
}

// =============================================================================
// POSTING
// =============================================================================

// PostExpense posts Dr Expense (+ Dr Tax) / Cr AP, or Cr Bank in the
// paid-immediately variant, which also synthesizes the payment row.
func (s *Service) PostExpense(ctx context.Context, wc WriteContext, expenseID string, in PostExpenseInput) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("expense:post", string(wc.TenantID), expenseID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, emit *eventBuffer) (int, any, error) {
		company, err := requireCompany(ctx, tx, wc.TenantID)
		if err != nil {
			return 0, nil, err
		}
		e, err := s.expenseForUpdate(ctx, tx, wc.TenantID, expenseID)
		if err != nil {
			return 0, nil, err
		}
		if e.Status != StatusDraft && e.Status != StatusApproved {
			return 0, nil, ledger.Statef("only DRAFT or APPROVED expenses can be posted, expense %s is %s", e.Number, e.Status)
		}
		if err := checkCurrency(company, e.Currency); err != nil {
			return 0, nil, err
		}
		if err := s.Periods.CheckOpen(ctx, wc.TenantID, e.ExpenseDate, "expense.post"); err != nil {
			return 0, nil, err
		}

		subtotal, tax, lines, err := s.expensePostingLines(ctx, tx, wc.TenantID, e)
		if err != nil {
			return 0, nil, err
		}
		total := subtotal.Add(tax)
		if !total.Equal(e.Total) {
			return 0, nil, ledger.Errf(ledger.CodeRoundingMismatch, http.StatusBadRequest,
				"recomputed total %s does not match stored total %s for expense %s", total, e.Total, e.Number)
		}

		var creditAccountID ledger.AccountID
		if in.PaidImmediately {
			creditAccountID, err = s.checkBankAccount(ctx, tx, wc.TenantID, in.BankAccountID, in.PaymentMode)
			if err != nil {
				return 0, nil, err
			}
		} else {
			apAccount, err := requireConfiguredAccount(ctx, tx, wc.TenantID, company.AccountsPayableAccountID, "accounts payable", ledger.AccountLiability)
			if err != nil {
				return 0, nil, err
			}
			creditAccountID = apAccount.ID
		}
		lines = append(lines, ledger.Credit(creditAccountID, total))

		entry, err := s.Poster.Post(ctx, tx, ledger.PostInput{
			TenantID:        wc.TenantID,
			Date:            e.ExpenseDate,
			Description:     fmt.Sprintf("Expense %s", e.Number),
			Lines:           lines,
			CreatedByUserID: wc.UserID,
		})
		if err != nil {
			return 0, nil, err
		}

		e.Subtotal = subtotal
		e.TaxAmount = tax
		e.Total = total
		e.JournalEntryID = entry.ID
		e.UpdatedAt = wc.Now

		var synthesized *Payment
		if in.PaidImmediately {
			// The bank leg is already inside the posting entry; the payment
			// row exists so listings and reversals see it.
			number, err := ledger.NextNumber(ctx, tx, wc.TenantID, ledger.DocPayment)
			if err != nil {
				return 0, nil, err
			}
			date := in.PaymentDate
			if date.IsZero() {
				date = e.ExpenseDate
			}
			synthesized = &Payment{
				ID:              uuid.NewString(),
				TenantID:        wc.TenantID,
				Number:          number,
				DocKind:         KindExpense,
				DocumentID:      e.ID,
				Amount:          total,
				BankAccountID:   creditAccountID,
				PaymentDate:     date,
				PaymentMode:     in.PaymentMode,
				JournalEntryID:  entry.ID,
				CreatedByUserID: wc.UserID,
				CreatedAt:       wc.Now,
			}
			if err := tx.InsertPayment(ctx, synthesized); err != nil {
				return 0, nil, err
			}
			e.Status = StatusPaid
			e.AmountPaid = total
		} else {
			e.Status = StatusPosted
			e.AmountPaid = money.Zero
		}
		if err := tx.UpdateExpense(ctx, e); err != nil {
			return 0, nil, err
		}

		if err := s.audit(ctx, tx, wc, "expense.post", "Expense", e.ID, map[string]any{
			"number": e.Number, "journalEntryId": string(entry.ID), "total": e.Total.String(), "paidImmediately": in.PaidImmediately,
		}); err != nil {
			return 0, nil, err
		}
		if err := s.emit(ctx, tx, emit, wc, outbox.EventJournalEntryCreated, "JournalEntry", string(entry.ID), journalEntryPayload(entry)); err != nil {
			return 0, nil, err
		}
		if err := s.emit(ctx, tx, emit, wc, outbox.EventBillPosted, "Expense", e.ID, map[string]any{
			"expenseId": e.ID, "number": e.Number, "vendorId": e.VendorID,
			"total": e.Total.String(), "journalEntryId": string(entry.ID),
		}); err != nil {
			return 0, nil, err
		}
		if synthesized != nil {
			if err := s.emit(ctx, tx, emit, wc, outbox.EventBillPaymentRecorded, "Payment", synthesized.ID, map[string]any{
				"paymentId": synthesized.ID, "documentId": e.ID, "docKind": string(KindExpense), "amount": total.String(),
			}); err != nil {
				return 0, nil, err
			}
		}
		return http.StatusOK, expenseView(e), nil
	})
}

// =============================================================================
// ADJUST AND VOID
// =============================================================================

// AdjustExpense edits a posted expense by posting the per-account net
// delta. A prior active adjustment is reversed first.
func (s *Service) AdjustExpense(ctx context.Context, wc WriteContext, expenseID string, in UpdateExpenseInput) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("expense:adjust", string(wc.TenantID), expenseID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, emit *eventBuffer) (int, any, error) {
		company, err := requireCompany(ctx, tx, wc.TenantID)
		if err != nil {
			return 0, nil, err
		}
		e, err := s.expenseForUpdate(ctx, tx, wc.TenantID, expenseID)
		if err != nil {
			return 0, nil, err
		}
		if e.Status != StatusPosted {
			return 0, nil, ledger.Statef("only POSTED expenses can be adjusted, expense %s is %s", e.Number, e.Status)
		}
		payments, err := tx.PaymentsForDocument(ctx, wc.TenantID, KindExpense, e.ID)
		if err != nil {
			return 0, nil, err
		}
		if nonReversedTotal(payments).IsPositive() {
			return 0, nil, ledger.Statef("cannot adjust expense %s: payments have been recorded", e.Number)
		}
		if err := s.Periods.CheckOpen(ctx, wc.TenantID, e.ExpenseDate, "expense.adjust"); err != nil {
			return 0, nil, err
		}

		original, err := tx.GetJournalEntry(ctx, wc.TenantID, e.JournalEntryID)
		if err != nil {
			return 0, nil, err
		}
		if original == nil {
			return 0, nil, ledger.NotFoundf("posting journal entry %s not found", e.JournalEntryID)
		}
		if e.LastAdjustmentJournalEntryID != "" {
			if err := s.reverseEntry(ctx, tx, emit, wc, e.LastAdjustmentJournalEntryID, "superseded by new adjustment", e.ExpenseDate, ""); err != nil {
				return 0, nil, err
			}
			e.LastAdjustmentJournalEntryID = ""
		}

		if !in.ExpenseDate.IsZero() {
			e.ExpenseDate = in.ExpenseDate
		}
		e.DueDate = in.DueDate
		if err := s.setExpenseLines(ctx, tx, e, in.Lines); err != nil {
			return 0, nil, err
		}
		subtotal, tax, desired, err := s.expensePostingLines(ctx, tx, wc.TenantID, e)
		if err != nil {
			return 0, nil, err
		}
		apAccount, err := requireConfiguredAccount(ctx, tx, wc.TenantID, company.AccountsPayableAccountID, "accounts payable", ledger.AccountLiability)
		if err != nil {
			return 0, nil, err
		}
		desired = append(desired, ledger.Credit(apAccount.ID, subtotal.Add(tax)))

		adjLines, err := ledger.AdjustmentLines(ledger.LinesOf(original.Lines), desired)
		if err != nil {
			return 0, nil, err
		}
		if adjLines != nil {
			entry, err := s.Poster.Post(ctx, tx, ledger.PostInput{
				TenantID:        wc.TenantID,
				Date:            e.ExpenseDate,
				Description:     fmt.Sprintf("Adjustment of expense %s", e.Number),
				Lines:           adjLines,
				CreatedByUserID: wc.UserID,
			})
			if err != nil {
				return 0, nil, err
			}
			e.LastAdjustmentJournalEntryID = entry.ID
			if err := s.emit(ctx, tx, emit, wc, outbox.EventJournalEntryCreated, "JournalEntry", string(entry.ID), journalEntryPayload(entry)); err != nil {
				return 0, nil, err
			}
		}

		e.Subtotal = subtotal
		e.TaxAmount = tax
		e.Total = subtotal.Add(tax)
		e.Status = statusForPaid(e.Total, e.AmountPaid)
		e.UpdatedAt = wc.Now
		if err := tx.UpdateExpense(ctx, e); err != nil {
			return 0, nil, err
		}
		if err := s.audit(ctx, tx, wc, "expense.adjust", "Expense", e.ID, map[string]any{
			"number": e.Number, "total": e.Total.String(),
		}); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, expenseView(e), nil
	})
}

// VoidExpense reverses the posting entry (and any active adjustment).
func (s *Service) VoidExpense(ctx context.Context, wc WriteContext, expenseID string, in VoidInvoiceInput) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("expense:void", string(wc.TenantID), expenseID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, emit *eventBuffer) (int, any, error) {
		e, err := s.expenseForUpdate(ctx, tx, wc.TenantID, expenseID)
		if err != nil {
			return 0, nil, err
		}
		if e.Status != StatusPosted {
			return 0, nil, ledger.Statef("only POSTED expenses can be voided, expense %s is %s", e.Number, e.Status)
		}
		payments, err := tx.PaymentsForDocument(ctx, wc.TenantID, KindExpense, e.ID)
		if err != nil {
			return 0, nil, err
		}
		if nonReversedTotal(payments).IsPositive() {
			return 0, nil, ledger.Statef("cannot void expense %s: reverse its payments first", e.Number)
		}
		if err := s.Periods.CheckOpen(ctx, wc.TenantID, e.ExpenseDate, "expense.void"); err != nil {
			return 0, nil, err
		}

		if e.LastAdjustmentJournalEntryID != "" {
			if err := s.reverseEntry(ctx, tx, emit, wc, e.LastAdjustmentJournalEntryID, "voided with expense "+e.Number, e.ExpenseDate, ""); err != nil {
				return 0, nil, err
			}
			e.LastAdjustmentJournalEntryID = ""
		}

		original, err := tx.GetJournalEntry(ctx, wc.TenantID, e.JournalEntryID)
		if err != nil {
			return 0, nil, err
		}
		if original == nil {
			return 0, nil, ledger.NotFoundf("posting journal entry %s not found", e.JournalEntryID)
		}
		reversal, err := s.Poster.Post(ctx, tx, ledger.PostInput{
			TenantID:                 wc.TenantID,
			Date:                     e.ExpenseDate,
			Description:              fmt.Sprintf("Void of expense %s", e.Number),
			Lines:                    ledger.ReverseLines(original.Lines),
			CreatedByUserID:          wc.UserID,
			ReversalOfJournalEntryID: original.ID,
			ReversalReason:           in.Reason,
			SkipAccountValidation:    true,
		})
		if err != nil {
			return 0, nil, err
		}
		if err := tx.MarkJournalEntryVoided(ctx, wc.TenantID, original.ID, in.Reason, wc.UserID, wc.Now); err != nil {
			return 0, nil, err
		}

		e.Status = StatusVoid
		e.VoidJournalEntryID = reversal.ID
		e.UpdatedAt = wc.Now
		if err := tx.UpdateExpense(ctx, e); err != nil {
			return 0, nil, err
		}

		if err := s.audit(ctx, tx, wc, "expense.void", "Expense", e.ID, map[string]any{
			"number": e.Number, "reason": in.Reason,
		}); err != nil {
			return 0, nil, err
		}
		if err := s.emit(ctx, tx, emit, wc, outbox.EventJournalEntryCreated, "JournalEntry", string(reversal.ID), journalEntryPayload(reversal)); err != nil {
			return 0, nil, err
		}
		if err := s.emit(ctx, tx, emit, wc, outbox.EventJournalEntryReversed, "JournalEntry", string(original.ID), map[string]any{
			"journalEntryId": string(original.ID), "reversalJournalEntryId": string(reversal.ID), "reason": in.Reason,
		}); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, expenseView(e), nil
	})
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetExpense(ctx context.Context, tenantID ledger.TenantID, id string) (*ExpenseView, error) {
	var view *ExpenseView
	err := s.Store.Read(ctx, func(tx Tx) error {
		e, err := tx.GetExpense(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if e == nil {
			return ledger.NotFoundf("expense %s not found", id)
		}
		view = expenseView(e)
		return nil
	})
	return view, err
}

func (s *Service) ListExpenses(ctx context.Context, tenantID ledger.TenantID) ([]*ExpenseView, error) {
	views := []*ExpenseView{}
	err := s.Store.Read(ctx, func(tx Tx) error {
		es, err := tx.ListExpenses(ctx, tenantID)
		if err != nil {
			return err
		}
		for _, e := range es {
			views = append(views, expenseView(e))
		}
		return nil
	})
	return views, err
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) expenseForUpdate(ctx context.Context, tx Tx, tenantID ledger.TenantID, id string) (*Expense, error) {
	e, err := tx.GetExpenseForUpdate(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ledger.NotFoundf("expense %s not found", id)
	}
	return e, nil
}

func (s *Service) setExpenseLines(ctx context.Context, tx Tx, e *Expense, ins []ExpenseLineInput) error {
	if len(ins) == 0 {
		return ledger.Validationf("expense requires at least one line")
	}
	lines := make([]ExpenseLine, 0, len(ins))
	subtotal, tax := money.Zero, money.Zero
	for _, in := range ins {
		if !in.Amount.IsPositive() {
			return ledger.Validationf("line amount must be positive")
		}
		acct, err := tx.GetAccount(ctx, e.TenantID, ledger.AccountID(in.ExpenseAccountID))
		if err != nil {
			return err
		}
		if acct == nil {
			return ledger.NotFoundf("expense account %s not found", in.ExpenseAccountID)
		}
		if acct.Type != ledger.AccountExpense {
			return ledger.Configf("expense account %s (%s) must be EXPENSE, got %s", acct.Code, acct.Name, acct.Type)
		}

		line := ExpenseLine{
			ID:               uuid.NewString(),
			TenantID:         e.TenantID,
			ExpenseID:        e.ID,
			Description:      in.Description,
			ExpenseAccountID: ledger.AccountID(in.ExpenseAccountID),
			Amount:           in.Amount,
			TaxRate:          in.TaxRate,
		}
		line.TaxAmount = in.Amount.MulRate(in.TaxRate)
		subtotal = subtotal.Add(in.Amount)
		tax = tax.Add(line.TaxAmount)
		lines = append(lines, line)
	}
	e.Lines = lines
	e.Subtotal = subtotal
	e.TaxAmount = tax
	e.Total = subtotal.Add(tax)
	return nil
}

// expensePostingLines recomputes the debit side: per-account expense
// buckets plus the input-tax debit. The credit leg is appended by the
// caller (AP or bank).
func (s *Service) expensePostingLines(ctx context.Context, tx Tx, tenantID ledger.TenantID, e *Expense) (money.Money, money.Money, []ledger.Line, error) {
	subtotal, tax := money.Zero, money.Zero
	var buckets []*incomeBucket
	byAccount := map[ledger.AccountID]*incomeBucket{}
	for _, l := range e.Lines {
		acct, err := tx.GetAccount(ctx, tenantID, l.ExpenseAccountID)
		if err != nil {
			return money.Zero, money.Zero, nil, err
		}
		if acct == nil {
			return money.Zero, money.Zero, nil, ledger.NotFoundf("expense account %s not found", l.ExpenseAccountID)
		}
		if acct.Type != ledger.AccountExpense {
			return money.Zero, money.Zero, nil, ledger.Configf("expense account %s (%s) must be EXPENSE, got %s", acct.Code, acct.Name, acct.Type)
		}
		subtotal = subtotal.Add(l.Amount)
		tax = tax.Add(l.Amount.MulRate(l.TaxRate))
		bucket := byAccount[l.ExpenseAccountID]
		if bucket == nil {
			bucket = &incomeBucket{accountID: l.ExpenseAccountID}
			byAccount[l.ExpenseAccountID] = bucket
			buckets = append(buckets, bucket)
		}
		bucket.amount = bucket.amount.Add(l.Amount)
	}

	lines := []ledger.Line{}
	for _, bucket := range buckets {
		lines = append(lines, ledger.Debit(bucket.accountID, bucket.amount))
	}
	if tax.IsPositive() {
		taxAcct, err := ledger.EnsureAccount(ctx, tx, tenantID, ledger.TaxPayableAccount)
		if err != nil {
			return money.Zero, money.Zero, nil, err
		}
		lines = append(lines, ledger.Debit(taxAcct.ID, tax))
	}
	return subtotal, tax, lines, nil
}
