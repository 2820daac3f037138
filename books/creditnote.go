/*
creditnote.go - Credit note lifecycle and cash refunds

PURPOSE:
  DRAFT -> APPROVED -> POSTED -> {VOID}. Posting reverses revenue and tax
  (Dr Income / Dr Tax Payable / Cr AR) and, when the note credits a
  tracked line of a source invoice, restocks the returned units at the
  cost they were issued at.

RETURN ALLOCATION:
  Returned quantity is allocated FIFO across the invoice's original
  SALE_ISSUE moves, net of quantities already returned by prior POSTED
  credit notes per location. Each slice re-enters stock at that move's
  unitCostApplied so COGS reverses exactly. Allocation falling short of
  the requested quantity fails OVER_RETURN.
*/
package books

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cashflowhq/cashflow-api/idempotency"
	"github.com/cashflowhq/cashflow-api/inventory"
	"github.com/cashflowhq/cashflow-api/ledger"
	"github.com/cashflowhq/cashflow-api/locks"
	"github.com/cashflowhq/cashflow-api/money"
	"github.com/cashflowhq/cashflow-api/outbox"
)

// =============================================================================
// INPUTS
// =============================================================================

type CreditNoteLineInput struct {
	ItemID          string          `json:"itemId" validate:"required"`
	InvoiceLineID   string          `json:"invoiceLineId"`
	Description     string          `json:"description"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       money.Money     `json:"unitPrice"`
	DiscountAmount  money.Money     `json:"discountAmount"`
	TaxRate         money.Rate      `json:"taxRate"`
	IncomeAccountID string          `json:"incomeAccountId"`
}

type CreateCreditNoteInput struct {
	CustomerID string                `json:"customerId" validate:"required"`
	InvoiceID  string                `json:"invoiceId"`
	Date       money.Date            `json:"date"`
	Currency   string                `json:"currency" validate:"omitempty,len=3"`
	Lines      []CreditNoteLineInput `json:"lines" validate:"min=1,dive"`
}

type UpdateCreditNoteInput struct {
	Date  money.Date            `json:"date"`
	Lines []CreditNoteLineInput `json:"lines" validate:"min=1,dive"`
}

type RecordRefundInput struct {
	Amount        money.Money `json:"amount"`
	BankAccountID string      `json:"bankAccountId" validate:"required"`
	RefundDate    money.Date  `json:"refundDate"`
}

// =============================================================================
// DRAFT LIFECYCLE
// =============================================================================

// CreateCreditNote creates a DRAFT credit note, optionally linked to a
// source invoice.
func (s *Service) CreateCreditNote(ctx context.Context, wc WriteContext, in CreateCreditNoteInput) (idempotency.Result, error) {
	return s.runCommand(ctx, wc, nil, func(ctx context.Context, tx Tx, _ *eventBuffer) (int, any, error) {
		company, err := requireCompany(ctx, tx, wc.TenantID)
		if err != nil {
			return 0, nil, err
		}
		if err := checkCurrency(company, in.Currency); err != nil {
			return 0, nil, err
		}
		customer, err := tx.GetCustomer(ctx, wc.TenantID, in.CustomerID)
		if err != nil {
			return 0, nil, err
		}
		if customer == nil {
			return 0, nil, ledger.NotFoundf("customer %s not found", in.CustomerID)
		}
		if in.InvoiceID != "" {
			inv, err := tx.GetInvoice(ctx, wc.TenantID, in.InvoiceID)
			if err != nil {
				return 0, nil, err
			}
			if inv == nil {
				return 0, nil, ledger.NotFoundf("invoice %s not found", in.InvoiceID)
			}
		}
		if in.Date.IsZero() {
			return 0, nil, ledger.Validationf("date is required")
		}

		cn, err := s.draftCreditNote(ctx, tx, wc, in.CustomerID, in.InvoiceID, in.Date, in.Currency, in.Lines)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, creditNoteView(cn), nil
	})
}

// InvoiceCreditNoteInput drafts a credit note against a known invoice.
// Customer, date and currency default from the invoice itself.
type InvoiceCreditNoteInput struct {
	Date     money.Date            `json:"date"`
	Currency string                `json:"currency" validate:"omitempty,len=3"`
	Lines    []CreditNoteLineInput `json:"lines" validate:"min=1,dive"`
}

// CreateInvoiceCreditNote creates a DRAFT credit note pre-linked to the
// given invoice.
func (s *Service) CreateInvoiceCreditNote(ctx context.Context, wc WriteContext, invoiceID string, in InvoiceCreditNoteInput) (idempotency.Result, error) {
	return s.runCommand(ctx, wc, nil, func(ctx context.Context, tx Tx, _ *eventBuffer) (int, any, error) {
		company, err := requireCompany(ctx, tx, wc.TenantID)
		if err != nil {
			return 0, nil, err
		}
		inv, err := tx.GetInvoice(ctx, wc.TenantID, invoiceID)
		if err != nil {
			return 0, nil, err
		}
		if inv == nil {
			return 0, nil, ledger.NotFoundf("invoice %s not found", invoiceID)
		}

		date := in.Date
		if date.IsZero() {
			date = inv.InvoiceDate
		}
		currency := in.Currency
		if currency == "" {
			currency = inv.Currency
		}
		if err := checkCurrency(company, currency); err != nil {
			return 0, nil, err
		}

		cn, err := s.draftCreditNote(ctx, tx, wc, inv.CustomerID, inv.ID, date, currency, in.Lines)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, creditNoteView(cn), nil
	})
}

// draftCreditNote numbers, prices and persists a new DRAFT credit note.
func (s *Service) draftCreditNote(ctx context.Context, tx Tx, wc WriteContext, customerID, invoiceID string, date money.Date, currency string, lines []CreditNoteLineInput) (*CreditNote, error) {
	cn := &CreditNote{
		ID:         uuid.NewString(),
		TenantID:   wc.TenantID,
		CustomerID: customerID,
		InvoiceID:  invoiceID,
		Status:     StatusDraft,
		Date:       date,
		Currency:   currency,
		CreatedAt:  wc.Now,
		UpdatedAt:  wc.Now,
	}
	var err error
	cn.Number, err = ledger.NextNumber(ctx, tx, wc.TenantID, ledger.DocCreditNote)
	if err != nil {
		return nil, err
	}
	if err := s.setCreditNoteLines(ctx, tx, cn, lines); err != nil {
		return nil, err
	}
	if err := tx.InsertCreditNote(ctx, cn); err != nil {
		return nil, err
	}
	if err := s.audit(ctx, tx, wc, "credit_note.create", "CreditNote", cn.ID, map[string]any{"number": cn.Number}); err != nil {
		return nil, err
	}
	return cn, nil
}

// UpdateCreditNote replaces the lines of a DRAFT credit note.
func (s *Service) UpdateCreditNote(ctx context.Context, wc WriteContext, creditNoteID string, in UpdateCreditNoteInput) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("credit_note:update", string(wc.TenantID), creditNoteID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, _ *eventBuffer) (int, any, error) {
		cn, err := s.creditNoteForUpdate(ctx, tx, wc.TenantID, creditNoteID)
		if err != nil {
			return 0, nil, err
		}
		if cn.Status != StatusDraft {
			return 0, nil, ledger.Statef("only DRAFT credit notes can be edited, credit note %s is %s", cn.Number, cn.Status)
		}
		if !in.Date.IsZero() {
			cn.Date = in.Date
		}
		if err := s.setCreditNoteLines(ctx, tx, cn, in.Lines); err != nil {
			return 0, nil, err
		}
		cn.UpdatedAt = wc.Now
		if err := tx.UpdateCreditNote(ctx, cn); err != nil {
			return 0, nil, err
		}
		if err := s.audit(ctx, tx, wc, "credit_note.update", "CreditNote", cn.ID, nil); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, creditNoteView(cn), nil
	})
}

// DeleteCreditNote removes a DRAFT credit note.
func (s *Service) DeleteCreditNote(ctx context.Context, wc WriteContext, creditNoteID string) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("credit_note:update", string(wc.TenantID), creditNoteID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, _ *eventBuffer) (int, any, error) {
		cn, err := s.creditNoteForUpdate(ctx, tx, wc.TenantID, creditNoteID)
		if err != nil {
			return 0, nil, err
		}
		if cn.Status != StatusDraft {
			return 0, nil, ledger.Statef("only DRAFT credit notes can be deleted, credit note %s is %s", cn.Number, cn.Status)
		}
		if err := tx.DeleteCreditNote(ctx, wc.TenantID, creditNoteID); err != nil {
			return 0, nil, err
		}
		if err := s.audit(ctx, tx, wc, "credit_note.delete", "CreditNote", cn.ID, map[string]any{"number": cn.Number}); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, map[string]any{"deleted": true}, nil
	})
}

// ApproveCreditNote moves DRAFT -> APPROVED.
func (s *Service) ApproveCreditNote(ctx context.Context, wc WriteContext, creditNoteID string) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("credit_note:update", string(wc.TenantID), creditNoteID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, _ *eventBuffer) (int, any, error) {
		cn, err := s.creditNoteForUpdate(ctx, tx, wc.TenantID, creditNoteID)
		if err != nil {
			return 0, nil, err
		}
		if cn.Status != StatusDraft {
			return 0, nil, ledger.Statef("only DRAFT credit notes can be approved, credit note %s is %s", cn.Number, cn.Status)
		}
		cn.Status = StatusApproved
		cn.UpdatedAt = wc.Now
		if err := tx.UpdateCreditNote(ctx, cn); err != nil {
			return 0, nil, err
		}
		if err := s.audit(ctx, tx, wc, "credit_note.approve", "CreditNote", cn.ID, nil); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, creditNoteView(cn), nil
	})
}

// =============================================================================
// POSTING
// =============================================================================

// PostCreditNote reverses revenue for the credited lines and restocks
// tracked returns FIFO against the source invoice's issue history.
func (s *Service) PostCreditNote(ctx context.Context, wc WriteContext, creditNoteID string) (idempotency.Result, error) {
	keys, err := s.creditNoteLockKeys(ctx, wc.TenantID, creditNoteID)
	if err != nil {
		return idempotency.Result{}, err
	}

	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, emit *eventBuffer) (int, any, error) {
		company, err := requireCompany(ctx, tx, wc.TenantID)
		if err != nil {
			return 0, nil, err
		}
		cn, err := s.creditNoteForUpdate(ctx, tx, wc.TenantID, creditNoteID)
		if err != nil {
			return 0, nil, err
		}
		if cn.Status != StatusDraft && cn.Status != StatusApproved {
			return 0, nil, ledger.Statef("only DRAFT or APPROVED credit notes can be posted, credit note %s is %s", cn.Number, cn.Status)
		}
		if err := checkCurrency(company, cn.Currency); err != nil {
			return 0, nil, err
		}
		if err := s.Periods.CheckOpen(ctx, wc.TenantID, cn.Date, "credit_note.post"); err != nil {
			return 0, nil, err
		}
		arAccount, err := requireConfiguredAccount(ctx, tx, wc.TenantID, company.AccountsReceivableAccountID, "accounts receivable", ledger.AccountAsset)
		if err != nil {
			return 0, nil, err
		}

		// Revenue reversal buckets, same resolution order as invoice posting.
		rev, err := s.creditNoteRevenue(ctx, tx, wc.TenantID, cn.Lines)
		if err != nil {
			return 0, nil, err
		}
		total := rev.subtotal.Add(rev.tax)
		if !total.Equal(cn.Total) {
			return 0, nil, ledger.Errf(ledger.CodeRoundingMismatch, http.StatusBadRequest,
				"recomputed total %s does not match stored total %s for credit note %s", total, cn.Total, cn.Number)
		}

		// Restock tracked returns against the source invoice.
		returnCost := money.Zero
		var returnMoves []*inventory.StockMove
		if cn.InvoiceID != "" {
			for _, l := range cn.Lines {
				item, err := tx.GetItem(ctx, wc.TenantID, string(l.ItemID))
				if err != nil {
					return 0, nil, err
				}
				if !trackedGoods(item) {
					continue
				}
				moves, cost, err := s.restockReturn(ctx, tx, wc, cn, l)
				if err != nil {
					return 0, nil, err
				}
				returnMoves = append(returnMoves, moves...)
				returnCost = returnCost.Add(cost)
			}
		}

		lines := []ledger.Line{}
		for _, bucket := range rev.buckets {
			lines = append(lines, ledger.Debit(bucket.accountID, bucket.amount))
		}
		if rev.tax.IsPositive() {
			taxAcct, err := ledger.EnsureAccount(ctx, tx, wc.TenantID, ledger.TaxPayableAccount)
			if err != nil {
				return 0, nil, err
			}
			lines = append(lines, ledger.Debit(taxAcct.ID, rev.tax))
		}
		lines = append(lines, ledger.Credit(arAccount.ID, total))
		if returnCost.IsPositive() {
			invAcct, err := requireConfiguredAccount(ctx, tx, wc.TenantID, company.InventoryAssetAccountID, "inventory asset", ledger.AccountAsset)
			if err != nil {
				return 0, nil, err
			}
			cogsAcct, err := requireConfiguredAccount(ctx, tx, wc.TenantID, company.COGSAccountID, "cost of goods sold", ledger.AccountExpense)
			if err != nil {
				return 0, nil, err
			}
			lines = append(lines, ledger.Debit(invAcct.ID, returnCost), ledger.Credit(cogsAcct.ID, returnCost))
		}

		entry, err := s.Poster.Post(ctx, tx, ledger.PostInput{
			TenantID:        wc.TenantID,
			Date:            cn.Date,
			Description:     fmt.Sprintf("Credit note %s", cn.Number),
			Lines:           lines,
			CreatedByUserID: wc.UserID,
		})
		if err != nil {
			return 0, nil, err
		}
		for _, mv := range returnMoves {
			if err := tx.LinkStockMoveJournalEntry(ctx, wc.TenantID, mv.ID, entry.ID); err != nil {
				return 0, nil, err
			}
		}

		cn.Status = StatusPosted
		cn.Subtotal = rev.subtotal
		cn.TaxAmount = rev.tax
		cn.Total = total
		cn.AmountRefunded = money.Zero
		cn.JournalEntryID = entry.ID
		cn.UpdatedAt = wc.Now
		if err := tx.UpdateCreditNote(ctx, cn); err != nil {
			return 0, nil, err
		}

		if err := s.audit(ctx, tx, wc, "credit_note.post", "CreditNote", cn.ID, map[string]any{
			"number": cn.Number, "journalEntryId": string(entry.ID), "total": cn.Total.String(),
		}); err != nil {
			return 0, nil, err
		}
		if err := s.emit(ctx, tx, emit, wc, outbox.EventJournalEntryCreated, "JournalEntry", string(entry.ID), journalEntryPayload(entry)); err != nil {
			return 0, nil, err
		}
		if err := s.emit(ctx, tx, emit, wc, outbox.EventCreditNotePosted, "CreditNote", cn.ID, map[string]any{
			"creditNoteId": cn.ID, "number": cn.Number, "invoiceId": cn.InvoiceID,
			"total": cn.Total.String(), "journalEntryId": string(entry.ID),
		}); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, creditNoteView(cn), nil
	})
}

// AdjustCreditNote edits a POSTED credit note by posting the per-account
// net delta against its original entry. A prior adjustment is reversed
// first so at most one adjustment entry is ever active. Notes with
// inventory-tracked lines must be voided and reissued instead.
func (s *Service) AdjustCreditNote(ctx context.Context, wc WriteContext, creditNoteID string, in UpdateCreditNoteInput) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("credit_note:adjust", string(wc.TenantID), creditNoteID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, emit *eventBuffer) (int, any, error) {
		company, err := requireCompany(ctx, tx, wc.TenantID)
		if err != nil {
			return 0, nil, err
		}
		cn, err := s.creditNoteForUpdate(ctx, tx, wc.TenantID, creditNoteID)
		if err != nil {
			return 0, nil, err
		}
		if cn.Status != StatusPosted {
			return 0, nil, ledger.Statef("only POSTED credit notes can be adjusted, credit note %s is %s", cn.Number, cn.Status)
		}
		if cn.AmountRefunded.IsPositive() {
			return 0, nil, ledger.Statef("cannot adjust credit note %s: refunds have been paid out", cn.Number)
		}
		if err := s.Periods.CheckOpen(ctx, wc.TenantID, cn.Date, "credit_note.adjust"); err != nil {
			return 0, nil, err
		}

		// Existing or desired tracked lines force void+reissue instead.
		for _, l := range cn.Lines {
			item, err := tx.GetItem(ctx, wc.TenantID, string(l.ItemID))
			if err != nil {
				return 0, nil, err
			}
			if trackedGoods(item) {
				return 0, nil, ledger.Errf(ledger.CodeCannotAdjust, http.StatusBadRequest,
					"cannot adjust an inventory-tracked credit note (void and reissue instead)")
			}
		}
		for _, l := range in.Lines {
			item, err := tx.GetItem(ctx, wc.TenantID, l.ItemID)
			if err != nil {
				return 0, nil, err
			}
			if trackedGoods(item) {
				return 0, nil, ledger.Errf(ledger.CodeCannotAdjust, http.StatusBadRequest,
					"cannot adjust an inventory-tracked credit note (void and reissue instead)")
			}
		}

		original, err := tx.GetJournalEntry(ctx, wc.TenantID, cn.JournalEntryID)
		if err != nil {
			return 0, nil, err
		}
		if original == nil {
			return 0, nil, ledger.NotFoundf("posting journal entry %s not found", cn.JournalEntryID)
		}

		// Supersede the prior adjustment before computing the new delta.
		if cn.LastAdjustmentJournalEntryID != "" {
			if err := s.reverseEntry(ctx, tx, emit, wc, cn.LastAdjustmentJournalEntryID, "superseded by new adjustment", cn.Date, ""); err != nil {
				return 0, nil, err
			}
			cn.LastAdjustmentJournalEntryID = ""
		}

		if !in.Date.IsZero() {
			cn.Date = in.Date
		}
		if err := s.setCreditNoteLines(ctx, tx, cn, in.Lines); err != nil {
			return 0, nil, err
		}
		rev, err := s.creditNoteRevenue(ctx, tx, wc.TenantID, cn.Lines)
		if err != nil {
			return 0, nil, err
		}

		arAccount, err := requireConfiguredAccount(ctx, tx, wc.TenantID, company.AccountsReceivableAccountID, "accounts receivable", ledger.AccountAsset)
		if err != nil {
			return 0, nil, err
		}
		desired := []ledger.Line{}
		for _, bucket := range rev.buckets {
			desired = append(desired, ledger.Debit(bucket.accountID, bucket.amount))
		}
		if rev.tax.IsPositive() {
			taxAcct, err := ledger.EnsureAccount(ctx, tx, wc.TenantID, ledger.TaxPayableAccount)
			if err != nil {
				return 0, nil, err
			}
			desired = append(desired, ledger.Debit(taxAcct.ID, rev.tax))
		}
		desired = append(desired, ledger.Credit(arAccount.ID, rev.subtotal.Add(rev.tax)))

		adjLines, err := ledger.AdjustmentLines(ledger.LinesOf(original.Lines), desired)
		if err != nil {
			return 0, nil, err
		}
		if adjLines != nil {
			entry, err := s.Poster.Post(ctx, tx, ledger.PostInput{
				TenantID:        wc.TenantID,
				Date:            cn.Date,
				Description:     fmt.Sprintf("Adjustment of credit note %s", cn.Number),
				Lines:           adjLines,
				CreatedByUserID: wc.UserID,
			})
			if err != nil {
				return 0, nil, err
			}
			cn.LastAdjustmentJournalEntryID = entry.ID
			if err := s.emit(ctx, tx, emit, wc, outbox.EventJournalEntryCreated, "JournalEntry", string(entry.ID), journalEntryPayload(entry)); err != nil {
				return 0, nil, err
			}
		}

		cn.UpdatedAt = wc.Now
		if err := tx.UpdateCreditNote(ctx, cn); err != nil {
			return 0, nil, err
		}
		if err := s.audit(ctx, tx, wc, "credit_note.adjust", "CreditNote", cn.ID, map[string]any{
			"number": cn.Number, "total": cn.Total.String(),
		}); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, creditNoteView(cn), nil
	})
}

// =============================================================================
// VOID
// =============================================================================

// VoidCreditNote reverses the posting entry and re-issues any restocked
// units at the exact returned value.
func (s *Service) VoidCreditNote(ctx context.Context, wc WriteContext, creditNoteID string, in VoidInvoiceInput) (idempotency.Result, error) {
	keys, err := s.creditNoteLockKeys(ctx, wc.TenantID, creditNoteID)
	if err != nil {
		return idempotency.Result{}, err
	}

	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, emit *eventBuffer) (int, any, error) {
		cn, err := s.creditNoteForUpdate(ctx, tx, wc.TenantID, creditNoteID)
		if err != nil {
			return 0, nil, err
		}
		if cn.Status != StatusPosted {
			return 0, nil, ledger.Statef("only POSTED credit notes can be voided, credit note %s is %s", cn.Number, cn.Status)
		}
		if cn.AmountRefunded.IsPositive() {
			return 0, nil, ledger.Statef("cannot void credit note %s: refunds have been paid out", cn.Number)
		}
		if err := s.Periods.CheckOpen(ctx, wc.TenantID, cn.Date, "credit_note.void"); err != nil {
			return 0, nil, err
		}

		if cn.LastAdjustmentJournalEntryID != "" {
			if err := s.reverseEntry(ctx, tx, emit, wc, cn.LastAdjustmentJournalEntryID, "voided with credit note "+cn.Number, cn.Date, ""); err != nil {
				return 0, nil, err
			}
			cn.LastAdjustmentJournalEntryID = ""
		}

		original, err := tx.GetJournalEntry(ctx, wc.TenantID, cn.JournalEntryID)
		if err != nil {
			return 0, nil, err
		}
		if original == nil {
			return 0, nil, ledger.NotFoundf("posting journal entry %s not found", cn.JournalEntryID)
		}
		reversal, err := s.Poster.Post(ctx, tx, ledger.PostInput{
			TenantID:                 wc.TenantID,
			Date:                     cn.Date,
			Description:              fmt.Sprintf("Void of credit note %s", cn.Number),
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

		// Undo the restock at the exact returned value.
		moves, err := tx.StockMovesByReference(ctx, wc.TenantID, "CreditNote", cn.ID)
		if err != nil {
			return 0, nil, err
		}
		for _, mv := range moves {
			if mv.Type != inventory.MoveSaleReturn {
				continue
			}
			total := mv.TotalCostApplied
			res, err := s.Stock.Apply(ctx, tx, inventory.MoveInput{
				TenantID:          wc.TenantID,
				LocationID:        mv.LocationID,
				ItemID:            mv.ItemID,
				Date:              cn.Date,
				Type:              inventory.MoveSaleIssue,
				Direction:         inventory.DirectionOut,
				Quantity:          mv.Quantity,
				TotalCostOverride: &total,
				ReferenceType:     "CreditNoteVoid",
				ReferenceID:       cn.ID,
				CorrelationID:     wc.CorrelationID,
				CreatedByUserID:   wc.UserID,
			})
			if err != nil {
				return 0, nil, err
			}
			if err := tx.LinkStockMoveJournalEntry(ctx, wc.TenantID, res.Move.ID, reversal.ID); err != nil {
				return 0, nil, err
			}
		}

		cn.Status = StatusVoid
		cn.VoidJournalEntryID = reversal.ID
		cn.UpdatedAt = wc.Now
		if err := tx.UpdateCreditNote(ctx, cn); err != nil {
			return 0, nil, err
		}

		if err := s.audit(ctx, tx, wc, "credit_note.void", "CreditNote", cn.ID, map[string]any{
			"number": cn.Number, "reason": in.Reason,
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
		return http.StatusOK, creditNoteView(cn), nil
	})
}

// =============================================================================
// REFUNDS
// =============================================================================

// RecordRefund pays out part of a POSTED credit note's remaining balance:
// Dr AR / Cr Bank.
func (s *Service) RecordRefund(ctx context.Context, wc WriteContext, creditNoteID string, in RecordRefundInput) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("credit_note:refund", string(wc.TenantID), creditNoteID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, emit *eventBuffer) (int, any, error) {
		cn, err := s.creditNoteForUpdate(ctx, tx, wc.TenantID, creditNoteID)
		if err != nil {
			return 0, nil, err
		}
		if cn.Status != StatusPosted {
			return 0, nil, ledger.Statef("refunds require a POSTED credit note, credit note %s is %s", cn.Number, cn.Status)
		}
		if !in.Amount.IsPositive() {
			return 0, nil, ledger.Validationf("refund amount must be positive")
		}
		remaining := cn.Total.Sub(cn.AmountRefunded)
		if in.Amount.GreaterThan(remaining) {
			return 0, nil, ledger.Validationf("amount cannot exceed remaining credit balance of %s", remaining)
		}
		company, err := requireCompany(ctx, tx, wc.TenantID)
		if err != nil {
			return 0, nil, err
		}
		arAccount, err := requireConfiguredAccount(ctx, tx, wc.TenantID, company.AccountsReceivableAccountID, "accounts receivable", ledger.AccountAsset)
		if err != nil {
			return 0, nil, err
		}
		bankAccountID, err := s.checkBankAccount(ctx, tx, wc.TenantID, in.BankAccountID, "")
		if err != nil {
			return 0, nil, err
		}

		date := in.RefundDate
		if date.IsZero() {
			date = money.DateOf(wc.Now)
		}
		if err := s.Periods.CheckOpen(ctx, wc.TenantID, date, "credit_note.refund"); err != nil {
			return 0, nil, err
		}

		number, err := ledger.NextNumber(ctx, tx, wc.TenantID, ledger.DocRefund)
		if err != nil {
			return 0, nil, err
		}
		entry, err := s.Poster.Post(ctx, tx, ledger.PostInput{
			TenantID:        wc.TenantID,
			Date:            date,
			Description:     fmt.Sprintf("Refund %s for credit note %s", number, cn.Number),
			Lines:           []ledger.Line{ledger.Debit(arAccount.ID, in.Amount), ledger.Credit(bankAccountID, in.Amount)},
			CreatedByUserID: wc.UserID,
		})
		if err != nil {
			return 0, nil, err
		}

		r := &Refund{
			ID:              uuid.NewString(),
			TenantID:        wc.TenantID,
			Number:          number,
			CreditNoteID:    cn.ID,
			Amount:          in.Amount,
			BankAccountID:   ledger.AccountID(in.BankAccountID),
			RefundDate:      date,
			JournalEntryID:  entry.ID,
			CreatedByUserID: wc.UserID,
			CreatedAt:       wc.Now,
		}
		if err := tx.InsertRefund(ctx, r); err != nil {
			return 0, nil, err
		}

		cn.AmountRefunded = cn.AmountRefunded.Add(in.Amount)
		cn.UpdatedAt = wc.Now
		if err := tx.UpdateCreditNote(ctx, cn); err != nil {
			return 0, nil, err
		}

		if err := s.audit(ctx, tx, wc, "credit_note.refund", "Refund", r.ID, map[string]any{
			"number": r.Number, "creditNoteId": cn.ID, "amount": r.Amount.String(),
		}); err != nil {
			return 0, nil, err
		}
		if err := s.emit(ctx, tx, emit, wc, outbox.EventJournalEntryCreated, "JournalEntry", string(entry.ID), journalEntryPayload(entry)); err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, refundView(r), nil
	})
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetCreditNote(ctx context.Context, tenantID ledger.TenantID, id string) (*CreditNoteView, error) {
	var view *CreditNoteView
	err := s.Store.Read(ctx, func(tx Tx) error {
		cn, err := tx.GetCreditNote(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if cn == nil {
			return ledger.NotFoundf("credit note %s not found", id)
		}
		view = creditNoteView(cn)
		return nil
	})
	return view, err
}

func (s *Service) ListCreditNotes(ctx context.Context, tenantID ledger.TenantID) ([]*CreditNoteView, error) {
	views := []*CreditNoteView{}
	err := s.Store.Read(ctx, func(tx Tx) error {
		cns, err := tx.ListCreditNotes(ctx, tenantID)
		if err != nil {
			return err
		}
		for _, cn := range cns {
			views = append(views, creditNoteView(cn))
		}
		return nil
	})
	return views, err
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) creditNoteForUpdate(ctx context.Context, tx Tx, tenantID ledger.TenantID, id string) (*CreditNote, error) {
	cn, err := tx.GetCreditNoteForUpdate(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if cn == nil {
		return nil, ledger.NotFoundf("credit note %s not found", id)
	}
	return cn, nil
}

// creditNoteLockKeys adds a stock key per (location, item) the source
// invoice issued from, since returns may land on any of them.
func (s *Service) creditNoteLockKeys(ctx context.Context, tenantID ledger.TenantID, creditNoteID string) ([]string, error) {
	keys := []string{locks.DocumentKey("credit_note:post", string(tenantID), creditNoteID)}
	err := s.Store.Read(ctx, func(tx Tx) error {
		cn, err := tx.GetCreditNote(ctx, tenantID, creditNoteID)
		if err != nil || cn == nil || cn.InvoiceID == "" {
			return err
		}
		moves, err := tx.StockMovesByReference(ctx, tenantID, "Invoice", cn.InvoiceID)
		if err != nil {
			return err
		}
		seen := map[string]bool{}
		for _, mv := range moves {
			k := locks.StockKey(string(tenantID), string(mv.LocationID), string(mv.ItemID))
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Service) setCreditNoteLines(ctx context.Context, tx Tx, cn *CreditNote, ins []CreditNoteLineInput) error {
	if len(ins) == 0 {
		return ledger.Validationf("credit note requires at least one line")
	}
	lines := make([]CreditNoteLine, 0, len(ins))
	subtotal, tax := money.Zero, money.Zero
	for _, in := range ins {
		if !in.Quantity.IsPositive() {
			return ledger.Validationf("line quantity must be positive")
		}
		if in.UnitPrice.IsNegative() || in.DiscountAmount.IsNegative() {
			return ledger.Validationf("line amounts must not be negative")
		}
		item, err := tx.GetItem(ctx, cn.TenantID, in.ItemID)
		if err != nil {
			return err
		}
		if item == nil {
			return ledger.NotFoundf("item %s not found", in.ItemID)
		}

		line := CreditNoteLine{
			ID:              uuid.NewString(),
			TenantID:        cn.TenantID,
			CreditNoteID:    cn.ID,
			ItemID:          inventory.ItemID(in.ItemID),
			InvoiceLineID:   in.InvoiceLineID,
			Description:     in.Description,
			Quantity:        in.Quantity,
			UnitPrice:       in.UnitPrice,
			DiscountAmount:  in.DiscountAmount,
			TaxRate:         in.TaxRate,
			IncomeAccountID: ledger.AccountID(in.IncomeAccountID),
		}
		lineSubtotal := line.Subtotal()
		if lineSubtotal.IsNegative() {
			return ledger.Validationf("line discount %s exceeds line subtotal", in.DiscountAmount)
		}
		line.TaxAmount = lineSubtotal.MulRate(in.TaxRate)
		subtotal = subtotal.Add(lineSubtotal)
		tax = tax.Add(line.TaxAmount)
		lines = append(lines, line)
	}
	cn.Lines = lines
	cn.Subtotal = subtotal
	cn.TaxAmount = tax
	cn.Total = subtotal.Add(tax)
	return nil
}

type creditNoteRevenueTotals struct {
	buckets  []*incomeBucket
	subtotal money.Money
	tax      money.Money
}

// creditNoteRevenue groups the credited subtotals per income account,
// resolving each line's account the same way invoice posting does: line
// override, then the item's income account, then the canonical Sales
// Income account.
func (s *Service) creditNoteRevenue(ctx context.Context, tx Tx, tenantID ledger.TenantID, lines []CreditNoteLine) (*creditNoteRevenueTotals, error) {
	rev := &creditNoteRevenueTotals{subtotal: money.Zero, tax: money.Zero}
	byAccount := map[ledger.AccountID]*incomeBucket{}
	for _, l := range lines {
		item, err := tx.GetItem(ctx, tenantID, string(l.ItemID))
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, ledger.NotFoundf("item %s not found", l.ItemID)
		}
		accountID := l.IncomeAccountID
		if accountID == "" {
			accountID = item.IncomeAccountID
		}
		if accountID == "" {
			acct, err := ledger.EnsureAccount(ctx, tx, tenantID, ledger.SalesIncomeAccount)
			if err != nil {
				return nil, err
			}
			accountID = acct.ID
		}
		lineSubtotal := l.Subtotal()
		rev.subtotal = rev.subtotal.Add(lineSubtotal)
		rev.tax = rev.tax.Add(lineSubtotal.MulRate(l.TaxRate))
		bucket := byAccount[accountID]
		if bucket == nil {
			bucket = &incomeBucket{accountID: accountID}
			byAccount[accountID] = bucket
			rev.buckets = append(rev.buckets, bucket)
		}
		bucket.amount = bucket.amount.Add(lineSubtotal)
	}
	return rev, nil
}

// restockReturn allocates one credit-note line's quantity FIFO across the
// source invoice's SALE_ISSUE moves for the item, net of prior returns,
// and applies a SALE_RETURN per allocated slice at that slice's original
// unit cost.
func (s *Service) restockReturn(ctx context.Context, tx Tx, wc WriteContext, cn *CreditNote, line CreditNoteLine) ([]*inventory.StockMove, money.Money, error) {
	issueMoves, err := tx.StockMovesByReference(ctx, wc.TenantID, "Invoice", cn.InvoiceID)
	if err != nil {
		return nil, money.Zero, err
	}
	var issues []*inventory.StockMove
	for _, mv := range issueMoves {
		if mv.Type == inventory.MoveSaleIssue && mv.ItemID == line.ItemID {
			issues = append(issues, mv)
		}
	}

	// Quantities already returned per location by prior POSTED credit notes.
	returned := map[ledger.LocationID]decimal.Decimal{}
	prior, err := tx.PostedCreditNotesForInvoice(ctx, wc.TenantID, cn.InvoiceID)
	if err != nil {
		return nil, money.Zero, err
	}
	for _, pcn := range prior {
		if pcn.ID == cn.ID {
			continue
		}
		moves, err := tx.StockMovesByReference(ctx, wc.TenantID, "CreditNote", pcn.ID)
		if err != nil {
			return nil, money.Zero, err
		}
		for _, mv := range moves {
			if mv.Type == inventory.MoveSaleReturn && mv.ItemID == line.ItemID {
				returned[mv.LocationID] = returned[mv.LocationID].Add(mv.Quantity)
			}
		}
	}

	remaining := line.Quantity
	var out []*inventory.StockMove
	cost := money.Zero
	for _, issue := range issues {
		if !remaining.IsPositive() {
			break
		}
		capacity := issue.Quantity
		if prev := returned[issue.LocationID]; prev.IsPositive() {
			consumed := decimal.Min(prev, capacity)
			capacity = capacity.Sub(consumed)
			returned[issue.LocationID] = prev.Sub(consumed)
		}
		if !capacity.IsPositive() {
			continue
		}
		take := decimal.Min(remaining, capacity)
		res, err := s.Stock.Apply(ctx, tx, inventory.MoveInput{
			TenantID:        wc.TenantID,
			LocationID:      issue.LocationID,
			ItemID:          line.ItemID,
			Date:            cn.Date,
			Type:            inventory.MoveSaleReturn,
			Direction:       inventory.DirectionIn,
			Quantity:        take,
			UnitCost:        issue.UnitCostApplied,
			ReferenceType:   "CreditNote",
			ReferenceID:     cn.ID,
			CorrelationID:   wc.CorrelationID,
			CreatedByUserID: wc.UserID,
		})
		if err != nil {
			return nil, money.Zero, err
		}
		out = append(out, res.Move)
		cost = cost.Add(res.Move.TotalCostApplied)
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		return nil, money.Zero, ledger.Errf(ledger.CodeOverReturn, http.StatusBadRequest,
			"return of %s units of item %s exceeds the invoice's remaining returnable quantity", line.Quantity, line.ItemID)
	}
	return out, cost, nil
}
