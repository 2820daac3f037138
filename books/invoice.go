/*
invoice.go - Invoice lifecycle: draft CRUD, approve, post, adjust, void

PURPOSE:
  DRAFT -> APPROVED -> POSTED -> {PARTIAL, PAID, VOID}. Drafts are fully
  editable; everything after posting is expressed as additional journal
  entries (adjustment delta, void reversal) instead of edits to the
  original posting.

POSTING:
  Recomputes the priced breakdown from the lines and refuses to post when
  the recomputed total drifts from the stored one (ROUNDING_MISMATCH).
  Tracked GOODS lines issue stock at the running weighted average cost and
  add the Dr COGS / Cr Inventory pair to the entry.
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

type InvoiceLineInput struct {
	ItemID          string          `json:"itemId" validate:"required"`
	Description     string          `json:"description"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       money.Money     `json:"unitPrice"`
	DiscountAmount  money.Money     `json:"discountAmount"`
	TaxRate         money.Rate      `json:"taxRate"`
	IncomeAccountID string          `json:"incomeAccountId"`
}

type CreateInvoiceInput struct {
	CustomerID  string             `json:"customerId" validate:"required"`
	InvoiceDate money.Date         `json:"invoiceDate"`
	DueDate     money.Date         `json:"dueDate"`
	Currency    string             `json:"currency" validate:"omitempty,len=3"`
	LocationID  string             `json:"locationId"`
	Lines       []InvoiceLineInput `json:"lines" validate:"min=1,dive"`
}

type UpdateInvoiceInput struct {
	InvoiceDate money.Date         `json:"invoiceDate"`
	DueDate     money.Date         `json:"dueDate"`
	LocationID  string             `json:"locationId"`
	Lines       []InvoiceLineInput `json:"lines" validate:"min=1,dive"`
}

type VoidInvoiceInput struct {
	Reason string `json:"reason" validate:"required"`
}

// =============================================================================
// DRAFT LIFECYCLE
// =============================================================================

// CreateInvoice creates a DRAFT invoice with computed totals. No journal
// entry is written until posting.
func (s *Service) CreateInvoice(ctx context.Context, wc WriteContext, in CreateInvoiceInput) (idempotency.Result, error) {
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
		if in.InvoiceDate.IsZero() {
			return 0, nil, ledger.Validationf("invoiceDate is required")
		}

		inv := &Invoice{
			ID:          uuid.NewString(),
			TenantID:    wc.TenantID,
			CustomerID:  in.CustomerID,
			Status:      StatusDraft,
			InvoiceDate: in.InvoiceDate,
			DueDate:     in.DueDate,
			Currency:    in.Currency,
			LocationID:  ledger.LocationID(in.LocationID),
			CreatedAt:   wc.Now,
			UpdatedAt:   wc.Now,
		}
		inv.Number, err = ledger.NextNumber(ctx, tx, wc.TenantID, ledger.DocInvoice)
		if err != nil {
			return 0, nil, err
		}
		if err := s.setInvoiceLines(ctx, tx, inv, in.Lines); err != nil {
			return 0, nil, err
		}

		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return 0, nil, err
		}
		if err := s.audit(ctx, tx, wc, "invoice.create", "Invoice", inv.ID, map[string]any{"number": inv.Number}); err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, invoiceView(inv), nil
	})
}

// UpdateInvoice replaces the header and lines of a DRAFT invoice.
func (s *Service) UpdateInvoice(ctx context.Context, wc WriteContext, invoiceID string, in UpdateInvoiceInput) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("invoice:update", string(wc.TenantID), invoiceID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, _ *eventBuffer) (int, any, error) {
		inv, err := s.invoiceForUpdate(ctx, tx, wc.TenantID, invoiceID)
		if err != nil {
			return 0, nil, err
		}
		if inv.Status != StatusDraft {
			return 0, nil, ledger.Statef("only DRAFT invoices can be edited, invoice %s is %s", inv.Number, inv.Status)
		}

		if !in.InvoiceDate.IsZero() {
			inv.InvoiceDate = in.InvoiceDate
		}
		inv.DueDate = in.DueDate
		inv.LocationID = ledger.LocationID(in.LocationID)
		if err := s.setInvoiceLines(ctx, tx, inv, in.Lines); err != nil {
			return 0, nil, err
		}
		inv.UpdatedAt = wc.Now

		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return 0, nil, err
		}
		if err := s.audit(ctx, tx, wc, "invoice.update", "Invoice", inv.ID, nil); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, invoiceView(inv), nil
	})
}

// DeleteInvoice removes a DRAFT invoice and its lines.
func (s *Service) DeleteInvoice(ctx context.Context, wc WriteContext, invoiceID string) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("invoice:update", string(wc.TenantID), invoiceID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, _ *eventBuffer) (int, any, error) {
		inv, err := s.invoiceForUpdate(ctx, tx, wc.TenantID, invoiceID)
		if err != nil {
			return 0, nil, err
		}
		if inv.Status != StatusDraft {
			return 0, nil, ledger.Statef("only DRAFT invoices can be deleted, invoice %s is %s", inv.Number, inv.Status)
		}
		if err := tx.DeleteInvoice(ctx, wc.TenantID, invoiceID); err != nil {
			return 0, nil, err
		}
		if err := s.audit(ctx, tx, wc, "invoice.delete", "Invoice", inv.ID, map[string]any{"number": inv.Number}); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, map[string]any{"deleted": true}, nil
	})
}

// ApproveInvoice moves DRAFT -> APPROVED.
func (s *Service) ApproveInvoice(ctx context.Context, wc WriteContext, invoiceID string) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("invoice:update", string(wc.TenantID), invoiceID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, _ *eventBuffer) (int, any, error) {
		inv, err := s.invoiceForUpdate(ctx, tx, wc.TenantID, invoiceID)
		if err != nil {
			return 0, nil, err
		}
		if inv.Status != StatusDraft {
			return 0, nil, ledger.Statef("only DRAFT invoices can be approved, invoice %s is %s", inv.Number, inv.Status)
		}
		inv.Status = StatusApproved
		inv.UpdatedAt = wc.Now
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return 0, nil, err
		}
		if err := s.audit(ctx, tx, wc, "invoice.approve", "Invoice", inv.ID, nil); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, invoiceView(inv), nil
	})
}

// =============================================================================
// POSTING
// =============================================================================

// PostInvoice turns a DRAFT/APPROVED invoice into an immutable journal
// entry, issuing stock for tracked lines at the running average cost.
func (s *Service) PostInvoice(ctx context.Context, wc WriteContext, invoiceID string) (idempotency.Result, error) {
	keys, err := s.invoiceLockKeys(ctx, wc.TenantID, invoiceID, "invoice:post")
	if err != nil {
		return idempotency.Result{}, err
	}

	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, emit *eventBuffer) (int, any, error) {
		company, err := requireCompany(ctx, tx, wc.TenantID)
		if err != nil {
			return 0, nil, err
		}
		inv, err := s.invoiceForUpdate(ctx, tx, wc.TenantID, invoiceID)
		if err != nil {
			return 0, nil, err
		}
		if inv.Status != StatusDraft && inv.Status != StatusApproved {
			return 0, nil, ledger.Statef("only DRAFT or APPROVED invoices can be posted, invoice %s is %s", inv.Number, inv.Status)
		}
		if err := checkCurrency(company, inv.Currency); err != nil {
			return 0, nil, err
		}
		if err := s.Periods.CheckOpen(ctx, wc.TenantID, inv.InvoiceDate, "invoice.post"); err != nil {
			return 0, nil, err
		}
		arAccount, err := requireConfiguredAccount(ctx, tx, wc.TenantID, company.AccountsReceivableAccountID, "accounts receivable", ledger.AccountAsset)
		if err != nil {
			return 0, nil, err
		}

		breakdown, err := s.priceInvoiceLines(ctx, tx, wc.TenantID, inv.Lines)
		if err != nil {
			return 0, nil, err
		}
		recomputed := breakdown.subtotal.Add(breakdown.tax)
		if !recomputed.Equal(inv.Total) {
			return 0, nil, ledger.Errf(ledger.CodeRoundingMismatch, http.StatusBadRequest,
				"recomputed total %s does not match stored total %s for invoice %s", recomputed, inv.Total, inv.Number)
		}

		// Stock issues for tracked lines, at WAC.
		today := companyToday(company)
		totalCOGS := money.Zero
		var issuedMoves []*inventory.StockMove
		var recalcFrom []*money.Date
		for i := range inv.Lines {
			line := &inv.Lines[i]
			item := breakdown.items[line.ID]
			if !trackedGoods(item) {
				continue
			}
			if inv.InvoiceDate.After(today) {
				return 0, nil, ledger.Errf(ledger.CodeFutureInventory, http.StatusBadRequest,
					"cannot issue inventory on a future date %s for item %s", inv.InvoiceDate, item.Name)
			}
			locID, err := resolveLineLocation(ctx, tx, company, inv.LocationID, item)
			if err != nil {
				return 0, nil, err
			}
			line.LocationID = locID

			res, err := s.Stock.Apply(ctx, tx, inventory.MoveInput{
				TenantID:        wc.TenantID,
				LocationID:      locID,
				ItemID:          line.ItemID,
				Date:            inv.InvoiceDate,
				Type:            inventory.MoveSaleIssue,
				Direction:       inventory.DirectionOut,
				Quantity:        line.Quantity,
				ReferenceType:   "Invoice",
				ReferenceID:     inv.ID,
				CorrelationID:   wc.CorrelationID,
				CreatedByUserID: wc.UserID,
			})
			if err != nil {
				return 0, nil, err
			}
			totalCOGS = totalCOGS.Add(res.Move.TotalCostApplied)
			issuedMoves = append(issuedMoves, res.Move)
			if res.RecalcRequiredFrom != nil {
				recalcFrom = append(recalcFrom, res.RecalcRequiredFrom)
			}
		}

		lines := []ledger.Line{ledger.Debit(arAccount.ID, inv.Total)}
		for _, bucket := range breakdown.buckets {
			lines = append(lines, ledger.Credit(bucket.accountID, bucket.amount))
		}
		if breakdown.tax.IsPositive() {
			taxAcct, err := ledger.EnsureAccount(ctx, tx, wc.TenantID, ledger.TaxPayableAccount)
			if err != nil {
				return 0, nil, err
			}
			lines = append(lines, ledger.Credit(taxAcct.ID, breakdown.tax))
		}
		if totalCOGS.IsPositive() {
			cogsAcct, err := requireConfiguredAccount(ctx, tx, wc.TenantID, company.COGSAccountID, "cost of goods sold", ledger.AccountExpense)
			if err != nil {
				return 0, nil, err
			}
			invAcct, err := requireConfiguredAccount(ctx, tx, wc.TenantID, company.InventoryAssetAccountID, "inventory asset", ledger.AccountAsset)
			if err != nil {
				return 0, nil, err
			}
			lines = append(lines, ledger.Debit(cogsAcct.ID, totalCOGS), ledger.Credit(invAcct.ID, totalCOGS))
		}

		entry, err := s.Poster.Post(ctx, tx, ledger.PostInput{
			TenantID:        wc.TenantID,
			Date:            inv.InvoiceDate,
			Description:     fmt.Sprintf("Invoice %s", inv.Number),
			Lines:           lines,
			CreatedByUserID: wc.UserID,
			LocationID:      inv.LocationID,
		})
		if err != nil {
			return 0, nil, err
		}
		for _, mv := range issuedMoves {
			if err := tx.LinkStockMoveJournalEntry(ctx, wc.TenantID, mv.ID, entry.ID); err != nil {
				return 0, nil, err
			}
		}

		inv.Status = StatusPosted
		inv.Subtotal = breakdown.subtotal
		inv.TaxAmount = breakdown.tax
		inv.Total = recomputed
		inv.AmountPaid = money.Zero
		inv.JournalEntryID = entry.ID
		inv.UpdatedAt = wc.Now
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return 0, nil, err
		}

		if err := s.audit(ctx, tx, wc, "invoice.post", "Invoice", inv.ID, map[string]any{
			"number": inv.Number, "journalEntryId": string(entry.ID), "total": inv.Total.String(),
		}); err != nil {
			return 0, nil, err
		}
		if err := s.emit(ctx, tx, emit, wc, outbox.EventJournalEntryCreated, "JournalEntry", string(entry.ID), journalEntryPayload(entry)); err != nil {
			return 0, nil, err
		}
		if err := s.emit(ctx, tx, emit, wc, outbox.EventInvoicePosted, "Invoice", inv.ID, map[string]any{
			"invoiceId": inv.ID, "number": inv.Number, "customerId": inv.CustomerID,
			"total": inv.Total.String(), "journalEntryId": string(entry.ID),
		}); err != nil {
			return 0, nil, err
		}
		for _, d := range recalcFrom {
			if err := s.emit(ctx, tx, emit, wc, outbox.EventInventoryRecalc, "Invoice", inv.ID, map[string]any{
				"fromDate": d.String(),
			}); err != nil {
				return 0, nil, err
			}
		}
		return http.StatusOK, invoiceView(inv), nil
	})
}

// =============================================================================
// ADJUST (POSTED EDIT)
// =============================================================================

// AdjustInvoice edits a posted invoice by posting the per-account net
// delta between the original posting and the desired one. A prior active
// adjustment is reversed first (superseded). Inventory-tracked invoices
// cannot be adjusted.
func (s *Service) AdjustInvoice(ctx context.Context, wc WriteContext, invoiceID string, in UpdateInvoiceInput) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("invoice:adjust", string(wc.TenantID), invoiceID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, emit *eventBuffer) (int, any, error) {
		company, err := requireCompany(ctx, tx, wc.TenantID)
		if err != nil {
			return 0, nil, err
		}
		inv, err := s.invoiceForUpdate(ctx, tx, wc.TenantID, invoiceID)
		if err != nil {
			return 0, nil, err
		}
		if inv.Status != StatusPosted {
			return 0, nil, ledger.Statef("only POSTED invoices can be adjusted, invoice %s is %s", inv.Number, inv.Status)
		}
		payments, err := tx.PaymentsForDocument(ctx, wc.TenantID, KindInvoice, inv.ID)
		if err != nil {
			return 0, nil, err
		}
		if nonReversedTotal(payments).IsPositive() {
			return 0, nil, ledger.Statef("cannot adjust invoice %s: payments have been recorded", inv.Number)
		}
		notes, err := tx.PostedCreditNotesForInvoice(ctx, wc.TenantID, inv.ID)
		if err != nil {
			return 0, nil, err
		}
		if len(notes) > 0 {
			return 0, nil, ledger.Statef("cannot adjust invoice %s: posted credit notes are linked", inv.Number)
		}
		if err := s.Periods.CheckOpen(ctx, wc.TenantID, inv.InvoiceDate, "invoice.adjust"); err != nil {
			return 0, nil, err
		}

		// Existing or desired tracked lines force void+reissue instead.
		for _, l := range inv.Lines {
			item, err := tx.GetItem(ctx, wc.TenantID, string(l.ItemID))
			if err != nil {
				return 0, nil, err
			}
			if trackedGoods(item) {
				return 0, nil, ledger.Errf(ledger.CodeCannotAdjust, http.StatusBadRequest,
					"cannot adjust an inventory-tracked invoice (use credit note / void + reissue)")
			}
		}
		for _, l := range in.Lines {
			item, err := tx.GetItem(ctx, wc.TenantID, l.ItemID)
			if err != nil {
				return 0, nil, err
			}
			if trackedGoods(item) {
				return 0, nil, ledger.Errf(ledger.CodeCannotAdjust, http.StatusBadRequest,
					"cannot adjust an inventory-tracked invoice (use credit note / void + reissue)")
			}
		}

		original, err := tx.GetJournalEntry(ctx, wc.TenantID, inv.JournalEntryID)
		if err != nil {
			return 0, nil, err
		}
		if original == nil {
			return 0, nil, ledger.NotFoundf("posting journal entry %s not found", inv.JournalEntryID)
		}

		// Supersede the prior adjustment before computing the new delta.
		if inv.LastAdjustmentJournalEntryID != "" {
			if err := s.reverseEntry(ctx, tx, emit, wc, inv.LastAdjustmentJournalEntryID, "superseded by new adjustment", inv.InvoiceDate, inv.LocationID); err != nil {
				return 0, nil, err
			}
			inv.LastAdjustmentJournalEntryID = ""
		}

		// Desired posting built with the same line semantics as PostInvoice.
		if !in.InvoiceDate.IsZero() {
			inv.InvoiceDate = in.InvoiceDate
		}
		inv.DueDate = in.DueDate
		if err := s.setInvoiceLines(ctx, tx, inv, in.Lines); err != nil {
			return 0, nil, err
		}
		breakdown, err := s.priceInvoiceLines(ctx, tx, wc.TenantID, inv.Lines)
		if err != nil {
			return 0, nil, err
		}

		arAccount, err := requireConfiguredAccount(ctx, tx, wc.TenantID, company.AccountsReceivableAccountID, "accounts receivable", ledger.AccountAsset)
		if err != nil {
			return 0, nil, err
		}
		desired := []ledger.Line{ledger.Debit(arAccount.ID, breakdown.subtotal.Add(breakdown.tax))}
		for _, bucket := range breakdown.buckets {
			desired = append(desired, ledger.Credit(bucket.accountID, bucket.amount))
		}
		if breakdown.tax.IsPositive() {
			taxAcct, err := ledger.EnsureAccount(ctx, tx, wc.TenantID, ledger.TaxPayableAccount)
			if err != nil {
				return 0, nil, err
			}
			desired = append(desired, ledger.Credit(taxAcct.ID, breakdown.tax))
		}

		adjLines, err := ledger.AdjustmentLines(ledger.LinesOf(original.Lines), desired)
		if err != nil {
			return 0, nil, err
		}
		if adjLines != nil {
			entry, err := s.Poster.Post(ctx, tx, ledger.PostInput{
				TenantID:        wc.TenantID,
				Date:            inv.InvoiceDate,
				Description:     fmt.Sprintf("Adjustment of invoice %s", inv.Number),
				Lines:           adjLines,
				CreatedByUserID: wc.UserID,
				LocationID:      inv.LocationID,
			})
			if err != nil {
				return 0, nil, err
			}
			inv.LastAdjustmentJournalEntryID = entry.ID
			if err := s.emit(ctx, tx, emit, wc, outbox.EventJournalEntryCreated, "JournalEntry", string(entry.ID), journalEntryPayload(entry)); err != nil {
				return 0, nil, err
			}
		}

		inv.Subtotal = breakdown.subtotal
		inv.TaxAmount = breakdown.tax
		inv.Total = breakdown.subtotal.Add(breakdown.tax)
		inv.Status = statusForPaid(inv.Total, inv.AmountPaid)
		inv.UpdatedAt = wc.Now
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return 0, nil, err
		}
		if err := s.audit(ctx, tx, wc, "invoice.adjust", "Invoice", inv.ID, map[string]any{
			"number": inv.Number, "total": inv.Total.String(),
		}); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, invoiceView(inv), nil
	})
}

// =============================================================================
// VOID
// =============================================================================

// VoidInvoice reverses the posting entry (and any active adjustment) and
// restocks tracked lines at the originally issued cost.
func (s *Service) VoidInvoice(ctx context.Context, wc WriteContext, invoiceID string, in VoidInvoiceInput) (idempotency.Result, error) {
	keys, err := s.invoiceLockKeys(ctx, wc.TenantID, invoiceID, "invoice:void")
	if err != nil {
		return idempotency.Result{}, err
	}

	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, emit *eventBuffer) (int, any, error) {
		inv, err := s.invoiceForUpdate(ctx, tx, wc.TenantID, invoiceID)
		if err != nil {
			return 0, nil, err
		}
		if inv.Status != StatusPosted {
			return 0, nil, ledger.Statef("only POSTED invoices can be voided, invoice %s is %s", inv.Number, inv.Status)
		}
		payments, err := tx.PaymentsForDocument(ctx, wc.TenantID, KindInvoice, inv.ID)
		if err != nil {
			return 0, nil, err
		}
		if nonReversedTotal(payments).IsPositive() {
			return 0, nil, ledger.Statef("cannot void invoice %s: reverse its payments first", inv.Number)
		}
		notes, err := tx.PostedCreditNotesForInvoice(ctx, wc.TenantID, inv.ID)
		if err != nil {
			return 0, nil, err
		}
		if len(notes) > 0 {
			return 0, nil, ledger.Statef("cannot void invoice %s: posted credit notes are linked", inv.Number)
		}
		if err := s.Periods.CheckOpen(ctx, wc.TenantID, inv.InvoiceDate, "invoice.void"); err != nil {
			return 0, nil, err
		}

		if inv.LastAdjustmentJournalEntryID != "" {
			if err := s.reverseEntry(ctx, tx, emit, wc, inv.LastAdjustmentJournalEntryID, "voided with invoice "+inv.Number, inv.InvoiceDate, inv.LocationID); err != nil {
				return 0, nil, err
			}
			inv.LastAdjustmentJournalEntryID = ""
		}

		original, err := tx.GetJournalEntry(ctx, wc.TenantID, inv.JournalEntryID)
		if err != nil {
			return 0, nil, err
		}
		if original == nil {
			return 0, nil, ledger.NotFoundf("posting journal entry %s not found", inv.JournalEntryID)
		}
		reversal, err := s.Poster.Post(ctx, tx, ledger.PostInput{
			TenantID:                 wc.TenantID,
			Date:                     inv.InvoiceDate,
			Description:              fmt.Sprintf("Void of invoice %s", inv.Number),
			Lines:                    ledger.ReverseLines(original.Lines),
			CreatedByUserID:          wc.UserID,
			LocationID:               inv.LocationID,
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

		// Restock at the exact issued value, read back from move history.
		moves, err := tx.StockMovesByReference(ctx, wc.TenantID, "Invoice", inv.ID)
		if err != nil {
			return 0, nil, err
		}
		for _, mv := range moves {
			if mv.Type != inventory.MoveSaleIssue {
				continue
			}
			total := mv.TotalCostApplied
			res, err := s.Stock.Apply(ctx, tx, inventory.MoveInput{
				TenantID:          wc.TenantID,
				LocationID:        mv.LocationID,
				ItemID:            mv.ItemID,
				Date:              inv.InvoiceDate,
				Type:              inventory.MoveSaleReturn,
				Direction:         inventory.DirectionIn,
				Quantity:          mv.Quantity,
				UnitCost:          mv.UnitCostApplied,
				TotalCostOverride: &total,
				ReferenceType:     "InvoiceVoid",
				ReferenceID:       inv.ID,
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

		inv.Status = StatusVoid
		inv.VoidJournalEntryID = reversal.ID
		inv.UpdatedAt = wc.Now
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return 0, nil, err
		}

		if err := s.audit(ctx, tx, wc, "invoice.void", "Invoice", inv.ID, map[string]any{
			"number": inv.Number, "reason": in.Reason, "reversalJournalEntryId": string(reversal.ID),
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
		return http.StatusOK, invoiceView(inv), nil
	})
}

// =============================================================================
// PUBLIC LINK
// =============================================================================

// CreateInvoicePublicLink mints the opaque token behind the invoice's
// customer-facing share link. Minting again rotates the token, so old
// links stop resolving.
func (s *Service) CreateInvoicePublicLink(ctx context.Context, wc WriteContext, invoiceID string) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("invoice:update", string(wc.TenantID), invoiceID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, _ *eventBuffer) (int, any, error) {
		inv, err := s.invoiceForUpdate(ctx, tx, wc.TenantID, invoiceID)
		if err != nil {
			return 0, nil, err
		}
		if inv.Status == StatusDraft || inv.Status == StatusVoid {
			return 0, nil, ledger.Statef("cannot share invoice %s while it is %s", inv.Number, inv.Status)
		}

		inv.PublicLinkToken = uuid.NewString()
		inv.UpdatedAt = wc.Now
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return 0, nil, err
		}
		if err := s.audit(ctx, tx, wc, "invoice.public_link", "Invoice", inv.ID, map[string]any{
			"number": inv.Number,
		}); err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, map[string]any{
			"invoiceId": inv.ID,
			"token":     inv.PublicLinkToken,
		}, nil
	})
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetInvoice(ctx context.Context, tenantID ledger.TenantID, invoiceID string) (*InvoiceView, error) {
	var view *InvoiceView
	err := s.Store.Read(ctx, func(tx Tx) error {
		inv, err := tx.GetInvoice(ctx, tenantID, invoiceID)
		if err != nil {
			return err
		}
		if inv == nil {
			return ledger.NotFoundf("invoice %s not found", invoiceID)
		}
		view = invoiceView(inv)
		return nil
	})
	return view, err
}

func (s *Service) ListInvoices(ctx context.Context, tenantID ledger.TenantID) ([]*InvoiceView, error) {
	views := []*InvoiceView{}
	err := s.Store.Read(ctx, func(tx Tx) error {
		invs, err := tx.ListInvoices(ctx, tenantID)
		if err != nil {
			return err
		}
		for _, inv := range invs {
			views = append(views, invoiceView(inv))
		}
		return nil
	})
	return views, err
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) invoiceForUpdate(ctx context.Context, tx Tx, tenantID ledger.TenantID, id string) (*Invoice, error) {
	inv, err := tx.GetInvoiceForUpdate(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ledger.NotFoundf("invoice %s not found", id)
	}
	return inv, nil
}

// invoiceLockKeys computes the document lock plus one stock lock per
// tracked line, before any lock is taken.
func (s *Service) invoiceLockKeys(ctx context.Context, tenantID ledger.TenantID, invoiceID, scope string) ([]string, error) {
	keys := []string{locks.DocumentKey(scope, string(tenantID), invoiceID)}
	err := s.Store.Read(ctx, func(tx Tx) error {
		inv, err := tx.GetInvoice(ctx, tenantID, invoiceID)
		if err != nil || inv == nil {
			return err
		}
		company, err := tx.GetCompany(ctx, tenantID)
		if err != nil || company == nil {
			return err
		}
		for _, l := range inv.Lines {
			item, err := tx.GetItem(ctx, tenantID, string(l.ItemID))
			if err != nil {
				return err
			}
			if !trackedGoods(item) {
				continue
			}
			locID := l.LocationID
			if locID == "" {
				locID, err = resolveLineLocation(ctx, tx, company, inv.LocationID, item)
				if err != nil {
					return err
				}
			}
			keys = append(keys, locks.StockKey(string(tenantID), string(locID), string(l.ItemID)))
		}
		return nil
	})
	if err != nil {
		if _, ok := ledger.AsDomain(err); ok {
			// Location resolution failures re-surface inside the transaction
			// with full context; lock computation stays best-effort.
			return keys, nil
		}
		return nil, err
	}
	return keys, nil
}

// setInvoiceLines validates and prices the input lines onto the invoice.
func (s *Service) setInvoiceLines(ctx context.Context, tx Tx, inv *Invoice, ins []InvoiceLineInput) error {
	if len(ins) == 0 {
		return ledger.Validationf("invoice requires at least one line")
	}
	lines := make([]InvoiceLine, 0, len(ins))
	subtotal, tax := money.Zero, money.Zero
	for _, in := range ins {
		if !in.Quantity.IsPositive() {
			return ledger.Validationf("line quantity must be positive")
		}
		if in.UnitPrice.IsNegative() || in.DiscountAmount.IsNegative() {
			return ledger.Validationf("line amounts must not be negative")
		}
		item, err := tx.GetItem(ctx, inv.TenantID, in.ItemID)
		if err != nil {
			return err
		}
		if item == nil {
			return ledger.NotFoundf("item %s not found", in.ItemID)
		}

		line := InvoiceLine{
			ID:              uuid.NewString(),
			TenantID:        inv.TenantID,
			InvoiceID:       inv.ID,
			ItemID:          inventory.ItemID(in.ItemID),
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
	inv.Lines = lines
	inv.Subtotal = subtotal
	inv.TaxAmount = tax
	inv.Total = subtotal.Add(tax)
	return nil
}

// incomeBucket accumulates credited revenue per account, in first-seen
// line order.
type incomeBucket struct {
	accountID ledger.AccountID
	amount    money.Money
}

type invoiceBreakdown struct {
	subtotal money.Money
	tax      money.Money
	buckets  []*incomeBucket
	items    map[string]*Item // keyed by line id
}

// priceInvoiceLines recomputes subtotals and tax from the stored lines and
// groups revenue by resolved income account. Resolution order: line
// account -> item account -> canonical Sales Income (lazily created).
func (s *Service) priceInvoiceLines(ctx context.Context, tx Tx, tenantID ledger.TenantID, lines []InvoiceLine) (*invoiceBreakdown, error) {
	bd := &invoiceBreakdown{subtotal: money.Zero, tax: money.Zero, items: map[string]*Item{}}
	byAccount := map[ledger.AccountID]*incomeBucket{}

	for _, l := range lines {
		item, err := tx.GetItem(ctx, tenantID, string(l.ItemID))
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, ledger.NotFoundf("item %s not found", l.ItemID)
		}
		bd.items[l.ID] = item

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
		acct, err := tx.GetAccount(ctx, tenantID, accountID)
		if err != nil {
			return nil, err
		}
		if acct == nil {
			return nil, ledger.NotFoundf("income account %s not found", accountID)
		}
		if acct.Type != ledger.AccountIncome {
			return nil, ledger.Configf("income account %s (%s) must be INCOME, got %s", acct.Code, acct.Name, acct.Type)
		}

		lineSubtotal := l.Subtotal()
		lineTax := lineSubtotal.MulRate(l.TaxRate)
		bd.subtotal = bd.subtotal.Add(lineSubtotal)
		bd.tax = bd.tax.Add(lineTax)

		bucket := byAccount[accountID]
		if bucket == nil {
			bucket = &incomeBucket{accountID: accountID}
			byAccount[accountID] = bucket
			bd.buckets = append(bd.buckets, bucket)
		}
		bucket.amount = bucket.amount.Add(lineSubtotal)
	}
	return bd, nil
}

// reverseEntry posts the swapped-lines reversal of an existing entry and
// emits the created/reversed event pair.
func (s *Service) reverseEntry(ctx context.Context, tx Tx, emit *eventBuffer, wc WriteContext, id ledger.JournalEntryID, reason string, date money.Date, locationID ledger.LocationID) error {
	entry, err := tx.GetJournalEntry(ctx, wc.TenantID, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return ledger.NotFoundf("journal entry %s not found", id)
	}
	reversal, err := s.Poster.Post(ctx, tx, ledger.PostInput{
		TenantID:                 wc.TenantID,
		Date:                     date,
		Description:              fmt.Sprintf("Reversal of %s", entry.Description),
		Lines:                    ledger.ReverseLines(entry.Lines),
		CreatedByUserID:          wc.UserID,
		LocationID:               locationID,
		ReversalOfJournalEntryID: entry.ID,
		ReversalReason:           reason,
		SkipAccountValidation:    true,
	})
	if err != nil {
		return err
	}
	if err := s.emit(ctx, tx, emit, wc, outbox.EventJournalEntryCreated, "JournalEntry", string(reversal.ID), journalEntryPayload(reversal)); err != nil {
		return err
	}
	return s.emit(ctx, tx, emit, wc, outbox.EventJournalEntryReversed, "JournalEntry", string(entry.ID), map[string]any{
		"journalEntryId": string(entry.ID), "reversalJournalEntryId": string(reversal.ID), "reason": reason,
	})
}

func journalEntryPayload(e *ledger.JournalEntry) map[string]any {
	lines := make([]map[string]any, 0, len(e.Lines))
	for _, l := range e.Lines {
		lines = append(lines, map[string]any{
			"accountId": string(l.AccountID), "debit": l.Debit.String(), "credit": l.Credit.String(),
		})
	}
	return map[string]any{
		"journalEntryId": string(e.ID),
		"date":           e.Date.String(),
		"description":    e.Description,
		"lines":          lines,
	}
}

func trackedGoods(item *Item) bool {
	return item != nil && item.Kind == ItemGoods && item.TrackInventory
}
