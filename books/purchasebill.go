/*
purchasebill.go - Purchase bill lifecycle

PURPOSE:
  DRAFT -> POSTED -> {PARTIAL, PAID}. Posting receives tracked lines into
  inventory at the line unit cost (feeding the weighted average) and
  debits the expense account for the rest: Dr Inventory-or-Expense
  (+ Dr Tax) / Cr AP.
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

type PurchaseBillLineInput struct {
	ItemID           string          `json:"itemId"`
	Description      string          `json:"description"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitCost         money.Money     `json:"unitCost"`
	TaxRate          money.Rate      `json:"taxRate"`
	ExpenseAccountID string          `json:"expenseAccountId"`
	LocationID       string          `json:"locationId"`
}

type CreatePurchaseBillInput struct {
	VendorID   string                  `json:"vendorId" validate:"required"`
	BillDate   money.Date              `json:"billDate"`
	DueDate    money.Date              `json:"dueDate"`
	Currency   string                  `json:"currency" validate:"omitempty,len=3"`
	LocationID string                  `json:"locationId"`
	Lines      []PurchaseBillLineInput `json:"lines" validate:"min=1,dive"`
}

type UpdatePurchaseBillInput struct {
	BillDate money.Date              `json:"billDate"`
	DueDate  money.Date              `json:"dueDate"`
	Lines    []PurchaseBillLineInput `json:"lines" validate:"min=1,dive"`
}

// =============================================================================
// DRAFT LIFECYCLE
// =============================================================================

// CreatePurchaseBill creates a DRAFT purchase bill.
func (s *Service) CreatePurchaseBill(ctx context.Context, wc WriteContext, in CreatePurchaseBillInput) (idempotency.Result, error) {
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
		if in.BillDate.IsZero() {
			return 0, nil, ledger.Validationf("billDate is required")
		}

		b := &PurchaseBill{
			ID:         uuid.NewString(),
			TenantID:   wc.TenantID,
			VendorID:   in.VendorID,
			Status:     StatusDraft,
			BillDate:   in.BillDate,
			DueDate:    in.DueDate,
			Currency:   in.Currency,
			LocationID: ledger.LocationID(in.LocationID),
			CreatedAt:  wc.Now,
			UpdatedAt:  wc.Now,
		}
		b.Number, err = ledger.NextNumber(ctx, tx, wc.TenantID, ledger.DocPurchaseBill)
		if err != nil {
			return 0, nil, err
		}
		if err := s.setPurchaseBillLines(ctx, tx, b, in.Lines); err != nil {
			return 0, nil, err
		}

		if err := tx.InsertPurchaseBill(ctx, b); err != nil {
			return 0, nil, err
		}
		if err := s.audit(ctx, tx, wc, "purchase_bill.create", "PurchaseBill", b.ID, map[string]any{"number": b.Number}); err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, purchaseBillView(b), nil
	})
}

// UpdatePurchaseBill replaces the header and lines of a DRAFT bill.
func (s *Service) UpdatePurchaseBill(ctx context.Context, wc WriteContext, billID string, in UpdatePurchaseBillInput) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("bill:update", string(wc.TenantID), billID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, _ *eventBuffer) (int, any, error) {
		b, err := s.billForUpdate(ctx, tx, wc.TenantID, billID)
		if err != nil {
			return 0, nil, err
		}
		if b.Status != StatusDraft {
			return 0, nil, ledger.Statef("only DRAFT purchase bills can be edited, bill %s is %s", b.Number, b.Status)
		}
		if !in.BillDate.IsZero() {
			b.BillDate = in.BillDate
		}
		b.DueDate = in.DueDate
		if err := s.setPurchaseBillLines(ctx, tx, b, in.Lines); err != nil {
			return 0, nil, err
		}
		b.UpdatedAt = wc.Now
		if err := tx.UpdatePurchaseBill(ctx, b); err != nil {
			return 0, nil, err
		}
		if err := s.audit(ctx, tx, wc, "purchase_bill.update", "PurchaseBill", b.ID, nil); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, purchaseBillView(b), nil
	})
}

// =============================================================================
// POSTING
// =============================================================================

// PostPurchaseBill receives tracked lines into stock at line cost and
// posts Dr Inventory-or-Expense (+ Dr Tax) / Cr AP.
func (s *Service) PostPurchaseBill(ctx context.Context, wc WriteContext, billID string) (idempotency.Result, error) {
	keys, err := s.billLockKeys(ctx, wc.TenantID, billID)
	if err != nil {
		return idempotency.Result{}, err
	}

	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, emit *eventBuffer) (int, any, error) {
		company, err := requireCompany(ctx, tx, wc.TenantID)
		if err != nil {
			return 0, nil, err
		}
		b, err := s.billForUpdate(ctx, tx, wc.TenantID, billID)
		if err != nil {
			return 0, nil, err
		}
		if b.Status != StatusDraft {
			return 0, nil, ledger.Statef("only DRAFT purchase bills can be posted, bill %s is %s", b.Number, b.Status)
		}
		if err := checkCurrency(company, b.Currency); err != nil {
			return 0, nil, err
		}
		if err := s.Periods.CheckOpen(ctx, wc.TenantID, b.BillDate, "purchase_bill.post"); err != nil {
			return 0, nil, err
		}
		apAccount, err := requireConfiguredAccount(ctx, tx, wc.TenantID, company.AccountsPayableAccountID, "accounts payable", ledger.AccountLiability)
		if err != nil {
			return 0, nil, err
		}

		today := companyToday(company)
		subtotal, tax := money.Zero, money.Zero
		inventoryCost := money.Zero
		var receiptMoves []*inventory.StockMove
		var recalcFrom []*money.Date
		var buckets []*incomeBucket
		byAccount := map[ledger.AccountID]*incomeBucket{}

		for i := range b.Lines {
			line := &b.Lines[i]
			lineSubtotal := line.Subtotal()
			lineTax := lineSubtotal.MulRate(line.TaxRate)
			subtotal = subtotal.Add(lineSubtotal)
			tax = tax.Add(lineTax)

			item, err := tx.GetItem(ctx, wc.TenantID, string(line.ItemID))
			if err != nil {
				return 0, nil, err
			}
			if trackedGoods(item) {
				if b.BillDate.After(today) {
					return 0, nil, ledger.Errf(ledger.CodeFutureInventory, http.StatusBadRequest,
						"cannot receive inventory on a future date %s for item %s", b.BillDate, item.Name)
				}
				locID := line.LocationID
				if locID == "" {
					locID, err = resolveLineLocation(ctx, tx, company, b.LocationID, item)
					if err != nil {
						return 0, nil, err
					}
					line.LocationID = locID
				}
				res, err := s.Stock.Apply(ctx, tx, inventory.MoveInput{
					TenantID:        wc.TenantID,
					LocationID:      locID,
					ItemID:          line.ItemID,
					Date:            b.BillDate,
					Type:            inventory.MovePurchaseReceipt,
					Direction:       inventory.DirectionIn,
					Quantity:        line.Quantity,
					UnitCost:        line.UnitCost,
					ReferenceType:   "PurchaseBill",
					ReferenceID:     b.ID,
					CorrelationID:   wc.CorrelationID,
					CreatedByUserID: wc.UserID,
				})
				if err != nil {
					return 0, nil, err
				}
				inventoryCost = inventoryCost.Add(res.Move.TotalCostApplied)
				receiptMoves = append(receiptMoves, res.Move)
				if res.RecalcRequiredFrom != nil {
					recalcFrom = append(recalcFrom, res.RecalcRequiredFrom)
				}
				continue
			}

			// Non-tracked line cost goes to its expense account.
			accountID := line.ExpenseAccountID
			if accountID == "" && item != nil {
				accountID = item.ExpenseAccountID
			}
			if accountID == "" {
				return 0, nil, ledger.Configf("purchase bill line for item %s has no expense account", line.ItemID)
			}
			acct, err := tx.GetAccount(ctx, wc.TenantID, accountID)
			if err != nil {
				return 0, nil, err
			}
			if acct == nil {
				return 0, nil, ledger.NotFoundf("expense account %s not found", accountID)
			}
			if acct.Type != ledger.AccountExpense {
				return 0, nil, ledger.Configf("expense account %s (%s) must be EXPENSE, got %s", acct.Code, acct.Name, acct.Type)
			}
			bucket := byAccount[accountID]
			if bucket == nil {
				bucket = &incomeBucket{accountID: accountID}
				byAccount[accountID] = bucket
				buckets = append(buckets, bucket)
			}
			bucket.amount = bucket.amount.Add(lineSubtotal)
		}

		total := subtotal.Add(tax)
		if !total.Equal(b.Total) {
			return 0, nil, ledger.Errf(ledger.CodeRoundingMismatch, http.StatusBadRequest,
				"recomputed total %s does not match stored total %s for bill %s", total, b.Total, b.Number)
		}

		lines := []ledger.Line{}
		if inventoryCost.IsPositive() {
			invAcct, err := requireConfiguredAccount(ctx, tx, wc.TenantID, company.InventoryAssetAccountID, "inventory asset", ledger.AccountAsset)
			if err != nil {
				return 0, nil, err
			}
			lines = append(lines, ledger.Debit(invAcct.ID, inventoryCost))
		}
		for _, bucket := range buckets {
			lines = append(lines, ledger.Debit(bucket.accountID, bucket.amount))
		}
		if tax.IsPositive() {
			taxAcct, err := ledger.EnsureAccount(ctx, tx, wc.TenantID, ledger.TaxPayableAccount)
			if err != nil {
				return 0, nil, err
			}
			lines = append(lines, ledger.Debit(taxAcct.ID, tax))
		}
		lines = append(lines, ledger.Credit(apAccount.ID, total))

		entry, err := s.Poster.Post(ctx, tx, ledger.PostInput{
			TenantID:        wc.TenantID,
			Date:            b.BillDate,
			Description:     fmt.Sprintf("Purchase bill %s", b.Number),
			Lines:           lines,
			CreatedByUserID: wc.UserID,
			LocationID:      b.LocationID,
		})
		if err != nil {
			return 0, nil, err
		}
		for _, mv := range receiptMoves {
			if err := tx.LinkStockMoveJournalEntry(ctx, wc.TenantID, mv.ID, entry.ID); err != nil {
				return 0, nil, err
			}
		}

		b.Status = StatusPosted
		b.Subtotal = subtotal
		b.TaxAmount = tax
		b.Total = total
		b.AmountPaid = money.Zero
		b.JournalEntryID = entry.ID
		b.UpdatedAt = wc.Now
		if err := tx.UpdatePurchaseBill(ctx, b); err != nil {
			return 0, nil, err
		}

		if err := s.audit(ctx, tx, wc, "purchase_bill.post", "PurchaseBill", b.ID, map[string]any{
			"number": b.Number, "journalEntryId": string(entry.ID), "total": b.Total.String(),
		}); err != nil {
			return 0, nil, err
		}
		if err := s.emit(ctx, tx, emit, wc, outbox.EventJournalEntryCreated, "JournalEntry", string(entry.ID), journalEntryPayload(entry)); err != nil {
			return 0, nil, err
		}
		if err := s.emit(ctx, tx, emit, wc, outbox.EventBillPosted, "PurchaseBill", b.ID, map[string]any{
			"purchaseBillId": b.ID, "number": b.Number, "vendorId": b.VendorID,
			"total": b.Total.String(), "journalEntryId": string(entry.ID),
		}); err != nil {
			return 0, nil, err
		}
		for _, d := range recalcFrom {
			if err := s.emit(ctx, tx, emit, wc, outbox.EventInventoryRecalc, "PurchaseBill", b.ID, map[string]any{
				"fromDate": d.String(),
			}); err != nil {
				return 0, nil, err
			}
		}
		return http.StatusOK, purchaseBillView(b), nil
	})
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetPurchaseBill(ctx context.Context, tenantID ledger.TenantID, id string) (*PurchaseBillView, error) {
	var view *PurchaseBillView
	err := s.Store.Read(ctx, func(tx Tx) error {
		b, err := tx.GetPurchaseBill(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if b == nil {
			return ledger.NotFoundf("purchase bill %s not found", id)
		}
		view = purchaseBillView(b)
		return nil
	})
	return view, err
}

func (s *Service) ListPurchaseBills(ctx context.Context, tenantID ledger.TenantID) ([]*PurchaseBillView, error) {
	views := []*PurchaseBillView{}
	err := s.Store.Read(ctx, func(tx Tx) error {
		bs, err := tx.ListPurchaseBills(ctx, tenantID)
		if err != nil {
			return err
		}
		for _, b := range bs {
			views = append(views, purchaseBillView(b))
		}
		return nil
	})
	return views, err
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) billForUpdate(ctx context.Context, tx Tx, tenantID ledger.TenantID, id string) (*PurchaseBill, error) {
	b, err := tx.GetPurchaseBillForUpdate(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ledger.NotFoundf("purchase bill %s not found", id)
	}
	return b, nil
}

// billLockKeys adds a stock key per tracked line before locking.
func (s *Service) billLockKeys(ctx context.Context, tenantID ledger.TenantID, billID string) ([]string, error) {
	keys := []string{locks.DocumentKey("bill:post", string(tenantID), billID)}
	err := s.Store.Read(ctx, func(tx Tx) error {
		b, err := tx.GetPurchaseBill(ctx, tenantID, billID)
		if err != nil || b == nil {
			return err
		}
		company, err := tx.GetCompany(ctx, tenantID)
		if err != nil || company == nil {
			return err
		}
		for _, l := range b.Lines {
			item, err := tx.GetItem(ctx, tenantID, string(l.ItemID))
			if err != nil {
				return err
			}
			if !trackedGoods(item) {
				continue
			}
			locID := l.LocationID
			if locID == "" {
				locID, err = resolveLineLocation(ctx, tx, company, b.LocationID, item)
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
			return keys, nil
		}
		return nil, err
	}
	return keys, nil
}

func (s *Service) setPurchaseBillLines(ctx context.Context, tx Tx, b *PurchaseBill, ins []PurchaseBillLineInput) error {
	if len(ins) == 0 {
		return ledger.Validationf("purchase bill requires at least one line")
	}
	lines := make([]PurchaseBillLine, 0, len(ins))
	subtotal, tax := money.Zero, money.Zero
	for _, in := range ins {
		if !in.Quantity.IsPositive() {
			return ledger.Validationf("line quantity must be positive")
		}
		if in.UnitCost.IsNegative() {
			return ledger.Validationf("line unit cost must not be negative")
		}
		if in.ItemID != "" {
			item, err := tx.GetItem(ctx, b.TenantID, in.ItemID)
			if err != nil {
				return err
			}
			if item == nil {
				return ledger.NotFoundf("item %s not found", in.ItemID)
			}
		} else if in.ExpenseAccountID == "" {
			return ledger.Validationf("purchase bill line requires an item or an expense account")
		}

		line := PurchaseBillLine{
			ID:               uuid.NewString(),
			TenantID:         b.TenantID,
			PurchaseBillID:   b.ID,
			ItemID:           inventory.ItemID(in.ItemID),
			Description:      in.Description,
			Quantity:         in.Quantity,
			UnitCost:         in.UnitCost,
			TaxRate:          in.TaxRate,
			ExpenseAccountID: ledger.AccountID(in.ExpenseAccountID),
			LocationID:       ledger.LocationID(in.LocationID),
		}
		lineSubtotal := line.Subtotal()
		line.TaxAmount = lineSubtotal.MulRate(in.TaxRate)
		subtotal = subtotal.Add(lineSubtotal)
		tax = tax.Add(line.TaxAmount)
		lines = append(lines, line)
	}
	b.Lines = lines
	b.Subtotal = subtotal
	b.TaxAmount = tax
	b.Total = subtotal.Add(tax)
	return nil
}
