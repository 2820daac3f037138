/*
parties.go - Customers, vendors and catalog items

PURPOSE:
  CRUD for the party and item registries, plus the opening-balance
  postings: a nonzero customer opening balance posts Dr AR / Cr Opening
  Balance Equity (positive = customer owes), the vendor analog uses AP
  with the reversed sign. Edits post only the delta against the previous
  balance, so repeated saves never double-count.
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
)

// =============================================================================
// INPUTS
// =============================================================================

type CustomerInput struct {
	Name           string      `json:"name" validate:"required"`
	Email          string      `json:"email" validate:"omitempty,email"`
	OpeningBalance money.Money `json:"openingBalance"`
}

type VendorInput struct {
	Name           string      `json:"name" validate:"required"`
	Email          string      `json:"email" validate:"omitempty,email"`
	OpeningBalance money.Money `json:"openingBalance"`
}

type ItemInput struct {
	Name              string      `json:"name" validate:"required"`
	Kind              ItemKind    `json:"kind" validate:"required,oneof=GOODS SERVICE"`
	TrackInventory    bool        `json:"trackInventory"`
	SalesPrice        money.Money `json:"salesPrice"`
	PurchaseCost      money.Money `json:"purchaseCost"`
	IncomeAccountID   string      `json:"incomeAccountId"`
	ExpenseAccountID  string      `json:"expenseAccountId"`
	DefaultLocationID string      `json:"defaultLocationId"`
}

// =============================================================================
// CUSTOMERS
// =============================================================================

// CreateCustomer registers a customer, posting the opening balance when
// nonzero.
func (s *Service) CreateCustomer(ctx context.Context, wc WriteContext, in CustomerInput) (idempotency.Result, error) {
	return s.runCommand(ctx, wc, nil, func(ctx context.Context, tx Tx, _ *eventBuffer) (int, any, error) {
		company, err := requireCompany(ctx, tx, wc.TenantID)
		if err != nil {
			return 0, nil, err
		}
		c := &Customer{
			ID:             uuid.NewString(),
			TenantID:       wc.TenantID,
			Name:           in.Name,
			Email:          in.Email,
			OpeningBalance: in.OpeningBalance,
			CreatedAt:      wc.Now,
			UpdatedAt:      wc.Now,
		}
		if err := tx.InsertCustomer(ctx, c); err != nil {
			return 0, nil, err
		}
		if !in.OpeningBalance.IsZero() {
			if err := s.postCustomerOpeningDelta(ctx, tx, wc, company, c, in.OpeningBalance); err != nil {
				return 0, nil, err
			}
		}
		if err := s.audit(ctx, tx, wc, "customer.create", "Customer", c.ID, map[string]any{"name": c.Name}); err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, customerView(c), nil
	})
}

// UpdateCustomer edits a customer; an opening-balance change posts only
// the delta.
func (s *Service) UpdateCustomer(ctx context.Context, wc WriteContext, customerID string, in CustomerInput) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("customer:update", string(wc.TenantID), customerID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, _ *eventBuffer) (int, any, error) {
		company, err := requireCompany(ctx, tx, wc.TenantID)
		if err != nil {
			return 0, nil, err
		}
		c, err := tx.GetCustomer(ctx, wc.TenantID, customerID)
		if err != nil {
			return 0, nil, err
		}
		if c == nil {
			return 0, nil, ledger.NotFoundf("customer %s not found", customerID)
		}

		delta := in.OpeningBalance.Sub(c.OpeningBalance)
		c.Name = in.Name
		c.Email = in.Email
		c.OpeningBalance = in.OpeningBalance
		c.UpdatedAt = wc.Now
		if err := tx.UpdateCustomer(ctx, c); err != nil {
			return 0, nil, err
		}
		if !delta.IsZero() {
			if err := s.postCustomerOpeningDelta(ctx, tx, wc, company, c, delta); err != nil {
				return 0, nil, err
			}
		}
		if err := s.audit(ctx, tx, wc, "customer.update", "Customer", c.ID, nil); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, customerView(c), nil
	})
}

func (s *Service) GetCustomer(ctx context.Context, tenantID ledger.TenantID, id string) (*CustomerView, error) {
	var view *CustomerView
	err := s.Store.Read(ctx, func(tx Tx) error {
		c, err := tx.GetCustomer(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if c == nil {
			return ledger.NotFoundf("customer %s not found", id)
		}
		view = customerView(c)
		return nil
	})
	return view, err
}

func (s *Service) ListCustomers(ctx context.Context, tenantID ledger.TenantID) ([]*CustomerView, error) {
	views := []*CustomerView{}
	err := s.Store.Read(ctx, func(tx Tx) error {
		cs, err := tx.ListCustomers(ctx, tenantID)
		if err != nil {
			return err
		}
		for _, c := range cs {
			views = append(views, customerView(c))
		}
		return nil
	})
	return views, err
}

// =============================================================================
// VENDORS
// =============================================================================

// CreateVendor registers a vendor, posting the opening balance when
// nonzero.
func (s *Service) CreateVendor(ctx context.Context, wc WriteContext, in VendorInput) (idempotency.Result, error) {
	return s.runCommand(ctx, wc, nil, func(ctx context.Context, tx Tx, _ *eventBuffer) (int, any, error) {
		company, err := requireCompany(ctx, tx, wc.TenantID)
		if err != nil {
			return 0, nil, err
		}
		v := &Vendor{
			ID:             uuid.NewString(),
			TenantID:       wc.TenantID,
			Name:           in.Name,
			Email:          in.Email,
			OpeningBalance: in.OpeningBalance,
			CreatedAt:      wc.Now,
			UpdatedAt:      wc.Now,
		}
		if err := tx.InsertVendor(ctx, v); err != nil {
			return 0, nil, err
		}
		if !in.OpeningBalance.IsZero() {
			if err := s.postVendorOpeningDelta(ctx, tx, wc, company, v, in.OpeningBalance); err != nil {
				return 0, nil, err
			}
		}
		if err := s.audit(ctx, tx, wc, "vendor.create", "Vendor", v.ID, map[string]any{"name": v.Name}); err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, vendorView(v), nil
	})
}

// UpdateVendor edits a vendor; an opening-balance change posts only the
// delta.
func (s *Service) UpdateVendor(ctx context.Context, wc WriteContext, vendorID string, in VendorInput) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("vendor:update", string(wc.TenantID), vendorID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, _ *eventBuffer) (int, any, error) {
		company, err := requireCompany(ctx, tx, wc.TenantID)
		if err != nil {
			return 0, nil, err
		}
		v, err := tx.GetVendor(ctx, wc.TenantID, vendorID)
		if err != nil {
			return 0, nil, err
		}
		if v == nil {
			return 0, nil, ledger.NotFoundf("vendor %s not found", vendorID)
		}

		delta := in.OpeningBalance.Sub(v.OpeningBalance)
		v.Name = in.Name
		v.Email = in.Email
		v.OpeningBalance = in.OpeningBalance
		v.UpdatedAt = wc.Now
		if err := tx.UpdateVendor(ctx, v); err != nil {
			return 0, nil, err
		}
		if !delta.IsZero() {
			if err := s.postVendorOpeningDelta(ctx, tx, wc, company, v, delta); err != nil {
				return 0, nil, err
			}
		}
		if err := s.audit(ctx, tx, wc, "vendor.update", "Vendor", v.ID, nil); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, vendorView(v), nil
	})
}

func (s *Service) GetVendor(ctx context.Context, tenantID ledger.TenantID, id string) (*VendorView, error) {
	var view *VendorView
	err := s.Store.Read(ctx, func(tx Tx) error {
		v, err := tx.GetVendor(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if v == nil {
			return ledger.NotFoundf("vendor %s not found", id)
		}
		view = vendorView(v)
		return nil
	})
	return view, err
}

func (s *Service) ListVendors(ctx context.Context, tenantID ledger.TenantID) ([]*VendorView, error) {
	views := []*VendorView{}
	err := s.Store.Read(ctx, func(tx Tx) error {
		vs, err := tx.ListVendors(ctx, tenantID)
		if err != nil {
			return err
		}
		for _, v := range vs {
			views = append(views, vendorView(v))
		}
		return nil
	})
	return views, err
}

// =============================================================================
// ITEMS
// =============================================================================

// CreateItem registers a catalog item.
func (s *Service) CreateItem(ctx context.Context, wc WriteContext, in ItemInput) (idempotency.Result, error) {
	return s.runCommand(ctx, wc, nil, func(ctx context.Context, tx Tx, _ *eventBuffer) (int, any, error) {
		if _, err := requireCompany(ctx, tx, wc.TenantID); err != nil {
			return 0, nil, err
		}
		if err := s.checkItemInput(ctx, tx, wc.TenantID, in); err != nil {
			return 0, nil, err
		}
		it := &Item{
			ID:                uuid.NewString(),
			TenantID:          wc.TenantID,
			Name:              in.Name,
			Kind:              in.Kind,
			TrackInventory:    in.TrackInventory,
			SalesPrice:        in.SalesPrice,
			PurchaseCost:      in.PurchaseCost,
			IncomeAccountID:   ledger.AccountID(in.IncomeAccountID),
			ExpenseAccountID:  ledger.AccountID(in.ExpenseAccountID),
			DefaultLocationID: ledger.LocationID(in.DefaultLocationID),
			CreatedAt:         wc.Now,
			UpdatedAt:         wc.Now,
		}
		if err := tx.InsertItem(ctx, it); err != nil {
			return 0, nil, err
		}
		if err := s.audit(ctx, tx, wc, "item.create", "Item", it.ID, map[string]any{"name": it.Name}); err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, itemView(it), nil
	})
}

// UpdateItem edits a catalog item.
func (s *Service) UpdateItem(ctx context.Context, wc WriteContext, itemID string, in ItemInput) (idempotency.Result, error) {
	keys := []string{locks.DocumentKey("item:update", string(wc.TenantID), itemID)}
	return s.runCommand(ctx, wc, keys, func(ctx context.Context, tx Tx, _ *eventBuffer) (int, any, error) {
		it, err := tx.GetItem(ctx, wc.TenantID, itemID)
		if err != nil {
			return 0, nil, err
		}
		if it == nil {
			return 0, nil, ledger.NotFoundf("item %s not found", itemID)
		}
		if err := s.checkItemInput(ctx, tx, wc.TenantID, in); err != nil {
			return 0, nil, err
		}
		it.Name = in.Name
		it.Kind = in.Kind
		it.TrackInventory = in.TrackInventory
		it.SalesPrice = in.SalesPrice
		it.PurchaseCost = in.PurchaseCost
		it.IncomeAccountID = ledger.AccountID(in.IncomeAccountID)
		it.ExpenseAccountID = ledger.AccountID(in.ExpenseAccountID)
		it.DefaultLocationID = ledger.LocationID(in.DefaultLocationID)
		it.UpdatedAt = wc.Now
		if err := tx.UpdateItem(ctx, it); err != nil {
			return 0, nil, err
		}
		if err := s.audit(ctx, tx, wc, "item.update", "Item", it.ID, nil); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, itemView(it), nil
	})
}

func (s *Service) GetItem(ctx context.Context, tenantID ledger.TenantID, id string) (*ItemView, error) {
	var view *ItemView
	err := s.Store.Read(ctx, func(tx Tx) error {
		it, err := tx.GetItem(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if it == nil {
			return ledger.NotFoundf("item %s not found", id)
		}
		view = itemView(it)
		return nil
	})
	return view, err
}

func (s *Service) ListItems(ctx context.Context, tenantID ledger.TenantID) ([]*ItemView, error) {
	views := []*ItemView{}
	err := s.Store.Read(ctx, func(tx Tx) error {
		its, err := tx.ListItems(ctx, tenantID)
		if err != nil {
			return err
		}
		for _, it := range its {
			views = append(views, itemView(it))
		}
		return nil
	})
	return views, err
}

// =============================================================================
// OPENING BALANCES
// =============================================================================

// postCustomerOpeningDelta posts Dr AR / Cr Opening Balance Equity for a
// positive delta, the swapped pair for a negative one.
func (s *Service) postCustomerOpeningDelta(ctx context.Context, tx Tx, wc WriteContext, company *Company, c *Customer, delta money.Money) error {
	ar, err := requireConfiguredAccount(ctx, tx, wc.TenantID, company.AccountsReceivableAccountID, "accounts receivable", ledger.AccountAsset)
	if err != nil {
		return err
	}
	equity, err := requireConfiguredAccount(ctx, tx, wc.TenantID, company.OpeningBalanceEquityAccountID, "opening balance equity", ledger.AccountEquity)
	if err != nil {
		return err
	}

	var lines []ledger.Line
	if delta.IsPositive() {
		lines = []ledger.Line{ledger.Debit(ar.ID, delta), ledger.Credit(equity.ID, delta)}
	} else {
		amount := delta.Abs()
		lines = []ledger.Line{ledger.Debit(equity.ID, amount), ledger.Credit(ar.ID, amount)}
	}
	_, err = s.Poster.Post(ctx, tx, ledger.PostInput{
		TenantID:        wc.TenantID,
		Date:            money.DateOf(wc.Now),
		Description:     fmt.Sprintf("Opening balance for customer %s", c.Name),
		Lines:           lines,
		CreatedByUserID: wc.UserID,
	})
	return err
}

// postVendorOpeningDelta posts Dr Opening Balance Equity / Cr AP for a
// positive delta (owed to vendor), the swapped pair for a negative one.
func (s *Service) postVendorOpeningDelta(ctx context.Context, tx Tx, wc WriteContext, company *Company, v *Vendor, delta money.Money) error {
	ap, err := requireConfiguredAccount(ctx, tx, wc.TenantID, company.AccountsPayableAccountID, "accounts payable", ledger.AccountLiability)
	if err != nil {
		return err
	}
	equity, err := requireConfiguredAccount(ctx, tx, wc.TenantID, company.OpeningBalanceEquityAccountID, "opening balance equity", ledger.AccountEquity)
	if err != nil {
		return err
	}

	var lines []ledger.Line
	if delta.IsPositive() {
		lines = []ledger.Line{ledger.Debit(equity.ID, delta), ledger.Credit(ap.ID, delta)}
	} else {
		amount := delta.Abs()
		lines = []ledger.Line{ledger.Debit(ap.ID, amount), ledger.Credit(equity.ID, amount)}
	}
	_, err = s.Poster.Post(ctx, tx, ledger.PostInput{
		TenantID:        wc.TenantID,
		Date:            money.DateOf(wc.Now),
		Description:     fmt.Sprintf("Opening balance for vendor %s", v.Name),
		Lines:           lines,
		CreatedByUserID: wc.UserID,
	})
	return err
}

// checkItemInput validates the account references on an item.
func (s *Service) checkItemInput(ctx context.Context, tx Tx, tenantID ledger.TenantID, in ItemInput) error {
	if in.TrackInventory && in.Kind != ItemGoods {
		return ledger.Validationf("only GOODS items can track inventory")
	}
	if in.SalesPrice.IsNegative() || in.PurchaseCost.IsNegative() {
		return ledger.Validationf("item prices must not be negative")
	}
	if in.IncomeAccountID != "" {
		acct, err := tx.GetAccount(ctx, tenantID, ledger.AccountID(in.IncomeAccountID))
		if err != nil {
			return err
		}
		if acct == nil {
			return ledger.NotFoundf("income account %s not found", in.IncomeAccountID)
		}
		if acct.Type != ledger.AccountIncome {
			return ledger.Configf("income account %s (%s) must be INCOME, got %s", acct.Code, acct.Name, acct.Type)
		}
	}
	if in.ExpenseAccountID != "" {
		acct, err := tx.GetAccount(ctx, tenantID, ledger.AccountID(in.ExpenseAccountID))
		if err != nil {
			return err
		}
		if acct == nil {
			return ledger.NotFoundf("expense account %s not found", in.ExpenseAccountID)
		}
		if acct.Type != ledger.AccountExpense {
			return ledger.Configf("expense account %s (%s) must be EXPENSE, got %s", acct.Code, acct.Name, acct.Type)
		}
	}
	return nil
}
