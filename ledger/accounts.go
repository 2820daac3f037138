/*
accounts.go - Canonical account auto-provisioning

PURPOSE:
  Posting flows depend on a handful of canonical accounts (default Sales
  Income 4000, Tax Payable 2100). Tenants provisioned before those flows
  existed may not have them, so the helpers here look an account up by
  (tenant, code, type) and lazily create it with the canonical name and
  classification tags. The helpers are idempotent: a second call finds the
  account created by the first.
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CANONICAL CODES
// =============================================================================

const (
	CodeSalesIncome = "4000"
	CodeTaxPayable  = "2100"
)

// AccountTx is the slice of the transactional store account provisioning
// writes through.
type AccountTx interface {
	// FindAccountByCode returns the tenant's account with the given code and
	// type, or nil when absent.
	FindAccountByCode(ctx context.Context, tenantID TenantID, code string, typ AccountType) (*Account, error)

	// InsertAccount persists a new account.
	InsertAccount(ctx context.Context, acct *Account) error
}

// CanonicalAccount describes an account the system can create on demand.
type CanonicalAccount struct {
	Code             string
	Name             string
	Type             AccountType
	NormalBalance    NormalBalance
	ReportGroup      string
	CashflowActivity string
}

var (
	// SalesIncomeAccount is the default per-line revenue mapping.
	SalesIncomeAccount = CanonicalAccount{
		Code: CodeSalesIncome, Name: "Sales Income",
		Type: AccountIncome, NormalBalance: NormalCredit,
		ReportGroup: "OPERATING_INCOME", CashflowActivity: "OPERATING",
	}

	// TaxPayableAccount collects output tax on sales documents.
	TaxPayableAccount = CanonicalAccount{
		Code: CodeTaxPayable, Name: "Tax Payable",
		Type: AccountLiability, NormalBalance: NormalCredit,
		ReportGroup: "CURRENT_LIABILITY", CashflowActivity: "OPERATING",
	}
)

// EnsureAccount resolves the tenant's account for spec, creating it when
// absent. Safe to call repeatedly.
func EnsureAccount(ctx context.Context, tx AccountTx, tenantID TenantID, spec CanonicalAccount) (*Account, error) {
	existing, err := tx.FindAccountByCode(ctx, tenantID, spec.Code, spec.Type)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	acct := &Account{
		ID:               AccountID(uuid.NewString()),
		TenantID:         tenantID,
		Code:             spec.Code,
		Name:             spec.Name,
		Type:             spec.Type,
		NormalBalance:    spec.NormalBalance,
		ReportGroup:      spec.ReportGroup,
		CashflowActivity: spec.CashflowActivity,
		IsActive:         true,
		CreatedAt:        time.Now().UTC(),
	}
	if err := tx.InsertAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}
