/*
company.go - Tenant configuration, parties, catalog

PURPOSE:
  Companies, locations, banking account registrations, customers, vendors
  and items. InsertCompany, InsertLocation and InsertBankingAccount are
  provisioning writes used by setup and tests; the command path only reads
  these rows (UpdateCompany excepted, for configuration changes).
*/
package sqlite

import (
	"context"
	"database/sql"

	"github.com/cashflowhq/cashflow-api/books"
	"github.com/cashflowhq/cashflow-api/ledger"
)

// =============================================================================
// COMPANIES
// =============================================================================

const companyColumns = `id, name, base_currency, time_zone,
	accounts_receivable_account_id, accounts_payable_account_id,
	opening_balance_equity_account_id, inventory_asset_account_id,
	cogs_account_id, default_location_id`

func (t *Tx) GetCompany(ctx context.Context, tenantID ledger.TenantID) (*books.Company, error) {
	row := t.q.QueryRowContext(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE id = ?`, tenantID)

	var c books.Company
	err := row.Scan(
		strCol{(*string)(&c.ID)}, strCol{&c.Name},
		strCol{&c.BaseCurrency}, strCol{&c.TimeZone},
		strCol{(*string)(&c.AccountsReceivableAccountID)},
		strCol{(*string)(&c.AccountsPayableAccountID)},
		strCol{(*string)(&c.OpeningBalanceEquityAccountID)},
		strCol{(*string)(&c.InventoryAssetAccountID)},
		strCol{(*string)(&c.COGSAccountID)},
		strCol{(*string)(&c.DefaultLocationID)},
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertCompany provisions a tenant row.
func (t *Tx) InsertCompany(ctx context.Context, c *books.Company) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO companies (`+companyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, nullString(c.BaseCurrency), nullString(c.TimeZone),
		nullString(string(c.AccountsReceivableAccountID)),
		nullString(string(c.AccountsPayableAccountID)),
		nullString(string(c.OpeningBalanceEquityAccountID)),
		nullString(string(c.InventoryAssetAccountID)),
		nullString(string(c.COGSAccountID)),
		nullString(string(c.DefaultLocationID)),
	)
	return err
}

func (t *Tx) UpdateCompany(ctx context.Context, c *books.Company) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE companies SET
			name = ?, base_currency = ?, time_zone = ?,
			accounts_receivable_account_id = ?, accounts_payable_account_id = ?,
			opening_balance_equity_account_id = ?, inventory_asset_account_id = ?,
			cogs_account_id = ?, default_location_id = ?
		WHERE id = ?`,
		c.Name, nullString(c.BaseCurrency), nullString(c.TimeZone),
		nullString(string(c.AccountsReceivableAccountID)),
		nullString(string(c.AccountsPayableAccountID)),
		nullString(string(c.OpeningBalanceEquityAccountID)),
		nullString(string(c.InventoryAssetAccountID)),
		nullString(string(c.COGSAccountID)),
		nullString(string(c.DefaultLocationID)),
		c.ID,
	)
	return err
}

// =============================================================================
// LOCATIONS
// =============================================================================

func scanLocation(row *sql.Row) (*books.Location, error) {
	var l books.Location
	err := row.Scan(
		strCol{(*string)(&l.ID)}, strCol{(*string)(&l.TenantID)},
		strCol{&l.Name}, boolCol{&l.IsDefault},
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (t *Tx) GetLocation(ctx context.Context, tenantID ledger.TenantID, id ledger.LocationID) (*books.Location, error) {
	return scanLocation(t.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, is_default FROM locations
		WHERE tenant_id = ? AND id = ?`, tenantID, id))
}

func (t *Tx) DefaultLocation(ctx context.Context, tenantID ledger.TenantID) (*books.Location, error) {
	return scanLocation(t.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, is_default FROM locations
		WHERE tenant_id = ? AND is_default = 1 LIMIT 1`, tenantID))
}

// InsertLocation provisions a location row.
func (t *Tx) InsertLocation(ctx context.Context, l *books.Location) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO locations (id, tenant_id, name, is_default)
		VALUES (?, ?, ?, ?)`,
		l.ID, l.TenantID, l.Name, boolArg(l.IsDefault))
	return err
}

// =============================================================================
// BANKING ACCOUNTS
// =============================================================================

func (t *Tx) GetBankingAccount(ctx context.Context, tenantID ledger.TenantID, accountID ledger.AccountID) (*books.BankingAccount, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, account_id, kind, name FROM banking_accounts
		WHERE tenant_id = ? AND account_id = ?`, tenantID, accountID)

	var b books.BankingAccount
	err := row.Scan(
		strCol{&b.ID}, strCol{(*string)(&b.TenantID)},
		strCol{(*string)(&b.AccountID)}, strCol{(*string)(&b.Kind)},
		strCol{&b.Name},
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// InsertBankingAccount registers a ledger account for payments.
func (t *Tx) InsertBankingAccount(ctx context.Context, b *books.BankingAccount) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO banking_accounts (id, tenant_id, account_id, kind, name)
		VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.TenantID, b.AccountID, b.Kind, nullString(b.Name))
	return err
}

// =============================================================================
// CUSTOMERS
// =============================================================================

const partyColumns = `id, tenant_id, name, email, opening_balance, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (*books.Customer, error) {
	var c books.Customer
	err := row.Scan(
		strCol{&c.ID}, strCol{(*string)(&c.TenantID)},
		strCol{&c.Name}, strCol{&c.Email},
		moneyCol{&c.OpeningBalance},
		timeCol{&c.CreatedAt}, timeCol{&c.UpdatedAt},
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *Tx) GetCustomer(ctx context.Context, tenantID ledger.TenantID, id string) (*books.Customer, error) {
	return scanCustomer(t.q.QueryRowContext(ctx,
		`SELECT `+partyColumns+` FROM customers WHERE tenant_id = ? AND id = ?`,
		tenantID, id))
}

func (t *Tx) InsertCustomer(ctx context.Context, c *books.Customer) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO customers (`+partyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.Name, nullString(c.Email),
		c.OpeningBalance.String(), timeArg(c.CreatedAt), timeArg(c.UpdatedAt))
	return err
}

func (t *Tx) UpdateCustomer(ctx context.Context, c *books.Customer) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE customers SET name = ?, email = ?, opening_balance = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		c.Name, nullString(c.Email), c.OpeningBalance.String(),
		timeArg(c.UpdatedAt), c.TenantID, c.ID)
	return err
}

func (t *Tx) ListCustomers(ctx context.Context, tenantID ledger.TenantID) ([]*books.Customer, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT `+partyColumns+` FROM customers WHERE tenant_id = ? ORDER BY name, id`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*books.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// VENDORS
// =============================================================================

func scanVendor(row rowScanner) (*books.Vendor, error) {
	var v books.Vendor
	err := row.Scan(
		strCol{&v.ID}, strCol{(*string)(&v.TenantID)},
		strCol{&v.Name}, strCol{&v.Email},
		moneyCol{&v.OpeningBalance},
		timeCol{&v.CreatedAt}, timeCol{&v.UpdatedAt},
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (t *Tx) GetVendor(ctx context.Context, tenantID ledger.TenantID, id string) (*books.Vendor, error) {
	return scanVendor(t.q.QueryRowContext(ctx,
		`SELECT `+partyColumns+` FROM vendors WHERE tenant_id = ? AND id = ?`,
		tenantID, id))
}

func (t *Tx) InsertVendor(ctx context.Context, v *books.Vendor) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO vendors (`+partyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.TenantID, v.Name, nullString(v.Email),
		v.OpeningBalance.String(), timeArg(v.CreatedAt), timeArg(v.UpdatedAt))
	return err
}

func (t *Tx) UpdateVendor(ctx context.Context, v *books.Vendor) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE vendors SET name = ?, email = ?, opening_balance = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		v.Name, nullString(v.Email), v.OpeningBalance.String(),
		timeArg(v.UpdatedAt), v.TenantID, v.ID)
	return err
}

func (t *Tx) ListVendors(ctx context.Context, tenantID ledger.TenantID) ([]*books.Vendor, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT `+partyColumns+` FROM vendors WHERE tenant_id = ? ORDER BY name, id`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*books.Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// =============================================================================
// ITEMS
// =============================================================================

const itemColumns = `id, tenant_id, name, kind, track_inventory, sales_price,
	purchase_cost, income_account_id, expense_account_id, default_location_id,
	created_at, updated_at`

func scanItem(row rowScanner) (*books.Item, error) {
	var it books.Item
	err := row.Scan(
		strCol{&it.ID}, strCol{(*string)(&it.TenantID)},
		strCol{&it.Name}, strCol{(*string)(&it.Kind)},
		boolCol{&it.TrackInventory},
		moneyCol{&it.SalesPrice}, moneyCol{&it.PurchaseCost},
		strCol{(*string)(&it.IncomeAccountID)},
		strCol{(*string)(&it.ExpenseAccountID)},
		strCol{(*string)(&it.DefaultLocationID)},
		timeCol{&it.CreatedAt}, timeCol{&it.UpdatedAt},
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (t *Tx) GetItem(ctx context.Context, tenantID ledger.TenantID, id string) (*books.Item, error) {
	return scanItem(t.q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE tenant_id = ? AND id = ?`,
		tenantID, id))
}

func (t *Tx) InsertItem(ctx context.Context, it *books.Item) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.TenantID, it.Name, it.Kind, boolArg(it.TrackInventory),
		it.SalesPrice.String(), it.PurchaseCost.String(),
		nullString(string(it.IncomeAccountID)),
		nullString(string(it.ExpenseAccountID)),
		nullString(string(it.DefaultLocationID)),
		timeArg(it.CreatedAt), timeArg(it.UpdatedAt))
	return err
}

func (t *Tx) UpdateItem(ctx context.Context, it *books.Item) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE items SET
			name = ?, kind = ?, track_inventory = ?, sales_price = ?,
			purchase_cost = ?, income_account_id = ?, expense_account_id = ?,
			default_location_id = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		it.Name, it.Kind, boolArg(it.TrackInventory),
		it.SalesPrice.String(), it.PurchaseCost.String(),
		nullString(string(it.IncomeAccountID)),
		nullString(string(it.ExpenseAccountID)),
		nullString(string(it.DefaultLocationID)),
		timeArg(it.UpdatedAt), it.TenantID, it.ID)
	return err
}

func (t *Tx) ListItems(ctx context.Context, tenantID ledger.TenantID) ([]*books.Item, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE tenant_id = ? ORDER BY name, id`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*books.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
