/*
documents.go - Invoices, credit notes, expenses, purchase bills

PURPOSE:
  Document rows plus their owned lines (and, for invoices, pending payment
  proofs). Lines are rewritten wholesale on update while the document is
  still mutable; posted documents never have their lines touched again.
  The ...ForUpdate readers are plain reads here: the store's write mutex
  already serializes transactions.
*/
package sqlite

import (
	"context"
	"database/sql"

	"github.com/cashflowhq/cashflow-api/books"
	"github.com/cashflowhq/cashflow-api/ledger"
)

// =============================================================================
// INVOICES
// =============================================================================

const invoiceColumns = `id, tenant_id, number, customer_id, status,
	invoice_date, due_date, currency, location_id,
	subtotal, tax_amount, total, amount_paid,
	journal_entry_id, last_adjustment_journal_entry_id, void_journal_entry_id,
	public_link_token, created_at, updated_at`

func scanInvoice(row rowScanner) (*books.Invoice, error) {
	var inv books.Invoice
	err := row.Scan(
		strCol{&inv.ID}, strCol{(*string)(&inv.TenantID)},
		strCol{&inv.Number}, strCol{&inv.CustomerID},
		strCol{(*string)(&inv.Status)},
		dateCol{&inv.InvoiceDate}, dateCol{&inv.DueDate},
		strCol{&inv.Currency}, strCol{(*string)(&inv.LocationID)},
		moneyCol{&inv.Subtotal}, moneyCol{&inv.TaxAmount},
		moneyCol{&inv.Total}, moneyCol{&inv.AmountPaid},
		strCol{(*string)(&inv.JournalEntryID)},
		strCol{(*string)(&inv.LastAdjustmentJournalEntryID)},
		strCol{(*string)(&inv.VoidJournalEntryID)},
		strCol{&inv.PublicLinkToken},
		timeCol{&inv.CreatedAt}, timeCol{&inv.UpdatedAt},
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (t *Tx) loadInvoiceChildren(ctx context.Context, inv *books.Invoice) error {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, tenant_id, invoice_id, item_id, description, quantity,
			unit_price, discount_amount, tax_rate, tax_amount,
			income_account_id, location_id
		FROM invoice_lines WHERE invoice_id = ? ORDER BY position`, inv.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var l books.InvoiceLine
		err := rows.Scan(
			strCol{&l.ID}, strCol{(*string)(&l.TenantID)}, strCol{&l.InvoiceID},
			strCol{(*string)(&l.ItemID)}, strCol{&l.Description},
			qtyCol{&l.Quantity},
			moneyCol{&l.UnitPrice}, moneyCol{&l.DiscountAmount},
			rateCol{&l.TaxRate}, moneyCol{&l.TaxAmount},
			strCol{(*string)(&l.IncomeAccountID)}, strCol{(*string)(&l.LocationID)},
		)
		if err != nil {
			return err
		}
		inv.Lines = append(inv.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	proofs, err := t.q.QueryContext(ctx, `
		SELECT id, storage_uri, used FROM invoice_payment_proofs
		WHERE invoice_id = ? ORDER BY rowid`, inv.ID)
	if err != nil {
		return err
	}
	defer proofs.Close()

	for proofs.Next() {
		var p books.PaymentProof
		if err := proofs.Scan(strCol{&p.ID}, strCol{&p.StorageURI}, boolCol{&p.Used}); err != nil {
			return err
		}
		inv.PendingPaymentProofs = append(inv.PendingPaymentProofs, p)
	}
	return proofs.Err()
}

func (t *Tx) getInvoice(ctx context.Context, tenantID ledger.TenantID, id string) (*books.Invoice, error) {
	inv, err := scanInvoice(t.q.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE tenant_id = ? AND id = ?`,
		tenantID, id))
	if err != nil || inv == nil {
		return inv, err
	}
	if err := t.loadInvoiceChildren(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (t *Tx) GetInvoice(ctx context.Context, tenantID ledger.TenantID, id string) (*books.Invoice, error) {
	return t.getInvoice(ctx, tenantID, id)
}

func (t *Tx) GetInvoiceForUpdate(ctx context.Context, tenantID ledger.TenantID, id string) (*books.Invoice, error) {
	return t.getInvoice(ctx, tenantID, id)
}

func (t *Tx) writeInvoiceChildren(ctx context.Context, inv *books.Invoice) error {
	for i, l := range inv.Lines {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO invoice_lines (id, tenant_id, invoice_id, item_id,
				description, quantity, unit_price, discount_amount,
				tax_rate, tax_amount, income_account_id, location_id, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, inv.TenantID, inv.ID, nullString(string(l.ItemID)),
			nullString(l.Description), l.Quantity.String(),
			l.UnitPrice.String(), l.DiscountAmount.String(),
			l.TaxRate.String(), l.TaxAmount.String(),
			nullString(string(l.IncomeAccountID)), nullString(string(l.LocationID)), i)
		if err != nil {
			return err
		}
	}
	for _, p := range inv.PendingPaymentProofs {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO invoice_payment_proofs (id, tenant_id, invoice_id, storage_uri, used)
			VALUES (?, ?, ?, ?, ?)`,
			p.ID, inv.TenantID, inv.ID, p.StorageURI, boolArg(p.Used))
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) InsertInvoice(ctx context.Context, inv *books.Invoice) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.TenantID, inv.Number, inv.CustomerID, inv.Status,
		inv.InvoiceDate.String(), inv.DueDate.String(),
		nullString(inv.Currency), nullString(string(inv.LocationID)),
		inv.Subtotal.String(), inv.TaxAmount.String(),
		inv.Total.String(), inv.AmountPaid.String(),
		nullString(string(inv.JournalEntryID)),
		nullString(string(inv.LastAdjustmentJournalEntryID)),
		nullString(string(inv.VoidJournalEntryID)),
		nullString(inv.PublicLinkToken),
		timeArg(inv.CreatedAt), timeArg(inv.UpdatedAt))
	if err != nil {
		return err
	}
	return t.writeInvoiceChildren(ctx, inv)
}

func (t *Tx) UpdateInvoice(ctx context.Context, inv *books.Invoice) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE invoices SET
			number = ?, customer_id = ?, status = ?, invoice_date = ?,
			due_date = ?, currency = ?, location_id = ?, subtotal = ?,
			tax_amount = ?, total = ?, amount_paid = ?, journal_entry_id = ?,
			last_adjustment_journal_entry_id = ?, void_journal_entry_id = ?,
			public_link_token = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		inv.Number, inv.CustomerID, inv.Status, inv.InvoiceDate.String(),
		inv.DueDate.String(), nullString(inv.Currency),
		nullString(string(inv.LocationID)),
		inv.Subtotal.String(), inv.TaxAmount.String(),
		inv.Total.String(), inv.AmountPaid.String(),
		nullString(string(inv.JournalEntryID)),
		nullString(string(inv.LastAdjustmentJournalEntryID)),
		nullString(string(inv.VoidJournalEntryID)),
		nullString(inv.PublicLinkToken),
		timeArg(inv.UpdatedAt), inv.TenantID, inv.ID)
	if err != nil {
		return err
	}
	if _, err := t.q.ExecContext(ctx,
		`DELETE FROM invoice_lines WHERE invoice_id = ?`, inv.ID); err != nil {
		return err
	}
	if _, err := t.q.ExecContext(ctx,
		`DELETE FROM invoice_payment_proofs WHERE invoice_id = ?`, inv.ID); err != nil {
		return err
	}
	return t.writeInvoiceChildren(ctx, inv)
}

func (t *Tx) DeleteInvoice(ctx context.Context, tenantID ledger.TenantID, id string) error {
	if _, err := t.q.ExecContext(ctx,
		`DELETE FROM invoice_lines WHERE tenant_id = ? AND invoice_id = ?`, tenantID, id); err != nil {
		return err
	}
	if _, err := t.q.ExecContext(ctx,
		`DELETE FROM invoice_payment_proofs WHERE tenant_id = ? AND invoice_id = ?`, tenantID, id); err != nil {
		return err
	}
	_, err := t.q.ExecContext(ctx,
		`DELETE FROM invoices WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return err
}

func (t *Tx) ListInvoices(ctx context.Context, tenantID ledger.TenantID) ([]*books.Invoice, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE tenant_id = ? ORDER BY created_at, id`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*books.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, inv := range out {
		if err := t.loadInvoiceChildren(ctx, inv); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// =============================================================================
// CREDIT NOTES
// =============================================================================

const creditNoteColumns = `id, tenant_id, number, customer_id, invoice_id,
	status, date, currency, subtotal, tax_amount, total, amount_refunded,
	journal_entry_id, last_adjustment_journal_entry_id, void_journal_entry_id,
	created_at, updated_at`

func scanCreditNote(row rowScanner) (*books.CreditNote, error) {
	var cn books.CreditNote
	err := row.Scan(
		strCol{&cn.ID}, strCol{(*string)(&cn.TenantID)},
		strCol{&cn.Number}, strCol{&cn.CustomerID}, strCol{&cn.InvoiceID},
		strCol{(*string)(&cn.Status)},
		dateCol{&cn.Date}, strCol{&cn.Currency},
		moneyCol{&cn.Subtotal}, moneyCol{&cn.TaxAmount},
		moneyCol{&cn.Total}, moneyCol{&cn.AmountRefunded},
		strCol{(*string)(&cn.JournalEntryID)},
		strCol{(*string)(&cn.LastAdjustmentJournalEntryID)},
		strCol{(*string)(&cn.VoidJournalEntryID)},
		timeCol{&cn.CreatedAt}, timeCol{&cn.UpdatedAt},
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cn, nil
}

func (t *Tx) loadCreditNoteLines(ctx context.Context, cn *books.CreditNote) error {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, tenant_id, credit_note_id, item_id, invoice_line_id,
			description, quantity, unit_price, discount_amount,
			tax_rate, tax_amount, income_account_id
		FROM credit_note_lines WHERE credit_note_id = ? ORDER BY position`, cn.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var l books.CreditNoteLine
		err := rows.Scan(
			strCol{&l.ID}, strCol{(*string)(&l.TenantID)}, strCol{&l.CreditNoteID},
			strCol{(*string)(&l.ItemID)}, strCol{&l.InvoiceLineID},
			strCol{&l.Description}, qtyCol{&l.Quantity},
			moneyCol{&l.UnitPrice}, moneyCol{&l.DiscountAmount},
			rateCol{&l.TaxRate}, moneyCol{&l.TaxAmount},
			strCol{(*string)(&l.IncomeAccountID)},
		)
		if err != nil {
			return err
		}
		cn.Lines = append(cn.Lines, l)
	}
	return rows.Err()
}

func (t *Tx) getCreditNote(ctx context.Context, tenantID ledger.TenantID, id string) (*books.CreditNote, error) {
	cn, err := scanCreditNote(t.q.QueryRowContext(ctx,
		`SELECT `+creditNoteColumns+` FROM credit_notes WHERE tenant_id = ? AND id = ?`,
		tenantID, id))
	if err != nil || cn == nil {
		return cn, err
	}
	if err := t.loadCreditNoteLines(ctx, cn); err != nil {
		return nil, err
	}
	return cn, nil
}

func (t *Tx) GetCreditNote(ctx context.Context, tenantID ledger.TenantID, id string) (*books.CreditNote, error) {
	return t.getCreditNote(ctx, tenantID, id)
}

func (t *Tx) GetCreditNoteForUpdate(ctx context.Context, tenantID ledger.TenantID, id string) (*books.CreditNote, error) {
	return t.getCreditNote(ctx, tenantID, id)
}

func (t *Tx) writeCreditNoteLines(ctx context.Context, cn *books.CreditNote) error {
	for i, l := range cn.Lines {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO credit_note_lines (id, tenant_id, credit_note_id, item_id,
				invoice_line_id, description, quantity, unit_price,
				discount_amount, tax_rate, tax_amount, income_account_id, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, cn.TenantID, cn.ID, nullString(string(l.ItemID)),
			nullString(l.InvoiceLineID), nullString(l.Description),
			l.Quantity.String(), l.UnitPrice.String(), l.DiscountAmount.String(),
			l.TaxRate.String(), l.TaxAmount.String(),
			nullString(string(l.IncomeAccountID)), i)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) InsertCreditNote(ctx context.Context, cn *books.CreditNote) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO credit_notes (`+creditNoteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cn.ID, cn.TenantID, cn.Number, cn.CustomerID, nullString(cn.InvoiceID),
		cn.Status, cn.Date.String(), nullString(cn.Currency),
		cn.Subtotal.String(), cn.TaxAmount.String(),
		cn.Total.String(), cn.AmountRefunded.String(),
		nullString(string(cn.JournalEntryID)),
		nullString(string(cn.LastAdjustmentJournalEntryID)),
		nullString(string(cn.VoidJournalEntryID)),
		timeArg(cn.CreatedAt), timeArg(cn.UpdatedAt))
	if err != nil {
		return err
	}
	return t.writeCreditNoteLines(ctx, cn)
}

func (t *Tx) UpdateCreditNote(ctx context.Context, cn *books.CreditNote) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE credit_notes SET
			number = ?, customer_id = ?, invoice_id = ?, status = ?, date = ?,
			currency = ?, subtotal = ?, tax_amount = ?, total = ?,
			amount_refunded = ?, journal_entry_id = ?,
			last_adjustment_journal_entry_id = ?, void_journal_entry_id = ?,
			updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		cn.Number, cn.CustomerID, nullString(cn.InvoiceID), cn.Status,
		cn.Date.String(), nullString(cn.Currency),
		cn.Subtotal.String(), cn.TaxAmount.String(),
		cn.Total.String(), cn.AmountRefunded.String(),
		nullString(string(cn.JournalEntryID)),
		nullString(string(cn.LastAdjustmentJournalEntryID)),
		nullString(string(cn.VoidJournalEntryID)),
		timeArg(cn.UpdatedAt), cn.TenantID, cn.ID)
	if err != nil {
		return err
	}
	if _, err := t.q.ExecContext(ctx,
		`DELETE FROM credit_note_lines WHERE credit_note_id = ?`, cn.ID); err != nil {
		return err
	}
	return t.writeCreditNoteLines(ctx, cn)
}

func (t *Tx) DeleteCreditNote(ctx context.Context, tenantID ledger.TenantID, id string) error {
	if _, err := t.q.ExecContext(ctx,
		`DELETE FROM credit_note_lines WHERE tenant_id = ? AND credit_note_id = ?`, tenantID, id); err != nil {
		return err
	}
	_, err := t.q.ExecContext(ctx,
		`DELETE FROM credit_notes WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return err
}

func (t *Tx) listCreditNotes(ctx context.Context, query string, args ...any) ([]*books.CreditNote, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*books.CreditNote
	for rows.Next() {
		cn, err := scanCreditNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, cn := range out {
		if err := t.loadCreditNoteLines(ctx, cn); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *Tx) ListCreditNotes(ctx context.Context, tenantID ledger.TenantID) ([]*books.CreditNote, error) {
	return t.listCreditNotes(ctx,
		`SELECT `+creditNoteColumns+` FROM credit_notes WHERE tenant_id = ? ORDER BY created_at, id`,
		tenantID)
}

func (t *Tx) PostedCreditNotesForInvoice(ctx context.Context, tenantID ledger.TenantID, invoiceID string) ([]*books.CreditNote, error) {
	return t.listCreditNotes(ctx,
		`SELECT `+creditNoteColumns+` FROM credit_notes
		WHERE tenant_id = ? AND invoice_id = ? AND status = ?
		ORDER BY created_at, id`,
		tenantID, invoiceID, books.StatusPosted)
}

// =============================================================================
// EXPENSES
// =============================================================================

const expenseColumns = `id, tenant_id, number, vendor_id, status,
	expense_date, due_date, currency, subtotal, tax_amount, total, amount_paid,
	journal_entry_id, last_adjustment_journal_entry_id, void_journal_entry_id,
	created_at, updated_at`

func scanExpense(row rowScanner) (*books.Expense, error) {
	var e books.Expense
	err := row.Scan(
		strCol{&e.ID}, strCol{(*string)(&e.TenantID)},
		strCol{&e.Number}, strCol{&e.VendorID},
		strCol{(*string)(&e.Status)},
		dateCol{&e.ExpenseDate}, dateCol{&e.DueDate}, strCol{&e.Currency},
		moneyCol{&e.Subtotal}, moneyCol{&e.TaxAmount},
		moneyCol{&e.Total}, moneyCol{&e.AmountPaid},
		strCol{(*string)(&e.JournalEntryID)},
		strCol{(*string)(&e.LastAdjustmentJournalEntryID)},
		strCol{(*string)(&e.VoidJournalEntryID)},
		timeCol{&e.CreatedAt}, timeCol{&e.UpdatedAt},
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *Tx) loadExpenseLines(ctx context.Context, e *books.Expense) error {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, tenant_id, expense_id, description, expense_account_id,
			amount, tax_rate, tax_amount
		FROM expense_lines WHERE expense_id = ? ORDER BY position`, e.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var l books.ExpenseLine
		err := rows.Scan(
			strCol{&l.ID}, strCol{(*string)(&l.TenantID)}, strCol{&l.ExpenseID},
			strCol{&l.Description}, strCol{(*string)(&l.ExpenseAccountID)},
			moneyCol{&l.Amount}, rateCol{&l.TaxRate}, moneyCol{&l.TaxAmount},
		)
		if err != nil {
			return err
		}
		e.Lines = append(e.Lines, l)
	}
	return rows.Err()
}

func (t *Tx) getExpense(ctx context.Context, tenantID ledger.TenantID, id string) (*books.Expense, error) {
	e, err := scanExpense(t.q.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE tenant_id = ? AND id = ?`,
		tenantID, id))
	if err != nil || e == nil {
		return e, err
	}
	if err := t.loadExpenseLines(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (t *Tx) GetExpense(ctx context.Context, tenantID ledger.TenantID, id string) (*books.Expense, error) {
	return t.getExpense(ctx, tenantID, id)
}

func (t *Tx) GetExpenseForUpdate(ctx context.Context, tenantID ledger.TenantID, id string) (*books.Expense, error) {
	return t.getExpense(ctx, tenantID, id)
}

func (t *Tx) writeExpenseLines(ctx context.Context, e *books.Expense) error {
	for i, l := range e.Lines {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO expense_lines (id, tenant_id, expense_id, description,
				expense_account_id, amount, tax_rate, tax_amount, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, e.TenantID, e.ID, nullString(l.Description),
			l.ExpenseAccountID, l.Amount.String(),
			l.TaxRate.String(), l.TaxAmount.String(), i)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) InsertExpense(ctx context.Context, e *books.Expense) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO expenses (`+expenseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.Number, e.VendorID, e.Status,
		e.ExpenseDate.String(), e.DueDate.String(), nullString(e.Currency),
		e.Subtotal.String(), e.TaxAmount.String(),
		e.Total.String(), e.AmountPaid.String(),
		nullString(string(e.JournalEntryID)),
		nullString(string(e.LastAdjustmentJournalEntryID)),
		nullString(string(e.VoidJournalEntryID)),
		timeArg(e.CreatedAt), timeArg(e.UpdatedAt))
	if err != nil {
		return err
	}
	return t.writeExpenseLines(ctx, e)
}

func (t *Tx) UpdateExpense(ctx context.Context, e *books.Expense) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE expenses SET
			number = ?, vendor_id = ?, status = ?, expense_date = ?,
			due_date = ?, currency = ?, subtotal = ?, tax_amount = ?,
			total = ?, amount_paid = ?, journal_entry_id = ?,
			last_adjustment_journal_entry_id = ?, void_journal_entry_id = ?,
			updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		e.Number, e.VendorID, e.Status, e.ExpenseDate.String(),
		e.DueDate.String(), nullString(e.Currency),
		e.Subtotal.String(), e.TaxAmount.String(),
		e.Total.String(), e.AmountPaid.String(),
		nullString(string(e.JournalEntryID)),
		nullString(string(e.LastAdjustmentJournalEntryID)),
		nullString(string(e.VoidJournalEntryID)),
		timeArg(e.UpdatedAt), e.TenantID, e.ID)
	if err != nil {
		return err
	}
	if _, err := t.q.ExecContext(ctx,
		`DELETE FROM expense_lines WHERE expense_id = ?`, e.ID); err != nil {
		return err
	}
	return t.writeExpenseLines(ctx, e)
}

func (t *Tx) DeleteExpense(ctx context.Context, tenantID ledger.TenantID, id string) error {
	if _, err := t.q.ExecContext(ctx,
		`DELETE FROM expense_lines WHERE tenant_id = ? AND expense_id = ?`, tenantID, id); err != nil {
		return err
	}
	_, err := t.q.ExecContext(ctx,
		`DELETE FROM expenses WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return err
}

func (t *Tx) ListExpenses(ctx context.Context, tenantID ledger.TenantID) ([]*books.Expense, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE tenant_id = ? ORDER BY created_at, id`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*books.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, e := range out {
		if err := t.loadExpenseLines(ctx, e); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// =============================================================================
// PURCHASE BILLS
// =============================================================================

const purchaseBillColumns = `id, tenant_id, number, vendor_id, status,
	bill_date, due_date, currency, location_id,
	subtotal, tax_amount, total, amount_paid, journal_entry_id,
	created_at, updated_at`

func scanPurchaseBill(row rowScanner) (*books.PurchaseBill, error) {
	var b books.PurchaseBill
	err := row.Scan(
		strCol{&b.ID}, strCol{(*string)(&b.TenantID)},
		strCol{&b.Number}, strCol{&b.VendorID},
		strCol{(*string)(&b.Status)},
		dateCol{&b.BillDate}, dateCol{&b.DueDate},
		strCol{&b.Currency}, strCol{(*string)(&b.LocationID)},
		moneyCol{&b.Subtotal}, moneyCol{&b.TaxAmount},
		moneyCol{&b.Total}, moneyCol{&b.AmountPaid},
		strCol{(*string)(&b.JournalEntryID)},
		timeCol{&b.CreatedAt}, timeCol{&b.UpdatedAt},
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (t *Tx) loadPurchaseBillLines(ctx context.Context, b *books.PurchaseBill) error {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, tenant_id, purchase_bill_id, item_id, description,
			quantity, unit_cost, tax_rate, tax_amount,
			expense_account_id, location_id
		FROM purchase_bill_lines WHERE purchase_bill_id = ? ORDER BY position`, b.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var l books.PurchaseBillLine
		err := rows.Scan(
			strCol{&l.ID}, strCol{(*string)(&l.TenantID)}, strCol{&l.PurchaseBillID},
			strCol{(*string)(&l.ItemID)}, strCol{&l.Description},
			qtyCol{&l.Quantity}, moneyCol{&l.UnitCost},
			rateCol{&l.TaxRate}, moneyCol{&l.TaxAmount},
			strCol{(*string)(&l.ExpenseAccountID)}, strCol{(*string)(&l.LocationID)},
		)
		if err != nil {
			return err
		}
		b.Lines = append(b.Lines, l)
	}
	return rows.Err()
}

func (t *Tx) getPurchaseBill(ctx context.Context, tenantID ledger.TenantID, id string) (*books.PurchaseBill, error) {
	b, err := scanPurchaseBill(t.q.QueryRowContext(ctx,
		`SELECT `+purchaseBillColumns+` FROM purchase_bills WHERE tenant_id = ? AND id = ?`,
		tenantID, id))
	if err != nil || b == nil {
		return b, err
	}
	if err := t.loadPurchaseBillLines(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (t *Tx) GetPurchaseBill(ctx context.Context, tenantID ledger.TenantID, id string) (*books.PurchaseBill, error) {
	return t.getPurchaseBill(ctx, tenantID, id)
}

func (t *Tx) GetPurchaseBillForUpdate(ctx context.Context, tenantID ledger.TenantID, id string) (*books.PurchaseBill, error) {
	return t.getPurchaseBill(ctx, tenantID, id)
}

func (t *Tx) writePurchaseBillLines(ctx context.Context, b *books.PurchaseBill) error {
	for i, l := range b.Lines {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO purchase_bill_lines (id, tenant_id, purchase_bill_id,
				item_id, description, quantity, unit_cost, tax_rate,
				tax_amount, expense_account_id, location_id, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, b.TenantID, b.ID, nullString(string(l.ItemID)),
			nullString(l.Description), l.Quantity.String(), l.UnitCost.String(),
			l.TaxRate.String(), l.TaxAmount.String(),
			nullString(string(l.ExpenseAccountID)), nullString(string(l.LocationID)), i)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) InsertPurchaseBill(ctx context.Context, b *books.PurchaseBill) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO purchase_bills (`+purchaseBillColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.TenantID, b.Number, b.VendorID, b.Status,
		b.BillDate.String(), b.DueDate.String(),
		nullString(b.Currency), nullString(string(b.LocationID)),
		b.Subtotal.String(), b.TaxAmount.String(),
		b.Total.String(), b.AmountPaid.String(),
		nullString(string(b.JournalEntryID)),
		timeArg(b.CreatedAt), timeArg(b.UpdatedAt))
	if err != nil {
		return err
	}
	return t.writePurchaseBillLines(ctx, b)
}

func (t *Tx) UpdatePurchaseBill(ctx context.Context, b *books.PurchaseBill) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE purchase_bills SET
			number = ?, vendor_id = ?, status = ?, bill_date = ?, due_date = ?,
			currency = ?, location_id = ?, subtotal = ?, tax_amount = ?,
			total = ?, amount_paid = ?, journal_entry_id = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		b.Number, b.VendorID, b.Status, b.BillDate.String(), b.DueDate.String(),
		nullString(b.Currency), nullString(string(b.LocationID)),
		b.Subtotal.String(), b.TaxAmount.String(),
		b.Total.String(), b.AmountPaid.String(),
		nullString(string(b.JournalEntryID)),
		timeArg(b.UpdatedAt), b.TenantID, b.ID)
	if err != nil {
		return err
	}
	if _, err := t.q.ExecContext(ctx,
		`DELETE FROM purchase_bill_lines WHERE purchase_bill_id = ?`, b.ID); err != nil {
		return err
	}
	return t.writePurchaseBillLines(ctx, b)
}

func (t *Tx) ListPurchaseBills(ctx context.Context, tenantID ledger.TenantID) ([]*books.PurchaseBill, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT `+purchaseBillColumns+` FROM purchase_bills WHERE tenant_id = ? ORDER BY created_at, id`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*books.PurchaseBill
	for rows.Next() {
		b, err := scanPurchaseBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, b := range out {
		if err := t.loadPurchaseBillLines(ctx, b); err != nil {
			return nil, err
		}
	}
	return out, nil
}
