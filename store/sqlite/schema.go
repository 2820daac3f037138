/*
schema.go - Database schema

PURPOSE:
  One idempotent migration creating every table and index. Journal
  entries, their lines, stock moves and audit rows are append-only by
  convention; the store exposes no UPDATE or DELETE for them beyond the
  void markers and the one-shot journal-entry link on stock moves.

NOTABLE CONSTRAINTS:
  ux_journal_entry_reversal  at most one direct reversal per original
                             entry (ALREADY_REVERSED on violation)
  idempotency_records PK     at most one attempt row per (tenant, key)
  sequences PK               one counter per (tenant, doc type)
  outbox_events rowid        insertion order == publish order
*/
package sqlite

import "fmt"

const schema = `
CREATE TABLE IF NOT EXISTS companies (
	id                                TEXT PRIMARY KEY,
	name                              TEXT NOT NULL,
	base_currency                     TEXT,
	time_zone                         TEXT,
	accounts_receivable_account_id    TEXT,
	accounts_payable_account_id       TEXT,
	opening_balance_equity_account_id TEXT,
	inventory_asset_account_id        TEXT,
	cogs_account_id                   TEXT,
	default_location_id               TEXT
);

CREATE TABLE IF NOT EXISTS accounts (
	id                TEXT PRIMARY KEY,
	tenant_id         TEXT NOT NULL,
	code              TEXT NOT NULL,
	name              TEXT NOT NULL,
	type              TEXT NOT NULL,
	normal_balance    TEXT NOT NULL,
	report_group      TEXT,
	cashflow_activity TEXT,
	is_active         INTEGER NOT NULL DEFAULT 1,
	created_at        TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_accounts_tenant_code_type
	ON accounts (tenant_id, code, type);

CREATE TABLE IF NOT EXISTS journal_entries (
	id                           TEXT PRIMARY KEY,
	tenant_id                    TEXT NOT NULL,
	date                         TEXT NOT NULL,
	description                  TEXT,
	location_id                  TEXT,
	reversal_of_journal_entry_id TEXT,
	reversal_reason              TEXT,
	voided_at                    TEXT,
	void_reason                  TEXT,
	voided_by_user_id            TEXT,
	created_by_user_id           TEXT,
	created_at                   TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_journal_entry_reversal
	ON journal_entries (tenant_id, reversal_of_journal_entry_id)
	WHERE reversal_of_journal_entry_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_journal_entries_tenant_date
	ON journal_entries (tenant_id, date);

CREATE TABLE IF NOT EXISTS journal_entry_lines (
	id               TEXT PRIMARY KEY,
	tenant_id        TEXT NOT NULL,
	journal_entry_id TEXT NOT NULL REFERENCES journal_entries (id),
	account_id       TEXT NOT NULL,
	debit            TEXT NOT NULL,
	credit           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_entry_lines_entry
	ON journal_entry_lines (journal_entry_id);

CREATE TABLE IF NOT EXISTS sequences (
	tenant_id TEXT NOT NULL,
	doc_type  TEXT NOT NULL,
	value     INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, doc_type)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	user_id         TEXT,
	action          TEXT NOT NULL,
	entity_type     TEXT,
	entity_id       TEXT,
	idempotency_key TEXT,
	correlation_id  TEXT,
	metadata        TEXT,
	occurred_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_tenant_entity
	ON audit_log (tenant_id, entity_type, entity_id);

CREATE TABLE IF NOT EXISTS closed_periods (
	tenant_id TEXT NOT NULL,
	from_date TEXT NOT NULL,
	to_date   TEXT NOT NULL,
	PRIMARY KEY (tenant_id, from_date, to_date)
);

CREATE TABLE IF NOT EXISTS locations (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	name       TEXT NOT NULL,
	is_default INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS banking_accounts (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	account_id TEXT NOT NULL,
	kind       TEXT NOT NULL,
	name       TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_banking_accounts_tenant_account
	ON banking_accounts (tenant_id, account_id);

CREATE TABLE IF NOT EXISTS customers (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	name            TEXT NOT NULL,
	email           TEXT,
	opening_balance TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_customers_tenant ON customers (tenant_id);

CREATE TABLE IF NOT EXISTS vendors (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	name            TEXT NOT NULL,
	email           TEXT,
	opening_balance TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vendors_tenant ON vendors (tenant_id);

CREATE TABLE IF NOT EXISTS items (
	id                  TEXT PRIMARY KEY,
	tenant_id           TEXT NOT NULL,
	name                TEXT NOT NULL,
	kind                TEXT NOT NULL,
	track_inventory     INTEGER NOT NULL DEFAULT 0,
	sales_price         TEXT NOT NULL,
	purchase_cost       TEXT NOT NULL,
	income_account_id   TEXT,
	expense_account_id  TEXT,
	default_location_id TEXT,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_items_tenant ON items (tenant_id);

CREATE TABLE IF NOT EXISTS invoices (
	id                               TEXT PRIMARY KEY,
	tenant_id                        TEXT NOT NULL,
	number                           TEXT NOT NULL,
	customer_id                      TEXT NOT NULL,
	status                           TEXT NOT NULL,
	invoice_date                     TEXT NOT NULL,
	due_date                         TEXT,
	currency                         TEXT,
	location_id                      TEXT,
	subtotal                         TEXT NOT NULL,
	tax_amount                       TEXT NOT NULL,
	total                            TEXT NOT NULL,
	amount_paid                      TEXT NOT NULL,
	journal_entry_id                 TEXT,
	last_adjustment_journal_entry_id TEXT,
	void_journal_entry_id            TEXT,
	public_link_token                TEXT,
	created_at                       TEXT NOT NULL,
	updated_at                       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invoices_tenant ON invoices (tenant_id);
CREATE UNIQUE INDEX IF NOT EXISTS ux_invoices_tenant_number
	ON invoices (tenant_id, number);

CREATE TABLE IF NOT EXISTS invoice_lines (
	id                TEXT PRIMARY KEY,
	tenant_id         TEXT NOT NULL,
	invoice_id        TEXT NOT NULL REFERENCES invoices (id),
	item_id           TEXT,
	description       TEXT,
	quantity          TEXT NOT NULL,
	unit_price        TEXT NOT NULL,
	discount_amount   TEXT NOT NULL,
	tax_rate          TEXT NOT NULL,
	tax_amount        TEXT NOT NULL,
	income_account_id TEXT,
	location_id       TEXT,
	position          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invoice_lines_invoice ON invoice_lines (invoice_id);

CREATE TABLE IF NOT EXISTS invoice_payment_proofs (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	invoice_id  TEXT NOT NULL REFERENCES invoices (id),
	storage_uri TEXT NOT NULL,
	used        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_invoice_payment_proofs_invoice
	ON invoice_payment_proofs (invoice_id);

CREATE TABLE IF NOT EXISTS credit_notes (
	id                    TEXT PRIMARY KEY,
	tenant_id             TEXT NOT NULL,
	number                TEXT NOT NULL,
	customer_id           TEXT NOT NULL,
	invoice_id            TEXT,
	status                TEXT NOT NULL,
	date                  TEXT NOT NULL,
	currency              TEXT,
	subtotal              TEXT NOT NULL,
	tax_amount            TEXT NOT NULL,
	total                 TEXT NOT NULL,
	amount_refunded       TEXT NOT NULL,
	journal_entry_id      TEXT,
	last_adjustment_journal_entry_id TEXT,
	void_journal_entry_id TEXT,
	created_at            TEXT NOT NULL,
	updated_at            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credit_notes_tenant ON credit_notes (tenant_id);
CREATE INDEX IF NOT EXISTS idx_credit_notes_invoice
	ON credit_notes (tenant_id, invoice_id);
CREATE UNIQUE INDEX IF NOT EXISTS ux_credit_notes_tenant_number
	ON credit_notes (tenant_id, number);

CREATE TABLE IF NOT EXISTS credit_note_lines (
	id                TEXT PRIMARY KEY,
	tenant_id         TEXT NOT NULL,
	credit_note_id    TEXT NOT NULL REFERENCES credit_notes (id),
	item_id           TEXT,
	invoice_line_id   TEXT,
	description       TEXT,
	quantity          TEXT NOT NULL,
	unit_price        TEXT NOT NULL,
	discount_amount   TEXT NOT NULL,
	tax_rate          TEXT NOT NULL,
	tax_amount        TEXT NOT NULL,
	income_account_id TEXT,
	position          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credit_note_lines_note
	ON credit_note_lines (credit_note_id);

CREATE TABLE IF NOT EXISTS expenses (
	id                               TEXT PRIMARY KEY,
	tenant_id                        TEXT NOT NULL,
	number                           TEXT NOT NULL,
	vendor_id                        TEXT NOT NULL,
	status                           TEXT NOT NULL,
	expense_date                     TEXT NOT NULL,
	due_date                         TEXT,
	currency                         TEXT,
	subtotal                         TEXT NOT NULL,
	tax_amount                       TEXT NOT NULL,
	total                            TEXT NOT NULL,
	amount_paid                      TEXT NOT NULL,
	journal_entry_id                 TEXT,
	last_adjustment_journal_entry_id TEXT,
	void_journal_entry_id            TEXT,
	created_at                       TEXT NOT NULL,
	updated_at                       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_expenses_tenant ON expenses (tenant_id);
CREATE UNIQUE INDEX IF NOT EXISTS ux_expenses_tenant_number
	ON expenses (tenant_id, number);

CREATE TABLE IF NOT EXISTS expense_lines (
	id                 TEXT PRIMARY KEY,
	tenant_id          TEXT NOT NULL,
	expense_id         TEXT NOT NULL REFERENCES expenses (id),
	description        TEXT,
	expense_account_id TEXT NOT NULL,
	amount             TEXT NOT NULL,
	tax_rate           TEXT NOT NULL,
	tax_amount         TEXT NOT NULL,
	position           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_expense_lines_expense ON expense_lines (expense_id);

CREATE TABLE IF NOT EXISTS purchase_bills (
	id               TEXT PRIMARY KEY,
	tenant_id        TEXT NOT NULL,
	number           TEXT NOT NULL,
	vendor_id        TEXT NOT NULL,
	status           TEXT NOT NULL,
	bill_date        TEXT NOT NULL,
	due_date         TEXT,
	currency         TEXT,
	location_id      TEXT,
	subtotal         TEXT NOT NULL,
	tax_amount       TEXT NOT NULL,
	total            TEXT NOT NULL,
	amount_paid      TEXT NOT NULL,
	journal_entry_id TEXT,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_purchase_bills_tenant ON purchase_bills (tenant_id);
CREATE UNIQUE INDEX IF NOT EXISTS ux_purchase_bills_tenant_number
	ON purchase_bills (tenant_id, number);

CREATE TABLE IF NOT EXISTS purchase_bill_lines (
	id                 TEXT PRIMARY KEY,
	tenant_id          TEXT NOT NULL,
	purchase_bill_id   TEXT NOT NULL REFERENCES purchase_bills (id),
	item_id            TEXT,
	description        TEXT,
	quantity           TEXT NOT NULL,
	unit_cost          TEXT NOT NULL,
	tax_rate           TEXT NOT NULL,
	tax_amount         TEXT NOT NULL,
	expense_account_id TEXT,
	location_id        TEXT,
	position           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_purchase_bill_lines_bill
	ON purchase_bill_lines (purchase_bill_id);

CREATE TABLE IF NOT EXISTS payments (
	id                        TEXT PRIMARY KEY,
	tenant_id                 TEXT NOT NULL,
	number                    TEXT NOT NULL,
	doc_kind                  TEXT NOT NULL,
	document_id               TEXT NOT NULL,
	amount                    TEXT NOT NULL,
	bank_account_id           TEXT NOT NULL,
	payment_date              TEXT NOT NULL,
	payment_mode              TEXT,
	attachment_uri            TEXT,
	journal_entry_id          TEXT NOT NULL,
	reversed_at               TEXT,
	reversal_journal_entry_id TEXT,
	created_by_user_id        TEXT,
	created_at                TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_payments_document
	ON payments (tenant_id, doc_kind, document_id);

CREATE TABLE IF NOT EXISTS refunds (
	id                 TEXT PRIMARY KEY,
	tenant_id          TEXT NOT NULL,
	number             TEXT NOT NULL,
	credit_note_id     TEXT NOT NULL,
	amount             TEXT NOT NULL,
	bank_account_id    TEXT NOT NULL,
	refund_date        TEXT NOT NULL,
	journal_entry_id   TEXT NOT NULL,
	created_by_user_id TEXT,
	created_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_refunds_credit_note
	ON refunds (tenant_id, credit_note_id);

CREATE TABLE IF NOT EXISTS stock_balances (
	tenant_id   TEXT NOT NULL,
	location_id TEXT NOT NULL,
	item_id     TEXT NOT NULL,
	quantity    TEXT NOT NULL,
	unit_cost   TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (tenant_id, location_id, item_id)
);

CREATE TABLE IF NOT EXISTS stock_moves (
	id                 TEXT PRIMARY KEY,
	tenant_id          TEXT NOT NULL,
	location_id        TEXT NOT NULL,
	item_id            TEXT NOT NULL,
	date               TEXT NOT NULL,
	type               TEXT NOT NULL,
	direction          TEXT NOT NULL,
	quantity           TEXT NOT NULL,
	unit_cost_applied  TEXT NOT NULL,
	total_cost_applied TEXT NOT NULL,
	reference_type     TEXT,
	reference_id       TEXT,
	correlation_id     TEXT,
	created_by_user_id TEXT,
	journal_entry_id   TEXT,
	created_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stock_moves_triple
	ON stock_moves (tenant_id, location_id, item_id, date);
CREATE INDEX IF NOT EXISTS idx_stock_moves_reference
	ON stock_moves (tenant_id, reference_type, reference_id);

CREATE TABLE IF NOT EXISTS outbox_events (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id      TEXT NOT NULL,
	event_id       TEXT NOT NULL UNIQUE,
	event_type     TEXT NOT NULL,
	schema_version TEXT NOT NULL,
	occurred_at    TEXT NOT NULL,
	source         TEXT NOT NULL,
	partition_key  TEXT NOT NULL,
	correlation_id TEXT,
	causation_id   TEXT,
	aggregate_type TEXT,
	aggregate_id   TEXT,
	type           TEXT NOT NULL,
	payload        TEXT NOT NULL,
	published_at   TEXT
);
CREATE INDEX IF NOT EXISTS idx_outbox_events_unpublished
	ON outbox_events (id) WHERE published_at IS NULL;

CREATE TABLE IF NOT EXISTS idempotency_records (
	tenant_id     TEXT NOT NULL,
	key           TEXT NOT NULL,
	status        TEXT NOT NULL,
	status_code   INTEGER NOT NULL DEFAULT 0,
	response_json TEXT,
	created_at    TEXT NOT NULL,
	completed_at  TEXT,
	PRIMARY KEY (tenant_id, key)
);
`

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
