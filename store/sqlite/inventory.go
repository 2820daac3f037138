/*
inventory.go - Stock balances and moves

PURPOSE:
  One balance row per (tenant, location, item); one append-only move row
  per application. The write-transaction mutex is the row lock behind
  GetStockBalanceForUpdate. The only post-insert write on a move is
  LinkStockMoveJournalEntry, and only while the link is still unset.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cashflowhq/cashflow-api/inventory"
	"github.com/cashflowhq/cashflow-api/ledger"
	"github.com/cashflowhq/cashflow-api/money"
)

// =============================================================================
// BALANCES
// =============================================================================

func (t *Tx) GetStockBalanceForUpdate(ctx context.Context, tenantID ledger.TenantID, locationID ledger.LocationID, itemID inventory.ItemID) (*inventory.StockBalance, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT tenant_id, location_id, item_id, quantity, unit_cost, updated_at
		FROM stock_balances
		WHERE tenant_id = ? AND location_id = ? AND item_id = ?`,
		tenantID, locationID, itemID)

	var b inventory.StockBalance
	err := row.Scan(
		strCol{(*string)(&b.TenantID)}, strCol{(*string)(&b.LocationID)},
		strCol{(*string)(&b.ItemID)},
		qtyCol{&b.Quantity}, moneyCol{&b.UnitCost}, timeCol{&b.UpdatedAt},
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (t *Tx) UpsertStockBalance(ctx context.Context, b *inventory.StockBalance) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO stock_balances (tenant_id, location_id, item_id, quantity, unit_cost, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, location_id, item_id) DO UPDATE SET
			quantity = excluded.quantity,
			unit_cost = excluded.unit_cost,
			updated_at = excluded.updated_at`,
		b.TenantID, b.LocationID, b.ItemID,
		b.Quantity.String(), b.UnitCost.String(), timeArg(b.UpdatedAt))
	return err
}

// =============================================================================
// MOVES
// =============================================================================

const stockMoveColumns = `id, tenant_id, location_id, item_id, date, type,
	direction, quantity, unit_cost_applied, total_cost_applied,
	reference_type, reference_id, correlation_id, created_by_user_id,
	journal_entry_id, created_at`

func (t *Tx) InsertStockMove(ctx context.Context, mv *inventory.StockMove) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO stock_moves (`+stockMoveColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mv.ID, mv.TenantID, mv.LocationID, mv.ItemID, mv.Date.String(),
		mv.Type, mv.Direction, mv.Quantity.String(),
		mv.UnitCostApplied.String(), mv.TotalCostApplied.String(),
		nullString(mv.ReferenceType), nullString(mv.ReferenceID),
		nullString(mv.CorrelationID), nullString(string(mv.CreatedByUserID)),
		nullString(string(mv.JournalEntryID)), timeArg(mv.CreatedAt))
	return err
}

func scanStockMove(row rowScanner) (*inventory.StockMove, error) {
	var mv inventory.StockMove
	err := row.Scan(
		strCol{&mv.ID}, strCol{(*string)(&mv.TenantID)},
		strCol{(*string)(&mv.LocationID)}, strCol{(*string)(&mv.ItemID)},
		dateCol{&mv.Date},
		strCol{(*string)(&mv.Type)}, strCol{(*string)(&mv.Direction)},
		qtyCol{&mv.Quantity},
		moneyCol{&mv.UnitCostApplied}, moneyCol{&mv.TotalCostApplied},
		strCol{&mv.ReferenceType}, strCol{&mv.ReferenceID},
		strCol{&mv.CorrelationID}, strCol{(*string)(&mv.CreatedByUserID)},
		strCol{(*string)(&mv.JournalEntryID)}, timeCol{&mv.CreatedAt},
	)
	if err != nil {
		return nil, err
	}
	return &mv, nil
}

func (t *Tx) LatestMoveDate(ctx context.Context, tenantID ledger.TenantID, locationID ledger.LocationID, itemID inventory.ItemID) (money.Date, bool, error) {
	var latest sql.NullString
	err := t.q.QueryRowContext(ctx, `
		SELECT MAX(date) FROM stock_moves
		WHERE tenant_id = ? AND location_id = ? AND item_id = ?`,
		tenantID, locationID, itemID).Scan(&latest)
	if err != nil {
		return money.Date{}, false, err
	}
	if !latest.Valid {
		return money.Date{}, false, nil
	}
	d, err := money.ParseDate(latest.String)
	if err != nil {
		return money.Date{}, false, err
	}
	return d, true, nil
}

// StockMovesByReference returns the moves booked under one source document,
// in insertion order.
func (t *Tx) StockMovesByReference(ctx context.Context, tenantID ledger.TenantID, referenceType, referenceID string) ([]*inventory.StockMove, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+stockMoveColumns+` FROM stock_moves
		WHERE tenant_id = ? AND reference_type = ? AND reference_id = ?
		ORDER BY rowid`,
		tenantID, referenceType, referenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*inventory.StockMove
	for rows.Next() {
		mv, err := scanStockMove(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}

func (t *Tx) LinkStockMoveJournalEntry(ctx context.Context, tenantID ledger.TenantID, moveID string, jeID ledger.JournalEntryID) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE stock_moves SET journal_entry_id = ?
		WHERE tenant_id = ? AND id = ? AND journal_entry_id IS NULL`,
		jeID, tenantID, moveID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("stock move %s: not found or journal entry already linked", moveID)
	}
	return nil
}
