package inventory_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashflowhq/cashflow-api/inventory"
	"github.com/cashflowhq/cashflow-api/ledger"
	"github.com/cashflowhq/cashflow-api/money"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type memTx struct {
	balance *inventory.StockBalance
	moves   []*inventory.StockMove
}

func (m *memTx) GetStockBalanceForUpdate(context.Context, ledger.TenantID, ledger.LocationID, inventory.ItemID) (*inventory.StockBalance, error) {
	return m.balance, nil
}

func (m *memTx) UpsertStockBalance(_ context.Context, b *inventory.StockBalance) error {
	m.balance = b
	return nil
}

func (m *memTx) InsertStockMove(_ context.Context, mv *inventory.StockMove) error {
	m.moves = append(m.moves, mv)
	return nil
}

func (m *memTx) LatestMoveDate(context.Context, ledger.TenantID, ledger.LocationID, inventory.ItemID) (money.Date, bool, error) {
	if len(m.moves) == 0 {
		return money.Date{}, false, nil
	}
	latest := m.moves[0].Date
	for _, mv := range m.moves[1:] {
		if mv.Date.After(latest) {
			latest = mv.Date
		}
	}
	return latest, true, nil
}

func qty(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func apply(t *testing.T, tx *memTx, in inventory.MoveInput) *inventory.ApplyResult {
	t.Helper()
	res, err := inventory.NewEngine().Apply(context.Background(), tx, in)
	require.NoError(t, err)
	return res
}

func receipt(day int, n int64, cost string) inventory.MoveInput {
	return inventory.MoveInput{
		TenantID: "t1", LocationID: "loc-7", ItemID: "item-101",
		Date: money.NewDate(2025, 3, day),
		Type: inventory.MovePurchaseReceipt, Direction: inventory.DirectionIn,
		Quantity: qty(n), UnitCost: money.MustParse(cost),
	}
}

func issue(day int, n int64) inventory.MoveInput {
	return inventory.MoveInput{
		TenantID: "t1", LocationID: "loc-7", ItemID: "item-101",
		Date: money.NewDate(2025, 3, day),
		Type: inventory.MoveSaleIssue, Direction: inventory.DirectionOut,
		Quantity: qty(n),
	}
}

// =============================================================================
// WAC AVERAGING
// =============================================================================

func TestApply_WeightedAverageAcrossReceipts(t *testing.T) {
	// GIVEN: receipts of 10 @ 3.00 then 10 @ 5.00
	// THEN: balance is 20 units at 4.00

	tx := &memTx{}
	apply(t, tx, receipt(1, 10, "3.00"))
	apply(t, tx, receipt(2, 10, "5.00"))

	assert.True(t, tx.balance.Quantity.Equal(qty(20)))
	assert.Equal(t, "4.00", tx.balance.UnitCost.String())
}

func TestApply_SaleIssuesAtRunningAverage(t *testing.T) {
	tx := &memTx{}
	apply(t, tx, receipt(1, 10, "3.00"))
	apply(t, tx, receipt(2, 10, "5.00"))

	res := apply(t, tx, issue(3, 5))

	assert.Equal(t, "4.00", res.Move.UnitCostApplied.String())
	assert.Equal(t, "20.00", res.Move.TotalCostApplied.String())
	assert.True(t, tx.balance.Quantity.Equal(qty(15)))
	assert.Equal(t, "4.00", tx.balance.UnitCost.String())
}

func TestApply_CallerCostIgnoredOnIssue(t *testing.T) {
	tx := &memTx{}
	apply(t, tx, receipt(1, 10, "3.00"))

	in := issue(2, 4)
	in.UnitCost = money.MustParse("99.99")
	res := apply(t, tx, in)

	assert.Equal(t, "3.00", res.Move.UnitCostApplied.String())
}

func TestApply_OutOfStock(t *testing.T) {
	tx := &memTx{}
	apply(t, tx, receipt(1, 3, "3.00"))

	_, err := inventory.NewEngine().Apply(context.Background(), tx, issue(2, 4))
	assert.True(t, ledger.IsCode(err, ledger.CodeOutOfStock))
	// Nothing written on failure.
	assert.Len(t, tx.moves, 1)
	assert.True(t, tx.balance.Quantity.Equal(qty(3)))
}

func TestApply_ReturnAtOriginalCostRestoresBalance(t *testing.T) {
	// Post-then-void round trip: a return of 5 units at the issued cost
	// brings quantity and unit cost back to pre-issue values.
	tx := &memTx{}
	apply(t, tx, receipt(1, 10, "3.00"))
	apply(t, tx, receipt(2, 10, "5.00"))
	issued := apply(t, tx, issue(3, 5))

	ret := inventory.MoveInput{
		TenantID: "t1", LocationID: "loc-7", ItemID: "item-101",
		Date: money.NewDate(2025, 3, 4),
		Type: inventory.MoveSaleReturn, Direction: inventory.DirectionIn,
		Quantity: qty(5), UnitCost: issued.Move.UnitCostApplied,
	}
	apply(t, tx, ret)

	assert.True(t, tx.balance.Quantity.Equal(qty(20)))
	assert.Equal(t, "4.00", tx.balance.UnitCost.String())
}

func TestApply_TotalCostOverrideRestoresExactValue(t *testing.T) {
	// A rounded unit cost would drift the restored value; the override
	// carries the exact total instead.
	tx := &memTx{}
	apply(t, tx, receipt(1, 3, "10.00"))
	apply(t, tx, issue(2, 1))

	total := money.MustParse("10.00")
	in := inventory.MoveInput{
		TenantID: "t1", LocationID: "loc-7", ItemID: "item-101",
		Date: money.NewDate(2025, 3, 3),
		Type: inventory.MoveSaleReturn, Direction: inventory.DirectionIn,
		Quantity: qty(1), TotalCostOverride: &total,
	}
	res := apply(t, tx, in)

	assert.Equal(t, "10.00", res.Move.TotalCostApplied.String())
	assert.Equal(t, "10.00", tx.balance.UnitCost.String())
	assert.True(t, tx.balance.Quantity.Equal(qty(3)))
}

// =============================================================================
// BACKDATED DETECTION
// =============================================================================

func TestApply_BackdatedMoveReportsRecalcDate(t *testing.T) {
	tx := &memTx{}
	apply(t, tx, receipt(10, 10, "3.00"))

	res := apply(t, tx, receipt(5, 10, "5.00"))
	require.NotNil(t, res.RecalcRequiredFrom)
	assert.Equal(t, "2025-03-05", res.RecalcRequiredFrom.String())

	// Same-date and forward moves do not trigger a recalc.
	res = apply(t, tx, receipt(10, 1, "3.00"))
	assert.Nil(t, res.RecalcRequiredFrom)

	res = apply(t, tx, receipt(11, 1, "3.00"))
	assert.Nil(t, res.RecalcRequiredFrom)
}

func TestApply_RejectsNonPositiveQuantity(t *testing.T) {
	tx := &memTx{}
	in := receipt(1, 10, "3.00")
	in.Quantity = decimal.Zero

	_, err := inventory.NewEngine().Apply(context.Background(), tx, in)
	assert.True(t, ledger.IsCode(err, ledger.CodeValidation))
}
