/*
Package inventory applies stock moves under perpetual weighted average
cost (WAC).

PURPOSE:
  Each (tenant, location, item) carries one running StockBalance of
  (quantity, unit cost). IN moves re-average the unit cost; OUT moves
  issue at the current unit cost and never change it. Every application
  appends an immutable StockMove row.

CRITICAL INVARIANTS:
  1. quantity >= 0 after every OUT; a sale that would overdraw fails
     OUT_OF_STOCK before anything is written.
  2. SALE_ISSUE always applies the balance's unit cost at move time,
     ignoring any caller-supplied cost.
  3. StockMove rows are append-only; the only post-insert write is
     linking the journal entry id, and only while it is still unset.

REVERSALS:
  SALE_RETURN re-enters stock at the originally issued unit cost so COGS
  reverses exactly. Void paths pass an explicit total-cost override that
  restores the exact prior inventory value instead of re-averaging from a
  rounded unit cost.

BACKDATED MOVES:
  The engine never recomputes history inline. When a move lands strictly
  before the latest existing move for the same (tenant, location, item),
  Apply reports the date so the caller can emit inventory.recalc.requested
  for the downstream projection.
*/
package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cashflowhq/cashflow-api/ledger"
	"github.com/cashflowhq/cashflow-api/money"
)

// =============================================================================
// TYPES
// =============================================================================

type ItemID string

type MoveType string

const (
	MovePurchaseReceipt MoveType = "PURCHASE_RECEIPT"
	MoveSaleIssue       MoveType = "SALE_ISSUE"
	MoveSaleReturn      MoveType = "SALE_RETURN"
	MoveAdjustment      MoveType = "ADJUSTMENT"
)

type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// StockBalance is the running current state per (tenant, location, item).
type StockBalance struct {
	TenantID   ledger.TenantID
	LocationID ledger.LocationID
	ItemID     ItemID
	Quantity   decimal.Decimal
	UnitCost   money.Money
	UpdatedAt  time.Time
}

// StockMove is one append-only inventory movement.
type StockMove struct {
	ID               string
	TenantID         ledger.TenantID
	LocationID       ledger.LocationID
	ItemID           ItemID
	Date             money.Date
	Type             MoveType
	Direction        Direction
	Quantity         decimal.Decimal
	UnitCostApplied  money.Money
	TotalCostApplied money.Money
	ReferenceType    string
	ReferenceID      string
	CorrelationID    string
	CreatedByUserID  ledger.UserID
	JournalEntryID   ledger.JournalEntryID
	CreatedAt        time.Time
}

// =============================================================================
// STORE SLICE
// =============================================================================

// Tx is the slice of the transactional store the engine writes through.
// GetStockBalanceForUpdate must hold the row against concurrent writers
// for the rest of the transaction.
type Tx interface {
	GetStockBalanceForUpdate(ctx context.Context, tenantID ledger.TenantID, locationID ledger.LocationID, itemID ItemID) (*StockBalance, error)
	UpsertStockBalance(ctx context.Context, balance *StockBalance) error
	InsertStockMove(ctx context.Context, move *StockMove) error

	// LatestMoveDate returns the max move date for the triple and whether
	// any move exists.
	LatestMoveDate(ctx context.Context, tenantID ledger.TenantID, locationID ledger.LocationID, itemID ItemID) (money.Date, bool, error)
}

// =============================================================================
// ENGINE
// =============================================================================

// MoveInput describes one move to apply.
type MoveInput struct {
	TenantID   ledger.TenantID
	LocationID ledger.LocationID
	ItemID     ItemID
	Date       money.Date
	Type       MoveType
	Direction  Direction
	Quantity   decimal.Decimal

	// UnitCost is required for IN moves (purchase cost, or original issue
	// cost on SALE_RETURN). Ignored for OUT moves unless TotalCostOverride
	// is set.
	UnitCost money.Money

	// TotalCostOverride bypasses quantity*unitCost (and, for OUT, the
	// balance unit cost) so void paths restore the exact prior value.
	TotalCostOverride *money.Money

	ReferenceType   string
	ReferenceID     string
	CorrelationID   string
	CreatedByUserID ledger.UserID
}

// ApplyResult reports the persisted move and, when the move was backdated,
// the date history must be recalculated from.
type ApplyResult struct {
	Move               *StockMove
	RecalcRequiredFrom *money.Date
}

// Engine applies moves. Callers must hold the stock lock key for every
// (tenant, location, item) touched in the command before Apply runs.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// Apply locks the balance row, applies the move, appends the StockMove and
// updates the balance.
func (e *Engine) Apply(ctx context.Context, tx Tx, in MoveInput) (*ApplyResult, error) {
	if !in.Quantity.IsPositive() {
		return nil, ledger.Validationf("stock move quantity must be positive")
	}

	balance, err := tx.GetStockBalanceForUpdate(ctx, in.TenantID, in.LocationID, in.ItemID)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		balance = &StockBalance{
			TenantID:   in.TenantID,
			LocationID: in.LocationID,
			ItemID:     in.ItemID,
			Quantity:   decimal.Zero,
			UnitCost:   money.Zero,
		}
	}

	latest, hasMoves, err := tx.LatestMoveDate(ctx, in.TenantID, in.LocationID, in.ItemID)
	if err != nil {
		return nil, err
	}

	var unitCost, totalCost money.Money
	switch in.Direction {
	case DirectionIn:
		unitCost = in.UnitCost
		totalCost = unitCost.Mul(in.Quantity)
		if in.TotalCostOverride != nil {
			totalCost = *in.TotalCostOverride
			unitCost = totalCost.Div(in.Quantity)
		}
		if unitCost.IsNegative() || totalCost.IsNegative() {
			return nil, ledger.Validationf("stock move cost must not be negative")
		}

		newQty := balance.Quantity.Add(in.Quantity)
		value := balance.UnitCost.Mul(balance.Quantity).Add(totalCost)
		balance.UnitCost = value.Div(newQty)
		balance.Quantity = newQty

	case DirectionOut:
		if in.Quantity.GreaterThan(balance.Quantity) {
			return nil, ledger.Errf(ledger.CodeOutOfStock, 400,
				"insufficient stock for item %s at location %s: have %s, need %s",
				in.ItemID, in.LocationID, balance.Quantity, in.Quantity)
		}
		// Issue at the running average; the caller's cost is advisory only.
		unitCost = balance.UnitCost
		totalCost = unitCost.Mul(in.Quantity)
		if in.TotalCostOverride != nil {
			totalCost = *in.TotalCostOverride
			unitCost = totalCost.Div(in.Quantity)
		}

		balance.Quantity = balance.Quantity.Sub(in.Quantity)
		// Unit cost is unchanged by an OUT; an emptied balance keeps its
		// last cost for the next receipt to average against zero quantity.

	default:
		return nil, ledger.Validationf("unknown stock move direction %q", in.Direction)
	}

	move := &StockMove{
		ID:               uuid.NewString(),
		TenantID:         in.TenantID,
		LocationID:       in.LocationID,
		ItemID:           in.ItemID,
		Date:             in.Date,
		Type:             in.Type,
		Direction:        in.Direction,
		Quantity:         in.Quantity,
		UnitCostApplied:  unitCost,
		TotalCostApplied: totalCost,
		ReferenceType:    in.ReferenceType,
		ReferenceID:      in.ReferenceID,
		CorrelationID:    in.CorrelationID,
		CreatedByUserID:  in.CreatedByUserID,
		CreatedAt:        time.Now().UTC(),
	}
	if err := tx.InsertStockMove(ctx, move); err != nil {
		return nil, err
	}

	balance.UpdatedAt = time.Now().UTC()
	if err := tx.UpsertStockBalance(ctx, balance); err != nil {
		return nil, err
	}

	result := &ApplyResult{Move: move}
	if hasMoves && in.Date.Before(latest) {
		d := in.Date
		result.RecalcRequiredFrom = &d
	}
	return result, nil
}
