package ledger

import (
	"context"

	"github.com/cashflowhq/cashflow-api/money"
)

// =============================================================================
// PERIOD-CLOSE GUARD
// =============================================================================

// PeriodGuard rejects writes whose effective date falls inside a closed
// fiscal period. The closed-period representation is external; the core
// consumes this query interface only.
type PeriodGuard interface {
	// CheckOpen returns a PERIOD_CLOSED domain error when date falls in a
	// closed period for the tenant. action names the attempted operation
	// for the error message ("invoice.post", "payment.record").
	CheckOpen(ctx context.Context, tenantID TenantID, date money.Date, action string) error
}

// ClosedRange is one closed interval [From, To], inclusive on both ends.
type ClosedRange struct {
	From money.Date
	To   money.Date
}

// Covers reports whether d falls inside the range.
func (r ClosedRange) Covers(d money.Date) bool {
	return !d.Before(r.From) && !d.After(r.To)
}

// ClosedPeriodSource lists a tenant's closed ranges.
type ClosedPeriodSource interface {
	ClosedPeriods(ctx context.Context, tenantID TenantID) ([]ClosedRange, error)
}

// RangePeriodGuard implements PeriodGuard over a ClosedPeriodSource.
type RangePeriodGuard struct {
	Source ClosedPeriodSource
}

func NewPeriodGuard(source ClosedPeriodSource) *RangePeriodGuard {
	return &RangePeriodGuard{Source: source}
}

func (g *RangePeriodGuard) CheckOpen(ctx context.Context, tenantID TenantID, date money.Date, action string) error {
	ranges, err := g.Source.ClosedPeriods(ctx, tenantID)
	if err != nil {
		return err
	}
	for _, r := range ranges {
		if r.Covers(date) {
			return Errf(CodePeriodClosed, 400, "%s rejected: %s falls in a closed period (%s to %s)", action, date, r.From, r.To)
		}
	}
	return nil
}
