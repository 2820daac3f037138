/*
service.go - Command pipeline shared by every document service

PURPOSE:
  Service owns the cross-cutting collaborators (locks, idempotency,
  poster, inventory engine, period guard, outbox publisher) and the
  pipeline every mutating command runs through. The per-document flows in
  invoice.go, creditnote.go, expense.go, purchasebill.go and payment.go
  supply only the in-transaction body.
*/
package books

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cashflowhq/cashflow-api/idempotency"
	"github.com/cashflowhq/cashflow-api/inventory"
	"github.com/cashflowhq/cashflow-api/ledger"
	"github.com/cashflowhq/cashflow-api/locks"
	"github.com/cashflowhq/cashflow-api/money"
	"github.com/cashflowhq/cashflow-api/outbox"
)

// Service orchestrates all document commands.
type Service struct {
	Store     Store
	Locks     *locks.Manager
	Idem      *idempotency.Runner
	Poster    *ledger.Poster
	Stock     *inventory.Engine
	Periods   ledger.PeriodGuard
	Publisher *outbox.Publisher
	Log       *logrus.Logger
}

// NewService wires a Service from its collaborators.
func NewService(store Store, lockMgr *locks.Manager, idem *idempotency.Runner, publisher *outbox.Publisher, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.New()
	}
	return &Service{
		Store:     store,
		Locks:     lockMgr,
		Idem:      idem,
		Poster:    ledger.NewPoster(),
		Stock:     inventory.NewEngine(),
		Periods:   PeriodGuardFor(store),
		Publisher: publisher,
		Log:       log,
	}
}

// =============================================================================
// COMMAND PIPELINE
// =============================================================================

// txBody is the in-transaction part of a command. It returns the success
// status code and the response body to cache.
type txBody func(ctx context.Context, tx Tx, emit *eventBuffer) (int, any, error)

// runCommand is the pipeline every mutating command goes through:
// locks -> idempotency -> transaction -> fast-path publish.
func (s *Service) runCommand(ctx context.Context, wc WriteContext, lockKeys []string, body txBody) (idempotency.Result, error) {
	if wc.IdempotencyKey == "" {
		return idempotency.Result{}, ledger.Validationf("Idempotency-Key header is required")
	}
	if wc.Now.IsZero() {
		wc.Now = time.Now().UTC()
	}
	if wc.CorrelationID == "" {
		wc.CorrelationID = uuid.NewString()
	}

	var result idempotency.Result
	err := s.Locks.WithLocks(ctx, lockKeys, locks.DefaultTTL, func(ctx context.Context) error {
		var err error
		result, err = s.Idem.Run(ctx, wc.TenantID, wc.IdempotencyKey, func(ctx context.Context) (int, any, error) {
			emit := &eventBuffer{}
			var status int
			var resp any

			txErr := s.Store.WithTx(ctx, func(tx Tx) error {
				var err error
				status, resp, err = body(ctx, tx, emit)
				return err
			})
			if txErr != nil {
				return 0, nil, txErr
			}

			// Post-commit fast path; failure is non-fatal.
			s.Publisher.TryPublish(ctx, emit.events)
			return status, resp, nil
		})
		return err
	})
	return result, err
}

// eventBuffer accumulates the outbox rows a transaction inserts so the
// fast path can publish them after commit.
type eventBuffer struct {
	events []*outbox.Event
}

// emit inserts an event row in the transaction and remembers it for the
// post-commit fast path.
func (s *Service) emit(ctx context.Context, tx Tx, emit *eventBuffer, wc WriteContext, eventType, aggregateType, aggregateID string, payload any) error {
	ev, err := outbox.New(wc.TenantID, eventType, aggregateType, aggregateID, wc.CorrelationID, payload)
	if err != nil {
		return err
	}
	if err := tx.InsertEvent(ctx, ev); err != nil {
		return err
	}
	emit.events = append(emit.events, ev)
	return nil
}

// audit writes the per-command audit row.
func (s *Service) audit(ctx context.Context, tx Tx, wc WriteContext, action, entityType, entityID string, metadata map[string]any) error {
	return tx.InsertAuditEntry(ctx, &ledger.AuditEntry{
		ID:             uuid.NewString(),
		TenantID:       wc.TenantID,
		UserID:         wc.UserID,
		Action:         action,
		EntityType:     entityType,
		EntityID:       entityID,
		IdempotencyKey: wc.IdempotencyKey,
		CorrelationID:  wc.CorrelationID,
		Metadata:       metadata,
		OccurredAt:     wc.Now,
	})
}

// =============================================================================
// SHARED VALIDATION HELPERS
// =============================================================================

// requireCompany loads the tenant row; every command needs it.
func requireCompany(ctx context.Context, tx Tx, tenantID ledger.TenantID) (*Company, error) {
	company, err := tx.GetCompany(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, ledger.NotFoundf("company %s not found", tenantID)
	}
	return company, nil
}

// requireConfiguredAccount resolves a distinguished account and checks its
// type.
func requireConfiguredAccount(ctx context.Context, tx Tx, tenantID ledger.TenantID, id ledger.AccountID, name string, wantType ledger.AccountType) (*ledger.Account, error) {
	if id == "" {
		return nil, ledger.Configf("%s account is not configured for this company", name)
	}
	acct, err := tx.GetAccount(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, ledger.Configf("%s account %s not found", name, id)
	}
	if acct.Type != wantType {
		return nil, ledger.Configf("%s account must be %s, got %s", name, wantType, acct.Type)
	}
	return acct, nil
}

// checkCurrency enforces the single-base-currency rule when both sides
// declare one.
func checkCurrency(company *Company, docCurrency string) error {
	if docCurrency == "" || company.BaseCurrency == "" {
		return nil
	}
	if docCurrency != company.BaseCurrency {
		return ledger.Errf(ledger.CodeCurrencyMismatch, http.StatusBadRequest,
			"document currency %s does not match company base currency %s", docCurrency, company.BaseCurrency)
	}
	return nil
}

// companyLocation resolves the tenant timezone for future-date checks.
func companyToday(company *Company) money.Date {
	loc := time.UTC
	if company.TimeZone != "" {
		if parsed, err := time.LoadLocation(company.TimeZone); err == nil {
			loc = parsed
		}
	}
	return money.TodayIn(loc)
}

// resolveLineLocation walks invoice.location -> item.default ->
// company.default -> the tenant's isDefault location row.
func resolveLineLocation(ctx context.Context, tx Tx, company *Company, docLocation ledger.LocationID, item *Item) (ledger.LocationID, error) {
	candidates := []ledger.LocationID{docLocation, item.DefaultLocationID, company.DefaultLocationID}
	for _, id := range candidates {
		if id == "" {
			continue
		}
		loc, err := tx.GetLocation(ctx, company.ID, id)
		if err != nil {
			return "", err
		}
		if loc != nil {
			return loc.ID, nil
		}
	}
	def, err := tx.DefaultLocation(ctx, company.ID)
	if err != nil {
		return "", err
	}
	if def == nil {
		return "", ledger.Configf("no location resolvable for tracked item %s: set an invoice, item or company default location", item.ID)
	}
	return def.ID, nil
}

// nonReversedTotal sums the non-reversed payments for a document.
func nonReversedTotal(payments []*Payment) money.Money {
	total := money.Zero
	for _, p := range payments {
		if !p.IsReversed() {
			total = total.Add(p.Amount)
		}
	}
	return total
}

// statusForPaid derives POSTED / PARTIAL / PAID from the paid total.
func statusForPaid(total, paid money.Money) DocStatus {
	switch {
	case paid.IsZero():
		return StatusPosted
	case paid.Cmp(total) >= 0:
		return StatusPaid
	default:
		return StatusPartial
	}
}
