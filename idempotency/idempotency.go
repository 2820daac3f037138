/*
Package idempotency makes every external command safe to retry.

PURPOSE:
  Clients supply an opaque Idempotency-Key with every mutating request.
  The first attempt records an IN_FLIGHT row, runs the command, and caches
  the serialized response. A retry with the same key replays the cached
  response byte for byte instead of re-running the command.

LIFECYCLE:
  (tenant, key) -> IN_FLIGHT -> DONE   (command succeeded; response cached)
                            -> FAILED (domain error; error envelope cached)
  An IN_FLIGHT row younger than the in-flight window blocks the retry
  briefly and rechecks; an older one returns a 409 so the client backs off.

REPLAY CONTRACT:
  The stored response is returned verbatim; payload equality between the
  first and second request bodies is not verified. Callers must not change
  the body on retry.

INFRASTRUCTURE FAILURES:
  When fn fails with a non-domain error, the IN_FLIGHT row is cleared so
  the client can retry the same key once the infrastructure recovers.
*/
package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cashflowhq/cashflow-api/ledger"
)

// =============================================================================
// RECORDS
// =============================================================================

type Status string

const (
	StatusInFlight Status = "IN_FLIGHT"
	StatusDone     Status = "DONE"
	StatusFailed   Status = "FAILED"
)

// Record is one (tenant, key) attempt.
type Record struct {
	TenantID     ledger.TenantID
	Key          string
	Status       Status
	StatusCode   int
	ResponseJSON string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// Store persists idempotency records. Implemented by store/sqlite.
type Store interface {
	// InsertInFlight atomically inserts an IN_FLIGHT row. When the key
	// already exists it returns (false, existing-row) instead.
	InsertInFlight(ctx context.Context, tenantID ledger.TenantID, key string) (inserted bool, existing *Record, err error)

	// Get returns the current row, or nil when absent.
	Get(ctx context.Context, tenantID ledger.TenantID, key string) (*Record, error)

	// Complete moves the row to a terminal status with the cached response.
	Complete(ctx context.Context, tenantID ledger.TenantID, key string, status Status, statusCode int, responseJSON string) error

	// Delete clears the row (infrastructure failure path).
	Delete(ctx context.Context, tenantID ledger.TenantID, key string) error
}

// =============================================================================
// RUNNER
// =============================================================================

// Result is the outcome of Run: either the fresh command response or a
// verbatim replay of a cached one.
type Result struct {
	Replayed   bool
	StatusCode int
	Body       json.RawMessage
}

// Runner executes commands at most once per (tenant, key).
type Runner struct {
	Store Store

	// InFlightWindow bounds how long a concurrent retry waits for the
	// first attempt before giving up with a 409.
	InFlightWindow time.Duration
}

// NewRunner returns a Runner with the default 10s in-flight window.
func NewRunner(store Store) *Runner {
	return &Runner{Store: store, InFlightWindow: 10 * time.Second}
}

const recheckInterval = 200 * time.Millisecond

// Run executes fn under the key. fn returns the success status code and a
// JSON-serializable response body.
func (r *Runner) Run(ctx context.Context, tenantID ledger.TenantID, key string, fn func(ctx context.Context) (int, any, error)) (Result, error) {
	inserted, existing, err := r.Store.InsertInFlight(ctx, tenantID, key)
	if err != nil {
		return Result{}, err
	}
	if !inserted {
		return r.replay(ctx, tenantID, key, existing)
	}

	status, body, err := fn(ctx)
	if err != nil {
		if de, ok := ledger.AsDomain(err); ok {
			envelope, _ := json.Marshal(map[string]string{"error": de.Message})
			if cerr := r.Store.Complete(ctx, tenantID, key, StatusFailed, de.Status, string(envelope)); cerr != nil {
				return Result{}, cerr
			}
			return Result{}, err
		}
		// Infrastructure failure: clear the marker so the key stays usable.
		_ = r.Store.Delete(context.WithoutCancel(ctx), tenantID, key)
		return Result{}, err
	}

	raw, err := json.Marshal(body)
	if err != nil {
		_ = r.Store.Delete(context.WithoutCancel(ctx), tenantID, key)
		return Result{}, err
	}
	if err := r.Store.Complete(ctx, tenantID, key, StatusDone, status, string(raw)); err != nil {
		return Result{}, err
	}
	return Result{StatusCode: status, Body: raw}, nil
}

// replay resolves a conflicting row: terminal rows replay immediately,
// fresh IN_FLIGHT rows are awaited briefly, stale ones conflict.
func (r *Runner) replay(ctx context.Context, tenantID ledger.TenantID, key string, rec *Record) (Result, error) {
	deadline := time.Now().Add(r.InFlightWindow)

	for {
		if rec == nil {
			// Row vanished (first attempt hit an infrastructure failure
			// and cleared it): surface a retryable conflict.
			return Result{}, ledger.Conflictf(ledger.CodeRetryInProgress, "previous attempt for this idempotency key did not complete; retry")
		}

		switch rec.Status {
		case StatusDone, StatusFailed:
			return Result{Replayed: true, StatusCode: rec.StatusCode, Body: json.RawMessage(rec.ResponseJSON)}, nil
		case StatusInFlight:
			if time.Since(rec.CreatedAt) > r.InFlightWindow || time.Now().After(deadline) {
				return Result{}, ledger.Conflictf(ledger.CodeRetryInProgress, "a request with this idempotency key is already in progress")
			}
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(recheckInterval):
		}

		var err error
		rec, err = r.Store.Get(ctx, tenantID, key)
		if err != nil {
			return Result{}, err
		}
	}
}
