/*
idempotency.go - Idempotency records

PURPOSE:
  Implements idempotency.Store. These writes deliberately run outside the
  command transaction: the IN_FLIGHT marker must be visible to concurrent
  retries before the command commits, and the terminal row must survive a
  command whose transaction rolled back with a domain error.
*/
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/cashflowhq/cashflow-api/idempotency"
	"github.com/cashflowhq/cashflow-api/ledger"
)

const idempotencyColumns = `tenant_id, key, status, status_code, response_json, created_at, completed_at`

func (s *Store) scanIdempotencyRecord(ctx context.Context, tenantID ledger.TenantID, key string) (*idempotency.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+idempotencyColumns+` FROM idempotency_records WHERE tenant_id = ? AND key = ?`,
		tenantID, key)

	var rec idempotency.Record
	err := row.Scan(
		strCol{(*string)(&rec.TenantID)}, strCol{&rec.Key},
		strCol{(*string)(&rec.Status)}, &rec.StatusCode, strCol{&rec.ResponseJSON},
		timeCol{&rec.CreatedAt}, timePtrCol{&rec.CompletedAt},
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// InsertInFlight implements idempotency.Store.
func (s *Store) InsertInFlight(ctx context.Context, tenantID ledger.TenantID, key string) (bool, *idempotency.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_records (tenant_id, key, status, status_code, created_at)
		VALUES (?, ?, ?, 0, ?)`,
		tenantID, key, idempotency.StatusInFlight, timeArg(time.Now()))
	if err == nil {
		return true, nil, nil
	}
	if !isUniqueConstraintError(err) {
		return false, nil, err
	}

	existing, err := s.scanIdempotencyRecord(ctx, tenantID, key)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

// Get implements idempotency.Store.
func (s *Store) Get(ctx context.Context, tenantID ledger.TenantID, key string) (*idempotency.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanIdempotencyRecord(ctx, tenantID, key)
}

// Complete implements idempotency.Store.
func (s *Store) Complete(ctx context.Context, tenantID ledger.TenantID, key string, status idempotency.Status, statusCode int, responseJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_records
		SET status = ?, status_code = ?, response_json = ?, completed_at = ?
		WHERE tenant_id = ? AND key = ?`,
		status, statusCode, responseJSON, timeArg(time.Now()), tenantID, key)
	return err
}

// Delete implements idempotency.Store.
func (s *Store) Delete(ctx context.Context, tenantID ledger.TenantID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_records WHERE tenant_id = ? AND key = ?`,
		tenantID, key)
	return err
}
