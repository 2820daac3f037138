/*
Package sqlite is the persistence layer: one SQLite database holding the
journal, documents, inventory, outbox and idempotency records.

PURPOSE:
  Store implements books.Store (transactions), books.PeriodStore,
  idempotency.Store and outbox.Store. Tx implements books.Tx, the full
  write-path view of the store inside one transaction.

CONCURRENCY:
  SQLite admits a single writer. The store serializes write transactions
  with a mutex so BeginTx never observes SQLITE_BUSY; the ...ForUpdate
  readers therefore need no row locks of their own - holding the write
  transaction is the serializer. Readers take the shared side of the
  mutex and run in their own read transaction for a consistent snapshot.

REPRESENTATION:
  Money, rates and quantities are stored as fixed-scale decimal TEXT,
  dates as YYYY-MM-DD TEXT, timestamps as RFC 3339 TEXT. Optional
  references store NULL, never the empty string, so the partial unique
  index enforcing one direct reversal per journal entry behaves.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/cashflowhq/cashflow-api/books"
	"github.com/cashflowhq/cashflow-api/money"
)

// =============================================================================
// STORE
// =============================================================================

// Store wraps a SQLite database.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (creating if necessary) the database at path and migrates the
// schema. Use ":memory:" for tests.
func New(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&cache=shared", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: an in-memory database exists per connection, and the
	// mutex above already serializes access.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn in one write transaction: commit on nil, rollback on error.
func (s *Store) WithTx(ctx context.Context, fn func(tx books.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Read runs fn in a read-only snapshot.
func (s *Store) Read(ctx context.Context, fn func(tx books.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer sqlTx.Rollback()

	return fn(&Tx{q: sqlTx})
}

// =============================================================================
// TX
// =============================================================================

// Tx is one open transaction. Implements books.Tx.
type Tx struct {
	q *sql.Tx
}

// =============================================================================
// COLUMN HELPERS
// =============================================================================

const timeFormat = time.RFC3339Nano

func timeArg(t time.Time) string { return t.UTC().Format(timeFormat) }

func nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeArg(*t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func asString(src any) (string, bool) {
	switch v := src.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}

// strCol scans a nullable TEXT column into a string, NULL becoming "".
type strCol struct{ v *string }

func (c strCol) Scan(src any) error {
	if src == nil {
		*c.v = ""
		return nil
	}
	s, ok := asString(src)
	if !ok {
		return fmt.Errorf("scan text: unexpected type %T", src)
	}
	*c.v = s
	return nil
}

// moneyCol scans a decimal TEXT column into a money.Money, NULL becoming zero.
type moneyCol struct{ v *money.Money }

func (c moneyCol) Scan(src any) error {
	if src == nil {
		*c.v = money.Zero
		return nil
	}
	s, ok := asString(src)
	if !ok {
		return fmt.Errorf("scan money: unexpected type %T", src)
	}
	m, err := money.FromString(s)
	if err != nil {
		return err
	}
	*c.v = m
	return nil
}

// rateCol scans a decimal TEXT column into a money.Rate.
type rateCol struct{ v *money.Rate }

func (c rateCol) Scan(src any) error {
	if src == nil {
		*c.v = money.ZeroRate
		return nil
	}
	s, ok := asString(src)
	if !ok {
		return fmt.Errorf("scan rate: unexpected type %T", src)
	}
	r, err := money.RateFromString(s)
	if err != nil {
		return err
	}
	*c.v = r
	return nil
}

// qtyCol scans a decimal TEXT column into a decimal.Decimal.
type qtyCol struct{ v *decimal.Decimal }

func (c qtyCol) Scan(src any) error {
	if src == nil {
		*c.v = decimal.Zero
		return nil
	}
	s, ok := asString(src)
	if !ok {
		return fmt.Errorf("scan decimal: unexpected type %T", src)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	*c.v = d
	return nil
}

// dateCol scans a YYYY-MM-DD TEXT column into a money.Date.
type dateCol struct{ v *money.Date }

func (c dateCol) Scan(src any) error {
	if src == nil {
		*c.v = money.Date{}
		return nil
	}
	s, ok := asString(src)
	if !ok {
		return fmt.Errorf("scan date: unexpected type %T", src)
	}
	d, err := money.ParseDate(s)
	if err != nil {
		return err
	}
	*c.v = d
	return nil
}

// timeCol scans an RFC 3339 TEXT column into a time.Time.
type timeCol struct{ v *time.Time }

func (c timeCol) Scan(src any) error {
	if src == nil {
		*c.v = time.Time{}
		return nil
	}
	s, ok := asString(src)
	if !ok {
		return fmt.Errorf("scan time: unexpected type %T", src)
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return err
	}
	*c.v = t
	return nil
}

// timePtrCol scans a nullable RFC 3339 TEXT column into a *time.Time.
type timePtrCol struct{ v **time.Time }

func (c timePtrCol) Scan(src any) error {
	if src == nil {
		*c.v = nil
		return nil
	}
	var t time.Time
	if err := (timeCol{&t}).Scan(src); err != nil {
		return err
	}
	*c.v = &t
	return nil
}

// boolCol scans an INTEGER 0/1 column into a bool.
type boolCol struct{ v *bool }

func (c boolCol) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*c.v = false
	case int64:
		*c.v = v != 0
	case bool:
		*c.v = v
	default:
		return fmt.Errorf("scan bool: unexpected type %T", src)
	}
	return nil
}

func boolArg(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
