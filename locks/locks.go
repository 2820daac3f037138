/*
Package locks provides best-effort named locks over Redis.

PURPOSE:
  Hot documents (an invoice being paid twice at once, a stock item sold
  from two requests) would otherwise contend on database row locks inside
  open transactions. A short-TTL Redis lock taken before the transaction
  keeps most contention out of the database.

BEST-EFFORT CONTRACT:
  Redis is a contention-reduction optimization, never a correctness
  mechanism. Database row locks are the authoritative serializer. If Redis
  is unreachable the call logs a warning and proceeds without a lock;
  turning Redis off slows hot documents but does not corrupt them.

MULTI-KEY ORDERING:
  WithLocks sorts keys lexicographically before acquisition and releases
  in reverse order, so two commands locking overlapping key sets cannot
  deadlock each other.

KEY SHAPE:
  lock:<scope>:<tenant>:<id...>    e.g. lock:invoice:post:t1:inv-9
                                        lock:stock:t1:loc-7:item-101

TTL:
  Default 30 seconds. Holders never extend; long operations must finish
  within the TTL.
*/
package locks

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultTTL bounds how long an abandoned lock can block other holders.
const DefaultTTL = 30 * time.Second

// acquirePoll is how often a blocked acquisition rechecks the key.
const acquirePoll = 25 * time.Millisecond

// Manager acquires and releases named locks.
type Manager struct {
	client *redis.Client
	log    *logrus.Logger
}

// NewManager returns a Manager over the given client. A nil client is
// valid: every acquisition degrades to a no-op.
func NewManager(client *redis.Client, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.New()
	}
	return &Manager{client: client, log: log}
}

// WithLock runs fn while holding key. See WithLocks for the contract.
func (m *Manager) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	return m.WithLocks(ctx, []string{key}, ttl, fn)
}

// WithLocks acquires every key in lexicographic order, runs fn, and
// releases in reverse order on every exit path. Acquisition blocks until
// each key is free, the context is canceled, or Redis proves unreachable
// (in which case the key is skipped with a warning).
func (m *Manager) WithLocks(ctx context.Context, keys []string, ttl time.Duration, fn func(ctx context.Context) error) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	token := uuid.NewString()
	var held []string
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			m.release(held[i], token)
		}
	}()

	for _, key := range sorted {
		acquired, err := m.acquire(ctx, key, token, ttl)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Redis outage: row locks remain authoritative.
			m.log.WithError(err).WithField("lock_key", key).
				Warn("lock store unreachable, proceeding without distributed lock")
			continue
		}
		if acquired {
			held = append(held, key)
		}
	}

	return fn(ctx)
}

// acquire blocks until the key is taken or ctx ends. The bool result is
// false only when the manager has no backing client.
func (m *Manager) acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if m.client == nil {
		return false, nil
	}

	for {
		ok, err := m.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(acquirePoll):
		}
	}
}

// releaseScript deletes the key only if this holder still owns it, so an
// expired-and-reacquired lock is never released out from under its new
// holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (m *Manager) release(key, token string) {
	if m.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, m.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
		m.log.WithError(err).WithField("lock_key", key).Warn("failed to release distributed lock")
	}
}

// =============================================================================
// KEY BUILDERS
// =============================================================================

// Key joins lock key parts with the canonical separator.
func Key(parts ...string) string {
	out := "lock"
	for _, p := range parts {
		out += ":" + p
	}
	return out
}

// DocumentKey names the per-document command lock, e.g.
// lock:invoice:post:<tenant>:<id>.
func DocumentKey(scope, tenantID, docID string) string {
	return Key(scope, tenantID, docID)
}

// StockKey names the per-(tenant, location, item) inventory lock.
func StockKey(tenantID, locationID, itemID string) string {
	return Key("stock", tenantID, locationID, itemID)
}
