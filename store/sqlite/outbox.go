/*
outbox.go - Transactional outbox rows

PURPOSE:
  InsertEvent runs inside the command transaction; Unpublished and
  MarkPublished implement outbox.Store for the publisher. The rowid
  primary key preserves insertion order, which is the publish order.
*/
package sqlite

import (
	"context"
	"time"

	"github.com/cashflowhq/cashflow-api/outbox"
)

const outboxColumns = `id, tenant_id, event_id, event_type, schema_version,
	occurred_at, source, partition_key, correlation_id, causation_id,
	aggregate_type, aggregate_id, type, payload, published_at`

// InsertEvent appends one outbox row inside the transaction.
func (t *Tx) InsertEvent(ctx context.Context, ev *outbox.Event) error {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO outbox_events (tenant_id, event_id, event_type,
			schema_version, occurred_at, source, partition_key,
			correlation_id, causation_id, aggregate_type, aggregate_id,
			type, payload, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.TenantID, ev.EventID, ev.EventType, ev.SchemaVersion,
		timeArg(ev.OccurredAt), ev.Source, ev.PartitionKey,
		nullString(ev.CorrelationID), nullString(ev.CausationID),
		nullString(ev.AggregateType), nullString(ev.AggregateID),
		ev.Type, string(ev.Payload), nullTimeArg(ev.PublishedAt))
	if err != nil {
		return err
	}
	ev.ID, err = res.LastInsertId()
	return err
}

// Unpublished implements outbox.Store: the oldest unpublished rows in
// insertion order.
func (s *Store) Unpublished(ctx context.Context, limit int) ([]*outbox.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+outboxColumns+` FROM outbox_events
		WHERE published_at IS NULL ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*outbox.Event
	for rows.Next() {
		var ev outbox.Event
		var payload string
		err := rows.Scan(
			&ev.ID, strCol{(*string)(&ev.TenantID)}, strCol{&ev.EventID},
			strCol{&ev.EventType}, strCol{&ev.SchemaVersion},
			timeCol{&ev.OccurredAt}, strCol{&ev.Source}, strCol{&ev.PartitionKey},
			strCol{&ev.CorrelationID}, strCol{&ev.CausationID},
			strCol{&ev.AggregateType}, strCol{&ev.AggregateID},
			strCol{&ev.Type}, strCol{&payload}, timePtrCol{&ev.PublishedAt},
		)
		if err != nil {
			return nil, err
		}
		ev.Payload = []byte(payload)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// MarkPublished implements outbox.Store.
func (s *Store) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events SET published_at = ? WHERE id = ? AND published_at IS NULL`,
		timeArg(at), id)
	return err
}
