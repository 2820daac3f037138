package outbox

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// PUBLICATION
// =============================================================================

// Transport delivers one event to the external bus. Implementations must
// tolerate redelivery: the outbox guarantees at-least-once.
type Transport interface {
	Publish(ctx context.Context, event *Event) error
}

// Store is the outbox's view of persistence. InsertEvent runs inside the
// business transaction (see store/sqlite.Tx); the drain methods run on
// the committed table.
type Store interface {
	// Unpublished returns up to limit rows with no publishedAt, in
	// insertion order.
	Unpublished(ctx context.Context, limit int) ([]*Event, error)

	// MarkPublished stamps publishedAt on a row.
	MarkPublished(ctx context.Context, id int64, at time.Time) error
}

// Publisher owns both delivery paths: the post-commit fast path and the
// background drain loop.
type Publisher struct {
	Store     Store
	Transport Transport
	Log       *logrus.Logger

	// Interval between drain cycles. Default 2s.
	Interval time.Duration

	// BatchSize caps rows per drain cycle. Default 100.
	BatchSize int
}

// NewPublisher returns a Publisher with default pacing.
func NewPublisher(store Store, transport Transport, log *logrus.Logger) *Publisher {
	if log == nil {
		log = logrus.New()
	}
	return &Publisher{
		Store:     store,
		Transport: transport,
		Log:       log,
		Interval:  2 * time.Second,
		BatchSize: 100,
	}
}

// TryPublish is the post-commit fast path. Failure is non-fatal: the row
// stays unpublished and the drain loop delivers it later.
func (p *Publisher) TryPublish(ctx context.Context, events []*Event) {
	if p.Transport == nil {
		return
	}
	for _, ev := range events {
		if err := p.Transport.Publish(ctx, ev); err != nil {
			p.Log.WithError(err).WithFields(logrus.Fields{
				"event_id":   ev.EventID,
				"event_type": ev.EventType,
				"tenant_id":  ev.TenantID,
			}).Warn("fast-path publish failed, outbox drainer will deliver")
			return
		}
		if err := p.Store.MarkPublished(ctx, ev.ID, time.Now().UTC()); err != nil {
			p.Log.WithError(err).WithField("event_id", ev.EventID).
				Warn("failed to mark event published")
			return
		}
	}
}

// Run drains unpublished rows until ctx is canceled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.drainOnce(ctx); err != nil {
				p.Log.WithError(err).Warn("outbox drain cycle failed")
			}
		}
	}
}

// drainOnce publishes one batch in insertion order. The first failure
// stops the cycle so same-partition ordering is preserved.
func (p *Publisher) drainOnce(ctx context.Context) error {
	if p.Transport == nil {
		return nil
	}
	events, err := p.Store.Unpublished(ctx, p.BatchSize)
	if err != nil {
		return err
	}

	for _, ev := range events {
		if err := p.Transport.Publish(ctx, ev); err != nil {
			return err
		}
		if err := p.Store.MarkPublished(ctx, ev.ID, time.Now().UTC()); err != nil {
			return err
		}
	}
	return nil
}

// LogTransport writes events to the structured log. The default transport
// when no external bus is configured.
type LogTransport struct {
	Log *logrus.Logger
}

func (t *LogTransport) Publish(_ context.Context, ev *Event) error {
	t.Log.WithFields(logrus.Fields{
		"event_id":       ev.EventID,
		"event_type":     ev.EventType,
		"tenant_id":      ev.TenantID,
		"aggregate_type": ev.AggregateType,
		"aggregate_id":   ev.AggregateID,
		"correlation_id": ev.CorrelationID,
	}).Info("event published")
	return nil
}
