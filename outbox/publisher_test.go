package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashflowhq/cashflow-api/outbox"
)

// memStore is an in-memory outbox.Store.
type memStore struct {
	mu     sync.Mutex
	events []*outbox.Event
}

func (s *memStore) add(ev *outbox.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = int64(len(s.events) + 1)
	s.events = append(s.events, ev)
}

func (s *memStore) Unpublished(_ context.Context, limit int) ([]*outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*outbox.Event
	for _, ev := range s.events {
		if ev.PublishedAt == nil {
			out = append(out, ev)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) MarkPublished(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ID == id {
			ev.PublishedAt = &at
		}
	}
	return nil
}

func (s *memStore) unpublishedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.PublishedAt == nil {
			n++
		}
	}
	return n
}

// flakyTransport fails on a chosen event id.
type flakyTransport struct {
	mu        sync.Mutex
	failOn    int64
	delivered []string
}

func (t *flakyTransport) Publish(_ context.Context, ev *outbox.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev.ID == t.failOn {
		return errors.New("bus unavailable")
	}
	t.delivered = append(t.delivered, ev.EventType)
	return nil
}

func (t *flakyTransport) seen() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.delivered...)
}

func seed(t *testing.T, st *memStore, types ...string) {
	t.Helper()
	for _, typ := range types {
		ev, err := outbox.New("t-1", typ, "Invoice", "doc-1", "", map[string]int{"n": 1})
		require.NoError(t, err)
		st.add(ev)
	}
}

// ===== FAST PATH =====

func TestTryPublish_StopsAtFirstFailure(t *testing.T) {
	st := &memStore{}
	seed(t, st, outbox.EventInvoicePosted, outbox.EventJournalEntryCreated, outbox.EventPaymentRecorded)
	tr := &flakyTransport{failOn: 2}
	p := outbox.NewPublisher(st, tr, nil)

	pending, err := st.Unpublished(context.Background(), 10)
	require.NoError(t, err)
	p.TryPublish(context.Background(), pending)

	// The first event lands; everything from the failure on stays queued
	// so the drainer preserves insertion order.
	assert.Equal(t, []string{outbox.EventInvoicePosted}, tr.seen())
	assert.Equal(t, 2, st.unpublishedCount())
}

func TestTryPublish_NilTransportIsNoop(t *testing.T) {
	st := &memStore{}
	seed(t, st, outbox.EventInvoicePosted)
	p := outbox.NewPublisher(st, nil, nil)

	pending, err := st.Unpublished(context.Background(), 10)
	require.NoError(t, err)
	p.TryPublish(context.Background(), pending)
	assert.Equal(t, 1, st.unpublishedCount())
}

// ===== DRAIN LOOP =====

func TestRun_DrainsBacklog(t *testing.T) {
	st := &memStore{}
	seed(t, st, outbox.EventInvoicePosted, outbox.EventJournalEntryCreated)
	tr := &flakyTransport{}
	p := outbox.NewPublisher(st, tr, nil)
	p.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.Eventually(t, func() bool { return st.unpublishedCount() == 0 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{outbox.EventInvoicePosted, outbox.EventJournalEntryCreated}, tr.seen())
}

// ===== ENVELOPE =====

func TestNew_BuildsEnvelope(t *testing.T) {
	ev, err := outbox.New("t-1", outbox.EventCreditNotePosted, "CreditNote", "cn-1", "corr-1", map[string]string{"number": "CN-00001"})
	require.NoError(t, err)

	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, "t-1", ev.PartitionKey)
	assert.Equal(t, "CreditNotePosted", ev.Type)
	assert.Equal(t, "corr-1", ev.CorrelationID)
	assert.JSONEq(t, `{"number":"CN-00001"}`, string(ev.Payload))
}
