package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-faster/errors"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/bookmarket-orders/internal/orders"
)

type memRecorder struct {
	events map[string]orders.Envelope
	calls  int
	err    error
}

func (r *memRecorder) RecordEvent(_ context.Context, ev orders.Envelope) (bool, error) {
	r.calls++
	if r.err != nil {
		return false, r.err
	}
	if _, ok := r.events[ev.EventID]; ok {
		return false, nil
	}
	r.events[ev.EventID] = ev
	return true, nil
}

type memDedup struct {
	seen    map[string]bool
	lookErr error
}

func (d *memDedup) Seen(_ context.Context, id string) (bool, error) { return d.seen[id], d.lookErr }
func (d *memDedup) Mark(_ context.Context, id string) error { d.seen[id] = true; return nil }

func message(t *testing.T, ev orders.Envelope) kafkago.Message {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return kafkago.Message{Topic: orders.TopicOrderPlaced, Key: []byte(ev.CorrelationID), Value: b}
}

func placedEvent() orders.Envelope {
	return orders.Envelope{
		EventID:       "ev-1",
		EventType:     orders.EventOrderPlaced,
		EventVersion:  1,
		OccurredAt:    time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Producer:      "order-api",
		CorrelationID: "o1",
		Payload:       json.RawMessage(`{"order_id":"o1"}`),
	}
}

func TestHandleMessageRecordsOnce(t *testing.T) {
	rec := &memRecorder{events: map[string]orders.Envelope{}}
	dd := &memDedup{seen: map[string]bool{}}
	svc := NewService(rec, dd, zaptest.NewLogger(t))
	ctx := context.Background()

	m := message(t, placedEvent())
	require.NoError(t, svc.HandleMessage(ctx, m))
	require.NoError(t, svc.HandleMessage(ctx, m))

	assert.Equal(t, 1, rec.calls)
	assert.Len(t, rec.events, 1)
	assert.True(t, dd.seen["ev-1"])
}

func TestHandleMessageWithoutDedup(t *testing.T) {
	rec := &memRecorder{events: map[string]orders.Envelope{}}
	svc := NewService(rec, nil, nil)
	ctx := context.Background()

	m := message(t, placedEvent())
	require.NoError(t, svc.HandleMessage(ctx, m))
	require.NoError(t, svc.HandleMessage(ctx, m))
	assert.Equal(t, 2, rec.calls)
	assert.Len(t, rec.events, 1)
}

func TestHandleMessageDedupDown(t *testing.T) {
	rec := &memRecorder{events: map[string]orders.Envelope{}}
	dd := &memDedup{seen: map[string]bool{}, lookErr: errors.New("redis down")}
	svc := NewService(rec, dd, zaptest.NewLogger(t))

	require.NoError(t, svc.HandleMessage(context.Background(), message(t, placedEvent())))
	assert.Len(t, rec.events, 1)
}

func TestHandleMessageSkipsGarbage(t *testing.T) {
	rec := &memRecorder{events: map[string]orders.Envelope{}}
	svc := NewService(rec, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, svc.HandleMessage(ctx, kafkago.Message{Value: []byte("{")}))

	ev := placedEvent()
	ev.EventType = "StockReserved"
	require.NoError(t, svc.HandleMessage(ctx, message(t, ev)))
	assert.Zero(t, rec.calls)
}

func TestHandleMessageRetriesRecorderFailure(t *testing.T) {
	rec := &memRecorder{events: map[string]orders.Envelope{}, err: errors.New("db down")}
	dd := &memDedup{seen: map[string]bool{}}
	svc := NewService(rec, dd, zaptest.NewLogger(t))

	err := svc.HandleMessage(context.Background(), message(t, placedEvent()))
	require.Error(t, err)
	assert.False(t, dd.seen["ev-1"])
}
