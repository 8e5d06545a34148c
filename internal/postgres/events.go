package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/ariefcatur/bookmarket-orders/internal/orders"
)

// RecordEvent appends a lifecycle event to the audit log. A redelivered
// event is ignored and reported as recorded=false.
func (s *Store) RecordEvent(ctx context.Context, ev orders.Envelope) (recorded bool, err error) {
	ct, err := s.DB.Exec(ctx, `
		INSERT INTO order_events(event_id, event_type, event_version, order_id, producer, trace_id, occurred_at, payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, ev.EventType, ev.EventVersion, ev.CorrelationID, ev.Producer, ev.TraceID, ev.OccurredAt, []byte(ev.Payload))
	if err != nil {
		return false, errors.Wrap(err, "insert order event")
	}
	return ct.RowsAffected() == 1, nil
}

type RecordedEvent struct {
	orders.Envelope
	RecordedAt time.Time
}

// OrderEvents returns the audit trail of one order, oldest first.
func (s *Store) OrderEvents(ctx context.Context, orderID string) ([]RecordedEvent, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT event_id, event_type, event_version, order_id, producer, trace_id, occurred_at, payload, recorded_at
		FROM order_events WHERE order_id=$1 ORDER BY occurred_at, recorded_at`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select order events")
	}
	defer rows.Close()

	var out []RecordedEvent
	for rows.Next() {
		var (
			e       RecordedEvent
			payload []byte
		)
		if err := rows.Scan(&e.EventID, &e.EventType, &e.EventVersion, &e.CorrelationID, &e.Producer,
			&e.TraceID, &e.OccurredAt, &payload, &e.RecordedAt); err != nil {
			return nil, errors.Wrap(err, "scan order event")
		}
		e.Payload = payload
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate order events")
	}
	return out, nil
}
