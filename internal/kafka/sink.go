package kafka

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/bookmarket-orders/internal/orders"
)

type publisher interface {
	Publish(topic string, key, value []byte, headers ...kafka.Header) bool
}

// EventSink routes lifecycle events to their topic, keyed by order id.
type EventSink struct {
	p  publisher
	lg *zap.Logger
}

var _ orders.EventSink = (*EventSink)(nil)

func NewEventSink(p publisher, lg *zap.Logger) *EventSink {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &EventSink{p: p, lg: lg}
}

func (s *EventSink) Emit(_ context.Context, ev orders.Envelope) {
	topic, ok := orders.TopicFor(ev.EventType)
	if !ok {
		s.lg.Warn("No topic for event", zap.String("event_type", ev.EventType))
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		s.lg.Error("Encode envelope", zap.String("event_id", ev.EventID), zap.Error(err))
		return
	}
	if !s.p.Publish(topic, orders.PartitionKey(ev.CorrelationID), b,
		kafka.Header{Key: HeaderEventType, Value: []byte(ev.EventType)},
		kafka.Header{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(ev.EventVersion))},
	) {
		s.lg.Warn("Event not published",
			zap.String("event_type", ev.EventType),
			zap.String("order_id", ev.CorrelationID),
		)
	}
}
