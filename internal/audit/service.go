// Package audit consumes the order lifecycle stream and keeps a durable
// per-order event trail.
package audit

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/bookmarket-orders/internal/kafka"
	"github.com/ariefcatur/bookmarket-orders/internal/orders"
)

type Recorder interface {
	RecordEvent(ctx context.Context, ev orders.Envelope) (recorded bool, err error)
}

type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type Service struct {
	recorder Recorder
	dedup    Deduper
	lg       *zap.Logger
}

// NewService wires a recorder. dedup may be nil; the recorder is idempotent
// on event id either way.
func NewService(recorder Recorder, dedup Deduper, lg *zap.Logger) *Service {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Service{recorder: recorder, dedup: dedup, lg: lg}
}

// HandleMessage is installed as the consumer handler. Undecodable messages
// are logged and skipped; only recorder failures are retried.
func (s *Service) HandleMessage(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		s.lg.Warn("Skipping undecodable message",
			zap.String("topic", m.Topic),
			zap.Int64("offset", m.Offset),
			zap.Error(err),
		)
		return nil
	}
	if _, ok := orders.TopicFor(env.EventType); !ok {
		return nil
	}

	if s.dedup != nil {
		seen, err := s.dedup.Seen(ctx, env.EventID)
		if err != nil {
			s.lg.Warn("Dedup lookup failed", zap.String("event_id", env.EventID), zap.Error(err))
		} else if seen {
			return nil
		}
	}

	recorded, err := s.recorder.RecordEvent(ctx, env)
	if err != nil {
		return err
	}
	if s.dedup != nil {
		if err := s.dedup.Mark(ctx, env.EventID); err != nil {
			s.lg.Warn("Dedup mark failed", zap.String("event_id", env.EventID), zap.Error(err))
		}
	}
	s.lg.Debug("Order event recorded",
		zap.String("event_type", env.EventType),
		zap.String("order_id", env.CorrelationID),
		zap.Bool("duplicate", !recorded),
	)
	return nil
}
