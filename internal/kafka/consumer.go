package kafka

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler returns nil once the message is processed and may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r        *kafka.Reader
	workers  int
	attempts int
	backoff  time.Duration
	lg       *zap.Logger
}

func NewConsumer(brokers []string, group string, topics []string, workers int, lg *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // commit synchronously after each handled message
	})
	if workers <= 0 {
		workers = 1
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, attempts: 3, backoff: 200 * time.Millisecond, lg: lg}
}

// Start blocks until ctx is done. Every message of a topic partition goes to
// the same worker, so offsets of a partition are handled and committed in
// order. Events are keyed by order id, which keeps per-order ordering too.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				c.handle(ctx, h, m)
			}
		}(jobs[i])
	}
	stop := func() {
		for _, ch := range jobs {
			close(ch)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "fetch message")
		}
		select {
		case jobs[route(m, c.workers)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// route picks the worker for m by topic and partition.
func route(m kafka.Message, workers int) int {
	if workers <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(m.Topic+"/"+strconv.Itoa(m.Partition)) % uint64(workers))
}

// handle retries a failing message a few times, then logs and skips it so
// one poison message cannot stall its partition.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) {
	lg := c.lg.With(zap.String("topic", m.Topic), zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset))
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err = h(ctx, m); err == nil {
			break
		}
		if ctx.Err() != nil {
			return
		}
		lg.Warn("Handle message", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-time.After(time.Duration(attempt) * c.backoff):
		case <-ctx.Done():
			return
		}
	}
	if err != nil {
		lg.Error("Giving up on message", zap.Error(err))
	}
	if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		lg.Error("Commit message", zap.Error(err))
	}
}
