// Package sweeper expires pending orders whose acceptance window closed.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultLockKey is held by the replica currently running a sweep.
const DefaultLockKey = "lock:expiry-sweeper"

type Expirer interface {
	ExpireDue(ctx context.Context, batch int) (int, error)
}

// Locker keeps replicas from sweeping at the same time. Losing it is only an
// efficiency problem: every expiry is a guarded transition.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Config struct {
	Interval  time.Duration
	BatchSize int
	LockKey   string
	LockTTL   time.Duration
}

type Sweeper struct {
	exp    Expirer
	locker Locker
	cfg    Config
	lg     *zap.Logger
}

// New builds a sweeper. locker may be nil for a single replica.
func New(exp Expirer, locker Locker, cfg Config, lg *zap.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockKey == "" {
		cfg.LockKey = DefaultLockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Second
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Sweeper{exp: exp, locker: locker, cfg: cfg, lg: lg}
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.lg.Info("Expiry sweeper started", zap.Duration("interval", s.cfg.Interval))
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.lg.Info("Expiry sweeper stopped")
			return nil
		case <-t.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over every order due now, reading BatchSize at a time.
// It never returns an error; failures are logged and the next tick tries
// again.
func (s *Sweeper) Sweep(ctx context.Context) (expired int) {
	defer func() {
		if r := recover(); r != nil {
			s.lg.Error("Expiry sweep panicked", zap.Any("panic", r))
		}
	}()

	if s.locker != nil {
		ok, err := s.locker.TryLock(ctx, s.cfg.LockKey, s.cfg.LockTTL)
		switch {
		case err != nil:
			s.lg.Warn("Sweep lock unavailable, sweeping anyway", zap.Error(err))
		case !ok:
			return 0
		default:
			defer func() {
				if err := s.locker.Unlock(context.WithoutCancel(ctx), s.cfg.LockKey); err != nil {
					s.lg.Warn("Release sweep lock", zap.Error(err))
				}
			}()
		}
	}

	expired, err := s.exp.ExpireDue(ctx, s.cfg.BatchSize)
	if err != nil && ctx.Err() == nil {
		s.lg.Error("Expiry sweep", zap.Error(err))
	}
	if expired > 0 {
		s.lg.Info("Expired pending orders", zap.Int("count", expired))
	}
	return expired
}
