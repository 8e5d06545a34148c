package redisx

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker is a single-key lease. Each Locker has its own token, so one
// replica never releases another's lease.
type Locker struct {
	rdb   *redis.Client
	token string
}

func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb, token: uuid.NewString()}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, key, l.token, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "acquire lock")
	}
	return ok, nil
}

func (l *Locker) Unlock(ctx context.Context, key string) error {
	if err := unlockScript.Run(ctx, l.rdb, []string{key}, l.token).Err(); err != nil {
		return errors.Wrap(err, "release lock")
	}
	return nil
}
