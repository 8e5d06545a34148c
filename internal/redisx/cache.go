package redisx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/bookmarket-orders/internal/orders"
)

// StatusCache keeps order snapshots in Redis. Errors are logged and treated
// as misses.
type StatusCache struct {
	rdb *redis.Client
	lg  *zap.Logger
}

var _ orders.StatusCache = (*StatusCache)(nil)

func NewStatusCache(rdb *redis.Client, lg *zap.Logger) *StatusCache {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &StatusCache{rdb: rdb, lg: lg}
}

func (c *StatusCache) Get(ctx context.Context, orderID string) (orders.Snapshot, bool) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return orders.Snapshot{}, false
	}
	if err != nil {
		c.lg.Warn("Status cache get", zap.String("order_id", orderID), zap.Error(err))
		return orders.Snapshot{}, false
	}
	var s orders.Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		c.lg.Warn("Status cache decode", zap.String("order_id", orderID), zap.Error(err))
		return orders.Snapshot{}, false
	}
	return s, true
}

func (c *StatusCache) Put(ctx context.Context, orderID string, s orders.Snapshot) {
	b, err := json.Marshal(s)
	if err != nil {
		c.lg.Warn("Status cache encode", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err(); err != nil {
		c.lg.Warn("Status cache put", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (c *StatusCache) Forget(ctx context.Context, orderID string) {
	if err := c.rdb.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err(); err != nil {
		c.lg.Warn("Status cache forget", zap.String("order_id", orderID), zap.Error(err))
	}
}
