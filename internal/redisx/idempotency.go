package redisx

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

type ClaimState int

const (
	// Claimed: the caller owns the key and must Complete or Abandon it.
	Claimed ClaimState = iota
	// InFlight: another request with the same key has not finished yet.
	InFlight
	// Done: the key already produced an order.
	Done
)

const pendingMarker = "-"

// Idempotency dedups order placement retries per buyer and client key.
type Idempotency struct{ rdb *redis.Client }

func NewIdempotency(rdb *redis.Client) *Idempotency { return &Idempotency{rdb: rdb} }

// Claim reserves key for one placement. When the key is Done, orderID is the
// order it produced.
func (i *Idempotency) Claim(ctx context.Context, buyerID, key string) (state ClaimState, orderID string, err error) {
	k := fmt.Sprintf(KeyIdemOrderCreate, buyerID, key)
	ok, err := i.rdb.SetNX(ctx, k, pendingMarker, TTLIdemPending).Result()
	if err != nil {
		return 0, "", errors.Wrap(err, "claim idempotency key")
	}
	if ok {
		return Claimed, "", nil
	}
	v, err := i.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; let the caller retry.
		return InFlight, "", nil
	}
	if err != nil {
		return 0, "", errors.Wrap(err, "read idempotency key")
	}
	if v == pendingMarker {
		return InFlight, "", nil
	}
	return Done, v, nil
}

func (i *Idempotency) Complete(ctx context.Context, buyerID, key, orderID string) error {
	if err := i.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, buyerID, key), orderID, TTLIdempotency).Err(); err != nil {
		return errors.Wrap(err, "store idempotency key")
	}
	return nil
}

// Abandon releases a claim after a failed placement so the client can retry.
func (i *Idempotency) Abandon(ctx context.Context, buyerID, key string) error {
	if err := i.rdb.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, buyerID, key)).Err(); err != nil {
		return errors.Wrap(err, "release idempotency key")
	}
	return nil
}
