package redisx

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// Deduper remembers processed event ids for one consuming service.
type Deduper struct {
	rdb     *redis.Client
	service string
}

func NewDeduper(rdb *redis.Client, service string) *Deduper {
	return &Deduper{rdb: rdb, service: service}
}

func (d *Deduper) Seen(ctx context.Context, eventID string) (bool, error) {
	ok, err := Exists(ctx, d.rdb, fmt.Sprintf(KeyDedup, d.service, eventID))
	if err != nil {
		return false, errors.Wrap(err, "check dedup key")
	}
	return ok, nil
}

func (d *Deduper) Mark(ctx context.Context, eventID string) error {
	if err := d.rdb.Set(ctx, fmt.Sprintf(KeyDedup, d.service, eventID), "1", TTLDedup).Err(); err != nil {
		return errors.Wrap(err, "set dedup key")
	}
	return nil
}
