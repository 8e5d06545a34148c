package orders

import (
	"context"
	"time"
)

// Snapshot is the cached slice of an order needed to answer status polls.
type Snapshot struct {
	BuyerID   string     `json:"buyer_id"`
	SellerID  string     `json:"seller_id"`
	Status    Status     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func snapshotOf(o Order) Snapshot {
	return Snapshot{BuyerID: o.BuyerID, SellerID: o.SellerID, Status: o.Status, ExpiresAt: o.ExpiresAt}
}

// StatusCache is a best-effort read cache. Failures are the implementation's
// to log; callers fall back to the store.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (Snapshot, bool)
	Put(ctx context.Context, orderID string, s Snapshot)
	Forget(ctx context.Context, orderID string)
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) (Snapshot, bool) { return Snapshot{}, false }
func (nopCache) Put(context.Context, string, Snapshot)        {}
func (nopCache) Forget(context.Context, string)               {}
