package orders

import (
	"context"
	"time"
)

// Tx is the unit of work a transition runs in. Implementations must make all
// writes of one WithinTx call visible together or not at all.
type Tx interface {
	// LockBook reads a book and holds it against concurrent stock changes
	// until the transaction ends.
	LockBook(ctx context.Context, bookID string) (Book, error)
	SaveStock(ctx context.Context, bookID string, s Stock, at time.Time) error
	InsertOrder(ctx context.Context, o Order) error
	GetOrder(ctx context.Context, orderID string) (Order, error)
	// Transition applies ch only if the order is still in status from.
	// ok=false means another writer moved the order first.
	Transition(ctx context.Context, orderID string, from Status, ch Change) (ok bool, err error)
}

// ListFilter selects orders for one party. Exactly one of SellerID and
// BuyerID is set; empty Statuses means any status.
type ListFilter struct {
	SellerID string
	BuyerID  string
	Statuses []Status
}

type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetBook(ctx context.Context, bookID string) (Book, error)
	GetUser(ctx context.Context, userID string) (User, error)
	// ListOrders returns newest orders first.
	ListOrders(ctx context.Context, f ListFilter) ([]Order, error)
	// ListExpired returns pending orders with expiresAt <= now that sort
	// after the cursor, ordered by (expiresAt, id).
	ListExpired(ctx context.Context, now time.Time, after ExpiryCursor, limit int) ([]DueOrder, error)
}

// ExpiryCursor is a position in the due list. The zero value starts at the
// head.
type ExpiryCursor struct {
	ExpiresAt time.Time
	ID        string
}

func (c ExpiryCursor) IsZero() bool { return c.ExpiresAt.IsZero() && c.ID == "" }

// After reports whether d sorts after c.
func (c ExpiryCursor) After(d DueOrder) bool {
	if c.IsZero() {
		return true
	}
	if !d.ExpiresAt.Equal(c.ExpiresAt) {
		return d.ExpiresAt.After(c.ExpiresAt)
	}
	return d.ID > c.ID
}

type DueOrder struct {
	ID        string
	ExpiresAt time.Time
}
