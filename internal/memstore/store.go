// Package memstore is an in-process orders.Store. Transactions are
// serialized on one mutex and staged writes are applied only on success.
package memstore

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/ariefcatur/bookmarket-orders/internal/orders"
)

type Store struct {
	mu     sync.Mutex
	books  map[string]orders.Book
	users  map[string]orders.User
	orders map[string]orders.Order
}

var _ orders.Store = (*Store)(nil)

var errDuplicate = errors.New("duplicate order id")

func New() *Store {
	return &Store{
		books:  map[string]orders.Book{},
		users:  map[string]orders.User{},
		orders: map[string]orders.Order{},
	}
}

func (s *Store) PutBook(b orders.Book) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[b.ID] = cloneBook(b)
}

func (s *Store) PutUser(u orders.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// PutOrder stores o as is, bypassing the state machine.
func (s *Store) PutOrder(o orders.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{s: s, books: map[string]orders.Book{}, orders: map[string]orders.Order{}}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, b := range t.books {
		s.books[id] = b
	}
	for id, o := range t.orders {
		s.orders[id] = o
	}
	return nil
}

func (s *Store) GetOrder(_ context.Context, orderID string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (s *Store) GetBook(_ context.Context, bookID string) (orders.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[bookID]
	if !ok {
		return orders.Book{}, orders.ErrNotFound
	}
	return cloneBook(b), nil
}

func (s *Store) GetUser(_ context.Context, userID string) (orders.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return orders.User{}, orders.ErrNotFound
	}
	return u, nil
}

func (s *Store) ListOrders(_ context.Context, f orders.ListFilter) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Order
	for _, o := range s.orders {
		if f.SellerID != "" && o.SellerID != f.SellerID {
			continue
		}
		if f.BuyerID != "" && o.BuyerID != f.BuyerID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, o.Status) {
			continue
		}
		out = append(out, o)
	}
	slices.SortFunc(out, func(a, b orders.Order) int {
		if c := b.OrderDate.Compare(a.OrderDate); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return 1
		}
		if a.ID > b.ID {
			return -1
		}
		return 0
	})
	return out, nil
}

func (s *Store) ListExpired(_ context.Context, now time.Time, after orders.ExpiryCursor, limit int) ([]orders.DueOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []orders.DueOrder
	for _, o := range s.orders {
		if !o.Expired(now) {
			continue
		}
		d := orders.DueOrder{ID: o.ID, ExpiresAt: *o.ExpiresAt}
		if after.After(d) {
			due = append(due, d)
		}
	}
	slices.SortFunc(due, func(a, b orders.DueOrder) int {
		if c := a.ExpiresAt.Compare(b.ExpiresAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// tx stages writes over the committed maps. The store mutex is held for its
// whole life.
type tx struct {
	s      *Store
	books  map[string]orders.Book
	orders map[string]orders.Order
}

func (t *tx) book(id string) (orders.Book, bool) {
	if b, ok := t.books[id]; ok {
		return b, true
	}
	b, ok := t.s.books[id]
	return b, ok
}

func (t *tx) order(id string) (orders.Order, bool) {
	if o, ok := t.orders[id]; ok {
		return o, true
	}
	o, ok := t.s.orders[id]
	return o, ok
}

func (t *tx) LockBook(_ context.Context, bookID string) (orders.Book, error) {
	b, ok := t.book(bookID)
	if !ok {
		return orders.Book{}, orders.ErrNotFound
	}
	return cloneBook(b), nil
}

func (t *tx) SaveStock(_ context.Context, bookID string, st orders.Stock, at time.Time) error {
	b, ok := t.book(bookID)
	if !ok {
		return orders.ErrNotFound
	}
	b.Quantity = st.Quantity
	b.Status = st.Status
	b.UpdatedAt = at
	t.books[bookID] = b
	return nil
}

func (t *tx) InsertOrder(_ context.Context, o orders.Order) error {
	if _, exists := t.order(o.ID); exists {
		return errDuplicate
	}
	t.orders[o.ID] = o
	return nil
}

func (t *tx) GetOrder(_ context.Context, orderID string) (orders.Order, error) {
	o, ok := t.order(orderID)
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (t *tx) Transition(_ context.Context, orderID string, from orders.Status, ch orders.Change) (bool, error) {
	o, ok := t.order(orderID)
	if !ok || o.Status != from {
		return false, nil
	}
	t.orders[orderID] = o.Apply(ch)
	return true, nil
}

func cloneBook(b orders.Book) orders.Book {
	b.ImagePaths = slices.Clone(b.ImagePaths)
	return b
}
