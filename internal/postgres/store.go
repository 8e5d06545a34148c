package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/bookmarket-orders/internal/orders"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct{ DB *pgxpool.Pool }

var _ orders.Store = (*Store)(nil)

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) WithinTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&txRepo{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (orders.Order, error) {
	return getOrder(ctx, s.DB, orderID)
}

const bookColumns = `id, seller_id, title, author, condition, image_paths, price, mrp,
	is_free_shipping, shipping_price, quantity, status, created_at, updated_at`

func (s *Store) GetBook(ctx context.Context, bookID string) (orders.Book, error) {
	return scanBook(s.DB.QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE id=$1`, bookID))
}

func (s *Store) GetUser(ctx context.Context, userID string) (orders.User, error) {
	var u orders.User
	err := s.DB.QueryRow(ctx, `SELECT id, name, email, phone FROM users WHERE id=$1`, userID).
		Scan(&u.ID, &u.Name, &u.Email, &u.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.User{}, orders.ErrNotFound
	}
	if err != nil {
		return orders.User{}, errors.Wrap(err, "select user")
	}
	return u, nil
}

func (s *Store) ListOrders(ctx context.Context, f orders.ListFilter) ([]orders.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE TRUE`
	var args []any
	if f.SellerID != "" {
		args = append(args, f.SellerID)
		q += fmt.Sprintf(" AND seller_id = $%d", len(args))
	}
	if f.BuyerID != "" {
		args = append(args, f.BuyerID)
		q += fmt.Sprintf(" AND buyer_id = $%d", len(args))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		args = append(args, statuses)
		q += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	q += " ORDER BY order_date DESC, id DESC"

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select orders")
	}
	defer rows.Close()

	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate orders")
	}
	return out, nil
}

func (s *Store) ListExpired(ctx context.Context, now time.Time, after orders.ExpiryCursor, limit int) ([]orders.DueOrder, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	q := `SELECT id, expires_at FROM orders WHERE status = 'pending' AND expires_at <= $1`
	args := []any{now, limit}
	if !after.IsZero() {
		q += ` AND (expires_at, id) > ($3, $4)`
		args = append(args, after.ExpiresAt, after.ID)
	}
	q += ` ORDER BY expires_at, id LIMIT $2`

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select expired orders")
	}
	defer rows.Close()

	var due []orders.DueOrder
	for rows.Next() {
		var d orders.DueOrder
		if err := rows.Scan(&d.ID, &d.ExpiresAt); err != nil {
			return nil, errors.Wrap(err, "scan due order")
		}
		due = append(due, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate expired orders")
	}
	return due, nil
}

type txRepo struct{ q querier }

// LockBook holds the row lock until the transaction ends, so concurrent
// placements on one book serialize here.
func (t *txRepo) LockBook(ctx context.Context, bookID string) (orders.Book, error) {
	return scanBook(t.q.QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE id=$1 FOR UPDATE`, bookID))
}

func (t *txRepo) SaveStock(ctx context.Context, bookID string, st orders.Stock, at time.Time) error {
	ct, err := t.q.Exec(ctx, `UPDATE books SET quantity=$2, status=$3, updated_at=$4 WHERE id=$1`,
		bookID, st.Quantity, string(st.Status), at)
	if err != nil {
		return errors.Wrap(err, "update book stock")
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertOrder(ctx context.Context, o orders.Order) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO orders(id, buyer_id, seller_id, book_id, quantity, total_price, shipping_price,
			status, order_date, expires_at, shipping_address, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		o.ID, o.BuyerID, o.SellerID, o.BookID, o.Quantity, o.TotalPrice, o.ShippingPrice,
		string(o.Status), o.OrderDate, o.ExpiresAt, o.ShippingAddress, o.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert order")
	}
	return nil
}

func (t *txRepo) GetOrder(ctx context.Context, orderID string) (orders.Order, error) {
	return getOrder(ctx, t.q, orderID)
}

// Transition is a compare-and-set on status. Leaving pending clears
// expires_at; an empty slip path keeps the stored one.
func (t *txRepo) Transition(ctx context.Context, orderID string, from orders.Status, ch orders.Change) (bool, error) {
	var (
		partner, tracking, slip *string
		eta                     *time.Time
	)
	if d := ch.Delivery; d != nil {
		partner, tracking, slip = &d.Partner, &d.TrackingNumber, &d.SlipImagePath
		eta = &d.EstimatedDelivery
	}
	ct, err := t.q.Exec(ctx, `
		UPDATE orders SET
			status = $3,
			updated_at = $4,
			expires_at = NULL,
			delivery_partner = COALESCE($5::text, delivery_partner),
			tracking_number = COALESCE($6::text, tracking_number),
			slip_image_path = COALESCE(NULLIF($7::text, ''), slip_image_path),
			estimated_delivery = COALESCE($8::timestamptz, estimated_delivery)
		WHERE id = $1 AND status = $2`,
		orderID, string(from), string(ch.To), ch.At, partner, tracking, slip, eta,
	)
	if err != nil {
		return false, errors.Wrap(err, "update order status")
	}
	return ct.RowsAffected() == 1, nil
}

const orderColumns = `id, buyer_id, seller_id, book_id, quantity, total_price, shipping_price, status,
	order_date, expires_at, tracking_number, delivery_partner, slip_image_path, estimated_delivery,
	shipping_address, updated_at`

func getOrder(ctx context.Context, q querier, orderID string) (orders.Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, err
}

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o      orders.Order
		status string
	)
	err := row.Scan(&o.ID, &o.BuyerID, &o.SellerID, &o.BookID, &o.Quantity, &o.TotalPrice, &o.ShippingPrice,
		&status, &o.OrderDate, &o.ExpiresAt, &o.TrackingNumber, &o.DeliveryPartner, &o.SlipImagePath,
		&o.EstimatedDelivery, &o.ShippingAddress, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, err
	}
	if err != nil {
		return orders.Order{}, errors.Wrap(err, "scan order")
	}
	o.Status = orders.Status(status)
	return o, nil
}

func scanBook(row pgx.Row) (orders.Book, error) {
	var (
		b      orders.Book
		status string
	)
	err := row.Scan(&b.ID, &b.SellerID, &b.Title, &b.Author, &b.Condition, &b.ImagePaths, &b.Price, &b.MRP,
		&b.IsFreeShipping, &b.ShippingPrice, &b.Quantity, &status, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Book{}, orders.ErrNotFound
	}
	if err != nil {
		return orders.Book{}, errors.Wrap(err, "scan book")
	}
	b.Status = orders.BookStatus(status)
	return b, nil
}
