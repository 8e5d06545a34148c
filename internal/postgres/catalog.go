package postgres

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/ariefcatur/bookmarket-orders/internal/orders"
)

// Users and books are owned by the catalog side of the marketplace; these
// upserts exist for seeding and tests.

func (s *Store) SaveUser(ctx context.Context, u orders.User) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO users(id, name, email, phone) VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, email=EXCLUDED.email, phone=EXCLUDED.phone`,
		u.ID, u.Name, u.Email, u.Phone)
	if err != nil {
		return errors.Wrap(err, "upsert user")
	}
	return nil
}

func (s *Store) SaveBook(ctx context.Context, b orders.Book) error {
	images := b.ImagePaths
	if images == nil {
		images = []string{}
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO books(id, seller_id, title, author, condition, image_paths, price, mrp,
			is_free_shipping, shipping_price, quantity, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
		ON CONFLICT (id) DO UPDATE SET
			title=EXCLUDED.title, author=EXCLUDED.author, condition=EXCLUDED.condition,
			image_paths=EXCLUDED.image_paths, price=EXCLUDED.price, mrp=EXCLUDED.mrp,
			is_free_shipping=EXCLUDED.is_free_shipping, shipping_price=EXCLUDED.shipping_price,
			quantity=EXCLUDED.quantity, status=EXCLUDED.status, updated_at=EXCLUDED.updated_at`,
		b.ID, b.SellerID, b.Title, b.Author, b.Condition, images, b.Price, b.MRP,
		b.IsFreeShipping, b.ShippingPrice, b.Quantity, string(b.Status), b.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "upsert book")
	}
	return nil
}
