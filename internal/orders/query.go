package orders

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// UrgentWindow is how close to expiry a pending order is flagged urgent.
	UrgentWindow = 12 * time.Hour

	PlaceholderCover = "https://via.placeholder.com/150"
)

type SellerOrderView struct {
	ID              string          `json:"id"`
	BookTitle       string          `json:"bookTitle"`
	BookCover       string          `json:"bookCover"`
	BuyerName       string          `json:"buyerName"`
	BuyerAddress    string          `json:"buyerAddress"`
	OrderDate       time.Time       `json:"orderDate"`
	Price           decimal.Decimal `json:"price"`
	Quantity        int             `json:"quantity"`
	Status          Status          `json:"status"`
	Bucket          string          `json:"bucket"`
	ExpiresAt       *time.Time      `json:"expiresAt"`
	TimeLeftSeconds int64           `json:"timeLeftSeconds"`
	Urgent          bool            `json:"urgent"`
}

type OrderItemView struct {
	Title     string          `json:"title"`
	Author    string          `json:"author"`
	Price     decimal.Decimal `json:"price"`
	Thumbnail string          `json:"thumbnail"`
}

type BuyerOrderView struct {
	ID                string          `json:"id"`
	OrderNumber       string          `json:"orderNumber"`
	OrderDate         time.Time       `json:"orderDate"`
	Status            Status          `json:"status"`
	Group             string          `json:"group"`
	Items             []OrderItemView `json:"items"`
	Total             decimal.Decimal `json:"total"`
	ShippingAddress   string          `json:"shippingAddress"`
	TrackingNumber    string          `json:"trackingNumber,omitempty"`
	EstimatedDelivery *time.Time      `json:"estimatedDelivery,omitempty"`
	ExpiresAt         *time.Time      `json:"expiresAt"`
	TimeLeftSeconds   int64           `json:"timeLeftSeconds"`
}

type BookSummary struct {
	Title      string   `json:"title"`
	Author     string   `json:"author"`
	Condition  string   `json:"condition"`
	ImagePaths []string `json:"imagePaths"`
}

type BuyerSummary struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type SellerSummary struct {
	Name string `json:"name"`
}

type OrderDetailView struct {
	ID                string          `json:"id"`
	Book              BookSummary     `json:"book"`
	Buyer             BuyerSummary    `json:"buyer"`
	Seller            SellerSummary   `json:"seller"`
	Quantity          int             `json:"quantity"`
	TotalPrice        decimal.Decimal `json:"totalPrice"`
	ShippingPrice     decimal.Decimal `json:"shippingPrice"`
	ShippingAddress   string          `json:"shippingAddress"`
	Status            Status          `json:"status"`
	OrderDate         time.Time       `json:"orderDate"`
	ExpiresAt         *time.Time      `json:"expiresAt"`
	TimeLeftSeconds   int64           `json:"timeLeftSeconds"`
	Urgent            bool            `json:"urgent"`
	DeliveryPartner   string          `json:"deliveryPartner,omitempty"`
	TrackingNumber    string          `json:"trackingNumber,omitempty"`
	SlipImagePath     string          `json:"slipImagePath,omitempty"`
	EstimatedDelivery *time.Time      `json:"estimatedDelivery,omitempty"`
}

type StatusView struct {
	Status          Status     `json:"status"`
	ExpiresAt       *time.Time `json:"expiresAt"`
	TimeLeftSeconds int64      `json:"timeLeftSeconds"`
	Urgent          bool       `json:"urgent"`
}

// Urgent reports a pending order with less than UrgentWindow left.
func Urgent(o Order, now time.Time) bool {
	left := o.TimeLeft(now)
	return o.Status == StatusPending && left > 0 && left <= UrgentWindow
}

// OrderNumber is the short buyer-facing reference of an order.
func OrderNumber(orderID string) string {
	tail := orderID
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	return "ORD-" + strings.ToUpper(tail)
}

func (s *Service) SellerOrders(ctx context.Context, sellerID, filter string) ([]SellerOrderView, error) {
	statuses, ok := SellerFilter(filter)
	if !ok {
		return nil, newError(KindValidation, "unknown status filter %q", filter)
	}
	list, err := s.listFresh(ctx, ListFilter{SellerID: sellerID, Statuses: statuses})
	if err != nil {
		return nil, err
	}

	lk := s.newLookup()
	now := s.now()
	out := make([]SellerOrderView, 0, len(list))
	for _, o := range list {
		book, err := lk.book(ctx, o.BookID)
		if err != nil {
			return nil, err
		}
		buyer, err := lk.user(ctx, o.BuyerID)
		if err != nil {
			return nil, err
		}
		cover := PlaceholderCover
		if len(book.ImagePaths) > 0 {
			cover = book.ImagePaths[0]
		}
		out = append(out, SellerOrderView{
			ID:              o.ID,
			BookTitle:       book.Title,
			BookCover:       cover,
			BuyerName:       buyer.Name,
			BuyerAddress:    o.ShippingAddress,
			OrderDate:       o.OrderDate,
			Price:           o.TotalPrice,
			Quantity:        o.Quantity,
			Status:          o.Status,
			Bucket:          SellerBucket(o.Status),
			ExpiresAt:       o.ExpiresAt,
			TimeLeftSeconds: int64(o.TimeLeft(now) / time.Second),
			Urgent:          Urgent(o, now),
		})
	}
	return out, nil
}

func (s *Service) BuyerOrders(ctx context.Context, buyerID, filter string) ([]BuyerOrderView, error) {
	statuses, ok := BuyerFilter(filter)
	if !ok {
		return nil, newError(KindValidation, "unknown status filter %q", filter)
	}
	list, err := s.listFresh(ctx, ListFilter{BuyerID: buyerID, Statuses: statuses})
	if err != nil {
		return nil, err
	}

	lk := s.newLookup()
	now := s.now()
	out := make([]BuyerOrderView, 0, len(list))
	for _, o := range list {
		book, err := lk.book(ctx, o.BookID)
		if err != nil {
			return nil, err
		}
		unit := o.TotalPrice
		if o.Quantity > 0 {
			unit = o.TotalPrice.Div(decimal.NewFromInt(int64(o.Quantity)))
		}
		thumb := PlaceholderCover
		if len(book.ImagePaths) > 0 {
			thumb = book.ImagePaths[0]
		}
		out = append(out, BuyerOrderView{
			ID:          o.ID,
			OrderNumber: OrderNumber(o.ID),
			OrderDate:   o.OrderDate,
			Status:      o.Status,
			Group:       BuyerGroup(o.Status),
			Items: []OrderItemView{{
				Title:     book.Title,
				Author:    book.Author,
				Price:     unit,
				Thumbnail: thumb,
			}},
			Total:             o.TotalPrice.Add(o.ShippingPrice),
			ShippingAddress:   o.ShippingAddress,
			TrackingNumber:    o.TrackingNumber,
			EstimatedDelivery: o.EstimatedDelivery,
			ExpiresAt:         o.ExpiresAt,
			TimeLeftSeconds:   int64(o.TimeLeft(now) / time.Second),
		})
	}
	return out, nil
}

// OrderDetail is visible to the order's buyer and seller only.
func (s *Service) OrderDetail(ctx context.Context, actorID, orderID string) (OrderDetailView, error) {
	o, err := s.freshOrder(ctx, orderID)
	if err != nil {
		return OrderDetailView{}, err
	}
	if actorID == "" || (actorID != o.BuyerID && actorID != o.SellerID) {
		return OrderDetailView{}, newError(KindForbidden, "order %s is not yours", o.ID)
	}

	lk := s.newLookup()
	book, err := lk.book(ctx, o.BookID)
	if err != nil {
		return OrderDetailView{}, err
	}
	buyer, err := lk.user(ctx, o.BuyerID)
	if err != nil {
		return OrderDetailView{}, err
	}
	seller, err := lk.user(ctx, o.SellerID)
	if err != nil {
		return OrderDetailView{}, err
	}

	now := s.now()
	images := book.ImagePaths
	if images == nil {
		images = []string{}
	}
	return OrderDetailView{
		ID: o.ID,
		Book: BookSummary{
			Title:      book.Title,
			Author:     book.Author,
			Condition:  book.Condition,
			ImagePaths: images,
		},
		Buyer:             BuyerSummary{Name: buyer.Name, Phone: buyer.Phone, Email: buyer.Email},
		Seller:            SellerSummary{Name: seller.Name},
		Quantity:          o.Quantity,
		TotalPrice:        o.TotalPrice,
		ShippingPrice:     o.ShippingPrice,
		ShippingAddress:   o.ShippingAddress,
		Status:            o.Status,
		OrderDate:         o.OrderDate,
		ExpiresAt:         o.ExpiresAt,
		TimeLeftSeconds:   int64(o.TimeLeft(now) / time.Second),
		Urgent:            Urgent(o, now),
		DeliveryPartner:   o.DeliveryPartner,
		TrackingNumber:    o.TrackingNumber,
		SlipImagePath:     o.SlipImagePath,
		EstimatedDelivery: o.EstimatedDelivery,
	}, nil
}

// StatusOf answers countdown polls. Settled orders are served from the
// status cache; anything still able to move is read from the store.
func (s *Service) StatusOf(ctx context.Context, actorID, orderID string) (StatusView, error) {
	snap, hit := s.cache.Get(ctx, orderID)
	if !hit {
		o, err := s.freshOrder(ctx, orderID)
		if err != nil {
			return StatusView{}, err
		}
		snap = snapshotOf(o)
		if o.Status.Terminal() {
			s.cache.Put(ctx, o.ID, snap)
		}
	}
	if actorID == "" || (actorID != snap.BuyerID && actorID != snap.SellerID) {
		return StatusView{}, newError(KindForbidden, "order %s is not yours", orderID)
	}

	now := s.now()
	o := Order{Status: snap.Status, ExpiresAt: snap.ExpiresAt}
	return StatusView{
		Status:          snap.Status,
		ExpiresAt:       snap.ExpiresAt,
		TimeLeftSeconds: int64(o.TimeLeft(now) / time.Second),
		Urgent:          Urgent(o, now),
	}, nil
}

// freshOrder loads an order, expiring it first if its window already closed.
func (s *Service) freshOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, newError(KindValidation, "order id is required")
	}
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, notFound(err, "order", orderID)
	}
	if !o.Expired(s.now()) {
		return o, nil
	}
	s.expireOnRead(ctx, o.ID)
	o, err = s.store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, notFound(err, "order", orderID)
	}
	return o, nil
}

// listFresh lists orders and re-lists once if any of them had to be expired,
// so status filters see the post-expiry state.
func (s *Service) listFresh(ctx context.Context, f ListFilter) ([]Order, error) {
	list, err := s.store.ListOrders(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	now := s.now()
	stale := false
	for _, o := range list {
		if o.Expired(now) {
			s.expireOnRead(ctx, o.ID)
			stale = true
		}
	}
	if !stale {
		return list, nil
	}
	list, err = s.store.ListOrders(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return list, nil
}

func (s *Service) expireOnRead(ctx context.Context, orderID string) {
	err := s.Expire(ctx, orderID)
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		s.lg.Warn("Expire on read", zap.String("order_id", orderID), zap.Error(err))
	}
}

// lookup memoizes book and user reads within one projection. Missing rows
// project as zero values.
type lookup struct {
	store Store
	books map[string]Book
	users map[string]User
}

func (s *Service) newLookup() *lookup {
	return &lookup{store: s.store, books: map[string]Book{}, users: map[string]User{}}
}

func (l *lookup) book(ctx context.Context, id string) (Book, error) {
	if b, ok := l.books[id]; ok {
		return b, nil
	}
	b, err := l.store.GetBook(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Book{}, errors.Wrap(err, "get book")
	}
	l.books[id] = b
	return b, nil
}

func (l *lookup) user(ctx context.Context, id string) (User, error) {
	if u, ok := l.users[id]; ok {
		return u, nil
	}
	u, err := l.store.GetUser(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return User{}, errors.Wrap(err, "get user")
	}
	l.users[id] = u
	return u, nil
}
