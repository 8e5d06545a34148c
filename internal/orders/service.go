package orders

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultPendingTTL  = 48 * time.Hour
	DefaultDeliveryETA = 7 * 24 * time.Hour

	// SystemActor is recorded on transitions nobody asked for.
	SystemActor = "system"
)

// ServiceConfig carries the optional collaborators of a Service. Zero values
// fall back to no-op implementations and the default durations.
type ServiceConfig struct {
	Events      EventSink
	Cache       StatusCache
	Logger      *zap.Logger
	Now         func() time.Time
	PendingTTL  time.Duration
	DeliveryETA time.Duration
	Producer    string
}

// Service is the order state machine. Every transition runs in one store
// transaction guarded by the order's current status.
type Service struct {
	store       Store
	events      EventSink
	cache       StatusCache
	lg          *zap.Logger
	now         func() time.Time
	pendingTTL  time.Duration
	deliveryETA time.Duration
	producer    string
}

func NewService(store Store, cfg ServiceConfig) *Service {
	s := &Service{
		store:       store,
		events:      cfg.Events,
		cache:       cfg.Cache,
		lg:          cfg.Logger,
		now:         cfg.Now,
		pendingTTL:  cfg.PendingTTL,
		deliveryETA: cfg.DeliveryETA,
		producer:    cfg.Producer,
	}
	if s.events == nil {
		s.events = nopSink{}
	}
	if s.cache == nil {
		s.cache = nopCache{}
	}
	if s.lg == nil {
		s.lg = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.pendingTTL <= 0 {
		s.pendingTTL = DefaultPendingTTL
	}
	if s.deliveryETA <= 0 {
		s.deliveryETA = DefaultDeliveryETA
	}
	if s.producer == "" {
		s.producer = "order-api"
	}
	return s
}

type PlaceOrderInput struct {
	BookID          string
	BuyerID         string
	Quantity        int
	ShippingAddress string
}

// PlaceOrder reserves stock on the book and creates a pending order in the
// same transaction.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (Order, error) {
	in.BookID = strings.TrimSpace(in.BookID)
	in.ShippingAddress = strings.TrimSpace(in.ShippingAddress)
	switch {
	case in.BuyerID == "":
		return Order{}, newError(KindValidation, "buyer is required")
	case in.BookID == "":
		return Order{}, newError(KindValidation, "bookId is required")
	case in.Quantity < 1:
		return Order{}, newError(KindValidation, "quantity must be at least 1")
	case in.ShippingAddress == "":
		return Order{}, newError(KindValidation, "shippingAddress is required")
	}

	now := s.now()
	var placed Order
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		book, err := tx.LockBook(ctx, in.BookID)
		if err != nil {
			return notFound(err, "book", in.BookID)
		}
		next, err := Reserve(book.Stock(), in.Quantity)
		if err != nil {
			return err
		}
		if err := tx.SaveStock(ctx, book.ID, next, now); err != nil {
			return errors.Wrap(err, "reserve stock")
		}

		expires := now.Add(s.pendingTTL)
		placed = Order{
			ID:              uuid.NewString(),
			BuyerID:         in.BuyerID,
			SellerID:        book.SellerID,
			BookID:          book.ID,
			Quantity:        in.Quantity,
			TotalPrice:      book.Price.Mul(decimal.NewFromInt(int64(in.Quantity))),
			ShippingPrice:   book.ShippingFee(),
			Status:          StatusPending,
			OrderDate:       now,
			ExpiresAt:       &expires,
			ShippingAddress: in.ShippingAddress,
			UpdatedAt:       now,
		}
		if err := tx.InsertOrder(ctx, placed); err != nil {
			return errors.Wrap(err, "insert order")
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.lg.Info("Order placed",
		zap.String("order_id", placed.ID),
		zap.String("book_id", placed.BookID),
		zap.Int("quantity", placed.Quantity),
	)
	s.emit(ctx, EventOrderPlaced, placed.ID, OrderPlacedPayload{
		OrderID:       placed.ID,
		BookID:        placed.BookID,
		BuyerID:       placed.BuyerID,
		SellerID:      placed.SellerID,
		Quantity:      placed.Quantity,
		TotalPrice:    placed.TotalPrice,
		ShippingPrice: placed.ShippingPrice,
		ExpiresAt:     *placed.ExpiresAt,
	})
	return placed, nil
}

// UpdateStatus is the seller's accept/reject decision on a pending order.
func (s *Service) UpdateStatus(ctx context.Context, sellerID, orderID string, target Status) error {
	switch target {
	case StatusAccepted:
		return s.Accept(ctx, sellerID, orderID)
	case StatusRejected:
		return s.Reject(ctx, sellerID, orderID)
	default:
		return newError(KindValidation, "status must be %q or %q", StatusAccepted, StatusRejected)
	}
}

func (s *Service) Accept(ctx context.Context, sellerID, orderID string) error {
	before, err := s.apply(ctx, orderID, step{
		to:    StatusAccepted,
		check: both(sellerOwns(sellerID), notExpired),
	})
	if err != nil {
		return err
	}
	s.transitioned(ctx, EventOrderAccepted, before, StatusAccepted, sellerID, 0, nil)
	return nil
}

// Reject puts the reserved units back on the book.
func (s *Service) Reject(ctx context.Context, sellerID, orderID string) error {
	before, err := s.apply(ctx, orderID, step{
		to:     StatusRejected,
		check:  sellerOwns(sellerID),
		effect: s.restock,
	})
	if err != nil {
		return err
	}
	s.transitioned(ctx, EventOrderRejected, before, StatusRejected, sellerID, before.Quantity, nil)
	return nil
}

// Expire rejects a pending order whose acceptance window has closed. It fails
// with InvalidTransition when the order already moved on or is not due yet.
func (s *Service) Expire(ctx context.Context, orderID string) error {
	before, err := s.apply(ctx, orderID, step{
		to: StatusRejected,
		check: func(o Order, at time.Time) error {
			if !o.Expired(at) {
				return newError(KindInvalidTransition, "order %s is not due for expiry", o.ID)
			}
			return nil
		},
		effect: s.restock,
	})
	if err != nil {
		return err
	}
	s.lg.Info("Order expired", zap.String("order_id", before.ID), zap.Int("restored", before.Quantity))
	s.transitioned(ctx, EventOrderExpired, before, StatusRejected, SystemActor, before.Quantity, nil)
	return nil
}

// ConfirmPayment is the buyer's simulated payment. It accepts the order
// without seller review.
func (s *Service) ConfirmPayment(ctx context.Context, buyerID, orderID string) error {
	before, err := s.apply(ctx, orderID, step{
		to:    StatusAccepted,
		check: both(buyerOwns(buyerID), notExpired),
	})
	if err != nil {
		return err
	}
	// Second path into accepted next to seller acceptance; kept until it is
	// decided whether payment should open a seller review step instead.
	s.lg.Warn("Payment confirmation accepted order without seller review",
		zap.String("order_id", before.ID),
		zap.String("seller_id", before.SellerID),
	)
	s.transitioned(ctx, EventPaymentConfirmed, before, StatusAccepted, buyerID, 0, nil)
	return nil
}

type DeliverySlip struct {
	Partner        string
	TrackingNumber string
	SlipImagePath  string
}

// SubmitDeliverySlip ships an accepted order.
func (s *Service) SubmitDeliverySlip(ctx context.Context, sellerID, orderID string, slip DeliverySlip) (Order, error) {
	slip.Partner = strings.TrimSpace(slip.Partner)
	slip.TrackingNumber = strings.TrimSpace(slip.TrackingNumber)
	if slip.Partner == "" {
		return Order{}, newError(KindValidation, "deliveryPartner is required")
	}
	if slip.TrackingNumber == "" {
		return Order{}, newError(KindValidation, "trackingNumber is required")
	}

	eta := s.now().Add(s.deliveryETA)
	d := &Delivery{
		Partner:           slip.Partner,
		TrackingNumber:    slip.TrackingNumber,
		SlipImagePath:     slip.SlipImagePath,
		EstimatedDelivery: eta,
	}
	before, err := s.apply(ctx, orderID, step{
		to:       StatusShipped,
		check:    sellerOwns(sellerID),
		delivery: d,
	})
	if err != nil {
		return Order{}, err
	}
	s.transitioned(ctx, EventOrderShipped, before, StatusShipped, sellerID, 0, d)

	shipped := before
	shipped.Status = StatusShipped
	shipped.DeliveryPartner = d.Partner
	shipped.TrackingNumber = d.TrackingNumber
	if d.SlipImagePath != "" {
		shipped.SlipImagePath = d.SlipImagePath
	}
	shipped.EstimatedDelivery = &eta
	return shipped, nil
}

// ConfirmDelivery is the buyer acknowledging receipt of a shipped order.
func (s *Service) ConfirmDelivery(ctx context.Context, buyerID, orderID string) error {
	before, err := s.apply(ctx, orderID, step{
		to:    StatusDelivered,
		check: buyerOwns(buyerID),
	})
	if err != nil {
		return err
	}
	s.transitioned(ctx, EventOrderDelivered, before, StatusDelivered, buyerID, 0, nil)
	return nil
}

// ExpireDue runs one expiry pass over every order due now, reading batch
// orders at a time, and returns how many it rejected. The pass pages by
// (expiresAt, id), so an order that keeps failing is stepped over instead of
// holding back the ones behind it. Orders that moved on concurrently are
// skipped; other per-order failures are logged.
func (s *Service) ExpireDue(ctx context.Context, batch int) (int, error) {
	now := s.now()
	var (
		after   ExpiryCursor
		expired int
	)
	for {
		due, err := s.store.ListExpired(ctx, now, after, batch)
		if err != nil {
			return expired, errors.Wrap(err, "list expired orders")
		}
		for _, d := range due {
			if err := ctx.Err(); err != nil {
				return expired, err
			}
			switch err := s.Expire(ctx, d.ID); {
			case err == nil:
				expired++
			case errors.Is(err, ErrInvalidTransition):
				s.lg.Debug("Order left pending before expiry", zap.String("order_id", d.ID))
			default:
				s.lg.Error("Expire order", zap.String("order_id", d.ID), zap.Error(err))
			}
			after = ExpiryCursor{ExpiresAt: d.ExpiresAt, ID: d.ID}
		}
		if batch <= 0 || len(due) < batch {
			return expired, nil
		}
	}
}

type step struct {
	to       Status
	check    func(o Order, at time.Time) error
	delivery *Delivery
	// effect runs inside the transaction after the status update won.
	effect func(ctx context.Context, tx Tx, o Order, at time.Time) error
}

// apply runs one guarded transition and returns the order as it was before.
func (s *Service) apply(ctx context.Context, orderID string, st step) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, newError(KindValidation, "order id is required")
	}
	at := s.now()
	var before Order
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return notFound(err, "order", orderID)
		}
		if err := st.check(o, at); err != nil {
			return err
		}
		if !CanTransition(o.Status, st.to) {
			return newError(KindInvalidTransition, "order %s is %s and cannot become %s", o.ID, o.Status, st.to)
		}
		ok, err := tx.Transition(ctx, o.ID, o.Status, Change{To: st.to, At: at, Delivery: st.delivery})
		if err != nil {
			return errors.Wrap(err, "update order status")
		}
		if !ok {
			return newError(KindInvalidTransition, "order %s is no longer %s", o.ID, o.Status)
		}
		if st.effect != nil {
			if err := st.effect(ctx, tx, o, at); err != nil {
				return err
			}
		}
		before = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.cache.Forget(ctx, orderID)
	return before, nil
}

func (s *Service) restock(ctx context.Context, tx Tx, o Order, at time.Time) error {
	book, err := tx.LockBook(ctx, o.BookID)
	if errors.Is(err, ErrNotFound) {
		s.lg.Warn("Book of rejected order is gone, stock not restored",
			zap.String("order_id", o.ID),
			zap.String("book_id", o.BookID),
		)
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "lock book")
	}
	if err := tx.SaveStock(ctx, book.ID, Release(book.Stock(), o.Quantity), at); err != nil {
		return errors.Wrap(err, "restore stock")
	}
	return nil
}

func sellerOwns(sellerID string) func(Order, time.Time) error {
	return func(o Order, _ time.Time) error {
		if sellerID == "" || o.SellerID != sellerID {
			return newError(KindForbidden, "order %s does not belong to this seller", o.ID)
		}
		return nil
	}
}

func buyerOwns(buyerID string) func(Order, time.Time) error {
	return func(o Order, _ time.Time) error {
		if buyerID == "" || o.BuyerID != buyerID {
			return newError(KindForbidden, "order %s does not belong to this buyer", o.ID)
		}
		return nil
	}
}

// notExpired keeps a lapsed order from being accepted before the sweeper
// gets to it.
func notExpired(o Order, at time.Time) error {
	if o.Expired(at) {
		return newError(KindInvalidTransition, "order %s expired at %s", o.ID, o.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func both(a, b func(Order, time.Time) error) func(Order, time.Time) error {
	return func(o Order, at time.Time) error {
		if err := a(o, at); err != nil {
			return err
		}
		return b(o, at)
	}
}

func notFound(err error, what, id string) error {
	if errors.Is(err, ErrNotFound) {
		return newError(KindNotFound, "%s %s not found", what, id)
	}
	return errors.Wrapf(err, "get %s", what)
}

func (s *Service) transitioned(ctx context.Context, eventType string, before Order, to Status, actor string, restored int, d *Delivery) {
	p := OrderTransitionedPayload{
		OrderID:          before.ID,
		BookID:           before.BookID,
		From:             before.Status,
		To:               to,
		Actor:            actor,
		RestoredQuantity: restored,
	}
	if d != nil {
		p.TrackingNumber = d.TrackingNumber
		p.DeliveryPartner = d.Partner
	}
	s.emit(ctx, eventType, before.ID, p)
}

func (s *Service) emit(ctx context.Context, eventType, orderID string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		s.lg.Error("Marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	s.events.Emit(ctx, Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.now().UTC(),
		Producer:      s.producer,
		TraceID:       traceID(ctx),
		CorrelationID: orderID,
		Payload:       b,
	})
}
