package orders_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/bookmarket-orders/internal/memstore"
	"github.com/ariefcatur/bookmarket-orders/internal/orders"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []orders.Envelope
}

func (r *recordingSink) Emit(_ context.Context, ev orders.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

type fixture struct {
	store *memstore.Store
	clock *clock
	sink  *recordingSink
	svc   *orders.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memstore.New(),
		clock: &clock{now: t0},
		sink:  &recordingSink{},
	}
	f.svc = orders.NewService(f.store, orders.ServiceConfig{
		Events: f.sink,
		Logger: zaptest.NewLogger(t),
		Now:    f.clock.Now,
	})
	for _, u := range []orders.User{
		{ID: "seller-1", Name: "Sam Seller", Email: "sam@example.com", Phone: "111"},
		{ID: "buyer-1", Name: "Bea Buyer", Email: "bea@example.com", Phone: "222"},
		{ID: "buyer-2", Name: "Bo Buyer", Email: "bo@example.com", Phone: "333"},
		{ID: "buyer-3", Name: "Cy Buyer", Email: "cy@example.com", Phone: "444"},
	} {
		f.store.PutUser(u)
	}
	return f
}

func (f *fixture) addBook(id string, qty int, price string, freeShipping bool) {
	f.store.PutBook(orders.Book{
		ID:             id,
		SellerID:       "seller-1",
		Title:          "Title " + id,
		Author:         "Author " + id,
		Condition:      "good",
		ImagePaths:     []string{"/img/" + id + ".jpg"},
		Price:          decimal.RequireFromString(price),
		IsFreeShipping: freeShipping,
		ShippingPrice:  decimal.NewFromInt(40),
		Quantity:       qty,
		Status:         orders.BookActive,
		CreatedAt:      t0,
	})
}

func (f *fixture) book(t *testing.T, id string) orders.Book {
	t.Helper()
	b, err := f.store.GetBook(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (f *fixture) order(t *testing.T, id string) orders.Order {
	t.Helper()
	o, err := f.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (f *fixture) place(t *testing.T, buyer, book string, qty int) orders.Order {
	t.Helper()
	o, err := f.svc.PlaceOrder(context.Background(), orders.PlaceOrderInput{
		BookID:          book,
		BuyerID:         buyer,
		Quantity:        qty,
		ShippingAddress: "12 Paper Lane",
	})
	require.NoError(t, err)
	return o
}

func TestPlaceOrder(t *testing.T) {
	f := newFixture(t)
	f.addBook("b1", 3, "100", false)

	o := f.place(t, "buyer-1", "b1", 2)

	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, "seller-1", o.SellerID)
	assert.True(t, decimal.NewFromInt(200).Equal(o.TotalPrice))
	assert.True(t, decimal.NewFromInt(40).Equal(o.ShippingPrice))
	require.NotNil(t, o.ExpiresAt)
	assert.Equal(t, t0.Add(48*time.Hour), *o.ExpiresAt)

	b := f.book(t, "b1")
	assert.Equal(t, 1, b.Quantity)
	assert.Equal(t, orders.BookActive, b.Status)
	assert.Equal(t, []string{orders.EventOrderPlaced}, f.sink.Types())
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newFixture(t)
	f.addBook("b1", 3, "100", true)
	ctx := context.Background()

	cases := []orders.PlaceOrderInput{
		{BookID: "", BuyerID: "buyer-1", Quantity: 1, ShippingAddress: "x"},
		{BookID: "b1", BuyerID: "", Quantity: 1, ShippingAddress: "x"},
		{BookID: "b1", BuyerID: "buyer-1", Quantity: 0, ShippingAddress: "x"},
		{BookID: "b1", BuyerID: "buyer-1", Quantity: 1, ShippingAddress: "  "},
	}
	for _, in := range cases {
		_, err := f.svc.PlaceOrder(ctx, in)
		require.ErrorIs(t, err, orders.ErrValidation)
	}
	assert.Equal(t, 3, f.book(t, "b1").Quantity)
}

func TestPlaceOrderUnavailableBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, orders.PlaceOrderInput{
		BookID: "missing", BuyerID: "buyer-1", Quantity: 1, ShippingAddress: "x",
	})
	require.ErrorIs(t, err, orders.ErrNotFound)

	f.addBook("b1", 2, "10", true)
	b := f.book(t, "b1")
	b.Status = orders.BookRemoved
	f.store.PutBook(b)

	_, err = f.svc.PlaceOrder(ctx, orders.PlaceOrderInput{
		BookID: "b1", BuyerID: "buyer-1", Quantity: 1, ShippingAddress: "x",
	})
	require.ErrorIs(t, err, orders.ErrNotFound)
	assert.Equal(t, 2, f.book(t, "b1").Quantity)
}

func TestStockScenario(t *testing.T) {
	f := newFixture(t)
	f.addBook("b1", 3, "100", true)
	ctx := context.Background()

	o1 := f.place(t, "buyer-1", "b1", 2)
	assert.Equal(t, 1, f.book(t, "b1").Quantity)
	assert.True(t, decimal.NewFromInt(200).Equal(o1.TotalPrice))
	assert.True(t, o1.ShippingPrice.IsZero())

	_, err := f.svc.PlaceOrder(ctx, orders.PlaceOrderInput{
		BookID: "b1", BuyerID: "buyer-2", Quantity: 2, ShippingAddress: "x",
	})
	require.ErrorIs(t, err, orders.ErrOutOfStock)
	b := f.book(t, "b1")
	assert.Equal(t, 1, b.Quantity)
	assert.Equal(t, orders.BookActive, b.Status)

	require.NoError(t, f.svc.UpdateStatus(ctx, "seller-1", o1.ID, orders.StatusRejected))
	assert.Equal(t, 3, f.book(t, "b1").Quantity)
	assert.Equal(t, orders.StatusRejected, f.order(t, o1.ID).Status)
	assert.Nil(t, f.order(t, o1.ID).ExpiresAt)

	o2 := f.place(t, "buyer-3", "b1", 3)
	b = f.book(t, "b1")
	assert.Equal(t, 0, b.Quantity)
	assert.Equal(t, orders.BookSold, b.Status)
	assert.Equal(t, orders.StatusPending, o2.Status)
	assert.True(t, decimal.NewFromInt(300).Equal(o2.TotalPrice))
}

func TestExpiryScenario(t *testing.T) {
	f := newFixture(t)
	f.addBook("b1", 1, "50", false)
	ctx := context.Background()

	o := f.place(t, "buyer-1", "b1", 1)
	assert.Equal(t, orders.BookSold, f.book(t, "b1").Status)

	n, err := f.svc.ExpireDue(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(48*time.Hour + time.Second)
	n, err = f.svc.ExpireDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.order(t, o.ID)
	assert.Equal(t, orders.StatusRejected, got.Status)
	assert.Nil(t, got.ExpiresAt)
	b := f.book(t, "b1")
	assert.Equal(t, 1, b.Quantity)
	assert.Equal(t, orders.BookActive, b.Status)

	f.clock.Advance(time.Hour)
	n, err = f.svc.ExpireDue(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.book(t, "b1").Quantity)
	assert.Equal(t, []string{orders.EventOrderPlaced, orders.EventOrderExpired}, f.sink.Types())
}

func TestExpireNotDue(t *testing.T) {
	f := newFixture(t)
	f.addBook("b1", 1, "50", false)

	o := f.place(t, "buyer-1", "b1", 1)
	f.clock.Advance(47 * time.Hour)

	err := f.svc.Expire(context.Background(), o.ID)
	require.ErrorIs(t, err, orders.ErrInvalidTransition)
	assert.Equal(t, orders.StatusPending, f.order(t, o.ID).Status)
}

// brokenBookStore fails every stock lock on one book.
type brokenBookStore struct {
	*memstore.Store
	bookID string
}

func (s brokenBookStore) WithinTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	return s.Store.WithinTx(ctx, func(tx orders.Tx) error {
		return fn(brokenBookTx{Tx: tx, bookID: s.bookID})
	})
}

type brokenBookTx struct {
	orders.Tx
	bookID string
}

func (t brokenBookTx) LockBook(ctx context.Context, bookID string) (orders.Book, error) {
	if bookID == t.bookID {
		return orders.Book{}, errors.New("db hiccup")
	}
	return t.Tx.LockBook(ctx, bookID)
}

func TestExpireDueStepsOverFailingOrders(t *testing.T) {
	f := newFixture(t)
	f.addBook("bad", 2, "50", false)
	f.addBook("good", 1, "50", false)
	ctx := context.Background()

	bad1 := f.place(t, "buyer-1", "bad", 1)
	bad2 := f.place(t, "buyer-2", "bad", 1)
	f.clock.Advance(time.Minute)
	healthy := f.place(t, "buyer-1", "good", 1)
	f.clock.Advance(72 * time.Hour)

	svc := orders.NewService(brokenBookStore{Store: f.store, bookID: "bad"}, orders.ServiceConfig{
		Logger: zaptest.NewLogger(t),
		Now:    f.clock.Now,
	})
	n, err := svc.ExpireDue(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, orders.StatusRejected, f.order(t, healthy.ID).Status)
	assert.Equal(t, 1, f.book(t, "good").Quantity)
	assert.Equal(t, orders.StatusPending, f.order(t, bad1.ID).Status)
	assert.Equal(t, orders.StatusPending, f.order(t, bad2.ID).Status)
}

func TestExpireDuePagesThroughBacklog(t *testing.T) {
	f := newFixture(t)
	f.addBook("b1", 5, "50", false)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.place(t, "buyer-1", "b1", 1)
	}
	f.clock.Advance(49 * time.Hour)

	n, err := f.svc.ExpireDue(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, f.book(t, "b1").Quantity)
}

func TestAcceptClearsExpiry(t *testing.T) {
	f := newFixture(t)
	f.addBook("b1", 2, "50", false)
	ctx := context.Background()

	o := f.place(t, "buyer-1", "b1", 1)
	require.NoError(t, f.svc.UpdateStatus(ctx, "seller-1", o.ID, orders.StatusAccepted))

	got := f.order(t, o.ID)
	assert.Equal(t, orders.StatusAccepted, got.Status)
	assert.Nil(t, got.ExpiresAt)

	f.clock.Advance(72 * time.Hour)
	n, err := f.svc.ExpireDue(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, orders.StatusAccepted, f.order(t, o.ID).Status)
	assert.Equal(t, 1, f.book(t, "b1").Quantity)
}

func TestLapsedOrderCannotBeAccepted(t *testing.T) {
	f := newFixture(t)
	f.addBook("b1", 1, "50", false)
	ctx := context.Background()

	o := f.place(t, "buyer-1", "b1", 1)
	f.clock.Advance(48 * time.Hour)

	require.ErrorIs(t, f.svc.Accept(ctx, "seller-1", o.ID), orders.ErrInvalidTransition)
	require.ErrorIs(t, f.svc.ConfirmPayment(ctx, "buyer-1", o.ID), orders.ErrInvalidTransition)
	assert.Equal(t, orders.StatusPending, f.order(t, o.ID).Status)

	require.NoError(t, f.svc.Expire(ctx, o.ID))
	assert.Equal(t, 1, f.book(t, "b1").Quantity)
}

func TestUpdateStatusRules(t *testing.T) {
	f := newFixture(t)
	f.addBook("b1", 5, "50", false)
	ctx := context.Background()
	o := f.place(t, "buyer-1", "b1", 1)

	err := f.svc.UpdateStatus(ctx, "seller-1", o.ID, orders.StatusShipped)
	require.ErrorIs(t, err, orders.ErrValidation)

	err = f.svc.UpdateStatus(ctx, "someone-else", o.ID, orders.StatusAccepted)
	require.ErrorIs(t, err, orders.ErrForbidden)

	err = f.svc.UpdateStatus(ctx, "seller-1", "nope", orders.StatusAccepted)
	require.ErrorIs(t, err, orders.ErrNotFound)

	require.NoError(t, f.svc.UpdateStatus(ctx, "seller-1", o.ID, orders.StatusAccepted))

	err = f.svc.UpdateStatus(ctx, "seller-1", o.ID, orders.StatusRejected)
	require.ErrorIs(t, err, orders.ErrInvalidTransition)
	assert.Equal(t, 4, f.book(t, "b1").Quantity)
}

func TestRejectRestoresOnceUnderRace(t *testing.T) {
	f := newFixture(t)
	f.addBook("b1", 3, "50", false)
	ctx := context.Background()

	o := f.place(t, "buyer-1", "b1", 2)
	f.clock.Advance(48 * time.Hour)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = f.svc.Reject(ctx, "seller-1", o.ID)
	}()
	go func() {
		defer wg.Done()
		errs[1] = f.svc.Expire(ctx, o.ID)
	}()
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, orders.ErrInvalidTransition)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 3, f.book(t, "b1").Quantity)
	assert.Equal(t, orders.StatusRejected, f.order(t, o.ID).Status)
}

func TestLastUnitRace(t *testing.T) {
	f := newFixture(t)
	f.addBook("b1", 1, "50", false)
	ctx := context.Background()

	const buyers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		placed   int
		outStock int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.PlaceOrder(ctx, orders.PlaceOrderInput{
				BookID: "b1", BuyerID: "buyer-1", Quantity: 1, ShippingAddress: "x",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				placed++
			case orders.KindOf(err) == orders.KindOutOfStock || orders.KindOf(err) == orders.KindNotFound:
				outStock++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, placed)
	assert.Equal(t, buyers-1, outStock)
	b := f.book(t, "b1")
	assert.Equal(t, 0, b.Quantity)
	assert.Equal(t, orders.BookSold, b.Status)
}

func TestDeliveryFlow(t *testing.T) {
	f := newFixture(t)
	f.addBook("b1", 2, "50", false)
	ctx := context.Background()
	o := f.place(t, "buyer-1", "b1", 1)

	slip := orders.DeliverySlip{Partner: "BlueDart", TrackingNumber: "TRK1", SlipImagePath: "/uploads/slip-1.jpg"}
	_, err := f.svc.SubmitDeliverySlip(ctx, "seller-1", o.ID, slip)
	require.ErrorIs(t, err, orders.ErrInvalidTransition)
	assert.Equal(t, orders.StatusPending, f.order(t, o.ID).Status)

	require.NoError(t, f.svc.ConfirmPayment(ctx, "buyer-1", o.ID))
	assert.Equal(t, orders.StatusAccepted, f.order(t, o.ID).Status)

	_, err = f.svc.SubmitDeliverySlip(ctx, "seller-1", o.ID, orders.DeliverySlip{Partner: "BlueDart"})
	require.ErrorIs(t, err, orders.ErrValidation)

	err = f.svc.ConfirmDelivery(ctx, "buyer-1", o.ID)
	require.ErrorIs(t, err, orders.ErrInvalidTransition)

	shipped, err := f.svc.SubmitDeliverySlip(ctx, "seller-1", o.ID, slip)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusShipped, shipped.Status)

	got := f.order(t, o.ID)
	assert.Equal(t, orders.StatusShipped, got.Status)
	assert.Equal(t, "BlueDart", got.DeliveryPartner)
	assert.Equal(t, "TRK1", got.TrackingNumber)
	assert.Equal(t, "/uploads/slip-1.jpg", got.SlipImagePath)
	require.NotNil(t, got.EstimatedDelivery)
	assert.Equal(t, t0.Add(7*24*time.Hour), *got.EstimatedDelivery)

	_, err = f.svc.SubmitDeliverySlip(ctx, "seller-1", o.ID, slip)
	require.ErrorIs(t, err, orders.ErrInvalidTransition)

	require.ErrorIs(t, f.svc.ConfirmDelivery(ctx, "buyer-2", o.ID), orders.ErrForbidden)
	require.NoError(t, f.svc.ConfirmDelivery(ctx, "buyer-1", o.ID))
	assert.Equal(t, orders.StatusDelivered, f.order(t, o.ID).Status)

	assert.Equal(t, []string{
		orders.EventOrderPlaced,
		orders.EventPaymentConfirmed,
		orders.EventOrderShipped,
		orders.EventOrderDelivered,
	}, f.sink.Types())
}

func TestConfirmPaymentOwnership(t *testing.T) {
	f := newFixture(t)
	f.addBook("b1", 2, "50", false)
	ctx := context.Background()
	o := f.place(t, "buyer-1", "b1", 1)

	require.ErrorIs(t, f.svc.ConfirmPayment(ctx, "buyer-2", o.ID), orders.ErrForbidden)
	require.ErrorIs(t, f.svc.ConfirmPayment(ctx, "seller-1", o.ID), orders.ErrForbidden)
	assert.Equal(t, orders.StatusPending, f.order(t, o.ID).Status)
}

func TestRejectWithRemovedBook(t *testing.T) {
	f := newFixture(t)
	f.addBook("b1", 2, "50", false)
	ctx := context.Background()
	o := f.place(t, "buyer-1", "b1", 2)

	b := f.book(t, "b1")
	b.Status = orders.BookRemoved
	f.store.PutBook(b)

	require.NoError(t, f.svc.Reject(ctx, "seller-1", o.ID))
	b = f.book(t, "b1")
	assert.Equal(t, 2, b.Quantity)
	assert.Equal(t, orders.BookActive, b.Status)
}

func TestCancelledContextCommitsNothing(t *testing.T) {
	f := newFixture(t)
	f.addBook("b1", 2, "50", false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.PlaceOrder(ctx, orders.PlaceOrderInput{
		BookID: "b1", BuyerID: "buyer-1", Quantity: 1, ShippingAddress: "x",
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, f.book(t, "b1").Quantity)
	assert.Empty(t, f.sink.Types())
}
