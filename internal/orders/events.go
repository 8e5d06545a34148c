package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced      = "OrderPlaced"
	EventOrderAccepted    = "OrderAccepted"
	EventOrderRejected    = "OrderRejected"
	EventOrderExpired     = "OrderExpired"
	EventPaymentConfirmed = "PaymentConfirmed"
	EventOrderShipped     = "OrderShipped"
	EventOrderDelivered   = "OrderDelivered"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type OrderPlacedPayload struct {
	OrderID       string          `json:"order_id"`
	BookID        string          `json:"book_id"`
	BuyerID       string          `json:"buyer_id"`
	SellerID      string          `json:"seller_id"`
	Quantity      int             `json:"quantity"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	ShippingPrice decimal.Decimal `json:"shipping_price"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// OrderTransitionedPayload is shared by every event after placement.
type OrderTransitionedPayload struct {
	OrderID          string `json:"order_id"`
	BookID           string `json:"book_id"`
	From             Status `json:"from"`
	To               Status `json:"to"`
	Actor            string `json:"actor"`
	RestoredQuantity int    `json:"restored_quantity,omitempty"`
	TrackingNumber   string `json:"tracking_number,omitempty"`
	DeliveryPartner  string `json:"delivery_partner,omitempty"`
}

// EventSink receives lifecycle events after the transition committed.
// Emit must not block on the broker.
type EventSink interface {
	Emit(ctx context.Context, ev Envelope)
}

type nopSink struct{}

func (nopSink) Emit(context.Context, Envelope) {}

type traceKey struct{}

// WithTraceID tags events emitted under ctx with the caller's request id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
