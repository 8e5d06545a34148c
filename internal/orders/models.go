package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookStatus string

const (
	BookActive  BookStatus = "active"
	BookSold    BookStatus = "sold"
	BookRemoved BookStatus = "removed"
)

type User struct {
	ID    string
	Name  string
	Email string
	Phone string
}

// Book is a seller's listing. Quantity is the stock still available for new
// orders.
type Book struct {
	ID             string
	SellerID       string
	Title          string
	Author         string
	Condition      string
	ImagePaths     []string
	Price          decimal.Decimal
	MRP            decimal.Decimal
	IsFreeShipping bool
	ShippingPrice  decimal.Decimal
	Quantity       int
	Status         BookStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (b Book) Stock() Stock {
	return Stock{Quantity: b.Quantity, Status: b.Status}
}

// ShippingFee is what a new order on this book is charged for shipping.
func (b Book) ShippingFee() decimal.Decimal {
	if b.IsFreeShipping {
		return decimal.Zero
	}
	return b.ShippingPrice
}

type Order struct {
	ID                string
	BuyerID           string
	SellerID          string
	BookID            string
	Quantity          int
	TotalPrice        decimal.Decimal
	ShippingPrice     decimal.Decimal
	Status            Status
	OrderDate         time.Time
	ExpiresAt         *time.Time // only while pending
	TrackingNumber    string
	DeliveryPartner   string
	SlipImagePath     string
	EstimatedDelivery *time.Time
	ShippingAddress   string
	UpdatedAt         time.Time
}

// Expired reports whether a pending order's acceptance window has closed.
func (o Order) Expired(now time.Time) bool {
	return o.Status == StatusPending && o.ExpiresAt != nil && !now.Before(*o.ExpiresAt)
}

// TimeLeft is max(0, expiresAt-now) for pending orders and zero otherwise.
func (o Order) TimeLeft(now time.Time) time.Duration {
	if o.Status != StatusPending || o.ExpiresAt == nil {
		return 0
	}
	if d := o.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Delivery is the shipping metadata a seller attaches when handing the book
// to a delivery partner.
type Delivery struct {
	Partner           string
	TrackingNumber    string
	SlipImagePath     string // empty keeps the stored path
	EstimatedDelivery time.Time
}

// Change is what a status transition writes besides the new status.
// Leaving pending always clears ExpiresAt.
type Change struct {
	To       Status
	At       time.Time
	Delivery *Delivery
}

// Apply returns o as it looks after ch. It does not check the transition.
func (o Order) Apply(ch Change) Order {
	if o.Status == StatusPending {
		o.ExpiresAt = nil
	}
	o.Status = ch.To
	o.UpdatedAt = ch.At
	if d := ch.Delivery; d != nil {
		o.DeliveryPartner = d.Partner
		o.TrackingNumber = d.TrackingNumber
		if d.SlipImagePath != "" {
			o.SlipImagePath = d.SlipImagePath
		}
		eta := d.EstimatedDelivery
		o.EstimatedDelivery = &eta
	}
	return o
}
