package httpx

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/ariefcatur/bookmarket-orders/internal/orders"
	"github.com/ariefcatur/bookmarket-orders/internal/redisx"
	"github.com/ariefcatur/bookmarket-orders/internal/slips"
)

const (
	maxJSONBody  = 1 << 20
	maxSlipBytes = 10 << 20
)

type SlipStore interface {
	Save(ctx context.Context, originalName string, r io.Reader) (path string, err error)
	Remove(path string) error
}

type Idempotency interface {
	Claim(ctx context.Context, buyerID, key string) (redisx.ClaimState, string, error)
	Complete(ctx context.Context, buyerID, key, orderID string) error
	Abandon(ctx context.Context, buyerID, key string) error
}

type OrdersHandler struct {
	Service *orders.Service
	Slips   SlipStore
	Idem    Idempotency // optional
	Logger  *zap.Logger
}

// Register mounts the order API under /api behind auth.
func (h *OrdersHandler) Register(r chi.Router, auth func(http.Handler) http.Handler) {
	if h.Logger == nil {
		h.Logger = zap.NewNop()
	}
	r.Route("/api", func(r chi.Router) {
		r.Use(auth)
		r.Post("/orders", h.placeOrder)
		r.Get("/orders/{id}", h.orderDetail)
		r.Get("/orders/{id}/status", h.orderStatus)
		r.Patch("/orders/{id}/status", h.updateStatus)
		r.Patch("/orders/{id}/confirm-payment", h.confirmPayment)
		r.Patch("/orders/{id}/confirm-delivery", h.confirmDelivery)
		r.Post("/orders/{id}/delivery", h.submitDelivery)
		r.Get("/seller-orders", h.sellerOrders)
		r.Get("/buyer-orders", h.buyerOrders)
	})
}

// requestContext carries the request id into emitted events.
func requestContext(r *http.Request) context.Context {
	return orders.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		writeFailure(w, http.StatusBadRequest, string(orders.KindValidation), "invalid JSON body")
		return false
	}
	return true
}

type placeOrderReq struct {
	BookID          string `json:"bookId"`
	Quantity        int    `json:"quantity"`
	ShippingAddress string `json:"shippingAddress"`
}

type placeOrderResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	OrderID string `json:"orderId"`
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderReq
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := requestContext(r)
	buyer := ActorFrom(ctx)

	key := strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
	claimed := false
	if key != "" && h.Idem != nil {
		state, existing, err := h.Idem.Claim(ctx, buyer, key)
		switch {
		case err != nil:
			h.Logger.Warn("Idempotency unavailable, placing without it", zap.Error(err))
		case state == redisx.Done:
			writeJSON(w, http.StatusOK, placeOrderResp{Success: true, Message: "Order already placed", OrderID: existing})
			return
		case state == redisx.InFlight:
			writeFailure(w, http.StatusConflict, kindConflict, "an order with this idempotency key is still being placed")
			return
		default:
			claimed = true
		}
	}

	o, err := h.Service.PlaceOrder(ctx, orders.PlaceOrderInput{
		BookID:          req.BookID,
		BuyerID:         buyer,
		Quantity:        req.Quantity,
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		if claimed {
			if aerr := h.Idem.Abandon(context.WithoutCancel(ctx), buyer, key); aerr != nil {
				h.Logger.Warn("Release idempotency key", zap.Error(aerr))
			}
		}
		writeError(w, r, h.Logger, err)
		return
	}
	if claimed {
		if err := h.Idem.Complete(context.WithoutCancel(ctx), buyer, key, o.ID); err != nil {
			h.Logger.Warn("Store idempotency key", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, placeOrderResp{Success: true, Message: "Order placed successfully", OrderID: o.ID})
}

type updateStatusReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := requestContext(r)
	target := orders.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	if err := h.Service.UpdateStatus(ctx, ActorFrom(ctx), chi.URLParam(r, "id"), target); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ack{Success: true, Message: "Order " + string(target)})
}

type confirmPaymentResp struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Status  orders.Status `json:"status"`
}

func (h *OrdersHandler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)
	if err := h.Service.ConfirmPayment(ctx, ActorFrom(ctx), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmPaymentResp{Success: true, Message: "Payment confirmed", Status: orders.StatusAccepted})
}

func (h *OrdersHandler) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)
	if err := h.Service.ConfirmDelivery(ctx, ActorFrom(ctx), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ack{Success: true, Message: "Delivery confirmed"})
}

// submitDelivery takes a multipart form: deliveryPartner, trackingNumber and
// an optional slipImage file. The stored file is removed again if the order
// cannot be shipped.
func (h *OrdersHandler) submitDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxSlipBytes+maxJSONBody)
	if err := r.ParseMultipartForm(maxSlipBytes); err != nil {
		if !errors.Is(err, http.ErrNotMultipart) {
			writeFailure(w, http.StatusBadRequest, string(orders.KindValidation), "invalid multipart form")
			return
		}
		if err := r.ParseForm(); err != nil {
			writeFailure(w, http.StatusBadRequest, string(orders.KindValidation), "invalid form")
			return
		}
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	slipPath, ok := h.saveSlip(ctx, w, r)
	if !ok {
		return
	}
	_, err := h.Service.SubmitDeliverySlip(ctx, ActorFrom(ctx), chi.URLParam(r, "id"), orders.DeliverySlip{
		Partner:        r.FormValue("deliveryPartner"),
		TrackingNumber: r.FormValue("trackingNumber"),
		SlipImagePath:  slipPath,
	})
	if err != nil {
		if slipPath != "" {
			if rerr := h.Slips.Remove(slipPath); rerr != nil {
				h.Logger.Warn("Remove orphaned slip", zap.String("path", slipPath), zap.Error(rerr))
			}
		}
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ack{Success: true, Message: "Delivery details submitted"})
}

func (h *OrdersHandler) saveSlip(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.MultipartForm == nil {
		return "", true
	}
	file, hdr, err := r.FormFile("slipImage")
	if errors.Is(err, http.ErrMissingFile) {
		return "", true
	}
	if err != nil {
		writeFailure(w, http.StatusBadRequest, string(orders.KindValidation), "invalid slipImage")
		return "", false
	}
	defer func(f multipart.File) { _ = f.Close() }(file)

	path, err := h.Slips.Save(ctx, hdr.Filename, file)
	if errors.Is(err, slips.ErrUnsupportedType) {
		writeFailure(w, http.StatusBadRequest, string(orders.KindValidation), "slipImage must be an image or PDF")
		return "", false
	}
	if err != nil {
		writeError(w, r, h.Logger, err)
		return "", false
	}
	return path, true
}

type listResp[T any] struct {
	Success bool `json:"success"`
	Orders  []T  `json:"orders"`
}

func (h *OrdersHandler) sellerOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(requestContext(r), 5*time.Second)
	defer cancel()
	list, err := h.Service.SellerOrders(ctx, ActorFrom(ctx), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listResp[orders.SellerOrderView]{Success: true, Orders: list})
}

func (h *OrdersHandler) buyerOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(requestContext(r), 5*time.Second)
	defer cancel()
	list, err := h.Service.BuyerOrders(ctx, ActorFrom(ctx), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listResp[orders.BuyerOrderView]{Success: true, Orders: list})
}

type detailResp struct {
	Success bool                   `json:"success"`
	Order   orders.OrderDetailView `json:"order"`
}

func (h *OrdersHandler) orderDetail(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(requestContext(r), 3*time.Second)
	defer cancel()
	d, err := h.Service.OrderDetail(ctx, ActorFrom(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detailResp{Success: true, Order: d})
}

type statusResp struct {
	Success bool `json:"success"`
	orders.StatusView
}

func (h *OrdersHandler) orderStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(requestContext(r), 3*time.Second)
	defer cancel()
	st, err := h.Service.StatusOf(ctx, ActorFrom(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResp{Success: true, StatusView: st})
}
