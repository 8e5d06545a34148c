package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/ariefcatur/bookmarket-orders/internal/orders"
)

const (
	kindUnauthorized = "unauthorized"
	kindConflict     = "conflict"
	kindInternal     = "internal"
)

type failure struct {
	Success bool   `json:"success"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type ack struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, code int, kind, msg string) {
	writeJSON(w, code, failure{Success: false, Kind: kind, Message: msg})
}

var statusByKind = map[orders.Kind]int{
	orders.KindValidation:        http.StatusBadRequest,
	orders.KindForbidden:         http.StatusForbidden,
	orders.KindNotFound:          http.StatusNotFound,
	orders.KindOutOfStock:        http.StatusConflict,
	orders.KindInvalidTransition: http.StatusConflict,
}

// writeError answers domain errors with their kind and message. Anything
// else is logged and hidden behind a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, lg *zap.Logger, err error) {
	var de *orders.Error
	if errors.As(err, &de) {
		if code, ok := statusByKind[de.Kind]; ok {
			writeFailure(w, code, string(de.Kind), de.Message)
			return
		}
	}
	lg.Error("Request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeFailure(w, http.StatusInternalServerError, kindInternal, "internal server error")
}
