package kafka

import (
	"encoding/json"

	"github.com/go-faster/errors"

	"github.com/ariefcatur/bookmarket-orders/internal/orders"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

func DecodeEnvelope(b []byte) (orders.Envelope, error) {
	var env orders.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return orders.Envelope{}, errors.Wrap(err, "decode envelope")
	}
	if env.EventID == "" || env.EventType == "" {
		return orders.Envelope{}, errors.New("envelope without event id or type")
	}
	return env, nil
}

// UnwrapPayload decodes the typed payload of an envelope.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, errors.Wrap(err, "decode payload")
	}
	return t, nil
}
