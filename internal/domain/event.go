package domain

import (
	"encoding/json"
	"fmt"
)

// EventType is the "type" field of the wire envelope.
type EventType string

// Emitted by the server on every successful subscription.
const EventConnectionEstablished EventType = "connection_established"

// Order channel events.
const (
	EventOrderStatusChanged   EventType = "order_status_changed"
	EventPaymentStatusChanged EventType = "payment_status_changed"
	EventOrderShipped         EventType = "order_shipped"
	EventOrderDelivered       EventType = "order_delivered"
	EventOrderCancelled       EventType = "order_cancelled"
)

// Products channel events.
const (
	EventProductCreated       EventType = "product_created"
	EventProductUpdated       EventType = "product_updated"
	EventProductDeleted       EventType = "product_deleted"
	EventInventoryUpdated     EventType = "inventory_updated"
	EventPriceUpdated         EventType = "price_updated"
	EventProductStatusChanged EventType = "product_status_changed"
)

var orderEvents = map[EventType]struct{}{
	EventOrderStatusChanged:   {},
	EventPaymentStatusChanged: {},
	EventOrderShipped:         {},
	EventOrderDelivered:       {},
	EventOrderCancelled:       {},
}

var productEvents = map[EventType]struct{}{
	EventProductCreated:       {},
	EventProductUpdated:       {},
	EventProductDeleted:       {},
	EventInventoryUpdated:     {},
	EventPriceUpdated:         {},
	EventProductStatusChanged: {},
}

func (t EventType) IsOrderEvent() bool {
	_, ok := orderEvents[t]
	return ok
}

func (t EventType) IsProductEvent() bool {
	_, ok := productEvents[t]
	return ok
}

// Envelope is the single wire format for every message sent to clients and
// carried over the transport: {"type": "...", "data": {...}}.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEnvelope serializes data and wraps it under eventType. A nil data
// value becomes an empty object.
func NewEnvelope(eventType EventType, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Type: eventType, Data: json.RawMessage(`{}`)}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{Type: eventType, Data: raw}, nil
}

// Encode returns the envelope as bytes ready to be written to a socket or
// published on the transport.
func (e Envelope) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return b, nil
}

// DecodeEnvelope parses bytes received from the transport.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if e.Type == "" {
		return Envelope{}, fmt.Errorf("unmarshal envelope: missing type")
	}
	return e, nil
}
