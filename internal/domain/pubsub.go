package domain

import (
	"context"

	"github.com/google/uuid"
)

// Transport is the cross-instance publish/subscribe bus. Payloads are
// encoded envelopes and are delivered verbatim.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// Subscription is a single-channel message stream. Receive blocks until a
// message arrives, ctx is done or the subscription fails.
type Subscription interface {
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// EventPublisher is what business logic uses to emit events.
type EventPublisher interface {
	PublishOrderUpdate(ctx context.Context, orderID uuid.UUID, eventType EventType, data any) error
	PublishProductUpdate(ctx context.Context, eventType EventType, data any) error
}
