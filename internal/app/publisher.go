package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/patrik-fredon/rococua-muhah/internal/domain"
)

type eventSink interface {
	PublishEvent(ctx context.Context, channel string, eventType domain.EventType, data any) error
}

// Publisher is the entry point business code uses to announce order and
// catalog changes. Events reach every instance's subscribers through the
// engine's relay.
type Publisher struct {
	sink eventSink
}

var _ domain.EventPublisher = (*Publisher)(nil)

func NewPublisher(sink eventSink) *Publisher {
	return &Publisher{sink: sink}
}

func (p *Publisher) PublishOrderUpdate(ctx context.Context, orderID uuid.UUID, eventType domain.EventType, data any) error {
	if !eventType.IsOrderEvent() {
		return fmt.Errorf("%w: %q is not an order event", domain.ErrUnknownEventType, eventType)
	}
	return p.sink.PublishEvent(ctx, domain.OrderChannel(orderID), eventType, data)
}

func (p *Publisher) PublishProductUpdate(ctx context.Context, eventType domain.EventType, data any) error {
	if !eventType.IsProductEvent() {
		return fmt.Errorf("%w: %q is not a product event", domain.ErrUnknownEventType, eventType)
	}
	return p.sink.PublishEvent(ctx, domain.ProductsChannel, eventType, data)
}
