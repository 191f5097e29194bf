package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/patrik-fredon/rococua-muhah/internal/domain"
	"golang.org/x/sync/errgroup"
)

// step is one event in a scenario, published after waiting Delay.
type step struct {
	Delay time.Duration
	Type  domain.EventType
	Data  map[string]any
	Note  string
}

type scenario struct {
	Name    string
	OrderID uuid.UUID // zero for catalog scenarios
	Steps   []step
}

type publisher interface {
	PublishOrderUpdate(ctx context.Context, orderID uuid.UUID, eventType domain.EventType, data any) error
	PublishProductUpdate(ctx context.Context, eventType domain.EventType, data any) error
}

func orderProcessing(orderID uuid.UUID, tracking string) scenario {
	id := orderID.String()
	return scenario{
		Name:    "order-processing",
		OrderID: orderID,
		Steps: []step{
			{0, domain.EventOrderStatusChanged, map[string]any{
				"order_id": id, "old_status": "pending", "new_status": "confirmed",
				"message": "Order has been confirmed and is being processed",
			}, "order confirmed"},
			{2 * time.Second, domain.EventPaymentStatusChanged, map[string]any{
				"order_id": id, "old_status": "pending", "new_status": "paid", "amount": 99.99,
				"message": "Payment has been successfully processed",
			}, "payment processed"},
			{3 * time.Second, domain.EventOrderStatusChanged, map[string]any{
				"order_id": id, "old_status": "confirmed", "new_status": "processing",
				"message": "Order is being prepared for shipment",
			}, "order processing"},
			{4 * time.Second, domain.EventOrderShipped, map[string]any{
				"order_id": id, "old_status": "processing", "new_status": "shipped",
				"tracking_number": tracking, "carrier": "FastShip Express",
				"message": "Order has been shipped with tracking number " + tracking,
			}, "order shipped"},
			{2 * time.Second, domain.EventOrderDelivered, map[string]any{
				"order_id": id, "old_status": "shipped", "new_status": "delivered",
				"signature": "Customer Signature",
				"message":   "Order has been successfully delivered",
			}, "order delivered"},
		},
	}
}

func inventoryUpdates(productID uuid.UUID) scenario {
	base := func(extra map[string]any) map[string]any {
		data := map[string]any{"product_id": productID.String(), "sku": "PROD-001", "name": "Wireless Headphones"}
		for k, v := range extra {
			data[k] = v
		}
		return data
	}
	return scenario{
		Name: "inventory",
		Steps: []step{
			{0, domain.EventInventoryUpdated, base(map[string]any{
				"old_quantity": 0, "new_quantity": 100, "warehouse": "Main Warehouse", "message": "New stock received",
			}), "stock added"},
			{2 * time.Second, domain.EventInventoryUpdated, base(map[string]any{
				"old_quantity": 100, "new_quantity": 95, "change_reason": "customer_purchase",
				"message": "Stock reduced due to customer purchase",
			}), "stock reduced"},
			{time.Second, domain.EventPriceUpdated, base(map[string]any{
				"old_price": 99.99, "new_price": 89.99, "discount_percentage": 10,
				"message": "Holiday sale price activated",
			}), "price updated"},
			{2 * time.Second, domain.EventInventoryUpdated, base(map[string]any{
				"old_quantity": 95, "new_quantity": 5, "low_stock_threshold": 10, "alert_level": "warning",
				"message": "Low stock alert: Only 5 units remaining",
			}), "low stock warning"},
		},
	}
}

func productLifecycle(productID uuid.UUID) scenario {
	id := productID.String()
	return scenario{
		Name: "product-lifecycle",
		Steps: []step{
			{0, domain.EventProductCreated, map[string]any{
				"product_id": id, "sku": "PROD-002", "name": "Smart Watch", "category": "Electronics",
				"price": 299.99, "initial_stock": 50, "message": "New product added to catalog",
			}, "product created"},
			{2 * time.Second, domain.EventProductUpdated, map[string]any{
				"product_id": id, "sku": "PROD-002", "name": "Smart Watch Pro",
				"fields_updated": []string{"name", "description", "features"},
				"message":        "Product information updated",
			}, "product updated"},
			{2 * time.Second, domain.EventProductStatusChanged, map[string]any{
				"product_id": id, "sku": "PROD-002", "name": "Smart Watch Pro",
				"old_status": "active", "new_status": "discontinued", "reason": "end_of_life",
				"message": "Product discontinued - end of product lifecycle",
			}, "product discontinued"},
		},
	}
}

// run publishes every step of s in order, stamping each payload with the
// current time.
func (s scenario) run(ctx context.Context, pub publisher, clock clockwork.Clock) error {
	for _, st := range s.Steps {
		if st.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-clock.After(st.Delay):
			}
		}

		data := make(map[string]any, len(st.Data)+1)
		for k, v := range st.Data {
			data[k] = v
		}
		data["timestamp"] = clock.Now().UTC().Format(time.RFC3339Nano)

		var err error
		if s.OrderID != uuid.Nil {
			err = pub.PublishOrderUpdate(ctx, s.OrderID, st.Type, data)
		} else {
			err = pub.PublishProductUpdate(ctx, st.Type, data)
		}
		if err != nil {
			return fmt.Errorf("%s: %s: %w", s.Name, st.Note, err)
		}
		slog.InfoContext(ctx, "Published", "scenario", s.Name, "event", st.Type, "step", st.Note)
	}
	return nil
}

// runAll plays the scenarios concurrently and stops at the first failure.
func runAll(ctx context.Context, pub publisher, clock clockwork.Clock, scenarios ...scenario) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range scenarios {
		g.Go(func() error { return s.run(gctx, pub, clock) })
	}
	return g.Wait()
}
