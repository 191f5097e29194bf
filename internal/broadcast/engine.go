package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/patrik-fredon/rococua-muhah/internal/adapter/metrics"
	"github.com/patrik-fredon/rococua-muhah/internal/domain"
)

// Relay hands an encoded envelope to the cross-instance transport, or
// delivers it locally when that is not possible.
type Relay interface {
	PublishOrBroadcast(ctx context.Context, channel string, payload []byte)
}

// Engine delivers messages to the local members of a channel.
type Engine struct {
	registry *Registry
	relay    atomic.Pointer[relayHolder]
	metrics  *metrics.BroadcastMetrics
}

type relayHolder struct{ Relay }

func NewEngine(registry *Registry, m *metrics.BroadcastMetrics) *Engine {
	return &Engine{registry: registry, metrics: m}
}

// SetRelay routes PublishEvent through r. Until a relay is set, events are
// only delivered to this instance's subscribers.
func (e *Engine) SetRelay(r Relay) {
	e.relay.Store(&relayHolder{r})
}

// BroadcastToChannel sends message to every connection registered on
// channel at the time of the call. A connection whose send fails is
// deregistered and closed; the remaining connections are unaffected.
// Returns the number of successful deliveries.
func (e *Engine) BroadcastToChannel(channel string, message []byte) int {
	start := time.Now()
	members := e.registry.Snapshot(channel)
	if len(members) == 0 {
		return 0
	}

	delivered := 0
	var failed []string
	for _, conn := range members {
		if err := deliver(conn, message); err != nil {
			failed = append(failed, conn.ID())
			e.drop(channel, conn, err)
			continue
		}
		delivered++
	}

	if e.metrics != nil {
		e.metrics.Deliveries.Add(float64(delivered))
		e.metrics.DeliveryFailures.Add(float64(len(failed)))
		e.metrics.BroadcastDuration.Observe(time.Since(start).Seconds())
	}
	if len(failed) > 0 {
		slog.Warn("Dropped connections during broadcast",
			"channel", channel,
			"failed", len(failed),
			"delivered", delivered,
			"connection_ids", failed,
		)
	}
	return delivered
}

// SendToOne sends message to a single connection. Failures are logged and
// otherwise ignored; the connection's own goroutine notices a dead socket.
func (e *Engine) SendToOne(conn Connection, message []byte) {
	if err := deliver(conn, message); err != nil {
		slog.Warn("Direct send failed", "connection_id", conn.ID(), "error", err)
	}
}

// PublishEvent wraps data in an envelope and publishes it on channel.
// Delivery is fire-and-forget; only an encoding failure is returned.
func (e *Engine) PublishEvent(ctx context.Context, channel string, eventType domain.EventType, data any) error {
	env, err := domain.NewEnvelope(eventType, data)
	if err != nil {
		return err
	}
	payload, err := env.Encode()
	if err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.EventsPublished.WithLabelValues(string(eventType)).Inc()
	}

	if h := e.relay.Load(); h != nil {
		h.PublishOrBroadcast(ctx, channel, payload)
		return nil
	}
	e.BroadcastToChannel(channel, payload)
	return nil
}

func (e *Engine) drop(channel string, conn Connection, cause error) {
	e.registry.Deregister(channel, conn)

	code, reason := websocket.CloseInternalServerErr, "delivery failed"
	if errors.Is(cause, domain.ErrSlowConsumer) {
		code, reason = websocket.ClosePolicyViolation, "slow consumer"
	}
	// Close may wait on the socket's write deadline; keep the broadcast moving.
	go func() { _ = conn.Close(code, reason) }()
}

// deliver isolates one recipient: an error or a panic in Send is reported
// as an error for that connection only.
func deliver(conn Connection, message []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return conn.Send(message)
}
