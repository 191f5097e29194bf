package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/patrik-fredon/rococua-muhah/internal/adapter/metrics"
	"github.com/patrik-fredon/rococua-muhah/internal/auth"
	"github.com/patrik-fredon/rococua-muhah/internal/broadcast"
	"github.com/patrik-fredon/rococua-muhah/internal/domain"
	"github.com/patrik-fredon/rococua-muhah/internal/platform/correlation"
	"golang.org/x/sync/singleflight"
)

// Application close codes sent before a subscription is admitted.
const (
	CloseMalformedRequest = 4000
	CloseAuthRequired     = 4001
	CloseAccessDenied     = 4003
	CloseNotFound         = 4004
)

const orderLookupTimeout = 5 * time.Second

// CloseReason names the category a rejected subscription falls into.
type CloseReason string

const (
	ReasonAuthenticationRequired CloseReason = "authentication-required"
	ReasonAuthorizationDenied    CloseReason = "authorization-denied"
	ReasonResourceNotFound       CloseReason = "resource-not-found"
	ReasonMalformedRequest       CloseReason = "malformed-request"
	ReasonInternal               CloseReason = "internal-error"
)

// Rejection is returned by Serve when a subscription is refused. The
// connection has already been closed with Code and Message.
type Rejection struct {
	Reason  CloseReason
	Code    int
	Message string
	Cause   error
}

func (r *Rejection) Error() string {
	if r.Cause != nil {
		return fmt.Sprintf("subscription rejected (%s): %s: %v", r.Reason, r.Message, r.Cause)
	}
	return fmt.Sprintf("subscription rejected (%s): %s", r.Reason, r.Message)
}

func (r *Rejection) Unwrap() error { return r.Cause }

// Target describes what a new connection wants to subscribe to.
type Target struct {
	Kind    domain.ChannelKind
	OrderID string // raw path value, validated by Serve
	Token   string
}

type authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.Identity, error)
}

type subscriber interface {
	EnsureSubscription(channel string)
}

type directSender interface {
	SendToOne(conn broadcast.Connection, message []byte)
}

// Lifecycle drives one connection from authentication to deregistration.
type Lifecycle struct {
	auth     authenticator
	orders   domain.OrderRepository
	registry *broadcast.Registry
	engine   directSender
	bridge   subscriber
	metrics  *metrics.WebSocketMetrics

	orderLookups singleflight.Group
}

func NewLifecycle(a authenticator, orders domain.OrderRepository, registry *broadcast.Registry, engine directSender, bridge subscriber, m *metrics.WebSocketMetrics) *Lifecycle {
	return &Lifecycle{
		auth:     a,
		orders:   orders,
		registry: registry,
		engine:   engine,
		bridge:   bridge,
		metrics:  m,
	}
}

type admission struct {
	channel  string
	identity *domain.Identity
	greeting any
}

// Serve authenticates and authorizes conn for target, registers it on the
// resulting channel and keeps it alive until the peer goes away or ctx is
// cancelled. It returns a *Rejection when the subscription was refused and
// nil once an admitted connection ends. conn is always closed on return.
func (l *Lifecycle) Serve(ctx context.Context, conn broadcast.Connection, target Target) error {
	ctx, _ = correlation.Ensure(ctx)

	adm, rej := l.admit(ctx, target)
	if rej != nil {
		l.reject(ctx, conn, rej)
		return rej
	}

	l.registry.Register(adm.channel, conn)
	defer l.registry.Deregister(adm.channel, conn)
	if l.metrics != nil {
		l.metrics.ActiveConnections.Inc()
		defer l.metrics.ActiveConnections.Dec()
	}

	l.bridge.EnsureSubscription(adm.channel)

	ctx = correlation.WithSession(ctx, conn.ID(), adm.channel)
	logger := slog.With("user_id", adm.identity.UserID)
	logger.InfoContext(ctx, "WebSocket subscribed", "members", l.registry.Count(adm.channel), "subscriptions", l.registry.Len())

	if env, err := domain.NewEnvelope(domain.EventConnectionEstablished, adm.greeting); err == nil {
		if payload, err := env.Encode(); err == nil {
			l.engine.SendToOne(conn, payload)
		}
	}

	code, reason := l.keepAlive(ctx, conn)
	_ = conn.Close(code, reason)
	logger.InfoContext(ctx, "WebSocket unsubscribed", "reason", reason)
	return nil
}

// keepAlive answers text "ping" frames with "pong" and ignores everything
// else. It returns the close code to use once the loop ends.
func (l *Lifecycle) keepAlive(ctx context.Context, conn broadcast.Connection) (int, string) {
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return websocket.CloseGoingAway, "server shutting down"
			}
			if !errors.Is(err, domain.ErrConnectionClosed) {
				slog.DebugContext(ctx, "WebSocket receive ended", "error", err)
			}
			return websocket.CloseNormalClosure, "connection closed"
		}
		if string(msg) == "ping" {
			l.engine.SendToOne(conn, []byte("pong"))
		}
	}
}

func (l *Lifecycle) admit(ctx context.Context, target Target) (*admission, *Rejection) {
	switch target.Kind {
	case domain.ChannelOrder, domain.ChannelProducts:
	default:
		return nil, &Rejection{Reason: ReasonMalformedRequest, Code: CloseMalformedRequest, Message: "Malformed request"}
	}

	if target.Token == "" {
		return nil, &Rejection{Reason: ReasonAuthenticationRequired, Code: CloseAuthRequired, Message: "Authentication required"}
	}
	identity, err := l.auth.Authenticate(ctx, target.Token)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidToken) || errors.Is(err, domain.ErrUnauthenticated) {
			return nil, &Rejection{Reason: ReasonAuthenticationRequired, Code: CloseAuthRequired, Message: "Invalid authentication", Cause: err}
		}
		return nil, internalRejection(err)
	}

	if target.Kind == domain.ChannelProducts {
		return &admission{
			channel:  domain.ProductsChannel,
			identity: identity,
			greeting: map[string]any{
				"channel": domain.ProductsChannel,
				"user_id": identity.UserID.String(),
			},
		}, nil
	}

	orderID, err := uuid.Parse(target.OrderID)
	if err != nil {
		return nil, &Rejection{Reason: ReasonMalformedRequest, Code: CloseMalformedRequest, Message: "Invalid order ID format", Cause: err}
	}

	order, err := l.lookupOrder(ctx, orderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, &Rejection{Reason: ReasonResourceNotFound, Code: CloseNotFound, Message: "Order not found"}
	}
	if err != nil {
		return nil, internalRejection(err)
	}

	if !auth.CanAccessResource(identity, order.UserID) {
		return nil, &Rejection{Reason: ReasonAuthorizationDenied, Code: CloseAccessDenied, Message: "Access denied"}
	}

	return &admission{
		channel:  domain.OrderChannel(orderID),
		identity: identity,
		greeting: map[string]any{
			"order_id":       orderID.String(),
			"current_status": order.Status,
			"payment_status": order.PaymentStatus,
		},
	}, nil
}

// lookupOrder collapses concurrent lookups of the same order, which happen
// when many dashboards open the same order at once. The shared query runs
// detached from any one caller and is bounded by orderLookupTimeout; each
// caller still stops waiting when its own ctx ends.
func (l *Lifecycle) lookupOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	results := l.orderLookups.DoChan(orderID.String(), func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), orderLookupTimeout)
		defer cancel()
		return l.orders.GetByID(lookupCtx, orderID)
	})

	select {
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Order), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("order lookup: %w", ctx.Err())
	}
}

func (l *Lifecycle) reject(ctx context.Context, conn broadcast.Connection, rej *Rejection) {
	attrs := []any{"connection_id", conn.ID(), "reason", rej.Reason, "code", rej.Code}
	if rej.Cause != nil {
		attrs = append(attrs, "error", rej.Cause)
	}
	if rej.Reason == ReasonInternal {
		slog.ErrorContext(ctx, "WebSocket subscription failed", attrs...)
	} else {
		slog.InfoContext(ctx, "WebSocket subscription rejected", attrs...)
	}
	if l.metrics != nil {
		l.metrics.ConnectionsRejected.WithLabelValues(string(rej.Reason)).Inc()
	}
	_ = conn.Close(rej.Code, rej.Message)
}

func internalRejection(err error) *Rejection {
	return &Rejection{Reason: ReasonInternal, Code: websocket.CloseInternalServerErr, Message: "Internal error", Cause: err}
}
