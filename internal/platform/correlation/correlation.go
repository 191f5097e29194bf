// Package correlation tags log records with the request or session they
// belong to. An HTTP request gets an id from the middleware; a WebSocket
// session additionally carries its connection id and channel so every line
// written while serving it can be grouped.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// Header carries a caller-supplied correlation ID on HTTP requests and
// is echoed back on responses.
const Header = "X-Correlation-ID"

const maxInboundIDLength = 64

type contextKey struct{}

type fields struct {
	id           string
	connectionID string
	channel      string
}

func fromContext(ctx context.Context) fields {
	f, _ := ctx.Value(contextKey{}).(fields)
	return f
}

// NewID returns 12 random hex characters.
func NewID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Adopt returns a caller-supplied id when it is safe to log verbatim and
// a fresh one otherwise.
func Adopt(inbound string) string {
	if inbound == "" || len(inbound) > maxInboundIDLength {
		return NewID()
	}
	for _, r := range inbound {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return NewID()
		}
	}
	return inbound
}

func WithID(ctx context.Context, id string) context.Context {
	f := fromContext(ctx)
	f.id = id
	return context.WithValue(ctx, contextKey{}, f)
}

// ID extracts the correlation ID from ctx, returning ("", false) if not present.
func ID(ctx context.Context) (string, bool) {
	id := fromContext(ctx).id
	return id, id != ""
}

// Ensure returns ctx unchanged when it already has an ID, otherwise a
// child context with a fresh one.
func Ensure(ctx context.Context) (context.Context, string) {
	if id, ok := ID(ctx); ok {
		return ctx, id
	}
	id := NewID()
	return WithID(ctx, id), id
}

// WithSession attaches a WebSocket connection and its channel.
func WithSession(ctx context.Context, connectionID, channel string) context.Context {
	f := fromContext(ctx)
	f.connectionID = connectionID
	f.channel = channel
	return context.WithValue(ctx, contextKey{}, f)
}

// Handler wraps a slog.Handler and appends the context's correlation
// fields to every record.
type Handler struct {
	inner slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	f := fromContext(ctx)
	if f.id != "" {
		r.AddAttrs(slog.String("correlation_id", f.id))
	}
	if f.connectionID != "" {
		r.AddAttrs(slog.String("connection_id", f.connectionID), slog.String("channel", f.channel))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
