package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/patrik-fredon/rococua-muhah/internal/adapter/metrics"
	"github.com/patrik-fredon/rococua-muhah/internal/domain"
)

const (
	writeDeadline = 5 * time.Second
	maxFrameSize  = 64 * 1024

	defaultPingInterval = 30 * time.Second
	defaultIdleTimeout  = 5 * time.Minute
	defaultSendBuffer   = 16
)

type WSConnOptions struct {
	SendBuffer   int
	PingInterval time.Duration
	IdleTimeout  time.Duration
	Clock        clockwork.Clock
	Metrics      *metrics.WebSocketMetrics
}

func (o *WSConnOptions) withDefaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = defaultIdleTimeout
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
}

// WSConn is a Connection over a gorilla websocket. Outbound messages go
// through a bounded queue drained by a single writer goroutine, which also
// sends keepalive pings and enforces the idle timeout.
type WSConn struct {
	id         string
	connection *websocket.Conn
	clock      clockwork.Clock
	metrics    *metrics.WebSocketMetrics

	pingInterval time.Duration
	pongDeadline time.Duration
	idleTimeout  time.Duration

	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	state       atomic.Int32

	activityMutex sync.Mutex
	lastActivity  time.Time
}

var _ Connection = (*WSConn)(nil)

func NewWSConn(connection *websocket.Conn, opts WSConnOptions) *WSConn {
	opts.withDefaults()

	c := &WSConn{
		id:           uuid.NewString(),
		connection:   connection,
		clock:        opts.Clock,
		metrics:      opts.Metrics,
		pingInterval: opts.PingInterval,
		pongDeadline: 2 * opts.PingInterval,
		idleTimeout:  opts.IdleTimeout,
		sendChannel:  make(chan []byte, opts.SendBuffer),
		doneChannel:  make(chan struct{}),
		lastActivity: opts.Clock.Now(),
	}
	c.connection.SetReadLimit(maxFrameSize)
	c.configurePongHandler()

	c.wg.Add(1)
	go c.run()
	return c
}

func (c *WSConn) ID() string { return c.id }

func (c *WSConn) State() State { return State(c.state.Load()) }

func (c *WSConn) Done() <-chan struct{} { return c.doneChannel }

// Send queues msg for the writer goroutine. A full queue means the client
// is not keeping up; the caller is expected to drop the connection.
func (c *WSConn) Send(msg []byte) error {
	if c.State() != StateOpen {
		return domain.ErrConnectionClosed
	}
	select {
	case <-c.doneChannel:
		return domain.ErrConnectionClosed
	default:
	}
	select {
	case c.sendChannel <- msg:
		return nil
	default:
		return domain.ErrSlowConsumer
	}
}

// Receive blocks for the next data frame. Cancelling ctx unblocks the read.
func (c *WSConn) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.connection.SetReadDeadline(time.Now())
	})
	defer stop()

	_, msg, err := c.connection.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("receive: %w", ctx.Err())
		}
		if c.State() != StateOpen || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return nil, fmt.Errorf("receive: %w: %w", domain.ErrConnectionClosed, err)
		}
		return nil, fmt.Errorf("receive: %w", err)
	}

	c.recordActivity()
	c.updateReadDeadline()
	return msg, nil
}

// Close stops the writer, sends a close frame with code and reason and
// closes the socket. Only the first call has any effect.
func (c *WSConn) Close(code int, reason string) error {
	var err error
	c.stopOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		close(c.doneChannel)

		// The writer must exit before the close frame is written so the two
		// never write concurrently.
		c.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(code, reason)
		err = c.connection.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeDeadline))
		_ = c.connection.Close()
		c.state.Store(int32(StateClosed))
		c.recordClose(reason)
	})
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("write close frame: %w", err)
	}
	return nil
}

// abort tears the socket down without a close frame. Safe to call from
// the writer goroutine.
func (c *WSConn) abort() {
	c.stopOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.doneChannel)
		_ = c.connection.Close()
	})
}

func (c *WSConn) run() {
	ticker := c.clock.NewTicker(c.pingInterval)
	defer ticker.Stop()
	defer c.wg.Done()

	for {
		select {
		case msg := <-c.sendChannel:
			start := time.Now()
			c.updateWriteDeadline()
			if err := c.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.abort()
				return
			}
			if c.metrics != nil {
				c.metrics.SendDuration.Observe(time.Since(start).Seconds())
			}
		case <-ticker.Chan():
			if c.idleExpired() {
				if c.metrics != nil {
					c.metrics.IdleDisconnects.Inc()
				}
				go func() { _ = c.Close(websocket.CloseGoingAway, "idle timeout") }()
				return
			}
			if err := c.connection.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				if c.metrics != nil {
					c.metrics.PingFailures.Inc()
				}
				c.abort()
				return
			}
		case <-c.doneChannel:
			return
		}
	}
}

func (c *WSConn) configurePongHandler() {
	c.updateReadDeadline()
	c.connection.SetPongHandler(func(string) error {
		c.updateReadDeadline()
		c.recordActivity()
		return nil
	})
}

func (c *WSConn) updateWriteDeadline() {
	_ = c.connection.SetWriteDeadline(time.Now().Add(writeDeadline))
}

func (c *WSConn) updateReadDeadline() {
	_ = c.connection.SetReadDeadline(time.Now().Add(c.pongDeadline))
}

func (c *WSConn) recordActivity() {
	c.activityMutex.Lock()
	defer c.activityMutex.Unlock()
	c.lastActivity = c.clock.Now()
}

// idleExpired reports whether neither a frame nor a pong has arrived
// within the idle timeout.
func (c *WSConn) idleExpired() bool {
	c.activityMutex.Lock()
	defer c.activityMutex.Unlock()
	return c.clock.Since(c.lastActivity) >= c.idleTimeout
}

func (c *WSConn) recordClose(reason string) {
	if c.metrics != nil {
		c.metrics.Closes.WithLabelValues(reason).Inc()
	}
}
