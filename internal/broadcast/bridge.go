package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/patrik-fredon/rococua-muhah/internal/adapter/metrics"
	"github.com/patrik-fredon/rococua-muhah/internal/domain"
	"github.com/patrik-fredon/rococua-muhah/internal/platform/correlation"
	"github.com/patrik-fredon/rococua-muhah/internal/platform/retry"
)

// Dialer opens the cross-instance transport.
type Dialer func(ctx context.Context) (domain.Transport, error)

const (
	defaultGracePeriod   = time.Minute
	defaultRetryInterval = 30 * time.Second
	minSweepInterval     = time.Second
)

var startupDialPolicy = retry.Policy{
	MaxAttempts:    3,
	InitialBackoff: 250 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
	Jitter:         0.2,
}

type BridgeConfig struct {
	// GracePeriod is how long a channel must stay empty before its fan-in
	// task is stopped.
	GracePeriod time.Duration
	// RetryInterval paces transport dial attempts while degraded.
	RetryInterval time.Duration
	Clock         clockwork.Clock
	Metrics       *metrics.BroadcastMetrics
}

// localBroadcaster is the slice of Engine the bridge needs.
type localBroadcaster interface {
	BroadcastToChannel(channel string, message []byte) int
}

// membership is the slice of Registry the bridge needs.
type membership interface {
	Count(channel string) int
	Channels() []string
}

// Bridge connects local channels to the cross-instance transport. It
// publishes outgoing events and keeps at most one fan-in task per channel
// that feeds transport messages into local delivery. With no transport it
// runs in degraded mode and delivers locally.
type Bridge struct {
	local   localBroadcaster
	members membership
	dial    Dialer
	cfg     BridgeConfig

	transportMu sync.RWMutex
	transport   domain.Transport

	mu      sync.Mutex
	tasks   map[string]*fanInTask
	rootCtx context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool
	wg      sync.WaitGroup
}

type fanInTask struct {
	channel    string
	cancel     context.CancelFunc
	done       chan struct{}
	emptySince time.Time // guarded by Bridge.mu
}

var _ Relay = (*Bridge)(nil)

// NewBridge builds a bridge delivering into local. A nil dial runs the
// bridge permanently in degraded mode.
func NewBridge(local localBroadcaster, members membership, dial Dialer, cfg BridgeConfig) *Bridge {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Bridge{
		local:   local,
		members: members,
		dial:    dial,
		cfg:     cfg,
		tasks:   make(map[string]*fanInTask),
	}
}

// Start connects the transport and launches the background loops. A
// transport that cannot be reached is not an error: the bridge enters
// degraded mode and keeps retrying in the background.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started || b.closed {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.rootCtx, b.cancel = context.WithCancel(ctx)
	root := b.rootCtx
	b.mu.Unlock()

	if b.dial == nil {
		b.enterDegraded("no transport configured", nil)
	} else {
		t, err := retry.Do(root, startupDialPolicy, retry.Transient, func(ctx context.Context) (domain.Transport, error) {
			return b.dial(ctx)
		})
		switch {
		case retry.IsPermanent(err):
			b.enterDegraded("transport misconfigured", err)
		case err != nil:
			b.enterDegraded("transport unavailable", err)
			b.goLoop(func() { b.reconnectLoop(root) })
		default:
			if !b.adoptTransport(t) {
				return
			}
			slog.Info("Fan-in transport connected")
		}
	}

	b.goLoop(func() { b.janitorLoop(root) })
}

// degraded reports whether the bridge currently has no transport.
func (b *Bridge) degraded() bool {
	return b.currentTransport() == nil
}

// Fan-in states reported by Status.
const (
	FanInConnected   = "connected"
	FanInDegraded    = "degraded"
	FanInUnreachable = "unreachable"
)

// Status pings the transport. A transport that stops answering is reported
// unreachable; publishes keep falling back to local delivery until it
// answers again.
func (b *Bridge) Status(ctx context.Context) string {
	t := b.currentTransport()
	if t == nil {
		return FanInDegraded
	}
	if err := t.Ping(ctx); err != nil {
		slog.WarnContext(ctx, "Fan-in transport ping failed", "error", err)
		return FanInUnreachable
	}
	return FanInConnected
}

// PublishOrBroadcast publishes payload on the transport so that every
// instance (this one included, via its fan-in task) delivers it. When the
// transport is missing or the publish fails, payload is delivered to local
// subscribers instead.
func (b *Bridge) PublishOrBroadcast(ctx context.Context, channel string, payload []byte) {
	t := b.currentTransport()
	if t == nil {
		b.countPublish("local")
		b.local.BroadcastToChannel(channel, payload)
		return
	}

	if err := t.Publish(ctx, channel, payload); err != nil {
		slog.WarnContext(ctx, "Transport publish failed, delivering locally", "channel", channel, "error", err)
		b.countPublish("fallback")
		b.local.BroadcastToChannel(channel, payload)
		return
	}
	b.countPublish("transport")
}

// EnsureSubscription starts the fan-in task for channel unless one is
// already live. Concurrent callers for the same channel start exactly one
// task. A no-op while degraded or before Start.
func (b *Bridge) EnsureSubscription(channel string) {
	t := b.currentTransport()
	if t == nil {
		return
	}

	b.mu.Lock()
	if b.closed || b.rootCtx == nil {
		b.mu.Unlock()
		return
	}
	if existing, ok := b.tasks[channel]; ok {
		existing.emptySince = time.Time{}
		b.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(b.rootCtx)
	task := &fanInTask{channel: channel, cancel: cancel, done: make(chan struct{})}
	b.tasks[channel] = task
	b.wg.Add(1)
	b.mu.Unlock()

	if b.cfg.Metrics != nil {
		b.cfg.Metrics.FanInTasks.Inc()
	}
	go b.runTask(ctx, task, t)
}

// HasTask reports whether channel has a live fan-in task.
func (b *Bridge) HasTask(channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.tasks[channel]
	return ok
}

// Close stops every task and loop and closes the transport.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Unlock()

	b.wg.Wait()

	if t := b.currentTransport(); t != nil {
		b.setTransport(nil)
		return t.Close()
	}
	return nil
}

func (b *Bridge) runTask(ctx context.Context, task *fanInTask, t domain.Transport) {
	defer func() {
		b.mu.Lock()
		if b.tasks[task.channel] == task {
			delete(b.tasks, task.channel)
		}
		b.mu.Unlock()
		task.cancel()
		close(task.done)
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.FanInTasks.Dec()
		}
		b.wg.Done()
	}()

	ctx, _ = correlation.Ensure(ctx)

	sub, err := t.Subscribe(ctx, task.channel)
	if err != nil {
		if ctx.Err() == nil {
			slog.WarnContext(ctx, "Fan-in subscribe failed", "channel", task.channel, "error", err)
		}
		return
	}
	defer func() { _ = sub.Close() }()
	slog.DebugContext(ctx, "Fan-in task started", "channel", task.channel)

	for {
		payload, err := sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.DebugContext(ctx, "Fan-in task stopped", "channel", task.channel)
				return
			}
			slog.WarnContext(ctx, "Fan-in task exiting on transport error", "channel", task.channel, "error", err)
			return
		}
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.TransportReceived.Inc()
		}

		if _, err := domain.DecodeEnvelope(payload); err != nil {
			slog.WarnContext(ctx, "Dropping malformed transport message", "channel", task.channel, "error", err)
			continue
		}
		b.local.BroadcastToChannel(task.channel, payload)
	}
}

func (b *Bridge) janitorLoop(ctx context.Context) {
	interval := b.cfg.GracePeriod / 2
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	ticker := b.cfg.Clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			b.sweep()
		}
	}
}

// sweep stops tasks whose channel has been empty for the grace period and
// restarts tasks for channels that have members but lost their task.
func (b *Bridge) sweep() {
	now := b.cfg.Clock.Now()

	var expired []*fanInTask
	b.mu.Lock()
	for channel, task := range b.tasks {
		if b.members.Count(channel) > 0 {
			task.emptySince = time.Time{}
			continue
		}
		if task.emptySince.IsZero() {
			task.emptySince = now
			continue
		}
		if now.Sub(task.emptySince) >= b.cfg.GracePeriod {
			delete(b.tasks, channel)
			expired = append(expired, task)
		}
	}
	b.mu.Unlock()

	for _, task := range expired {
		slog.Debug("Stopping idle fan-in task", "channel", task.channel)
		task.cancel()
	}

	b.resubscribeAll()
}

func (b *Bridge) resubscribeAll() {
	if b.currentTransport() == nil {
		return
	}
	for _, channel := range b.members.Channels() {
		b.EnsureSubscription(channel)
	}
}

func (b *Bridge) reconnectLoop(ctx context.Context) {
	ticker := b.cfg.Clock.NewTicker(b.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t, err := b.dial(ctx)
			if retry.IsPermanent(err) {
				slog.Error("Transport misconfigured, staying in degraded mode", "error", err)
				return
			}
			if err != nil {
				slog.Debug("Transport still unavailable", "error", err)
				continue
			}
			if !b.adoptTransport(t) {
				return
			}
			if b.cfg.Metrics != nil {
				b.cfg.Metrics.DegradedMode.Set(0)
			}
			slog.Info("Fan-in transport connected, leaving degraded mode")
			b.resubscribeAll()
			return
		}
	}
}

func (b *Bridge) enterDegraded(msg string, err error) {
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.DegradedMode.Set(1)
	}
	attrs := []any{"mode", "local-only"}
	if err != nil && !errors.Is(err, context.Canceled) {
		attrs = append(attrs, "error", err)
	}
	slog.Warn("Fan-in running in degraded mode: "+msg, attrs...)
}

func (b *Bridge) currentTransport() domain.Transport {
	b.transportMu.RLock()
	defer b.transportMu.RUnlock()
	return b.transport
}

// adoptTransport installs a freshly dialed transport. Once Close has run it
// closes t instead and reports false.
func (b *Bridge) adoptTransport(t domain.Transport) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		_ = t.Close()
		return false
	}
	b.setTransport(t)
	return true
}

func (b *Bridge) setTransport(t domain.Transport) {
	b.transportMu.Lock()
	b.transport = t
	b.transportMu.Unlock()
}

func (b *Bridge) countPublish(result string) {
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.TransportPublishes.WithLabelValues(result).Inc()
	}
}

// goLoop runs fn as a tracked background goroutine. It does nothing after
// Close, whose Wait must not race a late Add.
func (b *Bridge) goLoop(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}
