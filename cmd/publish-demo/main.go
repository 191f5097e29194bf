// Command publish-demo plays an order-processing, inventory and product
// lifecycle simulation onto the fan-in transport, so every connected
// dashboard sees the events as if a backend service had published them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	natstransport "github.com/patrik-fredon/rococua-muhah/internal/adapter/nats"
	"github.com/patrik-fredon/rococua-muhah/internal/adapter/redis"
	"github.com/patrik-fredon/rococua-muhah/internal/app"
	"github.com/patrik-fredon/rococua-muhah/internal/domain"
	"github.com/patrik-fredon/rococua-muhah/internal/platform/config"
	"github.com/patrik-fredon/rococua-muhah/internal/platform/logging"
)

// transportSink encodes events into envelopes and publishes them without a
// local engine; the server instances deliver them through their fan-in
// tasks.
type transportSink struct {
	transport domain.Transport
}

func (s transportSink) PublishEvent(ctx context.Context, channel string, eventType domain.EventType, data any) error {
	env, err := domain.NewEnvelope(eventType, data)
	if err != nil {
		return err
	}
	payload, err := env.Encode()
	if err != nil {
		return err
	}
	return s.transport.Publish(ctx, channel, payload)
}

func dial(ctx context.Context, backend, url string) (domain.Transport, error) {
	switch backend {
	case config.TransportRedis:
		return redis.Dialer(url, nil)(ctx)
	case config.TransportNATS:
		return natstransport.Dialer(natstransport.Config{URL: url, Name: "publish-demo"})(ctx)
	default:
		return nil, fmt.Errorf("unsupported transport %q", backend)
	}
}

func main() {
	_ = godotenv.Load()

	backend := flag.String("transport", envOr("TRANSPORT", config.TransportRedis), "fan-in backend: redis or nats")
	url := flag.String("url", "", "broker URL (defaults to REDIS_URL or NATS_URL)")
	orderID := flag.String("order", "", "order id for the order scenario (random when empty)")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", "info"), "log level")
	flag.Parse()

	logging.InitLogger(*logLevel, "text")

	if *url == "" {
		*url = os.Getenv(strings.ToUpper(*backend) + "_URL")
	}
	order := uuid.New()
	if *orderID != "" {
		parsed, err := uuid.Parse(*orderID)
		if err != nil {
			slog.Error("Invalid order id", "order", *orderID, "error", err)
			os.Exit(2)
		}
		order = parsed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	transport, err := dial(dialCtx, *backend, *url)
	cancel()
	if err != nil {
		slog.Error("Failed to connect transport", "transport", *backend, "error", err)
		os.Exit(1)
	}
	defer func() { _ = transport.Close() }()

	tracking := "TRK" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	slog.Info("Starting simulation", "transport", *backend, "order_id", order)

	pub := app.NewPublisher(transportSink{transport: transport})
	err = runAll(ctx, pub, clockwork.NewRealClock(),
		orderProcessing(order, tracking),
		inventoryUpdates(uuid.New()),
		productLifecycle(uuid.New()),
	)
	if err != nil {
		slog.Error("Simulation failed", "error", err)
		os.Exit(1)
	}
	slog.Info("All simulations completed")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
