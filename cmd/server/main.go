package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/patrik-fredon/rococua-muhah/internal/adapter/httpserver"
	"github.com/patrik-fredon/rococua-muhah/internal/adapter/metrics"
	natstransport "github.com/patrik-fredon/rococua-muhah/internal/adapter/nats"
	"github.com/patrik-fredon/rococua-muhah/internal/adapter/postgres"
	"github.com/patrik-fredon/rococua-muhah/internal/adapter/redis"
	"github.com/patrik-fredon/rococua-muhah/internal/app"
	"github.com/patrik-fredon/rococua-muhah/internal/auth"
	"github.com/patrik-fredon/rococua-muhah/internal/broadcast"
	"github.com/patrik-fredon/rococua-muhah/internal/platform/config"
	"github.com/patrik-fredon/rococua-muhah/internal/platform/logging"
	"github.com/patrik-fredon/rococua-muhah/internal/platform/version"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// slog is not configured yet
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config, m *metrics.DatabaseMetrics) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, m)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

// transportDialer picks the fan-in backend. A nil dialer keeps the bridge in
// local-only mode.
func transportDialer(cfg *config.Config, m *metrics.Set) broadcast.Dialer {
	switch cfg.Transport {
	case config.TransportRedis:
		return redis.Dialer(cfg.RedisURL, m.Redis)
	case config.TransportNATS:
		return natstransport.Dialer(natstransport.Config{URL: cfg.NATSURL, Name: version.Service})
	default:
		return nil
	}
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "build", version.Get().String(), "env", cfg.AppEnv, "port", cfg.Port, "transport", cfg.Transport)

	registry := metrics.NewRegistry()
	metricSet := metrics.NewSet(registry)

	pool := setupDB(cfg, metricSet.Database)
	defer pool.Close()

	users := postgres.NewUserRepo(pool)
	orders := postgres.NewOrderRepo(pool)

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL, clock)
	authenticator := auth.NewAuthenticator(tokens, users)

	connections := broadcast.NewRegistry(metricSet.Broadcast)
	engine := broadcast.NewEngine(connections, metricSet.Broadcast)
	bridge := broadcast.NewBridge(engine, connections, transportDialer(cfg, metricSet), broadcast.BridgeConfig{
		GracePeriod:   cfg.FanInGracePeriod,
		RetryInterval: cfg.TransportRetryInterval,
		Clock:         clock,
		Metrics:       metricSet.Broadcast,
	})
	engine.SetRelay(bridge)

	lifecycle := app.NewLifecycle(authenticator, orders, connections, engine, bridge, metricSet.WebSocket)
	publisher := app.NewPublisher(engine)

	srv := httpserver.NewServer(cfg, httpserver.Deps{
		Lifecycle:      lifecycle,
		Publisher:      publisher,
		Auth:           authenticator,
		Metrics:        metricSet,
		MetricsHandler: metrics.Handler(registry),
		HealthChecks: []httpserver.HealthCheck{
			{Name: "postgres", Check: pool.Ping},
		},
		FanIn: bridge,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bridge.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		if err := bridge.Close(); err != nil {
			slog.Error("Failed to close fan-in transport", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}
