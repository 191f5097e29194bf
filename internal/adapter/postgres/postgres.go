package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/tern/v2/migrate"
	"github.com/patrik-fredon/rococua-muhah/internal/adapter/metrics"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	applicationName = "rococua-realtime"

	// Lookups happen only when a WebSocket is admitted, so a small pool
	// suffices; long-lived sockets never hold a connection.
	maxPoolConns      = 10
	minPoolConns      = 1
	maxConnLifetime   = 30 * time.Minute
	healthCheckPeriod = 30 * time.Second
)

// Connect opens a pool and verifies it with a ping. m may be nil.
func Connect(ctx context.Context, databaseURL string, m *metrics.DatabaseMetrics) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	tunePool(poolCfg)
	if m != nil {
		poolCfg.ConnConfig.Tracer = &QueryTracer{metrics: m}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cc := poolCfg.ConnConfig
	slog.Info("Database connected",
		"host", cc.Host,
		"database", cc.Database,
		"tls", cc.TLSConfig != nil,
		"max_conns", poolCfg.MaxConns,
	)
	return pool, nil
}

// tunePool applies defaults unless the URL set pool_* parameters itself.
func tunePool(cfg *pgxpool.Config) {
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	if !explicitPoolParam(cfg, "pool_max_conns") {
		cfg.MaxConns = maxPoolConns
	}
	if !explicitPoolParam(cfg, "pool_min_conns") {
		cfg.MinConns = minPoolConns
	}
	if !explicitPoolParam(cfg, "pool_max_conn_lifetime") {
		cfg.MaxConnLifetime = maxConnLifetime
	}
	if !explicitPoolParam(cfg, "pool_health_check_period") {
		cfg.HealthCheckPeriod = healthCheckPeriod
	}
}

func explicitPoolParam(cfg *pgxpool.Config, name string) bool {
	return strings.Contains(cfg.ConnString(), name+"=")
}

// migrationLockID is a PostgreSQL advisory lock ID ("realtime" in ASCII)
// that serialises migrations between instances starting together.
const (
	migrationLockID             = 0x7265616c74696d65
	migrationLockReleaseTimeout = 5 * time.Second
)

// RunMigrationsWithLock applies the embedded migrations while holding the
// advisory lock, so only one instance migrates at a time.
func RunMigrationsWithLock(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migration: %w", err)
	}
	defer conn.Release()

	return withAdvisoryLock(ctx, conn.Conn(), migrationLockID, func() error {
		return migrateSchema(ctx, conn.Conn())
	})
}

func migrateSchema(ctx context.Context, conn *pgx.Conn) error {
	migrationFS, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	migrator, err := migrate.NewMigrator(ctx, conn, "public.schema_version")
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := migrator.LoadMigrations(migrationFS); err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	from, err := migrator.GetCurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	target := int32(len(migrator.Migrations))
	if from == target {
		slog.Info("Database schema up to date", "version", from)
		return nil
	}

	migrator.OnStart = func(sequence int32, name, _, _ string) {
		slog.Info("Applying migration", "sequence", sequence, "name", name)
	}
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database from version %d: %w", from, err)
	}
	slog.Info("Database migrated", "from", from, "to", target)
	return nil
}

func withAdvisoryLock(ctx context.Context, conn *pgx.Conn, lockID int64, fn func() error) error {
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), migrationLockReleaseTimeout)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock($1)", lockID); err != nil {
			slog.Error("Failed to release advisory lock", "lock_id", lockID, "error", err)
		}
	}()
	return fn()
}
