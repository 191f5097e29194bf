package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Transport backends for cross-instance fan-in.
const (
	TransportRedis = "redis"
	TransportNATS  = "nats"
	TransportNone  = "none"
)

type Config struct {
	AppEnv             string `env:"APP_ENV" default:"development"`
	Port               string `env:"PORT" default:"8000"`
	APIPrefix          string `env:"API_PREFIX" default:"/api/v1"`
	DatabaseURL        string `env:"DATABASE_URL"`
	JWTSecret          string `env:"JWT_SECRET"`
	BackendCORSOrigins string `env:"BACKEND_CORS_ORIGINS" default:"http://localhost:3000"`
	LogLevel           string `env:"LOG_LEVEL" default:"info"`
	LogFormat          string `env:"LOG_FORMAT" default:"text"`

	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" default:"30m"`

	Transport              string        `env:"TRANSPORT" default:"redis"`
	RedisURL               string        `env:"REDIS_URL"`
	NATSURL                string        `env:"NATS_URL"`
	TransportRetryInterval time.Duration `env:"TRANSPORT_RETRY_INTERVAL" default:"30s"`
	FanInGracePeriod       time.Duration `env:"FANIN_GRACE_PERIOD" default:"1m"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"100"`
	ConnectionRate          float64 `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst         int     `env:"CONNECTION_BURST" default:"20"`

	WSPingInterval time.Duration `env:"WS_PING_INTERVAL" default:"30s"`
	WSIdleTimeout  time.Duration `env:"WS_IDLE_TIMEOUT" default:"5m"`
	WSSendBuffer   int           `env:"WS_SEND_BUFFER" default:"16"`

	PublishRate  float64 `env:"PUBLISH_RATE" default:"50"`
	PublishBurst int     `env:"PUBLISH_BURST" default:"100"`
}

// CORSOrigins splits BACKEND_CORS_ORIGINS on commas.
func (c *Config) CORSOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.BackendCORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := []struct{ name, value string }{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"JWT_SECRET", cfg.JWTSecret},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if len(cfg.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters")
	}

	switch cfg.Transport {
	case TransportRedis:
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required when TRANSPORT=redis")
		}
	case TransportNATS:
		if cfg.NATSURL == "" {
			return errors.New("NATS_URL is required when TRANSPORT=nats")
		}
	case TransportNone:
	default:
		return fmt.Errorf("TRANSPORT must be one of redis, nats, none (got %q)", cfg.Transport)
	}

	positive := []struct {
		name  string
		value float64
	}{
		{"WS_SEND_BUFFER", float64(cfg.WSSendBuffer)},
		{"MAX_WEBSOCKET_CONNECTIONS", float64(cfg.MaxWebSocketConnections)},
		{"MAX_CONNECTIONS_PER_IP", float64(cfg.MaxConnectionsPerIP)},
		{"CONNECTION_RATE", cfg.ConnectionRate},
		{"CONNECTION_BURST", float64(cfg.ConnectionBurst)},
		{"PUBLISH_RATE", cfg.PublishRate},
		{"PUBLISH_BURST", float64(cfg.PublishBurst)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}
	if cfg.WSPingInterval >= cfg.WSIdleTimeout {
		return errors.New("WS_PING_INTERVAL must be shorter than WS_IDLE_TIMEOUT")
	}

	if cfg.IsProduction() {
		if err := checkSSLMode(cfg.DatabaseURL); err != nil {
			return err
		}
		if slices.Contains(cfg.CORSOrigins(), "*") {
			return errors.New("BACKEND_CORS_ORIGINS must not contain * in production")
		}
	}

	return nil
}

func checkSSLMode(databaseURL string) error {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}
	mode := strings.ToLower(u.Query().Get("sslmode"))
	if mode == "disable" || mode == "allow" {
		return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
	}
	return nil
}
