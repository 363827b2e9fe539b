package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "revclaw.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "REVCLAW_PORT")
	setString(&cfg.Server.BaseURL, "REVCLAW_BASE_URL")
	setString(&cfg.Server.CORSOrigin, "REVCLAW_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "REVCLAW_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "REVCLAW_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "REVCLAW_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "REVCLAW_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "REVCLAW_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "REVCLAW_LOG_LEVEL")
	setString(&cfg.Logging.Service, "REVCLAW_LOG_SERVICE")

	setString(&cfg.Auth.SessionSecret, "REVCLAW_SESSION_SECRET")
	setDuration(&cfg.Auth.SessionExpiry, "REVCLAW_SESSION_EXPIRY")
	setDuration(&cfg.Auth.AccessTokenExpiry, "REVCLAW_ACCESS_TOKEN_EXPIRY")
	setDuration(&cfg.Auth.RefreshTokenExpiry, "REVCLAW_REFRESH_TOKEN_EXPIRY")
	setDuration(&cfg.Auth.ExchangeCodeExpiry, "REVCLAW_EXCHANGE_CODE_EXPIRY")
	setDuration(&cfg.Auth.RegistrationExpiry, "REVCLAW_REGISTRATION_EXPIRY")
	setDuration(&cfg.Auth.IntentExpiry, "REVCLAW_INTENT_EXPIRY")
	setDuration(&cfg.Auth.PlanTokenExpiry, "REVCLAW_PLAN_TOKEN_EXPIRY")
	setInt(&cfg.Auth.BcryptCost, "REVCLAW_BCRYPT_COST")
	setDuration(&cfg.Auth.AuthCacheTTL, "REVCLAW_AUTH_CACHE_TTL")
	setInt64(&cfg.Auth.ManifestMaxBytes, "REVCLAW_MANIFEST_MAX_BYTES")
	setDuration(&cfg.Auth.ManifestTimeout, "REVCLAW_MANIFEST_TIMEOUT")

	setInt(&cfg.Rate.MaxRequests, "REVCLAW_RATE_MAX_REQUESTS")
	setDuration(&cfg.Rate.Window, "REVCLAW_RATE_WINDOW")
	setDuration(&cfg.Rate.CleanupInterval, "REVCLAW_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "REVCLAW_RATE_MAX_IDLE_TIME")

	setString(&cfg.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&cfg.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setString(&cfg.Telegram.WebhookSecret, "TELEGRAM_WEBHOOK_SECRET")
	setString(&cfg.Telegram.APIBaseURL, "TELEGRAM_API_BASE_URL")

	setString(&cfg.Otel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.Otel.Insecure, "REVCLAW_OTEL_INSECURE")

	setBool(&cfg.MCP.Enabled, "REVCLAW_MCP_ENABLED")
	setString(&cfg.MCP.Port, "REVCLAW_MCP_PORT")

	setInt64(&cfg.Cache.MaxSizeMB, "REVCLAW_CACHE_SIZE_MB")

	setString(&cfg.Idempotency.Bucket, "REVCLAW_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "REVCLAW_IDEMPOTENCY_TTL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Rate.MaxRequests < 1 {
		return errors.New("rate.max_requests must be >= 1")
	}
	if cfg.Rate.Window <= 0 {
		return errors.New("rate.window must be positive")
	}
	if cfg.Auth.AccessTokenExpiry > 15*time.Minute {
		return errors.New("auth.access_token_expiry must not exceed 15m")
	}
	if cfg.Auth.BcryptCost < 4 || cfg.Auth.BcryptCost > 31 {
		return errors.New("auth.bcrypt_cost must be between 4 and 31")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
