package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Auth.AccessTokenExpiry != 15*time.Minute {
		t.Errorf("access token expiry = %v, want 15m", cfg.Auth.AccessTokenExpiry)
	}
	if cfg.Auth.RegistrationExpiry != 5*time.Minute {
		t.Errorf("registration expiry = %v, want 5m", cfg.Auth.RegistrationExpiry)
	}
	if cfg.Auth.ManifestMaxBytes != 64*1024 {
		t.Errorf("manifest max = %d, want 65536", cfg.Auth.ManifestMaxBytes)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "revclaw.yaml")
	yaml := `
server:
  port: "9090"
auth:
  intent_expiry: 30m
rate:
  max_requests: 5
  window: 10s
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("port = %q, want 9090", cfg.Server.Port)
	}
	if cfg.Auth.IntentExpiry != 30*time.Minute {
		t.Errorf("intent expiry = %v, want 30m", cfg.Auth.IntentExpiry)
	}
	if cfg.Rate.MaxRequests != 5 {
		t.Errorf("rate max = %d, want 5", cfg.Rate.MaxRequests)
	}
	// Unset fields keep defaults.
	if cfg.Postgres.MaxConns != 15 {
		t.Errorf("pg max conns = %d, want 15", cfg.Postgres.MaxConns)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	t.Setenv("REVCLAW_PORT", "7070")
	t.Setenv("REVCLAW_RATE_WINDOW", "2s")
	t.Setenv("DATABASE_URL", "postgres://env/override")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("port = %q, want 7070", cfg.Server.Port)
	}
	if cfg.Rate.Window != 2*time.Second {
		t.Errorf("window = %v, want 2s", cfg.Rate.Window)
	}
	if cfg.Postgres.DSN != "postgres://env/override" {
		t.Errorf("dsn = %q", cfg.Postgres.DSN)
	}
}

func TestValidateRejectsLongAccessTokenExpiry(t *testing.T) {
	t.Setenv("REVCLAW_ACCESS_TOKEN_EXPIRY", "1h")
	if _, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected validation error for access token expiry > 15m")
	}
}

func TestValidateRejectsBadRate(t *testing.T) {
	t.Setenv("REVCLAW_RATE_MAX_REQUESTS", "0")
	if _, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected validation error for rate.max_requests = 0")
	}
}
