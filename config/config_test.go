package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	t.Setenv("RESTO_DB_URL", "postgres://localhost/resto")
	t.Setenv("RESTO_JWT_SECRET", "secret")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.Env != "development" || cfg.ServiceName != "restocore" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Auth.Issuer != "restocore" || cfg.Auth.AllowStaticTokens {
		t.Fatalf("unexpected auth defaults: %+v", cfg.Auth)
	}
	if cfg.MercadoPago.ExpirationMinutes != 30 {
		t.Fatalf("mp expiration = %d", cfg.MercadoPago.ExpirationMinutes)
	}
	if cfg.Draft.LockTTL != 30*time.Minute || cfg.Draft.DraftTTL != 2*time.Hour {
		t.Fatalf("unexpected draft defaults: %+v", cfg.Draft)
	}
	if cfg.Webhook.RatePerSecond != 10 || cfg.Webhook.Burst != 20 {
		t.Fatalf("unexpected webhook defaults: %+v", cfg.Webhook)
	}
	if cfg.Log.Level != "info" || cfg.Log.MaxSizeMB != 100 {
		t.Fatalf("unexpected log defaults: %+v", cfg.Log)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RESTO_DB_URL", "postgres://db/prod")
	t.Setenv("RESTO_JWT_SECRET", "  s3cr3t  ")
	t.Setenv("RESTO_LISTEN_ADDR", ":9000")
	t.Setenv("RESTO_ENV", "production")
	t.Setenv("RESTO_DRAFT_LOCK_TTL", "10m")
	t.Setenv("RESTO_WEBHOOK_RPS", "2.5")
	t.Setenv("RESTO_WEBHOOK_BURST", "5")
	t.Setenv("RESTO_LOG_LEVEL", "debug")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://db/prod" || cfg.ListenAddr != ":9000" || cfg.Env != "production" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Auth.JWTSecret != "s3cr3t" {
		t.Fatalf("secret should be trimmed, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Draft.LockTTL != 10*time.Minute {
		t.Fatalf("lock ttl = %s", cfg.Draft.LockTTL)
	}
	if cfg.Webhook.RatePerSecond != 2.5 || cfg.Webhook.Burst != 5 {
		t.Fatalf("unexpected webhook config: %+v", cfg.Webhook)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %s", cfg.Log.Level)
	}
}

func TestDatabaseURLRequired(t *testing.T) {
	t.Setenv("RESTO_DB_URL", "")
	t.Setenv("RESTO_JWT_SECRET", "secret")
	if _, err := FromEnv(); err == nil {
		t.Fatal("missing database url should fail")
	}
}

func TestJWTSecretRequiredUnlessStatic(t *testing.T) {
	t.Setenv("RESTO_DB_URL", "postgres://localhost/resto")
	t.Setenv("RESTO_JWT_SECRET", "")
	if _, err := FromEnv(); err == nil {
		t.Fatal("missing jwt secret should fail")
	}

	t.Setenv("RESTO_ALLOW_STATIC_TOKENS", "true")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("static tokens should waive the secret, got %v", err)
	}
	if !cfg.Auth.AllowStaticTokens {
		t.Fatal("static tokens should be enabled")
	}
}

func TestYAMLOverlayEnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resto.yaml")
	body := `
listen_addr: ":7000"
database_url: "postgres://file/db"
auth:
  jwt_secret: "from-file"
  issuer: "file-issuer"
draft:
  lock_ttl: 5m
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("RESTO_CONFIG", path)
	t.Setenv("RESTO_DB_URL", "")
	t.Setenv("RESTO_LISTEN_ADDR", ":7100")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// File supplies what the env does not.
	if cfg.DatabaseURL != "postgres://file/db" || cfg.Auth.JWTSecret != "from-file" || cfg.Auth.Issuer != "file-issuer" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Draft.LockTTL != 5*time.Minute {
		t.Fatalf("lock ttl = %s", cfg.Draft.LockTTL)
	}
	// Env beats file.
	if cfg.ListenAddr != ":7100" {
		t.Fatalf("env should win over the file, got %s", cfg.ListenAddr)
	}
}

func TestMissingConfigFileFails(t *testing.T) {
	t.Setenv("RESTO_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("RESTO_DB_URL", "postgres://localhost/resto")
	t.Setenv("RESTO_JWT_SECRET", "secret")
	if _, err := FromEnv(); err == nil {
		t.Fatal("missing config file should fail")
	}
}
