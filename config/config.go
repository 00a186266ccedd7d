// Package config loads runtime configuration from the environment, with an
// optional YAML file overlay for deployments that prefer files over env vars.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the restocore service.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	DatabaseURL string `yaml:"database_url"`
	Env         string `yaml:"env"`
	ServiceName string `yaml:"service_name"`

	Auth        AuthConfig        `yaml:"auth"`
	MercadoPago MercadoPagoConfig `yaml:"mercadopago"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	Draft       DraftConfig       `yaml:"draft"`
	Log         LogConfig         `yaml:"log"`
}

// AuthConfig controls JWT verification.
type AuthConfig struct {
	JWTSecret         string `yaml:"jwt_secret"`
	Issuer            string `yaml:"issuer"`
	AllowStaticTokens bool   `yaml:"allow_static_tokens"`
}

// MercadoPagoConfig configures the QR payment provider. An empty access
// token puts the client in mock mode.
type MercadoPagoConfig struct {
	BaseURL           string `yaml:"base_url"`
	AccessToken       string `yaml:"access_token"`
	ExpirationMinutes int    `yaml:"expiration_minutes"`
}

// WebhookConfig rate-limits the unauthenticated provider webhook.
type WebhookConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// DraftConfig tunes the draft lock lease and expiry sweeper.
type DraftConfig struct {
	LockTTL       time.Duration `yaml:"lock_ttl"`
	DraftTTL      time.Duration `yaml:"draft_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LogConfig controls structured log output and rotation.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// FromEnv loads configuration from environment variables. If RESTO_CONFIG
// names a YAML file it is loaded first; environment variables win.
func FromEnv() (*Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("RESTO_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.ListenAddr = getEnvDefault("RESTO_LISTEN_ADDR", cfg.ListenAddr)
	if v := os.Getenv("RESTO_DB_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	cfg.Env = getEnvDefault("RESTO_ENV", cfg.Env)
	cfg.ServiceName = getEnvDefault("RESTO_SERVICE_NAME", cfg.ServiceName)

	if v := os.Getenv("RESTO_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = strings.TrimSpace(v)
	}
	cfg.Auth.Issuer = getEnvDefault("RESTO_JWT_ISSUER", cfg.Auth.Issuer)
	cfg.Auth.AllowStaticTokens = parseBoolEnv("RESTO_ALLOW_STATIC_TOKENS", cfg.Auth.AllowStaticTokens)

	cfg.MercadoPago.BaseURL = getEnvDefault("RESTO_MP_BASE_URL", cfg.MercadoPago.BaseURL)
	if v := os.Getenv("RESTO_MP_ACCESS_TOKEN"); v != "" {
		cfg.MercadoPago.AccessToken = strings.TrimSpace(v)
	}
	cfg.MercadoPago.ExpirationMinutes = parseIntEnv("RESTO_MP_EXPIRATION_MINUTES", cfg.MercadoPago.ExpirationMinutes)

	cfg.Webhook.RatePerSecond = parseFloatEnv("RESTO_WEBHOOK_RPS", cfg.Webhook.RatePerSecond)
	cfg.Webhook.Burst = parseIntEnv("RESTO_WEBHOOK_BURST", cfg.Webhook.Burst)

	cfg.Draft.LockTTL = parseDurationEnv("RESTO_DRAFT_LOCK_TTL", cfg.Draft.LockTTL)
	cfg.Draft.DraftTTL = parseDurationEnv("RESTO_DRAFT_TTL", cfg.Draft.DraftTTL)
	cfg.Draft.SweepInterval = parseDurationEnv("RESTO_SWEEP_INTERVAL", cfg.Draft.SweepInterval)

	cfg.Log.Level = getEnvDefault("RESTO_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnvDefault("RESTO_LOG_FILE", cfg.Log.File)
	cfg.Log.MaxSizeMB = parseIntEnv("RESTO_LOG_MAX_SIZE_MB", cfg.Log.MaxSizeMB)
	cfg.Log.MaxBackups = parseIntEnv("RESTO_LOG_MAX_BACKUPS", cfg.Log.MaxBackups)
	cfg.Log.MaxAgeDays = parseIntEnv("RESTO_LOG_MAX_AGE_DAYS", cfg.Log.MaxAgeDays)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("RESTO_DB_URL is required")
	}
	if cfg.Auth.JWTSecret == "" && !cfg.Auth.AllowStaticTokens {
		return nil, fmt.Errorf("RESTO_JWT_SECRET is required unless static tokens are allowed")
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ListenAddr:  ":8080",
		Env:         "development",
		ServiceName: "restocore",
		Auth: AuthConfig{
			Issuer: "restocore",
		},
		MercadoPago: MercadoPagoConfig{
			BaseURL:           "https://api.mercadopago.com",
			ExpirationMinutes: 30,
		},
		Webhook: WebhookConfig{
			RatePerSecond: 10,
			Burst:         20,
		},
		Draft: DraftConfig{
			LockTTL:       30 * time.Minute,
			DraftTTL:      2 * time.Hour,
			SweepInterval: time.Minute,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseIntEnv(key string, def int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return def
}

func parseFloatEnv(key string, def float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseBoolEnv(key string, def bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return def
}
