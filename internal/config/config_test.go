package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

var managedKeys = []string{
	"SERVER_PORT", "PORT", "LOG_LEVEL", "DATABASE_URL", "OWNER_ACCOUNT", "RENTAL_OWNER_ACCOUNT",
	"JWT_SIGNING_KEY", "RATE_LIMIT_PER_MINUTE", "OUTBOX_BATCH_SIZE", "OUTBOX_POLL_INTERVAL_MS",
	"PAYOUT_API_BASE_URL", "PAYOUT_API_KEY", "PAYOUT_CURRENCY", "CORS_ALLOWED_ORIGINS",
}

func resetEnv(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	for _, key := range managedKeys {
		unsetEnvWithCleanup(t, key)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	resetEnv(t)

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.RateLimitPerMinute != 60 || cfg.OutboxBatchSize != 50 || cfg.OutboxPollIntervalMS != 1200 {
		t.Fatalf("unexpected numeric defaults: %+v", cfg)
	}
	if cfg.RentalEventsExchange != "rental.events" || cfg.RedisRateLimitPrefix != "rental:rate_limit" {
		t.Fatalf("unexpected string defaults: %+v", cfg)
	}
	if cfg.OverdueSweepSchedule != "*/15 * * * *" {
		t.Fatalf("unexpected sweep schedule %q", cfg.OverdueSweepSchedule)
	}
	if got := cfg.AllowedOrigins(); len(got) != 2 || got[0] != "https://*" {
		t.Fatalf("unexpected allowed origins %v", got)
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	resetEnv(t)
	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "7000")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "7000" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_OwnerAccountAlias(t *testing.T) {
	resetEnv(t)
	setEnvWithCleanup(t, "RENTAL_OWNER_ACCOUNT", " owner-from-alias ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.OwnerAccount != "owner-from-alias" {
		t.Fatalf("expected trimmed alias owner, got %q", cfg.OwnerAccount)
	}
}

func TestLoadConfig_CoercesNonPositiveLimits(t *testing.T) {
	resetEnv(t)
	setEnvWithCleanup(t, "RATE_LIMIT_PER_MINUTE", "0")
	setEnvWithCleanup(t, "OUTBOX_BATCH_SIZE", "-5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.RateLimitPerMinute != 60 {
		t.Fatalf("expected rate limit coerced to 60, got %d", cfg.RateLimitPerMinute)
	}
	if cfg.OutboxBatchSize != 50 {
		t.Fatalf("expected batch size coerced to 50, got %d", cfg.OutboxBatchSize)
	}
}

func TestLoadConfig_ReadsDotEnvFile(t *testing.T) {
	resetEnv(t)
	dir := t.TempDir()
	content := "OWNER_ACCOUNT=file-owner\nJWT_SIGNING_KEY=file-secret\nPAYOUT_CURRENCY=usd\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.OwnerAccount != "file-owner" || cfg.JWTSigningKey != "file-secret" {
		t.Fatalf("expected values from .env, got %+v", cfg)
	}
	if cfg.PayoutCurrency != "USD" {
		t.Fatalf("expected upper-cased currency, got %q", cfg.PayoutCurrency)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_ReportsMissingKeys(t *testing.T) {
	err := Config{PayoutAPIBaseURL: "https://payouts.example"}.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, key := range []string{"OWNER_ACCOUNT", "JWT_SIGNING_KEY", "PAYOUT_API_KEY"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected error to mention %s, got %v", key, err)
		}
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
