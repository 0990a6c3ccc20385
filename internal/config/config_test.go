package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "EVENT_EXCHANGE")
	unsetEnvWithCleanup(t, "LEDGER_EVENT_QUEUE")
	unsetEnvWithCleanup(t, "LEDGER_EVENT_MAX_ATTEMPTS")
	unsetEnvWithCleanup(t, "OUTBOX_BATCH_SIZE")
	unsetEnvWithCleanup(t, "PORT")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.EventExchange != "finx.exchange" {
		t.Fatalf("expected default EventExchange, got %q", cfg.EventExchange)
	}
	if cfg.LedgerEventQueue != "ledger_service.wallet_events" {
		t.Fatalf("expected default LedgerEventQueue, got %q", cfg.LedgerEventQueue)
	}
	if cfg.LedgerEventMaxAttempts != 3 {
		t.Fatalf("expected default LedgerEventMaxAttempts 3, got %d", cfg.LedgerEventMaxAttempts)
	}
	if cfg.OutboxBatchSize != 50 {
		t.Fatalf("expected default OutboxBatchSize 50, got %d", cfg.OutboxBatchSize)
	}
	if cfg.MutationRateLimitPerMinute != 0 {
		t.Fatalf("expected rate limiting disabled by default, got %d", cfg.MutationRateLimitPerMinute)
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "EVENT_EXCHANGE", "test.exchange")
	setEnvWithCleanup(t, "WALLET_MUTATION_RATE_LIMIT_PER_MINUTE", "30")
	setEnvWithCleanup(t, "OUTBOX_POLL_INTERVAL_MS", "250")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.EventExchange != "test.exchange" {
		t.Fatalf("expected EventExchange override, got %q", cfg.EventExchange)
	}
	if cfg.MutationRateLimitPerMinute != 30 {
		t.Fatalf("expected MutationRateLimitPerMinute 30, got %d", cfg.MutationRateLimitPerMinute)
	}
	if cfg.OutboxPollIntervalMS != 250 {
		t.Fatalf("expected OutboxPollIntervalMS 250, got %d", cfg.OutboxPollIntervalMS)
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9999")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9999" {
		t.Fatalf("expected PORT to take precedence, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_NegativeRateLimitDisables(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "WALLET_MUTATION_RATE_LIMIT_PER_MINUTE", "-5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MutationRateLimitPerMinute != 0 {
		t.Fatalf("expected negative limit to disable rate limiting, got %d", cfg.MutationRateLimitPerMinute)
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
