/**
 * @description
 * This package handles the configuration management for both services. It
 * uses the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables shared by the wallet and
// ledger services. These values are loaded from environment variables.
type Config struct {
	ServerPort                  string `mapstructure:"SERVER_PORT"`
	DatabaseURL                 string `mapstructure:"DATABASE_URL"`
	RabbitMQURL                 string `mapstructure:"RABBITMQ_URL"`
	EventExchange               string `mapstructure:"EVENT_EXCHANGE"`
	LedgerEventQueue            string `mapstructure:"LEDGER_EVENT_QUEUE"`
	BrokerConnectTimeoutSeconds int    `mapstructure:"BROKER_CONNECT_TIMEOUT_SECONDS"`
	LedgerEventMaxAttempts      int    `mapstructure:"LEDGER_EVENT_MAX_ATTEMPTS"`
	RedisURL                    string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix        string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	MutationRateLimitPerMinute  int    `mapstructure:"WALLET_MUTATION_RATE_LIMIT_PER_MINUTE"`
	OutboxBatchSize             int    `mapstructure:"OUTBOX_BATCH_SIZE"`
	OutboxPollIntervalMS        int    `mapstructure:"OUTBOX_POLL_INTERVAL_MS"`
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to automatically bind environment variables to the
// Config struct.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("EVENT_EXCHANGE", "finx.exchange")
	viper.SetDefault("LEDGER_EVENT_QUEUE", "ledger_service.wallet_events")
	viper.SetDefault("BROKER_CONNECT_TIMEOUT_SECONDS", 10)
	viper.SetDefault("LEDGER_EVENT_MAX_ATTEMPTS", 3)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "finx:rate_limit")
	viper.SetDefault("WALLET_MUTATION_RATE_LIMIT_PER_MINUTE", 0)
	viper.SetDefault("OUTBOX_BATCH_SIZE", 50)
	viper.SetDefault("OUTBOX_POLL_INTERVAL_MS", 1200)

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("LEDGER_EVENT_QUEUE")
	_ = viper.BindEnv("BROKER_CONNECT_TIMEOUT_SECONDS")
	_ = viper.BindEnv("LEDGER_EVENT_MAX_ATTEMPTS")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("WALLET_MUTATION_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("OUTBOX_BATCH_SIZE")
	_ = viper.BindEnv("OUTBOX_POLL_INTERVAL_MS")

	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.EventExchange = strings.TrimSpace(config.EventExchange)
	if config.EventExchange == "" {
		config.EventExchange = "finx.exchange"
	}
	if config.BrokerConnectTimeoutSeconds <= 0 {
		config.BrokerConnectTimeoutSeconds = 10
	}
	if config.LedgerEventMaxAttempts <= 0 {
		config.LedgerEventMaxAttempts = 3
	}
	if config.MutationRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative mutation rate limit configured; disabling\" limit=%d", config.MutationRateLimitPerMinute)
		config.MutationRateLimitPerMinute = 0
	}
	if config.OutboxBatchSize <= 0 {
		config.OutboxBatchSize = 50
	}
	if config.OutboxPollIntervalMS <= 0 {
		config.OutboxPollIntervalMS = 1200
	}

	return
}
