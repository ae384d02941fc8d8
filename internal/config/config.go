// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Betting  BettingConfig  `mapstructure:"betting"`
	Bankroll BankrollConfig `mapstructure:"bankroll"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// RedisConfig holds the Redis connection used for bet-slip staging and
// bankroll cache invalidation.
type RedisConfig struct {
	Addr              string        `mapstructure:"addr"`
	SlipTTL           time.Duration `mapstructure:"slip_ttl"`
	InvalidateChannel string        `mapstructure:"invalidate_channel"`
}

// KafkaConfig holds the event stream configuration: outbound bet events and
// the inbound game result feed that drives settlement.
type KafkaConfig struct {
	Brokers          []string `mapstructure:"brokers"`
	TopicBetPlaced   string   `mapstructure:"topic_bet_placed"`
	TopicBetSettled  string   `mapstructure:"topic_bet_settled"`
	TopicGameResults string   `mapstructure:"topic_game_results"`
	ConsumerGroup    string   `mapstructure:"consumer_group"`
	DisablePublisher bool     `mapstructure:"disable_publisher"`
	DisableConsumer  bool     `mapstructure:"disable_consumer"`
}

// BettingConfig holds stake limits and placement/settlement tunables.
type BettingConfig struct {
	MinStakeCents       int64 `mapstructure:"min_stake_cents"`
	MaxStakeCents       int64 `mapstructure:"max_stake_cents"`
	MaxParlayLegs       int   `mapstructure:"max_parlay_legs"`
	SettlementBatchSize int   `mapstructure:"settlement_batch_size"`
}

// BankrollConfig holds weekly bankroll lifecycle settings.
type BankrollConfig struct {
	WeeklyStartCents      int64 `mapstructure:"weekly_start_cents"`
	ArchiveRetentionWeeks int   `mapstructure:"archive_retention_weeks"`
}

// JobsConfig holds intervals for the background sweeps.
type JobsConfig struct {
	MarkLiveInterval time.Duration `mapstructure:"mark_live_interval"`
	RolloverInterval time.Duration `mapstructure:"rollover_interval"`
	ArchiveInterval  time.Duration `mapstructure:"archive_interval"`
}

// MetricsConfig holds the metrics/health endpoint settings.
type MetricsConfig struct {
	Port string `mapstructure:"port"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Enable environment variable override
	// Environment variables use underscore separator and uppercase
	// e.g., DATABASE_HOST, REDIS_ADDR, BETTING_MAX_STAKE_CENTS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional - env vars can provide all config)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "ledger")
	v.SetDefault("database.name", "ledger")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.slip_ttl", "30m")
	v.SetDefault("redis.invalidate_channel", "bankroll_invalidations")

	// Kafka defaults
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_bet_placed", "bet_placed")
	v.SetDefault("kafka.topic_bet_settled", "bet_settled")
	v.SetDefault("kafka.topic_game_results", "game_results")
	v.SetDefault("kafka.consumer_group", "wager-ledger-settlement")
	v.SetDefault("kafka.disable_publisher", false)
	v.SetDefault("kafka.disable_consumer", false)

	// Betting defaults: $1 minimum, $1000 maximum stake
	v.SetDefault("betting.min_stake_cents", 100)
	v.SetDefault("betting.max_stake_cents", 100_000)
	v.SetDefault("betting.max_parlay_legs", 10)
	v.SetDefault("betting.settlement_batch_size", 10)

	// Bankroll defaults: $1000 weekly paper balance
	v.SetDefault("bankroll.weekly_start_cents", 100_000)
	v.SetDefault("bankroll.archive_retention_weeks", 4)

	// Job defaults
	v.SetDefault("jobs.mark_live_interval", "1m")
	v.SetDefault("jobs.rollover_interval", "1h")
	v.SetDefault("jobs.archive_interval", "24h")

	// Metrics defaults
	v.SetDefault("metrics.port", "9095")
}
