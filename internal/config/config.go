// Package config loads the ingestion engine's YAML configuration file,
// mirroring every §6 config key with a sensible boot-time default, and
// watches the rule-set seed file for hot-reload via fsnotify.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ServerConfig configures the REST façade and metrics HTTP servers.
type ServerConfig struct {
	Port        string `yaml:"port"`
	MetricsPort string `yaml:"metrics_port"`
}

// DatabaseConfig configures the durable store (Postgres via pgx).
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig configures the fast store used by C1/C2/C6/C11.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// BrokerConfig configures the Kafka-compatible messaging plane (C8/C9/C10/C13).
type BrokerConfig struct {
	SeedBrokers       []string `yaml:"seed_brokers"`
	InputTopic        string   `yaml:"input_topic"`
	InputTopicPrefix  string   `yaml:"input_topic_prefix"`
	OutputTopicPrefix string   `yaml:"output_topic_prefix"`
	RouterDLQTopic    string   `yaml:"router_dlq_topic"`
	DLQTopic          string   `yaml:"dlq_topic"`
	ConsumerGroup     string   `yaml:"consumer_group"`
}

// BackpressureConfig holds §6 `backpressure.messaging.*` and rate-limit keys.
type BackpressureConfig struct {
	MaxLag        int64         `yaml:"max_lag"`
	ResumeLag     int64         `yaml:"resume_lag"`
	MaxInflight   int           `yaml:"max_inflight"`
	LagInterval   time.Duration `yaml:"lag_interval"`
	BulkheadGroups int          `yaml:"bulkhead_groups"`
}

// RateLimitConfig holds §6 `rateLimit.*`.
type RateLimitConfig struct {
	GlobalRatePerSec   int `yaml:"global_rate_per_sec"`
	GlobalBurst        int `yaml:"global_burst"`
	PartitionRatePerSec int `yaml:"partition_rate_per_sec"`
	PartitionBurst     int `yaml:"partition_burst"`
}

// SequenceConfig holds §6 `sequence.buffer.*`.
type SequenceConfig struct {
	BufferWindow  int           `yaml:"buffer_window"`
	Timeout       time.Duration `yaml:"timeout"`
	TimeWindowDays int          `yaml:"time_window_days"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DeadlockRetryConfig holds §6 `deadlock.retry.*`.
type DeadlockRetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Initial     time.Duration `yaml:"initial"`
	Max         time.Duration `yaml:"max"`
	Multiplier  float64       `yaml:"multiplier"`
}

// IdempotencyConfig holds §6 `idempotency.*`.
type IdempotencyConfig struct {
	Window   time.Duration `yaml:"window"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// PartitionLockConfig holds §6 `partitionLock.*`.
type PartitionLockConfig struct {
	Wait time.Duration `yaml:"wait"`
	Hold time.Duration `yaml:"hold"`
}

// EnrichmentConfig configures C6 dependency timeouts, cache TTL, and the
// base URL of each reference-data lookup.
type EnrichmentConfig struct {
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
	CacheTTL             time.Duration `yaml:"cache_ttl"`
	SecurityMasterURL    string        `yaml:"security_master_url"`
	AccountMasterURL     string        `yaml:"account_master_url"`
	CreditURL            string        `yaml:"credit_url"`
}

// RulesConfig points at the boot-time rule-set seed file (Open Questions:
// config is the seed, admin API writes shadow it by id).
type RulesConfig struct {
	SeedFile string `yaml:"seed_file"`
}

// PublishConfig configures the C8 fan-out subscribers beyond the
// always-on bus subscriber: an ops Slack channel and an optional ops
// webhook, both best-effort per §4.8.
type PublishConfig struct {
	SlackToken   string `yaml:"slack_token"`
	SlackChannel string `yaml:"slack_channel"`
	OpsWebhookURL string `yaml:"ops_webhook_url"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration document.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Broker        BrokerConfig        `yaml:"broker"`
	Backpressure  BackpressureConfig  `yaml:"backpressure"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Sequence      SequenceConfig      `yaml:"sequence"`
	DeadlockRetry DeadlockRetryConfig `yaml:"deadlock_retry"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	PartitionLock PartitionLockConfig `yaml:"partition_lock"`
	Enrichment    EnrichmentConfig    `yaml:"enrichment"`
	Rules         RulesConfig         `yaml:"rules"`
	Publish       PublishConfig       `yaml:"publish"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// Default returns a Config populated with every §6 default value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			MetricsPort: "9090",
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "tradecapture",
			Database:        "tradecapture",
			SSLMode:         "disable",
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 20,
		},
		Broker: BrokerConfig{
			SeedBrokers:       []string{"localhost:9092"},
			InputTopic:        "trade/capture/input",
			InputTopicPrefix:  "trade/capture/input",
			OutputTopicPrefix: "trade/capture/blotter",
			RouterDLQTopic:    "trade/capture/router/dlq",
			DLQTopic:          "trade/capture/dlq",
			ConsumerGroup:     "trade-capture-ingestion",
		},
		Backpressure: BackpressureConfig{
			MaxLag:         10000,
			ResumeLag:      2000,
			MaxInflight:    500,
			LagInterval:    5 * time.Second,
			BulkheadGroups: 10,
		},
		RateLimit: RateLimitConfig{
			GlobalRatePerSec:    100,
			GlobalBurst:         200,
			PartitionRatePerSec: 10,
			PartitionBurst:      20,
		},
		Sequence: SequenceConfig{
			BufferWindow:   1000,
			Timeout:        300 * time.Second,
			TimeWindowDays: 7,
			SweepInterval:  10 * time.Second,
		},
		DeadlockRetry: DeadlockRetryConfig{
			MaxAttempts: 5,
			Initial:     50 * time.Millisecond,
			Max:         500 * time.Millisecond,
			Multiplier:  1.5,
		},
		Idempotency: IdempotencyConfig{
			Window:   24 * time.Hour,
			CacheTTL: 12 * time.Hour,
		},
		PartitionLock: PartitionLockConfig{
			Wait: 30 * time.Second,
			Hold: 5 * time.Minute,
		},
		Enrichment: EnrichmentConfig{
			ConnectTimeout:    5 * time.Second,
			ReadTimeout:       10 * time.Second,
			CacheTTL:          2 * time.Hour,
			SecurityMasterURL: "http://security-master.internal/securities",
			AccountMasterURL:  "http://account-master.internal/accounts",
			CreditURL:         "http://credit.internal/accounts",
		},
		Rules: RulesConfig{
			SeedFile: "config/rules.yaml",
		},
		Publish: PublishConfig{
			SlackChannel: "#trade-capture-ops",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads and parses the YAML config file at path, applying defaults
// for anything the file omits and validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if cfg.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if len(cfg.Broker.SeedBrokers) == 0 {
		return fmt.Errorf("broker.seed_brokers must have at least one entry")
	}
	if cfg.Backpressure.ResumeLag >= cfg.Backpressure.MaxLag {
		return fmt.Errorf("backpressure.resume_lag must be less than backpressure.max_lag")
	}
	if cfg.Sequence.BufferWindow <= 0 {
		return fmt.Errorf("sequence.buffer_window must be positive")
	}
	if cfg.DeadlockRetry.MaxAttempts <= 0 {
		return fmt.Errorf("deadlock_retry.max_attempts must be positive")
	}
	return nil
}

// WatchRules watches the rule-set seed file for writes and invokes onChange
// whenever it is rewritten, so an operator editing the mounted seed file
// sees the change without a restart. The in-memory rule cache treats this
// as a lower-precedence refresh than admin-API mutations (Open Questions).
func WatchRules(path string, onChange func()) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create rules file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch rules file %s: %w", path, err)
	}
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					onChange()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return watcher, nil
}
