// Package config loads layered YAML + environment configuration for the
// ingestor, processor, and delivery services.
package config

import "time"

// RedisConfig configures the shared event bus connection.
type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	PoolSize   int    `mapstructure:"pool_size"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// DatabaseConfig configures the Postgres-backed metadata store and analytics log.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ObservabilityConfig configures logging/metrics for a service.
type ObservabilityConfig struct {
	LogLevel   string `mapstructure:"log_level"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// ChainConfig describes one chain the ingestor connects to.
type ChainConfig struct {
	ID              string `mapstructure:"id"`
	Name            string `mapstructure:"name"`
	WebSocketURL    string `mapstructure:"websocket_url"`
	ConfirmationLag int    `mapstructure:"confirmation_lag"`
}

// IngestorConfig is the root configuration for cmd/ingestor.
type IngestorConfig struct {
	Environment   string              `mapstructure:"environment"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Chains        []ChainConfig       `mapstructure:"chains"`
	DedupTTL      time.Duration       `mapstructure:"dedup_ttl"`
	StreamMaxLen  int64               `mapstructure:"stream_max_len"`
}

// ProcessorConfig is the root configuration for cmd/processor.
type ProcessorConfig struct {
	Environment      string              `mapstructure:"environment"`
	Redis            RedisConfig         `mapstructure:"redis"`
	Database         DatabaseConfig      `mapstructure:"database"`
	Observability    ObservabilityConfig `mapstructure:"observability"`
	ChainIDs         []string            `mapstructure:"chain_ids"`
	ConsumerGroup    string              `mapstructure:"consumer_group"`
	BatchSize        int64               `mapstructure:"batch_size"`
	BlockDuration    time.Duration       `mapstructure:"block_duration"`
	ClaimMinIdleTime time.Duration       `mapstructure:"claim_min_idle_time"`
	ClaimInterval    time.Duration       `mapstructure:"claim_interval"`
	EndpointCacheTTL time.Duration       `mapstructure:"endpoint_cache_ttl"`
}

// DeliveryConfig is the root configuration for cmd/delivery.
type DeliveryConfig struct {
	Environment    string              `mapstructure:"environment"`
	Redis          RedisConfig         `mapstructure:"redis"`
	Database       DatabaseConfig      `mapstructure:"database"`
	Observability  ObservabilityConfig `mapstructure:"observability"`
	Chains         []ChainConfig       `mapstructure:"chains"`
	WorkerCount    int                 `mapstructure:"worker_count"`
	MaxInflight    int                 `mapstructure:"max_inflight"`
	PopTimeout     time.Duration       `mapstructure:"pop_timeout"`
	SchedulerTick  time.Duration       `mapstructure:"scheduler_tick"`
	SchedulerBatch int64               `mapstructure:"scheduler_batch"`
	BaseRetryDelay time.Duration       `mapstructure:"base_retry_delay"`
	MaxRetryDelay  time.Duration       `mapstructure:"max_retry_delay"`
}
