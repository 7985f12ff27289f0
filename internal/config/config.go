// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig defines HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Supported tariff repository drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// DatabaseConfig selects and configures the tariff repository.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// CacheConfig configures the read-through tariff cache.
type CacheConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// KafkaConfig defines Kafka producer settings for bill events.
type KafkaConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Brokers  []string       `mapstructure:"brokers"`
	Topic    string         `mapstructure:"topic"`
	DLQTopic string         `mapstructure:"dlq_topic"`
	Producer ProducerConfig `mapstructure:"producer"`
}

// ProducerConfig defines Sarama producer settings.
type ProducerConfig struct {
	RequiredAcks     string        `mapstructure:"required_acks"`
	CompressionCodec string        `mapstructure:"compression_codec"`
	FlushFrequency   time.Duration `mapstructure:"flush_frequency"`
	FlushMessages    int           `mapstructure:"flush_messages"`
	FlushBytes       int           `mapstructure:"flush_bytes"`
	RetryMax         int           `mapstructure:"retry_max"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	ReturnSuccesses  bool          `mapstructure:"return_successes"`
	ReturnErrors     bool          `mapstructure:"return_errors"`
}

// PublisherConfig defines the bill event publisher's internal settings.
type PublisherConfig struct {
	EventChannelCapacity int         `mapstructure:"event_channel_capacity"`
	NumWorkers           int         `mapstructure:"num_workers"`
	Retry                RetryConfig `mapstructure:"retry"`
}

// RetryConfig defines settings for the retry mechanism.
type RetryConfig struct {
	ChannelCapacity   int           `mapstructure:"channel_capacity"`
	NumWorkers        int           `mapstructure:"num_workers"`
	MaxRetries        int           `mapstructure:"max_retries"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
}

// RateLimitConfig limits HTTP requests per second across all clients.
type RateLimitConfig struct {
	PerSecond int `mapstructure:"per_second"`
	Burst     int `mapstructure:"burst"`
}

// BatchConfig bounds the batch calculation endpoint.
type BatchConfig struct {
	MaxItems       int `mapstructure:"max_items"`
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig defines metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoadConfig loads configuration from config.yaml in configPath and from environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")

	// SERVER_PORT overrides server.port, DATABASE_DSN overrides database.dsn, and so on.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.migrate", false)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.cleanup_interval", 10*time.Minute)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "bills.computed")
	v.SetDefault("kafka.dlq_topic", "bills.computed.dlq")
	v.SetDefault("kafka.producer.required_acks", "leader")
	v.SetDefault("kafka.producer.compression_codec", "snappy")
	v.SetDefault("kafka.producer.flush_frequency", 500*time.Millisecond)
	v.SetDefault("kafka.producer.retry_max", 3)
	v.SetDefault("kafka.producer.retry_backoff", 100*time.Millisecond)
	v.SetDefault("kafka.producer.return_successes", false)
	v.SetDefault("kafka.producer.return_errors", true)

	v.SetDefault("publisher.event_channel_capacity", 1024)
	v.SetDefault("publisher.num_workers", 4)
	v.SetDefault("publisher.retry.channel_capacity", 256)
	v.SetDefault("publisher.retry.num_workers", 1)
	v.SetDefault("publisher.retry.max_retries", 5)
	v.SetDefault("publisher.retry.initial_backoff", 200*time.Millisecond)
	v.SetDefault("publisher.retry.max_backoff", 10*time.Second)
	v.SetDefault("publisher.retry.backoff_multiplier", 2.0)

	v.SetDefault("rate_limit.per_second", 200)
	v.SetDefault("rate_limit.burst", 400)

	v.SetDefault("batch.max_items", 500)
	v.SetDefault("batch.max_concurrency", 8)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server port must be positive")
	}
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn must be specified for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive when the cache is enabled")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers must be specified")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic must be specified")
		}
		if c.Publisher.EventChannelCapacity <= 0 {
			return fmt.Errorf("event_channel_capacity must be positive")
		}
		if c.Publisher.NumWorkers <= 0 {
			return fmt.Errorf("num_workers must be positive")
		}
	}
	if c.RateLimit.PerSecond <= 0 {
		return fmt.Errorf("rate_limit per_second must be positive")
	}
	if c.Batch.MaxItems <= 0 || c.Batch.MaxConcurrency <= 0 {
		return fmt.Errorf("batch max_items and max_concurrency must be positive")
	}
	return nil
}
