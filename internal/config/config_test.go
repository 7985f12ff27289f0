package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "bills.computed", cfg.Kafka.Topic)
	assert.Equal(t, "bills.computed.dlq", cfg.Kafka.DLQTopic)
	assert.Equal(t, 200, cfg.RateLimit.PerSecond)
	assert.Equal(t, 500, cfg.Batch.MaxItems)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadConfig_FromFile(t *testing.T) {
	dir := writeConfig(t, `
server:
  port: 9090
  read_timeout: 2s
database:
  driver: postgres
  dsn: postgres://billing@localhost/tariffs?sslmode=disable
  migrate: true
kafka:
  enabled: true
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  topic: bills
publisher:
  retry:
    max_retries: 2
batch:
  max_items: 50
  max_concurrency: 4
logging:
  level: debug
  format: console
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.True(t, cfg.Database.Migrate)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "bills", cfg.Kafka.Topic)
	assert.Equal(t, 2, cfg.Publisher.Retry.MaxRetries)
	assert.Equal(t, 1024, cfg.Publisher.EventChannelCapacity)
	assert.Equal(t, 50, cfg.Batch.MaxItems)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	dir := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("LOGGING_LEVEL", "warn")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfig_RejectsMalformedYAML(t *testing.T) {
	dir := writeConfig(t, "server: [port")

	_, err := LoadConfig(dir)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:    ServerConfig{Port: 8080},
			Database:  DatabaseConfig{Driver: DriverMemory},
			RateLimit: RateLimitConfig{PerSecond: 10},
			Batch:     BatchConfig{MaxItems: 10, MaxConcurrency: 2},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "port"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Database.Driver = DriverPostgres }, wantErr: "dsn"},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: "unsupported database driver"},
		{name: "cache without ttl", mutate: func(c *Config) { c.Cache.Enabled = true }, wantErr: "cache ttl"},
		{name: "kafka without brokers", mutate: func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.Topic = "bills"
		}, wantErr: "brokers"},
		{name: "kafka without workers", mutate: func(c *Config) {
			c.Kafka = KafkaConfig{Enabled: true, Brokers: []string{"k:9092"}, Topic: "bills"}
			c.Publisher.EventChannelCapacity = 10
		}, wantErr: "num_workers"},
		{name: "no rate limit", mutate: func(c *Config) { c.RateLimit.PerSecond = 0 }, wantErr: "rate_limit"},
		{name: "no batch concurrency", mutate: func(c *Config) { c.Batch.MaxConcurrency = 0 }, wantErr: "batch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
