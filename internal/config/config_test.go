package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "GRPC_PORT", "STORE_DRIVER", "STORE_DSN", "REDIS_ADDR", "ADMIN_MAX_PAYLOAD_SIZE", "REPOSITORY_MAX_PAGE_SIZE", "WEBHOOK_IDEMPOTENCY_TTL", "CONFIG_FILE"} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "9090", cfg.GRPCPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogPretty)
	assert.Equal(t, DefaultWebhookMaxPayloadSize, cfg.WebhookMaxPayloadSize)
	assert.Equal(t, DefaultAdminMaxPayloadSize, cfg.AdminMaxPayloadSize)
	assert.Equal(t, DefaultGRPCMaxMessageSize, cfg.GRPCMaxMessageSize)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "alerts", cfg.Store.Database)
	assert.Empty(t, cfg.Store.RedisAddr)
	assert.Equal(t, DefaultBatchSize, cfg.Repository.BatchSize)
	assert.Equal(t, DefaultPageSize, cfg.Repository.DefaultPageSize)
	assert.Equal(t, DefaultMaxPageSize, cfg.Repository.MaxPageSize)
	assert.Equal(t, 24*time.Hour, cfg.WebhookIdempotencyTTL)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("PORT", "9091")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_PRETTY", "true")
	t.Setenv("ADMIN_MAX_PAYLOAD_SIZE", "204800")
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("STORE_DSN", "postgres://localhost/alerts")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REPOSITORY_BATCH_SIZE", "250")
	t.Setenv("REPOSITORY_MAX_PAGE_SIZE", "500")
	t.Setenv("SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("WEBHOOK_IDEMPOTENCY_TTL", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9091", cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.LogPretty)
	assert.Equal(t, int64(204800), cfg.AdminMaxPayloadSize)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/alerts", cfg.Store.DSN)
	assert.Equal(t, "localhost:6379", cfg.Store.RedisAddr)
	assert.Equal(t, 250, cfg.Repository.BatchSize)
	assert.Equal(t, 500, cfg.Repository.MaxPageSize)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Zero(t, cfg.WebhookIdempotencyTTL)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"ADMIN_MAX_PAYLOAD_SIZE", "lots"},
		{"REPOSITORY_BATCH_SIZE", "1.5x"},
		{"LOG_PRETTY", "sometimes"},
		{"SHUTDOWN_TIMEOUT", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: sqlite\n  dsn: /tmp/alerts.db\nrepository:\n  batch_size: 10\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("REPOSITORY_BATCH_SIZE", "")
	_ = os.Unsetenv("REPOSITORY_BATCH_SIZE")
	_ = os.Unsetenv("STORE_DRIVER")
	_ = os.Unsetenv("STORE_DSN")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "/tmp/alerts.db", cfg.Store.DSN)
	assert.Equal(t, 10, cfg.Repository.BatchSize)

	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			WebhookMaxPayloadSize: DefaultWebhookMaxPayloadSize,
			AdminMaxPayloadSize:   DefaultAdminMaxPayloadSize,
			GRPCMaxMessageSize:    DefaultGRPCMaxMessageSize,
			Store:                 StoreConfig{Driver: DriverMemory, Database: "alerts"},
			Repository:            RepositoryConfig{BatchSize: 10, DefaultPageSize: 20, MaxPageSize: 100},
			ShutdownTimeout:       time.Second,
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"memory needs no dsn", func(c *Config) {}, true},
		{"sqlite with dsn", func(c *Config) { c.Store = StoreConfig{Driver: DriverSQLite, DSN: "alerts.db"} }, true},
		{"unknown driver", func(c *Config) { c.Store.Driver = "cassandra" }, false},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, false},
		{"mongo without database", func(c *Config) { c.Store = StoreConfig{Driver: DriverMongo, DSN: "mongodb://localhost"} }, false},
		{"zero batch size", func(c *Config) { c.Repository.BatchSize = 0 }, false},
		{"negative payload size", func(c *Config) { c.AdminMaxPayloadSize = -1 }, false},
		{"default above max", func(c *Config) { c.Repository.DefaultPageSize = 200 }, false},
		{"zero shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }, false},
		{"negative idempotency ttl", func(c *Config) { c.WebhookIdempotencyTTL = -time.Second }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}
