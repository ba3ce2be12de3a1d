// Package config provides configuration management for the alert repository service.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const (
	// DefaultWebhookMaxPayloadSize is the default max payload size for webhook endpoints (1MB).
	DefaultWebhookMaxPayloadSize int64 = 1 << 20

	// DefaultAdminMaxPayloadSize is the default max payload size for API endpoints (100KB).
	DefaultAdminMaxPayloadSize int64 = 100 * 1024

	// DefaultGRPCMaxMessageSize is the default max message size for gRPC (4MB).
	DefaultGRPCMaxMessageSize int = 4 << 20

	DefaultBatchSize   = 100
	DefaultPageSize    = 20
	DefaultMaxPageSize = 1000
)

// Supported store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// ErrInvalidConfig is returned for configuration values that cannot be used.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the application configuration.
type Config struct {
	// Port is the HTTP server port.
	Port string
	// GRPCPort is the gRPC health server port.
	GRPCPort string

	LogLevel  string
	LogPretty bool

	// WebhookMaxPayloadSize is the maximum payload size for webhook endpoints in bytes.
	WebhookMaxPayloadSize int64
	// AdminMaxPayloadSize is the maximum payload size for API endpoints in bytes.
	AdminMaxPayloadSize int64
	// GRPCMaxMessageSize is the maximum message size for gRPC in bytes.
	GRPCMaxMessageSize int
	// WebhookSecret enables HMAC verification of webhook bodies.
	WebhookSecret string
	// WebhookIdempotencyTTL is how long webhook deliveries are remembered.
	// Zero disables duplicate detection.
	WebhookIdempotencyTTL time.Duration

	Store      StoreConfig
	Repository RepositoryConfig

	ShutdownTimeout time.Duration
}

// StoreConfig selects and locates the backing store.
type StoreConfig struct {
	// Driver is one of memory, postgres, sqlite or mongo.
	Driver string
	// DSN is the connection string, file path or URI for the driver.
	DSN string
	// Database names the Mongo database.
	Database string
	// RedisAddr, when set, moves identifier generation to Redis.
	RedisAddr string
}

// RepositoryConfig tunes the repository engine.
type RepositoryConfig struct {
	BatchSize       int
	DefaultPageSize int
	MaxPageSize     int
}

var defaults = map[string]any{
	"port":                         "8080",
	"grpc.port":                    "9090",
	"log.level":                    "info",
	"log.pretty":                   false,
	"webhook.max_payload_size":     DefaultWebhookMaxPayloadSize,
	"admin.max_payload_size":       DefaultAdminMaxPayloadSize,
	"grpc.max_message_size":        DefaultGRPCMaxMessageSize,
	"webhook.secret":               "",
	"webhook.idempotency_ttl":      "24h",
	"store.driver":                 DriverMemory,
	"store.dsn":                    "",
	"store.database":               "alerts",
	"redis.addr":                   "",
	"repository.batch_size":        DefaultBatchSize,
	"repository.default_page_size": DefaultPageSize,
	"repository.max_page_size":     DefaultMaxPageSize,
	"shutdown.timeout":             "30s",
}

// Load reads configuration from environment variables, with defaults.
// Keys map to variables by upper-casing and replacing dots with
// underscores, so store.driver is read from STORE_DRIVER. CONFIG_FILE may
// name a YAML, TOML or JSON file providing the same keys.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	r := reader{v: v}
	cfg := &Config{
		Port:                  v.GetString("port"),
		GRPCPort:              v.GetString("grpc.port"),
		LogLevel:              v.GetString("log.level"),
		LogPretty:             r.bool("log.pretty"),
		WebhookMaxPayloadSize: r.int64("webhook.max_payload_size"),
		AdminMaxPayloadSize:   r.int64("admin.max_payload_size"),
		GRPCMaxMessageSize:    r.int("grpc.max_message_size"),
		WebhookSecret:         v.GetString("webhook.secret"),
		WebhookIdempotencyTTL: r.duration("webhook.idempotency_ttl"),
		Store: StoreConfig{
			Driver:    strings.ToLower(v.GetString("store.driver")),
			DSN:       v.GetString("store.dsn"),
			Database:  v.GetString("store.database"),
			RedisAddr: v.GetString("redis.addr"),
		},
		Repository: RepositoryConfig{
			BatchSize:       r.int("repository.batch_size"),
			DefaultPageSize: r.int("repository.default_page_size"),
			MaxPageSize:     r.int("repository.max_page_size"),
		},
		ShutdownTimeout: r.duration("shutdown.timeout"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return cfg, nil
}

// Validate rejects unknown drivers, missing connection strings and
// non-positive sizes.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite, DriverMongo:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("STORE_DSN is required for driver %s", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}
	if c.Store.Driver == DriverMongo && c.Store.Database == "" {
		errs = append(errs, errors.New("STORE_DATABASE is required for driver mongo"))
	}

	positive := map[string]int64{
		"WEBHOOK_MAX_PAYLOAD_SIZE":     c.WebhookMaxPayloadSize,
		"ADMIN_MAX_PAYLOAD_SIZE":       c.AdminMaxPayloadSize,
		"GRPC_MAX_MESSAGE_SIZE":        int64(c.GRPCMaxMessageSize),
		"REPOSITORY_BATCH_SIZE":        int64(c.Repository.BatchSize),
		"REPOSITORY_DEFAULT_PAGE_SIZE": int64(c.Repository.DefaultPageSize),
		"REPOSITORY_MAX_PAGE_SIZE":     int64(c.Repository.MaxPageSize),
	}
	for name, value := range positive {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, value))
		}
	}
	if c.Repository.DefaultPageSize > c.Repository.MaxPageSize {
		errs = append(errs, fmt.Errorf("REPOSITORY_DEFAULT_PAGE_SIZE %d exceeds REPOSITORY_MAX_PAGE_SIZE %d",
			c.Repository.DefaultPageSize, c.Repository.MaxPageSize))
	}
	if c.WebhookIdempotencyTTL < 0 {
		errs = append(errs, fmt.Errorf("WEBHOOK_IDEMPOTENCY_TTL must not be negative, got %s", c.WebhookIdempotencyTTL))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// reader converts viper values and keeps the first conversion error.
type reader struct {
	v   *viper.Viper
	err error
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		env := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		r.err = fmt.Errorf("%w: %s: %v", ErrInvalidConfig, env, err)
	}
}

func (r *reader) int64(key string) int64 {
	n, err := cast.ToInt64E(r.v.Get(key))
	if err != nil {
		r.fail(key, err)
	}
	return n
}

func (r *reader) int(key string) int {
	n, err := cast.ToIntE(r.v.Get(key))
	if err != nil {
		r.fail(key, err)
	}
	return n
}

func (r *reader) bool(key string) bool {
	b, err := cast.ToBoolE(r.v.Get(key))
	if err != nil {
		r.fail(key, err)
	}
	return b
}

func (r *reader) duration(key string) time.Duration {
	d, err := cast.ToDurationE(r.v.Get(key))
	if err != nil {
		r.fail(key, err)
	}
	return d
}
