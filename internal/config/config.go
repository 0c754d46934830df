// Package config provides configuration management for threatboard.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lvonguyen/threatboard/internal/alerts/schema"
)

// Environment overrides, applied after the YAML file.
const (
	EnvStorageDSN  = "THREATBOARD_STORAGE_DSN"
	EnvRedisAddr   = "THREATBOARD_REDIS_ADDR"
	EnvCORSOrigins = "THREATBOARD_CORS_ORIGINS"
	EnvPort        = "THREATBOARD_PORT"
)

// Config holds all threatboard configuration.
type Config struct {
	Server        ServerConfig              `yaml:"server"`
	Storage       StorageConfig             `yaml:"storage"`
	Dashboard     DashboardConfig           `yaml:"dashboard"`
	CORS          CORSConfig                `yaml:"cors"`
	Redis         RedisConfig               `yaml:"redis"`
	RateLimit     RateLimitConfig           `yaml:"rate_limit"`
	Logging       LoggingConfig             `yaml:"logging"`
	Observability ObservabilityConfig       `yaml:"observability"`
	Sources       []schema.SourceDescriptor `yaml:"sources"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds relational store settings.
type StorageConfig struct {
	Driver          string        `yaml:"driver"` // pgx, postgres
	DSN             string        `yaml:"dsn"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	// Location is the IANA zone naive DATE/TIME columns are written in.
	Location         string `yaml:"location"`
	AttackTypesTable string `yaml:"attack_types_table"`
}

// DashboardConfig holds query façade settings.
type DashboardConfig struct {
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	TopN         int           `yaml:"top_n"`
}

// CORSConfig holds the browser origin allow-list.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	PoolSize    int    `yaml:"pool_size"`
}

// RateLimitConfig holds per-client request limits.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerSecond int  `yaml:"requests_per_second"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
	IncludeHeaders    bool `yaml:"include_headers"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// ObservabilityConfig holds metrics and tracing settings.
type ObservabilityConfig struct {
	ServiceName    string  `yaml:"service_name"`
	Environment    string  `yaml:"environment"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`
	TracingEnabled bool    `yaml:"tracing_enabled"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	SamplingRate   float64 `yaml:"sampling_rate"`
}

// Load reads configuration from a YAML file, then applies environment
// overrides and validates the result. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Storage: StorageConfig{
			Driver:           "pgx",
			DSNEnv:           "DATABASE_URL",
			MaxOpenConns:     10,
			MaxIdleConns:     5,
			ConnMaxLifetime:  30 * time.Minute,
			QueryTimeout:     10 * time.Second,
			Location:         "UTC",
			AttackTypesTable: "public.tipos_ataques",
		},
		Dashboard: DashboardConfig{
			RetryBackoff: 200 * time.Millisecond,
			TopN:         10,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{
				"http://localhost:3000",
				"http://127.0.0.1:3000",
				"http://localhost:5173",
			},
		},
		Redis: RedisConfig{
			PasswordEnv: "REDIS_PASSWORD",
			DB:          0,
			PoolSize:    10,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 10,
			RequestsPerMinute: 300,
			Burst:             20,
			IncludeHeaders:    true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Observability: ObservabilityConfig{
			ServiceName:    "threatboard",
			Environment:    "development",
			MetricsEnabled: true,
			SamplingRate:   0.1,
			OTLPEndpoint:   "localhost:4317",
		},
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvStorageDSN); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv(EnvCORSOrigins); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.CORS.AllowedOrigins = origins
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Storage.Driver {
	case "pgx", "postgres":
	default:
		return fmt.Errorf("storage.driver %q: want pgx or postgres", c.Storage.Driver)
	}
	if c.Storage.QueryTimeout < 0 {
		return fmt.Errorf("storage.query_timeout must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Storage.AttackTypesTable != "" && !schema.ValidTable(c.Storage.AttackTypesTable) {
		return fmt.Errorf("storage.attack_types_table %q is not a valid table name", c.Storage.AttackTypesTable)
	}
	if c.Dashboard.RetryBackoff < 0 {
		return fmt.Errorf("dashboard.retry_backoff must not be negative")
	}
	if c.Dashboard.TopN < 0 {
		return fmt.Errorf("dashboard.top_n must not be negative")
	}
	if _, err := c.Registry(); err != nil {
		return fmt.Errorf("sources: %w", err)
	}
	return nil
}

// StorageDSN resolves the DSN: the literal value wins, then dsn_env.
func (c *Config) StorageDSN() string {
	if c.Storage.DSN != "" {
		return c.Storage.DSN
	}
	if c.Storage.DSNEnv != "" {
		return os.Getenv(c.Storage.DSNEnv)
	}
	return ""
}

// Location returns the configured zone for naive timestamps.
func (c *Config) Location() (*time.Location, error) {
	if c.Storage.Location == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Storage.Location)
	if err != nil {
		return nil, fmt.Errorf("storage.location %q: %w", c.Storage.Location, err)
	}
	return loc, nil
}

// Registry returns the built-in descriptors merged with configured sources.
func (c *Config) Registry() (*schema.Registry, error) {
	return schema.NewRegistry(schema.Merge(schema.Default(), c.Sources)...)
}
