package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/hiregate/pkg/observability"
	"github.com/platinummonkey/hiregate/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Storage configuration (PostgreSQL and optional Redis)
	Storage storage.Config `yaml:"storage"`

	// Grant-set cache configuration
	Cache CacheConfig `yaml:"cache"`

	// Authorization engine configuration
	Authz AuthzConfig `yaml:"authz"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// CacheConfig controls the grant-set cache in front of the store.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	L1Size   int           `yaml:"l1_size"`
	L1TTL    time.Duration `yaml:"l1_ttl"`
	RedisTTL time.Duration `yaml:"redis_ttl"`
}

// AuthzConfig holds settings of the permission engine itself.
type AuthzConfig struct {
	// User id recorded as granter for grants created by the seeder.
	BootstrapGranterID int64 `yaml:"bootstrap_granter_id"`

	SeedOnStartup bool `yaml:"seed_on_startup"`

	// Cron spec for refreshing the grant statistics gauges.
	StatsSchedule string `yaml:"stats_schedule"`

	AuditEnabled bool `yaml:"audit_enabled"`

	// Database audit writes go through a bounded queue; events beyond
	// AuditQueueSize are dropped and logged.
	AuditWorkers   int `yaml:"audit_workers"`
	AuditQueueSize int `yaml:"audit_queue_size"`
}

// RateLimitConfig holds per-caller request rate limits.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`

	// Share counters through Redis when a Redis URL is configured.
	Distributed bool `yaml:"distributed"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level.
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// Default returns the built-in configuration before any file or environment
// overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			HealthPort:      "9090",
		},
		Storage: storage.DefaultConfig(),
		Cache: CacheConfig{
			Enabled:  true,
			L1Size:   4096,
			L1TTL:    30 * time.Second,
			RedisTTL: 5 * time.Minute,
		},
		Authz: AuthzConfig{
			BootstrapGranterID: 1,
			SeedOnStartup:      true,
			StatsSchedule:      "@every 1m",
			AuditEnabled:       true,
			AuditWorkers:       2,
			AuditQueueSize:     1024,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 600,
			Burst:             50,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "hiregate",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1.0,
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by HIREGATE_CONFIG_FILE, and HIREGATE_* environment variables, in
// that order of precedence (environment wins).
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := getEnv("HIREGATE_CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("HIREGATE_HOST", s.Host)
	s.Port = getEnv("HIREGATE_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("HIREGATE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("HIREGATE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("HIREGATE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("HIREGATE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaxBodyBytes = getEnvInt64("HIREGATE_MAX_BODY_BYTES", s.MaxBodyBytes)
	s.HealthPort = getEnv("HIREGATE_HEALTH_PORT", s.HealthPort)

	st := &c.Storage
	st.PostgresURL = getEnv("HIREGATE_POSTGRES_URL", st.PostgresURL)
	if replicas := getEnv("HIREGATE_POSTGRES_REPLICA_URLS", ""); replicas != "" {
		st.PostgresReplicaURLs = storage.ParseReplicaURLs(replicas)
	}
	st.PostgresMaxConns = getEnvInt("HIREGATE_POSTGRES_MAX_CONNS", st.PostgresMaxConns)
	st.PostgresMinConns = getEnvInt("HIREGATE_POSTGRES_MIN_CONNS", st.PostgresMinConns)
	st.PostgresTimeout = getEnvDuration("HIREGATE_POSTGRES_TIMEOUT", st.PostgresTimeout)
	st.PostgresMaxLifetime = getEnvDuration("HIREGATE_POSTGRES_MAX_LIFETIME", st.PostgresMaxLifetime)
	st.PostgresMaxIdleTime = getEnvDuration("HIREGATE_POSTGRES_MAX_IDLE_TIME", st.PostgresMaxIdleTime)
	st.RedisURL = getEnv("HIREGATE_REDIS_URL", st.RedisURL)
	st.RedisPassword = getEnv("HIREGATE_REDIS_PASSWORD", st.RedisPassword)
	st.RedisDB = getEnvInt("HIREGATE_REDIS_DB", st.RedisDB)
	st.RedisMaxRetries = getEnvInt("HIREGATE_REDIS_MAX_RETRIES", st.RedisMaxRetries)
	st.RedisPoolSize = getEnvInt("HIREGATE_REDIS_POOL_SIZE", st.RedisPoolSize)

	ca := &c.Cache
	ca.Enabled = getEnvBool("HIREGATE_CACHE_ENABLED", ca.Enabled)
	ca.L1Size = getEnvInt("HIREGATE_CACHE_L1_SIZE", ca.L1Size)
	ca.L1TTL = getEnvDuration("HIREGATE_CACHE_L1_TTL", ca.L1TTL)
	ca.RedisTTL = getEnvDuration("HIREGATE_CACHE_REDIS_TTL", ca.RedisTTL)

	a := &c.Authz
	a.BootstrapGranterID = getEnvInt64("HIREGATE_BOOTSTRAP_GRANTER_ID", a.BootstrapGranterID)
	a.SeedOnStartup = getEnvBool("HIREGATE_SEED_ON_STARTUP", a.SeedOnStartup)
	a.StatsSchedule = getEnv("HIREGATE_STATS_SCHEDULE", a.StatsSchedule)
	a.AuditEnabled = getEnvBool("HIREGATE_AUDIT_ENABLED", a.AuditEnabled)
	a.AuditWorkers = getEnvInt("HIREGATE_AUDIT_WORKERS", a.AuditWorkers)
	a.AuditQueueSize = getEnvInt("HIREGATE_AUDIT_QUEUE_SIZE", a.AuditQueueSize)

	r := &c.RateLimit
	r.Enabled = getEnvBool("HIREGATE_RATE_LIMIT_ENABLED", r.Enabled)
	r.RequestsPerMinute = getEnvInt("HIREGATE_RATE_LIMIT_RPM", r.RequestsPerMinute)
	r.Burst = getEnvInt("HIREGATE_RATE_LIMIT_BURST", r.Burst)
	r.Distributed = getEnvBool("HIREGATE_RATE_LIMIT_DISTRIBUTED", r.Distributed)

	o := &c.Observability
	o.LogLevel = getEnv("HIREGATE_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("HIREGATE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("HIREGATE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("HIREGATE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("HIREGATE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("HIREGATE_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("HIREGATE_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("HIREGATE_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Cache.Enabled && c.Cache.L1Size <= 0 {
		return fmt.Errorf("cache L1 size must be positive when the cache is enabled")
	}

	if c.Authz.BootstrapGranterID <= 0 {
		return fmt.Errorf("bootstrap granter id must be positive")
	}
	if c.Authz.StatsSchedule != "" {
		if _, err := cron.ParseStandard(c.Authz.StatsSchedule); err != nil {
			return fmt.Errorf("invalid stats schedule %q: %w", c.Authz.StatsSchedule, err)
		}
	}
	if c.Authz.AuditEnabled && (c.Authz.AuditWorkers <= 0 || c.Authz.AuditQueueSize <= 0) {
		return fmt.Errorf("audit workers and queue size must be positive when audit is enabled")
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate limit requests per minute must be positive when enabled")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
