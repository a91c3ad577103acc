// Package config loads hiregate configuration.
//
// Values come from three layers, later layers winning: built-in defaults, an
// optional YAML file named by HIREGATE_CONFIG_FILE, and HIREGATE_*
// environment variables.
//
// Server settings:
//
//	HIREGATE_HOST="0.0.0.0"
//	HIREGATE_PORT="8080"
//	HIREGATE_HEALTH_PORT="9090"
//	HIREGATE_READ_TIMEOUT="15s"
//	HIREGATE_MAX_BODY_BYTES="1048576"
//
// Storage settings:
//
//	HIREGATE_POSTGRES_URL="postgres://localhost/hiregate?sslmode=disable"
//	HIREGATE_POSTGRES_REPLICA_URLS="postgres://replica1/hiregate,postgres://replica2/hiregate"
//	HIREGATE_REDIS_URL="redis://localhost:6379"
//
// Cache and authorization settings:
//
//	HIREGATE_CACHE_ENABLED="true"
//	HIREGATE_CACHE_L1_TTL="30s"
//	HIREGATE_BOOTSTRAP_GRANTER_ID="1"
//	HIREGATE_SEED_ON_STARTUP="true"
//	HIREGATE_STATS_SCHEDULE="@every 1m"
//
// Observability settings:
//
//	HIREGATE_LOG_LEVEL="info"
//	HIREGATE_METRICS_ENABLED="true"
//	HIREGATE_OTEL_ENABLED="false"
//	HIREGATE_OTEL_ENDPOINT="localhost:4317"
//
// The YAML file uses the same structure with snake_case keys:
//
//	server:
//	  port: "8080"
//	storage:
//	  postgres_url: postgres://localhost/hiregate
//	authz:
//	  stats_schedule: "*/5 * * * *"
//
// LoadConfig validates the result; an invalid cron schedule or a missing
// PostgreSQL URL is a startup error.
package config
