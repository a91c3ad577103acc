// Package storage owns the database and cache connections used by the
// authorization service.
//
// # Connections
//
// ConnectionManager wraps a primary PostgreSQL pool and optional read
// replicas. Writes always go to Primary; read-heavy paths such as grant
// listing may use Replica, which round-robins across healthy replicas and
// falls back to the primary when none are configured.
//
//	cfg := storage.DefaultConfig()
//	cfg.PostgresURL = "postgres://localhost/hiregate?sslmode=disable"
//	cm, err := storage.NewConnectionManager(cfg, log)
//	if err != nil {
//		return err
//	}
//	defer cm.Close()
//
// NewRedisClient builds the optional shared cache client. An empty RedisURL
// means no shared cache is configured.
//
// # Migrations
//
// Migrate applies versioned SQL migrations and records them in a per-package
// tracking table, so auth, audit and rbac can each evolve their schema
// independently:
//
//	err := storage.Migrate(ctx, db, "rbac_migrations", migrations, log)
//
// Each migration runs in its own transaction and is recorded only when it
// succeeds.
//
// # Testing
//
// Unit tests use an in-memory SQLite database for migrations and sqlmock for
// failure paths. Integration tests that need a real PostgreSQL server run
// under the integration build tag with testcontainers.
package storage
