package auth

import (
	"context"
	"database/sql"

	"github.com/platinummonkey/hiregate/pkg/storage"
	"github.com/sirupsen/logrus"
)

// Migrations returns the schema read by SQLProvider.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					email VARCHAR(255) NOT NULL UNIQUE,
					role VARCHAR(32) NOT NULL DEFAULT 'user'
						CHECK (role IN ('guest', 'user', 'recruiter', 'manager', 'admin')),
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
			`,
		},
		{
			Version:     2,
			Description: "Create sessions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sessions (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMP,
					revoked_at TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
			`,
		},
	}
}

// RunMigrations applies the identity schema.
func RunMigrations(ctx context.Context, db *sql.DB, log *logrus.Logger) error {
	return storage.Migrate(ctx, db, "auth_migrations", Migrations(), log)
}
