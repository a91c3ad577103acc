package rbac

import (
	"context"
	"database/sql"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/hiregate/pkg/storage"
)

// Migrations returns the permission catalog and grant schema.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(128) NOT NULL UNIQUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create role_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					id BIGSERIAL PRIMARY KEY,
					role VARCHAR(32) NOT NULL,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					granted_by BIGINT NOT NULL,
					granted_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_role_permissions_role_permission
					ON role_permissions(role, permission_id);
			`,
		},
		{
			Version:     3,
			Description: "Create user_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_permissions (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					granted_by BIGINT NOT NULL,
					granted_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_user_permissions_user_permission
					ON user_permissions(user_id, permission_id);
				CREATE INDEX IF NOT EXISTS idx_user_permissions_permission_id
					ON user_permissions(permission_id);
			`,
		},
	}
}

// RunMigrations applies the permission schema.
func RunMigrations(ctx context.Context, db *sql.DB, log *logrus.Logger) error {
	return storage.Migrate(ctx, db, "rbac_migrations", Migrations(), log)
}
