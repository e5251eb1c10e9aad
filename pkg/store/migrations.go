package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; each statement must be idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		tenant TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		deactivated BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS groups (
		id BIGSERIAL PRIMARY KEY,
		tenant TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS group_members (
		group_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		PRIMARY KEY (group_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS right_assignments (
		id BIGSERIAL PRIMARY KEY,
		tenant TEXT NOT NULL DEFAULT '',
		user_id BIGINT NOT NULL,
		right_id TEXT NOT NULL,
		value TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (tenant, user_id, right_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_tenant ON users(tenant)`,
	`CREATE INDEX IF NOT EXISTS idx_groups_tenant ON groups(tenant)`,
	`CREATE INDEX IF NOT EXISTS idx_right_assignments_tenant_user ON right_assignments(tenant, user_id)`,
}

// RunMigrations applies the entitlement schema. Safe to run repeatedly.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
