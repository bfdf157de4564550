package database

import (
	"context"
	"fmt"
)

// migrations run in order on every start. Each statement must be idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS tenant_favorites (
		subject_id  TEXT        NOT NULL,
		property_id INTEGER     NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (subject_id, property_id)
	)`,
	`CREATE INDEX IF NOT EXISTS tenant_favorites_subject_created_idx
		ON tenant_favorites (subject_id, created_at DESC)`,
}

// Migrate creates the tables the service owns.
func (db *Database) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
