package database

import (
	"context"
	"fmt"
)

// schema is applied statement by statement; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS lectures (
		id          UUID PRIMARY KEY,
		owner_id    TEXT NOT NULL,
		secret_code TEXT NOT NULL,
		capacity    INTEGER NOT NULL CHECK (capacity > 0),
		status      TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS lectures_secret_code_key ON lectures (secret_code)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS lectures_open_owner_key ON lectures (owner_id) WHERE status = 'open'`,
	`CREATE TABLE IF NOT EXISTS attendances (
		id          UUID PRIMARY KEY,
		lecture_id  UUID NOT NULL REFERENCES lectures (id) ON DELETE CASCADE,
		attendee_id TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS attendances_lecture_attendee_key ON attendances (lecture_id, attendee_id)`,
}

// Migrate creates the tables and indexes used by the repositories.
func Migrate(ctx context.Context, db Querier) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
