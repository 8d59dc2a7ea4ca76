package database

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql"
)

// CreateGINIndexes creates full-text search GIN indexes for PostgreSQL.
// These enable full-text search over turn content and project paths without
// requiring a dedicated search engine.
func CreateGINIndexes(ctx context.Context, driver *sql.Driver) error {
	db := driver.DB()

	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_turns_text_gin
		ON turns USING gin(to_tsvector('english', text))`)
	if err != nil {
		return fmt.Errorf("failed to create turns text GIN index: %w", err)
	}

	return nil
}
