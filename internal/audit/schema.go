package audit

import (
	"context"
	"fmt"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS conversions (
    job_id             TEXT PRIMARY KEY,
    user_id            TEXT NOT NULL,
    filename           TEXT NOT NULL,
    file_type          TEXT,
    file_size          BIGINT,
    status             TEXT NOT NULL DEFAULT 'PENDING',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    started_at         TIMESTAMPTZ,
    completed_at       TIMESTAMPTZ,
    pages              INTEGER,
    processing_time_ms BIGINT,
    result_url         TEXT,
    error              TEXT,
    summary            TEXT,
    category           TEXT,
    tags               JSONB,
    language           TEXT
);

CREATE INDEX IF NOT EXISTS idx_conversions_user_created
    ON conversions (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_conversions_status
    ON conversions (status);
CREATE INDEX IF NOT EXISTS idx_conversions_user_status
    ON conversions (user_id, status);
`

// EnsureSchema creates the conversions table and its indexes if they do not
// exist yet. Called once at startup by both the API and the worker.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}
