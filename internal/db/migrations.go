package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,

	// assessment_records holds one row per completed analysis run. The image
	// bytes are stored inline so a history entry stays viewable without the
	// original file; analyzed hazards are a JSONB document because they are
	// written once as a unit and never queried per hazard.
	`CREATE TABLE IF NOT EXISTS assessment_records (
		id              UUID PRIMARY KEY,
		title           TEXT NOT NULL,
		image_name      TEXT NOT NULL,
		image_mime      TEXT NOT NULL,
		image_sha256    TEXT NOT NULL,
		image_data      BYTEA NOT NULL,
		snapshot_url    TEXT,
		model_id        TEXT NOT NULL,
		hazard_count    INT NOT NULL DEFAULT 0,
		hazards         JSONB NOT NULL DEFAULT '[]'::jsonb,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_assessment_records_created_at ON assessment_records(created_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_assessment_records_image_sha256 ON assessment_records(image_sha256);`,

	`ALTER TABLE assessment_records ADD COLUMN IF NOT EXISTS snapshot_url TEXT;`,
	`ALTER TABLE assessment_records ADD COLUMN IF NOT EXISTS model_id TEXT NOT NULL DEFAULT '';`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
