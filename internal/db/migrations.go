package db

import (
	"errors"

	"plutobridge/internal/db/migration"

	"gorm.io/gorm"
)

// SyncSchema creates/updates tables and indexes from models. Table structure changes do not use versioned migrations.
func SyncSchema(db *gorm.DB) error {
	if db == nil {
		return errors.New("db is required")
	}
	if err := db.AutoMigrate(
		&NotebookRecord{},
		&ExecutionRecord{},
	); err != nil {
		return err
	}
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_execution_records_path_created_at ON execution_records(notebook_path, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_notebook_records_last_opened ON notebook_records(last_opened_at DESC);`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// MigrateUp syncs schema then runs registered data migrations. Schema itself
// is synced via SyncSchema; steps are data/behavior one-shots.
func MigrateUp(db *gorm.DB) error {
	if err := SyncSchema(db); err != nil {
		return err
	}
	return migration.RunAll(db)
}
