package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Open opens (or creates) a sqlite database at the given path and ensures directories exist.
// ":memory:" opens a private in-memory database.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// a single connection serialises writers and keeps in-memory databases alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return db, nil
}

// Migrate creates every table used by the service. Parents are created before children.
func Migrate(ctx context.Context, db *sql.DB) error {
	steps := []interface{ Init(context.Context) error }{
		NewJobRepository(db),
		NewJobSegmentRepository(db),
		NewSettingsRepository(db),
		NewUserRepository(db),
	}
	for _, step := range steps {
		if err := step.Init(ctx); err != nil {
			return err
		}
	}
	return nil
}
