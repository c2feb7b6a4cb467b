package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// InitSQLite initializes the local SQLite database and creates the necessary
// schemas for persisting participant state, the world clock, and the
// purchase ledger.
func InitSQLite(dbPath string) (*sql.DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := createSchemas(db); err != nil {
		return nil, fmt.Errorf("failed to create schemas: %w", err)
	}

	return db, nil
}

func createSchemas(db *sql.DB) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS participants (
			participant_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			version INTEGER NOT NULL,
			catnip REAL NOT NULL DEFAULT 0,
			catnip_fields INTEGER NOT NULL DEFAULT 0,
			next_field_price REAL NOT NULL,
			last_updated DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS world_clock (
			clock_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			version INTEGER NOT NULL,
			accumulated_seconds REAL NOT NULL DEFAULT 0,
			current_tick INTEGER NOT NULL DEFAULT 0,
			current_day INTEGER NOT NULL DEFAULT 0,
			last_updated DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS purchases (
			id TEXT PRIMARY KEY,
			participant_id TEXT NOT NULL,
			amount_charged REAL NOT NULL,
			field_count INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			day INTEGER NOT NULL,
			timestamp DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_purchases_participant_id ON purchases(participant_id);`,
	}

	for _, query := range schemas {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}
