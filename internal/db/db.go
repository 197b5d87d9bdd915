// Package db provides the SQLite connection and schema for ambilightd.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// kv_store holds paired credentials and discovered setup values so a
	// container restart does not force re-pairing.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv_store (
			bucket TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (bucket, key)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create kv_store table: %w", err)
	}

	return nil
}
