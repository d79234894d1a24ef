// Package db holds the in-memory DuckDB engine used to read chat exports.
package db

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
)

var (
	dbInstance *sql.DB
	dbOnce     sync.Once
	dbErr      error
)

// GetDB returns the process-wide DuckDB connection, opening it on first use.
func GetDB() (*sql.DB, error) {
	dbOnce.Do(func() {
		dbInstance, dbErr = Open()
	})
	return dbInstance, dbErr
}

// Open returns a fresh in-memory DuckDB with the JSON extension loaded.
func Open() (*sql.DB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := loadJSON(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// loadJSON loads the bundled extension and only installs it when the build
// does not ship one.
func loadJSON(db *sql.DB) error {
	if _, err := db.Exec("LOAD json"); err == nil {
		return nil
	}
	if _, err := db.Exec("INSTALL json"); err != nil {
		return fmt.Errorf("failed to install JSON extension: %w", err)
	}
	if _, err := db.Exec("LOAD json"); err != nil {
		return fmt.Errorf("failed to load JSON extension: %w", err)
	}
	return nil
}
