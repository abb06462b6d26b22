package datastore

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SQLiteStore implements the store interface for SQLite.
type SQLiteStore struct {
	DataStore
	Path string
}

// Open sets up the SQLite database connection and runs migrations.
func (store *SQLiteStore) Open() error {
	if store.Path == "" {
		return validationError("database path must not be empty", "path", store.Path)
	}

	dir := filepath.Dir(store.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return dbError(err, "open", "path", store.Path)
		}
	}

	db, err := gorm.Open(sqlite.Open(store.Path), &gorm.Config{Logger: newGormLogger()})
	if err != nil {
		return dbError(fmt.Errorf("failed to open SQLite database: %w", err), "open", "path", store.Path)
	}

	store.DB = db
	return performAutoMigration(db)
}

// Close closes the underlying connection pool.
func (store *SQLiteStore) Close() error {
	if store.DB == nil {
		return nil
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		return dbError(err, "close")
	}
	return sqlDB.Close()
}
