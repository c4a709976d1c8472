package datastore

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/labelous/labelsync/internal/conf"
)

// SQLiteStore implements Interface for SQLite
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

func validateSQLiteConfig(settings *conf.Settings) error {
	if settings.Output.SQLite.Path == "" {
		return fmt.Errorf("SQLite database path is empty")
	}
	return nil
}

// Open sets up the SQLite database connection
func (store *SQLiteStore) Open() error {
	if err := validateSQLiteConfig(store.Settings); err != nil {
		return err
	}

	newLogger := createGormLogger(store.Settings.Main.Debug)

	db, err := gorm.Open(sqlite.Open(store.Settings.Output.SQLite.Path), &gorm.Config{Logger: newLogger})
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// The commit path relies on SQLite's single-writer semantics; keep
	// a single connection so transactions never contend for the file
	// with busy errors under test load.
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access SQLite connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	store.DB = db
	return performAutoMigration(db, store.Settings.Main.Debug, "SQLite", store.Settings.Output.SQLite.Path)
}

// Close closes the SQLite database connection
func (store *SQLiteStore) Close() error {
	if store.DB == nil {
		return nil
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
