package database

import (
	"fmt"
	"os"
	"path/filepath"

	"zipdaemon/internal/config"
	"zipdaemon/internal/zipd"
)

// DBFileName is the ledger file created inside data_dir.
const DBFileName = "zipdaemon.db"

// NewDatabaseFromConfig creates a Ledger based on the database config type.
// Type "none" (or empty) disables the ledger and returns nil.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (zipd.Ledger, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		db, err := NewSQLiteDatabase(filepath.Join(cfg.DataDir, DBFileName))
		if err != nil {
			return nil, err
		}
		return db, nil
	case "memory":
		db, err := NewSQLiteDatabase(":memory:")
		if err != nil {
			return nil, err
		}
		return db, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
