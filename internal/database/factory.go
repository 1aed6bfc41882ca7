package database

import (
	"fmt"
	"os"
	"path/filepath"

	"appkeep/internal/config"
	"appkeep/internal/keep"
)

// NewDatabaseFromConfig opens the catalog named by the config type. A
// sqlite catalog lives at {data_dir}/{hostID}.db; data_dir is created when
// missing.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, hostID string, clock keep.Clock) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if hostID == "" {
			return nil, fmt.Errorf("host_id required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, hostID+".db"), clock)
	case "memory":
		return NewSQLiteDatabase(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown database type: %q", cfg.Type)
	}
}
