package database

import (
	"fmt"
	"os"
	"path/filepath"

	"okm-go/internal/config"
	"okm-go/internal/okm"
)

// NewDatabaseFromConfig opens the relational backend selected by cfg.Type.
func NewDatabaseFromConfig(cfg config.RepositoryConfig, instanceID string, opts okm.StoreOptions) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite repository")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, instanceID+".db"), opts)
	case "memory":
		return NewSQLiteDatabase(":memory:", opts)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
