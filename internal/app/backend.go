package app

import (
	"fmt"

	"okm-go/internal/config"
	"okm-go/internal/database"
	"okm-go/internal/impexp"
	"okm-go/internal/nodestore"
	"okm-go/internal/okm"
)

// Backend is a repository store together with the operation log and
// snapshot support the app drives around every command.
type Backend interface {
	okm.Repository
	okm.OperationLog
	impexp.MetadataAdapter
	impexp.Checker

	// BackupTo writes a consistent snapshot of the store to destPath.
	BackupTo(destPath string) error
	Close() error
}

var (
	_ Backend = (*database.SQLiteDatabase)(nil)
	_ Backend = (*nodestore.NodeStore)(nil)
)

// NewBackendFromConfig opens the backend selected by cfg.Type.
func NewBackendFromConfig(cfg config.RepositoryConfig, instanceID string, opts okm.StoreOptions) (Backend, error) {
	switch cfg.Type {
	case "sqlite", "memory":
		db, err := database.NewDatabaseFromConfig(cfg, instanceID, opts)
		if err != nil {
			return nil, err
		}
		if err := db.CheckMigrations(); err != nil {
			db.Close()
			return nil, fmt.Errorf("database schema out of date: %w", err)
		}
		return db, nil
	case "badger":
		s, err := nodestore.NewNodeStoreFromConfig(cfg, instanceID, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown repository type: %s", cfg.Type)
	}
}

// NewUploadPolicy builds the policy applied to every new document version.
func NewUploadPolicy(cfg config.UploadConfig) *okm.UploadPolicy {
	p := &okm.UploadPolicy{
		MaxFileSize:     cfg.MaxFileSize,
		UserQuota:       cfg.UserQuota,
		DeniedMimeTypes: cfg.DeniedMimeTypes,
	}
	if cfg.Antivirus {
		p.Scanner = okm.NewEICARScanner()
	}
	return p
}
