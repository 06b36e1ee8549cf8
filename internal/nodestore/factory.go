package nodestore

import (
	"fmt"
	"os"
	"path/filepath"

	"okm-go/internal/config"
	"okm-go/internal/okm"
)

// NewNodeStoreFromConfig opens the badger backend for instanceID below
// cfg.DataDir.
func NewNodeStoreFromConfig(cfg config.RepositoryConfig, instanceID string, opts okm.StoreOptions) (*NodeStore, error) {
	switch cfg.Type {
	case "badger":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for badger repository")
		}
		dir := filepath.Join(cfg.DataDir, instanceID+".badger")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return NewNodeStore(dir, opts)
	default:
		return nil, fmt.Errorf("unknown node store type: %s", cfg.Type)
	}
}
