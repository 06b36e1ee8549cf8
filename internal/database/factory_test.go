package database

import (
	"os"
	"path/filepath"
	"testing"

	"okm-go/internal/config"
	"okm-go/internal/vault"
)

func TestNewDatabaseFromConfig(t *testing.T) {
	opts := testOptions(vault.NewMemoryVault("test"), nil)

	t.Run("memory database", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.RepositoryConfig{Type: "memory"}, "host-1", opts)
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() error = %v", err)
		}
		defer got.Close()
		if got.Path() != ":memory:" {
			t.Errorf("Path() = %q, want :memory:", got.Path())
		}
	})

	t.Run("sqlite database", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "db")
		got, err := NewDatabaseFromConfig(config.RepositoryConfig{Type: "sqlite", DataDir: dir}, "host-1", opts)
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() error = %v", err)
		}
		defer got.Close()

		want := filepath.Join(dir, "host-1.db")
		if got.Path() != want {
			t.Errorf("Path() = %q, want %q", got.Path(), want)
		}
		if _, err := os.Stat(want); err != nil {
			t.Errorf("database file not created: %v", err)
		}
	})

	tests := []struct {
		name string
		cfg  config.RepositoryConfig
	}{
		{"sqlite without data_dir", config.RepositoryConfig{Type: "sqlite"}},
		{"unknown type", config.RepositoryConfig{Type: "unknown"}},
		{"badger is not relational", config.RepositoryConfig{Type: "badger", DataDir: "/tmp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewDatabaseFromConfig(tt.cfg, "host-1", opts)
			if err == nil {
				got.Close()
				t.Fatal("NewDatabaseFromConfig() error = nil, want error")
			}
			if got != nil {
				t.Error("NewDatabaseFromConfig() should return nil on error")
			}
		})
	}
}
