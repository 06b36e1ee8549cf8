package testutil

import (
	"testing"

	"okm-go/internal/database"
	"okm-go/internal/impexp"
	"okm-go/internal/nodestore"
	"okm-go/internal/okm"
	"okm-go/internal/vault"
)

// Backend is the surface the import, export and check tests drive.
type Backend interface {
	okm.Repository
	impexp.MetadataAdapter
	impexp.Checker
}

// BackendFactory opens a fresh backend for a test.
type BackendFactory struct {
	Name string
	Open func(t *testing.T, opts okm.StoreOptions) Backend
}

// Backends lists both repository backends so tests can run against each.
func Backends() []BackendFactory {
	return []BackendFactory{
		{Name: "sqlite", Open: func(t *testing.T, opts okm.StoreOptions) Backend { return NewTestDatabase(t, opts) }},
		{Name: "badger", Open: func(t *testing.T, opts okm.StoreOptions) Backend { return NewTestNodeStore(t, opts) }},
	}
}

// NewTestStoreOptions returns deterministic backend options storing
// plaintext content in v. The root folder grants ROLE_USER read and write.
func NewTestStoreOptions(v *vault.MemoryVault) okm.StoreOptions {
	return okm.StoreOptions{
		Blobs:     okm.NewBlobStore(v, nil),
		Clock:     FixedClock(),
		IDs:       NewSeqIDs(),
		Logger:    okm.NewNopLogger(),
		RootRoles: okm.Grants{"ROLE_USER": okm.PermRead | okm.PermWrite},
	}
}

// NewTestDatabase creates a new in-memory SQLite repository.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T, opts okm.StoreOptions) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:", opts)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// NewTestNodeStore creates a new in-memory badger repository.
// The store is automatically closed when the test completes.
func NewTestNodeStore(t *testing.T, opts okm.StoreOptions) *nodestore.NodeStore {
	t.Helper()

	s, err := nodestore.NewNodeStore("", opts)
	if err != nil {
		t.Fatalf("failed to open node store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}
