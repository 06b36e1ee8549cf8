package okm

import "io"

// Vault stores document content and repository snapshots.
// All operations stream through io.Reader/io.Writer so large documents
// never have to fit in memory.
type Vault interface {
	// PutContent stores content identified by its storage key.
	// Storing the same key twice is safe.
	// size is the number of bytes that will be read from r.
	PutContent(key string, r io.Reader, size int64) error

	// GetContent retrieves content by key and writes it to w.
	GetContent(key string, w io.Writer) error

	// PutMetadata stores a named snapshot for a repository instance.
	// version is stored alongside for consistency checks.
	// Known names: "repository" (backend snapshot).
	PutMetadata(instanceID string, name string, r io.Reader, size int64, version int64) error

	// GetMetadata retrieves a named snapshot and writes it to w.
	GetMetadata(instanceID string, name string, w io.Writer) error

	// GetMetadataVersion returns the stored version of a named snapshot,
	// or 0 if none has been stored.
	GetMetadataVersion(instanceID string, name string) (int64, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}
