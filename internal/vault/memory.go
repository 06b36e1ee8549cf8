package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"okm-go/internal/okm"
)

// MemoryVault keeps content and snapshots in maps. It is safe for
// concurrent use and backs the "memory" vault type and most tests.
type MemoryVault struct {
	name      string
	mu        sync.RWMutex
	content   map[string][]byte // storage key -> bytes
	snapshots map[string][]byte // "instanceID/name" -> bytes
	versions  map[string]int64  // "instanceID/name" -> snapshot version
}

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:      name,
		content:   make(map[string][]byte),
		snapshots: make(map[string][]byte),
		versions:  make(map[string]int64),
	}
}

func snapshotKey(instanceID, name string) string {
	return instanceID + "/" + name
}

// readExactly reads r to the end and checks it produced size bytes.
func readExactly(r io.Reader, size int64) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}
	return data, nil
}

func (m *MemoryVault) PutContent(key string, r io.Reader, size int64) error {
	data, err := readExactly(r, size)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[key] = data
	return nil
}

func (m *MemoryVault) GetContent(key string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.content[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("content not found in vault %s: %s", m.name, key)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

// DeleteContent drops the object stored under key. Tests use it to
// simulate lost content.
func (m *MemoryVault) DeleteContent(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.content, key)
}

// ContentKeys returns the number of stored content objects.
func (m *MemoryVault) ContentKeys() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.content)
}

func (m *MemoryVault) PutMetadata(instanceID string, name string, r io.Reader, size int64, version int64) error {
	data, err := readExactly(r, size)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := snapshotKey(instanceID, name)
	m.snapshots[key] = data
	m.versions[key] = version
	return nil
}

func (m *MemoryVault) GetMetadata(instanceID string, name string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.snapshots[snapshotKey(instanceID, name)]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("snapshot %q not found for instance: %s", name, instanceID)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// GetMetadataVersion returns 0 when nothing was stored for instanceID/name.
func (m *MemoryVault) GetMetadataVersion(instanceID string, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[snapshotKey(instanceID, name)], nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

var _ okm.Vault = (*MemoryVault)(nil)
