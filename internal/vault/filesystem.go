package vault

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"okm-go/internal/okm"
)

// FileSystemVault stores objects as files below a root directory:
//
//	<root>/
//	  content/
//	    <k0k1>/<key>              (content fanned out by the first two key characters)
//	  snapshots/
//	    <instanceID>/<name>       (repository snapshots)
//	    <instanceID>/<name>.version
type FileSystemVault struct {
	name        string
	root        string
	contentDir  string
	snapshotDir string
}

// NewFileSystemVault creates the directory layout below root if needed.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	contentDir := filepath.Join(root, "content")
	snapshotDir := filepath.Join(root, "snapshots")

	for _, dir := range []string{contentDir, snapshotDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create vault directory: %w", err)
		}
	}

	return &FileSystemVault{
		name:        name,
		root:        root,
		contentDir:  contentDir,
		snapshotDir: snapshotDir,
	}, nil
}

// contentPath returns where key is stored. Keys must be plain file names.
func (v *FileSystemVault) contentPath(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid content key %q", key)
	}
	fan := key
	if len(fan) > 2 {
		fan = fan[:2]
	}
	return filepath.Join(v.contentDir, fan, key), nil
}

// PutContent stores content under key. An existing object is kept; the
// reader is still drained and its size checked.
func (v *FileSystemVault) PutContent(key string, r io.Reader, size int64) error {
	destPath, err := v.contentPath(key)
	if err != nil {
		return err
	}

	if _, err := os.Stat(destPath); err == nil {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create content directory: %w", err)
	}
	return writeAtomic(destPath, r, size)
}

func (v *FileSystemVault) GetContent(key string, w io.Writer) error {
	srcPath, err := v.contentPath(key)
	if err != nil {
		return err
	}
	return readInto(srcPath, w, "content not found: "+key)
}

func (v *FileSystemVault) snapshotPath(instanceID, name string) string {
	return filepath.Join(v.snapshotDir, instanceID, name)
}

// PutMetadata stores a snapshot, then its version marker.
func (v *FileSystemVault) PutMetadata(instanceID string, name string, r io.Reader, size int64, version int64) error {
	destPath := v.snapshotPath(instanceID, name)
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if err := writeAtomic(destPath, r, size); err != nil {
		return err
	}

	marker := strconv.FormatInt(version, 10)
	return writeAtomic(destPath+".version", strings.NewReader(marker), int64(len(marker)))
}

// GetMetadataVersion returns 0 if no version marker exists.
func (v *FileSystemVault) GetMetadataVersion(instanceID string, name string) (int64, error) {
	data, err := os.ReadFile(v.snapshotPath(instanceID, name) + ".version")
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

func (v *FileSystemVault) GetMetadata(instanceID string, name string, w io.Writer) error {
	return readInto(v.snapshotPath(instanceID, name), w,
		fmt.Sprintf("snapshot %q not found for instance: %s", name, instanceID))
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup() error {
	for _, dir := range []string{v.root, v.contentDir, v.snapshotDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeAtomic writes r to a temp file next to destPath and renames it into
// place once the size is verified.
func writeAtomic(destPath string, r io.Reader, expectedSize int64) error {
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	written, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && written != expectedSize {
		err = fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err == nil {
		err = os.Rename(tmpPath, destPath)
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", filepath.Base(destPath), err)
	}
	return nil
}

func readInto(srcPath string, w io.Writer, notFoundMsg string) error {
	f, err := os.Open(srcPath)
	if errors.Is(err, os.ErrNotExist) {
		return errors.New(notFoundMsg)
	}
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

var _ okm.Vault = (*FileSystemVault)(nil)
