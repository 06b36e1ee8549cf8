package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"okm-go/internal/okm"
)

// ResolveDir returns the absolute form of rawPath, which must be an
// existing directory. Missing paths and non-directories wrap
// okm.ErrFileNotFound.
func ResolveDir(rawPath string) (string, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", absPath, okm.ErrFileNotFound)
		}
		return "", fmt.Errorf("stat %s: %w", absPath, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory: %w", absPath, okm.ErrFileNotFound)
	}
	return absPath, nil
}

// PrepareExportDir resolves rawPath for an export, creating it when it
// does not exist yet.
func PrepareExportDir(rawPath string) (string, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}
	return ResolveDir(absPath)
}
