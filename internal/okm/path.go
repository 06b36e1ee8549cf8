package okm

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// RootPath is the path of the repository root folder.
const RootPath = "/okm:root"

// InitialVersion is the name given to the first version of a document.
const InitialVersion = "1.0"

// JoinPath returns the child path of name below parent.
func JoinPath(parent, name string) string {
	return strings.TrimSuffix(parent, "/") + "/" + name
}

// ParentPath returns the path of the node containing p.
func ParentPath(p string) string {
	return path.Dir(p)
}

// BaseName returns the last element of p.
func BaseName(p string) string {
	return path.Base(p)
}

// CleanPath normalizes p and rejects paths outside the repository root.
func CleanPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path: %w", ErrPathNotFound)
	}
	clean := path.Clean(p)
	if clean != RootPath && !strings.HasPrefix(clean, RootPath+"/") {
		return "", fmt.Errorf("%s is outside %s: %w", p, RootPath, ErrPathNotFound)
	}
	return clean, nil
}

// ValidateName rejects names that cannot be used as a path element.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return fmt.Errorf("invalid node name %q: %w", name, ErrRepository)
	}
	return nil
}

// NextVersion returns the version name that follows current.
// "1.0" becomes "1.1"; names without a minor part gain one.
func NextVersion(current string) string {
	if current == "" {
		return InitialVersion
	}
	i := strings.LastIndex(current, ".")
	if i < 0 {
		return current + ".1"
	}
	minor, err := strconv.Atoi(current[i+1:])
	if err != nil {
		return current + ".1"
	}
	return current[:i+1] + strconv.Itoa(minor+1)
}
