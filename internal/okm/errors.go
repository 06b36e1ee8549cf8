package okm

import (
	"context"
	"errors"
	"fmt"
)

// Structural errors abort a whole import, export or check.
var (
	ErrPathNotFound  = errors.New("path not found")
	ErrAccessDenied  = errors.New("access denied")
	ErrFileNotFound  = errors.New("file not found")
	ErrRepository    = errors.New("repository error")
	ErrDatabase      = errors.New("database error")
	ErrNotAuthorized = errors.New("no session in context")
)

// Item errors concern a single node. Walkers record them and continue.
var (
	ErrItemExists          = errors.New("item already exists")
	ErrLocked              = errors.New("node is locked")
	ErrVersion             = errors.New("version conflict")
	ErrUnsupportedMimeType = errors.New("unsupported mime type")
	ErrFileSizeExceeded    = errors.New("file size exceeded")
	ErrUserQuotaExceeded   = errors.New("user quota exceeded")
	ErrVirusDetected       = errors.New("virus detected")
	ErrMalformedMetadata   = errors.New("malformed metadata")
	ErrContentUnreadable   = errors.New("content unreadable")
)

var itemErrors = []struct {
	err error
	tag string
}{
	{ErrItemExists, "ItemExists"},
	{ErrLocked, "Lock"},
	{ErrVersion, "Version"},
	{ErrUnsupportedMimeType, "UnsupportedMimeType"},
	{ErrFileSizeExceeded, "FileSizeExceeded"},
	{ErrUserQuotaExceeded, "UserQuotaExceeded"},
	{ErrVirusDetected, "VirusDetected"},
	{ErrMalformedMetadata, "MalformedMetadata"},
	{ErrContentUnreadable, "ContentUnreadable"},
}

// IsItemError reports whether err affects only the node being processed.
func IsItemError(err error) bool {
	for _, ie := range itemErrors {
		if errors.Is(err, ie.err) {
			return true
		}
	}
	return false
}

// Unreadable marks a failure to read one node's stored content or record
// as an item error. Cancellation and errors that already name an item
// failure pass through unchanged.
func Unreadable(err error) error {
	if err == nil || IsItemError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrContentUnreadable, err)
}

// ErrorTag returns the short tag written to progress output for err.
func ErrorTag(err error) string {
	if err == nil {
		return ""
	}
	for _, ie := range itemErrors {
		if errors.Is(err, ie.err) {
			return ie.tag
		}
	}
	switch {
	case errors.Is(err, ErrPathNotFound):
		return "PathNotFound"
	case errors.Is(err, ErrAccessDenied):
		return "AccessDenied"
	case errors.Is(err, ErrDatabase):
		return "Database"
	}
	return "Repository"
}
