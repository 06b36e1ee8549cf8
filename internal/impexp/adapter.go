package impexp

import (
	"context"
	"io"

	"okm-go/internal/okm"
)

// MetadataAdapter creates nodes from sidecar snapshots, honoring the
// author, timestamps, UUID, grants, notes and property groups they carry.
// Snapshot fields left empty fall back to the session user and the current
// time; empty grant maps inherit the parent's grants. A failing call leaves
// no partial node behind.
type MetadataAdapter interface {
	ImportFolder(ctx context.Context, meta *FolderMetadata) (*okm.Folder, error)
	ImportDocument(ctx context.Context, meta *DocumentMetadata, content io.Reader) (*okm.Document, error)

	// ImportVersion appends a version to an existing document.
	ImportVersion(ctx context.Context, docPath string, meta *VersionMetadata, content io.Reader) (*okm.Version, error)

	ImportMail(ctx context.Context, meta *MailMetadata, raw io.Reader) (*okm.Mail, error)
}

// Checker walks a live repository reading every node's content.
type Checker interface {
	CheckDocuments(ctx context.Context, basePath string, includeVersions bool, out io.Writer, deco InfoDecorator) (ImpExpStats, error)
}
