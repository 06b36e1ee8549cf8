package okm

import (
	"context"
	"io"
	"time"
)

// Repository is the plain node API shared by both storage backends.
// Every call reads the acting user from the context session.
type Repository interface {
	// GetNode returns the common attributes of the node at path.
	GetNode(ctx context.Context, path string) (*Node, error)
	GetFolder(ctx context.Context, path string) (*Folder, error)
	GetDocument(ctx context.Context, path string) (*Document, error)
	GetMail(ctx context.Context, path string) (*Mail, error)

	// GetChildren lists the direct children of a folder or mail, sorted by name.
	GetChildren(ctx context.Context, path string) ([]*Node, error)

	// CreateFolder creates fld.Path. Author, timestamps, UUID and grants are
	// assigned by the repository; grants are inherited from the parent.
	CreateFolder(ctx context.Context, fld *Folder) (*Folder, error)

	// CreateDocument creates doc.Path with content as version 1.0.
	CreateDocument(ctx context.Context, doc *Document, content io.Reader) (*Document, error)

	// CreateMail creates mail.Path and stores raw as the original message.
	CreateMail(ctx context.Context, mail *Mail, raw io.Reader) (*Mail, error)

	// Checkout locks a document for the session user.
	Checkout(ctx context.Context, path string) error
	CancelCheckout(ctx context.Context, path string) error

	// Checkin stores content as a new version and releases the checkout lock.
	Checkin(ctx context.Context, path string, content io.Reader, comment string) (*Version, error)

	// GetContent writes the current content of a document, or the original
	// message of a mail, to w.
	GetContent(ctx context.Context, path string, w io.Writer) (int64, error)
	GetVersionHistory(ctx context.Context, path string) ([]*Version, error)
	GetContentByVersion(ctx context.Context, path, version string, w io.Writer) (int64, error)
}

// Operation records one CLI invocation that mutated the repository.
type Operation struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt *time.Time
	Operation  string
	Parameters string
	Status     string
}

// OperationLog persists operation records next to the repository data.
type OperationLog interface {
	CreateOperation(operation, parameters string) (*Operation, error)
	FinishOperation(id int64, status string) error
	ListOperations(limit int) ([]*Operation, error)
	MaxOperationID() (int64, error)
}
