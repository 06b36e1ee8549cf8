package okm

import (
	"fmt"
	"io"
)

// StoreOptions carries the collaborators shared by the repository backends.
type StoreOptions struct {
	Blobs  *BlobStore
	Policy *UploadPolicy
	Clock  Clock
	IDs    IDGenerator
	Logger Logger

	// RootRoles are the role grants of a newly initialized root folder.
	RootRoles Grants
}

// WithDefaults fills unset collaborators with production implementations.
// Blobs must be set by the caller.
func (o StoreOptions) WithDefaults() (StoreOptions, error) {
	if o.Blobs == nil {
		return o, fmt.Errorf("blob store required: %w", ErrRepository)
	}
	if o.Clock == nil {
		o.Clock = RealClock{}
	}
	if o.IDs == nil {
		o.IDs = UUIDGenerator{}
	}
	if o.Logger == nil {
		o.Logger = NewNopLogger()
	}
	return o, nil
}

// Ingest spools r, checks it against the upload policy for a user already
// storing used bytes, and commits it to the vault.
func (o StoreOptions) Ingest(name string, r io.Reader, used int64) (ContentRef, error) {
	sp, err := o.Blobs.Spool(name, r)
	if err != nil {
		return ContentRef{}, err
	}
	defer sp.Remove()

	if err := o.Policy.Check(sp, used); err != nil {
		o.Logger.Warn("upload rejected", "name", name, "size", sp.Size, "mime", sp.MimeType, "error", err)
		return ContentRef{}, err
	}
	return o.Blobs.Commit(sp)
}
