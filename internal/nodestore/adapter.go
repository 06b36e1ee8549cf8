package nodestore

import (
	"context"
	"fmt"
	"io"

	badger "github.com/dgraph-io/badger/v4"

	"okm-go/internal/impexp"
	"okm-go/internal/okm"
)

func (s *NodeStore) ImportFolder(ctx context.Context, meta *impexp.FolderMetadata) (*okm.Folder, error) {
	return s.createFolder(ctx, meta.Folder(), true)
}

func (s *NodeStore) ImportDocument(ctx context.Context, meta *impexp.DocumentMetadata, content io.Reader) (*okm.Document, error) {
	return s.createDocument(ctx, meta.Document(), content, true)
}

func (s *NodeStore) ImportMail(ctx context.Context, meta *impexp.MailMetadata, raw io.Reader) (*okm.Mail, error) {
	return s.createMail(ctx, meta.Mail(), raw, true)
}

// ImportVersion appends a version to docPath with the recorded name,
// author, date and comment. Without a recorded name the next minor version
// is used.
func (s *NodeStore) ImportVersion(ctx context.Context, docPath string, meta *impexp.VersionMetadata, content io.Reader) (*okm.Version, error) {
	sess, err := okm.SessionFrom(ctx)
	if err != nil {
		return nil, err
	}

	var v okm.Version
	err = s.update(func(txn *badger.Txn) error {
		rec, doc, err := s.writableDocument(txn, sess, docPath)
		if err != nil {
			return err
		}
		if doc.CheckedOut && doc.LockOwner != sess.User {
			return fmt.Errorf("%s is checked out by %s: %w", doc.Path, doc.LockOwner, okm.ErrLocked)
		}

		used, err := usage(txn, sess.User)
		if err != nil {
			return err
		}
		ref, err := s.opts.Ingest(doc.Name, content, used)
		if err != nil {
			return err
		}

		v = okm.Version{
			Name:    okm.NextVersion(doc.ActualVersion.Name),
			Author:  sess.User,
			Created: s.opts.Clock.Now(),
		}
		restoreVersionFields(&v, meta.VersionInfo())
		v.Size, v.Checksum, v.MimeType = ref.Size, ref.Checksum, ref.MimeType
		if meta.MimeType != "" {
			v.MimeType = meta.MimeType
		}
		return appendVersion(txn, rec, &v, ref, v.Created)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

var _ impexp.MetadataAdapter = (*NodeStore)(nil)
