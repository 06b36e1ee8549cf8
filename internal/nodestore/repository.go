package nodestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"okm-go/internal/okm"
)

// loadVersions returns the versions of a document oldest first. The last
// one is marked as the current version.
func loadVersions(txn *badger.Txn, docUUID string) ([]*versionRecord, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = keyVersionPrefix(docUUID)
	it := txn.NewIterator(opts)
	defer it.Close()

	var versions []*versionRecord
	for it.Rewind(); it.Valid(); it.Next() {
		var vr versionRecord
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &vr)
		})
		if err != nil {
			return nil, fmt.Errorf("decoding version of %s: %w", docUUID, dbError(err))
		}
		vr.Version.Actual = false
		versions = append(versions, &vr)
	}
	if len(versions) > 0 {
		versions[len(versions)-1].Version.Actual = true
	}
	return versions, nil
}

func currentVersion(txn *badger.Txn, docUUID string) (*versionRecord, error) {
	versions, err := loadVersions(txn, docUUID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("document %s has no current version: %w", docUUID, okm.ErrRepository)
	}
	return versions[len(versions)-1], nil
}

func toDocument(txn *badger.Txn, rec *nodeRecord) (*okm.Document, error) {
	if rec.Node.Type != okm.TypeDocument || rec.Document == nil {
		return nil, fmt.Errorf("%s is not a document: %w", rec.Node.Path, okm.ErrPathNotFound)
	}
	d := rec.Document
	doc := &okm.Document{
		Node:         rec.Node,
		Title:        d.Title,
		Description:  d.Description,
		Language:     d.Language,
		MimeType:     d.MimeType,
		LastModified: d.LastModified,
		CheckedOut:   d.CheckedOut,
		LockOwner:    d.LockOwner,
	}
	cur, err := currentVersion(txn, rec.Node.UUID)
	if err != nil {
		return nil, err
	}
	v := cur.Version
	doc.ActualVersion = &v
	return doc, nil
}

func toMail(rec *nodeRecord) (*okm.Mail, okm.ContentRef, error) {
	if rec.Node.Type != okm.TypeMail || rec.Mail == nil {
		return nil, okm.ContentRef{}, fmt.Errorf("%s is not a mail: %w", rec.Node.Path, okm.ErrPathNotFound)
	}
	m := rec.Mail
	return &okm.Mail{
		Node:         rec.Node,
		From:         m.From,
		ReplyTo:      m.ReplyTo,
		To:           m.To,
		Cc:           m.Cc,
		Bcc:          m.Bcc,
		Subject:      m.Subject,
		Content:      m.Content,
		MimeType:     m.MimeType,
		Size:         m.Ref.Size,
		SentDate:     m.SentDate,
		ReceivedDate: m.ReceivedDate,
	}, m.Ref, nil
}

// readable resolves path and checks the session may read it.
func (s *NodeStore) readable(ctx context.Context, txn *badger.Txn, path string) (*nodeRecord, error) {
	sess, err := okm.SessionFrom(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := findNode(txn, path)
	if err != nil {
		return nil, err
	}
	if err := okm.CheckAccess(sess, &rec.Node, okm.PermRead); err != nil {
		return nil, err
	}
	return rec, nil
}

// readNode resolves a readable node in its own read transaction.
func (s *NodeStore) readNode(ctx context.Context, path string) (*nodeRecord, error) {
	var rec *nodeRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = s.readable(ctx, txn, path)
		return err
	})
	return rec, err
}

func (s *NodeStore) GetNode(ctx context.Context, path string) (*okm.Node, error) {
	rec, err := s.readNode(ctx, path)
	if err != nil {
		return nil, err
	}
	return &rec.Node, nil
}

func (s *NodeStore) GetFolder(ctx context.Context, path string) (*okm.Folder, error) {
	rec, err := s.readNode(ctx, path)
	if err != nil {
		return nil, err
	}
	if rec.Node.Type != okm.TypeFolder {
		return nil, fmt.Errorf("%s is not a folder: %w", rec.Node.Path, okm.ErrPathNotFound)
	}
	return &okm.Folder{Node: rec.Node}, nil
}

func (s *NodeStore) GetDocument(ctx context.Context, path string) (*okm.Document, error) {
	var doc *okm.Document
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := s.readable(ctx, txn, path)
		if err != nil {
			return err
		}
		doc, err = toDocument(txn, rec)
		return err
	})
	return doc, err
}

func (s *NodeStore) GetMail(ctx context.Context, path string) (*okm.Mail, error) {
	rec, err := s.readNode(ctx, path)
	if err != nil {
		return nil, err
	}
	ml, _, err := toMail(rec)
	return ml, err
}

// GetChildren lists the children the session may read.
func (s *NodeStore) GetChildren(ctx context.Context, path string) ([]*okm.Node, error) {
	sess, err := okm.SessionFrom(ctx)
	if err != nil {
		return nil, err
	}
	var children []*okm.Node
	err = s.db.View(func(txn *badger.Txn) error {
		rec, err := s.readable(ctx, txn, path)
		if err != nil {
			return err
		}
		if rec.Node.Type == okm.TypeDocument {
			return fmt.Errorf("%s is a document: %w", rec.Node.Path, okm.ErrPathNotFound)
		}
		recs, err := listChildren(ctx, txn, rec.Node.UUID)
		if err != nil {
			return err
		}
		for _, c := range recs {
			if okm.CheckAccess(sess, &c.Node, okm.PermRead) == nil {
				children = append(children, &c.Node)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return children, nil
}

// parentFor resolves the parent of a node about to be created at path and
// checks the session may write to it. Mails only accept documents.
func (s *NodeStore) parentFor(txn *badger.Txn, sess *okm.Session, path string, allowMail bool) (*nodeRecord, error) {
	p, err := okm.CleanPath(path)
	if err != nil {
		return nil, err
	}
	if p == okm.RootPath {
		return nil, fmt.Errorf("cannot create %s: %w", p, okm.ErrItemExists)
	}
	parent, err := findNode(txn, okm.ParentPath(p))
	if err != nil {
		return nil, fmt.Errorf("parent of %s: %w", p, err)
	}
	if parent.Node.Type == okm.TypeDocument || (parent.Node.Type == okm.TypeMail && !allowMail) {
		return nil, fmt.Errorf("parent %s cannot hold %s: %w", parent.Node.Path, okm.BaseName(p), okm.ErrRepository)
	}
	if err := okm.CheckAccess(sess, &parent.Node, okm.PermWrite); err != nil {
		return nil, err
	}
	return parent, nil
}

// prepare applies creation or restore defaults to n and rejects it when
// its path or UUID is already taken.
func (s *NodeStore) prepare(txn *badger.Txn, n *okm.Node, parent *nodeRecord, sess *okm.Session, restore bool) error {
	var err error
	if restore {
		err = okm.ApplyRestoreDefaults(n, &parent.Node, sess, s.opts.Clock.Now(), s.opts.IDs)
	} else {
		err = okm.ApplyCreateDefaults(n, &parent.Node, sess, s.opts.Clock.Now(), s.opts.IDs)
	}
	if err != nil {
		return err
	}
	taken, err := nodeExists(txn, n.Path, n.UUID)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%s: %w", n.Path, okm.ErrItemExists)
	}
	return nil
}

func (s *NodeStore) CreateFolder(ctx context.Context, fld *okm.Folder) (*okm.Folder, error) {
	return s.createFolder(ctx, fld, false)
}

func (s *NodeStore) createFolder(ctx context.Context, fld *okm.Folder, restore bool) (*okm.Folder, error) {
	sess, err := okm.SessionFrom(ctx)
	if err != nil {
		return nil, err
	}
	n := fld.Node
	n.Type = okm.TypeFolder

	err = s.update(func(txn *badger.Txn) error {
		parent, err := s.parentFor(txn, sess, n.Path, false)
		if err != nil {
			return err
		}
		if err := s.prepare(txn, &n, parent, sess, restore); err != nil {
			return err
		}
		return putNode(txn, &nodeRecord{Node: n, Parent: parent.Node.UUID})
	})
	if err != nil {
		return nil, err
	}
	return &okm.Folder{Node: n}, nil
}

func (s *NodeStore) CreateDocument(ctx context.Context, doc *okm.Document, content io.Reader) (*okm.Document, error) {
	return s.createDocument(ctx, doc, content, false)
}

func (s *NodeStore) createDocument(ctx context.Context, doc *okm.Document, content io.Reader, restore bool) (*okm.Document, error) {
	sess, err := okm.SessionFrom(ctx)
	if err != nil {
		return nil, err
	}
	out := &okm.Document{Node: doc.Node}
	out.Type = okm.TypeDocument

	err = s.update(func(txn *badger.Txn) error {
		parent, err := s.parentFor(txn, sess, out.Path, true)
		if err != nil {
			return err
		}
		if err := s.prepare(txn, &out.Node, parent, sess, restore); err != nil {
			return err
		}

		used, err := usage(txn, sess.User)
		if err != nil {
			return err
		}
		ref, err := s.opts.Ingest(out.Name, content, used)
		if err != nil {
			return err
		}

		v := okm.Version{Name: okm.InitialVersion, Author: out.Author, Created: out.Created}
		out.MimeType = ref.MimeType
		out.LastModified = out.Created
		out.Title = doc.Title
		if restore {
			out.Description, out.Language = doc.Description, doc.Language
			if doc.MimeType != "" {
				out.MimeType = doc.MimeType
			}
			if !doc.LastModified.IsZero() {
				out.LastModified = doc.LastModified
			}
			if av := doc.ActualVersion; av != nil {
				restoreVersionFields(&v, av)
				if av.Checksum != "" && av.Checksum != ref.Checksum {
					s.opts.Logger.Warn("checksum differs from metadata", "path", out.Path, "metadata", av.Checksum, "content", ref.Checksum)
				}
			}
		}
		v.Size, v.Checksum, v.MimeType, v.Actual = ref.Size, ref.Checksum, out.MimeType, true

		rec := &nodeRecord{
			Node:   out.Node,
			Parent: parent.Node.UUID,
			Document: &documentData{
				Title:        out.Title,
				Description:  out.Description,
				Language:     out.Language,
				MimeType:     out.MimeType,
				LastModified: out.LastModified,
			},
		}
		if err := putNode(txn, rec); err != nil {
			return err
		}
		if err := insertVersion(txn, out.UUID, &v, ref); err != nil {
			return err
		}
		out.ActualVersion = &v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// restoreVersionFields copies the non-empty recorded fields of src onto v.
func restoreVersionFields(v *okm.Version, src *okm.Version) {
	if src.Name != "" {
		v.Name = src.Name
	}
	if src.Author != "" {
		v.Author = src.Author
	}
	if !src.Created.IsZero() {
		v.Created = src.Created
	}
	v.Comment = src.Comment
}

// insertVersion stores v after the existing versions of docUUID and
// charges its size to the version author.
func insertVersion(txn *badger.Txn, docUUID string, v *okm.Version, ref okm.ContentRef) error {
	versions, err := loadVersions(txn, docUUID)
	if err != nil {
		return err
	}
	for _, existing := range versions {
		if existing.Version.Name == v.Name {
			return fmt.Errorf("version %s already exists: %w", v.Name, okm.ErrVersion)
		}
	}

	stored := *v
	stored.Actual = false
	if err := put(txn, keyVersion(docUUID, len(versions)+1), versionRecord{Version: stored, Ref: ref}); err != nil {
		return fmt.Errorf("inserting version %s: %w", v.Name, err)
	}
	return addUsage(txn, v.Author, v.Size)
}

// appendVersion makes v the current version of the document and releases
// its checkout lock.
func appendVersion(txn *badger.Txn, rec *nodeRecord, v *okm.Version, ref okm.ContentRef, modified time.Time) error {
	v.Actual = true
	if err := insertVersion(txn, rec.Node.UUID, v, ref); err != nil {
		return err
	}
	rec.Document.MimeType = v.MimeType
	rec.Document.LastModified = modified
	rec.Document.CheckedOut = false
	rec.Document.LockOwner = ""
	if err := put(txn, keyNode(rec.Node.UUID), rec); err != nil {
		return fmt.Errorf("updating document %s: %w", rec.Node.Path, err)
	}
	return nil
}

func (s *NodeStore) CreateMail(ctx context.Context, ml *okm.Mail, raw io.Reader) (*okm.Mail, error) {
	return s.createMail(ctx, ml, raw, false)
}

func (s *NodeStore) createMail(ctx context.Context, ml *okm.Mail, raw io.Reader, restore bool) (*okm.Mail, error) {
	sess, err := okm.SessionFrom(ctx)
	if err != nil {
		return nil, err
	}
	out := *ml
	out.Type = okm.TypeMail

	err = s.update(func(txn *badger.Txn) error {
		parent, err := s.parentFor(txn, sess, out.Path, false)
		if err != nil {
			return err
		}
		if err := s.prepare(txn, &out.Node, parent, sess, restore); err != nil {
			return err
		}

		ref, err := s.opts.Blobs.Put(out.Name+".eml", raw)
		if err != nil {
			return err
		}
		if out.MimeType == "" {
			out.MimeType = ref.MimeType
		}
		out.Size = ref.Size
		if out.ReceivedDate.IsZero() {
			out.ReceivedDate = out.Created
		}

		return putNode(txn, &nodeRecord{
			Node:   out.Node,
			Parent: parent.Node.UUID,
			Mail: &mailData{
				From:         out.From,
				ReplyTo:      out.ReplyTo,
				To:           out.To,
				Cc:           out.Cc,
				Bcc:          out.Bcc,
				Subject:      out.Subject,
				Content:      out.Content,
				MimeType:     out.MimeType,
				SentDate:     out.SentDate,
				ReceivedDate: out.ReceivedDate,
				Ref:          ref,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// writableDocument loads the document at path for a state change.
func (s *NodeStore) writableDocument(txn *badger.Txn, sess *okm.Session, path string) (*nodeRecord, *okm.Document, error) {
	rec, err := findNode(txn, path)
	if err != nil {
		return nil, nil, err
	}
	doc, err := toDocument(txn, rec)
	if err != nil {
		return nil, nil, err
	}
	if err := okm.CheckAccess(sess, &doc.Node, okm.PermWrite); err != nil {
		return nil, nil, err
	}
	return rec, doc, nil
}

func setLock(txn *badger.Txn, rec *nodeRecord, owner string) error {
	rec.Document.CheckedOut = owner != ""
	rec.Document.LockOwner = owner
	if err := put(txn, keyNode(rec.Node.UUID), rec); err != nil {
		return fmt.Errorf("updating lock of %s: %w", rec.Node.Path, err)
	}
	return nil
}

func (s *NodeStore) Checkout(ctx context.Context, path string) error {
	sess, err := okm.SessionFrom(ctx)
	if err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		rec, doc, err := s.writableDocument(txn, sess, path)
		if err != nil {
			return err
		}
		if doc.CheckedOut {
			return fmt.Errorf("%s is checked out by %s: %w", doc.Path, doc.LockOwner, okm.ErrLocked)
		}
		return setLock(txn, rec, sess.User)
	})
}

func (s *NodeStore) CancelCheckout(ctx context.Context, path string) error {
	sess, err := okm.SessionFrom(ctx)
	if err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		rec, doc, err := s.writableDocument(txn, sess, path)
		if err != nil {
			return err
		}
		if err := checkLockOwner(doc, sess); err != nil {
			return err
		}
		return setLock(txn, rec, "")
	})
}

// checkLockOwner requires doc to be checked out by the session user.
func checkLockOwner(doc *okm.Document, sess *okm.Session) error {
	if !doc.CheckedOut {
		return fmt.Errorf("%s is not checked out: %w", doc.Path, okm.ErrVersion)
	}
	if doc.LockOwner != sess.User && !sess.IsAdmin() {
		return fmt.Errorf("%s is checked out by %s: %w", doc.Path, doc.LockOwner, okm.ErrLocked)
	}
	return nil
}

func (s *NodeStore) Checkin(ctx context.Context, path string, content io.Reader, comment string) (*okm.Version, error) {
	sess, err := okm.SessionFrom(ctx)
	if err != nil {
		return nil, err
	}
	var v okm.Version
	err = s.update(func(txn *badger.Txn) error {
		rec, doc, err := s.writableDocument(txn, sess, path)
		if err != nil {
			return err
		}
		if err := checkLockOwner(doc, sess); err != nil {
			return err
		}

		used, err := usage(txn, sess.User)
		if err != nil {
			return err
		}
		ref, err := s.opts.Ingest(doc.Name, content, used)
		if err != nil {
			return err
		}

		now := s.opts.Clock.Now()
		v = okm.Version{
			Name:     okm.NextVersion(doc.ActualVersion.Name),
			Author:   sess.User,
			Created:  now,
			Size:     ref.Size,
			Comment:  comment,
			MimeType: ref.MimeType,
			Checksum: ref.Checksum,
		}
		return appendVersion(txn, rec, &v, ref, now)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// contentRef locates the current content of a document or mail.
func contentRef(txn *badger.Txn, rec *nodeRecord) (okm.ContentRef, error) {
	switch rec.Node.Type {
	case okm.TypeDocument:
		cur, err := currentVersion(txn, rec.Node.UUID)
		if err != nil {
			return okm.ContentRef{}, err
		}
		return cur.Ref, nil
	case okm.TypeMail:
		_, ref, err := toMail(rec)
		return ref, err
	}
	return okm.ContentRef{}, fmt.Errorf("%s has no content: %w", rec.Node.Path, okm.ErrPathNotFound)
}

func (s *NodeStore) GetContent(ctx context.Context, path string, w io.Writer) (int64, error) {
	var ref okm.ContentRef
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := s.readable(ctx, txn, path)
		if err != nil {
			return err
		}
		ref, err = contentRef(txn, rec)
		return err
	})
	if err != nil {
		return 0, err
	}
	return s.opts.Blobs.Read(ref, w)
}

// documentVersions resolves a readable document and its versions.
func (s *NodeStore) documentVersions(ctx context.Context, path string) (*nodeRecord, []*versionRecord, error) {
	var rec *nodeRecord
	var versions []*versionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = s.readable(ctx, txn, path)
		if err != nil {
			return err
		}
		if rec.Node.Type != okm.TypeDocument {
			return fmt.Errorf("%s is not a document: %w", rec.Node.Path, okm.ErrPathNotFound)
		}
		versions, err = loadVersions(txn, rec.Node.UUID)
		return err
	})
	return rec, versions, err
}

func (s *NodeStore) GetVersionHistory(ctx context.Context, path string) ([]*okm.Version, error) {
	_, versions, err := s.documentVersions(ctx, path)
	if err != nil {
		return nil, err
	}
	history := make([]*okm.Version, len(versions))
	for i, vr := range versions {
		v := vr.Version
		history[i] = &v
	}
	return history, nil
}

func (s *NodeStore) GetContentByVersion(ctx context.Context, path, version string, w io.Writer) (int64, error) {
	rec, versions, err := s.documentVersions(ctx, path)
	if err != nil {
		return 0, err
	}
	for _, vr := range versions {
		if vr.Version.Name == version {
			return s.opts.Blobs.Read(vr.Ref, w)
		}
	}
	return 0, fmt.Errorf("%s has no version %s: %w", rec.Node.Path, version, okm.ErrVersion)
}
