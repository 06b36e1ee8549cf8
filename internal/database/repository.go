package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"okm-go/internal/okm"
)

var versionColumns = []string{"name", "author", "created_at", "size", "comment", "mime_type", "checksum", "storage_key", "encrypted", "current"}

// versionRow is a stored version with the location of its content.
type versionRow struct {
	okm.Version
	ref okm.ContentRef
}

func scanVersion(r rowScanner) (*versionRow, error) {
	var v versionRow
	if err := r.Scan(&v.Name, &v.Author, &v.Created, &v.Size, &v.Comment, &v.MimeType,
		&v.Checksum, &v.ref.StorageKey, &v.ref.Encrypted, &v.Actual); err != nil {
		return nil, err
	}
	v.ref.Checksum = v.Checksum
	v.ref.Size = v.Size
	v.ref.MimeType = v.MimeType
	return &v, nil
}

func loadVersions(ctx context.Context, q querier, docUUID string) ([]*versionRow, error) {
	var versions []*versionRow
	err := queryAll(ctx, q,
		qb().Select(versionColumns...).From("node_versions").Where(sq.Eq{"document_uuid": docUUID}).OrderBy("id"),
		func(rows *sql.Rows) error {
			v, err := scanVersion(rows)
			if err != nil {
				return err
			}
			versions = append(versions, v)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("loading versions: %w", err)
	}
	return versions, nil
}

func currentVersion(ctx context.Context, q querier, docUUID string) (*versionRow, error) {
	row, err := queryRow(ctx, q, qb().Select(versionColumns...).From("node_versions").
		Where(sq.Eq{"document_uuid": docUUID, "current": true}))
	if err != nil {
		return nil, err
	}
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s has no current version: %w", docUUID, okm.ErrRepository)
	}
	if err != nil {
		return nil, dbError(err)
	}
	return v, nil
}

func loadDocument(ctx context.Context, q querier, n *nodeRow) (*okm.Document, *versionRow, error) {
	if n.Type != okm.TypeDocument {
		return nil, nil, fmt.Errorf("%s is not a document: %w", n.Path, okm.ErrPathNotFound)
	}
	row, err := queryRow(ctx, q, qb().
		Select("title", "description", "language", "mime_type", "last_modified", "checked_out", "lock_owner").
		From("node_documents").Where(sq.Eq{"uuid": n.UUID}))
	if err != nil {
		return nil, nil, err
	}
	doc := &okm.Document{Node: n.Node}
	if err := row.Scan(&doc.Title, &doc.Description, &doc.Language, &doc.MimeType,
		&doc.LastModified, &doc.CheckedOut, &doc.LockOwner); err != nil {
		return nil, nil, fmt.Errorf("loading document %s: %w", n.Path, dbError(err))
	}
	cur, err := currentVersion(ctx, q, n.UUID)
	if err != nil {
		return nil, nil, err
	}
	v := cur.Version
	doc.ActualVersion = &v
	return doc, cur, nil
}

func loadMail(ctx context.Context, q querier, n *nodeRow) (*okm.Mail, okm.ContentRef, error) {
	if n.Type != okm.TypeMail {
		return nil, okm.ContentRef{}, fmt.Errorf("%s is not a mail: %w", n.Path, okm.ErrPathNotFound)
	}
	row, err := queryRow(ctx, q, qb().
		Select("sender", "reply_to", "recipients_to", "recipients_cc", "recipients_bcc", "subject", "content",
			"mime_type", "size", "sent_date", "received_date", "checksum", "storage_key", "encrypted").
		From("node_mails").Where(sq.Eq{"uuid": n.UUID}))
	if err != nil {
		return nil, okm.ContentRef{}, err
	}

	ml := &okm.Mail{Node: n.Node}
	var replyTo, to, cc, bcc string
	var sent, received sql.NullTime
	var ref okm.ContentRef
	if err := row.Scan(&ml.From, &replyTo, &to, &cc, &bcc, &ml.Subject, &ml.Content, &ml.MimeType, &ml.Size,
		&sent, &received, &ref.Checksum, &ref.StorageKey, &ref.Encrypted); err != nil {
		return nil, okm.ContentRef{}, fmt.Errorf("loading mail %s: %w", n.Path, dbError(err))
	}
	ml.ReplyTo = splitList(replyTo)
	ml.To = splitList(to)
	ml.Cc = splitList(cc)
	ml.Bcc = splitList(bcc)
	ml.SentDate = sent.Time
	ml.ReceivedDate = received.Time
	ref.Size = ml.Size
	ref.MimeType = ml.MimeType
	return ml, ref, nil
}

func joinList(v []string) string {
	return strings.Join(v, "\n")
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, "\n")
}

// readable resolves path and checks the session may read it.
func (s *SQLiteDatabase) readable(ctx context.Context, path string) (*nodeRow, error) {
	sess, err := okm.SessionFrom(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.findNode(ctx, s.db, path)
	if err != nil {
		return nil, err
	}
	if err := okm.CheckAccess(sess, &n.Node, okm.PermRead); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *SQLiteDatabase) GetNode(ctx context.Context, path string) (*okm.Node, error) {
	n, err := s.readable(ctx, path)
	if err != nil {
		return nil, err
	}
	return &n.Node, nil
}

func (s *SQLiteDatabase) GetFolder(ctx context.Context, path string) (*okm.Folder, error) {
	n, err := s.readable(ctx, path)
	if err != nil {
		return nil, err
	}
	if n.Type != okm.TypeFolder {
		return nil, fmt.Errorf("%s is not a folder: %w", n.Path, okm.ErrPathNotFound)
	}
	return &okm.Folder{Node: n.Node}, nil
}

func (s *SQLiteDatabase) GetDocument(ctx context.Context, path string) (*okm.Document, error) {
	n, err := s.readable(ctx, path)
	if err != nil {
		return nil, err
	}
	doc, _, err := loadDocument(ctx, s.db, n)
	return doc, err
}

func (s *SQLiteDatabase) GetMail(ctx context.Context, path string) (*okm.Mail, error) {
	n, err := s.readable(ctx, path)
	if err != nil {
		return nil, err
	}
	ml, _, err := loadMail(ctx, s.db, n)
	return ml, err
}

// GetChildren lists the children the session may read.
func (s *SQLiteDatabase) GetChildren(ctx context.Context, path string) ([]*okm.Node, error) {
	sess, err := okm.SessionFrom(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.readable(ctx, path)
	if err != nil {
		return nil, err
	}
	if n.Type == okm.TypeDocument {
		return nil, fmt.Errorf("%s is a document: %w", n.Path, okm.ErrPathNotFound)
	}
	rows, err := s.listChildren(ctx, s.db, n.UUID)
	if err != nil {
		return nil, err
	}
	children := make([]*okm.Node, 0, len(rows))
	for _, c := range rows {
		if okm.CheckAccess(sess, &c.Node, okm.PermRead) == nil {
			children = append(children, &c.Node)
		}
	}
	return children, nil
}

// parentFor resolves the parent of a node about to be created at path and
// checks the session may write to it. Documents may also be created below
// mails, as attachments.
func (s *SQLiteDatabase) parentFor(ctx context.Context, q querier, sess *okm.Session, path string, allowMail bool) (*nodeRow, error) {
	p, err := okm.CleanPath(path)
	if err != nil {
		return nil, err
	}
	if p == okm.RootPath {
		return nil, fmt.Errorf("cannot create %s: %w", p, okm.ErrItemExists)
	}
	parent, err := s.findNode(ctx, q, okm.ParentPath(p))
	if err != nil {
		return nil, fmt.Errorf("parent of %s: %w", p, err)
	}
	if parent.Type == okm.TypeDocument || (parent.Type == okm.TypeMail && !allowMail) {
		return nil, fmt.Errorf("parent %s cannot hold %s: %w", parent.Path, okm.BaseName(p), okm.ErrRepository)
	}
	if err := okm.CheckAccess(sess, &parent.Node, okm.PermWrite); err != nil {
		return nil, err
	}
	return parent, nil
}

// prepare applies creation or restore defaults to n and rejects it when
// its path or UUID is already taken.
func (s *SQLiteDatabase) prepare(ctx context.Context, q querier, n *okm.Node, parent *nodeRow, sess *okm.Session, restore bool) error {
	var err error
	if restore {
		err = okm.ApplyRestoreDefaults(n, &parent.Node, sess, s.opts.Clock.Now(), s.opts.IDs)
	} else {
		err = okm.ApplyCreateDefaults(n, &parent.Node, sess, s.opts.Clock.Now(), s.opts.IDs)
	}
	if err != nil {
		return err
	}
	exists, err := nodeExists(ctx, q, n.Path, n.UUID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%s: %w", n.Path, okm.ErrItemExists)
	}
	return nil
}

func (s *SQLiteDatabase) CreateFolder(ctx context.Context, fld *okm.Folder) (*okm.Folder, error) {
	return s.createFolder(ctx, fld, false)
}

func (s *SQLiteDatabase) createFolder(ctx context.Context, fld *okm.Folder, restore bool) (*okm.Folder, error) {
	sess, err := okm.SessionFrom(ctx)
	if err != nil {
		return nil, err
	}
	n := fld.Node
	n.Type = okm.TypeFolder

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		parent, err := s.parentFor(ctx, tx, sess, n.Path, false)
		if err != nil {
			return err
		}
		if err := s.prepare(ctx, tx, &n, parent, sess, restore); err != nil {
			return err
		}
		return insertNode(ctx, tx, &n, parent.UUID)
	})
	if err != nil {
		return nil, err
	}
	return &okm.Folder{Node: n}, nil
}

func (s *SQLiteDatabase) CreateDocument(ctx context.Context, doc *okm.Document, content io.Reader) (*okm.Document, error) {
	return s.createDocument(ctx, doc, content, false)
}

func (s *SQLiteDatabase) createDocument(ctx context.Context, doc *okm.Document, content io.Reader, restore bool) (*okm.Document, error) {
	sess, err := okm.SessionFrom(ctx)
	if err != nil {
		return nil, err
	}
	out := &okm.Document{Node: doc.Node}
	out.Type = okm.TypeDocument

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		parent, err := s.parentFor(ctx, tx, sess, out.Path, true)
		if err != nil {
			return err
		}
		if err := s.prepare(ctx, tx, &out.Node, parent, sess, restore); err != nil {
			return err
		}

		used, err := usage(ctx, tx, sess.User)
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
		if restore {
			out.Title, out.Description, out.Language = doc.Title, doc.Description, doc.Language
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
		} else {
			out.Title = doc.Title
		}
		v.Size, v.Checksum, v.MimeType, v.Actual = ref.Size, ref.Checksum, out.MimeType, true

		if err := insertNode(ctx, tx, &out.Node, parent.UUID); err != nil {
			return err
		}
		_, err = exec(ctx, tx, qb().Insert("node_documents").
			Columns("uuid", "title", "description", "language", "mime_type", "last_modified").
			Values(out.UUID, out.Title, out.Description, out.Language, out.MimeType, out.LastModified))
		if err != nil {
			return fmt.Errorf("inserting document %s: %w", out.Path, err)
		}
		if err := insertVersion(ctx, tx, out.UUID, &v, ref); err != nil {
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

func insertVersion(ctx context.Context, q querier, docUUID string, v *okm.Version, ref okm.ContentRef) error {
	_, err := exec(ctx, q, qb().Insert("node_versions").
		Columns(append([]string{"document_uuid"}, versionColumns...)...).
		Values(docUUID, v.Name, v.Author, v.Created, v.Size, v.Comment, v.MimeType, v.Checksum, ref.StorageKey, ref.Encrypted, v.Actual))
	if errors.Is(err, okm.ErrItemExists) {
		return fmt.Errorf("version %s already exists: %w", v.Name, okm.ErrVersion)
	}
	if err != nil {
		return fmt.Errorf("inserting version %s: %w", v.Name, err)
	}
	return nil
}

// appendVersion makes v the current version of the document and releases
// its checkout lock.
func appendVersion(ctx context.Context, q querier, doc *okm.Document, v *okm.Version, ref okm.ContentRef, modified time.Time) error {
	_, err := exec(ctx, q, qb().Update("node_versions").Set("current", false).Where(sq.Eq{"document_uuid": doc.UUID}))
	if err != nil {
		return fmt.Errorf("demoting versions of %s: %w", doc.Path, err)
	}
	v.Actual = true
	if err := insertVersion(ctx, q, doc.UUID, v, ref); err != nil {
		return err
	}
	_, err = exec(ctx, q, qb().Update("node_documents").SetMap(map[string]any{
		"mime_type":     v.MimeType,
		"last_modified": modified,
		"checked_out":   false,
		"lock_owner":    "",
	}).Where(sq.Eq{"uuid": doc.UUID}))
	if err != nil {
		return fmt.Errorf("updating document %s: %w", doc.Path, err)
	}
	return nil
}

func (s *SQLiteDatabase) CreateMail(ctx context.Context, ml *okm.Mail, raw io.Reader) (*okm.Mail, error) {
	return s.createMail(ctx, ml, raw, false)
}

func (s *SQLiteDatabase) createMail(ctx context.Context, ml *okm.Mail, raw io.Reader, restore bool) (*okm.Mail, error) {
	sess, err := okm.SessionFrom(ctx)
	if err != nil {
		return nil, err
	}
	out := *ml
	out.Type = okm.TypeMail

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		parent, err := s.parentFor(ctx, tx, sess, out.Path, false)
		if err != nil {
			return err
		}
		if err := s.prepare(ctx, tx, &out.Node, parent, sess, restore); err != nil {
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

		if err := insertNode(ctx, tx, &out.Node, parent.UUID); err != nil {
			return err
		}
		_, err = exec(ctx, tx, qb().Insert("node_mails").
			Columns("uuid", "sender", "reply_to", "recipients_to", "recipients_cc", "recipients_bcc", "subject", "content",
				"mime_type", "size", "sent_date", "received_date", "checksum", "storage_key", "encrypted").
			Values(out.UUID, out.From, joinList(out.ReplyTo), joinList(out.To), joinList(out.Cc), joinList(out.Bcc),
				out.Subject, out.Content, out.MimeType, out.Size, nullTime(out.SentDate), nullTime(out.ReceivedDate),
				ref.Checksum, ref.StorageKey, ref.Encrypted))
		if err != nil {
			return fmt.Errorf("inserting mail %s: %w", out.Path, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// writableDocument loads the document at path for a state change.
func (s *SQLiteDatabase) writableDocument(ctx context.Context, q querier, sess *okm.Session, path string) (*okm.Document, error) {
	n, err := s.findNode(ctx, q, path)
	if err != nil {
		return nil, err
	}
	doc, _, err := loadDocument(ctx, q, n)
	if err != nil {
		return nil, err
	}
	if err := okm.CheckAccess(sess, &doc.Node, okm.PermWrite); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *SQLiteDatabase) setLock(ctx context.Context, q querier, doc *okm.Document, owner string) error {
	_, err := exec(ctx, q, qb().Update("node_documents").
		Set("checked_out", owner != "").
		Set("lock_owner", owner).
		Where(sq.Eq{"uuid": doc.UUID}))
	if err != nil {
		return fmt.Errorf("updating lock of %s: %w", doc.Path, err)
	}
	return nil
}

func (s *SQLiteDatabase) Checkout(ctx context.Context, path string) error {
	sess, err := okm.SessionFrom(ctx)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		doc, err := s.writableDocument(ctx, tx, sess, path)
		if err != nil {
			return err
		}
		if doc.CheckedOut {
			return fmt.Errorf("%s is checked out by %s: %w", doc.Path, doc.LockOwner, okm.ErrLocked)
		}
		return s.setLock(ctx, tx, doc, sess.User)
	})
}

func (s *SQLiteDatabase) CancelCheckout(ctx context.Context, path string) error {
	sess, err := okm.SessionFrom(ctx)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		doc, err := s.writableDocument(ctx, tx, sess, path)
		if err != nil {
			return err
		}
		if err := checkLockOwner(doc, sess); err != nil {
			return err
		}
		return s.setLock(ctx, tx, doc, "")
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

func (s *SQLiteDatabase) Checkin(ctx context.Context, path string, content io.Reader, comment string) (*okm.Version, error) {
	sess, err := okm.SessionFrom(ctx)
	if err != nil {
		return nil, err
	}
	var v okm.Version
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		doc, err := s.writableDocument(ctx, tx, sess, path)
		if err != nil {
			return err
		}
		if err := checkLockOwner(doc, sess); err != nil {
			return err
		}

		used, err := usage(ctx, tx, sess.User)
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
		return appendVersion(ctx, tx, doc, &v, ref, now)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *SQLiteDatabase) GetContent(ctx context.Context, path string, w io.Writer) (int64, error) {
	n, err := s.readable(ctx, path)
	if err != nil {
		return 0, err
	}
	ref, err := contentRef(ctx, s.db, n)
	if err != nil {
		return 0, err
	}
	return s.opts.Blobs.Read(ref, w)
}

// contentRef locates the current content of a document or mail.
func contentRef(ctx context.Context, q querier, n *nodeRow) (okm.ContentRef, error) {
	switch n.Type {
	case okm.TypeDocument:
		cur, err := currentVersion(ctx, q, n.UUID)
		if err != nil {
			return okm.ContentRef{}, err
		}
		return cur.ref, nil
	case okm.TypeMail:
		_, ref, err := loadMail(ctx, q, n)
		return ref, err
	}
	return okm.ContentRef{}, fmt.Errorf("%s has no content: %w", n.Path, okm.ErrPathNotFound)
}

func (s *SQLiteDatabase) GetVersionHistory(ctx context.Context, path string) ([]*okm.Version, error) {
	n, err := s.readable(ctx, path)
	if err != nil {
		return nil, err
	}
	if n.Type != okm.TypeDocument {
		return nil, fmt.Errorf("%s is not a document: %w", n.Path, okm.ErrPathNotFound)
	}
	rows, err := loadVersions(ctx, s.db, n.UUID)
	if err != nil {
		return nil, err
	}
	history := make([]*okm.Version, len(rows))
	for i, r := range rows {
		v := r.Version
		history[i] = &v
	}
	return history, nil
}

func (s *SQLiteDatabase) GetContentByVersion(ctx context.Context, path, version string, w io.Writer) (int64, error) {
	n, err := s.readable(ctx, path)
	if err != nil {
		return 0, err
	}
	if n.Type != okm.TypeDocument {
		return 0, fmt.Errorf("%s is not a document: %w", n.Path, okm.ErrPathNotFound)
	}
	row, err := queryRow(ctx, s.db, qb().Select(versionColumns...).From("node_versions").
		Where(sq.Eq{"document_uuid": n.UUID, "name": version}))
	if err != nil {
		return 0, err
	}
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s has no version %s: %w", n.Path, version, okm.ErrVersion)
	}
	if err != nil {
		return 0, dbError(err)
	}
	return s.opts.Blobs.Read(v.ref, w)
}
