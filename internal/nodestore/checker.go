package nodestore

import (
	"context"
	"fmt"
	"io"

	badger "github.com/dgraph-io/badger/v4"

	"okm-go/internal/impexp"
	"okm-go/internal/okm"
)

// CheckDocuments walks the child index below basePath inside one read
// transaction and reads the content of every document and mail. Only the
// base path is permission checked.
func (s *NodeStore) CheckDocuments(ctx context.Context, basePath string, includeVersions bool, out io.Writer, deco impexp.InfoDecorator) (impexp.ImpExpStats, error) {
	stats := impexp.NewStats()
	err := s.db.View(func(txn *badger.Txn) error {
		base, err := s.readable(ctx, txn, basePath)
		if err != nil {
			s.opts.Logger.Error("check base unavailable", "path", basePath, "error", err)
			return fmt.Errorf("resolving %s: %w", basePath, err)
		}

		s.opts.Logger.Info("check started", "path", base.Node.Path, "versions", includeVersions)
		c := &kvCheck{
			s:        s,
			txn:      txn,
			versions: includeVersions,
			progress: impexp.NewProgress(out, deco, s.opts.Logger, "checked"),
		}

		switch base.Node.Type {
		case okm.TypeDocument:
			stats, err = c.document(base)
		case okm.TypeMail:
			stats, err = c.mail(ctx, base)
		default:
			stats, err = c.children(ctx, base)
		}
		if err != nil {
			s.opts.Logger.Error("check aborted", "path", base.Node.Path, "error", err, "stats", stats.String())
			return err
		}
		s.opts.Logger.Info("check finished", "path", base.Node.Path, "stats", stats.String())
		return nil
	})
	return stats, err
}

type kvCheck struct {
	s        *NodeStore
	txn      *badger.Txn
	versions bool
	progress *impexp.Progress
}

func (c *kvCheck) children(ctx context.Context, parent *nodeRecord) (impexp.ImpExpStats, error) {
	recs, err := listChildren(ctx, c.txn, parent.Node.UUID)
	if err != nil {
		return impexp.NewStats(), fmt.Errorf("listing %s: %w", parent.Node.Path, err)
	}

	stats := impexp.NewStats()
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		var sub impexp.ImpExpStats
		switch rec.Node.Type {
		case okm.TypeFolder:
			sub, err = c.folder(ctx, rec)
		case okm.TypeDocument:
			sub, err = c.document(rec)
		case okm.TypeMail:
			sub, err = c.mail(ctx, rec)
		}
		stats = stats.Add(sub)
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (c *kvCheck) folder(ctx context.Context, rec *nodeRecord) (impexp.ImpExpStats, error) {
	stats := impexp.VisitFolder(nil)
	if err := c.progress.Report(rec.Node.Path, 0, nil); err != nil {
		return stats, err
	}
	sub, err := c.children(ctx, rec)
	return stats.Add(sub), err
}

func (c *kvCheck) document(rec *nodeRecord) (impexp.ImpExpStats, error) {
	size, err := c.readDocument(rec)
	if err != nil {
		size, err = 0, okm.Unreadable(err)
	}
	return impexp.VisitDocument(size, err), c.progress.Report(rec.Node.Path, size, err)
}

func (c *kvCheck) readDocument(rec *nodeRecord) (int64, error) {
	versions, err := loadVersions(c.txn, rec.Node.UUID)
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		return 0, fmt.Errorf("document %s has no current version: %w", rec.Node.Path, okm.ErrRepository)
	}
	if !c.versions {
		versions = versions[len(versions)-1:]
	}

	var total int64
	for _, vr := range versions {
		read, err := c.s.opts.Blobs.Read(vr.Ref, io.Discard)
		if err != nil {
			return total, fmt.Errorf("version %s: %w", vr.Version.Name, err)
		}
		total += read
	}
	return total, nil
}

// mail reads the original message, then checks the attachment documents.
func (c *kvCheck) mail(ctx context.Context, rec *nodeRecord) (impexp.ImpExpStats, error) {
	var size int64
	_, ref, err := toMail(rec)
	if err == nil {
		size, err = c.s.opts.Blobs.Read(ref, io.Discard)
	}
	if err != nil {
		size, err = 0, okm.Unreadable(err)
	}
	stats := impexp.VisitMail(size, err)
	if rerr := c.progress.Report(rec.Node.Path, size, err); rerr != nil {
		return stats, rerr
	}
	sub, err := c.children(ctx, rec)
	return stats.Add(sub), err
}

var _ impexp.Checker = (*NodeStore)(nil)
