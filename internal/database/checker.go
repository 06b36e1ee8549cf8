package database

import (
	"context"
	"fmt"
	"io"

	"okm-go/internal/impexp"
	"okm-go/internal/okm"
)

// CheckDocuments reads the content of every document and mail below
// basePath straight from the tables, bypassing per-node permission checks.
// A node whose record or content cannot be read is reported as
// ContentUnreadable and the check moves on. Failing to resolve basePath or
// to list a folder stops the check.
func (s *SQLiteDatabase) CheckDocuments(ctx context.Context, basePath string, includeVersions bool, out io.Writer, deco impexp.InfoDecorator) (impexp.ImpExpStats, error) {
	base, err := s.readable(ctx, basePath)
	if err != nil {
		s.opts.Logger.Error("check base unavailable", "path", basePath, "error", err)
		return impexp.NewStats(), fmt.Errorf("resolving %s: %w", basePath, err)
	}

	s.opts.Logger.Info("check started", "path", base.Path, "versions", includeVersions)
	c := &dbCheck{s: s, versions: includeVersions, progress: impexp.NewProgress(out, deco, s.opts.Logger, "checked")}

	var stats impexp.ImpExpStats
	switch base.Type {
	case okm.TypeDocument:
		stats, err = c.document(ctx, base)
	case okm.TypeMail:
		stats, err = c.mail(ctx, base)
	default:
		stats, err = c.children(ctx, base)
	}
	if err != nil {
		s.opts.Logger.Error("check aborted", "path", base.Path, "error", err, "stats", stats.String())
		return stats, err
	}
	s.opts.Logger.Info("check finished", "path", base.Path, "stats", stats.String())
	return stats, nil
}

type dbCheck struct {
	s        *SQLiteDatabase
	versions bool
	progress *impexp.Progress
}

func (c *dbCheck) children(ctx context.Context, parent *nodeRow) (impexp.ImpExpStats, error) {
	rows, err := c.s.listChildren(ctx, c.s.db, parent.UUID)
	if err != nil {
		return impexp.NewStats(), fmt.Errorf("listing %s: %w", parent.Path, err)
	}

	stats := impexp.NewStats()
	for _, n := range rows {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		var sub impexp.ImpExpStats
		switch n.Type {
		case okm.TypeFolder:
			sub, err = c.folder(ctx, n)
		case okm.TypeDocument:
			sub, err = c.document(ctx, n)
		case okm.TypeMail:
			sub, err = c.mail(ctx, n)
		}
		stats = stats.Add(sub)
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (c *dbCheck) folder(ctx context.Context, n *nodeRow) (impexp.ImpExpStats, error) {
	stats := impexp.VisitFolder(nil)
	if err := c.progress.Report(n.Path, 0, nil); err != nil {
		return stats, err
	}
	sub, err := c.children(ctx, n)
	return stats.Add(sub), err
}

func (c *dbCheck) document(ctx context.Context, n *nodeRow) (impexp.ImpExpStats, error) {
	size, err := c.readDocument(ctx, n)
	if err != nil {
		size, err = 0, okm.Unreadable(err)
	}
	return impexp.VisitDocument(size, err), c.progress.Report(n.Path, size, err)
}

func (c *dbCheck) readDocument(ctx context.Context, n *nodeRow) (int64, error) {
	if !c.versions {
		cur, err := currentVersion(ctx, c.s.db, n.UUID)
		if err != nil {
			return 0, err
		}
		return c.s.opts.Blobs.Read(cur.ref, io.Discard)
	}

	versions, err := loadVersions(ctx, c.s.db, n.UUID)
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		return 0, fmt.Errorf("document %s has no versions: %w", n.Path, okm.ErrRepository)
	}
	var total int64
	for _, v := range versions {
		read, err := c.s.opts.Blobs.Read(v.ref, io.Discard)
		if err != nil {
			return total, fmt.Errorf("version %s: %w", v.Name, err)
		}
		total += read
	}
	return total, nil
}

// mail reads the original message, then checks the attachment documents.
func (c *dbCheck) mail(ctx context.Context, n *nodeRow) (impexp.ImpExpStats, error) {
	size, err := c.readMail(ctx, n)
	if err != nil {
		size, err = 0, okm.Unreadable(err)
	}
	stats := impexp.VisitMail(size, err)
	if rerr := c.progress.Report(n.Path, size, err); rerr != nil {
		return stats, rerr
	}
	sub, err := c.children(ctx, n)
	return stats.Add(sub), err
}

func (c *dbCheck) readMail(ctx context.Context, n *nodeRow) (int64, error) {
	_, ref, err := loadMail(ctx, c.s.db, n)
	if err != nil {
		return 0, err
	}
	return c.s.opts.Blobs.Read(ref, io.Discard)
}

var _ impexp.Checker = (*SQLiteDatabase)(nil)
