package impexp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"okm-go/internal/fs"
	"okm-go/internal/okm"
)

// ExportOptions selects what an export writes besides current content.
type ExportOptions struct {
	// Metadata writes a sidecar next to every exported entry.
	Metadata bool
	// History writes every document version as "<name>#v<version>#".
	History bool
}

// RepositoryExporter writes a repository subtree to the filesystem in the
// layout RepositoryImporter reads back.
type RepositoryExporter struct {
	repo    okm.Repository
	metaExt string
	logger  okm.Logger
}

// NewRepositoryExporter creates an exporter. An empty metaExt selects
// DefaultMetadataExt.
func NewRepositoryExporter(repo okm.Repository, metaExt string, logger okm.Logger) *RepositoryExporter {
	if metaExt == "" {
		metaExt = DefaultMetadataExt
	}
	return &RepositoryExporter{repo: repo, metaExt: metaExt, logger: logger}
}

type exportWalk struct {
	*RepositoryExporter
	opts     ExportOptions
	progress *Progress
}

// ExportDocuments exports repoPath into the directory dest. A folder or mail
// path exports its children; a document path exports that document.
func (ex *RepositoryExporter) ExportDocuments(ctx context.Context, repoPath, dest string, opts ExportOptions, out io.Writer, deco InfoDecorator) (ImpExpStats, error) {
	dir, err := fs.PrepareExportDir(dest)
	if err != nil {
		ex.logger.Error("export destination unavailable", "destination", dest, "error", err)
		return NewStats(), err
	}

	node, err := ex.repo.GetNode(ctx, repoPath)
	if err != nil {
		ex.logger.Error("export source unavailable", "path", repoPath, "error", err)
		return NewStats(), fmt.Errorf("resolving %s: %w", repoPath, err)
	}

	ex.logger.Info("export started", "path", node.Path, "destination", dir, "metadata", opts.Metadata, "history", opts.History)

	w := &exportWalk{RepositoryExporter: ex, opts: opts, progress: NewProgress(out, deco, ex.logger, "exported")}
	var stats ImpExpStats
	if node.Type == okm.TypeDocument {
		stats, err = w.exportDocument(ctx, node, dir)
	} else {
		stats, err = w.exportChildren(ctx, node.Path, dir)
	}
	if err != nil {
		ex.logger.Error("export aborted", "path", node.Path, "error", err, "stats", stats.String())
		return stats, err
	}

	ex.logger.Info("export finished", "path", node.Path, "stats", stats.String())
	return stats, nil
}

func (w *exportWalk) exportChildren(ctx context.Context, repoPath, dir string) (ImpExpStats, error) {
	children, err := w.repo.GetChildren(ctx, repoPath)
	if err != nil {
		return NewStats(), fmt.Errorf("listing %s: %w", repoPath, err)
	}

	stats := NewStats()
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		var s ImpExpStats
		switch child.Type {
		case okm.TypeFolder:
			s, err = w.exportFolder(ctx, child, dir)
		case okm.TypeDocument:
			s, err = w.exportDocument(ctx, child, dir)
		case okm.TypeMail:
			s, err = w.exportMail(ctx, child, dir)
		}
		stats = stats.Add(s)
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (w *exportWalk) exportFolder(ctx context.Context, n *okm.Node, dir string) (ImpExpStats, error) {
	fsPath := filepath.Join(dir, n.Name)

	err := os.Mkdir(fsPath, 0755)
	if errors.Is(err, os.ErrExist) {
		err = fmt.Errorf("%s: %w", fsPath, okm.ErrItemExists)
	}
	if err == nil && w.opts.Metadata {
		var fld *okm.Folder
		if fld, err = w.repo.GetFolder(ctx, n.Path); err == nil {
			err = WriteMetadata(fsPath+w.metaExt, FolderMetadataOf(fld))
		}
	}

	stats := VisitFolder(err)
	if rerr := w.progress.Report(n.Path, 0, err); rerr != nil {
		return stats, rerr
	}
	if err != nil && !errors.Is(err, okm.ErrItemExists) {
		return stats, nil
	}

	sub, err := w.exportChildren(ctx, n.Path, fsPath)
	return stats.Add(sub), err
}

func (w *exportWalk) exportDocument(ctx context.Context, n *okm.Node, dir string) (ImpExpStats, error) {
	size, err := w.exportDocumentFiles(ctx, n, dir)
	if err != nil {
		size = 0
	}
	stats := VisitDocument(size, err)
	return stats, w.progress.Report(n.Path, size, err)
}

func (w *exportWalk) exportDocumentFiles(ctx context.Context, n *okm.Node, dir string) (int64, error) {
	doc, err := w.repo.GetDocument(ctx, n.Path)
	if err != nil {
		return 0, err
	}
	fsPath := filepath.Join(dir, n.Name)

	var total int64
	if w.opts.History {
		history, err := w.repo.GetVersionHistory(ctx, n.Path)
		if err != nil {
			return 0, err
		}
		for _, v := range history {
			vPath := filepath.Join(dir, VersionFilename(n.Name, v.Name))
			written, err := writeExclusive(vPath, func(f io.Writer) (int64, error) {
				return w.repo.GetContentByVersion(ctx, n.Path, v.Name, f)
			})
			if err != nil {
				return total, err
			}
			total += written
			if w.opts.Metadata {
				vm := VersionMetadataOf(v)
				if err := WriteMetadata(vPath+w.metaExt, &vm); err != nil {
					return total, err
				}
			}
			touch(vPath, v.Created)
		}
	}

	written, err := writeExclusive(fsPath, func(f io.Writer) (int64, error) {
		return w.repo.GetContent(ctx, n.Path, f)
	})
	if err != nil {
		return total, err
	}
	total += written
	touch(fsPath, doc.LastModified)

	if w.opts.Metadata {
		if err := WriteMetadata(fsPath+w.metaExt, DocumentMetadataOf(doc)); err != nil {
			return total, err
		}
	}
	return total, nil
}

func (w *exportWalk) exportMail(ctx context.Context, n *okm.Node, dir string) (ImpExpStats, error) {
	size, err := w.exportMailFiles(ctx, n, dir)
	if err != nil {
		size = 0
	}
	stats := VisitMail(size, err)
	return stats, w.progress.Report(n.Path, size, err)
}

// exportMailFiles writes the original message. Attachments travel inside
// it, so the attachment documents below the mail are not written.
func (w *exportWalk) exportMailFiles(ctx context.Context, n *okm.Node, dir string) (int64, error) {
	ml, err := w.repo.GetMail(ctx, n.Path)
	if err != nil {
		return 0, err
	}
	fsPath := filepath.Join(dir, n.Name+MailExt)

	written, err := writeExclusive(fsPath, func(f io.Writer) (int64, error) {
		return w.repo.GetContent(ctx, n.Path, f)
	})
	if err != nil {
		return 0, err
	}
	touch(fsPath, ml.ReceivedDate)

	if w.opts.Metadata {
		if err := WriteMetadata(fsPath+w.metaExt, MailMetadataOf(ml)); err != nil {
			return written, err
		}
	}
	return written, nil
}

// writeExclusive creates path, which must not exist, and fills it with fill.
// The partial file is removed when fill fails.
func writeExclusive(path string, fill func(io.Writer) (int64, error)) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, fmt.Errorf("%s: %w", path, okm.ErrItemExists)
		}
		return 0, fmt.Errorf("creating %s: %w", path, err)
	}

	n, err := fill(f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing %s: %w", path, cerr)
	}
	if err != nil {
		os.Remove(path)
		return 0, err
	}
	return n, nil
}

// touch sets the file times to the repository timestamp when there is one.
func touch(path string, t time.Time) {
	if !t.IsZero() {
		os.Chtimes(path, t, t)
	}
}
