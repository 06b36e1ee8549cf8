package impexp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"okm-go/internal/fs"
	"okm-go/internal/okm"
)

// ImportOptions selects what an import restores besides plain content.
type ImportOptions struct {
	// UseMetadata applies sidecar files through the MetadataAdapter.
	UseMetadata bool
	// RestoreHistory replays "<name>#v<version>#" files as successive versions.
	RestoreHistory bool
	// RestoreUUID keeps the UUIDs recorded in sidecars instead of generating new ones.
	RestoreUUID bool
}

// RepositoryImporter copies a filesystem tree into the repository.
type RepositoryImporter struct {
	repo    okm.Repository
	adapter MetadataAdapter
	ignore  []string
	metaExt string
	logger  okm.Logger
}

// NewRepositoryImporter creates an importer. ignore holds extra patterns
// applied on top of the source's .okmignore file; an empty metaExt selects
// DefaultMetadataExt.
func NewRepositoryImporter(repo okm.Repository, adapter MetadataAdapter, ignore []string, metaExt string, logger okm.Logger) *RepositoryImporter {
	if metaExt == "" {
		metaExt = DefaultMetadataExt
	}
	return &RepositoryImporter{
		repo:    repo,
		adapter: adapter,
		ignore:  ignore,
		metaExt: metaExt,
		logger:  logger,
	}
}

// importWalk carries the per-call state of one ImportDocuments run.
type importWalk struct {
	*RepositoryImporter
	opts     ImportOptions
	root     string
	matcher  *fs.IgnoreMatcher
	progress *Progress
}

// ImportDocuments imports the contents of src below the repository folder
// dest. Item failures are written to out, logged, and clear OK in the
// returned stats; any other failure stops the walk and is returned together
// with the stats gathered so far.
func (im *RepositoryImporter) ImportDocuments(ctx context.Context, src, dest string, opts ImportOptions, out io.Writer, deco InfoDecorator) (ImpExpStats, error) {
	root, err := fs.ResolveDir(src)
	if err != nil {
		im.logger.Error("import source unavailable", "source", src, "error", err)
		return NewStats(), err
	}

	destNode, err := im.repo.GetNode(ctx, dest)
	if err != nil {
		im.logger.Error("import destination unavailable", "destination", dest, "error", err)
		return NewStats(), fmt.Errorf("resolving destination %s: %w", dest, err)
	}
	if destNode.Type == okm.TypeDocument {
		return NewStats(), fmt.Errorf("destination %s is a document: %w", dest, okm.ErrPathNotFound)
	}

	im.logger.Info("import started", "source", root, "destination", destNode.Path,
		"metadata", opts.UseMetadata, "history", opts.RestoreHistory, "uuid", opts.RestoreUUID)

	matcher, err := fs.LoadIgnoreMatcher(root, im.ignore)
	if err != nil {
		return NewStats(), err
	}

	w := &importWalk{
		RepositoryImporter: im,
		opts:               opts,
		root:               root,
		matcher:            matcher,
		progress:           NewProgress(out, deco, im.logger, "imported"),
	}
	stats, err := w.importDir(ctx, root, destNode.Path)
	if err != nil {
		im.logger.Error("import aborted", "source", root, "error", err, "stats", stats.String())
		return stats, err
	}

	im.logger.Info("import finished", "source", root, "stats", stats.String())
	return stats, nil
}

func (w *importWalk) importDir(ctx context.Context, dir, dest string) (ImpExpStats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return NewStats(), fmt.Errorf("reading directory %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}

	stats := NewStats()
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		name := e.Name()
		if strings.HasSuffix(name, w.metaExt) || !NoVersionFilter(name) {
			continue
		}
		fsPath := filepath.Join(dir, name)
		if rel, err := filepath.Rel(w.root, fsPath); err == nil && w.matcher.Match(rel, e.IsDir()) {
			w.logger.Debug("ignored", "path", fsPath)
			continue
		}

		var s ImpExpStats
		switch {
		case e.IsDir():
			s, err = w.importFolder(ctx, fsPath, okm.JoinPath(dest, name))
		case !e.Type().IsRegular():
			w.logger.Warn("skipping non-regular file", "path", fsPath)
			continue
		case strings.EqualFold(filepath.Ext(name), MailExt):
			s, err = w.importMail(ctx, fsPath, dest, strings.TrimSuffix(name, filepath.Ext(name)))
		default:
			s, err = w.importDocument(ctx, dir, name, dest, names)
		}

		stats = stats.Add(s)
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (w *importWalk) sidecar(fsPath string) (string, bool) {
	if !w.opts.UseMetadata {
		return "", false
	}
	p := fsPath + w.metaExt
	info, err := os.Stat(p)
	return p, err == nil && info.Mode().IsRegular()
}

func (w *importWalk) importFolder(ctx context.Context, fsPath, destPath string) (ImpExpStats, error) {
	var err error
	if metaPath, ok := w.sidecar(fsPath); ok {
		meta := &FolderMetadata{}
		if err = ReadMetadata(metaPath, meta); err == nil {
			meta.Path = destPath
			if !w.opts.RestoreUUID {
				meta.UUID = ""
			}
			_, err = w.adapter.ImportFolder(ctx, meta)
		} else if errors.Is(err, okm.ErrMalformedMetadata) {
			// Keep the subtree importable.
			if _, cerr := w.repo.CreateFolder(ctx, &okm.Folder{Node: okm.Node{Path: destPath}}); cerr != nil && !errors.Is(cerr, okm.ErrItemExists) {
				err = cerr
			}
		}
	} else {
		_, err = w.repo.CreateFolder(ctx, &okm.Folder{Node: okm.Node{Path: destPath}})
	}

	stats := VisitFolder(err)
	if rerr := w.progress.Report(fsPath, 0, err); rerr != nil {
		return stats, rerr
	}

	sub, err := w.importDir(ctx, fsPath, destPath)
	return stats.Add(sub), err
}

func (w *importWalk) importDocument(ctx context.Context, dir, name, dest string, siblings []string) (ImpExpStats, error) {
	fsPath := filepath.Join(dir, name)
	base := strings.TrimSuffix(name, "#")
	if base == "" {
		err := fmt.Errorf("%s: no document name: %w", fsPath, okm.ErrMalformedMetadata)
		return VisitDocument(0, err), w.progress.Report(fsPath, 0, err)
	}
	destPath := okm.JoinPath(dest, base)

	var versions []string
	if w.opts.RestoreHistory {
		match := VersionFilter(base)
		for _, s := range siblings {
			if match(s) {
				versions = append(versions, s)
			}
		}
	}

	var size int64
	var err error
	if len(versions) > 0 {
		size, err = w.importHistory(ctx, fsPath, dir, destPath, versions)
	} else {
		size, err = w.importSingle(ctx, fsPath, destPath)
	}

	if err != nil {
		size = 0
	}
	stats := VisitDocument(size, err)
	return stats, w.progress.Report(fsPath, size, err)
}

func (w *importWalk) importSingle(ctx context.Context, fsPath, destPath string) (int64, error) {
	var meta *DocumentMetadata
	if metaPath, ok := w.sidecar(fsPath); ok {
		meta = &DocumentMetadata{}
		if err := ReadMetadata(metaPath, meta); err != nil {
			return 0, err
		}
		meta.Path = destPath
		if !w.opts.RestoreUUID {
			meta.UUID = ""
		}
	}

	f, err := os.Open(fsPath)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", fsPath, err)
	}
	defer f.Close()

	var doc *okm.Document
	if meta != nil {
		doc, err = w.adapter.ImportDocument(ctx, meta, f)
	} else {
		doc, err = w.repo.CreateDocument(ctx, &okm.Document{Node: okm.Node{Path: destPath}}, f)
	}
	if err != nil {
		return 0, err
	}
	return doc.ActualVersion.Size, nil
}

// importHistory replays version files oldest first. The first creates the
// document, each following one adds a version. The primary file is not
// read: its content is the last version.
func (w *importWalk) importHistory(ctx context.Context, fsPath, dir, destPath string, versions []string) (int64, error) {
	SortVersionFilenames(versions)

	var docMeta *DocumentMetadata
	if metaPath, ok := w.sidecar(fsPath); ok {
		docMeta = &DocumentMetadata{}
		if err := ReadMetadata(metaPath, docMeta); err != nil {
			return 0, err
		}
		docMeta.Path = destPath
		if !w.opts.RestoreUUID {
			docMeta.UUID = ""
		}
	}

	var total int64
	for i, vf := range versions {
		vPath := filepath.Join(dir, vf)

		var vmeta *VersionMetadata
		if metaPath, ok := w.sidecar(vPath); ok {
			vmeta = &VersionMetadata{}
			if err := ReadMetadata(metaPath, vmeta); err != nil {
				return total, err
			}
		}

		size, err := w.importVersion(ctx, vPath, destPath, i == 0, docMeta, vmeta)
		if err != nil {
			return total, err
		}
		total += size
		w.logger.Debug("version restored", "path", vPath, "version", VersionFromFilename(vf))
	}
	return total, nil
}

func (w *importWalk) importVersion(ctx context.Context, vPath, destPath string, first bool, docMeta *DocumentMetadata, vmeta *VersionMetadata) (int64, error) {
	f, err := os.Open(vPath)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", vPath, err)
	}
	defer f.Close()

	if first {
		var doc *okm.Document
		if docMeta != nil {
			m := *docMeta
			m.Version = VersionMetadata{}
			if vmeta != nil {
				m.Version = *vmeta
			}
			doc, err = w.adapter.ImportDocument(ctx, &m, f)
		} else {
			doc, err = w.repo.CreateDocument(ctx, &okm.Document{Node: okm.Node{Path: destPath}}, f)
		}
		if err != nil {
			return 0, err
		}
		return doc.ActualVersion.Size, nil
	}

	var ver *okm.Version
	if docMeta != nil {
		if vmeta == nil {
			vmeta = &VersionMetadata{}
		}
		ver, err = w.adapter.ImportVersion(ctx, destPath, vmeta, f)
	} else {
		if err := w.repo.Checkout(ctx, destPath); err != nil {
			return 0, err
		}
		ver, err = w.repo.Checkin(ctx, destPath, f, "")
		if err != nil {
			if cerr := w.repo.CancelCheckout(ctx, destPath); cerr != nil {
				w.logger.Warn("cancel checkout failed", "path", destPath, "error", cerr)
			}
		}
	}
	if err != nil {
		return 0, err
	}
	return ver.Size, nil
}

// importMail stores the message, then adds each attachment as a document
// below it. Attachments are reported and counted one by one, so a failing
// attachment does not hide the others. They are also added when the mail
// already exists, which lets a second import fill in missing attachments.
func (w *importWalk) importMail(ctx context.Context, fsPath, dest, stem string) (ImpExpStats, error) {
	if stem == "" {
		err := fmt.Errorf("%s: no mail name: %w", fsPath, okm.ErrMalformedMetadata)
		return VisitMail(0, err), w.progress.Report(fsPath, 0, err)
	}
	mailPath := okm.JoinPath(dest, stem)

	pm, size, err := w.importMailFile(ctx, fsPath, mailPath)
	if err != nil {
		size = 0
	}
	stats := VisitMail(size, err)
	if rerr := w.progress.Report(fsPath, size, err); rerr != nil {
		return stats, rerr
	}
	if pm == nil || len(pm.Attachments) == 0 {
		return stats, nil
	}
	if err != nil {
		if !errors.Is(err, okm.ErrItemExists) {
			return stats, nil
		}
		if _, gerr := w.repo.GetMail(ctx, mailPath); gerr != nil {
			w.logger.Warn("skipping attachments, existing node is not a mail", "path", mailPath, "error", gerr)
			return stats, nil
		}
	}

	seen := make(map[string]int)
	for i, att := range pm.Attachments {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		name := attachmentName(att.Name, i, seen)
		var asize int64
		doc, err := w.repo.CreateDocument(ctx, &okm.Document{Node: okm.Node{Path: okm.JoinPath(mailPath, name)}}, bytes.NewReader(att.Data))
		if err != nil {
			err = fmt.Errorf("adding attachment %s: %w", name, err)
		} else {
			asize = doc.ActualVersion.Size
		}
		stats = stats.Add(VisitDocument(asize, err))
		if rerr := w.progress.Report(filepath.Join(fsPath, name), asize, err); rerr != nil {
			return stats, rerr
		}
	}
	return stats, nil
}

// importMailFile parses and stores the message at mailPath. The parsed
// message is returned whenever parsing succeeded, even if storing failed.
func (w *importWalk) importMailFile(ctx context.Context, fsPath, mailPath string) (*parsedMail, int64, error) {
	raw, err := os.ReadFile(fsPath)
	if err != nil {
		return nil, 0, fmt.Errorf("reading %s: %w", fsPath, err)
	}

	pm, err := parseMail(bytes.NewReader(raw))
	if err != nil {
		return nil, 0, err
	}

	if metaPath, ok := w.sidecar(fsPath); ok {
		meta := &MailMetadata{}
		if err := ReadMetadata(metaPath, meta); err != nil {
			return nil, 0, err
		}
		meta.Path = mailPath
		if !w.opts.RestoreUUID {
			meta.UUID = ""
		}
		if meta.Size == 0 {
			meta.Size = int64(len(raw))
		}
		_, err = w.adapter.ImportMail(ctx, meta, bytes.NewReader(raw))
	} else {
		_, err = w.repo.CreateMail(ctx, pm.toMail(mailPath, int64(len(raw))), bytes.NewReader(raw))
	}
	if err != nil {
		return pm, 0, err
	}
	return pm, int64(len(raw)), nil
}

// attachmentName makes attachment names usable and unique within one mail.
func attachmentName(name string, index int, seen map[string]int) string {
	name = strings.ReplaceAll(filepath.Base(name), "/", "_")
	if name == "" || name == "." || name == ".." {
		name = "attachment-" + strconv.Itoa(index+1)
	}
	seen[name]++
	if n := seen[name]; n > 1 {
		ext := filepath.Ext(name)
		name = strings.TrimSuffix(name, ext) + " (" + strconv.Itoa(n) + ")" + ext
	}
	return name
}
