package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"okm-go/internal/config"
	"okm-go/internal/encryption"
	"okm-go/internal/impexp"
	"okm-go/internal/okm"
	"okm-go/internal/vault"
)

// snapshotName is the vault metadata name of the backend snapshot.
const snapshotName = "repository"

// OkmApp is the application layer between the CLI and the import, export
// and check walkers. It constructs all dependencies from config, runs every
// call as the configured session user, and snapshots the backend on Close.
type OkmApp struct {
	cfg       *config.Config
	backend   Backend
	vault     okm.Vault
	blobs     *okm.BlobStore
	encryptor okm.Encryptor
	session   *okm.Session
	logger    okm.Logger
	op        *Operation
	logFile   *os.File
}

// NewOkmApp creates a fully wired OkmApp from the given config.
// operation identifies the CLI command being run (e.g. "import", "check").
// verbose copies every log record to stderr.
// The caller must call Close when done.
func NewOkmApp(cfg *config.Config, operation string, verbose bool) (*OkmApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Vaults) == 0 {
		return nil, fmt.Errorf("no vaults configured")
	}
	v, err := vault.NewVaultFromConfig(cfg.Vaults[0])
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if enc != nil && !enc.IsConfigured() {
		return nil, fmt.Errorf("encryption keys missing: run 'okm config keys' first")
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID, verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger.With("cmd", operation)}

	blobs := okm.NewBlobStore(v, enc)
	backend, err := NewBackendFromConfig(cfg.Repository, cfg.InstanceID, okm.StoreOptions{
		Blobs:     blobs,
		Policy:    NewUploadPolicy(cfg.Upload),
		Logger:    logger,
		RootRoles: okm.Grants{"ROLE_USER": okm.PermRead | okm.PermWrite},
	})
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening repository: %w", err)
	}

	// A store older than its vault snapshot would overwrite newer history.
	remoteVersion, err := v.GetMetadataVersion(cfg.InstanceID, snapshotName)
	if err != nil {
		backend.Close()
		logFile.Close()
		return nil, fmt.Errorf("checking remote snapshot version: %w", err)
	}
	localMax, err := backend.MaxOperationID()
	if err != nil {
		backend.Close()
		logFile.Close()
		return nil, fmt.Errorf("checking local snapshot version: %w", err)
	}
	if remoteVersion > localMax {
		backend.Close()
		logFile.Close()
		return nil, fmt.Errorf("local repository is behind remote (local=%d, remote=%d): restore from vault or re-initialize", localMax, remoteVersion)
	}

	return &OkmApp{
		cfg:       cfg,
		backend:   backend,
		vault:     v,
		blobs:     blobs,
		encryptor: enc,
		session: &okm.Session{
			User:      cfg.Security.DefaultUser,
			Roles:     cfg.Security.DefaultRoles,
			AdminRole: cfg.Security.AdminRole,
		},
		logger:  logger,
		op:      NewOperation(operation, ""),
		logFile: logFile,
	}, nil
}

// SetupEncryption generates the key pair configured in cfg, protecting the
// private key with passphrase.
func SetupEncryption(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if enc == nil {
		return fmt.Errorf("encryption type is %q: nothing to set up", cfg.Encryption.Type)
	}
	if enc.IsConfigured() {
		return fmt.Errorf("encryption keys already exist")
	}
	return enc.Setup(passphrase)
}

// Encrypted reports whether content is encrypted at rest, in which case
// reading it requires Unlock.
func (a *OkmApp) Encrypted() bool {
	return a.encryptor != nil
}

// Unlock decrypts the private key so stored content can be read back.
func (a *OkmApp) Unlock(passphrase string) error {
	if a.encryptor == nil {
		return nil
	}
	dec, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}
	a.blobs.Unlock(dec)
	return nil
}

func (a *OkmApp) sessionContext(ctx context.Context) context.Context {
	return okm.WithSession(ctx, a.session)
}

// persistOperation saves the operation to the backend's operation log,
// giving it an ID. Only commands that walk the repository call it.
func (a *OkmApp) persistOperation(parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	rec, err := a.backend.CreateOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = rec.ID
	return nil
}

func decorator(base string, html bool) impexp.InfoDecorator {
	if html {
		return impexp.HTMLInfoDecorator{Base: base}
	}
	return impexp.TextInfoDecorator{Base: base}
}

// Import copies the directory src into the repository folder dest.
// Progress lines are written to out.
func (a *OkmApp) Import(ctx context.Context, src, dest string, opts impexp.ImportOptions, out io.Writer, html bool) (impexp.ImpExpStats, error) {
	if err := a.persistOperation(fmt.Sprintf("%s -> %s", src, dest)); err != nil {
		return impexp.NewStats(), err
	}
	base, err := filepath.Abs(src)
	if err != nil {
		return impexp.NewStats(), fmt.Errorf("resolving path: %w", err)
	}

	im := impexp.NewRepositoryImporter(a.backend, a.backend, a.cfg.Import.Ignore, a.cfg.Import.MetadataExt, a.logger)
	stats, err := im.ImportDocuments(a.sessionContext(ctx), src, dest, opts, out, decorator(base, html))
	a.op.Record(stats, err)
	return stats, err
}

// Export writes the repository subtree at repoPath into the directory dest.
func (a *OkmApp) Export(ctx context.Context, repoPath, dest string, opts impexp.ExportOptions, out io.Writer, html bool) (impexp.ImpExpStats, error) {
	if err := a.persistOperation(fmt.Sprintf("%s -> %s", repoPath, dest)); err != nil {
		return impexp.NewStats(), err
	}

	ex := impexp.NewRepositoryExporter(a.backend, a.cfg.Import.MetadataExt, a.logger)
	stats, err := ex.ExportDocuments(a.sessionContext(ctx), repoPath, dest, opts, out, decorator(repoPath, html))
	a.op.Record(stats, err)
	return stats, err
}

// Check reads back the content of every node below basePath.
func (a *OkmApp) Check(ctx context.Context, basePath string, includeVersions bool, out io.Writer, html bool) (impexp.ImpExpStats, error) {
	if err := a.persistOperation(basePath); err != nil {
		return impexp.NewStats(), err
	}

	stats, err := a.backend.CheckDocuments(a.sessionContext(ctx), basePath, includeVersions, out, decorator(basePath, html))
	a.op.Record(stats, err)
	return stats, err
}

// GetHistory returns the most recent operations, newest first.
func (a *OkmApp) GetHistory(limit int) ([]*okm.Operation, error) {
	return a.backend.ListOperations(limit)
}

// Close finalizes the operation and closes all resources.
// For persisted operations: finishes the operation record, snapshots the
// backend, and uploads the snapshot to the vault.
// For non-persisted operations: just closes the backend.
func (a *OkmApp) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.op.Persisted() {
		if err := a.backend.FinishOperation(a.op.ID, a.op.Status); err != nil {
			keep(fmt.Errorf("finishing operation: %w", err))
		}

		tmpPath, err := a.snapshot()
		keep(err)

		if err := a.backend.Close(); err != nil {
			keep(fmt.Errorf("closing repository: %w", err))
		}

		// Upload the snapshot with version = operation ID.
		if tmpPath != "" {
			keep(a.uploadSnapshot(tmpPath, a.op.ID))
			os.Remove(tmpPath)
		}
	} else if err := a.backend.Close(); err != nil {
		keep(fmt.Errorf("closing repository: %w", err))
	}

	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// snapshot writes the backend to a temp file and returns its path, or ""
// when no snapshot could be taken.
func (a *OkmApp) snapshot() (string, error) {
	tmpFile, err := os.CreateTemp("", "okm-snapshot-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file for snapshot: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()

	if err := a.backend.BackupTo(tmpPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("snapshotting repository: %w", err)
	}
	return tmpPath, nil
}

func (a *OkmApp) uploadSnapshot(path string, version int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening snapshot for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat snapshot: %w", err)
	}

	if err := a.vault.PutMetadata(a.cfg.InstanceID, snapshotName, f, info.Size(), version); err != nil {
		return fmt.Errorf("uploading snapshot to vault: %w", err)
	}
	return nil
}
