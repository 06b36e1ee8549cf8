package nodestore

import (
	"context"
	"errors"
	"fmt"
	"os"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"okm-go/internal/okm"
)

// NodeStore is the hierarchical repository backend. Nodes are JSON records
// keyed by UUID with separate path and child indexes, so a folder listing
// is a single prefix scan.
type NodeStore struct {
	db   *badger.DB
	dir  string
	opts okm.StoreOptions
}

// NewNodeStore opens the store in dir and makes sure the root folder
// exists. An empty dir opens an in-memory store.
func NewNodeStore(dir string, opts okm.StoreOptions) (*NodeStore, error) {
	opts, err := opts.WithDefaults()
	if err != nil {
		return nil, err
	}

	bopts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None)
	if dir == "" {
		bopts = bopts.WithInMemory(true)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", dir, err)
	}

	s := &NodeStore{db: db, dir: dir, opts: opts}
	if err := s.ensureRoot(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// update runs fn in a read-write transaction that is discarded unless fn
// succeeds.
func (s *NodeStore) update(fn func(txn *badger.Txn) error) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", dbError(err))
	}
	return nil
}

func (s *NodeStore) ensureRoot() error {
	return s.update(func(txn *badger.Txn) error {
		_, err := findNode(txn, okm.RootPath)
		if err == nil {
			return nil
		}
		if !errors.Is(err, okm.ErrPathNotFound) {
			return err
		}

		root := &nodeRecord{Node: okm.Node{
			UUID:            s.opts.IDs.New(),
			Path:            okm.RootPath,
			Name:            okm.BaseName(okm.RootPath),
			Type:            okm.TypeFolder,
			Author:          "system",
			Created:         s.opts.Clock.Now(),
			UserPermissions: okm.Grants{},
			RolePermissions: s.opts.RootRoles.Clone(),
		}}
		if err := putNode(txn, root); err != nil {
			return fmt.Errorf("creating root folder: %w", err)
		}
		s.opts.Logger.Info("repository initialized", "root", root.Node.UUID, "path", s.dir)
		return nil
	})
}

// findNode resolves path through the path index.
func findNode(txn *badger.Txn, path string) (*nodeRecord, error) {
	clean, err := okm.CleanPath(path)
	if err != nil {
		return nil, err
	}
	uuid, ok, err := getString(txn, keyPath(clean))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", clean, okm.ErrPathNotFound)
	}
	return findNodeByUUID(txn, uuid)
}

func findNodeByUUID(txn *badger.Txn, uuid string) (*nodeRecord, error) {
	var rec nodeRecord
	ok, err := get(txn, keyNode(uuid), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", uuid, okm.ErrPathNotFound)
	}
	if rec.Node.UserPermissions == nil {
		rec.Node.UserPermissions = okm.Grants{}
	}
	if rec.Node.RolePermissions == nil {
		rec.Node.RolePermissions = okm.Grants{}
	}
	return &rec, nil
}

// listChildren returns the children of parentUUID in name order.
func listChildren(ctx context.Context, txn *badger.Txn, parentUUID string) ([]*nodeRecord, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	opts.Prefix = keyChildPrefix(parentUUID)

	var uuids []string
	it := txn.NewIterator(opts)
	count := 0
	for it.Rewind(); it.Valid(); it.Next() {
		if count%100 == 0 {
			if err := ctx.Err(); err != nil {
				it.Close()
				return nil, err
			}
		}
		count++
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			it.Close()
			return nil, dbError(err)
		}
		uuids = append(uuids, string(val))
	}
	it.Close()

	children := make([]*nodeRecord, 0, len(uuids))
	for _, uuid := range uuids {
		rec, err := findNodeByUUID(txn, uuid)
		if err != nil {
			return nil, fmt.Errorf("loading child %s: %w", uuid, err)
		}
		children = append(children, rec)
	}
	return children, nil
}

// putNode writes the record and its path and child index entries.
func putNode(txn *badger.Txn, rec *nodeRecord) error {
	if err := put(txn, keyNode(rec.Node.UUID), rec); err != nil {
		return err
	}
	if err := setString(txn, keyPath(rec.Node.Path), rec.Node.UUID); err != nil {
		return err
	}
	if rec.Parent != "" {
		if err := setString(txn, keyChild(rec.Parent, rec.Node.Name), rec.Node.UUID); err != nil {
			return err
		}
	}
	return nil
}

// nodeExists reports whether a node with the given path or UUID is stored.
func nodeExists(txn *badger.Txn, path, uuid string) (bool, error) {
	ok, err := exists(txn, keyPath(path))
	if err != nil || ok {
		return ok, err
	}
	if uuid == "" {
		return false, nil
	}
	return exists(txn, keyNode(uuid))
}

// usage returns the bytes stored in versions authored by user.
func usage(txn *badger.Txn, user string) (int64, error) {
	item, err := txn.Get(keyUsage(user))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, dbError(err)
	}
	var used uint64
	err = item.Value(func(val []byte) error {
		var derr error
		used, derr = decodeUint64(val)
		return derr
	})
	if err != nil {
		return 0, fmt.Errorf("reading usage of %s: %w", user, dbError(err))
	}
	return int64(used), nil
}

func addUsage(txn *badger.Txn, user string, size int64) error {
	used, err := usage(txn, user)
	if err != nil {
		return err
	}
	if err := txn.Set(keyUsage(user), encodeUint64(uint64(used+size))); err != nil {
		return fmt.Errorf("updating usage of %s: %w", user, dbError(err))
	}
	return nil
}

// Dir returns the store directory, empty for in-memory stores.
func (s *NodeStore) Dir() string {
	return s.dir
}

// BackupTo writes a full backup of the store to destPath.
func (s *NodeStore) BackupTo(destPath string) error {
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating backup file: %w", err)
	}
	if _, err := s.db.Backup(f, 0); err != nil {
		f.Close()
		return fmt.Errorf("backing up store: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing backup file: %w", err)
	}
	return nil
}

// Close closes the store.
func (s *NodeStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ okm.Repository = (*NodeStore)(nil)
var _ okm.OperationLog = (*NodeStore)(nil)
