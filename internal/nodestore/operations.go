package nodestore

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"okm-go/internal/okm"
)

// OperationRunning is the status of an operation that has not finished.
const OperationRunning = "running"

// maxOperationID returns the highest stored operation ID, 0 if none.
func maxOperationID(txn *badger.Txn) (int64, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = true
	opts.Prefix = []byte(prefixOperation)
	it := txn.NewIterator(opts)
	defer it.Close()

	it.Seek(append([]byte(prefixOperation), 0xff))
	if !it.Valid() {
		return 0, nil
	}
	id, err := operationID(it.Item().Key())
	if err != nil {
		return 0, dbError(err)
	}
	return id, nil
}

func (s *NodeStore) CreateOperation(operation string, parameters string) (*okm.Operation, error) {
	op := &okm.Operation{
		StartedAt:  s.opts.Clock.Now(),
		Operation:  operation,
		Parameters: parameters,
		Status:     OperationRunning,
	}
	err := s.update(func(txn *badger.Txn) error {
		last, err := maxOperationID(txn)
		if err != nil {
			return err
		}
		op.ID = last + 1
		return put(txn, keyOperation(op.ID), op)
	})
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	return op, nil
}

func (s *NodeStore) FinishOperation(id int64, status string) error {
	err := s.update(func(txn *badger.Txn) error {
		var op okm.Operation
		ok, err := get(txn, keyOperation(id), &op)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("operation %d not found: %w", id, okm.ErrDatabase)
		}
		finished := s.opts.Clock.Now()
		op.FinishedAt = &finished
		op.Status = status
		return put(txn, keyOperation(id), &op)
	})
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

// ListOperations returns the most recent operations, newest first.
func (s *NodeStore) ListOperations(limit int) ([]*okm.Operation, error) {
	var ops []*okm.Operation
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(prefixOperation)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append([]byte(prefixOperation), 0xff)); it.Valid() && len(ops) < limit; it.Next() {
			var op okm.Operation
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &op)
			})
			if err != nil {
				return dbError(err)
			}
			ops = append(ops, &op)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

func (s *NodeStore) MaxOperationID() (int64, error) {
	var id int64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		id, err = maxOperationID(txn)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("getting max operation ID: %w", err)
	}
	return id, nil
}
