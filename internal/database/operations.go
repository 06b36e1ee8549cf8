package database

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"okm-go/internal/okm"
)

// OperationRunning is the status of an operation that has not finished.
const OperationRunning = "running"

func (s *SQLiteDatabase) CreateOperation(operation string, parameters string) (*okm.Operation, error) {
	ctx := context.Background()
	op := &okm.Operation{
		StartedAt:  s.opts.Clock.Now(),
		Operation:  operation,
		Parameters: parameters,
		Status:     OperationRunning,
	}
	res, err := exec(ctx, s.db, qb().Insert("operations").
		Columns("started_at", "operation", "parameters", "status").
		Values(op.StartedAt, op.Operation, op.Parameters, op.Status))
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	if op.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	return op, nil
}

func (s *SQLiteDatabase) FinishOperation(id int64, status string) error {
	_, err := exec(context.Background(), s.db, qb().Update("operations").
		Set("finished_at", s.opts.Clock.Now()).
		Set("status", status).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

// ListOperations returns the most recent operations, newest first.
func (s *SQLiteDatabase) ListOperations(limit int) ([]*okm.Operation, error) {
	var ops []*okm.Operation
	err := queryAll(context.Background(), s.db,
		qb().Select("id", "started_at", "finished_at", "operation", "parameters", "status").
			From("operations").OrderBy("id DESC").Limit(uint64(limit)),
		func(rows *sql.Rows) error {
			var op okm.Operation
			var finished sql.NullTime
			if err := rows.Scan(&op.ID, &op.StartedAt, &finished, &op.Operation, &op.Parameters, &op.Status); err != nil {
				return err
			}
			if finished.Valid {
				op.FinishedAt = &finished.Time
			}
			ops = append(ops, &op)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

func (s *SQLiteDatabase) MaxOperationID() (int64, error) {
	row, err := queryRow(context.Background(), s.db, qb().Select("COALESCE(MAX(id), 0)").From("operations"))
	if err != nil {
		return 0, err
	}
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("getting max operation ID: %w", dbError(err))
	}
	return id, nil
}
