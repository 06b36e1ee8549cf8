package app

import "okm-go/internal/impexp"

// Operation status values.
const (
	StatusSuccess = "success"
	StatusPartial = "partial" // finished, but some items failed
	StatusError   = "error"
)

// Operation tracks the CLI command being run. It is created in memory with
// ID=0; commands that touch the repository persist it, which assigns the
// ID from the backend's operation log.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
}

// NewOperation creates a new in-memory operation.
func NewOperation(operation, parameters string) *Operation {
	return &Operation{
		Operation:  operation,
		Parameters: parameters,
		Status:     StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the backend.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Record folds the outcome of one walk into the operation status. A worse
// outcome is never overwritten by a better one.
func (op *Operation) Record(stats impexp.ImpExpStats, err error) {
	switch {
	case err != nil:
		op.Status = StatusError
	case !stats.OK && op.Status == StatusSuccess:
		op.Status = StatusPartial
	}
}
