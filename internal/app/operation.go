package app

import (
	"appkeep/internal/database"
	"appkeep/internal/keep"
)

// Operation tracks a CLI operation that may mutate the database.
// Operations are created in memory with ID=0. Only DB-mutating commands
// persist them (giving them an auto-increment ID from the database).
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
		Status:     database.StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Settle derives the final status from a batch result. An error that
// aborted the batch fails the operation; otherwise it is partial when some
// but not all applications failed.
func (op *Operation) Settle(outcomes []keep.Outcome, batchErr error) {
	if batchErr != nil {
		op.Status = database.StatusFailed
		return
	}
	failed := 0
	for _, o := range outcomes {
		if !o.OK() {
			failed++
		}
	}
	switch {
	case failed == 0:
		op.Status = database.StatusSuccess
	case failed == len(outcomes):
		op.Status = database.StatusFailed
	default:
		op.Status = database.StatusPartial
	}
}
