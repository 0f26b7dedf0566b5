package db

import (
	"context"
	"errors"
)

// ErrWriteConflict is returned by a TransactionManager when the transaction
// lost a race against a concurrent writer and was rolled back. Callers may
// retry the whole unit of work.
var ErrWriteConflict = errors.New("transaction write conflict")

type TransactionFunc func(ctx context.Context) error

type TransactionManager interface {
	ExecuteTransaction(ctx context.Context, fn TransactionFunc) error
}
