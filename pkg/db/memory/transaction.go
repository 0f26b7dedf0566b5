// Package memory provides an in-process TransactionManager for the memory
// store driver. Transactions are serialised with a single mutex and rolled
// back by restoring snapshots taken from every registered Participant.
package memory

import (
	"context"
	"swimbook/pkg/db"
	"sync"
)

// Participant is a store whose state takes part in memory transactions.
type Participant interface {
	Snapshot() any
	Restore(snapshot any)
}

type txKey struct{}

type TransactionManager struct {
	mu           sync.Mutex
	participants []Participant
}

func NewTransactionManager(participants ...Participant) *TransactionManager {
	return &TransactionManager{participants: participants}
}

func (m *TransactionManager) Register(p Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants = append(m.participants, p)
}

func (m *TransactionManager) ExecuteTransaction(ctx context.Context, fn db.TransactionFunc) error {
	if InTransaction(ctx) {
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshots := make([]any, len(m.participants))
	for i, p := range m.participants {
		snapshots[i] = p.Snapshot()
	}

	err := fn(context.WithValue(ctx, txKey{}, true))
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		for i, p := range m.participants {
			p.Restore(snapshots[i])
		}
		return err
	}
	return nil
}

func InTransaction(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

var _ db.TransactionManager = (*TransactionManager)(nil)
