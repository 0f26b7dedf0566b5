package mongo

import (
	"context"
	"errors"
	"fmt"
	"swimbook/pkg/db"
	apperrors "swimbook/pkg/errors"

	"go.mongodb.org/mongo-driver/mongo"
)

const (
	writeConflictCode         = 112
	transientTransactionLabel = "TransientTransactionError"
	unknownCommitResultLabel  = "UnknownTransactionCommitResult"
	maxCommitRetries          = 3
)

type mongoTransactionManager struct {
	client *mongo.Client
}

func NewTransactionManager(client *mongo.Client) db.TransactionManager {
	return &mongoTransactionManager{
		client: client,
	}
}

// ExecuteTransaction runs fn inside a multi-document transaction. Unlike
// session.WithTransaction it does not retry transient errors itself: a write
// conflict aborts the transaction and surfaces as db.ErrWriteConflict so the
// caller can re-read state before trying again. A ctx that already carries a
// session joins the outer transaction.
func (m *mongoTransactionManager) ExecuteTransaction(ctx context.Context, fn db.TransactionFunc) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(context.WithoutCancel(ctx))

	return mongo.WithSession(ctx, session, func(sessCtx mongo.SessionContext) error {
		if err := session.StartTransaction(); err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if err := fn(sessCtx); err != nil {
			if abortErr := session.AbortTransaction(context.WithoutCancel(sessCtx)); abortErr != nil && !isWriteConflict(err) {
				err = errors.Join(err, abortErr)
			}
			return classify(err)
		}

		for attempt := 0; ; attempt++ {
			err := session.CommitTransaction(sessCtx)
			if err == nil {
				return nil
			}
			if hasLabel(err, unknownCommitResultLabel) && attempt < maxCommitRetries && sessCtx.Err() == nil {
				continue
			}
			return classify(err)
		}
	})
}

func classify(err error) error {
	if errors.Is(err, db.ErrWriteConflict) {
		return err
	}
	// Repositories and services may have wrapped the driver error already.
	if isWriteConflict(err) {
		return fmt.Errorf("%w: %v", db.ErrWriteConflict, err)
	}
	if apperrors.IsAppError(err) {
		return err
	}
	return fmt.Errorf("transaction failed: %w", err)
}

func isWriteConflict(err error) bool {
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) && serverErr.HasErrorCode(writeConflictCode) {
		return true
	}
	return hasLabel(err, transientTransactionLabel)
}

func hasLabel(err error, label string) bool {
	var labeled mongo.LabeledError
	return errors.As(err, &labeled) && labeled.HasErrorLabel(label)
}
