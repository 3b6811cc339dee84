package boltdriver

import (
	"context"

	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/errs"
)

// ExplicitTransaction is the handle returned by Session.BeginTransaction.
// Its lifetime is owned by the caller; ExecuteRead/ExecuteWrite also pass
// one to their work function and commit or roll it back themselves.
type ExplicitTransaction struct {
	session *Session
	done    bool
}

// RunQuery runs cypher within this transaction.
func (tx *ExplicitTransaction) RunQuery(ctx context.Context, cypher string, params map[string]any) (*ResultStream, error) {
	if tx.done {
		return nil, errs.New(errs.InvalidArgument, "transaction already committed or rolled back")
	}
	return tx.session.RunQuery(ctx, cypher, params)
}

// Commit sends COMMIT, updates session bookmarks, and ends the
// transaction's lifetime.
func (tx *ExplicitTransaction) Commit(ctx context.Context) error {
	if tx.done {
		return errs.New(errs.InvalidArgument, "transaction already committed or rolled back")
	}
	tx.session.mu.Lock()
	defer tx.session.mu.Unlock()
	tx.done = true
	return tx.session.commitLocked(ctx)
}

// Rollback sends ROLLBACK; calling it when the transaction is already
// closed is a no-op success, per spec.md §4.E.
func (tx *ExplicitTransaction) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.session.mu.Lock()
	defer tx.session.mu.Unlock()
	tx.done = true
	return tx.session.rollbackLocked(ctx)
}
