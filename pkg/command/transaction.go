package command

import (
	"context"
	"fmt"

	"github.com/pbinitiative/zenpvm/pkg/storage"
)

type TransactionState int

const (
	TransactionInactive TransactionState = iota
	TransactionActive
	TransactionCommitted
	TransactionRolledBack
)

// TransactionContext begins the storage transaction on first use so commands
// that only read never open one.
type TransactionContext struct {
	store storage.Storage
	tx    storage.Tx
	state TransactionState
}

func NewTransactionContext(store storage.Storage) *TransactionContext {
	return &TransactionContext{store: store}
}

func (t *TransactionContext) State() TransactionState {
	return t.state
}

// Begin returns the open transaction, starting it when needed.
func (t *TransactionContext) Begin(ctx context.Context) (storage.Tx, error) {
	switch t.state {
	case TransactionActive:
		return t.tx, nil
	case TransactionCommitted, TransactionRolledBack:
		return nil, storage.ErrTxClosed
	}
	tx, err := t.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	t.tx = tx
	t.state = TransactionActive
	return tx, nil
}

func (t *TransactionContext) Commit(ctx context.Context) error {
	if t.state != TransactionActive {
		return fmt.Errorf("cannot commit transaction in state %d: %w", t.state, storage.ErrTxClosed)
	}
	if err := t.tx.Commit(ctx); err != nil {
		t.state = TransactionRolledBack
		_ = t.tx.Rollback(ctx)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	t.state = TransactionCommitted
	return nil
}

// Rollback is a no-op when the transaction was never started.
func (t *TransactionContext) Rollback(ctx context.Context) error {
	if t.state != TransactionActive {
		if t.state == TransactionInactive {
			t.state = TransactionRolledBack
		}
		return nil
	}
	t.state = TransactionRolledBack
	return t.tx.Rollback(ctx)
}
