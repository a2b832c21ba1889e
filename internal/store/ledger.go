package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger serialises every mutating operation against a Store. Update holds
// the write lock for the whole operation and commits all of its writes or
// none of them. View takes the read lock, so read-only queries may run in
// parallel with each other but never alongside an Update.
type Ledger struct {
	mu    sync.RWMutex
	store Store
}

// NewLedger wraps a store.
func NewLedger(s Store) *Ledger {
	return &Ledger{store: s}
}

// Update runs fn over a fresh Tx and applies its writes when fn returns
// nil. A read failure inside the Tx takes precedence over fn's result.
func (l *Ledger) Update(ctx context.Context, fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := NewTx(ctx, l.store)
	fnErr := fn(tx)
	if err := tx.Err(); err != nil {
		return err
	}
	if fnErr != nil {
		return fnErr
	}

	cs := tx.Changes()
	if cs.Empty() {
		return nil
	}
	if err := l.store.Apply(ctx, cs); err != nil {
		return fmt.Errorf("apply changes: %w", err)
	}
	return nil
}

// View runs fn over a Tx whose writes are discarded.
func (l *Ledger) View(ctx context.Context, fn func(tx *Tx) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	tx := NewTx(ctx, l.store)
	fnErr := fn(tx)
	if err := tx.Err(); err != nil {
		return err
	}
	return fnErr
}

// SubAccounts lists sub-accounts with open positions.
func (l *Ledger) SubAccounts(ctx context.Context) ([]common.Address, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store.SubAccounts(ctx)
}
