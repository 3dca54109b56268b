package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/flexprice/dunning/internal/postgres"
)

type memTxKey struct{}

type memTx struct {
	id uint64
}

// InMemoryDB implements postgres.IClient for service tests. Transactions
// only scope advisory locks, which are released when the outermost WithTx
// returns. Writes to the in-memory stores are not rolled back.
type InMemoryDB struct {
	mu     sync.Mutex
	locks  map[string]uint64
	nextTx atomic.Uint64

	// TxCount counts outermost transactions, for assertions.
	TxCount atomic.Int64
}

func NewInMemoryDB() *InMemoryDB {
	return &InMemoryDB{locks: make(map[string]uint64)}
}

var _ postgres.IClient = (*InMemoryDB)(nil)

func txFromContext(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	return tx
}

func (db *InMemoryDB) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx := &memTx{id: db.nextTx.Add(1)}
	db.TxCount.Add(1)
	defer db.release(tx.id)

	return fn(context.WithValue(ctx, memTxKey{}, tx))
}

func (db *InMemoryDB) release(txID uint64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for key, owner := range db.locks {
		if owner == txID {
			delete(db.locks, key)
		}
	}
}

// Querier is never used by the in-memory repositories.
func (db *InMemoryDB) Querier(context.Context) postgres.Querier {
	return nil
}

func (db *InMemoryDB) TryLockKey(ctx context.Context, key string) (bool, error) {
	tx := txFromContext(ctx)
	if tx == nil {
		return false, fmt.Errorf("TryLockKey must be called inside transaction")
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	owner, held := db.locks[key]
	if held && owner != tx.id {
		return false, nil
	}
	db.locks[key] = tx.id
	return true, nil
}

func (db *InMemoryDB) Ping(context.Context) error {
	return nil
}

// IsLocked reports whether any transaction currently holds key.
func (db *InMemoryDB) IsLocked(key string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, held := db.locks[key]
	return held
}
