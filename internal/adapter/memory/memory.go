// Package memory implements an in-memory store for development and testing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Tabares32/shipping-backend/internal/domain"
)

// DB implements an in-memory document and key/value store.
type DB struct {
	mu          sync.RWMutex
	collections map[string][]domain.Value
	kv          map[string]domain.StorageEntry
	now         func() time.Time
}

// New creates a new in-memory database.
func New() *DB {
	return &DB{
		collections: make(map[string][]domain.Value),
		kv:          make(map[string]domain.StorageEntry),
		now:         time.Now,
	}
}

// Ensure interfaces are met.
var _ domain.Store = (*DB)(nil)

// --- DocumentStore ---

// ReadCollection returns a copy of the named collection.
func (db *DB) ReadCollection(ctx context.Context, name string) ([]domain.Value, error) {
	if _, ok := domain.LookupCollection(name); !ok {
		return nil, domain.ErrUnknownCollection
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	return domain.CloneDocuments(db.collections[name]), nil
}

// ReplaceCollection overwrites the named collection.
func (db *DB) ReplaceCollection(ctx context.Context, name string, docs []domain.Value) error {
	if _, ok := domain.LookupCollection(name); !ok {
		return domain.ErrUnknownCollection
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.collections[name] = domain.CloneDocuments(docs)
	return nil
}

// UpdateCollection runs fn against the collection while holding the write
// lock.
func (db *DB) UpdateCollection(ctx context.Context, name string, fn func([]domain.Value) ([]domain.Value, error)) error {
	if _, ok := domain.LookupCollection(name); !ok {
		return domain.ErrUnknownCollection
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	next, err := fn(domain.CloneDocuments(db.collections[name]))
	if err != nil {
		return err
	}
	db.collections[name] = domain.CloneDocuments(next)
	return nil
}

// --- KVStore ---

// GetValue returns the entry stored under key.
func (db *DB) GetValue(ctx context.Context, key string) (domain.StorageEntry, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	e, ok := db.kv[key]
	if !ok {
		return domain.StorageEntry{}, false, nil
	}
	e.Value = e.Value.Clone()
	return e, true, nil
}

// SetValue stores value under key.
func (db *DB) SetValue(ctx context.Context, key string, value domain.Value) (domain.StorageEntry, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	e := domain.StorageEntry{Key: key, Value: value.Clone(), UpdatedAt: db.now().UTC()}
	db.kv[key] = e
	e.Value = e.Value.Clone()
	return e, nil
}

// Close is a no-op.
func (db *DB) Close() error { return nil }
