// Package filestore keeps each collection in its own JSON file inside a data
// directory. Every write goes to a temporary file that is synced and renamed
// over the old one, so readers see either the previous or the new content.
package filestore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Tabares32/shipping-backend/internal/domain"
	"github.com/Tabares32/shipping-backend/internal/logging"
)

const kvDir = "kv"

// Store is a file-backed domain.Store.
type Store struct {
	dir   string
	log   logging.Logger
	now   func() time.Time
	locks map[string]*sync.RWMutex
	kvMu  sync.RWMutex
}

var _ domain.Store = (*Store)(nil)

// Open prepares dir, creating it and an empty file for every registered
// collection that does not exist yet.
func Open(dir string, log logging.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, kvDir), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &Store{
		dir:   dir,
		log:   log,
		now:   time.Now,
		locks: make(map[string]*sync.RWMutex),
	}
	for _, c := range domain.Collections() {
		s.locks[c.Name] = &sync.RWMutex{}
		path := filepath.Join(dir, c.File)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			if err := writeFileAtomic(path, []byte("[]")); err != nil {
				return nil, fmt.Errorf("seed %s: %w", c.File, err)
			}
		}
	}
	return s, nil
}

// Close is a no-op; every write is already durable.
func (s *Store) Close() error { return nil }

func (s *Store) collection(name string) (domain.Collection, *sync.RWMutex, error) {
	c, ok := domain.LookupCollection(name)
	if !ok {
		return domain.Collection{}, nil, domain.ErrUnknownCollection
	}
	return c, s.locks[name], nil
}

// ReadCollection returns the documents of name. A missing, unreadable or
// corrupt file reads as an empty collection.
func (s *Store) ReadCollection(ctx context.Context, name string) ([]domain.Value, error) {
	c, mu, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	mu.RLock()
	defer mu.RUnlock()
	return s.load(ctx, c), nil
}

// ReplaceCollection overwrites name with docs.
func (s *Store) ReplaceCollection(ctx context.Context, name string, docs []domain.Value) error {
	c, mu, err := s.collection(name)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	return s.save(c, docs)
}

// UpdateCollection applies fn and saves the result under the collection's
// write lock.
func (s *Store) UpdateCollection(ctx context.Context, name string, fn func([]domain.Value) ([]domain.Value, error)) error {
	c, mu, err := s.collection(name)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()

	next, err := fn(s.load(ctx, c))
	if err != nil {
		return err
	}
	return s.save(c, next)
}

func (s *Store) load(ctx context.Context, c domain.Collection) []domain.Value {
	data, err := os.ReadFile(filepath.Join(s.dir, c.File))
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.Value{}
	}
	if err != nil {
		s.log.Warn(ctx, "collection unreadable, serving empty", "collection", c.Name, "error", err)
		return []domain.Value{}
	}
	docs, err := domain.ParseDocuments(data)
	if err != nil {
		s.log.Warn(ctx, "collection corrupt, serving empty", "collection", c.Name, "error", err)
		return []domain.Value{}
	}
	return docs
}

func (s *Store) save(c domain.Collection, docs []domain.Value) error {
	if docs == nil {
		docs = []domain.Value{}
	}
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.Name, err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, c.File), data); err != nil {
		return fmt.Errorf("write %s: %w", c.Name, err)
	}
	return nil
}

// --- KVStore ---

type kvRecord struct {
	Key       string       `json:"key"`
	Value     domain.Value `json:"value"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (s *Store) kvPath(key string) string {
	return filepath.Join(s.dir, kvDir, hex.EncodeToString([]byte(key))+".json")
}

// GetValue returns the entry for key. A corrupt entry reads as absent.
func (s *Store) GetValue(ctx context.Context, key string) (domain.StorageEntry, bool, error) {
	s.kvMu.RLock()
	defer s.kvMu.RUnlock()

	data, err := os.ReadFile(s.kvPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return domain.StorageEntry{}, false, nil
	}
	if err != nil {
		s.log.Warn(ctx, "storage entry unreadable", "key", key, "error", err)
		return domain.StorageEntry{}, false, nil
	}
	var rec kvRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.Warn(ctx, "storage entry corrupt", "key", key, "error", err)
		return domain.StorageEntry{}, false, nil
	}
	return domain.StorageEntry{Key: key, Value: rec.Value, UpdatedAt: rec.UpdatedAt}, true, nil
}

// SetValue writes value under key.
func (s *Store) SetValue(ctx context.Context, key string, value domain.Value) (domain.StorageEntry, error) {
	s.kvMu.Lock()
	defer s.kvMu.Unlock()

	rec := kvRecord{Key: key, Value: value, UpdatedAt: s.now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return domain.StorageEntry{}, fmt.Errorf("encode entry %q: %w", key, err)
	}
	if err := writeFileAtomic(s.kvPath(key), data); err != nil {
		return domain.StorageEntry{}, fmt.Errorf("write entry %q: %w", key, err)
	}
	return domain.StorageEntry{Key: key, Value: value, UpdatedAt: rec.UpdatedAt}, nil
}

// writeFileAtomic replaces path with data via a synced temporary file in
// the same directory.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	success = true

	// Make the rename itself durable.
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
