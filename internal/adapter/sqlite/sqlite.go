// Package sqlite implements the document and key/value stores on an embedded
// SQLite database (pure Go driver), one row per collection.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/Tabares32/shipping-backend/internal/domain"
	"github.com/Tabares32/shipping-backend/internal/logging"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps a *sql.DB and implements domain.Store.
type DB struct {
	sql *sql.DB
	log logging.Logger
	now func() time.Time

	// mu serialises mutations; WAL readers never wait on it.
	mu sync.Mutex
}

var _ domain.Store = (*DB)(nil)

// Open opens (creating if needed) the database at path and runs migrations.
func Open(ctx context.Context, path string, log logging.Logger) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)", path)
	s, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := s.PingContext(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(ctx, s); err != nil {
		_ = s.Close()
		return nil, err
	}
	return &DB{sql: s, log: log, now: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.sql.Close()
}

// ReadCollection returns the stored documents of name. A missing or corrupt
// row reads as an empty collection.
func (d *DB) ReadCollection(ctx context.Context, name string) ([]domain.Value, error) {
	if _, ok := domain.LookupCollection(name); !ok {
		return nil, domain.ErrUnknownCollection
	}
	return d.load(ctx, d.sql, name)
}

// ReplaceCollection overwrites name with docs.
func (d *DB) ReplaceCollection(ctx context.Context, name string, docs []domain.Value) error {
	if _, ok := domain.LookupCollection(name); !ok {
		return domain.ErrUnknownCollection
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.save(ctx, d.sql, name, docs)
}

// UpdateCollection applies fn inside one transaction while holding the
// mutation lock.
func (d *DB) UpdateCollection(ctx context.Context, name string, fn func([]domain.Value) ([]domain.Value, error)) error {
	if _, ok := domain.LookupCollection(name); !ok {
		return domain.ErrUnknownCollection
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	docs, err := d.load(ctx, tx, name)
	if err != nil {
		return err
	}
	next, err := fn(docs)
	if err != nil {
		return err
	}
	if err := d.save(ctx, tx, name, next); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (d *DB) load(ctx context.Context, q querier, name string) ([]domain.Value, error) {
	var body string
	err := q.QueryRowContext(ctx, "SELECT body FROM collections WHERE name = ?", name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return []domain.Value{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	docs, err := domain.ParseDocuments([]byte(body))
	if err != nil {
		d.log.Warn(ctx, "collection corrupt, serving empty", "collection", name, "error", err)
		return []domain.Value{}, nil
	}
	return docs, nil
}

func (d *DB) save(ctx context.Context, q querier, name string, docs []domain.Value) error {
	if docs == nil {
		docs = []domain.Value{}
	}
	body, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO collections (name, body, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		name, string(body), domain.UnixSeconds(d.now()),
	)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// GetValue returns the entry stored under key. A corrupt value reads as
// absent.
func (d *DB) GetValue(ctx context.Context, key string) (domain.StorageEntry, bool, error) {
	var (
		raw     string
		updated float64
	)
	err := d.sql.QueryRowContext(ctx, "SELECT value, updated_at FROM kv WHERE key = ?", key).Scan(&raw, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StorageEntry{}, false, nil
	}
	if err != nil {
		return domain.StorageEntry{}, false, fmt.Errorf("read entry %q: %w", key, err)
	}
	v, err := domain.ParseValue([]byte(raw))
	if err != nil {
		d.log.Warn(ctx, "storage entry corrupt", "key", key, "error", err)
		return domain.StorageEntry{}, false, nil
	}
	return domain.StorageEntry{Key: key, Value: v, UpdatedAt: fromUnixSeconds(updated)}, true, nil
}

// SetValue stores value under key.
func (d *DB) SetValue(ctx context.Context, key string, value domain.Value) (domain.StorageEntry, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return domain.StorageEntry{}, fmt.Errorf("encode entry %q: %w", key, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now().UTC()
	_, err = d.sql.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), domain.UnixSeconds(now),
	)
	if err != nil {
		return domain.StorageEntry{}, fmt.Errorf("write entry %q: %w", key, err)
	}
	return domain.StorageEntry{Key: key, Value: value, UpdatedAt: now}, nil
}

func fromUnixSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}
