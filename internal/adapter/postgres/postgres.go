// Package postgres implements the document and key/value stores using
// PostgreSQL JSONB columns.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

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
}

var _ domain.Store = (*DB)(nil)

// Open connects to PostgreSQL, pings, and runs migrations.
func Open(ctx context.Context, connStr string, log logging.Logger) (*DB, error) {
	s, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	s.SetMaxOpenConns(10)
	s.SetMaxIdleConns(5)
	s.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.PingContext(pingCtx); err != nil {
		_ = s.Close()
		return nil, err
	}

	if err := migrate(ctx, s); err != nil {
		_ = s.Close()
		return nil, err
	}
	return New(s, log), nil
}

// New wraps an already migrated connection pool.
func New(db *sql.DB, log logging.Logger) *DB {
	return &DB{sql: db, log: log, now: time.Now}
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

// ReadCollection returns the documents of name; a missing or corrupt row
// reads as empty.
func (d *DB) ReadCollection(ctx context.Context, name string) ([]domain.Value, error) {
	if _, ok := domain.LookupCollection(name); !ok {
		return nil, domain.ErrUnknownCollection
	}
	var body []byte
	err := d.sql.QueryRowContext(ctx, "SELECT body FROM collections WHERE name = $1", name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return []domain.Value{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return d.decode(ctx, name, body), nil
}

// ReplaceCollection overwrites name with docs in a single statement.
func (d *DB) ReplaceCollection(ctx context.Context, name string, docs []domain.Value) error {
	if _, ok := domain.LookupCollection(name); !ok {
		return domain.ErrUnknownCollection
	}
	body, err := encode(docs)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	_, err = d.sql.ExecContext(ctx,
		`INSERT INTO collections (name, body, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		name, string(body), d.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// UpdateCollection locks the collection row for the duration of fn, so
// writers in other processes serialise as well.
func (d *DB) UpdateCollection(ctx context.Context, name string, fn func([]domain.Value) ([]domain.Value, error)) error {
	if _, ok := domain.LookupCollection(name); !ok {
		return domain.ErrUnknownCollection
	}
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO collections (name, body, updated_at) VALUES ($1, '[]', $2) ON CONFLICT (name) DO NOTHING",
		name, d.now().UTC(),
	); err != nil {
		return fmt.Errorf("prepare %s: %w", name, err)
	}

	var body []byte
	if err := tx.QueryRowContext(ctx, "SELECT body FROM collections WHERE name = $1 FOR UPDATE", name).Scan(&body); err != nil {
		return fmt.Errorf("lock %s: %w", name, err)
	}

	next, err := fn(d.decode(ctx, name, body))
	if err != nil {
		return err
	}
	out, err := encode(next)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE collections SET body = $2, updated_at = $3 WHERE name = $1",
		name, string(out), d.now().UTC(),
	); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}

func (d *DB) decode(ctx context.Context, name string, body []byte) []domain.Value {
	docs, err := domain.ParseDocuments(body)
	if err != nil {
		d.log.Warn(ctx, "collection corrupt, serving empty", "collection", name, "error", err)
		return []domain.Value{}
	}
	return docs
}

func encode(docs []domain.Value) ([]byte, error) {
	if docs == nil {
		docs = []domain.Value{}
	}
	return json.Marshal(docs)
}

// GetValue returns the entry stored under key.
func (d *DB) GetValue(ctx context.Context, key string) (domain.StorageEntry, bool, error) {
	var (
		raw     []byte
		updated time.Time
	)
	err := d.sql.QueryRowContext(ctx, "SELECT value, updated_at FROM kv WHERE key = $1", key).Scan(&raw, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StorageEntry{}, false, nil
	}
	if err != nil {
		return domain.StorageEntry{}, false, fmt.Errorf("read entry %q: %w", key, err)
	}
	v, err := domain.ParseValue(raw)
	if err != nil {
		d.log.Warn(ctx, "storage entry corrupt", "key", key, "error", err)
		return domain.StorageEntry{}, false, nil
	}
	return domain.StorageEntry{Key: key, Value: v, UpdatedAt: updated.UTC()}, true, nil
}

// SetValue upserts value under key.
func (d *DB) SetValue(ctx context.Context, key string, value domain.Value) (domain.StorageEntry, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return domain.StorageEntry{}, fmt.Errorf("encode entry %q: %w", key, err)
	}
	now := d.now().UTC()
	_, err = d.sql.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, string(raw), now,
	)
	if err != nil {
		return domain.StorageEntry{}, fmt.Errorf("write entry %q: %w", key, err)
	}
	return domain.StorageEntry{Key: key, Value: value, UpdatedAt: now}, nil
}
