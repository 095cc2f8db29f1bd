package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnknownCollection is returned for names outside the collection registry.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrUserExists is returned when a username is already taken.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound is returned when no user matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrLastAdmin is returned when a change would leave no admin.
	ErrLastAdmin = errors.New("cannot remove the last admin")
)

// Collection describes a named partition of the document store.
type Collection struct {
	Name string
	// File is the on-disk name used by file-backed stores.
	File string
	// AdminOnly collections are only exported to or imported from admins.
	AdminOnly bool
}

// UsersCollection holds the user directory.
const UsersCollection = "users"

var registry = []Collection{
	{Name: UsersCollection, File: "users.json", AdminOnly: true},
	{Name: "fedexOrders", File: "fedex_orders.json"},
	{Name: "uspsOrders", File: "usps_orders.json"},
	{Name: "retainedOrders", File: "retained_orders.json"},
	{Name: "finishedGoods", File: "finished_goods.json"},
	{Name: "materialsBOM", File: "materials_bom.json"},
	{Name: "observations", File: "observations.json"},
	{Name: "partNumbers", File: "part_numbers.json"},
	{Name: "invoiceSearch", File: "invoice_search.json"},
	{Name: "invoiceHistory", File: "invoice_history.json"},
	{Name: "cutsReport", File: "cuts_report.json"},
	{Name: "dailyReport", File: "daily_report.json"},
}

// Collections returns the registry in its canonical order.
func Collections() []Collection {
	out := make([]Collection, len(registry))
	copy(out, registry)
	return out
}

// LookupCollection finds a registered collection by exact name.
func LookupCollection(name string) (Collection, bool) {
	for _, c := range registry {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}

// DocumentStore is the port for collection persistence.
//
// Implementations must never let a reader observe a partially written
// collection, and must hold one lock across the read, compute and persist
// steps of UpdateCollection.
type DocumentStore interface {
	// ReadCollection returns the stored documents, or an empty slice when
	// the collection was never written or cannot be decoded.
	ReadCollection(ctx context.Context, name string) ([]Value, error)
	// ReplaceCollection overwrites the whole collection.
	ReplaceCollection(ctx context.Context, name string, docs []Value) error
	// UpdateCollection applies fn to the current documents and persists the
	// result. Nothing is written when fn returns an error.
	UpdateCollection(ctx context.Context, name string, fn func([]Value) ([]Value, error)) error
}

// StorageEntry is a single key of the key/value store.
type StorageEntry struct {
	Key       string    `json:"key"`
	Value     Value     `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KVStore is the port for the single-key storage variant. Writes are
// last-write-wins.
type KVStore interface {
	GetValue(ctx context.Context, key string) (StorageEntry, bool, error)
	SetValue(ctx context.Context, key string, value Value) (StorageEntry, error)
}

// Store bundles both persistence ports of one physical backend.
type Store interface {
	DocumentStore
	KVStore
	Close() error
}

// Event types published to subscribers.
const (
	EventStorageUpdate = "storage_update"
	EventSyncUpdate    = "sync_update"
)

// Event describes a storage mutation.
type Event struct {
	Type       string  `json:"type"`
	Key        string  `json:"key,omitempty"`
	Collection string  `json:"collection,omitempty"`
	Value      *Value  `json:"value,omitempty"`
	Count      int     `json:"count,omitempty"`
	UpdatedAt  float64 `json:"updated_at"`
}

// Notifier receives mutation events. Notify must not block.
type Notifier interface {
	Notify(Event)
}

// NopNotifier discards events.
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}

// UnixSeconds renders t the way clients expect updated_at: fractional Unix
// seconds.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
