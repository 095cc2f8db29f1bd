package app

import (
	"context"
	"fmt"

	"github.com/Tabares32/shipping-backend/internal/domain"
)

// MaxKeyLength bounds storage keys so that every backend can hold them.
const MaxKeyLength = 120

// StorageService reads and writes single keys and announces every write.
type StorageService struct {
	store    domain.KVStore
	notifier domain.Notifier
}

// NewStorageService creates a storage service.
func NewStorageService(store domain.KVStore, notifier domain.Notifier) *StorageService {
	if notifier == nil {
		notifier = domain.NopNotifier{}
	}
	return &StorageService{store: store, notifier: notifier}
}

// Get returns the entry stored under key and whether it exists.
func (s *StorageService) Get(ctx context.Context, key string) (domain.StorageEntry, bool, error) {
	if err := validateKey(key); err != nil {
		return domain.StorageEntry{}, false, err
	}
	e, ok, err := s.store.GetValue(ctx, key)
	if err != nil {
		return domain.StorageEntry{}, false, classify(err)
	}
	return e, ok, nil
}

// Set stores value under key and broadcasts a storage_update event.
func (s *StorageService) Set(ctx context.Context, key string, value domain.Value) (domain.StorageEntry, error) {
	if err := validateKey(key); err != nil {
		return domain.StorageEntry{}, err
	}
	e, err := s.store.SetValue(context.WithoutCancel(ctx), key, value)
	if err != nil {
		return domain.StorageEntry{}, classify(err)
	}
	v := e.Value.Clone()
	s.notifier.Notify(domain.Event{
		Type:      domain.EventStorageUpdate,
		Key:       key,
		Value:     &v,
		UpdatedAt: domain.UnixSeconds(e.UpdatedAt),
	})
	return e, nil
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key is required", ErrBadRequest)
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key longer than %d bytes", ErrBadRequest, MaxKeyLength)
	}
	return nil
}
