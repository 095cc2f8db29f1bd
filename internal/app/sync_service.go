package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Tabares32/shipping-backend/internal/domain"
	"github.com/Tabares32/shipping-backend/internal/logging"
)

// Reasons an upload may skip a collection.
const (
	SkipNotArray  = "not_array"
	SkipEmpty     = "empty"
	SkipForbidden = "forbidden"
	SkipNoAdmin   = "no_admin"

	SkipDuplicateUsername = "duplicate_username"
)

// ImportReport describes what an upload changed.
type ImportReport struct {
	Applied []string          `json:"applied"`
	Skipped map[string]string `json:"skipped"`
	Ignored []string          `json:"ignored"`
}

// SyncService exports and imports whole collections.
type SyncService struct {
	store      domain.DocumentStore
	users      *UserDirectory
	passwords  *PasswordChecker
	notifier   domain.Notifier
	allowEmpty map[string]bool
	log        logging.Logger
	now        func() time.Time
}

// NewSyncService creates a sync service. Collections named in allowEmpty
// accept an empty upload; all others keep their data when a client sends [].
func NewSyncService(store domain.DocumentStore, notifier domain.Notifier, allowEmpty []string, log logging.Logger) *SyncService {
	if notifier == nil {
		notifier = domain.NopNotifier{}
	}
	allow := make(map[string]bool, len(allowEmpty))
	for _, name := range allowEmpty {
		allow[name] = true
	}
	return &SyncService{
		store:      store,
		users:      NewUserDirectory(store),
		passwords:  NewPasswordChecker(false, 0),
		notifier:   notifier,
		allowEmpty: allow,
		log:        log,
		now:        time.Now,
	}
}

// WithPasswords sets the checker used to hash plaintext passwords found in
// a users upload.
func (s *SyncService) WithPasswords(p *PasswordChecker) *SyncService {
	s.passwords = p
	return s
}

// ExportAll snapshots every registered collection visible to caller. A nil
// caller is anonymous and sees no AdminOnly collection. Each collection is
// read on its own, so the result is not one atomic snapshot.
func (s *SyncService) ExportAll(ctx context.Context, caller *Identity) (map[string][]domain.Value, error) {
	out := make(map[string][]domain.Value)
	for _, c := range domain.Collections() {
		if c.AdminOnly && !caller.IsAdmin() {
			continue
		}
		docs, err := s.store.ReadCollection(ctx, c.Name)
		if err != nil {
			return nil, classify(err)
		}
		out[c.Name] = docs
	}
	return out, nil
}

// ImportAll replaces every registered collection present in payload. Unknown
// keys are ignored. A write failure stops the import; collections applied
// before it stay applied.
func (s *SyncService) ImportAll(ctx context.Context, caller *Identity, payload map[string]domain.Value) (*ImportReport, error) {
	if caller == nil {
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}
	// The client may disconnect mid-upload; finish what was started.
	ctx = context.WithoutCancel(ctx)

	report := &ImportReport{
		Applied: []string{},
		Skipped: map[string]string{},
		Ignored: []string{},
	}
	for key := range payload {
		if _, ok := domain.LookupCollection(key); !ok {
			report.Ignored = append(report.Ignored, key)
		}
	}
	sort.Strings(report.Ignored)

	for _, c := range domain.Collections() {
		v, ok := payload[c.Name]
		if !ok {
			continue
		}
		if reason := s.check(c, caller, v); reason != "" {
			report.Skipped[c.Name] = reason
			continue
		}
		docs, _ := v.AsArray()
		count := len(docs)
		var err error
		if c.Name == domain.UsersCollection {
			count, err = s.importUsers(ctx, docs)
			switch {
			case errors.Is(err, domain.ErrUserExists):
				report.Skipped[c.Name] = SkipDuplicateUsername
				continue
			case errors.Is(err, domain.ErrLastAdmin):
				report.Skipped[c.Name] = SkipNoAdmin
				continue
			}
		} else {
			err = s.store.ReplaceCollection(ctx, c.Name, docs)
		}
		if err != nil {
			s.log.Error(ctx, "sync import failed", "collection", c.Name, "applied", report.Applied, "error", err)
			return report, classify(err)
		}
		report.Applied = append(report.Applied, c.Name)
		s.notifier.Notify(domain.Event{
			Type:       domain.EventSyncUpdate,
			Collection: c.Name,
			Count:      count,
			UpdatedAt:  domain.UnixSeconds(s.now()),
		})
	}

	s.log.Info(ctx, "sync import",
		"user", caller.Username,
		"applied", len(report.Applied),
		"skipped", len(report.Skipped),
		"ignored", len(report.Ignored),
	)
	return report, nil
}

func (s *SyncService) check(c domain.Collection, caller *Identity, v domain.Value) string {
	if c.AdminOnly && !caller.IsAdmin() {
		return SkipForbidden
	}
	docs, ok := v.AsArray()
	if !ok {
		return SkipNotArray
	}
	if len(docs) == 0 && !s.allowEmpty[c.Name] {
		return SkipEmpty
	}
	if c.Name == domain.UsersCollection {
		if HasDuplicateUsername(docs) {
			return SkipDuplicateUsername
		}
		if !HasAdmin(docs) {
			return SkipNoAdmin
		}
	}
	return ""
}

// importUsers hashes plaintext passwords and hands the records to the user
// directory, which enforces its invariants under the store lock.
func (s *SyncService) importUsers(ctx context.Context, docs []domain.Value) (int, error) {
	prepared := make([]domain.Value, len(docs))
	for i, doc := range docs {
		prepared[i] = doc
		obj, ok := doc.AsObject()
		if !ok {
			continue
		}
		plain := doc.StringField("password")
		hash, err := s.passwords.HashIfPlain(plain)
		if err != nil {
			return 0, fmt.Errorf("%w: user %d: %w", ErrBadRequest, i, err)
		}
		if hash == plain {
			continue
		}
		fields := make(map[string]domain.Value, len(obj))
		for k, v := range obj {
			fields[k] = v
		}
		fields["password"] = domain.String(hash)
		prepared[i] = domain.Object(fields)
	}
	return s.users.ReplaceAll(ctx, prepared)
}
