package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Tabares32/shipping-backend/internal/domain"
)

// UserDirectory implements domain.UserRepository on top of the users
// collection of a DocumentStore.
//
// Entries that are not objects or have no username are kept as they are but
// never match a lookup. Every mutation, including its uniqueness and
// last-admin checks, runs inside one UpdateCollection call.
type UserDirectory struct {
	store domain.DocumentStore
}

// NewUserDirectory creates a directory backed by store.
func NewUserDirectory(store domain.DocumentStore) *UserDirectory {
	return &UserDirectory{store: store}
}

var _ domain.UserRepository = (*UserDirectory)(nil)

// List returns every well-formed user record.
func (d *UserDirectory) List(ctx context.Context) ([]domain.User, error) {
	docs, err := d.store.ReadCollection(ctx, domain.UsersCollection)
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(docs))
	for _, doc := range docs {
		if u, ok := decodeUser(doc); ok {
			users = append(users, u)
		}
	}
	return users, nil
}

// GetByUsername finds a user by case-insensitive username.
func (d *UserDirectory) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return d.find(ctx, func(u domain.User) bool { return domain.SameUsername(u.Username, username) })
}

// GetByID finds a user by id.
func (d *UserDirectory) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return d.find(ctx, func(u domain.User) bool { return u.ID == id })
}

func (d *UserDirectory) find(ctx context.Context, match func(domain.User) bool) (*domain.User, error) {
	users, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if match(users[i]) {
			return &users[i], nil
		}
	}
	return nil, domain.ErrUserNotFound
}

// Create appends u. The username must be unique; an empty or colliding id is
// replaced with a fresh UUID.
func (d *UserDirectory) Create(ctx context.Context, u domain.User) (*domain.User, error) {
	err := d.store.UpdateCollection(ctx, domain.UsersCollection, func(docs []domain.Value) ([]domain.Value, error) {
		idTaken := u.ID == ""
		for _, doc := range docs {
			existing, ok := decodeUser(doc)
			if !ok {
				continue
			}
			if domain.SameUsername(existing.Username, u.Username) {
				return nil, domain.ErrUserExists
			}
			if existing.ID == u.ID {
				idTaken = true
			}
		}
		if idTaken {
			u.ID = uuid.NewString()
		}
		return append(docs, encodeUser(u, domain.Value{})), nil
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Update applies fn to the user with the given id and persists the result.
func (d *UserDirectory) Update(ctx context.Context, id string, fn func(*domain.User) error) (*domain.User, error) {
	var updated domain.User
	err := d.store.UpdateCollection(ctx, domain.UsersCollection, func(docs []domain.Value) ([]domain.Value, error) {
		idx, current := indexOf(docs, id)
		if idx < 0 {
			return nil, domain.ErrUserNotFound
		}
		next := current
		if err := fn(&next); err != nil {
			return nil, err
		}
		next.ID = current.ID

		for i, doc := range docs {
			other, ok := decodeUser(doc)
			if !ok || i == idx {
				continue
			}
			if domain.SameUsername(other.Username, next.Username) {
				return nil, domain.ErrUserExists
			}
		}
		if current.IsAdmin() && !next.IsAdmin() && countAdmins(docs) == 1 {
			return nil, domain.ErrLastAdmin
		}

		docs[idx] = encodeUser(next, docs[idx])
		updated = next
		return docs, nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes the user with the given id. The last admin cannot be
// deleted.
func (d *UserDirectory) Delete(ctx context.Context, id string) error {
	return d.store.UpdateCollection(ctx, domain.UsersCollection, func(docs []domain.Value) ([]domain.Value, error) {
		idx, current := indexOf(docs, id)
		if idx < 0 {
			return nil, domain.ErrUserNotFound
		}
		if current.IsAdmin() && countAdmins(docs) == 1 {
			return nil, domain.ErrLastAdmin
		}
		return append(docs[:idx], docs[idx+1:]...), nil
	})
}

// ReplaceAll swaps the whole directory for docs under the store lock.
//
// A record without a password keeps the password of the existing record with
// the same id, or failing that the same username. Records without a usable
// id get a fresh UUID. Usernames must be unique ignoring case
// (domain.ErrUserExists) and at least one admin must remain
// (domain.ErrLastAdmin). Passwords are stored as given; callers hash
// plaintext first.
func (d *UserDirectory) ReplaceAll(ctx context.Context, docs []domain.Value) (int, error) {
	var n int
	err := d.store.UpdateCollection(ctx, domain.UsersCollection, func(current []domain.Value) ([]domain.Value, error) {
		byID := make(map[string]domain.User, len(current))
		byName := make(map[string]domain.User, len(current))
		for _, doc := range current {
			if u, ok := decodeUser(doc); ok {
				if u.ID != "" {
					byID[u.ID] = u
				}
				byName[domain.NormalizeUsername(u.Username)] = u
			}
		}

		names := make(map[string]bool, len(docs))
		ids := make(map[string]bool, len(docs))
		admins := 0
		out := make([]domain.Value, 0, len(docs))
		for _, doc := range docs {
			u, ok := decodeUser(doc)
			if !ok {
				out = append(out, doc.Clone())
				continue
			}
			name := domain.NormalizeUsername(u.Username)
			if names[name] {
				return nil, fmt.Errorf("%w: %s", domain.ErrUserExists, u.Username)
			}
			names[name] = true

			if u.Password == "" {
				prev, found := byID[u.ID]
				if !found {
					prev, found = byName[name]
				}
				if found {
					u.Password = prev.Password
				}
			}
			if u.ID == "" || ids[u.ID] {
				u.ID = uuid.NewString()
			}
			ids[u.ID] = true
			if u.IsAdmin() {
				admins++
			}
			out = append(out, encodeUser(u, doc))
		}
		if admins == 0 {
			return nil, domain.ErrLastAdmin
		}
		n = len(out)
		return out, nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// HasAdmin reports whether docs, read as a users collection, contain at least
// one admin.
func HasAdmin(docs []domain.Value) bool {
	return countAdmins(docs) > 0
}

// HasDuplicateUsername reports whether two records in docs share a username
// ignoring case and surrounding whitespace.
func HasDuplicateUsername(docs []domain.Value) bool {
	seen := make(map[string]bool, len(docs))
	for _, doc := range docs {
		u, ok := decodeUser(doc)
		if !ok {
			continue
		}
		name := domain.NormalizeUsername(u.Username)
		if seen[name] {
			return true
		}
		seen[name] = true
	}
	return false
}

func indexOf(docs []domain.Value, id string) (int, domain.User) {
	for i, doc := range docs {
		if u, ok := decodeUser(doc); ok && u.ID == id {
			return i, u
		}
	}
	return -1, domain.User{}
}

func countAdmins(docs []domain.Value) int {
	n := 0
	for _, doc := range docs {
		if u, ok := decodeUser(doc); ok && u.IsAdmin() {
			n++
		}
	}
	return n
}

func decodeUser(doc domain.Value) (domain.User, bool) {
	username := doc.StringField("username")
	if username == "" {
		return domain.User{}, false
	}
	id := doc.StringField("id")
	if id == "" {
		// Older clients wrote numeric ids.
		if f, ok := doc.Field("id"); ok {
			if n, ok := f.AsNumber(); ok {
				id = n.String()
			}
		}
	}
	return domain.User{
		ID:       id,
		Username: username,
		Password: doc.StringField("password"),
		Role:     domain.ParseRole(doc.StringField("role")),
	}, true
}

// encodeUser writes u over base, keeping any extra fields base carries.
func encodeUser(u domain.User, base domain.Value) domain.Value {
	fields := map[string]domain.Value{}
	if obj, ok := base.AsObject(); ok {
		for k, v := range obj {
			fields[k] = v.Clone()
		}
	}
	fields["id"] = domain.String(u.ID)
	fields["username"] = domain.String(u.Username)
	fields["password"] = domain.String(u.Password)
	fields["role"] = domain.String(string(u.Role))
	return domain.Object(fields)
}
