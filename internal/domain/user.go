// Package domain contains the core business entities and interfaces.
package domain

import (
	"context"
	"strings"
)

// Role is the authorization level of a user.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ParseRole maps a stored role string to a Role. Anything that is not
// exactly "admin" is treated as a regular user.
func ParseRole(s string) Role {
	if Role(s) == RoleAdmin {
		return RoleAdmin
	}
	return RoleUser
}

// User represents an account in the user directory.
//
// Password holds either a bcrypt hash or, for records created by older
// deployments, the plaintext password. It is never serialised to clients.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Password string `json:"-"`
	Role     Role   `json:"role"`
}

// IsAdmin reports whether the user has the admin role.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// NormalizeUsername returns the comparison form of a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// SameUsername compares usernames case-insensitively, ignoring surrounding
// whitespace.
func SameUsername(a, b string) bool {
	return NormalizeUsername(a) == NormalizeUsername(b)
}

// UserRepository defines the port for user persistence operations.
type UserRepository interface {
	List(ctx context.Context) ([]User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, u User) (*User, error)
	Update(ctx context.Context, id string, fn func(*User) error) (*User, error)
	Delete(ctx context.Context, id string) error
}
