// Package app holds the application services and business logic.
package app

import (
	"errors"
	"fmt"

	"github.com/Tabares32/shipping-backend/internal/domain"
)

// Outcome categories returned by the services. Callers match them with
// errors.Is; the wrapped message carries the reason.
var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrNotFound           = errors.New("not found")
	ErrBadRequest         = errors.New("bad request")
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidCredentials indicates that the provided username or password was incorrect.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid username or password", ErrUnauthenticated)
)

// classify maps repository errors onto the service outcome categories.
// Errors that already carry a category are returned unchanged; anything
// else is treated as a storage failure.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrForbidden),
		errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrBadRequest), errors.Is(err, ErrStorageUnavailable):
		return err
	case errors.Is(err, domain.ErrUserExists):
		return fmt.Errorf("%w: username already taken", ErrConflict)
	case errors.Is(err, domain.ErrLastAdmin):
		return fmt.Errorf("%w: %v", ErrConflict, domain.ErrLastAdmin)
	case errors.Is(err, domain.ErrUserNotFound):
		return fmt.Errorf("%w: user not found", ErrNotFound)
	case errors.Is(err, domain.ErrUnknownCollection):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
}
