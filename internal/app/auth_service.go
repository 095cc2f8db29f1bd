package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Tabares32/shipping-backend/internal/auth"
	"github.com/Tabares32/shipping-backend/internal/domain"
	"github.com/Tabares32/shipping-backend/internal/logging"
)

// SeedAdminID is the id given to the account created on first start.
const SeedAdminID = "admin1"

const bearerPrefix = "Bearer "

// Identity is the resolved caller of a request.
type Identity struct {
	UserID   string
	Username string
	Role     domain.Role
}

// IsAdmin reports whether the caller has the admin role.
func (i *Identity) IsAdmin() bool { return i != nil && i.Role == domain.RoleAdmin }

// AuthOptions tunes AuthService policy.
type AuthOptions struct {
	TokenTTL time.Duration
	// OpenSignup lets callers without an admin token create regular users.
	OpenSignup bool
	// AutoProvision creates a regular user for unknown SSO identities.
	AutoProvision bool
}

// UserInput is the payload for creating a user.
type UserInput struct {
	Username string
	Password string
	Role     string
}

// UserPatch holds the fields to change on a user; nil fields are left alone.
type UserPatch struct {
	Username *string
	Password *string
	Role     *string
}

// AuthService issues and checks bearer tokens and manages the user directory.
type AuthService struct {
	users     domain.UserRepository
	codec     *auth.Codec
	passwords *PasswordChecker
	opts      AuthOptions
	log       logging.Logger
}

// NewAuthService creates a new authentication service.
func NewAuthService(users domain.UserRepository, codec *auth.Codec, passwords *PasswordChecker, opts AuthOptions, log logging.Logger) *AuthService {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	return &AuthService{
		users:     users,
		codec:     codec,
		passwords: passwords,
		opts:      opts,
		log:       log,
	}
}

// OpenSignup reports whether unauthenticated user creation is allowed.
func (s *AuthService) OpenSignup() bool { return s.opts.OpenSignup }

// Login checks credentials and returns a token for the matching user.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, *domain.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, domain.ErrUserNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, classify(err)
	}
	if !s.passwords.Check(user.Password, password) {
		return "", nil, ErrInvalidCredentials
	}
	return s.codec.Issue(user.Username, s.opts.TokenTTL), user, nil
}

// Authenticate resolves an Authorization header value to an identity. The
// "Bearer " prefix is matched exactly. A valid token whose subject no longer
// exists is rejected.
func (s *AuthService) Authenticate(ctx context.Context, header string) (*Identity, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}
	subject, err := s.codec.Verify(header[len(bearerPrefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	user, err := s.users.GetByUsername(ctx, subject)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if err != nil {
		return nil, classify(err)
	}
	return &Identity{UserID: user.ID, Username: user.Username, Role: user.Role}, nil
}

// RequireRole checks that the caller holds role exactly.
func (s *AuthService) RequireRole(id *Identity, role domain.Role) error {
	if id == nil {
		return fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}
	if id.Role != role {
		return fmt.Errorf("%w: %s only", ErrForbidden, role)
	}
	return nil
}

// ListUsers returns every user. Admin only.
func (s *AuthService) ListUsers(ctx context.Context, caller *Identity) ([]domain.User, error) {
	if err := s.RequireRole(caller, domain.RoleAdmin); err != nil {
		return nil, err
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return users, nil
}

// CreateUser adds a user. Admins may pick the role; with open signup anyone
// else may create a regular user.
func (s *AuthService) CreateUser(ctx context.Context, caller *Identity, in UserInput) (*domain.User, error) {
	role := domain.RoleUser
	switch {
	case caller.IsAdmin():
		if in.Role != "" {
			r, err := parseRole(in.Role)
			if err != nil {
				return nil, err
			}
			role = r
		}
	case s.opts.OpenSignup:
	case caller == nil:
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	default:
		return nil, fmt.Errorf("%w: admin only", ErrForbidden)
	}

	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrBadRequest)
	}
	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	user, err := s.users.Create(context.WithoutCancel(ctx), domain.User{
		Username: username,
		Password: hash,
		Role:     role,
	})
	if err != nil {
		return nil, classify(err)
	}
	return user, nil
}

// UpdateUser changes username, password or role of a user. Admin only.
func (s *AuthService) UpdateUser(ctx context.Context, caller *Identity, id string, patch UserPatch) (*domain.User, error) {
	if err := s.RequireRole(caller, domain.RoleAdmin); err != nil {
		return nil, err
	}

	var (
		username string
		hash     string
		role     domain.Role
	)
	if patch.Username != nil {
		username = strings.TrimSpace(*patch.Username)
		if username == "" {
			return nil, fmt.Errorf("%w: username must not be empty", ErrBadRequest)
		}
	}
	if patch.Password != nil {
		if *patch.Password == "" {
			return nil, fmt.Errorf("%w: password must not be empty", ErrBadRequest)
		}
		h, err := s.passwords.Hash(*patch.Password)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		hash = h
	}
	if patch.Role != nil {
		r, err := parseRole(*patch.Role)
		if err != nil {
			return nil, err
		}
		role = r
	}

	user, err := s.users.Update(context.WithoutCancel(ctx), id, func(u *domain.User) error {
		if username != "" {
			u.Username = username
		}
		if hash != "" {
			u.Password = hash
		}
		if role != "" {
			u.Role = role
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return user, nil
}

// DeleteUser removes a user. Admin only; the last admin cannot be removed.
func (s *AuthService) DeleteUser(ctx context.Context, caller *Identity, id string) error {
	if err := s.RequireRole(caller, domain.RoleAdmin); err != nil {
		return err
	}
	return classify(s.users.Delete(context.WithoutCancel(ctx), id))
}

// SeedAdmin creates the admin account unless a user with that name exists.
// It reports whether an account was created.
func (s *AuthService) SeedAdmin(ctx context.Context, username, password string) (bool, error) {
	_, err := s.users.GetByUsername(ctx, username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return false, classify(err)
	}
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return false, err
	}
	_, err = s.users.Create(ctx, domain.User{
		ID:       SeedAdminID,
		Username: username,
		Password: hash,
		Role:     domain.RoleAdmin,
	})
	if errors.Is(err, domain.ErrUserExists) {
		return false, nil
	}
	if err != nil {
		return false, classify(err)
	}
	return true, nil
}

// LoginWithOIDC issues a token for a user already authenticated by the
// identity provider. Unknown users are created when auto-provisioning is on.
func (s *AuthService) LoginWithOIDC(ctx context.Context, username string) (string, *domain.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, domain.ErrUserNotFound) {
		if !s.opts.AutoProvision {
			return "", nil, fmt.Errorf("%w: no account for %s", ErrForbidden, username)
		}
		user, err = s.provision(ctx, username)
	}
	if err != nil {
		return "", nil, classify(err)
	}
	return s.codec.Issue(user.Username, s.opts.TokenTTL), user, nil
}

func (s *AuthService) provision(ctx context.Context, username string) (*domain.User, error) {
	// SSO users never log in with a password; store an unguessable one.
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	hash, err := s.passwords.Hash(hex.EncodeToString(b))
	if err != nil {
		return nil, err
	}
	user, err := s.users.Create(context.WithoutCancel(ctx), domain.User{
		Username: username,
		Password: hash,
		Role:     domain.RoleUser,
	})
	if errors.Is(err, domain.ErrUserExists) {
		// Lost a race with a concurrent first login.
		return s.users.GetByUsername(ctx, username)
	}
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "provisioned user from sso", "username", username)
	return user, nil
}

func parseRole(s string) (domain.Role, error) {
	switch domain.Role(s) {
	case domain.RoleAdmin, domain.RoleUser:
		return domain.Role(s), nil
	}
	return "", fmt.Errorf("%w: role must be %q or %q", ErrBadRequest, domain.RoleAdmin, domain.RoleUser)
}
