package core

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"
)

// RepositoryAuthService implements AuthService over a UserRepository,
// a PasswordHasher and a TokenCodec.
type RepositoryAuthService struct {
	users   UserRepository
	hasher  *PasswordHasher
	tokens  *TokenCodec
	cache   *Cache
	metrics *Metrics
	log     *zap.Logger
}

// NewRepositoryAuthService wires the auth dependencies. cache, metrics and log may be nil.
func NewRepositoryAuthService(users UserRepository, hasher *PasswordHasher, tokens *TokenCodec, cache *Cache, metrics *Metrics, log *zap.Logger) *RepositoryAuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RepositoryAuthService{
		users:   users,
		hasher:  hasher,
		tokens:  tokens,
		cache:   cache,
		metrics: metrics,
		log:     log,
	}
}

func validateRegistration(email, password, name string) error {
	if email == "" || password == "" || name == "" {
		return validationError("email, password and name are required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return validationError("invalid email")
	}
	if len(password) > maxPasswordBytes {
		return validationError("password must be at most %d bytes", maxPasswordBytes)
	}
	if len(name) > 100 {
		return validationError("name must be at most 100 characters")
	}
	return nil
}

// Register creates a user with role "user". A concurrent registration for the
// same email loses at the unique index and surfaces ErrDuplicateEmail.
func (s *RepositoryAuthService) Register(ctx context.Context, email, password, name string) (PublicUser, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if err := validateRegistration(email, password, name); err != nil {
		return PublicUser{}, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return PublicUser{}, err
	}

	u, err := s.users.Create(ctx, email, hash, name, RoleUser)
	if err != nil {
		if KindOf(err) == KindConflict {
			return PublicUser{}, ErrDuplicateEmail
		}
		return PublicUser{}, err
	}
	s.log.Info("user registered", zap.Int64("user_id", u.ID))
	return u.Public(), nil
}

// Login returns ErrInvalidCredentials for both an unknown email and a wrong
// password. Unknown emails still pay for one bcrypt comparison.
func (s *RepositoryAuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, validationError("email and password are required")
	}

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if KindOf(err) != KindNotFound {
			return nil, err
		}
		s.hasher.CompareDummy(password)
		s.metrics.AuthAttempt(false)
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Compare(u.PasswordHash, password) {
		s.metrics.AuthAttempt(false)
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	s.metrics.AuthAttempt(true)
	return &LoginResult{User: u.Public(), Token: token, ExpiresAt: expiresAt}, nil
}

// VerifyToken is stateless: it never touches the store.
func (s *RepositoryAuthService) VerifyToken(token string) (int64, error) {
	return s.tokens.Verify(token)
}

// CurrentUser resolves the public view of id, read through the cache.
func (s *RepositoryAuthService) CurrentUser(ctx context.Context, id int64) (PublicUser, error) {
	return Fetch(ctx, s.cache, "user", userCacheKey(id), func(ctx context.Context) (PublicUser, error) {
		u, err := s.users.FindByID(ctx, id)
		if err != nil {
			return PublicUser{}, err
		}
		return u.Public(), nil
	})
}

// ListUsers is the admin listing.
func (s *RepositoryAuthService) ListUsers(ctx context.Context, page, perPage int) ([]AdminUserListItem, int, error) {
	return s.users.List(ctx, page, perPage)
}
