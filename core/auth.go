package core

import (
	"context"
	"strings"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the credential store record. PasswordHash never leaves the service layer.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Name         string
	Role         string
	CreatedAt    time.Time
}

// PublicUser is the client-visible projection of a User.
type PublicUser struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	User      PublicUser `json:"user"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

var (
	// ErrInvalidCredentials covers both unknown email and wrong password.
	ErrInvalidCredentials = &AppError{Kind: KindAuthentication, Message: "invalid credentials"}
	ErrDuplicateEmail     = &AppError{Kind: KindConflict, Message: "email already registered"}
	ErrMissingToken       = &AppError{Kind: KindAuthentication, Message: "missing token"}
	ErrInvalidToken       = &AppError{Kind: KindAuthentication, Message: "invalid token"}
	ErrForbidden          = &AppError{Kind: KindAuthorization, Message: "forbidden"}
)

// AuthService defines authentication behaviour.
type AuthService interface {
	Register(ctx context.Context, email, password, name string) (PublicUser, error)
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	VerifyToken(token string) (int64, error)
	CurrentUser(ctx context.Context, id int64) (PublicUser, error)
}

// IsAdmin reports whether u carries the admin role.
func IsAdmin(u PublicUser) bool {
	return u.Role == RoleAdmin
}

// normalizeEmail trims surrounding whitespace. Matching stays case-sensitive.
func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}
