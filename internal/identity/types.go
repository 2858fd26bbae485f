// Package identity holds user records and the credential policy. Callers are
// always identified by an explicit username threaded through every call;
// there is no ambient "current user".
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnknownUser    = errors.New("identity: unknown user")
	ErrConflict       = errors.New("identity: already exists")
	ErrInvalidInput   = errors.New("identity: invalid input")
	ErrWeakCredential = errors.New("identity: weak credential")
	ErrBadCredentials = errors.New("identity: invalid credentials")
)

// User is an account in the shared metadata store. PasswordHash is a bcrypt
// hash; plaintext never reaches storage or logs.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email,omitempty"`
	PasswordHash string     `json:"-"`
	IsAdmin      bool       `json:"is_admin"`
	Disabled     bool       `json:"disabled"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// Store persists user records.
type Store interface {
	CreateUser(ctx context.Context, username, email, passwordHash string, isAdmin bool) (User, error)
	FindByUsername(ctx context.Context, username string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	SetDisabled(ctx context.Context, userID string, disabled bool) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
	DeleteUser(ctx context.Context, userID string) error
	TablesCreatedBy(ctx context.Context, userID string) (int, error)
}
