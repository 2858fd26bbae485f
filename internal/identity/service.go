package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mskhalsa/EZPostgres-service/internal/audit"
	"github.com/mskhalsa/EZPostgres-service/internal/guard"
)

// Service provides user lifecycle operations. Admin gating happens at the
// call surface (HTTP handler, admin CLI); the service enforces the credential
// policy and the soft-disable rule.
type Service struct {
	store    Store
	recorder *audit.Recorder
	now      func() time.Time
}

// NewService constructs a Service.
func NewService(store Store, recorder *audit.Recorder) *Service {
	return &Service{store: store, recorder: recorder, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// CreateUser validates the credential policy on the plaintext, hashes it and
// persists the new account.
func (s *Service) CreateUser(ctx context.Context, actorID, username, password string, isAdmin bool, email string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if err := ValidateStrength(password); err != nil {
		return User{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	user, err := s.store.CreateUser(ctx, username, strings.TrimSpace(email), hash, isAdmin)
	if err != nil {
		return User{}, err
	}
	_ = s.recorder.Record(ctx, audit.Entry{
		ActorID:     actorID,
		Action:      audit.ActionCreate,
		ObjectKind:  audit.ObjectUser,
		ObjectID:    user.ID,
		Description: fmt.Sprintf("created user %s", user.Username),
	})
	return user, nil
}

// ChangePassword rotates a user's credential. The policy runs on the new
// plaintext before hashing; the stored hash is never inspected.
func (s *Service) ChangePassword(ctx context.Context, actorID, username, newPassword string) error {
	user, err := s.store.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return err
	}
	if err := ValidateStrength(newPassword); err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	return s.recorder.Record(ctx, audit.Entry{
		ActorID:     actorID,
		Action:      audit.ActionUpdate,
		ObjectKind:  audit.ObjectUser,
		ObjectID:    user.ID,
		Description: fmt.Sprintf("rotated credential for %s", user.Username),
	})
}

// RemoveUser deletes an account, or soft-disables it when the user still owns
// deployed tables.
func (s *Service) RemoveUser(ctx context.Context, actorID, username string) error {
	user, err := s.store.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return err
	}
	owned, err := s.store.TablesCreatedBy(ctx, user.ID)
	if err != nil {
		return err
	}
	if owned > 0 {
		if err := s.store.SetDisabled(ctx, user.ID, true); err != nil {
			return err
		}
		return s.recorder.Record(ctx, audit.Entry{
			ActorID:     actorID,
			Action:      audit.ActionDisable,
			ObjectKind:  audit.ObjectUser,
			ObjectID:    user.ID,
			Description: fmt.Sprintf("disabled user %s (owns %d tables)", user.Username, owned),
		})
	}
	if err := s.store.DeleteUser(ctx, user.ID); err != nil {
		return err
	}
	return s.recorder.Record(ctx, audit.Entry{
		ActorID:     actorID,
		Action:      audit.ActionDelete,
		ObjectKind:  audit.ObjectUser,
		ObjectID:    user.ID,
		Description: fmt.Sprintf("removed user %s", user.Username),
	})
}

// ListUsers returns all accounts. Callers gate this behind admin scope.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.store.ListUsers(ctx)
}

// Authenticator runs the full login flow: throttle check, credential
// verification, attempt recording, last-login bookkeeping.
type Authenticator struct {
	users    Store
	guard    *guard.Guard
	recorder *audit.Recorder
	now      func() time.Time
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(users Store, g *guard.Guard, recorder *audit.Recorder) *Authenticator {
	return &Authenticator{users: users, guard: g, recorder: recorder, now: time.Now}
}

// Authenticate verifies username/password from the given origin. The guard
// gates the attempt; the verification result is what gets recorded. A
// throttled pair is denied before the credential check and nothing is
// written for the denial itself.
func (a *Authenticator) Authenticate(ctx context.Context, username, password, origin string) (User, error) {
	username = strings.TrimSpace(username)
	if err := a.guard.Admit(ctx, username, origin); err != nil {
		return User{}, err
	}

	user, lookupErr := a.users.FindByUsername(ctx, username)
	ok := lookupErr == nil && !user.Disabled && VerifyPassword(user.PasswordHash, password) == nil

	if err := a.guard.Record(ctx, username, origin, ok); err != nil {
		return User{}, err
	}
	if !ok {
		if lookupErr == nil {
			a.recorder.Denied(ctx, user.ID, audit.ActionLogin, audit.ObjectUser)
		} else {
			a.recorder.DeniedUnknown(ctx, username, audit.ActionLogin, audit.ObjectUser)
		}
		return User{}, ErrBadCredentials
	}
	if err := a.users.TouchLastLogin(ctx, user.ID, a.now().UTC()); err != nil && !errors.Is(err, ErrUnknownUser) {
		return User{}, err
	}
	return user, nil
}
