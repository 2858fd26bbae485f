package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mskhalsa/EZPostgres-service/internal/identity"
	"github.com/mskhalsa/EZPostgres-service/internal/ids"
)

var _ identity.Store = (*Store)(nil)

func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string, isAdmin bool) (identity.User, error) {
	var (
		u         identity.User
		emailCol  sql.NullString
		lastLogin sql.NullTime
	)
	row := s.db.QueryRowContext(ctx, `
		insert into meta.users (id, username, email, password_hash, is_admin)
		values ($1, $2, $3, $4, $5)
		returning id, username, email, password_hash, is_admin, disabled, created_at, last_login_at
	`, ids.New(), username, nullIfEmpty(email), passwordHash, isAdmin)
	if err := row.Scan(&u.ID, &u.Username, &emailCol, &u.PasswordHash, &u.IsAdmin, &u.Disabled, &u.CreatedAt, &lastLogin); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.User{}, identity.ErrConflict
		}
		return identity.User{}, err
	}
	if emailCol.Valid {
		u.Email = emailCol.String
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return u, nil
}

func (s *Store) FindByUsername(ctx context.Context, username string) (identity.User, error) {
	return s.findUser(ctx, `where username = $1`, username)
}

func (s *Store) FindByID(ctx context.Context, id string) (identity.User, error) {
	return s.findUser(ctx, `where id = $1`, id)
}

func (s *Store) findUser(ctx context.Context, where string, arg any) (identity.User, error) {
	var (
		u         identity.User
		emailCol  sql.NullString
		lastLogin sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, username, email, password_hash, is_admin, disabled, created_at, last_login_at
		from meta.users
	`+where, arg).Scan(&u.ID, &u.Username, &emailCol, &u.PasswordHash, &u.IsAdmin, &u.Disabled, &u.CreatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.User{}, identity.ErrUnknownUser
	}
	if err != nil {
		return identity.User{}, err
	}
	if emailCol.Valid {
		u.Email = emailCol.String
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]identity.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, username, email, password_hash, is_admin, disabled, created_at, last_login_at
		from meta.users
		order by username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []identity.User
	for rows.Next() {
		var (
			u         identity.User
			emailCol  sql.NullString
			lastLogin sql.NullTime
		)
		if err := rows.Scan(&u.ID, &u.Username, &emailCol, &u.PasswordHash, &u.IsAdmin, &u.Disabled, &u.CreatedAt, &lastLogin); err != nil {
			return nil, err
		}
		if emailCol.Valid {
			u.Email = emailCol.String
		}
		if lastLogin.Valid {
			t := lastLogin.Time
			u.LastLoginAt = &t
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return s.updateUser(ctx, `update meta.users set password_hash = $2 where id = $1`, userID, passwordHash)
}

func (s *Store) SetDisabled(ctx context.Context, userID string, disabled bool) error {
	return s.updateUser(ctx, `update meta.users set disabled = $2 where id = $1`, userID, disabled)
}

func (s *Store) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return s.updateUser(ctx, `update meta.users set last_login_at = $2 where id = $1`, userID, at.UTC())
}

func (s *Store) updateUser(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrUnknownUser
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `delete from meta.users where id = $1`, userID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrUnknownUser
	}
	return nil
}

func (s *Store) TablesCreatedBy(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from meta.tables where created_by = $1`, userID).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
