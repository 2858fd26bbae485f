package pg

import (
	"context"
	"time"

	"github.com/mskhalsa/EZPostgres-service/internal/guard"
	"github.com/mskhalsa/EZPostgres-service/internal/ids"
)

var _ guard.Store = (*Store)(nil)

// FailedAttempts counts failures strictly after since; a row stamped exactly
// at the boundary does not count.
func (s *Store) FailedAttempts(ctx context.Context, identity, origin string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from meta.connection_attempts
		where identity = $1 and origin = $2 and success = false and attempted_at > $3
	`, identity, origin, since.UTC()).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) RecordAttempt(ctx context.Context, attempt guard.Attempt) error {
	_, err := s.db.ExecContext(ctx, `
		insert into meta.connection_attempts (id, identity, origin, attempted_at, success)
		values ($1, $2, $3, $4, $5)
	`, ids.New(), attempt.Identity, attempt.Origin, attempt.At.UTC(), attempt.Success)
	return err
}
