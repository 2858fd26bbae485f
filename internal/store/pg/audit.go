package pg

import (
	"context"

	"github.com/mskhalsa/EZPostgres-service/internal/audit"
)

var _ audit.Store = (*Store)(nil)

func (s *Store) Append(ctx context.Context, entry *audit.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into meta.activity_log (id, actor_id, action, object_kind, object_id, description, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.ActorID, entry.Action, entry.ObjectKind, nullIfEmpty(entry.ObjectID), entry.Description, entry.OccurredAt.UTC())
	return err
}

func (s *Store) List(ctx context.Context, actorID string, limit int) ([]audit.Entry, error) {
	query := `
		select id, actor_id, action, object_kind, coalesce(object_id, ''), description, occurred_at
		from meta.activity_log
	`
	var args []any
	if actorID != "" {
		query += ` where actor_id = $1`
		args = append(args, actorID)
		query += ` order by occurred_at desc limit $2`
	} else {
		query += ` order by occurred_at desc limit $1`
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.ObjectKind, &e.ObjectID, &e.Description, &e.OccurredAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
