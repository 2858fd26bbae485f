package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/mskhalsa/EZPostgres-service/internal/report"
)

var _ report.Store = (*Store)(nil)

// TeamUsage aggregates membership, table counts and planner row estimates
// per team. A nil teamIDs slice aggregates across all teams.
func (s *Store) TeamUsage(ctx context.Context, teamIDs []string) ([]report.TeamUsage, error) {
	query := `
		select tm.id, tm.name,
			(select count(*) from meta.team_members m where m.team_id = tm.id),
			count(t.id),
			coalesce(sum(c.reltuples::bigint), 0)
		from meta.teams tm
		left join meta.tables t on t.team_id = tm.id
		left join pg_namespace n on n.nspname = t.schema_name
		left join pg_class c on c.relnamespace = n.oid and c.relname = t.table_name
	`
	var args []any
	if teamIDs != nil {
		query += ` where tm.id = any($1)`
		args = append(args, teamIDs)
	}
	query += ` group by tm.id, tm.name order by tm.name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usage []report.TeamUsage
	for rows.Next() {
		var u report.TeamUsage
		if err := rows.Scan(&u.TeamID, &u.TeamName, &u.Members, &u.Tables, &u.RowEstimate); err != nil {
			return nil, err
		}
		usage = append(usage, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return usage, nil
}

// AccountStats counts accounts within the given teams, splitting out those
// with no login since inactiveBefore. Accounts that never logged in age out
// from their creation time.
func (s *Store) AccountStats(ctx context.Context, teamIDs []string, inactiveBefore time.Time) (report.AccountStats, error) {
	query := `
		select count(*),
			count(*) filter (where coalesce(u.last_login_at, u.created_at) < $1)
		from meta.users u
	`
	args := []any{inactiveBefore.UTC()}
	if teamIDs != nil {
		query += ` where exists (
			select 1 from meta.team_members m
			where m.user_id = u.id and m.team_id = any($2)
		)`
		args = append(args, teamIDs)
	}

	var stats report.AccountStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stats.Users, &stats.Inactive); err != nil {
		return report.AccountStats{}, err
	}
	return stats, nil
}

// UserActivity aggregates deployments per creating user within the given
// teams.
func (s *Store) UserActivity(ctx context.Context, teamIDs []string) ([]report.UserActivity, error) {
	query := `
		select u.username, count(t.id), max(t.updated_at)
		from meta.tables t
		join meta.users u on u.id = t.created_by
	`
	var args []any
	if teamIDs != nil {
		query += ` where t.team_id = any($1)`
		args = append(args, teamIDs)
	}
	query += ` group by u.username order by u.username`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activity []report.UserActivity
	for rows.Next() {
		var (
			a    report.UserActivity
			last sql.NullTime
		)
		if err := rows.Scan(&a.Username, &a.Tables, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			t := last.Time
			a.LastDeploy = &t
		}
		activity = append(activity, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return activity, nil
}
