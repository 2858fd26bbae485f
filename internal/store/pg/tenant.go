package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mskhalsa/EZPostgres-service/internal/ids"
	"github.com/mskhalsa/EZPostgres-service/internal/tenant"
)

var _ tenant.Store = (*Store)(nil)

// CreateTeam inserts the team row and provisions the tenant schema and its
// group role in the same transaction.
func (s *Store) CreateTeam(ctx context.Context, name, schemaName string) (tenant.Team, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tenant.Team{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var team tenant.Team
	row := tx.QueryRowContext(ctx, `
		insert into meta.teams (id, name, schema_name)
		values ($1, $2, $3)
		returning id, name, schema_name, created_at, updated_at
	`, ids.New(), name, schemaName)
	if err := row.Scan(&team.ID, &team.Name, &team.SchemaName, &team.CreatedAt, &team.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return tenant.Team{}, tenant.ErrConflict
		}
		return tenant.Team{}, err
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`create schema if not exists %s`, quoteIdent(schemaName))); err != nil {
		return tenant.Team{}, err
	}

	roleName := "team_" + schemaName
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		do $$
		begin
			if not exists (select from pg_roles where rolname = '%s') then
				create role %s nologin;
			end if;
		end
		$$
	`, roleName, quoteIdent(roleName))); err != nil {
		return tenant.Team{}, err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`grant usage on schema %s to %s`, quoteIdent(schemaName), quoteIdent(roleName))); err != nil {
		return tenant.Team{}, err
	}

	if err := tx.Commit(); err != nil {
		return tenant.Team{}, err
	}
	return team, nil
}

func (s *Store) TeamByID(ctx context.Context, id string) (tenant.Team, error) {
	return s.findTeam(ctx, `where id = $1`, id)
}

func (s *Store) TeamByName(ctx context.Context, name string) (tenant.Team, error) {
	return s.findTeam(ctx, `where name = $1`, name)
}

func (s *Store) findTeam(ctx context.Context, where string, arg any) (tenant.Team, error) {
	var team tenant.Team
	err := s.db.QueryRowContext(ctx, `
		select id, name, schema_name, created_at, updated_at
		from meta.teams
	`+where, arg).Scan(&team.ID, &team.Name, &team.SchemaName, &team.CreatedAt, &team.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Team{}, tenant.ErrUnknownTeam
	}
	if err != nil {
		return tenant.Team{}, err
	}
	return team, nil
}

func (s *Store) ListTeams(ctx context.Context) ([]tenant.Team, error) {
	return s.queryTeams(ctx, `
		select id, name, schema_name, created_at, updated_at
		from meta.teams
		order by name
	`)
}

func (s *Store) ListTeamsByID(ctx context.Context, teamIDs []string) ([]tenant.Team, error) {
	return s.queryTeams(ctx, `
		select id, name, schema_name, created_at, updated_at
		from meta.teams
		where id = any($1)
		order by name
	`, teamIDs)
}

func (s *Store) queryTeams(ctx context.Context, query string, args ...any) ([]tenant.Team, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []tenant.Team
	for rows.Next() {
		var team tenant.Team
		if err := rows.Scan(&team.ID, &team.Name, &team.SchemaName, &team.CreatedAt, &team.UpdatedAt); err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return teams, nil
}

func (s *Store) AddMember(ctx context.Context, userID, teamID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into meta.team_members (user_id, team_id)
		values ($1, $2)
	`, userID, teamID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return tenant.ErrConflict
			case pgErrForeignKeyViolation:
				return tenant.ErrUnknownTeam
			}
		}
		return err
	}
	return nil
}

func (s *Store) RemoveMember(ctx context.Context, userID, teamID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from meta.team_members
		where user_id = $1 and team_id = $2
	`, userID, teamID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return tenant.ErrUnknownTeam
	}
	return nil
}

func (s *Store) TeamIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select team_id from meta.team_members
		where user_id = $1
		order by team_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teamIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		teamIDs = append(teamIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return teamIDs, nil
}
