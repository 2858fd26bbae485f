package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mskhalsa/EZPostgres-service/internal/audit"
	"github.com/mskhalsa/EZPostgres-service/internal/deploy"
	"github.com/mskhalsa/EZPostgres-service/internal/ids"
	"github.com/mskhalsa/EZPostgres-service/internal/registry"
)

var _ deploy.Store = (*Store)(nil)

// ApplyDeployment runs the whole deployment in one transaction: tenant
// schema, physical table, metadata upsert, column records, group grant and
// activity entry. Losing a concurrent race over the same (schema, table)
// pair surfaces as deploy.ErrWriteConflict for the orchestrator to retry.
func (s *Store) ApplyDeployment(ctx context.Context, d deploy.Deployment) (deploy.Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return deploy.Result{}, err
	}
	defer func() { _ = tx.Rollback() }()

	schema := d.Team.SchemaName
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`create schema if not exists %s`, quoteIdent(schema))); err != nil {
		return deploy.Result{}, conflictOr(err)
	}

	// Lock the metadata row first so concurrent redeployments of the same
	// table serialize before touching the physical table.
	var rec registry.TableRecord
	created := false
	err = tx.QueryRowContext(ctx, `
		select `+tableRecordColumns+`
		from meta.tables
		where schema_name = $1 and table_name = $2
		for update
	`, schema, d.Spec.Table).Scan(&rec.ID, &rec.TeamID, &rec.SchemaName, &rec.TableName,
		&rec.CreatedBy, &rec.RowEstimate, &rec.CreatedAt, &rec.UpdatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = true
	case err != nil:
		return deploy.Result{}, conflictOr(err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`drop table if exists %s.%s`, quoteIdent(schema), quoteIdent(d.Spec.Table))); err != nil {
		return deploy.Result{}, conflictOr(err)
	}
	if _, err := tx.ExecContext(ctx, d.Spec.CreateStatement(schema)); err != nil {
		return deploy.Result{}, conflictOr(err)
	}

	if created {
		row := tx.QueryRowContext(ctx, `
			insert into meta.tables (id, team_id, schema_name, table_name, created_by)
			values ($1, $2, $3, $4, $5)
			returning `+tableRecordColumns+`
		`, ids.New(), d.Team.ID, schema, d.Spec.Table, d.Actor.ID)
		if err := row.Scan(&rec.ID, &rec.TeamID, &rec.SchemaName, &rec.TableName,
			&rec.CreatedBy, &rec.RowEstimate, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return deploy.Result{}, conflictOr(err)
		}
	} else {
		row := tx.QueryRowContext(ctx, `
			update meta.tables set updated_at = now()
			where id = $1
			returning `+tableRecordColumns+`
		`, rec.ID)
		if err := row.Scan(&rec.ID, &rec.TeamID, &rec.SchemaName, &rec.TableName,
			&rec.CreatedBy, &rec.RowEstimate, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return deploy.Result{}, conflictOr(err)
		}
	}

	if _, err := tx.ExecContext(ctx, `delete from meta.table_columns where table_id = $1`, rec.ID); err != nil {
		return deploy.Result{}, conflictOr(err)
	}
	for i, col := range d.Spec.Columns {
		if _, err := tx.ExecContext(ctx, `
			insert into meta.table_columns (id, table_id, column_name, data_type, not_null, default_expr, ordinal)
			values ($1, $2, $3, $4, $5, $6, $7)
		`, ids.New(), rec.ID, col.Name, col.Type, col.NotNull, nullIfEmpty(col.Default), i+1); err != nil {
			return deploy.Result{}, conflictOr(err)
		}
	}

	roleName := "team_" + schema
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`grant all privileges on %s.%s to %s`,
		quoteIdent(schema), quoteIdent(d.Spec.Table), quoteIdent(roleName))); err != nil {
		return deploy.Result{}, conflictOr(err)
	}

	action := audit.ActionUpdate
	desc := fmt.Sprintf("redeployed table %s.%s", schema, d.Spec.Table)
	if created {
		action = audit.ActionCreate
		desc = fmt.Sprintf("deployed table %s.%s", schema, d.Spec.Table)
	}
	if _, err := tx.ExecContext(ctx, `
		insert into meta.activity_log (id, actor_id, action, object_kind, object_id, description)
		values ($1, $2, $3, $4, $5, $6)
	`, ids.New(), d.Actor.ID, action, audit.ObjectTable, rec.ID, desc); err != nil {
		return deploy.Result{}, conflictOr(err)
	}

	if err := tx.Commit(); err != nil {
		return deploy.Result{}, conflictOr(err)
	}
	return deploy.Result{Table: rec, Created: created}, nil
}

// conflictOr maps retryable Postgres failures to deploy.ErrWriteConflict and
// passes everything else through.
func conflictOr(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation, pgErrSerializationFail, pgErrDeadlockDetected:
			return fmt.Errorf("%w: %s", deploy.ErrWriteConflict, pgErr.Code)
		}
	}
	return err
}
