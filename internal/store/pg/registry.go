package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mskhalsa/EZPostgres-service/internal/registry"
)

var _ registry.Store = (*Store)(nil)

const tableRecordColumns = `id, team_id, schema_name, table_name, created_by, row_estimate, created_at, updated_at`

// ListTables returns table records for the given teams, or for all teams
// when teamIDs is nil. Row estimates come from the planner statistics so a
// stale analyze shows approximate counts, never an error.
func (s *Store) ListTables(ctx context.Context, teamIDs []string) ([]registry.TableRecord, error) {
	query := `
		select t.id, t.team_id, t.schema_name, t.table_name, t.created_by,
			coalesce(c.reltuples::bigint, 0), t.created_at, t.updated_at
		from meta.tables t
		left join pg_namespace n on n.nspname = t.schema_name
		left join pg_class c on c.relnamespace = n.oid and c.relname = t.table_name
	`
	var args []any
	if teamIDs != nil {
		query += ` where t.team_id = any($1)`
		args = append(args, teamIDs)
	}
	query += ` order by t.schema_name, t.table_name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []registry.TableRecord
	for rows.Next() {
		var rec registry.TableRecord
		if err := rows.Scan(&rec.ID, &rec.TeamID, &rec.SchemaName, &rec.TableName,
			&rec.CreatedBy, &rec.RowEstimate, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) TableByName(ctx context.Context, schemaName, tableName string) (registry.TableRecord, error) {
	var rec registry.TableRecord
	err := s.db.QueryRowContext(ctx, `
		select `+tableRecordColumns+`
		from meta.tables
		where schema_name = $1 and table_name = $2
	`, schemaName, tableName).Scan(&rec.ID, &rec.TeamID, &rec.SchemaName, &rec.TableName,
		&rec.CreatedBy, &rec.RowEstimate, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.TableRecord{}, registry.ErrUnknownTable
	}
	if err != nil {
		return registry.TableRecord{}, err
	}
	return rec, nil
}

func (s *Store) ColumnsForTable(ctx context.Context, tableID string) ([]registry.ColumnRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, table_id, column_name, data_type, not_null, coalesce(default_expr, ''), ordinal
		from meta.table_columns
		where table_id = $1
		order by ordinal
	`, tableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []registry.ColumnRecord
	for rows.Next() {
		var col registry.ColumnRecord
		if err := rows.Scan(&col.ID, &col.TableID, &col.Name, &col.DataType, &col.NotNull, &col.DefaultExpr, &col.Ordinal); err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}
