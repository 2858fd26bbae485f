// Package registry tracks deployed tables and their column shapes. Records
// are metadata about tenant tables, not the tables' rows; every record
// resolves to exactly one team.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/mskhalsa/EZPostgres-service/internal/obs"
	"github.com/mskhalsa/EZPostgres-service/internal/tenant"
)

// ErrUnknownTable indicates the referenced table record is absent.
var ErrUnknownTable = errors.New("registry: unknown table")

// TableRecord is the metadata row for one deployed table, unique per
// (schema_name, table_name).
type TableRecord struct {
	ID          string    `json:"id"`
	TeamID      string    `json:"team_id"`
	SchemaName  string    `json:"schema_name"`
	TableName   string    `json:"table_name"`
	CreatedBy   string    `json:"created_by"`
	RowEstimate int64     `json:"row_estimate"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ColumnRecord mirrors one physical column of a deployed table; rebuilt on
// every redeployment so the recorded shape always matches the table.
type ColumnRecord struct {
	ID          string `json:"id"`
	TableID     string `json:"table_id"`
	Name        string `json:"name"`
	DataType    string `json:"data_type"`
	NotNull     bool   `json:"not_null"`
	DefaultExpr string `json:"default_expr,omitempty"`
	Ordinal     int    `json:"ordinal"`
}

// Store reads table metadata. A nil teamIDs slice means "all teams" and is
// only ever passed for admin callers.
type Store interface {
	ListTables(ctx context.Context, teamIDs []string) ([]TableRecord, error)
	TableByName(ctx context.Context, schemaName, tableName string) (TableRecord, error)
	ColumnsForTable(ctx context.Context, tableID string) ([]ColumnRecord, error)
}

// Service applies the row-visibility rule to registry reads.
type Service struct {
	store  Store
	policy *tenant.Policy
}

// NewService constructs a Service.
func NewService(store Store, policy *tenant.Policy) *Service {
	return &Service{store: store, policy: policy}
}

// ListTables returns the table records visible to the caller.
func (s *Service) ListTables(ctx context.Context, caller string) ([]TableRecord, error) {
	scope, err := s.policy.ResolveCallerTeams(ctx, caller)
	if err != nil {
		return nil, err
	}
	if scope.IsAdmin() {
		return s.store.ListTables(ctx, nil)
	}
	ids := scope.TeamIDs()
	if len(ids) == 0 {
		return nil, nil
	}
	return s.store.ListTables(ctx, ids)
}

// ListColumns returns the recorded column shape of one table, subject to the
// same visibility predicate as the table itself.
func (s *Service) ListColumns(ctx context.Context, caller, schemaName, tableName string) ([]ColumnRecord, error) {
	scope, err := s.policy.ResolveCallerTeams(ctx, caller)
	if err != nil {
		return nil, err
	}
	table, err := s.store.TableByName(ctx, schemaName, tableName)
	if err != nil {
		if errors.Is(err, ErrUnknownTable) && !scope.IsAdmin() {
			// Same denial as an invisible table.
			obs.AuthzDenials.Inc()
			return nil, tenant.ErrUnauthorized
		}
		return nil, err
	}
	if !scope.Allows(table.TeamID) {
		obs.AuthzDenials.Inc()
		return nil, tenant.ErrUnauthorized
	}
	return s.store.ColumnsForTable(ctx, table.ID)
}
