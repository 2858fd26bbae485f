// Package tablespec defines the validated structural description of a table
// to be deployed. A TableSpec is data, never raw SQL: every identifier and
// default expression has to pass a safe grammar before it is allowed anywhere
// near a DDL statement.
package tablespec

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrInvalidIdentifier = errors.New("tablespec: invalid identifier")
	ErrInvalidDefinition = errors.New("tablespec: invalid definition")
)

// Column mirrors one physical column.
type Column struct {
	Name       string `yaml:"name" json:"name"`
	Type       string `yaml:"type" json:"type"`
	NotNull    bool   `yaml:"not_null" json:"not_null"`
	Default    string `yaml:"default,omitempty" json:"default,omitempty"`
	PrimaryKey bool   `yaml:"primary_key,omitempty" json:"primary_key,omitempty"`
}

// TableSpec is the structural description consumed by the deployment
// orchestrator. Team is a team name or id reference; resolution happens in
// the caller.
type TableSpec struct {
	Team    string   `yaml:"team" json:"team"`
	Table   string   `yaml:"table" json:"table"`
	Columns []Column `yaml:"columns" json:"columns"`
}

// identRe is the safe identifier grammar: alphanumerics and underscore, not
// starting with a digit, within the Postgres 63-byte name limit.
var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// ValidIdentifier reports whether s may be used as a schema, table or column
// name.
func ValidIdentifier(s string) bool {
	return identRe.MatchString(s)
}

// typeRe accepts lowercase type words with an optional precision suffix,
// e.g. "varchar(100)" or "numeric(12, 2)".
var typeRe = regexp.MustCompile(`^[a-z]+(?: [a-z]+)*(?:\([0-9]+(?:, ?[0-9]+)?\))?$`)

// baseTypes is the whitelist of column types a spec may use. The key is the
// type word with any precision suffix stripped.
var baseTypes = map[string]struct{}{
	"text":             {},
	"varchar":          {},
	"char":             {},
	"smallint":         {},
	"integer":          {},
	"bigint":           {},
	"serial":           {},
	"bigserial":        {},
	"numeric":          {},
	"real":             {},
	"double precision": {},
	"boolean":          {},
	"date":             {},
	"time":             {},
	"timestamp":        {},
	"timestamptz":      {},
	"interval":         {},
	"bytea":            {},
	"uuid":             {},
	"json":             {},
	"jsonb":            {},
}

// defaultRe accepts a numeric literal, a boolean, a handful of datetime
// functions, or a single-quoted string without embedded quotes.
var defaultRe = regexp.MustCompile(`^([0-9]+(\.[0-9]+)?|true|false|now\(\)|current_timestamp|current_date|gen_random_uuid\(\)|'[^']*')$`)

// Validate checks the whole spec against the safe grammar. The first
// violation is returned; nothing is normalized in place.
func (s TableSpec) Validate() error {
	if !ValidIdentifier(s.Table) {
		return fmt.Errorf("%w: table name %q", ErrInvalidIdentifier, s.Table)
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("%w: at least one column is required", ErrInvalidDefinition)
	}
	seen := make(map[string]struct{}, len(s.Columns))
	for _, col := range s.Columns {
		if !ValidIdentifier(col.Name) {
			return fmt.Errorf("%w: column name %q", ErrInvalidIdentifier, col.Name)
		}
		lower := strings.ToLower(col.Name)
		if _, dup := seen[lower]; dup {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidDefinition, col.Name)
		}
		seen[lower] = struct{}{}
		if err := validateType(col.Type); err != nil {
			return fmt.Errorf("%w: column %q: %v", ErrInvalidDefinition, col.Name, err)
		}
		if col.Default != "" && !defaultRe.MatchString(strings.ToLower(strings.TrimSpace(col.Default))) {
			return fmt.Errorf("%w: column %q: unsupported default %q", ErrInvalidDefinition, col.Name, col.Default)
		}
	}
	return nil
}

func validateType(t string) error {
	t = strings.ToLower(strings.TrimSpace(t))
	if !typeRe.MatchString(t) {
		return fmt.Errorf("malformed type %q", t)
	}
	base := t
	if i := strings.IndexByte(base, '('); i >= 0 {
		base = base[:i]
	}
	if _, ok := baseTypes[strings.TrimSpace(base)]; !ok {
		return fmt.Errorf("unsupported type %q", t)
	}
	return nil
}

// CreateStatement renders the CREATE TABLE DDL for the spec in the given
// schema. Callers must have run Validate first; identifiers are quoted so the
// rendered statement is exactly one structural command.
func (s TableSpec) CreateStatement(schema string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "create table %q.%q (", schema, s.Table)
	for i, col := range s.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q %s", col.Name, strings.ToLower(strings.TrimSpace(col.Type)))
		if col.PrimaryKey {
			b.WriteString(" primary key")
		}
		if col.NotNull && !col.PrimaryKey {
			b.WriteString(" not null")
		}
		if col.Default != "" {
			fmt.Fprintf(&b, " default %s", strings.TrimSpace(col.Default))
		}
	}
	b.WriteString(")")
	return b.String()
}
