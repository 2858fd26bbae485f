// Package tenant holds team records, user-team memberships and the access
// policy that derives a caller's permitted team scope. Each team maps 1:1 to
// a dedicated schema in the shared store; the schema name is fixed once
// assigned.
package tenant

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnknownTeam  = errors.New("tenant: unknown team")
	ErrConflict     = errors.New("tenant: already exists")
	ErrInvalidInput = errors.New("tenant: invalid input")
	ErrUnauthorized = errors.New("tenant: unauthorized")
)

// Team is an isolated consumer of the shared store.
type Team struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SchemaName string    `json:"schema_name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Membership links a user to a team; unique per pair.
type Membership struct {
	UserID    string    `json:"user_id"`
	TeamID    string    `json:"team_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists teams and memberships. CreateTeam also provisions the
// tenant schema and its group role, atomically with the metadata row.
type Store interface {
	CreateTeam(ctx context.Context, name, schemaName string) (Team, error)
	TeamByID(ctx context.Context, id string) (Team, error)
	TeamByName(ctx context.Context, name string) (Team, error)
	ListTeams(ctx context.Context) ([]Team, error)
	ListTeamsByID(ctx context.Context, ids []string) ([]Team, error)
	AddMember(ctx context.Context, userID, teamID string) error
	RemoveMember(ctx context.Context, userID, teamID string) error
	TeamIDsForUser(ctx context.Context, userID string) ([]string, error)
}
