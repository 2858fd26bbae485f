package tenant

import (
	"context"
	"sort"

	"github.com/mskhalsa/EZPostgres-service/internal/identity"
)

// TeamScope is the resolved set of teams a caller may act on. Admin callers
// get the AllTeams sentinel rather than a materialized id list, so the scope
// stays correct as the team set grows. The zero value allows nothing.
type TeamScope struct {
	all bool
	ids map[string]struct{}
}

// AllTeams is the admin sentinel scope.
func AllTeams() TeamScope {
	return TeamScope{all: true}
}

// ScopeOf builds an explicit scope over the given team ids.
func ScopeOf(teamIDs []string) TeamScope {
	set := make(map[string]struct{}, len(teamIDs))
	for _, id := range teamIDs {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return TeamScope{ids: set}
}

// IsAdmin reports whether the scope is the admin sentinel.
func (s TeamScope) IsAdmin() bool { return s.all }

// Allows reports whether the caller may act on the given team. This single
// predicate backs both visibility filtering and write authorization, so "can
// see" and "can modify" never diverge.
func (s TeamScope) Allows(teamID string) bool {
	if s.all {
		return true
	}
	_, ok := s.ids[teamID]
	return ok
}

// TeamIDs returns the explicit ids in sorted order, or nil for the admin
// sentinel.
func (s TeamScope) TeamIDs() []string {
	if s.all {
		return nil
	}
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// UserDirectory resolves usernames to user records.
type UserDirectory interface {
	FindByUsername(ctx context.Context, username string) (identity.User, error)
}

// MembershipSource resolves the team ids a user belongs to.
type MembershipSource interface {
	TeamIDsForUser(ctx context.Context, userID string) ([]string, error)
}

// Policy computes a caller's permitted team scope. It is a pure lookup over
// explicit parameters; tests can inject arbitrary callers without a session.
type Policy struct {
	users   UserDirectory
	members MembershipSource
}

// NewPolicy constructs a Policy.
func NewPolicy(users UserDirectory, members MembershipSource) *Policy {
	return &Policy{users: users, members: members}
}

// ResolveCaller returns the caller's user record and team scope. Unknown or
// disabled callers resolve to ErrUnauthorized; the error never reveals which
// of the two it was.
func (p *Policy) ResolveCaller(ctx context.Context, username string) (identity.User, TeamScope, error) {
	user, err := p.users.FindByUsername(ctx, username)
	if err != nil {
		return identity.User{}, TeamScope{}, ErrUnauthorized
	}
	if user.Disabled {
		return identity.User{}, TeamScope{}, ErrUnauthorized
	}
	if user.IsAdmin {
		return user, AllTeams(), nil
	}
	teamIDs, err := p.members.TeamIDsForUser(ctx, user.ID)
	if err != nil {
		return identity.User{}, TeamScope{}, err
	}
	return user, ScopeOf(teamIDs), nil
}

// ResolveCallerTeams returns only the scope.
func (p *Policy) ResolveCallerTeams(ctx context.Context, username string) (TeamScope, error) {
	_, scope, err := p.ResolveCaller(ctx, username)
	return scope, err
}

// Authorize reports whether the caller may act on the given team. The denial
// is generic: it does not reveal whether the team exists.
func (p *Policy) Authorize(ctx context.Context, username, teamID string) error {
	scope, err := p.ResolveCallerTeams(ctx, username)
	if err != nil {
		return err
	}
	if !scope.Allows(teamID) {
		return ErrUnauthorized
	}
	return nil
}
