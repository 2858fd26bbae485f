package tenant

import (
	"context"
	"fmt"
	"strings"

	"github.com/mskhalsa/EZPostgres-service/internal/audit"
	"github.com/mskhalsa/EZPostgres-service/internal/obs"
	"github.com/mskhalsa/EZPostgres-service/internal/tablespec"
)

// Service provides team and membership management with the access policy
// applied to every operation.
type Service struct {
	store    Store
	users    UserDirectory
	policy   *Policy
	recorder *audit.Recorder
}

// NewService constructs a Service.
func NewService(store Store, users UserDirectory, policy *Policy, recorder *audit.Recorder) *Service {
	return &Service{store: store, users: users, policy: policy, recorder: recorder}
}

// SchemaNameFor derives the fixed tenant schema name from a team name.
func SchemaNameFor(teamName string) string {
	s := strings.ToLower(strings.TrimSpace(teamName))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return "team_" + s
}

// CreateTeam provisions a new team with its dedicated schema. Admin only.
func (s *Service) CreateTeam(ctx context.Context, caller, name string) (Team, error) {
	actor, scope, err := s.policy.ResolveCaller(ctx, caller)
	if err != nil {
		return Team{}, err
	}
	if !scope.IsAdmin() {
		obs.AuthzDenials.Inc()
		s.recorder.Denied(ctx, actor.ID, audit.ActionCreate, audit.ObjectTeam)
		return Team{}, ErrUnauthorized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Team{}, fmt.Errorf("%w: team name is required", ErrInvalidInput)
	}
	schemaName := SchemaNameFor(name)
	if !tablespec.ValidIdentifier(schemaName) {
		return Team{}, fmt.Errorf("%w: name %q does not map to a valid schema name", ErrInvalidInput, name)
	}
	team, err := s.store.CreateTeam(ctx, name, schemaName)
	if err != nil {
		return Team{}, err
	}
	_ = s.recorder.Record(ctx, audit.Entry{
		ActorID:     actor.ID,
		Action:      audit.ActionCreate,
		ObjectKind:  audit.ObjectTeam,
		ObjectID:    team.ID,
		Description: fmt.Sprintf("created team %s with schema %s", team.Name, team.SchemaName),
	})
	return team, nil
}

// ListTeams returns the teams visible to the caller.
func (s *Service) ListTeams(ctx context.Context, caller string) ([]Team, error) {
	scope, err := s.policy.ResolveCallerTeams(ctx, caller)
	if err != nil {
		return nil, err
	}
	if scope.IsAdmin() {
		return s.store.ListTeams(ctx)
	}
	ids := scope.TeamIDs()
	if len(ids) == 0 {
		return nil, nil
	}
	return s.store.ListTeamsByID(ctx, ids)
}

// GetTeam returns one team if the caller is entitled to see it. The denial
// for an invisible team is indistinguishable from a denial for a missing one.
func (s *Service) GetTeam(ctx context.Context, caller, teamID string) (Team, error) {
	scope, err := s.policy.ResolveCallerTeams(ctx, caller)
	if err != nil {
		return Team{}, err
	}
	if !scope.Allows(teamID) {
		obs.AuthzDenials.Inc()
		return Team{}, ErrUnauthorized
	}
	return s.store.TeamByID(ctx, teamID)
}

// AddUserToTeam creates a membership. Admin only.
func (s *Service) AddUserToTeam(ctx context.Context, caller, username, teamName string) error {
	actor, scope, err := s.policy.ResolveCaller(ctx, caller)
	if err != nil {
		return err
	}
	if !scope.IsAdmin() {
		obs.AuthzDenials.Inc()
		s.recorder.Denied(ctx, actor.ID, audit.ActionCreate, audit.ObjectMembership)
		return ErrUnauthorized
	}
	user, err := s.users.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return err
	}
	team, err := s.store.TeamByName(ctx, strings.TrimSpace(teamName))
	if err != nil {
		return err
	}
	if err := s.store.AddMember(ctx, user.ID, team.ID); err != nil {
		return err
	}
	return s.recorder.Record(ctx, audit.Entry{
		ActorID:     actor.ID,
		Action:      audit.ActionCreate,
		ObjectKind:  audit.ObjectMembership,
		ObjectID:    team.ID,
		Description: fmt.Sprintf("added %s to team %s", user.Username, team.Name),
	})
}

// RemoveUserFromTeam deletes a membership. Admin only. Grants stay untouched:
// table privileges are held by the team group role, not by members.
func (s *Service) RemoveUserFromTeam(ctx context.Context, caller, username, teamName string) error {
	actor, scope, err := s.policy.ResolveCaller(ctx, caller)
	if err != nil {
		return err
	}
	if !scope.IsAdmin() {
		obs.AuthzDenials.Inc()
		s.recorder.Denied(ctx, actor.ID, audit.ActionDelete, audit.ObjectMembership)
		return ErrUnauthorized
	}
	user, err := s.users.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return err
	}
	team, err := s.store.TeamByName(ctx, strings.TrimSpace(teamName))
	if err != nil {
		return err
	}
	if err := s.store.RemoveMember(ctx, user.ID, team.ID); err != nil {
		return err
	}
	return s.recorder.Record(ctx, audit.Entry{
		ActorID:     actor.ID,
		Action:      audit.ActionDelete,
		ObjectKind:  audit.ObjectMembership,
		ObjectID:    team.ID,
		Description: fmt.Sprintf("removed %s from team %s", user.Username, team.Name),
	})
}
