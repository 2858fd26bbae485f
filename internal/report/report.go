// Package report aggregates per-team and per-user usage figures. Visibility
// filtering happens before aggregation so a non-admin caller's totals never
// include tenants outside their scope.
package report

import (
	"context"
	"time"

	"github.com/mskhalsa/EZPostgres-service/internal/tenant"
)

// TeamUsage summarizes one team.
type TeamUsage struct {
	TeamID      string `json:"team_id"`
	TeamName    string `json:"team_name"`
	Members     int    `json:"members"`
	Tables      int    `json:"tables"`
	RowEstimate int64  `json:"row_estimate"`
}

// UserActivity summarizes one user's deployments.
type UserActivity struct {
	Username   string     `json:"username"`
	Tables     int        `json:"tables"`
	LastDeploy *time.Time `json:"last_deploy,omitempty"`
}

// AccountStats counts accounts within a team scope. Inactive is the number
// of accounts whose last login, or creation for accounts that never logged
// in, is older than the inactivity window.
type AccountStats struct {
	Users    int `json:"users"`
	Inactive int `json:"inactive"`
}

// Totals sums across the visible teams.
type Totals struct {
	Teams         int   `json:"teams"`
	Tables        int   `json:"tables"`
	RowEstimate   int64 `json:"row_estimate"`
	Users         int   `json:"users"`
	InactiveUsers int   `json:"inactive_users"`
}

// Report is a point-in-time usage snapshot scoped to the caller.
type Report struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Teams       []TeamUsage    `json:"teams"`
	Users       []UserActivity `json:"users"`
	Totals      Totals         `json:"totals"`
}

// Store reads usage figures for the given teams. A nil teamIDs slice means
// all teams and is reserved for admin callers.
type Store interface {
	TeamUsage(ctx context.Context, teamIDs []string) ([]TeamUsage, error)
	UserActivity(ctx context.Context, teamIDs []string) ([]UserActivity, error)
	AccountStats(ctx context.Context, teamIDs []string, inactiveBefore time.Time) (AccountStats, error)
}

// inactivityWindow is how long an account may go without a login before the
// report counts it as inactive.
const inactivityWindow = 30 * 24 * time.Hour

// Service builds usage reports.
type Service struct {
	store  Store
	policy *tenant.Policy
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(store Store, policy *tenant.Policy) *Service {
	return &Service{store: store, policy: policy, now: time.Now}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(s *Service, now func() time.Time) *Service {
	s.now = now
	return s
}

// Usage returns the usage report visible to the caller.
func (s *Service) Usage(ctx context.Context, caller string) (Report, error) {
	_, scope, err := s.policy.ResolveCaller(ctx, caller)
	if err != nil {
		return Report{}, err
	}
	now := s.now().UTC()
	teamIDs := scope.TeamIDs()
	if !scope.IsAdmin() && len(teamIDs) == 0 {
		// No memberships: an empty report, not an error.
		return Report{GeneratedAt: now}, nil
	}

	teams, err := s.store.TeamUsage(ctx, teamIDs)
	if err != nil {
		return Report{}, err
	}
	users, err := s.store.UserActivity(ctx, teamIDs)
	if err != nil {
		return Report{}, err
	}
	accounts, err := s.store.AccountStats(ctx, teamIDs, now.Add(-inactivityWindow))
	if err != nil {
		return Report{}, err
	}

	var totals Totals
	totals.Teams = len(teams)
	for _, t := range teams {
		totals.Tables += t.Tables
		totals.RowEstimate += t.RowEstimate
	}
	totals.Users = accounts.Users
	totals.InactiveUsers = accounts.Inactive

	return Report{
		GeneratedAt: now,
		Teams:       teams,
		Users:       users,
		Totals:      totals,
	}, nil
}
