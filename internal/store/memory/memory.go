// Package memory provides an in-memory implementation of every store
// interface in the service. It backs tests and local experimentation; the
// simulated physical schemas let deployment semantics be exercised without a
// live database. All methods are safe for concurrent use and deployments are
// serialized, so two racing deployments of the same table resolve to one
// record, never a write conflict.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mskhalsa/EZPostgres-service/internal/audit"
	"github.com/mskhalsa/EZPostgres-service/internal/deploy"
	"github.com/mskhalsa/EZPostgres-service/internal/guard"
	"github.com/mskhalsa/EZPostgres-service/internal/identity"
	"github.com/mskhalsa/EZPostgres-service/internal/ids"
	"github.com/mskhalsa/EZPostgres-service/internal/registry"
	"github.com/mskhalsa/EZPostgres-service/internal/report"
	"github.com/mskhalsa/EZPostgres-service/internal/tablespec"
	"github.com/mskhalsa/EZPostgres-service/internal/tenant"
)

var errGrantFailed = errors.New("memory: grant step failed")

type physicalTable struct {
	columns []tablespec.Column
}

type membership struct {
	userID    string
	teamID    string
	createdAt time.Time
}

// Store is the in-memory backing store.
type Store struct {
	mu sync.RWMutex

	users    map[string]identity.User // keyed by id
	teams    map[string]tenant.Team   // keyed by id
	members  []membership
	tables   map[string]registry.TableRecord   // keyed by id
	columns  map[string][]registry.ColumnRecord // keyed by table id
	attempts []guard.Attempt
	activity []audit.Entry

	// Simulated physical state: schemaName -> tableName -> shape, plus the
	// group roles that would hold the privileges.
	schemas map[string]map[string]physicalTable
	roles   map[string]struct{}

	// FailGrants makes the grant step of ApplyDeployment fail, for
	// atomicity tests. No state is committed when it is set.
	FailGrants bool

	now func() time.Time
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		users:   make(map[string]identity.User),
		teams:   make(map[string]tenant.Team),
		tables:  make(map[string]registry.TableRecord),
		columns: make(map[string][]registry.ColumnRecord),
		schemas: make(map[string]map[string]physicalTable),
		roles:   make(map[string]struct{}),
		now:     time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Store) WithClock(fn func() time.Time) *Store {
	if fn != nil {
		s.now = fn
	}
	return s
}

// SchemaExists reports whether the simulated schema was provisioned.
func (s *Store) SchemaExists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.schemas[name]
	return ok
}

// PhysicalTableExists reports whether the simulated table was created.
func (s *Store) PhysicalTableExists(schema, table string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tables, ok := s.schemas[schema]
	if !ok {
		return false
	}
	_, ok = tables[table]
	return ok
}

// RoleExists reports whether the simulated group role was provisioned.
func (s *Store) RoleExists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.roles[name]
	return ok
}

// --- identity.Store ---

func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string, isAdmin bool) (identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return identity.User{}, identity.ErrConflict
		}
	}
	u := identity.User{
		ID:           ids.New(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		IsAdmin:      isAdmin,
		CreatedAt:    s.now().UTC(),
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) FindByUsername(ctx context.Context, username string) (identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return identity.User{}, identity.ErrUnknownUser
}

func (s *Store) FindByID(ctx context.Context, id string) (identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return identity.User{}, identity.ErrUnknownUser
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]identity.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return identity.ErrUnknownUser
	}
	u.PasswordHash = passwordHash
	s.users[userID] = u
	return nil
}

func (s *Store) SetDisabled(ctx context.Context, userID string, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return identity.ErrUnknownUser
	}
	u.Disabled = disabled
	s.users[userID] = u
	return nil
}

func (s *Store) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return identity.ErrUnknownUser
	}
	at = at.UTC()
	u.LastLoginAt = &at
	s.users[userID] = u
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return identity.ErrUnknownUser
	}
	delete(s.users, userID)
	kept := s.members[:0]
	for _, m := range s.members {
		if m.userID != userID {
			kept = append(kept, m)
		}
	}
	s.members = kept
	return nil
}

func (s *Store) TablesCreatedBy(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.tables {
		if t.CreatedBy == userID {
			n++
		}
	}
	return n, nil
}

// --- tenant.Store ---

func (s *Store) CreateTeam(ctx context.Context, name, schemaName string) (tenant.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.teams {
		if t.Name == name || t.SchemaName == schemaName {
			return tenant.Team{}, tenant.ErrConflict
		}
	}
	now := s.now().UTC()
	t := tenant.Team{
		ID:         ids.New(),
		Name:       name,
		SchemaName: schemaName,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.teams[t.ID] = t
	if _, ok := s.schemas[schemaName]; !ok {
		s.schemas[schemaName] = make(map[string]physicalTable)
	}
	s.roles["team_"+schemaName] = struct{}{}
	return t, nil
}

func (s *Store) TeamByID(ctx context.Context, id string) (tenant.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[id]
	if !ok {
		return tenant.Team{}, tenant.ErrUnknownTeam
	}
	return t, nil
}

func (s *Store) TeamByName(ctx context.Context, name string) (tenant.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.teams {
		if t.Name == name {
			return t, nil
		}
	}
	return tenant.Team{}, tenant.ErrUnknownTeam
}

func (s *Store) ListTeams(ctx context.Context) ([]tenant.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tenant.Team, 0, len(s.teams))
	for _, t := range s.teams {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ListTeamsByID(ctx context.Context, ids []string) ([]tenant.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tenant.Team, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.teams[id]; ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) AddMember(ctx context.Context, userID, teamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return identity.ErrUnknownUser
	}
	if _, ok := s.teams[teamID]; !ok {
		return tenant.ErrUnknownTeam
	}
	for _, m := range s.members {
		if m.userID == userID && m.teamID == teamID {
			return tenant.ErrConflict
		}
	}
	s.members = append(s.members, membership{userID: userID, teamID: teamID, createdAt: s.now().UTC()})
	return nil
}

func (s *Store) RemoveMember(ctx context.Context, userID, teamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.members {
		if m.userID == userID && m.teamID == teamID {
			s.members = append(s.members[:i], s.members[i+1:]...)
			return nil
		}
	}
	return tenant.ErrUnknownTeam
}

func (s *Store) TeamIDsForUser(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, m := range s.members {
		if m.userID == userID {
			out = append(out, m.teamID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// --- registry.Store ---

func (s *Store) ListTables(ctx context.Context, teamIDs []string) ([]registry.TableRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var allowed map[string]struct{}
	if teamIDs != nil {
		allowed = make(map[string]struct{}, len(teamIDs))
		for _, id := range teamIDs {
			allowed[id] = struct{}{}
		}
	}
	var out []registry.TableRecord
	for _, t := range s.tables {
		if allowed != nil {
			if _, ok := allowed[t.TeamID]; !ok {
				continue
			}
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SchemaName != out[j].SchemaName {
			return out[i].SchemaName < out[j].SchemaName
		}
		return out[i].TableName < out[j].TableName
	})
	return out, nil
}

func (s *Store) TableByName(ctx context.Context, schemaName, tableName string) (registry.TableRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tables {
		if t.SchemaName == schemaName && t.TableName == tableName {
			return t, nil
		}
	}
	return registry.TableRecord{}, registry.ErrUnknownTable
}

func (s *Store) ColumnsForTable(ctx context.Context, tableID string) ([]registry.ColumnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cols, ok := s.columns[tableID]
	if !ok {
		return nil, registry.ErrUnknownTable
	}
	out := make([]registry.ColumnRecord, len(cols))
	copy(out, cols)
	return out, nil
}

// --- deploy.Store ---

// ApplyDeployment applies one deployment as a staged unit: nothing is
// committed unless every step, the grant included, succeeds.
func (s *Store) ApplyDeployment(ctx context.Context, d deploy.Deployment) (deploy.Result, error) {
	if err := ctx.Err(); err != nil {
		return deploy.Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	schema := d.Team.SchemaName

	var record registry.TableRecord
	created := true
	for _, t := range s.tables {
		if t.SchemaName == schema && t.TableName == d.Spec.Table {
			record = t
			created = false
			break
		}
	}
	if created {
		record = registry.TableRecord{
			ID:         ids.New(),
			TeamID:     d.Team.ID,
			SchemaName: schema,
			TableName:  d.Spec.Table,
			CreatedBy:  d.Actor.ID,
			CreatedAt:  now,
		}
	}
	record.UpdatedAt = now

	cols := make([]registry.ColumnRecord, len(d.Spec.Columns))
	for i, c := range d.Spec.Columns {
		cols[i] = registry.ColumnRecord{
			ID:          ids.New(),
			TableID:     record.ID,
			Name:        c.Name,
			DataType:    c.Type,
			NotNull:     c.NotNull,
			DefaultExpr: c.Default,
			Ordinal:     i + 1,
		}
	}

	if s.FailGrants {
		// Simulated failure of the grant step. Nothing above has been
		// committed to the store yet.
		return deploy.Result{}, errGrantFailed
	}

	if _, ok := s.schemas[schema]; !ok {
		s.schemas[schema] = make(map[string]physicalTable)
	}
	s.schemas[schema][d.Spec.Table] = physicalTable{columns: append([]tablespec.Column(nil), d.Spec.Columns...)}
	s.tables[record.ID] = record
	s.columns[record.ID] = cols

	action := audit.ActionUpdate
	desc := "redeployed table " + schema + "." + d.Spec.Table
	if created {
		action = audit.ActionCreate
		desc = "deployed table " + schema + "." + d.Spec.Table
	}
	s.activity = append(s.activity, audit.Entry{
		ID:          ids.New(),
		ActorID:     d.Actor.ID,
		Action:      action,
		ObjectKind:  audit.ObjectTable,
		ObjectID:    record.ID,
		Description: desc,
		OccurredAt:  now,
	})

	return deploy.Result{Table: record, Created: created}, nil
}

// --- guard.Store ---

func (s *Store) FailedAttempts(ctx context.Context, ident, origin string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.attempts {
		if a.Identity == ident && a.Origin == origin && !a.Success && a.At.After(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) RecordAttempt(ctx context.Context, attempt guard.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

// --- audit.Store ---

func (s *Store) Append(ctx context.Context, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, *entry)
	return nil
}

func (s *Store) List(ctx context.Context, actorID string, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Entry
	for i := len(s.activity) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.activity[i]
		if actorID != "" && e.ActorID != actorID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// --- report.Store ---

func (s *Store) TeamUsage(ctx context.Context, teamIDs []string) ([]report.TeamUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	visible := s.visibleTeams(teamIDs)
	out := make([]report.TeamUsage, 0, len(visible))
	for _, t := range visible {
		usage := report.TeamUsage{TeamID: t.ID, TeamName: t.Name}
		for _, m := range s.members {
			if m.teamID == t.ID {
				usage.Members++
			}
		}
		for _, rec := range s.tables {
			if rec.TeamID == t.ID {
				usage.Tables++
				usage.RowEstimate += rec.RowEstimate
			}
		}
		out = append(out, usage)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TeamName < out[j].TeamName })
	return out, nil
}

func (s *Store) UserActivity(ctx context.Context, teamIDs []string) ([]report.UserActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	allowed := make(map[string]struct{})
	for _, t := range s.visibleTeams(teamIDs) {
		allowed[t.ID] = struct{}{}
	}
	byUser := make(map[string]*report.UserActivity)
	for _, rec := range s.tables {
		if _, ok := allowed[rec.TeamID]; !ok {
			continue
		}
		u, ok := s.users[rec.CreatedBy]
		if !ok {
			continue
		}
		entry, ok := byUser[u.Username]
		if !ok {
			entry = &report.UserActivity{Username: u.Username}
			byUser[u.Username] = entry
		}
		entry.Tables++
		at := rec.UpdatedAt
		if entry.LastDeploy == nil || at.After(*entry.LastDeploy) {
			entry.LastDeploy = &at
		}
	}
	out := make([]report.UserActivity, 0, len(byUser))
	for _, entry := range byUser {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) AccountStats(ctx context.Context, teamIDs []string, inactiveBefore time.Time) (report.AccountStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var allowed map[string]struct{}
	if teamIDs != nil {
		allowed = make(map[string]struct{}, len(teamIDs))
		for _, id := range teamIDs {
			allowed[id] = struct{}{}
		}
	}
	var stats report.AccountStats
	for _, u := range s.users {
		if allowed != nil && !s.memberOfAny(u.ID, allowed) {
			continue
		}
		stats.Users++
		last := u.CreatedAt
		if u.LastLoginAt != nil {
			last = *u.LastLoginAt
		}
		if last.Before(inactiveBefore) {
			stats.Inactive++
		}
	}
	return stats, nil
}

func (s *Store) memberOfAny(userID string, teamIDs map[string]struct{}) bool {
	for _, m := range s.members {
		if m.userID != userID {
			continue
		}
		if _, ok := teamIDs[m.teamID]; ok {
			return true
		}
	}
	return false
}

func (s *Store) visibleTeams(teamIDs []string) []tenant.Team {
	var out []tenant.Team
	if teamIDs == nil {
		for _, t := range s.teams {
			out = append(out, t)
		}
		return out
	}
	for _, id := range teamIDs {
		if t, ok := s.teams[id]; ok {
			out = append(out, t)
		}
	}
	return out
}
