package deploy_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mskhalsa/EZPostgres-service/internal/audit"
	"github.com/mskhalsa/EZPostgres-service/internal/deploy"
	"github.com/mskhalsa/EZPostgres-service/internal/identity"
	"github.com/mskhalsa/EZPostgres-service/internal/store/memory"
	"github.com/mskhalsa/EZPostgres-service/internal/tablespec"
	"github.com/mskhalsa/EZPostgres-service/internal/tenant"
)

type env struct {
	store *memory.Store
	orch  *deploy.Orchestrator

	admin  identity.User
	member identity.User
	team   tenant.Team
	other  tenant.Team
}

func newEnv(t *testing.T, opts ...deploy.Option) *env {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	admin, err := store.CreateUser(ctx, "root", "root@example.com", "x", true)
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	member, err := store.CreateUser(ctx, "alice", "alice@example.com", "x", false)
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	team, err := store.CreateTeam(ctx, "analytics", "team_analytics")
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	other, err := store.CreateTeam(ctx, "billing", "team_billing")
	if err != nil {
		t.Fatalf("create other team: %v", err)
	}
	if err := store.AddMember(ctx, member.ID, team.ID); err != nil {
		t.Fatalf("add member: %v", err)
	}

	policy := tenant.NewPolicy(store, store)
	recorder := audit.NewRecorder(store)
	opts = append([]deploy.Option{deploy.WithBackoff(0)}, opts...)
	orch := deploy.NewOrchestrator(policy, store, store, recorder, opts...)

	return &env{store: store, orch: orch, admin: admin, member: member, team: team, other: other}
}

func eventsSpec() tablespec.TableSpec {
	return tablespec.TableSpec{
		Team:  "analytics",
		Table: "events",
		Columns: []tablespec.Column{
			{Name: "id", Type: "bigserial", PrimaryKey: true},
			{Name: "payload", Type: "jsonb", NotNull: true},
			{Name: "created_at", Type: "timestamptz", NotNull: true, Default: "now()"},
		},
	}
}

func TestDeployCreatesTable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.orch.Deploy(ctx, "alice", e.team.ID, eventsSpec())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if !res.Created {
		t.Fatal("first deploy did not report created")
	}
	if res.Table.SchemaName != "team_analytics" || res.Table.TableName != "events" {
		t.Fatalf("unexpected table record %s.%s", res.Table.SchemaName, res.Table.TableName)
	}
	if res.Table.CreatedBy != e.member.ID {
		t.Fatalf("created by %s, want %s", res.Table.CreatedBy, e.member.ID)
	}
	if !e.store.PhysicalTableExists("team_analytics", "events") {
		t.Fatal("physical table not created")
	}
	cols, err := e.store.ColumnsForTable(ctx, res.Table.ID)
	if err != nil {
		t.Fatalf("ColumnsForTable: %v", err)
	}
	if len(cols) != 3 {
		t.Fatalf("got %d column records, want 3", len(cols))
	}
}

func TestDeployIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.orch.Deploy(ctx, "alice", e.team.ID, eventsSpec())
	if err != nil {
		t.Fatalf("first Deploy: %v", err)
	}

	spec := eventsSpec()
	spec.Columns = append(spec.Columns, tablespec.Column{Name: "source", Type: "text"})
	second, err := e.orch.Deploy(ctx, "alice", e.team.ID, spec)
	if err != nil {
		t.Fatalf("second Deploy: %v", err)
	}

	if second.Created {
		t.Fatal("redeploy reported created")
	}
	if second.Table.ID != first.Table.ID {
		t.Fatal("redeploy changed record id")
	}
	if second.Table.CreatedBy != first.Table.CreatedBy {
		t.Fatal("redeploy changed creator")
	}
	if !second.Table.CreatedAt.Equal(first.Table.CreatedAt) {
		t.Fatal("redeploy changed creation time")
	}

	tables, err := e.store.ListTables(ctx, nil)
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(tables) != 1 {
		t.Fatalf("got %d table records after redeploy, want 1", len(tables))
	}
	cols, err := e.store.ColumnsForTable(ctx, first.Table.ID)
	if err != nil {
		t.Fatalf("ColumnsForTable: %v", err)
	}
	if len(cols) != 4 {
		t.Fatalf("got %d column records after redeploy, want 4", len(cols))
	}

	entries, err := e.store.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("List activity: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d activity entries, want 2", len(entries))
	}
	if entries[0].Action != audit.ActionUpdate || entries[1].Action != audit.ActionCreate {
		t.Fatalf("unexpected activity actions %s, %s", entries[0].Action, entries[1].Action)
	}
}

func TestDeployAtomicOnGrantFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.store.FailGrants = true

	if _, err := e.orch.Deploy(ctx, "alice", e.team.ID, eventsSpec()); err == nil {
		t.Fatal("Deploy succeeded despite grant failure")
	}
	if e.store.PhysicalTableExists("team_analytics", "events") {
		t.Fatal("physical table committed despite grant failure")
	}
	tables, err := e.store.ListTables(ctx, nil)
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(tables) != 0 {
		t.Fatalf("got %d table records despite grant failure", len(tables))
	}
	entries, err := e.store.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("List activity: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %d activity entries despite grant failure", len(entries))
	}
}

func TestDeployConcurrentSameTable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.orch.Deploy(ctx, "alice", e.team.ID, eventsSpec())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("deploy %d: %v", i, err)
		}
	}
	tables, err := e.store.ListTables(ctx, nil)
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(tables) != 1 {
		t.Fatalf("concurrent deploys produced %d records, want 1", len(tables))
	}
}

func TestDeployRejectsInvalidSpec(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	spec := eventsSpec()
	spec.Columns[0].Name = "drop table; --"
	_, err := e.orch.Deploy(ctx, "alice", e.team.ID, spec)
	if !errors.Is(err, tablespec.ErrInvalidIdentifier) {
		t.Fatalf("got %v, want ErrInvalidIdentifier", err)
	}
	if e.store.SchemaExists("team_analytics") {
		// Schema was provisioned at team creation, so check the table only.
		if e.store.PhysicalTableExists("team_analytics", "events") {
			t.Fatal("invalid spec reached the store")
		}
	}
}

func TestDeployDeniesForeignTeam(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// The denial for a real but foreign team and for a nonexistent team must
	// be indistinguishable.
	_, realErr := e.orch.Deploy(ctx, "alice", e.other.ID, eventsSpec())
	_, fakeErr := e.orch.Deploy(ctx, "alice", "t-nope", eventsSpec())
	if !errors.Is(realErr, tenant.ErrUnauthorized) {
		t.Fatalf("foreign team: got %v, want ErrUnauthorized", realErr)
	}
	if !errors.Is(fakeErr, tenant.ErrUnauthorized) {
		t.Fatalf("unknown team: got %v, want ErrUnauthorized", fakeErr)
	}
	if realErr.Error() != fakeErr.Error() {
		t.Fatalf("denials differ: %q vs %q", realErr, fakeErr)
	}
	if e.store.PhysicalTableExists("team_billing", "events") {
		t.Fatal("unauthorized deploy reached the store")
	}
}

func TestDeployDeniesUnknownCaller(t *testing.T) {
	e := newEnv(t)
	if _, err := e.orch.Deploy(context.Background(), "ghost", e.team.ID, eventsSpec()); !errors.Is(err, tenant.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestDeployAdminReachesAnyTeam(t *testing.T) {
	e := newEnv(t)
	spec := eventsSpec()
	spec.Team = "billing"
	res, err := e.orch.Deploy(context.Background(), "root", e.other.ID, spec)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if res.Table.SchemaName != "team_billing" {
		t.Fatalf("deployed into %s, want team_billing", res.Table.SchemaName)
	}
}

type conflictStore struct {
	calls int
}

func (c *conflictStore) ApplyDeployment(ctx context.Context, d deploy.Deployment) (deploy.Result, error) {
	c.calls++
	return deploy.Result{}, deploy.ErrWriteConflict
}

func TestDeployConflictRetriesThenFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	store := &conflictStore{}
	policy := tenant.NewPolicy(e.store, e.store)
	recorder := audit.NewRecorder(e.store)
	orch := deploy.NewOrchestrator(policy, e.store, store, recorder,
		deploy.WithAttempts(3), deploy.WithBackoff(0))

	_, err := orch.Deploy(ctx, "alice", e.team.ID, eventsSpec())
	if !errors.Is(err, deploy.ErrDeploymentConflict) {
		t.Fatalf("got %v, want ErrDeploymentConflict", err)
	}
	if store.calls != 3 {
		t.Fatalf("store called %d times, want 3", store.calls)
	}
}

type flakyStore struct {
	inner    deploy.Store
	failures int
}

func (f *flakyStore) ApplyDeployment(ctx context.Context, d deploy.Deployment) (deploy.Result, error) {
	if f.failures > 0 {
		f.failures--
		return deploy.Result{}, deploy.ErrWriteConflict
	}
	return f.inner.ApplyDeployment(ctx, d)
}

func TestDeployRecoversFromTransientConflict(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	store := &flakyStore{inner: e.store, failures: 2}
	policy := tenant.NewPolicy(e.store, e.store)
	recorder := audit.NewRecorder(e.store)
	orch := deploy.NewOrchestrator(policy, e.store, store, recorder, deploy.WithBackoff(0))

	res, err := orch.Deploy(ctx, "alice", e.team.ID, eventsSpec())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if !res.Created {
		t.Fatal("recovered deploy did not report created")
	}
}
