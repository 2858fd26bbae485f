package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mskhalsa/EZPostgres-service/internal/audit"
	"github.com/mskhalsa/EZPostgres-service/internal/authn"
	"github.com/mskhalsa/EZPostgres-service/internal/deploy"
	"github.com/mskhalsa/EZPostgres-service/internal/guard"
	"github.com/mskhalsa/EZPostgres-service/internal/identity"
	"github.com/mskhalsa/EZPostgres-service/internal/registry"
	"github.com/mskhalsa/EZPostgres-service/internal/report"
	"github.com/mskhalsa/EZPostgres-service/internal/store/memory"
	"github.com/mskhalsa/EZPostgres-service/internal/tenant"
)

const (
	adminPassword  = "Adm1n-secret!"
	memberPassword = "Memb3r-secret!"
)

type testAPI struct {
	handler http.Handler
	store   *memory.Store
}

// newTestAPI wires the full service stack over the in-memory store, with
// root as admin and alice as a regular user.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	t.Setenv("EZPG_AUTH_SECRET", "api-test-secret")
	authn.ResetSecretForTests()
	t.Cleanup(authn.ResetSecretForTests)

	store := memory.New()
	recorder := audit.NewRecorder(store)
	policy := tenant.NewPolicy(store, store)
	users := identity.NewService(store, recorder)

	ctx := context.Background()
	if _, err := users.CreateUser(ctx, "bootstrap", "root", adminPassword, true, "root@example.com"); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if _, err := users.CreateUser(ctx, "bootstrap", "alice", memberPassword, false, "alice@example.com"); err != nil {
		t.Fatalf("create member: %v", err)
	}

	svc := Services{
		Users:         users,
		Authenticator: identity.NewAuthenticator(store, guard.New(store), recorder),
		Directory:     store,
		Teams:         tenant.NewService(store, store, policy, recorder),
		Tables:        registry.NewService(store, policy),
		Deployer:      deploy.NewOrchestrator(policy, store, store, recorder, deploy.WithBackoff(0)),
		Activity:      audit.NewService(store),
		Reports:       report.NewService(store, policy),
	}
	api := New(svc, ReadyProbe{}, "test")
	return &testAPI{handler: api.Handler(), store: store}
}

func (ta *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.0.0.1:4000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	return rec
}

func (ta *testAPI) token(t *testing.T, username, password string) string {
	t.Helper()
	rec := ta.do(t, http.MethodPost, "/v1/auth/token", "", map[string]string{
		"username": username,
		"password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("token request for %s: %d %s", username, rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	return resp.Token
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %s: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthAndInfoArePublic(t *testing.T) {
	ta := newTestAPI(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		rec := ta.do(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: %d", path, rec.Code)
		}
	}
}

func TestProtectedPathsRequireToken(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/v1/tables", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}
	rec = ta.do(t, http.MethodGet, "/v1/tables", "garbage-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token got %d, want 401", rec.Code)
	}
}

func TestTokenRejectsBadCredentials(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodPost, "/v1/auth/token", "", map[string]string{
		"username": "alice",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}
}

func TestTokenThrottledAfterRepeatedFailures(t *testing.T) {
	ta := newTestAPI(t)
	for i := 0; i < 6; i++ {
		rec := ta.do(t, http.MethodPost, "/v1/auth/token", "", map[string]string{
			"username": "alice",
			"password": "wrong",
		})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: got %d, want 401", i+1, rec.Code)
		}
	}
	rec := ta.do(t, http.MethodPost, "/v1/auth/token", "", map[string]string{
		"username": "alice",
		"password": memberPassword,
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("got %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After header missing")
	}
}

func TestTeamLifecycleOverHTTP(t *testing.T) {
	ta := newTestAPI(t)
	admin := ta.token(t, "root", adminPassword)
	member := ta.token(t, "alice", memberPassword)

	rec := ta.do(t, http.MethodPost, "/v1/teams", member, map[string]string{"name": "analytics"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("member create team: got %d, want 403", rec.Code)
	}

	rec = ta.do(t, http.MethodPost, "/v1/teams", admin, map[string]string{"name": "analytics"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create team: %d %s", rec.Code, rec.Body.String())
	}
	team := decodeBody[tenant.Team](t, rec)
	if team.SchemaName != "team_analytics" {
		t.Fatalf("schema %q", team.SchemaName)
	}

	rec = ta.do(t, http.MethodPost, "/v1/teams/analytics/members", admin, map[string]string{"username": "alice"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("add member: %d %s", rec.Code, rec.Body.String())
	}

	rec = ta.do(t, http.MethodGet, "/v1/teams", member, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list teams: %d", rec.Code)
	}
	teams := decodeBody[map[string][]tenant.Team](t, rec)
	if len(teams["teams"]) != 1 || teams["teams"][0].ID != team.ID {
		t.Fatalf("member team list %+v", teams)
	}

	rec = ta.do(t, http.MethodDelete, "/v1/teams/analytics/members/alice", admin, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("remove member: %d %s", rec.Code, rec.Body.String())
	}
}

func TestDeployFlowOverHTTP(t *testing.T) {
	ta := newTestAPI(t)
	admin := ta.token(t, "root", adminPassword)
	member := ta.token(t, "alice", memberPassword)

	rec := ta.do(t, http.MethodPost, "/v1/teams", admin, map[string]string{"name": "analytics"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create team: %d", rec.Code)
	}
	team := decodeBody[tenant.Team](t, rec)
	rec = ta.do(t, http.MethodPost, "/v1/teams/analytics/members", admin, map[string]string{"username": "alice"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("add member: %d", rec.Code)
	}

	deployBody := map[string]any{
		"team_id": team.ID,
		"table":   "events",
		"columns": []map[string]any{
			{"name": "id", "type": "bigserial", "primary_key": true},
			{"name": "payload", "type": "jsonb", "not_null": true},
		},
	}
	rec = ta.do(t, http.MethodPost, "/v1/tables", member, deployBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("deploy: %d %s", rec.Code, rec.Body.String())
	}
	res := decodeBody[deploy.Result](t, rec)
	if !res.Created || res.Table.TableName != "events" {
		t.Fatalf("deploy result %+v", res)
	}

	// Redeploying the same table is an update, not a conflict.
	rec = ta.do(t, http.MethodPost, "/v1/tables", member, deployBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("redeploy: %d %s", rec.Code, rec.Body.String())
	}

	rec = ta.do(t, http.MethodGet, "/v1/tables", member, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list tables: %d", rec.Code)
	}
	tables := decodeBody[map[string][]registry.TableRecord](t, rec)
	if len(tables["tables"]) != 1 {
		t.Fatalf("table list %+v", tables)
	}

	rec = ta.do(t, http.MethodGet, "/v1/tables/team_analytics/events/columns", member, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("columns: %d %s", rec.Code, rec.Body.String())
	}
	cols := decodeBody[map[string][]registry.ColumnRecord](t, rec)
	if len(cols["columns"]) != 2 {
		t.Fatalf("column list %+v", cols)
	}

	rec = ta.do(t, http.MethodGet, "/v1/report", member, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report: %d", rec.Code)
	}
	rep := decodeBody[report.Report](t, rec)
	if rep.Totals.Tables != 1 {
		t.Fatalf("report totals %+v", rep.Totals)
	}
	if rep.Totals.Users != 1 {
		t.Fatalf("report user total %d, want the member's own account", rep.Totals.Users)
	}

	rec = ta.do(t, http.MethodGet, "/v1/activity", member, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("activity: %d", rec.Code)
	}
}

func TestDeployDeniedOutsideScope(t *testing.T) {
	ta := newTestAPI(t)
	admin := ta.token(t, "root", adminPassword)
	member := ta.token(t, "alice", memberPassword)

	rec := ta.do(t, http.MethodPost, "/v1/teams", admin, map[string]string{"name": "billing"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create team: %d", rec.Code)
	}
	team := decodeBody[tenant.Team](t, rec)

	rec = ta.do(t, http.MethodPost, "/v1/tables", member, map[string]any{
		"team_id": team.ID,
		"table":   "invoices",
		"columns": []map[string]any{{"name": "id", "type": "bigserial", "primary_key": true}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("got %d, want 403", rec.Code)
	}
}

func TestDeployRejectsMaliciousIdentifier(t *testing.T) {
	ta := newTestAPI(t)
	admin := ta.token(t, "root", adminPassword)

	rec := ta.do(t, http.MethodPost, "/v1/teams", admin, map[string]string{"name": "analytics"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create team: %d", rec.Code)
	}
	team := decodeBody[tenant.Team](t, rec)

	rec = ta.do(t, http.MethodPost, "/v1/tables", admin, map[string]any{
		"team_id": team.ID,
		"table":   `events"; drop table meta.users; --`,
		"columns": []map[string]any{{"name": "id", "type": "bigserial", "primary_key": true}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}

func TestUserManagementIsAdminOnly(t *testing.T) {
	ta := newTestAPI(t)
	admin := ta.token(t, "root", adminPassword)
	member := ta.token(t, "alice", memberPassword)

	rec := ta.do(t, http.MethodGet, "/v1/users", member, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("member list users: got %d, want 403", rec.Code)
	}
	rec = ta.do(t, http.MethodPost, "/v1/users", member, map[string]any{
		"username": "eve", "password": "Sneaky-pass1!",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("member create user: got %d, want 403", rec.Code)
	}

	rec = ta.do(t, http.MethodPost, "/v1/users", admin, map[string]any{
		"username": "bob", "password": "B0b-secret!!", "email": "bob@example.com",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: %d %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[identity.User](t, rec)
	if created.Username != "bob" {
		t.Fatalf("created %+v", created)
	}
	if rec.Body.String() == "" || bytes.Contains(rec.Body.Bytes(), []byte("password_hash")) {
		t.Fatal("response leaked the password hash")
	}

	rec = ta.do(t, http.MethodDelete, "/v1/users/bob", admin, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("remove user: %d %s", rec.Code, rec.Body.String())
	}
}

func TestChangePasswordSelfOrAdmin(t *testing.T) {
	ta := newTestAPI(t)
	admin := ta.token(t, "root", adminPassword)
	member := ta.token(t, "alice", memberPassword)

	rec := ta.do(t, http.MethodPut, "/v1/users/root/password", member, map[string]string{
		"password": "Hij4cked-pass!",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("member rotating admin credential: got %d, want 403", rec.Code)
	}

	rec = ta.do(t, http.MethodPut, "/v1/users/alice/password", member, map[string]string{
		"password": "N3w-member-pass!",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("self rotation: %d %s", rec.Code, rec.Body.String())
	}

	rec = ta.do(t, http.MethodPut, "/v1/users/alice/password", admin, map[string]string{
		"password": "Adm1n-set-pass!",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("admin rotation: %d %s", rec.Code, rec.Body.String())
	}

	if ta.token(t, "alice", "Adm1n-set-pass!") == "" {
		t.Fatal("rotated credential does not authenticate")
	}
}

func TestWeakPasswordRejectedOverHTTP(t *testing.T) {
	ta := newTestAPI(t)
	admin := ta.token(t, "root", adminPassword)
	rec := ta.do(t, http.MethodPost, "/v1/users", admin, map[string]any{
		"username": "bob", "password": "short",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/v1/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ta := newTestAPI(t)
	token := ta.token(t, "root", adminPassword)
	rec := ta.do(t, http.MethodDelete, "/v1/tables", token, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("got %d, want 405", rec.Code)
	}
	if rec.Header().Get("Allow") == "" {
		t.Fatal("Allow header missing")
	}
}
