package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/mskhalsa/EZPostgres-service/internal/identity"
)

type fakeDirectory map[string]identity.User

func (f fakeDirectory) FindByUsername(_ context.Context, username string) (identity.User, error) {
	u, ok := f[username]
	if !ok {
		return identity.User{}, identity.ErrUnknownUser
	}
	return u, nil
}

type fakeMembers map[string][]string

func (f fakeMembers) TeamIDsForUser(_ context.Context, userID string) ([]string, error) {
	return f[userID], nil
}

func testPolicy() *Policy {
	users := fakeDirectory{
		"root":  {ID: "u-root", Username: "root", IsAdmin: true},
		"alice": {ID: "u-alice", Username: "alice"},
		"mallo": {ID: "u-mallo", Username: "mallo", Disabled: true},
	}
	members := fakeMembers{
		"u-alice": {"t-analytics", "t-billing"},
	}
	return NewPolicy(users, members)
}

func TestScopeAllows(t *testing.T) {
	s := ScopeOf([]string{"t-1", "t-2"})
	if !s.Allows("t-1") || !s.Allows("t-2") {
		t.Fatal("scope denies its own teams")
	}
	if s.Allows("t-3") {
		t.Fatal("scope allows a foreign team")
	}
	if s.IsAdmin() {
		t.Fatal("explicit scope reports admin")
	}
}

func TestZeroScopeAllowsNothing(t *testing.T) {
	var s TeamScope
	if s.Allows("t-1") || s.IsAdmin() {
		t.Fatal("zero scope grants access")
	}
}

func TestAdminScopeAllowsEverything(t *testing.T) {
	s := AllTeams()
	if !s.Allows("t-anything") || !s.IsAdmin() {
		t.Fatal("admin sentinel does not allow")
	}
	if s.TeamIDs() != nil {
		t.Fatal("admin sentinel materialized team ids")
	}
}

func TestResolveCallerAdmin(t *testing.T) {
	user, scope, err := testPolicy().ResolveCaller(context.Background(), "root")
	if err != nil {
		t.Fatalf("ResolveCaller: %v", err)
	}
	if user.ID != "u-root" || !scope.IsAdmin() {
		t.Fatalf("unexpected resolution: %+v admin=%t", user, scope.IsAdmin())
	}
}

func TestResolveCallerMember(t *testing.T) {
	user, scope, err := testPolicy().ResolveCaller(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ResolveCaller: %v", err)
	}
	if user.ID != "u-alice" || scope.IsAdmin() {
		t.Fatalf("unexpected resolution: %+v", user)
	}
	got := scope.TeamIDs()
	if len(got) != 2 || got[0] != "t-analytics" || got[1] != "t-billing" {
		t.Fatalf("TeamIDs = %v", got)
	}
}

func TestResolveCallerUnknownAndDisabled(t *testing.T) {
	for _, username := range []string{"nobody", "mallo"} {
		_, _, err := testPolicy().ResolveCaller(context.Background(), username)
		if !errors.Is(err, ErrUnauthorized) {
			t.Errorf("caller %q: got %v, want ErrUnauthorized", username, err)
		}
	}
}

func TestAuthorizeHidesExistence(t *testing.T) {
	p := testPolicy()
	// A member denied on a team they are not in gets the same error whether
	// or not the team exists.
	errReal := p.Authorize(context.Background(), "alice", "t-secret")
	errFake := p.Authorize(context.Background(), "alice", "t-does-not-exist")
	if !errors.Is(errReal, ErrUnauthorized) || !errors.Is(errFake, ErrUnauthorized) {
		t.Fatalf("got %v / %v, want ErrUnauthorized for both", errReal, errFake)
	}
	if errReal.Error() != errFake.Error() {
		t.Fatalf("denials differ: %q vs %q", errReal, errFake)
	}
}

func TestSchemaNameFor(t *testing.T) {
	cases := map[string]string{
		"Analytics":    "team_analytics",
		"Data Science": "team_data_science",
		"infra-core":   "team_infra_core",
	}
	for name, want := range cases {
		if got := SchemaNameFor(name); got != want {
			t.Errorf("SchemaNameFor(%q) = %q, want %q", name, got, want)
		}
	}
}
