package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/mskhalsa/EZPostgres-service/internal/audit"
	"github.com/mskhalsa/EZPostgres-service/internal/deploy"
	"github.com/mskhalsa/EZPostgres-service/internal/identity"
	"github.com/mskhalsa/EZPostgres-service/internal/obs"
	"github.com/mskhalsa/EZPostgres-service/internal/registry"
	"github.com/mskhalsa/EZPostgres-service/internal/report"
	"github.com/mskhalsa/EZPostgres-service/internal/tenant"
)

// ReadyProbe checks readiness, typically a database ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Directory resolves usernames to user records, for viewer checks.
type Directory interface {
	FindByUsername(ctx context.Context, username string) (identity.User, error)
}

// Services bundles the domain services behind the API.
type Services struct {
	Users         *identity.Service
	Authenticator *identity.Authenticator
	Directory     Directory
	Teams         *tenant.Service
	Tables        *registry.Service
	Deployer      *deploy.Orchestrator
	Activity      *audit.Service
	Reports       *report.Service
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	svc        Services
	readyProbe ReadyProbe
	version    string
}

func New(svc Services, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		readyProbe: rp,
		version:    version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/v1/teams", a.handleTeams)
	a.mux.HandleFunc("/v1/teams/", a.handleTeamScoped)
	a.mux.HandleFunc("/v1/users", a.handleUsers)
	a.mux.HandleFunc("/v1/users/", a.handleUserScoped)
	a.mux.HandleFunc("/v1/tables", a.handleTables)
	a.mux.HandleFunc("/v1/tables/", a.handleTableScoped)
	a.mux.HandleFunc("/v1/activity", a.handleActivity)
	a.mux.HandleFunc("/v1/report", a.handleReport)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the composed http.Handler.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "ezpostgres-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "ezpostgres-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
