package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/mskhalsa/EZPostgres-service/internal/tablespec"
)

type deployRequest struct {
	TeamID  string             `json:"team_id"`
	Table   string             `json:"table"`
	Columns []tablespec.Column `json:"columns"`
}

func (a *API) handleTables(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listTables(w, r)
	case http.MethodPost:
		a.deployTable(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listTables(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	tables, err := a.svc.Tables.ListTables(r.Context(), caller)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (a *API) deployTable(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req deployRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.TeamID = strings.TrimSpace(req.TeamID)
	if req.TeamID == "" {
		writeError(w, r, http.StatusBadRequest, "team_id is required")
		return
	}
	spec := tablespec.TableSpec{Table: req.Table, Columns: req.Columns}
	res, err := a.svc.Deployer.Deploy(r.Context(), caller, req.TeamID, spec)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	code := http.StatusOK
	if res.Created {
		code = http.StatusCreated
	}
	writeJSON(w, code, res)
}

// handleTableScoped routes /v1/tables/{schema}/{table}/columns.
func (a *API) handleTableScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/tables/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 3 || parts[2] != "columns" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	cols, err := a.svc.Tables.ListColumns(r.Context(), caller, parts[0], parts[1])
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"columns": cols})
}

func (a *API) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	viewer, err := a.svc.Directory.FindByUsername(r.Context(), caller)
	if err != nil || viewer.Disabled {
		writeError(w, r, http.StatusForbidden, "access denied")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	entries, err := a.svc.Activity.ListActivity(r.Context(), viewer.ID, viewer.IsAdmin, limit)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": entries})
}

func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	rep, err := a.svc.Reports.Usage(r.Context(), caller)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
