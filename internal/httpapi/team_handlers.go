package httpapi

import (
	"fmt"
	"net/http"
	"strings"
)

type createTeamRequest struct {
	Name string `json:"name"`
}

type memberRequest struct {
	Username string `json:"username"`
}

func (a *API) handleTeams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listTeams(w, r)
	case http.MethodPost:
		a.createTeam(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listTeams(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	teams, err := a.svc.Teams.ListTeams(r.Context(), caller)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
}

func (a *API) createTeam(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req createTeamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	team, err := a.svc.Teams.CreateTeam(r.Context(), caller, req.Name)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/teams/%s", team.ID))
	writeJSON(w, http.StatusCreated, team)
}

// handleTeamScoped routes /v1/teams/{name}/members and
// /v1/teams/{name}/members/{username}.
func (a *API) handleTeamScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/teams/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[1] != "members" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	teamName := parts[0]
	switch {
	case len(parts) == 2:
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.addMember(w, r, teamName)
	case len(parts) == 3:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		a.removeMember(w, r, teamName, parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) addMember(w http.ResponseWriter, r *http.Request, teamName string) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req memberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.Teams.AddUserToTeam(r.Context(), caller, req.Username, teamName); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) removeMember(w http.ResponseWriter, r *http.Request, teamName, username string) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	if err := a.svc.Teams.RemoveUserFromTeam(r.Context(), caller, username, teamName); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
