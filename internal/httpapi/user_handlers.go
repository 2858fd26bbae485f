package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/mskhalsa/EZPostgres-service/internal/identity"
)

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"is_admin"`
}

type changePasswordRequest struct {
	Password string `json:"password"`
}

// requireAdmin resolves the caller and rejects non-admins. User management
// is admin-only.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) (identity.User, bool) {
	caller, ok := a.caller(w, r)
	if !ok {
		return identity.User{}, false
	}
	user, err := a.svc.Directory.FindByUsername(r.Context(), caller)
	if err != nil || user.Disabled || !user.IsAdmin {
		writeError(w, r, http.StatusForbidden, "admin access required")
		return identity.User{}, false
	}
	return user, true
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listUsers(w, r)
	case http.MethodPost:
		a.createUser(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	users, err := a.svc.Users.ListUsers(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireAdmin(w, r)
	if !ok {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.Users.CreateUser(r.Context(), actor.ID, req.Username, req.Password, req.IsAdmin, req.Email)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.Username))
	writeJSON(w, http.StatusCreated, user)
}

// handleUserScoped routes /v1/users/{username} and
// /v1/users/{username}/password.
func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		a.removeUser(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "password":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.changePassword(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) removeUser(w http.ResponseWriter, r *http.Request, username string) {
	actor, ok := a.requireAdmin(w, r)
	if !ok {
		return
	}
	if err := a.svc.Users.RemoveUser(r.Context(), actor.ID, username); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request, username string) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	actor, err := a.svc.Directory.FindByUsername(r.Context(), caller)
	if err != nil || actor.Disabled {
		writeError(w, r, http.StatusForbidden, "access denied")
		return
	}
	// Users rotate their own credential; admins rotate anyone's.
	if !actor.IsAdmin && actor.Username != username {
		writeError(w, r, http.StatusForbidden, "access denied")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.Users.ChangePassword(r.Context(), actor.ID, username, req.Password); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
