package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/mskhalsa/EZPostgres-service/internal/deploy"
	"github.com/mskhalsa/EZPostgres-service/internal/guard"
	"github.com/mskhalsa/EZPostgres-service/internal/identity"
	"github.com/mskhalsa/EZPostgres-service/internal/registry"
	"github.com/mskhalsa/EZPostgres-service/internal/tablespec"
	"github.com/mskhalsa/EZPostgres-service/internal/tenant"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError maps service errors to HTTP responses. Authorization
// failures map to 403 without distinguishing missing from forbidden
// resources.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tablespec.ErrInvalidIdentifier),
		errors.Is(err, tablespec.ErrInvalidDefinition),
		errors.Is(err, identity.ErrInvalidInput),
		errors.Is(err, identity.ErrWeakCredential),
		errors.Is(err, tenant.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrBadCredentials):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, guard.ErrRateLimited):
		w.Header().Set("Retry-After", "300")
		writeError(w, r, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, tenant.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, identity.ErrUnknownUser),
		errors.Is(err, tenant.ErrUnknownTeam),
		errors.Is(err, registry.ErrUnknownTable):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, identity.ErrConflict),
		errors.Is(err, tenant.ErrConflict),
		errors.Is(err, deploy.ErrDeploymentConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, deploy.ErrTimeout):
		writeError(w, r, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "operation failed")
	}
}
