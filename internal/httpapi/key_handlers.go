package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"authgate.org/internal/audit"
	"authgate.org/internal/auth"
)

type issueKeyRequest struct {
	Role      string `json:"role"`
	Label     string `json:"label"`
	OwnerID   string `json:"owner_id"`
	ExpiresIn string `json:"expires_in"`
}

type issuedKey struct {
	ID        string     `json:"id"`
	Key       string     `json:"key"`
	Prefix    string     `json:"prefix"`
	Role      string     `json:"role"`
	Label     string     `json:"label,omitempty"`
	OwnerID   string     `json:"owner_id"`
	TenantID  string     `json:"tenant_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// handleIssueKey mints an API key in the caller's tenant. The raw key is
// returned once and never stored.
func (a *API) handleIssueKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req issueKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Role = strings.TrimSpace(req.Role)
	if req.Role == "" {
		writeError(w, r, http.StatusBadRequest, "role is required")
		return
	}
	if !a.perms.CanDelegate(principal, req.Role) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			writeError(w, r, http.StatusBadRequest, "expires_in must be a positive duration")
			return
		}
		at := time.Now().UTC().Add(d)
		expiresAt = &at
	}
	owner := strings.TrimSpace(req.OwnerID)
	if owner == "" {
		owner = principal.ID
	}

	raw, key, err := a.sessions.IssueAPIKey(r.Context(), auth.APIKeyRequest{
		OwnerID:   owner,
		Role:      req.Role,
		TenantID:  principal.TenantID,
		Label:     req.Label,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		a.keyError(w, r, err)
		return
	}
	a.recordEntity(r, audit.ActionAPIKeyIssued, principal.ID, "api_key", key.ID, map[string]any{
		"role":   key.Role,
		"prefix": key.KeyPrefix,
		"owner":  key.OwnerID,
	})
	writeJSON(w, http.StatusCreated, issuedKey{
		ID:        key.ID,
		Key:       raw,
		Prefix:    key.KeyPrefix,
		Role:      key.Role,
		Label:     key.Label,
		OwnerID:   key.OwnerID,
		TenantID:  key.TenantID,
		ExpiresAt: key.ExpiresAt,
	})
}

func (a *API) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	id := r.PathValue("id")
	if err := a.sessions.RevokeAPIKey(r.Context(), id); err != nil {
		a.keyError(w, r, err)
		return
	}
	a.recordEntity(r, audit.ActionAPIKeyRevoked, principal.ID, "api_key", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) keyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "api key not found")
	case errors.Is(err, auth.ErrBackingStoreUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
