package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"authgate.org/internal/audit"
	"authgate.org/internal/auth"
	"authgate.org/internal/config"
	"authgate.org/internal/gateway"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type principalView struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	Role        string   `json:"role"`
	TenantID    string   `json:"tenant_id,omitempty"`
	Email       string   `json:"email,omitempty"`
	Permissions []string `json:"permissions"`
}

type sessionResponse struct {
	auth.TokenPair
	Principal principalView `json:"principal"`
}

type meResponse struct {
	principalView
	Routes []string `json:"routes"`
}

func viewOf(p auth.Principal) principalView {
	return principalView{
		ID:          p.ID,
		Kind:        string(p.Kind),
		Role:        p.Role,
		TenantID:    p.TenantID,
		Email:       p.Email,
		Permissions: p.PermissionList(),
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	pair, principal, err := a.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.record(r, audit.ActionLoginFailed, "", map[string]any{
			"email":  strings.ToLower(strings.TrimSpace(req.Email)),
			"reason": auth.Reason(err),
		})
		a.sessionError(w, r, err)
		return
	}
	a.record(r, audit.ActionLogin, principal.ID, nil)
	writeJSON(w, http.StatusOK, sessionResponse{TokenPair: pair, Principal: viewOf(principal)})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, principal, err := a.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.record(r, audit.ActionRefresh, "", map[string]any{"reason": auth.Reason(err), "allowed": false})
		a.sessionError(w, r, err)
		return
	}
	a.record(r, audit.ActionRefresh, principal.ID, map[string]any{"allowed": true})
	writeJSON(w, http.StatusOK, sessionResponse{TokenPair: pair, Principal: viewOf(principal)})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.sessions.Logout(r.Context(), req.RefreshToken); err != nil {
		a.sessionError(w, r, err)
		return
	}
	a.record(r, audit.ActionLogout, "", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.userPrincipal(w, r)
	if !ok {
		return
	}
	n, err := a.sessions.RevokeAll(r.Context(), principal.ID)
	if err != nil {
		a.sessionError(w, r, err)
		return
	}
	a.record(r, audit.ActionLogoutAll, principal.ID, map[string]any{"revoked": n})
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.userPrincipal(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.sessions.ChangePassword(r.Context(), principal.ID, req.CurrentPassword, req.NewPassword); err != nil {
		a.sessionError(w, r, err)
		return
	}
	a.record(r, audit.ActionPasswordChanged, principal.ID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		principalView: viewOf(principal),
		Routes:        a.perms.AccessibleRoutes(principal),
	})
}

func (a *API) handleNavigation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	sections := a.perms.NavigationFor(principal)
	if sections == nil {
		sections = []config.NavSection{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sections": sections})
}

// Session endpoints act on user accounts; service principals are refused.
func (a *API) userPrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return auth.Principal{}, false
	}
	if principal.Kind != auth.KindUser {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return auth.Principal{}, false
	}
	return principal, true
}

// sessionError maps session failures. A store failure is rejected like any
// other credential failure.
func (a *API) sessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case auth.IsAuthenticationFailure(err):
		w.Header().Set("WWW-Authenticate", `Bearer realm="authgate"`)
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) record(r *http.Request, action, actorID string, meta map[string]any) {
	a.recordEntity(r, action, actorID, "session", actorID, meta)
}

func (a *API) recordEntity(r *http.Request, action, actorID, entityType, entityID string, meta map[string]any) {
	a.audit.Emit(r.Context(), audit.Event{
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   meta,
		IPAddress:  gateway.ClientIP(r, a.cfg.TrustProxy),
		UserAgent:  r.UserAgent(),
	})
}
