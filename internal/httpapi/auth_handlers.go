package httpapi

import (
	"net/http"
	"strings"

	"tallybook.org/internal/audit"
	"tallybook.org/internal/auth"
	"tallybook.org/internal/obs"
)

const refreshHeader = "X-Refresh-Token"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresInMs  int64  `json:"expires_in_ms"`
	Username     string `json:"username"`
}

type logoutResponse struct {
	RevokedAccess  bool `json:"revoked_access"`
	RevokedRefresh bool `json:"revoked_refresh"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

type checkRequest struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

func newTokenResponse(p auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "Bearer",
		ExpiresInMs:  p.ExpiresInMs,
		Username:     p.Username,
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
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "username and password are required")
		return
	}

	pair, err := a.tokens.Login(r.Context(), req.Username, req.Password)
	obs.ObserveTokenOp("login", auth.Kind(err))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{"username": pair.Username})
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		token = strings.TrimSpace(r.Header.Get(refreshHeader))
	}
	if token == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := a.tokens.Refresh(r.Context(), token)
	obs.ObserveTokenOp("refresh", auth.Kind(err))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.refresh", map[string]any{"username": pair.Username})
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

// handleLogout never fails: a missing or unusable token just reports false.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	access, _ := extractBearerToken(r.Header.Get(authHeader))
	refresh := strings.TrimSpace(req.RefreshToken)
	if refresh == "" {
		refresh = strings.TrimSpace(r.Header.Get(refreshHeader))
	}

	res := a.tokens.Logout(r.Context(), access, refresh)
	obs.ObserveTokenOp("logout", "ok")
	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{
		"revoked_access":  res.RevokedAccess,
		"revoked_refresh": res.RevokedRefresh,
	})
	writeJSON(w, http.StatusOK, logoutResponse{
		RevokedAccess:  res.RevokedAccess,
		RevokedRefresh: res.RevokedRefresh,
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	username, ok := auth.UsernameFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "authentication required")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.tokens.ChangePassword(r.Context(), username, req.CurrentPassword, req.NewPassword)
	obs.ObserveTokenOp("change_password", auth.Kind(err))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.changed", map[string]any{"username": username})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "password" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	username := parts[0]
	a.guard(auth.PermUserResetPassword, func(w http.ResponseWriter, r *http.Request) {
		a.resetPassword(w, r, username)
	}).ServeHTTP(w, r)
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request, username string) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.tokens.ResetPassword(r.Context(), username, req.NewPassword)
	obs.ObserveTokenOp("reset_password", auth.Kind(err))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.reset", map[string]any{"username": username})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username":    principal.Username,
		"role":        principal.Role,
		"permissions": permissionStrings(principal.Permissions.Sorted()),
	})
}

// handleAuthzCheck lets other services ask whether a bearer token grants a
// (resource, action) pair.
func (a *API) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		unauthorized(w, r, err.Error())
		return
	}
	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	requirement := auth.NewPermission(req.Resource, req.Action)
	if !requirement.Valid() {
		writeError(w, r, http.StatusBadRequest, "resource and action are required")
		return
	}
	principal, err := a.gateway.Authorize(r.Context(), token, requirement)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":  true,
		"username": principal.Username,
		"role":     principal.Role,
		"resource": requirement.Resource,
		"action":   requirement.Action,
	})
}

func permissionStrings(perms []auth.Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, p.String())
	}
	return out
}
