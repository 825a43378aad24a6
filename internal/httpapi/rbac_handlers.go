package httpapi

import (
	"net/http"
	"strings"

	"tallybook.org/internal/audit"
	"tallybook.org/internal/auth"
)

type updateRolePermissionsRequest struct {
	Permissions []auth.Permission `json:"permissions"`
}

type rolePermissionsResponse struct {
	Role        string            `json:"role"`
	Description string            `json:"description,omitempty"`
	Permissions []auth.Permission `json:"permissions"`
}

// handleRoleResource serves /v1/roles/{name}/permissions and its grant and
// revoke sub-resources.
func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	if a.roles == nil {
		writeError(w, r, http.StatusServiceUnavailable, "role administration unavailable")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] != "permissions" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	role := auth.CanonicalRoleName(parts[0])

	switch {
	case len(parts) == 2:
		switch r.Method {
		case http.MethodGet:
			a.guard(auth.PermRoleRead, func(w http.ResponseWriter, r *http.Request) {
				a.getRolePermissions(w, r, role)
			}).ServeHTTP(w, r)
		case http.MethodPut:
			a.guard(auth.PermRoleManage, func(w http.ResponseWriter, r *http.Request) {
				a.putRolePermissions(w, r, role)
			}).ServeHTTP(w, r)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
		}
	case len(parts) == 3 && (parts[2] == "grant" || parts[2] == "revoke"):
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		op := parts[2]
		a.guard(auth.PermRoleManage, func(w http.ResponseWriter, r *http.Request) {
			a.changeRolePermission(w, r, role, op)
		}).ServeHTTP(w, r)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getRolePermissions(w http.ResponseWriter, r *http.Request, role string) {
	res, err := a.roles.Role(r.Context(), role)
	if err != nil {
		a.handleRBACError(w, r, err)
		return
	}
	perms := res.Permissions
	if perms == nil {
		perms = []auth.Permission{}
	}
	writeJSON(w, http.StatusOK, rolePermissionsResponse{
		Role:        res.Name,
		Description: res.Description,
		Permissions: perms,
	})
}

func (a *API) putRolePermissions(w http.ResponseWriter, r *http.Request, role string) {
	var req updateRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.roles.SetRolePermissions(r.Context(), role, req.Permissions); err != nil {
		a.handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.permissions.update", map[string]any{
		"role":  role,
		"count": len(req.Permissions),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) changeRolePermission(w http.ResponseWriter, r *http.Request, role, op string) {
	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perm := auth.NewPermission(req.Resource, req.Action)

	var err error
	if op == "grant" {
		err = a.roles.Grant(r.Context(), role, perm)
	} else {
		err = a.roles.Revoke(r.Context(), role, perm)
	}
	if err != nil {
		a.handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.permission."+op, map[string]any{
		"role":       role,
		"permission": perm.String(),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRBACError(w http.ResponseWriter, r *http.Request, err error) {
	if auth.Kind(err) == "system_failure" {
		a.logger.ErrorContext(r.Context(), "role administration failed", "error", err)
	}
	writeAuthError(w, r, err)
}
