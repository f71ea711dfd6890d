package httpapi

import (
	"net/http"
	"time"

	"orgmesh.org/internal/identity"
)

type userResponse struct {
	ID                 string     `json:"id"`
	OrganizationID     string     `json:"organization_id"`
	SubOrganizationID  string     `json:"sub_organization_id,omitempty"`
	Email              string     `json:"email"`
	Status             string     `json:"status"`
	MustChangePassword bool       `json:"must_change_password"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func userPayload(u *identity.User) userResponse {
	return userResponse{
		ID:                 u.ID,
		OrganizationID:     u.OrganizationID,
		SubOrganizationID:  u.SubOrganizationID,
		Email:              u.Email,
		Status:             string(u.Status),
		MustChangePassword: u.MustChangePassword,
		LastLoginAt:        u.LastLoginAt,
		CreatedAt:          u.CreatedAt,
	}
}

type createUserRequest struct {
	OrganizationID     string `json:"organization_id"`
	SubOrganizationID  string `json:"sub_organization_id"`
	Email              string `json:"email"`
	Password           string `json:"password"`
	MustChangePassword bool   `json:"must_change_password"`
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, identity.PermUsersCreate) {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.identity.CreateUser(r.Context(), req.OrganizationID, req.SubOrganizationID, req.Email, req.Password, req.MustChangePassword)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userPayload(user))
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, identity.PermUsersView) {
		return
	}
	perms, err := a.identity.EffectivePermissions(r.Context(), r.PathValue("id"))
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

type userStatusRequest struct {
	Status string `json:"status"`
}

func (a *API) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, identity.PermUsersManage) {
		return
	}
	var req userStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.identity.ChangeUserStatus(r.Context(), r.PathValue("id"), identity.UserStatus(req.Status)); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserUnlock(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, identity.PermUsersManage) {
		return
	}
	if err := a.identity.UnlockUser(r.Context(), r.PathValue("id")); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignRolesRequest struct {
	RoleIDs []string `json:"role_ids"`
}

func (a *API) handleAssignRoles(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, identity.PermUsersAssignRoles) {
		return
	}
	var req assignRolesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.identity.AssignRoles(r.Context(), r.PathValue("id"), req.RoleIDs); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRevokeSessions(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, identity.PermUsersManage) {
		return
	}
	if err := a.identity.RevokeAllSessions(r.Context(), r.PathValue("id"), "revoked by administrator"); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type roleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type roleResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsSystem    bool   `json:"is_system"`
	IsActive    bool   `json:"is_active"`
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, identity.PermRolesCreate) {
		return
	}
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	role, err := a.identity.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, roleResponse{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		IsSystem:    role.IsSystem,
		IsActive:    role.IsActive,
	})
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, identity.PermRolesUpdate) {
		return
	}
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.identity.UpdateRole(r.Context(), r.PathValue("id"), req.Name, req.Description); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDeactivateRole(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, identity.PermRolesDelete) {
		return
	}
	if err := a.identity.DeactivateRole(r.Context(), r.PathValue("id")); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rolePermissionsRequest struct {
	Codes []string `json:"codes"`
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, identity.PermRolesManage) {
		return
	}
	var req rolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.identity.SetRolePermissions(r.Context(), r.PathValue("id"), req.Codes); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
