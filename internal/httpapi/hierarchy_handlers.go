package httpapi

import (
	"net/http"
	"time"

	"orgmesh.org/internal/hierarchy"
	"orgmesh.org/internal/identity"
)

type subOrgResponse struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	ParentID       string    `json:"parent_id,omitempty"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Code           string    `json:"code,omitempty"`
	Status         string    `json:"status"`
	Path           string    `json:"path"`
	Level          int       `json:"level"`
	CreatedAt      time.Time `json:"created_at"`
}

func subOrgPayload(n *hierarchy.SubOrganization) subOrgResponse {
	return subOrgResponse{
		ID:             n.ID,
		OrganizationID: n.OrganizationID,
		ParentID:       n.ParentID,
		Name:           n.Name,
		Description:    n.Description,
		Code:           n.Code,
		Status:         string(n.Status),
		Path:           n.Path,
		Level:          n.Level,
		CreatedAt:      n.CreatedAt,
	}
}

type createSubOrgRequest struct {
	OrganizationID string `json:"organization_id"`
	ParentID       string `json:"parent_id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Code           string `json:"code"`
}

func (a *API) handleCreateSubOrg(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, identity.PermSubOrgsCreate) {
		return
	}
	var req createSubOrgRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	name, err := requiredField(req.Name, "name")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	orgID, err := requiredField(req.OrganizationID, "organization_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	node, err := a.tree.CreateNode(r.Context(), name, orgID, req.ParentID, req.Description, req.Code)
	if err != nil {
		handleHierarchyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, subOrgPayload(node))
}

func (a *API) handleGetSubOrg(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, identity.PermSubOrgsView) {
		return
	}
	node, err := a.tree.Node(r.Context(), r.PathValue("id"))
	if err != nil {
		handleHierarchyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subOrgPayload(node))
}

func (a *API) handleDescendants(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, identity.PermSubOrgsView) {
		return
	}
	nodes, err := a.tree.Descendants(r.Context(), r.PathValue("id"))
	if err != nil {
		handleHierarchyError(w, r, err)
		return
	}
	items := make([]subOrgResponse, 0, len(nodes))
	for _, n := range nodes {
		items = append(items, subOrgPayload(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type reparentRequest struct {
	NewParentID string `json:"new_parent_id"`
}

func (a *API) handleReparent(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, identity.PermSubOrgsManage) {
		return
	}
	var req reparentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.tree.Reparent(r.Context(), r.PathValue("id"), req.NewParentID); err != nil {
		handleHierarchyError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleActivateSubOrg(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, identity.PermSubOrgsUpdate) {
		return
	}
	if err := a.tree.Activate(r.Context(), r.PathValue("id")); err != nil {
		handleHierarchyError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDeactivateSubOrg(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, identity.PermSubOrgsUpdate) {
		return
	}
	if err := a.tree.Deactivate(r.Context(), r.PathValue("id")); err != nil {
		handleHierarchyError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
