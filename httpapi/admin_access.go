package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/auth9/auth9core/authz"
	"github.com/auth9/auth9core/core"
)

// --- Services ---

func (h *adminHandlers) ListServices(w http.ResponseWriter, r *http.Request) {
	limit, cursor := paginationParams(r)
	var tenantID *string
	if v := r.URL.Query().Get("tenant_id"); v != "" {
		tenantID = &v
	}
	services, next, err := h.store.Services().List(r.Context(), tenantID, limit, cursor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"services": services, "next_cursor": next})
}

type createServiceRequest struct {
	TenantID     *string  `json:"tenant_id"`
	Name         string   `json:"name" validate:"required"`
	BaseURL      *string  `json:"base_url" validate:"omitempty,url"`
	RedirectURIs []string `json:"redirect_uris" validate:"dive,url"`
	LogoutURIs   []string `json:"logout_uris" validate:"dive,url"`
}

func (h *adminHandlers) CreateService(w http.ResponseWriter, r *http.Request) {
	var req createServiceRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	svc := &core.Service{
		ID:           uuid.New().String(),
		TenantID:     req.TenantID,
		Name:         req.Name,
		BaseURL:      req.BaseURL,
		RedirectURIs: req.RedirectURIs,
		LogoutURIs:   req.LogoutURIs,
		Status:       "active",
		CreatedAt:    h.clock.Now(),
	}
	if err := h.store.Services().Create(r.Context(), svc); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, svc)
}

func (h *adminHandlers) GetService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.store.Services().GetByID(r.Context(), r.PathValue("service_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "service not found")
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (h *adminHandlers) UpdateService(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         *string  `json:"name"`
		BaseURL      *string  `json:"base_url"`
		RedirectURIs []string `json:"redirect_uris"`
		LogoutURIs   []string `json:"logout_uris"`
		Status       *string  `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	svc, err := h.store.Services().GetByID(r.Context(), r.PathValue("service_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "service not found")
		return
	}
	if req.Name != nil {
		svc.Name = *req.Name
	}
	if req.BaseURL != nil {
		svc.BaseURL = req.BaseURL
	}
	if req.RedirectURIs != nil {
		svc.RedirectURIs = req.RedirectURIs
	}
	if req.LogoutURIs != nil {
		svc.LogoutURIs = req.LogoutURIs
	}
	if req.Status != nil {
		svc.Status = *req.Status
	}
	if err := h.store.Services().Update(r.Context(), svc); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (h *adminHandlers) DeleteService(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Services().Delete(r.Context(), r.PathValue("service_id")); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Clients ---

func (h *adminHandlers) ListClients(w http.ResponseWriter, r *http.Request) {
	limit, cursor := paginationParams(r)
	clients, next, err := h.store.Clients().List(r.Context(), r.PathValue("service_id"), limit, cursor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"clients": clients, "next_cursor": next})
}

// CreateClient mints a new OAuth client_id/secret pair. The secret is
// returned once, unhashed, in the response — it is never persisted or
// retrievable again, mirroring spec.md §7's treatment of Client.secret_hash.
func (h *adminHandlers) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name *string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	clientID := uuid.New().String()
	secret := uuid.New().String() + uuid.New().String()
	hash, err := h.secretHasher.Hash(secret)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "failed to hash client secret")
		return
	}

	client := &core.Client{
		ID:         uuid.New().String(),
		ServiceID:  r.PathValue("service_id"),
		ClientID:   clientID,
		SecretHash: hash,
		Name:       req.Name,
		CreatedAt:  h.clock.Now(),
	}
	if err := h.store.Clients().Create(r.Context(), client); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"client":        client,
		"client_secret": secret,
	})
}

func (h *adminHandlers) GetClient(w http.ResponseWriter, r *http.Request) {
	client, err := h.store.Clients().GetByID(r.Context(), r.PathValue("client_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "client not found")
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (h *adminHandlers) DeleteClient(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clients().Delete(r.Context(), r.PathValue("client_id")); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Permissions ---

func (h *adminHandlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.store.Permissions().List(r.Context(), r.PathValue("service_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"permissions": perms})
}

type createPermissionRequest struct {
	Code        string  `json:"code" validate:"required"`
	Name        string  `json:"name" validate:"required"`
	Description *string `json:"description"`
}

func (h *adminHandlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	p := &core.Permission{
		ID:          uuid.New().String(),
		ServiceID:   r.PathValue("service_id"),
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
	}
	if err := h.store.Permissions().Create(r.Context(), p); err != nil {
		writeError(w, http.StatusConflict, "conflict", "permission code already exists for this service")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *adminHandlers) DeletePermission(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Permissions().Delete(r.Context(), r.PathValue("permission_id")); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Roles ---

func (h *adminHandlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.Roles().List(r.Context(), r.PathValue("service_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"roles": roles})
}

type createRoleRequest struct {
	Name         string  `json:"name" validate:"required"`
	Description  *string `json:"description"`
	ParentRoleID *string `json:"parent_role_id"`
}

func (h *adminHandlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	role := &core.Role{
		ID:           uuid.New().String(),
		ServiceID:    r.PathValue("service_id"),
		Name:         req.Name,
		Description:  req.Description,
		ParentRoleID: req.ParentRoleID,
		CreatedAt:    h.clock.Now(),
	}
	if err := h.store.Roles().Create(r.Context(), role); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

func (h *adminHandlers) GetRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.store.Roles().GetByID(r.Context(), r.PathValue("role_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "role not found")
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// UpdateRole reassigns a role's parent after validating that doing so would
// not introduce a cycle (authz.ValidateNoCycle, spec.md §9).
func (h *adminHandlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         *string `json:"name"`
		Description  *string `json:"description"`
		ParentRoleID *string `json:"parent_role_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	role, err := h.store.Roles().GetByID(r.Context(), r.PathValue("role_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "role not found")
		return
	}
	if req.ParentRoleID != nil {
		if err := authz.ValidateNoCycle(r.Context(), h.store.Roles(), role.ID, *req.ParentRoleID); err != nil {
			writeError(w, http.StatusConflict, "conflict", err.Error())
			return
		}
		role.ParentRoleID = req.ParentRoleID
	}
	if req.Name != nil {
		role.Name = *req.Name
	}
	if req.Description != nil {
		role.Description = req.Description
	}
	if err := h.store.Roles().Update(r.Context(), role); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (h *adminHandlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Roles().Delete(r.Context(), r.PathValue("role_id")); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Role <-> Permission attachment ---

func (h *adminHandlers) ListRolePermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.store.RolePermissions().PermissionsForRole(r.Context(), r.PathValue("role_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"permissions": perms})
}

func (h *adminHandlers) AttachRolePermission(w http.ResponseWriter, r *http.Request) {
	if err := h.store.RolePermissions().Attach(r.Context(), r.PathValue("role_id"), r.PathValue("permission_id")); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *adminHandlers) DetachRolePermission(w http.ResponseWriter, r *http.Request) {
	if err := h.store.RolePermissions().Detach(r.Context(), r.PathValue("role_id"), r.PathValue("permission_id")); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- User <-> Tenant role grants ---

func (h *adminHandlers) ListUserTenantRoles(w http.ResponseWriter, r *http.Request) {
	tu, err := h.store.TenantUsers().Get(r.Context(), r.PathValue("user_id"), r.PathValue("tenant_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "tenant membership not found")
		return
	}
	roles, err := h.store.UserTenantRoles().ListForTenantUser(r.Context(), tu.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"roles": roles})
}

type grantUserTenantRoleRequest struct {
	RoleID    string  `json:"role_id" validate:"required"`
	GrantedBy *string `json:"granted_by"`
}

func (h *adminHandlers) GrantUserTenantRole(w http.ResponseWriter, r *http.Request) {
	var req grantUserTenantRoleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	tu, err := h.store.TenantUsers().Get(r.Context(), r.PathValue("user_id"), r.PathValue("tenant_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "tenant membership not found")
		return
	}
	grant := &core.UserTenantRole{
		ID:           uuid.New().String(),
		TenantUserID: tu.ID,
		RoleID:       req.RoleID,
		GrantedBy:    req.GrantedBy,
		GrantedAt:    h.clock.Now(),
	}
	if err := h.store.UserTenantRoles().Grant(r.Context(), grant); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, grant)
}

func (h *adminHandlers) RevokeUserTenantRole(w http.ResponseWriter, r *http.Request) {
	if err := h.store.UserTenantRoles().Revoke(r.Context(), r.PathValue("grant_id")); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- ABAC policy sets ---

func (h *adminHandlers) GetAbacPolicySet(w http.ResponseWriter, r *http.Request) {
	set, err := h.store.AbacPolicySets().GetByTenant(r.Context(), r.PathValue("tenant_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "no ABAC policy set for this tenant")
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (h *adminHandlers) UpsertAbacPolicySet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode               string  `json:"mode"`
		PublishedVersionID *string `json:"published_version_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	set := &core.AbacPolicySet{
		TenantID:           r.PathValue("tenant_id"),
		Mode:               req.Mode,
		PublishedVersionID: req.PublishedVersionID,
	}
	if err := h.store.AbacPolicySets().Upsert(r.Context(), set); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (h *adminHandlers) ListAbacPolicyVersions(w http.ResponseWriter, r *http.Request) {
	set, err := h.store.AbacPolicySets().GetByTenant(r.Context(), r.PathValue("tenant_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "no ABAC policy set for this tenant")
		return
	}
	versions, err := h.store.AbacPolicySets().ListVersions(r.Context(), set.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"versions": versions})
}

func (h *adminHandlers) CreateAbacPolicyVersion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Document core.AbacDocument `json:"document"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	set, err := h.store.AbacPolicySets().GetByTenant(r.Context(), r.PathValue("tenant_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "no ABAC policy set for this tenant")
		return
	}
	existing, err := h.store.AbacPolicySets().ListVersions(r.Context(), set.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	body, err := json.Marshal(req.Document)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "failed to encode policy document")
		return
	}
	version := &core.AbacPolicySetVersion{
		ID:          uuid.New().String(),
		PolicySetID: set.ID,
		VersionNo:   len(existing) + 1,
		PolicyJSON:  body,
		CreatedAt:   h.clock.Now(),
	}
	if err := h.store.AbacPolicySets().CreateVersion(r.Context(), version); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, version)
}
