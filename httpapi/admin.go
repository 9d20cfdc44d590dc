package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/auth9/auth9core/core"
)

// secretHasher is the narrow slice of crypto.PasswordHasher that the admin
// surface needs to mint client secrets without importing the crypto package
// directly into every handler file.
type secretHasher interface {
	Hash(secret string) (string, error)
}

// adminHandlers serves the platform/tenant CRUD surface of spec.md §6.
// Mirrors the teacher's AdminHandlers shape (store + keyManager + auditSink +
// clock collaborators, one method per resource/verb), generalized from a
// single-tenant-per-request model to the full spec.md §3 entity set.
type adminHandlers struct {
	store        core.Store
	keyManager   core.KeyManager
	auditSink    core.AuditSink
	clock        core.Clock
	invitations  core.InvitationService
	secretHasher secretHasher
}

func newAdminHandlers(store core.Store, keyManager core.KeyManager, auditSink core.AuditSink, clock core.Clock, invitations core.InvitationService, secretHasher secretHasher) *adminHandlers {
	return &adminHandlers{
		store:        store,
		keyManager:   keyManager,
		auditSink:    auditSink,
		clock:        clock,
		invitations:  invitations,
		secretHasher: secretHasher,
	}
}

func (h *adminHandlers) audit(r *http.Request, tenantID, eventType string, data map[string]interface{}) {
	if h.auditSink == nil {
		return
	}
	h.auditSink.Log(r.Context(), &core.AuditEvent{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		ActorType: "admin",
		Type:      eventType,
		CreatedAt: h.clock.Now(),
		Data:      data,
	})
}

func (h *adminHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   h.clock.Now(),
	})
}

// --- Tenants ---

func (h *adminHandlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	limit, cursor := paginationParams(r)
	tenants, next, err := h.store.Tenants().List(r.Context(), limit, cursor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tenants": tenants, "next_cursor": next})
}

type createTenantRequest struct {
	Slug     string              `json:"slug" validate:"required,alphanum|contains=-"`
	Name     string              `json:"name" validate:"required"`
	Settings core.TenantSettings `json:"settings"`
}

func (h *adminHandlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	now := h.clock.Now()
	tenant := &core.Tenant{
		ID:        uuid.New().String(),
		Slug:      req.Slug,
		Name:      req.Name,
		Status:    "active",
		Settings:  req.Settings,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.Tenants().Create(r.Context(), tenant); err != nil {
		writeError(w, http.StatusConflict, "conflict", "tenant slug already exists")
		return
	}

	if h.keyManager != nil {
		if _, err := h.keyManager.GenerateKey(r.Context(), tenant.ID, "RS256"); err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", "tenant created but signing key provisioning failed: "+err.Error())
			return
		}
	}

	h.audit(r, tenant.ID, "tenant_created", map[string]interface{}{"slug": tenant.Slug})
	writeJSON(w, http.StatusCreated, tenant)
}

func (h *adminHandlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.store.Tenants().GetByID(r.Context(), r.PathValue("tenant_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

func (h *adminHandlers) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     *string              `json:"name"`
		Status   *string              `json:"status"`
		Settings *core.TenantSettings `json:"settings"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	tenant, err := h.store.Tenants().GetByID(r.Context(), r.PathValue("tenant_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "tenant not found")
		return
	}
	if req.Name != nil {
		tenant.Name = *req.Name
	}
	if req.Status != nil {
		tenant.Status = *req.Status
	}
	if req.Settings != nil {
		tenant.Settings = *req.Settings
	}
	tenant.UpdatedAt = h.clock.Now()

	if err := h.store.Tenants().Update(r.Context(), tenant); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

// DeleteTenant implements spec.md §6's unusual "POST with a confirmation
// header" destructive-delete contract, rather than a bare DELETE verb. The
// cascade itself runs inside one transaction (spec.md §5 locking discipline),
// following the teacher's pattern of a transaction-wrapped multi-row delete.
func (h *adminHandlers) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Confirm-Destructive") != "true" {
		writeError(w, http.StatusBadRequest, "validation_error", "tenant deletion requires X-Confirm-Destructive: true")
		return
	}
	tenantID := r.PathValue("tenant_id")

	err := h.store.RunInTransaction(r.Context(), func(ctx context.Context) error {
		return h.cascadeDeleteTenant(ctx, tenantID)
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *adminHandlers) cascadeDeleteTenant(ctx context.Context, tenantID string) error {
	cursor := ""
	for {
		tus, next, err := h.store.TenantUsers().ListByTenant(ctx, tenantID, 200, cursor)
		if err != nil {
			return err
		}
		for _, tu := range tus {
			if err := h.store.TenantUsers().Delete(ctx, tu.UserID, tenantID); err != nil {
				return err
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}

	webhooks, err := h.store.Webhooks().List(ctx, tenantID)
	if err != nil {
		return err
	}
	for _, wh := range webhooks {
		if err := h.store.Webhooks().Delete(ctx, tenantID, wh.ID); err != nil {
			return err
		}
	}

	connectors, err := h.store.SsoConnectors().List(ctx, tenantID)
	if err != nil {
		return err
	}
	for _, c := range connectors {
		if err := h.store.SsoConnectors().Delete(ctx, tenantID, c.ID); err != nil {
			return err
		}
	}

	return h.store.Tenants().Delete(ctx, tenantID)
}

// --- Users (global directory; tenant membership lives in TenantUser) ---

func (h *adminHandlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, cursor := paginationParams(r)
	users, next, err := h.store.Users().List(r.Context(), limit, cursor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users, "next_cursor": next})
}

type createUserRequest struct {
	Email         string  `json:"email" validate:"required,email"`
	ExternalIdpID string  `json:"external_idp_id"`
	DisplayName   *string `json:"display_name"`
}

func (h *adminHandlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	now := h.clock.Now()
	user := &core.User{
		ID:            uuid.New().String(),
		ExternalIdpID: req.ExternalIdpID,
		Email:         req.Email,
		DisplayName:   req.DisplayName,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := h.store.Users().Create(r.Context(), user); err != nil {
		writeError(w, http.StatusConflict, "conflict", "a user with this email already exists")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *adminHandlers) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.Users().GetByID(r.Context(), r.PathValue("user_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *adminHandlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName *string    `json:"display_name"`
		AvatarURL   *string    `json:"avatar_url"`
		LockedUntil *time.Time `json:"locked_until"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	user, err := h.store.Users().GetByID(r.Context(), r.PathValue("user_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	if req.DisplayName != nil {
		user.DisplayName = req.DisplayName
	}
	if req.AvatarURL != nil {
		user.AvatarURL = req.AvatarURL
	}
	if req.LockedUntil != nil {
		user.LockedUntil = req.LockedUntil
	}
	user.UpdatedAt = h.clock.Now()

	if err := h.store.Users().Update(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// --- Tenant membership ---

func (h *adminHandlers) ListTenantUsers(w http.ResponseWriter, r *http.Request) {
	limit, cursor := paginationParams(r)
	tus, next, err := h.store.TenantUsers().ListByTenant(r.Context(), r.PathValue("tenant_id"), limit, cursor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tenant_users": tus, "next_cursor": next})
}

type addTenantUserRequest struct {
	UserID       string `json:"user_id" validate:"required"`
	RoleInTenant string `json:"role_in_tenant"`
}

func (h *adminHandlers) AddTenantUser(w http.ResponseWriter, r *http.Request) {
	var req addTenantUserRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if req.RoleInTenant == "" {
		req.RoleInTenant = "member"
	}

	tu := &core.TenantUser{
		ID:           uuid.New().String(),
		UserID:       req.UserID,
		TenantID:     r.PathValue("tenant_id"),
		RoleInTenant: req.RoleInTenant,
		CreatedAt:    h.clock.Now(),
	}
	if err := h.store.TenantUsers().Create(r.Context(), tu); err != nil {
		writeError(w, http.StatusConflict, "conflict", "user is already a member of this tenant")
		return
	}
	writeJSON(w, http.StatusCreated, tu)
}

func (h *adminHandlers) GetTenantUser(w http.ResponseWriter, r *http.Request) {
	tu, err := h.store.TenantUsers().Get(r.Context(), r.PathValue("user_id"), r.PathValue("tenant_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "tenant membership not found")
		return
	}
	writeJSON(w, http.StatusOK, tu)
}

func (h *adminHandlers) UpdateTenantUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoleInTenant string `json:"role_in_tenant"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	tu, err := h.store.TenantUsers().Get(r.Context(), r.PathValue("user_id"), r.PathValue("tenant_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "tenant membership not found")
		return
	}
	tu.RoleInTenant = req.RoleInTenant
	if err := h.store.TenantUsers().Update(r.Context(), tu); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tu)
}

func (h *adminHandlers) RemoveTenantUser(w http.ResponseWriter, r *http.Request) {
	if err := h.store.TenantUsers().Delete(r.Context(), r.PathValue("user_id"), r.PathValue("tenant_id")); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Invitations ---

type createInvitationRequest struct {
	Email     string   `json:"email" validate:"required,email"`
	RoleIDs   []string `json:"role_ids"`
	InvitedBy string   `json:"invited_by"`
}

func (h *adminHandlers) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	var req createInvitationRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	inv, token, err := h.invitations.Create(r.Context(), r.PathValue("tenant_id"), req.Email, req.RoleIDs, req.InvitedBy)
	if err != nil {
		writeError(w, http.StatusConflict, "conflict", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"invitation": inv, "token": token})
}

func (h *adminHandlers) ListInvitations(w http.ResponseWriter, r *http.Request) {
	limit, cursor := paginationParams(r)
	var status *string
	if s := r.URL.Query().Get("status"); s != "" {
		status = &s
	}
	invs, next, err := h.store.Invitations().List(r.Context(), r.PathValue("tenant_id"), status, limit, cursor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"invitations": invs, "next_cursor": next})
}

type acceptInvitationRequest struct {
	Token string `json:"token" validate:"required"`
}

func (h *adminHandlers) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req acceptInvitationRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	inv, err := h.invitations.Accept(r.Context(), req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_invitation", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *adminHandlers) RevokeInvitation(w http.ResponseWriter, r *http.Request) {
	if err := h.invitations.Revoke(r.Context(), r.PathValue("tenant_id"), r.PathValue("invitation_id")); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
