package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/auth9/auth9core/core"
)

// --- Webhooks ---

func (h *adminHandlers) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	webhooks, err := h.store.Webhooks().List(r.Context(), r.PathValue("tenant_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"webhooks": webhooks})
}

// CreateWebhook mints a signing secret via webhooks.GenerateSecret when the
// caller doesn't supply one, mirroring the teacher's "generate if absent"
// pattern for any shared-secret resource.
type createWebhookRequest struct {
	Name   string   `json:"name" validate:"required"`
	URL    string   `json:"url" validate:"required,url"`
	Secret *string  `json:"secret"`
	Events []string `json:"events" validate:"required,min=1"`
}

func (h *adminHandlers) CreateWebhook(w http.ResponseWriter, r *http.Request, generateSecret func() (string, error)) {
	var req createWebhookRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	secret := req.Secret
	if secret == nil {
		generated, err := generateSecret()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", "failed to generate webhook secret")
			return
		}
		secret = &generated
	}

	wh := &core.Webhook{
		ID:       uuid.New().String(),
		TenantID: r.PathValue("tenant_id"),
		Name:     req.Name,
		URL:      req.URL,
		Secret:   secret,
		Events:   req.Events,
		Enabled:  true,
	}
	if err := h.store.Webhooks().Create(r.Context(), wh); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, wh)
}

func (h *adminHandlers) GetWebhook(w http.ResponseWriter, r *http.Request) {
	wh, err := h.store.Webhooks().GetByID(r.Context(), r.PathValue("tenant_id"), r.PathValue("webhook_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "webhook not found")
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

func (h *adminHandlers) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    *string  `json:"name"`
		URL     *string  `json:"url"`
		Events  []string `json:"events"`
		Enabled *bool    `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	wh, err := h.store.Webhooks().GetByID(r.Context(), r.PathValue("tenant_id"), r.PathValue("webhook_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "webhook not found")
		return
	}
	if req.Name != nil {
		wh.Name = *req.Name
	}
	if req.URL != nil {
		wh.URL = *req.URL
	}
	if req.Events != nil {
		wh.Events = req.Events
	}
	if req.Enabled != nil {
		wh.Enabled = *req.Enabled
	}
	if err := h.store.Webhooks().Update(r.Context(), wh); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

func (h *adminHandlers) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Webhooks().Delete(r.Context(), r.PathValue("tenant_id"), r.PathValue("webhook_id")); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestWebhook fires a synthetic delivery through core.WebhookDispatcher.Test
// so operators can confirm connectivity/signature setup without waiting for
// a real lifecycle event.
func (h *adminHandlers) TestWebhook(w http.ResponseWriter, r *http.Request, dispatcher core.WebhookDispatcher) {
	result, err := dispatcher.Test(r.Context(), r.PathValue("webhook_id"))
	if err != nil {
		writeError(w, http.StatusBadGateway, "delivery_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Actions ---

func (h *adminHandlers) ListActionsForTrigger(w http.ResponseWriter, r *http.Request) {
	actions, err := h.store.Actions().ListEnabledForTrigger(r.Context(), r.PathValue("tenant_id"), r.URL.Query().Get("trigger_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"actions": actions})
}

type createActionRequest struct {
	Name           string `json:"name" validate:"required"`
	TriggerID      string `json:"trigger_id" validate:"required"`
	Script         string `json:"script" validate:"required"`
	ExecutionOrder int    `json:"execution_order"`
	TimeoutMs      int    `json:"timeout_ms"`
}

func (h *adminHandlers) CreateAction(w http.ResponseWriter, r *http.Request) {
	var req createActionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if req.TimeoutMs <= 0 {
		req.TimeoutMs = 3000
	}
	action := &core.Action{
		ID:             uuid.New().String(),
		TenantID:       r.PathValue("tenant_id"),
		Name:           req.Name,
		TriggerID:      req.TriggerID,
		Script:         req.Script,
		Enabled:        true,
		ExecutionOrder: req.ExecutionOrder,
		TimeoutMs:      req.TimeoutMs,
	}
	if err := h.store.Actions().Create(r.Context(), action); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, action)
}

func (h *adminHandlers) GetAction(w http.ResponseWriter, r *http.Request) {
	action, err := h.store.Actions().GetByID(r.Context(), r.PathValue("tenant_id"), r.PathValue("action_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "action not found")
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (h *adminHandlers) UpdateAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name           *string `json:"name"`
		Script         *string `json:"script"`
		Enabled        *bool   `json:"enabled"`
		ExecutionOrder *int    `json:"execution_order"`
		TimeoutMs      *int    `json:"timeout_ms"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	action, err := h.store.Actions().GetByID(r.Context(), r.PathValue("tenant_id"), r.PathValue("action_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "action not found")
		return
	}
	if req.Name != nil {
		action.Name = *req.Name
	}
	if req.Script != nil {
		action.Script = *req.Script
	}
	if req.Enabled != nil {
		action.Enabled = *req.Enabled
	}
	if req.ExecutionOrder != nil {
		action.ExecutionOrder = *req.ExecutionOrder
	}
	if req.TimeoutMs != nil {
		action.TimeoutMs = *req.TimeoutMs
	}
	if err := h.store.Actions().Update(r.Context(), action); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (h *adminHandlers) DeleteAction(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Actions().Delete(r.Context(), r.PathValue("tenant_id"), r.PathValue("action_id")); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- SSO connectors ---

func (h *adminHandlers) ListSsoConnectors(w http.ResponseWriter, r *http.Request) {
	connectors, err := h.store.SsoConnectors().List(r.Context(), r.PathValue("tenant_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sso_connectors": connectors})
}

type createSsoConnectorRequest struct {
	Alias         string            `json:"alias" validate:"required"`
	ProviderType  string            `json:"provider_type" validate:"required"`
	Priority      int               `json:"priority"`
	ExternalAlias string            `json:"external_alias"`
	Config        map[string]string `json:"config"`
	Domains       []string          `json:"domains" validate:"dive,fqdn"`
}

func (h *adminHandlers) CreateSsoConnector(w http.ResponseWriter, r *http.Request) {
	var req createSsoConnectorRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	connector := &core.EnterpriseSsoConnector{
		ID:            uuid.New().String(),
		TenantID:      r.PathValue("tenant_id"),
		Alias:         req.Alias,
		ProviderType:  req.ProviderType,
		Priority:      req.Priority,
		Enabled:       true,
		ExternalAlias: req.ExternalAlias,
		Config:        req.Config,
		Domains:       req.Domains,
	}
	if err := h.store.SsoConnectors().Create(r.Context(), connector); err != nil {
		writeError(w, http.StatusConflict, "conflict", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, connector)
}

func (h *adminHandlers) GetSsoConnector(w http.ResponseWriter, r *http.Request) {
	connector, err := h.store.SsoConnectors().GetByID(r.Context(), r.PathValue("tenant_id"), r.PathValue("connector_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "sso connector not found")
		return
	}
	writeJSON(w, http.StatusOK, connector)
}

func (h *adminHandlers) UpdateSsoConnector(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Priority *int              `json:"priority"`
		Enabled  *bool             `json:"enabled"`
		Config   map[string]string `json:"config"`
		Domains  []string          `json:"domains"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	connector, err := h.store.SsoConnectors().GetByID(r.Context(), r.PathValue("tenant_id"), r.PathValue("connector_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "sso connector not found")
		return
	}
	if req.Priority != nil {
		connector.Priority = *req.Priority
	}
	if req.Enabled != nil {
		connector.Enabled = *req.Enabled
	}
	if req.Config != nil {
		connector.Config = req.Config
	}
	if req.Domains != nil {
		connector.Domains = req.Domains
	}
	if err := h.store.SsoConnectors().Update(r.Context(), connector); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, connector)
}

func (h *adminHandlers) DeleteSsoConnector(w http.ResponseWriter, r *http.Request) {
	if err := h.store.SsoConnectors().Delete(r.Context(), r.PathValue("tenant_id"), r.PathValue("connector_id")); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Security alerts & audit events (read/resolve only; written by detector/audit sink) ---

func (h *adminHandlers) ListSecurityAlerts(w http.ResponseWriter, r *http.Request) {
	limit, cursor := paginationParams(r)
	alerts, next, err := h.store.SecurityAlerts().List(r.Context(), r.PathValue("tenant_id"), limit, cursor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"security_alerts": alerts, "next_cursor": next})
}

type resolveSecurityAlertRequest struct {
	ResolvedBy string `json:"resolved_by" validate:"required"`
}

func (h *adminHandlers) ResolveSecurityAlert(w http.ResponseWriter, r *http.Request) {
	var req resolveSecurityAlertRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if err := h.store.SecurityAlerts().Resolve(r.Context(), r.PathValue("alert_id"), req.ResolvedBy); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *adminHandlers) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	limit, cursor := paginationParams(r)
	q := r.URL.Query()
	var filters core.AuditFilters
	if v := q.Get("type"); v != "" {
		filters.Type = &v
	}
	if v := q.Get("actor_type"); v != "" {
		filters.ActorType = &v
	}
	events, next, err := h.store.AuditEvents().List(r.Context(), r.PathValue("tenant_id"), filters, limit, cursor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"audit_events": events, "next_cursor": next})
}
