package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/auth9/auth9core/core"
)

// keycloakHandlers implements the Keycloak/IdP event webhook of
// SPEC_FULL.md EXP-3.1: the upstream IdP notifies this service of login
// failures, lockouts, and password resets so they feed the same
// LoginEvent/SecurityAlert pipeline as locally observed events.
type keycloakHandlers struct {
	loginEvents core.LoginEventStore
	detector    core.SecurityDetector
	clock       core.Clock
	secret      string
}

func newKeycloakHandlers(loginEvents core.LoginEventStore, detector core.SecurityDetector, clock core.Clock, secret string) *keycloakHandlers {
	return &keycloakHandlers{loginEvents: loginEvents, detector: detector, clock: clock, secret: secret}
}

// keycloakEvent mirrors the subset of a Keycloak admin/event webhook body
// this service cares about: which user, which realm, what happened.
type keycloakEvent struct {
	Type     string `json:"type"`
	RealmID  string `json:"realmId"`
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	IP       string `json:"ipAddress"`
	TenantID string `json:"tenantId"`
}

// EventsHandler serves POST /api/v1/keycloak/events. The signature header
// is `X-Keycloak-Signature: sha256=<hex>`, an HMAC-SHA256 over the raw
// request body — the same shape as the webhook dispatcher's outbound
// signature (see webhooks.Dispatcher), just verified instead of produced.
func (h *keycloakHandlers) EventsHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read request body")
		return
	}

	if !h.verifySignature(r.Header.Get("X-Keycloak-Signature"), body) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing X-Keycloak-Signature")
		return
	}

	var evt keycloakEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	loginEvent := h.toLoginEvent(&evt)
	if err := h.loginEvents.Create(r.Context(), loginEvent); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	if h.detector != nil {
		if _, err := h.detector.Analyze(r.Context(), loginEvent); err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *keycloakHandlers) verifySignature(header string, body []byte) bool {
	const prefix = "sha256="
	if h.secret == "" || !strings.HasPrefix(header, prefix) {
		return false
	}
	given, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := mac.Sum(nil)
	return hmac.Equal(given, expected)
}

func (h *keycloakHandlers) toLoginEvent(evt *keycloakEvent) *core.LoginEvent {
	e := &core.LoginEvent{
		ID:        uuid.New().String(),
		Type:      loginEventType(evt.Type),
		CreatedAt: h.clock.Now(),
	}
	if evt.UserID != "" {
		e.UserID = &evt.UserID
	}
	if evt.Email != "" {
		e.Email = &evt.Email
	}
	if evt.TenantID != "" {
		e.TenantID = &evt.TenantID
	}
	if evt.IP != "" {
		e.IP = &evt.IP
	}
	return e
}

// loginEventType maps Keycloak's own event-type vocabulary onto
// core.LoginEvent.Type's closed set (success, failed_password, failed_mfa,
// locked, social).
func loginEventType(keycloakType string) string {
	switch strings.ToUpper(keycloakType) {
	case "LOGIN":
		return "success"
	case "LOGIN_ERROR":
		return "failed_password"
	case "UPDATE_TOTP", "REMOVE_TOTP", "LOGIN_ERROR_INVALID_CODE":
		return "failed_mfa"
	case "USER_DISABLED_BY_TEMPORARY_LOCKOUT":
		return "locked"
	case "IDENTITY_PROVIDER_LOGIN":
		return "social"
	default:
		return "success"
	}
}
