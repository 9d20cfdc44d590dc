package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/auth9/auth9core/core"
	"github.com/auth9/auth9core/crypto"
)

// validate holds the request-body validator used by every decodeAndValidate
// call. A single *validator.Validate is safe for concurrent use and caches
// struct metadata, so it is built once per process rather than per request.
var validate = validator.New(validator.WithRequiredStructEnabled())

// AdminAuthMiddleware validates the X-Admin-Key header against core.AdminKeyStore.
// There is no bootstrap config key (unlike the teacher's EnableAdminUI/AdminAPIKey
// path) — admin keys are minted out-of-band and stored hashed, per spec.md §6.
type AdminAuthMiddleware struct {
	keys core.AdminKeyStore
}

func NewAdminAuthMiddleware(keys core.AdminKeyStore) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{keys: keys}
}

func (m *AdminAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-Admin-Key")
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing X-Admin-Key header")
			return
		}

		if _, err := m.keys.GetByHash(r.Context(), crypto.HashString(apiKey)); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid admin key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// tenantResolver extracts the target tenant (and, where the action is also
// user-scoped, the target user) that a request's layered authorization
// check should run against. Different routes carry this in different path
// parameters, or not directly at all (role/permission routes are keyed by
// service_id or role_id; the resolver walks the store to find the owning
// tenant).
type tenantResolver func(r *http.Request) (tenantID, targetUserID string, err error)

// authzMiddleware runs core.AuthorizationEngine.Authorize (spec.md §4.2)
// ahead of a handler, using the Authorization: Bearer tenant-access (or
// identity) token to resolve the caller's claims. It sits alongside, not in
// place of, AdminAuthMiddleware's X-Admin-Key gate: the admin key proves the
// caller is allowed to reach the admin surface at all, this layer proves
// the caller's own token entitles them to act on the specific tenant
// targeted by the request (spec.md S6 — cross-tenant forbidden).
type authzMiddleware struct {
	engine core.AuthorizationEngine
	tokens core.TokenService
	audit  core.AuditSink
	clock  core.Clock
}

func newAuthzMiddleware(engine core.AuthorizationEngine, tokens core.TokenService, audit core.AuditSink, clock core.Clock) *authzMiddleware {
	return &authzMiddleware{engine: engine, tokens: tokens, audit: audit, clock: clock}
}

// require wraps next so it only runs once Authorize returns an allowed
// decision for action/resourceType against the tenant resolve extracts. A
// denied decision is recorded as an action="access_denied" audit event and
// answered with 403 plus the engine's reason, never a bare 401/500 — the
// caller authenticated fine, the engine just said no.
func (m *authzMiddleware) require(action, resourceType string, resolve tenantResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			claims, err := m.tokens.Verify(r.Context(), token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
				return
			}

			tenantID, targetUserID, err := resolve(r)
			if err != nil {
				writeError(w, http.StatusNotFound, "not_found", "could not resolve target resource")
				return
			}

			decision, err := m.engine.Authorize(r.Context(), core.AuthorizeDecisionRequest{
				Claims:       claims,
				Action:       action,
				ResourceType: resourceType,
				TargetTenant: tenantID,
				TargetUserID: targetUserID,
				RequestIP:    r.RemoteAddr,
			})
			if err != nil {
				writeError(w, http.StatusInternalServerError, "server_error", err.Error())
				return
			}
			if !decision.Allowed {
				m.recordDenial(r.Context(), tenantID, claims, action, decision.Reason)
				writeError(w, http.StatusForbidden, "forbidden", decision.Reason)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (m *authzMiddleware) recordDenial(ctx context.Context, tenantID string, claims *core.TokenClaims, action, reason string) {
	if m.audit == nil {
		return
	}
	actorID := claims.Subject
	_ = m.audit.Log(ctx, &core.AuditEvent{
		TenantID:  tenantID,
		ActorID:   &actorID,
		ActorType: "user",
		Type:      "access_denied",
		CreatedAt: m.clock.Now(),
		Data: map[string]interface{}{
			"action": action,
			"reason": reason,
		},
	})
}

// CORSMiddleware applies permissive CORS headers, kept from the teacher as-is.
type CORSMiddleware struct {
	allowedOrigins []string
}

func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	return &CORSMiddleware{allowedOrigins: allowedOrigins}
}

func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range m.allowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Key, X-Keycloak-Signature")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// decodeAndValidate decodes the request body then runs struct-tag
// validation (github.com/go-playground/validator/v10) over it, so
// handlers get field-level requirement/format checks without hand-rolled
// "== """ checks scattered per handler.
func decodeAndValidate(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return validate.Struct(v)
}

func paginationParams(r *http.Request) (limit int, cursor string) {
	limit = 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	return limit, r.URL.Query().Get("cursor")
}
