package httpapi

import (
	"crypto/subtle"
	"net/http"

	"github.com/auth9/auth9core/core"
	"github.com/auth9/auth9core/tokens"
)

// oidcHandlers serves the OIDC/OAuth2 surface of spec.md §4.1/§4.3/§6:
// discovery, JWKS, the authorize/callback redirect dance against the
// upstream IdP, the token-exchange endpoint, userinfo, and introspection.
// Mirrors the teacher's OIDCHandlers shape (one struct wrapping the token
// and broker collaborators, one method per endpoint).
type oidcHandlers struct {
	broker     core.OidcBroker
	tokens     core.TokenService
	keyManager core.KeyManager
	config     core.Config
}

func newOidcHandlers(broker core.OidcBroker, tokenService core.TokenService, keyManager core.KeyManager, config core.Config) *oidcHandlers {
	return &oidcHandlers{broker: broker, tokens: tokenService, keyManager: keyManager, config: config}
}

// DiscoveryHandler serves /.well-known/openid-configuration. Unlike the
// teacher's per-tenant-subdomain discovery document, this system has one
// issuer for the whole deployment — tenant scoping happens at /token and
// downstream, not at discovery time.
func (h *oidcHandlers) DiscoveryHandler(w http.ResponseWriter, r *http.Request) {
	issuer := h.config.JWTIssuer
	base := h.config.CorePublicURL

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                                 issuer,
		"authorization_endpoint":                 base + "/api/v1/auth/authorize",
		"token_endpoint":                         base + "/api/v1/auth/token",
		"userinfo_endpoint":                      base + "/api/v1/auth/userinfo",
		"jwks_uri":                               base + "/.well-known/jwks.json",
		"introspection_endpoint":                 base + "/api/v1/auth/introspect",
		"end_session_endpoint":                   base + "/api/v1/auth/logout",
		"scopes_supported":                       []string{"openid", "profile", "email"},
		"response_types_supported":               []string{"code"},
		"grant_types_supported":                  []string{"authorization_code", "client_credentials", "refresh_token"},
		"subject_types_supported":                []string{"public"},
		"id_token_signing_alg_values_supported":   []string{"RS256", "HS256"},
		"token_endpoint_auth_methods_supported":   []string{"client_secret_post"},
		"claims_supported":                       []string{"sub", "iss", "aud", "exp", "iat", "email", "name", "tenant_id", "roles", "permissions"},
	})
}

// JWKSHandler serves /.well-known/jwks.json. Identity tokens are signed
// under the platform pseudo-tenant (tokens.PlatformTenantID); tenant-access
// tokens are signed per-tenant. A caller that cares about a specific
// tenant's keys may pass ?tenant_id=, otherwise the platform key set is
// returned — the common case, since `kid` alone disambiguates verification.
func (h *oidcHandlers) JWKSHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		tenantID = tokens.PlatformTenantID
	}
	jwks, err := h.keyManager.GetPublicJWKS(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "failed to load JWKS")
		return
	}
	writeJSON(w, http.StatusOK, jwks)
}

// AuthorizeHandler serves GET /api/v1/auth/authorize, redirecting the
// browser to the upstream IdP per spec.md §4.3.
func (h *oidcHandlers) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := core.AuthorizeRequest{
		ResponseType: q.Get("response_type"),
		ClientID:     q.Get("client_id"),
		RedirectURI:  q.Get("redirect_uri"),
		Scope:        q.Get("scope"),
		State:        q.Get("state"),
		Nonce:        q.Get("nonce"),
	}
	if req.ResponseType != "" && req.ResponseType != "code" {
		writeError(w, http.StatusBadRequest, "unsupported_response_type", "only the 'code' response type is supported")
		return
	}

	redirectURL, err := h.broker.Authorize(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// CallbackHandler serves GET /api/v1/auth/callback: the IdP lands here
// after authentication, and the broker forwards the browser on to the
// original relying-party redirect_uri with the identity token attached.
func (h *oidcHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "code and state are required")
		return
	}

	redirectURL, err := h.broker.Callback(r.Context(), code, state)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// TokenHandler serves POST /api/v1/auth/token. spec.md §6 names three
// grant types; none map onto a bare OAuth code grant, since this broker's
// "/callback" already completes the code<->IdP exchange and hands the
// relying party an identity token directly in the redirect (spec.md §4.3).
// So here:
//   - grant_type=authorization_code: "code" carries that identity token, not
//     an upstream authorization code. Combined with tenant_id and client_id
//     it drives the identity->tenant-access exchange of spec.md §4.1.
//   - grant_type=refresh_token: rotates a previously issued tenant-access
//     refresh token (tokens.Service.RotateRefreshToken) for a new
//     access/refresh pair — the conventional OAuth refresh_token contract.
//     (Refreshing the identity token itself from the upstream IdP is a
//     distinct, lower-level operation exposed via RefreshIdentityHandler.)
//   - grant_type=client_credentials: no core.TokenService method issues a
//     service-principal (subject-less) token today — Exchange always
//     requires a verified user identity token. Rejected as unsupported
//     rather than faked; see DESIGN.md.
func (h *oidcHandlers) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse form body")
		return
	}

	switch r.FormValue("grant_type") {
	case "authorization_code":
		identityToken := r.FormValue("code")
		tenantID := r.FormValue("tenant_id")
		clientID := r.FormValue("client_id")
		if identityToken == "" || tenantID == "" || clientID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "code, tenant_id and client_id are required")
			return
		}
		result, err := h.tokens.Exchange(r.Context(), identityToken, tenantID, clientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_grant", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, tokenResponseFrom(result))

	case "refresh_token":
		refreshToken := r.FormValue("refresh_token")
		tenantID := r.FormValue("tenant_id")
		if refreshToken == "" || tenantID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token and tenant_id are required")
			return
		}
		result, err := h.tokens.RotateRefreshToken(r.Context(), tenantID, refreshToken)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_grant", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, tokenResponseFrom(result))

	case "client_credentials":
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "client_credentials is not issued by this deployment")

	default:
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be one of authorization_code, refresh_token, client_credentials")
	}
}

func tokenResponseFrom(result *core.ExchangeResult) map[string]interface{} {
	return map[string]interface{}{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"token_type":    "Bearer",
		"expires_in":    result.ExpiresIn,
	}
}

// RefreshIdentityHandler refreshes the identity token itself against the
// upstream IdP (spec.md §4.3's "/token with grant_type=refresh_token runs
// the IdP refresh" description, at the identity layer rather than the
// tenant-access layer — see TokenHandler's doc comment for why the two are
// split across endpoints here).
func (h *oidcHandlers) RefreshIdentityHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse form body")
		return
	}
	idpRefreshToken := r.FormValue("idp_refresh_token")
	if idpRefreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "idp_refresh_token is required")
		return
	}
	identityToken, err := h.broker.RefreshIdentity(r.Context(), idpRefreshToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_grant", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id_token": identityToken, "token_type": "Bearer"})
}

// UserInfoHandler serves GET /api/v1/auth/userinfo: verifies the bearer
// token (of any kind) and echoes back its identity claims.
func (h *oidcHandlers) UserInfoHandler(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	claims, err := h.tokens.Verify(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sub":         claims.Subject,
		"email":       claims.Email,
		"name":        claims.Name,
		"tenant_id":   claims.TenantID,
		"roles":       claims.Roles,
		"permissions": claims.Permissions,
	})
}

// IntrospectHandler serves POST /api/v1/auth/introspect, accepting any of
// the three token kinds per spec.md §4.1.
func (h *oidcHandlers) IntrospectHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse form body")
		return
	}
	token := r.FormValue("token")
	result, err := h.tokens.Introspect(r.Context(), token)
	if err != nil || result == nil {
		writeJSON(w, http.StatusOK, core.IntrospectResult{Active: false})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// LogoutHandler serves GET /api/v1/auth/logout, forwarding to the upstream
// IdP's RP-initiated logout endpoint.
func (h *oidcHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectURL := h.broker.LogoutURL(r.Context(), q.Get("id_token_hint"), q.Get("post_logout_redirect_uri"), q.Get("state"))
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || subtle.ConstantTimeCompare([]byte(auth[:len(prefix)]), []byte(prefix)) != 1 {
		return ""
	}
	return auth[len(prefix):]
}
