// Package oidc implements the OIDC Broker of spec.md §4.3: the
// authorization-code flow fronting an external OIDC identity provider.
package oidc

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/auth9/auth9core/core"
)

const postLoginTrigger = "post_login"

// Broker implements core.OidcBroker.
type Broker struct {
	clients     core.ClientStore
	services    core.ServiceStore
	users       core.UserStore
	actions     core.ActionEngine
	tokens      core.TokenService
	audit       core.AuditSink
	clock       core.Clock
	loginEvents core.LoginEventStore
	detector    core.SecurityDetector

	idp         IdpClient
	state       *stateCodec
	callbackURL string
}

func NewBroker(
	clients core.ClientStore,
	services core.ServiceStore,
	users core.UserStore,
	actions core.ActionEngine,
	tokens core.TokenService,
	audit core.AuditSink,
	clock core.Clock,
	loginEvents core.LoginEventStore,
	detector core.SecurityDetector,
	idp IdpClient,
	stateHMACKey string,
	callbackURL string,
) *Broker {
	return &Broker{
		clients: clients, services: services, users: users, actions: actions,
		tokens: tokens, audit: audit, clock: clock,
		loginEvents: loginEvents, detector: detector, idp: idp,
		state: newStateCodec(stateHMACKey), callbackURL: callbackURL,
	}
}

// Authorize implements core.OidcBroker.Authorize: validates client_id and
// redirect_uri, then redirects to the IdP with this system's own callback
// as the IdP's redirect target and a signed opaque state carrying the
// caller's real redirect_uri.
func (b *Broker) Authorize(ctx context.Context, req core.AuthorizeRequest) (string, error) {
	client, err := b.clients.GetByClientID(ctx, req.ClientID)
	if err != nil {
		return "", fmt.Errorf("unknown client: %w", err)
	}

	svc, err := b.services.GetByID(ctx, client.ServiceID)
	if err != nil {
		return "", fmt.Errorf("resolve service: %w", err)
	}

	if !containsURI(svc.RedirectURIs, req.RedirectURI) {
		return "", fmt.Errorf("redirect_uri not registered for client")
	}

	state, err := b.state.encode(req.RedirectURI, req.ClientID, req.State, b.clock.Now())
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}

	return b.idp.AuthCodeURL(state, b.callbackURL), nil
}

// Callback implements core.OidcBroker.Callback.
func (b *Broker) Callback(ctx context.Context, code, state string) (string, error) {
	payload, err := b.state.decode(state)
	if err != nil {
		return "", err
	}

	client, err := b.clients.GetByClientID(ctx, payload.ClientID)
	if err != nil {
		return "", fmt.Errorf("unknown client: %w", err)
	}
	svc, err := b.services.GetByID(ctx, client.ServiceID)
	if err != nil {
		return "", fmt.Errorf("resolve service: %w", err)
	}

	token, err := b.idp.Exchange(ctx, code, b.callbackURL)
	if err != nil {
		b.recordLogin(ctx, nil, nil, svc.TenantID, false, err.Error())
		return "", fmt.Errorf("exchange code: %w", err)
	}

	info, err := b.idp.UserInfo(ctx, token)
	if err != nil {
		b.recordLogin(ctx, nil, nil, svc.TenantID, false, err.Error())
		return "", fmt.Errorf("fetch userinfo: %w", err)
	}
	if info.Sub == "" {
		b.recordLogin(ctx, nil, nil, svc.TenantID, false, "idp userinfo missing sub")
		return "", fmt.Errorf("idp userinfo missing sub")
	}

	user, err := b.findOrCreateUser(ctx, info)
	if err != nil {
		b.recordLogin(ctx, nil, &info.Email, svc.TenantID, false, err.Error())
		return "", err
	}

	custom := map[string]interface{}{}
	if svc.TenantID != nil {
		actionCtx := core.ActionContext{
			User: core.ActionUser{ID: user.ID, Email: user.Email, DisplayName: displayName(user)},
			Tenant: core.ActionTenant{ID: *svc.TenantID},
			Request: core.ActionRequest{Timestamp: b.clock.Now()},
			Claims:  map[string]interface{}{},
		}
		result, err := b.actions.RunPipeline(ctx, *svc.TenantID, postLoginTrigger, actionCtx)
		if err != nil {
			b.recordLogin(ctx, &user.ID, &user.Email, svc.TenantID, false, err.Error())
			return "", fmt.Errorf("post-login action pipeline: %w", err)
		}
		custom = result.Claims
	}

	idToken, err := b.tokens.IssueIdentityToken(ctx, user, custom)
	if err != nil {
		b.recordLogin(ctx, &user.ID, &user.Email, svc.TenantID, false, err.Error())
		return "", fmt.Errorf("issue identity token: %w", err)
	}

	b.recordLogin(ctx, &user.ID, &user.Email, svc.TenantID, true, "")

	return appendQuery(payload.RedirectURI, map[string]string{
		"token": idToken,
		"state": payload.OriginalState,
	}), nil
}

// recordLogin writes the primary login stream's LoginEvent row and feeds it
// to the Security Detector (spec.md §4.7: "Invoked after every login event
// is recorded"), on both the success and failure paths of Callback. Either
// collaborator being nil (not yet wired, e.g. in narrower unit tests) is a
// no-op, not an error — login always succeeds or fails on its own terms.
func (b *Broker) recordLogin(ctx context.Context, userID, email, tenantID *string, success bool, failureReason string) {
	if b.loginEvents == nil {
		return
	}
	eventType := "success"
	var reasonPtr *string
	if !success {
		eventType = "failed_password"
		reasonPtr = &failureReason
	}
	event := &core.LoginEvent{
		ID:            uuid.New().String(),
		UserID:        userID,
		Email:         email,
		TenantID:      tenantID,
		Type:          eventType,
		FailureReason: reasonPtr,
		CreatedAt:     b.clock.Now(),
	}
	if err := b.loginEvents.Create(ctx, event); err != nil {
		return
	}
	if b.detector != nil {
		_, _ = b.detector.Analyze(ctx, event)
	}
}

func (b *Broker) findOrCreateUser(ctx context.Context, info *IdpUserInfo) (*core.User, error) {
	user, err := b.users.GetByExternalIdpID(ctx, info.Sub)
	if err == nil {
		return user, nil
	}

	now := b.clock.Now()
	var displayNamePtr *string
	if info.Name != "" {
		displayNamePtr = &info.Name
	}
	var avatarPtr *string
	if info.Picture != "" {
		avatarPtr = &info.Picture
	}
	newUser := &core.User{
		ExternalIdpID: info.Sub,
		Email:         info.Email,
		DisplayName:   displayNamePtr,
		AvatarURL:     avatarPtr,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := b.users.Create(ctx, newUser); err != nil {
		return nil, fmt.Errorf("create local user: %w", err)
	}
	return newUser, nil
}

// RefreshIdentity implements core.OidcBroker.RefreshIdentity. The interface
// carries no tenant context (an identity token is tenant-agnostic), so the
// pre-token-refresh Action pipeline is not run here, and
// tokens.Service.Exchange and RotateRefreshToken do not run it either, so no
// refresh path runs the pre-token-refresh pipeline.
func (b *Broker) RefreshIdentity(ctx context.Context, idpRefreshToken string) (string, error) {
	token, err := b.idp.RefreshToken(ctx, idpRefreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh with idp: %w", err)
	}

	info, err := b.idp.UserInfo(ctx, token)
	if err != nil {
		return "", fmt.Errorf("fetch userinfo: %w", err)
	}

	user, err := b.users.GetByExternalIdpID(ctx, info.Sub)
	if err != nil {
		return "", fmt.Errorf("user not found: %w", err)
	}

	return b.tokens.IssueIdentityToken(ctx, user, nil)
}

// LogoutURL implements core.OidcBroker.LogoutURL.
func (b *Broker) LogoutURL(ctx context.Context, idTokenHint, postLogoutRedirectURI, state string) string {
	return b.idp.LogoutURL(idTokenHint, postLogoutRedirectURI, state)
}

func containsURI(uris []string, target string) bool {
	for _, u := range uris {
		if u == target {
			return true
		}
	}
	return false
}

func displayName(u *core.User) string {
	if u.DisplayName != nil {
		return *u.DisplayName
	}
	return ""
}

func appendQuery(rawURL string, params map[string]string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
