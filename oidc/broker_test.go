package oidc

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/auth9/auth9core/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeClientStore struct {
	byClientID map[string]*core.Client
}

func (f *fakeClientStore) Create(ctx context.Context, c *core.Client) error { return nil }
func (f *fakeClientStore) GetByID(ctx context.Context, id string) (*core.Client, error) {
	return nil, assert.AnError
}
func (f *fakeClientStore) GetByClientID(ctx context.Context, clientID string) (*core.Client, error) {
	c, ok := f.byClientID[clientID]
	if !ok {
		return nil, assert.AnError
	}
	return c, nil
}
func (f *fakeClientStore) Update(ctx context.Context, c *core.Client) error { return nil }
func (f *fakeClientStore) Delete(ctx context.Context, id string) error     { return nil }
func (f *fakeClientStore) List(ctx context.Context, serviceID string, limit int, cursor string) ([]*core.Client, string, error) {
	return nil, "", nil
}

type fakeServiceStore struct {
	byID map[string]*core.Service
}

func (f *fakeServiceStore) Create(ctx context.Context, s *core.Service) error { return nil }
func (f *fakeServiceStore) GetByID(ctx context.Context, id string) (*core.Service, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, assert.AnError
	}
	return s, nil
}
func (f *fakeServiceStore) Update(ctx context.Context, s *core.Service) error { return nil }
func (f *fakeServiceStore) Delete(ctx context.Context, id string) error      { return nil }
func (f *fakeServiceStore) List(ctx context.Context, tenantID *string, limit int, cursor string) ([]*core.Service, string, error) {
	return nil, "", nil
}

type fakeUserStore struct {
	byExternalID map[string]*core.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byExternalID: map[string]*core.User{}}
}
func (f *fakeUserStore) Create(ctx context.Context, u *core.User) error {
	if u.ID == "" {
		u.ID = "user-" + u.ExternalIdpID
	}
	f.byExternalID[u.ExternalIdpID] = u
	return nil
}
func (f *fakeUserStore) GetByID(ctx context.Context, id string) (*core.User, error) {
	for _, u := range f.byExternalID {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, assert.AnError
}
func (f *fakeUserStore) GetByEmail(ctx context.Context, email string) (*core.User, error) {
	return nil, assert.AnError
}
func (f *fakeUserStore) GetByExternalIdpID(ctx context.Context, externalIdpID string) (*core.User, error) {
	u, ok := f.byExternalID[externalIdpID]
	if !ok {
		return nil, assert.AnError
	}
	return u, nil
}
func (f *fakeUserStore) GetByScimExternalID(ctx context.Context, scimExternalID string) (*core.User, error) {
	return nil, assert.AnError
}
func (f *fakeUserStore) Update(ctx context.Context, u *core.User) error { return nil }
func (f *fakeUserStore) List(ctx context.Context, limit int, cursor string) ([]*core.User, string, error) {
	return nil, "", nil
}
func (f *fakeUserStore) Search(ctx context.Context, predicate func(*core.User) bool, limit int, cursor string) ([]*core.User, string, error) {
	return nil, "", nil
}

type fakeActionEngine struct {
	claims map[string]interface{}
	err    error
	called bool
}

func (f *fakeActionEngine) RunPipeline(ctx context.Context, tenantID, triggerID string, actionCtx core.ActionContext) (core.ActionContext, error) {
	f.called = true
	if f.err != nil {
		return core.ActionContext{}, f.err
	}
	actionCtx.Claims = f.claims
	return actionCtx, nil
}

type fakeTokenService struct {
	issuedCustom map[string]interface{}
}

func (f *fakeTokenService) IssueIdentityToken(ctx context.Context, user *core.User, custom map[string]interface{}) (string, error) {
	f.issuedCustom = custom
	return "identity-token-for-" + user.ID, nil
}
func (f *fakeTokenService) Exchange(ctx context.Context, identityToken, tenantID, clientID string) (*core.ExchangeResult, error) {
	return nil, nil
}
func (f *fakeTokenService) RotateRefreshToken(ctx context.Context, tenantID, oldRefreshToken string) (*core.ExchangeResult, error) {
	return nil, nil
}
func (f *fakeTokenService) Verify(ctx context.Context, token string) (*core.TokenClaims, error) {
	return nil, nil
}
func (f *fakeTokenService) Introspect(ctx context.Context, token string) (*core.IntrospectResult, error) {
	return nil, nil
}

type fakeLoginEventStore struct {
	created []*core.LoginEvent
}

func (f *fakeLoginEventStore) Create(ctx context.Context, e *core.LoginEvent) error {
	f.created = append(f.created, e)
	return nil
}
func (f *fakeLoginEventStore) ListRecentByIP(ctx context.Context, ip string, since time.Time) ([]*core.LoginEvent, error) {
	return nil, nil
}
func (f *fakeLoginEventStore) ListRecentByUser(ctx context.Context, userID string, limit int) ([]*core.LoginEvent, error) {
	return nil, nil
}
func (f *fakeLoginEventStore) LastSuccessByUser(ctx context.Context, userID string) (*core.LoginEvent, error) {
	return nil, assert.AnError
}
func (f *fakeLoginEventStore) DeleteOlderThan(ctx context.Context, before time.Time) error { return nil }

type fakeSecurityDetector struct {
	analyzed []*core.LoginEvent
}

func (f *fakeSecurityDetector) Analyze(ctx context.Context, event *core.LoginEvent) ([]*core.SecurityAlert, error) {
	f.analyzed = append(f.analyzed, event)
	return nil, nil
}

type fakeIdpClient struct {
	userInfo *IdpUserInfo
	err      error
}

func (f *fakeIdpClient) AuthCodeURL(state, redirectURI string) string {
	return "https://idp.example.com/auth?state=" + state + "&redirect_uri=" + url.QueryEscape(redirectURI)
}
func (f *fakeIdpClient) Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &oauth2.Token{AccessToken: "idp-access-" + code}, nil
}
func (f *fakeIdpClient) UserInfo(ctx context.Context, token *oauth2.Token) (*IdpUserInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.userInfo, nil
}
func (f *fakeIdpClient) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "idp-access-refreshed"}, nil
}
func (f *fakeIdpClient) LogoutURL(idTokenHint, postLogoutRedirectURI, state string) string {
	return "https://idp.example.com/logout"
}

func setupBroker(t *testing.T, idp *fakeIdpClient, actions *fakeActionEngine) (*Broker, *fakeClientStore, *fakeServiceStore, *fakeUserStore, *fakeTokenService) {
	t.Helper()
	b, _, _, _, clients, services, users, tokens, _ := setupBrokerFull(t, idp, actions)
	return b, clients, services, users, tokens
}

func setupBrokerFull(t *testing.T, idp *fakeIdpClient, actions *fakeActionEngine) (*Broker, *fakeLoginEventStore, *fakeSecurityDetector, *fakeActionEngine, *fakeClientStore, *fakeServiceStore, *fakeUserStore, *fakeTokenService, string) {
	t.Helper()
	tenantID := "tenant-1"
	clients := &fakeClientStore{byClientID: map[string]*core.Client{
		"portal": {ID: "c1", ServiceID: "svc1", ClientID: "portal"},
	}}
	services := &fakeServiceStore{byID: map[string]*core.Service{
		"svc1": {ID: "svc1", TenantID: &tenantID, RedirectURIs: []string{"https://app.example.com/cb"}},
	}}
	users := newFakeUserStore()
	tokens := &fakeTokenService{}
	if actions == nil {
		actions = &fakeActionEngine{claims: map[string]interface{}{}}
	}
	loginEvents := &fakeLoginEventStore{}
	detector := &fakeSecurityDetector{}

	b := NewBroker(clients, services, users, actions, tokens, nil, fakeClock{now: time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)},
		loginEvents, detector,
		idp, "test-state-secret-key-value-123456", "https://auth.example.com/callback")
	return b, loginEvents, detector, actions, clients, services, users, tokens, tenantID
}

func TestBroker_Authorize_RejectsUnknownClient(t *testing.T) {
	b, _, _, _, _ := setupBroker(t, &fakeIdpClient{}, nil)
	_, err := b.Authorize(context.Background(), core.AuthorizeRequest{ClientID: "nope", RedirectURI: "https://x"})
	assert.Error(t, err)
}

func TestBroker_Authorize_RejectsUnregisteredRedirectURI(t *testing.T) {
	b, _, _, _, _ := setupBroker(t, &fakeIdpClient{}, nil)
	_, err := b.Authorize(context.Background(), core.AuthorizeRequest{ClientID: "portal", RedirectURI: "https://evil.example.com/cb"})
	assert.Error(t, err)
}

func TestBroker_Authorize_BuildsIdpURLWithSignedState(t *testing.T) {
	b, _, _, _, _ := setupBroker(t, &fakeIdpClient{}, nil)
	redirectURL, err := b.Authorize(context.Background(), core.AuthorizeRequest{ClientID: "portal", RedirectURI: "https://app.example.com/cb", State: "xyz"})
	require.NoError(t, err)
	assert.Contains(t, redirectURL, "idp.example.com")
	assert.Contains(t, redirectURL, "redirect_uri=https%3A%2F%2Fauth.example.com%2Fcallback")
}

func TestBroker_Callback_CreatesUserAndMintsIdentityToken(t *testing.T) {
	idp := &fakeIdpClient{userInfo: &IdpUserInfo{Sub: "idp-sub-1", Email: "a@example.com", Name: "Ada"}}
	actions := &fakeActionEngine{claims: map[string]interface{}{"dept": "eng"}}
	b, _, _, users, tokens := setupBroker(t, idp, actions)

	state, err := b.state.encode("https://app.example.com/cb", "portal", "xyz", time.Now())
	require.NoError(t, err)

	redirectURL, err := b.Callback(context.Background(), "auth-code", state)
	require.NoError(t, err)

	parsed, err := url.Parse(redirectURL)
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", parsed.Host)
	assert.Equal(t, "xyz", parsed.Query().Get("state"))
	assert.NotEmpty(t, parsed.Query().Get("token"))

	assert.True(t, actions.called)
	assert.Equal(t, "eng", tokens.issuedCustom["dept"])

	_, err = users.GetByExternalIdpID(context.Background(), "idp-sub-1")
	assert.NoError(t, err)
}

func TestBroker_Callback_ReusesExistingUser(t *testing.T) {
	idp := &fakeIdpClient{userInfo: &IdpUserInfo{Sub: "idp-sub-2", Email: "b@example.com"}}
	b, _, _, users, _ := setupBroker(t, idp, nil)
	users.byExternalID["idp-sub-2"] = &core.User{ID: "existing-user", ExternalIdpID: "idp-sub-2", Email: "b@example.com"}

	state, err := b.state.encode("https://app.example.com/cb", "portal", "", time.Now())
	require.NoError(t, err)

	redirectURL, err := b.Callback(context.Background(), "auth-code", state)
	require.NoError(t, err)
	assert.Contains(t, redirectURL, "token=identity-token-for-existing-user")
}

func TestBroker_Callback_StrictModeActionFailureAbortsLogin(t *testing.T) {
	idp := &fakeIdpClient{userInfo: &IdpUserInfo{Sub: "idp-sub-3", Email: "c@example.com"}}
	actions := &fakeActionEngine{err: assert.AnError}
	b, _, _, _, _ := setupBroker(t, idp, actions)

	state, err := b.state.encode("https://app.example.com/cb", "portal", "", time.Now())
	require.NoError(t, err)

	_, err = b.Callback(context.Background(), "auth-code", state)
	assert.Error(t, err)
}

func TestBroker_Callback_RecordsSuccessfulLoginEventAndAnalyzes(t *testing.T) {
	idp := &fakeIdpClient{userInfo: &IdpUserInfo{Sub: "idp-sub-5", Email: "d@example.com", Name: "Dee"}}
	b, loginEvents, detector, _, _, _, _, _, tenantID := setupBrokerFull(t, idp, nil)

	state, err := b.state.encode("https://app.example.com/cb", "portal", "", time.Now())
	require.NoError(t, err)

	_, err = b.Callback(context.Background(), "auth-code", state)
	require.NoError(t, err)

	require.Len(t, loginEvents.created, 1)
	event := loginEvents.created[0]
	assert.Equal(t, "success", event.Type)
	assert.Equal(t, "d@example.com", *event.Email)
	require.NotNil(t, event.TenantID)
	assert.Equal(t, tenantID, *event.TenantID)

	require.Len(t, detector.analyzed, 1)
	assert.Same(t, event, detector.analyzed[0])
}

func TestBroker_Callback_RecordsFailedLoginEventOnIdpExchangeError(t *testing.T) {
	idp := &fakeIdpClient{err: assert.AnError}
	b, loginEvents, detector, _, _, _, _, _, _ := setupBrokerFull(t, idp, nil)

	state, err := b.state.encode("https://app.example.com/cb", "portal", "", time.Now())
	require.NoError(t, err)

	_, err = b.Callback(context.Background(), "auth-code", state)
	require.Error(t, err)

	require.Len(t, loginEvents.created, 1)
	event := loginEvents.created[0]
	assert.Equal(t, "failed_password", event.Type)
	require.NotNil(t, event.FailureReason)

	require.Len(t, detector.analyzed, 1)
}

func TestBroker_Callback_RecordsFailedLoginEventOnActionPipelineAbort(t *testing.T) {
	idp := &fakeIdpClient{userInfo: &IdpUserInfo{Sub: "idp-sub-6", Email: "e@example.com"}}
	actions := &fakeActionEngine{err: assert.AnError}
	b, loginEvents, detector, _, _, _, _, _, _ := setupBrokerFull(t, idp, actions)

	state, err := b.state.encode("https://app.example.com/cb", "portal", "", time.Now())
	require.NoError(t, err)

	_, err = b.Callback(context.Background(), "auth-code", state)
	require.Error(t, err)

	require.Len(t, loginEvents.created, 1)
	assert.Equal(t, "failed_password", loginEvents.created[0].Type)
	require.Len(t, detector.analyzed, 1)
}

func TestBroker_Callback_RejectsForgedState(t *testing.T) {
	b, _, _, _, _ := setupBroker(t, &fakeIdpClient{userInfo: &IdpUserInfo{Sub: "x"}}, nil)
	other := newStateCodec("a-different-secret-entirely-000000")
	forged, err := other.encode("https://evil.example.com", "portal", "", time.Now())
	require.NoError(t, err)

	_, err = b.Callback(context.Background(), "code", forged)
	assert.Error(t, err)
}

func TestBroker_LogoutURL_DelegatesToIdp(t *testing.T) {
	b, _, _, _, _ := setupBroker(t, &fakeIdpClient{}, nil)
	got := b.LogoutURL(context.Background(), "id-token", "https://app.example.com", "s")
	assert.Contains(t, got, "idp.example.com/logout")
}

func TestBroker_RefreshIdentity_MintsNewIdentityToken(t *testing.T) {
	idp := &fakeIdpClient{userInfo: &IdpUserInfo{Sub: "idp-sub-4"}}
	b, _, _, users, _ := setupBroker(t, idp, nil)
	users.byExternalID["idp-sub-4"] = &core.User{ID: "u4", ExternalIdpID: "idp-sub-4"}

	token, err := b.RefreshIdentity(context.Background(), "idp-refresh-token")
	require.NoError(t, err)
	assert.Equal(t, "identity-token-for-u4", token)
}
