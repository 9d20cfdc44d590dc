package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/auth9/auth9core/core"
	"golang.org/x/oauth2"
)

// IdpUserInfo is the subset of the upstream IdP's userinfo response this
// broker cares about.
type IdpUserInfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// IdpClient abstracts the upstream OIDC provider so Broker can be tested
// without a live Keycloak/IdP instance.
type IdpClient interface {
	AuthCodeURL(state, redirectURI string) string
	Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error)
	UserInfo(ctx context.Context, token *oauth2.Token) (*IdpUserInfo, error)
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	LogoutURL(idTokenHint, postLogoutRedirectURI, state string) string
}

// KeycloakClient is the production IdpClient, speaking the standard
// Keycloak/Keycloak-compatible OpenID Connect endpoint layout:
// /realms/{realm}/protocol/openid-connect/{auth,token,userinfo,logout}.
type KeycloakClient struct {
	oauthConfig oauth2.Config
	userInfoURL string
	logoutURL   string
	httpClient  *http.Client
}

func NewKeycloakClient(cfg core.Config, httpClient *http.Client) *KeycloakClient {
	base := cfg.IdpURL + "/realms/" + cfg.IdpRealm + "/protocol/openid-connect"
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &KeycloakClient{
		oauthConfig: oauth2.Config{
			ClientID:     cfg.AdminClientID,
			ClientSecret: cfg.AdminClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  base + "/auth",
				TokenURL: base + "/token",
			},
			Scopes: []string{"openid", "profile", "email"},
		},
		userInfoURL: base + "/userinfo",
		logoutURL:   base + "/logout",
		httpClient:  httpClient,
	}
}

func (c *KeycloakClient) AuthCodeURL(state, redirectURI string) string {
	cfg := c.oauthConfig
	cfg.RedirectURL = redirectURI
	return cfg.AuthCodeURL(state)
}

func (c *KeycloakClient) Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	cfg := c.oauthConfig
	cfg.RedirectURL = redirectURI
	return cfg.Exchange(ctx, code)
}

func (c *KeycloakClient) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	src := c.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return src.Token()
}

func (c *KeycloakClient) UserInfo(ctx context.Context, token *oauth2.Token) (*IdpUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	token.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo: upstream returned %d", resp.StatusCode)
	}

	var info IdpUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return &info, nil
}

func (c *KeycloakClient) LogoutURL(idTokenHint, postLogoutRedirectURI, state string) string {
	q := url.Values{}
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	if postLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	}
	if state != "" {
		q.Set("state", state)
	}
	return c.logoutURL + "?" + q.Encode()
}
