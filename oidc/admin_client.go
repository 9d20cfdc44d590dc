package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/auth9/auth9core/core"
	"golang.org/x/oauth2/clientcredentials"
)

// KeycloakAdminClient implements scim.IdpAdminClient over the Keycloak
// Admin REST API (/admin/realms/{realm}/users), authenticating with the
// same admin client credentials KeycloakClient uses for the user-facing
// OIDC flow. This is the runtime SCIM-provisioning counterpart to
// IdpClient — spec.md's Non-goal on "Keycloak admin-seeding scripts"
// excludes one-off bootstrap tooling, not the CreateUser call SCIM
// provisioning makes on every request.
type KeycloakAdminClient struct {
	tokenSource *clientcredentials.Config
	usersURL    string
	httpClient  *http.Client
}

func NewKeycloakAdminClient(cfg core.Config, httpClient *http.Client) *KeycloakAdminClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	base := cfg.IdpURL + "/realms/" + cfg.IdpRealm + "/protocol/openid-connect"
	return &KeycloakAdminClient{
		tokenSource: &clientcredentials.Config{
			ClientID:     cfg.AdminClientID,
			ClientSecret: cfg.AdminClientSecret,
			TokenURL:     base + "/token",
		},
		usersURL:   cfg.IdpURL + "/admin/realms/" + cfg.IdpRealm + "/users",
		httpClient: httpClient,
	}
}

// CreateUser implements scim.IdpAdminClient.
func (c *KeycloakAdminClient) CreateUser(ctx context.Context, email, displayName string) (string, error) {
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("obtain admin token: %w", err)
	}

	body, err := json.Marshal(map[string]interface{}{
		"username": email,
		"email":    email,
		"enabled":  true,
		"attributes": map[string][]string{
			"displayName": {displayName},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal keycloak user: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.usersURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	token.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create keycloak user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("keycloak user create: upstream returned %d", resp.StatusCode)
	}

	// Keycloak returns the new user's location, not a body; the admin
	// REST API puts the generated ID as the final path segment.
	loc := resp.Header.Get("Location")
	idpSub := loc
	if idx := lastSlash(loc); idx >= 0 {
		idpSub = loc[idx+1:]
	}
	if idpSub == "" {
		return "", fmt.Errorf("keycloak user create: no Location header in response")
	}
	return idpSub, nil
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
