package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/auth9/auth9core/core"
	"github.com/auth9/auth9core/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// PlatformTenantID is the pseudo-tenant under which identity tokens (which
// are not scoped to any single tenant) are signed.
const PlatformTenantID = "_platform"

// RoleResolver resolves a user's effective roles/permissions in a tenant,
// restricted to one service (spec.md §4.1 step 3). Implemented by rbac.Service.
type RoleResolver interface {
	ResolveRoles(ctx context.Context, tenantID, userID, serviceID string) ([]core.ResolvedRole, error)
}

// Service implements core.TokenService.
type Service struct {
	keyManager    core.KeyManager
	users         core.UserStore
	clients       core.ClientStore
	services      core.ServiceStore
	refreshTokens core.RefreshTokenStore
	roles         RoleResolver
	clock         core.Clock
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewService(
	keyManager core.KeyManager,
	users core.UserStore,
	clients core.ClientStore,
	services core.ServiceStore,
	refreshTokens core.RefreshTokenStore,
	roles RoleResolver,
	clock core.Clock,
	issuer string,
	accessTTL, refreshTTL time.Duration,
) *Service {
	return &Service{
		keyManager:    keyManager,
		users:         users,
		clients:       clients,
		services:      services,
		refreshTokens: refreshTokens,
		roles:         roles,
		clock:         clock,
		issuer:        issuer,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// IssueIdentityToken mints a short-lived token proving "this user authenticated".
func (s *Service) IssueIdentityToken(ctx context.Context, user *core.User, custom map[string]interface{}) (string, error) {
	now := s.clock.Now()
	claims := map[string]interface{}{
		"typ":   string(core.TokenKindIdentity),
		"sub":   user.ID,
		"email": user.Email,
		"iss":   s.issuer,
		"aud":   s.issuer,
		"iat":   now.Unix(),
		"exp":   now.Add(s.accessTTL).Unix(),
	}
	if user.DisplayName != nil {
		claims["name"] = *user.DisplayName
	}
	if len(custom) > 0 {
		claims["custom"] = custom
	}

	token, err := s.keyManager.Sign(ctx, PlatformTenantID, claims)
	if err != nil {
		return "", fmt.Errorf("sign identity token: %w", err)
	}
	return token, nil
}

// Exchange performs the identity->tenant-access exchange of spec.md §4.1.
func (s *Service) Exchange(ctx context.Context, identityToken, tenantID, clientID string) (*core.ExchangeResult, error) {
	identityClaims, err := s.Verify(ctx, identityToken)
	if err != nil {
		return nil, fmt.Errorf("verify identity token: %w", err)
	}
	if identityClaims.TokenType != core.TokenKindIdentity {
		return nil, fmt.Errorf("token is not an identity token")
	}

	client, err := s.clients.GetByClientID(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("unknown client: %w", err)
	}

	user, err := s.users.GetByID(ctx, identityClaims.Subject)
	if err != nil {
		return nil, fmt.Errorf("unknown user: %w", err)
	}

	resolved, err := s.roles.ResolveRoles(ctx, tenantID, user.ID, client.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("resolve roles: %w", err)
	}

	roleNames, permissions := flattenRoles(resolved)

	accessToken, err := s.signTenantAccessToken(ctx, tenantID, user, clientID, roleNames, permissions)
	if err != nil {
		return nil, fmt.Errorf("sign tenant access token: %w", err)
	}

	refreshToken, err := s.issueRefreshToken(ctx, tenantID, user.ID, clientID, nil)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	return &core.ExchangeResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.accessTTL.Seconds()),
	}, nil
}

// RotateRefreshToken revokes oldRefreshToken and mints a fresh access/refresh
// pair, carrying the original subject through (fixes the empty-identity gap
// present in naive rotation implementations).
func (s *Service) RotateRefreshToken(ctx context.Context, tenantID, oldRefreshToken string) (*core.ExchangeResult, error) {
	oldClaims, err := s.Verify(ctx, oldRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("verify refresh token: %w", err)
	}
	if oldClaims.TokenType != core.TokenKindRefresh {
		return nil, fmt.Errorf("token is not a refresh token")
	}

	oldHash := crypto.HashString(oldRefreshToken)
	rt, err := s.refreshTokens.GetByHash(ctx, tenantID, oldHash)
	if err != nil {
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	if rt.RevokedAt != nil {
		return nil, fmt.Errorf("refresh token revoked")
	}
	if s.clock.Now().After(rt.ExpiresAt) {
		return nil, fmt.Errorf("refresh token expired")
	}

	if err := s.refreshTokens.Revoke(ctx, tenantID, oldHash); err != nil {
		return nil, fmt.Errorf("revoke old token: %w", err)
	}

	user, err := s.users.GetByID(ctx, rt.UserID)
	if err != nil {
		return nil, fmt.Errorf("unknown user: %w", err)
	}
	client, err := s.clients.GetByClientID(ctx, rt.ClientID)
	if err != nil {
		return nil, fmt.Errorf("unknown client: %w", err)
	}

	resolved, err := s.roles.ResolveRoles(ctx, tenantID, user.ID, client.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("resolve roles: %w", err)
	}
	roleNames, permissions := flattenRoles(resolved)

	accessToken, err := s.signTenantAccessToken(ctx, tenantID, user, rt.ClientID, roleNames, permissions)
	if err != nil {
		return nil, fmt.Errorf("sign tenant access token: %w", err)
	}

	newRefreshToken, err := s.issueRefreshToken(ctx, tenantID, user.ID, rt.ClientID, &oldHash)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	return &core.ExchangeResult{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		ExpiresIn:    int(s.accessTTL.Seconds()),
	}, nil
}

// Verify validates token of any of the three kinds and returns its claims.
// The tenant used for key lookup is read from the unverified "tenant_id"
// claim (identity tokens have none and fall back to PlatformTenantID);
// signature verification itself always happens against the resolved tenant's
// stored key, so this peek cannot be used to forge a signature.
func (s *Service) Verify(ctx context.Context, token string) (*core.TokenClaims, error) {
	tenantID := PlatformTenantID
	if peeked, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{}); err == nil {
		if mc, ok := peeked.Claims.(jwt.MapClaims); ok {
			if tid, ok := mc["tenant_id"].(string); ok && tid != "" {
				tenantID = tid
			}
		}
	}

	claims, err := s.keyManager.Verify(ctx, tenantID, token)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	return mapClaims(claims), nil
}

// Introspect implements the single multi-kind introspection endpoint of
// spec.md §4.1, trying tenant-access then identity verification.
func (s *Service) Introspect(ctx context.Context, token string) (*core.IntrospectResult, error) {
	claims, err := s.Verify(ctx, token)
	if err != nil {
		return &core.IntrospectResult{Active: false}, nil
	}

	return &core.IntrospectResult{
		Active:      true,
		Subject:     claims.Subject,
		Email:       claims.Email,
		TenantID:    claims.TenantID,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
		ExpiresAt:   claims.ExpiresAt,
		IssuedAt:    claims.IssuedAt,
		Issuer:      claims.Issuer,
		Audience:    claims.Audience,
	}, nil
}

func (s *Service) signTenantAccessToken(ctx context.Context, tenantID string, user *core.User, clientID string, roles, permissions []string) (string, error) {
	now := s.clock.Now()
	claims := map[string]interface{}{
		"typ":         string(core.TokenKindTenantAccess),
		"sub":         user.ID,
		"email":       user.Email,
		"iss":         s.issuer,
		"aud":         clientID,
		"tenant_id":   tenantID,
		"roles":       roles,
		"permissions": permissions,
		"iat":         now.Unix(),
		"exp":         now.Add(s.accessTTL).Unix(),
	}
	return s.keyManager.Sign(ctx, tenantID, claims)
}

func (s *Service) issueRefreshToken(ctx context.Context, tenantID, userID, clientID string, rotatedFromHash *string) (string, error) {
	now := s.clock.Now()
	claims := map[string]interface{}{
		"typ":       string(core.TokenKindRefresh),
		"sub":       userID,
		"aud":       clientID,
		"tenant_id": tenantID,
		"jti":       uuid.New().String(),
		"iat":       now.Unix(),
		"exp":       now.Add(s.refreshTTL).Unix(),
	}
	token, err := s.keyManager.Sign(ctx, tenantID, claims)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}

	rt := &core.RefreshToken{
		TokenHash:       crypto.HashString(token),
		TenantID:        tenantID,
		ClientID:        clientID,
		UserID:          userID,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.refreshTTL),
		RotatedFromHash: rotatedFromHash,
	}
	if err := s.refreshTokens.Create(ctx, rt); err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return token, nil
}

func flattenRoles(resolved []core.ResolvedRole) (names []string, permissions []string) {
	seen := make(map[string]struct{})
	for _, r := range resolved {
		names = append(names, r.RoleName)
		for _, p := range r.Permissions {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			permissions = append(permissions, p)
		}
	}
	return names, permissions
}

func mapClaims(claims map[string]interface{}) *core.TokenClaims {
	tc := &core.TokenClaims{}
	if v, ok := claims["typ"].(string); ok {
		tc.TokenType = core.TokenKind(v)
	}
	if v, ok := claims["sub"].(string); ok {
		tc.Subject = v
	}
	if v, ok := claims["email"].(string); ok {
		tc.Email = v
	}
	if v, ok := claims["name"].(string); ok {
		tc.Name = v
	}
	if v, ok := claims["iss"].(string); ok {
		tc.Issuer = v
	}
	if v, ok := claims["aud"].(string); ok {
		tc.Audience = v
	}
	if v, ok := claims["tenant_id"].(string); ok {
		tc.TenantID = v
	}
	if v, ok := claims["roles"].([]interface{}); ok {
		for _, r := range v {
			if s, ok := r.(string); ok {
				tc.Roles = append(tc.Roles, s)
			}
		}
	}
	if v, ok := claims["permissions"].([]interface{}); ok {
		for _, p := range v {
			if s, ok := p.(string); ok {
				tc.Permissions = append(tc.Permissions, s)
			}
		}
	}
	if v, ok := claims["custom"].(map[string]interface{}); ok {
		tc.Custom = v
	}
	if v, ok := claims["iat"].(float64); ok {
		tc.IssuedAt = int64(v)
	}
	if v, ok := claims["exp"].(float64); ok {
		tc.ExpiresAt = int64(v)
	}
	return tc
}
