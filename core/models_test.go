package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	assert.True(t, now.Equal(before) || now.After(before))
	assert.True(t, now.Equal(after) || now.Before(after))
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{
		DatabaseURL:  "postgres://localhost/test",
		JWTIssuer:    "https://auth.example.com",
		PlatformAdminEmails: []string{"root@example.com"},
	}

	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, "https://auth.example.com", cfg.JWTIssuer)
	assert.Contains(t, cfg.PlatformAdminEmails, "root@example.com")
}

func TestTokenClaims_Validation(t *testing.T) {
	now := time.Now().Unix()
	claims := TokenClaims{
		TokenType:   TokenKindTenantAccess,
		Issuer:      "https://test.auth.example.com",
		Subject:     "user-123",
		Audience:    "client-456",
		TenantID:    "tenant-789",
		Roles:       []string{"admin", "viewer"},
		Permissions: []string{"orders:read"},
		IssuedAt:    now,
		ExpiresAt:   now + 900,
	}

	assert.Equal(t, TokenKindTenantAccess, claims.TokenType)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, "client-456", claims.Audience)
	assert.Equal(t, "tenant-789", claims.TenantID)
	assert.Equal(t, []string{"admin", "viewer"}, claims.Roles)
	assert.Contains(t, claims.Permissions, "orders:read")
	assert.Equal(t, now, claims.IssuedAt)
	assert.Equal(t, now+900, claims.ExpiresAt)
}

func TestTenant_Validation(t *testing.T) {
	now := time.Now()
	tenant := Tenant{
		ID:     "tenant-123",
		Slug:   "acme-corp",
		Name:   "Acme Corporation",
		Status: "active",
		Settings: TenantSettings{
			RequireMFA:         true,
			SessionTimeoutSecs: 3600,
			AllowedAuthMethods: []string{"password", "social"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	require.NotEmpty(t, tenant.ID)
	require.NotEmpty(t, tenant.Slug)
	require.NotEmpty(t, tenant.Name)
	assert.Contains(t, []string{"active", "inactive", "suspended"}, tenant.Status)
	assert.False(t, tenant.CreatedAt.IsZero())
}

func TestUser_IsSoftDeleted(t *testing.T) {
	u := User{ID: "u1"}
	assert.False(t, u.IsSoftDeleted())

	farFuture := time.Now().AddDate(100, 0, 0)
	u.LockedUntil = &farFuture
	assert.True(t, u.IsSoftDeleted())

	soon := time.Now().Add(time.Hour)
	u.LockedUntil = &soon
	assert.False(t, u.IsSoftDeleted())
}

func TestClient_Validation(t *testing.T) {
	now := time.Now()
	name := "Orders service client"
	client := Client{
		ID:         "client-123",
		ServiceID:  "service-456",
		ClientID:   "orders-svc",
		SecretHash: "hash123",
		Name:       &name,
		CreatedAt:  now,
	}

	require.NotEmpty(t, client.ID)
	require.NotEmpty(t, client.ServiceID)
	require.NotEmpty(t, client.ClientID)
	require.NotEmpty(t, client.SecretHash)
}


func TestRefreshToken_Validation(t *testing.T) {
	now := time.Now()
	expiresAt := now.Add(7 * 24 * time.Hour)
	rotatedFrom := "old-hash"
	token := RefreshToken{
		TokenHash:       "hash123",
		TenantID:        "tenant-456",
		ClientID:        "client-789",
		UserID:          "user-abc",
		CreatedAt:       now,
		ExpiresAt:       expiresAt,
		RotatedFromHash: &rotatedFrom,
	}

	require.NotEmpty(t, token.TokenHash)
	assert.True(t, token.ExpiresAt.After(now))
	assert.Nil(t, token.RevokedAt)
	require.NotNil(t, token.RotatedFromHash)
	assert.Equal(t, "old-hash", *token.RotatedFromHash)
}

func TestAuditEvent_Validation(t *testing.T) {
	now := time.Now()
	actorID := "admin-123"
	event := AuditEvent{
		ID:        "event-123",
		TenantID:  "tenant-456",
		ActorType: "admin",
		ActorID:   &actorID,
		Type:      "user_created",
		CreatedAt: now,
		Data: map[string]interface{}{
			"user_id": "user-789",
		},
	}

	require.NotEmpty(t, event.ID)
	assert.Contains(t, []string{"admin", "user", "client", "system"}, event.ActorType)
	require.NotEmpty(t, event.Type)
	assert.NotEmpty(t, event.Data)
}

func TestRbacTuple_Validation(t *testing.T) {
	now := time.Now()
	v3 := "orders:read"
	tuple := RbacTuple{
		ID:        "tuple-123",
		TenantID:  "tenant-456",
		TupleType: "p",
		V0:        "viewer",
		V1:        "tenant-456",
		V2:        "service-789",
		V3:        &v3,
		CreatedAt: now,
	}

	require.NotEmpty(t, tuple.ID)
	assert.Contains(t, []string{"p", "g"}, tuple.TupleType)
	require.NotNil(t, tuple.V3)
	assert.Equal(t, "orders:read", *tuple.V3)
}

func TestAbacCondition_Shape(t *testing.T) {
	cond := AbacCondition{
		All: []AbacCondition{
			{Var: "subject.roles", Op: "contains", Value: "admin"},
			{Not: &AbacCondition{Var: "env.hour", Op: "gte", Value: 19}},
		},
	}

	require.Len(t, cond.All, 2)
	assert.Equal(t, "contains", cond.All[0].Op)
	require.NotNil(t, cond.All[1].Not)
	assert.Equal(t, "gte", cond.All[1].Not.Op)
}

func TestTokenResponse_Validation(t *testing.T) {
	resp := TokenResponse{
		AccessToken:  "access-token-123",
		TokenType:    "Bearer",
		ExpiresIn:    900,
		RefreshToken: "refresh-token-456",
		Scope:        "openid profile",
	}

	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Greater(t, resp.ExpiresIn, 0)
}

func TestIntrospectResult_Validation(t *testing.T) {
	resp := IntrospectResult{
		Active:      true,
		Subject:     "user-123",
		TenantID:    "tenant-789",
		Roles:       []string{"admin", "viewer"},
		Permissions: []string{"orders:read"},
		ExpiresAt:   1234567890,
		IssuedAt:    1234567000,
		Issuer:      "https://auth.example.com",
		Audience:    "client-456",
	}

	assert.True(t, resp.Active)
	assert.NotEmpty(t, resp.Subject)
	assert.Len(t, resp.Roles, 2)
}
