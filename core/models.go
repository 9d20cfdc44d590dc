package core

import "time"

// Tenant is a top-level organization boundary. Slug is globally unique.
type Tenant struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Slug      string         `json:"slug"`
	LogoURL   *string        `json:"logo_url,omitempty"`
	Status    string         `json:"status"` // active, inactive, suspended
	Settings  TenantSettings `json:"settings"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TenantSettings holds tenant-level policy toggles.
type TenantSettings struct {
	RequireMFA         bool     `json:"require_mfa"`
	SessionTimeoutSecs int      `json:"session_timeout_s"`
	AllowedAuthMethods []string `json:"allowed_auth_methods"`
}

// User is an identity materialized from the upstream IdP, or provisioned via SCIM.
type User struct {
	ID                 string     `json:"id"`
	ExternalIdpID       string     `json:"external_idp_id"`
	Email               string     `json:"email"`
	DisplayName         *string    `json:"display_name,omitempty"`
	AvatarURL           *string    `json:"avatar_url,omitempty"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
	ScimExternalID      *string    `json:"scim_external_id,omitempty"`
	ScimProvisionedBy   *string    `json:"scim_provisioned_by,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// IsSoftDeleted reports whether locked_until represents a SCIM soft-delete.
func (u *User) IsSoftDeleted() bool {
	return u.LockedUntil != nil && u.LockedUntil.After(time.Now().AddDate(50, 0, 0))
}

// TenantUser links a user to a tenant with a tenant-administration role,
// distinct from RBAC roles granted via UserTenantRole.
type TenantUser struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	TenantID    string    `json:"tenant_id"`
	RoleInTenant string   `json:"role_in_tenant"` // owner, admin, member, viewer
	CreatedAt   time.Time `json:"created_at"`
}

// Service represents a relying application. TenantID nil denotes a platform service.
type Service struct {
	ID         string    `json:"id"`
	TenantID   *string   `json:"tenant_id,omitempty"`
	Name       string    `json:"name"`
	BaseURL    *string   `json:"base_url,omitempty"`
	RedirectURIs []string `json:"redirect_uris"`
	LogoutURIs   []string `json:"logout_uris"`
	Status     string    `json:"status"` // active, inactive
	CreatedAt  time.Time `json:"created_at"`
}

// Client carries OAuth credentials for one relying service.
type Client struct {
	ID         string    `json:"id"`
	ServiceID  string    `json:"service_id"`
	ClientID   string    `json:"client_id"`
	SecretHash string    `json:"-"`
	Name       *string   `json:"name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Permission is a service-scoped capability string, e.g. "users:read".
type Permission struct {
	ID          string  `json:"id"`
	ServiceID   string  `json:"service_id"`
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// Role is single-parent-inheriting; cycles are forbidden (see authz/roles.go).
type Role struct {
	ID           string    `json:"id"`
	ServiceID    string    `json:"service_id"`
	Name         string    `json:"name"`
	Description  *string   `json:"description,omitempty"`
	ParentRoleID *string   `json:"parent_role_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RolePermission attaches a permission to a role.
type RolePermission struct {
	RoleID       string `json:"role_id"`
	PermissionID string `json:"permission_id"`
}

// UserTenantRole grants a role, scoped to one service, within a tenant.
type UserTenantRole struct {
	ID           string    `json:"id"`
	TenantUserID string    `json:"tenant_user_id"`
	RoleID       string    `json:"role_id"`
	GrantedBy    *string   `json:"granted_by,omitempty"`
	GrantedAt    time.Time `json:"granted_at"`
}

// AbacPolicySet is the single ABAC document active for a tenant.
type AbacPolicySet struct {
	ID                string  `json:"id"`
	TenantID          string  `json:"tenant_id"`
	Mode              string  `json:"mode"` // disabled, shadow, enforce
	PublishedVersionID *string `json:"published_version_id,omitempty"`
}

// AbacPolicySetVersion is one immutable revision of a policy set's document.
type AbacPolicySetVersion struct {
	ID           string    `json:"id"`
	PolicySetID  string    `json:"policy_set_id"`
	VersionNo    int       `json:"version_no"`
	PolicyJSON   []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// AbacDocument is the parsed form of a policy version's PolicyJSON.
type AbacDocument struct {
	Rules []AbacRule `json:"rules"`
}

// AbacRule is one ordered entry in a policy document.
type AbacRule struct {
	ID            string         `json:"id"`
	Effect        string         `json:"effect"` // allow, deny
	Actions       []string       `json:"actions"`
	ResourceTypes []string       `json:"resource_types"`
	Priority      int            `json:"priority"`
	Condition     *AbacCondition `json:"condition,omitempty"`
}

// AbacCondition is a recursive node: exactly one of All/Any/Not/predicate fields is set.
type AbacCondition struct {
	All   []AbacCondition `json:"all,omitempty"`
	Any   []AbacCondition `json:"any,omitempty"`
	Not   *AbacCondition  `json:"not,omitempty"`
	Var   string          `json:"var,omitempty"`
	Op    string          `json:"op,omitempty"`
	Value interface{}     `json:"value,omitempty"`
}

// Invitation is a pending tenant-membership offer. The clear token is never stored.
type Invitation struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Email      string     `json:"email"`
	RoleIDs    []string   `json:"role_ids"`
	InvitedBy  string     `json:"invited_by"`
	TokenHash  string     `json:"-"`
	Status     string     `json:"status"` // pending, accepted, expired, revoked
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// LoginEvent is an append-only record of an authentication attempt.
type LoginEvent struct {
	ID            string    `json:"id"`
	UserID        *string   `json:"user_id,omitempty"`
	Email         *string   `json:"email,omitempty"`
	TenantID      *string   `json:"tenant_id,omitempty"`
	Type          string    `json:"type"` // success, failed_password, failed_mfa, locked, social
	IP            *string   `json:"ip,omitempty"`
	UserAgent     *string   `json:"user_agent,omitempty"`
	DeviceType    *string   `json:"device_type,omitempty"`
	Location      *string   `json:"location,omitempty"`
	SessionID     *string   `json:"session_id,omitempty"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// SecurityAlert is a detector finding over the login-event stream.
type SecurityAlert struct {
	ID         string                 `json:"id"`
	UserID     *string                `json:"user_id,omitempty"`
	TenantID   *string                `json:"tenant_id,omitempty"`
	Type       string                 `json:"type"` // brute_force, suspicious_ip, new_device, impossible_travel
	Severity   string                 `json:"severity"` // low, medium, high, critical
	Details    map[string]interface{} `json:"details"`
	ResolvedBy *string                `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time             `json:"resolved_at,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Webhook is a tenant-configured delivery target for platform events.
type Webhook struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenant_id"`
	Name             string     `json:"name"`
	URL              string     `json:"url"`
	Secret           *string    `json:"-"`
	Events           []string   `json:"events"`
	Enabled          bool       `json:"enabled"`
	FailureCount     int        `json:"failure_count"`
	LastTriggeredAt  *time.Time `json:"last_triggered_at,omitempty"`
}

// Action is one tenant-authored script bound to a lifecycle trigger.
type Action struct {
	ID              string  `json:"id"`
	TenantID        string  `json:"tenant_id"`
	Name            string  `json:"name"`
	TriggerID       string  `json:"trigger_id"`
	Script          string  `json:"script"`
	Enabled         bool    `json:"enabled"`
	ExecutionOrder  int     `json:"execution_order"`
	TimeoutMs       int     `json:"timeout_ms"`
	ExecutionCount  int64   `json:"execution_count"`
	ErrorCount      int64   `json:"error_count"`
	LastError       *string `json:"last_error,omitempty"`
}

// EnterpriseSsoConnector is a tenant-configured upstream SAML/OIDC connector.
// Domain-to-connector mapping is unique globally.
type EnterpriseSsoConnector struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"tenant_id"`
	Alias         string            `json:"alias"`
	ProviderType  string            `json:"provider_type"` // saml, oidc
	Priority      int               `json:"priority"`
	Enabled       bool              `json:"enabled"`
	ExternalAlias string            `json:"external_alias"`
	Config        map[string]string `json:"config"`
	Domains       []string          `json:"domains"`
}

// ScimGroupRoleMapping surfaces a SCIM group as a role mapping; membership
// itself is derived from the RBAC projection, not stored here.
type ScimGroupRoleMapping struct {
	ID           string  `json:"id"`
	TenantID     string  `json:"tenant_id"`
	ConnectorID  string  `json:"connector_id"`
	ScimGroupID  string  `json:"scim_group_id"`
	DisplayName  *string `json:"display_name,omitempty"`
	RoleID       string  `json:"role_id"`
}

// ScimProvisioningLogEntry records one SCIM operation for reconciliation/audit.
type ScimProvisioningLogEntry struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	ConnectorID    string    `json:"connector_id"`
	Operation      string    `json:"operation"`
	ResourceType   string    `json:"resource_type"`
	ScimResourceID *string   `json:"scim_resource_id,omitempty"`
	Auth9ResourceID *string  `json:"auth9_resource_id,omitempty"`
	Status         string    `json:"status"` // success, error
	ErrorDetail    *string   `json:"error_detail,omitempty"`
	ResponseStatus *int      `json:"response_status,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// SigningKey is a JWT signing key, RSA for RS256 deployments.
type SigningKey struct {
	ID                  string    `json:"id"`
	TenantID            string    `json:"tenant_id"`
	KID                 string    `json:"kid"`
	Algorithm           string    `json:"alg"` // RS256, HS256
	PublicJWK           []byte    `json:"public_jwk,omitempty"`
	PrivateKeyEncrypted []byte    `json:"-"`
	Status              string    `json:"status"` // active, inactive, retired
	CreatedAt           time.Time `json:"created_at"`
	NotBefore           time.Time `json:"not_before"`
	NotAfter            time.Time `json:"not_after"`
}

// RefreshToken tracks an opaque-looking refresh token lineage for rotation.
type RefreshToken struct {
	TokenHash       string     `json:"-"`
	TenantID        string     `json:"tenant_id"`
	ClientID        string     `json:"client_id"`
	UserID          string     `json:"user_id"`
	Scope           string     `json:"scope"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
	RotatedFromHash *string    `json:"-"`
}

// AuditEvent is an append-only record of a security-relevant action.
type AuditEvent struct {
	ID        string                 `json:"id"`
	TenantID  string                 `json:"tenant_id"`
	ActorType string                 `json:"actor_type"` // admin, user, client, system
	ActorID   *string                `json:"actor_id,omitempty"`
	Type      string                 `json:"type"`
	IP        *string                `json:"ip,omitempty"`
	UserAgent *string                `json:"user_agent,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	Data      map[string]interface{} `json:"data"`
}

// AdminKey is a platform-level API key.
type AdminKey struct {
	ID        string    `json:"id"`
	KeyHash   string    `json:"-"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy *string   `json:"created_by,omitempty"`
}

// RbacTuple is one Casbin policy ("p") or grouping ("g") row.
type RbacTuple struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	TupleType string    `json:"tuple_type"` // p, g
	V0        string    `json:"v0"`
	V1        string    `json:"v1"`
	V2        string    `json:"v2"`
	V3        *string   `json:"v3,omitempty"`
	V4        *string   `json:"v4,omitempty"`
	V5        *string   `json:"v5,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenKind distinguishes the three token shapes minted by the token service.
type TokenKind string

const (
	TokenKindIdentity     TokenKind = "identity"
	TokenKindTenantAccess TokenKind = "tenant_access"
	TokenKindRefresh      TokenKind = "refresh"
)

// TokenClaims is the superset of fields carried across the three token kinds.
type TokenClaims struct {
	TokenType   TokenKind              `json:"typ"`
	Issuer      string                 `json:"iss"`
	Subject     string                 `json:"sub"`
	Email       string                 `json:"email,omitempty"`
	Name        string                 `json:"name,omitempty"`
	Audience    string                 `json:"aud"`
	TenantID    string                 `json:"tenant_id,omitempty"`
	Roles       []string               `json:"roles,omitempty"`
	Permissions []string               `json:"permissions,omitempty"`
	Custom      map[string]interface{} `json:"custom,omitempty"`
	IssuedAt    int64                  `json:"iat"`
	ExpiresAt   int64                  `json:"exp"`
}

// ResolvedRole is the cached projection of a user's roles/permissions in a tenant.
type ResolvedRole struct {
	RoleID      string   `json:"role_id"`
	RoleName    string   `json:"role_name"`
	ServiceID   string   `json:"service_id"`
	Permissions []string `json:"permissions"`
}

// ExchangeResult is the outcome of the identity->tenant-access exchange.
type ExchangeResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// IntrospectResult is the normalized introspection response shape.
type IntrospectResult struct {
	Active      bool     `json:"active"`
	Subject     string   `json:"sub,omitempty"`
	Email       string   `json:"email,omitempty"`
	TenantID    string   `json:"tenant_id,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	ExpiresAt   int64    `json:"exp,omitempty"`
	IssuedAt    int64    `json:"iat,omitempty"`
	Issuer      string   `json:"iss,omitempty"`
	Audience    string   `json:"aud,omitempty"`
}

// AuthorizeRequest is an OAuth2/OIDC authorize request as seen by the broker.
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        string
	State        string
	Nonce        string
}

// TokenRequest is a /token grant request.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	RefreshToken string
	ClientID     string
	ClientSecret string
	Scope        string
}

// TokenResponse mirrors the standard OAuth2 token response body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// UserInfo is the OIDC userinfo response shape.
type UserInfo struct {
	Subject     string `json:"sub"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"name,omitempty"`
}

// AuditFilters is the optional-field filter set for AuditEventStore.List.
type AuditFilters struct {
	Type      *string
	ActorType *string
	ActorID   *string
	Since     *time.Time
	Until     *time.Time
}

// RbacFilters is the optional-field filter set used when listing policy tuples.
type RbacFilters struct {
	TupleType *string
	V0        *string
}
