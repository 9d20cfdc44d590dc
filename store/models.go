package store

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

func marshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// StringSlice adapts []string to a JSONB column.
type StringSlice []string

func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = []string{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return nil
	}
}

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal(s)
}

// StringMap adapts map[string]string to a JSONB column.
type StringMap map[string]string

func (m *StringMap) Scan(value interface{}) error {
	if value == nil {
		*m = StringMap{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return nil
	}
}

func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

// Tenant is the GORM model for tenants.
type Tenant struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Slug      string `gorm:"uniqueIndex;not null"`
	Name      string `gorm:"not null"`
	LogoURL   *string
	Status    string    `gorm:"not null"`
	Settings  []byte    `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// User is the GORM model for identities materialized from the upstream IdP.
type User struct {
	ID                string `gorm:"type:uuid;primaryKey"`
	ExternalIdpID     string `gorm:"uniqueIndex;not null"`
	Email             string `gorm:"uniqueIndex;not null"`
	DisplayName       *string
	AvatarURL         *string
	LockedUntil       *time.Time
	ScimExternalID    *string `gorm:"index"`
	ScimProvisionedBy *string
	CreatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TenantUser is the GORM model linking a user to a tenant with an
// administration role, separate from RBAC role grants.
type TenantUser struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	UserID       string `gorm:"type:uuid;not null;uniqueIndex:idx_user_tenant"`
	TenantID     string `gorm:"type:uuid;not null;index;uniqueIndex:idx_user_tenant"`
	RoleInTenant string `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// Service is the GORM model for relying applications.
type Service struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	TenantID     *string `gorm:"type:uuid;index"`
	Name         string  `gorm:"not null"`
	BaseURL      *string
	RedirectURIs StringSlice `gorm:"type:jsonb;not null;default:'[]'"`
	LogoutURIs   StringSlice `gorm:"type:jsonb;not null;default:'[]'"`
	Status       string      `gorm:"not null"`
	CreatedAt    time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// Client is the GORM model for OAuth client credentials.
type Client struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	ServiceID  string `gorm:"type:uuid;not null;index"`
	ClientID   string `gorm:"uniqueIndex;not null"`
	SecretHash string `gorm:"not null"`
	Name       *string
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// Permission is the GORM model for a service-scoped capability string.
type Permission struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	ServiceID   string `gorm:"type:uuid;not null;uniqueIndex:idx_service_code"`
	Code        string `gorm:"not null;uniqueIndex:idx_service_code"`
	Name        string `gorm:"not null"`
	Description *string
}

// Role is the GORM model for a single-parent-inheriting RBAC role.
type Role struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	ServiceID    string `gorm:"type:uuid;not null;index"`
	Name         string `gorm:"not null"`
	Description  *string
	ParentRoleID *string   `gorm:"type:uuid;index"`
	CreatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// RolePermission is the GORM join model attaching a permission to a role.
type RolePermission struct {
	RoleID       string `gorm:"type:uuid;primaryKey"`
	PermissionID string `gorm:"type:uuid;primaryKey"`
}

// UserTenantRole is the GORM model granting a role, scoped to one service,
// within a tenant.
type UserTenantRole struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	TenantUserID string `gorm:"type:uuid;not null;index"`
	RoleID       string `gorm:"type:uuid;not null;index"`
	GrantedBy    *string
	GrantedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// AbacPolicySet is the GORM model for a tenant's single active ABAC document.
type AbacPolicySet struct {
	ID                 string `gorm:"type:uuid;primaryKey"`
	TenantID           string `gorm:"type:uuid;not null;uniqueIndex"`
	Mode               string `gorm:"not null"`
	PublishedVersionID *string `gorm:"type:uuid"`
}

// AbacPolicySetVersion is the GORM model for one immutable policy revision.
type AbacPolicySetVersion struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	PolicySetID string `gorm:"type:uuid;not null;index;uniqueIndex:idx_policyset_version"`
	VersionNo   int    `gorm:"not null;uniqueIndex:idx_policyset_version"`
	PolicyJSON  []byte `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// Invitation is the GORM model for a pending tenant-membership offer.
type Invitation struct {
	ID         string      `gorm:"type:uuid;primaryKey"`
	TenantID   string      `gorm:"type:uuid;not null;index"`
	Email      string      `gorm:"not null;index"`
	RoleIDs    StringSlice `gorm:"type:jsonb;not null;default:'[]'"`
	InvitedBy  string      `gorm:"not null"`
	TokenHash  string      `gorm:"uniqueIndex;not null"`
	Status     string      `gorm:"not null;index"`
	ExpiresAt  time.Time   `gorm:"not null"`
	AcceptedAt *time.Time
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// LoginEvent is the GORM model for an append-only authentication attempt record.
type LoginEvent struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	UserID        *string `gorm:"type:uuid;index"`
	Email         *string
	TenantID      *string `gorm:"type:uuid;index"`
	Type          string  `gorm:"not null"`
	IP            *string `gorm:"index"`
	UserAgent     *string
	DeviceType    *string
	Location      *string
	SessionID     *string
	FailureReason *string
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

// SecurityAlert is the GORM model for a detector finding.
type SecurityAlert struct {
	ID         string  `gorm:"type:uuid;primaryKey"`
	UserID     *string `gorm:"type:uuid;index"`
	TenantID   *string `gorm:"type:uuid;index"`
	Type       string  `gorm:"not null"`
	Severity   string  `gorm:"not null"`
	Details    []byte  `gorm:"type:jsonb;not null;default:'{}'"`
	ResolvedBy *string
	ResolvedAt *time.Time
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

// Webhook is the GORM model for a tenant-configured event delivery target.
type Webhook struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	TenantID        string `gorm:"type:uuid;not null;index"`
	Name            string `gorm:"not null"`
	URL             string `gorm:"not null"`
	Secret          *string
	Events          StringSlice `gorm:"type:jsonb;not null;default:'[]'"`
	Enabled         bool        `gorm:"not null;default:true"`
	FailureCount    int         `gorm:"not null;default:0"`
	LastTriggeredAt *time.Time
}

// Action is the GORM model for one tenant-authored lifecycle script.
type Action struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	TenantID       string `gorm:"type:uuid;not null;index"`
	Name           string `gorm:"not null"`
	TriggerID      string `gorm:"not null;index"`
	Script         string `gorm:"not null"`
	Enabled        bool   `gorm:"not null;default:true"`
	ExecutionOrder int    `gorm:"not null;default:0"`
	TimeoutMs      int    `gorm:"not null;default:0"`
	ExecutionCount int64  `gorm:"not null;default:0"`
	ErrorCount     int64  `gorm:"not null;default:0"`
	LastError      *string
}

// EnterpriseSsoConnector is the GORM model for a tenant-configured upstream
// SAML/OIDC connector. Domain-to-connector mapping is unique globally.
type EnterpriseSsoConnector struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	TenantID      string `gorm:"type:uuid;not null;index"`
	Alias         string `gorm:"not null"`
	ProviderType  string `gorm:"not null"`
	Priority      int    `gorm:"not null;default:0"`
	Enabled       bool   `gorm:"not null;default:true"`
	ExternalAlias string `gorm:"not null"`
	Config        StringMap   `gorm:"type:jsonb;not null;default:'{}'"`
	Domains       StringSlice `gorm:"type:jsonb;not null;default:'[]'"`
}

// SsoConnectorDomain is the GORM join table enforcing global domain
// uniqueness for EnterpriseSsoConnector.Domains, which GORM can't express
// as a uniqueIndex directly on a JSONB array.
type SsoConnectorDomain struct {
	Domain      string `gorm:"primaryKey"`
	ConnectorID string `gorm:"type:uuid;not null;index"`
}

// ScimGroupRoleMapping is the GORM model surfacing a SCIM group as a role mapping.
type ScimGroupRoleMapping struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	TenantID    string `gorm:"type:uuid;not null;index"`
	ConnectorID string `gorm:"type:uuid;not null;index"`
	ScimGroupID string `gorm:"not null"`
	DisplayName *string
	RoleID      string `gorm:"type:uuid;not null"`
}

// ScimProvisioningLogEntry is the GORM model recording one SCIM operation.
type ScimProvisioningLogEntry struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	TenantID        string `gorm:"type:uuid;not null;index"`
	ConnectorID     string `gorm:"type:uuid;not null;index"`
	Operation       string `gorm:"not null"`
	ResourceType    string `gorm:"not null"`
	ScimResourceID  *string
	Auth9ResourceID *string
	Status          string `gorm:"not null"`
	ErrorDetail     *string
	ResponseStatus  *int
	CreatedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

// SigningKey is the GORM model for a JWT signing key.
type SigningKey struct {
	ID                  string `gorm:"type:uuid;primaryKey"`
	TenantID            string `gorm:"type:uuid;not null;index;uniqueIndex:idx_tenant_kid"`
	KID                 string `gorm:"not null;uniqueIndex:idx_tenant_kid"`
	Algorithm           string `gorm:"not null"`
	PublicJWK           []byte `gorm:"type:jsonb"`
	PrivateKeyEncrypted []byte `gorm:"type:bytea"`
	Status              string    `gorm:"not null"`
	CreatedAt           time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	NotBefore           time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	NotAfter            time.Time `gorm:"not null"`
}

// RefreshToken is the GORM model tracking an opaque refresh-token lineage.
type RefreshToken struct {
	TokenHash       string `gorm:"primaryKey"`
	TenantID        string `gorm:"type:uuid;not null;index"`
	ClientID        string `gorm:"not null"`
	UserID          string `gorm:"type:uuid;not null"`
	Scope           string `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ExpiresAt       time.Time `gorm:"not null;index"`
	RevokedAt       *time.Time `gorm:"index"`
	RotatedFromHash *string
}

// AuditEvent is the GORM model for an append-only security-relevant action record.
type AuditEvent struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	TenantID  string `gorm:"type:uuid;not null;index"`
	ActorType string `gorm:"not null"`
	ActorID   *string
	EventType string `gorm:"not null"`
	IP        *string
	UserAgent *string
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
	Data      []byte    `gorm:"type:jsonb;not null;default:'{}'"`
}

// AdminKey is the GORM model for a platform-level API key.
type AdminKey struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	KeyHash   string `gorm:"uniqueIndex;not null"`
	Name      string `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedBy *string
}

// RbacTuple is the GORM model for one Casbin policy ("p") or grouping ("g") row.
type RbacTuple struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	TenantID  string `gorm:"type:uuid;not null;index"`
	TupleType string `gorm:"not null"`
	V0        string `gorm:"not null"`
	V1        string `gorm:"not null"`
	V2        string `gorm:"not null"`
	V3        *string
	V4        *string
	V5        *string
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (RbacTuple) TableName() string { return "rbac_tuples" }
