package core

import (
	"context"
	"time"
)

// Clock provides time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock is the production clock implementation.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// Config holds process-wide configuration, loaded once at startup.
type Config struct {
	DatabaseURL             string
	CacheURL                string
	JWTIssuer               string
	JWTSigningKey           string // HS256 shared secret, if configured
	JWTPrivateKeyPEM        string // RS256 private key, if configured
	IdpURL                  string
	IdpRealm                string
	AdminClientID           string
	AdminClientSecret       string
	CorePublicURL           string
	PortalURL               string
	WebhookDefaultSecret    string
	PlatformAdminEmails     []string
	PasswordResetHMACKey    string
	OidcStateHMACKey        string
	SettingsEncryptionKey   []byte // 32 bytes, AES-256-GCM
	AccessTokenTTL          time.Duration
	RefreshTokenTTL         time.Duration
	RoleCacheTTL            time.Duration
	InvitationTTL           time.Duration
	ActionDefaultTimeout    time.Duration
	ScriptCacheCapacity     int
	HTTPAddr                string
	GRPCAddr                string
	AutoMigrate             bool
}

// IsPlatformAdmin reports whether email is on the process-wide admin allowlist.
func (c Config) IsPlatformAdmin(email string) bool {
	for _, e := range c.PlatformAdminEmails {
		if e == email {
			return true
		}
	}
	return false
}

// Core aggregates every collaborator, wired together by cmd/auth9core/main.go.
type Core struct {
	Config     Config
	Store      Store
	Cache      RoleCache
	Clock      Clock
	KeyManager KeyManager

	TokenService     TokenService
	AuthzEngine      AuthorizationEngine
	OidcBroker       OidcBroker
	ScimServer       ScimServer
	ActionEngine     ActionEngine
	WebhookDispatcher WebhookDispatcher
	SecurityDetector SecurityDetector
	InvitationService InvitationService
	ConnectorResolver ConnectorResolver
	AuditSink        AuditSink
}

// NewCore constructs a Core with its process-wide, rarely-substituted fields set.
// Services are wired onto the returned value by the caller, mirroring the
// post-construction wiring pattern used throughout cmd/auth9core/main.go.
func NewCore(cfg Config, store Store, auditSink AuditSink) (*Core, error) {
	return &Core{
		Config:    cfg,
		Store:     store,
		AuditSink: auditSink,
		Clock:     RealClock{},
	}, nil
}

// Store is the persistence facade: one narrow repository per aggregate.
type Store interface {
	Tenants() TenantStore
	Users() UserStore
	TenantUsers() TenantUserStore
	Services() ServiceStore
	Clients() ClientStore
	Permissions() PermissionStore
	Roles() RoleStore
	RolePermissions() RolePermissionStore
	UserTenantRoles() UserTenantRoleStore
	AbacPolicySets() AbacPolicySetStore
	Invitations() InvitationStore
	LoginEvents() LoginEventStore
	SecurityAlerts() SecurityAlertStore
	Webhooks() WebhookStore
	Actions() ActionStore
	SsoConnectors() SsoConnectorStore
	ScimGroupMappings() ScimGroupMappingStore
	ScimProvisioningLogs() ScimProvisioningLogStore
	SigningKeys() SigningKeyStore
	RefreshTokens() RefreshTokenStore
	AuditEvents() AuditEventStore
	AdminKeys() AdminKeyStore

	// RunInTransaction executes fn inside a single database transaction,
	// used for cascade deletes and other multi-row mutations (spec.md §5).
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type TenantStore interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id string) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	Update(ctx context.Context, tenant *Tenant) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit int, cursor string) ([]*Tenant, string, error)
}

type UserStore interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByExternalIdpID(ctx context.Context, externalIdpID string) (*User, error)
	GetByScimExternalID(ctx context.Context, scimExternalID string) (*User, error)
	Update(ctx context.Context, user *User) error
	List(ctx context.Context, limit int, cursor string) ([]*User, string, error)
	Search(ctx context.Context, predicate func(*User) bool, limit int, cursor string) ([]*User, string, error)
}

type TenantUserStore interface {
	Create(ctx context.Context, tu *TenantUser) error
	Get(ctx context.Context, userID, tenantID string) (*TenantUser, error)
	ListByTenant(ctx context.Context, tenantID string, limit int, cursor string) ([]*TenantUser, string, error)
	Update(ctx context.Context, tu *TenantUser) error
	Delete(ctx context.Context, userID, tenantID string) error
}

type ServiceStore interface {
	Create(ctx context.Context, svc *Service) error
	GetByID(ctx context.Context, id string) (*Service, error)
	Update(ctx context.Context, svc *Service) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, tenantID *string, limit int, cursor string) ([]*Service, string, error)
}

type ClientStore interface {
	Create(ctx context.Context, client *Client) error
	GetByID(ctx context.Context, id string) (*Client, error)
	GetByClientID(ctx context.Context, clientID string) (*Client, error)
	Update(ctx context.Context, client *Client) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, serviceID string, limit int, cursor string) ([]*Client, string, error)
}

type PermissionStore interface {
	Create(ctx context.Context, p *Permission) error
	GetByID(ctx context.Context, id string) (*Permission, error)
	GetByCode(ctx context.Context, serviceID, code string) (*Permission, error)
	List(ctx context.Context, serviceID string) ([]*Permission, error)
	Delete(ctx context.Context, id string) error
}

type RoleStore interface {
	Create(ctx context.Context, r *Role) error
	GetByID(ctx context.Context, id string) (*Role, error)
	Update(ctx context.Context, r *Role) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, serviceID string) ([]*Role, error)
}

type RolePermissionStore interface {
	Attach(ctx context.Context, roleID, permissionID string) error
	Detach(ctx context.Context, roleID, permissionID string) error
	PermissionsForRole(ctx context.Context, roleID string) ([]*Permission, error)
}

type UserTenantRoleStore interface {
	Grant(ctx context.Context, utr *UserTenantRole) error
	Revoke(ctx context.Context, id string) error
	ListForTenantUser(ctx context.Context, tenantUserID string) ([]*UserTenantRole, error)
}

type AbacPolicySetStore interface {
	GetByTenant(ctx context.Context, tenantID string) (*AbacPolicySet, error)
	Upsert(ctx context.Context, set *AbacPolicySet) error
	CreateVersion(ctx context.Context, v *AbacPolicySetVersion) error
	GetVersion(ctx context.Context, id string) (*AbacPolicySetVersion, error)
	ListVersions(ctx context.Context, policySetID string) ([]*AbacPolicySetVersion, error)
}

type InvitationStore interface {
	Create(ctx context.Context, inv *Invitation) error
	GetByID(ctx context.Context, tenantID, id string) (*Invitation, error)
	GetAndConsumeByTokenHash(ctx context.Context, tokenHash string) (*Invitation, error)
	GetPendingByEmail(ctx context.Context, tenantID, email string) (*Invitation, error)
	Update(ctx context.Context, inv *Invitation) error
	List(ctx context.Context, tenantID string, status *string, limit int, cursor string) ([]*Invitation, string, error)
	DeleteExpired(ctx context.Context, before time.Time) error
}

type LoginEventStore interface {
	Create(ctx context.Context, e *LoginEvent) error
	ListRecentByIP(ctx context.Context, ip string, since time.Time) ([]*LoginEvent, error)
	ListRecentByUser(ctx context.Context, userID string, limit int) ([]*LoginEvent, error)
	LastSuccessByUser(ctx context.Context, userID string) (*LoginEvent, error)
	DeleteOlderThan(ctx context.Context, before time.Time) error
}

type SecurityAlertStore interface {
	Create(ctx context.Context, a *SecurityAlert) error
	GetByID(ctx context.Context, id string) (*SecurityAlert, error)
	Resolve(ctx context.Context, id, resolvedBy string) error
	List(ctx context.Context, tenantID string, limit int, cursor string) ([]*SecurityAlert, string, error)
	DeleteOlderThan(ctx context.Context, before time.Time) error
}

type WebhookStore interface {
	Create(ctx context.Context, w *Webhook) error
	GetByID(ctx context.Context, tenantID, id string) (*Webhook, error)
	Update(ctx context.Context, w *Webhook) error
	Delete(ctx context.Context, tenantID, id string) error
	ListEnabledForEvent(ctx context.Context, tenantID, eventType string) ([]*Webhook, error)
	List(ctx context.Context, tenantID string) ([]*Webhook, error)
	RecordSuccess(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id string) (failureCount int, disabled bool, err error)
}

type ActionStore interface {
	Create(ctx context.Context, a *Action) error
	GetByID(ctx context.Context, tenantID, id string) (*Action, error)
	Update(ctx context.Context, a *Action) error
	Delete(ctx context.Context, tenantID, id string) error
	ListEnabledForTrigger(ctx context.Context, tenantID, triggerID string) ([]*Action, error)
	RecordExecution(ctx context.Context, id string, success bool, errMsg *string) error
}

type SsoConnectorStore interface {
	Create(ctx context.Context, c *EnterpriseSsoConnector) error
	GetByID(ctx context.Context, tenantID, id string) (*EnterpriseSsoConnector, error)
	Update(ctx context.Context, c *EnterpriseSsoConnector) error
	Delete(ctx context.Context, tenantID, id string) error
	List(ctx context.Context, tenantID string) ([]*EnterpriseSsoConnector, error)
	GetByDomain(ctx context.Context, domain string) (*EnterpriseSsoConnector, error)
}

type ScimGroupMappingStore interface {
	Create(ctx context.Context, m *ScimGroupRoleMapping) error
	GetByScimGroupID(ctx context.Context, tenantID, connectorID, scimGroupID string) (*ScimGroupRoleMapping, error)
	Update(ctx context.Context, m *ScimGroupRoleMapping) error
	Delete(ctx context.Context, tenantID, id string) error
	List(ctx context.Context, tenantID, connectorID string, limit int, cursor string) ([]*ScimGroupRoleMapping, string, error)
}

type ScimProvisioningLogStore interface {
	Create(ctx context.Context, e *ScimProvisioningLogEntry) error
	List(ctx context.Context, tenantID, connectorID string, limit int, cursor string) ([]*ScimProvisioningLogEntry, string, error)
}

type SigningKeyStore interface {
	Create(ctx context.Context, key *SigningKey) error
	GetActive(ctx context.Context, tenantID string) (*SigningKey, error)
	GetByKID(ctx context.Context, tenantID, kid string) (*SigningKey, error)
	ListActive(ctx context.Context, tenantID string) ([]*SigningKey, error)
	MarkInactive(ctx context.Context, tenantID, id string) error
	MarkRetired(ctx context.Context, tenantID, id string) error
}

type RefreshTokenStore interface {
	Create(ctx context.Context, token *RefreshToken) error
	GetByHash(ctx context.Context, tenantID, hash string) (*RefreshToken, error)
	Revoke(ctx context.Context, tenantID, hash string) error
	DeleteExpired(ctx context.Context, before time.Time) error
}

type AuditEventStore interface {
	Create(ctx context.Context, event *AuditEvent) error
	List(ctx context.Context, tenantID string, filters AuditFilters, limit int, cursor string) ([]*AuditEvent, string, error)
}

type AdminKeyStore interface {
	Create(ctx context.Context, key *AdminKey) error
	GetByHash(ctx context.Context, hash string) (*AdminKey, error)
	List(ctx context.Context) ([]*AdminKey, error)
	Delete(ctx context.Context, id string) error
}

// RoleCache is the read-through/write-through cache described in spec.md §5.
type RoleCache interface {
	Get(ctx context.Context, tenantID, userID, serviceID string) ([]ResolvedRole, bool)
	Set(ctx context.Context, tenantID, userID, serviceID string, roles []ResolvedRole, ttl time.Duration) error
	Invalidate(ctx context.Context, tenantID, userID string) error
}

// RbacEnforcer wraps the Casbin-backed RBAC policy store (rbac.Service).
// authz.Engine's layer 2 does not call it.
type RbacEnforcer interface {
	Enforce(ctx context.Context, tenantID, subject, object, action string) (bool, error)
	RolesForUser(ctx context.Context, tenantID, userID string) ([]string, error)
	AddPolicy(ctx context.Context, tenantID string, tuple RbacTuple) error
	RemovePolicy(ctx context.Context, tenantID string, tupleID string) error
	ListPolicies(ctx context.Context, tenantID string, filters RbacFilters) ([]RbacTuple, error)
}

// AbacEvaluator wraps the bespoke ABAC layer (authz layer 3).
type AbacEvaluator interface {
	Evaluate(doc *AbacDocument, action, resourceType string, attrs map[string]interface{}) AbacDecision
	Simulate(doc *AbacDocument, action, resourceType string, attrs map[string]interface{}) AbacDecision
}

// AbacDecision is the result of evaluating a policy document against a context.
type AbacDecision struct {
	Denied      bool
	MatchedAllow []string
	MatchedDeny  []string
}

// AuthorizationEngine composes the gate/RBAC/ABAC layers of spec.md §4.2.
type AuthorizationEngine interface {
	Authorize(ctx context.Context, req AuthorizeDecisionRequest) (AuthzDecision, error)
}

// AuthorizeDecisionRequest is the input to the layered authorization check.
type AuthorizeDecisionRequest struct {
	Claims       *TokenClaims
	Action       string
	ResourceType string
	TargetTenant string
	TargetUserID string
	RequestIP    string
}

// AuthzDecision is the layered engine's final verdict plus explanation.
type AuthzDecision struct {
	Allowed bool
	Reason  string
}

// AuditSink records security-relevant actions.
type AuditSink interface {
	Log(ctx context.Context, event *AuditEvent) error
}

// KeyManager handles signing-key lifecycle and signing operations.
type KeyManager interface {
	GenerateKey(ctx context.Context, tenantID, algorithm string) (*SigningKey, error)
	Sign(ctx context.Context, tenantID string, claims map[string]interface{}) (string, error)
	Verify(ctx context.Context, tenantID, token string) (map[string]interface{}, error)
	GetPublicJWKS(ctx context.Context, tenantID string) (map[string]interface{}, error)
}

// ConnectorResolver maps a login-hint domain to its SSO connector (repurposed
// from the teacher's host-based tenant resolver, see tenant/resolver.go).
type ConnectorResolver interface {
	ResolveByDomain(ctx context.Context, domain string) (*EnterpriseSsoConnector, error)
}

// TokenService mints and verifies the three token kinds (spec.md §4.1).
type TokenService interface {
	IssueIdentityToken(ctx context.Context, user *User, custom map[string]interface{}) (string, error)
	Exchange(ctx context.Context, identityToken, tenantID, clientID string) (*ExchangeResult, error)
	RotateRefreshToken(ctx context.Context, tenantID, oldRefreshToken string) (*ExchangeResult, error)
	Verify(ctx context.Context, token string) (*TokenClaims, error)
	Introspect(ctx context.Context, token string) (*IntrospectResult, error)
}

// OidcBroker drives the authorization-code flow against the upstream IdP
// (spec.md §4.3).
type OidcBroker interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (redirectURL string, err error)
	Callback(ctx context.Context, code, state string) (redirectURL string, err error)
	RefreshIdentity(ctx context.Context, idpRefreshToken string) (string, error)
	LogoutURL(ctx context.Context, idTokenHint, postLogoutRedirectURI, state string) string
}

// ScimServer implements the SCIM 2.0 surface of spec.md §4.4.
type ScimServer interface {
	CreateUser(ctx context.Context, rctx ScimRequestContext, attrs map[string]interface{}) (map[string]interface{}, error)
	ReplaceUser(ctx context.Context, rctx ScimRequestContext, id string, attrs map[string]interface{}) (map[string]interface{}, error)
	PatchUser(ctx context.Context, rctx ScimRequestContext, id string, operations []ScimPatchOp) (map[string]interface{}, error)
	DeleteUser(ctx context.Context, rctx ScimRequestContext, id string) error
	GetUser(ctx context.Context, rctx ScimRequestContext, id string) (map[string]interface{}, error)
	ListUsers(ctx context.Context, rctx ScimRequestContext, filter string, startIndex, count int) (ScimListResponse, error)
	Bulk(ctx context.Context, rctx ScimRequestContext, ops []ScimBulkOp, failOnErrors int) ([]ScimBulkResult, error)
}

// ScimRequestContext is extracted from the provisioning token on every SCIM request.
type ScimRequestContext struct {
	TenantID    string
	ConnectorID string
	TokenID     string
	BaseURL     string
}

// ScimPatchOp is one entry in a SCIM PATCH request's "Operations" array.
type ScimPatchOp struct {
	Op    string // add, replace, remove
	Path  string
	Value interface{}
}

// ScimListResponse mirrors the SCIM ListResponse schema.
type ScimListResponse struct {
	TotalResults int
	StartIndex   int
	ItemsPerPage int
	Resources    []map[string]interface{}
}

// ScimBulkOp is one entry in a SCIM /Bulk request.
type ScimBulkOp struct {
	Method string
	Path   string
	BulkID string
	Data   map[string]interface{}
}

// ScimBulkResult is one entry in a SCIM /Bulk response.
type ScimBulkResult struct {
	BulkID   string
	Location string
	Status   int
	Response map[string]interface{}
}

// ActionEngine runs tenant-authored scripts on lifecycle triggers (spec.md §4.5).
type ActionEngine interface {
	RunPipeline(ctx context.Context, tenantID, triggerID string, actionCtx ActionContext) (ActionContext, error)
}

// ActionContext is bound into the script sandbox as the global "context".
type ActionContext struct {
	User    ActionUser
	Tenant  ActionTenant
	Request ActionRequest
	Claims  map[string]interface{}
}

type ActionUser struct {
	ID          string
	Email       string
	DisplayName string
	MFAEnabled  bool
}

type ActionTenant struct {
	ID   string
	Slug string
	Name string
}

type ActionRequest struct {
	IP        string
	UserAgent string
	Timestamp time.Time
}

// WebhookDispatcher fans out tenant events to HTTP endpoints (spec.md §4.6).
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, tenantID, eventType string, data map[string]interface{}) error
	Test(ctx context.Context, webhookID string) (WebhookTestResult, error)
}

// WebhookTestResult is returned by the webhook test endpoint.
type WebhookTestResult struct {
	Success        bool
	StatusCode     *int
	ResponseBody   *string
	ResponseTimeMs *int64
	Error          *string
}

// SecurityDetector runs online pattern detection over the login-event stream
// (spec.md §4.7).
type SecurityDetector interface {
	Analyze(ctx context.Context, event *LoginEvent) ([]*SecurityAlert, error)
}

// InvitationService drives the invitation create/accept workflow.
type InvitationService interface {
	Create(ctx context.Context, tenantID, email string, roleIDs []string, invitedBy string) (inv *Invitation, clearToken string, err error)
	Accept(ctx context.Context, clearToken string) (*Invitation, error)
	Revoke(ctx context.Context, tenantID, id string) error
}
