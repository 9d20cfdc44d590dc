// Package store provides a GORM-backed implementation of core.Store,
// supporting both Postgres (production) and SQLite (tests).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/auth9/auth9core/core"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// GormStore implements core.Store over a *gorm.DB.
type GormStore struct {
	db *gorm.DB
}

// setUUIDBeforeCreate assigns a UUID to any model whose string "ID"
// field is still empty, so callers never need to generate IDs
// themselves. Works against both SQLite and Postgres.
func setUUIDBeforeCreate(db *gorm.DB) {
	if db.Statement.Schema == nil {
		return
	}
	for _, field := range db.Statement.Schema.Fields {
		if field.Name == "ID" && field.DBName == "id" && field.PrimaryKey {
			val, zero := field.ValueOf(db.Statement.Context, db.Statement.ReflectValue)
			if zero || val == nil {
				_ = field.Set(db.Statement.Context, db.Statement.ReflectValue, uuid.New().String())
				return
			}
			if s, ok := val.(string); ok && s == "" {
				_ = field.Set(db.Statement.Context, db.Statement.ReflectValue, uuid.New().String())
			}
			return
		}
	}
}

// New opens a GORM connection against a Postgres databaseURL.
func New(databaseURL string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	registerUUIDHook(db)
	return &GormStore{db: db}, nil
}

// NewSqlite opens a GORM connection against a SQLite databaseURL (used
// for single-binary deployments and tests).
func NewSqlite(databaseURL string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	registerUUIDHook(db)
	return &GormStore{db: db}, nil
}

// NewWithDB wraps an already-open *gorm.DB, used by tests to inject an
// in-memory SQLite database.
func NewWithDB(db *gorm.DB) *GormStore {
	registerUUIDHook(db)
	return &GormStore{db: db}
}

func registerUUIDHook(db *gorm.DB) {
	db.Callback().Create().Before("gorm:before_create").Register("store:set_uuid", setUUIDBeforeCreate)
}

// DB returns the underlying GORM DB.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// AutoMigrate creates or updates every table backing core.Store.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(
		&Tenant{},
		&User{},
		&TenantUser{},
		&Service{},
		&Client{},
		&Permission{},
		&Role{},
		&RolePermission{},
		&UserTenantRole{},
		&AbacPolicySet{},
		&AbacPolicySetVersion{},
		&Invitation{},
		&LoginEvent{},
		&SecurityAlert{},
		&Webhook{},
		&Action{},
		&EnterpriseSsoConnector{},
		&SsoConnectorDomain{},
		&ScimGroupRoleMapping{},
		&ScimProvisioningLogEntry{},
		&SigningKey{},
		&RefreshToken{},
		&AuditEvent{},
		&AdminKey{},
		&RbacTuple{},
	)
}

func (s *GormStore) Tenants() core.TenantStore                     { return &tenantStore{db: s.db} }
func (s *GormStore) Users() core.UserStore                         { return &userStore{db: s.db} }
func (s *GormStore) TenantUsers() core.TenantUserStore             { return &tenantUserStore{db: s.db} }
func (s *GormStore) Services() core.ServiceStore                   { return &serviceStore{db: s.db} }
func (s *GormStore) Clients() core.ClientStore                     { return &clientStore{db: s.db} }
func (s *GormStore) Permissions() core.PermissionStore             { return &permissionStore{db: s.db} }
func (s *GormStore) Roles() core.RoleStore                         { return &roleStore{db: s.db} }
func (s *GormStore) RolePermissions() core.RolePermissionStore {
	return &rolePermissionStore{db: s.db}
}
func (s *GormStore) UserTenantRoles() core.UserTenantRoleStore {
	return &userTenantRoleStore{db: s.db}
}
func (s *GormStore) AbacPolicySets() core.AbacPolicySetStore {
	return &abacPolicySetStore{db: s.db}
}
func (s *GormStore) Invitations() core.InvitationStore       { return &invitationStore{db: s.db} }
func (s *GormStore) LoginEvents() core.LoginEventStore       { return &loginEventStore{db: s.db} }
func (s *GormStore) SecurityAlerts() core.SecurityAlertStore { return &securityAlertStore{db: s.db} }
func (s *GormStore) Webhooks() core.WebhookStore             { return &webhookStore{db: s.db} }
func (s *GormStore) Actions() core.ActionStore               { return &actionStore{db: s.db} }
func (s *GormStore) SsoConnectors() core.SsoConnectorStore   { return &ssoConnectorStore{db: s.db} }
func (s *GormStore) ScimGroupMappings() core.ScimGroupMappingStore {
	return &scimGroupMappingStore{db: s.db}
}
func (s *GormStore) ScimProvisioningLogs() core.ScimProvisioningLogStore {
	return &scimProvisioningLogStore{db: s.db}
}
func (s *GormStore) SigningKeys() core.SigningKeyStore     { return &signingKeyStore{db: s.db} }
func (s *GormStore) RefreshTokens() core.RefreshTokenStore { return &refreshTokenStore{db: s.db} }
func (s *GormStore) AuditEvents() core.AuditEventStore     { return &auditEventStore{db: s.db} }
func (s *GormStore) AdminKeys() core.AdminKeyStore         { return &adminKeyStore{db: s.db} }

// RunInTransaction executes fn with a store bound to a single DB
// transaction, used for cascade deletes and other multi-row mutations
// (spec.md §5).
func (s *GormStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txStore := &GormStore{db: tx}
		return fn(context.WithValue(ctx, txStoreKey{}, txStore))
	})
}

type txStoreKey struct{}

// FromContext returns the transactional store bound by RunInTransaction,
// if any, or the given fallback store otherwise.
func FromContext(ctx context.Context, fallback core.Store) core.Store {
	if tx, ok := ctx.Value(txStoreKey{}).(*GormStore); ok {
		return tx
	}
	return fallback
}

// CleanupExpired purges rows that are no longer useful once past
// before: refresh tokens, stale login events, security alerts created
// before it (resolved or not), and invitations that expired without being
// accepted.
func (s *GormStore) CleanupExpired(ctx context.Context, before time.Time) error {
	if err := s.RefreshTokens().DeleteExpired(ctx, before); err != nil {
		return fmt.Errorf("cleanup refresh tokens: %w", err)
	}
	if err := s.Invitations().DeleteExpired(ctx, before); err != nil {
		return fmt.Errorf("cleanup invitations: %w", err)
	}
	if err := s.LoginEvents().DeleteOlderThan(ctx, before); err != nil {
		return fmt.Errorf("cleanup login events: %w", err)
	}
	if err := s.SecurityAlerts().DeleteOlderThan(ctx, before); err != nil {
		return fmt.Errorf("cleanup security alerts: %w", err)
	}
	return nil
}

func formatCursor(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseCursor(cursor string) (time.Time, bool) {
	if cursor == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, cursor)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
