package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/auth9/auth9core/core"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// maxRoleDepth bounds the single-parent inheritance walk so a mis-imported
// policy document can never spin ResolveRoles into an infinite loop.
const maxRoleDepth = 16

// Service implements core.RbacEnforcer on top of Casbin, and implements
// tokens.RoleResolver by walking role inheritance with a read-through cache.
// Casbin's domain is the tenant ID; obj is "resource_type:service_id".
type Service struct {
	enforcer *casbin.Enforcer
	db       *gorm.DB

	roles       core.RoleStore
	rolePerms   core.RolePermissionStore
	userRoles   core.UserTenantRoleStore
	tenantUsers core.TenantUserStore
	cache       core.RoleCache
	cacheTTL    time.Duration
}

func NewService(db *gorm.DB, roles core.RoleStore, rolePerms core.RolePermissionStore, userRoles core.UserTenantRoleStore, tenantUsers core.TenantUserStore, cache core.RoleCache, cacheTTL time.Duration) (*Service, error) {
	m, err := model.NewModelFromString(`
		[request_definition]
		r = sub, dom, obj, act

		[policy_definition]
		p = sub, dom, obj, act

		[role_definition]
		g = _, _, _

		[policy_effect]
		e = some(where (p.eft == allow))

		[matchers]
		m = g(r.sub, p.sub, r.dom) && r.dom == p.dom && r.obj == p.obj && r.act == p.act
	`)
	if err != nil {
		return nil, fmt.Errorf("create casbin model: %w", err)
	}

	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}

	return &Service{
		enforcer:    enforcer,
		db:          db,
		roles:       roles,
		rolePerms:   rolePerms,
		userRoles:   userRoles,
		tenantUsers: tenantUsers,
		cache:       cache,
		cacheTTL:    cacheTTL,
	}, nil
}

// Enforce checks whether subject can perform action on object within tenantID.
func (s *Service) Enforce(ctx context.Context, tenantID, subject, object, action string) (bool, error) {
	if err := s.loadPolicies(ctx, tenantID); err != nil {
		return false, err
	}
	return s.enforcer.Enforce(subject, tenantID, object, action)
}

// RolesForUser returns the Casbin grouping roles assigned to a user.
func (s *Service) RolesForUser(ctx context.Context, tenantID, userID string) ([]string, error) {
	var tuples []core.RbacTuple
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND tuple_type = 'g' AND v0 = ?", tenantID, fmt.Sprintf("user:%s", userID)).
		Find(&tuples).Error; err != nil {
		return nil, err
	}

	roles := make([]string, len(tuples))
	for i, t := range tuples {
		roles[i] = t.V2
	}
	return roles, nil
}

// AddPolicy adds a policy or grouping tuple.
func (s *Service) AddPolicy(ctx context.Context, tenantID string, tuple core.RbacTuple) error {
	row := &core.RbacTuple{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		TupleType: tuple.TupleType,
		V0:        tuple.V0,
		V1:        tuple.V1,
		V2:        tuple.V2,
		V3:        tuple.V3,
		V4:        tuple.V4,
		V5:        tuple.V5,
		CreatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Create(row).Error
}

// RemovePolicy removes a tuple by ID.
func (s *Service) RemovePolicy(ctx context.Context, tenantID, tupleID string) error {
	return s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", tupleID, tenantID).Delete(&core.RbacTuple{}).Error
}

// ListPolicies lists policy/grouping tuples, optionally filtered by type and subject.
func (s *Service) ListPolicies(ctx context.Context, tenantID string, filters core.RbacFilters) ([]core.RbacTuple, error) {
	var tuples []core.RbacTuple
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC")

	if filters.TupleType != nil {
		query = query.Where("tuple_type = ?", *filters.TupleType)
	}
	if filters.V0 != nil {
		query = query.Where("v0 = ?", *filters.V0)
	}

	if err := query.Find(&tuples).Error; err != nil {
		return nil, err
	}
	return tuples, nil
}

func (s *Service) loadPolicies(ctx context.Context, tenantID string) error {
	var tuples []core.RbacTuple
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&tuples).Error; err != nil {
		return err
	}

	s.enforcer.ClearPolicy()

	for _, t := range tuples {
		if t.TupleType == "p" {
			v3 := ""
			if t.V3 != nil {
				v3 = *t.V3
			}
			s.enforcer.AddPolicy(t.V0, t.V1, t.V2, v3)
		} else if t.TupleType == "g" {
			s.enforcer.AddGroupingPolicy(t.V0, t.V2, t.V1)
		}
	}

	return nil
}

// ResolveRoles implements tokens.RoleResolver: a user's effective roles and
// flattened permissions in a tenant, restricted to one service, read-through
// the role cache (spec.md §5).
func (s *Service) ResolveRoles(ctx context.Context, tenantID, userID, serviceID string) ([]core.ResolvedRole, error) {
	if cached, ok := s.cache.Get(ctx, tenantID, userID, serviceID); ok {
		return cached, nil
	}

	tenantUser, err := s.tenantUsers.Get(ctx, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("get tenant user: %w", err)
	}

	grants, err := s.userRoles.ListForTenantUser(ctx, tenantUser.ID)
	if err != nil {
		return nil, fmt.Errorf("list role grants: %w", err)
	}

	var resolved []core.ResolvedRole
	for _, grant := range grants {
		role, err := s.roles.GetByID(ctx, grant.RoleID)
		if err != nil {
			return nil, fmt.Errorf("get role: %w", err)
		}
		if role.ServiceID != serviceID {
			continue
		}

		permissions, err := s.flattenPermissions(ctx, role)
		if err != nil {
			return nil, err
		}

		resolved = append(resolved, core.ResolvedRole{
			RoleID:      role.ID,
			RoleName:    role.Name,
			ServiceID:   role.ServiceID,
			Permissions: permissions,
		})
	}

	if err := s.cache.Set(ctx, tenantID, userID, serviceID, resolved, s.cacheTTL); err != nil {
		return resolved, nil // cache write failures are best-effort, never fail the request
	}

	return resolved, nil
}

// flattenPermissions walks the single-parent inheritance chain of role,
// collecting every permission code along the way.
func (s *Service) flattenPermissions(ctx context.Context, role *core.Role) ([]string, error) {
	seen := make(map[string]struct{})
	visited := make(map[string]struct{})
	var codes []string

	current := role
	for depth := 0; current != nil && depth < maxRoleDepth; depth++ {
		if _, ok := visited[current.ID]; ok {
			break // cycle guard; role graphs are expected to be acyclic (authz/roles.go enforces this on write)
		}
		visited[current.ID] = struct{}{}

		perms, err := s.rolePerms.PermissionsForRole(ctx, current.ID)
		if err != nil {
			return nil, fmt.Errorf("list role permissions: %w", err)
		}
		for _, p := range perms {
			if _, ok := seen[p.Code]; ok {
				continue
			}
			seen[p.Code] = struct{}{}
			codes = append(codes, p.Code)
		}

		if current.ParentRoleID == nil {
			break
		}
		parent, err := s.roles.GetByID(ctx, *current.ParentRoleID)
		if err != nil {
			return nil, fmt.Errorf("get parent role: %w", err)
		}
		current = parent
	}

	return codes, nil
}
