package store

import (
	"context"

	"github.com/auth9/auth9core/core"
	"gorm.io/gorm"
)

// permissionStore implements core.PermissionStore.
type permissionStore struct {
	db *gorm.DB
}

func (s *permissionStore) Create(ctx context.Context, p *core.Permission) error {
	model := &Permission{
		ID:          p.ID,
		ServiceID:   p.ServiceID,
		Code:        p.Code,
		Name:        p.Name,
		Description: p.Description,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	p.ID = model.ID
	return nil
}

func (s *permissionStore) GetByID(ctx context.Context, id string) (*core.Permission, error) {
	var model Permission
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return toCorePermission(&model), nil
}

func (s *permissionStore) GetByCode(ctx context.Context, serviceID, code string) (*core.Permission, error) {
	var model Permission
	if err := s.db.WithContext(ctx).First(&model, "service_id = ? AND code = ?", serviceID, code).Error; err != nil {
		return nil, err
	}
	return toCorePermission(&model), nil
}

func (s *permissionStore) List(ctx context.Context, serviceID string) ([]*core.Permission, error) {
	var models []Permission
	if err := s.db.WithContext(ctx).Where("service_id = ?", serviceID).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.Permission, len(models))
	for i, m := range models {
		out[i] = toCorePermission(&m)
	}
	return out, nil
}

func (s *permissionStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&Permission{}).Error
}

func toCorePermission(m *Permission) *core.Permission {
	return &core.Permission{
		ID:          m.ID,
		ServiceID:   m.ServiceID,
		Code:        m.Code,
		Name:        m.Name,
		Description: m.Description,
	}
}

// roleStore implements core.RoleStore.
type roleStore struct {
	db *gorm.DB
}

func (s *roleStore) Create(ctx context.Context, r *core.Role) error {
	model := &Role{
		ID:           r.ID,
		ServiceID:    r.ServiceID,
		Name:         r.Name,
		Description:  r.Description,
		ParentRoleID: r.ParentRoleID,
		CreatedAt:    r.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	r.ID = model.ID
	return nil
}

func (s *roleStore) GetByID(ctx context.Context, id string) (*core.Role, error) {
	var model Role
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return toCoreRole(&model), nil
}

func (s *roleStore) Update(ctx context.Context, r *core.Role) error {
	return s.db.WithContext(ctx).Model(&Role{}).Where("id = ?", r.ID).Updates(map[string]interface{}{
		"name":           r.Name,
		"description":    r.Description,
		"parent_role_id": r.ParentRoleID,
	}).Error
}

func (s *roleStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&Role{}).Error
}

func (s *roleStore) List(ctx context.Context, serviceID string) ([]*core.Role, error) {
	var models []Role
	if err := s.db.WithContext(ctx).Where("service_id = ?", serviceID).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.Role, len(models))
	for i, m := range models {
		out[i] = toCoreRole(&m)
	}
	return out, nil
}

func toCoreRole(m *Role) *core.Role {
	return &core.Role{
		ID:           m.ID,
		ServiceID:    m.ServiceID,
		Name:         m.Name,
		Description:  m.Description,
		ParentRoleID: m.ParentRoleID,
		CreatedAt:    m.CreatedAt,
	}
}

// rolePermissionStore implements core.RolePermissionStore.
type rolePermissionStore struct {
	db *gorm.DB
}

func (s *rolePermissionStore) Attach(ctx context.Context, roleID, permissionID string) error {
	rp := RolePermission{RoleID: roleID, PermissionID: permissionID}
	return s.db.WithContext(ctx).Where(rp).FirstOrCreate(&rp).Error
}

func (s *rolePermissionStore) Detach(ctx context.Context, roleID, permissionID string) error {
	return s.db.WithContext(ctx).
		Where("role_id = ? AND permission_id = ?", roleID, permissionID).
		Delete(&RolePermission{}).Error
}

func (s *rolePermissionStore) PermissionsForRole(ctx context.Context, roleID string) ([]*core.Permission, error) {
	var permissions []Permission
	if err := s.db.WithContext(ctx).
		Joins("JOIN role_permissions ON role_permissions.permission_id = permissions.id").
		Where("role_permissions.role_id = ?", roleID).
		Find(&permissions).Error; err != nil {
		return nil, err
	}
	out := make([]*core.Permission, len(permissions))
	for i, m := range permissions {
		out[i] = toCorePermission(&m)
	}
	return out, nil
}

// userTenantRoleStore implements core.UserTenantRoleStore.
type userTenantRoleStore struct {
	db *gorm.DB
}

func (s *userTenantRoleStore) Grant(ctx context.Context, utr *core.UserTenantRole) error {
	model := &UserTenantRole{
		ID:           utr.ID,
		TenantUserID: utr.TenantUserID,
		RoleID:       utr.RoleID,
		GrantedBy:    utr.GrantedBy,
		GrantedAt:    utr.GrantedAt,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	utr.ID = model.ID
	return nil
}

func (s *userTenantRoleStore) Revoke(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&UserTenantRole{}).Error
}

func (s *userTenantRoleStore) ListForTenantUser(ctx context.Context, tenantUserID string) ([]*core.UserTenantRole, error) {
	var models []UserTenantRole
	if err := s.db.WithContext(ctx).Where("tenant_user_id = ?", tenantUserID).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.UserTenantRole, len(models))
	for i, m := range models {
		out[i] = toCoreUserTenantRole(&m)
	}
	return out, nil
}

func toCoreUserTenantRole(m *UserTenantRole) *core.UserTenantRole {
	return &core.UserTenantRole{
		ID:           m.ID,
		TenantUserID: m.TenantUserID,
		RoleID:       m.RoleID,
		GrantedBy:    m.GrantedBy,
		GrantedAt:    m.GrantedAt,
	}
}
