package store

import (
	"context"

	"github.com/auth9/auth9core/core"
	"gorm.io/gorm"
)

// tenantStore implements core.TenantStore.
type tenantStore struct {
	db *gorm.DB
}

func (s *tenantStore) Create(ctx context.Context, tenant *core.Tenant) error {
	settingsJSON, err := marshalJSON(tenant.Settings)
	if err != nil {
		return err
	}
	model := &Tenant{
		ID:        tenant.ID,
		Slug:      tenant.Slug,
		Name:      tenant.Name,
		LogoURL:   tenant.LogoURL,
		Status:    tenant.Status,
		Settings:  settingsJSON,
		CreatedAt: tenant.CreatedAt,
		UpdatedAt: tenant.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	tenant.ID = model.ID
	return nil
}

func (s *tenantStore) GetByID(ctx context.Context, id string) (*core.Tenant, error) {
	var model Tenant
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return toCoreTenant(&model)
}

func (s *tenantStore) GetBySlug(ctx context.Context, slug string) (*core.Tenant, error) {
	var model Tenant
	if err := s.db.WithContext(ctx).First(&model, "slug = ?", slug).Error; err != nil {
		return nil, err
	}
	return toCoreTenant(&model)
}

func (s *tenantStore) Update(ctx context.Context, tenant *core.Tenant) error {
	settingsJSON, err := marshalJSON(tenant.Settings)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&Tenant{}).Where("id = ?", tenant.ID).Updates(map[string]interface{}{
		"slug":       tenant.Slug,
		"name":       tenant.Name,
		"logo_url":   tenant.LogoURL,
		"status":     tenant.Status,
		"settings":   settingsJSON,
		"updated_at": tenant.UpdatedAt,
	}).Error
}

func (s *tenantStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&Tenant{}).Error
}

func (s *tenantStore) List(ctx context.Context, limit int, cursor string) ([]*core.Tenant, string, error) {
	var models []Tenant
	query := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit + 1)
	if parsed, ok := parseCursor(cursor); ok {
		query = query.Where("created_at < ?", parsed)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(models) > limit {
		nextCursor = formatCursor(models[limit].CreatedAt)
		models = models[:limit]
	}

	tenants := make([]*core.Tenant, len(models))
	for i, m := range models {
		t, err := toCoreTenant(&m)
		if err != nil {
			return nil, "", err
		}
		tenants[i] = t
	}
	return tenants, nextCursor, nil
}

func toCoreTenant(m *Tenant) (*core.Tenant, error) {
	var settings core.TenantSettings
	if len(m.Settings) > 0 {
		if err := unmarshalJSON(m.Settings, &settings); err != nil {
			return nil, err
		}
	}
	return &core.Tenant{
		ID:        m.ID,
		Slug:      m.Slug,
		Name:      m.Name,
		LogoURL:   m.LogoURL,
		Status:    m.Status,
		Settings:  settings,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

// userStore implements core.UserStore. Users are materialized from the
// upstream IdP (spec.md §2) and carry no tenant scoping of their own —
// tenant membership lives in TenantUser.
type userStore struct {
	db *gorm.DB
}

func (s *userStore) Create(ctx context.Context, user *core.User) error {
	model := &User{
		ID:                user.ID,
		ExternalIdpID:     user.ExternalIdpID,
		Email:             user.Email,
		DisplayName:       user.DisplayName,
		AvatarURL:         user.AvatarURL,
		LockedUntil:       user.LockedUntil,
		ScimExternalID:    user.ScimExternalID,
		ScimProvisionedBy: user.ScimProvisionedBy,
		CreatedAt:         user.CreatedAt,
		UpdatedAt:         user.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	user.ID = model.ID
	return nil
}

func (s *userStore) GetByID(ctx context.Context, id string) (*core.User, error) {
	var model User
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return toCoreUser(&model), nil
}

func (s *userStore) GetByEmail(ctx context.Context, email string) (*core.User, error) {
	var model User
	if err := s.db.WithContext(ctx).First(&model, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return toCoreUser(&model), nil
}

func (s *userStore) GetByExternalIdpID(ctx context.Context, externalIdpID string) (*core.User, error) {
	var model User
	if err := s.db.WithContext(ctx).First(&model, "external_idp_id = ?", externalIdpID).Error; err != nil {
		return nil, err
	}
	return toCoreUser(&model), nil
}

func (s *userStore) GetByScimExternalID(ctx context.Context, scimExternalID string) (*core.User, error) {
	var model User
	if err := s.db.WithContext(ctx).First(&model, "scim_external_id = ?", scimExternalID).Error; err != nil {
		return nil, err
	}
	return toCoreUser(&model), nil
}

func (s *userStore) Update(ctx context.Context, user *core.User) error {
	return s.db.WithContext(ctx).Model(&User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"email":               user.Email,
		"display_name":        user.DisplayName,
		"avatar_url":          user.AvatarURL,
		"locked_until":        user.LockedUntil,
		"scim_external_id":    user.ScimExternalID,
		"scim_provisioned_by": user.ScimProvisionedBy,
		"updated_at":          user.UpdatedAt,
	}).Error
}

func (s *userStore) List(ctx context.Context, limit int, cursor string) ([]*core.User, string, error) {
	var models []User
	query := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit + 1)
	if parsed, ok := parseCursor(cursor); ok {
		query = query.Where("created_at < ?", parsed)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(models) > limit {
		nextCursor = formatCursor(models[limit].CreatedAt)
		models = models[:limit]
	}

	users := make([]*core.User, len(models))
	for i, m := range models {
		users[i] = toCoreUser(&m)
	}
	return users, nextCursor, nil
}

// Search scans in created_at order applying predicate in-process. This
// is a deliberately simple scan: user directory search is an admin-only,
// low-QPS path (spec.md §4) with no indexed full-text requirement.
func (s *userStore) Search(ctx context.Context, predicate func(*core.User) bool, limit int, cursor string) ([]*core.User, string, error) {
	var models []User
	query := s.db.WithContext(ctx).Order("created_at DESC")
	if parsed, ok := parseCursor(cursor); ok {
		query = query.Where("created_at < ?", parsed)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}

	var matched []*core.User
	var nextCursor string
	for _, m := range models {
		u := toCoreUser(&m)
		if predicate(u) {
			if len(matched) == limit {
				nextCursor = formatCursor(m.CreatedAt)
				break
			}
			matched = append(matched, u)
		}
	}
	return matched, nextCursor, nil
}

func toCoreUser(m *User) *core.User {
	return &core.User{
		ID:                m.ID,
		ExternalIdpID:     m.ExternalIdpID,
		Email:             m.Email,
		DisplayName:       m.DisplayName,
		AvatarURL:         m.AvatarURL,
		LockedUntil:       m.LockedUntil,
		ScimExternalID:    m.ScimExternalID,
		ScimProvisionedBy: m.ScimProvisionedBy,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// tenantUserStore implements core.TenantUserStore.
type tenantUserStore struct {
	db *gorm.DB
}

func (s *tenantUserStore) Create(ctx context.Context, tu *core.TenantUser) error {
	model := &TenantUser{
		ID:           tu.ID,
		UserID:       tu.UserID,
		TenantID:     tu.TenantID,
		RoleInTenant: tu.RoleInTenant,
		CreatedAt:    tu.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	tu.ID = model.ID
	return nil
}

func (s *tenantUserStore) Get(ctx context.Context, userID, tenantID string) (*core.TenantUser, error) {
	var model TenantUser
	if err := s.db.WithContext(ctx).First(&model, "user_id = ? AND tenant_id = ?", userID, tenantID).Error; err != nil {
		return nil, err
	}
	return toCoreTenantUser(&model), nil
}

func (s *tenantUserStore) ListByTenant(ctx context.Context, tenantID string, limit int, cursor string) ([]*core.TenantUser, string, error) {
	var models []TenantUser
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC").Limit(limit + 1)
	if parsed, ok := parseCursor(cursor); ok {
		query = query.Where("created_at < ?", parsed)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(models) > limit {
		nextCursor = formatCursor(models[limit].CreatedAt)
		models = models[:limit]
	}

	out := make([]*core.TenantUser, len(models))
	for i, m := range models {
		out[i] = toCoreTenantUser(&m)
	}
	return out, nextCursor, nil
}

func (s *tenantUserStore) Update(ctx context.Context, tu *core.TenantUser) error {
	return s.db.WithContext(ctx).Model(&TenantUser{}).Where("id = ?", tu.ID).
		Update("role_in_tenant", tu.RoleInTenant).Error
}

func (s *tenantUserStore) Delete(ctx context.Context, userID, tenantID string) error {
	return s.db.WithContext(ctx).Where("user_id = ? AND tenant_id = ?", userID, tenantID).Delete(&TenantUser{}).Error
}

func toCoreTenantUser(m *TenantUser) *core.TenantUser {
	return &core.TenantUser{
		ID:           m.ID,
		UserID:       m.UserID,
		TenantID:     m.TenantID,
		RoleInTenant: m.RoleInTenant,
		CreatedAt:    m.CreatedAt,
	}
}

// serviceStore implements core.ServiceStore.
type serviceStore struct {
	db *gorm.DB
}

func (s *serviceStore) Create(ctx context.Context, svc *core.Service) error {
	model := &Service{
		ID:           svc.ID,
		TenantID:     svc.TenantID,
		Name:         svc.Name,
		BaseURL:      svc.BaseURL,
		RedirectURIs: StringSlice(svc.RedirectURIs),
		LogoutURIs:   StringSlice(svc.LogoutURIs),
		Status:       svc.Status,
		CreatedAt:    svc.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	svc.ID = model.ID
	return nil
}

func (s *serviceStore) GetByID(ctx context.Context, id string) (*core.Service, error) {
	var model Service
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return toCoreService(&model), nil
}

func (s *serviceStore) Update(ctx context.Context, svc *core.Service) error {
	return s.db.WithContext(ctx).Model(&Service{}).Where("id = ?", svc.ID).Updates(map[string]interface{}{
		"name":          svc.Name,
		"base_url":      svc.BaseURL,
		"redirect_uris": StringSlice(svc.RedirectURIs),
		"logout_uris":   StringSlice(svc.LogoutURIs),
		"status":        svc.Status,
	}).Error
}

func (s *serviceStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&Service{}).Error
}

func (s *serviceStore) List(ctx context.Context, tenantID *string, limit int, cursor string) ([]*core.Service, string, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit + 1)
	if tenantID != nil {
		query = query.Where("tenant_id = ?", *tenantID)
	}
	if parsed, ok := parseCursor(cursor); ok {
		query = query.Where("created_at < ?", parsed)
	}
	var models []Service
	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(models) > limit {
		nextCursor = formatCursor(models[limit].CreatedAt)
		models = models[:limit]
	}

	out := make([]*core.Service, len(models))
	for i, m := range models {
		out[i] = toCoreService(&m)
	}
	return out, nextCursor, nil
}

func toCoreService(m *Service) *core.Service {
	return &core.Service{
		ID:           m.ID,
		TenantID:     m.TenantID,
		Name:         m.Name,
		BaseURL:      m.BaseURL,
		RedirectURIs: []string(m.RedirectURIs),
		LogoutURIs:   []string(m.LogoutURIs),
		Status:       m.Status,
		CreatedAt:    m.CreatedAt,
	}
}

// clientStore implements core.ClientStore.
type clientStore struct {
	db *gorm.DB
}

func (s *clientStore) Create(ctx context.Context, client *core.Client) error {
	model := &Client{
		ID:         client.ID,
		ServiceID:  client.ServiceID,
		ClientID:   client.ClientID,
		SecretHash: client.SecretHash,
		Name:       client.Name,
		CreatedAt:  client.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	client.ID = model.ID
	return nil
}

func (s *clientStore) GetByID(ctx context.Context, id string) (*core.Client, error) {
	var model Client
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return toCoreClient(&model), nil
}

func (s *clientStore) GetByClientID(ctx context.Context, clientID string) (*core.Client, error) {
	var model Client
	if err := s.db.WithContext(ctx).First(&model, "client_id = ?", clientID).Error; err != nil {
		return nil, err
	}
	return toCoreClient(&model), nil
}

func (s *clientStore) Update(ctx context.Context, client *core.Client) error {
	return s.db.WithContext(ctx).Model(&Client{}).Where("id = ?", client.ID).Updates(map[string]interface{}{
		"name":        client.Name,
		"secret_hash": client.SecretHash,
	}).Error
}

func (s *clientStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&Client{}).Error
}

func (s *clientStore) List(ctx context.Context, serviceID string, limit int, cursor string) ([]*core.Client, string, error) {
	query := s.db.WithContext(ctx).Where("service_id = ?", serviceID).Order("created_at DESC").Limit(limit + 1)
	if parsed, ok := parseCursor(cursor); ok {
		query = query.Where("created_at < ?", parsed)
	}
	var models []Client
	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(models) > limit {
		nextCursor = formatCursor(models[limit].CreatedAt)
		models = models[:limit]
	}

	out := make([]*core.Client, len(models))
	for i, m := range models {
		out[i] = toCoreClient(&m)
	}
	return out, nextCursor, nil
}

func toCoreClient(m *Client) *core.Client {
	return &core.Client{
		ID:         m.ID,
		ServiceID:  m.ServiceID,
		ClientID:   m.ClientID,
		SecretHash: m.SecretHash,
		Name:       m.Name,
		CreatedAt:  m.CreatedAt,
	}
}
