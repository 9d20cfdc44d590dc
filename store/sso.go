package store

import (
	"context"
	"fmt"

	"github.com/auth9/auth9core/core"
	"gorm.io/gorm"
)

// ssoConnectorStore implements core.SsoConnectorStore. Domain-to-connector
// mapping is unique globally (spec.md §3), enforced here via the
// SsoConnectorDomain join table since GORM can't put a uniqueIndex
// directly on a JSONB string array.
type ssoConnectorStore struct {
	db *gorm.DB
}

func (s *ssoConnectorStore) Create(ctx context.Context, c *core.EnterpriseSsoConnector) error {
	configMap := StringMap(c.Config)
	model := &EnterpriseSsoConnector{
		ID:            c.ID,
		TenantID:      c.TenantID,
		Alias:         c.Alias,
		ProviderType:  c.ProviderType,
		Priority:      c.Priority,
		Enabled:       c.Enabled,
		ExternalAlias: c.ExternalAlias,
		Config:        configMap,
		Domains:       StringSlice(c.Domains),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		return insertConnectorDomains(tx, model.ID, c.Domains)
	})
	if err != nil {
		return err
	}
	c.ID = model.ID
	return nil
}

func (s *ssoConnectorStore) GetByID(ctx context.Context, tenantID, id string) (*core.EnterpriseSsoConnector, error) {
	var model EnterpriseSsoConnector
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, err
	}
	return toCoreSsoConnector(&model), nil
}

func (s *ssoConnectorStore) Update(ctx context.Context, c *core.EnterpriseSsoConnector) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&EnterpriseSsoConnector{}).Where("id = ?", c.ID).Updates(map[string]interface{}{
			"alias":          c.Alias,
			"provider_type":  c.ProviderType,
			"priority":       c.Priority,
			"enabled":        c.Enabled,
			"external_alias": c.ExternalAlias,
			"config":         StringMap(c.Config),
			"domains":        StringSlice(c.Domains),
		}).Error; err != nil {
			return err
		}
		if err := tx.Where("connector_id = ?", c.ID).Delete(&SsoConnectorDomain{}).Error; err != nil {
			return err
		}
		return insertConnectorDomains(tx, c.ID, c.Domains)
	})
}

func (s *ssoConnectorStore) Delete(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("connector_id = ?", id).Delete(&SsoConnectorDomain{}).Error; err != nil {
			return err
		}
		return tx.Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&EnterpriseSsoConnector{}).Error
	})
}

func (s *ssoConnectorStore) List(ctx context.Context, tenantID string) ([]*core.EnterpriseSsoConnector, error) {
	var models []EnterpriseSsoConnector
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("priority ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.EnterpriseSsoConnector, len(models))
	for i, m := range models {
		out[i] = toCoreSsoConnector(&m)
	}
	return out, nil
}

func (s *ssoConnectorStore) GetByDomain(ctx context.Context, domain string) (*core.EnterpriseSsoConnector, error) {
	var join SsoConnectorDomain
	if err := s.db.WithContext(ctx).First(&join, "domain = ?", domain).Error; err != nil {
		return nil, err
	}
	var model EnterpriseSsoConnector
	if err := s.db.WithContext(ctx).First(&model, "id = ?", join.ConnectorID).Error; err != nil {
		return nil, err
	}
	return toCoreSsoConnector(&model), nil
}

func insertConnectorDomains(tx *gorm.DB, connectorID string, domains []string) error {
	for _, d := range domains {
		if err := tx.Create(&SsoConnectorDomain{Domain: d, ConnectorID: connectorID}).Error; err != nil {
			return fmt.Errorf("domain %q already registered to another connector: %w", d, err)
		}
	}
	return nil
}

func toCoreSsoConnector(m *EnterpriseSsoConnector) *core.EnterpriseSsoConnector {
	return &core.EnterpriseSsoConnector{
		ID:            m.ID,
		TenantID:      m.TenantID,
		Alias:         m.Alias,
		ProviderType:  m.ProviderType,
		Priority:      m.Priority,
		Enabled:       m.Enabled,
		ExternalAlias: m.ExternalAlias,
		Config:        map[string]string(m.Config),
		Domains:       []string(m.Domains),
	}
}

// scimGroupMappingStore implements core.ScimGroupMappingStore.
type scimGroupMappingStore struct {
	db *gorm.DB
}

func (s *scimGroupMappingStore) Create(ctx context.Context, m *core.ScimGroupRoleMapping) error {
	model := &ScimGroupRoleMapping{
		ID:          m.ID,
		TenantID:    m.TenantID,
		ConnectorID: m.ConnectorID,
		ScimGroupID: m.ScimGroupID,
		DisplayName: m.DisplayName,
		RoleID:      m.RoleID,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	m.ID = model.ID
	return nil
}

func (s *scimGroupMappingStore) GetByScimGroupID(ctx context.Context, tenantID, connectorID, scimGroupID string) (*core.ScimGroupRoleMapping, error) {
	var model ScimGroupRoleMapping
	if err := s.db.WithContext(ctx).First(&model,
		"tenant_id = ? AND connector_id = ? AND scim_group_id = ?", tenantID, connectorID, scimGroupID).Error; err != nil {
		return nil, err
	}
	return toCoreScimGroupMapping(&model), nil
}

func (s *scimGroupMappingStore) Update(ctx context.Context, m *core.ScimGroupRoleMapping) error {
	return s.db.WithContext(ctx).Model(&ScimGroupRoleMapping{}).Where("id = ?", m.ID).Updates(map[string]interface{}{
		"display_name": m.DisplayName,
		"role_id":      m.RoleID,
	}).Error
}

func (s *scimGroupMappingStore) Delete(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&ScimGroupRoleMapping{}).Error
}

func (s *scimGroupMappingStore) List(ctx context.Context, tenantID, connectorID string, limit int, cursor string) ([]*core.ScimGroupRoleMapping, string, error) {
	query := s.db.WithContext(ctx).Where("tenant_id = ? AND connector_id = ?", tenantID, connectorID).Order("id ASC").Limit(limit + 1)
	if cursor != "" {
		query = query.Where("id > ?", cursor)
	}
	var models []ScimGroupRoleMapping
	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(models) > limit {
		nextCursor = models[limit].ID
		models = models[:limit]
	}

	out := make([]*core.ScimGroupRoleMapping, len(models))
	for i, m := range models {
		out[i] = toCoreScimGroupMapping(&m)
	}
	return out, nextCursor, nil
}

func toCoreScimGroupMapping(m *ScimGroupRoleMapping) *core.ScimGroupRoleMapping {
	return &core.ScimGroupRoleMapping{
		ID:          m.ID,
		TenantID:    m.TenantID,
		ConnectorID: m.ConnectorID,
		ScimGroupID: m.ScimGroupID,
		DisplayName: m.DisplayName,
		RoleID:      m.RoleID,
	}
}

// scimProvisioningLogStore implements core.ScimProvisioningLogStore.
type scimProvisioningLogStore struct {
	db *gorm.DB
}

func (s *scimProvisioningLogStore) Create(ctx context.Context, e *core.ScimProvisioningLogEntry) error {
	model := &ScimProvisioningLogEntry{
		ID:              e.ID,
		TenantID:        e.TenantID,
		ConnectorID:     e.ConnectorID,
		Operation:       e.Operation,
		ResourceType:    e.ResourceType,
		ScimResourceID:  e.ScimResourceID,
		Auth9ResourceID: e.Auth9ResourceID,
		Status:          e.Status,
		ErrorDetail:     e.ErrorDetail,
		ResponseStatus:  e.ResponseStatus,
		CreatedAt:       e.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	e.ID = model.ID
	return nil
}

func (s *scimProvisioningLogStore) List(ctx context.Context, tenantID, connectorID string, limit int, cursor string) ([]*core.ScimProvisioningLogEntry, string, error) {
	query := s.db.WithContext(ctx).
		Where("tenant_id = ? AND connector_id = ?", tenantID, connectorID).
		Order("created_at DESC").Limit(limit + 1)
	if parsed, ok := parseCursor(cursor); ok {
		query = query.Where("created_at < ?", parsed)
	}
	var models []ScimProvisioningLogEntry
	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(models) > limit {
		nextCursor = formatCursor(models[limit].CreatedAt)
		models = models[:limit]
	}

	out := make([]*core.ScimProvisioningLogEntry, len(models))
	for i, m := range models {
		out[i] = toCoreScimProvisioningLogEntry(&m)
	}
	return out, nextCursor, nil
}

func toCoreScimProvisioningLogEntry(m *ScimProvisioningLogEntry) *core.ScimProvisioningLogEntry {
	return &core.ScimProvisioningLogEntry{
		ID:              m.ID,
		TenantID:        m.TenantID,
		ConnectorID:     m.ConnectorID,
		Operation:       m.Operation,
		ResourceType:    m.ResourceType,
		ScimResourceID:  m.ScimResourceID,
		Auth9ResourceID: m.Auth9ResourceID,
		Status:          m.Status,
		ErrorDetail:     m.ErrorDetail,
		ResponseStatus:  m.ResponseStatus,
		CreatedAt:       m.CreatedAt,
	}
}
