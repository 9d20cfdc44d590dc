package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/auth9/auth9core/core"
	"gorm.io/gorm"
)

// signingKeyStore implements core.SigningKeyStore
type signingKeyStore struct {
	db *gorm.DB
}

func (s *signingKeyStore) Create(ctx context.Context, key *core.SigningKey) error {
	model := &SigningKey{
		ID:                  key.ID,
		TenantID:            key.TenantID,
		KID:                 key.KID,
		Algorithm:           key.Algorithm,
		PublicJWK:           key.PublicJWK,
		PrivateKeyEncrypted: key.PrivateKeyEncrypted,
		Status:              key.Status,
		CreatedAt:           key.CreatedAt,
		NotBefore:           key.NotBefore,
		NotAfter:            key.NotAfter,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	key.ID = model.ID
	return nil
}

func (s *signingKeyStore) GetActive(ctx context.Context, tenantID string) (*core.SigningKey, error) {
	var model SigningKey
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ? AND not_before <= ? AND not_after > ?",
			tenantID, "active", time.Now(), time.Now()).
		Order("created_at DESC").
		First(&model).Error; err != nil {
		return nil, err
	}
	return toCoreSigningKey(&model), nil
}

func (s *signingKeyStore) GetByKID(ctx context.Context, tenantID, kid string) (*core.SigningKey, error) {
	var model SigningKey
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND kid = ?", tenantID, kid).Error; err != nil {
		return nil, err
	}
	return toCoreSigningKey(&model), nil
}

func (s *signingKeyStore) ListActive(ctx context.Context, tenantID string) ([]*core.SigningKey, error) {
	var models []SigningKey
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status IN (?, ?) AND not_after > ?",
			tenantID, "active", "inactive", time.Now()).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	keys := make([]*core.SigningKey, len(models))
	for i, m := range models {
		keys[i] = toCoreSigningKey(&m)
	}
	return keys, nil
}

func (s *signingKeyStore) MarkInactive(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Model(&SigningKey{}).Where("id = ?", id).Update("status", "inactive").Error
}

func (s *signingKeyStore) MarkRetired(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Model(&SigningKey{}).Where("id = ?", id).Update("status", "retired").Error
}

func toCoreSigningKey(m *SigningKey) *core.SigningKey {
	return &core.SigningKey{
		ID:                  m.ID,
		TenantID:            m.TenantID,
		KID:                 m.KID,
		Algorithm:           m.Algorithm,
		PublicJWK:           m.PublicJWK,
		PrivateKeyEncrypted: m.PrivateKeyEncrypted,
		Status:              m.Status,
		CreatedAt:           m.CreatedAt,
		NotBefore:           m.NotBefore,
		NotAfter:            m.NotAfter,
	}
}

// refreshTokenStore implements core.RefreshTokenStore
type refreshTokenStore struct {
	db *gorm.DB
}

func (s *refreshTokenStore) Create(ctx context.Context, token *core.RefreshToken) error {
	model := &RefreshToken{
		TokenHash:       token.TokenHash,
		TenantID:        token.TenantID,
		ClientID:        token.ClientID,
		UserID:          token.UserID,
		Scope:           token.Scope,
		CreatedAt:       token.CreatedAt,
		ExpiresAt:       token.ExpiresAt,
		RevokedAt:       token.RevokedAt,
		RotatedFromHash: token.RotatedFromHash,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *refreshTokenStore) GetByHash(ctx context.Context, tenantID, hash string) (*core.RefreshToken, error) {
	var model RefreshToken
	if err := s.db.WithContext(ctx).First(&model, "token_hash = ? AND tenant_id = ?", hash, tenantID).Error; err != nil {
		return nil, err
	}
	return toCoreRefreshToken(&model), nil
}

func (s *refreshTokenStore) Revoke(ctx context.Context, tenantID, hash string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&RefreshToken{}).Where("token_hash = ?", hash).Update("revoked_at", &now).Error
}

func (s *refreshTokenStore) DeleteExpired(ctx context.Context, before time.Time) error {
	return s.db.WithContext(ctx).
		Where("expires_at < ? OR revoked_at IS NOT NULL", before).
		Delete(&RefreshToken{}).Error
}

func toCoreRefreshToken(m *RefreshToken) *core.RefreshToken {
	return &core.RefreshToken{
		TokenHash:       m.TokenHash,
		TenantID:        m.TenantID,
		ClientID:        m.ClientID,
		UserID:          m.UserID,
		Scope:           m.Scope,
		CreatedAt:       m.CreatedAt,
		ExpiresAt:       m.ExpiresAt,
		RevokedAt:       m.RevokedAt,
		RotatedFromHash: m.RotatedFromHash,
	}
}

// auditEventStore implements core.AuditEventStore
type auditEventStore struct {
	db *gorm.DB
}

func (s *auditEventStore) Create(ctx context.Context, event *core.AuditEvent) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}
	model := &AuditEvent{
		ID:        event.ID,
		TenantID:  event.TenantID,
		ActorType: event.ActorType,
		ActorID:   event.ActorID,
		EventType: event.Type,
		IP:        event.IP,
		UserAgent: event.UserAgent,
		CreatedAt: event.CreatedAt,
		Data:      dataJSON,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	event.ID = model.ID
	return nil
}

func (s *auditEventStore) List(ctx context.Context, tenantID string, filters core.AuditFilters, limit int, cursor string) ([]*core.AuditEvent, string, error) {
	var models []AuditEvent
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC").Limit(limit + 1)

	if filters.Type != nil {
		query = query.Where("event_type = ?", *filters.Type)
	}
	if filters.ActorType != nil {
		query = query.Where("actor_type = ?", *filters.ActorType)
	}
	if filters.ActorID != nil {
		query = query.Where("actor_id = ?", *filters.ActorID)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", *filters.Until)
	}
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

	events := make([]*core.AuditEvent, len(models))
	for i, m := range models {
		e, err := toCoreAuditEvent(&m)
		if err != nil {
			return nil, "", err
		}
		events[i] = e
	}
	return events, nextCursor, nil
}

func toCoreAuditEvent(m *AuditEvent) (*core.AuditEvent, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return nil, fmt.Errorf("unmarshal data: %w", err)
	}
	return &core.AuditEvent{
		ID:        m.ID,
		TenantID:  m.TenantID,
		ActorType: m.ActorType,
		ActorID:   m.ActorID,
		Type:      m.EventType,
		IP:        m.IP,
		UserAgent: m.UserAgent,
		CreatedAt: m.CreatedAt,
		Data:      data,
	}, nil
}

// adminKeyStore implements core.AdminKeyStore
type adminKeyStore struct {
	db *gorm.DB
}

func (s *adminKeyStore) Create(ctx context.Context, key *core.AdminKey) error {
	model := &AdminKey{
		ID:        key.ID,
		KeyHash:   key.KeyHash,
		Name:      key.Name,
		CreatedAt: key.CreatedAt,
		CreatedBy: key.CreatedBy,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	key.ID = model.ID
	return nil
}

func (s *adminKeyStore) GetByHash(ctx context.Context, hash string) (*core.AdminKey, error) {
	var model AdminKey
	if err := s.db.WithContext(ctx).First(&model, "key_hash = ?", hash).Error; err != nil {
		return nil, err
	}
	return toCoreAdminKey(&model), nil
}

func (s *adminKeyStore) List(ctx context.Context) ([]*core.AdminKey, error) {
	var models []AdminKey
	if err := s.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}
	keys := make([]*core.AdminKey, len(models))
	for i, m := range models {
		keys[i] = toCoreAdminKey(&m)
	}
	return keys, nil
}

func (s *adminKeyStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&AdminKey{}).Error
}

func toCoreAdminKey(m *AdminKey) *core.AdminKey {
	return &core.AdminKey{
		ID:        m.ID,
		KeyHash:   m.KeyHash,
		Name:      m.Name,
		CreatedAt: m.CreatedAt,
		CreatedBy: m.CreatedBy,
	}
}
