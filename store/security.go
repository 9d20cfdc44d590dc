package store

import (
	"context"
	"fmt"
	"time"

	"github.com/auth9/auth9core/core"
	"gorm.io/gorm"
)

// loginEventStore implements core.LoginEventStore.
type loginEventStore struct {
	db *gorm.DB
}

func (s *loginEventStore) Create(ctx context.Context, e *core.LoginEvent) error {
	model := &LoginEvent{
		ID:            e.ID,
		UserID:        e.UserID,
		Email:         e.Email,
		TenantID:      e.TenantID,
		Type:          e.Type,
		IP:            e.IP,
		UserAgent:     e.UserAgent,
		DeviceType:    e.DeviceType,
		Location:      e.Location,
		SessionID:     e.SessionID,
		FailureReason: e.FailureReason,
		CreatedAt:     e.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	e.ID = model.ID
	return nil
}

func (s *loginEventStore) ListRecentByIP(ctx context.Context, ip string, since time.Time) ([]*core.LoginEvent, error) {
	var models []LoginEvent
	if err := s.db.WithContext(ctx).
		Where("ip = ? AND created_at >= ?", ip, since).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return toCoreLoginEvents(models), nil
}

func (s *loginEventStore) ListRecentByUser(ctx context.Context, userID string, limit int) ([]*core.LoginEvent, error) {
	var models []LoginEvent
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return toCoreLoginEvents(models), nil
}

func (s *loginEventStore) LastSuccessByUser(ctx context.Context, userID string) (*core.LoginEvent, error) {
	var model LoginEvent
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND type = ?", userID, "success").
		Order("created_at DESC").
		First(&model).Error; err != nil {
		return nil, err
	}
	return toCoreLoginEvent(&model), nil
}

func (s *loginEventStore) DeleteOlderThan(ctx context.Context, before time.Time) error {
	return s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&LoginEvent{}).Error
}

func toCoreLoginEvents(models []LoginEvent) []*core.LoginEvent {
	out := make([]*core.LoginEvent, len(models))
	for i, m := range models {
		out[i] = toCoreLoginEvent(&m)
	}
	return out
}

func toCoreLoginEvent(m *LoginEvent) *core.LoginEvent {
	return &core.LoginEvent{
		ID:            m.ID,
		UserID:        m.UserID,
		Email:         m.Email,
		TenantID:      m.TenantID,
		Type:          m.Type,
		IP:            m.IP,
		UserAgent:     m.UserAgent,
		DeviceType:    m.DeviceType,
		Location:      m.Location,
		SessionID:     m.SessionID,
		FailureReason: m.FailureReason,
		CreatedAt:     m.CreatedAt,
	}
}

// securityAlertStore implements core.SecurityAlertStore.
type securityAlertStore struct {
	db *gorm.DB
}

func (s *securityAlertStore) Create(ctx context.Context, a *core.SecurityAlert) error {
	detailsJSON, err := marshalJSON(a.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	model := &SecurityAlert{
		ID:         a.ID,
		UserID:     a.UserID,
		TenantID:   a.TenantID,
		Type:       a.Type,
		Severity:   a.Severity,
		Details:    detailsJSON,
		ResolvedBy: a.ResolvedBy,
		ResolvedAt: a.ResolvedAt,
		CreatedAt:  a.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	a.ID = model.ID
	return nil
}

func (s *securityAlertStore) GetByID(ctx context.Context, id string) (*core.SecurityAlert, error) {
	var model SecurityAlert
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return toCoreSecurityAlert(&model)
}

func (s *securityAlertStore) Resolve(ctx context.Context, id, resolvedBy string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&SecurityAlert{}).Where("id = ?", id).Updates(map[string]interface{}{
		"resolved_by": resolvedBy,
		"resolved_at": &now,
	}).Error
}

func (s *securityAlertStore) List(ctx context.Context, tenantID string, limit int, cursor string) ([]*core.SecurityAlert, string, error) {
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC").Limit(limit + 1)
	if parsed, ok := parseCursor(cursor); ok {
		query = query.Where("created_at < ?", parsed)
	}
	var models []SecurityAlert
	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(models) > limit {
		nextCursor = formatCursor(models[limit].CreatedAt)
		models = models[:limit]
	}

	out := make([]*core.SecurityAlert, len(models))
	for i, m := range models {
		a, err := toCoreSecurityAlert(&m)
		if err != nil {
			return nil, "", err
		}
		out[i] = a
	}
	return out, nextCursor, nil
}

func (s *securityAlertStore) DeleteOlderThan(ctx context.Context, before time.Time) error {
	return s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&SecurityAlert{}).Error
}

func toCoreSecurityAlert(m *SecurityAlert) (*core.SecurityAlert, error) {
	var details map[string]interface{}
	if len(m.Details) > 0 {
		if err := unmarshalJSON(m.Details, &details); err != nil {
			return nil, fmt.Errorf("unmarshal details: %w", err)
		}
	}
	return &core.SecurityAlert{
		ID:         m.ID,
		UserID:     m.UserID,
		TenantID:   m.TenantID,
		Type:       m.Type,
		Severity:   m.Severity,
		Details:    details,
		ResolvedBy: m.ResolvedBy,
		ResolvedAt: m.ResolvedAt,
		CreatedAt:  m.CreatedAt,
	}, nil
}
