package store

import (
	"context"
	"fmt"
	"time"

	"github.com/auth9/auth9core/core"
	"gorm.io/gorm"
)

// webhooks auto-disable after this many consecutive delivery failures
// (mirrors the teacher's circuit-breaker threshold for outbound
// integrations — see webhooks/dispatcher.go).
const maxWebhookFailures = 10

// webhookStore implements core.WebhookStore.
type webhookStore struct {
	db *gorm.DB
}

func (s *webhookStore) Create(ctx context.Context, w *core.Webhook) error {
	model := &Webhook{
		ID:       w.ID,
		TenantID: w.TenantID,
		Name:     w.Name,
		URL:      w.URL,
		Secret:   w.Secret,
		Events:   StringSlice(w.Events),
		Enabled:  w.Enabled,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	w.ID = model.ID
	return nil
}

func (s *webhookStore) GetByID(ctx context.Context, tenantID, id string) (*core.Webhook, error) {
	var model Webhook
	query := s.db.WithContext(ctx)
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	if err := query.First(&model, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return toCoreWebhook(&model), nil
}

func (s *webhookStore) Update(ctx context.Context, w *core.Webhook) error {
	return s.db.WithContext(ctx).Model(&Webhook{}).Where("id = ?", w.ID).Updates(map[string]interface{}{
		"name":    w.Name,
		"url":     w.URL,
		"secret":  w.Secret,
		"events":  StringSlice(w.Events),
		"enabled": w.Enabled,
	}).Error
}

func (s *webhookStore) Delete(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&Webhook{}).Error
}

func (s *webhookStore) ListEnabledForEvent(ctx context.Context, tenantID, eventType string) ([]*core.Webhook, error) {
	var models []Webhook
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND enabled = ?", tenantID, true).
		Find(&models).Error; err != nil {
		return nil, err
	}
	var out []*core.Webhook
	for _, m := range models {
		for _, ev := range m.Events {
			if ev == eventType {
				out = append(out, toCoreWebhook(&m))
				break
			}
		}
	}
	return out, nil
}

func (s *webhookStore) List(ctx context.Context, tenantID string) ([]*core.Webhook, error) {
	var models []Webhook
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.Webhook, len(models))
	for i, m := range models {
		out[i] = toCoreWebhook(&m)
	}
	return out, nil
}

func (s *webhookStore) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&Webhook{}).Where("id = ?", id).Updates(map[string]interface{}{
		"failure_count":     0,
		"last_triggered_at": &at,
	}).Error
}

func (s *webhookStore) RecordFailure(ctx context.Context, id string) (int, bool, error) {
	var model Webhook
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return 0, false, err
	}
	newCount := model.FailureCount + 1
	disabled := newCount >= maxWebhookFailures
	updates := map[string]interface{}{"failure_count": newCount}
	if disabled {
		updates["enabled"] = false
	}
	if err := s.db.WithContext(ctx).Model(&Webhook{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return 0, false, err
	}
	return newCount, disabled, nil
}

func toCoreWebhook(m *Webhook) *core.Webhook {
	return &core.Webhook{
		ID:              m.ID,
		TenantID:        m.TenantID,
		Name:            m.Name,
		URL:             m.URL,
		Secret:          m.Secret,
		Events:          []string(m.Events),
		Enabled:         m.Enabled,
		FailureCount:    m.FailureCount,
		LastTriggeredAt: m.LastTriggeredAt,
	}
}

// actionStore implements core.ActionStore.
type actionStore struct {
	db *gorm.DB
}

func (s *actionStore) Create(ctx context.Context, a *core.Action) error {
	model := &Action{
		ID:             a.ID,
		TenantID:       a.TenantID,
		Name:           a.Name,
		TriggerID:      a.TriggerID,
		Script:         a.Script,
		Enabled:        a.Enabled,
		ExecutionOrder: a.ExecutionOrder,
		TimeoutMs:      a.TimeoutMs,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	a.ID = model.ID
	return nil
}

func (s *actionStore) GetByID(ctx context.Context, tenantID, id string) (*core.Action, error) {
	var model Action
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, err
	}
	return toCoreAction(&model), nil
}

func (s *actionStore) Update(ctx context.Context, a *core.Action) error {
	return s.db.WithContext(ctx).Model(&Action{}).Where("id = ?", a.ID).Updates(map[string]interface{}{
		"name":            a.Name,
		"trigger_id":      a.TriggerID,
		"script":          a.Script,
		"enabled":         a.Enabled,
		"execution_order": a.ExecutionOrder,
		"timeout_ms":      a.TimeoutMs,
	}).Error
}

func (s *actionStore) Delete(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&Action{}).Error
}

func (s *actionStore) ListEnabledForTrigger(ctx context.Context, tenantID, triggerID string) ([]*core.Action, error) {
	var models []Action
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND trigger_id = ? AND enabled = ?", tenantID, triggerID, true).
		Order("execution_order ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.Action, len(models))
	for i, m := range models {
		out[i] = toCoreAction(&m)
	}
	return out, nil
}

func (s *actionStore) RecordExecution(ctx context.Context, id string, success bool, errMsg *string) error {
	updates := map[string]interface{}{
		"execution_count": gorm.Expr("execution_count + 1"),
	}
	if success {
		updates["last_error"] = nil
	} else {
		updates["error_count"] = gorm.Expr("error_count + 1")
		updates["last_error"] = errMsg
	}
	if err := s.db.WithContext(ctx).Model(&Action{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("record action execution: %w", err)
	}
	return nil
}

func toCoreAction(m *Action) *core.Action {
	return &core.Action{
		ID:             m.ID,
		TenantID:       m.TenantID,
		Name:           m.Name,
		TriggerID:      m.TriggerID,
		Script:         m.Script,
		Enabled:        m.Enabled,
		ExecutionOrder: m.ExecutionOrder,
		TimeoutMs:      m.TimeoutMs,
		ExecutionCount: m.ExecutionCount,
		ErrorCount:     m.ErrorCount,
		LastError:      m.LastError,
	}
}
