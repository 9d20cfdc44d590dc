package store

import (
	"context"
	"fmt"
	"time"

	"github.com/auth9/auth9core/core"
	"gorm.io/gorm"
)

// invitationStore implements core.InvitationStore.
type invitationStore struct {
	db *gorm.DB
}

func (s *invitationStore) Create(ctx context.Context, inv *core.Invitation) error {
	model := &Invitation{
		ID:        inv.ID,
		TenantID:  inv.TenantID,
		Email:     inv.Email,
		RoleIDs:   StringSlice(inv.RoleIDs),
		InvitedBy: inv.InvitedBy,
		TokenHash: inv.TokenHash,
		Status:    inv.Status,
		ExpiresAt: inv.ExpiresAt,
		CreatedAt: inv.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	inv.ID = model.ID
	return nil
}

func (s *invitationStore) GetByID(ctx context.Context, tenantID, id string) (*core.Invitation, error) {
	var model Invitation
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, err
	}
	return toCoreInvitation(&model), nil
}

// GetAndConsumeByTokenHash atomically claims a pending invitation by
// token hash. The conditional UPDATE (status='pending' -> 'pending',
// gated on the current row still being pending) takes the row lock a
// plain SELECT wouldn't, so only the first of two concurrent callers
// against the same hash sees RowsAffected==1; the loser gets an error
// rather than a second, silently-successful accept (spec.md §8
// invariant 6, §9 S6). The caller (invitations.Service.Accept) then
// persists the real terminal status via Update.
func (s *invitationStore) GetAndConsumeByTokenHash(ctx context.Context, tokenHash string) (*core.Invitation, error) {
	tx := s.db.WithContext(ctx).Begin()
	defer tx.Rollback()

	var model Invitation
	if err := tx.First(&model, "token_hash = ?", tokenHash).Error; err != nil {
		return nil, err
	}

	result := tx.Model(&Invitation{}).
		Where("token_hash = ? AND status = ?", tokenHash, "pending").
		Update("status", "pending")
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("invitation is not pending (status=%s)", model.Status)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return toCoreInvitation(&model), nil
}

// GetPendingByEmail finds an existing pending invitation for (tenant_id,
// email), so invitations.Service.Create can reject a duplicate invite
// before issuing a second token for the same not-yet-accepted address.
func (s *invitationStore) GetPendingByEmail(ctx context.Context, tenantID, email string) (*core.Invitation, error) {
	var model Invitation
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND email = ? AND status = ?", tenantID, email, "pending").Error; err != nil {
		return nil, err
	}
	return toCoreInvitation(&model), nil
}

func (s *invitationStore) Update(ctx context.Context, inv *core.Invitation) error {
	return s.db.WithContext(ctx).Model(&Invitation{}).Where("id = ?", inv.ID).Updates(map[string]interface{}{
		"status":      inv.Status,
		"accepted_at": inv.AcceptedAt,
	}).Error
}

func (s *invitationStore) List(ctx context.Context, tenantID string, status *string, limit int, cursor string) ([]*core.Invitation, string, error) {
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC").Limit(limit + 1)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if parsed, ok := parseCursor(cursor); ok {
		query = query.Where("created_at < ?", parsed)
	}
	var models []Invitation
	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(models) > limit {
		nextCursor = formatCursor(models[limit].CreatedAt)
		models = models[:limit]
	}

	out := make([]*core.Invitation, len(models))
	for i, m := range models {
		out[i] = toCoreInvitation(&m)
	}
	return out, nextCursor, nil
}

func (s *invitationStore) DeleteExpired(ctx context.Context, before time.Time) error {
	return s.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", "pending", before).
		Delete(&Invitation{}).Error
}

func toCoreInvitation(m *Invitation) *core.Invitation {
	return &core.Invitation{
		ID:         m.ID,
		TenantID:   m.TenantID,
		Email:      m.Email,
		RoleIDs:    []string(m.RoleIDs),
		InvitedBy:  m.InvitedBy,
		TokenHash:  m.TokenHash,
		Status:     m.Status,
		ExpiresAt:  m.ExpiresAt,
		AcceptedAt: m.AcceptedAt,
		CreatedAt:  m.CreatedAt,
	}
}
