package store

import (
	"context"

	"github.com/auth9/auth9core/core"
	"gorm.io/gorm"
)

// abacPolicySetStore implements core.AbacPolicySetStore.
type abacPolicySetStore struct {
	db *gorm.DB
}

func (s *abacPolicySetStore) GetByTenant(ctx context.Context, tenantID string) (*core.AbacPolicySet, error) {
	var model AbacPolicySet
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ?", tenantID).Error; err != nil {
		return nil, err
	}
	return toCoreAbacPolicySet(&model), nil
}

func (s *abacPolicySetStore) Upsert(ctx context.Context, set *core.AbacPolicySet) error {
	model := &AbacPolicySet{
		ID:                 set.ID,
		TenantID:           set.TenantID,
		Mode:               set.Mode,
		PublishedVersionID: set.PublishedVersionID,
	}
	if err := s.db.WithContext(ctx).
		Where(AbacPolicySet{TenantID: set.TenantID}).
		Assign(map[string]interface{}{
			"mode":                 set.Mode,
			"published_version_id": set.PublishedVersionID,
		}).
		FirstOrCreate(model).Error; err != nil {
		return err
	}
	set.ID = model.ID
	return nil
}

func (s *abacPolicySetStore) CreateVersion(ctx context.Context, v *core.AbacPolicySetVersion) error {
	model := &AbacPolicySetVersion{
		ID:          v.ID,
		PolicySetID: v.PolicySetID,
		VersionNo:   v.VersionNo,
		PolicyJSON:  v.PolicyJSON,
		CreatedAt:   v.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	v.ID = model.ID
	return nil
}

func (s *abacPolicySetStore) GetVersion(ctx context.Context, id string) (*core.AbacPolicySetVersion, error) {
	var model AbacPolicySetVersion
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return toCoreAbacPolicySetVersion(&model), nil
}

func (s *abacPolicySetStore) ListVersions(ctx context.Context, policySetID string) ([]*core.AbacPolicySetVersion, error) {
	var models []AbacPolicySetVersion
	if err := s.db.WithContext(ctx).
		Where("policy_set_id = ?", policySetID).
		Order("version_no DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.AbacPolicySetVersion, len(models))
	for i, m := range models {
		out[i] = toCoreAbacPolicySetVersion(&m)
	}
	return out, nil
}

func toCoreAbacPolicySet(m *AbacPolicySet) *core.AbacPolicySet {
	return &core.AbacPolicySet{
		ID:                 m.ID,
		TenantID:            m.TenantID,
		Mode:               m.Mode,
		PublishedVersionID: m.PublishedVersionID,
	}
}

func toCoreAbacPolicySetVersion(m *AbacPolicySetVersion) *core.AbacPolicySetVersion {
	return &core.AbacPolicySetVersion{
		ID:          m.ID,
		PolicySetID: m.PolicySetID,
		VersionNo:   m.VersionNo,
		PolicyJSON:  m.PolicyJSON,
		CreatedAt:   m.CreatedAt,
	}
}
