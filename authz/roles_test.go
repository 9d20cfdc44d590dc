package authz

import (
	"context"
	"testing"

	"github.com/auth9/auth9core/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoleStoreForCycles struct {
	roles map[string]*core.Role
}

func newFakeRoleStoreForCycles() *fakeRoleStoreForCycles {
	return &fakeRoleStoreForCycles{roles: map[string]*core.Role{}}
}
func (f *fakeRoleStoreForCycles) Create(ctx context.Context, r *core.Role) error {
	f.roles[r.ID] = r
	return nil
}
func (f *fakeRoleStoreForCycles) GetByID(ctx context.Context, id string) (*core.Role, error) {
	r, ok := f.roles[id]
	if !ok {
		return nil, assert.AnError
	}
	return r, nil
}
func (f *fakeRoleStoreForCycles) Update(ctx context.Context, r *core.Role) error {
	f.roles[r.ID] = r
	return nil
}
func (f *fakeRoleStoreForCycles) Delete(ctx context.Context, id string) error {
	delete(f.roles, id)
	return nil
}
func (f *fakeRoleStoreForCycles) List(ctx context.Context, serviceID string) ([]*core.Role, error) {
	return nil, nil
}

func strPtr(s string) *string { return &s }

func TestValidateNoCycle_NoParentIsValid(t *testing.T) {
	roles := newFakeRoleStoreForCycles()
	assert.NoError(t, ValidateNoCycle(context.Background(), roles, "r1", ""))
}

func TestValidateNoCycle_SelfParentRejected(t *testing.T) {
	roles := newFakeRoleStoreForCycles()
	assert.Error(t, ValidateNoCycle(context.Background(), roles, "r1", "r1"))
}

func TestValidateNoCycle_DirectCycleRejected(t *testing.T) {
	roles := newFakeRoleStoreForCycles()
	roles.roles["parent"] = &core.Role{ID: "parent", ParentRoleID: strPtr("child")}
	roles.roles["child"] = &core.Role{ID: "child"}

	err := ValidateNoCycle(context.Background(), roles, "child", "parent")
	assert.Error(t, err)
}

func TestValidateNoCycle_ValidChainAccepted(t *testing.T) {
	roles := newFakeRoleStoreForCycles()
	roles.roles["grandparent"] = &core.Role{ID: "grandparent"}
	roles.roles["parent"] = &core.Role{ID: "parent", ParentRoleID: strPtr("grandparent")}

	err := ValidateNoCycle(context.Background(), roles, "child", "parent")
	require.NoError(t, err)
}

func TestValidateNoCycle_DeepChainExceedsMaxDepth(t *testing.T) {
	roles := newFakeRoleStoreForCycles()
	// Build a chain of maxRoleChainLength+2 roles, each pointing at the next.
	for i := 0; i < maxRoleChainLength+2; i++ {
		id := idFor(i)
		next := idFor(i + 1)
		roles.roles[id] = &core.Role{ID: id, ParentRoleID: strPtr(next)}
	}
	roles.roles[idFor(maxRoleChainLength+2)] = &core.Role{ID: idFor(maxRoleChainLength + 2)}

	err := ValidateNoCycle(context.Background(), roles, "new-role", idFor(0))
	assert.Error(t, err)
}

func idFor(i int) string {
	return "role-" + string(rune('a'+i))
}
