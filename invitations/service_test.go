package invitations

import (
	"context"
	"testing"
	"time"

	"github.com/auth9/auth9core/core"
	"github.com/auth9/auth9core/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeTenantStore struct {
	tenants map[string]*core.Tenant
}

func (f *fakeTenantStore) Create(ctx context.Context, t *core.Tenant) error { return nil }
func (f *fakeTenantStore) GetByID(ctx context.Context, id string) (*core.Tenant, error) {
	t, ok := f.tenants[id]
	if !ok {
		return nil, assert.AnError
	}
	return t, nil
}
func (f *fakeTenantStore) GetBySlug(ctx context.Context, slug string) (*core.Tenant, error) {
	return nil, assert.AnError
}
func (f *fakeTenantStore) Update(ctx context.Context, t *core.Tenant) error { return nil }
func (f *fakeTenantStore) Delete(ctx context.Context, id string) error     { return nil }
func (f *fakeTenantStore) List(ctx context.Context, limit int, cursor string) ([]*core.Tenant, string, error) {
	return nil, "", nil
}

type fakeInvitationStore struct {
	byID       map[string]*core.Invitation
	byHash     map[string]*core.Invitation
	consumed   map[string]bool
	createErr  error
}

func newFakeInvitationStore() *fakeInvitationStore {
	return &fakeInvitationStore{
		byID:     map[string]*core.Invitation{},
		byHash:   map[string]*core.Invitation{},
		consumed: map[string]bool{},
	}
}

func (f *fakeInvitationStore) Create(ctx context.Context, inv *core.Invitation) error {
	if f.createErr != nil {
		return f.createErr
	}
	inv.ID = "inv-" + inv.Email
	f.byID[inv.ID] = inv
	f.byHash[inv.TokenHash] = inv
	return nil
}

func (f *fakeInvitationStore) GetByID(ctx context.Context, tenantID, id string) (*core.Invitation, error) {
	inv, ok := f.byID[id]
	if !ok || inv.TenantID != tenantID {
		return nil, assert.AnError
	}
	return inv, nil
}

func (f *fakeInvitationStore) GetPendingByEmail(ctx context.Context, tenantID, email string) (*core.Invitation, error) {
	for _, inv := range f.byID {
		if inv.TenantID == tenantID && inv.Email == email && inv.Status == "pending" {
			return inv, nil
		}
	}
	return nil, assert.AnError
}

func (f *fakeInvitationStore) GetAndConsumeByTokenHash(ctx context.Context, tokenHash string) (*core.Invitation, error) {
	if f.consumed[tokenHash] {
		return nil, assert.AnError
	}
	inv, ok := f.byHash[tokenHash]
	if !ok {
		return nil, assert.AnError
	}
	f.consumed[tokenHash] = true
	return inv, nil
}

func (f *fakeInvitationStore) Update(ctx context.Context, inv *core.Invitation) error {
	f.byID[inv.ID] = inv
	f.byHash[inv.TokenHash] = inv
	return nil
}

func (f *fakeInvitationStore) List(ctx context.Context, tenantID string, status *string, limit int, cursor string) ([]*core.Invitation, string, error) {
	var out []*core.Invitation
	for _, inv := range f.byID {
		if inv.TenantID == tenantID {
			out = append(out, inv)
		}
	}
	return out, "", nil
}

func (f *fakeInvitationStore) DeleteExpired(ctx context.Context, before time.Time) error { return nil }

func newTestService(invitations *fakeInvitationStore, tenants *fakeTenantStore, now time.Time) *Service {
	return NewService(invitations, tenants, fakeClock{now: now}, 7*24*time.Hour)
}

func TestService_Create_StoresHashNotClearToken(t *testing.T) {
	tenants := &fakeTenantStore{tenants: map[string]*core.Tenant{"t1": {ID: "t1"}}}
	invitations := newFakeInvitationStore()
	svc := newTestService(invitations, tenants, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	inv, clearToken, err := svc.Create(context.Background(), "t1", "new@example.com", []string{"role-1"}, "admin-1")
	require.NoError(t, err)
	assert.NotEmpty(t, clearToken)
	assert.NotEqual(t, clearToken, inv.TokenHash)
	assert.Equal(t, crypto.HashString(clearToken), inv.TokenHash)
	assert.Equal(t, "pending", inv.Status)
	assert.Equal(t, time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC), inv.ExpiresAt)
}

func TestService_Create_RejectsUnknownTenant(t *testing.T) {
	tenants := &fakeTenantStore{tenants: map[string]*core.Tenant{}}
	invitations := newFakeInvitationStore()
	svc := newTestService(invitations, tenants, time.Now())

	_, _, err := svc.Create(context.Background(), "missing-tenant", "new@example.com", nil, "admin-1")
	assert.Error(t, err)
}

func TestService_Create_RejectsDuplicatePendingInvite(t *testing.T) {
	tenants := &fakeTenantStore{tenants: map[string]*core.Tenant{"t1": {ID: "t1"}}}
	invitations := newFakeInvitationStore()
	svc := newTestService(invitations, tenants, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	_, _, err := svc.Create(context.Background(), "t1", "dup@example.com", nil, "admin-1")
	require.NoError(t, err)

	_, _, err = svc.Create(context.Background(), "t1", "dup@example.com", nil, "admin-1")
	assert.Error(t, err)
}

func TestService_Accept_MarksAcceptedOnFirstCall(t *testing.T) {
	tenants := &fakeTenantStore{tenants: map[string]*core.Tenant{"t1": {ID: "t1"}}}
	invitations := newFakeInvitationStore()
	svc := newTestService(invitations, tenants, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	inv, clearToken, err := svc.Create(context.Background(), "t1", "new@example.com", nil, "admin-1")
	require.NoError(t, err)

	accepted, err := svc.Accept(context.Background(), clearToken)
	require.NoError(t, err)
	assert.Equal(t, "accepted", accepted.Status)
	assert.NotNil(t, accepted.AcceptedAt)
	assert.Equal(t, inv.ID, accepted.ID)
}

func TestService_Accept_ReplayedTokenErrorsNotDoubleAccepted(t *testing.T) {
	tenants := &fakeTenantStore{tenants: map[string]*core.Tenant{"t1": {ID: "t1"}}}
	invitations := newFakeInvitationStore()
	svc := newTestService(invitations, tenants, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	_, clearToken, err := svc.Create(context.Background(), "t1", "new@example.com", nil, "admin-1")
	require.NoError(t, err)

	first, err := svc.Accept(context.Background(), clearToken)
	require.NoError(t, err)
	assert.Equal(t, "accepted", first.Status)

	// Simulate replay of the same already-consumed clear token: the store
	// reports not-found (GetAndConsumeByTokenHash is single-use), so the
	// caller sees an error rather than a silent double-accept.
	_, err = svc.Accept(context.Background(), clearToken)
	assert.Error(t, err)
}

func TestService_Accept_ExpiredInvitationIsRejected(t *testing.T) {
	tenants := &fakeTenantStore{tenants: map[string]*core.Tenant{"t1": {ID: "t1"}}}
	invitations := newFakeInvitationStore()
	svc := newTestService(invitations, tenants, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	_, clearToken, err := svc.Create(context.Background(), "t1", "new@example.com", nil, "admin-1")
	require.NoError(t, err)

	// Re-point the service's clock past the invitation's expiry.
	svc.clock = fakeClock{now: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}

	_, err = svc.Accept(context.Background(), clearToken)
	assert.Error(t, err)
}

func TestService_Revoke_MarksRevoked(t *testing.T) {
	tenants := &fakeTenantStore{tenants: map[string]*core.Tenant{"t1": {ID: "t1"}}}
	invitations := newFakeInvitationStore()
	svc := newTestService(invitations, tenants, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	inv, _, err := svc.Create(context.Background(), "t1", "new@example.com", nil, "admin-1")
	require.NoError(t, err)

	err = svc.Revoke(context.Background(), "t1", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "revoked", invitations.byID[inv.ID].Status)
}

func TestService_Revoke_RejectsAlreadyAccepted(t *testing.T) {
	tenants := &fakeTenantStore{tenants: map[string]*core.Tenant{"t1": {ID: "t1"}}}
	invitations := newFakeInvitationStore()
	svc := newTestService(invitations, tenants, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	inv, clearToken, err := svc.Create(context.Background(), "t1", "new@example.com", nil, "admin-1")
	require.NoError(t, err)
	_, err = svc.Accept(context.Background(), clearToken)
	require.NoError(t, err)

	err = svc.Revoke(context.Background(), "t1", inv.ID)
	assert.Error(t, err)
}
