package scim

import (
	"context"
	"testing"
	"time"

	"github.com/auth9/auth9core/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeUserStore struct {
	byID    map[string]*core.User
	nextSeq int
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byID: map[string]*core.User{}}
}

func (f *fakeUserStore) Create(ctx context.Context, u *core.User) error {
	f.nextSeq++
	if u.ID == "" {
		u.ID = "user-" + string(rune('a'+f.nextSeq))
	}
	f.byID[u.ID] = u
	return nil
}

func (f *fakeUserStore) GetByID(ctx context.Context, id string) (*core.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, assert.AnError
	}
	return u, nil
}

func (f *fakeUserStore) GetByEmail(ctx context.Context, email string) (*core.User, error) {
	for _, u := range f.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, assert.AnError
}

func (f *fakeUserStore) GetByExternalIdpID(ctx context.Context, externalIdpID string) (*core.User, error) {
	for _, u := range f.byID {
		if u.ExternalIdpID == externalIdpID {
			return u, nil
		}
	}
	return nil, assert.AnError
}

func (f *fakeUserStore) GetByScimExternalID(ctx context.Context, scimExternalID string) (*core.User, error) {
	for _, u := range f.byID {
		if u.ScimExternalID != nil && *u.ScimExternalID == scimExternalID {
			return u, nil
		}
	}
	return nil, assert.AnError
}

func (f *fakeUserStore) Update(ctx context.Context, u *core.User) error {
	f.byID[u.ID] = u
	return nil
}

func (f *fakeUserStore) List(ctx context.Context, limit int, cursor string) ([]*core.User, string, error) {
	var out []*core.User
	for _, u := range f.byID {
		out = append(out, u)
	}
	return out, "", nil
}

func (f *fakeUserStore) Search(ctx context.Context, predicate func(*core.User) bool, limit int, cursor string) ([]*core.User, string, error) {
	var out []*core.User
	for _, u := range f.byID {
		if predicate(u) {
			out = append(out, u)
		}
	}
	return out, "", nil
}

type fakeProvLogStore struct {
	entries []*core.ScimProvisioningLogEntry
}

func (f *fakeProvLogStore) Create(ctx context.Context, e *core.ScimProvisioningLogEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeProvLogStore) List(ctx context.Context, tenantID, connectorID string, limit int, cursor string) ([]*core.ScimProvisioningLogEntry, string, error) {
	return f.entries, "", nil
}

type fakeIdpAdmin struct {
	sub string
	err error
}

func (f *fakeIdpAdmin) CreateUser(ctx context.Context, email, displayName string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.sub, nil
}

func newTestServer() (*Server, *fakeUserStore, *fakeProvLogStore, *fakeIdpAdmin) {
	users := newFakeUserStore()
	provLog := &fakeProvLogStore{}
	idp := &fakeIdpAdmin{sub: "idp-sub-1"}
	srv := NewServer(users, provLog, idp, fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	return srv, users, provLog, idp
}

func testRequestContext() core.ScimRequestContext {
	return core.ScimRequestContext{TenantID: "tenant-1", ConnectorID: "conn-1", TokenID: "tok-1", BaseURL: "https://auth.example.com/scim/v2"}
}

func TestServer_CreateUser_NewUserGoesThroughIdp(t *testing.T) {
	srv, users, provLog, _ := newTestServer()

	out, err := srv.CreateUser(context.Background(), testRequestContext(), map[string]interface{}{
		"userName":    "alice@example.com",
		"displayName": "Alice Example",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", out["userName"])

	created, err := users.GetByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "idp-sub-1", created.ExternalIdpID)
	assert.Len(t, provLog.entries, 1)
	assert.Equal(t, "success", provLog.entries[0].Status)
}

func TestServer_CreateUser_IdpFailureSurfacesWithoutLocalRow(t *testing.T) {
	srv, users, provLog, idp := newTestServer()
	idp.err = assert.AnError

	_, err := srv.CreateUser(context.Background(), testRequestContext(), map[string]interface{}{"userName": "bob@example.com"})
	assert.Error(t, err)
	_, getErr := users.GetByEmail(context.Background(), "bob@example.com")
	assert.Error(t, getErr)
	assert.Equal(t, "error", provLog.entries[0].Status)
}

func TestServer_CreateUser_LinksExistingUnprovisionedUser(t *testing.T) {
	srv, users, _, _ := newTestServer()
	_ = users.Create(context.Background(), &core.User{ID: "user-existing", Email: "carol@example.com"})

	out, err := srv.CreateUser(context.Background(), testRequestContext(), map[string]interface{}{"userName": "carol@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "carol@example.com", out["userName"])

	linked, err := users.GetByID(context.Background(), "user-existing")
	require.NoError(t, err)
	assert.NotNil(t, linked.ScimExternalID)
}

func TestServer_CreateUser_AlreadyProvisionedConflicts(t *testing.T) {
	srv, users, _, _ := newTestServer()
	extID := "ext-1"
	_ = users.Create(context.Background(), &core.User{ID: "user-existing", Email: "dana@example.com", ScimExternalID: &extID})

	_, err := srv.CreateUser(context.Background(), testRequestContext(), map[string]interface{}{"userName": "dana@example.com"})
	assert.Error(t, err)
}

func TestServer_CreateUser_RequiresUserName(t *testing.T) {
	srv, _, _, _ := newTestServer()
	_, err := srv.CreateUser(context.Background(), testRequestContext(), map[string]interface{}{})
	assert.Error(t, err)
}

func TestServer_ReplaceUser_OverwritesFields(t *testing.T) {
	srv, users, _, _ := newTestServer()
	_ = users.Create(context.Background(), &core.User{ID: "user-1", Email: "eve@example.com"})

	out, err := srv.ReplaceUser(context.Background(), testRequestContext(), "user-1", map[string]interface{}{
		"displayName": "Eve Updated",
		"active":      false,
	})
	require.NoError(t, err)
	assert.Equal(t, "Eve Updated", out["displayName"])
	assert.Equal(t, false, out["active"])
}

func TestServer_PatchUser_AddReplaceRemove(t *testing.T) {
	srv, users, _, _ := newTestServer()
	name := "Old Name"
	_ = users.Create(context.Background(), &core.User{ID: "user-1", Email: "frank@example.com", DisplayName: &name})

	out, err := srv.PatchUser(context.Background(), testRequestContext(), "user-1", []core.ScimPatchOp{
		{Op: "replace", Path: "displayName", Value: "New Name"},
	})
	require.NoError(t, err)
	assert.Equal(t, "New Name", out["displayName"])

	out, err = srv.PatchUser(context.Background(), testRequestContext(), "user-1", []core.ScimPatchOp{
		{Op: "remove", Path: "displayName"},
	})
	require.NoError(t, err)
	_, hasName := out["displayName"]
	assert.False(t, hasName)
}

func TestServer_PatchUser_UnknownOpErrors(t *testing.T) {
	srv, users, _, _ := newTestServer()
	_ = users.Create(context.Background(), &core.User{ID: "user-1", Email: "greg@example.com"})

	_, err := srv.PatchUser(context.Background(), testRequestContext(), "user-1", []core.ScimPatchOp{
		{Op: "move", Path: "displayName", Value: "x"},
	})
	assert.Error(t, err)
}

func TestServer_DeleteUser_SoftDeletesViaLockedUntil(t *testing.T) {
	srv, users, _, _ := newTestServer()
	_ = users.Create(context.Background(), &core.User{ID: "user-1", Email: "hank@example.com"})

	err := srv.DeleteUser(context.Background(), testRequestContext(), "user-1")
	require.NoError(t, err)

	u, _ := users.GetByID(context.Background(), "user-1")
	require.NotNil(t, u.LockedUntil)
	assert.True(t, u.IsSoftDeleted())
}

func TestServer_ListUsers_HotPathByUserName(t *testing.T) {
	srv, users, _, _ := newTestServer()
	_ = users.Create(context.Background(), &core.User{ID: "user-1", Email: "ivy@example.com"})
	_ = users.Create(context.Background(), &core.User{ID: "user-2", Email: "jack@example.com"})

	resp, err := srv.ListUsers(context.Background(), testRequestContext(), `userName eq "ivy@example.com"`, 1, 10)
	require.NoError(t, err)
	require.Len(t, resp.Resources, 1)
	assert.Equal(t, "ivy@example.com", resp.Resources[0]["userName"])
}

func TestServer_ListUsers_HotPathByExternalId(t *testing.T) {
	srv, users, _, _ := newTestServer()
	extID := "scim-ext-1"
	_ = users.Create(context.Background(), &core.User{ID: "user-1", Email: "kate@example.com", ScimExternalID: &extID})

	resp, err := srv.ListUsers(context.Background(), testRequestContext(), `externalId eq "scim-ext-1"`, 1, 10)
	require.NoError(t, err)
	require.Len(t, resp.Resources, 1)
	assert.Equal(t, "kate@example.com", resp.Resources[0]["userName"])
}

func TestServer_ListUsers_FallbackScanWithPagination(t *testing.T) {
	srv, users, _, _ := newTestServer()
	for i := 0; i < 3; i++ {
		_ = users.Create(context.Background(), &core.User{ID: "", Email: "user" + string(rune('a'+i)) + "@example.com"})
	}

	resp, err := srv.ListUsers(context.Background(), testRequestContext(), `active eq true`, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.TotalResults)
	assert.Len(t, resp.Resources, 2)
}

func TestServer_ListUsers_RejectsUnknownAttribute(t *testing.T) {
	srv, _, _, _ := newTestServer()
	_, err := srv.ListUsers(context.Background(), testRequestContext(), `nickname eq "x"`, 1, 10)
	assert.Error(t, err)
}

func TestServer_Bulk_DispatchesCreateAndDelete(t *testing.T) {
	srv, users, _, _ := newTestServer()
	_ = users.Create(context.Background(), &core.User{ID: "user-1", Email: "liam@example.com"})

	results, err := srv.Bulk(context.Background(), testRequestContext(), []core.ScimBulkOp{
		{Method: "POST", Path: "/Users", BulkID: "b1", Data: map[string]interface{}{"userName": "mia@example.com"}},
		{Method: "DELETE", Path: "/Users/user-1", BulkID: "b2"},
	}, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 201, results[0].Status)
	assert.Equal(t, 204, results[1].Status)
}

func TestServer_Bulk_UnsupportedMethodReportsError(t *testing.T) {
	srv, _, _, _ := newTestServer()
	results, err := srv.Bulk(context.Background(), testRequestContext(), []core.ScimBulkOp{
		{Method: "PATCH", Path: "/Users/x", BulkID: "b1"},
	}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 400, results[0].Status)
}

func TestServer_Bulk_HonorsFailOnErrors(t *testing.T) {
	srv, _, _, _ := newTestServer()
	results, err := srv.Bulk(context.Background(), testRequestContext(), []core.ScimBulkOp{
		{Method: "PATCH", Path: "/Users/x", BulkID: "b1"},
		{Method: "PATCH", Path: "/Users/y", BulkID: "b2"},
		{Method: "POST", Path: "/Users", BulkID: "b3", Data: map[string]interface{}{"userName": "never-run@example.com"}},
	}, 1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 400, results[0].Status)
	assert.Equal(t, "b1", results[0].BulkID)
	assert.Equal(t, 507, results[1].Status)
	assert.Empty(t, results[1].BulkID)
}
