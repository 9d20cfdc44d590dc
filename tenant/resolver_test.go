package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/auth9/auth9core/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSsoConnectorStore struct {
	byDomain map[string]*core.EnterpriseSsoConnector
}

func newMockSsoConnectorStore() *mockSsoConnectorStore {
	return &mockSsoConnectorStore{byDomain: map[string]*core.EnterpriseSsoConnector{}}
}

func (m *mockSsoConnectorStore) Create(ctx context.Context, c *core.EnterpriseSsoConnector) error {
	for _, d := range c.Domains {
		m.byDomain[d] = c
	}
	return nil
}
func (m *mockSsoConnectorStore) GetByID(ctx context.Context, tenantID, id string) (*core.EnterpriseSsoConnector, error) {
	for _, c := range m.byDomain {
		if c.ID == id && c.TenantID == tenantID {
			return c, nil
		}
	}
	return nil, errors.New("not found")
}
func (m *mockSsoConnectorStore) Update(ctx context.Context, c *core.EnterpriseSsoConnector) error { return nil }
func (m *mockSsoConnectorStore) Delete(ctx context.Context, tenantID, id string) error             { return nil }
func (m *mockSsoConnectorStore) List(ctx context.Context, tenantID string) ([]*core.EnterpriseSsoConnector, error) {
	var out []*core.EnterpriseSsoConnector
	for _, c := range m.byDomain {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}
func (m *mockSsoConnectorStore) GetByDomain(ctx context.Context, domain string) (*core.EnterpriseSsoConnector, error) {
	if c, ok := m.byDomain[domain]; ok {
		return c, nil
	}
	return nil, errors.New("not found")
}

func setupTestConnectors(store *mockSsoConnectorStore) {
	acme := &core.EnterpriseSsoConnector{
		ID:       "conn-1",
		TenantID: "tenant-1",
		Alias:    "acme-okta",
		Enabled:  true,
		Domains:  []string{"acme.com"},
	}
	store.byDomain["acme.com"] = acme

	startup := &core.EnterpriseSsoConnector{
		ID:       "conn-2",
		TenantID: "tenant-2",
		Alias:    "startup-azuread",
		Enabled:  true,
		Domains:  []string{"sso.startup.io"},
	}
	store.byDomain["sso.startup.io"] = startup
}

func TestDomainResolver_ResolveByDomain_ExactMatch(t *testing.T) {
	store := newMockSsoConnectorStore()
	setupTestConnectors(store)
	resolver := NewDomainResolver(store)

	conn, err := resolver.ResolveByDomain(context.Background(), "acme.com")
	require.NoError(t, err)
	assert.Equal(t, "conn-1", conn.ID)
}

func TestDomainResolver_ResolveByDomain_LongestSuffixMatch(t *testing.T) {
	store := newMockSsoConnectorStore()
	setupTestConnectors(store)
	resolver := NewDomainResolver(store)

	// "login.acme.com" isn't registered directly, but "acme.com" is — the
	// resolver should fall back to the parent-domain registration.
	conn, err := resolver.ResolveByDomain(context.Background(), "login.acme.com")
	require.NoError(t, err)
	assert.Equal(t, "conn-1", conn.ID)
}

func TestDomainResolver_ResolveByDomain_PrefersMoreSpecificRegistration(t *testing.T) {
	store := newMockSsoConnectorStore()
	setupTestConnectors(store)
	resolver := NewDomainResolver(store)

	conn, err := resolver.ResolveByDomain(context.Background(), "login.sso.startup.io")
	require.NoError(t, err)
	assert.Equal(t, "conn-2", conn.ID)
}

func TestDomainResolver_ResolveByDomain_HandlesSchemeAndPort(t *testing.T) {
	store := newMockSsoConnectorStore()
	setupTestConnectors(store)
	resolver := NewDomainResolver(store)

	conn, err := resolver.ResolveByDomain(context.Background(), "https://acme.com:8443")
	require.NoError(t, err)
	assert.Equal(t, "conn-1", conn.ID)
}

func TestDomainResolver_ResolveByDomain_NotFound(t *testing.T) {
	store := newMockSsoConnectorStore()
	setupTestConnectors(store)
	resolver := NewDomainResolver(store)

	_, err := resolver.ResolveByDomain(context.Background(), "unknown.example.com")
	assert.Error(t, err)
}

func TestDomainResolver_ResolveByDomain_EmptyDomainErrors(t *testing.T) {
	store := newMockSsoConnectorStore()
	resolver := NewDomainResolver(store)

	_, err := resolver.ResolveByDomain(context.Background(), "")
	assert.Error(t, err)
}

func TestNormalizeHost(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple_host", "auth.example.com", "auth.example.com"},
		{"host_with_port", "auth.example.com:8080", "auth.example.com"},
		{"host_with_https", "https://auth.example.com", "auth.example.com"},
		{"host_with_http", "http://auth.example.com", "auth.example.com"},
		{"mixed_case", "Auth.Example.COM", "auth.example.com"},
		{"host_with_path", "https://auth.example.com/path", "auth.example.com"},
		{"empty_string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeHost(tt.input))
		})
	}
}

func TestSuffixes(t *testing.T) {
	assert.Equal(t, []string{"login.sso.acme.com", "sso.acme.com", "acme.com"}, suffixes("login.sso.acme.com"))
	assert.Equal(t, []string{"acme.com"}, suffixes("acme.com"))
	assert.Equal(t, []string(nil), suffixes("com"))
}
