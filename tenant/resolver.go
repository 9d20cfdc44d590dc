// Package tenant resolves an incoming login-hint domain to the SSO
// connector that owns it.
package tenant

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/auth9/auth9core/core"
)

// DomainResolver implements core.ConnectorResolver by matching a
// login-hint domain against the longest registered suffix among
// tenant-configured EnterpriseSsoConnector.Domains entries. This is the
// teacher's original subdomain-based tenant HostResolver, repurposed per
// SPEC_FULL.md EXP-3 item 4 from "find the owning tenant by host" to
// "find the owning SSO connector by login-hint domain" — domain-to-
// connector is unique globally (spec.md §3), so the first suffix that
// matches wins.
type DomainResolver struct {
	connectors core.SsoConnectorStore
}

// NewDomainResolver creates a new DomainResolver.
func NewDomainResolver(connectors core.SsoConnectorStore) *DomainResolver {
	return &DomainResolver{connectors: connectors}
}

// ResolveByDomain implements core.ConnectorResolver. It normalizes host,
// then tries the full host and each progressively shorter dot-separated
// suffix (e.g. "login.sso.acme.com" → "sso.acme.com" → "acme.com")
// against SsoConnectorStore.GetByDomain, stopping at the first hit. This
// lets a tenant register either a specific subdomain or an entire parent
// domain for SSO-connector login-hint routing.
func (r *DomainResolver) ResolveByDomain(ctx context.Context, domain string) (*core.EnterpriseSsoConnector, error) {
	host := normalizeHost(domain)
	if host == "" {
		return nil, fmt.Errorf("empty domain")
	}

	for _, candidate := range suffixes(host) {
		conn, err := r.connectors.GetByDomain(ctx, candidate)
		if err == nil && conn != nil {
			return conn, nil
		}
	}

	return nil, fmt.Errorf("no sso connector registered for domain: %s", domain)
}

// suffixes returns host, then each shorter dot-separated suffix of host,
// down to (but not including) a bare single-label TLD.
func suffixes(host string) []string {
	labels := strings.Split(host, ".")
	var out []string
	for i := 0; i < len(labels)-1; i++ {
		out = append(out, strings.Join(labels[i:], "."))
	}
	return out
}

// normalizeHost strips scheme/port and lowercases the host.
func normalizeHost(host string) string {
	if strings.Contains(host, "://") {
		u, err := url.Parse(host)
		if err == nil {
			host = u.Host
		}
	}

	if i := strings.Index(host, ":"); i != -1 {
		host = host[:i]
	}

	return strings.ToLower(strings.TrimSpace(host))
}
