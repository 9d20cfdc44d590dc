// Package authz composes the three authorization layers of spec.md §4.2:
// a token-type gate, RBAC over tenant membership and the token's permission
// claims, and the bespoke ABAC evaluator.
package authz

import (
	"fmt"

	"github.com/auth9/auth9core/core"
)

// ActionSpec describes what a protected action requires at each layer.
type ActionSpec struct {
	// AcceptedKinds lists the token kinds this action will consider at all.
	AcceptedKinds []core.TokenKind
	// ServiceClientBlocked forbids service-client tenant-access tokens
	// (tokens with no human subject email) from this action, per spec.md's
	// "service-client tokens cannot manage invitations, roles, or tenant
	// membership" rule.
	ServiceClientBlocked bool
	// Administrative, when true, is satisfied by role_in_tenant ∈ {owner,
	// admin} regardless of RequiredPermissions.
	Administrative bool
	// RequiredPermissions is an any-of set of permission codes; satisfied
	// if the caller's token carries at least one of them.
	RequiredPermissions []string
	// TenantScoped marks actions that operate within a single tenant; only
	// these are subject to the cross-tenant check and to ABAC.
	TenantScoped bool
}

// Registry is the set of known action specs, keyed by action name.
type Registry map[string]ActionSpec

// DefaultRegistry reflects spec.md's worked examples: invitation, role, and
// tenant-membership management are blocked for service clients and require
// owner/admin or the named permission; read actions accept any kind with the
// matching permission.
func DefaultRegistry() Registry {
	return Registry{
		"invitation:create": {AcceptedKinds: []core.TokenKind{core.TokenKindTenantAccess}, ServiceClientBlocked: true, Administrative: true, RequiredPermissions: []string{"invitation:write"}, TenantScoped: true},
		"invitation:revoke": {AcceptedKinds: []core.TokenKind{core.TokenKindTenantAccess}, ServiceClientBlocked: true, Administrative: true, RequiredPermissions: []string{"invitation:write"}, TenantScoped: true},
		"role:write":        {AcceptedKinds: []core.TokenKind{core.TokenKindTenantAccess}, ServiceClientBlocked: true, Administrative: true, RequiredPermissions: []string{"role:write"}, TenantScoped: true},
		"role:read":         {AcceptedKinds: []core.TokenKind{core.TokenKindTenantAccess, core.TokenKindIdentity}, RequiredPermissions: []string{"role:read"}, TenantScoped: true},
		"rbac:write":        {AcceptedKinds: []core.TokenKind{core.TokenKindTenantAccess}, ServiceClientBlocked: true, Administrative: true, RequiredPermissions: []string{"rbac:write"}, TenantScoped: true},
		"tenant_user:write": {AcceptedKinds: []core.TokenKind{core.TokenKindTenantAccess}, ServiceClientBlocked: true, Administrative: true, RequiredPermissions: []string{"tenant_user:write"}, TenantScoped: true},
		"tenant_user:read":  {AcceptedKinds: []core.TokenKind{core.TokenKindTenantAccess, core.TokenKindIdentity}, RequiredPermissions: []string{"tenant_user:read"}, TenantScoped: true},
	}
}

// isServiceClientToken reports whether claims represent a machine/service
// tenant-access token rather than a human login: service tokens carry no
// subject email.
func isServiceClientToken(claims *core.TokenClaims) bool {
	return claims.TokenType == core.TokenKindTenantAccess && claims.Email == ""
}

// evaluateGate implements layer 1. It returns a non-nil error (never an
// AuthzDecision) when the gate itself rejects the request; the caller still
// must run layers 2/3 when the gate passes.
func evaluateGate(spec ActionSpec, claims *core.TokenClaims, targetTenant string, cfg core.Config) error {
	accepted := false
	for _, k := range spec.AcceptedKinds {
		if claims.TokenType == k {
			accepted = true
			break
		}
	}
	if !accepted {
		return fmt.Errorf("token kind %q not accepted for this action", claims.TokenType)
	}

	if claims.TokenType == core.TokenKindIdentity {
		if !cfg.IsPlatformAdmin(claims.Email) {
			return fmt.Errorf("identity tokens are only accepted for platform admins")
		}
		return nil
	}

	if claims.TokenType == core.TokenKindTenantAccess {
		if spec.TenantScoped && targetTenant != "" && claims.TenantID != targetTenant {
			return fmt.Errorf("tenant-access token tenant %q does not match target tenant %q", claims.TenantID, targetTenant)
		}
		if spec.ServiceClientBlocked && isServiceClientToken(claims) {
			return fmt.Errorf("service-client tokens cannot perform this action")
		}
	}

	return nil
}
