package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/auth9/auth9core/core"
	"github.com/rs/zerolog"
)

// Engine implements core.AuthorizationEngine.
type Engine struct {
	registry    Registry
	tenantUsers core.TenantUserStore
	abacSets    core.AbacPolicySetStore
	abac        core.AbacEvaluator
	clock       core.Clock
	audit       core.AuditSink
	cfg         core.Config
	log         zerolog.Logger
}

func NewEngine(
	registry Registry,
	tenantUsers core.TenantUserStore,
	abacSets core.AbacPolicySetStore,
	abac core.AbacEvaluator,
	clock core.Clock,
	audit core.AuditSink,
	cfg core.Config,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		registry: registry, tenantUsers: tenantUsers, abacSets: abacSets,
		abac: abac, clock: clock, audit: audit, cfg: cfg, log: log,
	}
}

// Authorize runs all three layers in order and applies the ABAC mode
// semantics: disabled leaves the RBAC outcome untouched; shadow computes the
// ABAC decision and records it without affecting the result; enforce lets a
// denied ABAC outcome override an otherwise-allowed request.
func (e *Engine) Authorize(ctx context.Context, req core.AuthorizeDecisionRequest) (core.AuthzDecision, error) {
	spec, ok := e.registry[req.Action]
	if !ok {
		return core.AuthzDecision{}, fmt.Errorf("unknown action %q", req.Action)
	}
	if req.Claims == nil {
		return core.AuthzDecision{}, fmt.Errorf("missing token claims")
	}

	if err := evaluateGate(spec, req.Claims, req.TargetTenant, e.cfg); err != nil {
		return core.AuthzDecision{Allowed: false, Reason: "gate: " + err.Error()}, nil
	}

	rbacAllowed, rbacReason := e.evaluateRbac(ctx, spec, req)
	if !rbacAllowed {
		return core.AuthzDecision{Allowed: false, Reason: rbacReason}, nil
	}

	if !spec.TenantScoped || req.TargetTenant == "" {
		return core.AuthzDecision{Allowed: true, Reason: "rbac"}, nil
	}

	abacDecision, mode, err := e.evaluateAbac(ctx, req)
	if err != nil {
		e.log.Warn().Err(err).Str("tenant_id", req.TargetTenant).Msg("abac evaluation failed, fail-open")
		return core.AuthzDecision{Allowed: true, Reason: "rbac (abac unavailable, fail-open)"}, nil
	}

	switch mode {
	case "enforce":
		if abacDecision.Denied {
			return core.AuthzDecision{Allowed: false, Reason: "abac: " + matchedIDs(abacDecision.MatchedDeny)}, nil
		}
		return core.AuthzDecision{Allowed: true, Reason: "rbac+abac"}, nil
	case "shadow":
		e.recordShadow(ctx, req, abacDecision)
		return core.AuthzDecision{Allowed: true, Reason: "rbac (abac shadow)"}, nil
	default: // "disabled" or unset
		return core.AuthzDecision{Allowed: true, Reason: "rbac (abac disabled)"}, nil
	}
}

func matchedIDs(ids []string) string {
	if len(ids) == 0 {
		return "denied"
	}
	return "denied by rule " + ids[0]
}

// evaluateRbac implements layer 2. Platform admins always pass. Otherwise
// administrative actions require role_in_tenant ∈ {owner, admin}; all other
// actions require a matching permission already embedded in the
// tenant-access token's claims (tokens.Service.Exchange resolves and
// embeds the UserRolesInTenant projection at mint time).
func (e *Engine) evaluateRbac(ctx context.Context, spec ActionSpec, req core.AuthorizeDecisionRequest) (bool, string) {
	if req.Claims.TokenType == core.TokenKindIdentity {
		// Gate already required platform-admin email for identity tokens.
		return true, "platform admin (identity token)"
	}
	if e.cfg.IsPlatformAdmin(req.Claims.Email) {
		return true, "platform admin"
	}

	if spec.Administrative {
		tu, err := e.tenantUsers.Get(ctx, req.Claims.Subject, req.TargetTenant)
		if err != nil {
			return false, "rbac: could not resolve tenant membership"
		}
		if tu.RoleInTenant == "owner" || tu.RoleInTenant == "admin" {
			return true, "rbac: role_in_tenant=" + tu.RoleInTenant
		}
	}

	for _, required := range spec.RequiredPermissions {
		for _, held := range req.Claims.Permissions {
			if held == required {
				return true, "rbac: permission=" + required
			}
		}
	}

	return false, "rbac: insufficient role/permission"
}

// evaluateAbac implements layer 3. It is only consulted when the tenant has
// a published policy version; parse failures are demoted to "disabled" and
// logged, never to fail-closed.
func (e *Engine) evaluateAbac(ctx context.Context, req core.AuthorizeDecisionRequest) (core.AbacDecision, string, error) {
	set, err := e.abacSets.GetByTenant(ctx, req.TargetTenant)
	if err != nil {
		return core.AbacDecision{}, "disabled", nil
	}
	if set == nil || set.PublishedVersionID == nil || set.Mode == "" || set.Mode == "disabled" {
		mode := "disabled"
		if set != nil {
			mode = set.Mode
		}
		return core.AbacDecision{}, mode, nil
	}

	version, err := e.abacSets.GetVersion(ctx, *set.PublishedVersionID)
	if err != nil {
		return core.AbacDecision{}, "disabled", fmt.Errorf("load abac version: %w", err)
	}

	var doc core.AbacDocument
	if err := json.Unmarshal(version.PolicyJSON, &doc); err != nil {
		e.log.Warn().Err(err).Str("tenant_id", req.TargetTenant).Msg("abac policy json invalid, demoting to disabled")
		return core.AbacDecision{}, "disabled", nil
	}

	attrs := buildContext(req, e.clock.Now())
	decision := e.abac.Evaluate(&doc, req.Action, req.ResourceType, attrs)
	return decision, set.Mode, nil
}

func (e *Engine) recordShadow(ctx context.Context, req core.AuthorizeDecisionRequest, decision core.AbacDecision) {
	if e.audit == nil {
		return
	}
	outcome := "allow"
	if decision.Denied {
		outcome = "deny"
	}
	_ = e.audit.Log(ctx, &core.AuditEvent{
		TenantID:  req.TargetTenant,
		ActorType: "system",
		Type:      "abac.shadow_evaluation",
		CreatedAt: e.clock.Now(),
		Data: map[string]interface{}{
			"action":        req.Action,
			"outcome":       outcome,
			"matched_allow": decision.MatchedAllow,
			"matched_deny":  decision.MatchedDeny,
		},
	})
}

func buildContext(req core.AuthorizeDecisionRequest, now time.Time) map[string]interface{} {
	subject := map[string]interface{}{
		"user_id":     req.Claims.Subject,
		"email":       req.Claims.Email,
		"token_type":  string(req.Claims.TokenType),
		"tenant_id":   req.Claims.TenantID,
		"roles":       toInterfaceSlice(req.Claims.Roles),
		"permissions": toInterfaceSlice(req.Claims.Permissions),
	}
	if at := emailDomain(req.Claims.Email); at != "" {
		subject["email_domain"] = at
	}

	resource := map[string]interface{}{
		"type":      req.ResourceType,
		"tenant_id": req.TargetTenant,
	}
	if req.TargetUserID != "" {
		resource["target_user_id"] = req.TargetUserID
	}

	env := map[string]interface{}{
		"now_utc": now.UTC().Format(time.RFC3339),
		"weekday": now.UTC().Weekday().String(),
		"hour":    float64(now.UTC().Hour()),
	}

	request := map[string]interface{}{
		"action": req.Action,
	}
	if req.RequestIP != "" {
		request["ip"] = req.RequestIP
	}

	return map[string]interface{}{
		"subject":  subject,
		"resource": resource,
		"request":  request,
		"env":      env,
	}
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func emailDomain(email string) string {
	for i := len(email) - 1; i >= 0; i-- {
		if email[i] == '@' {
			return email[i+1:]
		}
	}
	return ""
}
