package abac

import (
	"testing"

	"github.com/auth9/auth9core/core"
	"github.com/stretchr/testify/assert"
)

func attr(m map[string]interface{}) map[string]interface{} { return m }

func TestEvaluator_DenyOverridesAllow(t *testing.T) {
	// S2: deny at priority 100 overrides an allow at priority 10.
	doc := &core.AbacDocument{Rules: []core.AbacRule{
		{ID: "allow-low", Effect: "allow", Actions: []string{"invitation:create"}, ResourceTypes: []string{"*"}, Priority: 10},
		{ID: "deny-high", Effect: "deny", Actions: []string{"invitation:create"}, ResourceTypes: []string{"*"}, Priority: 100,
			Condition: &core.AbacCondition{Var: "subject.email_domain", Op: "eq", Value: "contractors.example.com"}},
	}}

	ctx := attr(map[string]interface{}{
		"subject": map[string]interface{}{"email_domain": "contractors.example.com"},
	})

	d := NewEvaluator().Evaluate(doc, "invitation:create", "invitation", ctx)
	assert.True(t, d.Denied)
	assert.Contains(t, d.MatchedDeny, "deny-high")
	assert.Contains(t, d.MatchedAllow, "allow-low")
}

func TestEvaluator_DefaultDenyWhenAllowRulesDeclaredAndNoneMatch(t *testing.T) {
	doc := &core.AbacDocument{Rules: []core.AbacRule{
		{ID: "allow-admins", Effect: "allow", Actions: []string{"role:write"}, ResourceTypes: []string{"*"}, Priority: 1,
			Condition: &core.AbacCondition{Var: "subject.roles", Op: "contains", Value: "admin"}},
	}}

	ctx := attr(map[string]interface{}{"subject": map[string]interface{}{"roles": []interface{}{"viewer"}}})

	d := NewEvaluator().Evaluate(doc, "role:write", "role", ctx)
	assert.True(t, d.Denied)
	assert.Empty(t, d.MatchedAllow)
}

func TestEvaluator_AllowedWhenNoAllowRulesDeclared(t *testing.T) {
	doc := &core.AbacDocument{Rules: nil}
	d := NewEvaluator().Evaluate(doc, "role:write", "role", attr(nil))
	assert.False(t, d.Denied)
}

func TestEvaluator_WildcardScopeMatches(t *testing.T) {
	doc := &core.AbacDocument{Rules: []core.AbacRule{
		{ID: "allow-all", Effect: "allow", Actions: []string{"*"}, ResourceTypes: []string{"*"}, Priority: 1},
	}}
	d := NewEvaluator().Evaluate(doc, "anything:here", "whatever", attr(nil))
	assert.False(t, d.Denied)
	assert.Contains(t, d.MatchedAllow, "allow-all")
}

func TestEvaluator_AllAnyNotConditions(t *testing.T) {
	doc := &core.AbacDocument{Rules: []core.AbacRule{
		{ID: "r1", Effect: "deny", Actions: []string{"*"}, ResourceTypes: []string{"*"}, Priority: 1,
			Condition: &core.AbacCondition{All: []core.AbacCondition{
				{Var: "request.ip", Op: "ip_in_cidr", Value: "10.0.0.0/8"},
				{Not: &core.AbacCondition{Var: "subject.token_type", Op: "eq", Value: "tenant_access"}},
			}},
		},
	}}

	denied := attr(map[string]interface{}{
		"request": map[string]interface{}{"ip": "10.1.2.3"},
		"subject": map[string]interface{}{"token_type": "identity"},
	})
	d := NewEvaluator().Evaluate(doc, "x", "y", denied)
	assert.True(t, d.Denied)

	allowed := attr(map[string]interface{}{
		"request": map[string]interface{}{"ip": "10.1.2.3"},
		"subject": map[string]interface{}{"token_type": "tenant_access"},
	})
	d2 := NewEvaluator().Evaluate(doc, "x", "y", allowed)
	assert.False(t, d2.Denied)
}

func TestEvaluator_TimeBetweenWrapsMidnight(t *testing.T) {
	doc := &core.AbacDocument{Rules: []core.AbacRule{
		{ID: "after-hours-deny", Effect: "deny", Actions: []string{"*"}, ResourceTypes: []string{"*"}, Priority: 1,
			Condition: &core.AbacCondition{Var: "env.hour_minute", Op: "time_between", Value: "22:00-06:00"}},
	}}

	for _, tc := range []struct {
		clock string
		want  bool
	}{
		{"23:30", true},
		{"22:00", true},
		{"06:00", true},
		{"01:00", true},
		{"12:00", false},
		{"06:01", false},
	} {
		ctx := attr(map[string]interface{}{"env": map[string]interface{}{"hour_minute": tc.clock}})
		d := NewEvaluator().Evaluate(doc, "x", "y", ctx)
		assert.Equal(t, tc.want, d.Denied, "clock=%s", tc.clock)
	}
}

func TestEvaluator_NumericComparisons(t *testing.T) {
	doc := &core.AbacDocument{Rules: []core.AbacRule{
		{ID: "min-age", Effect: "allow", Actions: []string{"*"}, ResourceTypes: []string{"*"}, Priority: 1,
			Condition: &core.AbacCondition{Var: "subject.account_age_days", Op: "gte", Value: float64(30)}},
	}}

	young := attr(map[string]interface{}{"subject": map[string]interface{}{"account_age_days": float64(5)}})
	d := NewEvaluator().Evaluate(doc, "x", "y", young)
	assert.True(t, d.Denied) // allow rule declared, none matched -> default deny

	old := attr(map[string]interface{}{"subject": map[string]interface{}{"account_age_days": float64(45)}})
	d2 := NewEvaluator().Evaluate(doc, "x", "y", old)
	assert.False(t, d2.Denied)
}

func TestEvaluator_ExistsOperator(t *testing.T) {
	doc := &core.AbacDocument{Rules: []core.AbacRule{
		{ID: "has-target", Effect: "deny", Actions: []string{"*"}, ResourceTypes: []string{"*"}, Priority: 1,
			Condition: &core.AbacCondition{Var: "resource.target_user_id", Op: "exists", Value: true}},
	}}

	present := attr(map[string]interface{}{"resource": map[string]interface{}{"target_user_id": "u-1"}})
	d := NewEvaluator().Evaluate(doc, "x", "y", present)
	assert.True(t, d.Denied)

	absent := attr(map[string]interface{}{"resource": map[string]interface{}{}})
	d2 := NewEvaluator().Evaluate(doc, "x", "y", absent)
	assert.False(t, d2.Denied)
}

func TestEvaluator_Simulate_IsPureAndMatchesEvaluate(t *testing.T) {
	doc := &core.AbacDocument{Rules: []core.AbacRule{
		{ID: "allow-all", Effect: "allow", Actions: []string{"*"}, ResourceTypes: []string{"*"}, Priority: 1},
	}}
	evalResult := NewEvaluator().Evaluate(doc, "x", "y", attr(nil))
	simResult := NewEvaluator().Simulate(doc, "x", "y", attr(nil))
	assert.Equal(t, evalResult, simResult)
}

func TestEvaluator_NilDocumentIsInconclusive(t *testing.T) {
	d := NewEvaluator().Evaluate(nil, "x", "y", attr(nil))
	assert.False(t, d.Denied)
	assert.Empty(t, d.MatchedAllow)
	assert.Empty(t, d.MatchedDeny)
}
