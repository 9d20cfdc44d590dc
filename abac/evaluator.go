// Package abac implements the bespoke condition-tree evaluator that backs
// authorization layer 3 (spec.md §4.2). It has no Casbin/OPA equivalent in
// the example corpus; the condition grammar is project-specific, so this
// package is deliberately built on the standard library alone (net, time,
// strings) rather than forcing in a generic rules-engine dependency.
package abac

import (
	"net"
	"sort"
	"strings"
	"time"

	"github.com/auth9/auth9core/core"
)

// Evaluator is the default core.AbacEvaluator implementation.
type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate implements core.AbacEvaluator.Evaluate.
func (e *Evaluator) Evaluate(doc *core.AbacDocument, action, resourceType string, attrs map[string]interface{}) core.AbacDecision {
	return e.run(doc, action, resourceType, attrs)
}

// Simulate implements core.AbacEvaluator.Simulate. It is a pure function of
// its arguments: it never reads or writes stored policy state, matching
// spec.md's simulate(policy_doc, action, resource_type, context) contract.
func (e *Evaluator) Simulate(doc *core.AbacDocument, action, resourceType string, attrs map[string]interface{}) core.AbacDecision {
	return e.run(doc, action, resourceType, attrs)
}

func (e *Evaluator) run(doc *core.AbacDocument, action, resourceType string, attrs map[string]interface{}) core.AbacDecision {
	if doc == nil {
		return core.AbacDecision{}
	}

	rules := make([]core.AbacRule, len(doc.Rules))
	copy(rules, doc.Rules)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	var decision core.AbacDecision
	hasAllowRule := false
	matched := false

	for _, rule := range rules {
		if rule.Effect == "allow" {
			hasAllowRule = true
		}
		if !matchesScope(rule.Actions, action) || !matchesScope(rule.ResourceTypes, resourceType) {
			continue
		}
		if !evaluateCondition(rule.Condition, attrs) {
			continue
		}

		switch rule.Effect {
		case "deny":
			decision.MatchedDeny = append(decision.MatchedDeny, rule.ID)
			decision.Denied = true
		case "allow":
			decision.MatchedAllow = append(decision.MatchedAllow, rule.ID)
			matched = true
		}
	}

	if decision.Denied {
		return decision
	}
	// Default-deny when allow-rules are declared and none matched.
	if hasAllowRule && !matched {
		decision.Denied = true
	}
	return decision
}

func matchesScope(scope []string, value string) bool {
	for _, s := range scope {
		if s == "*" || s == value {
			return true
		}
	}
	return false
}

// evaluateCondition returns true when cond is nil (an unconditional rule) or
// when the recursive tree matches attrs.
func evaluateCondition(cond *core.AbacCondition, attrs map[string]interface{}) bool {
	if cond == nil {
		return true
	}
	if len(cond.All) > 0 {
		for _, c := range cond.All {
			c := c
			if !evaluateCondition(&c, attrs) {
				return false
			}
		}
		return true
	}
	if len(cond.Any) > 0 {
		for _, c := range cond.Any {
			c := c
			if evaluateCondition(&c, attrs) {
				return true
			}
		}
		return false
	}
	if cond.Not != nil {
		return !evaluateCondition(cond.Not, attrs)
	}
	return evaluatePredicate(cond.Var, cond.Op, cond.Value, attrs)
}

func evaluatePredicate(dotPath, op string, want interface{}, attrs map[string]interface{}) bool {
	got, exists := lookup(dotPath, attrs)

	switch op {
	case "exists":
		return exists == truthy(want)
	case "eq":
		return exists && equalValues(got, want)
	case "neq":
		return !exists || !equalValues(got, want)
	case "contains":
		return exists && containsValue(got, want)
	case "starts_with":
		gs, gok := got.(string)
		ws, wok := want.(string)
		return exists && gok && wok && strings.HasPrefix(gs, ws)
	case "in":
		return exists && containsValue(want, got)
	case "not_in":
		return !exists || !containsValue(want, got)
	case "gt", "gte", "lt", "lte":
		return exists && compareNumbers(got, want, op)
	case "ip_in_cidr":
		return exists && ipInCIDR(got, want)
	case "time_between":
		return exists && timeBetween(got, want)
	default:
		return false
	}
}

func truthy(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}

func lookup(dotPath string, attrs map[string]interface{}) (interface{}, bool) {
	parts := strings.Split(dotPath, ".")
	var cur interface{} = attrs
	for _, part := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func equalValues(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func containsValue(container, item interface{}) bool {
	switch c := container.(type) {
	case []interface{}:
		for _, v := range c {
			if equalValues(v, item) {
				return true
			}
		}
		return false
	case []string:
		s, ok := item.(string)
		if !ok {
			return false
		}
		for _, v := range c {
			if v == s {
				return true
			}
		}
		return false
	case string:
		s, ok := item.(string)
		return ok && strings.Contains(c, s)
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func compareNumbers(got, want interface{}, op string) bool {
	gf, gok := toFloat(got)
	wf, wok := toFloat(want)
	if !gok || !wok {
		return false
	}
	switch op {
	case "gt":
		return gf > wf
	case "gte":
		return gf >= wf
	case "lt":
		return gf < wf
	case "lte":
		return gf <= wf
	default:
		return false
	}
}

func ipInCIDR(got, want interface{}) bool {
	ipStr, ok := got.(string)
	if !ok {
		return false
	}
	cidrStr, ok := want.(string)
	if !ok {
		return false
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	_, network, err := net.ParseCIDR(cidrStr)
	if err != nil {
		return false
	}
	return network.Contains(ip)
}

// timeBetween evaluates a "HH:MM-HH:MM" window against an "HH:MM" (or
// RFC3339) time-of-day value, inclusive of both endpoints, and correctly
// wraps midnight (spec.md scenario: 22:00-06:00 includes 23:30 and 01:00).
func timeBetween(got, want interface{}) bool {
	windowStr, ok := want.(string)
	if !ok {
		return false
	}
	bounds := strings.SplitN(windowStr, "-", 2)
	if len(bounds) != 2 {
		return false
	}
	start, err := parseClock(strings.TrimSpace(bounds[0]))
	if err != nil {
		return false
	}
	end, err := parseClock(strings.TrimSpace(bounds[1]))
	if err != nil {
		return false
	}

	var current time.Duration
	switch v := got.(type) {
	case string:
		current, err = parseClock(v)
		if err != nil {
			ts, tsErr := time.Parse(time.RFC3339, v)
			if tsErr != nil {
				return false
			}
			current = time.Duration(ts.Hour())*time.Hour + time.Duration(ts.Minute())*time.Minute
		}
	default:
		return false
	}

	if start <= end {
		return current >= start && current <= end
	}
	// Wraps midnight: e.g. 22:00-06:00.
	return current >= start || current <= end
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
