package actions

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/auth9/auth9core/core"
	"github.com/rs/zerolog"
)

const defaultActionTimeout = 3000 * time.Millisecond

// cacheCapacity matches spec.md §4.5's bytecode cache size.
const cacheCapacity = 100

// Engine implements core.ActionEngine: sequential, strict-mode script
// chaining per lifecycle trigger.
type Engine struct {
	actions core.ActionStore
	runtime Runtime
	clock   core.Clock
	log     zerolog.Logger
	cache   *scriptCache
}

func NewEngine(actions core.ActionStore, runtime Runtime, clock core.Clock, log zerolog.Logger) *Engine {
	return &Engine{actions: actions, runtime: runtime, clock: clock, log: log, cache: newScriptCache(cacheCapacity)}
}

// RunPipeline implements core.ActionEngine.RunPipeline: it loads every
// enabled action bound to triggerID, runs them in execution_order, and
// folds each script's claim mutations back into the pipeline's
// ActionContext for the next script. A `deny` (or a timeout) aborts the
// pipeline immediately — strict mode, per spec.md §4.5.
func (e *Engine) RunPipeline(ctx context.Context, tenantID, triggerID string, actionCtx core.ActionContext) (core.ActionContext, error) {
	defs, err := e.actions.ListEnabledForTrigger(ctx, tenantID, triggerID)
	if err != nil {
		return actionCtx, fmt.Errorf("list actions for trigger %q: %w", triggerID, err)
	}
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].ExecutionOrder < defs[j].ExecutionOrder })

	for _, def := range defs {
		next, err := e.runOne(ctx, def, actionCtx)
		if err != nil {
			e.log.Warn().Str("action", def.Name).Str("trigger", triggerID).Err(err).Msg("action pipeline aborted")
			return actionCtx, fmt.Errorf("action %q: %w", def.Name, err)
		}
		actionCtx = next
	}
	return actionCtx, nil
}

func (e *Engine) runOne(ctx context.Context, def *core.Action, actionCtx core.ActionContext) (core.ActionContext, error) {
	compiled, ok := e.cache.get(def.ID, def.Script)
	if !ok {
		var err error
		compiled, err = e.runtime.Compile(def.Script)
		if err != nil {
			_ = e.actions.RecordExecution(ctx, def.ID, false, strPtr(err.Error()))
			return actionCtx, fmt.Errorf("compile: %w", err)
		}
		e.cache.put(def.ID, def.Script, compiled)
	}

	timeout := time.Duration(def.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}

	scriptCtx := buildScriptContext(actionCtx)
	claims, err := e.runtime.Execute(ctx, compiled, scriptCtx, timeout)
	if err != nil {
		_ = e.actions.RecordExecution(ctx, def.ID, false, strPtr(err.Error()))
		return actionCtx, err
	}

	_ = e.actions.RecordExecution(ctx, def.ID, true, nil)
	actionCtx.Claims = claims
	return actionCtx, nil
}

func buildScriptContext(actionCtx core.ActionContext) map[string]interface{} {
	claims := actionCtx.Claims
	if claims == nil {
		claims = map[string]interface{}{}
	}
	return map[string]interface{}{
		"user": map[string]interface{}{
			"id":           actionCtx.User.ID,
			"email":        actionCtx.User.Email,
			"display_name": actionCtx.User.DisplayName,
			"mfa_enabled":  actionCtx.User.MFAEnabled,
		},
		"tenant": map[string]interface{}{
			"id":   actionCtx.Tenant.ID,
			"slug": actionCtx.Tenant.Slug,
			"name": actionCtx.Tenant.Name,
		},
		"request": map[string]interface{}{
			"ip":         actionCtx.Request.IP,
			"user_agent": actionCtx.Request.UserAgent,
		},
		"claims": claims,
	}
}

func strPtr(s string) *string { return &s }
