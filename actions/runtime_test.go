package actions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoExprRuntime_SetClaimLiteral(t *testing.T) {
	r := NewGoExprRuntime()
	compiled, err := r.Compile(`set claims.department = "engineering"`)
	require.NoError(t, err)

	claims, err := r.Execute(context.Background(), compiled, map[string]interface{}{"claims": map[string]interface{}{}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "engineering", claims["department"])
}

func TestGoExprRuntime_SetClaimFromUserReference(t *testing.T) {
	r := NewGoExprRuntime()
	compiled, err := r.Compile(`set claims.email = user.email`)
	require.NoError(t, err)

	scriptCtx := map[string]interface{}{
		"user":   map[string]interface{}{"email": "alice@example.com"},
		"claims": map[string]interface{}{},
	}
	claims, err := r.Execute(context.Background(), compiled, scriptCtx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims["email"])
}

func TestGoExprRuntime_DenyAbortsWithScriptError(t *testing.T) {
	r := NewGoExprRuntime()
	compiled, err := r.Compile(`deny "account suspended"`)
	require.NoError(t, err)

	_, err = r.Execute(context.Background(), compiled, map[string]interface{}{"claims": map[string]interface{}{}}, time.Second)
	require.Error(t, err)
	var scriptErr *ScriptError
	require.ErrorAs(t, err, &scriptErr)
	assert.Equal(t, "account suspended", scriptErr.Message)
}

func TestGoExprRuntime_CommentsAndBlankLinesIgnored(t *testing.T) {
	r := NewGoExprRuntime()
	compiled, err := r.Compile("// comment\n\nset claims.ok = true")
	require.NoError(t, err)

	claims, err := r.Execute(context.Background(), compiled, map[string]interface{}{"claims": map[string]interface{}{}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, true, claims["ok"])
}

func TestGoExprRuntime_CompileRejectsUnknownStatement(t *testing.T) {
	r := NewGoExprRuntime()
	_, err := r.Compile(`frobnicate everything`)
	assert.Error(t, err)
}

func TestGoExprRuntime_TimeoutAbortsExecution(t *testing.T) {
	r := NewGoExprRuntime()
	var script string
	for i := 0; i < 2000; i++ {
		script += "set claims.x = \"y\"\n"
	}
	compiled, err := r.Compile(script)
	require.NoError(t, err)

	_, err = r.Execute(context.Background(), compiled, map[string]interface{}{"claims": map[string]interface{}{}}, time.Nanosecond)
	assert.Error(t, err)
}

func TestGoExprRuntime_SequentialStatementsChain(t *testing.T) {
	r := NewGoExprRuntime()
	compiled, err := r.Compile("set claims.a = 1\nset claims.b = claims.a")
	require.NoError(t, err)

	claims, err := r.Execute(context.Background(), compiled, map[string]interface{}{"claims": map[string]interface{}{}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, float64(1), claims["a"])
	assert.Equal(t, float64(1), claims["b"])
}
