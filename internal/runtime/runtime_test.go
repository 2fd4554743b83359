package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/smogjs/internal/heap"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	return New(nil)
}

func TestEvalArithmetic(t *testing.T) {
	r := newTestRuntime(t)
	v, err := r.Eval("1 + 2 * 3;")
	require.NoError(t, err)
	require.True(t, v.IsNumber())
	assert.Equal(t, 7.0, v.AsNumber())
}

func TestEvalBindingsPersistAcrossCallsOnSameRuntime(t *testing.T) {
	r := newTestRuntime(t)
	_, err := r.Eval("let x = 10;")
	require.NoError(t, err)
	v, err := r.Eval("x + 5;")
	require.NoError(t, err)
	assert.Equal(t, 15.0, v.AsNumber())
}

func TestEvalThrowSurfacesAsError(t *testing.T) {
	r := newTestRuntime(t)
	_, err := r.Eval("undeclaredIdentifier;")
	assert.Error(t, err)
}

func TestMathGlobalIsWired(t *testing.T) {
	r := newTestRuntime(t)
	v, err := r.Eval("Math.floor(3.9) + Math.max(1, 2, 3);")
	require.NoError(t, err)
	assert.Equal(t, 6.0, v.AsNumber())
}

func TestJSONRoundTrip(t *testing.T) {
	r := newTestRuntime(t)
	v, err := r.Eval(`JSON.parse(JSON.stringify({a: 1, b: "two"})).b;`)
	require.NoError(t, err)
	require.True(t, v.IsString())
	s, ok := r.Interner.Resolve(v.AsStringId())
	require.True(t, ok)
	assert.Equal(t, "two", s)
}

func TestArrayPrototypeMethods(t *testing.T) {
	r := newTestRuntime(t)
	v, err := r.Eval("[1, 2, 3].map(function(x) { return x * 2; }).reduce(function(a, b) { return a + b; }, 0);")
	require.NoError(t, err)
	assert.Equal(t, 12.0, v.AsNumber())
}

func TestPromiseAllResolvesArrayLikeOfValues(t *testing.T) {
	r := newTestRuntime(t)
	_, err := r.Eval(`
		let settled = null;
		Promise.all([Promise.resolve(1), Promise.resolve(2)]).then(function(vs) { settled = vs; });
	`)
	require.NoError(t, err)
	r.DrainMicrotasks()
	v, err := r.Eval("settled[0] + settled[1];")
	require.NoError(t, err)
	assert.Equal(t, 3.0, v.AsNumber())
}

func TestConfigureAppliesGCThresholdAndLogLevel(t *testing.T) {
	r := newTestRuntime(t)
	r.Configure(&Config{GCThreshold: 1, LogLevel: "debug"})
	// A threshold of 1 makes every collection check run a full collection;
	// evaluation must still succeed rather than collecting live values.
	v, err := r.Eval("let arr = []; for (let i = 0; i < 20; i = i + 1) { arr.push(i); } arr.length;")
	require.NoError(t, err)
	assert.Equal(t, 20.0, v.AsNumber())
}

func TestNewErrorBuildsThrowableValue(t *testing.T) {
	r := newTestRuntime(t)
	v := r.NewError("TypeError", "boom")
	require.True(t, v.IsObject())
	assert.Equal(t, heap.ExoticError, v.AsObject().Exotic)
}
