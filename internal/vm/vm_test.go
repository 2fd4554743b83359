package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/smogjs/internal/compiler"
	"github.com/kristofer/smogjs/internal/heap"
	"github.com/kristofer/smogjs/internal/intern"
	"github.com/kristofer/smogjs/internal/parser"
)

func run(t *testing.T, src string) (heap.Value, *VM, error) {
	t.Helper()
	prog, err := parser.Parse(src)
	require.NoError(t, err)
	tbl := intern.New()
	c := compiler.New(tbl)
	chunk, err := c.CompileProgram(prog)
	require.NoError(t, err)
	h := heap.New()
	v := New(h, tbl)
	val, runErr := v.RunProgram(chunk)
	return val, v, runErr
}

func TestRunProgramArithmetic(t *testing.T) {
	val, _, err := run(t, "2 + 3 * 4;")
	require.NoError(t, err)
	assert.Equal(t, 14.0, val.AsNumber())
}

func TestThrowUncaughtSurfacesAsThrownError(t *testing.T) {
	_, _, err := run(t, "throw 'boom';")
	require.Error(t, err)
	te, ok := err.(*ThrownError)
	require.True(t, ok, "expected *ThrownError, got %T", err)
	assert.True(t, te.Value.IsString())
}

func TestTryCatchHandlesThrow(t *testing.T) {
	val, _, err := run(t, `
		let result = 0;
		try {
			throw 'x';
		} catch (e) {
			result = 1;
		}
		result;
	`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, val.AsNumber())
}

func TestGCDuringExecutionDoesNotCollectLiveLoopState(t *testing.T) {
	prog, err := parser.Parse(`
		let total = 0;
		let i = 0;
		while (i < 50) {
			let obj = { n: i };
			total = total + obj.n;
			i = i + 1;
		}
		total;
	`)
	require.NoError(t, err)
	tbl := intern.New()
	chunk, err := compiler.New(tbl).CompileProgram(prog)
	require.NoError(t, err)

	h := heap.New()
	h.SetThreshold(1) // every collection check (each time step returns to runStack) collects
	v := New(h, tbl)
	val, runErr := v.RunProgram(chunk)
	require.NoError(t, runErr)
	assert.Equal(t, 1225.0, val.AsNumber()) // sum 0..49
}

func TestDeeplyRecursiveCallHitsRangeError(t *testing.T) {
	_, _, err := run(t, `
		function recurse(n) {
			return recurse(n + 1);
		}
		recurse(0);
	`)
	require.Error(t, err)
	te, ok := err.(*ThrownError)
	require.True(t, ok, "expected a catchable RangeError, got %T: %v", err, err)
	assert.True(t, te.Value.IsObject())
	assert.Equal(t, heap.ExoticError, te.Value.AsObject().Exotic)
}
