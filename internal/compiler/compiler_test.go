package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/smogjs/internal/bytecode"
	"github.com/kristofer/smogjs/internal/intern"
	"github.com/kristofer/smogjs/internal/parser"
)

func compile(t *testing.T, src string) *bytecode.Chunk {
	t.Helper()
	prog, err := parser.Parse(src)
	require.NoError(t, err)
	chunk, err := New(intern.New()).CompileProgram(prog)
	require.NoError(t, err)
	return chunk
}

func TestCompileNumberLiteralEmitsHalt(t *testing.T) {
	chunk := compile(t, "42;")
	require.NotEmpty(t, chunk.Code)
	last := chunk.Code[len(chunk.Code)-1]
	assert.Equal(t, bytecode.OpHalt, last.Op)
}

func TestCompileAllocatesRegistersForTemporaries(t *testing.T) {
	chunk := compile(t, "1 + 2 + 3;")
	assert.Greater(t, chunk.RegisterCount, int32(0))
}

func TestCompileStringLiteralInternsConstant(t *testing.T) {
	chunk := compile(t, `"hello";`)
	found := false
	for _, c := range chunk.Constants {
		if c.Kind == bytecode.ConstString && c.Str == "hello" {
			found = true
		}
	}
	assert.True(t, found, "expected a ConstString constant %q", "hello")
}

func TestCompileFunctionDeclarationProducesChildChunk(t *testing.T) {
	chunk := compile(t, `
		function add(a, b) { return a + b; }
		add(1, 2);
	`)
	found := false
	for _, c := range chunk.Constants {
		if c.Kind == bytecode.ConstChildChunk && c.Chunk != nil && c.Chunk.Name == "add" {
			found = true
			assert.Equal(t, 2, c.Chunk.ParamCount)
		}
	}
	assert.True(t, found, "expected a child chunk constant for function add")
}

func TestCompileSourceMapTracksEveryInstruction(t *testing.T) {
	chunk := compile(t, "1 + 2;")
	assert.Equal(t, len(chunk.Code), len(chunk.SourceMap))
}

func TestCompileSyntaxErrorDoesNotPanic(t *testing.T) {
	_, err := parser.Parse("let = ;")
	assert.Error(t, err)
}
