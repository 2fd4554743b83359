package bytecode

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleChunk() *Chunk {
	child := &Chunk{
		Code:          []Instr{{Op: OpLoadInt, A: 0, B: 7}, {Op: OpReturn, A: 0}, {Op: OpHalt}},
		Constants:     []Const{{Kind: ConstString, Str: "inner"}},
		SourceMap:     []Pos{{Line: 1, Column: 1}, {Line: 1, Column: 5}, {Line: 1, Column: 9}},
		RegisterCount: 1,
		Name:          "inner",
		ParamCount:    0,
	}
	return &Chunk{
		Code: []Instr{
			{Op: OpLoadConst, A: 0, B: 0},
			{Op: OpLoadConst, A: 1, B: 1},
			{Op: OpHalt},
		},
		Constants: []Const{
			{Kind: ConstNumber, Number: 3.5},
			{Kind: ConstChildChunk, Chunk: child},
		},
		SourceMap:     []Pos{{Line: 1, Column: 1}, {Line: 2, Column: 1}, {Line: 3, Column: 1}},
		RegisterCount: 2,
		Name:          "main",
		ParamCount:    0,
		IsGenerator:   false,
		IsAsync:       true,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	orig := sampleChunk()
	var buf bytes.Buffer
	require.NoError(t, Encode(orig, &buf))

	got, err := Decode(&buf)
	require.NoError(t, err)

	assert.Equal(t, orig.Name, got.Name)
	assert.Equal(t, orig.RegisterCount, got.RegisterCount)
	assert.Equal(t, orig.IsAsync, got.IsAsync)
	assert.Equal(t, orig.Code, got.Code)
	require.Len(t, got.Constants, 2)
	assert.Equal(t, 3.5, got.Constants[0].Number)
	require.NotNil(t, got.Constants[1].Chunk)
	assert.Equal(t, "inner", got.Constants[1].Chunk.Name)
	assert.Equal(t, "inner", got.Constants[1].Chunk.Constants[0].Str)
	assert.Equal(t, orig.SourceMap, got.SourceMap)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(sampleChunk(), &buf))
	corrupted := buf.Bytes()
	corrupted[0] ^= 0xFF
	_, err := Decode(bytes.NewReader(corrupted))
	assert.Error(t, err)
}

func TestDisassembleDescendsIntoChildChunks(t *testing.T) {
	out := Disassemble(sampleChunk())
	assert.True(t, strings.Contains(out, "chunk main"))
	assert.True(t, strings.Contains(out, "chunk inner"))
	assert.True(t, strings.Contains(out, "LoadConst"))
}
