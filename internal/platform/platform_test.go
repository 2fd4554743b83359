package platform

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultWiresAllFourCapabilities(t *testing.T) {
	caps := Default()
	assert.NotNil(t, caps.Time)
	assert.NotNil(t, caps.Random)
	assert.NotNil(t, caps.Console)
	assert.NotNil(t, caps.RegExp)
}

func TestStdConsoleRoutesLogAndErrorToDistinctWriters(t *testing.T) {
	var out, errOut bytes.Buffer
	c := NewStdConsole(&out, &errOut)
	c.Log("hello", "world")
	c.Error("boom")
	assert.Equal(t, "hello world\n", out.String())
	assert.Equal(t, "error: boom\n", errOut.String())
}

func TestStdRandomProducesValueInUnitRange(t *testing.T) {
	r := StdRandom{}.Float64()
	assert.GreaterOrEqual(t, r, 0.0)
	assert.Less(t, r, 1.0)
}

func TestRegexp2ProviderCompilesAndMatches(t *testing.T) {
	p := Regexp2Provider{}
	re, err := p.Compile(`\d+`, "")
	require.NoError(t, err)
	assert.True(t, re.IsMatch("abc123"))
	assert.False(t, re.IsMatch("abc"))
}

func TestRegexp2ProviderFindAllReturnsEveryMatch(t *testing.T) {
	p := Regexp2Provider{}
	re, err := p.Compile(`\d+`, "")
	require.NoError(t, err)
	matches := re.FindAll("a1b22c333")
	require.Len(t, matches, 3)
}

func TestRegexp2ProviderIgnoreCaseFlag(t *testing.T) {
	p := Regexp2Provider{}
	re, err := p.Compile("hello", "i")
	require.NoError(t, err)
	assert.True(t, re.IsMatch("HELLO world"))
}
