package intern

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInternIsIdempotent(t *testing.T) {
	tbl := New()
	a := tbl.Intern("hello")
	b := tbl.Intern("hello")
	assert.Equal(t, a, b)
}

func TestInternDistinctStringsGetDistinctIds(t *testing.T) {
	tbl := New()
	a := tbl.Intern("foo")
	b := tbl.Intern("bar")
	assert.NotEqual(t, a, b)
}

func TestZeroIdIsReservedForEmptyString(t *testing.T) {
	tbl := New()
	s, ok := tbl.Resolve(0)
	assert.True(t, ok)
	assert.Equal(t, "", s)
}

func TestResolveUnknownIdFails(t *testing.T) {
	tbl := New()
	_, ok := tbl.Resolve(Id(999))
	assert.False(t, ok)
}

func TestMustResolvePanicsOnUnknownId(t *testing.T) {
	tbl := New()
	assert.Panics(t, func() { tbl.MustResolve(Id(999)) })
}

func TestLenCountsReservedEmptyString(t *testing.T) {
	tbl := New()
	assert.Equal(t, 1, tbl.Len())
	tbl.Intern("a")
	tbl.Intern("b")
	tbl.Intern("a")
	assert.Equal(t, 3, tbl.Len())
}
