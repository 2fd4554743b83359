package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/smogjs/internal/intern"
)

func TestValueKindPredicates(t *testing.T) {
	assert.True(t, Undefined.IsUndefined())
	assert.True(t, Null.IsNull())
	assert.True(t, Number(1).IsNumber())
	assert.True(t, True.IsBoolean())
	assert.True(t, True.AsBool())
	assert.False(t, False.AsBool())
}

func TestStrictEqualityDistinguishesNaN(t *testing.T) {
	nan := Number(nanValue())
	assert.False(t, IsStrictlyEqual(nan, nan), "NaN !== NaN under ===")
	assert.True(t, SameValueZero(nan, nan), "NaN is SameValueZero to itself")
}

func nanValue() float64 {
	var zero float64
	return zero / zero
}

func TestDefineOwnOnArrayUpdatesLength(t *testing.T) {
	h := New()
	arr := h.NewArray(nil)
	arr.DefineOwn(IndexKey(0), &Property{Value: Number(10), Writable: true, Enumerable: true, Configurable: true})
	arr.DefineOwn(IndexKey(4), &Property{Value: Number(40), Writable: true, Enumerable: true, Configurable: true})
	assert.Equal(t, uint32(5), arr.Array.Length)
}

func TestSetArrayLengthTruncatesHigherIndices(t *testing.T) {
	h := New()
	arr := h.NewArray(nil)
	for i := uint32(0); i < 5; i++ {
		arr.DefineOwn(IndexKey(i), &Property{Value: Number(float64(i)), Writable: true, Enumerable: true, Configurable: true})
	}
	arr.SetArrayLength(2)
	assert.Equal(t, uint32(2), arr.Array.Length)
	_, ok := arr.GetOwn(IndexKey(3))
	assert.False(t, ok, "index 3 should have been deleted by truncation")
	_, ok = arr.GetOwn(IndexKey(1))
	assert.True(t, ok, "index 1 survives truncation to length 2")
}

func TestLookupWalksPrototypeChainAndTerminatesOnCycle(t *testing.T) {
	h := New()
	tbl := intern.New()
	key := StringKey(tbl.Intern("x"))

	base := h.NewObject(nil)
	base.DefineOwn(key, &Property{Value: Number(1), Writable: true, Enumerable: true, Configurable: true})

	child := h.NewObject(base)
	prop, owner := child.Lookup(key)
	require.NotNil(t, prop)
	assert.Same(t, base, owner)

	// A cyclic prototype chain must still terminate rather than loop forever.
	base.Prototype = child
	_, missing := child.Lookup(StringKey(tbl.Intern("nope")))
	assert.Nil(t, missing)
}

func TestOwnKeysPreserveInsertionOrder(t *testing.T) {
	h := New()
	tbl := intern.New()
	o := h.NewObject(nil)
	names := []string{"z", "a", "m"}
	for _, n := range names {
		o.DefineOwn(StringKey(tbl.Intern(n)), &Property{Value: True, Writable: true, Enumerable: true, Configurable: true})
	}
	keys := o.OwnKeys()
	require.Len(t, keys, 3)
	for i, n := range names {
		s, _ := tbl.Resolve(keys[i].Str)
		assert.Equal(t, n, s)
	}
}

func TestCollectResetsAllocationCounter(t *testing.T) {
	h := New()
	root := h.NewObject(nil)
	_ = h.NewObject(nil) // unreachable garbage
	assert.GreaterOrEqual(t, h.AllocSince(), 2)
	h.Collect([]Value{Obj(root)})
	assert.Equal(t, 0, h.AllocSince())
}

func TestGuardRootsKeepValueAliveAcrossCollect(t *testing.T) {
	h := New()
	o := h.NewObject(nil)
	g := h.NewGuard(Obj(o))
	defer g.Release()
	tbl := intern.New()
	key := StringKey(tbl.Intern("alive"))
	o.DefineOwn(key, &Property{Value: True, Writable: true, Enumerable: true, Configurable: true})
	h.Collect(nil)
	// The guarded object survives the sweep: its own property is still
	// readable afterward instead of panicking on a freed reference.
	_, ok := o.GetOwn(key)
	assert.True(t, ok)
}

func TestSymbolForIsIdempotentByKey(t *testing.T) {
	h := New()
	a := h.SymbolFor("shared")
	b := h.SymbolFor("shared")
	assert.Equal(t, a, b)
	key, ok := h.SymbolKeyFor(a)
	assert.True(t, ok)
	assert.Equal(t, "shared", key)
}
