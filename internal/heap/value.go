// Package heap implements the tagged Value union, the heap-allocated Object
// with its "exotic" flavors, and the mark-and-sweep garbage collector that
// owns them (spec.md §3, §4.4).
//
// Objects are never mutated by anything outside the owning VM frame (there
// are no foreign mutators, spec.md §3 Lifecycle), so this package does no
// locking of its own — it relies on the single-threaded execution model
// (spec.md §5).
package heap

import (
	"math"

	"github.com/kristofer/smogjs/internal/intern"
)

// Kind tags which alternative of the Value union is active.
type Kind byte

const (
	KindUndefined Kind = iota
	KindNull
	KindBoolean
	KindNumber
	KindString
	KindSymbol
	KindObject
)

// SymbolId identifies a runtime-allocated Symbol. Identity, not content,
// distinguishes symbols (spec.md §3).
type SymbolId uint64

// Value is the tagged union every JS value is represented as. It is kept
// small and copyable so registers (spec.md §4.5 Frame) are a plain slice of
// Value with no per-operation boxing.
type Value struct {
	kind Kind
	num  float64      // Number payload, and Boolean (0/1)
	str  intern.Id    // String payload
	sym  SymbolId     // Symbol payload
	obj  *Object      // Object payload
}

var (
	Undefined = Value{kind: KindUndefined}
	Null      = Value{kind: KindNull}
	True      = Value{kind: KindBoolean, num: 1}
	False     = Value{kind: KindBoolean, num: 0}
)

func Number(f float64) Value { return Value{kind: KindNumber, num: f} }
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}
func StringId(id intern.Id) Value { return Value{kind: KindString, str: id} }
func Sym(id SymbolId) Value       { return Value{kind: KindSymbol, sym: id} }
func Obj(o *Object) Value         { return Value{kind: KindObject, obj: o} }

func (v Value) Kind() Kind       { return v.kind }
func (v Value) IsUndefined() bool { return v.kind == KindUndefined }
func (v Value) IsNull() bool      { return v.kind == KindNull }
func (v Value) IsNullish() bool   { return v.kind == KindUndefined || v.kind == KindNull }
func (v Value) IsBoolean() bool   { return v.kind == KindBoolean }
func (v Value) IsNumber() bool    { return v.kind == KindNumber }
func (v Value) IsString() bool    { return v.kind == KindString }
func (v Value) IsSymbol() bool    { return v.kind == KindSymbol }
func (v Value) IsObject() bool    { return v.kind == KindObject }

func (v Value) AsBool() bool       { return v.num != 0 }
func (v Value) AsNumber() float64  { return v.num }
func (v Value) AsStringId() intern.Id { return v.str }
func (v Value) AsSymbol() SymbolId { return v.sym }
func (v Value) AsObject() *Object  { return v.obj }

// ToBoolean implements the ECMAScript ToBoolean abstract operation
// (spec.md §4.5 "Arithmetic follows ECMAScript abstract operations").
func (v Value) ToBoolean() bool {
	switch v.kind {
	case KindUndefined, KindNull:
		return false
	case KindBoolean:
		return v.num != 0
	case KindNumber:
		return v.num != 0 && !math.IsNaN(v.num)
	case KindString:
		return true // caller resolves the interned string; empty-string case handled by the VM's toBoolean
	case KindSymbol:
		return true
	case KindObject:
		return true
	}
	return false
}

// IsStrictlyEqual implements the ECMAScript IsStrictlyEqual operation
// (spec.md §4.5, used by === and Array/Map/Set key comparisons other than
// SameValueZero).
func IsStrictlyEqual(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindUndefined, KindNull:
		return true
	case KindBoolean, KindNumber:
		return a.num == b.num
	case KindString:
		return a.str == b.str
	case KindSymbol:
		return a.sym == b.sym
	case KindObject:
		return a.obj == b.obj
	}
	return false
}

// SameValueZero implements the ECMAScript SameValueZero operation: like
// IsStrictlyEqual but NaN equals NaN and -0 equals +0 (spec.md §8, used by
// Map/Set key identity and Array.prototype.includes).
func SameValueZero(a, b Value) bool {
	if a.kind == KindNumber && b.kind == KindNumber {
		if math.IsNaN(a.num) && math.IsNaN(b.num) {
			return true
		}
		return a.num == b.num
	}
	return IsStrictlyEqual(a, b)
}

// ObjectIs implements Object.is: SameValueZero except -0 and +0 are
// distinguished (spec.md §8 "Object.is(NaN, NaN) === true").
func ObjectIs(a, b Value) bool {
	if a.kind == KindNumber && b.kind == KindNumber {
		if math.IsNaN(a.num) && math.IsNaN(b.num) {
			return true
		}
		if a.num == 0 && b.num == 0 {
			return math.Signbit(a.num) == math.Signbit(b.num)
		}
		return a.num == b.num
	}
	return IsStrictlyEqual(a, b)
}

// PropertyKeyKind tags which PropertyKey alternative is active.
type PropertyKeyKind byte

const (
	PropKeyString PropertyKeyKind = iota
	PropKeySymbol
	PropKeyIndex
)

// PropertyKey is a string (interned), symbol, or non-negative integer index
// (spec.md §3 Invariant 6). Index keys are a distinguished kind so array
// fast paths don't need to format/parse decimal strings.
type PropertyKey struct {
	Kind  PropertyKeyKind
	Str   intern.Id
	Sym   SymbolId
	Index uint32
}

func StringKey(id intern.Id) PropertyKey { return PropertyKey{Kind: PropKeyString, Str: id} }
func SymbolKey(id SymbolId) PropertyKey  { return PropertyKey{Kind: PropKeySymbol, Sym: id} }
func IndexKey(i uint32) PropertyKey      { return PropertyKey{Kind: PropKeyIndex, Index: i} }

func (k PropertyKey) Equal(o PropertyKey) bool {
	if k.Kind != o.Kind {
		return false
	}
	switch k.Kind {
	case PropKeyString:
		return k.Str == o.Str
	case PropKeySymbol:
		return k.Sym == o.Sym
	case PropKeyIndex:
		return k.Index == o.Index
	}
	return false
}
