package heap

import "github.com/kristofer/smogjs/internal/intern"

// Property is a single property slot. It is either a data property (Value
// set, Getter/Setter nil) or an accessor property (Getter and/or Setter
// set, Value the zero Value) — never both (spec.md §3 Invariant 4).
type Property struct {
	Value        Value
	Getter       *Object
	Setter       *Object
	Writable     bool
	Enumerable   bool
	Configurable bool
}

func (p *Property) IsAccessor() bool { return p.Getter != nil || p.Setter != nil }

// props is an insertion-order-preserving key -> Property map (spec.md §3
// Invariant 5). Deleted slots are tombstoned rather than shifted so that
// live indices into `order` held during iteration stay valid; keys()
// filters tombstones out.
type props struct {
	order []PropertyKey
	slots map[PropertyKey]*Property
}

func newProps() *props {
	return &props{slots: make(map[PropertyKey]*Property)}
}

func (p *props) get(k PropertyKey) (*Property, bool) {
	v, ok := p.slots[k]
	return v, ok
}

func (p *props) set(k PropertyKey, prop *Property) {
	if _, exists := p.slots[k]; !exists {
		p.order = append(p.order, k)
	}
	p.slots[k] = prop
}

func (p *props) delete(k PropertyKey) bool {
	if _, ok := p.slots[k]; !ok {
		return false
	}
	delete(p.slots, k)
	return true
}

// keys returns property keys in insertion order, skipping deleted slots.
func (p *props) keys() []PropertyKey {
	// A key deleted and set again appears more than once in order; only
	// its last (latest-insertion) occurrence is kept.
	out := make([]PropertyKey, 0, len(p.slots))
	seen := make(map[PropertyKey]bool, len(p.slots))
	for i := len(p.order) - 1; i >= 0; i-- {
		k := p.order[i]
		if _, ok := p.slots[k]; ok && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (p *props) len() int { return len(p.slots) }

// ExoticKind selects the behavioural flavor of an Object (spec.md §3).
type ExoticKind byte

const (
	ExoticOrdinary ExoticKind = iota
	ExoticArray
	ExoticFunction
	ExoticBoundFunction
	ExoticPromise
	ExoticGenerator
	ExoticMap
	ExoticSet
	ExoticRegExp
	ExoticError
	ExoticWrapper
)

// FunctionKind distinguishes the call/construct/this-binding rules spec.md
// §4.3/§4.5 name for a Function exotic object.
type FunctionKind byte

const (
	FuncNormal FunctionKind = iota
	FuncArrow
	FuncMethod
	FuncConstructor
	FuncBound
)

// NativeFunc is a host/stdlib-implemented callable, used for function
// objects whose body isn't user bytecode (builtins, bound wrappers).
// It receives the heap so it can allocate results, and the call's `this`
// and arguments.
type NativeFunc func(h *Heap, this Value, args []Value) (Value, error)

// FunctionData holds the ExoticFunction payload (spec.md §3).
type FunctionData struct {
	Kind         FunctionKind
	Name         string
	ParamCount   int
	ClosureEnv   *Scope // captured scope chain at CreateFunction time
	BodyChunk    interface{} // *bytecode.Chunk; interface{} to avoid an import cycle (bytecode doesn't need heap)
	IsGenerator  bool
	IsAsync      bool
	Native       NativeFunc // non-nil for builtins
	HomeObject   *Object    // for super lookups in methods
}

// BoundFunctionData holds the ExoticBoundFunction payload.
type BoundFunctionData struct {
	Target      *Object
	ThisBinding Value
	BoundArgs   []Value
}

// PromiseState is one of Pending/Fulfilled/Rejected (spec.md §3 Invariant 3:
// transitions exactly once).
type PromiseState byte

const (
	PromisePending PromiseState = iota
	PromiseFulfilled
	PromiseRejected
)

// Reaction is one registered `.then`/`.catch` handler pair, spec.md §4.6.
type Reaction struct {
	OnFulfilled *Object // callable or nil
	OnRejected  *Object // callable or nil
	// ResultPromise is the Promise returned by the .then() call that
	// registered this reaction; it's resolved/rejected with the handler's
	// outcome once the reaction fires.
	ResultPromise *Object
}

// PromiseData holds the ExoticPromise payload.
type PromiseData struct {
	State            PromiseState
	Value            Value
	FulfillReactions []Reaction
	RejectReactions  []Reaction
	// Fired is not read or set by the VM: settleReactions empties both
	// reaction lists when it queues them, which is what keeps each
	// reaction to at most one run (spec.md §3 Invariant 3).
	Fired bool
	ID    uint64 // diagnostic id; nothing in the repository assigns it
}

// GeneratorKind distinguishes sync generators from async generators
// (spec.md §3).
type GeneratorKind byte

const (
	GenSync GeneratorKind = iota
	GenAsync
)

// SavedFrame is an opaque snapshot of VM execution state captured at a
// suspension point (await/yield), resumed later by the VM (spec.md §4.6).
// Defined as interface{} here to avoid heap<->vm import cycle; the vm
// package is the only code that type-asserts it.
type SavedFrame = interface{}

// GeneratorData holds the ExoticGenerator payload.
type GeneratorData struct {
	Kind       GeneratorKind
	Done       bool
	SavedFrame SavedFrame
	// Started is false until the first next() call actually begins
	// running the body (spec.md §4.5 generator semantics: arguments
	// passed to the first next() are discarded).
	Started bool
}

// MapEntry is one (key, value) pair of a Map, spec.md §3 ("insertion-ordered
// (Value,Value)"). Deleted entries are tombstoned (Deleted=true) to keep
// iterator indices stable, mirroring props' tombstone strategy.
type MapEntry struct {
	Key, Value Value
	Deleted    bool
}

type MapData struct {
	Entries []MapEntry
}

type SetData struct {
	Members []MapEntry // Value field unused; Key holds the member
}

// CompiledRegex is the platform-provided compiled regex handle (spec.md §6).
type CompiledRegex interface {
	IsMatch(s string) bool
}

type RegExpData struct {
	Compiled CompiledRegex
	Source   string
	Flags    string
	LastIndex int
}

type ErrorData struct {
	Name    string
	Message string
	Stack   string
}

type WrapperData struct {
	Primitive Value
}

// Object is the heap-allocated value backing Value.Object. Objects are
// entered into a Heap's live set on creation and reclaimed by the next GC
// cycle once unreachable from any Guard (spec.md §3 Lifecycle).
type Object struct {
	props     *props
	Prototype *Object

	Exotic ExoticKind

	Array     *ArrayData
	Function  *FunctionData
	Bound     *BoundFunctionData
	Promise   *PromiseData
	Generator *GeneratorData
	Map       *MapData
	Set       *SetData
	RegExp    *RegExpData
	Error     *ErrorData
	Wrapper   *WrapperData

	Extensible bool

	// gc bookkeeping, touched only by Heap.
	marked bool
	gcNext *Object
}

// ArrayData holds the ExoticArray payload. Length mirrors the highest
// integer index + 1 (spec.md §3 Invariant 2); writing Length truncates.
type ArrayData struct {
	Length uint32
}

func newObject(kind ExoticKind) *Object {
	return &Object{props: newProps(), Exotic: kind, Extensible: true}
}

// GetOwn returns the object's own property (not walking the prototype
// chain) for key, and whether it exists.
func (o *Object) GetOwn(key PropertyKey) (*Property, bool) {
	return o.props.get(key)
}

// DefineOwn installs or replaces an own property.
func (o *Object) DefineOwn(key PropertyKey, prop *Property) {
	o.props.set(key, prop)
	if key.Kind == PropKeyIndex && o.Exotic == ExoticArray {
		if key.Index+1 > o.Array.Length {
			o.Array.Length = key.Index + 1
		}
	}
}

// DeleteOwn removes an own property and reports whether one was present.
func (o *Object) DeleteOwn(key PropertyKey) bool {
	return o.props.delete(key)
}

// OwnKeys returns own property keys in insertion order (spec.md §3
// Invariant 5).
func (o *Object) OwnKeys() []PropertyKey {
	return o.props.keys()
}

func (o *Object) OwnPropertyCount() int { return o.props.len() }

// SetArrayLength truncates the array per spec.md §3 Invariant 2: setting
// length = N deletes all integer-keyed entries >= N.
func (o *Object) SetArrayLength(n uint32) {
	if o.Array == nil {
		return
	}
	if n < o.Array.Length {
		for _, k := range o.props.keys() {
			if k.Kind == PropKeyIndex && k.Index >= n {
				o.props.delete(k)
			}
		}
	}
	o.Array.Length = n
}

// Lookup walks the prototype chain starting at o looking for key,
// tracking visited objects so a cyclic chain still terminates (spec.md §3
// Invariant 1 / §4 "lookups terminate via visited tracking").
func (o *Object) Lookup(key PropertyKey) (*Property, *Object) {
	visited := make(map[*Object]bool)
	cur := o
	for cur != nil {
		if visited[cur] {
			return nil, nil
		}
		visited[cur] = true
		if p, ok := cur.GetOwn(key); ok {
			return p, cur
		}
		cur = cur.Prototype
	}
	return nil, nil
}

// NameKey is a convenience for building a string PropertyKey from an
// already-interned identifier name.
func NameKey(id intern.Id) PropertyKey { return StringKey(id) }
