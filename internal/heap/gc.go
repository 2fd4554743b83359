// gc.go implements the mark-and-sweep collector (spec.md §4.4).
//
// Roots are: every live Guard, plus whatever extra Values the caller passes
// to Collect (the VM passes its register files, operand stack if any, and
// the global environment record — spec.md §4.4 "Roots"). Mark performs a
// depth-first traversal over ownership edges: prototype, property values
// (including accessor functions), closure environments, promise reactions,
// map/set contents, and — via the VM-supplied SavedFrameMarker hook —
// suspended generator/async frames. Sweep reclaims everything left unmarked.
//
// Cycles (a closure whose environment holds the function that created it; a
// promise reaction closing over its own promise) are handled correctly
// because marking follows shared references, not an acyclic ownership
// discipline (spec.md §4.4 "Ownership edges", §9).
package heap

import "github.com/kristofer/smogjs/internal/intern"

// Binding is one variable slot in a Scope. Initialized false + a
// let/const declaration models the temporal dead zone (spec.md §4.5).
type Binding struct {
	Value       Value
	Mutable     bool
	Initialized bool
}

// Scope is an environment record: a link in the scope chain captured by
// closures and pushed/popped for blocks (spec.md §3 "closure_env", §4.5
// "Scopes & closures"). It lives in this package (rather than internal/vm)
// because a Function's ClosureEnv is a GC root/edge the mark phase must
// walk, and Go doesn't allow a heap<->vm import cycle.
type Scope struct {
	Parent *Scope
	Vars   map[intern.Id]*Binding
}

// NewScope creates a scope linked to parent (nil for the global scope).
func NewScope(parent *Scope) *Scope {
	return &Scope{Parent: parent, Vars: make(map[intern.Id]*Binding)}
}

// Declare installs a new binding in this scope (not walking Parent),
// per OpDeclareVar/OpDeclareVarHoisted semantics.
func (s *Scope) Declare(name intern.Id, mutable, initialized bool) *Binding {
	b := &Binding{Mutable: mutable, Initialized: initialized}
	s.Vars[name] = b
	return b
}

// Resolve walks the scope chain outward looking for name.
func (s *Scope) Resolve(name intern.Id) (*Binding, bool) {
	for cur := s; cur != nil; cur = cur.Parent {
		if b, ok := cur.Vars[name]; ok {
			return b, true
		}
	}
	return nil, false
}

// Guard is a scoped GC root: while held, the Object it pins (if any) and
// everything reachable from it survives collection (spec.md §3 Lifecycle,
// §4.4 "Guard protocol"). Guards are constructed on frame entry and
// released on every exit path by the owning VM code or native stdlib glue;
// forgetting to do so is a GC-safety bug the suite's threshold=1 tests are
// designed to surface (spec.md §4.4, §8).
type Guard struct {
	heap *Heap
	val  Value
	live bool
}

// Value returns the guarded Value.
func (g *Guard) Value() Value { return g.val }

// Release unpins the guard. Safe to call more than once.
func (g *Guard) Release() {
	if !g.live {
		return
	}
	g.live = false
	g.heap.releaseGuard(g)
}

// Heap owns the set of live objects and drives collection.
type Heap struct {
	head      *Object // intrusive singly-linked allocation list, for sweep
	allocated int     // objects allocated since the last collection
	threshold int      // Collect runs automatically once allocated crosses this

	guards map[*Guard]struct{}

	nextSymbol SymbolId
	// symbolRegistry backs Symbol.for/Symbol.keyFor. Per spec.md §4.4
	// "Weak references", entries here are conceptually weak (being
	// registered must not itself keep a symbol's describing object
	// alive forever); this implementation takes the simpler conservative
	// option spec.md explicitly permits and keeps registry entries for
	// the runtime's lifetime rather than building a true weak table.
	symbolRegistry map[string]SymbolId
	symbolNames    map[SymbolId]string

	// SavedFrameMarker, when set by internal/vm, lets Collect walk
	// suspended generator/async frames it cannot otherwise see inside
	// (spec.md §4.4 "iterator saved frames" as a mark root).
	SavedFrameMarker func(sf SavedFrame, mark func(Value))
}

// DefaultGCThreshold is used when the host never calls SetThreshold.
const DefaultGCThreshold = 4096

// New creates an empty heap with the default collection threshold.
func New() *Heap {
	return &Heap{
		threshold:      DefaultGCThreshold,
		guards:         make(map[*Guard]struct{}),
		symbolRegistry: make(map[string]SymbolId),
		symbolNames:    make(map[SymbolId]string),
	}
}

// SetThreshold configures how many allocations may occur between
// automatic collections (spec.md §4.4 "Triggers"; tests use threshold=1
// for GC-safety stress per spec.md §8).
func (h *Heap) SetThreshold(n int) {
	h.threshold = n
}

func (h *Heap) track(o *Object) {
	o.gcNext = h.head
	h.head = o
	h.allocated++
}

// NewGuard pins v (a no-op if v is not an Object) until Release is called.
func (h *Heap) NewGuard(v Value) *Guard {
	g := &Guard{heap: h, val: v, live: true}
	h.guards[g] = struct{}{}
	return g
}

func (h *Heap) releaseGuard(g *Guard) {
	delete(h.guards, g)
}

// AllocSince reports allocations since the last collection, for host
// diagnostics and tests asserting GC triggered.
func (h *Heap) AllocSince() int { return h.allocated }

// MaybeCollect runs Collect if the allocation counter has crossed the
// configured threshold (spec.md §4.4 "Triggers"). extraRoots are
// additional live Values the VM holds outside of guards (register files,
// the global scope, etc).
func (h *Heap) MaybeCollect(extraRoots []Value) {
	if h.allocated >= h.threshold {
		h.Collect(extraRoots)
	}
}

// Collect runs a full stop-the-world mark-and-sweep cycle unconditionally.
func (h *Heap) Collect(extraRoots []Value) {
	for g := range h.guards {
		h.markValue(g.val)
	}
	for _, v := range extraRoots {
		h.markValue(v)
	}

	var live *Object
	for o := h.head; o != nil; {
		next := o.gcNext
		if o.marked {
			o.marked = false
			o.gcNext = live
			live = o
		}
		o = next
	}
	h.head = live
	h.allocated = 0
}

func (h *Heap) markValue(v Value) {
	if v.kind != KindObject || v.obj == nil {
		return
	}
	h.markObject(v.obj)
}

func (h *Heap) markObject(o *Object) {
	if o == nil || o.marked {
		return
	}
	o.marked = true

	if o.Prototype != nil {
		h.markObject(o.Prototype)
	}
	for _, k := range o.props.keys() {
		p, _ := o.props.get(k)
		if p == nil {
			continue
		}
		h.markValue(p.Value)
		if p.Getter != nil {
			h.markObject(p.Getter)
		}
		if p.Setter != nil {
			h.markObject(p.Setter)
		}
	}

	switch o.Exotic {
	case ExoticFunction:
		if o.Function != nil {
			h.markScope(o.Function.ClosureEnv)
			if o.Function.HomeObject != nil {
				h.markObject(o.Function.HomeObject)
			}
		}
	case ExoticBoundFunction:
		if o.Bound != nil {
			if o.Bound.Target != nil {
				h.markObject(o.Bound.Target)
			}
			h.markValue(o.Bound.ThisBinding)
			for _, a := range o.Bound.BoundArgs {
				h.markValue(a)
			}
		}
	case ExoticPromise:
		if o.Promise != nil {
			h.markValue(o.Promise.Value)
			h.markReactions(o.Promise.FulfillReactions)
			h.markReactions(o.Promise.RejectReactions)
		}
	case ExoticGenerator:
		if o.Generator != nil && o.Generator.SavedFrame != nil && h.SavedFrameMarker != nil {
			h.SavedFrameMarker(o.Generator.SavedFrame, h.markValue)
		}
	case ExoticMap:
		if o.Map != nil {
			for _, e := range o.Map.Entries {
				if e.Deleted {
					continue
				}
				h.markValue(e.Key)
				h.markValue(e.Value)
			}
		}
	case ExoticSet:
		if o.Set != nil {
			for _, e := range o.Set.Members {
				if e.Deleted {
					continue
				}
				h.markValue(e.Key)
			}
		}
	case ExoticWrapper:
		if o.Wrapper != nil {
			h.markValue(o.Wrapper.Primitive)
		}
	}
}

func (h *Heap) markReactions(rs []Reaction) {
	for _, r := range rs {
		if r.OnFulfilled != nil {
			h.markObject(r.OnFulfilled)
		}
		if r.OnRejected != nil {
			h.markObject(r.OnRejected)
		}
		if r.ResultPromise != nil {
			h.markObject(r.ResultPromise)
		}
	}
}

// MaybeCollectFrames is MaybeCollect for a VM mid-execution: in addition to
// guards and valueRoots, it roots every scope in scopeRoots (and, through
// each Scope.Parent chain, the global environment record those scopes
// close over) before sweeping (spec.md §4.4 "Roots": "register files,
// operand stack if any, and the global environment record").
func (h *Heap) MaybeCollectFrames(scopeRoots []*Scope, valueRoots []Value) {
	if !h.ShouldCollect() {
		return
	}
	for _, s := range scopeRoots {
		h.markScope(s)
	}
	h.Collect(valueRoots)
}

// ShouldCollect reports whether the allocation counter has crossed the
// configured threshold, so a caller can skip building a root set on the
// common case where no collection will run.
func (h *Heap) ShouldCollect() bool {
	return h.allocated >= h.threshold
}

func (h *Heap) markScope(s *Scope) {
	for cur := s; cur != nil; cur = cur.Parent {
		for _, b := range cur.Vars {
			h.markValue(b.Value)
		}
	}
}

// --- allocation constructors ---

func (h *Heap) NewObject(proto *Object) *Object {
	o := newObject(ExoticOrdinary)
	o.Prototype = proto
	h.track(o)
	return o
}

func (h *Heap) NewArray(proto *Object) *Object {
	o := newObject(ExoticArray)
	o.Prototype = proto
	o.Array = &ArrayData{}
	h.track(o)
	return o
}

func (h *Heap) NewFunction(proto *Object, data *FunctionData) *Object {
	o := newObject(ExoticFunction)
	o.Prototype = proto
	o.Function = data
	h.track(o)
	return o
}

func (h *Heap) NewBoundFunction(proto *Object, data *BoundFunctionData) *Object {
	o := newObject(ExoticBoundFunction)
	o.Prototype = proto
	o.Bound = data
	h.track(o)
	return o
}

func (h *Heap) NewPromise(proto *Object) *Object {
	o := newObject(ExoticPromise)
	o.Prototype = proto
	o.Promise = &PromiseData{State: PromisePending}
	h.track(o)
	return o
}

func (h *Heap) NewGenerator(proto *Object, kind GeneratorKind) *Object {
	o := newObject(ExoticGenerator)
	o.Prototype = proto
	o.Generator = &GeneratorData{Kind: kind}
	h.track(o)
	return o
}

func (h *Heap) NewMap(proto *Object) *Object {
	o := newObject(ExoticMap)
	o.Prototype = proto
	o.Map = &MapData{}
	h.track(o)
	return o
}

func (h *Heap) NewSet(proto *Object) *Object {
	o := newObject(ExoticSet)
	o.Prototype = proto
	o.Set = &SetData{}
	h.track(o)
	return o
}

func (h *Heap) NewRegExp(proto *Object, data *RegExpData) *Object {
	o := newObject(ExoticRegExp)
	o.Prototype = proto
	o.RegExp = data
	h.track(o)
	return o
}

func (h *Heap) NewError(proto *Object, data *ErrorData) *Object {
	o := newObject(ExoticError)
	o.Prototype = proto
	o.Error = data
	h.track(o)
	return o
}

func (h *Heap) NewWrapper(proto *Object, primitive Value) *Object {
	o := newObject(ExoticWrapper)
	o.Prototype = proto
	o.Wrapper = &WrapperData{Primitive: primitive}
	h.track(o)
	return o
}

// --- symbols ---

// NewSymbol allocates a fresh, non-registry symbol (spec.md §3/§9).
func (h *Heap) NewSymbol() SymbolId {
	h.nextSymbol++
	return h.nextSymbol
}

// SymbolFor implements Symbol.for: returns the existing registry symbol
// for key, or allocates and registers a new one (spec.md §9 "Global
// well-known symbols", §4.4 "Weak references").
func (h *Heap) SymbolFor(key string) SymbolId {
	if id, ok := h.symbolRegistry[key]; ok {
		return id
	}
	id := h.NewSymbol()
	h.symbolRegistry[key] = id
	h.symbolNames[id] = key
	return id
}

// SymbolKeyFor implements Symbol.keyFor: the inverse of SymbolFor.
func (h *Heap) SymbolKeyFor(id SymbolId) (string, bool) {
	k, ok := h.symbolNames[id]
	return k, ok
}
