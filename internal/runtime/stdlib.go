// stdlib.go installs the global objects every embedded program expects to
// find without an explicit import (spec.md §6 "host-provided globals";
// SPEC_FULL.md §4 supplements console/Math/JSON/Symbol/Map/Set/Array beyond
// spec.md's own, narrower Testable Properties list). Every builtin here is
// a NativeFunc closure over the owning Runtime rather than compiled
// bytecode, mirroring how the teacher's stack VM wired its own builtins
// directly onto Go closures instead of a bootstrap script.
package runtime

import (
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/kristofer/smogjs/internal/heap"
	"github.com/kristofer/smogjs/internal/vm"
)

func arg(args []heap.Value, i int) heap.Value {
	if i < 0 || i >= len(args) {
		return heap.Undefined
	}
	return args[i]
}

// define installs a writable, configurable, non-enumerable data property —
// the shape Object.prototype methods and global bindings use throughout
// this file (spec.md §3 property-attribute defaults for builtins).
func define(o *heap.Object, r *Runtime, name string, v heap.Value) {
	o.DefineOwn(heap.NameKey(r.Interner.Intern(name)), &heap.Property{Value: v, Writable: true, Configurable: true})
}

func method(r *Runtime, o *heap.Object, name string, fn heap.NativeFunc) {
	define(o, r, name, heap.Obj(r.VM.NewNativeFunction(name, fn)))
}

// installGlobals wires every builtin spec.md §6/SPEC_FULL.md §4 names onto
// the runtime's global scope. Called once from New.
func installGlobals(r *Runtime) {
	g := func(name string, v heap.Value) { r.VM.DefineGlobal(name, v) }

	globalThis := r.Heap.NewObject(r.VM.Protos.Object)
	g("globalThis", heap.Obj(globalThis))

	installConsole(r, g)
	installMath(r, g)
	installJSON(r, g)
	installSymbol(r, g)
	installObjectStatics(r, g)
	installArrayPrototype(r)
	installMapAndSet(r, g)
	installPromiseConstructor(r, g)

	dateCtor := r.VM.NewNativeFunction("Date", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		return heap.Number(float64(r.Caps.Time.NowMillis())), nil
	})
	method(r, dateCtor, "now", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		return heap.Number(float64(r.Caps.Time.NowMillis())), nil
	})
	g("Date", heap.Obj(dateCtor))
}

func installConsole(r *Runtime, g func(string, heap.Value)) {
	console := r.Heap.NewObject(r.VM.Protos.Object)
	toStrings := func(args []heap.Value) []string {
		out := make([]string, len(args))
		for i, a := range args {
			out[i] = r.VM.ToStringValue(a)
		}
		return out
	}
	method(r, console, "log", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		r.Caps.Console.Log(toStrings(args)...)
		return heap.Undefined, nil
	})
	method(r, console, "info", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		r.Caps.Console.Info(toStrings(args)...)
		return heap.Undefined, nil
	})
	method(r, console, "warn", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		r.Caps.Console.Warn(toStrings(args)...)
		return heap.Undefined, nil
	})
	method(r, console, "error", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		r.Caps.Console.Error(toStrings(args)...)
		return heap.Undefined, nil
	})
	g("console", heap.Obj(console))
}

func installMath(r *Runtime, g func(string, heap.Value)) {
	m := r.Heap.NewObject(r.VM.Protos.Object)
	define(m, r, "PI", heap.Number(math.Pi))
	define(m, r, "E", heap.Number(math.E))
	unary := func(name string, f func(float64) float64) {
		method(r, m, name, func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
			return heap.Number(f(r.VM.ToNumberValue(arg(args, 0)))), nil
		})
	}
	unary("floor", math.Floor)
	unary("ceil", math.Ceil)
	unary("round", math.Round)
	unary("trunc", math.Trunc)
	unary("abs", math.Abs)
	unary("sqrt", math.Sqrt)
	unary("sign", func(f float64) float64 {
		switch {
		case f > 0:
			return 1
		case f < 0:
			return -1
		default:
			return f
		}
	})
	method(r, m, "pow", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		return heap.Number(math.Pow(r.VM.ToNumberValue(arg(args, 0)), r.VM.ToNumberValue(arg(args, 1)))), nil
	})
	method(r, m, "max", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		best := math.Inf(-1)
		for _, a := range args {
			if n := r.VM.ToNumberValue(a); n > best {
				best = n
			}
		}
		return heap.Number(best), nil
	})
	method(r, m, "min", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		best := math.Inf(1)
		for _, a := range args {
			if n := r.VM.ToNumberValue(a); n < best {
				best = n
			}
		}
		return heap.Number(best), nil
	})
	method(r, m, "random", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		return heap.Number(r.Caps.Random.Float64()), nil
	})
	g("Math", heap.Obj(m))
}

// installJSON backs JSON.stringify/parse with encoding/json over an
// intermediate interface{} tree, rather than a hand-rolled serializer —
// SPEC_FULL.md §2 names JSON as ambient-stack, not domain-novel, so it
// borrows the stdlib codec the teacher's own tooling config files use.
func installJSON(r *Runtime, g func(string, heap.Value)) {
	j := r.Heap.NewObject(r.VM.Protos.Object)
	method(r, j, "stringify", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		native, err := toNative(r, arg(args, 0), make(map[*heap.Object]bool))
		if err != nil {
			return heap.Undefined, err
		}
		out, err := json.Marshal(native)
		if err != nil {
			return heap.Undefined, r.VM.TypeErr(err.Error())
		}
		return r.VM.StrVal(string(out)), nil
	})
	method(r, j, "parse", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		text := r.VM.ToStringValue(arg(args, 0))
		var native interface{}
		if err := json.Unmarshal([]byte(text), &native); err != nil {
			return heap.Undefined, r.VM.TypeErr("Unexpected token in JSON: " + err.Error())
		}
		return fromNative(r, native), nil
	})
	g("JSON", heap.Obj(j))
}

func toNative(r *Runtime, v heap.Value, seen map[*heap.Object]bool) (interface{}, error) {
	switch v.Kind() {
	case heap.KindUndefined, heap.KindSymbol:
		return nil, nil
	case heap.KindNull:
		return nil, nil
	case heap.KindBoolean:
		return v.AsBool(), nil
	case heap.KindNumber:
		return v.AsNumber(), nil
	case heap.KindString:
		return r.Interner.MustResolve(v.AsStringId()), nil
	case heap.KindObject:
		o := v.AsObject()
		if seen[o] {
			return nil, r.VM.TypeErr("Converting circular structure to JSON")
		}
		seen[o] = true
		defer delete(seen, o)
		if o.Exotic == heap.ExoticArray {
			out := make([]interface{}, o.Array.Length)
			for i := range out {
				el, _ := r.VM.GetProp(v, heap.IndexKey(uint32(i)))
				out[i], _ = toNative(r, el, seen)
			}
			return out, nil
		}
		out := map[string]interface{}{}
		for _, k := range o.OwnKeys() {
			if k.Kind != heap.PropKeyString {
				continue
			}
			p, _ := o.GetOwn(k)
			if p == nil || !p.Enumerable {
				continue
			}
			name := r.Interner.MustResolve(k.Str)
			nv, err := toNative(r, p.Value, seen)
			if err != nil {
				return nil, err
			}
			out[name] = nv
		}
		return out, nil
	default:
		return nil, nil
	}
}

func fromNative(r *Runtime, native interface{}) heap.Value {
	switch n := native.(type) {
	case nil:
		return heap.Null
	case bool:
		return heap.Bool(n)
	case float64:
		return heap.Number(n)
	case string:
		return r.VM.StrVal(n)
	case []interface{}:
		arr := r.Heap.NewArray(r.VM.Protos.Array)
		for i, el := range n {
			arr.DefineOwn(heap.IndexKey(uint32(i)), &heap.Property{Value: fromNative(r, el), Writable: true, Enumerable: true, Configurable: true})
		}
		return heap.Obj(arr)
	case map[string]interface{}:
		obj := r.Heap.NewObject(r.VM.Protos.Object)
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			obj.DefineOwn(heap.NameKey(r.Interner.Intern(k)), &heap.Property{Value: fromNative(r, n[k]), Writable: true, Enumerable: true, Configurable: true})
		}
		return heap.Obj(obj)
	default:
		return heap.Undefined
	}
}

func installSymbol(r *Runtime, g func(string, heap.Value)) {
	symCtor := r.VM.NewNativeFunction("Symbol", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		_ = arg(args, 0) // description is not retained; SymbolId identity is what SameValueZero compares
		return heap.Sym(h.NewSymbol()), nil
	})
	method(r, symCtor, "for", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		return heap.Sym(h.SymbolFor(r.VM.ToStringValue(arg(args, 0)))), nil
	})
	method(r, symCtor, "keyFor", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		key, ok := h.SymbolKeyFor(arg(args, 0).AsSymbol())
		if !ok {
			return heap.Undefined, nil
		}
		return r.VM.StrVal(key), nil
	})
	define(symCtor, r, "iterator", heap.Sym(r.VM.WellKnown.Iterator))
	define(symCtor, r, "asyncIterator", heap.Sym(r.VM.WellKnown.AsyncIterator))
	g("Symbol", heap.Obj(symCtor))
}

func installObjectStatics(r *Runtime, g func(string, heap.Value)) {
	ctor := r.VM.NewNativeFunction("Object", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		if a := arg(args, 0); a.IsObject() {
			return a, nil
		}
		return heap.Obj(h.NewObject(r.VM.Protos.Object)), nil
	})
	ownEnumerable := func(v heap.Value) (*heap.Object, []heap.PropertyKey) {
		if !v.IsObject() {
			return nil, nil
		}
		o := v.AsObject()
		var keys []heap.PropertyKey
		for _, k := range o.OwnKeys() {
			if k.Kind != heap.PropKeyString && k.Kind != heap.PropKeyIndex {
				continue
			}
			if p, ok := o.GetOwn(k); ok && p.Enumerable {
				keys = append(keys, k)
			}
		}
		return o, keys
	}
	keyString := func(r *Runtime, k heap.PropertyKey) string {
		if k.Kind == heap.PropKeyIndex {
			return r.VM.ToStringValue(heap.Number(float64(k.Index)))
		}
		return r.Interner.MustResolve(k.Str)
	}
	method(r, ctor, "keys", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		_, keys := ownEnumerable(arg(args, 0))
		arr := h.NewArray(r.VM.Protos.Array)
		for i, k := range keys {
			arr.DefineOwn(heap.IndexKey(uint32(i)), &heap.Property{Value: r.VM.StrVal(keyString(r, k)), Writable: true, Enumerable: true, Configurable: true})
		}
		return heap.Obj(arr), nil
	})
	method(r, ctor, "values", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		o, keys := ownEnumerable(arg(args, 0))
		arr := h.NewArray(r.VM.Protos.Array)
		for i, k := range keys {
			p, _ := o.GetOwn(k)
			arr.DefineOwn(heap.IndexKey(uint32(i)), &heap.Property{Value: p.Value, Writable: true, Enumerable: true, Configurable: true})
		}
		return heap.Obj(arr), nil
	})
	method(r, ctor, "entries", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		o, keys := ownEnumerable(arg(args, 0))
		arr := h.NewArray(r.VM.Protos.Array)
		for i, k := range keys {
			p, _ := o.GetOwn(k)
			pair := h.NewArray(r.VM.Protos.Array)
			pair.DefineOwn(heap.IndexKey(0), &heap.Property{Value: r.VM.StrVal(keyString(r, k)), Writable: true, Enumerable: true, Configurable: true})
			pair.DefineOwn(heap.IndexKey(1), &heap.Property{Value: p.Value, Writable: true, Enumerable: true, Configurable: true})
			arr.DefineOwn(heap.IndexKey(uint32(i)), &heap.Property{Value: heap.Obj(pair), Writable: true, Enumerable: true, Configurable: true})
		}
		return heap.Obj(arr), nil
	})
	method(r, ctor, "assign", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		target := arg(args, 0)
		for _, src := range args[min(1, len(args)):] {
			o, keys := ownEnumerable(src)
			if o == nil {
				continue
			}
			for _, k := range keys {
				p, _ := o.GetOwn(k)
				if err := r.VM.SetProp(target, k, p.Value); err != nil {
					return heap.Undefined, err
				}
			}
		}
		return target, nil
	})
	method(r, ctor, "freeze", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		if a := arg(args, 0); a.IsObject() {
			a.AsObject().Extensible = false
			for _, k := range a.AsObject().OwnKeys() {
				if p, ok := a.AsObject().GetOwn(k); ok {
					p.Writable = false
					p.Configurable = false
				}
			}
		}
		return arg(args, 0), nil
	})
	method(r, ctor, "getPrototypeOf", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		if a := arg(args, 0); a.IsObject() && a.AsObject().Prototype != nil {
			return heap.Obj(a.AsObject().Prototype), nil
		}
		return heap.Null, nil
	})
	g("Object", heap.Obj(ctor))
}

// installArrayPrototype adds the mutator/iteration methods every array
// literal's instances inherit through vm.Protos.Array (the VM's OpCreateArray
// handling already parents new arrays to this prototype, see vm.go step()).
func installArrayPrototype(r *Runtime) {
	p := r.VM.Protos.Array
	length := func(o *heap.Object) uint32 { return o.Array.Length }

	method(r, p, "push", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		o := this.AsObject()
		n := length(o)
		for i, a := range args {
			o.DefineOwn(heap.IndexKey(n+uint32(i)), &heap.Property{Value: a, Writable: true, Enumerable: true, Configurable: true})
		}
		return heap.Number(float64(length(o))), nil
	})
	method(r, p, "pop", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		o := this.AsObject()
		n := length(o)
		if n == 0 {
			return heap.Undefined, nil
		}
		last, ok := o.GetOwn(heap.IndexKey(n - 1))
		o.DeleteOwn(heap.IndexKey(n - 1))
		o.SetArrayLength(n - 1)
		if !ok {
			return heap.Undefined, nil
		}
		return last.Value, nil
	})
	method(r, p, "shift", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		o := this.AsObject()
		n := length(o)
		if n == 0 {
			return heap.Undefined, nil
		}
		first, firstOK := o.GetOwn(heap.IndexKey(0))
		for i := uint32(1); i < n; i++ {
			if v, ok := o.GetOwn(heap.IndexKey(i)); ok {
				o.DefineOwn(heap.IndexKey(i-1), &heap.Property{Value: v.Value, Writable: true, Enumerable: true, Configurable: true})
			} else {
				o.DeleteOwn(heap.IndexKey(i - 1))
			}
		}
		o.DeleteOwn(heap.IndexKey(n - 1))
		o.SetArrayLength(n - 1)
		if !firstOK {
			return heap.Undefined, nil
		}
		return first.Value, nil
	})
	method(r, p, "unshift", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		o := this.AsObject()
		n := length(o)
		shift := uint32(len(args))
		for i := n; i > 0; i-- {
			v, _ := o.GetOwn(heap.IndexKey(i - 1))
			o.DefineOwn(heap.IndexKey(i-1+shift), &heap.Property{Value: v.Value, Writable: true, Enumerable: true, Configurable: true})
		}
		for i, a := range args {
			o.DefineOwn(heap.IndexKey(uint32(i)), &heap.Property{Value: a, Writable: true, Enumerable: true, Configurable: true})
		}
		return heap.Number(float64(length(o))), nil
	})
	method(r, p, "slice", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		o := this.AsObject()
		n := int(length(o))
		start := clampIndex(r, arg(args, 0), n, 0)
		end := clampIndex(r, arg(args, 1), n, n)
		out := h.NewArray(r.VM.Protos.Array)
		for i, j := start, 0; i < end; i, j = i+1, j+1 {
			v, _ := o.GetOwn(heap.IndexKey(uint32(i)))
			out.DefineOwn(heap.IndexKey(uint32(j)), &heap.Property{Value: v.Value, Writable: true, Enumerable: true, Configurable: true})
		}
		return heap.Obj(out), nil
	})
	method(r, p, "indexOf", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		o := this.AsObject()
		target := arg(args, 0)
		for i := uint32(0); i < length(o); i++ {
			v, _ := o.GetOwn(heap.IndexKey(i))
			if heap.IsStrictlyEqual(v.Value, target) {
				return heap.Number(float64(i)), nil
			}
		}
		return heap.Number(-1), nil
	})
	method(r, p, "includes", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		o := this.AsObject()
		target := arg(args, 0)
		for i := uint32(0); i < length(o); i++ {
			v, _ := o.GetOwn(heap.IndexKey(i))
			if heap.SameValueZero(v.Value, target) {
				return heap.Bool(true), nil
			}
		}
		return heap.Bool(false), nil
	})
	method(r, p, "join", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		o := this.AsObject()
		sep := ","
		if s := arg(args, 0); !s.IsUndefined() {
			sep = r.VM.ToStringValue(s)
		}
		parts := make([]string, length(o))
		for i := uint32(0); i < length(o); i++ {
			v, _ := o.GetOwn(heap.IndexKey(i))
			if v != nil && !v.Value.IsNullish() {
				parts[i] = r.VM.ToStringValue(v.Value)
			}
		}
		return r.VM.StrVal(strings.Join(parts, sep)), nil
	})
	method(r, p, "concat", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		out := h.NewArray(r.VM.Protos.Array)
		idx := uint32(0)
		appendOne := func(v heap.Value) {
			if v.IsObject() && v.AsObject().Exotic == heap.ExoticArray {
				src := v.AsObject()
				for i := uint32(0); i < length(src); i++ {
					el, _ := src.GetOwn(heap.IndexKey(i))
					out.DefineOwn(heap.IndexKey(idx), &heap.Property{Value: el.Value, Writable: true, Enumerable: true, Configurable: true})
					idx++
				}
				return
			}
			out.DefineOwn(heap.IndexKey(idx), &heap.Property{Value: v, Writable: true, Enumerable: true, Configurable: true})
			idx++
		}
		appendOne(this)
		for _, a := range args {
			appendOne(a)
		}
		return heap.Obj(out), nil
	})

	each := func(name string, build func(o *heap.Object, cb *heap.Object, thisArg heap.Value) (heap.Value, error)) {
		method(r, p, name, func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
			cb := arg(args, 0)
			if !cb.IsObject() {
				return heap.Undefined, r.VM.TypeErr(name + " callback is not a function")
			}
			return build(this.AsObject(), cb.AsObject(), arg(args, 1))
		})
	}
	each("forEach", func(o *heap.Object, cb *heap.Object, thisArg heap.Value) (heap.Value, error) {
		for i := uint32(0); i < length(o); i++ {
			v, _ := o.GetOwn(heap.IndexKey(i))
			if _, err := r.VM.CallValue(heap.Obj(cb), thisArg, []heap.Value{v.Value, heap.Number(float64(i)), heap.Obj(o)}); err != nil {
				return heap.Undefined, err
			}
		}
		return heap.Undefined, nil
	})
	each("map", func(o *heap.Object, cb *heap.Object, thisArg heap.Value) (heap.Value, error) {
		out := r.Heap.NewArray(r.VM.Protos.Array)
		for i := uint32(0); i < length(o); i++ {
			v, _ := o.GetOwn(heap.IndexKey(i))
			res, err := r.VM.CallValue(heap.Obj(cb), thisArg, []heap.Value{v.Value, heap.Number(float64(i)), heap.Obj(o)})
			if err != nil {
				return heap.Undefined, err
			}
			out.DefineOwn(heap.IndexKey(i), &heap.Property{Value: res, Writable: true, Enumerable: true, Configurable: true})
		}
		return heap.Obj(out), nil
	})
	each("filter", func(o *heap.Object, cb *heap.Object, thisArg heap.Value) (heap.Value, error) {
		out := r.Heap.NewArray(r.VM.Protos.Array)
		j := uint32(0)
		for i := uint32(0); i < length(o); i++ {
			v, _ := o.GetOwn(heap.IndexKey(i))
			res, err := r.VM.CallValue(heap.Obj(cb), thisArg, []heap.Value{v.Value, heap.Number(float64(i)), heap.Obj(o)})
			if err != nil {
				return heap.Undefined, err
			}
			if res.ToBoolean() {
				out.DefineOwn(heap.IndexKey(j), &heap.Property{Value: v.Value, Writable: true, Enumerable: true, Configurable: true})
				j++
			}
		}
		return heap.Obj(out), nil
	})
	method(r, p, "reduce", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		cb := arg(args, 0)
		if !cb.IsObject() {
			return heap.Undefined, r.VM.TypeErr("reduce callback is not a function")
		}
		o := this.AsObject()
		var acc heap.Value
		i := uint32(0)
		if len(args) > 1 {
			acc = args[1]
		} else {
			if length(o) == 0 {
				return heap.Undefined, r.VM.TypeErr("Reduce of empty array with no initial value")
			}
			v, _ := o.GetOwn(heap.IndexKey(0))
			acc = v.Value
			i = 1
		}
		for ; i < length(o); i++ {
			v, _ := o.GetOwn(heap.IndexKey(i))
			res, err := r.VM.CallValue(cb, heap.Undefined, []heap.Value{acc, v.Value, heap.Number(float64(i)), heap.Obj(o)})
			if err != nil {
				return heap.Undefined, err
			}
			acc = res
		}
		return acc, nil
	})
}

func clampIndex(r *Runtime, v heap.Value, n, def int) int {
	if v.IsUndefined() {
		return def
	}
	i := int(r.VM.ToNumberValue(v))
	if i < 0 {
		i += n
	}
	if i < 0 {
		i = 0
	}
	if i > n {
		i = n
	}
	return i
}

// installMapAndSet builds Map/Set as native constructors over a pair of
// prototypes private to this function — these collections never appear as
// operands of the bytecode-level binary/iteration opcodes, only as regular
// constructed objects reached through property access and the duck-typed
// iterator protocol vm.go's getIterator already implements.
func installMapAndSet(r *Runtime, g func(string, heap.Value)) {
	mapProto := r.Heap.NewObject(r.VM.Protos.Object)
	setProto := r.Heap.NewObject(r.VM.Protos.Object)

	findEntry := func(entries []heap.MapEntry, key heap.Value) int {
		for i, e := range entries {
			if !e.Deleted && heap.SameValueZero(e.Key, key) {
				return i
			}
		}
		return -1
	}

	mapCtor := r.VM.NewNativeFunction("Map", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		m := h.NewMap(mapProto)
		if init := arg(args, 0); init.IsObject() && init.AsObject().Exotic == heap.ExoticArray {
			src := init.AsObject()
			for i := uint32(0); i < src.Array.Length; i++ {
				pairProp, _ := src.GetOwn(heap.IndexKey(i))
				pair := pairProp.Value
				if !pair.IsObject() {
					continue
				}
				k, _ := r.VM.GetProp(pair, heap.IndexKey(0))
				v, _ := r.VM.GetProp(pair, heap.IndexKey(1))
				m.Map.Entries = append(m.Map.Entries, heap.MapEntry{Key: k, Value: v})
			}
		}
		return heap.Obj(m), nil
	})
	method(r, mapProto, "get", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		m := this.AsObject().Map
		if i := findEntry(m.Entries, arg(args, 0)); i >= 0 {
			return m.Entries[i].Value, nil
		}
		return heap.Undefined, nil
	})
	method(r, mapProto, "set", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		m := this.AsObject().Map
		k, v := arg(args, 0), arg(args, 1)
		if i := findEntry(m.Entries, k); i >= 0 {
			m.Entries[i].Value = v
		} else {
			m.Entries = append(m.Entries, heap.MapEntry{Key: k, Value: v})
		}
		return this, nil
	})
	method(r, mapProto, "has", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		return heap.Bool(findEntry(this.AsObject().Map.Entries, arg(args, 0)) >= 0), nil
	})
	method(r, mapProto, "delete", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		m := this.AsObject().Map
		i := findEntry(m.Entries, arg(args, 0))
		if i < 0 {
			return heap.Bool(false), nil
		}
		m.Entries[i].Deleted = true
		return heap.Bool(true), nil
	})
	method(r, mapProto, "forEach", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		cb := arg(args, 0)
		for _, e := range this.AsObject().Map.Entries {
			if e.Deleted {
				continue
			}
			if _, err := r.VM.CallValue(cb, heap.Undefined, []heap.Value{e.Value, e.Key, this}); err != nil {
				return heap.Undefined, err
			}
		}
		return heap.Undefined, nil
	})
	g("Map", heap.Obj(mapCtor))

	setCtor := r.VM.NewNativeFunction("Set", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		s := h.NewSet(setProto)
		if init := arg(args, 0); init.IsObject() && init.AsObject().Exotic == heap.ExoticArray {
			src := init.AsObject()
			for i := uint32(0); i < src.Array.Length; i++ {
				v, _ := src.GetOwn(heap.IndexKey(i))
				if findEntry(s.Set.Members, v.Value) < 0 {
					s.Set.Members = append(s.Set.Members, heap.MapEntry{Key: v.Value})
				}
			}
		}
		return heap.Obj(s), nil
	})
	method(r, setProto, "add", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		s := this.AsObject().Set
		v := arg(args, 0)
		if findEntry(s.Members, v) < 0 {
			s.Members = append(s.Members, heap.MapEntry{Key: v})
		}
		return this, nil
	})
	method(r, setProto, "has", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		return heap.Bool(findEntry(this.AsObject().Set.Members, arg(args, 0)) >= 0), nil
	})
	method(r, setProto, "delete", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		s := this.AsObject().Set
		i := findEntry(s.Members, arg(args, 0))
		if i < 0 {
			return heap.Bool(false), nil
		}
		s.Members[i].Deleted = true
		return heap.Bool(true), nil
	})
	method(r, setProto, "forEach", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		cb := arg(args, 0)
		for _, e := range this.AsObject().Set.Members {
			if e.Deleted {
				continue
			}
			if _, err := r.VM.CallValue(cb, heap.Undefined, []heap.Value{e.Key, e.Key, this}); err != nil {
				return heap.Undefined, err
			}
		}
		return heap.Undefined, nil
	})
	g("Set", heap.Obj(setCtor))
}

// installPromiseConstructor wires `new Promise(executor)` plus
// Promise.prototype.then/catch as native methods fronting vm.Then
// (spec.md §4.6 "promise reactions"), since a Promise instance otherwise has
// no own "then" property for ordinary property lookup to find.
func installPromiseConstructor(r *Runtime, g func(string, heap.Value)) {
	method(r, r.VM.Protos.Promise, "then", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		if !this.IsObject() || this.AsObject().Exotic != heap.ExoticPromise {
			return heap.Undefined, r.VM.TypeErr("Promise.prototype.then called on a non-Promise")
		}
		var onFulfilled, onRejected *heap.Object
		if v := arg(args, 0); v.IsObject() {
			onFulfilled = v.AsObject()
		}
		if v := arg(args, 1); v.IsObject() {
			onRejected = v.AsObject()
		}
		return heap.Obj(r.VM.Then(this.AsObject(), onFulfilled, onRejected)), nil
	})
	method(r, r.VM.Protos.Promise, "catch", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		if !this.IsObject() || this.AsObject().Exotic != heap.ExoticPromise {
			return heap.Undefined, r.VM.TypeErr("Promise.prototype.catch called on a non-Promise")
		}
		var onRejected *heap.Object
		if v := arg(args, 0); v.IsObject() {
			onRejected = v.AsObject()
		}
		return heap.Obj(r.VM.Then(this.AsObject(), nil, onRejected)), nil
	})

	ctor := r.VM.NewNativeFunction("Promise", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		p := h.NewPromise(r.VM.Protos.Promise)
		executor := arg(args, 0)
		if executor.IsObject() {
			resolve := r.VM.NewNativeFunction("resolve", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
				r.VM.ResolvePromise(p, arg(args, 0))
				return heap.Undefined, nil
			})
			reject := r.VM.NewNativeFunction("reject", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
				r.VM.RejectPromise(p, arg(args, 0))
				return heap.Undefined, nil
			})
			if _, err := r.VM.CallValue(executor, heap.Undefined, []heap.Value{heap.Obj(resolve), heap.Obj(reject)}); err != nil {
				if te, ok := err.(*vm.ThrownError); ok {
					r.VM.RejectPromise(p, te.Value)
				} else {
					return heap.Undefined, err
				}
			}
		}
		return heap.Obj(p), nil
	})
	method(r, ctor, "resolve", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		p := h.NewPromise(r.VM.Protos.Promise)
		r.VM.ResolvePromise(p, arg(args, 0))
		return heap.Obj(p), nil
	})
	method(r, ctor, "reject", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		p := h.NewPromise(r.VM.Protos.Promise)
		r.VM.RejectPromise(p, arg(args, 0))
		return heap.Obj(p), nil
	})
	method(r, ctor, "all", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		return promiseAll(r, arg(args, 0))
	})
	method(r, ctor, "race", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		return promiseRace(r, arg(args, 0))
	})
	g("Promise", heap.Obj(ctor))
}

// arrayLike collects an array or any object with a numeric length property
// into a slice, reading indices 0..length-1 (the Open Question decision in
// DESIGN.md scopes Promise.all/race to arrays and array-likes). An object
// that is iterable only through Symbol.iterator, such as a Map or Set, has
// no length and yields no items.
func arrayLike(r *Runtime, v heap.Value) []heap.Value {
	if !v.IsObject() {
		return nil
	}
	lengthVal, _ := r.VM.GetProp(v, heap.NameKey(r.Interner.Intern("length")))
	n := int(r.VM.ToNumberValue(lengthVal))
	if n <= 0 {
		return nil
	}
	out := make([]heap.Value, n)
	for i := 0; i < n; i++ {
		out[i], _ = r.VM.GetProp(v, heap.IndexKey(uint32(i)))
	}
	return out
}

// toPromise adopts v into a Promise the way the Promise Resolve algorithm
// does: an existing promise passes through, anything else (including a
// thenable) settles through VM.ResolvePromise.
func toPromise(r *Runtime, v heap.Value) *heap.Object {
	if v.IsObject() && v.AsObject().Exotic == heap.ExoticPromise {
		return v.AsObject()
	}
	p := r.Heap.NewPromise(r.VM.Protos.Promise)
	r.VM.ResolvePromise(p, v)
	return p
}

func promiseAll(r *Runtime, iterable heap.Value) (heap.Value, error) {
	items := arrayLike(r, iterable)
	result := r.Heap.NewPromise(r.VM.Protos.Promise)
	if len(items) == 0 {
		r.VM.ResolvePromise(result, heap.Obj(r.Heap.NewArray(r.VM.Protos.Array)))
		return heap.Obj(result), nil
	}
	values := make([]heap.Value, len(items))
	remaining := len(items)
	for i, it := range items {
		i := i
		onFulfilled := r.VM.NewNativeFunction("", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
			values[i] = arg(args, 0)
			remaining--
			if remaining == 0 {
				out := r.Heap.NewArray(r.VM.Protos.Array)
				for j, v := range values {
					out.DefineOwn(heap.IndexKey(uint32(j)), &heap.Property{Value: v, Writable: true, Enumerable: true, Configurable: true})
				}
				r.VM.ResolvePromise(result, heap.Obj(out))
			}
			return heap.Undefined, nil
		})
		onRejected := r.VM.NewNativeFunction("", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
			r.VM.RejectPromise(result, arg(args, 0))
			return heap.Undefined, nil
		})
		r.VM.Then(toPromise(r, it), onFulfilled, onRejected)
	}
	return heap.Obj(result), nil
}

func promiseRace(r *Runtime, iterable heap.Value) (heap.Value, error) {
	items := arrayLike(r, iterable)
	result := r.Heap.NewPromise(r.VM.Protos.Promise)
	for _, it := range items {
		onFulfilled := r.VM.NewNativeFunction("", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
			r.VM.ResolvePromise(result, arg(args, 0))
			return heap.Undefined, nil
		})
		onRejected := r.VM.NewNativeFunction("", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
			r.VM.RejectPromise(result, arg(args, 0))
			return heap.Undefined, nil
		})
		r.VM.Then(toPromise(r, it), onFulfilled, onRejected)
	}
	return heap.Obj(result), nil
}

// stringifyObject renders an object the way a REPL echoes a completion
// value (Runtime.Stringify), guarding against cycles the same way
// JSON.stringify's toNative does.
func stringifyObject(r *Runtime, o *heap.Object, seen map[*heap.Object]bool) string {
	if seen[o] {
		return "[Circular]"
	}
	seen[o] = true
	defer delete(seen, o)

	if o.Function != nil {
		name := o.Function.Name
		if name == "" {
			name = "anonymous"
		}
		return "[Function: " + name + "]"
	}
	if o.Exotic == heap.ExoticArray {
		parts := make([]string, o.Array.Length)
		for i := uint32(0); i < o.Array.Length; i++ {
			v, ok := o.GetOwn(heap.IndexKey(i))
			if !ok {
				parts[i] = "<1 empty item>"
				continue
			}
			parts[i] = stringifyValue(r, v.Value, seen)
		}
		return "[ " + strings.Join(parts, ", ") + " ]"
	}
	if o.Error != nil {
		return o.Error.Name + ": " + o.Error.Message
	}
	var parts []string
	for _, k := range o.OwnKeys() {
		if k.Kind != heap.PropKeyString && k.Kind != heap.PropKeyIndex {
			continue
		}
		p, ok := o.GetOwn(k)
		if !ok || !p.Enumerable {
			continue
		}
		var name string
		if k.Kind == heap.PropKeyIndex {
			name = r.VM.ToStringValue(heap.Number(float64(k.Index)))
		} else {
			name = r.Interner.MustResolve(k.Str)
		}
		parts = append(parts, name+": "+stringifyValue(r, p.Value, seen))
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

func stringifyValue(r *Runtime, v heap.Value, seen map[*heap.Object]bool) string {
	switch v.Kind() {
	case heap.KindString:
		return "'" + r.Interner.MustResolve(v.AsStringId()) + "'"
	case heap.KindObject:
		return stringifyObject(r, v.AsObject(), seen)
	default:
		return r.VM.DebugValue(v)
	}
}
