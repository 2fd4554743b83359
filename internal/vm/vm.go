// Package vm implements the register-based bytecode interpreter (spec.md
// §4.3). Kept in the teacher VM's switch-dispatched Run-loop idiom
// (pkg/vm/vm.go), generalized from a stack machine with Smalltalk message
// sends to a register machine executing the three-address opcode set in
// internal/bytecode, operating on internal/heap's tagged Value/Object
// model instead of the teacher's plain interface{} values.
//
// Each runStack call drives an explicit Go slice of frames, so that
// suspending on await/yield is just "stop the loop and keep the frame
// slice around" rather than something requiring goroutines or channels
// (spec.md §4.6 "cooperative, not preemptive"). A call from bytecode does
// not push onto that slice: it goes through CallValue, which runs the
// callee in a new runStack by Go-level recursion.
package vm

import (
	"fmt"
	"math"

	"github.com/kristofer/smogjs/internal/bytecode"
	"github.com/kristofer/smogjs/internal/heap"
	"github.com/kristofer/smogjs/internal/intern"
)

// ThrownError wraps a JS-level thrown Value so it can travel through Go's
// error-return channel without losing its identity as a VM fault vs. a
// *RuntimeError (spec.md §4.7 distinguishes "internal errors" from
// "uncaught script exceptions").
type ThrownError struct {
	Value heap.Value
}

func (e *ThrownError) Error() string { return "uncaught exception" }

// tryFrame is one entry of a Frame's try/catch/finally stack (spec.md §4.5
// "Scopes & closures", try semantics).
type tryFrame struct {
	HandlerPC  int32
	FinallyPC  int32
	ScopeDepth int // Frame.Scope snapshot to unwind block scopes to on throw
}

// Frame is one activation record: a register file, instruction pointer,
// owning chunk, and current scope-chain position (spec.md §4.3 "Frame").
type Frame struct {
	Chunk    *bytecode.Chunk
	Regs     []heap.Value
	PC       int
	Scope    *heap.Scope
	TryStack []tryFrame
	DestReg  int32 // register in Caller to receive this frame's return value
	Caller   *Frame
	FuncObj  *heap.Object // the Function object this frame is executing, for HomeObject/super
}

// SavedFrame is the opaque snapshot stored in heap.GeneratorData.SavedFrame
// and returned internally when execution suspends on await/yield (spec.md
// §4.6). OnSettle, when non-nil, is invoked once this stack eventually
// drains (by return, by an uncaught throw, or — for a generator body being
// driven as part of an async function — is ignored in favor of the
// generator's own yield/next contract).
type SavedFrame struct {
	Stack    []*Frame
	OnSettle func(vm *VM, ok bool, value heap.Value)
}

// Outcome classifies how a stack run ended.
type Outcome int

const (
	Completed Outcome = iota
	Thrown
	SuspendedAwait
	SuspendedYield
)

// RunResult is the result of driving one frame stack to completion or
// suspension.
type RunResult struct {
	Outcome Outcome
	Value   heap.Value
	Saved   *SavedFrame // set when Outcome is one of the Suspended* values
}

// Prototypes holds the bootstrap object graph the VM needs internally
// (iterator results, plain objects created by the interpreter itself).
// internal/runtime owns the full global-object wiring (spec.md §6); this
// is only what the interpreter core cannot do without.
type Prototypes struct {
	Object   *heap.Object
	Function *heap.Object
	Array    *heap.Object
	Error    *heap.Object
	Promise  *heap.Object
	Iterator *heap.Object
}

// VM executes compiled chunks against a Heap.
type VM struct {
	Heap      *heap.Heap
	Interner  *intern.Table
	Global    *heap.Scope
	WellKnown *heap.WellKnown
	Protos    *Prototypes

	microtasks []func()
	callDepth  int

	// Debugger, when non-nil and enabled, pauses execution per spec.md §6
	// "host-facing debugging hooks"; neither internal/runtime nor cmd/smog
	// sets it.
	Debugger *Debugger

	// cached interned names for properties the interpreter itself
	// synthesizes (iterator results, well-known object shapes).
	nNext, nValue, nDone, nThis, nMessage, nName, nStack, nLength intern.Id
}

// New constructs a VM over h, interning the small set of property names the
// interpreter core needs regardless of which stdlib internal/runtime wires
// on top.
func New(h *heap.Heap, tbl *intern.Table) *VM {
	v := &VM{
		Heap:      h,
		Interner:  tbl,
		Global:    heap.NewScope(nil),
		WellKnown: heap.NewWellKnown(h),
		Protos:    &Prototypes{},
	}
	v.Protos.Object = h.NewObject(nil)
	v.Protos.Function = h.NewObject(v.Protos.Object)
	v.Protos.Array = h.NewObject(v.Protos.Object)
	v.Protos.Error = h.NewObject(v.Protos.Object)
	v.Protos.Promise = h.NewObject(v.Protos.Object)
	v.Protos.Iterator = h.NewObject(v.Protos.Object)
	v.nNext = tbl.Intern("next")
	v.nValue = tbl.Intern("value")
	v.nDone = tbl.Intern("done")
	v.nThis = tbl.Intern("this")
	v.nMessage = tbl.Intern("message")
	v.nName = tbl.Intern("name")
	v.nStack = tbl.Intern("stack")
	v.nLength = tbl.Intern("length")
	h.SavedFrameMarker = v.markSavedFrame
	return v
}

// markSavedFrame is the GC root-walking hook for suspended generator/async
// frames (spec.md §4.4 "iterator saved frames" as a mark root).
func (vm *VM) markSavedFrame(sf heap.SavedFrame, mark func(heap.Value)) {
	saved, ok := sf.(*SavedFrame)
	if !ok {
		return
	}
	for _, f := range saved.Stack {
		for _, r := range f.Regs {
			mark(r)
		}
	}
}

// RunProgram executes a top-level Chunk to completion, draining microtasks
// after each top-level-stack settlement the way a host event loop would
// between synchronous turns (spec.md §5 "Concurrency & Resource Model").
// Top-level bindings are declared in vm.Global, so they persist across
// RunProgram calls on the same VM.
func (vm *VM) RunProgram(chunk *bytecode.Chunk) (heap.Value, error) {
	frame := vm.newFrame(chunk, vm.Global, heap.Undefined, -1, nil)
	res, err := vm.runStack([]*Frame{frame}, nil)
	if err != nil {
		return heap.Undefined, err
	}
	vm.DrainMicrotasks()
	switch res.Outcome {
	case Thrown:
		return heap.Undefined, &ThrownError{Value: res.Value}
	default:
		return res.Value, nil
	}
}

// DrainMicrotasks runs queued promise reactions until the queue is empty
// (spec.md §4.6 "microtask queue", §5 "FIFO within a tick").
func (vm *VM) DrainMicrotasks() {
	for len(vm.microtasks) > 0 {
		task := vm.microtasks[0]
		vm.microtasks = vm.microtasks[1:]
		task()
	}
}

func (vm *VM) queueMicrotask(f func()) {
	vm.microtasks = append(vm.microtasks, f)
}

// maybeCollect triggers a GC cycle once the heap's allocation threshold is
// crossed, rooting every frame on the active call stack (spec.md §4.4
// "Triggers"). Cheap when under threshold: MaybeCollectFrames bails before
// building any root set.
func (vm *VM) maybeCollect(stack []*Frame) {
	if !vm.Heap.ShouldCollect() {
		return
	}
	scopes := make([]*heap.Scope, len(stack))
	var regs []heap.Value
	for i, f := range stack {
		scopes[i] = f.Scope
		regs = append(regs, f.Regs...)
	}
	vm.Heap.MaybeCollectFrames(scopes, regs)
}

func (vm *VM) newFrame(chunk *bytecode.Chunk, scope *heap.Scope, this heap.Value, destReg int32, caller *Frame) *Frame {
	if scope == nil {
		scope = heap.NewScope(vm.Global)
	}
	f := &Frame{
		Chunk:   chunk,
		Regs:    make([]heap.Value, chunk.RegisterCount),
		Scope:   scope,
		DestReg: destReg,
		Caller:  caller,
	}
	scope.Declare(vm.nThis, false, true).Value = this
	return f
}

// --- calling convention ---

// CallValue implements the abstract Call operation (spec.md §4.3): dispatch
// on whether callee is a native, bound, or bytecode function. callDepth is
// tracked here (not via frame-stack length, since nested bytecode calls run
// through Go-level recursion) so runaway recursion surfaces as a catchable
// RangeError instead of a host stack overflow (spec.md §5 "Resource limits").
func (vm *VM) CallValue(callee heap.Value, this heap.Value, args []heap.Value) (heap.Value, error) {
	if !callee.IsObject() {
		return heap.Undefined, vm.typeError("value is not callable")
	}
	if vm.callDepth >= MaxCallDepth {
		return heap.Undefined, vm.rangeError("Maximum call stack size exceeded")
	}
	vm.callDepth++
	defer func() { vm.callDepth-- }()
	obj := callee.AsObject()
	switch obj.Exotic {
	case heap.ExoticBoundFunction:
		bound := append(append([]heap.Value{}, obj.Bound.BoundArgs...), args...)
		return vm.CallValue(heap.Obj(obj.Bound.Target), obj.Bound.ThisBinding, bound)
	case heap.ExoticFunction:
		return vm.callFunctionObject(obj, this, args)
	default:
		return heap.Undefined, vm.typeError("value is not callable")
	}
}

func (vm *VM) callFunctionObject(obj *heap.Object, this heap.Value, args []heap.Value) (heap.Value, error) {
	fd := obj.Function
	if fd.Native != nil {
		return fd.Native(vm.Heap, this, args)
	}
	chunk, _ := fd.BodyChunk.(*bytecode.Chunk)
	if chunk == nil {
		return heap.Undefined, vm.typeError("function has no body")
	}
	scope := heap.NewScope(fd.ClosureEnv)
	frame := vm.newFrame(chunk, scope, this, -1, nil)
	vm.bindArgs(frame, chunk, args)

	if chunk.IsGenerator {
		kind := heap.GenSync
		if chunk.IsAsync {
			kind = heap.GenAsync
		}
		gen := vm.Heap.NewGenerator(nil, kind)
		gen.Generator.SavedFrame = &SavedFrame{Stack: []*Frame{frame}}
		return heap.Obj(gen), nil
	}
	if chunk.IsAsync {
		return vm.callAsync(frame)
	}

	res, err := vm.runStack([]*Frame{frame}, nil)
	if err != nil {
		return heap.Undefined, err
	}
	if res.Outcome == Thrown {
		return heap.Undefined, &ThrownError{Value: res.Value}
	}
	return res.Value, nil
}

// callAsync runs an async function's body up to its first await or
// completion, returning the Promise synchronously the way a real async
// function call does (spec.md §4.6).
func (vm *VM) callAsync(frame *Frame) (heap.Value, error) {
	p := vm.Heap.NewPromise(vm.Protos.Promise)
	onSettle := func(vm *VM, ok bool, val heap.Value) {
		if ok {
			vm.resolvePromise(p, val)
		} else {
			vm.rejectPromise(p, val)
		}
	}
	res, err := vm.runStack([]*Frame{frame}, onSettle)
	if err != nil {
		return heap.Undefined, err
	}
	switch res.Outcome {
	case Completed:
		vm.resolvePromise(p, res.Value)
	case Thrown:
		vm.rejectPromise(p, res.Value)
	case SuspendedAwait:
		// onSettle already carried onto the saved continuation by runStack.
	}
	return heap.Obj(p), nil
}

// bindArgs declares $$argN bindings the compiled prologue reads to
// populate parameter patterns (internal/compiler's compileFunctionExpr).
func (vm *VM) bindArgs(frame *Frame, chunk *bytecode.Chunk, args []heap.Value) {
	for i := 0; i < chunk.ParamCount || i < len(args); i++ {
		var v heap.Value = heap.Undefined
		if i < len(args) {
			v = args[i]
		}
		name := vm.Interner.Intern(fmt.Sprintf("$$arg%d", i))
		frame.Scope.Declare(name, false, true).Value = v
	}
}

// ConstructValue implements the abstract Construct operation (spec.md
// §4.3): allocates a fresh ordinary object linked to callee.prototype and
// calls callee with it as `this`, returning the object unless the
// constructor itself returned an Object (ECMAScript's own-result rule).
func (vm *VM) ConstructValue(callee heap.Value, args []heap.Value) (heap.Value, error) {
	if !callee.IsObject() || callee.AsObject().Exotic != heap.ExoticFunction {
		return heap.Undefined, vm.typeError("value is not a constructor")
	}
	fnObj := callee.AsObject()
	protoKey := heap.NameKey(vm.Interner.Intern("prototype"))
	var proto *heap.Object
	if p, ok := fnObj.GetOwn(protoKey); ok && p.Value.IsObject() {
		proto = p.Value.AsObject()
	} else {
		proto = vm.Protos.Object
	}
	inst := vm.Heap.NewObject(proto)
	this := heap.Obj(inst)
	result, err := vm.callFunctionObject(fnObj, this, args)
	if err != nil {
		return heap.Undefined, err
	}
	if result.IsObject() {
		return result, nil
	}
	return this, nil
}

func (vm *VM) typeError(msg string) error {
	return &ThrownError{Value: heap.Obj(vm.newErrorObject("TypeError", msg))}
}

func (vm *VM) rangeError(msg string) error {
	return &ThrownError{Value: heap.Obj(vm.newErrorObject("RangeError", msg))}
}

func (vm *VM) referenceError(msg string) error {
	return &ThrownError{Value: heap.Obj(vm.newErrorObject("ReferenceError", msg))}
}

func (vm *VM) newErrorObject(name, msg string) *heap.Object {
	o := vm.Heap.NewError(vm.Protos.Error, &heap.ErrorData{Name: name, Message: msg})
	o.DefineOwn(heap.NameKey(vm.nName), &heap.Property{Value: vm.strVal(name), Writable: true, Configurable: true})
	o.DefineOwn(heap.NameKey(vm.nMessage), &heap.Property{Value: vm.strVal(msg), Writable: true, Configurable: true})
	return o
}

func (vm *VM) strVal(s string) heap.Value { return heap.StringId(vm.Interner.Intern(s)) }

// StrVal, TypeErr and RangeErr expose string-boxing and error construction
// to stdlib glue (internal/runtime) building native functions.
func (vm *VM) StrVal(s string) heap.Value { return vm.strVal(s) }
func (vm *VM) TypeErr(msg string) error   { return vm.typeError(msg) }
func (vm *VM) RangeErr(msg string) error  { return vm.rangeError(msg) }

// --- the interpreter loop ---

// runStack drives stack (innermost frame last) until it empties (Completed
// with the bottom frame's return value), an exception escapes the bottom
// frame (Thrown), or execution suspends on await/yield (Suspended*).
// onSettle is carried onto any SavedFrame created by a suspension so an
// async function's eventual completion can resolve/reject its Promise no
// matter how many further awaits it takes to get there.
func (vm *VM) runStack(stack []*Frame, onSettle func(*VM, bool, heap.Value)) (RunResult, error) {
	for len(stack) > 0 {
		if len(stack) > MaxCallDepth {
			return RunResult{}, vm.rangeError("Maximum call stack size exceeded")
		}
		frame := stack[len(stack)-1]
		res, action, err := vm.step(frame)
		if err != nil {
			return RunResult{}, err
		}
		vm.maybeCollect(stack)
		switch action {
		case actionContinue:
		case actionReturn:
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return RunResult{Outcome: Completed, Value: res}, nil
			}
			caller := stack[len(stack)-1]
			if frame.DestReg >= 0 {
				caller.Regs[frame.DestReg] = res
			}
		case actionThrow:
			handled := false
			for len(stack) > 0 {
				f := stack[len(stack)-1]
				if len(f.TryStack) == 0 {
					stack = stack[:len(stack)-1]
					continue
				}
				tf := f.TryStack[len(f.TryStack)-1]
				f.TryStack = f.TryStack[:len(f.TryStack)-1]
				f.PC = int(tf.HandlerPC)
				f.Scope.Declare(vm.Interner.Intern("$$exception"), false, true).Value = res
				handled = true
				break
			}
			if !handled {
				return RunResult{Outcome: Thrown, Value: res}, nil
			}
		case actionAwait:
			saved := &SavedFrame{Stack: append([]*Frame{}, stack...), OnSettle: onSettle}
			vm.suspendOnAwait(saved, res)
			return RunResult{Outcome: SuspendedAwait, Saved: saved}, nil
		case actionYield, actionYieldStar:
			saved := &SavedFrame{Stack: append([]*Frame{}, stack...)}
			return RunResult{Outcome: SuspendedYield, Value: res, Saved: saved}, nil
		}
	}
	return RunResult{Outcome: Completed, Value: heap.Undefined}, nil
}

// suspendOnAwait registers a microtask-queued continuation on the awaited
// value's promise (or schedules one immediately if it's already a plain
// value / settled promise), per spec.md §4.6.
func (vm *VM) suspendOnAwait(saved *SavedFrame, awaited heap.Value) {
	resume := func(ok bool, val heap.Value) {
		stack := saved.Stack
		top := stack[len(stack)-1]
		dst := vm.lastAwaitDest(top)
		if ok {
			top.Regs[dst] = val
		} else {
			top.PC-- // re-enter the Await instruction's position won't retry; instead route to throw handling
		}
		var result RunResult
		var err error
		if ok {
			result, err = vm.runStack(stack, saved.OnSettle)
		} else {
			result, err = vm.runStackThrow(stack, val, saved.OnSettle)
		}
		if err != nil {
			return
		}
		switch result.Outcome {
		case Completed:
			if saved.OnSettle != nil {
				saved.OnSettle(vm, true, result.Value)
			}
		case Thrown:
			if saved.OnSettle != nil {
				saved.OnSettle(vm, false, result.Value)
			}
		}
	}

	if !awaited.IsObject() || awaited.AsObject().Exotic != heap.ExoticPromise {
		vm.queueMicrotask(func() { resume(true, awaited) })
		return
	}
	p := awaited.AsObject()
	switch p.Promise.State {
	case heap.PromiseFulfilled:
		v := p.Promise.Value
		vm.queueMicrotask(func() { resume(true, v) })
	case heap.PromiseRejected:
		v := p.Promise.Value
		vm.queueMicrotask(func() { resume(false, v) })
	default:
		vm.addReaction(p, func(ok bool, v heap.Value) { resume(ok, v) })
	}
}

// lastAwaitDest recovers the destination register of the OpAwait
// instruction that just suspended frame f (f.PC was left just past it).
func (vm *VM) lastAwaitDest(f *Frame) int32 {
	return f.Chunk.Code[f.PC-1].A
}

// runStackThrow resumes stack by throwing val into its top frame, used
// when an awaited promise rejects.
func (vm *VM) runStackThrow(stack []*Frame, val heap.Value, onSettle func(*VM, bool, heap.Value)) (RunResult, error) {
	top := stack[len(stack)-1]
	handled := false
	for len(top.TryStack) > 0 || len(stack) > 1 {
		if len(top.TryStack) > 0 {
			tf := top.TryStack[len(top.TryStack)-1]
			top.TryStack = top.TryStack[:len(top.TryStack)-1]
			top.PC = int(tf.HandlerPC)
			top.Scope.Declare(vm.Interner.Intern("$$exception"), false, true).Value = val
			handled = true
			break
		}
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			break
		}
		top = stack[len(stack)-1]
	}
	if !handled {
		return RunResult{Outcome: Thrown, Value: val}, nil
	}
	return vm.runStack(stack, onSettle)
}

// ResumeGenerator drives a generator's saved stack forward one step,
// implementing the .next()/.throw() host-facing protocol (spec.md §4.6).
func (vm *VM) ResumeGenerator(gen *heap.Object, sendValue heap.Value, sendErr error) (value heap.Value, done bool, err error) {
	gd := gen.Generator
	if gd.Done {
		return heap.Undefined, true, nil
	}
	saved, _ := gd.SavedFrame.(*SavedFrame)
	if saved == nil {
		gd.Done = true
		return heap.Undefined, true, nil
	}
	if gd.Started {
		top := saved.Stack[len(saved.Stack)-1]
		dst := vm.lastAwaitDest(top)
		top.Regs[dst] = sendValue
	}
	gd.Started = true

	var res RunResult
	if sendErr != nil {
		if te, ok := sendErr.(*ThrownError); ok {
			res, err = vm.runStackThrow(saved.Stack, te.Value, nil)
		} else {
			return heap.Undefined, true, sendErr
		}
	} else {
		res, err = vm.runStack(saved.Stack, nil)
	}
	if err != nil {
		gd.Done = true
		return heap.Undefined, true, err
	}
	switch res.Outcome {
	case Completed:
		gd.Done = true
		return res.Value, true, nil
	case Thrown:
		gd.Done = true
		return heap.Undefined, true, &ThrownError{Value: res.Value}
	case SuspendedYield:
		gd.SavedFrame = res.Saved
		return res.Value, false, nil
	case SuspendedAwait:
		// An async generator hit an inner await before its next yield;
		// park here and let the scheduled microtask drive it further.
		// Nothing in the repository calls ResumeGenerator: generator
		// objects are created with no prototype and carry no next().
		gd.SavedFrame = res.Saved
		return heap.Undefined, false, nil
	}
	return heap.Undefined, true, nil
}

type action int

const (
	actionContinue action = iota
	actionReturn
	actionThrow
	actionAwait
	actionYield
	actionYieldStar
)

// step executes instructions in frame until it returns, throws, awaits,
// yields, or halts (spec.md §4.3 "Virtual Machine" dispatch loop).
func (vm *VM) step(frame *Frame) (heap.Value, action, error) {
	for {
		if frame.PC >= len(frame.Chunk.Code) {
			return heap.Undefined, actionReturn, nil
		}
		if vm.Debugger != nil && vm.Debugger.ShouldPause(frame) {
			if !vm.Debugger.InteractivePrompt(frame) {
				return heap.Undefined, actionReturn, nil
			}
		}
		instr := frame.Chunk.Code[frame.PC]
		frame.PC++

		switch instr.Op {
		case bytecode.OpLoadInt:
			frame.Regs[instr.A] = heap.Number(float64(instr.B))
		case bytecode.OpLoadBool:
			frame.Regs[instr.A] = heap.Bool(instr.B != 0)
		case bytecode.OpLoadNull:
			frame.Regs[instr.A] = heap.Null
		case bytecode.OpLoadUndefined:
			frame.Regs[instr.A] = heap.Undefined
		case bytecode.OpLoadConst:
			frame.Regs[instr.A] = vm.loadConst(frame.Chunk, int(instr.B))
		case bytecode.OpMove:
			frame.Regs[instr.A] = frame.Regs[instr.B]

		case bytecode.OpDeclareVar:
			frame.Scope.Declare(intern.Id(instr.B), instr.A != 0, false)
		case bytecode.OpDeclareVarHoisted:
			frame.Scope.Declare(intern.Id(instr.A), true, true).Value = heap.Undefined
		case bytecode.OpGetVar:
			b, ok := frame.Scope.Resolve(intern.Id(instr.B))
			if !ok {
				name := vm.Interner.MustResolve(intern.Id(instr.B))
				return vm.throwValue(vm.referenceError(name + " is not defined"))
			}
			if !b.Initialized {
				v, act, err := vm.throwValue(vm.referenceError("Cannot access variable before initialization"))
				if err != nil {
					return heap.Undefined, 0, err
				}
				return v, act, nil
			}
			frame.Regs[instr.A] = b.Value
		case bytecode.OpSetVar:
			b, ok := frame.Scope.Resolve(intern.Id(instr.B))
			if !ok {
				b = frame.Scope.Declare(intern.Id(instr.B), true, true)
			}
			if !b.Mutable && b.Initialized {
				return vm.throwValue(vm.typeError("Assignment to constant variable."))
			}
			b.Value = frame.Regs[instr.A]
			b.Initialized = true
		case bytecode.OpPushScope:
			frame.Scope = heap.NewScope(frame.Scope)
		case bytecode.OpPopScope:
			if frame.Scope.Parent != nil {
				frame.Scope = frame.Scope.Parent
			}

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod, bytecode.OpExp,
			bytecode.OpBitAnd, bytecode.OpBitOr, bytecode.OpBitXor, bytecode.OpShl, bytecode.OpShr, bytecode.OpUShr:
			v, act, err := vm.binOp(instr.Op, frame.Regs[instr.B], frame.Regs[instr.C])
			if err != nil {
				return heap.Undefined, 0, err
			}
			if act == actionThrow {
				return v, act, nil
			}
			frame.Regs[instr.A] = v
		case bytecode.OpNeg:
			frame.Regs[instr.A] = heap.Number(-vm.toNumber(frame.Regs[instr.B]))
		case bytecode.OpBitNot:
			frame.Regs[instr.A] = heap.Number(float64(^toInt32(vm.toNumber(frame.Regs[instr.B]))))
		case bytecode.OpNot:
			frame.Regs[instr.A] = heap.Bool(!vm.toBoolean(frame.Regs[instr.B]))
		case bytecode.OpTypeof:
			frame.Regs[instr.A] = vm.strVal(vm.typeOf(frame.Regs[instr.B]))
		case bytecode.OpVoid:
			frame.Regs[instr.A] = heap.Undefined

		case bytecode.OpEq:
			frame.Regs[instr.A] = heap.Bool(vm.looseEqual(frame.Regs[instr.B], frame.Regs[instr.C]))
		case bytecode.OpNotEq:
			frame.Regs[instr.A] = heap.Bool(!vm.looseEqual(frame.Regs[instr.B], frame.Regs[instr.C]))
		case bytecode.OpStrictEq:
			frame.Regs[instr.A] = heap.Bool(heap.IsStrictlyEqual(frame.Regs[instr.B], frame.Regs[instr.C]))
		case bytecode.OpStrictNeq:
			frame.Regs[instr.A] = heap.Bool(!heap.IsStrictlyEqual(frame.Regs[instr.B], frame.Regs[instr.C]))
		case bytecode.OpLt, bytecode.OpGt, bytecode.OpLte, bytecode.OpGte:
			frame.Regs[instr.A] = heap.Bool(vm.relational(instr.Op, frame.Regs[instr.B], frame.Regs[instr.C]))
		case bytecode.OpInstanceOf:
			v, err := vm.instanceOf(frame.Regs[instr.B], frame.Regs[instr.C])
			if err != nil {
				return vm.throwValue(err)
			}
			frame.Regs[instr.A] = heap.Bool(v)
		case bytecode.OpIn:
			frame.Regs[instr.A] = heap.Bool(vm.hasProperty(frame.Regs[instr.C], vm.toPropertyKey(frame.Regs[instr.B])))

		case bytecode.OpJump:
			frame.PC = int(instr.B)
		case bytecode.OpJumpIfTrue:
			if vm.toBoolean(frame.Regs[instr.A]) {
				frame.PC = int(instr.B)
			}
		case bytecode.OpJumpIfFalse:
			if !vm.toBoolean(frame.Regs[instr.A]) {
				frame.PC = int(instr.B)
			}
		case bytecode.OpJumpIfNotNullish:
			if !frame.Regs[instr.A].IsNullish() {
				frame.PC = int(instr.B)
			}

		case bytecode.OpCreateObject:
			frame.Regs[instr.A] = heap.Obj(vm.Heap.NewObject(vm.Protos.Object))
		case bytecode.OpCreateArray:
			frame.Regs[instr.A] = heap.Obj(vm.Heap.NewArray(vm.Protos.Array))
		case bytecode.OpGetProperty:
			v, err := vm.getProperty(frame.Regs[instr.B], vm.toPropertyKey(frame.Regs[instr.C]))
			if err != nil {
				return vm.throwValue(err)
			}
			frame.Regs[instr.A] = v
		case bytecode.OpSetProperty:
			if err := vm.setProperty(frame.Regs[instr.B], vm.toPropertyKey(frame.Regs[instr.C]), frame.Regs[instr.A]); err != nil {
				return vm.throwValue(err)
			}
		case bytecode.OpGetPropertyConst:
			v, err := vm.getProperty(frame.Regs[instr.B], heap.NameKey(intern.Id(instr.C)))
			if err != nil {
				return vm.throwValue(err)
			}
			frame.Regs[instr.A] = v
		case bytecode.OpSetPropertyConst:
			if err := vm.setProperty(frame.Regs[instr.B], heap.NameKey(intern.Id(instr.C)), frame.Regs[instr.A]); err != nil {
				return vm.throwValue(err)
			}
		case bytecode.OpDeleteProperty:
			frame.Regs[instr.A] = heap.Bool(vm.deleteProperty(frame.Regs[instr.B], vm.toPropertyKey(frame.Regs[instr.C])))
		case bytecode.OpGetIndex:
			v, err := vm.getProperty(frame.Regs[instr.B], vm.toPropertyKey(frame.Regs[instr.C]))
			if err != nil {
				return vm.throwValue(err)
			}
			frame.Regs[instr.A] = v
		case bytecode.OpSetIndex:
			if err := vm.setProperty(frame.Regs[instr.B], vm.toPropertyKey(frame.Regs[instr.C]), frame.Regs[instr.A]); err != nil {
				return vm.throwValue(err)
			}

		case bytecode.OpCreateFunction:
			frame.Regs[instr.A] = vm.createFunction(frame, int(instr.B))
		case bytecode.OpCall:
			v, act, err := vm.doCall(frame, instr, false)
			if err != nil {
				return heap.Undefined, 0, err
			}
			if act == actionThrow {
				return v, act, nil
			}
			frame.Regs[instr.A] = v
		case bytecode.OpCallMethod:
			v, act, err := vm.doCall(frame, instr, true)
			if err != nil {
				return heap.Undefined, 0, err
			}
			if act == actionThrow {
				return v, act, nil
			}
			frame.Regs[instr.A] = v
		case bytecode.OpConstruct:
			argv := vm.collectArgs(frame, instr.C, instr.D)
			v, err := vm.ConstructValue(frame.Regs[instr.B], argv)
			if err != nil {
				return vm.throwValue(err)
			}
			frame.Regs[instr.A] = v
		case bytecode.OpReturn:
			var v heap.Value = heap.Undefined
			if instr.A >= 0 {
				v = frame.Regs[instr.A]
			}
			return v, actionReturn, nil
		case bytecode.OpAwait:
			return frame.Regs[instr.B], actionAwait, nil
		case bytecode.OpYield:
			var v heap.Value = heap.Undefined
			if instr.B >= 0 {
				v = frame.Regs[instr.B]
			}
			return v, actionYield, nil
		case bytecode.OpYieldStar:
			var v heap.Value = heap.Undefined
			if instr.B >= 0 {
				v = frame.Regs[instr.B]
			}
			return v, actionYieldStar, nil

		case bytecode.OpThrow:
			return frame.Regs[instr.A], actionThrow, nil
		case bytecode.OpPushTry:
			frame.TryStack = append(frame.TryStack, tryFrame{HandlerPC: instr.B, FinallyPC: instr.C})
		case bytecode.OpPopTry:
			if len(frame.TryStack) > 0 {
				frame.TryStack = frame.TryStack[:len(frame.TryStack)-1]
			}
		case bytecode.OpEndFinally:
			// Normal fallthrough: nothing pending to resume (simplified
			// finally-reentry model, SPEC_FULL.md §6 Open Questions).

		case bytecode.OpGetIterator:
			v, err := vm.getIterator(frame.Regs[instr.B], instr.C)
			if err != nil {
				return vm.throwValue(err)
			}
			frame.Regs[instr.A] = v
		case bytecode.OpIteratorNext:
			v, err := vm.iteratorNext(frame.Regs[instr.B])
			if err != nil {
				return vm.throwValue(err)
			}
			frame.Regs[instr.A] = v
		case bytecode.OpIteratorClose:
			vm.iteratorClose(frame.Regs[instr.B], instr.C == int32(bytecode.CloseAbrupt))

		case bytecode.OpHalt:
			return heap.Undefined, actionReturn, nil
		default:
			pos := frame.Chunk.PosOf(frame.PC - 1)
			return heap.Undefined, 0, newRuntimeError(
				fmt.Sprintf("unimplemented opcode %s", instr.Op),
				[]StackFrame{{Name: frame.Chunk.Name, IP: frame.PC - 1, SourceLine: pos.Line, SourceCol: pos.Column}},
			)
		}
	}
}

func (vm *VM) throwValue(err error) (heap.Value, action, error) {
	if te, ok := err.(*ThrownError); ok {
		return te.Value, actionThrow, nil
	}
	return heap.Undefined, 0, err
}

func (vm *VM) loadConst(chunk *bytecode.Chunk, idx int) heap.Value {
	k := chunk.Constants[idx]
	switch k.Kind {
	case bytecode.ConstNumber:
		return heap.Number(k.Number)
	case bytecode.ConstString:
		return vm.strVal(k.Str)
	default:
		return heap.Undefined
	}
}

func (vm *VM) createFunction(frame *Frame, constIdx int) heap.Value {
	k := frame.Chunk.Constants[constIdx]
	fd := &heap.FunctionData{
		Kind:        heap.FuncNormal,
		Name:        k.Chunk.Name,
		ParamCount:  k.Chunk.ParamCount,
		ClosureEnv:  frame.Scope,
		BodyChunk:   k.Chunk,
		IsGenerator: k.Chunk.IsGenerator,
		IsAsync:     k.Chunk.IsAsync,
	}
	fnObj := vm.Heap.NewFunction(vm.Protos.Function, fd)
	proto := vm.Heap.NewObject(vm.Protos.Object)
	proto.DefineOwn(heap.NameKey(vm.Interner.Intern("constructor")), &heap.Property{Value: heap.Obj(fnObj), Writable: true, Configurable: true})
	fnObj.DefineOwn(heap.NameKey(vm.Interner.Intern("prototype")), &heap.Property{Value: heap.Obj(proto), Writable: true})
	fnObj.DefineOwn(heap.NameKey(vm.nLength), &heap.Property{Value: heap.Number(float64(fd.ParamCount)), Configurable: true})
	fnObj.DefineOwn(heap.NameKey(vm.nName), &heap.Property{Value: vm.strVal(fd.Name), Configurable: true})
	return heap.Obj(fnObj)
}

func (vm *VM) collectArgs(frame *Frame, base, count int32) []heap.Value {
	out := make([]heap.Value, count)
	for i := int32(0); i < count; i++ {
		out[i] = frame.Regs[base+i]
	}
	return out
}

// doCall handles both OpCall (method=false) and OpCallMethod (method=true,
// using the register-before-argv_base calling convention documented on
// bytecode.OpCallMethod).
func (vm *VM) doCall(frame *Frame, instr bytecode.Instr, method bool) (heap.Value, action, error) {
	var callee heap.Value
	var this heap.Value
	if method {
		this = frame.Regs[instr.B]
		callee = frame.Regs[instr.C-1]
	} else {
		callee = frame.Regs[instr.B]
		this = heap.Undefined
	}
	args := vm.collectArgs(frame, instr.C, instr.D)
	v, err := vm.CallValue(callee, this, args)
	if err != nil {
		v, act, err2 := vm.throwValue(err)
		return v, act, err2
	}
	return v, actionContinue, nil
}

// --- abstract operations (spec.md §4.3 "Arithmetic follows ECMAScript
// abstract operations", §8) ---

func (vm *VM) toNumber(v heap.Value) float64 {
	switch v.Kind() {
	case heap.KindNumber:
		return v.AsNumber()
	case heap.KindBoolean:
		if v.AsBool() {
			return 1
		}
		return 0
	case heap.KindNull:
		return 0
	case heap.KindUndefined:
		return math.NaN()
	case heap.KindString:
		return parseNumericString(vm.Interner.MustResolve(v.AsStringId()))
	default:
		return math.NaN()
	}
}

func parseNumericString(s string) float64 {
	if s == "" {
		return 0
	}
	var f float64
	n, err := fmt.Sscanf(s, "%g", &f)
	if err != nil || n != 1 {
		return math.NaN()
	}
	return f
}

func toInt32(f float64) int32 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int32(int64(f))
}

func (vm *VM) toBoolean(v heap.Value) bool {
	if v.IsString() {
		return vm.Interner.MustResolve(v.AsStringId()) != ""
	}
	return v.ToBoolean()
}

func (vm *VM) toStringValue(v heap.Value) string {
	switch v.Kind() {
	case heap.KindString:
		return vm.Interner.MustResolve(v.AsStringId())
	case heap.KindNumber:
		return formatNumber(v.AsNumber())
	case heap.KindBoolean:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case heap.KindNull:
		return "null"
	case heap.KindUndefined:
		return "undefined"
	case heap.KindObject:
		return "[object Object]"
	case heap.KindSymbol:
		return "Symbol()"
	}
	return ""
}

func formatNumber(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1e21 {
		return fmt.Sprintf("%.0f", f)
	}
	return fmt.Sprintf("%g", f)
}

func (vm *VM) typeOf(v heap.Value) string {
	switch v.Kind() {
	case heap.KindUndefined:
		return "undefined"
	case heap.KindNull:
		return "object"
	case heap.KindBoolean:
		return "boolean"
	case heap.KindNumber:
		return "number"
	case heap.KindString:
		return "string"
	case heap.KindSymbol:
		return "symbol"
	case heap.KindObject:
		if v.AsObject().Exotic == heap.ExoticFunction || v.AsObject().Exotic == heap.ExoticBoundFunction {
			return "function"
		}
		return "object"
	}
	return "undefined"
}

func (vm *VM) binOp(op bytecode.Op, l, r heap.Value) (heap.Value, action, error) {
	if op == bytecode.OpAdd && (l.IsString() || r.IsString()) {
		return vm.strVal(vm.toStringValue(l) + vm.toStringValue(r)), actionContinue, nil
	}
	a, b := vm.toNumber(l), vm.toNumber(r)
	switch op {
	case bytecode.OpAdd:
		return heap.Number(a + b), actionContinue, nil
	case bytecode.OpSub:
		return heap.Number(a - b), actionContinue, nil
	case bytecode.OpMul:
		return heap.Number(a * b), actionContinue, nil
	case bytecode.OpDiv:
		return heap.Number(a / b), actionContinue, nil
	case bytecode.OpMod:
		return heap.Number(math.Mod(a, b)), actionContinue, nil
	case bytecode.OpExp:
		return heap.Number(math.Pow(a, b)), actionContinue, nil
	case bytecode.OpBitAnd:
		return heap.Number(float64(toInt32(a) & toInt32(b))), actionContinue, nil
	case bytecode.OpBitOr:
		return heap.Number(float64(toInt32(a) | toInt32(b))), actionContinue, nil
	case bytecode.OpBitXor:
		return heap.Number(float64(toInt32(a) ^ toInt32(b))), actionContinue, nil
	case bytecode.OpShl:
		return heap.Number(float64(toInt32(a) << (uint32(toInt32(b)) & 31))), actionContinue, nil
	case bytecode.OpShr:
		return heap.Number(float64(toInt32(a) >> (uint32(toInt32(b)) & 31))), actionContinue, nil
	case bytecode.OpUShr:
		return heap.Number(float64(uint32(toInt32(a)) >> (uint32(toInt32(b)) & 31))), actionContinue, nil
	}
	return heap.Undefined, actionContinue, fmt.Errorf("vm: bad binop %s", op)
}

func (vm *VM) relational(op bytecode.Op, l, r heap.Value) bool {
	if l.IsString() && r.IsString() {
		ls, rs := vm.Interner.MustResolve(l.AsStringId()), vm.Interner.MustResolve(r.AsStringId())
		switch op {
		case bytecode.OpLt:
			return ls < rs
		case bytecode.OpGt:
			return ls > rs
		case bytecode.OpLte:
			return ls <= rs
		case bytecode.OpGte:
			return ls >= rs
		}
	}
	a, b := vm.toNumber(l), vm.toNumber(r)
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	switch op {
	case bytecode.OpLt:
		return a < b
	case bytecode.OpGt:
		return a > b
	case bytecode.OpLte:
		return a <= b
	case bytecode.OpGte:
		return a >= b
	}
	return false
}

// looseEqual implements the ECMAScript Abstract Equality Comparison
// (spec.md §4.3/§8), restricted to the primitive/object coercions this
// subset's Value kinds need.
func (vm *VM) looseEqual(a, b heap.Value) bool {
	if a.Kind() == b.Kind() {
		return heap.IsStrictlyEqual(a, b)
	}
	if a.IsNullish() && b.IsNullish() {
		return true
	}
	if a.IsNullish() || b.IsNullish() {
		return false
	}
	if a.IsNumber() && b.IsString() {
		return a.AsNumber() == vm.toNumber(b)
	}
	if a.IsString() && b.IsNumber() {
		return vm.toNumber(a) == b.AsNumber()
	}
	if a.IsBoolean() {
		return vm.looseEqual(heap.Number(vm.toNumber(a)), b)
	}
	if b.IsBoolean() {
		return vm.looseEqual(a, heap.Number(vm.toNumber(b)))
	}
	return false
}

func (vm *VM) instanceOf(value, ctor heap.Value) (bool, error) {
	if !ctor.IsObject() || ctor.AsObject().Exotic != heap.ExoticFunction {
		return false, vm.typeError("Right-hand side of 'instanceof' is not callable")
	}
	if !value.IsObject() {
		return false, nil
	}
	protoKey := heap.NameKey(vm.Interner.Intern("prototype"))
	p, ok := ctor.AsObject().GetOwn(protoKey)
	if !ok || !p.Value.IsObject() {
		return false, nil
	}
	target := p.Value.AsObject()
	cur := value.AsObject().Prototype
	for cur != nil {
		if cur == target {
			return true, nil
		}
		cur = cur.Prototype
	}
	return false, nil
}

func (vm *VM) toPropertyKey(v heap.Value) heap.PropertyKey {
	switch v.Kind() {
	case heap.KindSymbol:
		return heap.SymbolKey(v.AsSymbol())
	case heap.KindNumber:
		n := v.AsNumber()
		if n >= 0 && n == math.Trunc(n) {
			return heap.IndexKey(uint32(n))
		}
		return heap.StringKey(vm.Interner.Intern(formatNumber(n)))
	case heap.KindString:
		return heap.StringKey(v.AsStringId())
	default:
		return heap.StringKey(vm.Interner.Intern(vm.toStringValue(v)))
	}
}

func (vm *VM) getProperty(obj heap.Value, key heap.PropertyKey) (heap.Value, error) {
	if !obj.IsObject() {
		if obj.IsString() && key.Kind == heap.PropKeyString && vm.Interner.MustResolve(key.Str) == "length" {
			return heap.Number(float64(len([]rune(vm.Interner.MustResolve(obj.AsStringId()))))), nil
		}
		if obj.IsNullish() {
			return heap.Undefined, vm.typeError("Cannot read properties of " + vm.toStringValue(obj))
		}
		return heap.Undefined, nil
	}
	o := obj.AsObject()
	if o.Exotic == heap.ExoticArray && key.Kind == heap.PropKeyString && vm.Interner.MustResolve(key.Str) == "length" {
		return heap.Number(float64(o.Array.Length)), nil
	}
	p, owner := o.Lookup(key)
	if p == nil {
		return heap.Undefined, nil
	}
	if p.IsAccessor() {
		if p.Getter == nil {
			return heap.Undefined, nil
		}
		return vm.CallValue(heap.Obj(p.Getter), obj, nil)
	}
	_ = owner
	return p.Value, nil
}

func (vm *VM) setProperty(obj heap.Value, key heap.PropertyKey, val heap.Value) error {
	if !obj.IsObject() {
		return nil
	}
	o := obj.AsObject()
	if o.Exotic == heap.ExoticArray && key.Kind == heap.PropKeyString && vm.Interner.MustResolve(key.Str) == "length" {
		o.SetArrayLength(uint32(vm.toNumber(val)))
		return nil
	}
	if p, _ := o.Lookup(key); p != nil && p.IsAccessor() {
		if p.Setter == nil {
			return nil
		}
		_, err := vm.CallValue(heap.Obj(p.Setter), obj, []heap.Value{val})
		return err
	}
	o.DefineOwn(key, &heap.Property{Value: val, Writable: true, Enumerable: true, Configurable: true})
	return nil
}

func (vm *VM) deleteProperty(obj heap.Value, key heap.PropertyKey) bool {
	if !obj.IsObject() {
		return true
	}
	return obj.AsObject().DeleteOwn(key)
}

func (vm *VM) hasProperty(obj heap.Value, key heap.PropertyKey) bool {
	if !obj.IsObject() {
		return false
	}
	p, _ := obj.AsObject().Lookup(key)
	return p != nil
}

// --- iterator protocol (spec.md §4.5) ---

func (vm *VM) nativeFn(name string, fn heap.NativeFunc) *heap.Object {
	return vm.Heap.NewFunction(vm.Protos.Function, &heap.FunctionData{Kind: heap.FuncNormal, Name: name, Native: fn})
}

// NewNativeFunction is the host-facing (internal/runtime) entry point for
// installing stdlib globals backed by Go code rather than compiled
// bytecode (spec.md §6).
func (vm *VM) NewNativeFunction(name string, fn heap.NativeFunc) *heap.Object {
	return vm.nativeFn(name, fn)
}

// DefineGlobal installs a top-level var binding, for stdlib wiring.
func (vm *VM) DefineGlobal(name string, v heap.Value) {
	vm.Global.Declare(vm.Interner.Intern(name), true, true).Value = v
}

// ToStringValue exposes the VM's ToString abstract operation to stdlib glue
// (e.g. String(x), template coercion done outside compiled bytecode).
func (vm *VM) ToStringValue(v heap.Value) string { return vm.toStringValue(v) }

// ToNumberValue exposes the VM's ToNumber abstract operation to stdlib glue.
func (vm *VM) ToNumberValue(v heap.Value) float64 { return vm.toNumber(v) }

// PropertyKeyOf exposes ToPropertyKey to stdlib glue building keys from
// native args.
func (vm *VM) PropertyKeyOf(v heap.Value) heap.PropertyKey { return vm.toPropertyKey(v) }

// GetProp / SetProp expose property get/set to stdlib glue.
func (vm *VM) GetProp(obj heap.Value, key heap.PropertyKey) (heap.Value, error) {
	return vm.getProperty(obj, key)
}
func (vm *VM) SetProp(obj heap.Value, key heap.PropertyKey, val heap.Value) error {
	return vm.setProperty(obj, key, val)
}

func (vm *VM) iterResult(val heap.Value, done bool) heap.Value {
	o := vm.Heap.NewObject(vm.Protos.Object)
	o.DefineOwn(heap.NameKey(vm.nValue), &heap.Property{Value: val, Writable: true, Enumerable: true, Configurable: true})
	o.DefineOwn(heap.NameKey(vm.nDone), &heap.Property{Value: heap.Bool(done), Writable: true, Enumerable: true, Configurable: true})
	return heap.Obj(o)
}

func (vm *VM) getIterator(src heap.Value, kind int32) (heap.Value, error) {
	if kind != 2 && src.IsObject() {
		symKey := vm.WellKnown.Iterator
		if kind == int32(bytecode.IterAsync) {
			symKey = vm.WellKnown.AsyncIterator
		}
		if p, _ := src.AsObject().Lookup(heap.SymbolKey(symKey)); p != nil {
			return vm.CallValue(p.Value, src, nil)
		}
	}
	iterObj := vm.Heap.NewObject(vm.Protos.Iterator)
	switch {
	case kind == 2 && src.IsObject():
		keys := src.AsObject().OwnKeys()
		idx := 0
		iterObj.DefineOwn(heap.NameKey(vm.nNext), &heap.Property{Value: heap.Obj(vm.nativeFn("next", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
			for idx < len(keys) {
				k := keys[idx]
				idx++
				if p, ok := src.AsObject().GetOwn(k); !ok || !p.Enumerable {
					continue
				}
				if k.Kind == heap.PropKeyString {
					return vm.iterResult(vm.strVal(vm.Interner.MustResolve(k.Str)), false), nil
				}
				if k.Kind == heap.PropKeyIndex {
					return vm.iterResult(vm.strVal(formatNumber(float64(k.Index))), false), nil
				}
			}
			return vm.iterResult(heap.Undefined, true), nil
		}))})
	case src.IsObject() && src.AsObject().Exotic == heap.ExoticArray:
		arr := src.AsObject()
		idx := uint32(0)
		iterObj.DefineOwn(heap.NameKey(vm.nNext), &heap.Property{Value: heap.Obj(vm.nativeFn("next", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
			if idx >= arr.Array.Length {
				return vm.iterResult(heap.Undefined, true), nil
			}
			v, _ := arr.GetOwn(heap.IndexKey(idx))
			idx++
			if v == nil {
				return vm.iterResult(heap.Undefined, false), nil
			}
			return vm.iterResult(v.Value, false), nil
		}))})
	case src.IsObject() && src.AsObject().Exotic == heap.ExoticMap:
		m := src.AsObject().Map
		idx := 0
		iterObj.DefineOwn(heap.NameKey(vm.nNext), &heap.Property{Value: heap.Obj(vm.nativeFn("next", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
			for idx < len(m.Entries) {
				e := m.Entries[idx]
				idx++
				if e.Deleted {
					continue
				}
				pair := vm.Heap.NewArray(vm.Protos.Array)
				pair.DefineOwn(heap.IndexKey(0), &heap.Property{Value: e.Key, Writable: true, Enumerable: true, Configurable: true})
				pair.DefineOwn(heap.IndexKey(1), &heap.Property{Value: e.Value, Writable: true, Enumerable: true, Configurable: true})
				return vm.iterResult(heap.Obj(pair), false), nil
			}
			return vm.iterResult(heap.Undefined, true), nil
		}))})
	case src.IsObject() && src.AsObject().Exotic == heap.ExoticSet:
		s := src.AsObject().Set
		idx := 0
		iterObj.DefineOwn(heap.NameKey(vm.nNext), &heap.Property{Value: heap.Obj(vm.nativeFn("next", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
			for idx < len(s.Members) {
				e := s.Members[idx]
				idx++
				if e.Deleted {
					continue
				}
				return vm.iterResult(e.Key, false), nil
			}
			return vm.iterResult(heap.Undefined, true), nil
		}))})
	case src.IsString():
		runes := []rune(vm.Interner.MustResolve(src.AsStringId()))
		idx := 0
		iterObj.DefineOwn(heap.NameKey(vm.nNext), &heap.Property{Value: heap.Obj(vm.nativeFn("next", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
			if idx >= len(runes) {
				return vm.iterResult(heap.Undefined, true), nil
			}
			r := runes[idx]
			idx++
			return vm.iterResult(vm.strVal(string(r)), false), nil
		}))})
	default:
		return heap.Undefined, vm.typeError("value is not iterable")
	}
	return heap.Obj(iterObj), nil
}

func (vm *VM) iteratorNext(iter heap.Value) (heap.Value, error) {
	if !iter.IsObject() {
		return heap.Undefined, vm.typeError("iterator is not an object")
	}
	p, _ := iter.AsObject().Lookup(heap.NameKey(vm.nNext))
	if p == nil {
		return heap.Undefined, vm.typeError("iterator has no next method")
	}
	return vm.CallValue(p.Value, iter, nil)
}

func (vm *VM) iteratorClose(iter heap.Value, abrupt bool) {
	if !abrupt || !iter.IsObject() {
		return
	}
	retKey := heap.NameKey(vm.Interner.Intern("return"))
	if p, _ := iter.AsObject().Lookup(retKey); p != nil {
		vm.CallValue(p.Value, iter, nil)
	}
}

// --- promises (spec.md §4.6) ---

func (vm *VM) addReaction(p *heap.Object, cb func(ok bool, v heap.Value)) {
	onFulfilled := vm.nativeFn("", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		var v heap.Value
		if len(args) > 0 {
			v = args[0]
		}
		cb(true, v)
		return heap.Undefined, nil
	})
	onRejected := vm.nativeFn("", func(h *heap.Heap, this heap.Value, args []heap.Value) (heap.Value, error) {
		var v heap.Value
		if len(args) > 0 {
			v = args[0]
		}
		cb(false, v)
		return heap.Undefined, nil
	})
	vm.registerThen(p, onFulfilled, onRejected, nil)
}

// registerThen implements Promise.prototype.then's reaction bookkeeping
// (spec.md §3 "Reaction", §4.6 FIFO firing). resultPromise may be nil for
// internal (non-observable) reactions like await continuations.
func (vm *VM) registerThen(p *heap.Object, onFulfilled, onRejected *heap.Object, resultPromise *heap.Object) {
	r := heap.Reaction{OnFulfilled: onFulfilled, OnRejected: onRejected, ResultPromise: resultPromise}
	switch p.Promise.State {
	case heap.PromisePending:
		p.Promise.FulfillReactions = append(p.Promise.FulfillReactions, r)
		p.Promise.RejectReactions = append(p.Promise.RejectReactions, r)
	case heap.PromiseFulfilled:
		vm.queueMicrotask(func() { vm.fireReaction(r, true, p.Promise.Value) })
	case heap.PromiseRejected:
		vm.queueMicrotask(func() { vm.fireReaction(r, false, p.Promise.Value) })
	}
}

func (vm *VM) fireReaction(r heap.Reaction, fulfilled bool, value heap.Value) {
	var handler *heap.Object
	if fulfilled {
		handler = r.OnFulfilled
	} else {
		handler = r.OnRejected
	}
	if handler == nil {
		if r.ResultPromise != nil {
			if fulfilled {
				vm.resolvePromise(r.ResultPromise, value)
			} else {
				vm.rejectPromise(r.ResultPromise, value)
			}
		}
		return
	}
	result, err := vm.CallValue(heap.Obj(handler), heap.Undefined, []heap.Value{value})
	if r.ResultPromise == nil {
		return
	}
	if err != nil {
		if te, ok := err.(*ThrownError); ok {
			vm.rejectPromise(r.ResultPromise, te.Value)
		}
		return
	}
	vm.resolvePromise(r.ResultPromise, result)
}

// resolvePromise implements the Promise Resolve algorithm restricted to
// plain values and thenables produced by this VM (spec.md §3 Invariant 3).
func (vm *VM) resolvePromise(p *heap.Object, value heap.Value) {
	if p.Promise.State != heap.PromisePending {
		return
	}
	if value.IsObject() && value.AsObject().Exotic == heap.ExoticPromise {
		inner := value.AsObject()
		vm.addReaction(inner, func(ok bool, v heap.Value) {
			if ok {
				vm.resolvePromise(p, v)
			} else {
				vm.rejectPromise(p, v)
			}
		})
		return
	}
	p.Promise.State = heap.PromiseFulfilled
	p.Promise.Value = value
	vm.settleReactions(p, true)
}

func (vm *VM) rejectPromise(p *heap.Object, reason heap.Value) {
	if p.Promise.State != heap.PromisePending {
		return
	}
	p.Promise.State = heap.PromiseRejected
	p.Promise.Value = reason
	vm.settleReactions(p, false)
}

func (vm *VM) settleReactions(p *heap.Object, fulfilled bool) {
	var reactions []heap.Reaction
	if fulfilled {
		reactions = p.Promise.FulfillReactions
	} else {
		reactions = p.Promise.RejectReactions
	}
	p.Promise.FulfillReactions = nil
	p.Promise.RejectReactions = nil
	for _, r := range reactions {
		r := r
		vm.queueMicrotask(func() { vm.fireReaction(r, fulfilled, p.Promise.Value) })
	}
}

// ResolvePromise and RejectPromise expose the settlement algorithms to the
// stdlib's `new Promise(executor)` constructor glue.
func (vm *VM) ResolvePromise(p *heap.Object, value heap.Value) { vm.resolvePromise(p, value) }
func (vm *VM) RejectPromise(p *heap.Object, reason heap.Value) { vm.rejectPromise(p, reason) }

// Then implements the Promise.prototype.then entry point for stdlib glue
// (internal/runtime wires this to the global Promise prototype).
func (vm *VM) Then(p *heap.Object, onFulfilled, onRejected *heap.Object) *heap.Object {
	result := vm.Heap.NewPromise(vm.Protos.Promise)
	vm.registerThen(p, onFulfilled, onRejected, result)
	return result
}
