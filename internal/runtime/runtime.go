// Package runtime is the embeddable facade spec.md §6 describes: it owns a
// Heap/VM pair, wires the platform capabilities and stdlib globals, and
// exposes Eval/Compile/ProvideModule/DrainMicrotasks on top of
// internal/vm's lower-level RunProgram. Within this package only
// config.go (os.ReadFile in LoadConfig) and logging.go (os.Stderr) use os;
// everything else reaches the host through the platform capabilities.
package runtime

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/kristofer/smogjs/internal/bytecode"
	"github.com/kristofer/smogjs/internal/compiler"
	"github.com/kristofer/smogjs/internal/heap"
	"github.com/kristofer/smogjs/internal/intern"
	"github.com/kristofer/smogjs/internal/parser"
	"github.com/kristofer/smogjs/internal/platform"
	"github.com/kristofer/smogjs/internal/vm"
)

// Runtime bundles everything a host needs to evaluate script text and drive
// suspended async/generator state to completion (spec.md §4.6, §6).
type Runtime struct {
	Heap     *heap.Heap
	Interner *intern.Table
	VM       *vm.VM
	Caps     *platform.Capabilities
	Log      zerolog.Logger

	// pendingModules maps import specifiers to pending imports.
	// ProvideModule removes a specifier's entry; nothing in this package
	// adds entries.
	pendingModules map[string]*pendingImport
}

type pendingImport struct {
	resolve func(vm.RunResult)
}

// StepResult describes what a host does next after an evaluation step
// (spec.md §6 "host resumption API"). No function in this package returns
// one: Eval returns a value and an error directly.
type StepResult struct {
	Kind    StepKind
	Value   heap.Value
	Err     error
	Imports []string // specifiers to resolve, when Kind == NeedImports
}

type StepKind int

const (
	StepDone StepKind = iota
	StepError
	StepNeedImports
)

// New constructs a Runtime with the given capabilities (use platform.Default()
// for a std-backed embedding) and a fresh Heap/VM pair with the default GC
// threshold.
func New(caps *platform.Capabilities) *Runtime {
	if caps == nil {
		caps = platform.Default()
	}
	h := heap.New()
	tbl := intern.New()
	v := vm.New(h, tbl)
	r := &Runtime{
		Heap:           h,
		Interner:       tbl,
		VM:             v,
		Caps:           caps,
		Log:            zerolog.Nop(),
		pendingModules: make(map[string]*pendingImport),
	}
	installGlobals(r)
	return r
}

// Configure applies a loaded Config's GC threshold and log level (see
// config.go). Its MaxCallDepth and TimeoutMs are not applied: the VM's
// call-depth limit is the fixed vm.MaxCallDepth, and evaluation has no
// timeout.
func (r *Runtime) Configure(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.GCThreshold > 0 {
		r.Heap.SetThreshold(cfg.GCThreshold)
	}
	r.Log = NewLogger(cfg.LogLevel)
}

// Eval compiles and runs source to completion, draining microtasks as it
// goes (spec.md §4.6). This is the only evaluation entry point; the package
// has no step-wise API for observing suspension mid-flight.
func (r *Runtime) Eval(source string) (heap.Value, error) {
	chunk, err := r.Compile(source)
	if err != nil {
		return heap.Undefined, err
	}
	id := uuid.New()
	r.Log.Debug().Str("eval_id", id.String()).Int("instructions", len(chunk.Code)).Msg("eval start")
	val, err := r.VM.RunProgram(chunk)
	if err != nil {
		r.Log.Debug().Str("eval_id", id.String()).Err(err).Msg("eval threw")
		return heap.Undefined, err
	}
	r.Log.Debug().Str("eval_id", id.String()).Msg("eval complete")
	return val, nil
}

// Compile runs the lexer/parser/compiler pipeline over source, wrapping
// failures with github.com/pkg/errors context so a host-internal fault
// (bad bytecode, compiler panic) carries a stack trace distinct from a
// JS-level thrown Value (SPEC_FULL.md §1 "two error universes").
func (r *Runtime) Compile(source string) (*bytecode.Chunk, error) {
	prog, err := parser.Parse(source)
	if err != nil {
		return nil, errors.Wrap(err, "parse error")
	}
	c := compiler.New(r.Interner)
	chunk, err := c.CompileProgram(prog)
	if err != nil {
		return nil, errors.Wrap(err, "compile error")
	}
	return chunk, nil
}

// ProvideModule compiles and evaluates source, the text of the module named
// by specifier, as its own top-level program and returns its completion
// value (module namespace objects are out of scope for this subset). It
// does not resume any suspended frame and does not settle the promise of
// an import() call: the compiler lowers import(x) to an await of x itself.
func (r *Runtime) ProvideModule(specifier, source string) (heap.Value, error) {
	delete(r.pendingModules, specifier)
	return r.Eval(source)
}

// DrainMicrotasks runs every queued promise reaction to completion, for
// hosts driving their own event loop tick-by-tick.
func (r *Runtime) DrainMicrotasks() {
	r.VM.DrainMicrotasks()
}

// NewError is a host-facing convenience for constructing a JS Error value.
func (r *Runtime) NewError(name, message string) heap.Value {
	return heap.Obj(r.Heap.NewError(r.VM.Protos.Error, &heap.ErrorData{Name: name, Message: message}))
}

// Stringify renders v the way a REPL echoes a completion value.
func (r *Runtime) Stringify(v heap.Value) string {
	switch v.Kind() {
	case heap.KindString:
		s, _ := r.Interner.Resolve(v.AsStringId())
		return fmt.Sprintf("%q", s)
	case heap.KindObject:
		return stringifyObject(r, v.AsObject(), make(map[*heap.Object]bool))
	default:
		return r.VM.DebugValue(v)
	}
}
