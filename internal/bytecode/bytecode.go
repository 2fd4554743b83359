// Package bytecode defines the register-oriented bytecode format the compiler
// emits and the VM executes.
//
// A BytecodeChunk is immutable once compiled: a flat instruction stream, a
// deduplicated constant pool, a parallel source map, and a register count.
// Nested function/arrow/generator bodies are compiled to their own child
// Chunk and referenced by the parent through a ChildChunk constant so the
// VM can materialise a closure with CreateFunction without re-walking the
// AST (spec.md §4.2).
//
// Instructions follow a three-address, register-operand shape: most ops
// name a destination register plus up to two source operands. Operands are
// instruction-local slot indices into the owning Frame's register file, not
// stack offsets — there is no operand stack. This departs from the teacher
// repo's stack-machine bytecode (PUSH/POP/SEND) because spec.md §4.2
// prescribes three-address register form; the opcode-table-with-doc-comment
// style and the iota-with-category-banners layout are kept from it.
package bytecode

import "github.com/kristofer/smogjs/internal/intern"

// Reg is a register index within a Frame's register file.
type Reg = int32

// Op is the opcode tag. Instructions are fixed-width; operand meaning is
// documented per opcode below.
type Op byte

const (
	// === Loads ===

	// OpLoadInt loads a small integer literal directly, without a constant
	// pool lookup. A=dst, B=value (as int32, sign-extended to float64 by the VM).
	OpLoadInt Op = iota
	// OpLoadBool loads a boolean literal. A=dst, B=0|1.
	OpLoadBool
	// OpLoadNull sets a register to Null. A=dst.
	OpLoadNull
	// OpLoadUndefined sets a register to Undefined. A=dst.
	OpLoadUndefined
	// OpLoadConst loads constants[B] into register A.
	OpLoadConst
	// OpMove copies register B into register A verbatim (no coercion),
	// used by the compiler to join two-branch expression results into one
	// destination register (e.g. ?:, ||, &&, ??).
	OpMove

	// === Environment ===

	// OpDeclareVar declares a block-scoped let/const binding in the
	// current scope. A=mutable(0|1), B=name id. TDZ: reads before this
	// executes throw ReferenceError (see VM.GetVar).
	OpDeclareVar
	// OpDeclareVarHoisted declares a function-scoped var binding. A=name id.
	// The compiler does not emit it: var declarations compile to
	// OpDeclareVar in the current scope and are not hoisted.
	OpDeclareVarHoisted
	// OpGetVar resolves B=name id through the scope chain into register A.
	OpGetVar
	// OpSetVar stores register A into the binding named by name id B,
	// walking the scope chain; throws TypeError if the binding is a
	// non-writable const.
	OpSetVar
	// OpPushScope pushes a new block-scope environment record.
	OpPushScope
	// OpPopScope pops the innermost block-scope environment record.
	OpPopScope

	// === Arithmetic & logic ===

	OpAdd // A=dst, B=lhs, C=rhs
	OpSub
	OpMul
	OpDiv
	OpMod
	OpExp
	OpNeg    // A=dst, B=src
	OpBitNot // A=dst, B=src
	OpBitAnd
	OpBitOr
	OpBitXor
	OpShl
	OpShr
	OpUShr
	OpNot    // A=dst, B=src (logical not)
	OpTypeof // A=dst, B=src
	OpVoid   // A=dst, B=src (always Undefined; src evaluated for effect before this op)

	// === Comparison ===

	OpEq         // Abstract Equality Comparison (==)
	OpNotEq      // !=
	OpStrictEq   // IsStrictlyEqual (===)
	OpStrictNeq  // !==
	OpLt         // Abstract Relational Comparison (<)
	OpGt         // (>)
	OpLte        // (<=)
	OpGte        // (>=)
	OpInstanceOf // A=dst, B=value, C=constructor
	OpIn         // A=dst, B=key, C=object

	// === Control ===

	// OpJump unconditionally jumps to absolute instruction index B.
	OpJump
	// OpJumpIfTrue jumps to B if ToBoolean(register A) is true.
	OpJumpIfTrue
	// OpJumpIfFalse jumps to B if ToBoolean(register A) is false. Used for
	// short-circuiting && (evaluate left into A, jump-if-false past right).
	OpJumpIfFalse
	// OpJumpIfNotNullish jumps to B if register A is not null/undefined.
	// Used for short-circuiting ?? and optional-chaining member access.
	OpJumpIfNotNullish

	// === Objects ===

	OpCreateObject // A=dst
	OpCreateArray  // A=dst, B=initial length (elements pushed via SetIndex)
	// OpGetProperty: A=dst, B=obj, C=key (key is a register holding a
	// Value used as a PropertyKey: string, symbol, or number).
	OpGetProperty
	// OpSetProperty: B=obj, C=key, A=src.
	OpSetProperty
	// OpGetPropertyConst: A=dst, B=obj, C=name id (fast path for literal
	// member access foo.bar, avoiding a key Value allocation).
	OpGetPropertyConst
	// OpSetPropertyConst: A=src, B=obj, C=name id.
	OpSetPropertyConst
	// OpDeleteProperty: A=dst (bool result), B=obj, C=key.
	OpDeleteProperty
	// OpGetIndex / OpSetIndex: integer-indexed array element access,
	// distinct from OpGetProperty only for compiler clarity; both route
	// through the same Object property table.
	OpGetIndex
	OpSetIndex

	// === Functions & calls ===

	// OpCreateFunction: A=dst, B=child chunk constant index. Captures the
	// current scope chain as the closure environment.
	OpCreateFunction
	// OpCall: A=dst, B=callee reg, C=argv_base reg (arguments occupy
	// argv_base..argv_base+argc-1), D=argc. thisArg is Undefined. Throws
	// TypeError if callee is not callable.
	OpCall
	// OpCallMethod: A=dst, B=this reg, C=argv_base, D=argc. The callee
	// function Value must be in register B-adjacent slot argv_base-1 (the
	// compiler always reserves it there immediately before the argument
	// run when lowering obj.method(args)); this is bound to register B
	// per spec.md §4.3 method-call evaluation order.
	OpCallMethod
	// OpConstruct: A=dst, B=callee reg, C=argv_base, D=argc.
	OpConstruct
	// OpReturn writes register A into the caller's destination register
	// and pops the frame. A may be -1 meaning "return undefined".
	OpReturn
	// OpAwait: A=dst, B=src. May suspend the VM (spec.md §4.6).
	OpAwait
	// OpYield: A=dst (receives the value resumed with), B=src (yielded
	// value). Suspends the enclosing generator.
	OpYield
	// OpYieldStar: A=dst, B=src (an iterable); delegates iteration.
	OpYieldStar

	// === Exceptions ===

	OpThrow // A=src
	// OpPushTry: B=handler pc, C=finally pc (-1 if none).
	OpPushTry
	OpPopTry
	// OpEndFinally resumes whatever action (throw/return/break/continue)
	// was pending before the finally block ran, unless the finally itself
	// produced a new pending action.
	OpEndFinally

	// === Iteration ===

	// OpGetIterator: A=dst, B=src, C=kind (0=sync,1=async,2=for-in over
	// the object's own enumerable keys).
	OpGetIterator
	// OpIteratorNext: A=dst (gets {value,done} object), B=iter.
	OpIteratorNext
	// OpIteratorClose: B=iter, C=reason (0=normal,1=abrupt); calls
	// return() only when C==1, per spec.md §4.5.
	OpIteratorClose

	// === Terminator ===

	// OpHalt ends the chunk. Every chunk's instruction stream ends in one.
	OpHalt
)

var opNames = [...]string{
	OpLoadInt: "LoadInt", OpLoadBool: "LoadBool", OpLoadNull: "LoadNull",
	OpLoadUndefined: "LoadUndefined", OpLoadConst: "LoadConst", OpMove: "Move",
	OpDeclareVar: "DeclareVar", OpDeclareVarHoisted: "DeclareVarHoisted",
	OpGetVar: "GetVar", OpSetVar: "SetVar", OpPushScope: "PushScope", OpPopScope: "PopScope",
	OpAdd: "Add", OpSub: "Sub", OpMul: "Mul", OpDiv: "Div", OpMod: "Mod", OpExp: "Exp",
	OpNeg: "Neg", OpBitNot: "BitNot", OpBitAnd: "BitAnd", OpBitOr: "BitOr", OpBitXor: "BitXor",
	OpShl: "Shl", OpShr: "Shr", OpUShr: "UShr", OpNot: "Not", OpTypeof: "Typeof", OpVoid: "Void",
	OpEq: "Eq", OpNotEq: "NotEq", OpStrictEq: "StrictEq", OpStrictNeq: "StrictNeq",
	OpLt: "Lt", OpGt: "Gt", OpLte: "Lte", OpGte: "Gte", OpInstanceOf: "InstanceOf", OpIn: "In",
	OpJump: "Jump", OpJumpIfTrue: "JumpIfTrue", OpJumpIfFalse: "JumpIfFalse",
	OpJumpIfNotNullish: "JumpIfNotNullish",
	OpCreateObject:     "CreateObject", OpCreateArray: "CreateArray",
	OpGetProperty: "GetProperty", OpSetProperty: "SetProperty",
	OpGetPropertyConst: "GetPropertyConst", OpSetPropertyConst: "SetPropertyConst",
	OpDeleteProperty: "DeleteProperty", OpGetIndex: "GetIndex", OpSetIndex: "SetIndex",
	OpCreateFunction: "CreateFunction", OpCall: "Call", OpCallMethod: "CallMethod",
	OpConstruct: "Construct", OpReturn: "Return", OpAwait: "Await", OpYield: "Yield",
	OpYieldStar: "YieldStar",
	OpThrow:     "Throw", OpPushTry: "PushTry", OpPopTry: "PopTry", OpEndFinally: "EndFinally",
	OpGetIterator: "GetIterator", OpIteratorNext: "IteratorNext", OpIteratorClose: "IteratorClose",
	OpHalt: "Halt",
}

// String implements fmt.Stringer for disassembly and debugger output.
func (op Op) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return "Unknown"
}

// IteratorKind selects sync vs async iteration protocol (spec.md §4.5).
type IteratorKind int32

const (
	IterSync IteratorKind = iota
	IterAsync
)

// CloseReason distinguishes normal loop exit (no return() call) from
// abrupt exit via break/return/throw (return() called), spec.md §4.5/§8.
type CloseReason int32

const (
	CloseNormal CloseReason = iota
	CloseAbrupt
)

// Instr is a single three-address bytecode instruction.
type Instr struct {
	Op   Op
	A, B, C, D int32
}

// ConstKind tags the variant stored in a Chunk's constant pool.
type ConstKind byte

const (
	ConstNumber ConstKind = iota
	ConstString
	ConstBigInt
	ConstRegExp
	ConstChildChunk
)

// Const is one entry of a chunk's constant pool.
type Const struct {
	Kind   ConstKind
	Number float64
	Str    string // ConstString payload, or RegExp source/BigInt literal text
	Flags  string // ConstRegExp flags
	Chunk  *Chunk // ConstChildChunk payload
}

// Pos is a (line, column) source position, one entry per instruction in
// Chunk.SourceMap.
type Pos struct {
	Line, Column int
}

// UpvalueDesc describes one variable a nested function closes over, for
// diagnostics/debugger display; actual capture is via the VM's scope-chain
// linkage (spec.md §4.5 "Scopes & closures"), not index-based upvalues.
type UpvalueDesc struct {
	Name intern.Id
}

// Chunk is an immutable compiled unit: one function/arrow/generator body or
// the top-level program (spec.md §4.2).
type Chunk struct {
	Code          []Instr
	Constants     []Const
	SourceMap     []Pos
	RegisterCount int32
	Upvalues      []UpvalueDesc

	// Name is the function's name for stack traces, or "" for the
	// top-level/anonymous chunks.
	Name string
	// ParamCount is the number of declared formal parameters, counting a
	// rest parameter and parameters with defaults; used by the VM to bind
	// arguments on call.
	ParamCount int
	// IsGenerator / IsAsync select which suspension points are legal in
	// this chunk's body (spec.md §4.3: "async function*" suspends on
	// both await and yield; plain generator only on yield; plain async
	// function only on await).
	IsGenerator bool
	IsAsync     bool
}

// PosOf returns the source position recorded for instruction index ip, or
// the zero Pos if none was recorded (e.g. a synthesized instruction).
func (c *Chunk) PosOf(ip int) Pos {
	if ip < 0 || ip >= len(c.SourceMap) {
		return Pos{}
	}
	return c.SourceMap[ip]
}
