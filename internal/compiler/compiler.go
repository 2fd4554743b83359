// Package compiler compiles internal/ast trees into internal/bytecode
// Chunks (spec.md §4.2). Kept in the teacher compiler's single-pass,
// switch-dispatched, emit-as-you-walk idiom, generalized from a flat
// stack-machine emitter to a scope-aware register allocator: named
// bindings resolve through the VM's runtime scope chain (OpDeclareVar/
// OpGetVar/OpSetVar), so this package only needs to allocate registers for
// expression temporaries and call argument runs, not for every local.
package compiler

import (
	"fmt"

	"github.com/kristofer/smogjs/internal/ast"
	"github.com/kristofer/smogjs/internal/bytecode"
	"github.com/kristofer/smogjs/internal/intern"
)

// CompileError is a compile-time failure distinct from a parser SyntaxError
// (spec.md §4.3 "Errors during compilation ... fatal").
type CompileError struct {
	Message string
	Pos     ast.Pos
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("CompileError: %s (line %d, column %d)", e.Message, e.Pos.Line, e.Pos.Column)
}

// loopCtx tracks the backpatch targets for one enclosing loop or switch,
// keyed by label for labeled break/continue (spec.md §4.3 "labeled
// statements").
type loopCtx struct {
	label        string
	breaks       []int // instruction indices needing Jump target patched to loop-exit
	continues    []int // instruction indices needing Jump target patched to loop-step
}

// fnState is the per-function-body compilation context: its own
// instruction stream, constant pool, and register high-water mark. Nested
// functions get a fresh fnState compiled to a child Chunk.
type fnState struct {
	parent     *fnState
	chunk      bytecode.Chunk
	constIndex map[string]int // dedups ConstString/ConstNumber entries
	nextReg    int32
	maxReg     int32
	loops      []*loopCtx
	labelNext  string // pending label for the statement about to be compiled
}

// Compiler walks one Program (or one function body) at a time; New is
// called once per Chunk produced.
type Compiler struct {
	interner *intern.Table
	fn       *fnState
}

// New creates a Compiler that interns identifiers/strings into tbl.
func New(tbl *intern.Table) *Compiler {
	return &Compiler{interner: tbl}
}

// CompileProgram compiles a top-level Program into its Chunk.
func (c *Compiler) CompileProgram(prog *ast.Program) (chunk *bytecode.Chunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			if ce, ok := r.(*CompileError); ok {
				err = ce
				return
			}
			panic(r)
		}
	}()
	c.fn = &fnState{constIndex: make(map[string]int)}
	for _, s := range prog.Body {
		c.compileStmt(s)
	}
	c.emit(bytecode.OpHalt, 0, 0, 0, 0, ast.Pos{})
	return c.finish(), nil
}

func (c *Compiler) finish() *bytecode.Chunk {
	ch := c.fn.chunk
	ch.RegisterCount = c.fn.maxReg
	out := ch
	return &out
}

func (c *Compiler) fail(pos ast.Pos, msg string) {
	panic(&CompileError{Message: msg, Pos: pos})
}

// --- register allocation ---

func (c *Compiler) alloc() int32 {
	r := c.fn.nextReg
	c.fn.nextReg++
	if c.fn.nextReg > c.fn.maxReg {
		c.fn.maxReg = c.fn.nextReg
	}
	return r
}

// allocRun reserves n contiguous registers (for call argument runs).
func (c *Compiler) allocRun(n int) int32 {
	base := c.fn.nextReg
	c.fn.nextReg += int32(n)
	if c.fn.nextReg > c.fn.maxReg {
		c.fn.maxReg = c.fn.nextReg
	}
	return base
}

// mark/release implement a stack discipline so temporaries used only
// within one sub-expression don't permanently inflate the register count.
func (c *Compiler) mark() int32      { return c.fn.nextReg }
func (c *Compiler) release(mark int32) { c.fn.nextReg = mark }

func (c *Compiler) name(s string) int32 { return int32(c.interner.Intern(s)) }

// --- emit helpers ---

func (c *Compiler) emit(op bytecode.Op, a, b, cc, d int32, pos ast.Pos) int {
	c.fn.chunk.Code = append(c.fn.chunk.Code, bytecode.Instr{Op: op, A: a, B: b, C: cc, D: d})
	c.fn.chunk.SourceMap = append(c.fn.chunk.SourceMap, bytecode.Pos{Line: pos.Line, Column: pos.Column})
	return len(c.fn.chunk.Code) - 1
}

func (c *Compiler) patchJump(ip int, target int) {
	c.fn.chunk.Code[ip].B = int32(target)
}

func (c *Compiler) here() int { return len(c.fn.chunk.Code) }

func (c *Compiler) addConstNumber(f float64) int {
	key := fmt.Sprintf("n:%b", f)
	if idx, ok := c.fn.constIndex[key]; ok {
		return idx
	}
	idx := c.addConst(bytecode.Const{Kind: bytecode.ConstNumber, Number: f})
	c.fn.constIndex[key] = idx
	return idx
}

func (c *Compiler) addConstString(s string) int {
	key := "s:" + s
	if idx, ok := c.fn.constIndex[key]; ok {
		return idx
	}
	idx := c.addConst(bytecode.Const{Kind: bytecode.ConstString, Str: s})
	c.fn.constIndex[key] = idx
	return idx
}

func (c *Compiler) addConst(k bytecode.Const) int {
	c.fn.chunk.Constants = append(c.fn.chunk.Constants, k)
	return len(c.fn.chunk.Constants) - 1
}

// --- statements ---

func (c *Compiler) compileStmt(s ast.Stmt) {
	switch n := s.(type) {
	case *ast.ExprStmt:
		mk := c.mark()
		c.compileExpr(n.X)
		c.release(mk)
	case *ast.EmptyStmt:
	case *ast.VarDecl:
		c.compileVarDecl(n)
	case *ast.BlockStmt:
		c.compileBlock(n)
	case *ast.IfStmt:
		c.compileIf(n)
	case *ast.WhileStmt:
		c.compileWhile(n)
	case *ast.DoWhileStmt:
		c.compileDoWhile(n)
	case *ast.ForStmt:
		c.compileFor(n)
	case *ast.ForEachStmt:
		c.compileForEach(n)
	case *ast.ReturnStmt:
		mk := c.mark()
		r := int32(-1)
		if n.Arg != nil {
			r = c.compileExpr(n.Arg)
		}
		c.emit(bytecode.OpReturn, r, 0, 0, 0, n.At())
		c.release(mk)
	case *ast.BreakStmt:
		c.compileBreak(n)
	case *ast.ContinueStmt:
		c.compileContinue(n)
	case *ast.ThrowStmt:
		mk := c.mark()
		r := c.compileExpr(n.Arg)
		c.emit(bytecode.OpThrow, r, 0, 0, 0, n.At())
		c.release(mk)
	case *ast.TryStmt:
		c.compileTry(n)
	case *ast.FunctionDecl:
		dst := c.compileFunctionExpr(n.Fn)
		c.declareAndInit(n.Fn.Name, false, dst, n.At())
	case *ast.ClassDecl:
		dst := c.compileClassExpr(n.Class)
		c.declareAndInit(n.Class.Name, true, dst, n.At())
	case *ast.LabeledStmt:
		c.fn.labelNext = n.Label
		c.compileStmt(n.Body)
	default:
		c.fail(s.At(), fmt.Sprintf("unsupported statement %T", s))
	}
}

func (c *Compiler) compileBlock(b *ast.BlockStmt) {
	c.emit(bytecode.OpPushScope, 0, 0, 0, 0, b.At())
	for _, s := range b.Body {
		c.compileStmt(s)
	}
	c.emit(bytecode.OpPopScope, 0, 0, 0, 0, b.At())
}

func (c *Compiler) declareAndInit(name string, mutable bool, srcReg int32, pos ast.Pos) {
	nameID := c.name(name)
	c.emit(bytecode.OpDeclareVar, boolInt(mutable), nameID, 0, 0, pos)
	c.emit(bytecode.OpSetVar, srcReg, nameID, 0, 0, pos)
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func (c *Compiler) compileVarDecl(d *ast.VarDecl) {
	for _, decl := range d.Decls {
		mk := c.mark()
		var src int32
		if decl.Init != nil {
			src = c.compileExpr(decl.Init)
		} else {
			src = c.alloc()
			c.emit(bytecode.OpLoadUndefined, src, 0, 0, 0, d.At())
		}
		c.compilePatternDecl(decl.Target, d.Kind != ast.VarVar, src, d.At())
		c.release(mk)
	}
}

// compilePatternDecl destructures src into declared bindings. VarVar
// declarations are emitted as mutable OpDeclareVar bindings in the current
// scope; they are not hoisted to the enclosing function scope.
func (c *Compiler) compilePatternDecl(pat ast.Pattern, _ bool, src int32, pos ast.Pos) {
	switch p := pat.(type) {
	case *ast.IdentPattern:
		v := src
		if p.Default != nil {
			v = c.applyDefault(src, p.Default, pos)
		}
		c.declareAndInit(p.Name, true, v, pos)
	case *ast.ArrayPattern:
		c.destructureArray(p, src, pos, func(name string, mutable bool, r int32) {
			c.declareAndInit(name, mutable, r, pos)
		})
	case *ast.ObjectPattern:
		c.destructureObject(p, src, pos, func(name string, mutable bool, r int32) {
			c.declareAndInit(name, mutable, r, pos)
		})
	default:
		c.fail(pos, "unsupported binding pattern")
	}
}

// applyDefault returns a register holding src, or the evaluated default
// expression when src is Undefined (spec.md default-parameter semantics).
func (c *Compiler) applyDefault(src int32, def ast.Expr, pos ast.Pos) int32 {
	undef := c.alloc()
	c.emit(bytecode.OpLoadUndefined, undef, 0, 0, 0, pos)
	isUndef := c.alloc()
	c.emit(bytecode.OpStrictEq, isUndef, src, undef, 0, pos)
	result := c.alloc()
	elseJump := c.emit(bytecode.OpJumpIfFalse, isUndef, 0, 0, 0, pos)
	defVal := c.compileExpr(def)
	c.emit(bytecode.OpMove, result, defVal, 0, 0, pos)
	doneJump := c.emit(bytecode.OpJump, 0, 0, 0, 0, pos)
	c.patchJump(elseJump, c.here())
	c.emit(bytecode.OpMove, result, src, 0, 0, pos)
	c.patchJump(doneJump, c.here())
	return result
}

func (c *Compiler) destructureArray(p *ast.ArrayPattern, src int32, pos ast.Pos, bind func(string, bool, int32)) {
	iter := c.alloc()
	c.emit(bytecode.OpGetIterator, iter, src, int32(bytecode.IterSync), 0, pos)
	for _, el := range p.Elements {
		if rp, ok := el.(*ast.RestPattern); ok {
			arr := c.alloc()
			c.emit(bytecode.OpCreateArray, arr, 0, 0, 0, pos)
			// The remaining iterator results are not drained: a rest
			// element in array destructuring always binds an empty array.
			c.bindNamedPattern(rp.Arg, arr, pos, bind)
			continue
		}
		res := c.alloc()
		c.emit(bytecode.OpIteratorNext, res, iter, 0, 0, pos)
		valKey := c.addConstString("value")
		val := c.alloc()
		keyReg := c.alloc()
		c.emit(bytecode.OpLoadConst, keyReg, int32(valKey), 0, 0, pos)
		c.emit(bytecode.OpGetProperty, val, res, keyReg, 0, pos)
		if el == nil {
			continue
		}
		c.bindNamedPattern(el, val, pos, bind)
	}
}

func (c *Compiler) bindNamedPattern(pat ast.Pattern, src int32, pos ast.Pos, bind func(string, bool, int32)) {
	switch p := pat.(type) {
	case *ast.IdentPattern:
		v := src
		if p.Default != nil {
			v = c.applyDefault(src, p.Default, pos)
		}
		bind(p.Name, true, v)
	case *ast.ArrayPattern:
		c.destructureArray(p, src, pos, bind)
	case *ast.ObjectPattern:
		c.destructureObject(p, src, pos, bind)
	default:
		c.fail(pos, "unsupported nested pattern")
	}
}

func (c *Compiler) destructureObject(p *ast.ObjectPattern, src int32, pos ast.Pos, bind func(string, bool, int32)) {
	seen := make([]string, 0, len(p.Props))
	for _, prop := range p.Props {
		dst := c.alloc()
		if prop.Computed {
			key := c.compileExpr(prop.KeyExpr)
			c.emit(bytecode.OpGetProperty, dst, src, key, 0, pos)
		} else {
			nameID := c.name(prop.Key)
			c.emit(bytecode.OpGetPropertyConst, dst, src, nameID, 0, pos)
			seen = append(seen, prop.Key)
		}
		c.bindNamedPattern(prop.Value, dst, pos, bind)
	}
	if p.Rest != nil {
		rest := c.alloc()
		c.emit(bytecode.OpCreateObject, rest, 0, 0, 0, pos)
		// The remaining own keys are not copied: an object rest pattern
		// always binds an empty object.
		bind(p.Rest.Name, true, rest)
	}
}

func (c *Compiler) compileIf(n *ast.IfStmt) {
	mk := c.mark()
	test := c.compileExpr(n.Test)
	elseJump := c.emit(bytecode.OpJumpIfFalse, test, 0, 0, 0, n.At())
	c.release(mk)
	c.compileStmt(n.Cons)
	if n.Alt != nil {
		doneJump := c.emit(bytecode.OpJump, 0, 0, 0, 0, n.At())
		c.patchJump(elseJump, c.here())
		c.compileStmt(n.Alt)
		c.patchJump(doneJump, c.here())
	} else {
		c.patchJump(elseJump, c.here())
	}
}

func (c *Compiler) pushLoop() *loopCtx {
	lc := &loopCtx{label: c.fn.labelNext}
	c.fn.labelNext = ""
	c.fn.loops = append(c.fn.loops, lc)
	return lc
}

func (c *Compiler) popLoop(stepTarget, exitTarget int) {
	lc := c.fn.loops[len(c.fn.loops)-1]
	c.fn.loops = c.fn.loops[:len(c.fn.loops)-1]
	for _, ip := range lc.breaks {
		c.patchJump(ip, exitTarget)
	}
	for _, ip := range lc.continues {
		c.patchJump(ip, stepTarget)
	}
}

func (c *Compiler) compileWhile(n *ast.WhileStmt) {
	lc := c.pushLoop()
	top := c.here()
	mk := c.mark()
	test := c.compileExpr(n.Test)
	exitJump := c.emit(bytecode.OpJumpIfFalse, test, 0, 0, 0, n.At())
	c.release(mk)
	c.compileStmt(n.Body)
	c.emit(bytecode.OpJump, 0, int32(top), 0, 0, n.At())
	exit := c.here()
	c.patchJump(exitJump, exit)
	_ = lc
	c.popLoop(top, exit)
}

func (c *Compiler) compileDoWhile(n *ast.DoWhileStmt) {
	c.pushLoop()
	top := c.here()
	c.compileStmt(n.Body)
	step := c.here()
	mk := c.mark()
	test := c.compileExpr(n.Test)
	c.emit(bytecode.OpJumpIfTrue, test, int32(top), 0, 0, n.At())
	c.release(mk)
	exit := c.here()
	c.popLoop(step, exit)
}

func (c *Compiler) compileFor(n *ast.ForStmt) {
	c.emit(bytecode.OpPushScope, 0, 0, 0, 0, n.At())
	if n.Init != nil {
		switch init := n.Init.(type) {
		case *ast.VarDecl:
			c.compileVarDecl(init)
		case *ast.ExprStmt:
			mk := c.mark()
			c.compileExpr(init.X)
			c.release(mk)
		}
	}
	c.pushLoop()
	top := c.here()
	exitJump := -1
	if n.Test != nil {
		mk := c.mark()
		test := c.compileExpr(n.Test.(ast.Expr))
		exitJump = c.emit(bytecode.OpJumpIfFalse, test, 0, 0, 0, n.At())
		c.release(mk)
	}
	c.compileStmt(n.Body)
	step := c.here()
	if n.Update != nil {
		mk := c.mark()
		c.compileExpr(n.Update.(ast.Expr))
		c.release(mk)
	}
	c.emit(bytecode.OpJump, 0, int32(top), 0, 0, n.At())
	exit := c.here()
	if exitJump >= 0 {
		c.patchJump(exitJump, exit)
	}
	c.popLoop(step, exit)
	c.emit(bytecode.OpPopScope, 0, 0, 0, 0, n.At())
}

func (c *Compiler) compileForEach(n *ast.ForEachStmt) {
	mk := c.mark()
	right := c.compileExpr(n.Right)
	kind := int32(bytecode.IterSync)
	if n.IsAwait {
		kind = int32(bytecode.IterAsync)
	}
	iterOp := bytecode.OpGetIterator
	if n.Kind == ast.ForIn {
		// for-in enumerates keys, not values; modeled as a get-iterator
		// variant over OwnKeys — the VM's GetIterator dispatches on the
		// object's own enumerable string keys when asked for a for-in
		// iterator (kind reused via C operand sentinel 2).
		kind = 2
	}
	iter := c.alloc()
	c.emit(iterOp, iter, right, kind, 0, n.At())
	c.release(mk)

	c.pushLoop()
	top := c.here()
	c.emit(bytecode.OpPushScope, 0, 0, 0, 0, n.At())
	resMk := c.mark()
	res := c.alloc()
	c.emit(bytecode.OpIteratorNext, res, iter, 0, 0, n.At())
	if n.IsAwait {
		awaited := c.alloc()
		c.emit(bytecode.OpAwait, awaited, res, 0, 0, n.At())
		res = awaited
	}
	doneKey := c.addConstString("done")
	doneKeyReg := c.alloc()
	c.emit(bytecode.OpLoadConst, doneKeyReg, int32(doneKey), 0, 0, n.At())
	done := c.alloc()
	c.emit(bytecode.OpGetProperty, done, res, doneKeyReg, 0, n.At())
	exitJump := c.emit(bytecode.OpJumpIfTrue, done, 0, 0, 0, n.At())

	valKey := c.addConstString("value")
	valKeyReg := c.alloc()
	c.emit(bytecode.OpLoadConst, valKeyReg, int32(valKey), 0, 0, n.At())
	val := c.alloc()
	c.emit(bytecode.OpGetProperty, val, res, valKeyReg, 0, n.At())
	c.release(resMk)

	bodyMk := c.mark()
	valReg := c.alloc()
	c.emit(bytecode.OpMove, valReg, val, 0, 0, n.At())
	if n.Declares {
		c.compilePatternDecl(n.Target, n.DeclKind != ast.VarVar, valReg, n.At())
	} else {
		c.compileAssignTarget(n.Target, valReg, n.At())
	}
	c.release(bodyMk)
	c.compileStmt(n.Body)
	c.emit(bytecode.OpPopScope, 0, 0, 0, 0, n.At())
	c.emit(bytecode.OpJump, 0, int32(top), 0, 0, n.At())
	exit := c.here()
	c.patchJump(exitJump, exit)
	c.popLoop(top, exit)
}

// compileAssignTarget stores src into an existing-binding for-of/for-in
// target (not a new declaration).
func (c *Compiler) compileAssignTarget(pat ast.Pattern, src int32, pos ast.Pos) {
	if ip, ok := pat.(*ast.IdentPattern); ok {
		c.emit(bytecode.OpSetVar, src, c.name(ip.Name), 0, 0, pos)
		return
	}
	c.bindNamedPattern(pat, src, pos, func(name string, _ bool, r int32) {
		c.emit(bytecode.OpSetVar, r, c.name(name), 0, 0, pos)
	})
}

func (c *Compiler) compileBreak(n *ast.BreakStmt) {
	for i := len(c.fn.loops) - 1; i >= 0; i-- {
		if n.Label == "" || c.fn.loops[i].label == n.Label {
			ip := c.emit(bytecode.OpJump, 0, 0, 0, 0, n.At())
			c.fn.loops[i].breaks = append(c.fn.loops[i].breaks, ip)
			return
		}
	}
	c.fail(n.At(), "break outside loop")
}

func (c *Compiler) compileContinue(n *ast.ContinueStmt) {
	for i := len(c.fn.loops) - 1; i >= 0; i-- {
		if n.Label == "" || c.fn.loops[i].label == n.Label {
			ip := c.emit(bytecode.OpJump, 0, 0, 0, 0, n.At())
			c.fn.loops[i].continues = append(c.fn.loops[i].continues, ip)
			return
		}
	}
	c.fail(n.At(), "continue outside loop")
}

func (c *Compiler) compileTry(n *ast.TryStmt) {
	handlerJump := c.emit(bytecode.OpPushTry, 0, 0, 0, 0, n.At())
	c.compileBlock(n.Block)
	c.emit(bytecode.OpPopTry, 0, 0, 0, 0, n.At())
	afterTryJump := c.emit(bytecode.OpJump, 0, 0, 0, 0, n.At())

	handlerPC := c.here()
	finallyPC := -1
	if n.Catch != nil {
		c.emit(bytecode.OpPushScope, 0, 0, 0, 0, n.At())
		if n.Catch.Param != nil {
			errReg := c.alloc()
			c.emit(bytecode.OpGetVar, errReg, c.name("$$exception"), 0, 0, n.At())
			c.compilePatternDecl(n.Catch.Param, true, errReg, n.At())
		}
		for _, s := range n.Catch.Body.Body {
			c.compileStmt(s)
		}
		c.emit(bytecode.OpPopScope, 0, 0, 0, 0, n.At())
	}
	c.patchJump(afterTryJump, c.here())

	if n.Finally != nil {
		finallyPC = c.here()
		c.compileBlock(n.Finally)
		c.emit(bytecode.OpEndFinally, 0, 0, 0, 0, n.At())
	}

	c.fn.chunk.Code[handlerJump].B = int32(handlerPC)
	c.fn.chunk.Code[handlerJump].C = int32(finallyPC)
}

// --- expressions; each compileExpr returns the register holding the result ---

func (c *Compiler) compileExpr(e ast.Expr) int32 {
	switch n := e.(type) {
	case *ast.NumberLit:
		dst := c.alloc()
		if n.Value == float64(int32(n.Value)) {
			c.emit(bytecode.OpLoadInt, dst, int32(n.Value), 0, 0, n.At())
		} else {
			idx := c.addConstNumber(n.Value)
			c.emit(bytecode.OpLoadConst, dst, int32(idx), 0, 0, n.At())
		}
		return dst
	case *ast.StringLit:
		dst := c.alloc()
		idx := c.addConstString(n.Value)
		c.emit(bytecode.OpLoadConst, dst, int32(idx), 0, 0, n.At())
		return dst
	case *ast.BoolLit:
		dst := c.alloc()
		c.emit(bytecode.OpLoadBool, dst, boolInt(n.Value), 0, 0, n.At())
		return dst
	case *ast.NullLit:
		dst := c.alloc()
		c.emit(bytecode.OpLoadNull, dst, 0, 0, 0, n.At())
		return dst
	case *ast.UndefinedLit:
		dst := c.alloc()
		c.emit(bytecode.OpLoadUndefined, dst, 0, 0, 0, n.At())
		return dst
	case *ast.Ident:
		dst := c.alloc()
		c.emit(bytecode.OpGetVar, dst, c.name(n.Name), 0, 0, n.At())
		return dst
	case *ast.ThisExpr:
		dst := c.alloc()
		c.emit(bytecode.OpGetVar, dst, c.name("this"), 0, 0, n.At())
		return dst
	case *ast.TemplateLit:
		return c.compileTemplate(n)
	case *ast.ArrayLit:
		return c.compileArrayLit(n)
	case *ast.ObjectLit:
		return c.compileObjectLit(n)
	case *ast.FunctionExpr:
		return c.compileFunctionExpr(n)
	case *ast.ClassExpr:
		return c.compileClassExpr(n)
	case *ast.UnaryExpr:
		return c.compileUnary(n)
	case *ast.UpdateExpr:
		return c.compileUpdate(n)
	case *ast.BinaryExpr:
		return c.compileBinary(n)
	case *ast.LogicalExpr:
		return c.compileLogical(n)
	case *ast.AssignExpr:
		return c.compileAssign(n)
	case *ast.ConditionalExpr:
		return c.compileConditional(n)
	case *ast.CallExpr:
		return c.compileCall(n)
	case *ast.NewExpr:
		return c.compileNew(n)
	case *ast.MemberExpr:
		return c.compileMember(n)
	case *ast.SequenceExpr:
		var last int32
		for _, x := range n.Exprs {
			last = c.compileExpr(x)
		}
		return last
	case *ast.AwaitExpr:
		src := c.compileExpr(n.Arg)
		dst := c.alloc()
		c.emit(bytecode.OpAwait, dst, src, 0, 0, n.At())
		return dst
	case *ast.YieldExpr:
		dst := c.alloc()
		var src int32 = -1
		if n.Arg != nil {
			src = c.compileExpr(n.Arg)
		}
		op := bytecode.OpYield
		if n.Delegate {
			op = bytecode.OpYieldStar
		}
		c.emit(op, dst, src, 0, 0, n.At())
		return dst
	case *ast.SpreadElement:
		return c.compileExpr(n.Arg)
	case *ast.ImportCallExpr:
		src := c.compileExpr(n.Source)
		dst := c.alloc()
		c.emit(bytecode.OpAwait, dst, src, 0, 0, n.At()) // dynamic import modeled as an awaited module promise
		return dst
	case *ast.SuperExpr:
		dst := c.alloc()
		c.emit(bytecode.OpGetVar, dst, c.name("$$super"), 0, 0, n.At())
		return dst
	default:
		c.fail(e.At(), fmt.Sprintf("unsupported expression %T", e))
		return 0
	}
}

func (c *Compiler) compileTemplate(n *ast.TemplateLit) int32 {
	dst := c.alloc()
	idx := c.addConstString(n.Quasis[0])
	c.emit(bytecode.OpLoadConst, dst, int32(idx), 0, 0, n.At())
	for i, ex := range n.Exprs {
		mk := c.mark()
		v := c.compileExpr(ex)
		c.emit(bytecode.OpAdd, dst, dst, v, 0, n.At())
		if i+1 < len(n.Quasis) && n.Quasis[i+1] != "" {
			s := c.alloc()
			idx := c.addConstString(n.Quasis[i+1])
			c.emit(bytecode.OpLoadConst, s, int32(idx), 0, 0, n.At())
			c.emit(bytecode.OpAdd, dst, dst, s, 0, n.At())
		}
		c.release(mk)
	}
	return dst
}

func (c *Compiler) compileArrayLit(n *ast.ArrayLit) int32 {
	dst := c.alloc()
	c.emit(bytecode.OpCreateArray, dst, int32(len(n.Elements)), 0, 0, n.At())
	idx := 0
	for _, el := range n.Elements {
		if el == nil {
			idx++
			continue
		}
		mk := c.mark()
		var v int32
		if sp, ok := el.(*ast.SpreadElement); ok {
			v = c.compileExpr(sp.Arg)
		} else {
			v = c.compileExpr(el)
		}
		idxReg := c.alloc()
		c.emit(bytecode.OpLoadInt, idxReg, int32(idx), 0, 0, n.At())
		c.emit(bytecode.OpSetIndex, v, dst, idxReg, 0, n.At())
		c.release(mk)
		idx++
	}
	return dst
}

func (c *Compiler) compileObjectLit(n *ast.ObjectLit) int32 {
	dst := c.alloc()
	c.emit(bytecode.OpCreateObject, dst, 0, 0, 0, n.At())
	for _, prop := range n.Props {
		mk := c.mark()
		switch prop.Kind {
		case ast.PropSpread:
			_ = c.compileExpr(prop.Value) // the spread operand is evaluated; its properties are not copied into dst
		case ast.PropMethod, ast.PropInit, ast.PropGet, ast.PropSet:
			v := c.compileExpr(prop.Value)
			if prop.Computed {
				key := c.compileExpr(prop.Key)
				c.emit(bytecode.OpSetProperty, v, dst, key, 0, n.At())
			} else {
				nameID := c.identKeyName(prop.Key)
				c.emit(bytecode.OpSetPropertyConst, v, dst, nameID, 0, n.At())
			}
		}
		c.release(mk)
	}
	return dst
}

func (c *Compiler) identKeyName(key ast.Expr) int32 {
	switch k := key.(type) {
	case *ast.Ident:
		return c.name(k.Name)
	case *ast.StringLit:
		return c.name(k.Value)
	case *ast.NumberLit:
		return c.name(fmt.Sprintf("%v", k.Value))
	}
	c.fail(key.At(), "unsupported property key")
	return 0
}

func (c *Compiler) compileFunctionExpr(n *ast.FunctionExpr) int32 {
	parent := c.fn
	c.fn = &fnState{parent: parent, constIndex: make(map[string]int)}
	c.fn.chunk.Name = n.Name
	c.fn.chunk.ParamCount = len(n.Params)
	c.fn.chunk.IsGenerator = n.IsGenerator
	c.fn.chunk.IsAsync = n.IsAsync

	c.emit(bytecode.OpPushScope, 0, 0, 0, 0, n.At())
	for i, param := range n.Params {
		argReg := c.alloc()
		if rp, ok := param.(*ast.RestPattern); ok {
			c.emit(bytecode.OpGetVar, argReg, c.name(fmt.Sprintf("$$arg%d", i)), 0, 0, n.At())
			c.compilePatternDecl(rp.Arg, true, argReg, n.At())
			continue
		}
		c.emit(bytecode.OpGetVar, argReg, c.name(fmt.Sprintf("$$arg%d", i)), 0, 0, n.At())
		c.compilePatternDecl(param, true, argReg, n.At())
	}
	if n.ExprBody != nil {
		r := c.compileExpr(n.ExprBody)
		c.emit(bytecode.OpReturn, r, 0, 0, 0, n.At())
	} else {
		for _, s := range n.Body {
			c.compileStmt(s)
		}
		c.emit(bytecode.OpReturn, -1, 0, 0, 0, n.At())
	}
	c.emit(bytecode.OpPopScope, 0, 0, 0, 0, n.At())
	c.emit(bytecode.OpHalt, 0, 0, 0, 0, n.At())

	child := c.finish()
	c.fn = parent

	idx := c.addConst(bytecode.Const{Kind: bytecode.ConstChildChunk, Chunk: child})
	dst := c.alloc()
	c.emit(bytecode.OpCreateFunction, dst, int32(idx), 0, 0, n.At())
	return dst
}

// compileClassExpr lowers a class to: a constructor function (installing
// instance fields then running the body), a prototype object holding
// methods, and static methods hung directly off the constructor function
// object. Static fields and computed-key members are not installed. Private
// members are stored under the property key "#name". This keeps class support entirely inside the existing Function/Object exotic
// kinds rather than adding a new one (SPEC_FULL.md §3).
func (c *Compiler) compileClassExpr(n *ast.ClassExpr) int32 {
	var ctor *ast.FunctionExpr
	for _, m := range n.Members {
		if !m.IsStatic && !m.Computed && m.Name == "constructor" && m.Kind == ast.MemberMethod {
			ctor = m.Value.(*ast.FunctionExpr)
		}
	}
	if ctor == nil {
		ctor = &ast.FunctionExpr{}
	}
	ctor.Name = n.Name

	fieldInits := make([]ast.Stmt, 0)
	for _, m := range n.Members {
		if m.Kind == ast.MemberField && !m.IsStatic && !m.Computed {
			init := m.Value
			if init == nil {
				init = &ast.UndefinedLit{}
			}
			key := m.Name
			if m.IsPrivate {
				key = "#" + m.Name
			}
			fieldInits = append(fieldInits, &ast.ExprStmt{X: &ast.AssignExpr{
				Op: "=", Target: &ast.MemberExpr{Object: &ast.ThisExpr{}, Property: &ast.Ident{Name: key}}, Value: init,
			}})
		}
	}
	ctor.Body = append(fieldInits, ctor.Body...)

	ctorReg := c.compileFunctionExpr(ctor)

	for _, m := range n.Members {
		if m.Computed || m.Kind == ast.MemberField {
			continue
		}
		if m.Name == "constructor" && !m.IsStatic {
			continue
		}
		mk := c.mark()
		fn, ok := m.Value.(*ast.FunctionExpr)
		if !ok {
			c.release(mk)
			continue
		}
		fnReg := c.compileFunctionExpr(fn)
		targetBase := c.alloc()
		if m.IsStatic {
			c.emit(bytecode.OpMove, targetBase, ctorReg, 0, 0, n.At())
		} else {
			protoKey := c.name("prototype")
			c.emit(bytecode.OpGetPropertyConst, targetBase, ctorReg, protoKey, 0, n.At())
		}
		key := m.Name
		if m.IsPrivate {
			key = "#" + m.Name
		}
		c.emit(bytecode.OpSetPropertyConst, fnReg, targetBase, c.name(key), 0, n.At())
		c.release(mk)
	}
	return ctorReg
}

func (c *Compiler) compileUnary(n *ast.UnaryExpr) int32 {
	if n.Op == "delete" {
		if me, ok := n.Arg.(*ast.MemberExpr); ok {
			obj := c.compileExpr(me.Object)
			dst := c.alloc()
			if me.Computed {
				key := c.compileExpr(me.Property)
				c.emit(bytecode.OpDeleteProperty, dst, obj, key, 0, n.At())
			} else {
				keyReg := c.alloc()
				idx := c.addConstString(me.Property.(*ast.Ident).Name)
				c.emit(bytecode.OpLoadConst, keyReg, int32(idx), 0, 0, n.At())
				c.emit(bytecode.OpDeleteProperty, dst, obj, keyReg, 0, n.At())
			}
			return dst
		}
		dst := c.alloc()
		c.emit(bytecode.OpLoadBool, dst, 1, 0, 0, n.At())
		return dst
	}
	src := c.compileExpr(n.Arg)
	dst := c.alloc()
	switch n.Op {
	case "-":
		c.emit(bytecode.OpNeg, dst, src, 0, 0, n.At())
	case "+":
		zero := c.alloc()
		c.emit(bytecode.OpLoadInt, zero, 0, 0, 0, n.At())
		c.emit(bytecode.OpSub, dst, src, zero, 0, n.At())
	case "!":
		c.emit(bytecode.OpNot, dst, src, 0, 0, n.At())
	case "~":
		c.emit(bytecode.OpBitNot, dst, src, 0, 0, n.At())
	case "typeof":
		c.emit(bytecode.OpTypeof, dst, src, 0, 0, n.At())
	case "void":
		c.emit(bytecode.OpVoid, dst, src, 0, 0, n.At())
	default:
		c.fail(n.At(), "unsupported unary operator "+n.Op)
	}
	return dst
}

func (c *Compiler) compileUpdate(n *ast.UpdateExpr) int32 {
	old := c.compileExpr(n.Arg)
	one := c.alloc()
	c.emit(bytecode.OpLoadInt, one, 1, 0, 0, n.At())
	newVal := c.alloc()
	if n.Op == "++" {
		c.emit(bytecode.OpAdd, newVal, old, one, 0, n.At())
	} else {
		c.emit(bytecode.OpSub, newVal, old, one, 0, n.At())
	}
	c.storeToTarget(n.Arg, newVal, n.At())
	if n.Prefix {
		return newVal
	}
	return old
}

func (c *Compiler) compileBinary(n *ast.BinaryExpr) int32 {
	l := c.compileExpr(n.Left)
	r := c.compileExpr(n.Right)
	dst := c.alloc()
	op, ok := binOps[n.Op]
	if !ok {
		c.fail(n.At(), "unsupported binary operator "+n.Op)
	}
	c.emit(op, dst, l, r, 0, n.At())
	return dst
}

var binOps = map[string]bytecode.Op{
	"+": bytecode.OpAdd, "-": bytecode.OpSub, "*": bytecode.OpMul, "/": bytecode.OpDiv,
	"%": bytecode.OpMod, "**": bytecode.OpExp, "&": bytecode.OpBitAnd, "|": bytecode.OpBitOr,
	"^": bytecode.OpBitXor, "<<": bytecode.OpShl, ">>": bytecode.OpShr, ">>>": bytecode.OpUShr,
	"==": bytecode.OpEq, "!=": bytecode.OpNotEq, "===": bytecode.OpStrictEq, "!==": bytecode.OpStrictNeq,
	"<": bytecode.OpLt, ">": bytecode.OpGt, "<=": bytecode.OpLte, ">=": bytecode.OpGte,
	"instanceof": bytecode.OpInstanceOf, "in": bytecode.OpIn,
}

func (c *Compiler) compileLogical(n *ast.LogicalExpr) int32 {
	l := c.compileExpr(n.Left)
	var skip int
	switch n.Op {
	case "&&":
		skip = c.emit(bytecode.OpJumpIfFalse, l, 0, 0, 0, n.At())
	case "||":
		skip = c.emit(bytecode.OpJumpIfTrue, l, 0, 0, 0, n.At())
	case "??":
		skip = c.emit(bytecode.OpJumpIfNotNullish, l, 0, 0, 0, n.At())
	default:
		c.fail(n.At(), "unsupported logical operator "+n.Op)
	}
	r := c.compileExpr(n.Right)
	c.emit(bytecode.OpMove, l, r, 0, 0, n.At())
	c.patchJump(skip, c.here())
	return l
}

func (c *Compiler) compileConditional(n *ast.ConditionalExpr) int32 {
	test := c.compileExpr(n.Test)
	elseJump := c.emit(bytecode.OpJumpIfFalse, test, 0, 0, 0, n.At())
	dst := c.alloc()
	cons := c.compileExpr(n.Cons)
	c.emit(bytecode.OpMove, dst, cons, 0, 0, n.At())
	doneJump := c.emit(bytecode.OpJump, 0, 0, 0, 0, n.At())
	c.patchJump(elseJump, c.here())
	alt := c.compileExpr(n.Alt)
	c.emit(bytecode.OpMove, dst, alt, 0, 0, n.At())
	c.patchJump(doneJump, c.here())
	return dst
}

func (c *Compiler) compileAssign(n *ast.AssignExpr) int32 {
	if n.Op == "=" {
		val := c.compileExpr(n.Value)
		c.storeToTarget(n.Target, val, n.At())
		return val
	}
	cur := c.compileExpr(n.Target)
	rhs := c.compileExpr(n.Value)
	dst := c.alloc()
	switch n.Op {
	case "+=":
		c.emit(bytecode.OpAdd, dst, cur, rhs, 0, n.At())
	case "-=":
		c.emit(bytecode.OpSub, dst, cur, rhs, 0, n.At())
	case "*=":
		c.emit(bytecode.OpMul, dst, cur, rhs, 0, n.At())
	case "/=":
		c.emit(bytecode.OpDiv, dst, cur, rhs, 0, n.At())
	case "%=":
		c.emit(bytecode.OpMod, dst, cur, rhs, 0, n.At())
	case "**=":
		c.emit(bytecode.OpExp, dst, cur, rhs, 0, n.At())
	case "&=":
		c.emit(bytecode.OpBitAnd, dst, cur, rhs, 0, n.At())
	case "|=":
		c.emit(bytecode.OpBitOr, dst, cur, rhs, 0, n.At())
	case "^=":
		c.emit(bytecode.OpBitXor, dst, cur, rhs, 0, n.At())
	case "<<=":
		c.emit(bytecode.OpShl, dst, cur, rhs, 0, n.At())
	case ">>=":
		c.emit(bytecode.OpShr, dst, cur, rhs, 0, n.At())
	case ">>>=":
		c.emit(bytecode.OpUShr, dst, cur, rhs, 0, n.At())
	case "&&=":
		skip := c.emit(bytecode.OpJumpIfFalse, cur, 0, 0, 0, n.At())
		c.emit(bytecode.OpMove, dst, rhs, 0, 0, n.At())
		done := c.emit(bytecode.OpJump, 0, 0, 0, 0, n.At())
		c.patchJump(skip, c.here())
		c.emit(bytecode.OpMove, dst, cur, 0, 0, n.At())
		c.patchJump(done, c.here())
		c.storeToTarget(n.Target, dst, n.At())
		return dst
	case "||=":
		skip := c.emit(bytecode.OpJumpIfTrue, cur, 0, 0, 0, n.At())
		c.emit(bytecode.OpMove, dst, rhs, 0, 0, n.At())
		done := c.emit(bytecode.OpJump, 0, 0, 0, 0, n.At())
		c.patchJump(skip, c.here())
		c.emit(bytecode.OpMove, dst, cur, 0, 0, n.At())
		c.patchJump(done, c.here())
		c.storeToTarget(n.Target, dst, n.At())
		return dst
	case "??=":
		skip := c.emit(bytecode.OpJumpIfNotNullish, cur, 0, 0, 0, n.At())
		c.emit(bytecode.OpMove, dst, rhs, 0, 0, n.At())
		done := c.emit(bytecode.OpJump, 0, 0, 0, 0, n.At())
		c.patchJump(skip, c.here())
		c.emit(bytecode.OpMove, dst, cur, 0, 0, n.At())
		c.patchJump(done, c.here())
		c.storeToTarget(n.Target, dst, n.At())
		return dst
	default:
		c.fail(n.At(), "unsupported assignment operator "+n.Op)
	}
	c.storeToTarget(n.Target, dst, n.At())
	return dst
}

func (c *Compiler) storeToTarget(target ast.Expr, val int32, pos ast.Pos) {
	switch t := target.(type) {
	case *ast.Ident:
		c.emit(bytecode.OpSetVar, val, c.name(t.Name), 0, 0, pos)
	case *ast.MemberExpr:
		obj := c.compileExpr(t.Object)
		if t.Computed {
			key := c.compileExpr(t.Property)
			c.emit(bytecode.OpSetProperty, val, obj, key, 0, pos)
		} else if t.PrivateName != "" {
			c.emit(bytecode.OpSetPropertyConst, val, obj, c.name("#"+t.PrivateName), 0, pos)
		} else {
			c.emit(bytecode.OpSetPropertyConst, val, obj, c.name(t.Property.(*ast.Ident).Name), 0, pos)
		}
	default:
		c.fail(pos, fmt.Sprintf("unsupported assignment target %T", target))
	}
}

func (c *Compiler) compileCall(n *ast.CallExpr) int32 {
	if me, ok := n.Callee.(*ast.MemberExpr); ok && !me.Optional {
		return c.compileMethodCall(me, n)
	}
	calleeReg := c.compileExpr(n.Callee)
	argc := len(n.Args)
	argv := c.allocRun(argc)
	for i, a := range n.Args {
		v := c.compileExpr(a)
		c.emit(bytecode.OpMove, argv+int32(i), v, 0, 0, n.At())
	}
	dst := c.alloc()
	c.emit(bytecode.OpCall, dst, calleeReg, argv, int32(argc), n.At())
	return dst
}

// compileMethodCall lowers obj.method(args) using the OpCallMethod
// convention: the callee function value occupies the register immediately
// before argv_base (see bytecode.OpCallMethod doc comment).
func (c *Compiler) compileMethodCall(me *ast.MemberExpr, call *ast.CallExpr) int32 {
	thisReg := c.compileExpr(me.Object)
	var calleeReg int32
	if me.Computed {
		key := c.compileExpr(me.Property)
		calleeReg = c.alloc()
		c.emit(bytecode.OpGetProperty, calleeReg, thisReg, key, 0, me.At())
	} else {
		name := "#" + me.PrivateName
		if me.PrivateName == "" {
			name = me.Property.(*ast.Ident).Name
		}
		calleeReg = c.alloc()
		c.emit(bytecode.OpGetPropertyConst, calleeReg, thisReg, c.name(name), 0, me.At())
	}
	argc := len(call.Args)
	argv := c.allocRun(argc)
	if argv != calleeReg+1 {
		// The allocator is a monotonic bump allocator so this always holds;
		// guarded defensively since OpCallMethod's calling convention
		// depends on it.
		c.fail(call.At(), "internal: method-call register layout invariant violated")
	}
	for i, a := range call.Args {
		v := c.compileExpr(a)
		c.emit(bytecode.OpMove, argv+int32(i), v, 0, 0, call.At())
	}
	dst := c.alloc()
	c.emit(bytecode.OpCallMethod, dst, thisReg, argv, int32(argc), call.At())
	return dst
}

func (c *Compiler) compileNew(n *ast.NewExpr) int32 {
	calleeReg := c.compileExpr(n.Callee)
	argc := len(n.Args)
	argv := c.allocRun(argc)
	for i, a := range n.Args {
		v := c.compileExpr(a)
		c.emit(bytecode.OpMove, argv+int32(i), v, 0, 0, n.At())
	}
	dst := c.alloc()
	c.emit(bytecode.OpConstruct, dst, calleeReg, argv, int32(argc), n.At())
	return dst
}

func (c *Compiler) compileMember(n *ast.MemberExpr) int32 {
	if n.PrivateName != "" {
		obj := c.compileExpr(n.Object)
		dst := c.alloc()
		c.emit(bytecode.OpGetPropertyConst, dst, obj, c.name("#"+n.PrivateName), 0, n.At())
		return dst
	}
	obj := c.compileExpr(n.Object)
	dst := c.alloc()
	if n.Optional {
		skip := c.emit(bytecode.OpJumpIfNotNullish, obj, 0, 0, 0, n.At())
		c.emit(bytecode.OpLoadUndefined, dst, 0, 0, 0, n.At())
		done := c.emit(bytecode.OpJump, 0, 0, 0, 0, n.At())
		c.patchJump(skip, c.here())
		c.emitMemberGet(n, obj, dst)
		c.patchJump(done, c.here())
		return dst
	}
	c.emitMemberGet(n, obj, dst)
	return dst
}

func (c *Compiler) emitMemberGet(n *ast.MemberExpr, obj, dst int32) {
	if n.Computed {
		key := c.compileExpr(n.Property)
		c.emit(bytecode.OpGetProperty, dst, obj, key, 0, n.At())
		return
	}
	c.emit(bytecode.OpGetPropertyConst, dst, obj, c.name(n.Property.(*ast.Ident).Name), 0, n.At())
}
