// Package parser implements a recursive-descent, Pratt-style parser over
// internal/lexer's token stream, producing internal/ast trees for the
// JS/TS subset SPEC_FULL.md §5 scopes in. Not a conformant ECMAScript
// grammar: no full ASI, a tagged template calls its tag with the
// interpolated string as the only argument, TS types are skipped rather
// than represented. Kept in the teacher parser's structural idiom (a
// Parser struct walking a pre-lexed token slice with expect/check
// helpers and one parse* method per grammar production).
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kristofer/smogjs/internal/ast"
	"github.com/kristofer/smogjs/internal/lexer"
)

// SyntaxError is a compile-time parse failure (spec.md §4.3 "Errors during
// compilation are reported by line/column ... fatal ... surface as
// SyntaxError").
type SyntaxError struct {
	Message string
	Line    int
	Column  int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("SyntaxError: %s (line %d, column %d)", e.Message, e.Line, e.Column)
}

// Parser walks a fully pre-lexed token stream.
type Parser struct {
	toks []lexer.Token
	pos  int
}

// Parse lexes and parses src into a Program, or returns a *SyntaxError.
func Parse(src string) (prog *ast.Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			if se, ok := r.(*SyntaxError); ok {
				err = se
				return
			}
			panic(r)
		}
	}()

	l := lexer.New(src)
	var toks []lexer.Token
	for {
		t := l.Next()
		toks = append(toks, t)
		if t.Type == lexer.TokenEOF {
			break
		}
	}
	p := &Parser{toks: toks}
	return p.parseProgram(), nil
}

func (p *Parser) fail(msg string) {
	t := p.cur()
	panic(&SyntaxError{Message: msg, Line: t.Line, Column: t.Column})
}

func (p *Parser) cur() lexer.Token  { return p.toks[p.pos] }
func (p *Parser) peekAt(n int) lexer.Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}
func (p *Parser) advance() lexer.Token {
	t := p.cur()
	if t.Type != lexer.TokenEOF {
		p.pos++
	}
	return t
}

func (p *Parser) is(tt lexer.TokenType) bool { return p.cur().Type == tt }
func (p *Parser) isKw(kw string) bool {
	return p.cur().Type == lexer.TokenKeyword && p.cur().Literal == kw
}

func (p *Parser) expect(tt lexer.TokenType) lexer.Token {
	if !p.is(tt) {
		p.fail(fmt.Sprintf("unexpected token %v %q", p.cur().Type, p.cur().Literal))
	}
	return p.advance()
}

func (p *Parser) expectKw(kw string) lexer.Token {
	if !p.isKw(kw) {
		p.fail("expected keyword " + kw)
	}
	return p.advance()
}

func (p *Parser) pos_() ast.Pos {
	t := p.cur()
	return ast.Pos{Line: t.Line, Column: t.Column}
}

func (p *Parser) eatSemi() {
	if p.is(lexer.TokenSemicolon) {
		p.advance()
	}
}

// skipTypeAnnotation consumes `: Type` after a binding/parameter/return
// position. TS types are parsed only enough to be skipped (spec.md §9
// "type annotations are parsed and discarded").
func (p *Parser) skipTypeAnnotation() {
	if !p.is(lexer.TokenColon) {
		return
	}
	p.advance()
	p.skipTypeExpr()
}

func (p *Parser) skipTypeExpr() {
	depth := 0
	for {
		switch p.cur().Type {
		case lexer.TokenLt, lexer.TokenLParen, lexer.TokenLBracket, lexer.TokenLBrace:
			depth++
		case lexer.TokenGt:
			if depth == 0 {
				return
			}
			depth--
		case lexer.TokenRParen, lexer.TokenRBracket, lexer.TokenRBrace:
			if depth == 0 {
				return
			}
			depth--
		case lexer.TokenComma, lexer.TokenSemicolon, lexer.TokenAssign, lexer.TokenArrow, lexer.TokenEOF:
			if depth == 0 {
				return
			}
		}
		p.advance()
	}
}

// skipGenericParams consumes a leading `<T, U extends V>` list.
func (p *Parser) skipGenericParams() {
	if !p.is(lexer.TokenLt) {
		return
	}
	depth := 0
	for {
		switch p.cur().Type {
		case lexer.TokenLt:
			depth++
		case lexer.TokenGt:
			depth--
			p.advance()
			if depth == 0 {
				return
			}
			continue
		case lexer.TokenEOF:
			return
		}
		p.advance()
	}
}

func (p *Parser) parseProgram() *ast.Program {
	prog := &ast.Program{}
	for !p.is(lexer.TokenEOF) {
		prog.Body = append(prog.Body, p.parseStatement())
	}
	return prog
}

func (p *Parser) parseStatement() ast.Stmt {
	pos := p.pos_()
	switch {
	case p.is(lexer.TokenLBrace):
		return p.parseBlock()
	case p.is(lexer.TokenSemicolon):
		p.advance()
		return &ast.EmptyStmt{}
	case p.isKw("var") || p.isKw("let") || p.isKw("const"):
		d := p.parseVarDecl()
		p.eatSemi()
		return d
	case p.isKw("if"):
		return p.parseIf()
	case p.isKw("while"):
		return p.parseWhile()
	case p.isKw("do"):
		return p.parseDoWhile()
	case p.isKw("for"):
		return p.parseFor()
	case p.isKw("return"):
		p.advance()
		var arg ast.Expr
		if !p.is(lexer.TokenSemicolon) && !p.is(lexer.TokenRBrace) && !p.is(lexer.TokenEOF) {
			arg = p.parseExpression()
		}
		p.eatSemi()
		return &ast.ReturnStmt{Base: ast.Base{Pos: pos}, Arg: arg}
	case p.isKw("break"):
		p.advance()
		label := ""
		if p.is(lexer.TokenIdentifier) {
			label = p.advance().Literal
		}
		p.eatSemi()
		return &ast.BreakStmt{Base: ast.Base{Pos: pos}, Label: label}
	case p.isKw("continue"):
		p.advance()
		label := ""
		if p.is(lexer.TokenIdentifier) {
			label = p.advance().Literal
		}
		p.eatSemi()
		return &ast.ContinueStmt{Base: ast.Base{Pos: pos}, Label: label}
	case p.isKw("throw"):
		p.advance()
		arg := p.parseExpression()
		p.eatSemi()
		return &ast.ThrowStmt{Base: ast.Base{Pos: pos}, Arg: arg}
	case p.isKw("try"):
		return p.parseTry()
	case p.isKw("function"):
		return &ast.FunctionDecl{Base: ast.Base{Pos: pos}, Fn: p.parseFunction(false)}
	case p.isKw("async") && p.peekAt(1).Type == lexer.TokenKeyword && p.peekAt(1).Literal == "function":
		p.advance()
		fn := p.parseFunction(false)
		fn.IsAsync = true
		return &ast.FunctionDecl{Base: ast.Base{Pos: pos}, Fn: fn}
	case p.isKw("class"):
		return &ast.ClassDecl{Base: ast.Base{Pos: pos}, Class: p.parseClass()}
	case p.isKw("interface") || p.isKw("type") || p.isKw("namespace") || p.isKw("declare") || p.isKw("enum"):
		return p.parseTypeOnlyOrNamespace()
	case p.isKw("export"):
		p.advance()
		if p.isKw("default") {
			p.advance()
		}
		return p.parseStatement()
	case p.is(lexer.TokenIdentifier) && p.peekAt(1).Type == lexer.TokenColon:
		label := p.advance().Literal
		p.advance()
		return &ast.LabeledStmt{Base: ast.Base{Pos: pos}, Label: label, Body: p.parseStatement()}
	default:
		e := p.parseExpression()
		p.eatSemi()
		return &ast.ExprStmt{Base: ast.Base{Pos: pos}, X: e}
	}
}

// parseTypeOnlyOrNamespace consumes TS-only declarations that lower to
// nothing the VM executes (interface/type) or to plain object construction
// (namespace/enum), per spec.md §9 and SPEC_FULL.md §4. Namespaces and enums
// are lowered here, to const declarations the compiler handles like any
// other.
func (p *Parser) parseTypeOnlyOrNamespace() ast.Stmt {
	pos := p.pos_()
	if p.isKw("declare") {
		p.advance()
		return p.parseStatement()
	}
	if p.isKw("interface") {
		p.advance()
		p.advance() // name
		p.skipGenericParams()
		if p.isKw("extends") {
			p.advance()
			for !p.is(lexer.TokenLBrace) {
				p.advance()
			}
		}
		p.skipBalanced(lexer.TokenLBrace, lexer.TokenRBrace)
		return &ast.EmptyStmt{Base: ast.Base{Pos: pos}}
	}
	if p.isKw("type") {
		p.advance()
		p.advance() // name
		p.skipGenericParams()
		p.expect(lexer.TokenAssign)
		p.skipTypeExpr()
		p.eatSemi()
		return &ast.EmptyStmt{Base: ast.Base{Pos: pos}}
	}
	if p.isKw("enum") {
		p.advance()
		name := p.advance().Literal
		p.expect(lexer.TokenLBrace)
		var decls []ast.VarDeclarator
		n := 0.0
		for !p.is(lexer.TokenRBrace) {
			memberName := p.advance().Literal
			var init ast.Expr = &ast.NumberLit{Value: n}
			if p.is(lexer.TokenAssign) {
				p.advance()
				init = p.parseAssignExpr()
			}
			decls = append(decls, ast.VarDeclarator{
				Target: &ast.IdentPattern{Name: memberName},
				Init:   init,
			})
			n++
			if p.is(lexer.TokenComma) {
				p.advance()
			}
		}
		p.expect(lexer.TokenRBrace)
		// Lower `enum E { A, B }` to a namespace object assigned to E.
		obj := &ast.ObjectLit{}
		for _, d := range decls {
			obj.Props = append(obj.Props, ast.ObjectProp{
				Key: &ast.Ident{Name: d.Target.(*ast.IdentPattern).Name}, Value: d.Init, Kind: ast.PropInit,
			})
		}
		return &ast.VarDecl{Base: ast.Base{Pos: pos}, Kind: ast.VarConst, Decls: []ast.VarDeclarator{{
			Target: &ast.IdentPattern{Name: name}, Init: obj,
		}}}
	}
	// namespace N { ... } lowers to `const N = (function(){ ... })()`. The
	// function has no return statement, so N is undefined and the
	// namespace's members are not reachable through it.
	p.expectKw("namespace")
	name := p.advance().Literal
	body := p.parseBlock()
	fn := &ast.FunctionExpr{Body: body.Body}
	iife := &ast.CallExpr{Callee: fn}
	return &ast.VarDecl{Base: ast.Base{Pos: pos}, Kind: ast.VarConst, Decls: []ast.VarDeclarator{{
		Target: &ast.IdentPattern{Name: name}, Init: iife,
	}}}
}

func (p *Parser) skipBalanced(open, close lexer.TokenType) {
	p.expect(open)
	depth := 1
	for depth > 0 && !p.is(lexer.TokenEOF) {
		if p.is(open) {
			depth++
		} else if p.is(close) {
			depth--
			if depth == 0 {
				p.advance()
				return
			}
		}
		p.advance()
	}
}

func (p *Parser) parseBlock() *ast.BlockStmt {
	pos := p.pos_()
	p.expect(lexer.TokenLBrace)
	b := &ast.BlockStmt{Base: ast.Base{Pos: pos}}
	for !p.is(lexer.TokenRBrace) && !p.is(lexer.TokenEOF) {
		b.Body = append(b.Body, p.parseStatement())
	}
	p.expect(lexer.TokenRBrace)
	return b
}

func varKindOf(lit string) ast.VarKind {
	switch lit {
	case "let":
		return ast.VarLet
	case "const":
		return ast.VarConst
	default:
		return ast.VarVar
	}
}

func (p *Parser) parseVarDecl() *ast.VarDecl {
	pos := p.pos_()
	kind := varKindOf(p.advance().Literal)
	d := &ast.VarDecl{Base: ast.Base{Pos: pos}, Kind: kind}
	for {
		target := p.parseBindingPattern()
		var init ast.Expr
		if p.is(lexer.TokenAssign) {
			p.advance()
			init = p.parseAssignExpr()
		}
		d.Decls = append(d.Decls, ast.VarDeclarator{Target: target, Init: init})
		if p.is(lexer.TokenComma) {
			p.advance()
			continue
		}
		break
	}
	return d
}

func (p *Parser) parseBindingPattern() ast.Pattern {
	pos := p.pos_()
	switch {
	case p.is(lexer.TokenLBracket):
		p.advance()
		var elems []ast.Pattern
		for !p.is(lexer.TokenRBracket) {
			if p.is(lexer.TokenComma) {
				elems = append(elems, nil)
				p.advance()
				continue
			}
			if p.is(lexer.TokenDotDotDot) {
				p.advance()
				elems = append(elems, &ast.RestPattern{Base: ast.Base{Pos: pos}, Arg: p.parseBindingPattern()})
			} else {
				elems = append(elems, p.parseBindingPattern())
			}
			if p.is(lexer.TokenComma) {
				p.advance()
			}
		}
		p.expect(lexer.TokenRBracket)
		p.skipTypeAnnotation()
		return &ast.ArrayPattern{Base: ast.Base{Pos: pos}, Elements: elems}
	case p.is(lexer.TokenLBrace):
		p.advance()
		op := &ast.ObjectPattern{Base: ast.Base{Pos: pos}}
		for !p.is(lexer.TokenRBrace) {
			if p.is(lexer.TokenDotDotDot) {
				p.advance()
				name := p.expect(lexer.TokenIdentifier).Literal
				op.Rest = &ast.IdentPattern{Name: name}
			} else {
				computed := false
				var keyExpr ast.Expr
				name := ""
				if p.is(lexer.TokenLBracket) {
					computed = true
					p.advance()
					keyExpr = p.parseAssignExpr()
					p.expect(lexer.TokenRBracket)
				} else {
					name = p.advance().Literal
				}
				var value ast.Pattern = &ast.IdentPattern{Name: name}
				if p.is(lexer.TokenColon) {
					p.advance()
					value = p.parseBindingPattern()
				}
				if p.is(lexer.TokenAssign) {
					p.advance()
					def := p.parseAssignExpr()
					if ip, ok := value.(*ast.IdentPattern); ok {
						ip.Default = def
					}
				}
				op.Props = append(op.Props, ast.ObjectPatternProp{Key: name, Computed: computed, KeyExpr: keyExpr, Value: value})
			}
			if p.is(lexer.TokenComma) {
				p.advance()
			}
		}
		p.expect(lexer.TokenRBrace)
		p.skipTypeAnnotation()
		return op
	default:
		name := p.expect(lexer.TokenIdentifier).Literal
		p.skipTypeAnnotation()
		ip := &ast.IdentPattern{Base: ast.Base{Pos: pos}, Name: name}
		if p.is(lexer.TokenAssign) {
			p.advance()
			ip.Default = p.parseAssignExpr()
		}
		return ip
	}
}

func (p *Parser) parseIf() ast.Stmt {
	pos := p.pos_()
	p.advance()
	p.expect(lexer.TokenLParen)
	test := p.parseExpression()
	p.expect(lexer.TokenRParen)
	cons := p.parseStatement()
	var alt ast.Stmt
	if p.isKw("else") {
		p.advance()
		alt = p.parseStatement()
	}
	return &ast.IfStmt{Base: ast.Base{Pos: pos}, Test: test, Cons: cons, Alt: alt}
}

func (p *Parser) parseWhile() ast.Stmt {
	pos := p.pos_()
	p.advance()
	p.expect(lexer.TokenLParen)
	test := p.parseExpression()
	p.expect(lexer.TokenRParen)
	return &ast.WhileStmt{Base: ast.Base{Pos: pos}, Test: test, Body: p.parseStatement()}
}

func (p *Parser) parseDoWhile() ast.Stmt {
	pos := p.pos_()
	p.advance()
	body := p.parseStatement()
	p.expectKw("while")
	p.expect(lexer.TokenLParen)
	test := p.parseExpression()
	p.expect(lexer.TokenRParen)
	p.eatSemi()
	return &ast.DoWhileStmt{Base: ast.Base{Pos: pos}, Test: test, Body: body}
}

func (p *Parser) parseFor() ast.Stmt {
	pos := p.pos_()
	p.advance()
	isAwait := false
	if p.isKw("await") {
		p.advance()
		isAwait = true
	}
	p.expect(lexer.TokenLParen)

	if p.isKw("var") || p.isKw("let") || p.isKw("const") {
		kindTok := p.cur().Literal
		kind := varKindOf(kindTok)
		save := p.pos
		p.advance()
		target := p.parseBindingPattern()
		if p.isKw("of") || p.isKw("in") {
			fkind := ast.ForOf
			if p.isKw("in") {
				fkind = ast.ForIn
			}
			p.advance()
			right := p.parseAssignExpr()
			p.expect(lexer.TokenRParen)
			return &ast.ForEachStmt{Base: ast.Base{Pos: pos}, Kind: fkind, IsAwait: isAwait, DeclKind: kind,
				Declares: true, Target: target, Right: right, Body: p.parseStatement()}
		}
		p.pos = save
		initDecl := p.parseVarDecl()
		return p.parseForClassic(pos, initDecl)
	}

	if p.is(lexer.TokenSemicolon) {
		return p.parseForClassic(pos, nil)
	}

	save := p.pos
	target := p.tryParseAssignTarget()
	if target != nil && (p.isKw("of") || p.isKw("in")) {
		fkind := ast.ForOf
		if p.isKw("in") {
			fkind = ast.ForIn
		}
		p.advance()
		right := p.parseAssignExpr()
		p.expect(lexer.TokenRParen)
		return &ast.ForEachStmt{Base: ast.Base{Pos: pos}, Kind: fkind, IsAwait: isAwait,
			Declares: false, Target: target, Right: right, Body: p.parseStatement()}
	}
	p.pos = save
	initExpr := p.parseExpression()
	return p.parseForClassic(pos, &ast.ExprStmt{X: initExpr})
}

// tryParseAssignTarget attempts to parse an existing-binding for-of/for-in
// target (e.g. `for (x of xs)` or `for ([a,b] of pairs)`), falling back to
// nil (caller re-parses as a general expression) when what follows isn't a
// simple pattern shape.
func (p *Parser) tryParseAssignTarget() ast.Pattern {
	defer func() { recover() }()
	switch {
	case p.is(lexer.TokenIdentifier):
		return &ast.IdentPattern{Name: p.advance().Literal}
	case p.is(lexer.TokenLBracket), p.is(lexer.TokenLBrace):
		return p.parseBindingPattern()
	}
	return nil
}

func (p *Parser) parseForClassic(pos ast.Pos, init ast.Node) ast.Stmt {
	p.expect(lexer.TokenSemicolon)
	var test ast.Expr
	if !p.is(lexer.TokenSemicolon) {
		test = p.parseExpression()
	}
	p.expect(lexer.TokenSemicolon)
	var update ast.Expr
	if !p.is(lexer.TokenRParen) {
		update = p.parseExpression()
	}
	p.expect(lexer.TokenRParen)
	return &ast.ForStmt{Base: ast.Base{Pos: pos}, Init: init, Test: test, Update: update, Body: p.parseStatement()}
}

func (p *Parser) parseTry() ast.Stmt {
	pos := p.pos_()
	p.advance()
	block := p.parseBlock()
	t := &ast.TryStmt{Base: ast.Base{Pos: pos}, Block: block}
	if p.isKw("catch") {
		p.advance()
		cc := &ast.CatchClause{}
		if p.is(lexer.TokenLParen) {
			p.advance()
			cc.Param = p.parseBindingPattern()
			p.expect(lexer.TokenRParen)
		}
		cc.Body = p.parseBlock()
		t.Catch = cc
	}
	if p.isKw("finally") {
		p.advance()
		t.Finally = p.parseBlock()
	}
	return t
}

func (p *Parser) parseFunction(isExpr bool) *ast.FunctionExpr {
	pos := p.pos_()
	p.expectKw("function")
	isGen := false
	if p.is(lexer.TokenStar) {
		p.advance()
		isGen = true
	}
	name := ""
	if p.is(lexer.TokenIdentifier) {
		name = p.advance().Literal
	}
	p.skipGenericParams()
	params := p.parseParams()
	p.skipTypeAnnotation()
	body := p.parseBlock()
	return &ast.FunctionExpr{Base: ast.Base{Pos: pos}, Name: name, Params: params, Body: body.Body, IsGenerator: isGen}
}

func (p *Parser) parseParams() []ast.Pattern {
	p.expect(lexer.TokenLParen)
	var params []ast.Pattern
	for !p.is(lexer.TokenRParen) {
		p.skipParamModifiers()
		if p.is(lexer.TokenDotDotDot) {
			p.advance()
			params = append(params, &ast.RestPattern{Arg: p.parseBindingPattern()})
		} else {
			params = append(params, p.parseBindingPattern())
		}
		if p.is(lexer.TokenComma) {
			p.advance()
		}
	}
	p.expect(lexer.TokenRParen)
	return params
}

// skipParamModifiers consumes TS constructor-parameter-property modifiers
// (public/private/protected/readonly), which are parsed and discarded like
// other type annotations (spec.md §9).
func (p *Parser) skipParamModifiers() {
	for p.isKw("public") || p.isKw("private") || p.isKw("protected") || p.isKw("readonly") {
		p.advance()
	}
}

func (p *Parser) parseClass() *ast.ClassExpr {
	pos := p.pos_()
	p.expectKw("class")
	c := &ast.ClassExpr{Base: ast.Base{Pos: pos}}
	if p.is(lexer.TokenIdentifier) {
		c.Name = p.advance().Literal
	}
	p.skipGenericParams()
	if p.isKw("extends") {
		p.advance()
		c.SuperClass = p.parseLeftHandSide()
	}
	if p.isKw("implements") {
		p.advance()
		for !p.is(lexer.TokenLBrace) {
			p.advance()
		}
	}
	p.expect(lexer.TokenLBrace)
	for !p.is(lexer.TokenRBrace) {
		if p.is(lexer.TokenSemicolon) {
			p.advance()
			continue
		}
		c.Members = append(c.Members, p.parseClassMember())
	}
	p.expect(lexer.TokenRBrace)
	return c
}

func (p *Parser) parseClassMember() ast.ClassMember {
	isStatic := false
	if p.isKw("static") && p.peekAt(1).Type != lexer.TokenLParen {
		p.advance()
		isStatic = true
	}
	for p.isKw("public") || p.isKw("private") || p.isKw("protected") || p.isKw("readonly") || p.isKw("abstract") {
		p.advance()
	}
	kind := ast.MemberMethod
	isAsync := false
	isGen := false
	if p.isKw("async") && p.peekAt(1).Type != lexer.TokenLParen && p.peekAt(1).Type != lexer.TokenAssign {
		p.advance()
		isAsync = true
	}
	if p.is(lexer.TokenStar) {
		p.advance()
		isGen = true
	}
	if p.isKw("get") && p.peekAt(1).Type != lexer.TokenLParen {
		p.advance()
		kind = ast.MemberGetter
	} else if p.isKw("set") && p.peekAt(1).Type != lexer.TokenLParen {
		p.advance()
		kind = ast.MemberSetter
	}

	isPrivate := false
	name := ""
	computed := false
	var keyExpr ast.Expr
	if p.is(lexer.TokenHash) {
		p.advance()
		isPrivate = true
	}
	if p.is(lexer.TokenLBracket) {
		computed = true
		p.advance()
		keyExpr = p.parseAssignExpr()
		p.expect(lexer.TokenRBracket)
	} else {
		name = p.advance().Literal
	}

	if p.is(lexer.TokenLParen) {
		fnPos := p.pos_()
		p.skipGenericParams()
		params := p.parseParams()
		p.skipTypeAnnotation()
		body := p.parseBlock()
		fn := &ast.FunctionExpr{Base: ast.Base{Pos: fnPos}, Name: name, Params: params, Body: body.Body, IsAsync: isAsync, IsGenerator: isGen}
		return ast.ClassMember{Name: name, Computed: computed, KeyExpr: keyExpr, IsPrivate: isPrivate, IsStatic: isStatic, Kind: kind, Value: fn}
	}

	// Field.
	p.skipTypeAnnotation()
	var init ast.Expr
	if p.is(lexer.TokenAssign) {
		p.advance()
		init = p.parseAssignExpr()
	}
	p.eatSemi()
	return ast.ClassMember{Name: name, Computed: computed, KeyExpr: keyExpr, IsPrivate: isPrivate, IsStatic: isStatic, Kind: ast.MemberField, Value: init}
}

// --- Expressions ---

func (p *Parser) parseExpression() ast.Expr {
	pos := p.pos_()
	first := p.parseAssignExpr()
	if !p.is(lexer.TokenComma) {
		return first
	}
	seq := &ast.SequenceExpr{Base: ast.Base{Pos: pos}, Exprs: []ast.Expr{first}}
	for p.is(lexer.TokenComma) {
		p.advance()
		seq.Exprs = append(seq.Exprs, p.parseAssignExpr())
	}
	return seq
}

var assignOps = map[lexer.TokenType]string{
	lexer.TokenAssign: "=", lexer.TokenPlusAssign: "+=", lexer.TokenMinusAssign: "-=",
	lexer.TokenStarAssign: "*=", lexer.TokenSlashAssign: "/=", lexer.TokenPercentAssign: "%=",
	lexer.TokenExpAssign: "**=", lexer.TokenAndAssign: "&&=", lexer.TokenOrAssign: "||=",
	lexer.TokenNullishAssign: "??=", lexer.TokenAmpAssign: "&=", lexer.TokenPipeAssign: "|=",
	lexer.TokenCaretAssign: "^=", lexer.TokenShlAssign: "<<=", lexer.TokenShrAssign: ">>=",
	lexer.TokenUShrAssign: ">>>=",
}

func (p *Parser) parseAssignExpr() ast.Expr {
	pos := p.pos_()
	if p.isArrowAhead() {
		return p.parseArrow()
	}
	if p.isKw("yield") {
		return p.parseYield()
	}
	left := p.parseConditional()
	if op, ok := assignOps[p.cur().Type]; ok {
		p.advance()
		right := p.parseAssignExpr()
		return &ast.AssignExpr{Base: ast.Base{Pos: pos}, Op: op, Target: left, Value: right}
	}
	return left
}

func (p *Parser) parseYield() ast.Expr {
	pos := p.pos_()
	p.advance()
	delegate := false
	if p.is(lexer.TokenStar) {
		p.advance()
		delegate = true
	}
	var arg ast.Expr
	if !p.is(lexer.TokenSemicolon) && !p.is(lexer.TokenRParen) && !p.is(lexer.TokenRBrace) &&
		!p.is(lexer.TokenRBracket) && !p.is(lexer.TokenComma) && !p.is(lexer.TokenEOF) {
		arg = p.parseAssignExpr()
	}
	return &ast.YieldExpr{Base: ast.Base{Pos: pos}, Arg: arg, Delegate: delegate}
}

// isArrowAhead performs limited lookahead to distinguish `(a, b) => ...` /
// `x => ...` from a parenthesized expression.
func (p *Parser) isArrowAhead() bool {
	if p.is(lexer.TokenIdentifier) && p.peekAt(1).Type == lexer.TokenArrow {
		return true
	}
	if p.isKw("async") && p.peekAt(1).Type == lexer.TokenIdentifier && p.peekAt(2).Type == lexer.TokenArrow {
		return true
	}
	start := p.pos
	asyncSkip := 0
	if p.isKw("async") && (p.peekAt(1).Type == lexer.TokenLParen) {
		asyncSkip = 1
	}
	idx := start + asyncSkip
	if idx >= len(p.toks) || p.toks[idx].Type != lexer.TokenLParen {
		return false
	}
	depth := 0
	i := idx
	for ; i < len(p.toks); i++ {
		switch p.toks[i].Type {
		case lexer.TokenLParen:
			depth++
		case lexer.TokenRParen:
			depth--
			if depth == 0 {
				goto found
			}
		case lexer.TokenEOF:
			return false
		}
	}
	return false
found:
	j := i + 1
	if j < len(p.toks) && p.toks[j].Type == lexer.TokenColon {
		// skip return type annotation
		j++
		depth2 := 0
		for j < len(p.toks) {
			switch p.toks[j].Type {
			case lexer.TokenLt, lexer.TokenLParen, lexer.TokenLBracket, lexer.TokenLBrace:
				depth2++
			case lexer.TokenGt, lexer.TokenRParen, lexer.TokenRBracket, lexer.TokenRBrace:
				if depth2 == 0 {
					goto afterType
				}
				depth2--
			case lexer.TokenArrow, lexer.TokenEOF:
				if depth2 == 0 {
					goto afterType
				}
			}
			j++
		}
	}
afterType:
	return j < len(p.toks) && p.toks[j].Type == lexer.TokenArrow
}

func (p *Parser) parseArrow() ast.Expr {
	pos := p.pos_()
	isAsync := false
	if p.isKw("async") {
		p.advance()
		isAsync = true
	}
	var params []ast.Pattern
	if p.is(lexer.TokenIdentifier) {
		params = []ast.Pattern{&ast.IdentPattern{Name: p.advance().Literal}}
	} else {
		params = p.parseParams()
		p.skipTypeAnnotation()
	}
	p.expect(lexer.TokenArrow)
	fn := &ast.FunctionExpr{Base: ast.Base{Pos: pos}, Params: params, IsArrow: true, IsAsync: isAsync}
	if p.is(lexer.TokenLBrace) {
		fn.Body = p.parseBlock().Body
	} else {
		fn.ExprBody = p.parseAssignExpr()
	}
	return fn
}

func (p *Parser) parseConditional() ast.Expr {
	pos := p.pos_()
	test := p.parseNullish()
	if p.is(lexer.TokenQuestion) {
		p.advance()
		cons := p.parseAssignExpr()
		p.expect(lexer.TokenColon)
		alt := p.parseAssignExpr()
		return &ast.ConditionalExpr{Base: ast.Base{Pos: pos}, Test: test, Cons: cons, Alt: alt}
	}
	return test
}

func (p *Parser) parseNullish() ast.Expr {
	pos := p.pos_()
	left := p.parseOr()
	for p.is(lexer.TokenNullishCoalesce) {
		p.advance()
		right := p.parseOr()
		left = &ast.LogicalExpr{Base: ast.Base{Pos: pos}, Op: "??", Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseOr() ast.Expr {
	pos := p.pos_()
	left := p.parseAnd()
	for p.is(lexer.TokenOrOr) {
		p.advance()
		left = &ast.LogicalExpr{Base: ast.Base{Pos: pos}, Op: "||", Left: left, Right: p.parseAnd()}
	}
	return left
}

func (p *Parser) parseAnd() ast.Expr {
	pos := p.pos_()
	left := p.parseBitOr()
	for p.is(lexer.TokenAndAnd) {
		p.advance()
		left = &ast.LogicalExpr{Base: ast.Base{Pos: pos}, Op: "&&", Left: left, Right: p.parseBitOr()}
	}
	return left
}

func (p *Parser) parseBitOr() ast.Expr {
	pos := p.pos_()
	left := p.parseBitXor()
	for p.is(lexer.TokenPipe) {
		p.advance()
		left = &ast.BinaryExpr{Base: ast.Base{Pos: pos}, Op: "|", Left: left, Right: p.parseBitXor()}
	}
	return left
}

func (p *Parser) parseBitXor() ast.Expr {
	pos := p.pos_()
	left := p.parseBitAnd()
	for p.is(lexer.TokenCaret) {
		p.advance()
		left = &ast.BinaryExpr{Base: ast.Base{Pos: pos}, Op: "^", Left: left, Right: p.parseBitAnd()}
	}
	return left
}

func (p *Parser) parseBitAnd() ast.Expr {
	pos := p.pos_()
	left := p.parseEquality()
	for p.is(lexer.TokenAmp) {
		p.advance()
		left = &ast.BinaryExpr{Base: ast.Base{Pos: pos}, Op: "&", Left: left, Right: p.parseEquality()}
	}
	return left
}

var eqOps = map[lexer.TokenType]string{
	lexer.TokenEq: "==", lexer.TokenNotEq: "!=", lexer.TokenStrictEq: "===", lexer.TokenStrictNe: "!==",
}

func (p *Parser) parseEquality() ast.Expr {
	pos := p.pos_()
	left := p.parseRelational()
	for {
		op, ok := eqOps[p.cur().Type]
		if !ok {
			return left
		}
		p.advance()
		left = &ast.BinaryExpr{Base: ast.Base{Pos: pos}, Op: op, Left: left, Right: p.parseRelational()}
	}
}

var relOps = map[lexer.TokenType]string{
	lexer.TokenLt: "<", lexer.TokenGt: ">", lexer.TokenLte: "<=", lexer.TokenGte: ">=",
}

func (p *Parser) parseRelational() ast.Expr {
	pos := p.pos_()
	left := p.parseShift()
	for {
		if op, ok := relOps[p.cur().Type]; ok {
			p.advance()
			left = &ast.BinaryExpr{Base: ast.Base{Pos: pos}, Op: op, Left: left, Right: p.parseShift()}
			continue
		}
		if p.isKw("instanceof") {
			p.advance()
			left = &ast.BinaryExpr{Base: ast.Base{Pos: pos}, Op: "instanceof", Left: left, Right: p.parseShift()}
			continue
		}
		if p.isKw("in") {
			p.advance()
			left = &ast.BinaryExpr{Base: ast.Base{Pos: pos}, Op: "in", Left: left, Right: p.parseShift()}
			continue
		}
		if p.isKw("as") {
			p.advance()
			p.skipTypeExpr()
			continue
		}
		return left
	}
}

var shiftOps = map[lexer.TokenType]string{
	lexer.TokenShl: "<<", lexer.TokenShr: ">>", lexer.TokenUShr: ">>>",
}

func (p *Parser) parseShift() ast.Expr {
	pos := p.pos_()
	left := p.parseAdditive()
	for {
		op, ok := shiftOps[p.cur().Type]
		if !ok {
			return left
		}
		p.advance()
		left = &ast.BinaryExpr{Base: ast.Base{Pos: pos}, Op: op, Left: left, Right: p.parseAdditive()}
	}
}

func (p *Parser) parseAdditive() ast.Expr {
	pos := p.pos_()
	left := p.parseMultiplicative()
	for p.is(lexer.TokenPlus) || p.is(lexer.TokenMinus) {
		op := "+"
		if p.is(lexer.TokenMinus) {
			op = "-"
		}
		p.advance()
		left = &ast.BinaryExpr{Base: ast.Base{Pos: pos}, Op: op, Left: left, Right: p.parseMultiplicative()}
	}
	return left
}

func (p *Parser) parseMultiplicative() ast.Expr {
	pos := p.pos_()
	left := p.parseExponent()
	for p.is(lexer.TokenStar) || p.is(lexer.TokenSlash) || p.is(lexer.TokenPercent) {
		op := map[lexer.TokenType]string{lexer.TokenStar: "*", lexer.TokenSlash: "/", lexer.TokenPercent: "%"}[p.cur().Type]
		p.advance()
		left = &ast.BinaryExpr{Base: ast.Base{Pos: pos}, Op: op, Left: left, Right: p.parseExponent()}
	}
	return left
}

func (p *Parser) parseExponent() ast.Expr {
	pos := p.pos_()
	left := p.parseUnary()
	if p.is(lexer.TokenExp) {
		p.advance()
		right := p.parseExponent() // right-associative
		return &ast.BinaryExpr{Base: ast.Base{Pos: pos}, Op: "**", Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseUnary() ast.Expr {
	pos := p.pos_()
	switch {
	case p.is(lexer.TokenPlus):
		p.advance()
		return &ast.UnaryExpr{Base: ast.Base{Pos: pos}, Op: "+", Arg: p.parseUnary(), Prefix: true}
	case p.is(lexer.TokenMinus):
		p.advance()
		return &ast.UnaryExpr{Base: ast.Base{Pos: pos}, Op: "-", Arg: p.parseUnary(), Prefix: true}
	case p.is(lexer.TokenBang):
		p.advance()
		return &ast.UnaryExpr{Base: ast.Base{Pos: pos}, Op: "!", Arg: p.parseUnary(), Prefix: true}
	case p.is(lexer.TokenTilde):
		p.advance()
		return &ast.UnaryExpr{Base: ast.Base{Pos: pos}, Op: "~", Arg: p.parseUnary(), Prefix: true}
	case p.isKw("typeof"):
		p.advance()
		return &ast.UnaryExpr{Base: ast.Base{Pos: pos}, Op: "typeof", Arg: p.parseUnary(), Prefix: true}
	case p.isKw("void"):
		p.advance()
		return &ast.UnaryExpr{Base: ast.Base{Pos: pos}, Op: "void", Arg: p.parseUnary(), Prefix: true}
	case p.isKw("delete"):
		p.advance()
		return &ast.UnaryExpr{Base: ast.Base{Pos: pos}, Op: "delete", Arg: p.parseUnary(), Prefix: true}
	case p.isKw("await"):
		p.advance()
		return &ast.AwaitExpr{Base: ast.Base{Pos: pos}, Arg: p.parseUnary()}
	case p.is(lexer.TokenIncrement):
		p.advance()
		return &ast.UpdateExpr{Base: ast.Base{Pos: pos}, Op: "++", Arg: p.parseUnary(), Prefix: true}
	case p.is(lexer.TokenDecrement):
		p.advance()
		return &ast.UpdateExpr{Base: ast.Base{Pos: pos}, Op: "--", Arg: p.parseUnary(), Prefix: true}
	default:
		return p.parsePostfix()
	}
}

func (p *Parser) parsePostfix() ast.Expr {
	pos := p.pos_()
	e := p.parseLeftHandSide()
	if p.is(lexer.TokenIncrement) {
		p.advance()
		return &ast.UpdateExpr{Base: ast.Base{Pos: pos}, Op: "++", Arg: e, Prefix: false}
	}
	if p.is(lexer.TokenDecrement) {
		p.advance()
		return &ast.UpdateExpr{Base: ast.Base{Pos: pos}, Op: "--", Arg: e, Prefix: false}
	}
	return e
}

func (p *Parser) parseLeftHandSide() ast.Expr {
	pos := p.pos_()
	var e ast.Expr
	if p.isKw("new") {
		e = p.parseNew()
	} else {
		e = p.parsePrimary()
	}
	for {
		switch {
		case p.is(lexer.TokenDot):
			p.advance()
			if p.is(lexer.TokenHash) {
				p.advance()
				name := p.advance().Literal
				e = &ast.MemberExpr{Base: ast.Base{Pos: pos}, Object: e, PrivateName: name}
				continue
			}
			name := p.advance().Literal
			e = &ast.MemberExpr{Base: ast.Base{Pos: pos}, Object: e, Property: &ast.Ident{Name: name}}
		case p.is(lexer.TokenOptionalDot):
			p.advance()
			if p.is(lexer.TokenLParen) {
				args := p.parseArgs()
				e = &ast.CallExpr{Base: ast.Base{Pos: pos}, Callee: e, Args: args, Optional: true}
				continue
			}
			name := p.advance().Literal
			e = &ast.MemberExpr{Base: ast.Base{Pos: pos}, Object: e, Property: &ast.Ident{Name: name}, Optional: true}
		case p.is(lexer.TokenLBracket):
			p.advance()
			idx := p.parseExpression()
			p.expect(lexer.TokenRBracket)
			e = &ast.MemberExpr{Base: ast.Base{Pos: pos}, Object: e, Property: idx, Computed: true}
		case p.is(lexer.TokenLParen):
			args := p.parseArgs()
			e = &ast.CallExpr{Base: ast.Base{Pos: pos}, Callee: e, Args: args}
		case p.is(lexer.TokenTemplateString) && isCallable(e):
			// tagged template: treat the template as a single string arg
			// (tagged-template raw/cooked split is out of scope, SPEC_FULL.md §5).
			tmpl := p.parseTemplateExpr()
			e = &ast.CallExpr{Base: ast.Base{Pos: pos}, Callee: e, Args: []ast.Expr{tmpl}}
		default:
			return e
		}
	}
}

func isCallable(e ast.Expr) bool {
	switch e.(type) {
	case *ast.Ident, *ast.MemberExpr, *ast.CallExpr:
		return true
	}
	return false
}

func (p *Parser) parseNew() ast.Expr {
	pos := p.pos_()
	p.advance()
	if p.is(lexer.TokenDot) { // new.target — unsupported, lower to undefined
		p.advance()
		p.advance()
		return &ast.UndefinedLit{Base: ast.Base{Pos: pos}}
	}
	var callee ast.Expr
	if p.isKw("new") {
		callee = p.parseNew()
	} else {
		callee = p.parsePrimary()
	}
	for p.is(lexer.TokenDot) || p.is(lexer.TokenLBracket) {
		if p.is(lexer.TokenDot) {
			p.advance()
			name := p.advance().Literal
			callee = &ast.MemberExpr{Base: ast.Base{Pos: pos}, Object: callee, Property: &ast.Ident{Name: name}}
		} else {
			p.advance()
			idx := p.parseExpression()
			p.expect(lexer.TokenRBracket)
			callee = &ast.MemberExpr{Base: ast.Base{Pos: pos}, Object: callee, Property: idx, Computed: true}
		}
	}
	var args []ast.Expr
	if p.is(lexer.TokenLParen) {
		args = p.parseArgs()
	}
	return &ast.NewExpr{Base: ast.Base{Pos: pos}, Callee: callee, Args: args}
}

func (p *Parser) parseArgs() []ast.Expr {
	p.expect(lexer.TokenLParen)
	var args []ast.Expr
	for !p.is(lexer.TokenRParen) {
		if p.is(lexer.TokenDotDotDot) {
			pos := p.pos_()
			p.advance()
			args = append(args, &ast.SpreadElement{Base: ast.Base{Pos: pos}, Arg: p.parseAssignExpr()})
		} else {
			args = append(args, p.parseAssignExpr())
		}
		if p.is(lexer.TokenComma) {
			p.advance()
		}
	}
	p.expect(lexer.TokenRParen)
	return args
}

func (p *Parser) parsePrimary() ast.Expr {
	pos := p.pos_()
	switch {
	case p.is(lexer.TokenNumber):
		lit := p.advance().Literal
		var n float64
		if strings.HasPrefix(lit, "0x") || strings.HasPrefix(lit, "0X") {
			iv, _ := strconv.ParseInt(lit[2:], 16, 64)
			n = float64(iv)
		} else {
			n, _ = strconv.ParseFloat(lit, 64)
		}
		return &ast.NumberLit{Base: ast.Base{Pos: pos}, Value: n}
	case p.is(lexer.TokenString):
		return &ast.StringLit{Base: ast.Base{Pos: pos}, Value: p.advance().Literal}
	case p.is(lexer.TokenTemplateString):
		return p.parseTemplateExpr()
	case p.is(lexer.TokenRegExp):
		lit := p.advance().Literal
		return p.regexLitToNew(pos, lit)
	case p.isKw("true"):
		p.advance()
		return &ast.BoolLit{Base: ast.Base{Pos: pos}, Value: true}
	case p.isKw("false"):
		p.advance()
		return &ast.BoolLit{Base: ast.Base{Pos: pos}, Value: false}
	case p.isKw("null"):
		p.advance()
		return &ast.NullLit{Base: ast.Base{Pos: pos}}
	case p.isKw("undefined"):
		p.advance()
		return &ast.UndefinedLit{Base: ast.Base{Pos: pos}}
	case p.isKw("this"):
		p.advance()
		return &ast.ThisExpr{Base: ast.Base{Pos: pos}}
	case p.isKw("super"):
		p.advance()
		return &ast.SuperExpr{Base: ast.Base{Pos: pos}}
	case p.isKw("function"):
		return p.parseFunction(true)
	case p.isKw("async") && p.peekAt(1).Type == lexer.TokenKeyword && p.peekAt(1).Literal == "function":
		p.advance()
		fn := p.parseFunction(true)
		fn.IsAsync = true
		return fn
	case p.isKw("class"):
		return p.parseClass()
	case p.isKw("import"):
		p.advance()
		p.expect(lexer.TokenLParen)
		src := p.parseAssignExpr()
		p.expect(lexer.TokenRParen)
		return &ast.ImportCallExpr{Base: ast.Base{Pos: pos}, Source: src}
	case p.is(lexer.TokenIdentifier):
		return &ast.Ident{Base: ast.Base{Pos: pos}, Name: p.advance().Literal}
	case p.is(lexer.TokenLParen):
		p.advance()
		e := p.parseExpression()
		p.expect(lexer.TokenRParen)
		return e
	case p.is(lexer.TokenLBracket):
		return p.parseArrayLit()
	case p.is(lexer.TokenLBrace):
		return p.parseObjectLit()
	}
	p.fail(fmt.Sprintf("unexpected token in expression: %v %q", p.cur().Type, p.cur().Literal))
	return nil
}

// regexLitToNew lowers a /pattern/flags literal to `new RegExp("pattern","flags")`.
// The stdlib installs no RegExp global, so evaluating a regex literal
// throws a ReferenceError.
func (p *Parser) regexLitToNew(pos ast.Pos, lit string) ast.Expr {
	lit = lit[1:]
	idx := strings.LastIndex(lit, "/")
	pattern := lit[:idx]
	flags := lit[idx+1:]
	return &ast.NewExpr{Base: ast.Base{Pos: pos}, Callee: &ast.Ident{Name: "RegExp"}, Args: []ast.Expr{
		&ast.StringLit{Value: pattern}, &ast.StringLit{Value: flags},
	}}
}

func (p *Parser) parseArrayLit() ast.Expr {
	pos := p.pos_()
	p.expect(lexer.TokenLBracket)
	a := &ast.ArrayLit{Base: ast.Base{Pos: pos}}
	for !p.is(lexer.TokenRBracket) {
		if p.is(lexer.TokenComma) {
			a.Elements = append(a.Elements, nil)
			p.advance()
			continue
		}
		if p.is(lexer.TokenDotDotDot) {
			sp := p.pos_()
			p.advance()
			a.Elements = append(a.Elements, &ast.SpreadElement{Base: ast.Base{Pos: sp}, Arg: p.parseAssignExpr()})
		} else {
			a.Elements = append(a.Elements, p.parseAssignExpr())
		}
		if p.is(lexer.TokenComma) {
			p.advance()
		}
	}
	p.expect(lexer.TokenRBracket)
	return a
}

func (p *Parser) parseObjectLit() ast.Expr {
	pos := p.pos_()
	p.expect(lexer.TokenLBrace)
	o := &ast.ObjectLit{Base: ast.Base{Pos: pos}}
	for !p.is(lexer.TokenRBrace) {
		if p.is(lexer.TokenDotDotDot) {
			p.advance()
			o.Props = append(o.Props, ast.ObjectProp{Kind: ast.PropSpread, Value: p.parseAssignExpr()})
			if p.is(lexer.TokenComma) {
				p.advance()
			}
			continue
		}
		kind := ast.PropInit
		isAsync := false
		isGen := false
		if p.isKw("async") && p.peekAt(1).Type != lexer.TokenColon && p.peekAt(1).Type != lexer.TokenComma && p.peekAt(1).Type != lexer.TokenLParen {
			p.advance()
			isAsync = true
		}
		if p.is(lexer.TokenStar) {
			p.advance()
			isGen = true
		}
		if (p.isKw("get") || p.isKw("set")) && p.peekAt(1).Type != lexer.TokenColon && p.peekAt(1).Type != lexer.TokenComma && p.peekAt(1).Type != lexer.TokenLParen {
			if p.isKw("get") {
				kind = ast.PropGet
			} else {
				kind = ast.PropSet
			}
			p.advance()
		}
		computed := false
		var key ast.Expr
		if p.is(lexer.TokenLBracket) {
			computed = true
			p.advance()
			key = p.parseAssignExpr()
			p.expect(lexer.TokenRBracket)
		} else if p.is(lexer.TokenString) {
			key = &ast.StringLit{Value: p.advance().Literal}
		} else if p.is(lexer.TokenNumber) {
			n, _ := strconv.ParseFloat(p.advance().Literal, 64)
			key = &ast.NumberLit{Value: n}
		} else {
			key = &ast.Ident{Name: p.advance().Literal}
		}

		var value ast.Expr
		if p.is(lexer.TokenLParen) { // method shorthand
			kind = ast.PropMethod
			params := p.parseParams()
			p.skipTypeAnnotation()
			body := p.parseBlock()
			value = &ast.FunctionExpr{Params: params, Body: body.Body, IsAsync: isAsync, IsGenerator: isGen}
		} else if p.is(lexer.TokenColon) {
			p.advance()
			value = p.parseAssignExpr()
		} else if id, ok := key.(*ast.Ident); ok {
			value = &ast.Ident{Name: id.Name} // shorthand { x }
		}
		o.Props = append(o.Props, ast.ObjectProp{Key: key, Computed: computed, Value: value, Kind: kind})
		if p.is(lexer.TokenComma) {
			p.advance()
		}
	}
	p.expect(lexer.TokenRBrace)
	return o
}

// parseTemplateExpr re-lexes a raw template body into alternating quasi
// strings and `${ expr }` expressions.
func (p *Parser) parseTemplateExpr() ast.Expr {
	pos := p.pos_()
	raw := p.advance().Literal
	t := &ast.TemplateLit{Base: ast.Base{Pos: pos}}
	var b strings.Builder
	runes := []rune(raw)
	i := 0
	for i < len(runes) {
		if runes[i] == '\\' && i+1 < len(runes) {
			b.WriteRune(unescapeRune(runes[i+1]))
			i += 2
			continue
		}
		if runes[i] == '$' && i+1 < len(runes) && runes[i+1] == '{' {
			t.Quasis = append(t.Quasis, b.String())
			b.Reset()
			depth := 1
			j := i + 2
			start := j
			for j < len(runes) && depth > 0 {
				if runes[j] == '{' {
					depth++
				} else if runes[j] == '}' {
					depth--
					if depth == 0 {
						break
					}
				}
				j++
			}
			sub := string(runes[start:j])
			if expr, err := Parse(sub); err == nil && len(expr.Body) == 1 {
				if es, ok := expr.Body[0].(*ast.ExprStmt); ok {
					t.Exprs = append(t.Exprs, es.X)
				} else {
					t.Exprs = append(t.Exprs, &ast.UndefinedLit{})
				}
			} else {
				t.Exprs = append(t.Exprs, &ast.UndefinedLit{})
			}
			i = j + 1
			continue
		}
		b.WriteRune(runes[i])
		i++
	}
	t.Quasis = append(t.Quasis, b.String())
	return t
}

func unescapeRune(r rune) rune {
	switch r {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return r
	}
}

