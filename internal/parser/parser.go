// Copyright 2025 The mycc Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package parser implements a recursive-descent parser for the top-level
// declaration grammar, and a Pratt (precedence-climbing) parser for the
// expression language nested inside it. Error recovery is limited to
// skipping to the next top-level declaration, exactly as spec.md §4.1
// specifies -- no statement-level recovery is attempted.
package parser

import (
	"strconv"

	"github.com/mycelial-lang/mycc/internal/ast"
	"github.com/mycelial-lang/mycc/internal/lexer"
	"github.com/mycelial-lang/mycc/internal/report"
	"github.com/mycelial-lang/mycc/internal/token"
)

// Parser holds the token lookahead and diagnostic sink for one parse.
type Parser struct {
	file string
	lex  *lexer.Lexer
	errs *report.Collector
	gen  ast.IDGen

	tok  token.Token // current token
	next token.Token // one token of lookahead
}

// Parse parses a complete source file into a Network declaration. Parse
// errors are appended to errs; Parse always returns a best-effort tree, so
// callers must check errs.Failed() before trusting the result.
func Parse(file, src string, errs *report.Collector) *ast.Network {
	p := &Parser{file: file, lex: lexer.New(file, src, errs), errs: errs}
	p.tok = p.lex.Next()
	p.next = p.lex.Next()
	return p.parseNetwork()
}

func (p *Parser) advance() {
	p.tok = p.next
	p.next = p.lex.Next()
}

func (p *Parser) pos() report.Pos {
	return report.Pos{File: p.file, Line: p.tok.Line, Col: p.tok.Col}
}

func (p *Parser) errorf(format string, args ...any) {
	p.errs.Errorf(report.Code{Family: report.Parse, Digit: 2}, p.pos(), format, args...)
}

// expect consumes the current token if it has kind k, reporting an error
// and leaving the cursor in place otherwise.
func (p *Parser) expect(k token.Kind) token.Token {
	if p.tok.Kind != k {
		p.errorf("unexpected token %s, expected %s", describeTok(p.tok), k)
		return p.tok
	}
	t := p.tok
	p.advance()
	return t
}

func describeTok(t token.Token) string {
	if t.Text != "" {
		return t.Kind.String() + " " + strconv.Quote(t.Text)
	}
	return t.Kind.String()
}

func (p *Parser) at(k token.Kind) bool { return p.tok.Kind == k }

func (p *Parser) accept(k token.Kind) bool {
	if p.at(k) {
		p.advance()
		return true
	}
	return false
}

// syncToDecl skips tokens until the start of the next top-level
// declaration (or EOF), the only recovery spec.md's parser offers.
func (p *Parser) syncToDecl() {
	for !p.at(token.EOF) {
		switch p.tok.Kind {
		case token.Frequencies, token.Hyphae, token.Topology, token.Struct, token.Enum, token.RBrace:
			return
		}
		p.advance()
	}
}

// ---- Top level ------------------------------------------------------

func (p *Parser) parseNetwork() *ast.Network {
	pos := p.pos()
	net := &ast.Network{Base: ast.New(&p.gen, pos)}
	p.expect(token.Network)
	net.Name = p.expect(token.Ident).Text
	p.expect(token.LBrace)

	for !p.at(token.RBrace) && !p.at(token.EOF) {
		switch p.tok.Kind {
		case token.Frequencies:
			net.Frequencies = append(net.Frequencies, p.parseFrequencyBlock()...)
		case token.Struct, token.Enum:
			net.Types = append(net.Types, p.parseTypeDecl())
		case token.Hyphae:
			net.Hyphae = append(net.Hyphae, p.parseHyphalBlock()...)
		case token.Topology:
			net.Topology = p.parseTopology()
		default:
			p.errorf("unexpected token %s at network top level", describeTok(p.tok))
			p.syncToDecl()
		}
	}
	p.expect(token.RBrace)
	return net
}

func (p *Parser) parseFields() []ast.Field {
	p.expect(token.LBrace)
	var fields []ast.Field
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		name := p.expect(token.Ident).Text
		p.expect(token.Colon)
		typ := p.parseTypeExpr()
		fields = append(fields, ast.Field{Name: name, Type: typ})
		if !p.accept(token.Comma) {
			break
		}
	}
	p.expect(token.RBrace)
	return fields
}

func (p *Parser) parseTypeExpr() ast.TypeExpr {
	name := p.expect(token.Ident).Text
	te := ast.TypeExpr{Name: name}
	if p.accept(token.Lt) {
		te.Args = append(te.Args, p.parseTypeExpr())
		for p.accept(token.Comma) {
			te.Args = append(te.Args, p.parseTypeExpr())
		}
		p.expect(token.Gt)
	}
	return te
}

// parseFrequencyBlock parses `frequencies { NAME { fields... } ... }`.
func (p *Parser) parseFrequencyBlock() []*ast.FrequencyDecl {
	p.expect(token.Frequencies)
	p.expect(token.LBrace)
	var out []*ast.FrequencyDecl
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		pos := p.pos()
		name := p.expect(token.Ident).Text
		fields := p.parseFields()
		out = append(out, &ast.FrequencyDecl{Base: ast.New(&p.gen, pos), Name: name, Fields: fields})
	}
	p.expect(token.RBrace)
	return out
}

func (p *Parser) parseTypeDecl() *ast.TypeDecl {
	pos := p.pos()
	isEnum := p.at(token.Enum)
	p.advance() // struct | enum
	name := p.expect(token.Ident).Text
	decl := &ast.TypeDecl{Base: ast.New(&p.gen, pos), Name: name, IsEnum: isEnum}
	if isEnum {
		p.expect(token.LBrace)
		for !p.at(token.RBrace) && !p.at(token.EOF) {
			vname := p.expect(token.Ident).Text
			v := ast.EnumVariant{Name: vname}
			if p.accept(token.LParen) {
				typ := p.parseTypeExpr()
				v.Payload = typ
				p.expect(token.RParen)
			}
			decl.Variants = append(decl.Variants, v)
			if !p.accept(token.Comma) {
				break
			}
		}
		p.expect(token.RBrace)
	} else {
		decl.Fields = p.parseFields()
	}
	return decl
}

func (p *Parser) parseHyphalBlock() []*ast.HyphalDecl {
	p.expect(token.Hyphae)
	p.expect(token.LBrace)
	var out []*ast.HyphalDecl
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		out = append(out, p.parseHyphal())
	}
	p.expect(token.RBrace)
	return out
}

func (p *Parser) parseHyphal() *ast.HyphalDecl {
	pos := p.pos()
	name := p.expect(token.Ident).Text
	h := &ast.HyphalDecl{Base: ast.New(&p.gen, pos), Name: name}
	p.expect(token.LBrace)
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		switch p.tok.Kind {
		case token.State:
			p.advance()
			h.State = p.parseStateFields()
		case token.On:
			h.Rules = append(h.Rules, p.parseOnRule())
		case token.Rule:
			h.Rules = append(h.Rules, p.parseHelperRule())
		default:
			p.errorf("unexpected token %s in hyphal body", describeTok(p.tok))
			p.advance()
		}
	}
	p.expect(token.RBrace)
	for _, r := range h.Rules {
		switch {
		case r.Signal == "rest":
			h.Rest = r
		case r.Signal == "cycle":
			h.Timers = append(h.Timers, r)
		}
	}
	return h
}

func (p *Parser) parseStateFields() []ast.Field {
	p.expect(token.LBrace)
	var fields []ast.Field
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		name := p.expect(token.Ident).Text
		p.expect(token.Colon)
		typ := p.parseTypeExpr()
		if p.accept(token.Assign) {
			p.parseExpr() // default-value initializer; evaluated during init lowering
		}
		fields = append(fields, ast.Field{Name: name, Type: typ})
		if !p.accept(token.Comma) {
			break
		}
	}
	p.expect(token.RBrace)
	return fields
}

// parseOnRule parses `on signal(FREQ, BIND) [where GUARD] { BODY }`, and
// also the degenerate `on rest { BODY }` / `on cycle(N) { BODY }` forms.
func (p *Parser) parseOnRule() *ast.RuleDecl {
	pos := p.pos()
	p.expect(token.On)
	r := &ast.RuleDecl{Base: ast.New(&p.gen, pos)}
	switch p.tok.Kind {
	case token.Rest:
		p.advance()
		r.Signal = "rest"
	case token.Cycle:
		p.advance()
		r.Signal = "cycle"
		if p.accept(token.LParen) {
			p.parseExpr()
			p.expect(token.RParen)
		}
	case token.Signal:
		p.advance()
		p.expect(token.LParen)
		r.Signal = p.expect(token.Ident).Text
		if p.accept(token.Comma) {
			r.Bind = p.expect(token.Ident).Text
		}
		p.expect(token.RParen)
		if p.at(token.Ident) && p.tok.Text == "where" {
			p.advance()
			r.Guard = p.parseExpr()
		}
	default:
		p.errorf("expected 'signal', 'rest', or 'cycle' after 'on'")
	}
	r.Body = p.parseBlock()
	return r
}

func (p *Parser) parseHelperRule() *ast.RuleDecl {
	pos := p.pos()
	p.expect(token.Rule)
	r := &ast.RuleDecl{Base: ast.New(&p.gen, pos)}
	r.Name = p.expect(token.Ident).Text
	p.expect(token.LParen)
	for !p.at(token.RParen) && !p.at(token.EOF) {
		name := p.expect(token.Ident).Text
		p.expect(token.Colon)
		typ := p.parseTypeExpr()
		r.Params = append(r.Params, ast.Field{Name: name, Type: typ})
		if !p.accept(token.Comma) {
			break
		}
	}
	p.expect(token.RParen)
	if p.accept(token.Arrow) {
		typ := p.parseTypeExpr()
		r.Result = &typ
	}
	r.Body = p.parseBlock()
	return r
}

func (p *Parser) parseTopology() *ast.TopologyDecl {
	pos := p.pos()
	p.expect(token.Topology)
	top := &ast.TopologyDecl{Base: ast.New(&p.gen, pos)}
	p.expect(token.LBrace)
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		switch p.tok.Kind {
		case token.Spawn:
			p.advance()
			typ := p.expect(token.Ident).Text
			p.expect(token.Ident) // "as" is not reserved; accept any ident as the connective
			inst := p.expect(token.Ident).Text
			top.Spawns = append(top.Spawns, ast.SpawnDecl{HyphalType: typ, Instance: inst})
		case token.FruitingBody:
			p.advance()
			top.FruitingBodies = append(top.FruitingBodies, p.expect(token.Ident).Text)
		case token.Socket:
			p.advance()
			src := p.expect(token.Ident).Text
			p.expect(token.Arrow)
			dst := p.expect(token.Ident).Text
			p.expect(token.Colon)
			freq := p.expect(token.Ident).Text
			top.Sockets = append(top.Sockets, ast.SocketDecl{Source: src, Destination: dst, Frequency: freq})
		default:
			p.errorf("unexpected token %s in topology block", describeTok(p.tok))
			p.advance()
		}
		p.accept(token.Semi)
	}
	p.expect(token.RBrace)
	return top
}

// ---- Statements -----------------------------------------------------

func (p *Parser) parseBlock() []ast.Stmt {
	p.expect(token.LBrace)
	var stmts []ast.Stmt
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		stmts = append(stmts, p.parseStmt())
	}
	p.expect(token.RBrace)
	return stmts
}

func (p *Parser) parseStmt() ast.Stmt {
	pos := p.pos()
	switch p.tok.Kind {
	case token.Let:
		p.advance()
		name := p.expect(token.Ident).Text
		var typ *ast.TypeExpr
		if p.accept(token.Colon) {
			t := p.parseTypeExpr()
			typ = &t
		}
		p.expect(token.Assign)
		val := p.parseExpr()
		p.accept(token.Semi)
		return &ast.LetStmt{Base: ast.New(&p.gen, pos), Name: name, Type: typ, Value: val}
	case token.If:
		return p.parseIf()
	case token.While:
		p.advance()
		cond := p.parseExpr()
		body := p.parseBlock()
		return &ast.WhileStmt{Base: ast.New(&p.gen, pos), Cond: cond, Body: body}
	case token.For:
		return p.parseFor()
	case token.Match:
		return p.parseMatch()
	case token.Return:
		p.advance()
		var val ast.Expr
		if !p.at(token.Semi) && !p.at(token.RBrace) {
			val = p.parseExpr()
		}
		p.accept(token.Semi)
		return &ast.ReturnStmt{Base: ast.New(&p.gen, pos), Value: val}
	case token.Break:
		p.advance()
		p.accept(token.Semi)
		return &ast.BreakStmt{Base: ast.New(&p.gen, pos)}
	case token.Continue:
		p.advance()
		p.accept(token.Semi)
		return &ast.ContinueStmt{Base: ast.New(&p.gen, pos)}
	case token.Report:
		p.advance()
		x := p.parseExpr()
		p.accept(token.Semi)
		return &ast.ReportStmt{Base: ast.New(&p.gen, pos), X: x}
	case token.Emit:
		return p.parseEmit()
	default:
		x := p.parseExpr()
		if p.accept(token.Assign) {
			val := p.parseExpr()
			p.accept(token.Semi)
			return &ast.AssignStmt{Base: ast.New(&p.gen, pos), Target: x, Value: val}
		}
		p.accept(token.Semi)
		return &ast.ExprStmt{Base: ast.New(&p.gen, pos), X: x}
	}
}

func (p *Parser) parseIf() ast.Stmt {
	pos := p.pos()
	p.expect(token.If)
	cond := p.parseExpr()
	then := p.parseBlock()
	var els []ast.Stmt
	if p.accept(token.Else) {
		if p.at(token.If) {
			els = []ast.Stmt{p.parseIf()}
		} else {
			els = p.parseBlock()
		}
	}
	return &ast.IfStmt{Base: ast.New(&p.gen, pos), Cond: cond, Then: then, Else: els}
}

func (p *Parser) parseFor() ast.Stmt {
	pos := p.pos()
	p.expect(token.For)
	first := p.expect(token.Ident).Text
	var second string
	if p.accept(token.Comma) {
		second = p.expect(token.Ident).Text
	}
	p.expect(token.In)
	x := p.parseExpr()
	if rng, ok := x.(*ast.RangeExpr); ok {
		body := p.parseBlock()
		return &ast.ForRangeStmt{Base: ast.New(&p.gen, pos), Var: first, Low: rng.Low, High: rng.High, Body: body}
	}
	body := p.parseBlock()
	return &ast.ForInStmt{Base: ast.New(&p.gen, pos), Var: first, KeyVar: second, Coll: x, Body: body}
}

func (p *Parser) parseMatch() ast.Stmt {
	pos := p.pos()
	p.expect(token.Match)
	subj := p.parseExpr()
	p.expect(token.LBrace)
	var arms []ast.MatchArm
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		var pats []ast.Pattern
		pats = append(pats, p.parsePattern())
		for p.accept(token.Pipe) {
			pats = append(pats, p.parsePattern())
		}
		p.expect(token.FatArrow)
		var body []ast.Stmt
		if p.at(token.LBrace) {
			body = p.parseBlock()
		} else {
			body = []ast.Stmt{p.parseStmt()}
		}
		arms = append(arms, ast.MatchArm{Patterns: pats, Body: body})
		p.accept(token.Semi)
		p.accept(token.Comma)
	}
	p.expect(token.RBrace)
	return &ast.MatchStmt{Base: ast.New(&p.gen, pos), Subject: subj, Arms: arms}
}

func (p *Parser) parsePattern() ast.Pattern {
	if p.accept(token.Underscore) {
		return ast.WildcardPattern{}
	}
	if p.at(token.Int) || p.at(token.Float) || p.at(token.String) || p.at(token.True) || p.at(token.False) {
		return ast.LiteralPattern{Value: p.parsePrimary()}
	}
	name := p.expect(token.Ident).Text
	if p.accept(token.Dot) {
		variant := p.expect(token.Ident).Text
		var bind string
		if p.accept(token.LParen) {
			bind = p.expect(token.Ident).Text
			p.expect(token.RParen)
		}
		return ast.VariantPattern{Enum: name, Variant: variant, Bind: bind}
	}
	return ast.VariantPattern{Variant: name}
}

func (p *Parser) parseEmit() ast.Stmt {
	pos := p.pos()
	p.expect(token.Emit)
	freq := p.expect(token.Ident).Text
	p.expect(token.LBrace)
	var fields []ast.EmitField
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		name := p.expect(token.Ident).Text
		p.expect(token.Colon)
		val := p.parseExpr()
		fields = append(fields, ast.EmitField{Name: name, Value: val})
		if !p.accept(token.Comma) {
			break
		}
	}
	p.expect(token.RBrace)
	p.accept(token.Semi)
	return &ast.EmitStmt{Base: ast.New(&p.gen, pos), Frequency: freq, Fields: fields}
}

// ---- Expressions: Pratt parser ----------------------------------------

// precedence returns the binding power of a binary operator, or -1 if k is
// not one.
func precedence(k token.Kind) int {
	switch k {
	case token.PipePipe:
		return 1
	case token.AmpAmp:
		return 2
	case token.Eq, token.Ne:
		return 3
	case token.Lt, token.Le, token.Gt, token.Ge:
		return 4
	case token.Plus, token.Minus:
		return 5
	case token.Star, token.Slash, token.Percent:
		return 6
	default:
		return -1
	}
}

func (p *Parser) parseExpr() ast.Expr { return p.parseBinary(0) }

func (p *Parser) parseBinary(minPrec int) ast.Expr {
	lhs := p.parseUnary()
	for {
		prec := precedence(p.tok.Kind)
		if prec < 0 || prec < minPrec {
			return lhs
		}
		op := p.tok.Kind
		pos := p.pos()
		p.advance()
		rhs := p.parseBinary(prec + 1)
		lhs = &ast.BinaryExpr{Base: ast.New(&p.gen, pos), Op: op, X: lhs, Y: rhs}
	}
}

func (p *Parser) parseUnary() ast.Expr {
	if p.at(token.Bang) || p.at(token.Minus) {
		pos := p.pos()
		op := p.tok.Kind
		p.advance()
		x := p.parseUnary()
		return &ast.UnaryExpr{Base: ast.New(&p.gen, pos), Op: op, X: x}
	}
	return p.parsePostfix(p.parsePrimary())
}

func (p *Parser) parsePostfix(x ast.Expr) ast.Expr {
	for {
		pos := p.pos()
		switch p.tok.Kind {
		case token.Dot:
			p.advance()
			name := p.expect(token.Ident).Text
			if p.at(token.LParen) {
				p.advance()
				args := p.parseArgs()
				x = &ast.MethodCall{Base: ast.New(&p.gen, pos), X: x, Method: name, Args: args}
			} else {
				x = &ast.FieldAccess{Base: ast.New(&p.gen, pos), X: x, Field: name}
			}
		case token.LBracket:
			p.advance()
			idx := p.parseExpr()
			p.expect(token.RBracket)
			x = &ast.IndexExpr{Base: ast.New(&p.gen, pos), X: x, Index: idx}
		case token.LParen:
			p.advance()
			args := p.parseArgs()
			x = &ast.CallExpr{Base: ast.New(&p.gen, pos), Callee: x, Args: args}
		case token.DotDot:
			p.advance()
			high := p.parseBinary(0)
			x = &ast.RangeExpr{Base: ast.New(&p.gen, pos), Low: x, High: high}
		default:
			return x
		}
	}
}

func (p *Parser) parseArgs() []ast.Expr {
	var args []ast.Expr
	for !p.at(token.RParen) && !p.at(token.EOF) {
		args = append(args, p.parseExpr())
		if !p.accept(token.Comma) {
			break
		}
	}
	p.expect(token.RParen)
	return args
}

func (p *Parser) parsePrimary() ast.Expr {
	pos := p.pos()
	switch p.tok.Kind {
	case token.Int:
		text := p.tok.Text
		p.advance()
		v, _ := strconv.ParseInt(text, 10, 64)
		return &ast.IntLit{Base: ast.New(&p.gen, pos), Value: v}
	case token.Float:
		text := p.tok.Text
		p.advance()
		v, _ := strconv.ParseFloat(text, 64)
		return &ast.FloatLit{Base: ast.New(&p.gen, pos), Value: v}
	case token.String:
		text := p.tok.Text
		p.advance()
		return &ast.StringLit{Base: ast.New(&p.gen, pos), Value: text}
	case token.True:
		p.advance()
		return &ast.BoolLit{Base: ast.New(&p.gen, pos), Value: true}
	case token.False:
		p.advance()
		return &ast.BoolLit{Base: ast.New(&p.gen, pos), Value: false}
	case token.LParen:
		p.advance()
		first := p.parseExpr()
		if p.accept(token.Comma) {
			elems := []ast.Expr{first}
			for !p.at(token.RParen) && !p.at(token.EOF) {
				elems = append(elems, p.parseExpr())
				if !p.accept(token.Comma) {
					break
				}
			}
			p.expect(token.RParen)
			return &ast.TupleExpr{Base: ast.New(&p.gen, pos), Elems: elems}
		}
		p.expect(token.RParen)
		return first
	case token.Ident:
		name := p.tok.Text
		p.advance()
		if p.at(token.Dot) && p.next.Kind == token.Ident {
			// Could be an enum constructor Enum.Variant(payload) or a plain
			// field access; both are parsed uniformly in parsePostfix as a
			// FieldAccess (and CallExpr). No ast.EnumCtor is built here,
			// and the type checker does not rewrite that shape into one.
		}
		if p.at(token.LBrace) && looksLikeStructLit(name) {
			return p.parseStructLit(name, pos)
		}
		return &ast.Ident{Base: ast.New(&p.gen, pos), Name: name}
	case token.State:
		// `state` is a reserved keyword (it also opens a hyphal's `state {
		// ... }` block in parseHyphal), but in expression position it is
		// just the identifier every `state.F` access and plain `state`
		// reference resolves through lowering and the type checker.
		p.advance()
		return &ast.Ident{Base: ast.New(&p.gen, pos), Name: "state"}
	default:
		p.errorf("unexpected token %s in expression", describeTok(p.tok))
		p.advance()
		return &ast.Ident{Base: ast.New(&p.gen, pos), Name: "<error>"}
	}
}

// looksLikeStructLit distinguishes `Name { field: expr }` struct literals
// from a bare identifier followed by a block belonging to an enclosing
// statement (there is no such ambiguous context in this grammar, since
// struct literals only ever appear inside expression position, but the
// guard keeps the parser from mis-firing on a capitalization-less grammar).
func looksLikeStructLit(name string) bool {
	return len(name) > 0 && name[0] >= 'A' && name[0] <= 'Z'
}

func (p *Parser) parseStructLit(name string, pos report.Pos) ast.Expr {
	p.expect(token.LBrace)
	var fields []ast.EmitField
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		fname := p.expect(token.Ident).Text
		p.expect(token.Colon)
		val := p.parseExpr()
		fields = append(fields, ast.EmitField{Name: fname, Value: val})
		if !p.accept(token.Comma) {
			break
		}
	}
	p.expect(token.RBrace)
	return &ast.StructLit{Base: ast.New(&p.gen, pos), Type: name, Fields: fields}
}
