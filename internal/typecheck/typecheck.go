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

// Package typecheck walks every rule body with an environment-stack
// (local scope -> signal binding -> agent state -> module) and annotates
// each expression node with its resolved type, exactly as spec.md §4.3
// describes. It never stops at the first error: every problem it finds is
// appended to the shared report.Collector, and the walk continues so a
// single run surfaces every mistake in the source, not just the first one.
package typecheck

import (
	"github.com/mycelial-lang/mycc/internal/ast"
	"github.com/mycelial-lang/mycc/internal/report"
	"github.com/mycelial-lang/mycc/internal/symtab"
	"github.com/mycelial-lang/mycc/internal/token"
	"github.com/mycelial-lang/mycc/internal/types"
)

// Result is the type checker's output: a side table from AST node id to
// resolved type, keyed independently of the AST so the checker never needs
// to mutate nodes in place (per the ast package's design, §9 of spec.md).
type Result struct {
	NodeTypes map[int]*types.Type
}

// TypeOf returns the resolved type of node n, or nil if n was never
// annotated (e.g. it belongs to a rule that failed to check).
func (r *Result) TypeOf(n ast.Node) *types.Type {
	return r.NodeTypes[n.NodeID()]
}

// scope is one level of the environment stack: a flat map from name to
// type, consulted innermost-first.
type scope struct {
	vars   map[string]*types.Type
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{vars: map[string]*types.Type{}, parent: parent}
}

func (s *scope) lookup(name string) (*types.Type, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if t, ok := sc.vars[name]; ok {
			return t, true
		}
	}
	return nil, false
}

func (s *scope) define(name string, t *types.Type) { s.vars[name] = t }

// checker holds the state threaded through one Check call.
type checker struct {
	tbl      *symtab.Table
	errs     *report.Collector
	result   *Result
	loopDepth int
	file     string

	// stateFields maps a per-hyphal synthetic struct-type name (see Check's
	// stateScope setup) to that hyphal's declared state fields, so
	// checkExpr's FieldAccess case can resolve `state.F` the same way it
	// resolves any other struct field access.
	stateFields map[string][]ast.Field
}

// Check type-checks every rule in net against the resolved symbols in tbl.
func Check(file string, net *ast.Network, tbl *symtab.Table, errs *report.Collector) *Result {
	c := &checker{
		tbl:         tbl,
		errs:        errs,
		result:      &Result{NodeTypes: map[int]*types.Type{}},
		file:        file,
		stateFields: map[string][]ast.Field{},
	}

	for _, hd := range net.Hyphae {
		h := tbl.Hyphae[hd.Name]
		if h == nil {
			continue
		}
		stateScope := newScope(nil)
		for _, f := range h.State {
			stateScope.define(f.Name, resolveFieldType(f.Type, tbl))
		}
		// `state` itself resolves to a struct-shaped pseudo-type backed by
		// this hyphal's own state fields (mirroring internal/lower.go's
		// `x.Name == "state"` special case), so `state.F` type-checks the
		// same way any other struct field access does.
		stateTypeName := "state$" + hd.Name
		c.stateFields[stateTypeName] = h.State
		stateScope.define("state", &types.Type{Kind: types.StructKind, Name: stateTypeName})

		checkRule := func(r *ast.RuleDecl, bindType *types.Type) {
			env := newScope(stateScope)
			if r.Bind != "" && bindType != nil {
				env.define(r.Bind, bindType)
			}
			for _, p := range r.Params {
				env.define(p.Name, resolveFieldType(p.Type, tbl))
			}
			c.checkBlock(r.Body, env)
		}

		if h.Rest != nil {
			checkRule(h.Rest, nil)
		}
		for _, timer := range h.Timers {
			checkRule(timer, nil)
		}
		for freq, rules := range h.SignalRules {
			fr := tbl.Frequencies[freq]
			var bindType *types.Type
			if fr != nil {
				bindType = &types.Type{Kind: types.StructKind, Name: freq}
			}
			for _, r := range rules {
				checkRule(r, bindType)
				if r.Guard != nil {
					env := newScope(stateScope)
					if r.Bind != "" {
						env.define(r.Bind, bindType)
					}
					gt := c.checkExpr(r.Guard, env)
					if gt != nil && gt.Kind != types.Bool {
						c.errorf(r.Guard.Pos(), 2, "rule guard must be boolean, got %s", gt)
					}
				}
			}
		}
		for _, helper := range h.Helpers {
			env := newScope(stateScope)
			for _, p := range helper.Params {
				env.define(p.Name, resolveFieldType(p.Type, tbl))
			}
			c.checkBlock(helper.Body, env)
		}
	}

	return c.result
}

func (c *checker) pos(n ast.Node) report.Pos { return n.Pos() }

func (c *checker) errorf(pos report.Pos, digit int, format string, args ...any) {
	c.errs.Errorf(report.Code{Family: report.Semantic, Digit: digit}, pos, format, args...)
}

func resolveFieldType(te ast.TypeExpr, tbl *symtab.Table) *types.Type {
	switch te.Name {
	case "i8", "i16", "i32", "i64", "u8", "u16", "u32", "u64":
		return types.IntType
	case "f32", "f64":
		return types.FloatType
	case "bool":
		return types.BoolType
	case "string":
		return types.StrType
	case "vec":
		elem := types.IntType
		if len(te.Args) > 0 {
			elem = resolveFieldType(te.Args[0], tbl)
		}
		return &types.Type{Kind: types.Vec, Elem: elem}
	case "map":
		key, val := types.IntType, types.IntType
		if len(te.Args) > 0 {
			key = resolveFieldType(te.Args[0], tbl)
		}
		if len(te.Args) > 1 {
			val = resolveFieldType(te.Args[1], tbl)
		}
		return &types.Type{Kind: types.Map, Key: key, Elem: val}
	default:
		if def, ok := tbl.Types[te.Name]; ok && def.IsEnum {
			return &types.Type{Kind: types.EnumKind, Name: te.Name}
		}
		return &types.Type{Kind: types.StructKind, Name: te.Name}
	}
}

// ---- Statements ---------------------------------------------------------

func (c *checker) checkBlock(stmts []ast.Stmt, env *scope) {
	for _, s := range stmts {
		c.checkStmt(s, env)
	}
}

func (c *checker) checkStmt(s ast.Stmt, env *scope) {
	switch st := s.(type) {
	case *ast.LetStmt:
		vt := c.checkExpr(st.Value, env)
		if st.Type != nil {
			declared := resolveFieldType(*st.Type, c.tbl)
			if vt != nil && !vt.AssignableTo(declared) {
				c.errorf(st.Pos(), 3, "cannot assign %s to declared type %s", vt, declared)
			}
			vt = declared
		}
		env.define(st.Name, vt)

	case *ast.AssignStmt:
		tt := c.checkExpr(st.Target, env)
		vt := c.checkExpr(st.Value, env)
		if tt != nil && vt != nil && !vt.AssignableTo(tt) {
			c.errorf(st.Pos(), 3, "cannot assign %s to %s", vt, tt)
		}

	case *ast.ExprStmt:
		c.checkExpr(st.X, env)

	case *ast.IfStmt:
		ct := c.checkExpr(st.Cond, env)
		if ct != nil && ct.Kind != types.Bool {
			c.errorf(st.Cond.Pos(), 4, "if condition must be boolean, got %s", ct)
		}
		c.checkBlock(st.Then, newScope(env))
		c.checkBlock(st.Else, newScope(env))

	case *ast.WhileStmt:
		ct := c.checkExpr(st.Cond, env)
		if ct != nil && ct.Kind != types.Bool {
			c.errorf(st.Cond.Pos(), 4, "while condition must be boolean, got %s", ct)
		}
		c.loopDepth++
		c.checkBlock(st.Body, newScope(env))
		c.loopDepth--

	case *ast.ForRangeStmt:
		loopEnv := newScope(env)
		c.checkExpr(st.Low, env)
		c.checkExpr(st.High, env)
		loopEnv.define(st.Var, types.IntType)
		c.loopDepth++
		c.checkBlock(st.Body, loopEnv)
		c.loopDepth--

	case *ast.ForInStmt:
		ct := c.checkExpr(st.Coll, env)
		loopEnv := newScope(env)
		switch {
		case ct != nil && ct.Kind == types.Map:
			if st.KeyVar != "" {
				loopEnv.define(st.KeyVar, ct.Key)
			}
			loopEnv.define(st.Var, ct.Elem)
		case ct != nil && ct.Kind == types.Vec:
			loopEnv.define(st.Var, ct.Elem)
		default:
			loopEnv.define(st.Var, types.IntType)
		}
		c.loopDepth++
		c.checkBlock(st.Body, loopEnv)
		c.loopDepth--

	case *ast.MatchStmt:
		c.checkExpr(st.Subject, env)
		hasWildcard := false
		for _, arm := range st.Arms {
			armEnv := newScope(env)
			for _, p := range arm.Patterns {
				if vp, ok := p.(ast.VariantPattern); ok && vp.Bind != "" {
					armEnv.define(vp.Bind, nil)
				}
				if _, ok := p.(ast.WildcardPattern); ok {
					hasWildcard = true
				}
			}
			c.checkBlock(arm.Body, armEnv)
		}
		if !hasWildcard {
			c.errorf(st.Pos(), 12, "match is not exhaustive: missing a wildcard arm")
		}

	case *ast.ReturnStmt:
		if st.Value != nil {
			c.checkExpr(st.Value, env)
		}

	case *ast.BreakStmt:
		if c.loopDepth == 0 {
			c.errorf(st.Pos(), 13, "break outside of a loop")
		}
	case *ast.ContinueStmt:
		if c.loopDepth == 0 {
			c.errorf(st.Pos(), 13, "continue outside of a loop")
		}

	case *ast.ReportStmt:
		c.checkExpr(st.X, env)

	case *ast.EmitStmt:
		c.checkEmit(st, env)
	}
}

func (c *checker) checkEmit(st *ast.EmitStmt, env *scope) {
	fr, ok := c.tbl.Frequencies[st.Frequency]
	if !ok {
		c.errorf(st.Pos(), 9, "emit references unknown frequency %q", st.Frequency)
		return
	}
	seen := make(map[string]bool, len(st.Fields))
	for _, ef := range st.Fields {
		vt := c.checkExpr(ef.Value, env)
		seen[ef.Name] = true
		var declared ast.Field
		found := false
		for _, f := range fr.Fields {
			if f.Name == ef.Name {
				declared = f
				found = true
				break
			}
		}
		if !found {
			c.errorf(st.Pos(), 14, "emit %s: no such field %q", st.Frequency, ef.Name)
			continue
		}
		dt := resolveFieldType(declared.Type, c.tbl)
		if vt != nil && !vt.AssignableTo(dt) {
			c.errorf(ef.Value.Pos(), 3, "emit %s.%s: cannot assign %s to %s", st.Frequency, ef.Name, vt, dt)
		}
	}
	for _, f := range fr.Fields {
		if !seen[f.Name] {
			c.errorf(st.Pos(), 15, "emit %s is missing field %q", st.Frequency, f.Name)
		}
	}
}

// ---- Expressions ----------------------------------------------------

func (c *checker) annotate(n ast.Expr, t *types.Type) *types.Type {
	c.result.NodeTypes[n.NodeID()] = t
	return t
}

func (c *checker) checkExpr(e ast.Expr, env *scope) *types.Type {
	switch x := e.(type) {
	case *ast.IntLit:
		return c.annotate(x, types.IntType)
	case *ast.FloatLit:
		return c.annotate(x, types.FloatType)
	case *ast.StringLit:
		return c.annotate(x, types.StrType)
	case *ast.BoolLit:
		return c.annotate(x, types.BoolType)

	case *ast.Ident:
		if t, ok := env.lookup(x.Name); ok {
			return c.annotate(x, t)
		}
		c.errorf(x.Pos(), 5, "undefined symbol %q", x.Name)
		return c.annotate(x, nil)

	case *ast.FieldAccess:
		xt := c.checkExpr(x.X, env)
		if xt == nil {
			return c.annotate(x, nil)
		}
		if xt.Kind == types.StructKind {
			if fields, ok := c.stateFields[xt.Name]; ok {
				for _, f := range fields {
					if f.Name == x.Field {
						return c.annotate(x, resolveFieldType(f.Type, c.tbl))
					}
				}
			}
			if def, ok := c.tbl.Types[xt.Name]; ok {
				for _, f := range def.Fields {
					if f.Name == x.Field {
						return c.annotate(x, resolveFieldType(f.Type, c.tbl))
					}
				}
			}
			// Signal bindings resolve against the frequency's declared
			// fields the same way (spec.md §4.3, "g.F").
			if fr, ok := c.tbl.Frequencies[xt.Name]; ok {
				for _, f := range fr.Fields {
					if f.Name == x.Field {
						return c.annotate(x, resolveFieldType(f.Type, c.tbl))
					}
				}
			}
		}
		return c.annotate(x, nil)

	case *ast.IndexExpr:
		xt := c.checkExpr(x.X, env)
		c.checkExpr(x.Index, env)
		if xt != nil && xt.Kind == types.Vec {
			return c.annotate(x, xt.Elem)
		}
		if xt != nil && xt.Kind == types.Map {
			return c.annotate(x, xt.Elem)
		}
		return c.annotate(x, nil)

	case *ast.CallExpr:
		for _, a := range x.Args {
			c.checkExpr(a, env)
		}
		return c.annotate(x, nil)

	case *ast.MethodCall:
		c.checkExpr(x.X, env)
		for _, a := range x.Args {
			c.checkExpr(a, env)
		}
		return c.annotate(x, nil)

	case *ast.BinaryExpr:
		return c.checkBinary(x, env)

	case *ast.UnaryExpr:
		xt := c.checkExpr(x.X, env)
		if x.Op == token.Bang {
			if xt != nil && xt.Kind != types.Bool {
				c.errorf(x.Pos(), 6, "operand of '!' must be boolean, got %s", xt)
			}
			return c.annotate(x, types.BoolType)
		}
		return c.annotate(x, xt)

	case *ast.RangeExpr:
		c.checkExpr(x.Low, env)
		c.checkExpr(x.High, env)
		return c.annotate(x, nil)

	case *ast.TupleExpr:
		elems := make([]*types.Type, len(x.Elems))
		for i, el := range x.Elems {
			elems[i] = c.checkExpr(el, env)
		}
		return c.annotate(x, &types.Type{Kind: types.Tuple, Elems: elems})

	case *ast.StructLit:
		def, ok := c.tbl.Types[x.Type]
		if !ok {
			c.errorf(x.Pos(), 7, "unknown struct type %q", x.Type)
			return c.annotate(x, nil)
		}
		for _, f := range x.Fields {
			c.checkExpr(f.Value, env)
		}
		return c.annotate(x, &types.Type{Kind: types.StructKind, Name: def.Name})

	case *ast.EnumCtor:
		if x.Payload != nil {
			c.checkExpr(x.Payload, env)
		}
		return c.annotate(x, &types.Type{Kind: types.EnumKind, Name: x.Enum})

	default:
		return nil
	}
}

func (c *checker) checkBinary(x *ast.BinaryExpr, env *scope) *types.Type {
	lt := c.checkExpr(x.X, env)
	rt := c.checkExpr(x.Y, env)

	switch x.Op {
	case token.AmpAmp, token.PipePipe:
		if lt != nil && lt.Kind != types.Bool || rt != nil && rt.Kind != types.Bool {
			c.errorf(x.Pos(), 16, "logical operator requires boolean operands")
		}
		return c.annotate(x, types.BoolType)

	case token.Eq, token.Ne, token.Lt, token.Le, token.Gt, token.Ge:
		return c.annotate(x, types.BoolType)

	case token.Plus:
		if lt != nil && lt.Kind == types.Str {
			return c.annotate(x, types.StrType)
		}
		return c.annotate(x, promote(lt, rt))

	default: // -, *, /, %
		if lt != nil && !lt.Numeric() {
			c.errorf(x.X.Pos(), 17, "operand of arithmetic operator must be numeric, got %s", lt)
		}
		if rt != nil && !rt.Numeric() {
			c.errorf(x.Y.Pos(), 17, "operand of arithmetic operator must be numeric, got %s", rt)
		}
		return c.annotate(x, promote(lt, rt))
	}
}

// promote returns the wider of two numeric types, per spec.md §4.3's
// "numeric binary operators promote to the larger operand type".
func promote(a, b *types.Type) *types.Type {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.Kind == types.Float || b.Kind == types.Float {
		return types.FloatType
	}
	return types.IntType
}
