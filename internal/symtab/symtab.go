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

// Package symtab builds the resolved symbol tables a parsed Network needs
// before type checking and lowering can run: frequency ids and payload
// sizes, user struct/enum layouts, agent type definitions, the spawn
// registry, the static routing table, and per-instance state offsets.
//
// The six phases below follow spec.md §4.2 exactly. Running, alignment-
// aware offset accumulation is grounded on the teacher's ir.doLayout
// (internal/tdp/compiler/ir.go), which lays out a protobuf message's
// fields as a sorted, aligned running sum; mycc's fields are fixed at a
// uniform 8 (or 16, for fat pointers) bytes, so the sort falls away and
// only the aligned-accumulation idiom survives, via internal/layout.
package symtab

import (
	"github.com/mycelial-lang/mycc/internal/ast"
	"github.com/mycelial-lang/mycc/internal/layout"
	"github.com/mycelial-lang/mycc/internal/report"
	"github.com/mycelial-lang/mycc/internal/types"
)

// Frequency is a resolved signal type.
type Frequency struct {
	Name        string
	ID          int32
	Fields      []ast.Field
	FieldOffset map[string]int
	PayloadSize int
}

// TypeDef is a resolved struct or tagged-union enum type.
type TypeDef struct {
	Name        string
	IsEnum      bool
	Fields      []ast.Field      // struct fields
	FieldOffset map[string]int   // struct field -> byte offset
	Variants    []ast.EnumVariant // enum variants, in declaration order
	VariantTag  map[string]int   // variant name -> tag ordinal
}

// HyphalType is a resolved agent type definition.
type HyphalType struct {
	Name        string
	State       []ast.Field
	StateOffset map[string]int // field name -> byte offset within one instance's slab
	StateSize   int            // total bytes in one instance's state slab

	// Rules indexed by trigger: "rest", "cycle", or a frequency name for
	// signal rules. Multiple signal rules may share a frequency (guards
	// disambiguate); rule search is sequential, so these are slices in
	// declaration order.
	SignalRules map[string][]*ast.RuleDecl
	Rest        *ast.RuleDecl
	Timers      []*ast.RuleDecl
	Helpers     map[string]*ast.RuleDecl
}

// Instance is a spawned agent.
type Instance struct {
	Name       string
	HyphalType string
	Base       int // byte offset of this instance's state slab within the shared .bss slab region
}

// Route is one entry of the static routing table: a socket from Source to
// Destination carrying Frequency, or a fruiting-body endpoint on either
// side.
type Route struct {
	Source      string
	Destination string
	Frequency   string
}

// Table is the fully resolved symbol table for one compilation unit.
type Table struct {
	Frequencies      map[string]*Frequency
	FrequencyOrder   []string
	Types            map[string]*TypeDef
	Hyphae           map[string]*HyphalType
	HyphalOrder      []string
	Instances        map[string]*Instance
	InstanceOrder    []string
	FruitingBodies   map[string]bool
	Routes           []Route
}

// Build runs all six phases of spec.md §4.2 over net, appending any
// resolution failures to errs. Callers must check errs.Failed() before
// trusting the result, exactly as with every other stage.
func Build(net *ast.Network, errs *report.Collector) *Table {
	t := &Table{
		Frequencies:    make(map[string]*Frequency),
		Types:          make(map[string]*TypeDef),
		Hyphae:         make(map[string]*HyphalType),
		Instances:      make(map[string]*Instance),
		FruitingBodies: make(map[string]bool),
	}

	t.collectFrequencies(net, errs)
	t.collectTypes(net, errs)
	t.collectHyphae(net, errs)
	t.collectSpawns(net, errs)
	t.buildRoutes(net, errs)
	t.computeInstanceOffsets()

	return t
}

func dupErr(errs *report.Collector, pos report.Pos, kind, name string) {
	errs.Errorf(report.Code{Family: report.Semantic, Digit: 1}, pos, "duplicate %s name %q", kind, name)
}

// 1. Collect frequencies; assign ascending ids; compute payload size.
func (t *Table) collectFrequencies(net *ast.Network, errs *report.Collector) {
	var id int32
	for _, fd := range net.Frequencies {
		if _, dup := t.Frequencies[fd.Name]; dup {
			dupErr(errs, fd.Pos(), "frequency", fd.Name)
			continue
		}
		f := &Frequency{Name: fd.Name, ID: id, Fields: fd.Fields, FieldOffset: map[string]int{}}
		id++

		// freq_id (4 bytes) + 4 bytes padding, then fields at natural
		// alignment, rounded up to 8 bytes overall (spec.md §3).
		off := 8
		for _, field := range fd.Fields {
			ty := resolveTypeExpr(field.Type, t)
			off = layout.RoundUp(off, ty.Align())
			f.FieldOffset[field.Name] = off
			off += ty.Size()
		}
		f.PayloadSize = layout.RoundUp(off, 8)

		t.Frequencies[fd.Name] = f
		t.FrequencyOrder = append(t.FrequencyOrder, fd.Name)
	}
}

// 2. Collect user-defined struct and enum types.
func (t *Table) collectTypes(net *ast.Network, errs *report.Collector) {
	for _, td := range net.Types {
		if _, dup := t.Types[td.Name]; dup {
			dupErr(errs, td.Pos(), "type", td.Name)
			continue
		}
		def := &TypeDef{Name: td.Name, IsEnum: td.IsEnum}
		if td.IsEnum {
			def.VariantTag = make(map[string]int, len(td.Variants))
			for i, v := range td.Variants {
				def.Variants = append(def.Variants, v)
				def.VariantTag[v.Name] = i
				if v.Payload.Name != "" {
					ty := resolveTypeExpr(v.Payload, t)
					if ty.Size() > 8 {
						errs.Errorf(report.Code{Family: report.Semantic, Digit: 8}, td.Pos(),
							"variant %s.%s payload does not fit in the 8-byte tagged-union data slot", td.Name, v.Name)
					}
				}
			}
		} else {
			def.Fields = td.Fields
			def.FieldOffset = make(map[string]int, len(td.Fields))
			off := 0
			for _, field := range td.Fields {
				ty := resolveTypeExpr(field.Type, t)
				off = layout.RoundUp(off, ty.Align())
				def.FieldOffset[field.Name] = off
				off += ty.Size()
			}
		}
		t.Types[td.Name] = def
	}
}

// 3. Collect agent types: state fields, handlers, user rules.
func (t *Table) collectHyphae(net *ast.Network, errs *report.Collector) {
	for _, hd := range net.Hyphae {
		if _, dup := t.Hyphae[hd.Name]; dup {
			dupErr(errs, hd.Pos(), "hyphal type", hd.Name)
			continue
		}
		h := &HyphalType{
			Name:        hd.Name,
			State:       hd.State,
			StateOffset: map[string]int{},
			SignalRules: map[string][]*ast.RuleDecl{},
			Rest:        hd.Rest,
			Timers:      hd.Timers,
			Helpers:     map[string]*ast.RuleDecl{},
		}

		off := 0
		for _, f := range hd.State {
			h.StateOffset[f.Name] = off
			off += 8 // every state field occupies 8 bytes, spec.md §3 invariant 7
		}
		h.StateSize = off

		for _, r := range hd.Rules {
			switch {
			case r.Name != "":
				if _, dup := h.Helpers[r.Name]; dup {
					dupErr(errs, r.Pos(), "helper rule", r.Name)
					continue
				}
				h.Helpers[r.Name] = r
			case r.Signal == "rest" || r.Signal == "cycle":
				// recorded via hd.Rest/hd.Timers already
			default:
				if _, ok := t.Frequencies[r.Signal]; !ok {
					errs.Errorf(report.Code{Family: report.Semantic, Digit: 9}, r.Pos(), "unknown frequency %q in signal rule", r.Signal)
					continue
				}
				h.SignalRules[r.Signal] = append(h.SignalRules[r.Signal], r)
			}
		}

		t.Hyphae[hd.Name] = h
		t.HyphalOrder = append(t.HyphalOrder, hd.Name)
	}
}

// 4. Resolve spawn declarations to a registry of instances.
func (t *Table) collectSpawns(net *ast.Network, errs *report.Collector) {
	if net.Topology == nil {
		return
	}
	for _, s := range net.Topology.Spawns {
		if _, dup := t.Instances[s.Instance]; dup {
			dupErr(errs, net.Topology.Pos(), "instance", s.Instance)
			continue
		}
		if _, ok := t.Hyphae[s.HyphalType]; !ok {
			errs.Errorf(report.Code{Family: report.Semantic, Digit: 10}, net.Topology.Pos(),
				"spawn of unknown hyphal type %q", s.HyphalType)
			continue
		}
		t.Instances[s.Instance] = &Instance{Name: s.Instance, HyphalType: s.HyphalType}
		t.InstanceOrder = append(t.InstanceOrder, s.Instance)
	}
	for _, fb := range net.Topology.FruitingBodies {
		t.FruitingBodies[fb] = true
	}
}

// isKnownEndpoint reports whether name resolves to a spawned instance or a
// fruiting body.
func (t *Table) isKnownEndpoint(name string) bool {
	if _, ok := t.Instances[name]; ok {
		return true
	}
	return t.FruitingBodies[name]
}

// 5. Build the static routing table.
func (t *Table) buildRoutes(net *ast.Network, errs *report.Collector) {
	if net.Topology == nil {
		return
	}
	for _, s := range net.Topology.Sockets {
		if !t.isKnownEndpoint(s.Source) {
			errs.Errorf(report.Code{Family: report.Semantic, Digit: 11}, net.Topology.Pos(),
				"socket source %q is not a declared instance or fruiting body", s.Source)
			continue
		}
		if !t.isKnownEndpoint(s.Destination) {
			errs.Errorf(report.Code{Family: report.Semantic, Digit: 11}, net.Topology.Pos(),
				"socket destination %q is not a declared instance or fruiting body", s.Destination)
			continue
		}
		if _, ok := t.Frequencies[s.Frequency]; !ok {
			errs.Errorf(report.Code{Family: report.Semantic, Digit: 9}, net.Topology.Pos(),
				"socket references unknown frequency %q", s.Frequency)
			continue
		}
		t.Routes = append(t.Routes, Route{Source: s.Source, Destination: s.Destination, Frequency: s.Frequency})
	}
}

// 6. Compute agentStateOffsets: each instance's state slab base offset, as
// a running 8-byte-aligned sum over instances in declaration order.
func (t *Table) computeInstanceOffsets() {
	off := 0
	for _, name := range t.InstanceOrder {
		inst := t.Instances[name]
		h := t.Hyphae[inst.HyphalType]
		off = layout.RoundUp(off, 8)
		inst.Base = off
		off += h.StateSize
	}
}

// RoutesFrom returns the destinations and frequencies instance src emits
// to, used by internal/dispatch to encode one enqueue per destination at
// each emit site and by internal/hir's dead-rule elimination to find
// frequencies with no incoming socket.
func (t *Table) RoutesFrom(src string) []Route {
	var out []Route
	for _, r := range t.Routes {
		if r.Source == src {
			out = append(out, r)
		}
	}
	return out
}

// HasIncoming reports whether any socket routes frequency into dst.
func (t *Table) HasIncoming(dst, frequency string) bool {
	for _, r := range t.Routes {
		if r.Destination == dst && r.Frequency == frequency {
			return true
		}
	}
	return false
}

// resolveTypeExpr maps a syntactic type expression to its types.Type,
// consulting previously collected frequency/struct/enum names for
// user-defined types. Primitive and container names are recognized
// directly; an unresolved name falls back to a struct reference (the type
// checker reports it as undefined if it never turns out to be one).
func resolveTypeExpr(te ast.TypeExpr, t *Table) *types.Type {
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
			elem = resolveTypeExpr(te.Args[0], t)
		}
		return &types.Type{Kind: types.Vec, Elem: elem}
	case "map":
		key, val := types.IntType, types.IntType
		if len(te.Args) > 0 {
			key = resolveTypeExpr(te.Args[0], t)
		}
		if len(te.Args) > 1 {
			val = resolveTypeExpr(te.Args[1], t)
		}
		return &types.Type{Kind: types.Map, Key: key, Elem: val}
	default:
		if def, ok := t.Types[te.Name]; ok && def.IsEnum {
			return &types.Type{Kind: types.EnumKind, Name: te.Name}
		}
		return &types.Type{Kind: types.StructKind, Name: te.Name}
	}
}
