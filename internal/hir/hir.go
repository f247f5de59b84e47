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

// Package hir builds the typed, agent-preserving tree that sits between
// the type checker and lowering: one Agent per spawned instance, carrying
// its resolved hyphal type, its rest/timer handlers, and the subset of its
// signal rules that are actually reachable through the topology's static
// routing table.
//
// The only transformation HIR performs is dead-rule elimination (spec.md
// §4.4): a signal rule whose frequency has no incoming socket for this
// instance can never fire, so it is dropped before lowering ever sees it,
// with a warning rather than silently -- the same "prune, then explain
// what was pruned" shape the teacher's ir.go dependency walk uses when a
// message type pulls in a field nobody references.
package hir

import (
	"github.com/mycelial-lang/mycc/internal/ast"
	"github.com/mycelial-lang/mycc/internal/report"
	"github.com/mycelial-lang/mycc/internal/symtab"
	"github.com/mycelial-lang/mycc/internal/typecheck"
)

// Rule is one live signal rule bound to a specific instance.
type Rule struct {
	Frequency string
	Decl      *ast.RuleDecl
}

// Agent is one spawned instance's HIR: its type definition plus the rules
// that survive dead-rule elimination.
type Agent struct {
	Instance string
	Type     *symtab.HyphalType
	Rest     *ast.RuleDecl
	Timers   []*ast.RuleDecl
	Rules    []Rule
}

// Program is the whole network's HIR: every live instance, plus the
// resolved frequency and type tables lowering still needs.
type Program struct {
	Frequencies map[string]*symtab.Frequency
	Types       map[string]*symtab.TypeDef
	Agents      []*Agent
	Checked     *typecheck.Result
}

// Build constructs a Program from a resolved Table, dropping rules that
// dead-rule elimination proves unreachable.
func Build(tbl *symtab.Table, checked *typecheck.Result, errs *report.Collector) *Program {
	p := &Program{
		Frequencies: tbl.Frequencies,
		Types:       tbl.Types,
		Checked:     checked,
	}

	for _, name := range tbl.InstanceOrder {
		inst := tbl.Instances[name]
		ht := tbl.Hyphae[inst.HyphalType]
		if ht == nil {
			continue
		}
		agent := &Agent{Instance: name, Type: ht, Rest: ht.Rest, Timers: ht.Timers}

		for freq, rules := range ht.SignalRules {
			if !tbl.HasIncoming(name, freq) {
				for _, r := range rules {
					errs.Warnf(report.Code{Family: report.Semantic, Digit: 90}, r.Pos(),
						"rule for frequency %q on instance %q is unreachable: no socket routes it there", freq, name)
				}
				continue
			}
			for _, r := range rules {
				agent.Rules = append(agent.Rules, Rule{Frequency: freq, Decl: r})
			}
		}

		p.Agents = append(p.Agents, agent)
	}

	return p
}
