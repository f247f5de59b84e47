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

package hir

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mycelial-lang/mycc/internal/ast"
	"github.com/mycelial-lang/mycc/internal/report"
	"github.com/mycelial-lang/mycc/internal/symtab"
)

// fixture builds a table with one instance ("counter") that has two signal
// rules: one for "tick", which a socket actually routes to it, and one for
// "ghost", which nothing routes -- dead-rule elimination should keep the
// first and drop the second with a warning.
func fixture() *symtab.Table {
	tickRule := &ast.RuleDecl{Signal: "tick", Body: []ast.Stmt{}}
	ghostRule := &ast.RuleDecl{Signal: "ghost", Body: []ast.Stmt{}}
	restRule := &ast.RuleDecl{Body: []ast.Stmt{}}

	ht := &symtab.HyphalType{
		Name: "Counter",
		Rest: restRule,
		SignalRules: map[string][]*ast.RuleDecl{
			"tick":  {tickRule},
			"ghost": {ghostRule},
		},
	}

	return &symtab.Table{
		Frequencies: map[string]*symtab.Frequency{
			"tick":  {Name: "tick", ID: 0},
			"ghost": {Name: "ghost", ID: 1},
		},
		Types: map[string]*symtab.TypeDef{},
		Hyphae: map[string]*symtab.HyphalType{
			"Counter": ht,
		},
		Instances: map[string]*symtab.Instance{
			"counter": {Name: "counter", HyphalType: "Counter"},
		},
		InstanceOrder: []string{"counter"},
		Routes: []symtab.Route{
			{Source: "driver", Destination: "counter", Frequency: "tick"},
		},
	}
}

func TestBuildKeepsRulesWithAnIncomingSocket(t *testing.T) {
	tbl := fixture()
	var errs report.Collector

	prog := Build(tbl, nil, &errs)

	require.Len(t, prog.Agents, 1)
	agent := prog.Agents[0]
	require.Equal(t, "counter", agent.Instance)
	require.NotNil(t, agent.Rest)

	require.Len(t, agent.Rules, 1)
	require.Equal(t, "tick", agent.Rules[0].Frequency)
}

func TestBuildDropsUnreachableRulesWithAWarning(t *testing.T) {
	tbl := fixture()
	var errs report.Collector

	prog := Build(tbl, nil, &errs)

	for _, r := range prog.Agents[0].Rules {
		require.NotEqual(t, "ghost", r.Frequency, "unreachable rule must not survive to lowering")
	}

	require.False(t, errs.Failed(), "a dropped-rule notice is a warning, not a fatal diagnostic")
	require.Equal(t, 1, errs.Count())

	diags := errs.Diagnostics()
	require.True(t, diags[0].Warning)
	require.Contains(t, diags[0].Message, "ghost")
	require.Contains(t, diags[0].Message, "counter")
}

func TestBuildSkipsInstancesWithAnUnknownHyphalType(t *testing.T) {
	tbl := fixture()
	tbl.Instances["orphan"] = &symtab.Instance{Name: "orphan", HyphalType: "Missing"}
	tbl.InstanceOrder = append(tbl.InstanceOrder, "orphan")

	var errs report.Collector
	prog := Build(tbl, nil, &errs)

	require.Len(t, prog.Agents, 1, "an instance whose type failed to resolve must not produce an Agent")
}
