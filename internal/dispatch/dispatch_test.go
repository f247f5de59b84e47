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

package dispatch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mycelial-lang/mycc/internal/ast"
	"github.com/mycelial-lang/mycc/internal/hir"
	"github.com/mycelial-lang/mycc/internal/symtab"
)

// fixture builds a minimal one-instance, one-frequency network by hand,
// the same shape internal/regalloc's tests build lir.Func fixtures
// directly rather than driving the whole parser/typecheck pipeline.
func fixture() (*hir.Program, *symtab.Table) {
	tbl := &symtab.Table{
		Frequencies: map[string]*symtab.Frequency{
			"tick": {Name: "tick", ID: 0, FieldOffset: map[string]int{}, PayloadSize: 8},
		},
		FrequencyOrder: []string{"tick"},
		Hyphae: map[string]*symtab.HyphalType{
			"Counter": {Name: "Counter", StateOffset: map[string]int{"n": 0}, StateSize: 8},
		},
		HyphalOrder: []string{"Counter"},
		Instances: map[string]*symtab.Instance{
			"counter": {Name: "counter", HyphalType: "Counter"},
		},
		InstanceOrder: []string{"counter"},
		Routes:        []symtab.Route{{Source: "counter", Destination: "counter", Frequency: "tick"}},
	}

	rest := &ast.RuleDecl{Body: []ast.Stmt{}}
	rule := &ast.RuleDecl{
		Signal: "tick",
		Bind:   "s",
		Body:   []ast.Stmt{&ast.ReportStmt{X: &ast.IntLit{Value: 1}}},
	}

	prog := &hir.Program{
		Frequencies: tbl.Frequencies,
		Types:       tbl.Types,
		Agents: []*hir.Agent{{
			Instance: "counter",
			Type:     tbl.Hyphae["Counter"],
			Rest:     rest,
			Rules:    []hir.Rule{{Frequency: "tick", Decl: rule}},
		}},
	}
	return prog, tbl
}

func TestGenerateBSSLaysOutStateAndQueue(t *testing.T) {
	prog, tbl := fixture()
	out := Generate(prog, tbl)

	require.Contains(t, out, ".bss\n")
	require.Contains(t, out, "scheduler_work:\n\t.zero 8\n")
	require.Contains(t, out, "state_counter:\n\t.zero 8\n")
	require.Contains(t, out, "signal_queue_counter_tick:\n\t.zero 32784\n")
	require.Contains(t, out, "arena:\n\t.zero 1048576\n")
}

func TestGenerateInitStashesR12AndCallsRestHandler(t *testing.T) {
	prog, tbl := fixture()
	out := Generate(prog, tbl)

	require.Contains(t, out, ".globl init_counter\ninit_counter:\n")
	require.Contains(t, out, "mov %r12, -8(%rbp)\n")
	require.Contains(t, out, "lea state_counter(%rip), %r12\n\tcall init_body_counter\n")
	require.Contains(t, out, "mov -8(%rbp), %r12\n")
}

func TestGenerateDispatchChecksFrequencyID(t *testing.T) {
	prog, tbl := fixture()
	out := Generate(prog, tbl)

	require.Contains(t, out, ".globl dispatch_counter\ndispatch_counter:\n")
	require.Contains(t, out, "mov %rdi, %r12\n\tmov (%rsi), %rax\n")
	require.Contains(t, out, "\tmov $0, %rcx\n\tcmp %rcx, %rax\n\tje rule_counter_tick\n")
}

func TestGenerateDrainMarksSchedulerWorkAndCallsDispatch(t *testing.T) {
	prog, tbl := fixture()
	out := Generate(prog, tbl)

	require.Contains(t, out, ".globl drain_counter_tick\ndrain_counter_tick:\n")
	require.Contains(t, out, "call queue_dequeue\n")
	require.Contains(t, out, "lea scheduler_work(%rip), %rdi\n\tmov $1, (%rdi)\n")
	require.Contains(t, out, "call dispatch_counter\n")
	// Payload pointer rides in %rbx, callee-saved per internal/regalloc's
	// calleeSavedPool, so it survives the call into dispatch_counter.
	require.Contains(t, out, "mov %rax, %rbx\n")
	require.Contains(t, out, "mov %rbx, %rsi\n")
}

func TestGenerateSchedulerDrainsQueuesAndLoops(t *testing.T) {
	prog, tbl := fixture()
	out := Generate(prog, tbl)

	require.Contains(t, out, ".globl scheduler\nscheduler:\n")
	require.Contains(t, out, "call drain_counter_tick\n")
	require.True(t, strings.Contains(out, "jne .Lpass_"), "scheduler must loop back while work was done")
	require.Contains(t, out, "mov $60, %rax\n\txor %rdi, %rdi\n\tsyscall\n")
}

func TestGenerateStartCallsInitThenScheduler(t *testing.T) {
	prog, tbl := fixture()
	out := Generate(prog, tbl)

	require.Contains(t, out, ".globl _start\n_start:\n\tcall init_counter\n\tcall scheduler\n")
}

func TestGenerateOmitsQueueAndDrainWhenNothingRoutesIn(t *testing.T) {
	tbl := &symtab.Table{
		Frequencies:    map[string]*symtab.Frequency{"tick": {Name: "tick", ID: 0}},
		FrequencyOrder: []string{"tick"},
		Hyphae:         map[string]*symtab.HyphalType{"Counter": {Name: "Counter"}},
		Instances:      map[string]*symtab.Instance{"counter": {Name: "counter", HyphalType: "Counter"}},
		InstanceOrder:  []string{"counter"},
	}
	prog := &hir.Program{Agents: []*hir.Agent{{Instance: "counter", Type: tbl.Hyphae["Counter"]}}}

	out := Generate(prog, tbl)
	require.NotContains(t, out, "signal_queue_counter_tick")
	require.NotContains(t, out, "drain_counter_tick")
	// dispatch_<instance> is still synthesized even with no live rules: a
	// payload landing on an unrouted/unreachable frequency just falls
	// through dispatch's empty cmp chain to a bare ret.
	require.Contains(t, out, ".globl dispatch_counter\ndispatch_counter:\n\tmov %rdi, %r12\n\tmov (%rsi), %rax\n\tret\n")
}

func TestGenerateTimersAreCalledOncePerPassWithoutCountingAsWork(t *testing.T) {
	tbl := &symtab.Table{
		Frequencies:    map[string]*symtab.Frequency{},
		Hyphae:         map[string]*symtab.HyphalType{"Counter": {Name: "Counter"}},
		Instances:      map[string]*symtab.Instance{"counter": {Name: "counter", HyphalType: "Counter"}},
		InstanceOrder:  []string{"counter"},
	}
	timer := &ast.RuleDecl{Body: []ast.Stmt{}}
	prog := &hir.Program{Agents: []*hir.Agent{{
		Instance: "counter",
		Type:     tbl.Hyphae["Counter"],
		Timers:   []*ast.RuleDecl{timer},
	}}}

	out := Generate(prog, tbl)
	require.Contains(t, out, "lea state_counter(%rip), %r12\n\tcall timer_counter_0\n")
}

func TestText(t *testing.T) {
	out := Text()
	require.Contains(t, out, ".globl runtime_alloc\n")
	require.Contains(t, out, ".globl runtime_free\n")
	require.Contains(t, out, ".globl queue_enqueue\n")
	require.Contains(t, out, ".globl queue_dequeue\n")
	require.Contains(t, out, ".globl builtin_println\n")
	// builtin_vec_*/builtin_map_*/builtin_strconcat stay external: real
	// programs exercising them need --object mode, per spec's runtime ABI
	// Non-goals (see DESIGN.md).
	require.NotContains(t, out, "builtin_vec_")
	require.NotContains(t, out, "builtin_strconcat")
}
