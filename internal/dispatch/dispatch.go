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

// Package dispatch is the Dispatch Synthesizer of spec.md §4.10: the one
// stage of the pipeline that does not compile source text at all, but
// instead hand-emits the static scheduler AT&T assembly text that drives
// every compiled rule/handler internal/lower and internal/regalloc already
// produced. Nothing here is generated from a parsed rule body; it is the
// fixed control-flow skeleton spec.md §1 calls "a synthesized dispatch
// table, not an interpreter".
//
// Grounded the same way internal/regalloc's codegen.go hand-assembles
// prologues/epilogues around compiled instructions: a strings.Builder fed
// by fmt.Fprintf, one routine per spec.md-named piece (init_<instance>,
// dispatch_<instance>, drain_<instance>_<freq>, scheduler, _start). Every
// instruction emitted here was checked against internal/asm's supported
// mnemonic/operand grammar by hand (no SIB addressing, no 32-bit register
// names, bare mnemonics default to 64-bit per splitSizeSuffix) -- the same
// discipline internal/regalloc's Render already follows.
package dispatch

import (
	"fmt"
	"strings"

	"github.com/mycelial-lang/mycc/internal/hir"
	"github.com/mycelial-lang/mycc/internal/symtab"
)

// queueCapacity is the fixed, power-of-two slot count of every signal
// queue's ring buffer (spec.md §3: "a ring of payload pointers"). Index
// arithmetic masks against capacity-1 instead of using a modulo, since
// internal/asm has no idiv-free alternative worth reaching for here.
const queueCapacity = 4096

// arenaSize is the bump allocator's total backing storage (runtime.go);
// generous enough for the handful of emits a single compiled network
// issues between scheduler passes without claiming to be a real heap.
const arenaSize = 1 << 20

// Generate renders the .bss layout (state slabs, signal queues, the
// scheduler's work flag, the bump allocator's arena) and every
// hand-written control-flow routine spec.md §4.10 names, as one
// self-contained assembly listing ready to be concatenated with compiled
// rule text and runtime.Text() before a single internal/asm.Assemble call.
func Generate(prog *hir.Program, tbl *symtab.Table) string {
	g := &gen{prog: prog, tbl: tbl, agents: map[string]*hir.Agent{}}
	for _, a := range prog.Agents {
		g.agents[a.Instance] = a
	}

	var sb strings.Builder
	g.sb = &sb
	g.bss()
	g.text()
	return sb.String()
}

type gen struct {
	sb     *strings.Builder
	prog   *hir.Program
	tbl    *symtab.Table
	agents map[string]*hir.Agent
	labelN int
}

func (g *gen) emit(format string, args ...any) { fmt.Fprintf(g.sb, format, args...) }

func (g *gen) newLabel(prefix string) string {
	g.labelN++
	return fmt.Sprintf(".L%s_%d", prefix, g.labelN)
}

// queues returns every (instance, frequency) pair with a live incoming
// route, in deterministic InstanceOrder x FrequencyOrder -- the same pairs
// the scheduler drains every pass, regardless of whether the destination
// also happens to have a rule for that frequency (spec.md §5: undelivered
// signals are dropped, not left to grow the ring unbounded).
func (g *gen) queues() []symtab.Route {
	var out []symtab.Route
	for _, inst := range g.tbl.InstanceOrder {
		for _, freq := range g.tbl.FrequencyOrder {
			if g.tbl.HasIncoming(inst, freq) {
				out = append(out, symtab.Route{Destination: inst, Frequency: freq})
			}
		}
	}
	return out
}

// bss lays out every statically-sized region of mutable state: the
// scheduler's work flag, each instance's state slab, each live queue's ring
// buffer, and the bump allocator's arena (runtime.go's runtime_alloc).
func (g *gen) bss() {
	g.sb.WriteString(".bss\n")
	g.sb.WriteString("scheduler_work:\n\t.zero 8\n")
	g.sb.WriteString("arena_ptr:\n\t.zero 8\n")

	for _, inst := range g.tbl.InstanceOrder {
		ht := g.tbl.Hyphae[g.tbl.Instances[inst].HyphalType]
		size := ht.StateSize
		if size == 0 {
			size = 8
		}
		g.emit("state_%s:\n\t.zero %d\n", inst, size)
	}

	for _, q := range g.queues() {
		g.emit("signal_queue_%s_%s:\n\t.zero %d\n", q.Destination, q.Frequency, 16+queueCapacity*8)
	}

	g.emit("arena:\n\t.zero %d\n", arenaSize)
}

// text emits every instance's init_<instance>, every live (instance,
// frequency)'s dispatch_<instance>/drain_<instance>_<freq>, the scheduler,
// and _start.
func (g *gen) text() {
	g.sb.WriteString(".text\n")
	for _, inst := range g.tbl.InstanceOrder {
		g.initFn(inst)
	}
	for _, inst := range g.tbl.InstanceOrder {
		g.dispatchFn(inst)
	}
	for _, q := range g.queues() {
		g.drainFn(q.Destination, q.Frequency)
	}
	g.scheduler()
	g.start()
}

// initFn zeroes nothing itself -- the ELF loader's PT_LOAD contract already
// zero-fills .bss (spec.md §4.9) -- it only points r12 at the instance's
// state slab and, if the hyphal type declares a rest handler, calls its
// lowered body once. Callee-saved r12 is stashed in a frame slot rather
// than pushed, keeping the single aligned sub (not a push) so the call
// site below stays 16-byte aligned (spec.md §4.5).
func (g *gen) initFn(inst string) {
	a := g.agents[inst]
	g.emit(".globl init_%s\ninit_%s:\n", inst, inst)
	g.sb.WriteString("\tpush %rbp\n\tmov %rsp, %rbp\n\tsub $16, %rsp\n\tmov %r12, -8(%rbp)\n")
	if a != nil && a.Rest != nil {
		g.emit("\tlea state_%s(%%rip), %%r12\n\tcall init_body_%s\n", inst, inst)
	}
	g.sb.WriteString("\tmov -8(%rbp), %r12\n\tmov %rbp, %rsp\n\tpop %rbp\n\tret\n")
}

// dispatchFn is deliberately frame-less: it loads the payload's frequency
// id (stored as a zero-extended 8-byte word at payload offset 0, see
// internal/lower's emit()) and falls through a linear cmp/je chain,
// jumping -- never calling -- straight into the matching rule_<instance>_
// <freq> body. Because dispatch_<instance> never pushes anything, a rule
// entered this way sees exactly the stack internal/regalloc's codegen
// already assumes for a directly-called function, so the rule's own `ret`
// returns past dispatch_<instance> to drain_<instance>_<freq>'s call site
// untouched. A payload whose frequency matches no live rule simply falls
// through to `ret`, dropped (spec.md §5).
func (g *gen) dispatchFn(inst string) {
	a := g.agents[inst]
	g.emit(".globl dispatch_%s\ndispatch_%s:\n", inst, inst)
	g.sb.WriteString("\tmov %rdi, %r12\n\tmov (%rsi), %rax\n")
	if a != nil {
		for _, r := range a.Rules {
			fr := g.tbl.Frequencies[r.Frequency]
			g.emit("\tmov $%d, %%rcx\n\tcmp %%rcx, %%rax\n\tje rule_%s_%s\n", fr.ID, inst, r.Frequency)
		}
	}
	g.sb.WriteString("\tret\n")
}

// drainFn loops queue_dequeue until the ring is empty, marking
// scheduler_work whenever it actually dequeues something (spec.md §4.10:
// "if no work was done in the whole pass: halt" -- timers, inlined
// directly in scheduler(), are deliberately excluded from this flag).
// The dequeued payload pointer survives the call into dispatch_<instance>
// in %rbx, which internal/regalloc's codegen treats as callee-saved (see
// calleeSavedPool), so the ABI itself guarantees it comes back unchanged.
func (g *gen) drainFn(inst, freq string) {
	name := fmt.Sprintf("drain_%s_%s", inst, freq)
	loop := g.newLabel("drain")
	done := g.newLabel("drained")
	g.emit(".globl %s\n%s:\n", name, name)
	g.sb.WriteString("\tpush %rbp\n\tmov %rsp, %rbp\n\tsub $16, %rsp\n\tmov %rbx, -8(%rbp)\n")
	g.emit("%s:\n", loop)
	g.emit("\tlea signal_queue_%s_%s(%%rip), %%rdi\n\tcall queue_dequeue\n", inst, freq)
	g.emit("\tcmp $0, %%rax\n\tje %s\n", done)
	g.sb.WriteString("\tmov %rax, %rbx\n")
	g.sb.WriteString("\tlea scheduler_work(%rip), %rdi\n\tmov $1, (%rdi)\n")
	g.emit("\tlea state_%s(%%rip), %%rdi\n\tmov %%rbx, %%rsi\n\tcall dispatch_%s\n", inst, inst)
	g.emit("\tjmp %s\n", loop)
	g.emit("%s:\n", done)
	g.sb.WriteString("\tmov -8(%rbp), %rbx\n\tmov %rbp, %rsp\n\tpop %rbp\n\tret\n")
}

// scheduler is the fixed drive loop spec.md §4.10 describes: each pass
// resets scheduler_work, invokes every instance's timer handlers once
// (set up directly, never counted as work -- Open Question #4's "whether
// to expose phases as user-visible hooks" is resolved by keeping them
// machine-code-only), drains every live queue in declaration order, and
// halts via exit(0) the first pass nothing happened.
func (g *gen) scheduler() {
	pass := g.newLabel("pass")
	g.sb.WriteString(".globl scheduler\nscheduler:\n\tpush %rbp\n\tmov %rsp, %rbp\n")
	g.emit("%s:\n", pass)
	g.sb.WriteString("\tlea scheduler_work(%rip), %rdi\n\tmov $0, (%rdi)\n")

	for _, inst := range g.tbl.InstanceOrder {
		a := g.agents[inst]
		if a == nil {
			continue
		}
		for i := range a.Timers {
			g.emit("\tlea state_%s(%%rip), %%r12\n\tcall timer_%s_%d\n", inst, inst, i)
		}
	}

	for _, q := range g.queues() {
		g.emit("\tcall drain_%s_%s\n", q.Destination, q.Frequency)
	}

	g.sb.WriteString("\tlea scheduler_work(%rip), %rdi\n\tmov (%rdi), %rax\n\tcmp $0, %rax\n")
	g.emit("\tjne %s\n", pass)
	g.sb.WriteString("\tmov $60, %rax\n\txor %rdi, %rdi\n\tsyscall\n")
}

// start is the process entry point: zero-fill of every state slab is free
// (the PT_LOAD loader contract), so _start only needs to run every
// instance's rest handler once and hand off to the scheduler. It reaches
// the scheduler via `call`, not `jmp`, purely to preserve the 16-byte
// call-site alignment invariant scheduler's own prologue assumes -- the
// pushed return address is never used, since scheduler always exits via
// its own syscall.
func (g *gen) start() {
	g.sb.WriteString(".globl _start\n_start:\n")
	for _, inst := range g.tbl.InstanceOrder {
		g.emit("\tcall init_%s\n", inst)
	}
	g.sb.WriteString("\tcall scheduler\n\tmov $60, %rax\n\txor %rdi, %rdi\n\tsyscall\n")
}
