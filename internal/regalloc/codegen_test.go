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

package regalloc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mycelial-lang/mycc/internal/lir"
)

func TestRenderStraightLineShape(t *testing.T) {
	prog := lir.NewProgram()
	prog.Funcs = append(prog.Funcs, straightLine())
	out := Allocate(prog)

	text := Render(prog, out)
	require.Contains(t, text, ".text\n")
	require.Contains(t, text, ".globl rule_counter_tick\nrule_counter_tick:\n")
	require.Contains(t, text, "push %rbp\n")
	require.Contains(t, text, "mov %rsp, %rbp\n")
	require.Contains(t, text, "add ")
	require.Contains(t, text, "mov %rbp, %rsp\n")
	require.Contains(t, text, "pop %rbp\n")
	require.Contains(t, text, "ret\n")

	// With only three live temps, the prologue has no callee-saved stash
	// and no frame adjustment: three registers from the pool suffice.
	require.NotContains(t, text, "sub $")
}

func TestRenderCallCrossingSavesCalleeSavedInFrame(t *testing.T) {
	prog := lir.NewProgram()
	prog.Funcs = append(prog.Funcs, callCrossing())
	out := Allocate(prog)
	f := out[0]

	text := Render(prog, out)
	require.Contains(t, text, "call builtin_vec_len\n")

	if len(f.SaveSlots) > 0 {
		// Every callee-saved stash must ride inside the single aligned
		// sub, never a bare push, so the call-site alignment invariant
		// holds: push/pop would shift rsp by an odd multiple of 8.
		require.NotContains(t, text, "push %rbx")
		require.NotContains(t, text, "push %r15")
		require.Contains(t, text, "sub $")
		for r, off := range f.SaveSlots {
			require.Contains(t, text, "mov %"+r)
			_ = off
		}
	}
}

func TestRenderDivModUsesCqoAndIdiv(t *testing.T) {
	fn := lir.NewFunc("rule_counter_divmod")
	v0, v1, v2 := fn.Temp(), fn.Temp(), fn.Temp()
	fn.Emit(lir.Instr{Op: lir.OpMovImm, Dst: v0, HasDst: true, Imm: 7})
	fn.Emit(lir.Instr{Op: lir.OpMovImm, Dst: v1, HasDst: true, Imm: 2})
	fn.Emit(lir.Instr{Op: lir.OpDiv, Dst: v2, HasDst: true, Src1: v0, Src2: v1})
	fn.Emit(lir.Instr{Op: lir.OpReturn, Src1: v2})

	prog := lir.NewProgram()
	prog.Funcs = append(prog.Funcs, fn)
	out := Allocate(prog)

	text := Render(prog, out)
	require.Contains(t, text, "cqo\n")
	require.Contains(t, text, "idiv ")
}

func TestRenderComparisonUsesSetccAndMovzx(t *testing.T) {
	fn := lir.NewFunc("rule_counter_cmp")
	v0, v1, v2 := fn.Temp(), fn.Temp(), fn.Temp()
	fn.Emit(lir.Instr{Op: lir.OpMovImm, Dst: v0, HasDst: true, Imm: 3})
	fn.Emit(lir.Instr{Op: lir.OpMovImm, Dst: v1, HasDst: true, Imm: 5})
	fn.Emit(lir.Instr{Op: lir.OpCmpLt, Dst: v2, HasDst: true, Src1: v0, Src2: v1})
	fn.Emit(lir.Instr{Op: lir.OpReturn, Src1: v2})

	prog := lir.NewProgram()
	prog.Funcs = append(prog.Funcs, fn)
	out := Allocate(prog)

	text := Render(prog, out)
	require.Contains(t, text, "setl %al\n")
	require.Contains(t, text, "movzx %al, %rax\n")
}

func TestRenderStringTableEmittedToRodata(t *testing.T) {
	fn := lir.NewFunc("rule_counter_greet")
	v0 := fn.Temp()
	prog := lir.NewProgram()
	sym := prog.Intern("hello")
	fn.Emit(lir.Instr{Op: lir.OpMovStr, Dst: v0, HasDst: true, Sym: sym})
	fn.Emit(lir.Instr{Op: lir.OpReturn, Src1: v0})
	prog.Funcs = append(prog.Funcs, fn)

	out := Allocate(prog)
	text := Render(prog, out)

	require.True(t, strings.Contains(text, ".rodata\n"))
	require.Contains(t, text, sym+":\n\t.asciz \"hello\"\n")
	require.Contains(t, text, "lea "+sym+"(%rip), %")
}
