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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mycelial-lang/mycc/internal/lir"
)

// straightLine builds v0 = 1; v1 = 2; v2 = v0 + v1; return v2, with no
// loops and no calls, so three temps should fit in the pool without a spill.
func straightLine() *lir.Func {
	fn := lir.NewFunc("rule_counter_tick")
	v0, v1, v2 := fn.Temp(), fn.Temp(), fn.Temp()
	fn.Emit(lir.Instr{Op: lir.OpMovImm, Dst: v0, HasDst: true, Imm: 1})
	fn.Emit(lir.Instr{Op: lir.OpMovImm, Dst: v1, HasDst: true, Imm: 2})
	fn.Emit(lir.Instr{Op: lir.OpAdd, Dst: v2, HasDst: true, Src1: v0, Src2: v1})
	fn.Emit(lir.Instr{Op: lir.OpReturn, Src1: v2})
	return fn
}

func TestAllocateStraightLineUsesRegisters(t *testing.T) {
	prog := lir.NewProgram()
	prog.Funcs = append(prog.Funcs, straightLine())

	out := Allocate(prog)
	require.Len(t, out, 1)
	f := out[0]

	for v := lir.VReg(0); v < 3; v++ {
		l, ok := f.Locs[v]
		require.True(t, ok)
		require.False(t, l.spilled, "v%d should fit in the pool with only 3 live temps", v)
	}
}

// manySpill forces more simultaneously-live temps than the 10-register pool
// holds by keeping every temp alive until the accumulator chain reads it.
func manySpill() *lir.Func {
	fn := lir.NewFunc("rule_counter_wide")
	temps := make([]lir.VReg, 12)
	for i := range temps {
		temps[i] = fn.Temp()
		fn.Emit(lir.Instr{Op: lir.OpMovImm, Dst: temps[i], HasDst: true, Imm: int64(i)})
	}
	// Chain every temp into the accumulator so all twelve are live at once
	// when the last one is defined, past the pool's 10-register capacity.
	acc := fn.Temp()
	fn.Emit(lir.Instr{Op: lir.OpMov, Dst: acc, HasDst: true, Src1: temps[0]})
	for _, t := range temps[1:] {
		next := fn.Temp()
		fn.Emit(lir.Instr{Op: lir.OpAdd, Dst: next, HasDst: true, Src1: acc, Src2: t})
		acc = next
	}
	fn.Emit(lir.Instr{Op: lir.OpReturn, Src1: acc})
	return fn
}

func TestAllocateSpillsWhenPoolExhausted(t *testing.T) {
	prog := lir.NewProgram()
	prog.Funcs = append(prog.Funcs, manySpill())

	out := Allocate(prog)
	require.Len(t, out, 1)
	f := out[0]

	spilled := 0
	for _, l := range f.Locs {
		if l.spilled {
			spilled++
		}
	}
	require.Greater(t, spilled, 0, "twelve simultaneously-live temps must force at least one spill")
	require.Positive(t, f.Src.Frame.Size())
}

// loopCarried builds a tiny loop where v0, defined before the loop, is read
// only after the loop exits (by the final return), and v1 is both defined
// and used entirely inside the loop body. v0's interval therefore spans the
// loop body, and widening must keep it covering the whole loop.
func loopCarried() *lir.Func {
	fn := lir.NewFunc("rule_counter_loop")
	v0 := fn.Temp()
	fn.Emit(lir.Instr{Op: lir.OpMovImm, Dst: v0, HasDst: true, Imm: 10})

	fn.Emit(lir.Instr{Op: lir.OpLabel, Sym: ".Lloop_head"})
	v1 := fn.Temp()
	fn.Emit(lir.Instr{Op: lir.OpMovImm, Dst: v1, HasDst: true, Imm: 1})
	fn.Emit(lir.Instr{Op: lir.OpJnz, Src1: v1, Sym: ".Lloop_head"})

	fn.Emit(lir.Instr{Op: lir.OpReturn, Src1: v0})
	return fn
}

func TestWidenAcrossLoopsExtendsLiveRange(t *testing.T) {
	fn := loopCarried()
	intervals := computeIntervals(fn)
	before := *intervals[0]

	widenAcrossLoops(fn, intervals)
	after := intervals[0]

	require.LessOrEqual(t, after.start, before.start)
	require.GreaterOrEqual(t, after.end, before.end)
	// The loop body (the label through the conditional jump) runs from
	// index 1 through index 3; v0's widened range must cover it so it is
	// never handed to a register the loop body's own temps could clobber.
	require.GreaterOrEqual(t, after.end, 3)
}

// callCrossing defines a temp, calls a runtime helper in between, then uses
// the temp afterward -- the interval must be restricted to the
// callee-saved pool subset.
func callCrossing() *lir.Func {
	fn := lir.NewFunc("rule_counter_call")
	v0 := fn.Temp()
	fn.Emit(lir.Instr{Op: lir.OpMovImm, Dst: v0, HasDst: true, Imm: 7})
	call := fn.Temp()
	fn.Emit(lir.Instr{Op: lir.OpCall, Dst: call, HasDst: true, Sym: "builtin_vec_len"})
	fn.Emit(lir.Instr{Op: lir.OpReturn, Src1: v0})
	return fn
}

func TestAllocateRestrictsCallCrossingToCalleeSaved(t *testing.T) {
	prog := lir.NewProgram()
	prog.Funcs = append(prog.Funcs, callCrossing())

	out := Allocate(prog)
	require.Len(t, out, 1)
	f := out[0]

	l, ok := f.Locs[0]
	require.True(t, ok)
	if r, isReg := l.isReg(); isReg {
		require.Contains(t, calleeSavedPool, r, "a value live across a call must sit in a callee-saved register or be spilled")
	}
}

func TestMarkCallCrossingsFlagsEmitAllocAndEnqueue(t *testing.T) {
	fn := lir.NewFunc("rule_counter_emit")
	v0 := fn.Temp()
	fn.Emit(lir.Instr{Op: lir.OpMovImm, Dst: v0, HasDst: true, Imm: 1})
	fn.Emit(lir.Instr{Op: lir.OpEmitAlloc, Imm: 16})
	fn.Emit(lir.Instr{Op: lir.OpEnqueue, Src1: v0, Sym: "queue_counter_tick"})
	fn.Emit(lir.Instr{Op: lir.OpReturn, Src1: lir.NoVReg})

	intervals := computeIntervals(fn)
	markCallCrossings(fn, intervals)
	require.True(t, intervals[0].crossesCall)
}

func TestFrameSizeRoundsUpTo16(t *testing.T) {
	f := lir.NewFrame()
	f.Alloc("a")
	require.Equal(t, 16, f.Size())
	f.Alloc("b")
	require.Equal(t, 16, f.Size())
	f.Alloc("c")
	require.Equal(t, 32, f.Size())
}
