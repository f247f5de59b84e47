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

// Package regalloc is the Register Allocator + Instruction Selector of
// spec.md §4.7: a straight linear scan over each lir.Func's virtual temps,
// producing a physical register or a spill slot for every one of them, then
// rewriting every lir.Instr into AT&T assembly text ready for internal/asm.
//
// The allocatable set is the ten general-purpose registers spec.md §4.7
// names -- r10, r11, rbx, r15, then the rest of the caller- and callee-saved
// registers not otherwise spoken for -- with everything beyond that
// spilling to the function's frame. r12 stays reserved for the agent-state
// base pointer, rbp/rsp for the frame, and rax/rdx/rcx are never handed to a
// virtual register: codegen uses them as transient scratch for every
// instruction that needs to round-trip a spilled operand through a
// register, and rax:rdx/rcx additionally double as the fixed operands idiv
// and the variable-shift-count opcodes mandate (mirroring the teacher's
// compiler.codegen threading a single "current value lives in rax" register
// through its generated bytecode). Four of the ten allocatable registers
// (rdi, rsi, r8, r9) double as System V argument registers, so codegen's
// call-argument staging (see call() in codegen.go) can no longer assume a
// straight-line sequence of moves is safe -- it sequences the moves as a
// parallel copy, breaking any cycle through %rax, the one scratch register
// that is never itself an argument slot.
package regalloc

import (
	"fmt"
	"iter"
	"sort"

	"github.com/mycelial-lang/mycc/internal/debug"
	"github.com/mycelial-lang/mycc/internal/lir"
	"github.com/mycelial-lang/mycc/internal/scc"
)

// pool is the fixed allocation order: r10/r11 first (plain caller-saved, no
// prologue save, no argument-register double duty), then rdi/rsi/r8/r9
// (caller-saved but also System V argument registers -- free to use for any
// value that doesn't need to survive a call), then rbx/r13/r14/r15 last
// (callee-saved, the only registers a live-across-a-call interval may
// occupy, and the most expensive to hand out since using one forces a
// prologue/epilogue save).
var pool = []string{"r10", "r11", "rdi", "rsi", "r8", "r9", "rbx", "r13", "r14", "r15"}

// calleeSavedPool is the subset of pool safe to hold a value across a call,
// in allocation order.
var calleeSavedPool = []string{"rbx", "r13", "r14", "r15"}

// loc is where one virtual register lives after allocation: either a
// physical register name (no leading '%') or a frame-relative spill slot.
type loc struct {
	reg    string // "" if spilled
	spill  int    // rbp-relative offset, valid when reg == ""
	spilled bool
}

func (l loc) String() string {
	if l.spilled {
		return fmt.Sprintf("%d(%%rbp)", l.spill)
	}
	return "%" + l.reg
}

// isReg reports whether this location is a physical register (as opposed to
// a spill slot), and if so, its bare name.
func (l loc) isReg() (string, bool) {
	if l.spilled {
		return "", false
	}
	return l.reg, true
}

// interval is one virtual register's live range, expressed as instruction
// indices within its function: [start, end], inclusive, widened across any
// loop body it overlaps.
type interval struct {
	v          lir.VReg
	start, end int
	crossesCall bool
}

// Func is one function's allocation result: the lir.Func it was computed
// from, plus the location every one of its virtual registers ended up in,
// and which pool registers the body actually touches (so the prologue only
// saves the callee-saved ones it needs to).
type Func struct {
	Src   *lir.Func
	Locs  map[lir.VReg]loc
	Used  map[string]bool // physical registers touched by this function's body
	// SaveSlots maps each callee-saved register this function clobbers to
	// the frame slot its entry value is stashed in. These ride inside the
	// same sub-$N,%rsp the locals use instead of push/pop, so the prologue
	// never perturbs the 16-byte call-site alignment spec.md §4.5 requires
	// with an odd number of 8-byte pushes.
	SaveSlots map[string]int
}

// Allocate runs linear-scan allocation over every function in prog.
func Allocate(prog *lir.Program) []*Func {
	out := make([]*Func, 0, len(prog.Funcs))
	for _, fn := range prog.Funcs {
		out = append(out, allocateOne(fn))
	}
	return out
}

func allocateOne(fn *lir.Func) *Func {
	intervals := computeIntervals(fn)
	widenAcrossLoops(fn, intervals)
	markCallCrossings(fn, intervals)

	order := make([]*interval, 0, len(intervals))
	for _, iv := range intervals {
		order = append(order, iv)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].start < order[j].start })

	locs := map[lir.VReg]loc{}
	used := map[string]bool{}
	inUse := map[string]bool{}
	type active struct {
		iv  *interval
		reg string
	}
	var activeList []active

	freeReg := func(r string) { inUse[r] = false }
	pickFree := func(candidates []string) string {
		for _, r := range candidates {
			if !inUse[r] {
				return r
			}
		}
		return ""
	}

	for _, iv := range order {
		kept := activeList[:0]
		for _, a := range activeList {
			if a.iv.end < iv.start {
				freeReg(a.reg)
			} else {
				kept = append(kept, a)
			}
		}
		activeList = kept

		candidates := pool
		if iv.crossesCall {
			candidates = calleeSavedPool
		}
		reg := pickFree(candidates)
		if reg != "" {
			inUse[reg] = true
			used[reg] = true
			locs[iv.v] = loc{reg: reg}
			activeList = append(activeList, active{iv: iv, reg: reg})
			continue
		}
		off := fn.Frame.Alloc(fmt.Sprintf("__spill_%s", iv.v))
		locs[iv.v] = loc{spilled: true, spill: off}
	}

	saveSlots := map[string]int{}
	for _, r := range calleeSavedPool {
		if used[r] {
			saveSlots[r] = fn.Frame.Alloc("__save_" + r)
		}
	}

	debug.Log("regalloc", "%s: %d temps, %d spilled", fn.Name, len(intervals), countSpilled(locs))
	return &Func{Src: fn, Locs: locs, Used: used, SaveSlots: saveSlots}
}

func countSpilled(locs map[lir.VReg]loc) int {
	n := 0
	for _, l := range locs {
		if l.spilled {
			n++
		}
	}
	return n
}

// computeIntervals finds each virtual register's definition index (every
// temp is written exactly once, since lir.Func.Temp never reuses an id) and
// its last-use index.
func computeIntervals(fn *lir.Func) map[lir.VReg]*interval {
	out := map[lir.VReg]*interval{}
	touch := func(v lir.VReg, idx int, isDef bool) {
		if v == lir.NoVReg {
			return
		}
		iv, ok := out[v]
		if !ok {
			iv = &interval{v: v, start: idx, end: idx}
			out[v] = iv
		}
		if isDef {
			iv.start = idx
			if iv.end < idx {
				iv.end = idx
			}
		} else if idx > iv.end {
			iv.end = idx
		}
	}

	for idx, in := range fn.Instrs {
		u := analyze(in)
		if u.hasWrite {
			touch(u.write, idx, true)
		}
		for _, r := range u.reads {
			touch(r, idx, false)
		}
	}
	return out
}

// usage is the set of virtual registers one lir.Instr reads and (at most)
// writes, worked out per-Op since not every operand field means the same
// thing for every Op (HasBase, in particular, decides whether Src1/Src2
// address a heap pointer or are unused).
type usage struct {
	reads    []lir.VReg
	write    lir.VReg
	hasWrite bool
}

func analyze(in lir.Instr) usage {
	var u usage
	if in.HasDst {
		u.write, u.hasWrite = in.Dst, true
	}
	add := func(v lir.VReg) {
		if v != lir.NoVReg {
			u.reads = append(u.reads, v)
		}
	}

	switch in.Op {
	case lir.OpMov:
		add(in.Src1)
	case lir.OpLoadState:
		if in.HasBase {
			add(in.Src1)
		}
	case lir.OpStoreState:
		add(in.Src1)
		if in.HasBase {
			add(in.Src2)
		}
	case lir.OpStoreLocal, lir.OpEnqueue, lir.OpArg, lir.OpReturn, lir.OpNeg, lir.OpNot, lir.OpJz, lir.OpJnz:
		add(in.Src1)
	case lir.OpCall:
		for _, a := range in.Args {
			add(a)
		}
	case lir.OpVecSet:
		add(in.Src1)
		add(in.Src2)
		for _, a := range in.Args {
			add(a)
		}
	case lir.OpVecGet, lir.OpMapGet:
		add(in.Src1)
		add(in.Src2)
	case lir.OpVecPush, lir.OpVecLen, lir.OpMapKeys, lir.OpMapLen:
		add(in.Src1)
		for _, a := range in.Args {
			add(a)
		}
	case lir.OpMapSet:
		add(in.Src1)
		for _, a := range in.Args {
			add(a)
		}
	case lir.OpMovImm, lir.OpMovStr, lir.OpLoadLocal, lir.OpLoadBind, lir.OpEmitAlloc, lir.OpLabel, lir.OpJmp, lir.OpNop:
		// no virtual-register operands
	default:
		// binary arithmetic/comparison/strconcat: Dst = op(Src1, Src2)
		add(in.Src1)
		add(in.Src2)
	}
	return u
}

// callSite reports whether in's own codegen embeds a call instruction --
// every op that ultimately reaches into the runtime ABI (spec.md §6), not
// only the literal lir.OpCall -- since any live interval spanning one of
// these must avoid the caller-saved half of the allocatable pool.
func callSite(in lir.Instr) bool {
	switch in.Op {
	case lir.OpCall, lir.OpEmitAlloc, lir.OpEnqueue, lir.OpStrConcat,
		lir.OpVecGet, lir.OpVecSet, lir.OpVecPush, lir.OpVecLen,
		lir.OpMapGet, lir.OpMapSet, lir.OpMapKeys, lir.OpMapLen:
		return true
	default:
		return false
	}
}

func markCallCrossings(fn *lir.Func, intervals map[lir.VReg]*interval) {
	var calls []int
	for idx, in := range fn.Instrs {
		if callSite(in) {
			calls = append(calls, idx)
		}
	}
	for _, iv := range intervals {
		for _, c := range calls {
			if iv.start < c && c <= iv.end {
				iv.crossesCall = true
				break
			}
		}
	}
}

// widenAcrossLoops extends every interval that overlaps a loop body (an SCC
// of more than one basic block, or a single block with a self-edge) to span
// the loop's entire instruction range -- spec.md §4.7's flow-insensitive
// widening, using internal/scc the same way the package doc promises.
func widenAcrossLoops(fn *lir.Func, intervals map[lir.VReg]*interval) {
	blocks, succs, _ := basicBlocks(fn)
	if len(blocks) == 0 {
		return
	}

	graph := func(n int) iter.Seq[int] {
		return func(yield func(int) bool) {
			for _, s := range succs[n] {
				if !yield(s) {
					return
				}
			}
		}
	}
	dag := scc.Sort(0, scc.Graph[int](graph))

	var loopRanges [][2]int
	for bi := range blocks {
		comp := dag.ForNode(bi)
		if comp == nil {
			continue
		}
		isLoop := comp.Recursive()
		if !isLoop {
			for _, s := range succs[bi] {
				if s == bi {
					isLoop = true
				}
			}
		}
		if !isLoop {
			continue
		}
		lo, hi := blocks[bi][0], blocks[bi][1]
		for _, m := range comp.Members() {
			if blocks[m][0] < lo {
				lo = blocks[m][0]
			}
			if blocks[m][1] > hi {
				hi = blocks[m][1]
			}
		}
		loopRanges = append(loopRanges, [2]int{lo, hi})
	}

	for _, iv := range intervals {
		for _, r := range loopRanges {
			if iv.start <= r[1] && iv.end >= r[0] {
				if iv.start > r[0] {
					iv.start = r[0]
				}
				if iv.end < r[1] {
					iv.end = r[1]
				}
			}
		}
	}
}

// basicBlocks splits fn's instruction stream into blocks at label
// boundaries and after any terminator (jmp/jz/jnz/return), and computes
// each block's successor block indices.
func basicBlocks(fn *lir.Func) (blocks map[int][2]int, succs map[int][]int, labelBlock map[string]int) {
	n := len(fn.Instrs)
	if n == 0 {
		return nil, nil, nil
	}
	boundary := map[int]bool{0: true}
	for i, in := range fn.Instrs {
		if in.Op == lir.OpLabel {
			boundary[i] = true
		}
		if i > 0 {
			switch fn.Instrs[i-1].Op {
			case lir.OpJmp, lir.OpJz, lir.OpJnz, lir.OpReturn:
				boundary[i] = true
			}
		}
	}
	var starts []int
	for i := range boundary {
		starts = append(starts, i)
	}
	sort.Ints(starts)

	blocks = map[int][2]int{}
	labelBlock = map[string]int{}
	for bi, s := range starts {
		e := n - 1
		if bi+1 < len(starts) {
			e = starts[bi+1] - 1
		}
		blocks[bi] = [2]int{s, e}
		if fn.Instrs[s].Op == lir.OpLabel {
			labelBlock[fn.Instrs[s].Sym] = bi
		}
	}

	succs = map[int][]int{}
	for bi, rng := range blocks {
		last := fn.Instrs[rng[1]]
		switch last.Op {
		case lir.OpJmp:
			if tgt, ok := labelBlock[last.Sym]; ok {
				succs[bi] = []int{tgt}
			}
		case lir.OpJz, lir.OpJnz:
			if tgt, ok := labelBlock[last.Sym]; ok {
				succs[bi] = append(succs[bi], tgt)
			}
			if bi+1 < len(starts) {
				succs[bi] = append(succs[bi], bi+1)
			}
		case lir.OpReturn:
			// no successors
		default:
			if bi+1 < len(starts) {
				succs[bi] = []int{bi + 1}
			}
		}
	}
	return blocks, succs, labelBlock
}
