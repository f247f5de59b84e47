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

// This file renders an allocated Func to AT&T assembly text: the
// counterpart of compiler.codegen's byte-emitting walk, one level up, where
// "emit a byte" becomes "emit a line of text" and the single "current value
// lives in rax" register gets generalized to rax/rdx as the two scratch
// registers every spilled operand round-trips through.
package regalloc

import (
	"fmt"
	"strings"

	"github.com/mycelial-lang/mycc/internal/debug"
	"github.com/mycelial-lang/mycc/internal/lir"
)

var argRegs = []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"}

// Render lowers every allocated function plus the program's interned string
// table to one AT&T assembly source, ready for internal/asm.Assemble.
func Render(prog *lir.Program, funcs []*Func) string {
	var sb strings.Builder
	sb.WriteString(".text\n")
	for _, f := range funcs {
		f.render(&sb)
	}
	if len(prog.StringOrder) > 0 {
		sb.WriteString(".rodata\n")
		for _, name := range prog.StringOrder {
			fmt.Fprintf(&sb, "%s:\n\t.asciz %q\n", name, prog.Strings[name])
		}
	}
	return sb.String()
}

func (f *Func) loc(v lir.VReg) loc { return f.Locs[v] }

// ensureReg returns the bare name of a register holding v's value, emitting
// a load into scratch first if v is spilled.
func (f *Func) ensureReg(sb *strings.Builder, v lir.VReg, scratch string) string {
	return strings.TrimPrefix(f.valueOperand(sb, v, scratch), "%")
}

func (f *Func) render(sb *strings.Builder) {
	name := f.Src.Name
	// SaveSlots were reserved in f.Src.Frame during allocation, so Size
	// already accounts for them: one sub covers locals, spills, and
	// callee-saved stashes alike, keeping rsp's 16-byte call-site alignment
	// intact (spec.md §4.5) with no separate push/pop adjusting it further.
	frameSize := f.Src.Frame.Size()
	saves := f.calleeSavesUsed()

	fmt.Fprintf(sb, ".globl %s\n%s:\n", name, name)
	sb.WriteString("\tpush %rbp\n")
	sb.WriteString("\tmov %rsp, %rbp\n")
	if frameSize > 0 {
		fmt.Fprintf(sb, "\tsub $%d, %%rsp\n", frameSize)
	}
	for _, r := range saves {
		fmt.Fprintf(sb, "\tmov %%%s, %d(%%rbp)\n", r, f.SaveSlots[r])
	}

	for _, in := range f.Src.Instrs {
		f.instr(sb, in, saves)
	}
}

// calleeSavesUsed returns the callee-saved pool registers this function's
// body actually touches, in the order the prologue saves them.
func (f *Func) calleeSavesUsed() []string {
	var out []string
	for _, r := range calleeSavedPool {
		if f.Used[r] {
			out = append(out, r)
		}
	}
	return out
}

func (f *Func) epilogue(sb *strings.Builder, saves []string) {
	for i := len(saves) - 1; i >= 0; i-- {
		r := saves[i]
		fmt.Fprintf(sb, "\tmov %d(%%rbp), %%%s\n", f.SaveSlots[r], r)
	}
	sb.WriteString("\tmov %rbp, %rsp\n")
	sb.WriteString("\tpop %rbp\n")
	sb.WriteString("\tret\n")
}

func (f *Func) instr(sb *strings.Builder, in lir.Instr, saves []string) {
	switch in.Op {
	case lir.OpNop:
		sb.WriteString("\tnop\n")

	case lir.OpLabel:
		fmt.Fprintf(sb, "%s:\n", in.Sym)

	case lir.OpMovImm:
		fmt.Fprintf(sb, "\tmov $%d, %s\n", in.Imm, f.loc(in.Dst))

	case lir.OpMovStr:
		f.emitLea(sb, in.Sym+"(%rip)", in.Dst)

	case lir.OpMov:
		if in.Src1 == lir.NoVReg {
			f.store(sb, "%r12", in.Dst)
			return
		}
		f.copy(sb, in.Src1, in.Dst)

	case lir.OpLoadState:
		base := "%r12"
		if in.HasBase {
			base = "%" + f.ensureReg(sb, in.Src1, "rdx")
		}
		fmt.Fprintf(sb, "\tmov %d(%s), %%rax\n", in.Offset, base)
		f.store(sb, "%rax", in.Dst)

	case lir.OpStoreState:
		val := f.valueOperand(sb, in.Src1, "rax")
		base := "%r12"
		if in.HasBase {
			base = "%" + f.ensureReg(sb, in.Src2, "rdx")
		}
		fmt.Fprintf(sb, "\tmov %s, %d(%s)\n", val, in.Offset, base)

	case lir.OpLoadBind:
		fmt.Fprintf(sb, "\tmov %d(%%rsi), %%rax\n", in.Offset)
		f.store(sb, "%rax", in.Dst)

	case lir.OpLoadLocal:
		fmt.Fprintf(sb, "\tmov %d(%%rbp), %%rax\n", in.Offset)
		f.store(sb, "%rax", in.Dst)

	case lir.OpStoreLocal:
		val := f.valueOperand(sb, in.Src1, "rax")
		fmt.Fprintf(sb, "\tmov %s, %d(%%rbp)\n", val, in.Offset)

	case lir.OpAdd, lir.OpSub, lir.OpAnd, lir.OpOr, lir.OpXor:
		f.arith(sb, mnemonicFor(in.Op), in.Src1, in.Src2, in.Dst)

	case lir.OpMul:
		f.imul(sb, in.Src1, in.Src2, in.Dst)

	case lir.OpDiv, lir.OpMod:
		f.divmod(sb, in.Op, in.Src1, in.Src2, in.Dst)

	case lir.OpNeg:
		f.unary(sb, "neg", in.Src1, in.Dst)

	case lir.OpNot:
		f.unary(sb, "not", in.Src1, in.Dst)

	case lir.OpShl, lir.OpShr:
		f.shift(sb, in.Op, in.Src1, in.Src2, in.Dst)

	case lir.OpCmpEq, lir.OpCmpNe, lir.OpCmpLt, lir.OpCmpLe, lir.OpCmpGt, lir.OpCmpGe:
		f.compare(sb, in.Op, in.Src1, in.Src2, in.Dst)

	case lir.OpStrConcat:
		f.call(sb, "builtin_strconcat", []lir.VReg{in.Src1, in.Src2}, in.Dst, in.HasDst)

	case lir.OpJmp:
		fmt.Fprintf(sb, "\tjmp %s\n", in.Sym)

	case lir.OpJz:
		fmt.Fprintf(sb, "\tcmp $0, %s\n\tje %s\n", f.loc(in.Src1), in.Sym)

	case lir.OpJnz:
		fmt.Fprintf(sb, "\tcmp $0, %s\n\tjne %s\n", f.loc(in.Src1), in.Sym)

	case lir.OpCall:
		f.call(sb, in.Sym, in.Args, in.Dst, in.HasDst)

	case lir.OpEmitAlloc:
		fmt.Fprintf(sb, "\tmov $%d, %%rdi\n\tcall runtime_alloc\n", in.Imm)
		f.store(sb, "%rax", in.Dst)

	case lir.OpEnqueue:
		// Src1 is read into %rsi before the lea below touches %rdi: Src1
		// can itself be allocated to %rdi now that the pool includes
		// argument registers, and reading it first keeps that case safe.
		val := f.valueOperand(sb, in.Src1, "rsi")
		if val != "%rsi" {
			fmt.Fprintf(sb, "\tmov %s, %%rsi\n", val)
		}
		fmt.Fprintf(sb, "\tlea %s(%%rip), %%rdi\n", in.Sym)
		sb.WriteString("\tcall queue_enqueue\n")

	case lir.OpArg:
		if in.Offset < len(argRegs) {
			val := f.valueOperand(sb, in.Src1, "rax")
			fmt.Fprintf(sb, "\tmov %s, %%%s\n", val, argRegs[in.Offset])
		}

	case lir.OpReturn:
		if in.Src1 != lir.NoVReg {
			val := f.valueOperand(sb, in.Src1, "rax")
			if val != "%rax" {
				fmt.Fprintf(sb, "\tmov %s, %%rax\n", val)
			}
		}
		f.epilogue(sb, saves)

	case lir.OpVecGet, lir.OpMapGet:
		f.call(sb, runtimeName(in.Op), []lir.VReg{in.Src1, in.Src2}, in.Dst, in.HasDst)

	case lir.OpVecSet:
		args := append([]lir.VReg{in.Src1, in.Src2}, in.Args...)
		f.call(sb, "builtin_vec_set", args, in.Dst, in.HasDst)

	case lir.OpVecPush, lir.OpVecLen, lir.OpMapKeys, lir.OpMapLen:
		args := append([]lir.VReg{in.Src1}, in.Args...)
		f.call(sb, runtimeName(in.Op), args, in.Dst, in.HasDst)

	case lir.OpMapSet:
		args := append([]lir.VReg{in.Src1}, in.Args...)
		f.call(sb, "builtin_map_set", args, in.Dst, in.HasDst)

	default:
		debug.Assert(false, "regalloc: unhandled lir op %v", in.Op)
	}
}

func runtimeName(op lir.Op) string {
	switch op {
	case lir.OpVecGet:
		return "builtin_vec_get"
	case lir.OpVecPush:
		return "builtin_vec_push"
	case lir.OpVecLen:
		return "builtin_vec_len"
	case lir.OpMapGet:
		return "builtin_map_get"
	case lir.OpMapKeys:
		return "builtin_map_keys"
	case lir.OpMapLen:
		return "builtin_map_len"
	}
	return "builtin_unknown"
}

func mnemonicFor(op lir.Op) string {
	switch op {
	case lir.OpAdd:
		return "add"
	case lir.OpSub:
		return "sub"
	case lir.OpAnd:
		return "and"
	case lir.OpOr:
		return "or"
	case lir.OpXor:
		return "xor"
	}
	return "add"
}

// copy emits dst = src, going through %rax only when both ends are memory.
func (f *Func) copy(sb *strings.Builder, src lir.VReg, dst lir.VReg) {
	sl, dl := f.loc(src), f.loc(dst)
	if _, srcReg := sl.isReg(); !srcReg {
		if _, dstReg := dl.isReg(); !dstReg {
			fmt.Fprintf(sb, "\tmov %s, %%rax\n\tmov %%rax, %s\n", sl, dl)
			return
		}
	}
	fmt.Fprintf(sb, "\tmov %s, %s\n", sl, dl)
}

// store emits "mov valueOperand, dst", where valueOperand is already a bare
// register operand like "%rax".
func (f *Func) store(sb *strings.Builder, valueOperand string, dst lir.VReg) {
	fmt.Fprintf(sb, "\tmov %s, %s\n", valueOperand, f.loc(dst))
}

// valueOperand returns an operand naming v's value, loading it into scratch
// first if v is spilled, and reports the resulting operand text (either the
// original register or "%scratch").
func (f *Func) valueOperand(sb *strings.Builder, v lir.VReg, scratch string) string {
	l := f.loc(v)
	if r, ok := l.isReg(); ok {
		return "%" + r
	}
	fmt.Fprintf(sb, "\tmov %s, %%%s\n", l.String(), scratch)
	return "%" + scratch
}

func (f *Func) emitLea(sb *strings.Builder, mem string, dst lir.VReg) {
	if r, ok := f.loc(dst).isReg(); ok {
		fmt.Fprintf(sb, "\tlea %s, %%%s\n", mem, r)
		return
	}
	fmt.Fprintf(sb, "\tlea %s, %%rax\n", mem)
	f.store(sb, "%rax", dst)
}

// arith emits dst = src1 <mnemonic> src2 by routing through %rax: mov
// src1,%rax; <op> src2,%rax; mov %rax,dst.
func (f *Func) arith(sb *strings.Builder, mnemonic string, src1, src2, dst lir.VReg) {
	fmt.Fprintf(sb, "\tmov %s, %%rax\n", f.loc(src1))
	fmt.Fprintf(sb, "\t%s %s, %%rax\n", mnemonic, f.loc(src2))
	f.store(sb, "%rax", dst)
}

func (f *Func) imul(sb *strings.Builder, src1, src2, dst lir.VReg) {
	fmt.Fprintf(sb, "\tmov %s, %%rax\n", f.loc(src1))
	fmt.Fprintf(sb, "\timul %s, %%rax\n", f.loc(src2))
	f.store(sb, "%rax", dst)
}

// divmod lowers Div/Mod through the idiv-mandated rax:rdx pair: the
// quotient lands in rax, the remainder in rdx.
func (f *Func) divmod(sb *strings.Builder, op lir.Op, src1, src2, dst lir.VReg) {
	fmt.Fprintf(sb, "\tmov %s, %%rax\n", f.loc(src1))
	sb.WriteString("\tcqo\n")
	fmt.Fprintf(sb, "\tidiv %s\n", f.loc(src2))
	if op == lir.OpDiv {
		f.store(sb, "%rax", dst)
	} else {
		f.store(sb, "%rdx", dst)
	}
}

func (f *Func) unary(sb *strings.Builder, mnemonic string, src, dst lir.VReg) {
	fmt.Fprintf(sb, "\tmov %s, %%rax\n", f.loc(src))
	fmt.Fprintf(sb, "\t%s %%rax\n", mnemonic)
	f.store(sb, "%rax", dst)
}

func (f *Func) shift(sb *strings.Builder, op lir.Op, src1, src2, dst lir.VReg) {
	mnemonic := "shl"
	if op == lir.OpShr {
		mnemonic = "sar"
	}
	fmt.Fprintf(sb, "\tmov %s, %%rax\n", f.loc(src1))
	fmt.Fprintf(sb, "\tmov %s, %%rcx\n", f.loc(src2))
	fmt.Fprintf(sb, "\t%s %%cl, %%rax\n", mnemonic)
	f.store(sb, "%rax", dst)
}

// compare lowers a CmpXX to cmp + setcc + movzx, materializing a 0/1 value
// in dst the way every other binary op's result is materialized.
func (f *Func) compare(sb *strings.Builder, op lir.Op, src1, src2, dst lir.VReg) {
	cc := ccFor(op)
	fmt.Fprintf(sb, "\tmov %s, %%rax\n", f.loc(src1))
	fmt.Fprintf(sb, "\tcmp %s, %%rax\n", f.loc(src2))
	fmt.Fprintf(sb, "\tset%s %%al\n", cc)
	sb.WriteString("\tmovzx %al, %rax\n")
	f.store(sb, "%rax", dst)
}

func ccFor(op lir.Op) string {
	switch op {
	case lir.OpCmpEq:
		return "e"
	case lir.OpCmpNe:
		return "ne"
	case lir.OpCmpLt:
		return "l"
	case lir.OpCmpLe:
		return "le"
	case lir.OpCmpGt:
		return "g"
	case lir.OpCmpGe:
		return "ge"
	}
	return "e"
}

// argMove is one pending "load this argument's source into this System V
// argument register" step in a call's staging sequence.
type argMove struct {
	dst string
	src string
}

// call stages args into the System V argument registers and issues the
// call. Four of the ten allocatable registers (rdi, rsi, r8, r9) are
// themselves argument registers, so one argument's source can be another
// argument's destination; sequenceArgMoves resolves that as a parallel
// copy instead of the naive left-to-right move loop a disjoint pool would
// allow.
func (f *Func) call(sb *strings.Builder, sym string, args []lir.VReg, dst lir.VReg, hasDst bool) {
	n := len(args)
	if n > len(argRegs) {
		n = len(argRegs)
	}
	moves := make([]*argMove, 0, n)
	for i := 0; i < n; i++ {
		src := f.loc(args[i]).String()
		dstReg := argRegs[i]
		if src == "%"+dstReg {
			continue
		}
		moves = append(moves, &argMove{dst: dstReg, src: src})
	}
	sequenceArgMoves(sb, moves)

	fmt.Fprintf(sb, "\tcall %s\n", sym)
	if hasDst {
		f.store(sb, "%rax", dst)
	}
}

// sequenceArgMoves emits moves so that a register is only overwritten once
// nothing still pending needs to read its current value, breaking any
// remaining cycle through %rax -- never itself an argument register or a
// value the allocator can hand to a live vreg, so it is always free to use
// as a temporary mid-call.
func sequenceArgMoves(sb *strings.Builder, moves []*argMove) {
	blockedBy := func(reg string, self *argMove) bool {
		for _, m := range moves {
			if m != self && m.src == "%"+reg {
				return true
			}
		}
		return false
	}

	for len(moves) > 0 {
		progressed := false
		for i := 0; i < len(moves); {
			m := moves[i]
			if blockedBy(m.dst, m) {
				i++
				continue
			}
			fmt.Fprintf(sb, "\tmov %s, %%%s\n", m.src, m.dst)
			moves = append(moves[:i], moves[i+1:]...)
			progressed = true
		}
		if progressed || len(moves) == 0 {
			continue
		}

		// Every remaining move is part of a cycle. Save the first one's
		// destination to %rax and redirect whatever was waiting to read
		// it there instead; that unblocks the rest of the cycle on the
		// next pass.
		victim := moves[0]
		fmt.Fprintf(sb, "\tmov %%%s, %%rax\n", victim.dst)
		for _, m := range moves {
			if m != victim && m.src == "%"+victim.dst {
				m.src = "%rax"
			}
		}
	}
}
