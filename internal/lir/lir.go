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

// Package lir is the three-address/assembly-text intermediate
// representation lowering emits into and the register allocator consumes:
// one Instr per op, operands are either a virtual register, an immediate,
// a frame-relative local, a state-field offset, or a label. Rendering a
// Func to AT&T-style assembly text for internal/asm is done by
// internal/regalloc after allocation, not by this package.
//
// This mirrors the shape of the teacher's compiler.codegen (compile.go):
// that function writes typed records into a byte buffer while threading a
// symbol table and a list of pending relocations through a single pass.
// internal/lower does the analogous thing one level up, building lir.Instr
// values into a lir.Func instead of bytes directly.
package lir

import "fmt"

// VReg is a virtual register: an SSA-free, infinitely-available temp the
// register allocator later maps to a physical register or a spill slot.
type VReg int

// NoVReg marks an operand slot that holds no value, distinguishing a bare
// `return` from `return v0` (VReg's zero value is itself a valid register).
const NoVReg VReg = -1

func (v VReg) String() string { return fmt.Sprintf("v%d", int(v)) }

// Op tags a three-address instruction.
type Op int

const (
	OpNop Op = iota
	OpMovImm   // Dst = Imm
	OpMovStr   // Dst = address of interned string Sym
	OpMov      // Dst = Src1
	OpLoadState // Dst = state[Offset]
	OpStoreState // state[Offset] = Src1 (Width bytes)
	OpLoadBind  // Dst = payload[Offset]  (signal binding field access)
	OpLoadLocal // Dst = local Sym
	OpStoreLocal // local Sym = Src1
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpXor
	OpNeg
	OpNot
	OpShl
	OpShr
	OpCmpEq
	OpCmpNe
	OpCmpLt
	OpCmpLe
	OpCmpGt
	OpCmpGe
	OpStrConcat
	OpLabel
	OpJmp
	OpJz  // jump if Src1 == 0
	OpJnz // jump if Src1 != 0
	OpCall    // Dst = call Sym(Args...)
	OpEmitAlloc  // Dst = runtime_alloc(Imm); the frequency id is stored by a separate OpStoreState
	OpEnqueue // call queue_enqueue(&queue Sym, Src1)
	OpArg     // stage Src1 into argument slot Offset for the next OpCall
	OpReturn  // return Src1 (Src1 may be invalid for bare return)
	OpVecGet
	OpVecSet
	OpVecPush
	OpVecLen
	OpMapGet
	OpMapSet
	OpMapKeys
	OpMapLen
)

var opNames = map[Op]string{
	OpNop: "nop", OpMovImm: "movimm", OpMovStr: "movstr", OpMov: "mov",
	OpLoadState: "ldstate", OpStoreState: "ststate", OpLoadBind: "ldbind",
	OpLoadLocal: "ldlocal", OpStoreLocal: "stlocal",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpMod: "mod",
	OpAnd: "and", OpOr: "or", OpXor: "xor", OpNeg: "neg", OpNot: "not",
	OpShl: "shl", OpShr: "shr",
	OpCmpEq: "cmpeq", OpCmpNe: "cmpne", OpCmpLt: "cmplt", OpCmpLe: "cmple",
	OpCmpGt: "cmpgt", OpCmpGe: "cmpge", OpStrConcat: "strcat",
	OpLabel: "label", OpJmp: "jmp", OpJz: "jz", OpJnz: "jnz", OpCall: "call",
	OpEmitAlloc: "emitalloc", OpEnqueue: "enqueue", OpArg: "arg",
	OpReturn: "ret", OpVecGet: "vecget", OpVecSet: "vecset",
	OpVecPush: "vecpush", OpVecLen: "veclen",
	OpMapGet: "mapget", OpMapSet: "mapset", OpMapKeys: "mapkeys", OpMapLen: "maplen",
}

func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return fmt.Sprintf("op%d", int(o))
}

// Instr is one three-address LIR instruction. Not every field is used by
// every Op; see the Op constant comments above for which fields a given op
// reads.
type Instr struct {
	Op     Op
	Dst    VReg
	Src1   VReg
	Src2   VReg
	Imm    int64
	Width  int    // store/load width in bytes (8 normally, 16 for fat pointers)
	Offset int    // state/local/payload byte offset
	Sym    string // label name, runtime call target, or interned string symbol
	HasDst bool
	// HasBase marks OpLoadState/OpStoreState as addressing through the
	// pointer held in Src1 (a heap record: a payload, a struct literal, a
	// dereferenced field) rather than the implicit agent state base kept
	// in r12 for the duration of every handler (spec.md §4.5).
	HasBase bool
	Args    []VReg // ordered call arguments, for OpCall
}

// Frame is the layout of one function's locals: a map from source-level
// name to a negative rbp-relative slot offset, plus the running low-water
// mark lowering uses to allocate the next slot.
type Frame struct {
	Slots map[string]int
	Next  int // next free offset, always a multiple of 8, grows negative
}

// NewFrame returns an empty frame.
func NewFrame() *Frame { return &Frame{Slots: map[string]int{}} }

// Alloc reserves a new 8-byte slot for name and returns its rbp-relative
// offset (negative).
func (f *Frame) Alloc(name string) int {
	f.Next -= 8
	f.Slots[name] = f.Next
	return f.Next
}

// Size returns the total stack space the frame needs, rounded up to 16
// bytes to keep the call-site alignment invariant spec.md §4.5 requires.
func (f *Frame) Size() int {
	n := -f.Next
	if n%16 != 0 {
		n += 16 - n%16
	}
	return n
}

// Func is one compiled rule or helper: its label, its virtual-register
// instruction stream, and the frame its locals live in.
type Func struct {
	Name    string // e.g. "rule_counter_tick" or "helper_counter_double"
	Frame   *Frame
	Instrs  []Instr
	NumTemp int // number of virtual registers allocated, for the allocator's live-range arrays
}

// NewFunc starts an empty function named name.
func NewFunc(name string) *Func {
	return &Func{Name: name, Frame: NewFrame()}
}

// Temp allocates a fresh virtual register.
func (f *Func) Temp() VReg {
	v := VReg(f.NumTemp)
	f.NumTemp++
	return v
}

// Emit appends instr to the function body.
func (f *Func) Emit(instr Instr) {
	f.Instrs = append(f.Instrs, instr)
}

// Label returns a fresh label name derived from prefix; it does not emit
// an OpLabel instruction.
func (f *Func) Label(prefix string) string {
	name := fmt.Sprintf(".L%s_%d", prefix, len(f.Instrs))
	return name
}

// Program is the whole compilation unit's LIR: every lowered function plus
// the interned string table lowering discovered along the way.
type Program struct {
	Funcs   []*Func
	Strings map[string]string // symbol name -> literal contents, in discovery order via StringOrder
	StringOrder []string
}

// NewProgram returns an empty Program.
func NewProgram() *Program {
	return &Program{Strings: map[string]string{}}
}

// Intern returns the symbol name for a string literal, creating one if this
// exact literal has not been seen before in this compilation unit.
func (p *Program) Intern(s string) string {
	for _, name := range p.StringOrder {
		if p.Strings[name] == s {
			return name
		}
	}
	name := fmt.Sprintf("str_%d", len(p.StringOrder))
	p.Strings[name] = s
	p.StringOrder = append(p.StringOrder, name)
	return name
}
