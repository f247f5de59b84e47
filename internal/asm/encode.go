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

// This file implements spec.md §4.8's pass 2: re-walking the classified
// lines, now emitting real bytes. REX/ModR/M/SIB synthesis lives here,
// grounded on the emitBytes/fixup-then-patch shape of
// other_examples/0fc27674_arc-language-core-codegen's amd64 control-flow
// encoder (REX prefix before an opcode, a ModR/M byte, then an optional
// SIB and displacement, with jump targets queued as fixups rather than
// computed inline).
package asm

import "encoding/binary"

// operand is either a register or a memory reference, the two shapes
// instruction operands after register allocation ever take.
type operand struct {
	isReg bool
	r     reg
	mem   memOperand
}

func regOp(r reg) operand        { return operand{isReg: true, r: r} }
func memOp(m memOperand) operand { return operand{mem: m} }

// rex builds a REX prefix byte from its W/R/X/B bits. Returns 0x40 (a
// no-op prefix the caller must still decide whether to emit) when no bit
// is set.
func rex(w, r, x, b bool) byte {
	var v byte = 0x40
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

// pendingModRM is the byte sequence (ModR/M, optional SIB, optional
// displacement) for one operand, plus whether encoding it required
// REX.X/B and whether it leaves a fixup (a RIP-relative reference to a
// symbol whose address isn't a literal displacement).
type pendingModRM struct {
	bytes    []byte
	needX    bool
	needB    bool
	fixupSym string // "" unless this operand is RIP-relative to a label
	fixupAt  int    // offset of the disp32 field within bytes
}

// encodeModRM builds the ModR/M(+SIB+disp) bytes addressing rm, with
// regField filling the ModR/M.reg bits (either a second register operand
// or an opcode-extension digit for immediate-group instructions).
func encodeModRM(regField byte, rm operand) pendingModRM {
	if rm.isReg {
		return pendingModRM{bytes: []byte{modrmByte(3, regField, rm.r.low3())}}
	}

	m := rm.mem
	if m.rip {
		// mod=00, rm=101: RIP-relative disp32, spec.md §4.8.
		b := []byte{modrmByte(0, regField, 5), 0, 0, 0, 0}
		return pendingModRM{bytes: b, fixupSym: m.symbol, fixupAt: 1}
	}

	base := gpr64[m.base]
	needsSIB := base.low3() == 4 // rsp/r12 as base always requires a SIB byte
	mod := dispMod(m.disp, base)

	var out []byte
	if needsSIB {
		out = append(out, modrmByte(mod, regField, 4))
		out = append(out, sibByte(0, 4, base.low3())) // no index, scale=1
	} else {
		out = append(out, modrmByte(mod, regField, base.low3()))
	}
	switch mod {
	case 1:
		out = append(out, byte(int8(m.disp)))
	case 2:
		out = appendInt32(out, int32(m.disp))
	case 0:
		if base.low3() == 5 {
			// rbp/r13 with mod=00 is reinterpreted as RIP-relative by the
			// CPU; spec.md §4.8 calls this out explicitly, so disp8(=0)
			// is forced instead whenever the base is rbp or r13.
			out[0] = modrmByte(1, regField, base.low3())
			out = append(out, 0)
		}
	}
	return pendingModRM{bytes: out, needB: base.extended(), needX: needsSIB && false}
}

func modrmByte(mod, regField, rm byte) byte {
	return mod<<6 | (regField&7)<<3 | (rm & 7)
}

func sibByte(scale, index, base byte) byte {
	return scale<<6 | (index&7)<<3 | (base & 7)
}

// dispMod picks the smallest ModR/M mod field that can represent disp for
// the given base register: 0 (none, unless base is rbp/r13), 1 (disp8), or
// 2 (disp32).
func dispMod(disp int64, base reg) byte {
	if disp == 0 && base.low3() != 5 {
		return 0
	}
	if disp >= -128 && disp <= 127 {
		return 1
	}
	return 2
}

func appendInt32(b []byte, v int32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	return append(b, tmp[:]...)
}

func appendInt64(b []byte, v int64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	return append(b, tmp[:]...)
}

// emitRM emits a full "op rm, regField" instruction: optional REX, opcode
// byte(s), then the operand's ModR/M(+SIB+disp). w controls REX.W (8-byte
// operand size); regExt reports that regField is the low bits of an
// extended second register operand (r8-r15), which sets REX.R.
func emitRM(p *Program, sec Section, w bool, opcode []byte, regField byte, regExt bool, rm operand) {
	needR := regExt
	mr := encodeModRM(regField, rm)
	needB := rm.isReg && rm.r.extended() || mr.needB

	if w || needR || needB || mr.needX {
		p.append(sec, rex(w, needR, mr.needX, needB))
	}
	p.append(sec, opcode...)
	off := p.append(sec, mr.bytes...)

	if mr.fixupSym != "" {
		p.addFixup(sec, off+mr.fixupAt, mr.fixupSym, 4, true)
	}
}
