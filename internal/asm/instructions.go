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

// This file holds the mnemonic table and the single encoder every
// instruction line goes through, spec.md §4.8's required ~48-mnemonic
// coverage. Because every instruction this assembler emits has a size
// fully determined by its operands' syntactic shape -- jcc/jmp/call are
// always emitted in 32-bit-displacement form, and a RIP-relative operand
// is always a fixed 4-byte disp32 -- encoding never needs a resolved label
// address to know how many bytes an instruction occupies. That lets pass 1
// and pass 2 share one encoder (instrBytes): pass 1 runs it to measure
// length and build the label table, pass 2 runs it again to collect the
// real bytes and turn any symbol reference into a Fixup.
package asm

import (
	"fmt"
	"strings"
)

// ref is a symbol reference recorded at an offset within the bytes
// instrBytes/directiveBytes just produced, relative to the start of that
// instruction/directive's own output.
type ref struct {
	offset     int
	symbol     string
	size       int
	pcRelative bool
}

// instrBytes encodes one instruction line to machine code, returning any
// symbol references it left as zero-filled placeholders.
func instrBytes(ln asmLine) ([]byte, []ref, error) {
	mnemonic, w := splitSizeSuffix(ln.mnemonic)

	switch mnemonic {
	case "nop":
		return []byte{0x90}, nil, nil
	case "ret":
		return []byte{0xC3}, nil, nil
	case "cqo":
		return []byte{0x48, 0x99}, nil, nil
	case "cdq":
		return []byte{0x99}, nil, nil
	case "syscall":
		return []byte{0x0F, 0x05}, nil, nil
	case "rdtsc":
		return []byte{0x0F, 0x31}, nil, nil

	case "push":
		return encodePushPop(ln, 0x50)
	case "pop":
		return encodePushPop(ln, 0x58)

	case "mov":
		return encodeMov(ln, w)
	case "movabs":
		return encodeMovabs(ln)
	case "movzx", "movsx":
		return encodeMovExt(ln, mnemonic == "movsx")
	case "lea":
		return encodeLea(ln)

	case "add":
		return encodeArith(ln, w, 0x00, 0)
	case "sub":
		return encodeArith(ln, w, 0x28, 5)
	case "and":
		return encodeArith(ln, w, 0x20, 4)
	case "or":
		return encodeArith(ln, w, 0x08, 1)
	case "xor":
		return encodeArith(ln, w, 0x30, 6)
	case "cmp":
		return encodeArith(ln, w, 0x38, 7)
	case "test":
		return encodeTest(ln, w)

	case "imul":
		return encodeImul(ln, w)
	case "idiv":
		return encodeUnaryGroup3(ln, w, 7)
	case "div":
		return encodeUnaryGroup3(ln, w, 6)
	case "neg":
		return encodeUnaryGroup3(ln, w, 3)
	case "not":
		return encodeUnaryGroup3(ln, w, 2)
	case "inc":
		return encodeIncDec(ln, w, 0)
	case "dec":
		return encodeIncDec(ln, w, 1)

	case "shl", "sal":
		return encodeShift(ln, w, 4)
	case "shr":
		return encodeShift(ln, w, 5)
	case "sar":
		return encodeShift(ln, w, 7)

	case "jmp":
		return encodeJmp(ln)
	case "call":
		return encodeCall(ln)

	default:
		if cc, ok := jccSuffix(mnemonic); ok {
			return encodeJcc(ln, cc)
		}
		if cc, ok := setccSuffix(mnemonic); ok {
			return encodeSetcc(ln, cc)
		}
		return nil, nil, fmt.Errorf("asm: unknown mnemonic %q", ln.mnemonic)
	}
}

// splitSizeSuffix strips an AT&T size suffix (b/w/l/q) from mnemonic,
// returning the bare mnemonic and whether 64-bit (REX.W) operation was
// requested. q and no-suffix both mean 64-bit, l means 32-bit; w/b are
// not recognised as suffixes here (internal/regalloc never emits a 16-bit
// op), so such a mnemonic is left as written and treated as 64-bit.
func splitSizeSuffix(m string) (string, bool) {
	switch {
	case len(m) > 1 && m[len(m)-1] == 'q':
		base := m[:len(m)-1]
		if _, known := knownBase[base]; known {
			return base, true
		}
	case len(m) > 1 && m[len(m)-1] == 'l':
		base := m[:len(m)-1]
		if _, known := knownBase[base]; known {
			return base, false
		}
	}
	return m, true
}

var knownBase = map[string]bool{
	"mov": true, "add": true, "sub": true, "and": true, "or": true, "xor": true,
	"cmp": true, "test": true, "neg": true, "not": true, "inc": true, "dec": true,
	"idiv": true, "div": true, "imul": true,
}

func jccSuffix(m string) (byte, bool) {
	if len(m) > 1 && m[0] == 'j' {
		if cc, ok := ccCode[m[1:]]; ok {
			return cc, true
		}
	}
	return 0, false
}

func setccSuffix(m string) (byte, bool) {
	if len(m) > 3 && m[:3] == "set" {
		if cc, ok := ccCode[m[3:]]; ok {
			return cc, true
		}
	}
	return 0, false
}

func toOperand(s string) (operand, error) {
	if r, _, ok := isRegOperand(s); ok {
		return regOp(r), nil
	}
	if m, ok := parseMem(s); ok {
		return memOp(m), nil
	}
	return operand{}, fmt.Errorf("asm: unrecognized operand %q", s)
}

func encodePushPop(ln asmLine, base byte) ([]byte, []ref, error) {
	r, _, ok := isRegOperand(ln.operands[0])
	if !ok {
		return nil, nil, fmt.Errorf("asm: %s requires a register operand", ln.mnemonic)
	}
	var b []byte
	if r.extended() {
		b = append(b, rex(false, false, false, true))
	}
	b = append(b, base+r.low3())
	return b, nil, nil
}

func encodeMov(ln asmLine, w bool) ([]byte, []ref, error) {
	dst, src := ln.operands[1], ln.operands[0]
	if imm, ok := parseImm(src); ok {
		dstOp, err := toOperand(dst)
		if err != nil {
			return nil, nil, err
		}
		var b []byte
		rm := encodeModRM(0, dstOp)
		needB := dstOp.isReg && dstOp.r.extended() || rm.needB
		if w || needB {
			b = append(b, rex(w, false, false, needB))
		}
		b = append(b, 0xC7)
		b = append(b, rm.bytes...)
		b = appendInt32(b, int32(imm))
		return b, nil, nil
	}

	dstOp, err := toOperand(dst)
	if err != nil {
		return nil, nil, err
	}
	srcOp, err := toOperand(src)
	if err != nil {
		return nil, nil, err
	}
	// AT&T "mov src, dst": if dst is memory, this is MOV r/m, r (0x89,
	// reg field = src); otherwise it's MOV r, r/m (0x8B, reg field = dst,
	// rm = src) so a memory source is addressed in the ModR/M byte.
	if !dstOp.isReg {
		return encodeRMInstr(w, []byte{0x89}, srcOp.r, dstOp)
	}
	return encodeRMInstr(w, []byte{0x8B}, dstOp.r, srcOp)
}

func encodeMovabs(ln asmLine) ([]byte, []ref, error) {
	imm, ok := parseImm(ln.operands[0])
	if !ok {
		return nil, nil, fmt.Errorf("asm: movabs requires an immediate source")
	}
	r, _, ok := isRegOperand(ln.operands[1])
	if !ok {
		return nil, nil, fmt.Errorf("asm: movabs requires a register destination")
	}
	var b []byte
	b = append(b, rex(true, false, false, r.extended()))
	b = append(b, 0xB8+r.low3())
	b = appendInt64(b, imm)
	return b, nil, nil
}

func encodeMovExt(ln asmLine, signExtend bool) ([]byte, []ref, error) {
	srcOp, err := toOperand(ln.operands[0])
	if err != nil {
		return nil, nil, err
	}
	dst, _, ok := isRegOperand(ln.operands[1])
	if !ok {
		return nil, nil, fmt.Errorf("asm: movzx/movsx requires a register destination")
	}
	op := []byte{0x0F, 0xB6}
	if signExtend {
		op = []byte{0x0F, 0xBE}
	}
	return encodeRMInstr(true, op, dst, srcOp)
}

func encodeLea(ln asmLine) ([]byte, []ref, error) {
	srcOp, err := toOperand(ln.operands[0])
	if err != nil {
		return nil, nil, err
	}
	dst, _, ok := isRegOperand(ln.operands[1])
	if !ok {
		return nil, nil, fmt.Errorf("asm: lea requires a register destination")
	}
	return encodeRMInstr(true, []byte{0x8D}, dst, srcOp)
}

// encodeRMInstr emits opcode + ModR/M(+SIB+disp) addressing rm, with
// regField as the second register operand (folded into REX.R), returning
// any RIP-relative fixup translated into this instruction's local ref.
func encodeRMInstr(w bool, opcode []byte, regField reg, rm operand) ([]byte, []ref, error) {
	mr := encodeModRM(regField.low3(), rm)
	needB := rm.isReg && rm.r.extended() || mr.needB
	var b []byte
	if w || regField.extended() || needB || mr.needX {
		b = append(b, rex(w, regField.extended(), mr.needX, needB))
	}
	b = append(b, opcode...)
	base := len(b)
	b = append(b, mr.bytes...)
	var refs []ref
	if mr.fixupSym != "" {
		refs = append(refs, ref{offset: base + mr.fixupAt, symbol: mr.fixupSym, size: 4, pcRelative: true})
	}
	return b, refs, nil
}

func encodeArith(ln asmLine, w bool, opBase byte, immExt byte) ([]byte, []ref, error) {
	dst, src := ln.operands[1], ln.operands[0]
	if imm, ok := parseImm(src); ok {
		return encodeArithImm(dst, w, immExt, imm)
	}
	dstOp, err := toOperand(dst)
	if err != nil {
		return nil, nil, err
	}
	srcOp, err := toOperand(src)
	if err != nil {
		return nil, nil, err
	}
	if !dstOp.isReg {
		return encodeRMInstr(w, []byte{opBase + 1}, srcOp.r, dstOp)
	}
	return encodeRMInstr(w, []byte{opBase + 3}, dstOp.r, srcOp)
}

func encodeArithImm(dst string, w bool, ext byte, imm int64) ([]byte, []ref, error) {
	dstOp, err := toOperand(dst)
	if err != nil {
		return nil, nil, err
	}
	mr := encodeModRM(ext, dstOp)
	needB := dstOp.isReg && dstOp.r.extended() || mr.needB
	var b []byte
	if w || needB {
		b = append(b, rex(w, false, false, needB))
	}
	if imm >= -128 && imm <= 127 {
		b = append(b, 0x83)
		b = append(b, mr.bytes...)
		b = append(b, byte(int8(imm)))
	} else {
		b = append(b, 0x81)
		b = append(b, mr.bytes...)
		b = appendInt32(b, int32(imm))
	}
	return b, nil, nil
}

func encodeTest(ln asmLine, w bool) ([]byte, []ref, error) {
	a, err := toOperand(ln.operands[0])
	if err != nil {
		return nil, nil, err
	}
	b, err := toOperand(ln.operands[1])
	if err != nil {
		return nil, nil, err
	}
	if !b.isReg {
		return encodeRMInstr(w, []byte{0x85}, a.r, b)
	}
	return encodeRMInstr(w, []byte{0x85}, b.r, a)
}

func encodeImul(ln asmLine, w bool) ([]byte, []ref, error) {
	src, err := toOperand(ln.operands[0])
	if err != nil {
		return nil, nil, err
	}
	dst, _, ok := isRegOperand(ln.operands[1])
	if !ok {
		return nil, nil, fmt.Errorf("asm: imul requires a register destination")
	}
	return encodeRMInstr(w, []byte{0x0F, 0xAF}, dst, src)
}

func encodeUnaryGroup3(ln asmLine, w bool, ext byte) ([]byte, []ref, error) {
	op, err := toOperand(ln.operands[0])
	if err != nil {
		return nil, nil, err
	}
	mr := encodeModRM(ext, op)
	needB := op.isReg && op.r.extended() || mr.needB
	var b []byte
	if w || needB {
		b = append(b, rex(w, false, false, needB))
	}
	b = append(b, 0xF7)
	b = append(b, mr.bytes...)
	return b, nil, nil
}

func encodeIncDec(ln asmLine, w bool, ext byte) ([]byte, []ref, error) {
	op, err := toOperand(ln.operands[0])
	if err != nil {
		return nil, nil, err
	}
	mr := encodeModRM(ext, op)
	needB := op.isReg && op.r.extended() || mr.needB
	var b []byte
	if w || needB {
		b = append(b, rex(w, false, false, needB))
	}
	b = append(b, 0xFF)
	b = append(b, mr.bytes...)
	return b, nil, nil
}

func encodeShift(ln asmLine, w bool, ext byte) ([]byte, []ref, error) {
	dst, err := toOperand(ln.operands[1])
	if err != nil {
		return nil, nil, err
	}
	mr := encodeModRM(ext, dst)
	needB := dst.isReg && dst.r.extended() || mr.needB
	var b []byte
	if w || needB {
		b = append(b, rex(w, false, false, needB))
	}
	if ln.operands[0] == "%cl" {
		b = append(b, 0xD3)
		b = append(b, mr.bytes...)
		return b, nil, nil
	}
	imm, ok := parseImm(ln.operands[0])
	if !ok {
		return nil, nil, fmt.Errorf("asm: shift count must be an immediate or %%cl")
	}
	b = append(b, 0xC1)
	b = append(b, mr.bytes...)
	b = append(b, byte(imm))
	return b, nil, nil
}

// jmp/jcc/call are always emitted in 32-bit-displacement form (spec.md
// §4.8), so their length is fixed regardless of target distance and no
// second "does this fit in a byte" pass is ever needed.
func encodeJmp(ln asmLine) ([]byte, []ref, error) {
	b := []byte{0xE9, 0, 0, 0, 0}
	return b, []ref{{offset: 1, symbol: ln.operands[0], size: 4, pcRelative: true}}, nil
}

func encodeJcc(ln asmLine, cc byte) ([]byte, []ref, error) {
	b := []byte{0x0F, 0x80 | cc, 0, 0, 0, 0}
	return b, []ref{{offset: 2, symbol: ln.operands[0], size: 4, pcRelative: true}}, nil
}

func encodeCall(ln asmLine) ([]byte, []ref, error) {
	b := []byte{0xE8, 0, 0, 0, 0}
	return b, []ref{{offset: 1, symbol: ln.operands[0], size: 4, pcRelative: true}}, nil
}

func encodeSetcc(ln asmLine, cc byte) ([]byte, []ref, error) {
	r, ok := gpr8[strings.TrimPrefix(ln.operands[0], "%")]
	if !ok {
		return nil, nil, fmt.Errorf("asm: setcc requires an 8-bit register operand")
	}
	// Always emit REX (even a no-op 0x40) so low-byte register access
	// (%spl/%bpl/%sil/%dil) is unambiguous, per spec.md §4.8.
	b := []byte{rex(false, false, false, r.extended()), 0x0F, 0x90 | cc, modrmByte(3, 0, r.low3())}
	return b, nil, nil
}
