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

package asm

// reg names a general-purpose register by its x86 ModR/M register number
// (0-15) and whether that number is >= 8 (an "extended" register needing
// REX.R/X/B).
type reg struct {
	num  byte
	name string
}

func (r reg) extended() bool { return r.num >= 8 }
func (r reg) low3() byte     { return r.num & 7 }

// gpr64 maps every 64-bit register name this assembler accepts to its
// encoding. r12, rbp, and rsp are reserved by the calling convention
// (spec.md §4.5/§4.7) but the assembler itself has no opinion on that --
// it just needs to encode whatever internal/regalloc hands it.
var gpr64 = map[string]reg{
	"rax": {0, "rax"}, "rcx": {1, "rcx"}, "rdx": {2, "rdx"}, "rbx": {3, "rbx"},
	"rsp": {4, "rsp"}, "rbp": {5, "rbp"}, "rsi": {6, "rsi"}, "rdi": {7, "rdi"},
	"r8": {8, "r8"}, "r9": {9, "r9"}, "r10": {10, "r10"}, "r11": {11, "r11"},
	"r12": {12, "r12"}, "r13": {13, "r13"}, "r14": {14, "r14"}, "r15": {15, "r15"},
}

// gpr8 maps the 8-bit low-byte register names setcc targets. With a REX
// prefix present (even a no-op one, REX.0), %spl/%bpl/%sil/%dil address the
// low byte instead of the legacy %ah/%ch/%dh/%bh encoding -- mycc always
// emits a REX prefix for setcc for this reason (see encodeSetcc).
var gpr8 = map[string]reg{
	"al": {0, "al"}, "cl": {1, "cl"}, "dl": {2, "dl"}, "bl": {3, "bl"},
	"spl": {4, "spl"}, "bpl": {5, "bpl"}, "sil": {6, "sil"}, "dil": {7, "dil"},
	"r8b": {8, "r8b"}, "r9b": {9, "r9b"}, "r10b": {10, "r10b"}, "r11b": {11, "r11b"},
	"r12b": {12, "r12b"}, "r13b": {13, "r13b"}, "r14b": {14, "r14b"}, "r15b": {15, "r15b"},
}

// ccCode maps a jcc/setcc condition suffix (spec.md §4.8's "all common
// jcc", `sete`/`setne`/... list) to its 4-bit condition code, shared
// between the 0F 8x jcc opcodes and the 0F 9x setcc opcodes.
var ccCode = map[string]byte{
	"e": 0x4, "ne": 0x5, "l": 0xC, "le": 0xE, "g": 0xF, "ge": 0xD,
	"b": 0x2, "be": 0x6, "a": 0x7, "ae": 0x3, "z": 0x4, "nz": 0x5,
}
