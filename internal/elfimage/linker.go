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

// Package elfimage is the ELF Linker / Image Builder of spec.md §4.9: it
// takes the internal/asm.Program produced by assembling the whole
// compilation unit (every compiled rule plus internal/dispatch's scheduler
// text, all in one listing -- spec.md's Non-goals exclude multi-file
// linking) and lays it out into a real ELF64 file.
//
// Section placement (Linker/Sym below) is adapted from the teacher's
// internal/tdp/compiler/linker package: Linker.Layout is the same
// "round each blob up to its alignment, record its offset, advance" loop as
// the teacher's Linker.Link, generalized to start from a caller-supplied
// base offset instead of always starting at zero (mycc needs the first
// blob to land right after the ELF + program headers it has already
// reserved). Where the teacher's Sym also carried its own pending
// relocations resolved symbol-by-symbol, mycc's relocation targets are
// individual labels *within* a section's blob rather than separate Syms
// (internal/asm already flattened everything into four section-sized
// blobs) -- so fixup resolution is done label-by-label against
// asm.Program.Labels in image.go instead, using the four ELF relocation
// kinds below in place of the teacher's Address/Abs32.
package elfimage

import "github.com/mycelial-lang/mycc/internal/layout"

// Kind is a relocation kind, named after the ELF x86-64 relocation type it
// implements (spec.md §4.9).
type Kind byte

const (
	_ Kind = iota
	// R_X86_64_PC32 patches symbol_vaddr + addend - next_instruction_vaddr
	// as a little-endian i32.
	R_X86_64_PC32
	// R_X86_64_64 patches symbol_vaddr + addend as a little-endian u64.
	R_X86_64_64
	// R_X86_64_32 and R_X86_64_32S both patch the low 32 bits of
	// symbol_vaddr + addend; mycc does not distinguish zero- from
	// sign-extension at patch time, and classifyKind names every 4-byte
	// absolute reference R_X86_64_32.
	R_X86_64_32
	R_X86_64_32S
)

func (k Kind) String() string {
	switch k {
	case R_X86_64_PC32:
		return "R_X86_64_PC32"
	case R_X86_64_64:
		return "R_X86_64_64"
	case R_X86_64_32:
		return "R_X86_64_32"
	case R_X86_64_32S:
		return "R_X86_64_32S"
	default:
		return "R_X86_64_NONE"
	}
}

// classifyKind infers a fixup's relocation kind from the (size,
// pc-relative) pair internal/asm already recorded for it: PC-relative
// fixups are always the 4-byte rel32 form instructions use (calls and
// RIP-relative leas), and absolute fixups are either a full 64-bit pointer
// or a 32-bit immediate depending on size.
func classifyKind(size int, pcRelative bool) Kind {
	switch {
	case pcRelative:
		return R_X86_64_PC32
	case size == 8:
		return R_X86_64_64
	default:
		return R_X86_64_32
	}
}

// Sym is one contiguous blob this image lays out: a section's assembled
// bytes, or (in buildSymtab et al.) a table built up elsewhere.
type Sym struct {
	name  string
	align int
	data  []byte

	offset int // assigned by Linker.Layout
}

// Linker lays out a sequence of Syms one after another, padding each so it
// starts at a multiple of its own alignment.
type Linker struct {
	symbols []*Sym
}

// NewSymbol appends a new Sym, placed after every Sym already in l.
func (l *Linker) NewSymbol(name string, align int, data []byte) *Sym {
	s := &Sym{name: name, align: align, data: data}
	l.symbols = append(l.symbols, s)
	return s
}

// Layout assigns every symbol's offset, starting from start, and returns
// the offset one past the last symbol's data -- the same
// round-up-then-advance loop as the teacher's Linker.Link, generalized to
// an arbitrary starting offset instead of always beginning at zero.
func (l *Linker) Layout(start int) int {
	offset := start
	for _, s := range l.symbols {
		offset = layout.RoundUp(offset, s.align)
		s.offset = offset
		offset += len(s.data)
	}
	return offset
}

// Place copies every symbol's data into buf at its assigned offset.
func (l *Linker) Place(buf []byte) {
	for _, s := range l.symbols {
		copy(buf[s.offset:], s.data)
	}
}
