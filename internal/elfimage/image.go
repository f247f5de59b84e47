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

package elfimage

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/mycelial-lang/mycc/internal/asm"
)

// ImageKind selects between a final statically linked executable and a
// relocatable object (spec.md §6's --object flag).
type ImageKind int

const (
	Executable ImageKind = iota
	Object
)

const (
	baseAddr = 0x400000
	pageSize = 0x1000

	ehdrSize = 64
	phdrSize = 56
	symSize  = 24
)

var sectionName = [...]string{"", ".text", ".rodata", ".data", ".bss", ".shstrtab", ".strtab", ".symtab"}

// Indices into the 8-entry section header table spec.md §4.9 names: null,
// .text, .rodata, .data, .bss, .shstrtab, .strtab, .symtab.
const (
	shNull = iota
	shText
	shRodata
	shData
	shBSS
	shShstrtab
	shStrtab
	shSymtab
	numSH
)

// Build assembles p's sections into a complete ELF64 image, resolving every
// relocation p.Fixups left unresolved against the final virtual addresses
// (spec.md §4.9). For an Executable image every fixup must resolve to a
// symbol defined somewhere in p -- spec.md's Non-goals exclude dynamic
// symbol resolution, so nothing can be left dangling in the final binary.
// An Object image instead records each unresolved fixup's symbol as an
// undefined (SHN_UNDEF) global symbol-table entry; it writes no relocation
// section, so the fixup sites themselves are left unpatched.
func Build(p *asm.Program, kind ImageKind) ([]byte, error) {
	b := &builder{prog: p, kind: kind}
	if kind == Object {
		return b.buildObject()
	}
	return b.buildExecutable()
}

type builder struct {
	prog *asm.Program
	kind ImageKind

	// vaddr[s] is the virtual address of the first byte of asm.Section s.
	// buildExecutable sets load addresses; buildObject sets each section's
	// offset within its contents buffer instead (ET_REL symbols carry
	// section-relative offsets, not load addresses).
	vaddr [4]uint64
}

// buildExecutable lays out the two PT_LOAD segments spec.md §4.9
// specifies, patches every relocation against final virtual addresses, and
// appends the non-loaded symbol-table section group.
func (b *builder) buildExecutable() ([]byte, error) {
	text := b.prog.Bytes[asm.Text]
	rodata := b.prog.Bytes[asm.Rodata]
	data := b.prog.Bytes[asm.Data]
	bss := b.prog.Bytes[asm.BSS]

	headerRegion := ehdrSize + 2*phdrSize

	// Linker.Layout does the actual placement: .text and .rodata pack
	// tightly (16-byte aligned), and forcing .data's alignment to a full
	// page is what produces spec.md §4.9's "page-size padding between the
	// read-execute segment and the read-write segment" -- the round-up-
	// then-advance loop bumps straight to the next page boundary with no
	// special case needed here.
	var l Linker
	textSym := l.NewSymbol("text", 16, text)
	rodataSym := l.NewSymbol("rodata", 16, rodata)
	dataSym := l.NewSymbol("data", pageSize, data)
	end := l.Layout(headerRegion)

	textOff, rodataOff, dataOff := textSym.offset, rodataSym.offset, dataSym.offset
	seg1End := rodataOff + len(rodata)

	b.vaddr[asm.Text] = uint64(baseAddr + textOff)
	b.vaddr[asm.Rodata] = uint64(baseAddr + rodataOff)
	// p_offset and p_vaddr need only agree modulo the segment's alignment;
	// since baseAddr and a page-rounded file offset are both already
	// multiples of pageSize, a straight addition keeps that congruence.
	b.vaddr[asm.Data] = uint64(baseAddr + dataOff)
	b.vaddr[asm.BSS] = b.vaddr[asm.Data] + uint64(len(data))

	buf := make([]byte, end)
	l.Place(buf)

	if err := b.resolveFixups(buf, textOff, rodataOff, dataOff, nil); err != nil {
		return nil, err
	}

	symtab, strtab, err := b.buildSymtab()
	if err != nil {
		return nil, err
	}
	shstrtab := buildShstrtab()

	// File order from spec.md §4.9 item 7: shstrtab, strtab, symtab, then
	// the section header table.
	shstrtabOff := len(buf)
	buf = append(buf, shstrtab...)
	strtabOff := len(buf)
	buf = append(buf, strtab...)
	symtabOff := len(buf)
	buf = append(buf, symtab...)
	shoff := len(buf)

	sections := b.sectionHeaders(execSectionLayout{
		textOff: textOff, textSize: len(text),
		rodataOff: rodataOff, rodataSize: len(rodata),
		dataOff: dataOff, dataSize: len(data),
		bssSize:      len(bss),
		shstrtabOff:  shstrtabOff, shstrtabSize: len(shstrtab),
		strtabOff:    strtabOff, strtabSize: len(strtab),
		symtabOff:    symtabOff, symtabSize: len(symtab),
	})
	for _, sh := range sections {
		buf = append(buf, sh...)
	}

	entry := b.entryPoint()

	phdrs := []programHeader{
		{typ: ptLoad, flags: pfR | pfX, offset: 0, vaddr: uint64(baseAddr),
			filesz: uint64(seg1End), memsz: uint64(seg1End), align: pageSize},
		{typ: ptLoad, flags: pfR | pfW, offset: uint64(dataOff), vaddr: b.vaddr[asm.Data],
			filesz: uint64(len(data)), memsz: uint64(len(data) + len(bss)), align: pageSize},
	}

	hdr := elfHeader{
		typ:      etExec,
		entry:    entry,
		phoff:    ehdrSize,
		shoff:    uint64(shoff),
		phnum:    uint16(len(phdrs)),
		shnum:    numSH,
		shstrndx: shShstrtab,
	}

	out := make([]byte, 0, len(buf)+headerRegion)
	out = append(out, encodeELFHeader(hdr)...)
	for _, ph := range phdrs {
		out = append(out, encodeProgramHeader(ph)...)
	}
	out = append(out, buf[headerRegion:]...)
	return out, nil
}

// entryPoint returns the virtual address of "_start" if the assembly
// defined it, else the start of .text (spec.md §4.9).
func (b *builder) entryPoint() uint64 {
	if sec, off, ok := b.prog.LabelAddr("_start"); ok {
		return b.vaddr[sec] + uint64(off)
	}
	return b.vaddr[asm.Text]
}

// resolveFixups patches every Fixup in b.prog into buf, using final
// virtual addresses. secOff gives each section's starting offset within
// buf, in asm.Section order (Text, Rodata, Data; BSS carries no file bytes
// and can never itself be a patch site). undef, if non-nil, collects
// fixups whose symbol is not defined anywhere in this program instead of
// failing outright (Object mode); passing nil means every fixup must
// resolve or Build reports an error.
func (b *builder) resolveFixups(buf []byte, textOff, rodataOff, dataOff int, undef *[]asm.Fixup) error {
	secOff := [4]int{asm.Text: textOff, asm.Rodata: rodataOff, asm.Data: dataOff}

	for _, f := range b.prog.Fixups {
		sec, off, ok := b.prog.LabelAddr(f.Symbol)
		if !ok {
			if undef != nil {
				*undef = append(*undef, f)
				continue
			}
			return fmt.Errorf("elfimage: undefined symbol %q referenced from %s+%#x", f.Symbol, f.Section, f.Offset)
		}

		symVaddr := b.vaddr[sec] + uint64(off)
		patchOffset := secOff[f.Section] + f.Offset

		var value int64
		switch classifyKind(f.Size, f.PCRelative) {
		case R_X86_64_PC32:
			nextInstr := b.vaddr[f.Section] + uint64(f.Offset) + uint64(f.Size)
			value = int64(symVaddr) - int64(nextInstr)
		default: // R_X86_64_64, R_X86_64_32, R_X86_64_32S
			value = int64(symVaddr)
		}
		patchAt(buf, patchOffset, f.Size, value)
	}
	return nil
}

func patchAt(buf []byte, offset, size int, value int64) {
	switch size {
	case 4:
		binary.LittleEndian.PutUint32(buf[offset:], uint32(int32(value)))
	case 8:
		binary.LittleEndian.PutUint64(buf[offset:], uint64(value))
	case 1:
		buf[offset] = byte(value)
	}
}

type execSectionLayout struct {
	textOff, textSize         int
	rodataOff, rodataSize     int
	dataOff, dataSize         int
	bssSize                   int
	shstrtabOff, shstrtabSize int
	strtabOff, strtabSize     int
	symtabOff, symtabSize     int
}

func (b *builder) sectionHeaders(l execSectionLayout) [][]byte {
	out := make([][]byte, numSH)
	out[shNull] = make([]byte, shdrSize)
	out[shText] = encodeSectionHeader(sectionHeader{
		name: shName(shText), typ: shtProgbits, flags: shfAlloc | shfExecinstr,
		addr: b.vaddr[asm.Text], offset: uint64(l.textOff), size: uint64(l.textSize), addralign: 16,
	})
	out[shRodata] = encodeSectionHeader(sectionHeader{
		name: shName(shRodata), typ: shtProgbits, flags: shfAlloc,
		addr: b.vaddr[asm.Rodata], offset: uint64(l.rodataOff), size: uint64(l.rodataSize), addralign: 16,
	})
	out[shData] = encodeSectionHeader(sectionHeader{
		name: shName(shData), typ: shtProgbits, flags: shfAlloc | shfWrite,
		addr: b.vaddr[asm.Data], offset: uint64(l.dataOff), size: uint64(l.dataSize), addralign: pageSize,
	})
	out[shBSS] = encodeSectionHeader(sectionHeader{
		name: shName(shBSS), typ: shtNobits, flags: shfAlloc | shfWrite,
		addr: b.vaddr[asm.BSS], offset: uint64(l.dataOff + l.dataSize), size: uint64(l.bssSize), addralign: 8,
	})
	out[shShstrtab] = encodeSectionHeader(sectionHeader{
		name: shName(shShstrtab), typ: shtStrtab, offset: uint64(l.shstrtabOff), size: uint64(l.shstrtabSize), addralign: 1,
	})
	out[shStrtab] = encodeSectionHeader(sectionHeader{
		name: shName(shStrtab), typ: shtStrtab, offset: uint64(l.strtabOff), size: uint64(l.strtabSize), addralign: 1,
	})
	out[shSymtab] = encodeSectionHeader(sectionHeader{
		name: shName(shSymtab), typ: shtSymtab, offset: uint64(l.symtabOff), size: uint64(l.symtabSize),
		link: shStrtab, entsize: symSize, addralign: 8,
	})
	return out
}

// shName returns the byte offset of section idx's name within the
// .shstrtab this package always builds in sectionName order.
func shName(idx int) uint32 {
	off := 0
	for i := 0; i < idx; i++ {
		off += len(sectionName[i]) + 1
	}
	return uint32(off)
}

func buildShstrtab() []byte {
	var out []byte
	for _, n := range sectionName {
		out = append(out, n...)
		out = append(out, 0)
	}
	return out
}

// buildSymtab collects every label internal/asm recorded (global bind for
// ones declared via .globl, local bind otherwise) into a stable,
// name-sorted symbol table plus its backing string table.
func (b *builder) buildSymtab() ([]byte, []byte, error) {
	var names []string
	for name := range b.prog.Labels {
		names = append(names, name)
	}
	sort.Strings(names)

	strtab := []byte{0}
	// Null entry first, as ELF requires.
	symtab := make([]byte, symSize)

	for _, name := range names {
		sec, off, _ := b.prog.LabelAddr(name)
		nameOff := len(strtab)
		strtab = append(strtab, name...)
		strtab = append(strtab, 0)

		bind := byte(stbLocal)
		if b.prog.Globals[name] {
			bind = stbGlobal
		}
		shndx := sectionToSH(sec)
		value := b.vaddr[sec] + uint64(off)
		if b.kind == Object {
			value = uint64(off)
		}

		symtab = append(symtab, encodeSym(uint32(nameOff), bind, shndx, value, 0)...)
	}
	return symtab, strtab, nil
}

func sectionToSH(sec asm.Section) uint16 {
	switch sec {
	case asm.Text:
		return shText
	case asm.Rodata:
		return shRodata
	case asm.Data:
		return shData
	case asm.BSS:
		return shBSS
	default:
		return 0
	}
}
