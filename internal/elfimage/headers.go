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

// This file encodes the raw ELF64 structures: the file header, program
// headers, section headers, and symbol-table entries. Nothing here knows
// about mycc's pipeline; it is a direct byte-for-byte transcription of the
// System V ABI's Elf64_Ehdr/Elf64_Phdr/Elf64_Shdr/Elf64_Sym layouts.
package elfimage

import "encoding/binary"

const shdrSize = 64

// ELF file header fields mycc's output always uses.
const (
	etExec = 2
	etRel  = 1

	emX8664 = 62

	elfClass64   = 2
	elfData2LSB  = 1
	elfOSABISysv = 0
	evCurrent    = 1
)

// Program header types/flags.
const (
	ptLoad = 1

	pfX = 1
	pfW = 2
	pfR = 4
)

// Section header types/flags.
const (
	shtNull     = 0
	shtProgbits = 1
	shtSymtab   = 2
	shtStrtab   = 3
	shtRela     = 4
	shtNobits   = 8

	shfWrite     = 1
	shfAlloc     = 2
	shfExecinstr = 4
)

// Symbol binding, packed into the top 4 bits of st_info (STB_<x> << 4 |
// STT_NOTYPE).
const (
	stbLocal  = 0
	stbGlobal = 1
)

type elfHeader struct {
	typ      uint16
	entry    uint64
	phoff    uint64
	shoff    uint64
	phnum    uint16
	shnum    uint16
	shstrndx uint16
}

func encodeELFHeader(h elfHeader) []byte {
	b := make([]byte, ehdrSize)
	copy(b[0:4], []byte{0x7F, 'E', 'L', 'F'})
	b[4] = elfClass64
	b[5] = elfData2LSB
	b[6] = evCurrent
	b[7] = elfOSABISysv
	// b[8:16] (ABI version + padding) stay zero.
	binary.LittleEndian.PutUint16(b[16:], h.typ)
	binary.LittleEndian.PutUint16(b[18:], emX8664)
	binary.LittleEndian.PutUint32(b[20:], evCurrent)
	binary.LittleEndian.PutUint64(b[24:], h.entry)
	binary.LittleEndian.PutUint64(b[32:], h.phoff)
	binary.LittleEndian.PutUint64(b[40:], h.shoff)
	binary.LittleEndian.PutUint32(b[48:], 0) // e_flags
	binary.LittleEndian.PutUint16(b[52:], ehdrSize)
	binary.LittleEndian.PutUint16(b[54:], phdrSize)
	binary.LittleEndian.PutUint16(b[56:], h.phnum)
	binary.LittleEndian.PutUint16(b[58:], shdrSize)
	binary.LittleEndian.PutUint16(b[60:], h.shnum)
	binary.LittleEndian.PutUint16(b[62:], h.shstrndx)
	return b
}

type programHeader struct {
	typ, flags             uint32
	offset, vaddr          uint64
	filesz, memsz, align   uint64
}

func encodeProgramHeader(p programHeader) []byte {
	b := make([]byte, phdrSize)
	binary.LittleEndian.PutUint32(b[0:], p.typ)
	binary.LittleEndian.PutUint32(b[4:], p.flags)
	binary.LittleEndian.PutUint64(b[8:], p.offset)
	binary.LittleEndian.PutUint64(b[16:], p.vaddr)
	binary.LittleEndian.PutUint64(b[24:], p.vaddr) // p_paddr, unused on Linux
	binary.LittleEndian.PutUint64(b[32:], p.filesz)
	binary.LittleEndian.PutUint64(b[40:], p.memsz)
	binary.LittleEndian.PutUint64(b[48:], p.align)
	return b
}

type sectionHeader struct {
	name      uint32
	typ       uint32
	flags     uint64
	addr      uint64
	offset    uint64
	size      uint64
	link      uint32
	info      uint32
	addralign uint64
	entsize   uint64
}

func encodeSectionHeader(s sectionHeader) []byte {
	b := make([]byte, shdrSize)
	binary.LittleEndian.PutUint32(b[0:], s.name)
	binary.LittleEndian.PutUint32(b[4:], s.typ)
	binary.LittleEndian.PutUint64(b[8:], s.flags)
	binary.LittleEndian.PutUint64(b[16:], s.addr)
	binary.LittleEndian.PutUint64(b[24:], s.offset)
	binary.LittleEndian.PutUint64(b[32:], s.size)
	binary.LittleEndian.PutUint32(b[40:], s.link)
	binary.LittleEndian.PutUint32(b[44:], s.info)
	binary.LittleEndian.PutUint64(b[48:], s.addralign)
	binary.LittleEndian.PutUint64(b[56:], s.entsize)
	return b
}

// encodeSym encodes one Elf64_Sym: name offset into .strtab, binding
// (STB_LOCAL/STB_GLOBAL, type always STT_NOTYPE since mycc does not
// distinguish function/object symbols), the section index it lives in (or
// SHN_UNDEF via shndx==0 for an undefined reference), its value, and size.
func encodeSym(nameOff uint32, bind byte, shndx uint16, value, size uint64) []byte {
	b := make([]byte, symSize)
	binary.LittleEndian.PutUint32(b[0:], nameOff)
	b[4] = bind << 4
	b[5] = 0 // st_other
	binary.LittleEndian.PutUint16(b[6:], shndx)
	binary.LittleEndian.PutUint64(b[8:], value)
	binary.LittleEndian.PutUint64(b[16:], size)
	return b
}
