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
	"sort"

	"github.com/mycelial-lang/mycc/internal/asm"
)

// buildObject emits an ET_REL object: the same four sections, laid out
// back to back at section-relative (not virtual) addresses, no program
// headers, and every fixup that internal/asm could not resolve within the
// assembly -- always a call to a runtime ABI symbol spec.md deliberately
// leaves unspecified -- turned into an STB_GLOBAL/SHN_UNDEF symbol-table
// entry instead of a hard error (spec.md §6's --object mode).
func (b *builder) buildObject() ([]byte, error) {
	text := b.prog.Bytes[asm.Text]
	rodata := b.prog.Bytes[asm.Rodata]
	data := b.prog.Bytes[asm.Data]
	bss := b.prog.Bytes[asm.BSS]

	textOff := 0
	rodataOff := (textOff + len(text) + 15) &^ 15
	dataOff := rodataOff + len(rodata)

	b.vaddr[asm.Text] = uint64(textOff)
	b.vaddr[asm.Rodata] = uint64(rodataOff)
	b.vaddr[asm.Data] = uint64(dataOff)
	b.vaddr[asm.BSS] = uint64(dataOff + len(data))

	buf := make([]byte, dataOff+len(data))
	copy(buf[textOff:], text)
	copy(buf[rodataOff:], rodata)
	copy(buf[dataOff:], data)

	var undef []asm.Fixup
	if err := b.resolveFixups(buf, textOff, rodataOff, dataOff, &undef); err != nil {
		return nil, err
	}

	symtab, strtab := b.buildObjectSymtab(undef)
	shstrtab := buildShstrtab()

	shstrtabOff := len(buf)
	buf = append(buf, shstrtab...)
	strtabOff := len(buf)
	buf = append(buf, strtab...)
	symtabOff := len(buf)
	buf = append(buf, symtab...)
	shoff := len(buf)

	sections := b.objectSectionHeaders(execSectionLayout{
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

	hdr := elfHeader{
		typ:      etRel,
		entry:    0,
		phoff:    0,
		shoff:    uint64(shoff),
		phnum:    0,
		shnum:    numSH,
		shstrndx: shShstrtab,
	}

	out := append(encodeELFHeader(hdr), buf...)
	return out, nil
}

// objectSectionHeaders is sectionHeaders with every sh_addr forced to zero:
// an ET_REL object has no load addresses until a future link step assigns
// them.
func (b *builder) objectSectionHeaders(l execSectionLayout) [][]byte {
	save := b.vaddr
	b.vaddr = [4]uint64{}
	out := b.sectionHeaders(l)
	b.vaddr = save
	return out
}

// buildObjectSymtab is buildSymtab plus one STB_GLOBAL/SHN_UNDEF entry per
// distinct symbol name left unresolved in undef.
func (b *builder) buildObjectSymtab(undef []asm.Fixup) ([]byte, []byte) {
	symtab, strtab, _ := b.buildSymtab()

	seen := map[string]bool{}
	var names []string
	for _, f := range undef {
		if !seen[f.Symbol] {
			seen[f.Symbol] = true
			names = append(names, f.Symbol)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		nameOff := len(strtab)
		strtab = append(strtab, name...)
		strtab = append(strtab, 0)
		symtab = append(symtab, encodeSym(uint32(nameOff), stbGlobal, 0, 0, 0)...)
	}
	return symtab, strtab
}
