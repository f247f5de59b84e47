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

import (
	"sort"

	"github.com/mycelial-lang/mycc/internal/prettyasm"
)

// Listing groups Program's recorded .text instructions into one
// prettyasm.Func per .globl-declared label, for the `mycc listing`
// subcommand. This is the structural replacement for the teacher's
// objdump-output scraping: mycc assembles its own machine code, so it
// already has every instruction as data (Insts) and only needs to bucket it
// by function boundary instead of re-parsing a disassembler's text output.
func (p *Program) Listing() []prettyasm.Func {
	type bound struct {
		addr int
		name string
	}
	var bounds []bound
	for name, l := range p.Labels {
		if l.Section == Text && p.Globals[name] {
			bounds = append(bounds, bound{addr: l.Offset, name: name})
		}
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i].addr < bounds[j].addr })

	funcAt := func(addr int) string {
		name := "text"
		for _, b := range bounds {
			if b.addr > addr {
				break
			}
			name = b.name
		}
		return name
	}

	byName := map[string]*prettyasm.Func{}
	var order []string
	for _, r := range p.Insts {
		if r.Section != Text {
			continue
		}
		name := funcAt(r.Addr)
		fn, ok := byName[name]
		if !ok {
			fn = &prettyasm.Func{Name: name}
			byName[name] = fn
			order = append(order, name)
		}
		fn.Code = append(fn.Code, prettyasm.Inst{
			Addr:     uint64(r.Addr),
			Hex:      r.Bytes,
			Mnemonic: r.Mnemonic,
			Args:     r.Operands,
			Symbol:   p.symbolAt(r),
		})
	}

	out := make([]prettyasm.Func, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out
}

// symbolAt names the symbol a cross-object fixup inside r's byte range
// still refers to: a runtime ABI call, or any other reference the
// assembler left unresolved for internal/elfimage to turn into a real ELF
// relocation. Same-object references are already patched into r.Bytes by
// resolveFixups and have nothing left to annotate.
func (p *Program) symbolAt(r InstRecord) string {
	for _, f := range p.Fixups {
		if f.Section == r.Section && f.Offset >= r.Addr && f.Offset < r.Addr+len(r.Bytes) {
			return f.Symbol
		}
	}
	return ""
}
