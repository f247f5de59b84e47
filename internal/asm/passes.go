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

import "encoding/binary"

// pass1 scans every line, tracking a running per-section offset, and
// records each label's (section, offset) into the label table -- spec.md
// §4.8's "Pass 1 scans lines, tracks the running offset ... records each
// label's offset into a label table."
func pass1(p *Program, lines []asmLine) error {
	var offsets [numSections]int
	sec := Text

	for _, ln := range lines {
		switch ln.kind {
		case lkLabel:
			p.Labels[ln.label] = label{Section: sec, Offset: offsets[sec]}

		case lkDirective:
			if s, ok := sectionDirective(ln.directive, ln.dargs); ok {
				sec = s
				continue
			}
			if ln.directive == "globl" {
				p.Globals[ln.dargs[0]] = true
				continue
			}
			if n, ok := directiveAlign(ln); ok {
				offsets[sec] = roundUp(offsets[sec], n)
				continue
			}
			b, _, err := directiveBytes(ln)
			if err != nil {
				return err
			}
			offsets[sec] += len(b)

		case lkInstr:
			b, _, err := instrBytes(ln)
			if err != nil {
				return err
			}
			offsets[sec] += len(b)
		}
	}
	return nil
}

// pass2 re-walks the same lines, now actually appending bytes to each
// section's buffer and translating every symbol reference into a Fixup
// (spec.md §4.8's "Pass 2 encodes instructions ... forward references
// produce pending fixups").
func pass2(p *Program, lines []asmLine) error {
	sec := Text

	for _, ln := range lines {
		switch ln.kind {
		case lkLabel:
			// Already recorded in pass 1; nothing to emit.

		case lkDirective:
			if s, ok := sectionDirective(ln.directive, ln.dargs); ok {
				sec = s
				continue
			}
			if ln.directive == "globl" {
				continue
			}
			if n, ok := directiveAlign(ln); ok {
				target := roundUp(len(p.Bytes[sec]), n)
				p.Bytes[sec] = append(p.Bytes[sec], make([]byte, target-len(p.Bytes[sec]))...)
				continue
			}
			b, refs, err := directiveBytes(ln)
			if err != nil {
				return err
			}
			base := p.append(sec, b...)
			for _, r := range refs {
				p.addFixup(sec, base+r.offset, r.symbol, r.size, r.pcRelative)
			}

		case lkInstr:
			b, refs, err := instrBytes(ln)
			if err != nil {
				return err
			}
			base := p.append(sec, b...)
			for _, r := range refs {
				p.addFixup(sec, base+r.offset, r.symbol, r.size, r.pcRelative)
			}
			p.Insts = append(p.Insts, InstRecord{
				Section: sec, Addr: base, Bytes: append([]byte(nil), b...),
				Mnemonic: ln.mnemonic, Operands: ln.operands,
			})
		}
	}

	resolveFixups(p)
	for i := range p.Insts {
		r := &p.Insts[i]
		copy(r.Bytes, p.Bytes[r.Section][r.Addr:])
	}
	return nil
}

// resolveFixups patches every Fixup whose symbol is a label defined in
// this same assembly, in place, per the PC32/Abs patch formulas spec.md
// §4.9 gives for the ELF relocation kinds (this assembler resolves
// intra-object references the identical way the linker later resolves
// cross-object ones). Any symbol left unresolved (a runtime ABI call, or a
// cross-agent queue/label the dispatch synthesizer emits into a different
// object) is left in p.Fixups for internal/elfimage to turn into a real
// ELF relocation.
func resolveFixups(p *Program) {
	var remaining []Fixup
	for _, f := range p.Fixups {
		sec, off, ok := p.LabelAddr(f.Symbol)
		// Only a same-section, PC-relative reference can be resolved here:
		// the section's own base address cancels out of target - next_pc
		// regardless of where the image builder eventually places it. An
		// absolute reference, or any cross-section reference, needs a real
		// virtual address and must wait for internal/elfimage, which is
		// the only stage that knows section base addresses.
		if !ok || !f.PCRelative || sec != f.Section {
			remaining = append(remaining, f)
			continue
		}
		value := off - (f.Offset + f.Size)
		patch(p.Bytes[f.Section], f.Offset, f.Size, int64(value))
	}
	p.Fixups = remaining
}

func patch(buf []byte, offset, size int, value int64) {
	switch size {
	case 4:
		binary.LittleEndian.PutUint32(buf[offset:], uint32(int32(value)))
	case 8:
		binary.LittleEndian.PutUint64(buf[offset:], uint64(value))
	case 1:
		buf[offset] = byte(value)
	}
}

func roundUp(n, align int) int {
	if align <= 1 {
		return n
	}
	if n%align == 0 {
		return n
	}
	return n + align - n%align
}
