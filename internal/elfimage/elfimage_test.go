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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mycelial-lang/mycc/internal/asm"
)

const startSrc = `
.text
.globl _start
_start:
	call rule_counter_tick
	mov $60, %rax
	xor %rdi, %rdi
	syscall

rule_counter_tick:
	lea greeting(%rip), %rax
	ret
`

const startSrcWithRodata = startSrc + `
.rodata
greeting:
	.asciz "hi"
`

func TestBuildExecutableHeaderAndEntry(t *testing.T) {
	p, err := asm.Assemble(startSrcWithRodata)
	require.NoError(t, err)

	out, err := Build(p, Executable)
	require.NoError(t, err)

	require.Equal(t, []byte{0x7F, 'E', 'L', 'F'}, out[0:4])
	require.Equal(t, byte(elfClass64), out[4])
	require.Equal(t, byte(elfData2LSB), out[5])
	require.Equal(t, uint16(etExec), binary.LittleEndian.Uint16(out[16:18]))

	entry := binary.LittleEndian.Uint64(out[24:32])
	_, startOff, ok := p.LabelAddr("_start")
	require.True(t, ok)
	require.Equal(t, uint64(baseAddr+ehdrSize+2*phdrSize+startOff), entry)

	phoff := binary.LittleEndian.Uint64(out[32:40])
	phnum := binary.LittleEndian.Uint16(out[56:58])
	require.Equal(t, uint64(ehdrSize), phoff)
	require.Equal(t, uint16(2), phnum)

	for i := 0; i < int(phnum); i++ {
		ph := out[phoff+uint64(i*phdrSize):]
		filesz := binary.LittleEndian.Uint64(ph[32:40])
		memsz := binary.LittleEndian.Uint64(ph[40:48])
		require.LessOrEqual(t, filesz, memsz)
	}
}

func TestBuildExecutableWithoutStartUsesTextStart(t *testing.T) {
	src := `
.text
.globl rule_counter_tick
rule_counter_tick:
	mov $1, %rax
	ret
`
	p, err := asm.Assemble(src)
	require.NoError(t, err)

	out, err := Build(p, Executable)
	require.NoError(t, err)

	entry := binary.LittleEndian.Uint64(out[24:32])
	require.Equal(t, uint64(baseAddr+ehdrSize+2*phdrSize), entry)
}

func TestBuildExecutableFailsOnUndefinedSymbol(t *testing.T) {
	src := `
.text
entry:
	call runtime_alloc
	ret
`
	p, err := asm.Assemble(src)
	require.NoError(t, err)

	_, err = Build(p, Executable)
	require.Error(t, err)
	require.Contains(t, err.Error(), "runtime_alloc")
}

func TestBuildExecutablePC32RelocationMatchesFormula(t *testing.T) {
	p, err := asm.Assemble(startSrcWithRodata)
	require.NoError(t, err)

	out, err := Build(p, Executable)
	require.NoError(t, err)

	// The call to rule_counter_tick is a same-section forward reference, so
	// internal/asm's own resolveFixups patches it before elfimage ever sees
	// it (see asm/passes.go). The lea referencing "greeting" crosses from
	// .text into .rodata, which internal/asm cannot resolve without knowing
	// section base addresses, so it is the one fixup elfimage must patch.
	require.Len(t, p.Fixups, 1)
	leaFixup := p.Fixups[0]
	require.Equal(t, "greeting", leaFixup.Symbol)
	require.True(t, leaFixup.PCRelative)

	headerRegion := ehdrSize + 2*phdrSize
	patchOff := headerRegion + leaFixup.Offset
	patched := int32(binary.LittleEndian.Uint32(out[patchOff : patchOff+4]))

	_, targetOff, ok := p.LabelAddr("greeting")
	require.True(t, ok)
	textLen := len(p.Bytes[asm.Text])
	rodataRel := (textLen + 15) &^ 15 // Linker.NewSymbol("rodata", 16, ...) rounds up the same way
	targetVaddr := int64(baseAddr + headerRegion + rodataRel + targetOff)
	nextInstrVaddr := int64(baseAddr) + int64(headerRegion+leaFixup.Offset+leaFixup.Size)
	require.Equal(t, int32(targetVaddr-nextInstrVaddr), patched)
}

func TestBuildObjectHasNoProgramHeadersAndMarksUndefinedGlobal(t *testing.T) {
	src := `
.text
.globl entry
entry:
	call runtime_alloc
	ret
`
	p, err := asm.Assemble(src)
	require.NoError(t, err)

	out, err := Build(p, Object)
	require.NoError(t, err)

	require.Equal(t, uint16(etRel), binary.LittleEndian.Uint16(out[16:18]))
	phnum := binary.LittleEndian.Uint16(out[56:58])
	require.Zero(t, phnum)

	b := &builder{prog: p, kind: Object}
	symtab, strtab := b.buildObjectSymtab([]asm.Fixup{{Symbol: "runtime_alloc"}})
	require.Contains(t, string(strtab), "runtime_alloc")
	require.NotZero(t, len(symtab))
}

func TestClassifyKind(t *testing.T) {
	require.Equal(t, R_X86_64_PC32, classifyKind(4, true))
	require.Equal(t, R_X86_64_64, classifyKind(8, false))
	require.Equal(t, R_X86_64_32, classifyKind(4, false))
}

func TestLinkerLayoutAlignsEachSymbol(t *testing.T) {
	var l Linker
	a := l.NewSymbol("a", 16, []byte{1, 2, 3})
	b := l.NewSymbol("b", 8, []byte{4, 5})
	end := l.Layout(0)

	require.Equal(t, 0, a.offset)
	require.Equal(t, 8, b.offset)
	require.Equal(t, 10, end)

	buf := make([]byte, end)
	l.Place(buf)
	require.Equal(t, []byte{1, 2, 3}, buf[a.offset:a.offset+3])
	require.Equal(t, []byte{4, 5}, buf[b.offset:b.offset+2])
}
