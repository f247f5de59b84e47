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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssembleSimpleFunction(t *testing.T) {
	src := `
.text
.globl add_one
add_one:
	mov %rdi, %rax
	add $1, %rax
	ret
`
	p, err := Assemble(src)
	require.NoError(t, err)
	require.True(t, p.Globals["add_one"])

	sec, off, ok := p.LabelAddr("add_one")
	require.True(t, ok)
	require.Equal(t, Text, sec)
	require.Equal(t, 0, off)

	// REX.W + 8B /r (mov rdi->rax), REX.W + 83 /0 ib (add $1,%rax), C3 (ret)
	require.Equal(t, []byte{0x48, 0x8B, 0xC7, 0x48, 0x83, 0xC0, 0x01, 0xC3}, p.Bytes[Text])
}

func TestAssembleForwardJump(t *testing.T) {
	src := `
.text
start:
	jmp skip
	add $1, %rax
skip:
	ret
`
	p, err := Assemble(src)
	require.NoError(t, err)
	require.Empty(t, p.Fixups, "a same-section forward jump must resolve within the assembler")

	// E9 rel32 jumps past the 4-byte add (REX+83+modrm+imm8) to "skip".
	require.Equal(t, byte(0xE9), p.Bytes[Text][0])
}

func TestUnresolvedSymbolBecomesRelocation(t *testing.T) {
	src := `
.text
entry:
	call runtime_alloc
	ret
`
	p, err := Assemble(src)
	require.NoError(t, err)
	require.Len(t, p.Fixups, 1)
	require.Equal(t, "runtime_alloc", p.Fixups[0].Symbol)
	require.True(t, p.Fixups[0].PCRelative)
}

func TestExtendedRegisterRequiresREX(t *testing.T) {
	src := `
.text
f:
	mov %r10, %r11
	ret
`
	p, err := Assemble(src)
	require.NoError(t, err)
	// REX.W with R and B both set (0x4D) + 8B /r + ret.
	require.Equal(t, []byte{0x4D, 0x8B, 0xDA, 0xC3}, p.Bytes[Text])
}

func TestDataDirectives(t *testing.T) {
	src := `
.rodata
msg:
	.asciz "hi"
.bss
.align 8
buf:
	.zero 16
`
	p, err := Assemble(src)
	require.NoError(t, err)
	require.Equal(t, []byte("hi\x00"), p.Bytes[Rodata])
	require.Len(t, p.Bytes[BSS], 16)
}
