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

// Runtime ABI stubs. spec.md deliberately leaves runtime_alloc,
// queue_enqueue/queue_dequeue, and the builtin_* helpers "specified only
// by the interface the core needs" -- but every compiled emit lowers to
// `call runtime_alloc` then `call queue_enqueue` (internal/lower's emit()),
// and spec.md's Non-goals rule out multi-file linking to satisfy those
// symbols from a separate object. So internal/dispatch bundles minimal,
// hand-written implementations of exactly the symbols a compiled network
// cannot run without into the same assembly unit: a bump allocator, the
// ring-buffer queue operations the scheduler already assumes the shape of
// (signal_queue_<instance>_<frequency>, §3), and builtin_println (the only
// builtin internal/lower ever emits on its own, from a bare `report`
// statement). Every other builtin_* name internal/lower's call()/
// methodCall() can produce (vec/map/string helpers) stays an external,
// undefined symbol here -- a network that uses one only runs in --object
// mode, linked against a real runtime elsewhere, consistent with spec.md's
// "Deliberately out of scope" list.
package dispatch

// Text returns the hand-written runtime ABI stub assembly, meant to be
// concatenated after Generate's output and before internal/asm.Assemble
// sees the whole unit.
func Text() string {
	return runtimeAlloc + queueOps + printlnStub
}

// runtimeAlloc is a bump allocator over the `arena` .bss region: arena_ptr
// holds the address of the next free byte, lazily initialized to
// arena's address the first time it is read as zero (.bss is loader-
// zeroed, so a zero arena_ptr unambiguously means "never allocated from").
// There is no free list and runtime_free is a no-op: spec.md's agent-state
// model never frees a payload mid-run, only drops it once drained.
const runtimeAlloc = `
.globl runtime_alloc
runtime_alloc:
	push %rbp
	mov %rsp, %rbp
	lea arena_ptr(%rip), %rcx
	mov (%rcx), %rdx
	cmp $0, %rdx
	jne .Lalloc_have_base
	lea arena(%rip), %rdx
.Lalloc_have_base:
	mov %rdx, %rax
	add %rdi, %rdx
	add $7, %rdx
	and $-8, %rdx
	mov %rdx, (%rcx)
	mov %rbp, %rsp
	pop %rbp
	ret

.globl runtime_free
runtime_free:
	ret
`

// queueOps implements queue_enqueue(rdi=queue_base, rsi=payload_ptr) and
// queue_dequeue(rdi=queue_base) -> rax=payload_ptr or 0, over the ring
// layout spec.md §3 describes: an 8-byte head at offset 0, an 8-byte tail
// at offset 8, and capacity*8 bytes of payload-pointer slots from offset
// 16. Index arithmetic is done with explicit and/shl/add instead of
// indexed addressing, since internal/asm's memory operand grammar supports
// only disp(%reg) and sym(%rip) (no SIB). Neither routine bounds-checks a
// full ring against its producer: a network that emits faster than it
// drains wraps and overwrites, a simplification spec.md's fixed-capacity
// ring doesn't otherwise rule out.
const queueOps = `
.globl queue_enqueue
queue_enqueue:
	push %rbp
	mov %rsp, %rbp
	mov 8(%rdi), %rax
	mov %rax, %rdx
	and $4095, %rdx
	shl $3, %rdx
	add $16, %rdx
	add %rdi, %rdx
	mov %rsi, (%rdx)
	add $1, %rax
	mov %rax, 8(%rdi)
	mov %rbp, %rsp
	pop %rbp
	ret

.globl queue_dequeue
queue_dequeue:
	push %rbp
	mov %rsp, %rbp
	mov (%rdi), %rax
	mov 8(%rdi), %rcx
	cmp %rcx, %rax
	jne .Ldq_have
	mov $0, %rax
	mov %rbp, %rsp
	pop %rbp
	ret
.Ldq_have:
	mov %rax, %rdx
	and $4095, %rdx
	shl $3, %rdx
	add $16, %rdx
	add %rdi, %rdx
	mov (%rdx), %rcx
	add $1, %rax
	mov %rax, (%rdi)
	mov %rcx, %rax
	mov %rbp, %rsp
	pop %rbp
	ret
`

// printlnStub implements builtin_println(rdi=i64 value): writes the
// decimal (with leading '-' if negative) representation of the value to
// fd 1, followed by a newline, using only write(2). Every digit is pushed
// through an 8-byte frame slot before each single-byte write -- internal/
// asm's mov never encodes a true byte-sized memory store (only movzx/movsx
// and setcc touch 8-bit operands), so a one-byte write() length is used to
// make a full quad store behave like one, instead.
const printlnStub = `
.globl builtin_println
builtin_println:
	push %rbp
	mov %rsp, %rbp
	sub $48, %rsp
	mov %rdi, %rax
	mov $0, %rcx
	cmp $0, %rax
	jge .Lpl_nonneg
	mov $1, %rcx
	neg %rax
.Lpl_nonneg:
	mov %rax, -8(%rbp)
	mov %rcx, -16(%rbp)

	mov $0, %rcx
	cmp $0, %rax
	jne .Lpl_cnt_loop
	mov $1, %rcx
	jmp .Lpl_counted
.Lpl_cnt_loop:
	cmp $0, %rax
	je .Lpl_counted
	mov $10, %r8
	cqo
	idiv %r8
	add $1, %rcx
	jmp .Lpl_cnt_loop
.Lpl_counted:
	mov %rcx, -24(%rbp)

	mov -24(%rbp), %rcx
	sub $1, %rcx
	mov $1, %rax
	cmp $0, %rcx
	je .Lpl_havepow
.Lpl_powloop:
	mov $10, %r8
	imul %r8, %rax
	sub $1, %rcx
	cmp $0, %rcx
	jne .Lpl_powloop
.Lpl_havepow:
	mov %rax, -32(%rbp)

	mov -16(%rbp), %rax
	cmp $0, %rax
	je .Lpl_skipneg
	mov $45, %rax
	mov %rax, -40(%rbp)
	lea -40(%rbp), %rsi
	mov $1, %rdi
	mov $1, %rdx
	mov $1, %rax
	syscall
.Lpl_skipneg:

	mov -24(%rbp), %rcx
.Lpl_digitloop:
	cmp $0, %rcx
	je .Lpl_donedigits
	mov -8(%rbp), %rax
	mov -32(%rbp), %r8
	cqo
	idiv %r8
	mov %rdx, -8(%rbp)
	add $48, %rax
	mov %rax, -40(%rbp)
	mov %rcx, -48(%rbp)
	lea -40(%rbp), %rsi
	mov $1, %rdi
	mov $1, %rdx
	mov $1, %rax
	syscall
	mov -32(%rbp), %rax
	mov $10, %r8
	cqo
	idiv %r8
	mov %rax, -32(%rbp)
	mov -48(%rbp), %rcx
	sub $1, %rcx
	jmp .Lpl_digitloop
.Lpl_donedigits:

	mov $10, %rax
	mov %rax, -40(%rbp)
	lea -40(%rbp), %rsi
	mov $1, %rdi
	mov $1, %rdx
	mov $1, %rax
	syscall

	mov %rbp, %rsp
	pop %rbp
	ret
`
