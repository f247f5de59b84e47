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

// Package layout provides small helpers for computing the fixed,
// compile-time-known offsets and sizes the rest of the compiler relies on:
// agent state slabs, signal payload records, and the symbol data the
// assembler and ELF image builder lay out into sections.
//
// Nothing in this package is actually unsafe; it is pure arithmetic over
// sizes and alignments, the same split the teacher package made between its
// "xunsafe" package and this one.
package layout

// Layout is the size and alignment of some piece of data, in bytes.
type Layout struct {
	Size, Align int
}

// Max returns a Layout whose size and alignment are both as large as the
// largest among l and that. Used when several fields share a struct slot
// (e.g. oneof members, or union variant payloads) and the slot must be able
// to hold any of them.
func (l Layout) Max(that Layout) Layout {
	return Layout{max(l.Size, that.Size), max(l.Align, that.Align)}
}

// RoundUp rounds n up to the nearest multiple of align. align must be a
// power of two.
func RoundUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

// PadSlice appends zero bytes to b until len(b) is a multiple of align.
func PadSlice(b []byte, align int) []byte {
	up := RoundUp(len(b), align) - len(b)
	if up == 0 {
		return b
	}
	return append(b, make([]byte, up)...)
}
