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
	"fmt"
	"strconv"
	"strings"
)

// sectionDirective maps a bare section-switch directive to the Section it
// selects, for ".text"/".rodata"/".data"/".bss" and the GAS-style
// ".section .rodata" spelling.
func sectionDirective(name string, args []string) (Section, bool) {
	switch name {
	case "text":
		return Text, true
	case "rodata":
		return Rodata, true
	case "data":
		return Data, true
	case "bss":
		return BSS, true
	case "section":
		if len(args) == 0 {
			return 0, false
		}
		switch strings.TrimPrefix(args[0], ".") {
		case "text":
			return Text, true
		case "rodata":
			return Rodata, true
		case "data":
			return Data, true
		case "bss":
			return BSS, true
		}
	}
	return 0, false
}

// directiveBytes renders a data directive to raw bytes (zero-filled where
// a directive references a symbol, such as `.quad some_label`), the same
// size-is-statically-known property instructions have: instrBytes and
// directiveBytes share the single-walk-suffices argument from this
// package's doc comment.
func directiveBytes(ln asmLine) ([]byte, []ref, error) {
	switch ln.directive {
	case "byte":
		return intList(ln.dargs, 1)
	case "word":
		return intList(ln.dargs, 2)
	case "long":
		return intList(ln.dargs, 4)
	case "quad":
		return quadList(ln.dargs)
	case "ascii":
		return []byte(unquote(ln.dargs[0])), nil, nil
	case "asciz":
		s := unquote(ln.dargs[0])
		return append([]byte(s), 0), nil, nil
	case "zero":
		n, _ := strconv.Atoi(ln.dargs[0])
		return make([]byte, n), nil, nil
	case "align", "globl", "text", "rodata", "data", "bss", "section":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("asm: unknown directive %q", ln.directive)
	}
}

// directiveAlign reports whether ln is ".align N" and returns N. ".align"
// pads the *current* offset up to a multiple of N -- the one directive
// whose size depends on where it lands, so the padding is computed by the
// caller (it needs the running offset, not just the line).
func directiveAlign(ln asmLine) (int, bool) {
	if ln.directive != "align" {
		return 0, false
	}
	n, _ := strconv.Atoi(ln.dargs[0])
	return n, true
}

func intList(args []string, width int) ([]byte, []ref, error) {
	var out []byte
	var refs []ref
	for _, a := range args {
		if n, ok := parseImm("$" + a); ok || tryParseBareInt(a, &n) {
			out = appendWidth(out, n, width)
			continue
		}
		// A bare symbol name in a .quad/.long list (e.g. `.quad label`)
		// becomes an absolute-address relocation, resolved the same way
		// a RIP-relative instruction operand is.
		refs = append(refs, ref{offset: len(out), symbol: a, size: width, pcRelative: false})
		out = appendWidth(out, 0, width)
	}
	return out, refs, nil
}

func quadList(args []string) ([]byte, []ref, error) { return intList(args, 8) }

func tryParseBareInt(s string, out *int64) bool {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return false
	}
	*out = n
	return true
}

func appendWidth(b []byte, v int64, width int) []byte {
	switch width {
	case 1:
		return append(b, byte(v))
	case 2:
		return append(b, byte(v), byte(v>>8))
	case 4:
		return appendInt32(b, int32(v))
	case 8:
		return appendInt64(b, v)
	}
	return b
}

func unquote(s string) string {
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimSuffix(s, `"`)
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\t`, "\t")
	s = strings.ReplaceAll(s, `\0`, "\x00")
	s = strings.ReplaceAll(s, `\"`, `"`)
	return s
}
