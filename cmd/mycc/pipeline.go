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

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/mycelial-lang/mycc/internal/asm"
	"github.com/mycelial-lang/mycc/internal/debug"
	"github.com/mycelial-lang/mycc/internal/dispatch"
	"github.com/mycelial-lang/mycc/internal/hir"
	"github.com/mycelial-lang/mycc/internal/lower"
	"github.com/mycelial-lang/mycc/internal/parser"
	"github.com/mycelial-lang/mycc/internal/regalloc"
	"github.com/mycelial-lang/mycc/internal/report"
	"github.com/mycelial-lang/mycc/internal/symtab"
	"github.com/mycelial-lang/mycc/internal/typecheck"
)

// compileResult bundles every pipeline stage's output a subcommand (build,
// listing, watch) might need, so each one drives the stages exactly once
// per compilation rather than re-parsing flags deep in a second place.
type compileResult struct {
	Program *asm.Program
	HIR     *hir.Program
	Table   *symtab.Table
}

// gatherSource reads the primary input file and, if include is non-empty,
// appends every doublestar match (excluding the input file itself, to
// avoid compiling it twice) in sorted order. This is purely a CLI
// convenience: the core pipeline below still compiles one concatenated
// translation unit, never multiple linked objects (spec.md's multi-file
// linking Non-goal is about the runtime ABI, not about input discovery).
func gatherSource(primary, include string) (string, error) {
	data, err := os.ReadFile(primary)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", primary, err)
	}
	var b strings.Builder
	b.Write(data)

	if include == "" {
		return b.String(), nil
	}

	matches, err := doublestar.FilepathGlob(include)
	if err != nil {
		return "", fmt.Errorf("--include %q: %w", include, err)
	}
	for _, m := range matches {
		if m == primary {
			continue
		}
		extra, err := os.ReadFile(m)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", m, err)
		}
		debug.Log("include", "appending %s (%d bytes)", m, len(extra))
		b.WriteByte('\n')
		b.Write(extra)
	}
	return b.String(), nil
}

// compile runs every stage of the pipeline over src, stopping at the first
// stage that reports a failure. errs accumulates every diagnostic
// regardless of where the pipeline stopped, so the caller can render and
// persist them uniformly.
func compile(file, src string, errs *report.Collector) *compileResult {
	debug.Log("parse", "parsing %s (%d bytes)", file, len(src))
	net := parser.Parse(file, src, errs)
	if errs.Failed() {
		return nil
	}

	tbl := symtab.Build(net, errs)
	if errs.Failed() {
		return nil
	}

	debug.Log("typecheck", "checking %d hyphal types", len(tbl.Hyphae))
	checked := typecheck.Check(file, net, tbl, errs)
	if errs.Failed() {
		return nil
	}

	hirProg := hir.Build(tbl, checked, errs)
	if errs.Failed() {
		return nil
	}

	debug.Log("lower", "lowering %d agents", len(hirProg.Agents))
	lirProg := lower.Lower(hirProg, tbl)
	funcs := regalloc.Allocate(lirProg)

	var asmText strings.Builder
	asmText.WriteString(regalloc.Render(lirProg, funcs))
	asmText.WriteString(dispatch.Generate(hirProg, tbl))
	asmText.WriteString(dispatch.Text())

	debug.Log("assemble", "assembling %d bytes of generated source", asmText.Len())
	prog, err := asm.Assemble(asmText.String())
	if err != nil {
		errs.Errorf(report.Code{Family: report.Compilation, Digit: 1}, report.Pos{File: file}, "assembling generated code: %v", err)
		return nil
	}

	return &compileResult{Program: prog, HIR: hirProg, Table: tbl}
}
