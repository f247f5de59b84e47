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

// Package report implements mycc's diagnostic model: a family-tagged error
// code, a position-carrying Diagnostic, and a Collector every pipeline stage
// appends to instead of returning on the first error.
//
// This generalizes the teacher's error.go, which indexes a byte offset into
// a fixed errCode -> error table for one parser. mycc has five independent
// stages, each producing many diagnostics per run rather than one fatal
// error per parse, so the code is a two-letter family plus a stage digit
// (EL01, EP02, ES07, EC03, EF01, ...) rather than a single flat enum, and the
// Collector accumulates rather than returning eagerly.
package report

import (
	"fmt"
	"strings"
)

// Family is the two-letter diagnostic family spec.md §7 defines.
type Family string

const (
	Lexical     Family = "EL"
	Parse       Family = "EP"
	Semantic    Family = "ES"
	Compilation Family = "EC"
	FileIO      Family = "EF"
)

// Code is a diagnostic code: a family plus a stage-specific digit, e.g.
// EP02 for "unexpected token" in the parser.
type Code struct {
	Family Family
	Digit  int
}

// String renders a Code as it appears in diagnostic output, e.g. "EP02".
func (c Code) String() string {
	return fmt.Sprintf("%s%02d", c.Family, c.Digit)
}

// Pos is a source position: the file it belongs to, plus 1-based line and
// column.
type Pos struct {
	File string
	Line int
	Col  int
}

// String renders a Pos as "file:line:col".
func (p Pos) String() string {
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Col)
}

// Diagnostic is one reported error or warning.
type Diagnostic struct {
	Code    Code
	Pos     Pos
	Message string
	// Hint, if non-empty, is printed as a second "Hint: ..." line.
	Hint string
	// Warning marks this diagnostic as non-fatal (e.g. HIR's dead-rule
	// elimination notice); it is collected and rendered like any other
	// diagnostic but does not count toward Collector.Failed.
	Warning bool
}

// Error implements the error interface, rendering in the exact user-visible
// format spec.md §7 specifies: "ERROR <code> at <file>:<line>:<col>: <msg>",
// with an optional indented Hint line.
func (d Diagnostic) Error() string {
	var b strings.Builder
	tag := "ERROR"
	if d.Warning {
		tag = "WARNING"
	}
	fmt.Fprintf(&b, "%s %s at %s: %s", tag, d.Code, d.Pos, d.Message)
	if d.Hint != "" {
		fmt.Fprintf(&b, "\n  Hint: %s", d.Hint)
	}
	return b.String()
}

// maxDiagnostics bounds how many diagnostics a Collector will hold before it
// stops accepting new ones and appends a single "max errors exceeded" item,
// per spec.md §7's bounded-error-limit requirement.
const maxDiagnostics = 100

// Collector accumulates diagnostics across every stage of a single
// compilation. Each stage appends to the same Collector and checks Failed
// before handing its output to the next stage; the pipeline only continues
// past a stage once that stage reported zero errors (warnings are fine).
type Collector struct {
	diags    []Diagnostic
	errors   int
	exceeded bool
}

// Errorf appends an error-level diagnostic built from code, pos, and a
// formatted message.
func (c *Collector) Errorf(code Code, pos Pos, format string, args ...any) {
	c.add(Diagnostic{Code: code, Pos: pos, Message: fmt.Sprintf(format, args...)})
}

// ErrorHint is Errorf plus a trailing hint line.
func (c *Collector) ErrorHint(code Code, pos Pos, hint, format string, args ...any) {
	c.add(Diagnostic{Code: code, Pos: pos, Message: fmt.Sprintf(format, args...), Hint: hint})
}

// Warnf appends a non-fatal diagnostic that does not affect Failed or
// ExitCode, e.g. HIR's "rule dropped: frequency has no incoming socket"
// notice.
func (c *Collector) Warnf(code Code, pos Pos, format string, args ...any) {
	c.add(Diagnostic{Code: code, Pos: pos, Message: fmt.Sprintf(format, args...), Warning: true})
}

func (c *Collector) add(d Diagnostic) {
	if c.exceeded {
		return
	}
	if d.Warning {
		c.diags = append(c.diags, d)
		return
	}
	if len(c.diags) >= maxDiagnostics {
		c.exceeded = true
		c.diags = append(c.diags, Diagnostic{
			Code:    Code{Family: d.Code.Family, Digit: 99},
			Pos:     d.Pos,
			Message: "max errors exceeded, suppressing further diagnostics",
		})
		c.errors++
		return
	}
	c.diags = append(c.diags, d)
	c.errors++
}

// Failed reports whether the collector has accumulated any error-level
// diagnostic; warnings do not count. Every
// stage in the pipeline calls this before handing its output downstream.
func (c *Collector) Failed() bool {
	return c.errors > 0
}

// Count returns the number of diagnostics collected so far.
func (c *Collector) Count() int {
	return len(c.diags)
}

// Diagnostics returns every diagnostic collected so far, in report order.
func (c *Collector) Diagnostics() []Diagnostic {
	return c.diags
}

// ExitCode maps the worst family seen to the exit code spec.md §6 defines:
// 0 success, 1 parse error, 2 type error, 3 codegen error, 4 I/O error. A
// collector with no diagnostics returns 0.
func (c *Collector) ExitCode() int {
	worst := 0
	for _, d := range c.diags {
		if d.Warning {
			continue
		}
		var code int
		switch d.Code.Family {
		case Lexical, Parse:
			code = 1
		case Semantic:
			code = 2
		case Compilation:
			code = 3
		case FileIO:
			code = 4
		}
		worst = max(worst, code)
	}
	return worst
}

// Render writes every diagnostic to a single newline-joined string, in the
// exact format Diagnostic.Error produces.
func (c *Collector) Render() string {
	lines := make([]string, len(c.diags))
	for i, d := range c.diags {
		lines[i] = d.Error()
	}
	return strings.Join(lines, "\n")
}
