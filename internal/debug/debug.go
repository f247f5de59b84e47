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

// Package debug contains the compiler's stage-progress logger and internal
// consistency assertions.
//
// Verbosity is a runtime switch (the --verbose flag, see cmd/mycc), not a
// build tag: unlike a hot runtime parser, mycc runs its pipeline once per
// process, so there is no cost to leaving the logging calls compiled in
// and merely gating them on an atomic bool.
package debug

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/timandy/routine"
)

var verbose atomic.Bool

// SetVerbose turns stage logging on or off. Called once by cmd/mycc in
// response to --verbose.
func SetVerbose(v bool) { verbose.Store(v) }

// Verbose reports whether stage logging is currently enabled.
func Verbose() bool { return verbose.Load() }

// Log prints a stage-progress line to stderr, tagged with the calling
// goroutine id so that concurrent compilations (e.g. parallel test runs)
// don't interleave illegibly. No-op unless verbose logging is enabled.
func Log(stage, format string, args ...any) {
	if !verbose.Load() {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "mycc[g%04d] %s: ", routine.Goid(), stage)
	fmt.Fprintf(&b, format, args...)
	b.WriteByte('\n')
	_, _ = os.Stderr.WriteString(b.String())
}

// Assert panics with an internal-error message if cond is false.
//
// Assert guards invariants that earlier compiler stages are responsible for
// upholding (e.g. "every local has a frame slot by the time lowering runs").
// A failing Assert is always a compiler bug. The panic is not recovered
// anywhere in mycc, so it ends the process with a Go panic trace rather
// than a report diagnostic.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Errorf("mycc: internal error: "+format, args...))
	}
}
