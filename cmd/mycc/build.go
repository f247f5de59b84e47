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
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mycelial-lang/mycc/internal/debug"
	"github.com/mycelial-lang/mycc/internal/elfimage"
	"github.com/mycelial-lang/mycc/internal/report"
)

func runBuild(cmd *cobra.Command, args []string) error {
	debug.SetVerbose(buildOpts.verbose)
	input := args[0]

	if buildOpts.watch {
		return runWatch(input)
	}

	errs, _, code := buildOnce(input)
	if code != 0 {
		return &exitCodeErr{code: code, err: errors.New(errs.Render())}
	}
	if errs.Count() > 0 {
		// Warnings only (e.g. HIR's dead-rule elimination notice): still a
		// successful build, but worth surfacing.
		fmt.Fprintln(os.Stderr, errs.Render())
	}
	return nil
}

// buildOnce runs one full compile-and-link pass over input and, on
// success, writes the resulting image to --output. It returns the
// collector (for rendering/persisting diagnostics) and the exit code
// spec.md §6 assigns the outcome; 0 means the output file was written.
func buildOnce(input string) (*report.Collector, *compileResult, int) {
	errs := &report.Collector{}
	defer persistDiagnostics(buildOpts.diagDB, errs)

	src, err := gatherSource(input, buildOpts.include)
	if err != nil {
		errs.Errorf(report.Code{Family: report.FileIO, Digit: 1}, report.Pos{File: input}, "%v", err)
		return errs, nil, errs.ExitCode()
	}

	res := compile(input, src, errs)
	if errs.Failed() {
		return errs, nil, errs.ExitCode()
	}

	kind := elfimage.Executable
	if buildOpts.object {
		kind = elfimage.Object
	}

	imageKind := "executable"
	if buildOpts.object {
		imageKind = "object"
	}
	debug.Log("link", "building %s image", imageKind)
	out, err := elfimage.Build(res.Program, kind)
	if err != nil {
		errs.Errorf(report.Code{Family: report.Compilation, Digit: 2}, report.Pos{File: input}, "building image: %v", err)
		return errs, res, errs.ExitCode()
	}

	mode := os.FileMode(0o644)
	if kind == elfimage.Executable {
		mode = 0o755
	}
	if err := os.WriteFile(buildOpts.output, out, mode); err != nil {
		errs.Errorf(report.Code{Family: report.FileIO, Digit: 2}, report.Pos{File: buildOpts.output}, "writing output: %v", err)
		return errs, res, errs.ExitCode()
	}

	debug.Log("link", "wrote %d bytes to %s", len(out), buildOpts.output)
	return errs, res, 0
}
