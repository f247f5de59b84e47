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
	"os"

	"github.com/spf13/cobra"

	"github.com/mycelial-lang/mycc/internal/debug"
	"github.com/mycelial-lang/mycc/internal/prettyasm"
	"github.com/mycelial-lang/mycc/internal/report"
)

var listingInclude string

var listingCmd = &cobra.Command{
	Use:   "listing <input>.m",
	Short: "Compile input and print a disassembly-style listing instead of writing an image",
	Args:  cobra.ExactArgs(1),
	RunE:  runListing,
}

func init() {
	listingCmd.Flags().StringVar(&listingInclude, "include", "", "doublestar glob of additional source files to compile alongside the input")
}

func runListing(cmd *cobra.Command, args []string) error {
	debug.SetVerbose(buildOpts.verbose)
	input := args[0]

	errs := &report.Collector{}
	src, err := gatherSource(input, listingInclude)
	if err != nil {
		return &exitCodeErr{code: 4, err: err}
	}

	res := compile(input, src, errs)
	if errs.Failed() {
		return &exitCodeErr{code: errs.ExitCode(), err: errors.New(errs.Render())}
	}

	return prettyasm.Format(os.Stdout, res.Program.Listing())
}
