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

	"github.com/spf13/cobra"
)

var buildOpts struct {
	output  string
	verbose bool
	object  bool
	include string
	diagDB  string
	watch   bool
}

var rootCmd = &cobra.Command{
	Use:   "mycc <input>.m",
	Short: "Compile a mycelial agent-network source file to a native executable",
	Long: `mycc compiles a single mycelial network source file through its full
pipeline -- lexer, symbol table, type checker, HIR, lowering, register
allocation, assembler, and ELF image builder -- straight to a statically
linked x86-64 Linux binary with no external runtime.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBuild,
}

// exitCodeErr lets a RunE report spec.md §6's exact exit code contract
// (0 success, 1 parse, 2 type, 3 codegen, 4 I/O) through cobra's ordinary
// error return, instead of calling os.Exit deep inside a command body.
type exitCodeErr struct {
	code int
	err  error
}

func (e *exitCodeErr) Error() string { return e.err.Error() }
func (e *exitCodeErr) Unwrap() error { return e.err }

func init() {
	rootCmd.PersistentFlags().BoolVar(&buildOpts.verbose, "verbose", false, "enable stage-progress logging to stderr")

	flags := rootCmd.Flags()
	flags.StringVarP(&buildOpts.output, "output", "o", "a.out", "output file path")
	flags.BoolVar(&buildOpts.object, "object", false, "emit a relocatable ELF object instead of a linked executable")
	flags.StringVar(&buildOpts.include, "include", "", "doublestar glob of additional source files to compile alongside the input")
	flags.StringVar(&buildOpts.diagDB, "diag-db", "", "persist collected diagnostics to a SQLite file at this path via GORM")
	flags.BoolVar(&buildOpts.watch, "watch", false, "recompile on every change to the input file (and any --include matches)")

	rootCmd.AddCommand(listingCmd)
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		var ec *exitCodeErr
		if ok := asExitCodeErr(err, &ec); ok {
			fmt.Fprintln(os.Stderr, ec.err)
			os.Exit(ec.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func asExitCodeErr(err error, target **exitCodeErr) bool {
	for err != nil {
		if e, ok := err.(*exitCodeErr); ok {
			*target = e
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
