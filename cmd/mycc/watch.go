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
	"os/signal"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/mycelial-lang/mycc/internal/debug"
)

// runWatch recompiles input every time it (or an --include match) changes,
// until interrupted. This is dev-loop sugar entirely outside the core
// pipeline (spec.md §1 scopes the core to a single batch compile); each
// recompilation is just a call to buildOnce, the same one-shot path `mycc`
// without --watch takes.
func runWatch(input string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("--watch: creating watcher: %w", err)
	}
	defer w.Close()

	watched := []string{input}
	if buildOpts.include != "" {
		matches, err := doublestar.FilepathGlob(buildOpts.include)
		if err != nil {
			return fmt.Errorf("--watch: --include %q: %w", buildOpts.include, err)
		}
		watched = append(watched, matches...)
	}
	for _, f := range watched {
		if err := w.Add(f); err != nil {
			return fmt.Errorf("--watch: watching %s: %w", f, err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	runBuildAndReport(input)
	fmt.Fprintf(os.Stderr, "mycc: watching %d file(s) for changes, Ctrl-C to stop\n", len(watched))

	for {
		select {
		case <-sig:
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "mycc: --watch: %v\n", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			debug.Log("watch", "%s changed, recompiling", ev.Name)
			runBuildAndReport(input)
		}
	}
}

// runBuildAndReport runs one compile pass and prints its outcome without
// ever exiting the process -- a failed recompile under --watch just waits
// for the next save, it does not end the dev loop.
func runBuildAndReport(input string) {
	errs, _, code := buildOnce(input)
	if code != 0 {
		fmt.Fprintln(os.Stderr, errs.Render())
		fmt.Fprintf(os.Stderr, "mycc: build failed (exit %d)\n", code)
		return
	}
	if errs.Count() > 0 {
		fmt.Fprintln(os.Stderr, errs.Render())
	}
	fmt.Fprintf(os.Stderr, "mycc: wrote %s\n", buildOpts.output)
}
