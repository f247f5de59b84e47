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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mycelial-lang/mycc/internal/report"
)

// counterSrc is the same fixture internal/parser's tests drive: one
// hyphal type with a single signal rule, wired to itself through a
// fruiting body, enough to exercise every pipeline stage end to end.
const counterSrc = `
network Counter {
	frequencies {
		tick { }
		out { n: u32 }
	}

	hyphae {
		counter {
			state { count: u32 = 0 }

			on signal(tick, t) {
				state.count = state.count + 1;
				emit out { n: state.count }
			}
		}
	}

	topology {
		spawn counter as c1;
		fruiting_body driver;
		socket driver -> c1: tick;
		socket c1 -> driver: out;
	}
}
`

func TestGatherSourceReadsPrimaryFileOnly(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "main.m")
	require.NoError(t, os.WriteFile(primary, []byte(counterSrc), 0o644))

	src, err := gatherSource(primary, "")
	require.NoError(t, err)
	require.Equal(t, counterSrc, src)
}

func TestGatherSourceAppendsIncludeMatchesExcludingPrimary(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "main.m")
	extra := filepath.Join(dir, "extra.m")
	require.NoError(t, os.WriteFile(primary, []byte("A"), 0o644))
	require.NoError(t, os.WriteFile(extra, []byte("B"), 0o644))

	src, err := gatherSource(primary, filepath.Join(dir, "*.m"))
	require.NoError(t, err)
	require.Contains(t, src, "A")
	require.Contains(t, src, "B")
}

func TestGatherSourceMissingFileIsAnError(t *testing.T) {
	_, err := gatherSource(filepath.Join(t.TempDir(), "missing.m"), "")
	require.Error(t, err)
}

func TestCompileProducesAnAssembledProgram(t *testing.T) {
	var errs report.Collector
	res := compile("counter.m", counterSrc, &errs)
	require.False(t, errs.Failed(), errs.Render())
	require.NotNil(t, res)
	require.NotNil(t, res.Program)
	require.NotEmpty(t, res.HIR.Agents)
	require.True(t, res.Program.Globals["_start"], "the linked entry point must be a global symbol")
}

func TestCompileReportsParseErrorsWithoutPanicking(t *testing.T) {
	var errs report.Collector
	res := compile("bad.m", "network N { hyphae { } !!! }", &errs)
	require.Nil(t, res)
	require.True(t, errs.Failed())
	require.Equal(t, 1, errs.ExitCode(), "a lexical/parse failure must map to exit code 1")
}

func TestBuildOnceWritesOutputFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "main.m")
	output := filepath.Join(dir, "a.out")
	require.NoError(t, os.WriteFile(input, []byte(counterSrc), 0o644))

	origOutput, origObject, origInclude, origDiagDB := buildOpts.output, buildOpts.object, buildOpts.include, buildOpts.diagDB
	t.Cleanup(func() {
		buildOpts.output, buildOpts.object, buildOpts.include, buildOpts.diagDB = origOutput, origObject, origInclude, origDiagDB
	})
	buildOpts.output = output
	buildOpts.object = false
	buildOpts.include = ""
	buildOpts.diagDB = ""

	errs, res, code := buildOnce(input)
	require.Equal(t, 0, code, errs.Render())
	require.NotNil(t, res)

	info, err := os.Stat(output)
	require.NoError(t, err)
	require.NotZero(t, info.Size())
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm(), "a linked executable must be written mode 0755")
}

func TestBuildOnceReportsFileIOErrorForMissingInput(t *testing.T) {
	dir := t.TempDir()
	origOutput, origInclude, origDiagDB := buildOpts.output, buildOpts.include, buildOpts.diagDB
	t.Cleanup(func() {
		buildOpts.output, buildOpts.include, buildOpts.diagDB = origOutput, origInclude, origDiagDB
	})
	buildOpts.output = filepath.Join(dir, "a.out")
	buildOpts.include = ""
	buildOpts.diagDB = ""

	errs, res, code := buildOnce(filepath.Join(dir, "missing.m"))
	require.Equal(t, 4, code)
	require.Nil(t, res)
	require.True(t, errs.Failed())
}
