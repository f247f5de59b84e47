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

package typecheck_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelial-lang/mycc/internal/parser"
	"github.com/mycelial-lang/mycc/internal/report"
	"github.com/mycelial-lang/mycc/internal/symtab"
	"github.com/mycelial-lang/mycc/internal/typecheck"
)

func build(t *testing.T, src string) (*symtab.Table, *report.Collector, *typecheck.Result) {
	t.Helper()
	var perrs report.Collector
	net := parser.Parse("t.m", src, &perrs)
	require.False(t, perrs.Failed(), perrs.Render())

	var errs report.Collector
	tbl := symtab.Build(net, &errs)
	require.False(t, errs.Failed(), errs.Render())

	res := typecheck.Check("t.m", net, tbl, &errs)
	return tbl, &errs, res
}

func TestCheck_CounterOK(t *testing.T) {
	t.Parallel()
	_, errs, _ := build(t, `
network N {
	frequencies { tick { } out { n: u32 } }
	hyphae {
		counter {
			state { count: u32 }
			on signal(tick, t) {
				state.count = state.count + 1;
				emit out { n: state.count }
			}
		}
	}
}
`)
	assert.False(t, errs.Failed(), errs.Render())
}

func TestCheck_UndefinedSymbol(t *testing.T) {
	t.Parallel()
	_, errs, _ := build(t, `
network N {
	hyphae {
		a {
			on rest { let x = y + 1; }
		}
	}
}
`)
	assert.True(t, errs.Failed())
	assert.Equal(t, "ES05", errs.Diagnostics()[0].Code.String())
}

func TestCheck_BreakOutsideLoop(t *testing.T) {
	t.Parallel()
	_, errs, _ := build(t, `
network N {
	hyphae { a { on rest { break; } } }
}
`)
	assert.True(t, errs.Failed())
	assert.Equal(t, "ES13", errs.Diagnostics()[0].Code.String())
}

func TestCheck_EmitMissingField(t *testing.T) {
	t.Parallel()
	_, errs, _ := build(t, `
network N {
	frequencies { out { n: u32, label: string } }
	hyphae { a { on rest { emit out { n: 1 } } } }
}
`)
	assert.True(t, errs.Failed())
	found := false
	for _, d := range errs.Diagnostics() {
		if d.Code.String() == "ES15" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCheck_MatchNotExhaustive(t *testing.T) {
	t.Parallel()
	_, errs, _ := build(t, `
network N {
	hyphae {
		a {
			on rest {
				match 1 {
					1 => { }
				}
			}
		}
	}
}
`)
	assert.True(t, errs.Failed())
	found := false
	for _, d := range errs.Diagnostics() {
		if d.Code.String() == "ES12" {
			found = true
		}
	}
	assert.True(t, found)
}
