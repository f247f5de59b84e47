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

package symtab_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelial-lang/mycc/internal/parser"
	"github.com/mycelial-lang/mycc/internal/report"
	"github.com/mycelial-lang/mycc/internal/symtab"
)

const networkSrc = `
network Greet {
	frequencies {
		greeting { name: string }
		response { message: string }
	}

	hyphae {
		greeter {
			on signal(greeting, g) {
				emit response { message: g.name }
			}
		}
	}

	topology {
		spawn greeter as g1;
		fruiting_body driver;
		socket driver -> g1: greeting;
		socket g1 -> driver: response;
	}
}
`

func TestBuild_FrequencyIDsAndRouting(t *testing.T) {
	t.Parallel()

	var errs report.Collector
	net := parser.Parse("greet.m", networkSrc, &errs)
	require.False(t, errs.Failed(), errs.Render())

	tbl := symtab.Build(net, &errs)
	require.False(t, errs.Failed(), errs.Render())

	require.Contains(t, tbl.Frequencies, "greeting")
	require.Contains(t, tbl.Frequencies, "response")
	assert.Equal(t, int32(0), tbl.Frequencies["greeting"].ID)
	assert.Equal(t, int32(1), tbl.Frequencies["response"].ID)

	require.Contains(t, tbl.Instances, "g1")
	assert.Equal(t, "greeter", tbl.Instances["g1"].HyphalType)

	assert.True(t, tbl.HasIncoming("g1", "greeting"))
	assert.False(t, tbl.HasIncoming("g1", "response"))

	routes := tbl.RoutesFrom("g1")
	require.Len(t, routes, 1)
	assert.Equal(t, "driver", routes[0].Destination)
	assert.Equal(t, "response", routes[0].Frequency)
}

func TestBuild_UnknownSpawnType(t *testing.T) {
	t.Parallel()

	src := `
network N {
	hyphae { a { on rest { } } }
	topology { spawn bogus as x; }
}
`
	var perrs report.Collector
	net := parser.Parse("n.m", src, &perrs)
	require.False(t, perrs.Failed(), perrs.Render())

	var errs report.Collector
	symtab.Build(net, &errs)
	assert.True(t, errs.Failed())
	assert.Equal(t, "ES10", errs.Diagnostics()[0].Code.String())
}

func TestBuild_InstanceStateOffsets(t *testing.T) {
	t.Parallel()

	src := `
network N {
	hyphae {
		a { state { x: u32, y: u32 } on rest { } }
		b { state { z: u32 } on rest { } }
	}
	topology {
		spawn a as a1;
		spawn b as b1;
	}
}
`
	var perrs report.Collector
	net := parser.Parse("n.m", src, &perrs)
	require.False(t, perrs.Failed(), perrs.Render())

	var errs report.Collector
	tbl := symtab.Build(net, &errs)
	require.False(t, errs.Failed(), errs.Render())

	assert.Equal(t, 0, tbl.Instances["a1"].Base)
	assert.Equal(t, 16, tbl.Instances["b1"].Base)
	assert.Equal(t, 0, tbl.Hyphae["a"].StateOffset["x"])
	assert.Equal(t, 8, tbl.Hyphae["a"].StateOffset["y"])
}
