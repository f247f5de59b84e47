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

package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelial-lang/mycc/internal/parser"
	"github.com/mycelial-lang/mycc/internal/report"
)

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

func TestParse_Counter(t *testing.T) {
	t.Parallel()

	var errs report.Collector
	net := parser.Parse("counter.m", counterSrc, &errs)
	require.False(t, errs.Failed(), errs.Render())

	assert.Equal(t, "Counter", net.Name)
	require.Len(t, net.Frequencies, 2)
	assert.Equal(t, "tick", net.Frequencies[0].Name)
	assert.Equal(t, "out", net.Frequencies[1].Name)

	require.Len(t, net.Hyphae, 1)
	h := net.Hyphae[0]
	assert.Equal(t, "counter", h.Name)
	require.Len(t, h.State, 1)
	assert.Equal(t, "count", h.State[0].Name)

	require.Len(t, h.Rules, 1)
	assert.Equal(t, "tick", h.Rules[0].Signal)
	require.Len(t, h.Rules[0].Body, 2)

	require.NotNil(t, net.Topology)
	require.Len(t, net.Topology.Spawns, 1)
	assert.Equal(t, "counter", net.Topology.Spawns[0].HyphalType)
	assert.Equal(t, "c1", net.Topology.Spawns[0].Instance)
	require.Len(t, net.Topology.Sockets, 2)
}

func TestParse_RangeLoop(t *testing.T) {
	t.Parallel()

	src := `
network R {
	hyphae {
		looper {
			on rest {
				for i in 0..5 {
					emit out { n: i }
				}
			}
		}
	}
}
`
	var errs report.Collector
	net := parser.Parse("r.m", src, &errs)
	require.False(t, errs.Failed(), errs.Render())
	require.Len(t, net.Hyphae, 1)
	require.NotNil(t, net.Hyphae[0].Rest)
}

func TestParse_ReportsUnexpectedToken(t *testing.T) {
	t.Parallel()

	var errs report.Collector
	parser.Parse("bad.m", `network N { hyphae { } !!! }`, &errs)
	assert.True(t, errs.Failed())
}
