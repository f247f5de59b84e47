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

// Package scc implements Tarjan's algorithm, converting a directed graph into
// a topologically sorted DAG of strongly connected components.
//
// mycc uses this in the register allocator, to find loops in a function's
// basic-block
// control-flow graph (a back edge shows up as a component with more than one
// member, or a single member with a self-loop) so it can widen live ranges
// that cross a loop body.
package scc

import (
	"iter"
	"slices"

	"github.com/mycelial-lang/mycc/internal/debug"
)

// Graph is a "local" view of a directed graph: given a node, it yields that
// node's outgoing edges (for a call graph, the callees; for a CFG, the
// successor blocks).
type Graph[Node any] func(Node) iter.Seq[Node]

// DAG is the strongly-connected-component condensation of some directed
// graph, with components in topological order (a component only depends on
// components earlier in the slice).
type DAG[Node comparable] struct {
	keys       map[Node]int
	components []Component[Node]
}

// Component is a single strongly connected component: a set of nodes that
// are mutually reachable. A component with more than one member, or a single
// member with a self edge, denotes a cycle (mutual recursion among rule
// helpers, or a loop in a basic-block graph).
type Component[Node comparable] struct {
	dag     *DAG[Node]
	index   int
	members []Node
	deps    []int
}

// Sort runs Tarjan's algorithm over the graph reachable from root and
// returns its component DAG in topological order.
func Sort[Node comparable](root Node, graph Graph[Node]) *DAG[Node] {
	out := &DAG[Node]{keys: make(map[Node]int)}
	sorter := &tarjan[Node]{
		graph:    graph,
		dag:      out,
		metadata: make(map[Node]*metadata),
		depset:   make(map[int]struct{}),
	}
	sorter.rec(root)
	return out
}

// ForNode returns the component containing node, or nil if node was never
// visited (e.g. an unreachable rule helper).
func (d *DAG[Node]) ForNode(node Node) *Component[Node] {
	idx, ok := d.keys[node]
	if !ok {
		return nil
	}
	return &d.components[idx]
}

// Topological ranges over every component in dependency order: a
// component's Deps always appear before it.
func (d *DAG[Node]) Topological() iter.Seq[*Component[Node]] {
	return func(yield func(*Component[Node]) bool) {
		for i := range d.components {
			if !yield(&d.components[i]) {
				return
			}
		}
	}
}

// Members returns the nodes belonging to this component.
func (c *Component[Node]) Members() []Node {
	return c.members
}

// Recursive reports whether this component has more than one member. A
// single member with a self edge is also a cycle but is not reported here;
// the register allocator checks for that self edge itself and treats
// either case as a loop body when widening live ranges.
func (c *Component[Node]) Recursive() bool {
	return len(c.members) > 1
}

// Deps ranges over the components this component directly depends on.
func (c *Component[Node]) Deps() iter.Seq[*Component[Node]] {
	return func(yield func(*Component[Node]) bool) {
		for _, i := range c.deps {
			if !yield(&c.dag.components[i]) {
				return
			}
		}
	}
}

// Index returns this component's position in topological order.
func (c *Component[Node]) Index() int {
	return c.index
}

// tarjan holds the working state of one run of Tarjan's algorithm.
//
// See https://en.wikipedia.org/wiki/Tarjan%27s_strongly_connected_components_algorithm
type tarjan[Node comparable] struct {
	graph Graph[Node]
	dag   *DAG[Node]

	index    int
	stack    []Node
	metadata map[Node]*metadata

	// Scratch set used while building one component's dependency list.
	depset map[int]struct{}
}

// metadata is per-node bookkeeping used by the recursive step.
type metadata struct {
	index, low int
	onStack    bool
}

// rec is the recursive step of Tarjan's algorithm.
func (s *tarjan[Node]) rec(node Node) *metadata {
	meta := &metadata{
		index:   s.index,
		low:     s.index,
		onStack: true,
	}
	debug.Log("scc", "visit %v index=%d", node, meta.index)

	s.metadata[node] = meta
	s.index++
	offset := len(s.stack)
	s.stack = append(s.stack, node)

	for dep := range s.graph(node) {
		m := s.metadata[dep]
		if m == nil {
			m = s.rec(dep)
			meta.low = min(meta.low, m.low)
			continue
		}
		if m.onStack {
			meta.low = min(meta.low, m.index)
		}
	}

	if meta.index == meta.low {
		comp := Component[Node]{
			dag:     s.dag,
			index:   len(s.dag.components),
			members: slices.Clone(s.stack[offset:]),
		}
		s.stack = s.stack[:offset]
		debug.Log("scc", "component %d: %v", comp.index, comp.members)

		for _, member := range comp.members {
			s.metadata[member].onStack = false
			s.dag.keys[member] = comp.index

			for dep := range s.graph(member) {
				if n, ok := s.dag.keys[dep]; ok && n < comp.index {
					s.depset[n] = struct{}{}
				}
			}
		}

		comp.deps = make([]int, 0, len(s.depset))
		for i := range s.depset {
			comp.deps = append(comp.deps, i)
		}
		slices.Sort(comp.deps)
		clear(s.depset)

		s.dag.components = append(s.dag.components, comp)
	}

	return meta
}
