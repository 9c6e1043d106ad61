// Package parallel implements the Parallel Executor: graph
// analysis over tracker-supplied task dependencies, worker fan-out per
// topological group, and draining the Merge Queue between groups.
package parallel

import (
	"sort"

	"github.com/ralph-tui/ralph-tui/internal/core"
)

// BuildGraph constructs a TaskGraph from tasks' Dependencies fields: a
// dependent's task ID must appear in its dependency's Dependents list, a
// Tarjan strongly-connected-components pass marks every task inside a
// cycle InCycle (and therefore unschedulable), and the acyclic remainder
// is grouped into topological ParallelGroups by longest-path depth.
func BuildGraph(tasks []*core.Task) *core.TaskGraph {
	nodes := make(map[core.TaskID]*core.GraphNode, len(tasks))
	for _, t := range tasks {
		nodes[t.ID] = &core.GraphNode{Task: t, Dependencies: append([]core.TaskID(nil), t.Dependencies...)}
	}
	for id, node := range nodes {
		for _, dep := range node.Dependencies {
			if depNode, ok := nodes[dep]; ok {
				depNode.Dependents = append(depNode.Dependents, id)
			}
		}
	}

	cyclic := tarjanCycles(nodes)
	for id := range cyclic {
		if node, ok := nodes[id]; ok {
			node.InCycle = true
		}
	}

	assignDepths(nodes)
	groups := buildGroups(nodes)

	return &core.TaskGraph{Nodes: nodes, Groups: groups}
}

// tarjanCycles runs Tarjan's strongly-connected-components algorithm over
// the dependency graph (edges: task -> dependency) and returns the set of
// task IDs that belong to a non-trivial SCC (a real cycle, not just a
// self-contained single node).
func tarjanCycles(nodes map[core.TaskID]*core.GraphNode) map[core.TaskID]bool {
	type tstate struct {
		index int
		low int
		onStack bool
	}

	index := 0
	stack := make([]core.TaskID, 0, len(nodes))
	states := make(map[core.TaskID]*tstate, len(nodes))
	inCycle := make(map[core.TaskID]bool)

	ids := make([]core.TaskID, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var strongconnect func(id core.TaskID)
	strongconnect = func(id core.TaskID) {
		st := &tstate{index: index, low: index, onStack: true}
		states[id] = st
		index++
		stack = append(stack, id)

		deps := append([]core.TaskID(nil), nodes[id].Dependencies...)
		sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
		for _, dep := range deps {
			if _, ok := nodes[dep]; !ok {
				continue // dependency the tracker no longer reports; ignore
			}
			depState, visited := states[dep]
			if !visited {
				strongconnect(dep)
				depState = states[dep]
				if depState.low < st.low {
					st.low = depState.low
				}
			} else if depState.onStack {
				if depState.index < st.low {
					st.low = depState.index
				}
			}
		}

		if st.low == st.index {
			var scc []core.TaskID
			for {
				n := len(stack) - 1
				top := stack[n]
				stack = stack[:n]
				states[top].onStack = false
				scc = append(scc, top)
				if top == id {
					break
				}
			}
			if len(scc) > 1 || selfReferential(nodes, scc[0]) {
				for _, member := range scc {
					inCycle[member] = true
				}
			}
		}
	}

	for _, id := range ids {
		if _, visited := states[id]; !visited {
			strongconnect(id)
		}
	}
	return inCycle
}

func selfReferential(nodes map[core.TaskID]*core.GraphNode, id core.TaskID) bool {
	for _, dep := range nodes[id].Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

// assignDepths computes each acyclic node's depth as the longest path
// from a root (a task with no acyclic dependencies) via memoized
// recursion; cyclic nodes are left at depth 0 and excluded from grouping.
func assignDepths(nodes map[core.TaskID]*core.GraphNode) {
	memo := make(map[core.TaskID]int, len(nodes))
	var depth func(id core.TaskID, visiting map[core.TaskID]bool) int
	depth = func(id core.TaskID, visiting map[core.TaskID]bool) int {
		node := nodes[id]
		if node.InCycle {
			return 0
		}
		if d, ok := memo[id]; ok {
			return d
		}
		if visiting[id] {
			return 0 // defensive: should not happen once cycles are excluded
		}
		visiting[id] = true

		max := 0
		for _, dep := range node.Dependencies {
			depNode, ok := nodes[dep]
			if !ok || depNode.InCycle {
				continue
			}
			if d := depth(dep, visiting) + 1; d > max {
				max = d
			}
		}
		delete(visiting, id)
		memo[id] = max
		node.Depth = max
		return max
	}

	ids := make([]core.TaskID, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		depth(id, make(map[core.TaskID]bool))
	}
}

func buildGroups(nodes map[core.TaskID]*core.GraphNode) []core.ParallelGroup {
	byDepth := make(map[int][]core.TaskID)
	maxDepth := 0
	for id, node := range nodes {
		if node.InCycle {
			continue
		}
		byDepth[node.Depth] = append(byDepth[node.Depth], id)
		if node.Depth > maxDepth {
			maxDepth = node.Depth
		}
	}

	groups := make([]core.ParallelGroup, 0, len(byDepth))
	for depth := 0; depth <= maxDepth; depth++ {
		ids, ok := byDepth[depth]
		if !ok {
			continue
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		groups = append(groups, core.ParallelGroup{Depth: depth, TaskIDs: ids})
	}
	return groups
}
