// Package dag provides directed graph operations for metric dependencies.
// It supports cycle detection with full member reporting and topological
// sorting, both deterministic regardless of insertion order.
package dag

import (
	"fmt"
	"sort"
)

// Node represents a node in the graph.
type Node struct {
	// ID is the unique identifier (metric name)
	ID string
	// Data holds arbitrary node data
	Data any
}

// Graph represents a directed dependency graph.
type Graph struct {
	nodes   map[string]*Node
	edges   map[string][]string // dependency -> dependents
	parents map[string][]string // dependent -> dependencies
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// AddNode adds a node to the graph.
func (g *Graph) AddNode(id string, data any) {
	if _, exists := g.nodes[id]; !exists {
		g.nodes[id] = &Node{ID: id, Data: data}
		g.edges[id] = []string{}
		g.parents[id] = []string{}
	} else if data != nil {
		g.nodes[id].Data = data
	}
}

// AddEdge adds a directed edge from dependency to dependent.
func (g *Graph) AddEdge(depID, dependentID string) error {
	if _, exists := g.nodes[depID]; !exists {
		return fmt.Errorf("node %q does not exist", depID)
	}
	if _, exists := g.nodes[dependentID]; !exists {
		return fmt.Errorf("node %q does not exist", dependentID)
	}
	if !contains(g.edges[depID], dependentID) {
		g.edges[depID] = append(g.edges[depID], dependentID)
	}
	if !contains(g.parents[dependentID], depID) {
		g.parents[dependentID] = append(g.parents[dependentID], depID)
	}
	return nil
}

// HasNode reports whether the graph contains the node.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Dependencies returns what a node depends on.
func (g *Graph) Dependencies(id string) []string {
	out := append([]string{}, g.parents[id]...)
	sort.Strings(out)
	return out
}

// Dependents returns the nodes depending on a node.
func (g *Graph) Dependents(id string) []string {
	out := append([]string{}, g.edges[id]...)
	sort.Strings(out)
	return out
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, children := range g.edges {
		count += len(children)
	}
	return count
}

// sortedIDs returns every node ID in sorted order so traversals are
// deterministic.
func (g *Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FindCycles returns every dependency cycle as an ordered member list, one
// entry per cycle. Nodes outside a cycle are untouched; a valid graph
// returns nil.
func (g *Graph) FindCycles() [][]string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	parent := make(map[string]string)
	var cycles [][]string

	var dfs func(id string)
	dfs = func(id string) {
		visited[id] = true
		recStack[id] = true

		children := append([]string{}, g.edges[id]...)
		sort.Strings(children)
		for _, childID := range children {
			if !visited[childID] {
				parent[childID] = id
				dfs(childID)
			} else if recStack[childID] {
				// Walk back from the current node to the re-entered one
				// to reconstruct the cycle members in edge order.
				members := []string{childID}
				for curr := id; curr != childID; curr = parent[curr] {
					members = append([]string{curr}, members...)
				}
				cycles = append(cycles, rotateToSmallest(members))
			}
		}
		recStack[id] = false
	}

	for _, id := range g.sortedIDs() {
		if !visited[id] {
			dfs(id)
		}
	}
	return dedupeCycles(cycles)
}

// TopologicalSort returns nodes in dependency order. The error carries the
// first cycle found.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	if cycles := g.FindCycles(); len(cycles) > 0 {
		return nil, fmt.Errorf("cycle detected: %v", cycles[0])
	}

	visited := make(map[string]bool)
	var result []*Node

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		deps := append([]string{}, g.parents[id]...)
		sort.Strings(deps)
		for _, depID := range deps {
			visit(depID)
		}
		result = append(result, g.nodes[id])
	}

	for _, id := range g.sortedIDs() {
		visit(id)
	}
	return result, nil
}

// Roots returns nodes with no dependencies.
func (g *Graph) Roots() []string {
	var roots []string
	for id := range g.nodes {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// rotateToSmallest rotates a cycle so it starts at its lexically smallest
// member, giving every cycle one canonical spelling.
func rotateToSmallest(members []string) []string {
	if len(members) == 0 {
		return members
	}
	min := 0
	for i, m := range members {
		if m < members[min] {
			min = i
		}
	}
	out := make([]string, 0, len(members))
	out = append(out, members[min:]...)
	out = append(out, members[:min]...)
	return out
}

func dedupeCycles(cycles [][]string) [][]string {
	seen := make(map[string]bool, len(cycles))
	var out [][]string
	for _, c := range cycles {
		key := fmt.Sprint(c)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// contains checks if a slice contains a string.
func contains(slice []string, str string) bool {
	for _, s := range slice {
		if s == str {
			return true
		}
	}
	return false
}
