// Package dag builds the reference graph of a macro context.
// An edge runs from a macro to every macro whose body refers to it, so a
// node's parents are what it uses and its children are what uses it.
// Recursive definitions show up as cycles.
package dag

import (
	"fmt"
	"slices"
	"sort"

	"github.com/leapstack-labs/specmacro/internal/macro"
)

// Node represents a macro in the graph.
type Node struct {
	// ID is the macro name
	ID string
	// Entry is the visible definition, nil for names that are referenced
	// but not defined.
	Entry *macro.Entry
}

// Defined reports whether the node has a definition.
func (n *Node) Defined() bool { return n.Entry != nil }

// Graph represents a directed graph of macro references.
type Graph struct {
	nodes   map[string]*Node
	edges   map[string][]string // used -> users
	parents map[string][]string // user -> used
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// FromContext builds the graph of the visible definitions of mc.
func FromContext(mc *macro.Context) *Graph {
	g := NewGraph()
	entries := mc.Entries()
	for i := range entries {
		g.AddNode(entries[i].Name, &entries[i])
	}
	for _, e := range entries {
		for _, ref := range macro.References(e.Body) {
			if _, ok := g.nodes[ref]; !ok {
				g.AddNode(ref, nil)
			}
			_ = g.AddEdge(ref, e.Name)
		}
	}
	return g
}

// AddNode adds a node to the graph, replacing the entry of an existing one.
func (g *Graph) AddNode(id string, entry *macro.Entry) {
	if n, exists := g.nodes[id]; exists {
		n.Entry = entry
		return
	}
	g.nodes[id] = &Node{ID: id, Entry: entry}
	g.edges[id] = []string{}
	g.parents[id] = []string{}
}

// AddEdge records that child refers to parent. A macro may refer to itself.
func (g *Graph) AddEdge(parentID, childID string) error {
	if _, exists := g.nodes[parentID]; !exists {
		return fmt.Errorf("parent node %q does not exist", parentID)
	}
	if _, exists := g.nodes[childID]; !exists {
		return fmt.Errorf("child node %q does not exist", childID)
	}

	if !slices.Contains(g.edges[parentID], childID) {
		g.edges[parentID] = append(g.edges[parentID], childID)
	}
	if !slices.Contains(g.parents[childID], parentID) {
		g.parents[childID] = append(g.parents[childID], parentID)
	}
	return nil
}

// GetNode returns a node by ID.
func (g *Graph) GetNode(id string) (*Node, bool) {
	node, exists := g.nodes[id]
	return node, exists
}

// GetParents returns the macros id refers to.
func (g *Graph) GetParents(id string) []string {
	return g.parents[id]
}

// GetChildren returns the macros that refer to id.
func (g *Graph) GetChildren(id string) []string {
	return g.edges[id]
}

// GetAllNodes returns all nodes sorted by name.
func (g *Graph) GetAllNodes() []*Node {
	nodes := make([]*Node, 0, len(g.nodes))
	for _, node := range g.nodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].ID < nodes[j].ID
	})
	return nodes
}

// Undefined returns the referenced names that have no definition.
func (g *Graph) Undefined() []string {
	var out []string
	for id, n := range g.nodes {
		if !n.Defined() {
			out = append(out, id)
		}
	}
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

// HasCycle reports whether some macro refers to itself, directly or
// through others, along with one such path. Nodes are visited in name
// order so the path is stable.
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make(map[string]string)

	var cyclePath []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		recStack[id] = true

		for _, childID := range g.edges[id] {
			if !visited[childID] {
				path[childID] = id
				if dfs(childID) {
					return true
				}
			} else if recStack[childID] {
				cyclePath = []string{childID}
				for curr := id; curr != childID; curr = path[curr] {
					cyclePath = append([]string{curr}, cyclePath...)
				}
				cyclePath = append([]string{childID}, cyclePath...)
				return true
			}
		}

		recStack[id] = false
		return false
	}

	for _, n := range g.GetAllNodes() {
		if !visited[n.ID] && dfs(n.ID) {
			return true, cyclePath
		}
	}
	return false, nil
}

// Levels groups macros by reference depth. Level 0 holds macros that use
// no other macro; a macro at level N uses at least one at level N-1.
// Returns an error if the graph contains a cycle.
func (g *Graph) Levels() ([][]string, error) {
	if hasCycle, cyclePath := g.HasCycle(); hasCycle {
		return nil, fmt.Errorf("cycle detected: %v", cyclePath)
	}
	if len(g.nodes) == 0 {
		return nil, nil
	}

	assigned := make(map[string]int)

	var getLevel func(id string) int
	getLevel = func(id string) int {
		if level, ok := assigned[id]; ok {
			return level
		}
		level := 0
		for _, parentID := range g.parents[id] {
			level = max(level, getLevel(parentID)+1)
		}
		assigned[id] = level
		return level
	}

	maxLevel := 0
	for id := range g.nodes {
		maxLevel = max(maxLevel, getLevel(id))
	}

	levels := make([][]string, maxLevel+1)
	for id, level := range assigned {
		levels[level] = append(levels[level], id)
	}
	for i := range levels {
		sort.Strings(levels[i])
	}
	return levels, nil
}

// GetUpstreamNodes returns the macros id uses, directly or transitively,
// within maxDepth steps. Zero means unlimited.
func (g *Graph) GetUpstreamNodes(id string, maxDepth int) []string {
	return g.walk(id, maxDepth, g.parents)
}

// GetDownstreamNodes returns the macros that use id, directly or
// transitively, within maxDepth steps. Zero means unlimited.
func (g *Graph) GetDownstreamNodes(id string, maxDepth int) []string {
	return g.walk(id, maxDepth, g.edges)
}

// GetAffectedNodes returns the given macros and every macro that uses
// them: what may expand differently after they change.
func (g *Graph) GetAffectedNodes(changedIDs []string) []string {
	affected := make(map[string]bool)
	for _, id := range changedIDs {
		if _, exists := g.nodes[id]; !exists {
			continue
		}
		affected[id] = true
		for _, d := range g.GetDownstreamNodes(id, 0) {
			affected[d] = true
		}
	}

	result := make([]string, 0, len(affected))
	for id := range affected {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

func (g *Graph) walk(id string, maxDepth int, next map[string][]string) []string {
	seen := map[string]bool{id: true}
	var result []string

	var traverse func(nodeID string, depth int)
	traverse = func(nodeID string, depth int) {
		if maxDepth > 0 && depth > maxDepth {
			return
		}
		for _, n := range next[nodeID] {
			if !seen[n] {
				seen[n] = true
				result = append(result, n)
				traverse(n, depth+1)
			}
		}
	}

	traverse(id, 1)
	sort.Strings(result)
	return result
}
