// Package dependency models the dependency relationships between the
// services of an app as a directed acyclic graph.
//
// Nodes keep their insertion order. Every ordering produced by the graph
// breaks ties by that order, so the same input always yields the same plan.
package dependency

import (
	"fmt"
	"strings"
)

// NodeID uniquely identifies a node in the graph.
type NodeID string

// Node is a single service in the graph.
type Node struct {
	ID           NodeID
	FriendlyName string
	Kind         string
	DependsOn    []NodeID
}

// Graph is a dependency graph. It is not safe for concurrent mutation; build it
// once and then share it read-only.
type Graph struct {
	nodes map[NodeID]*Node
	order []NodeID
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[NodeID]*Node)}
}

// AddNode adds or replaces a node. A replaced node keeps its original position.
func (g *Graph) AddNode(n Node) {
	if _, exists := g.nodes[n.ID]; !exists {
		g.order = append(g.order, n.ID)
	}
	node := n
	node.DependsOn = append([]NodeID(nil), n.DependsOn...)
	g.nodes[n.ID] = &node
}

// Get returns the node with the given ID or nil.
func (g *Graph) Get(id NodeID) *Node {
	return g.nodes[id]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// IDs returns all node IDs in insertion order.
func (g *Graph) IDs() []NodeID {
	return append([]NodeID(nil), g.order...)
}

// Dependencies returns the direct dependencies of id that exist in the graph.
func (g *Graph) Dependencies(id NodeID) []NodeID {
	n := g.nodes[id]
	if n == nil {
		return nil
	}
	var deps []NodeID
	for _, dep := range n.DependsOn {
		if _, ok := g.nodes[dep]; ok {
			deps = append(deps, dep)
		}
	}
	return deps
}

// Dependents returns the nodes that directly depend on id, in insertion order.
func (g *Graph) Dependents(id NodeID) []NodeID {
	var dependents []NodeID
	for _, candidate := range g.order {
		for _, dep := range g.nodes[candidate].DependsOn {
			if dep == id {
				dependents = append(dependents, candidate)
				break
			}
		}
	}
	return dependents
}

// MissingDependencies reports edges pointing at nodes that are not in the graph,
// keyed by the node declaring them.
func (g *Graph) MissingDependencies() map[NodeID][]NodeID {
	missing := make(map[NodeID][]NodeID)
	for _, id := range g.order {
		for _, dep := range g.nodes[id].DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				missing[id] = append(missing[id], dep)
			}
		}
	}
	return missing
}

// FindCycle returns one dependency cycle as a path that starts and ends with
// the same node, or nil when the graph is acyclic.
func (g *Graph) FindCycle() []NodeID {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[NodeID]int, len(g.nodes))
	var stack []NodeID

	var visit func(id NodeID) []NodeID
	visit = func(id NodeID) []NodeID {
		state[id] = inProgress
		stack = append(stack, id)

		for _, dep := range g.Dependencies(id) {
			switch state[dep] {
			case inProgress:
				// Cut the stack at the first occurrence of dep.
				for i, s := range stack {
					if s == dep {
						cycle := append([]NodeID(nil), stack[i:]...)
						return append(cycle, dep)
					}
				}
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, id := range g.order {
		if state[id] == unvisited {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// TopologicalOrder returns all nodes with every dependency placed before its
// dependents. Among nodes that are ready at the same time, insertion order
// wins. It fails if the graph has a cycle.
func (g *Graph) TopologicalOrder() ([]NodeID, error) {
	if cycle := g.FindCycle(); cycle != nil {
		return nil, fmt.Errorf("dependency cycle: %s", FormatPath(cycle))
	}

	placed := make(map[NodeID]bool, len(g.nodes))
	result := make([]NodeID, 0, len(g.nodes))

	// Repeatedly take the first node, in insertion order, whose dependencies
	// are all placed. Graphs are small so the quadratic scan is fine.
	for len(result) < len(g.order) {
		for _, id := range g.order {
			if placed[id] {
				continue
			}
			ready := true
			for _, dep := range g.Dependencies(id) {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				placed[id] = true
				result = append(result, id)
				break
			}
		}
	}
	return result, nil
}

// ReverseTopologicalOrder returns the nodes with dependents before their
// dependencies.
func (g *Graph) ReverseTopologicalOrder() ([]NodeID, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

// FormatPath renders a node path as "a -> b -> a".
func FormatPath(path []NodeID) string {
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = string(id)
	}
	return strings.Join(parts, " -> ")
}
