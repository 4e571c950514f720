// Package graph holds the arena view of a workflow graph and the validator that guards it.
package graph

import (
	"github.com/dukex/nurture/pkg/models"
)

// handleAliases lists accepted spellings of the canonical branch handles.
var handleAliases = map[string][]string{
	models.HandleYes: {models.HandleYes, "true"},
	models.HandleNo:  {models.HandleNo, "false"},
}

// Graph is an id-indexed arena over a workflow snapshot.
type Graph struct {
	nodes    map[string]*models.Node
	outgoing map[string][]*models.Edge
	incoming map[string][]*models.Edge
	order    []string
	starts   []string
}

// New indexes the nodes and edges of a workflow. Duplicate ids keep the first node.
func New(workflow *models.Workflow) *Graph {
	g := &Graph{
		nodes:    make(map[string]*models.Node, len(workflow.Nodes)),
		outgoing: make(map[string][]*models.Edge),
		incoming: make(map[string][]*models.Edge),
	}

	for _, node := range workflow.Nodes {
		if node == nil {
			continue
		}

		if _, exists := g.nodes[node.ID]; exists {
			continue
		}

		g.nodes[node.ID] = node
		g.order = append(g.order, node.ID)

		if node.Type == models.NodeTypeTrigger {
			g.starts = append(g.starts, node.ID)
		}
	}

	for _, edge := range workflow.Edges {
		if edge == nil {
			continue
		}

		g.outgoing[edge.Source] = append(g.outgoing[edge.Source], edge)
		g.incoming[edge.Target] = append(g.incoming[edge.Target], edge)
	}

	return g
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*models.Node, bool) {
	node, ok := g.nodes[id]

	return node, ok
}

// Start returns the single trigger node id.
func (g *Graph) Start() (string, bool) {
	if len(g.starts) != 1 {
		return "", false
	}

	return g.starts[0], true
}

// Outgoing returns the edges leaving a node, in definition order.
func (g *Graph) Outgoing(id string) []*models.Edge {
	return g.outgoing[id]
}

// Next resolves the target of a node for the given handle.
// Non-branching nodes follow their single edge regardless of handle. Branching nodes
// match the handle (yes/true and no/false are interchangeable), then fall back to "default".
// ok is false when nothing matches; terminal is true when the node has no outgoing edge at all.
func (g *Graph) Next(id, handle string) (target string, terminal bool, ok bool) {
	edges := g.outgoing[id]
	if len(edges) == 0 {
		return "", true, true
	}

	node, exists := g.nodes[id]
	if !exists {
		return "", false, false
	}

	if !node.Type.IsBranching() {
		return edges[0].Target, false, true
	}

	accepted := handleAliases[handle]
	if accepted == nil {
		accepted = []string{handle}
	}

	for _, candidate := range accepted {
		for _, edge := range edges {
			if edge.Handle == candidate {
				return edge.Target, false, true
			}
		}
	}

	for _, edge := range edges {
		if edge.Handle == models.HandleDefault {
			return edge.Target, false, true
		}
	}

	return "", false, false
}

// Reachable returns the set of node ids reachable from the start node.
func (g *Graph) Reachable() map[string]bool {
	seen := make(map[string]bool, len(g.nodes))

	start, ok := g.Start()
	if !ok {
		return seen
	}

	queue := []string{start}
	seen[start] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, edge := range g.outgoing[current] {
			if _, exists := g.nodes[edge.Target]; !exists || seen[edge.Target] {
				continue
			}

			seen[edge.Target] = true
			queue = append(queue, edge.Target)
		}
	}

	return seen
}

// UnboundedCycle returns a cycle that does not pass through a cycleLoop node, if one exists.
// cycleLoop nodes bound their own iterations, so their outgoing edges are ignored.
func (g *Graph) UnboundedCycle() []string {
	const (
		white = iota
		gray
		black
	)

	color := make(map[string]int, len(g.nodes))
	parent := make(map[string]string, len(g.nodes))

	var visit func(id string) []string

	visit = func(id string) []string {
		color[id] = gray

		if g.nodes[id].Type != models.NodeTypeCycleLoop {
			for _, edge := range g.outgoing[id] {
				next := edge.Target
				if _, exists := g.nodes[next]; !exists {
					continue
				}

				switch color[next] {
				case white:
					parent[next] = id
					if cycle := visit(next); cycle != nil {
						return cycle
					}
				case gray:
					cycle := []string{next}
					for current := id; current != next; current = parent[current] {
						cycle = append([]string{current}, cycle...)
					}

					return append([]string{next}, cycle...)
				}
			}
		}

		color[id] = black

		return nil
	}

	for _, id := range g.order {
		if color[id] == white {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}

	return nil
}
