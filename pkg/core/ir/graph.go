// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Graph is a compute graph: an arena of nodes connected by data and control edges.
//
// A Graph is not safe for concurrent use: a pass owns it exclusively while it runs.
type Graph struct {
	name string
	id   string

	// slots is the arena. Removed nodes leave a nil node in their slot, which is reused later
	// with a bumped generation.
	slots []slot
	free  []int32

	byName  map[string]NodeID
	numLive int
}

type slot struct {
	node       *Node
	generation uint32
}

// NewGraph creates an empty graph with the given name and a fresh unique id.
func NewGraph(name string) *Graph {
	return &Graph{
		name:   name,
		id:     uuid.NewString(),
		byName: make(map[string]NodeID),
	}
}

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// ID is a unique identifier of the graph, used to key statistics.
func (g *Graph) ID() string { return g.id }

// NumNodes returns the number of live nodes.
func (g *Graph) NumNodes() int { return g.numLive }

// AddNode creates a new node from the descriptor, which is owned by the graph from now on.
//
// The node has len(desc.Inputs) unconnected input anchors and len(desc.Outputs) output anchors
// without consumers. Node names must be unique within the graph.
func (g *Graph) AddNode(desc *OpDesc) (*Node, error) {
	if desc == nil {
		return nil, errorf("AddNode: nil OpDesc")
	}
	if desc.Name == "" || desc.Type == "" {
		return nil, errorf("AddNode: OpDesc must have a name and a type, got name=%q, type=%q", desc.Name, desc.Type)
	}
	if _, found := g.byName[desc.Name]; found {
		return nil, errorf("AddNode: graph %q already has a node named %q", g.name, desc.Name)
	}

	var index int32
	if n := len(g.free); n > 0 {
		index = g.free[n-1]
		g.free = g.free[:n-1]
	} else {
		index = int32(len(g.slots))
		g.slots = append(g.slots, slot{})
	}
	s := &g.slots[index]
	s.generation++
	node := &Node{
		id:      NodeID{index: index, generation: s.generation},
		graph:   g,
		desc:    desc,
		inputs:  make([]Endpoint, len(desc.Inputs)),
		outputs: make([][]Endpoint, len(desc.Outputs)),
	}
	for ii := range node.inputs {
		node.inputs[ii] = noPeer
	}
	s.node = node
	g.byName[desc.Name] = node.id
	g.numLive++
	return node, nil
}

// RemoveNode removes a node from the graph.
//
// The node must have been disconnected before: it fails if any data or control edge is still attached,
// rather than silently orphaning a peer.
func (g *Graph) RemoveNode(id NodeID) error {
	node, found := g.Node(id)
	if !found {
		return errorf("RemoveNode: node %s is not live in graph %q", id, g.name)
	}
	for ii, peer := range node.inputs {
		if peer.connected() {
			return errorf("RemoveNode(%q): input #%d is still connected to %s", node.Name(), ii, peer)
		}
	}
	for ii, consumers := range node.outputs {
		if len(consumers) > 0 {
			return errorf("RemoveNode(%q): output #%d still has %d consumers", node.Name(), ii, len(consumers))
		}
	}
	if len(node.ctrlIn) > 0 || len(node.ctrlOut) > 0 {
		return errorf("RemoveNode(%q): node still has %d incoming and %d outgoing control edges",
			node.Name(), len(node.ctrlIn), len(node.ctrlOut))
	}
	s := &g.slots[id.index]
	s.node = nil
	s.generation++
	g.free = append(g.free, id.index)
	delete(g.byName, node.Name())
	g.numLive--
	node.removed = true
	return nil
}

// Node returns the node for the handle, and whether it is still live.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	if !id.Valid() || id.index < 0 || int(id.index) >= len(g.slots) {
		return nil, false
	}
	s := g.slots[id.index]
	if s.node == nil || s.generation != id.generation {
		return nil, false
	}
	return s.node, true
}

// Live returns whether the handle refers to a node currently in the graph.
func (g *Graph) Live(id NodeID) bool {
	_, found := g.Node(id)
	return found
}

// NodeByName returns the live node with the given name.
func (g *Graph) NodeByName(name string) (*Node, bool) {
	id, found := g.byName[name]
	if !found {
		return nil, false
	}
	return g.Node(id)
}

// HasName returns whether a live node has the given name.
func (g *Graph) HasName(name string) bool {
	_, found := g.byName[name]
	return found
}

// Nodes returns a snapshot of the live nodes, in arena order.
//
// The snapshot is not affected by later mutations of the graph, but the *Node in it may
// be removed from the graph: check with Node.Live or Graph.Live.
func (g *Graph) Nodes() []*Node {
	nodes := make([]*Node, 0, g.numLive)
	for _, s := range g.slots {
		if s.node != nil {
			nodes = append(nodes, s.node)
		}
	}
	return nodes
}

// String dumps the graph, one node per line, in arena order. Peers are printed by name, so the
// dump can be compared across structurally identical graphs.
func (g *Graph) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Graph %q: %d nodes\n", g.name, g.numLive)
	for _, node := range g.Nodes() {
		sb.WriteString("  ")
		sb.WriteString(node.String())
		sb.WriteString("\n")
	}
	return sb.String()
}
