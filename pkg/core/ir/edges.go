// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import "slices"

// outputAnchor resolves src as an output anchor of a live node.
func (g *Graph) outputAnchor(op string, src Endpoint) (*Node, error) {
	node, found := g.Node(src.Node)
	if !found {
		return nil, errorf("%s: producer %s is not live in graph %q", op, src.Node, g.name)
	}
	if src.Index < 0 || src.Index >= len(node.outputs) {
		return nil, errorf("%s: output index %d out of range for %q with %d outputs", op, src.Index, node.Name(), len(node.outputs))
	}
	return node, nil
}

// inputAnchor resolves dst as an input anchor of a live node.
func (g *Graph) inputAnchor(op string, dst Endpoint) (*Node, error) {
	node, found := g.Node(dst.Node)
	if !found {
		return nil, errorf("%s: consumer %s is not live in graph %q", op, dst.Node, g.name)
	}
	if dst.Index < 0 || dst.Index >= len(node.inputs) {
		return nil, errorf("%s: input index %d out of range for %q with %d inputs", op, dst.Index, node.Name(), len(node.inputs))
	}
	return node, nil
}

// CanAddEdge checks that AddEdge(src, dst) would succeed, without changing the graph.
func (g *Graph) CanAddEdge(src, dst Endpoint) error {
	if _, err := g.outputAnchor("AddEdge", src); err != nil {
		return err
	}
	consumer, err := g.inputAnchor("AddEdge", dst)
	if err != nil {
		return err
	}
	if peer := consumer.inputs[dst.Index]; peer.connected() {
		return errorf("AddEdge: input #%d of %q is already fed by %s", dst.Index, consumer.Name(), consumer.peerName(peer))
	}
	return nil
}

// AddEdge connects the output anchor src to the input anchor dst.
//
// Data inputs accept at most one producer, so dst must be unconnected.
func (g *Graph) AddEdge(src, dst Endpoint) error {
	if err := g.CanAddEdge(src, dst); err != nil {
		return err
	}
	producer, _ := g.Node(src.Node)
	consumer, _ := g.Node(dst.Node)
	consumer.inputs[dst.Index] = src
	producer.outputs[src.Index] = append(producer.outputs[src.Index], dst)
	return nil
}

// RemoveEdge disconnects the output anchor src from the input anchor dst.
// The order of the remaining consumers of src is preserved.
func (g *Graph) RemoveEdge(src, dst Endpoint) error {
	producer, err := g.outputAnchor("RemoveEdge", src)
	if err != nil {
		return err
	}
	consumer, err := g.inputAnchor("RemoveEdge", dst)
	if err != nil {
		return err
	}
	if consumer.inputs[dst.Index] != src {
		return errorf("RemoveEdge: input #%d of %q is not fed by %s", dst.Index, consumer.Name(), producer.peerName(src))
	}
	consumers := producer.outputs[src.Index]
	idx := slices.Index(consumers, dst)
	if idx < 0 {
		return errorf("RemoveEdge: output %s of %q doesn't list consumer %s (corrupted graph?)",
			src, producer.Name(), consumer.peerName(dst))
	}
	producer.outputs[src.Index] = slices.Delete(consumers, idx, idx+1)
	consumer.inputs[dst.Index] = noPeer
	return nil
}

// HasControlEdge returns whether there is a control edge from -> to.
func (g *Graph) HasControlEdge(from, to NodeID) bool {
	node, found := g.Node(from)
	if !found {
		return false
	}
	return slices.Contains(node.ctrlOut, to)
}

// AddControlEdge adds a control (sequencing only) edge from -> to.
func (g *Graph) AddControlEdge(from, to NodeID) error {
	src, found := g.Node(from)
	if !found {
		return errorf("AddControlEdge: node %s is not live", from)
	}
	dst, found := g.Node(to)
	if !found {
		return errorf("AddControlEdge: node %s is not live", to)
	}
	if from == to {
		return errorf("AddControlEdge: self control edge on %q", src.Name())
	}
	if slices.Contains(src.ctrlOut, to) {
		return errorf("AddControlEdge: control edge %q -> %q already exists", src.Name(), dst.Name())
	}
	src.ctrlOut = append(src.ctrlOut, to)
	dst.ctrlIn = append(dst.ctrlIn, from)
	return nil
}

// RemoveControlEdge removes the control edge from -> to.
func (g *Graph) RemoveControlEdge(from, to NodeID) error {
	src, found := g.Node(from)
	if !found {
		return errorf("RemoveControlEdge: node %s is not live", from)
	}
	dst, found := g.Node(to)
	if !found {
		return errorf("RemoveControlEdge: node %s is not live", to)
	}
	outIdx := slices.Index(src.ctrlOut, to)
	inIdx := slices.Index(dst.ctrlIn, from)
	if outIdx < 0 || inIdx < 0 {
		return errorf("RemoveControlEdge: no control edge %q -> %q", src.Name(), dst.Name())
	}
	src.ctrlOut = slices.Delete(src.ctrlOut, outIdx, outIdx+1)
	dst.ctrlIn = slices.Delete(dst.ctrlIn, inIdx, inIdx+1)
	return nil
}
