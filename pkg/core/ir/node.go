// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"slices"
	"strings"
)

// Node is an operator in the Graph. It is owned by the graph, and its lifetime is bound
// to its membership: once removed, Live returns false and its anchors are empty.
type Node struct {
	id    NodeID
	graph *Graph
	desc  *OpDesc

	// inputs hold the producer of each input anchor, or noPeer.
	inputs []Endpoint

	// outputs hold the consumers of each output anchor, in the order they were connected.
	outputs [][]Endpoint

	ctrlIn, ctrlOut []NodeID
	removed         bool
}

// ID returns the node handle.
func (n *Node) ID() NodeID { return n.id }

// Name of the node, unique in the graph.
func (n *Node) Name() string { return n.desc.Name }

// Type is the operator type of the node, e.g. "Select".
func (n *Node) Type() string { return n.desc.Type }

// Desc returns the operator descriptor of the node. Attributes can be changed through it.
func (n *Node) Desc() *OpDesc { return n.desc }

// Live returns whether the node is still part of its graph.
func (n *Node) Live() bool { return !n.removed }

// NumInputs returns the number of input data anchors.
func (n *Node) NumInputs() int { return len(n.inputs) }

// NumOutputs returns the number of output data anchors.
func (n *Node) NumOutputs() int { return len(n.outputs) }

// InputPeer returns the producer endpoint connected to input anchor idx.
// It returns false if the input is not connected or idx is out of range.
func (n *Node) InputPeer(idx int) (Endpoint, bool) {
	if idx < 0 || idx >= len(n.inputs) || !n.inputs[idx].connected() {
		return Endpoint{}, false
	}
	return n.inputs[idx], true
}

// OutputPeers returns the consumer endpoints of output anchor idx, in connection order.
func (n *Node) OutputPeers(idx int) []Endpoint {
	if idx < 0 || idx >= len(n.outputs) {
		return nil
	}
	return slices.Clone(n.outputs[idx])
}

// NumConsumers returns the number of data edges leaving the node, over all outputs.
func (n *Node) NumConsumers() int {
	count := 0
	for _, consumers := range n.outputs {
		count += len(consumers)
	}
	return count
}

// NumConnectedInputs returns the number of input anchors with a producer.
func (n *Node) NumConnectedInputs() int {
	count := 0
	for _, peer := range n.inputs {
		if peer.connected() {
			count++
		}
	}
	return count
}

// ControlIns returns the nodes with a control edge into this node.
func (n *Node) ControlIns() []NodeID { return slices.Clone(n.ctrlIn) }

// ControlOuts returns the nodes this node has a control edge to.
func (n *Node) ControlOuts() []NodeID { return slices.Clone(n.ctrlOut) }

// IsIsolated returns whether no edge at all is attached to the node.
func (n *Node) IsIsolated() bool {
	return n.NumConnectedInputs() == 0 && n.NumConsumers() == 0 && len(n.ctrlIn) == 0 && len(n.ctrlOut) == 0
}

// InputDesc returns the tensor descriptor of input anchor idx.
func (n *Node) InputDesc(idx int) (TensorDesc, bool) {
	if idx < 0 || idx >= len(n.desc.Inputs) {
		return TensorDesc{}, false
	}
	return n.desc.Inputs[idx], true
}

// OutputDesc returns the tensor descriptor of output anchor idx.
func (n *Node) OutputDesc(idx int) (TensorDesc, bool) {
	if idx < 0 || idx >= len(n.desc.Outputs) {
		return TensorDesc{}, false
	}
	return n.desc.Outputs[idx], true
}

// peerName returns a printable name for a peer endpoint.
func (n *Node) peerName(ep Endpoint) string {
	peer, found := n.graph.Node(ep.Node)
	if !found {
		return fmt.Sprintf("<stale %s>", ep)
	}
	return fmt.Sprintf("%s:%d", peer.Name(), ep.Index)
}

func (n *Node) namesOf(ids []NodeID) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if peer, found := n.graph.Node(id); found {
			names = append(names, peer.Name())
		} else {
			names = append(names, "<stale "+id.String()+">")
		}
	}
	return names
}

// String implements fmt.Stringer. It includes the inputs, outputs (with their consumers),
// control edges and attributes.
func (n *Node) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%q %s(", n.Name(), n.Type())
	for ii, peer := range n.inputs {
		if ii > 0 {
			sb.WriteString(", ")
		}
		if peer.connected() {
			sb.WriteString(n.peerName(peer))
		} else {
			sb.WriteString("_")
		}
	}
	sb.WriteString(")")
	for ii, consumers := range n.outputs {
		desc, _ := n.OutputDesc(ii)
		_, _ = fmt.Fprintf(&sb, " out#%d%s->[", ii, desc)
		for jj, c := range consumers {
			if jj > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(n.peerName(c))
		}
		sb.WriteString("]")
	}
	if len(n.ctrlIn) > 0 {
		_, _ = fmt.Fprintf(&sb, " ctrl_in=%v", n.namesOf(n.ctrlIn))
	}
	if len(n.ctrlOut) > 0 {
		_, _ = fmt.Fprintf(&sb, " ctrl_out=%v", n.namesOf(n.ctrlOut))
	}
	if attrs := n.desc.attrsString(); attrs != "" {
		sb.WriteString(" ")
		sb.WriteString(attrs)
	}
	return sb.String()
}
