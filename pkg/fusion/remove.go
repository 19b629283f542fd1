// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"github.com/gomlx/fusion/pkg/core/ir"
	"github.com/gomlx/fusion/pkg/support/sets"
	"k8s.io/klog/v2"
)

// BoundaryOpTypes are never reclaimed as isolated producers: they are the interface of the graph.
var BoundaryOpTypes = sets.MakeWith("Data", "NetOutput", "Variable", "RefData")

// removeMatched removes the nodes of an applied rewrite plan. It returns the number of nodes removed.
//
// Inputs of every removed node are disconnected first, which also drops the edges internal to the match.
// Outputs must be empty by then (apply moved every external consumer), otherwise it fails rather than
// orphaning a consumer. Shared roles left without consumers, and producers that became isolated, are
// removed too.
func (p *rewritePlan) removeMatched(g *ir.Graph) (int, error) {
	var candidates []ir.NodeID
	for _, node := range p.removable {
		producers, err := disconnectInputs(g, node)
		if err != nil {
			return 0, err
		}
		candidates = append(candidates, producers...)
	}
	numRemoved := 0
	for _, node := range p.removable {
		if node.NumConsumers() > 0 || len(node.ControlOuts()) > 0 {
			return numRemoved, internalf("matched node %q still has %d consumers and %d control successors after rewiring",
				node.Name(), node.NumConsumers(), len(node.ControlOuts()))
		}
		if err := g.RemoveNode(node.ID()); err != nil {
			return numRemoved, asInternal(err, "removing matched node %q", node.Name())
		}
		numRemoved++
	}

	for _, node := range p.shared {
		if !node.Live() || node.NumConsumers() > 0 || len(node.ControlOuts()) > 0 {
			continue
		}
		producers, err := disconnectInputs(g, node)
		if err != nil {
			return numRemoved, err
		}
		candidates = append(candidates, producers...)
		if err := g.RemoveNode(node.ID()); err != nil {
			return numRemoved, asInternal(err, "reclaiming shared node %q", node.Name())
		}
		numRemoved++
	}

	// Producers that lost their last consumer and have no inputs are dead constants.
	for len(candidates) > 0 {
		id := candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]
		node, live := g.Node(id)
		if !live || !node.IsIsolated() || BoundaryOpTypes.Has(node.Type()) {
			continue
		}
		if err := g.RemoveNode(id); err != nil {
			return numRemoved, asInternal(err, "removing isolated producer %q", node.Name())
		}
		klog.V(2).Infof("removed isolated producer %q (%s)", node.Name(), node.Type())
		numRemoved++
	}
	return numRemoved, nil
}

// disconnectInputs removes every data and control edge into node. It returns the producers.
func disconnectInputs(g *ir.Graph, node *ir.Node) ([]ir.NodeID, error) {
	var producers []ir.NodeID
	for ii := range node.NumInputs() {
		peer, connected := node.InputPeer(ii)
		if !connected {
			continue
		}
		if err := g.RemoveEdge(peer, ir.Endpoint{Node: node.ID(), Index: ii}); err != nil {
			return nil, asInternal(err, "disconnecting input #%d of %q", ii, node.Name())
		}
		producers = append(producers, peer.Node)
	}
	for _, id := range node.ControlIns() {
		if err := g.RemoveControlEdge(id, node.ID()); err != nil {
			return nil, asInternal(err, "disconnecting control input of %q", node.Name())
		}
		producers = append(producers, id)
	}
	return producers, nil
}
