// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"slices"

	"github.com/gomlx/fusion/pkg/core/ir"
	"github.com/gomlx/fusion/pkg/support/sets"
)

// outputMove moves one consumer from a terminal anchor of the match to an output of the fused node.
type outputMove struct {
	from     ir.Endpoint
	output   int
	consumer ir.Endpoint
}

// rewritePlan holds every mutation of one rewrite. It is fully computed, and checked for feasibility,
// before the graph is touched.
type rewritePlan struct {
	desc    *ir.OpDesc
	inputs  []ir.Endpoint
	moves   []outputMove
	present []bool

	// Control edges between removed nodes and the rest of the graph, transferred to the fused node.
	ctrlIn, ctrlOut []ir.NodeID

	removable, shared []*ir.Node
	removableIDs      sets.Set[ir.NodeID]
}

// planRewrite computes the rewrite of match into a node described by desc.
func planRewrite[R any](g *ir.Graph, c *Compiled[R], match *Match[R], desc *ir.OpDesc) (*rewritePlan, error) {
	if desc == nil {
		return nil, internalf("pattern %q: Synthesize returned a nil descriptor", c.Name)
	}
	if len(desc.Inputs) != len(match.inputs) || len(desc.Outputs) != len(match.terminals) {
		return nil, internalf("pattern %q: synthesized %q has %d inputs and %d outputs, the pattern declares %d and %d",
			c.Name, desc.Name, len(desc.Inputs), len(desc.Outputs), len(match.inputs), len(match.terminals))
	}
	if g.HasName(desc.Name) {
		return nil, internalf("pattern %q: synthesized node name %q already in use", c.Name, desc.Name)
	}
	plan := &rewritePlan{
		desc:         desc,
		inputs:       match.inputs,
		present:      make([]bool, len(match.terminals)),
		removable:    match.removable,
		shared:       match.shared,
		removableIDs: sets.Make[ir.NodeID](len(match.removable)),
	}
	for _, node := range match.removable {
		if !g.Live(node.ID()) {
			return nil, internalf("pattern %q: matched node %q is no longer in the graph", c.Name, node.Name())
		}
		plan.removableIDs.Insert(node.ID())
	}
	for jj, src := range plan.inputs {
		producer, live := g.Node(src.Node)
		if !live || src.Index >= producer.NumOutputs() {
			return nil, internalf("pattern %q: producer %s of fused input #%d is not valid", c.Name, src, jj)
		}
		if plan.removableIDs.Has(src.Node) {
			return nil, internalf("pattern %q: fused input #%d is fed by matched node %q", c.Name, jj, producer.Name())
		}
	}
	for ii, t := range match.terminals {
		if t == nil {
			continue
		}
		plan.present[ii] = true
		from := t.endpoint()
		for _, consumer := range t.node.OutputPeers(t.output) {
			consumerNode, live := g.Node(consumer.Node)
			if !live || plan.removableIDs.Has(consumer.Node) {
				return nil, internalf("pattern %q: invalid consumer %s of terminal %q", c.Name, consumer, t.node.Name())
			}
			if peer, _ := consumerNode.InputPeer(consumer.Index); peer != from {
				return nil, internalf("pattern %q: consumer %q of %q has an inconsistent input #%d",
					c.Name, consumerNode.Name(), t.node.Name(), consumer.Index)
			}
			plan.moves = append(plan.moves, outputMove{from: from, output: ii, consumer: consumer})
		}
	}
	for _, node := range match.removable {
		for _, id := range node.ControlIns() {
			if !plan.removableIDs.Has(id) && !slices.Contains(plan.ctrlIn, id) {
				plan.ctrlIn = append(plan.ctrlIn, id)
			}
		}
		for _, id := range node.ControlOuts() {
			if !plan.removableIDs.Has(id) && !slices.Contains(plan.ctrlOut, id) {
				plan.ctrlOut = append(plan.ctrlOut, id)
			}
		}
	}
	return plan, nil
}

// apply adds the fused node and moves every boundary edge of the match to it.
//
// Data outputs are moved consumer by consumer, with a remove-then-add pair that keeps the consumer's input index.
func (p *rewritePlan) apply(g *ir.Graph, presentAttrs []string) (*ir.Node, error) {
	fused, err := g.AddNode(p.desc)
	if err != nil {
		return nil, asInternal(err, "adding fused node %q", p.desc.Name)
	}
	for jj, src := range p.inputs {
		if err := g.AddEdge(src, ir.Endpoint{Node: fused.ID(), Index: jj}); err != nil {
			return nil, asInternal(err, "connecting input #%d of fused node %q", jj, fused.Name())
		}
	}
	for _, move := range p.moves {
		if err := g.RemoveEdge(move.from, move.consumer); err != nil {
			return nil, asInternal(err, "disconnecting consumer %s", move.consumer)
		}
		if err := g.AddEdge(ir.Endpoint{Node: fused.ID(), Index: move.output}, move.consumer); err != nil {
			return nil, asInternal(err, "connecting output #%d of fused node %q", move.output, fused.Name())
		}
	}
	for _, node := range p.removable {
		for _, id := range node.ControlIns() {
			if p.removableIDs.Has(id) {
				continue
			}
			if err := g.RemoveControlEdge(id, node.ID()); err != nil {
				return nil, asInternal(err, "removing control edge into %q", node.Name())
			}
		}
		for _, id := range node.ControlOuts() {
			if p.removableIDs.Has(id) {
				continue
			}
			if err := g.RemoveControlEdge(node.ID(), id); err != nil {
				return nil, asInternal(err, "removing control edge from %q", node.Name())
			}
		}
	}
	for _, id := range p.ctrlIn {
		if err := g.AddControlEdge(id, fused.ID()); err != nil {
			return nil, asInternal(err, "transferring control edge into %q", fused.Name())
		}
	}
	for _, id := range p.ctrlOut {
		if err := g.AddControlEdge(fused.ID(), id); err != nil {
			return nil, asInternal(err, "transferring control edge from %q", fused.Name())
		}
	}
	for ii, attr := range presentAttrs {
		if attr != "" && p.present[ii] {
			fused.Desc().SetBool(attr, true)
		}
	}
	return fused, nil
}
