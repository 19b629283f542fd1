// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"slices"

	"github.com/gomlx/fusion/pkg/core/ir"
	"github.com/gomlx/fusion/pkg/support/sets"
)

// Match is a fully bound instance of a pattern, ready to be rewritten.
type Match[R any] struct {
	// Roles is the role recorder with the bound nodes.
	Roles R

	// inputs are the external producers feeding each fused input.
	inputs []ir.Endpoint

	// terminals are the anchors whose consumers move to each fused output, nil for absent outputs.
	terminals []*terminal

	// removable are the matched nodes removed by the rewrite, shared the ones that may survive it.
	removable, shared []*ir.Node
}

type terminal struct {
	node   *ir.Node
	output int
}

func (t *terminal) endpoint() ir.Endpoint {
	return ir.Endpoint{Node: t.node.ID(), Index: t.output}
}

// matchState is everything a failed branch of the search must restore. R holds only pointers,
// so copying it by value is a snapshot.
type matchState[R any] struct {
	roles   R
	skipped uint64
}

type matcher[R any] struct {
	g     *ir.Graph
	c     *Compiled[R]
	state matchState[R]
}

// MatchAt tries to match the pattern with the seed bound to the root role.
//
// It returns nil (and no error) if the pattern doesn't match, including when the seed is no longer in
// the graph. Bindings of a failed attempt never leak: every attempt starts from an empty recorder.
// It doesn't mutate the graph.
func MatchAt[R any](g *ir.Graph, c *Compiled[R], seed ir.NodeID) (*Match[R], error) {
	node, live := g.Node(seed)
	if !live {
		return nil, nil
	}
	m := &matcher[R]{g: g, c: c}
	ok, err := validateRole(g, c, &m.state.roles, c.root, node)
	if err != nil || !ok {
		return nil, err
	}
	m.bind(c.root, node)
	return m.resolve(0)
}

func (m *matcher[R]) bound(idx int) *ir.Node {
	return m.c.boundNode(&m.state.roles, idx)
}

func (m *matcher[R]) bind(idx int, node *ir.Node) {
	*m.c.Roles[idx].Slot(&m.state.roles) = node
}

func (m *matcher[R]) skip(idx int) {
	m.state.skipped |= 1 << uint(idx)
}

func (m *matcher[R]) isSkipped(idx int) bool {
	return m.state.skipped&(1<<uint(idx)) != 0
}

// resolve processes links[k:], backtracking on failure.
func (m *matcher[R]) resolve(k int) (*Match[R], error) {
	if k == len(m.c.links) {
		return m.finish(), nil
	}
	l := m.c.links[k]
	if m.isSkipped(l.producer) || m.isSkipped(l.consumer) {
		return m.resolve(k + 1)
	}
	producer, consumer := m.bound(l.producer), m.bound(l.consumer)
	switch {
	case producer != nil && consumer != nil:
		peer, connected := consumer.InputPeer(l.Input)
		if !connected || peer != (ir.Endpoint{Node: producer.ID(), Index: l.Output}) {
			return nil, nil
		}
		return m.resolve(k + 1)
	case producer != nil:
		return m.resolveConsumer(k, l, producer)
	case consumer != nil:
		return m.resolveProducer(k, l, consumer)
	default:
		// Only reachable through a role that was left unbound.
		return m.resolve(k + 1)
	}
}

// resolveConsumer tries every consumer of the producer's output, in connection order, as the link's
// consumer role. This is what pairs several downstream nodes with several roles: the first assignment
// for which all the remaining links resolve wins.
func (m *matcher[R]) resolveConsumer(k int, l link, producer *ir.Node) (*Match[R], error) {
	saved := m.state
	for _, ep := range producer.OutputPeers(l.Output) {
		if ep.Index != l.Input {
			continue
		}
		candidate, live := m.g.Node(ep.Node)
		if !live {
			continue
		}
		ok, err := validateRole(m.g, m.c, &m.state.roles, l.consumer, candidate)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		m.bind(l.consumer, candidate)
		match, err := m.resolve(k + 1)
		if err != nil || match != nil {
			return match, err
		}
		m.state = saved
	}
	return m.tryUnbound(k, l.consumer, saved)
}

// resolveProducer follows the consumer's input to its producer.
func (m *matcher[R]) resolveProducer(k int, l link, consumer *ir.Node) (*Match[R], error) {
	saved := m.state
	peer, connected := consumer.InputPeer(l.Input)
	if connected && peer.Index == l.Output {
		candidate, _ := m.g.Node(peer.Node)
		ok, err := validateRole(m.g, m.c, &m.state.roles, l.producer, candidate)
		if err != nil {
			return nil, err
		}
		if ok {
			m.bind(l.producer, candidate)
			match, err := m.resolve(k + 1)
			if err != nil || match != nil {
				return match, err
			}
			m.state = saved
		}
	}
	return m.tryUnbound(k, l.producer, saved)
}

// tryUnbound continues the search with role idx left unbound, if it is optional.
func (m *matcher[R]) tryUnbound(k int, idx int, saved matchState[R]) (*Match[R], error) {
	if !m.c.Roles[idx].Optional {
		return nil, nil
	}
	m.skip(idx)
	match, err := m.resolve(k + 1)
	if match == nil {
		m.state = saved
	}
	return match, err
}

// finish checks the constraints that involve the whole match, and builds the Match if they hold.
func (m *matcher[R]) finish() *Match[R] {
	c := m.c
	r := &m.state.roles
	match := &Match[R]{}
	all := sets.Make[ir.NodeID]()
	removable := sets.Make[ir.NodeID]()
	for ii, role := range c.Roles {
		node := c.boundNode(r, ii)
		if node == nil {
			if !role.Optional {
				return nil
			}
			continue
		}
		all.Insert(node.ID())
		if role.Shared {
			match.shared = append(match.shared, node)
		} else {
			removable.Insert(node.ID())
			match.removable = append(match.removable, node)
		}
	}
	if c.Complete != nil && !c.Complete(r) {
		return nil
	}

	for _, tie := range c.ties {
		var first *ir.Endpoint
		for _, p := range tie {
			node := c.boundNode(r, p.role)
			if node == nil {
				continue
			}
			peer, connected := node.InputPeer(p.input)
			if !connected {
				return nil
			}
			if first == nil {
				first = &peer
			} else if *first != peer {
				return nil
			}
		}
	}

	// Fused inputs must come from outside the nodes being removed.
	match.inputs = make([]ir.Endpoint, len(c.inputs))
	for jj, ports := range c.inputs {
		found := false
		for _, p := range ports {
			node := c.boundNode(r, p.role)
			if node == nil {
				continue
			}
			peer, connected := node.InputPeer(p.input)
			if !connected || removable.Has(peer.Node) {
				return nil
			}
			match.inputs[jj] = peer
			found = true
			break
		}
		if !found {
			return nil
		}
	}

	match.terminals = make([]*terminal, len(c.outputs))
	terminals := sets.Make[ir.Endpoint]()
	for ii, sources := range c.outputs {
		for _, src := range sources {
			node := c.boundNode(r, src.role)
			if node == nil {
				continue
			}
			if src.output >= node.NumOutputs() {
				return nil
			}
			match.terminals[ii] = &terminal{node: node, output: src.output}
			terminals.Insert(match.terminals[ii].endpoint())
			break
		}
	}

	// Closure: the removed nodes may only talk to the outside through the declared fused
	// inputs and terminal outputs, otherwise the rewrite would change the graph semantics.
	for _, node := range match.removable {
		for oo := range node.NumOutputs() {
			isTerminal := terminals.Has(ir.Endpoint{Node: node.ID(), Index: oo})
			for _, consumer := range node.OutputPeers(oo) {
				if isTerminal {
					if all.Has(consumer.Node) {
						return nil
					}
				} else if !removable.Has(consumer.Node) {
					return nil
				}
			}
		}
		for ii := range node.NumInputs() {
			peer, connected := node.InputPeer(ii)
			if !connected || all.Has(peer.Node) {
				continue
			}
			if !slices.Contains(match.inputs, peer) {
				return nil
			}
		}
	}
	match.Roles = *r
	return match
}
