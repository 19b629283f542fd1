// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"github.com/gomlx/fusion/pkg/core/ir"
	"k8s.io/klog/v2"
)

// validateRole checks whether node can play role idx given the roles already bound in r.
//
// It never mutates the graph. It rejects (false, nil) any mismatch, and returns an error only if the
// node's anchors are inconsistent with the graph, which indicates a malformed graph.
// The cheap structural checks run first, the pattern's semantic Check last.
func validateRole[R any](g *ir.Graph, c *Compiled[R], r *R, idx int, node *ir.Node) (bool, error) {
	role := &c.Roles[idx]
	if node == nil || !node.Live() || !g.Live(node.ID()) {
		return false, nil
	}
	if len(role.OpTypes) > 0 && !role.OpTypes.Has(node.Type()) {
		return false, nil
	}
	if role.NumInputs != AnyArity && node.NumInputs() != role.NumInputs {
		traceReject(c, role.Name, node, "wrong number of inputs")
		return false, nil
	}
	if role.NumOutputs != AnyArity && node.NumOutputs() != role.NumOutputs {
		traceReject(c, role.Name, node, "wrong number of outputs")
		return false, nil
	}
	if bound := *role.Slot(r); bound != nil && bound.ID() != node.ID() {
		// A role never rebinds within one attempt.
		return false, nil
	}
	if other := roleOf(c, r, node); other >= 0 && other != idx {
		traceReject(c, role.Name, node, "already bound to role "+c.Roles[other].Name)
		return false, nil
	}
	for ii := range node.NumInputs() {
		peer, connected := node.InputPeer(ii)
		if !connected {
			continue
		}
		if !g.Live(peer.Node) {
			return false, paramInvalidf("pattern %q: input #%d of node %q points to a node no longer in the graph (%s)",
				c.Name, ii, node.Name(), peer.Node)
		}
	}
	if role.Check != nil {
		ok, err := role.Check(g, node, r)
		if err != nil {
			return false, err
		}
		if !ok {
			traceReject(c, role.Name, node, "rejected by check")
			return false, nil
		}
	}
	return true, nil
}

// roleOf returns the index of the role node is bound to, or -1.
// Equality is by node identity.
func roleOf[R any](c *Compiled[R], r *R, node *ir.Node) int {
	for ii := range c.Roles {
		if bound := c.boundNode(r, ii); bound != nil && bound.ID() == node.ID() {
			return ii
		}
	}
	return -1
}

func traceReject[R any](c *Compiled[R], roleName string, node *ir.Node, reason string) {
	if klog.V(3).Enabled() {
		klog.Infof("pattern %q: node %q rejected for role %q: %s", c.Name, node.Name(), roleName, reason)
	}
}
