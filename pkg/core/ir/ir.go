// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ir implements the in-memory compute graph consumed and rewritten by the fusion passes.
//
// Nodes live in an arena owned by the Graph and are addressed by NodeID handles: an index into the
// arena plus a generation counter. Removing a node bumps the generation of its slot, so stale handles
// held by a caller (e.g. a seed list taken before a rewrite) simply resolve to "not live".
//
// Edges are not stored as entities: an edge is the peer relationship between an output anchor (which
// lists its consumers, in insertion order) and an input anchor (which holds at most one producer).
// Control edges are kept as separate ordered lists of NodeID on each side.
package ir

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInvalid is wrapped by every error returned for an invalid graph operation: stale handles,
// out-of-range anchor indices, fan-in on a data input, removal of a connected node, etc.
var ErrInvalid = errors.New("invalid graph operation")

// NodeID is a generation-checked handle to a node in a Graph.
//
// The zero value is never valid.
type NodeID struct {
	index      int32
	generation uint32
}

// Valid returns whether the handle was ever issued by a Graph. It doesn't mean the node is still live,
// see Graph.Live for that.
func (id NodeID) Valid() bool { return id.generation != 0 }

// String implements fmt.Stringer.
func (id NodeID) String() string {
	if !id.Valid() {
		return "#invalid"
	}
	return fmt.Sprintf("#%d.%d", id.index, id.generation)
}

// Endpoint names one data anchor: the node and the index of the input or output.
// Whether it's an input or output is given by the context where it is used.
type Endpoint struct {
	Node  NodeID
	Index int
}

// String implements fmt.Stringer.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Node, e.Index)
}

// noPeer is the value of an unconnected input anchor.
var noPeer = Endpoint{Index: -1}

// connected returns whether the endpoint refers to a node.
func (e Endpoint) connected() bool { return e.Node.Valid() }

// errorf returns a new error wrapping ErrInvalid.
func errorf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalid, format, args...)
}
