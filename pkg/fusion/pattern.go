// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"github.com/gomlx/fusion/pkg/core/ir"
	"github.com/gomlx/fusion/pkg/support/sets"
	"github.com/pkg/errors"
)

// AnyArity disables the input or output arity check of a Role.
const AnyArity = -1

// Role is a named position of a Pattern that a concrete node is matched against.
//
// R is the pattern specific role recorder: a struct with one *ir.Node field per role.
// Slot returns the address of the field of this role, so bindings are type-checked by the compiler
// rather than looked up by name.
type Role[R any] struct {
	Name string

	// OpTypes accepted for this role. Empty means any type.
	OpTypes sets.Set[string]

	// NumInputs and NumOutputs are the required number of data anchors, or AnyArity.
	NumInputs, NumOutputs int

	// Slot returns the binding of this role in the recorder.
	Slot func(r *R) **ir.Node

	// Optional roles may be left unbound.
	Optional bool

	// Shared roles may have consumers outside the match (e.g. a constant feeding other nodes).
	// They are not removed with the match, but reclaimed if no consumer is left after the rewrite.
	Shared bool

	// Check is a pattern specific predicate, run only after all the structural checks of the role passed.
	// It must not mutate the graph. It should return an error only for a malformed graph.
	Check func(g *ir.Graph, node *ir.Node, r *R) (bool, error)
}

// Link is an adjacency constraint: output Output of the Producer role feeds input Input of the Consumer role.
type Link struct {
	Producer string
	Output   int
	Consumer string
	Input    int
}

// Port is an input anchor of a role.
type Port struct {
	Role  string
	Input int
}

// OutPort is an output anchor of a role.
type OutPort struct {
	Role   string
	Output int
}

// Tie is a group of ports that, for the roles that are bound, must be fed by the very same producer anchor.
type Tie []Port

// OutputSpec declares one output of the fused node.
type OutputSpec struct {
	// Sources in order of preference: the first one whose role is bound is the terminal
	// anchor, whose consumers are moved to this output of the fused node.
	Sources []OutPort

	// PresentAttr, if not empty, is the boolean attribute of the fused node that tells whether
	// this output is wired. It's false unless a source is bound.
	PresentAttr string
}

// SynthContext holds what the engine derived from a match for the pattern's Synthesize function.
type SynthContext struct {
	Graph *ir.Graph

	// Name allocated for the fused node.
	Name string

	// FusedType is the operator type returned by Pattern.FusedType.
	FusedType string

	// Inputs are the descriptors of the producers feeding each fused input.
	Inputs []ir.TensorDesc

	// Outputs are the descriptors of the terminal anchor of each fused output, if Present.
	Outputs []ir.TensorDesc
	Present []bool
}

// Pattern describes a subgraph to be replaced by a single fused node.
type Pattern[R any] struct {
	// Name of the pattern, used in logs.
	Name string

	// Root is the role bound to the seed node. Seeds are the nodes accepted by the root OpTypes.
	Root string

	Roles []Role[R]

	// Links are resolved in order, starting from the root. Each link must have one of its roles
	// already reachable from the root by the previous links.
	Links []Link

	Ties []Tie

	// Inputs of the fused node: for each one, the ports (in order of preference) whose producer feeds it.
	Inputs [][]Port

	// Outputs of the fused node.
	Outputs []OutputSpec

	// Complete, if set, is checked once all links are resolved.
	Complete func(r *R) bool

	// FusedType maps the bound roles to the type of the fused node. It must be total over the root types.
	FusedType func(r *R) (string, error)

	// NameFrom is the role whose name scope is inherited by the fused node. Defaults to Root.
	NameFrom string

	// Synthesize builds the descriptor of the fused node.
	Synthesize func(ctx *SynthContext, r *R) (*ir.OpDesc, error)
}

// link is a Link with the role names resolved to indices.
type link struct {
	Link
	producer, consumer int
}

type port struct {
	role, input int
}

type outPort struct {
	role, output int
}

// Compiled is a validated Pattern, ready to be matched.
type Compiled[R any] struct {
	*Pattern[R]

	root, nameFrom int
	links          []link
	ties           [][]port
	inputs         [][]port
	outputs        [][]outPort
}

// Compile validates the pattern descriptor.
//
// Errors here are pattern-authoring bugs.
func Compile[R any](p *Pattern[R]) (*Compiled[R], error) {
	if p == nil {
		return nil, errors.New("fusion.Compile: nil pattern")
	}
	if len(p.Roles) > 64 {
		return nil, errors.Errorf("pattern %q: at most 64 roles are supported, got %d", p.Name, len(p.Roles))
	}
	c := &Compiled[R]{Pattern: p}
	index := make(map[string]int, len(p.Roles))
	for ii, role := range p.Roles {
		if role.Name == "" {
			return nil, errors.Errorf("pattern %q: role #%d has no name", p.Name, ii)
		}
		if _, found := index[role.Name]; found {
			return nil, errors.Errorf("pattern %q: duplicate role %q", p.Name, role.Name)
		}
		if role.Slot == nil {
			return nil, errors.Errorf("pattern %q: role %q has no Slot", p.Name, role.Name)
		}
		index[role.Name] = ii
	}
	roleIdx := func(name string) (int, error) {
		idx, found := index[name]
		if !found {
			return 0, errors.Errorf("pattern %q: unknown role %q", p.Name, name)
		}
		return idx, nil
	}
	var err error
	if c.root, err = roleIdx(p.Root); err != nil {
		return nil, err
	}
	rootRole := p.Roles[c.root]
	if rootRole.Optional || rootRole.Shared || len(rootRole.OpTypes) == 0 {
		return nil, errors.Errorf("pattern %q: root role %q must be required, not shared, and list its op types", p.Name, p.Root)
	}
	c.nameFrom = c.root
	if p.NameFrom != "" {
		if c.nameFrom, err = roleIdx(p.NameFrom); err != nil {
			return nil, err
		}
	}
	if p.FusedType == nil || p.Synthesize == nil {
		return nil, errors.Errorf("pattern %q: FusedType and Synthesize must be set", p.Name)
	}

	// Links must be resolvable in order from the root.
	reachable := sets.MakeWith(c.root)
	for _, l := range p.Links {
		resolved := link{Link: l}
		if resolved.producer, err = roleIdx(l.Producer); err != nil {
			return nil, err
		}
		if resolved.consumer, err = roleIdx(l.Consumer); err != nil {
			return nil, err
		}
		if resolved.producer == resolved.consumer {
			return nil, errors.Errorf("pattern %q: link %q -> %q is a self-loop", p.Name, l.Producer, l.Consumer)
		}
		if l.Output < 0 || l.Input < 0 {
			return nil, errors.Errorf("pattern %q: link %q -> %q has a negative anchor index", p.Name, l.Producer, l.Consumer)
		}
		if !reachable.Has(resolved.producer) && !reachable.Has(resolved.consumer) {
			return nil, errors.Errorf("pattern %q: link %q -> %q is not reachable from the root %q by the previous links",
				p.Name, l.Producer, l.Consumer, p.Root)
		}
		reachable.Insert(resolved.producer, resolved.consumer)
		c.links = append(c.links, resolved)
	}
	for ii, role := range p.Roles {
		if !reachable.Has(ii) {
			return nil, errors.Errorf("pattern %q: role %q is not reachable from the root", p.Name, role.Name)
		}
	}

	resolvePorts := func(ports []Port) ([]port, error) {
		resolved := make([]port, 0, len(ports))
		for _, pp := range ports {
			idx, err := roleIdx(pp.Role)
			if err != nil {
				return nil, err
			}
			resolved = append(resolved, port{role: idx, input: pp.Input})
		}
		return resolved, nil
	}
	for _, tie := range p.Ties {
		resolved, err := resolvePorts(tie)
		if err != nil {
			return nil, err
		}
		c.ties = append(c.ties, resolved)
	}
	for ii, ports := range p.Inputs {
		if len(ports) == 0 {
			return nil, errors.Errorf("pattern %q: fused input #%d has no source port", p.Name, ii)
		}
		resolved, err := resolvePorts(ports)
		if err != nil {
			return nil, err
		}
		c.inputs = append(c.inputs, resolved)
	}
	for ii, spec := range p.Outputs {
		if len(spec.Sources) == 0 {
			return nil, errors.Errorf("pattern %q: fused output #%d has no source", p.Name, ii)
		}
		var resolved []outPort
		for _, src := range spec.Sources {
			idx, err := roleIdx(src.Role)
			if err != nil {
				return nil, err
			}
			if p.Roles[idx].Shared {
				return nil, errors.Errorf("pattern %q: fused output #%d can't be sourced from shared role %q", p.Name, ii, src.Role)
			}
			resolved = append(resolved, outPort{role: idx, output: src.Output})
		}
		c.outputs = append(c.outputs, resolved)
	}
	return c, nil
}

// RootTypes returns the op types of the seed nodes.
func (c *Compiled[R]) RootTypes() sets.Set[string] {
	return c.Roles[c.root].OpTypes
}

// boundNode returns the node bound to role idx in r, or nil.
func (c *Compiled[R]) boundNode(r *R, idx int) *ir.Node {
	return *c.Roles[idx].Slot(r)
}
