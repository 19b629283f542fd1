// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package extremumgrad implements the fusion of the gradient of Maximum and Minimum.
//
// The gradient of z = Maximum(x, y) is usually expressed as:
//
//	cond := GreaterEqual(x, y)
//	dx := Select(cond, dz, zeros)  // optionally followed by a ReduceSum, if x was broadcast.
//	dy := Select(cond, zeros, dz)  // idem.
//
// This pass replaces it with a single MaximumGrad(dz, x, y) node with two outputs (dx, dy), and
// likewise LessEqual with MinimumGrad. Only one of the branches needs to be present: the
// attributes "grad_x" and "grad_y" tell which outputs of the fused node are used.
//
// To use it, import the package for its side effect of registering the pass:
//
//	import _ "github.com/gomlx/fusion/pkg/passes/extremumgrad"
package extremumgrad

import (
	"strings"

	"github.com/gomlx/fusion/pkg/core/ir"
	"github.com/gomlx/fusion/pkg/fusion"
	"github.com/gomlx/fusion/pkg/support/sets"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// PassName is the name under which the pass is registered.
const PassName = "ExtremumGradFusionPass"

// Op types matched and generated by the pass.
const (
	GreaterEqual = "GreaterEqual"
	LessEqual    = "LessEqual"
	Select       = "Select"
	MaximumGrad  = "MaximumGrad"
	MinimumGrad  = "MinimumGrad"
)

// Attributes of the fused node.
const (
	AttrGradX = "grad_x"
	AttrGradY = "grad_y"
	AttrT     = "T"
)

var (
	comparatorTypes = sets.MakeWith(GreaterEqual, LessEqual)
	zerosTypes      = sets.MakeWith("ZerosLike", "Fill", "Const")
	reduceTypes     = sets.MakeWith("ReduceSumD", "ReduceSum")
)

// Roles is the role recorder of the pattern: the nodes bound to each role of a match.
type Roles struct {
	// Comparator is the GreaterEqual or LessEqual node, always bound.
	Comparator *ir.Node

	// SelectX is Select(cond, dz, zeros) and SelectY is Select(cond, zeros, dz). At least one is bound.
	SelectX, SelectY *ir.Node

	// Zeros is the constant zero shared by the selects. It's kept if it has other consumers.
	Zeros *ir.Node

	// ReduceX and ReduceY are the optional reductions of the selects outputs.
	ReduceX, ReduceY *ir.Node
}

// ScopePredicate tells whether a comparator node is part of a Maximum/Minimum gradient.
type ScopePredicate func(comparator *ir.Node) bool

// NameScope is the default ScopePredicate: it accepts a comparator whose name scope (the segment
// before the last "/") starts with "Maximum_grad" for GreaterEqual, or "Minimum_grad" for LessEqual.
//
// E.g.: "model/layer_0/Maximum_grad/GreaterEqual" is accepted.
func NameScope(comparator *ir.Node) bool {
	parts := strings.Split(comparator.Name(), "/")
	if len(parts) < 2 {
		return false
	}
	scope := parts[len(parts)-2]
	switch comparator.Type() {
	case GreaterEqual:
		return strings.HasPrefix(scope, "Maximum_grad")
	case LessEqual:
		return strings.HasPrefix(scope, "Minimum_grad")
	}
	return false
}

// StructuralScope is a ScopePredicate that accepts any comparator: the match relies only on the
// structure of the graph. Use it for graphs whose names don't follow the gradient scope convention.
func StructuralScope(*ir.Node) bool { return true }

type config struct {
	scope ScopePredicate
}

// Option configures the pass.
type Option func(c *config)

// WithScopePredicate replaces the NameScope predicate used to accept comparators.
func WithScopePredicate(pred ScopePredicate) Option {
	return func(c *config) {
		c.scope = pred
	}
}

// Pattern returns the pattern matched by the pass.
func Pattern(options ...Option) *fusion.Pattern[Roles] {
	cfg := &config{scope: NameScope}
	for _, opt := range options {
		opt(cfg)
	}
	scope := cfg.scope
	return &fusion.Pattern[Roles]{
		Name: PassName,
		Root: "comparator",
		Roles: []fusion.Role[Roles]{
			{
				Name: "comparator", OpTypes: comparatorTypes, NumInputs: 2, NumOutputs: 1,
				Slot: func(r *Roles) **ir.Node { return &r.Comparator },
				Check: func(_ *ir.Graph, node *ir.Node, _ *Roles) (bool, error) {
					return scope != nil && scope(node), nil
				},
			},
			{
				Name: "selectX", OpTypes: sets.MakeWith(Select), NumInputs: 3, NumOutputs: 1, Optional: true,
				Slot: func(r *Roles) **ir.Node { return &r.SelectX },
			},
			{
				Name: "selectY", OpTypes: sets.MakeWith(Select), NumInputs: 3, NumOutputs: 1, Optional: true,
				Slot: func(r *Roles) **ir.Node { return &r.SelectY },
			},
			{
				Name: "zeros", OpTypes: zerosTypes, NumInputs: fusion.AnyArity, NumOutputs: 1, Shared: true,
				Slot:  func(r *Roles) **ir.Node { return &r.Zeros },
				Check: isZeros,
			},
			{
				Name: "reduceX", OpTypes: reduceTypes, NumInputs: 1, NumOutputs: 1, Optional: true,
				Slot:  func(r *Roles) **ir.Node { return &r.ReduceX },
				Check: isSupportedReduce,
			},
			{
				Name: "reduceY", OpTypes: reduceTypes, NumInputs: 1, NumOutputs: 1, Optional: true,
				Slot:  func(r *Roles) **ir.Node { return &r.ReduceY },
				Check: isSupportedReduce,
			},
		},
		Links: []fusion.Link{
			{Producer: "comparator", Output: 0, Consumer: "selectX", Input: 0},
			{Producer: "comparator", Output: 0, Consumer: "selectY", Input: 0},
			{Producer: "zeros", Output: 0, Consumer: "selectX", Input: 2},
			{Producer: "zeros", Output: 0, Consumer: "selectY", Input: 1},
			{Producer: "selectX", Output: 0, Consumer: "reduceX", Input: 0},
			{Producer: "selectY", Output: 0, Consumer: "reduceY", Input: 0},
		},
		Ties: []fusion.Tie{{{Role: "selectX", Input: 1}, {Role: "selectY", Input: 2}}},
		Inputs: [][]fusion.Port{
			{{Role: "selectX", Input: 1}, {Role: "selectY", Input: 2}}, // grads
			{{Role: "comparator", Input: 0}},                          // x1
			{{Role: "comparator", Input: 1}},                          // x2
		},
		Outputs: []fusion.OutputSpec{
			{Sources: []fusion.OutPort{{Role: "reduceX"}, {Role: "selectX"}}, PresentAttr: AttrGradX},
			{Sources: []fusion.OutPort{{Role: "reduceY"}, {Role: "selectY"}}, PresentAttr: AttrGradY},
		},
		Complete: func(r *Roles) bool {
			return r.SelectX != nil || r.SelectY != nil
		},
		FusedType:  fusedType,
		Synthesize: synthesize,
	}
}

// isZeros accepts ZerosLike, or a Fill or Const whose "value" is 0.
func isZeros(_ *ir.Graph, node *ir.Node, _ *Roles) (bool, error) {
	if node.Type() == "ZerosLike" {
		return node.NumInputs() == 1, nil
	}
	value, found := node.Desc().GetFloat("value")
	return found && value == 0, nil
}

// isSupportedReduce rejects the Int32 reductions, which have no fused kernel.
func isSupportedReduce(_ *ir.Graph, node *ir.Node, _ *Roles) (bool, error) {
	desc, found := node.OutputDesc(0)
	if !found {
		return false, errors.Wrapf(fusion.ErrParamInvalid, "reduction %q has no output descriptor", node.Name())
	}
	return desc.Shape.DType != dtypes.Int32, nil
}

func fusedType(r *Roles) (string, error) {
	if r.Comparator == nil {
		return "", errors.Wrap(fusion.ErrInternal, "no comparator bound")
	}
	switch r.Comparator.Type() {
	case GreaterEqual:
		return MaximumGrad, nil
	case LessEqual:
		return MinimumGrad, nil
	}
	return "", errors.Wrapf(fusion.ErrInternal, "comparator %q has unexpected type %q", r.Comparator.Name(), r.Comparator.Type())
}

// synthesize builds MaximumGrad/MinimumGrad(grads, x1, x2) -> (y1, y2).
// An output not wired takes the descriptor of the corresponding input.
func synthesize(ctx *fusion.SynthContext, r *Roles) (*ir.OpDesc, error) {
	if r.Comparator == nil {
		return nil, errors.Wrapf(fusion.ErrInternal, "synthesizing %q: no comparator bound", ctx.Name)
	}
	if len(ctx.Inputs) != 3 || len(ctx.Outputs) != 2 {
		return nil, errors.Wrapf(fusion.ErrInternal, "synthesizing %q: got %d inputs and %d outputs, wanted 3 and 2",
			ctx.Name, len(ctx.Inputs), len(ctx.Outputs))
	}
	desc := ir.NewOpDesc(ctx.Name, ctx.FusedType)
	for _, input := range ctx.Inputs {
		desc.AddInput(input.Clone())
	}
	for ii, output := range ctx.Outputs {
		if !ctx.Present[ii] {
			output = ctx.Inputs[1+ii]
		}
		desc.AddOutput(output.Clone())
	}
	if !desc.CopyAttr(r.Comparator.Desc(), AttrT) {
		input, found := r.Comparator.InputDesc(0)
		if !found {
			return nil, errors.Wrapf(fusion.ErrInternal, "synthesizing %q: comparator %q has no %q attribute nor input descriptor",
				ctx.Name, r.Comparator.Name(), AttrT)
		}
		desc.SetDType(AttrT, input.Shape.DType)
	}
	return desc, nil
}

// New returns the pass bound to session.
func New(session *fusion.Session, options ...Option) *fusion.PatternPass[Roles] {
	return fusion.NewPatternPass(session, Pattern(options...))
}

func init() {
	fusion.Register(PassName, fusion.BuiltIn, func(session *fusion.Session) fusion.Pass {
		return New(session)
	})
}
