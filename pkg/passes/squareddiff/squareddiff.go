// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package squareddiff fuses Square(Sub(a, b)), or Mul(Sub(a, b), Sub(a, b)), into SquaredDifference(a, b).
//
// Import it for its side effect of registering the pass in the second round of built-in passes:
//
//	import _ "github.com/gomlx/fusion/pkg/passes/squareddiff"
package squareddiff

import (
	"github.com/gomlx/fusion/pkg/core/ir"
	"github.com/gomlx/fusion/pkg/fusion"
	"github.com/gomlx/fusion/pkg/support/sets"
	"github.com/pkg/errors"
)

// PassName is the name under which the pass is registered.
const PassName = "SquaredDifferenceFusionPass"

// SquaredDifference is the type of the fused node.
const SquaredDifference = "SquaredDifference"

// Roles of a match: the subtraction, and either the Square or the Mul consuming it.
type Roles struct {
	Sub, Square, Mul *ir.Node
}

// Pattern returns the pattern matched by the pass.
func Pattern() *fusion.Pattern[Roles] {
	return &fusion.Pattern[Roles]{
		Name: PassName,
		Root: "sub",
		Roles: []fusion.Role[Roles]{
			{Name: "sub", OpTypes: sets.MakeWith("Sub"), NumInputs: 2, NumOutputs: 1,
				Slot: func(r *Roles) **ir.Node { return &r.Sub }},
			{Name: "square", OpTypes: sets.MakeWith("Square"), NumInputs: 1, NumOutputs: 1, Optional: true,
				Slot: func(r *Roles) **ir.Node { return &r.Square }},
			{Name: "mul", OpTypes: sets.MakeWith("Mul"), NumInputs: 2, NumOutputs: 1, Optional: true,
				Slot: func(r *Roles) **ir.Node { return &r.Mul }},
		},
		Links: []fusion.Link{
			{Producer: "sub", Output: 0, Consumer: "square", Input: 0},
			{Producer: "sub", Output: 0, Consumer: "mul", Input: 0},
			{Producer: "sub", Output: 0, Consumer: "mul", Input: 1},
		},
		Inputs: [][]fusion.Port{{{Role: "sub", Input: 0}}, {{Role: "sub", Input: 1}}},
		Outputs: []fusion.OutputSpec{
			{Sources: []fusion.OutPort{{Role: "square"}, {Role: "mul"}}},
		},
		Complete: func(r *Roles) bool {
			return (r.Square != nil) != (r.Mul != nil)
		},
		FusedType: func(*Roles) (string, error) { return SquaredDifference, nil },
		Synthesize: func(ctx *fusion.SynthContext, r *Roles) (*ir.OpDesc, error) {
			if r.Sub == nil || !ctx.Present[0] {
				return nil, errors.Wrapf(fusion.ErrInternal, "synthesizing %q: incomplete match", ctx.Name)
			}
			desc := ir.NewOpDesc(ctx.Name, ctx.FusedType)
			for _, input := range ctx.Inputs {
				desc.AddInput(input.Clone())
			}
			desc.AddOutput(ctx.Outputs[0].Clone())
			if !desc.CopyAttr(r.Sub.Desc(), "T") {
				desc.SetDType("T", ctx.Inputs[0].Shape.DType)
			}
			return desc, nil
		},
	}
}

// New returns the pass bound to session.
func New(session *fusion.Session) *fusion.PatternPass[Roles] {
	return fusion.NewPatternPass(session, Pattern())
}

func init() {
	fusion.Register(PassName, fusion.SecondRoundBuiltIn, func(session *fusion.Session) fusion.Pass {
		return New(session)
	})
}
