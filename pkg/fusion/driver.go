// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/fusion/pkg/core/ir"
	"k8s.io/klog/v2"
)

// Env is what a pattern needs from the surrounding compilation to run on a graph.
type Env struct {
	// Names allocates the names of the fused nodes. Required.
	Names *NameAllocator

	// Kernels, if not nil, is consulted before every rewrite.
	Kernels KernelInfoStore
}

// Result of running a pattern over a graph.
type Result struct {
	Status Status

	// Matches is the number of subgraphs that matched the pattern.
	Matches int

	// Effects is the number of matches rewritten.
	Effects int
}

// Run finds every occurrence of the compiled pattern in g and replaces each one with a fused node.
//
// Seeds are the nodes whose type is accepted by the root role, snapshot when Run starts: seeds removed
// by a previous rewrite are skipped, and fused nodes created by this run are never seeds.
// Each match is rewritten completely, or not at all.
//
// A non-nil error aborts the run, and its status is given by StatusOf. The graph may have been
// rewritten for the matches before the failure.
func Run[R any](g *ir.Graph, c *Compiled[R], env Env) (Result, error) {
	if g == nil {
		return Result{Status: StatusParamInvalid}, paramInvalidf("fusion.Run: nil graph")
	}
	if c == nil {
		return Result{Status: StatusParamInvalid}, paramInvalidf("fusion.Run: nil pattern")
	}
	if env.Names == nil {
		return Result{Status: StatusParamInvalid}, paramInvalidf("fusion.Run(%q): no NameAllocator", c.Name)
	}
	var seeds []ir.NodeID
	rootTypes := c.RootTypes()
	for _, node := range g.Nodes() {
		if rootTypes.Has(node.Type()) {
			seeds = append(seeds, node.ID())
		}
	}

	var result Result
	for _, seed := range seeds {
		if !g.Live(seed) {
			continue
		}
		matched, rewritten, err := runSeed(g, c, env, seed)
		if matched {
			result.Matches++
		}
		if rewritten {
			result.Effects++
		}
		if err != nil {
			result.Status = StatusOf(err)
			return result, err
		}
	}
	result.Status = StatusNotChanged
	if result.Effects > 0 {
		result.Status = StatusSuccess
	}
	return result, nil
}

// runSeed matches and rewrites the pattern at one seed. Panics of the pattern callbacks are
// reported as ErrInternal.
func runSeed[R any](g *ir.Graph, c *Compiled[R], env Env, seed ir.NodeID) (matched, rewritten bool, err error) {
	exception := exceptions.Try(func() {
		matched, rewritten, err = matchAndRewrite(g, c, env, seed)
	})
	if exception != nil {
		if excErr, ok := exception.(error); ok {
			err = asInternal(excErr, "pattern %q panicked at seed %s", c.Name, seed)
		} else {
			err = internalf("pattern %q panicked at seed %s: %v", c.Name, seed, exception)
		}
	}
	return
}

func matchAndRewrite[R any](g *ir.Graph, c *Compiled[R], env Env, seed ir.NodeID) (matched, rewritten bool, err error) {
	match, err := MatchAt(g, c, seed)
	if err != nil {
		return false, false, err
	}
	if match == nil {
		if klog.V(2).Enabled() {
			if node, live := g.Node(seed); live {
				klog.Infof("pattern %q: no match at %q", c.Name, node.Name())
			}
		}
		return false, false, nil
	}

	r := &match.Roles
	fusedType, err := c.FusedType(r)
	if err != nil {
		return true, false, asInternal(err, "pattern %q: fused type", c.Name)
	}
	if env.Kernels != nil && !env.Kernels.Supports(fusedType) {
		klog.V(2).Infof("pattern %q: no kernel for %q, match left as is", c.Name, fusedType)
		return true, false, nil
	}

	ctx := &SynthContext{
		Graph:     g,
		Name:      env.Names.Allocate(g, scopeOf(c.boundNode(r, c.nameFrom).Name())+fusedType),
		FusedType: fusedType,
		Inputs:    make([]ir.TensorDesc, len(match.inputs)),
		Outputs:   make([]ir.TensorDesc, len(match.terminals)),
		Present:   make([]bool, len(match.terminals)),
	}
	for jj, src := range match.inputs {
		producer, live := g.Node(src.Node)
		if !live {
			return true, false, internalf("pattern %q: producer of fused input #%d is gone", c.Name, jj)
		}
		ctx.Inputs[jj], _ = producer.OutputDesc(src.Index)
	}
	for ii, t := range match.terminals {
		if t == nil {
			continue
		}
		ctx.Outputs[ii], _ = t.node.OutputDesc(t.output)
		ctx.Present[ii] = true
	}
	desc, err := c.Synthesize(ctx, r)
	if err != nil {
		return true, false, asInternal(err, "pattern %q: synthesizing %q", c.Name, ctx.Name)
	}
	presentAttrs := make([]string, len(c.Outputs))
	if desc != nil {
		for ii, spec := range c.Outputs {
			presentAttrs[ii] = spec.PresentAttr
			if spec.PresentAttr != "" {
				desc.SetBool(spec.PresentAttr, false)
			}
		}
	}

	plan, err := planRewrite(g, c, match, desc)
	if err != nil {
		return true, false, err
	}
	fused, err := plan.apply(g, presentAttrs)
	if err != nil {
		return true, false, err
	}
	numRemoved, err := plan.removeMatched(g)
	if err != nil {
		return true, false, err
	}
	if klog.V(1).Enabled() {
		klog.Infof("pattern %q: fused %d nodes into %q (%s)", c.Name, numRemoved, fused.Name(), fused.Type())
	}
	return true, true, nil
}
