// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/fusion/pkg/core/ir"
	"k8s.io/klog/v2"
)

// Pass is a graph rewrite run by the Manager.
type Pass interface {
	// Name of the pass, as registered.
	Name() string

	// Run the pass on g. The error, if any, is classified as given by StatusOf.
	Run(g *ir.Graph) (Status, error)

	// RunWithKernels is like Run, but leaves unchanged the matches whose fused type has no kernel.
	RunWithKernels(g *ir.Graph, kernels KernelInfoStore) (Status, error)
}

// PatternPass is a Pass that rewrites every occurrence of one Pattern.
type PatternPass[R any] struct {
	session *Session
	pattern *Compiled[R]
}

var _ Pass = (*PatternPass[struct{}])(nil)

// NewPatternPass compiles the pattern and returns a pass using the session's name allocator and statistics.
// If session is nil, a new one is created.
//
// It panics if the pattern is invalid: patterns are static, so this is a bug in the pass.
func NewPatternPass[R any](session *Session, pattern *Pattern[R]) *PatternPass[R] {
	c, err := Compile(pattern)
	if err != nil {
		exceptions.Panicf("NewPatternPass: %+v", err)
	}
	if session == nil {
		session = NewSession()
	}
	return &PatternPass[R]{session: session, pattern: c}
}

// Name implements Pass.
func (p *PatternPass[R]) Name() string { return p.pattern.Name }

// Session used by the pass.
func (p *PatternPass[R]) Session() *Session { return p.session }

// Pattern returns the compiled pattern.
func (p *PatternPass[R]) Pattern() *Compiled[R] { return p.pattern }

// Run implements Pass.
func (p *PatternPass[R]) Run(g *ir.Graph) (Status, error) {
	result, err := p.Apply(g, nil)
	return result.Status, err
}

// RunWithKernels implements Pass.
func (p *PatternPass[R]) RunWithKernels(g *ir.Graph, kernels KernelInfoStore) (Status, error) {
	result, err := p.Apply(g, kernels)
	return result.Status, err
}

// Apply runs the pass and returns the detailed Result. kernels may be nil.
func (p *PatternPass[R]) Apply(g *ir.Graph, kernels KernelInfoStore) (Result, error) {
	result, err := Run(g, p.pattern, Env{Names: p.session.Names, Kernels: kernels})
	if g != nil && p.session.Stats != nil {
		p.session.Stats.Record(StatsKey{SessionID: p.session.ID, GraphID: g.ID(), Pass: p.Name()},
			result.Matches, result.Effects)
	}
	if err != nil {
		klog.Errorf("pass %s aborted with status %s: %+v", p.Name(), result.Status, err)
		return result, err
	}
	klog.V(1).Infof("pass %s: status %s, %d matches, %d rewritten", p.Name(), result.Status, result.Matches, result.Effects)
	return result, nil
}
