// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"github.com/gomlx/fusion/pkg/core/ir"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Manager runs the registered passes of a category over graphs of one compilation session.
type Manager struct {
	session *Session
	filter  Filter
	kernels KernelInfoStore
}

// NewManager returns a manager running the passes allowed by filter. If session is nil, a new one is created.
func NewManager(session *Session, filter Filter) *Manager {
	if session == nil {
		session = NewSession()
	}
	return &Manager{session: session, filter: filter}
}

// WithKernels sets the KernelInfoStore consulted by the passes. It returns the manager itself.
func (m *Manager) WithKernels(kernels KernelInfoStore) *Manager {
	m.kernels = kernels
	return m
}

// Session used by the manager.
func (m *Manager) Session() *Session { return m.session }

// Passes returns the names of the passes of category that the filter allows, in the order they run.
func (m *Manager) Passes(category Category) []string {
	var names []string
	for _, name := range Registered(category) {
		if m.filter.Allows(name) {
			names = append(names, name)
		}
	}
	return names
}

// Run the passes of category on g, in registration order.
//
// It stops at the first pass that fails. Otherwise, it returns StatusSuccess if any pass changed the graph,
// and StatusNotChanged if none did.
func (m *Manager) Run(g *ir.Graph, category Category) (Status, error) {
	if g == nil {
		return StatusParamInvalid, paramInvalidf("fusion.Manager.Run: nil graph")
	}
	status := StatusNotChanged
	for _, name := range m.Passes(category) {
		pass, err := NewPass(name, m.session)
		if err != nil {
			return StatusOf(err), err
		}
		var passStatus Status
		if m.kernels != nil {
			passStatus, err = pass.RunWithKernels(g, m.kernels)
		} else {
			passStatus, err = pass.Run(g)
		}
		if err != nil {
			return passStatus, errors.WithMessagef(err, "fusion pass %s on graph %q", name, g.Name())
		}
		if !passStatus.Ok() {
			return passStatus, internalf("fusion pass %s on graph %q returned status %s without an error", name, g.Name(), passStatus)
		}
		if passStatus == StatusSuccess {
			status = StatusSuccess
		}
	}
	klog.V(1).Infof("fusion passes %s on graph %q: %s", category, g.Name(), status)
	return status, nil
}
