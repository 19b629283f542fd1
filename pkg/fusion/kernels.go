// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import "github.com/gomlx/fusion/pkg/support/sets"

// KernelInfoStore tells whether the target has a kernel for an op type.
//
// Passes consult it before rewriting: a match whose fused type is not supported is left as is.
type KernelInfoStore interface {
	Supports(opType string) bool
}

// KernelSet is a KernelInfoStore backed by a set of op types.
type KernelSet struct {
	types sets.Set[string]
}

var _ KernelInfoStore = (*KernelSet)(nil)

// NewKernelSet returns a KernelSet supporting the given op types.
func NewKernelSet(opTypes ...string) *KernelSet {
	return &KernelSet{types: sets.MakeWith(opTypes...)}
}

// Supports implements KernelInfoStore.
func (k *KernelSet) Supports(opType string) bool {
	return k.types.Has(opType)
}

// OpTypes returns the supported op types, sorted.
func (k *KernelSet) OpTypes() []string {
	return sets.Sorted(k.types)
}
