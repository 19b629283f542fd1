// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"fmt"
	"sync"

	"github.com/gomlx/fusion/pkg/core/ir"
)

// NameAllocator generates unique node names for one compilation unit.
//
// The counter is shared by every pass using the allocator, and only grows: names are never reused,
// even after the node that held them is removed. It is safe for concurrent use, but a graph must
// only be mutated by one pass at a time.
type NameAllocator struct {
	mu   sync.Mutex
	next uint64
}

// NewNameAllocator returns an allocator starting at 0.
func NewNameAllocator() *NameAllocator {
	return &NameAllocator{}
}

// Allocate returns "<base>_<n>" for the next n whose name is not yet used in g.
func (a *NameAllocator) Allocate(g *ir.Graph, base string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		name := fmt.Sprintf("%s_%d", base, a.next)
		a.next++
		if g == nil || !g.HasName(name) {
			return name
		}
	}
}

// Count returns the number of names allocated (or skipped) so far.
func (a *NameAllocator) Count() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}

// scopeOf returns the prefix of name up to and including its last "/", or "" if it has none.
func scopeOf(name string) string {
	for ii := len(name) - 1; ii >= 0; ii-- {
		if name[ii] == '/' {
			return name[:ii+1]
		}
	}
	return ""
}
