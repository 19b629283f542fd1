// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import "github.com/google/uuid"

// Session holds the state shared by the passes of one compilation unit.
type Session struct {
	// ID identifies the session in statistics.
	ID string

	// Names generates the names of the fused nodes.
	Names *NameAllocator

	// Stats receives the match and effect counts of every pass invocation. It may be nil.
	Stats StatsRecorder
}

// NewSession returns a session with a fresh ID, a new NameAllocator and in-memory statistics.
func NewSession() *Session {
	return &Session{
		ID:    uuid.NewString(),
		Names: NewNameAllocator(),
		Stats: NewMemoryStats(),
	}
}

// MemoryStats returns the session's statistics if they are kept in memory, or nil.
func (s *Session) MemoryStats() *MemoryStats {
	switch stats := s.Stats.(type) {
	case *MemoryStats:
		return stats
	case MultiStats:
		for _, r := range stats {
			if m, ok := r.(*MemoryStats); ok {
				return m
			}
		}
	}
	return nil
}
