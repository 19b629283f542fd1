// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"cmp"
	"slices"
	"sync"
)

// StatsKey identifies the counters of one pass on one graph.
type StatsKey struct {
	SessionID, GraphID, Pass string
}

// StatsRecorder receives the outcome of every pass invocation.
type StatsRecorder interface {
	// Record one invocation of a pass with the number of matches found and of rewrites applied.
	Record(key StatsKey, matches, effects int)
}

// PassStats are the accumulated counters of a StatsKey.
type PassStats struct {
	Invocations, Matches, Effects int
}

// MemoryStats is a StatsRecorder that accumulates counters in memory.
type MemoryStats struct {
	mu    sync.Mutex
	stats map[StatsKey]PassStats
}

var _ StatsRecorder = (*MemoryStats)(nil)

// NewMemoryStats returns an empty MemoryStats.
func NewMemoryStats() *MemoryStats {
	return &MemoryStats{stats: make(map[StatsKey]PassStats)}
}

// Record implements StatsRecorder.
func (m *MemoryStats) Record(key StatsKey, matches, effects int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats[key]
	s.Invocations++
	s.Matches += matches
	s.Effects += effects
	m.stats[key] = s
}

// Get returns the counters of key.
func (m *MemoryStats) Get(key StatsKey) PassStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats[key]
}

// StatsEntry is a key with its counters.
type StatsEntry struct {
	StatsKey
	PassStats
}

// Snapshot returns all counters sorted by graph and pass.
func (m *MemoryStats) Snapshot() []StatsEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]StatsEntry, 0, len(m.stats))
	for key, s := range m.stats {
		entries = append(entries, StatsEntry{key, s})
	}
	slices.SortFunc(entries, func(a, b StatsEntry) int {
		return cmp.Or(
			cmp.Compare(a.SessionID, b.SessionID),
			cmp.Compare(a.GraphID, b.GraphID),
			cmp.Compare(a.Pass, b.Pass))
	})
	return entries
}

// MultiStats forwards every record to all its recorders.
type MultiStats []StatsRecorder

// Record implements StatsRecorder.
func (ms MultiStats) Record(key StatsKey, matches, effects int) {
	for _, r := range ms {
		if r != nil {
			r.Record(key, matches, effects)
		}
	}
}
