package search

import (
	"sync/atomic"
	"time"
)

// metrics aggregates per-engine query counters without locks; readers get
// a point-in-time copy, not a consistent cut.
type metrics struct {
	queries      atomic.Uint64
	scanned      atomic.Uint64
	matches      atomic.Uint64
	totalElapsed atomic.Int64 // nanoseconds
	lastElapsed  atomic.Int64
}

func (m *metrics) record(matches uint64, elapsed time.Duration) {
	m.matches.Add(matches)
	m.totalElapsed.Add(int64(elapsed))
	m.lastElapsed.Store(int64(elapsed))
}

// MetricsSnapshot is a copy of the engine counters for display.
type MetricsSnapshot struct {
	Queries        uint64
	EntriesScanned uint64
	Matches        uint64
	TotalElapsed   time.Duration
	LastElapsed    time.Duration
}

func (m *metrics) snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Queries:        m.queries.Load(),
		EntriesScanned: m.scanned.Load(),
		Matches:        m.matches.Load(),
		TotalElapsed:   time.Duration(m.totalElapsed.Load()),
		LastElapsed:    time.Duration(m.lastElapsed.Load()),
	}
}
