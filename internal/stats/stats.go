// Package stats provides the daemon-wide, in-memory query counters.
//
// Per the data model, statistics are monotonic counters cleared only on
// process restart: there is no durable store or cache here, just atomics.
package stats

import (
	"sync/atomic"
	"time"
)

// Stats holds the atomic counters described in the data model.  The zero
// value is ready to use.
type Stats struct {
	queriesSeen    atomic.Uint64
	queriesBlocked atomic.Uint64
	queriesAllowed atomic.Uint64
	forwardErrors  atomic.Uint64

	startedAt time.Time
}

// New returns a Stats with its uptime clock started now.
func New() (s *Stats) {
	return &Stats{startedAt: time.Now()}
}

// IncSeen increments the seen-queries counter.
func (s *Stats) IncSeen() { s.queriesSeen.Add(1) }

// IncBlocked increments the blocked-queries counter.
func (s *Stats) IncBlocked() { s.queriesBlocked.Add(1) }

// IncAllowed increments the allowed (forwarded) queries counter.
func (s *Stats) IncAllowed() { s.queriesAllowed.Add(1) }

// IncForwardError increments the forwarding/parse-error counter.  This
// covers both malformed-packet and upstream timeout/I/O error cases.
func (s *Stats) IncForwardError() { s.forwardErrors.Add(1) }

// Snapshot is an immutable, consistent-enough (not transactionally
// consistent across fields, which is acceptable for monotonic counters)
// point-in-time read of Stats.
type Snapshot struct {
	QueriesSeen    uint64
	QueriesBlocked uint64
	QueriesAllowed uint64
	ForwardErrors  uint64
	Uptime         time.Duration
}

// Snapshot reads the current counters.
func (s *Stats) Snapshot() (snap Snapshot) {
	return Snapshot{
		QueriesSeen:    s.queriesSeen.Load(),
		QueriesBlocked: s.queriesBlocked.Load(),
		QueriesAllowed: s.queriesAllowed.Load(),
		ForwardErrors:  s.forwardErrors.Load(),
		Uptime:         time.Since(s.startedAt),
	}
}
