// Package telemetry tracks scan progress. Nothing in it feeds back into the
// scan: consumers only read snapshots.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counters is the shared progress state of one scan. It is passed to the
// dispatcher explicitly; there is no package level instance.
type Counters struct {
	processed atomic.Uint64
	matched   atomic.Uint64
	invalid   atomic.Uint64
	batches   atomic.Uint64
	total     atomic.Uint64

	mu      sync.Mutex
	started time.Time
	base    uint64
	backend string
}

// NewCounters creates counters for a search space of total candidates.
func NewCounters(total uint64) *Counters {
	c := &Counters{started: time.Now()}
	c.total.Store(total)
	return c
}

// Resume seeds the counters with work done by an earlier run. The rate only
// counts work done since.
func (c *Counters) Resume(processed, matched uint64) {
	c.processed.Store(processed)
	c.matched.Store(matched)
	c.mu.Lock()
	c.base = processed
	c.started = time.Now()
	c.mu.Unlock()
}

// SetTotal updates the size of the search space.
func (c *Counters) SetTotal(total uint64) { c.total.Store(total) }

// SetBackend records the backend name shown in reports.
func (c *Counters) SetBackend(name string) {
	c.mu.Lock()
	c.backend = name
	c.mu.Unlock()
}

// AddBatch accounts for one verified batch.
func (c *Counters) AddBatch(processed, matched, invalid uint64) {
	c.processed.Add(processed)
	c.matched.Add(matched)
	c.invalid.Add(invalid)
	c.batches.Add(1)
}

// Processed returns the number of verified candidates.
func (c *Counters) Processed() uint64 { return c.processed.Load() }

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	Processed uint64        `json:"processed"`
	Matched   uint64        `json:"matched"`
	Invalid   uint64        `json:"invalid"`
	Batches   uint64        `json:"batches"`
	Total     uint64        `json:"total"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Rate      float64       `json:"rate"`
	ETA       time.Duration `json:"eta_ns"`
	Backend   string        `json:"backend,omitempty"`
}

// Percent returns the completed share of the search space.
func (s Snapshot) Percent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Processed) / float64(s.Total) * 100
}

// Snapshot computes rate and ETA as of now.
func (c *Counters) Snapshot(now time.Time) Snapshot {
	c.mu.Lock()
	started, base, backend := c.started, c.base, c.backend
	c.mu.Unlock()

	s := Snapshot{
		Processed: c.processed.Load(),
		Matched:   c.matched.Load(),
		Invalid:   c.invalid.Load(),
		Batches:   c.batches.Load(),
		Total:     c.total.Load(),
		Elapsed:   now.Sub(started),
		Backend:   backend,
	}
	if secs := s.Elapsed.Seconds(); secs >= 0.001 && s.Processed > base {
		s.Rate = float64(s.Processed-base) / secs
	}
	if s.Rate > 0 && s.Total > s.Processed {
		s.ETA = time.Duration(float64(s.Total-s.Processed) / s.Rate * float64(time.Second))
	}
	return s
}
