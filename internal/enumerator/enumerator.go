package enumerator

import (
	"errors"
	"fmt"

	"github.com/wille/randstorm/internal/fingerprint"
)

// ErrPositionMismatch is returned by Restore when a position was not
// produced by an enumerator with the same window and mode.
var ErrPositionMismatch = errors.New("position does not belong to this search space")

// Cursor is the timestamp cursor within the current fingerprint.
type Cursor struct {
	Start    uint64 `json:"start"`
	End      uint64 `json:"end"`
	Interval uint64 `json:"interval"`
	Current  uint64 `json:"current"`
}

// Position is everything needed to resume an enumeration.
type Position struct {
	FingerprintIndex int    `json:"fingerprint_index"`
	Cursor           Cursor `json:"cursor"`
	Processed        uint64 `json:"processed"`
	Matched          uint64 `json:"matched"`
}

// Candidate is one point of the search space.
type Candidate struct {
	FingerprintIndex int
	Fingerprint      *fingerprint.BrowserFingerprint
	TimestampMs      uint64
}

// Enumerator yields candidates fingerprint-major, timestamp-minor. It is not
// safe for concurrent use.
type Enumerator struct {
	fps    []fingerprint.BrowserFingerprint
	window Window
	mode   ScanMode
	pos    Position
}

// New creates an enumerator positioned at the first candidate.
func New(fps []fingerprint.BrowserFingerprint, window Window, mode ScanMode) (*Enumerator, error) {
	if len(fps) == 0 {
		return nil, fingerprint.ErrNoFingerprints
	}
	if err := window.Validate(); err != nil {
		return nil, err
	}
	if mode.Interval() == 0 {
		return nil, fmt.Errorf("invalid scan mode %d", uint8(mode))
	}

	e := &Enumerator{fps: fps, window: window, mode: mode}
	e.pos.Cursor = Cursor{Start: window.Start, End: window.End, Interval: mode.Interval()}
	e.seek(0)
	return e, nil
}

// bounds returns the grid-aligned [first, hi) range of fingerprint i.
func (e *Enumerator) bounds(i int) (first, hi uint64) {
	lo, hi := e.window.Start, e.window.End
	vs, ve := e.fps[i].Validity()
	lo = max(lo, vs)
	hi = min(hi, ve)
	if lo >= hi {
		return hi, hi
	}
	step := e.mode.Interval()
	off := lo - e.window.Start
	first = e.window.Start + (off+step-1)/step*step
	return first, hi
}

// seek moves to the first fingerprint at or after i with a non-empty range.
func (e *Enumerator) seek(i int) {
	for ; i < len(e.fps); i++ {
		first, hi := e.bounds(i)
		if first < hi {
			e.pos.FingerprintIndex = i
			e.pos.Cursor.Current = first
			return
		}
	}
	e.pos.FingerprintIndex = len(e.fps)
	e.pos.Cursor.Current = e.window.End
}

// Done reports whether the search space is exhausted.
func (e *Enumerator) Done() bool {
	return e.pos.FingerprintIndex >= len(e.fps)
}

// NextBatch returns up to n candidates and advances the position past them.
// An empty result means the enumeration is finished.
func (e *Enumerator) NextBatch(n int) []Candidate {
	return e.AppendBatch(make([]Candidate, 0, n), n)
}

// AppendBatch is like NextBatch but appends to dst.
func (e *Enumerator) AppendBatch(dst []Candidate, n int) []Candidate {
	step := e.mode.Interval()
	for added := 0; added < n && !e.Done(); added++ {
		i := e.pos.FingerprintIndex
		dst = append(dst, Candidate{
			FingerprintIndex: i,
			Fingerprint:      &e.fps[i],
			TimestampMs:      e.pos.Cursor.Current,
		})
		e.pos.Processed++

		_, hi := e.bounds(i)
		if next := e.pos.Cursor.Current + step; next < hi && next > e.pos.Cursor.Current {
			e.pos.Cursor.Current = next
		} else {
			e.seek(i + 1)
		}
	}
	return dst
}

// Position returns a copy of the current position.
func (e *Enumerator) Position() Position {
	return e.pos
}

// Restore moves the enumerator to a position returned by Position.
func (e *Enumerator) Restore(p Position) error {
	c := p.Cursor
	if c.Start != e.window.Start || c.End != e.window.End || c.Interval != e.mode.Interval() {
		return fmt.Errorf("%w: cursor %+v, window %+v, interval %d",
			ErrPositionMismatch, c, e.window, e.mode.Interval())
	}
	if p.FingerprintIndex < 0 || p.FingerprintIndex > len(e.fps) {
		return fmt.Errorf("%w: fingerprint index %d of %d", ErrPositionMismatch, p.FingerprintIndex, len(e.fps))
	}
	if p.FingerprintIndex < len(e.fps) {
		first, hi := e.bounds(p.FingerprintIndex)
		if c.Current < first || c.Current >= hi || (c.Current-c.Start)%c.Interval != 0 {
			return fmt.Errorf("%w: timestamp %d outside fingerprint %d range", ErrPositionMismatch, c.Current, p.FingerprintIndex)
		}
	}
	e.pos = p
	return nil
}

// Total returns the number of candidates in the whole search space.
func (e *Enumerator) Total() uint64 {
	var total uint64
	for i := range e.fps {
		total += e.countFor(i)
	}
	return total
}

// Remaining returns the number of candidates not yet yielded.
func (e *Enumerator) Remaining() uint64 {
	if e.Done() {
		return 0
	}
	i := e.pos.FingerprintIndex
	_, hi := e.bounds(i)
	rest := (hi-1-e.pos.Cursor.Current)/e.mode.Interval() + 1
	for j := i + 1; j < len(e.fps); j++ {
		rest += e.countFor(j)
	}
	return rest
}

func (e *Enumerator) countFor(i int) uint64 {
	first, hi := e.bounds(i)
	if first >= hi {
		return 0
	}
	return (hi-1-first)/e.mode.Interval() + 1
}
