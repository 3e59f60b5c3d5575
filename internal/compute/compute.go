// Package compute executes candidate batches on the CPU reference path or on
// an accelerated device, and verifies accelerated results against the
// reference before they are trusted.
package compute

import (
	"context"
	"errors"
	"fmt"

	"github.com/wille/randstorm/internal/derive"
	"github.com/wille/randstorm/internal/prng"
)

var (
	// ErrDeviceUnavailable means no accelerated device was found.
	ErrDeviceUnavailable = errors.New("no compute device available")

	// ErrBackendInit means a device was found but could not be set up.
	ErrBackendInit = errors.New("compute backend initialization failed")
)

// ParityViolationError reports that the accelerated backend disagreed with
// the reference path. It is never recoverable and never carries key bytes.
type ParityViolationError struct {
	BatchID        uint64
	CandidateIndex int
	Engine         prng.Kind
	Backend        string
	Reason         string
}

func (e *ParityViolationError) Error() string {
	return fmt.Sprintf("parity violation in batch %d candidate %d (engine %s, backend %s): %s",
		e.BatchID, e.CandidateIndex, e.Engine, e.Backend, e.Reason)
}

// Job is the input of one candidate.
type Job struct {
	Kind        prng.Kind
	Seed        prng.SeedMaterial
	TimestampMs uint64
}

// Batch is a unit of dispatch.
type Batch struct {
	ID   uint64
	Jobs []Job
}

// Hit is a job whose addresses were found in the target set.
type Hit struct {
	Index   int
	Matches []derive.Match
}

// KeySample is the digest of a device-generated key, kept so the key can be
// compared against the reference without holding on to it.
type KeySample struct {
	Index int
	Sum   [32]byte
}

// Result is the outcome of a batch. Hits are ordered by index.
type Result struct {
	BatchID   uint64
	Backend   string
	Processed int
	Invalid   int
	Hits      []Hit
	Samples   []KeySample
}

// Backend runs batches. Start may return before the work is done; the
// returned Pending values must be waited on in the order they were started.
type Backend interface {
	Name() string
	BatchSize() int
	Start(ctx context.Context, b *Batch) (Pending, error)
	Close() error
}

// Pending is a started batch.
type Pending interface {
	Wait(ctx context.Context) (*Result, error)
}

type pendingFunc func(ctx context.Context) (*Result, error)

func (f pendingFunc) Wait(ctx context.Context) (*Result, error) { return f(ctx) }
