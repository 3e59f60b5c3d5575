package compute

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strings"

	"github.com/fatih/color"

	"github.com/wille/randstorm/internal/derive"
	"github.com/wille/randstorm/internal/keygen"
	"github.com/wille/randstorm/internal/telemetry"
)

// Backend selection modes.
const (
	SelectAuto  = "auto"
	SelectCPU   = "cpu"
	SelectAccel = "accel"
)

// Options configures a Dispatcher.
type Options struct {
	Select      string
	Drivers     []Driver
	Workers     int
	BatchSize   int
	ParityEvery int
}

// Dispatcher routes batches to the selected backend and refuses to hand out
// accelerated results that the CPU reference does not reproduce.
type Dispatcher struct {
	backend  Backend
	cpu      *CPU
	accel    bool
	counters *telemetry.Counters

	batchSize int
	queue     []queued
	fallback  error
}

type queued struct {
	batch   *Batch
	pending Pending
}

// NewDispatcher picks a backend. Device problems are logged as warnings and
// the CPU path is used instead; they are never returned as errors.
func NewDispatcher(opts Options, d *derive.Deriver, targets *derive.TargetSet, counters *telemetry.Counters) (*Dispatcher, error) {
	cpu := NewCPU(d, targets, opts.Workers)
	disp := &Dispatcher{backend: cpu, cpu: cpu, counters: counters}

	switch strings.ToLower(opts.Select) {
	case "", SelectAuto, SelectAccel:
		accel, err := openAccelerated(opts, d, targets)
		if err != nil {
			disp.fallback = err
			log.Print(color.YellowString("Warning: %v, falling back to the CPU backend", err))
			break
		}
		disp.backend = accel
		disp.accel = true
	case SelectCPU:
	default:
		return nil, fmt.Errorf("unknown backend %q", opts.Select)
	}

	// the accelerated backend already sized its slots from opts.BatchSize
	disp.batchSize = disp.backend.BatchSize()
	if opts.BatchSize > 0 && !disp.accel {
		disp.batchSize = opts.BatchSize
	}
	if counters != nil {
		counters.SetBackend(disp.backend.Name())
	}
	return disp, nil
}

func openAccelerated(opts Options, d *derive.Deriver, targets *derive.TargetSet) (*Accelerated, error) {
	dev, err := Probe(opts.Drivers)
	if err != nil {
		return nil, err
	}
	a, err := NewAccelerated(dev, d, targets, opts.Workers, opts.BatchSize, opts.ParityEvery)
	if err != nil {
		dev.Close()
		if !errors.Is(err, ErrBackendInit) {
			err = fmt.Errorf("%w: %v", ErrBackendInit, err)
		}
		return nil, err
	}
	return a, nil
}

// Name returns the active backend name.
func (d *Dispatcher) Name() string { return d.backend.Name() }

// Accelerated reports whether a device is in use.
func (d *Dispatcher) Accelerated() bool { return d.accel }

// Fallback returns the reason the accelerated backend was not used, if any.
func (d *Dispatcher) Fallback() error { return d.fallback }

// BatchSize is the number of candidates to put in each batch.
func (d *Dispatcher) BatchSize() int { return d.batchSize }

// Depth is the number of batches that may be in flight at once.
func (d *Dispatcher) Depth() int {
	if d.accel {
		return 2
	}
	return 1
}

// Submit starts b. At most Depth batches may be in flight.
func (d *Dispatcher) Submit(ctx context.Context, b *Batch) error {
	if len(d.queue) >= d.Depth() {
		return fmt.Errorf("batch %d submitted with %d in flight", b.ID, len(d.queue))
	}
	p, err := d.backend.Start(ctx, b)
	if err != nil {
		return err
	}
	d.queue = append(d.queue, queued{batch: b, pending: p})
	return nil
}

// Next waits for the oldest in-flight batch and returns its verified result.
// A *ParityViolationError means the whole batch must be discarded and the
// scan stopped.
func (d *Dispatcher) Next(ctx context.Context) (*Result, error) {
	if len(d.queue) == 0 {
		return nil, errors.New("no batch in flight")
	}
	q := d.queue[0]
	d.queue = d.queue[1:]

	res, err := q.pending.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if d.accel {
		if err := d.verify(q.batch, res); err != nil {
			log.Print(color.RedString("FATAL: %v", err))
			return nil, err
		}
	}

	slog.Debug("batch verified", "batch", res.BatchID, "backend", res.Backend,
		"processed", res.Processed, "hits", len(res.Hits), "invalid", res.Invalid)
	if d.counters != nil {
		var matched int
		for _, h := range res.Hits {
			matched += len(h.Matches)
		}
		d.counters.AddBatch(uint64(res.Processed), uint64(matched), uint64(res.Invalid))
	}
	return res, nil
}

// Run submits b and waits for it.
func (d *Dispatcher) Run(ctx context.Context, b *Batch) (*Result, error) {
	if err := d.Submit(ctx, b); err != nil {
		return nil, err
	}
	return d.Next(ctx)
}

// verify re-derives every hit and every sampled key on the reference path.
func (d *Dispatcher) verify(b *Batch, res *Result) error {
	violation := func(i int, reason string) error {
		e := &ParityViolationError{BatchID: b.ID, CandidateIndex: i, Backend: res.Backend, Reason: reason}
		if i >= 0 && i < len(b.Jobs) {
			e.Engine = b.Jobs[i].Kind
		}
		return e
	}

	if res.Processed != len(b.Jobs) {
		return violation(-1, fmt.Sprintf("processed %d of %d candidates", res.Processed, len(b.Jobs)))
	}

	for _, s := range res.Samples {
		if s.Index < 0 || s.Index >= len(b.Jobs) {
			return violation(s.Index, "sample index out of range")
		}
		j := &b.Jobs[s.Index]
		var key [keygen.KeySize]byte
		keygen.Generate(j.Kind, j.Seed, j.TimestampMs, &key)
		sum := sha256.Sum256(key[:])
		keygen.Scrub(key[:])
		if sum != s.Sum {
			return violation(s.Index, "private key differs from reference")
		}
	}

	for _, h := range res.Hits {
		if h.Index < 0 || h.Index >= len(b.Jobs) {
			return violation(h.Index, "hit index out of range")
		}
		ref, err := d.cpu.Reference(b.Jobs[h.Index])
		if err != nil {
			return violation(h.Index, fmt.Sprintf("reference derivation failed: %v", err))
		}
		if !sameMatches(ref, h.Matches) {
			return violation(h.Index, fmt.Sprintf("reference found %d matches, backend %d", len(ref), len(h.Matches)))
		}
	}
	return nil
}

func sameMatches(a, b []derive.Match) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Close releases the backend.
func (d *Dispatcher) Close() error {
	d.queue = nil
	return d.backend.Close()
}
