package compute

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wille/randstorm/internal/derive"
	"github.com/wille/randstorm/internal/keygen"
)

// CPU is the reference backend. Every other backend is checked against it.
type CPU struct {
	deriver *derive.Deriver
	targets *derive.TargetSet
	workers int
}

// NewCPU creates the reference backend. workers defaults to the number of
// CPUs.
func NewCPU(d *derive.Deriver, targets *derive.TargetSet, workers int) *CPU {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &CPU{deriver: d, targets: targets, workers: workers}
}

func (c *CPU) Name() string { return "cpu" }

// BatchSize is 1024 candidates per worker.
func (c *CPU) BatchSize() int { return c.workers * 1024 }

func (c *CPU) Close() error { return nil }

// Start defers the work to Wait; the CPU path has nothing to overlap with.
func (c *CPU) Start(_ context.Context, b *Batch) (Pending, error) {
	return pendingFunc(func(ctx context.Context) (*Result, error) {
		return c.Run(ctx, b)
	}), nil
}

// Run executes b across the worker pool.
func (c *CPU) Run(ctx context.Context, b *Batch) (*Result, error) {
	res := &Result{BatchID: b.ID, Backend: c.Name(), Processed: len(b.Jobs)}

	var mu sync.Mutex
	err := forChunks(ctx, len(b.Jobs), c.workers, func(lo, hi int) error {
		var hits []Hit
		var invalid int
		var cands []derive.Candidate
		var key [keygen.KeySize]byte

		for i := lo; i < hi; i++ {
			j := &b.Jobs[i]
			keygen.Generate(j.Kind, j.Seed, j.TimestampMs, &key)

			var matches []derive.Match
			var err error
			matches, cands, err = matchKey(c.deriver, c.targets, &key, cands[:0])
			if errors.Is(err, derive.ErrInvalidKey) {
				invalid++
				continue
			}
			if err != nil {
				return err
			}
			if len(matches) > 0 {
				hits = append(hits, Hit{Index: i, Matches: matches})
			}
		}

		mu.Lock()
		res.Hits = append(res.Hits, hits...)
		res.Invalid += invalid
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortHits(res.Hits)
	return res, nil
}

// Reference re-derives a single job and returns its matches.
func (c *CPU) Reference(j Job) ([]derive.Match, error) {
	var key [keygen.KeySize]byte
	keygen.Generate(j.Kind, j.Seed, j.TimestampMs, &key)
	matches, _, err := matchKey(c.deriver, c.targets, &key, nil)
	return matches, err
}

// matchKey derives the candidates of key and looks them up. key is zeroed
// on return.
func matchKey(d *derive.Deriver, targets *derive.TargetSet, key *[keygen.KeySize]byte, cands []derive.Candidate) ([]derive.Match, []derive.Candidate, error) {
	cands, err := d.Derive(key, cands)
	if err != nil {
		return nil, cands, err
	}
	return derive.Matches(cands, targets), cands, nil
}

// forChunks splits [0, n) into one contiguous chunk per worker and runs fn on
// each concurrently. It stops early when ctx is cancelled.
func forChunks(ctx context.Context, n, workers int, fn func(lo, hi int) error) error {
	if n == 0 {
		return nil
	}
	workers = max(1, min(workers, n))
	size := (n + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(lo, hi)
		})
	}
	return g.Wait()
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool { return hits[i].Index < hits[j].Index })
}
