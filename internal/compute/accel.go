package compute

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/wille/randstorm/internal/derive"
	"github.com/wille/randstorm/internal/keygen"
)

// Accelerated runs key generation on a Device and address derivation on the
// host. Two buffer slots let the host work through batch N while the device
// computes batch N+1.
type Accelerated struct {
	dev       Device
	info      DeviceInfo
	deriver   *derive.Deriver
	targets   *derive.TargetSet
	workers   int
	batchSize int
	sample    int

	slots [2]*slot
	next  int
}

type slot struct {
	in, out  Buffer
	inWords  []uint32
	outWords []uint32
	busy     bool
}

// NewAccelerated allocates both slots on dev. sampleEvery selects which keys
// are kept as digests for parity checks: every sampleEvery-th candidate, or
// only the first of each batch when it is zero. batchSize overrides the size
// derived from the device when positive.
func NewAccelerated(dev Device, d *derive.Deriver, targets *derive.TargetSet, workers, batchSize, sampleEvery int) (*Accelerated, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	info := dev.Info()
	if batchSize <= 0 {
		batchSize = DeviceBatchSize(info)
	}

	a := &Accelerated{
		dev:       dev,
		info:      info,
		deriver:   d,
		targets:   targets,
		workers:   workers,
		batchSize: batchSize,
		sample:    sampleEvery,
	}
	for i := range a.slots {
		in, err := dev.Alloc(batchSize * JobWords)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: alloc input: %v", ErrBackendInit, info.Name, err)
		}
		out, err := dev.Alloc(batchSize * KeyWords)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: alloc output: %v", ErrBackendInit, info.Name, err)
		}
		a.slots[i] = &slot{
			in:       in,
			out:      out,
			inWords:  make([]uint32, batchSize*JobWords),
			outWords: make([]uint32, batchSize*KeyWords),
		}
	}
	return a, nil
}

func (a *Accelerated) Name() string { return "accel:" + a.info.Name }

func (a *Accelerated) BatchSize() int { return a.batchSize }

// Info returns the device description.
func (a *Accelerated) Info() DeviceInfo { return a.info }

// Start uploads b and dispatches the keygen kernel into the next free slot.
func (a *Accelerated) Start(_ context.Context, b *Batch) (Pending, error) {
	n := len(b.Jobs)
	if n > a.batchSize {
		return nil, fmt.Errorf("batch of %d exceeds device batch size %d", n, a.batchSize)
	}
	s := a.slots[a.next]
	if s.busy {
		return nil, errors.New("both device slots are in flight")
	}

	for i := range b.Jobs {
		EncodeJob(s.inWords[i*JobWords:], &b.Jobs[i])
	}
	if err := a.dev.Upload(s.in, s.inWords[:n*JobWords]); err != nil {
		return nil, fmt.Errorf("upload batch %d: %v", b.ID, err)
	}
	fence, err := a.dev.Dispatch(KernelKeygen, []Buffer{s.in, s.out}, n)
	if err != nil {
		return nil, fmt.Errorf("dispatch batch %d: %v", b.ID, err)
	}

	s.busy = true
	a.next ^= 1
	return &accelPending{a: a, s: s, b: b, fence: fence}, nil
}

type accelPending struct {
	a     *Accelerated
	s     *slot
	b     *Batch
	fence Fence
}

// Wait blocks on the fence, then derives and matches every key on the host.
func (p *accelPending) Wait(ctx context.Context) (*Result, error) {
	a, s, b := p.a, p.s, p.b
	defer func() { s.busy = false }()

	n := len(b.Jobs)
	if err := p.fence.Wait(ctx); err != nil {
		return nil, fmt.Errorf("batch %d: %v", b.ID, err)
	}
	out := s.outWords[:n*KeyWords]
	defer clear(out)
	if err := a.dev.Download(out, s.out); err != nil {
		return nil, fmt.Errorf("download batch %d: %v", b.ID, err)
	}

	res := &Result{BatchID: b.ID, Backend: a.Name(), Processed: n}
	var mu sync.Mutex
	err := forChunks(ctx, n, a.workers, func(lo, hi int) error {
		var hits []Hit
		var samples []KeySample
		var invalid int
		var cands []derive.Candidate
		var key [keygen.KeySize]byte

		for i := lo; i < hi; i++ {
			DecodeKey(&key, out[i*KeyWords:])
			if a.sampled(i) {
				samples = append(samples, KeySample{Index: i, Sum: sha256.Sum256(key[:])})
			}

			var matches []derive.Match
			var err error
			matches, cands, err = matchKey(a.deriver, a.targets, &key, cands[:0])
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
		res.Samples = append(res.Samples, samples...)
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

func (a *Accelerated) sampled(i int) bool {
	if a.sample <= 0 {
		return i == 0
	}
	return i%a.sample == 0
}

// Close overwrites the key buffers on the device and releases it.
func (a *Accelerated) Close() error {
	for _, s := range a.slots {
		if s == nil {
			continue
		}
		clear(s.outWords)
		a.dev.Upload(s.out, s.outWords)
	}
	return a.dev.Close()
}
