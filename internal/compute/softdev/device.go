// Package softdev is a compute device implemented in portable Go. It runs
// the keygen kernel with its own word-oriented code so that the dispatcher
// can exercise the accelerated path, double buffering and cross-checks on
// machines without a GPU.
package softdev

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wille/randstorm/internal/compute"
)

// Config describes the simulated device.
type Config struct {
	Name             string
	ComputeUnits     int
	MaxWorkGroupSize int
	GlobalMemory     uint64
}

// DefaultConfig sizes the device after the host.
func DefaultConfig() Config {
	return Config{
		Name:             "soft",
		ComputeUnits:     runtime.NumCPU(),
		MaxWorkGroupSize: 64,
		GlobalMemory:     1 << 30,
	}
}

// Driver exposes a single soft device.
type Driver struct {
	Config Config
}

func (d Driver) Name() string { return "softdev" }

func (d Driver) Devices() ([]compute.Device, error) {
	return []compute.Device{New(d.Config)}, nil
}

type buffer struct {
	words []uint32
}

func (b *buffer) Words() int { return len(b.words) }

// Device implements compute.Device.
type Device struct {
	cfg Config

	mu      sync.Mutex
	used    uint64
	buffers []*buffer
	closed  bool
	running sync.WaitGroup
}

// New creates a device. Zero fields of cfg take DefaultConfig values.
func New(cfg Config) *Device {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.ComputeUnits <= 0 {
		cfg.ComputeUnits = def.ComputeUnits
	}
	if cfg.MaxWorkGroupSize <= 0 {
		cfg.MaxWorkGroupSize = def.MaxWorkGroupSize
	}
	if cfg.GlobalMemory == 0 {
		cfg.GlobalMemory = def.GlobalMemory
	}
	return &Device{cfg: cfg}
}

func (d *Device) Info() compute.DeviceInfo {
	return compute.DeviceInfo{
		Name:             d.cfg.Name,
		ComputeUnits:     d.cfg.ComputeUnits,
		MaxWorkGroupSize: d.cfg.MaxWorkGroupSize,
		GlobalMemory:     d.cfg.GlobalMemory,
	}
}

var errClosed = errors.New("device closed")

func (d *Device) Alloc(words int) (compute.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errClosed
	}
	size := uint64(words) * 4
	if d.used+size > d.cfg.GlobalMemory {
		return nil, fmt.Errorf("out of device memory: %d bytes requested, %d free", size, d.cfg.GlobalMemory-d.used)
	}
	d.used += size
	b := &buffer{words: make([]uint32, words)}
	d.buffers = append(d.buffers, b)
	return b, nil
}

func (d *Device) buffer(b compute.Buffer) (*buffer, error) {
	buf, ok := b.(*buffer)
	if !ok {
		return nil, fmt.Errorf("foreign buffer %T", b)
	}
	return buf, nil
}

func (d *Device) Upload(dst compute.Buffer, src []uint32) error {
	buf, err := d.buffer(dst)
	if err != nil {
		return err
	}
	if len(src) > len(buf.words) {
		return fmt.Errorf("upload of %d words into buffer of %d", len(src), len(buf.words))
	}
	copy(buf.words, src)
	return nil
}

func (d *Device) Download(dst []uint32, src compute.Buffer) error {
	buf, err := d.buffer(src)
	if err != nil {
		return err
	}
	if len(dst) > len(buf.words) {
		return fmt.Errorf("download of %d words from buffer of %d", len(dst), len(buf.words))
	}
	copy(dst, buf.words)
	return nil
}

// Dispatch runs the kernel asynchronously over n items, one work group per
// task and at most ComputeUnits tasks at a time.
func (d *Device) Dispatch(k compute.Kernel, args []compute.Buffer, n int) (compute.Fence, error) {
	if k != compute.KernelKeygen {
		return nil, fmt.Errorf("unknown kernel %q", k)
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("kernel %s takes 2 buffers, got %d", k, len(args))
	}
	in, err := d.buffer(args[0])
	if err != nil {
		return nil, err
	}
	out, err := d.buffer(args[1])
	if err != nil {
		return nil, err
	}
	if n*compute.JobWords > len(in.words) || n*compute.KeyWords > len(out.words) {
		return nil, fmt.Errorf("%d items exceed buffer sizes", n)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, errClosed
	}
	d.running.Add(1)
	d.mu.Unlock()

	f := &fence{done: make(chan struct{})}
	go func() {
		defer d.running.Done()
		defer close(f.done)

		var g errgroup.Group
		g.SetLimit(d.cfg.ComputeUnits)
		group := d.cfg.MaxWorkGroupSize
		for lo := 0; lo < n; lo += group {
			hi := min(lo+group, n)
			g.Go(func() error {
				for i := lo; i < hi; i++ {
					keygenItem(in.words[i*compute.JobWords:(i+1)*compute.JobWords],
						out.words[i*compute.KeyWords:(i+1)*compute.KeyWords])
				}
				return nil
			})
		}
		f.err = g.Wait()
	}()
	return f, nil
}

// Close waits for running dispatches and zeroes every buffer.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.running.Wait()
	for _, b := range d.buffers {
		clear(b.words)
	}
	return nil
}

type fence struct {
	done chan struct{}
	err  error
}

func (f *fence) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
