package compute

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/wille/randstorm/internal/keygen"
	"github.com/wille/randstorm/internal/prng"
)

// Kernel names a program a device can run.
type Kernel string

// KernelKeygen reads JobWords words per item and writes KeyWords words per
// item: the engine, the entropy pool and ARC4, all in 32-bit integer
// arithmetic.
const KernelKeygen Kernel = "keygen"

const (
	// JobWords is the input size of one keygen work item:
	// kind, primary lo, primary hi, aux lo, aux hi, timestamp lo.
	JobWords = 6
	// KeyWords is the output size of one keygen work item: the private key
	// as eight big-endian words.
	KeyWords = keygen.KeySize / 4

	maxDeviceBatch = 1 << 20
	itemsPerThread = 64
)

// DeviceInfo describes the capabilities batch sizing depends on.
type DeviceInfo struct {
	Name             string
	ComputeUnits     int
	MaxWorkGroupSize int
	GlobalMemory     uint64 // bytes
}

// Buffer is device memory holding 32-bit words.
type Buffer interface {
	Words() int
}

// Fence signals completion of a dispatch. Buffers written by the dispatch
// must not be read before Wait returns nil.
type Fence interface {
	Wait(ctx context.Context) error
}

// Device is the contract an accelerated compute API has to meet.
type Device interface {
	Info() DeviceInfo
	Alloc(words int) (Buffer, error)
	Upload(dst Buffer, src []uint32) error
	Dispatch(k Kernel, args []Buffer, n int) (Fence, error)
	Download(dst []uint32, src Buffer) error
	Close() error
}

// Driver enumerates the devices of one compute API.
type Driver interface {
	Name() string
	Devices() ([]Device, error)
}

var (
	driversMu sync.Mutex
	drivers   []Driver
)

// RegisterDriver makes a driver available to Probe callers that pass
// Drivers().
func RegisterDriver(d Driver) {
	driversMu.Lock()
	drivers = append(drivers, d)
	driversMu.Unlock()
}

// Drivers returns the registered drivers.
func Drivers() []Driver {
	driversMu.Lock()
	defer driversMu.Unlock()
	return append([]Driver(nil), drivers...)
}

// Probe returns the first device any of the drivers reports. Devices other
// than the returned one are closed.
func Probe(ds []Driver) (Device, error) {
	var firstErr error
	for _, d := range ds {
		devs, err := d.Devices()
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", d.Name(), err)
			}
			continue
		}
		if len(devs) == 0 {
			continue
		}
		for _, extra := range devs[1:] {
			extra.Close()
		}
		return devs[0], nil
	}
	if firstErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, firstErr)
	}
	return nil, ErrDeviceUnavailable
}

// DeviceBatchSize picks a batch size from device capability: 64 items per
// hardware thread, at most 1Mi items, and two in-flight batches within a
// quarter of device memory.
func DeviceBatchSize(info DeviceInfo) int {
	n := max(1, info.ComputeUnits) * max(1, info.MaxWorkGroupSize) * itemsPerThread
	n = min(n, maxDeviceBatch)
	if info.GlobalMemory > 0 {
		perItem := uint64(2 * (JobWords + KeyWords) * 4)
		if limit := info.GlobalMemory / 4 / perItem; limit < uint64(n) {
			n = int(limit)
		}
	}
	return max(1, n)
}

// EncodeJob writes the kernel input words of j.
func EncodeJob(dst []uint32, j *Job) {
	dst[0] = uint32(j.Kind)
	dst[1] = uint32(j.Seed.Primary)
	dst[2] = uint32(j.Seed.Primary >> 32)
	dst[3] = uint32(j.Seed.Aux)
	dst[4] = uint32(j.Seed.Aux >> 32)
	dst[5] = uint32(j.TimestampMs)
}

// DecodeJob is the inverse of EncodeJob. Only the low 32 bits of the
// timestamp survive, which is all the key generator reads.
func DecodeJob(src []uint32) (kind prng.Kind, m prng.SeedMaterial, ts uint32) {
	kind = prng.Kind(src[0])
	m.Primary = uint64(src[1]) | uint64(src[2])<<32
	m.Aux = uint64(src[3]) | uint64(src[4])<<32
	return kind, m, src[5]
}

// DecodeKey unpacks kernel output words into key.
func DecodeKey(key *[keygen.KeySize]byte, src []uint32) {
	for i := 0; i < KeyWords; i++ {
		binary.BigEndian.PutUint32(key[4*i:], src[i])
	}
}

// EncodeKey packs key into kernel output words.
func EncodeKey(dst []uint32, key *[keygen.KeySize]byte) {
	for i := 0; i < KeyWords; i++ {
		dst[i] = binary.BigEndian.Uint32(key[4*i:])
	}
}
