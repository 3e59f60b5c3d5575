package keygen

import (
	"encoding/hex"
	"testing"

	"github.com/wille/randstorm/internal/prng"
)

func TestKnownVectors(t *testing.T) {
	tests := []struct {
		timestamp uint64
		pool32    string
		key       string
	}{
		{
			timestamp: 1389781850000,
			pool32:    "c31bd379e0304e75edd7eb3075cc421024b66e2259f36e99c27262bba0cf8007",
			key:       "8459259a725f3e05f777dd419c65d816ab58ea1978132a09779f9cad70cf44b7",
		},
		{
			timestamp: 1365000000000,
			pool32:    "70fe7422b9f78c5e03c2604981dd938ef6082b0fac571a212ba51c5cef6162fc",
			key:       "4eccb924d3eafc04f98da546a45434314840fe61b5e5c90af96e0642efb6f935",
		},
	}

	for _, tt := range tests {
		m := prng.SeedMaterial{Primary: tt.timestamp}

		var pool [PoolSize]byte
		FillPool(prng.V8MWC1616, m, tt.timestamp, &pool)
		if got := hex.EncodeToString(pool[:32]); got != tt.pool32 {
			t.Errorf("%d: pool[0:32] = %s, want %s", tt.timestamp, got, tt.pool32)
		}

		var key [KeySize]byte
		Generate(prng.V8MWC1616, m, tt.timestamp, &key)
		if got := hex.EncodeToString(key[:]); got != tt.key {
			t.Errorf("%d: key = %s, want %s", tt.timestamp, got, tt.key)
		}
	}
}

func TestTimeFoldAppliesToFirstSample(t *testing.T) {
	const ts = 1389781850000
	m := prng.SeedMaterial{Primary: ts}

	if got := prng.Sample16(prng.NewStream(prng.V8MWC1616, m).Next()); got != 0x530c {
		t.Fatalf("raw first sample = %04x, want 530c", got)
	}

	var pool [PoolSize]byte
	FillPool(prng.V8MWC1616, m, ts, &pool)
	if pool[0] != 0x53^0x90 || pool[1] != 0x0c^0x17 {
		t.Fatalf("pool[0:2] = %02x%02x, want c31b", pool[0], pool[1])
	}
}

func TestGenerateDeterministicPerKind(t *testing.T) {
	for _, kind := range prng.Kinds() {
		m := prng.SeedMaterial{Primary: 1400000000000, Aux: 7}
		var a, b [KeySize]byte
		Generate(kind, m, 1400000000000, &a)
		Generate(kind, m, 1400000000000, &b)
		if a != b {
			t.Fatalf("%s: keys differ", kind)
		}
		if IsZero(a[:]) {
			t.Fatalf("%s: all-zero key", kind)
		}
	}
}

func TestScrub(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	Scrub(b)
	if !IsZero(b) {
		t.Fatalf("scrub left %v", b)
	}
}
