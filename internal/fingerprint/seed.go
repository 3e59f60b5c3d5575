package fingerprint

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/wille/randstorm/internal/prng"
)

// Mixing selects how a fingerprint contributes to seed material.
type Mixing uint8

const (
	// MixTimestamp seeds the engine from the wall clock alone. This is the
	// historically observed behaviour.
	MixTimestamp Mixing = iota

	// MixFingerprint folds a hash of the fingerprint attributes into the
	// auxiliary seed lane. The rule has not been validated against a known
	// vulnerable wallet.
	MixFingerprint
)

func (m Mixing) String() string {
	switch m {
	case MixTimestamp:
		return "timestamp"
	case MixFingerprint:
		return "fingerprint"
	}
	return fmt.Sprintf("Mixing(%d)", uint8(m))
}

// Provisional reports whether findings under m are unverified.
func (m Mixing) Provisional() bool {
	return m != MixTimestamp
}

// ParseMixing parses a mixing mode name.
func ParseMixing(s string) (Mixing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "timestamp", "ts":
		return MixTimestamp, nil
	case "fingerprint", "fp":
		return MixFingerprint, nil
	}
	return 0, fmt.Errorf("unknown seed mixing %q", s)
}

func (m Mixing) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mixing) UnmarshalText(b []byte) error {
	v, err := ParseMixing(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// DeriveSeed maps a fingerprint and a millisecond timestamp to the seed
// material for kind. It is pure.
func DeriveSeed(f *BrowserFingerprint, timestampMs uint64, kind prng.Kind, mix Mixing) prng.SeedMaterial {
	m := prng.SeedMaterial{Primary: timestampMs}
	if mix == MixFingerprint && f != nil {
		d := xxhash.New()
		d.WriteString(kind.String())
		d.WriteString(f.canonical())
		m.Aux = d.Sum64()
	}
	return m
}
