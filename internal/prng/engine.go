package prng

// SeedMaterial is the input every engine is seeded from.
//
// Primary carries the dominant entropy source (the millisecond timestamp).
// Aux carries secondary bytes contributed by a fingerprint and is zero when
// the generator is seeded purely by time.
type SeedMaterial struct {
	Primary uint64
	Aux     uint64
}

// Engine is the single capability shared by all generator families.
// Both methods must be pure and total.
type Engine[S any] interface {
	Seed(m SeedMaterial) S
	Advance(s S) (S, uint32)
}

// Fill seeds the engine of the given kind and writes len(out) consecutive
// outputs. The kind is matched once, outside the stepping loop.
func Fill(kind Kind, m SeedMaterial, out []uint32) {
	switch kind {
	case V8MWC1616:
		fill[MWCState](MWC1616{}, m, out)
	case SpiderMonkeyLCG:
		fill[LCGState](LCG48{}, m, out)
	case JSCXorshift128Plus:
		fill[XorshiftState](Xorshift128Plus{}, m, out)
	case ChakraMT:
		// Stepped in place; Advance would copy 2.5KiB of state per output.
		st := MT19937{}.Seed(m)
		for i := range out {
			out[i] = st.step()
		}
	default:
		panic("prng: unknown engine kind " + kind.String())
	}
}

func fill[S any, E Engine[S]](e E, m SeedMaterial, out []uint32) {
	s := e.Seed(m)
	for i := range out {
		s, out[i] = e.Advance(s)
	}
}

// Stream is a stateful convenience wrapper over an engine for callers that
// draw outputs one at a time. Hot loops should use Fill instead.
type Stream struct {
	kind Kind
	mwc  MWCState
	lcg  LCGState
	xs   XorshiftState
	mt   *MTState
}

// NewStream seeds a stream for kind.
func NewStream(kind Kind, m SeedMaterial) *Stream {
	s := &Stream{kind: kind}
	switch kind {
	case V8MWC1616:
		s.mwc = MWC1616{}.Seed(m)
	case SpiderMonkeyLCG:
		s.lcg = LCG48{}.Seed(m)
	case JSCXorshift128Plus:
		s.xs = Xorshift128Plus{}.Seed(m)
	case ChakraMT:
		st := MT19937{}.Seed(m)
		s.mt = &st
	default:
		panic("prng: unknown engine kind " + kind.String())
	}
	return s
}

// Next returns the next 32-bit output.
func (s *Stream) Next() uint32 {
	var out uint32
	switch s.kind {
	case V8MWC1616:
		s.mwc, out = MWC1616{}.Advance(s.mwc)
	case SpiderMonkeyLCG:
		s.lcg, out = LCG48{}.Advance(s.lcg)
	case JSCXorshift128Plus:
		s.xs, out = Xorshift128Plus{}.Advance(s.xs)
	case ChakraMT:
		out = s.mt.step()
	}
	return out
}

// Sample16 returns the integer form of floor(65536 * Math.random()) for the
// given output: the top sixteen bits.
func Sample16(out uint32) uint16 {
	return uint16(out >> 16)
}
