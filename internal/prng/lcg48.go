package prng

const (
	lcgMultiplier = 0x5DEECE66D
	lcgAddend     = 0xB
	lcgMask       = 1<<48 - 1
)

// LCGState is the 48-bit state of the java.util.Random style generator.
type LCGState struct {
	Seed uint64
}

// LCG48 is the SpiderMonkey-era generator, identical to java.util.Random.
type LCG48 struct{}

// Seed scrambles the seed the way java.util.Random.setSeed does.
func (LCG48) Seed(m SeedMaterial) LCGState {
	return LCGState{Seed: (m.Primary ^ m.Aux ^ lcgMultiplier) & lcgMask}
}

// Advance returns next(32): the upper 32 bits of the new 48-bit state.
func (LCG48) Advance(s LCGState) (LCGState, uint32) {
	s.Seed = (s.Seed*lcgMultiplier + lcgAddend) & lcgMask
	return s, uint32(s.Seed >> 16)
}
