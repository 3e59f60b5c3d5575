package prng

const goldenGamma = 0x9E3779B97F4A7C15

// XorshiftState is the 128-bit state of xorshift128+.
type XorshiftState struct {
	S0 uint64
	S1 uint64
}

// Xorshift128Plus is the JavaScriptCore generator.
type Xorshift128Plus struct{}

// Seed expands the seed to 128 bits with two rounds of splitmix64.
func (Xorshift128Plus) Seed(m SeedMaterial) XorshiftState {
	seed := m.Primary ^ m.Aux
	return XorshiftState{
		S0: splitmix64(seed),
		S1: splitmix64(seed + goldenGamma),
	}
}

// Advance returns the upper 32 bits of the 64-bit sum.
func (Xorshift128Plus) Advance(s XorshiftState) (XorshiftState, uint32) {
	s1 := s.S0
	s0 := s.S1
	s.S0 = s0
	s1 ^= s1 << 23
	s.S1 = s1 ^ s0 ^ (s1 >> 17) ^ (s0 >> 26)
	return s, uint32((s.S1 + s0) >> 32)
}

func splitmix64(x uint64) uint64 {
	x += goldenGamma
	z := x
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
