package prng

const (
	mtN         = 624
	mtM         = 397
	mtInitMul   = 1812433253
	mtUpperMask = 0x80000000
	mtLowerMask = 0x7fffffff
	mtMatrixA   = 0x9908b0df
	mtTemperB   = 0x9d2c5680
	mtTemperC   = 0xefc60000
)

// MTState is a Mersenne Twister state. Index is the next element to be
// regenerated and emitted.
type MTState struct {
	MT    [mtN]uint32
	Index int
}

// MT19937 is the Chakra-era Mersenne Twister variant. The state array is
// regenerated one element per output instead of in whole-array twists, which
// yields the reference MT19937 sequence.
type MT19937 struct{}

// Seed folds both halves of Primary and Aux into a 32-bit init_genrand seed.
func (MT19937) Seed(m SeedMaterial) MTState {
	seed := uint32(m.Primary) ^ uint32(m.Primary>>32) ^ uint32(m.Aux) ^ uint32(m.Aux>>32)

	var s MTState
	s.MT[0] = seed
	for i := 1; i < mtN; i++ {
		s.MT[i] = mtInitMul*(s.MT[i-1]^(s.MT[i-1]>>30)) + uint32(i)
	}
	return s
}

// Advance regenerates the current element and returns it tempered.
func (MT19937) Advance(s MTState) (MTState, uint32) {
	out := s.step()
	return s, out
}

func (s *MTState) step() uint32 {
	i := s.Index
	y := (s.MT[i] & mtUpperMask) | (s.MT[(i+1)%mtN] & mtLowerMask)
	v := s.MT[(i+mtM)%mtN] ^ (y >> 1)
	if y&1 == 1 {
		v ^= mtMatrixA
	}
	s.MT[i] = v
	s.Index = (i + 1) % mtN
	return temper(v)
}

func temper(y uint32) uint32 {
	y ^= y >> 11
	y ^= (y << 7) & mtTemperB
	y ^= (y << 15) & mtTemperC
	y ^= y >> 18
	return y
}
