package prng

// MWCState is the two-lane state of V8's MWC1616 generator.
type MWCState struct {
	S1 uint32
	S2 uint32
}

// MWC1616 is the multiply-with-carry generator used by V8 3.x.
type MWC1616 struct{}

// Seed splits Primary into the low (s1) and high (s2) lanes. Aux, when
// present, is folded into both lanes.
func (MWC1616) Seed(m SeedMaterial) MWCState {
	return MWCState{
		S1: uint32(m.Primary) ^ uint32(m.Aux),
		S2: uint32(m.Primary>>32) ^ uint32(m.Aux>>32),
	}
}

// Advance steps both lanes and combines them as (s1 << 16) + s2.
func (MWC1616) Advance(s MWCState) (MWCState, uint32) {
	s.S1 = 18000*(s.S1&0xFFFF) + s.S1>>16
	s.S2 = 30903*(s.S2&0xFFFF) + s.S2>>16
	return s, s.S1<<16 + s.S2
}
