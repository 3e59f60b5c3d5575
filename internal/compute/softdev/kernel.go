package softdev

import "math/bits"

// keygenItem is the keygen kernel for one work item. It works on 32-bit
// words throughout: the entropy pool is held as 64 big-endian words and the
// key is emitted as 8 big-endian words.
func keygenItem(in, out []uint32) {
	var pool [64]uint32
	fillPool(&pool, in[0], in[1], in[2], in[3], in[4])

	// time fold: low timestamp word, little endian, over pool bytes 0..3
	pool[0] ^= bits.ReverseBytes32(in[5])

	var s [256]uint8
	for i := range s {
		s[i] = uint8(i)
	}
	var j uint8
	for i := 0; i < 256; i++ {
		k := uint8(pool[i>>2] >> (24 - 8*(i&3)))
		j += s[i] + k
		s[i], s[j] = s[j], s[i]
	}

	var x, y uint8
	for w := 0; w < 8; w++ {
		var word uint32
		for b := 0; b < 4; b++ {
			x++
			y += s[x]
			s[x], s[y] = s[y], s[x]
			word = word<<8 | uint32(s[s[x]+s[y]])
		}
		out[w] = word
	}
	clear(pool[:])
	clear(s[:])
}

// fillPool draws 128 samples, two per pool word, from the engine selected by
// kind.
func fillPool(pool *[64]uint32, kind, plo, phi, alo, ahi uint32) {
	switch kind {
	case 0:
		s1, s2 := plo^alo, phi^ahi
		for w := range pool {
			var hi, lo uint32
			s1 = 18000*(s1&0xffff) + s1>>16
			s2 = 30903*(s2&0xffff) + s2>>16
			hi = (s1<<16 + s2) >> 16
			s1 = 18000*(s1&0xffff) + s1>>16
			s2 = 30903*(s2&0xffff) + s2>>16
			lo = (s1<<16 + s2) >> 16
			pool[w] = hi<<16 | lo
		}
	case 1:
		const mul, add, mask = 0x5DEECE66D, 0xB, 1<<48 - 1
		seed := (uint64(phi^ahi)<<32 | uint64(plo^alo)) ^ mul
		seed &= mask
		for w := range pool {
			seed = (seed*mul + add) & mask
			hi := uint32(seed>>16) >> 16
			seed = (seed*mul + add) & mask
			lo := uint32(seed>>16) >> 16
			pool[w] = hi<<16 | lo
		}
	case 2:
		const gamma uint64 = 0x9E3779B97F4A7C15
		seed := uint64(phi^ahi)<<32 | uint64(plo^alo)
		s0, s1 := mix64(seed+gamma), mix64(seed+gamma+gamma)
		next := func() uint32 {
			a, b := s0, s1
			s0 = b
			a ^= a << 23
			s1 = a ^ b ^ a>>17 ^ b>>26
			return uint32((s1 + b) >> 32)
		}
		for w := range pool {
			hi := next() >> 16
			lo := next() >> 16
			pool[w] = hi<<16 | lo
		}
	case 3:
		var mt twister
		mt.init(plo ^ phi ^ alo ^ ahi)
		for w := range pool {
			hi := mt.next() >> 16
			lo := mt.next() >> 16
			pool[w] = hi<<16 | lo
		}
	}
}

func mix64(z uint64) uint64 {
	z = (z ^ z>>30) * 0xBF58476D1CE4E5B9
	z = (z ^ z>>27) * 0x94D049BB133111EB
	return z ^ z>>31
}

// twister is MT19937 with whole-array regeneration.
type twister struct {
	mt  [624]uint32
	idx int
}

func (t *twister) init(seed uint32) {
	t.mt[0] = seed
	for i := 1; i < 624; i++ {
		t.mt[i] = 1812433253*(t.mt[i-1]^t.mt[i-1]>>30) + uint32(i)
	}
	t.idx = 624
}

func (t *twister) next() uint32 {
	if t.idx >= 624 {
		for i := 0; i < 624; i++ {
			y := t.mt[i]&0x80000000 | t.mt[(i+1)%624]&0x7fffffff
			v := t.mt[(i+397)%624] ^ y>>1
			if y&1 != 0 {
				v ^= 0x9908b0df
			}
			t.mt[i] = v
		}
		t.idx = 0
	}
	y := t.mt[t.idx]
	t.idx++
	y ^= y >> 11
	y ^= y << 7 & 0x9d2c5680
	y ^= y << 15 & 0xefc60000
	y ^= y >> 18
	return y
}
