// Package keygen reproduces the private key generator of BitcoinJS v0.1.3.
//
// The library fell back to Math.random whenever window.crypto was missing,
// filled a 256-byte pool with 16-bit samples, folded the current time into
// the first four bytes and keyed ARC4 with the pool. The first 32 bytes of
// keystream became the private key.
package keygen

import (
	"crypto/rc4"

	"github.com/wille/randstorm/internal/prng"
)

const (
	// PoolSize is the size of the SecureRandom entropy pool.
	PoolSize = 256
	// KeySize is the size of a secp256k1 private key.
	KeySize = 32

	samples = PoolSize / 2
)

// FillPool writes the entropy pool for one candidate.
func FillPool(kind prng.Kind, m prng.SeedMaterial, timestampMs uint64, pool *[PoolSize]byte) {
	var outs [samples]uint32
	prng.Fill(kind, m, outs[:])

	for i, out := range outs {
		r := prng.Sample16(out)
		pool[2*i] = byte(r >> 8)
		pool[2*i+1] = byte(r)
	}

	// rng_seed_time: low 32 bits of the clock, little endian.
	ts := uint32(timestampMs)
	pool[0] ^= byte(ts)
	pool[1] ^= byte(ts >> 8)
	pool[2] ^= byte(ts >> 16)
	pool[3] ^= byte(ts >> 24)
}

// Generate writes the private key for one candidate into key. The pool is
// scrubbed before returning.
func Generate(kind prng.Kind, m prng.SeedMaterial, timestampMs uint64, key *[KeySize]byte) {
	var pool [PoolSize]byte
	defer Scrub(pool[:])

	FillPool(kind, m, timestampMs, &pool)

	// A 256-byte key is always within rc4's accepted range.
	c, _ := rc4.NewCipher(pool[:])
	defer c.Reset()

	clear(key[:])
	c.XORKeyStream(key[:], key[:])
}

// Scrub overwrites b with zeros.
func Scrub(b []byte) {
	clear(b)
}

// IsZero reports whether every byte of b is zero.
func IsZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
