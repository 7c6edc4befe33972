package shuffle

import "math/rand"

// The shuffle order is never transmitted over the wire; server and clients
// each recompute it locally from a shared seed. That makes the PRNG part of
// the protocol: every side must run the exact same xorshift32 bit mixing, so
// a library RNG can never be substituted here.

// zeroSeedSubstitute replaces a zero seed, which would lock xorshift32 in its
// degenerate all-zero state.
const zeroSeedSubstitute uint32 = 2463534242

// Rand is a deterministic xorshift32 generator.
type Rand struct {
	state uint32
}

// NewRand seeds a generator. A zero seed is replaced with a fixed non-zero
// constant.
func NewRand(seed uint32) *Rand {
	if seed == 0 {
		seed = zeroSeedSubstitute
	}
	return &Rand{state: seed}
}

// Float64 returns the next value in [0, 1).
func (r *Rand) Float64() float64 {
	x := r.state
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	r.state = x
	return float64(x) / 4294967296.0
}

// IntN returns an integer in [0, n).
func (r *Rand) IntN(n int) int {
	return int(r.Float64() * float64(n))
}

// Items returns a new slice holding items permuted by a Fisher-Yates walk
// driven by seed. The input slice is not modified. Identical (items, seed)
// always produce an identical order.
func Items[T any](items []T, seed uint32) []T {
	out := make([]T, len(items))
	copy(out, items)
	r := NewRand(seed)
	for i := len(out) - 1; i > 0; i-- {
		j := r.IntN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// NewSeed picks a seed for a fresh shuffle. Only the seed's distribution
// matters here, not its algorithm; the seed itself is what gets broadcast.
func NewSeed() uint32 {
	return rand.Uint32()
}
