package random

import "math/rand"

// Source is the random capability consumed by creators, operators and the
// evolutionary loop. *rand.Rand satisfies it.
type Source interface {
	Intn(n int) int
	Float64() float64
}

// New returns a deterministic source seeded with seed.
func New(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// Roulette picks an index proportionally to weights. Negative weights count as
// zero. When the total weight is zero the pick is uniform. It returns -1 for an
// empty slice.
func Roulette(rng Source, weights []float64) int {
	if len(weights) == 0 {
		return -1
	}
	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return rng.Intn(len(weights))
	}
	pick := rng.Float64() * total
	acc := 0.0
	last := -1
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		acc += w
		last = i
		if pick < acc {
			return i
		}
	}
	return last
}

// Perm returns a pseudo-random permutation of [0, n) drawn from rng.
func Perm(rng Source, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Gaussian draws a normally distributed value using the Box-Muller transform so
// that only Float64 draws are consumed from rng.
func Gaussian(rng Source, mean, sigma float64) float64 {
	u1 := rng.Float64()
	for u1 <= 0 {
		u1 = rng.Float64()
	}
	u2 := rng.Float64()
	return mean + sigma*boxMuller(u1, u2)
}
