// Package sampling holds the weighted random choice used for cluster lengths,
// starters, responders and next tokens.
package sampling

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

var ErrNoWeight = errors.New("no positive weight to sample from")

// NewRand returns a PCG-backed source. A zero seed draws one from the clock.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// ChooseIndex picks an index with probability proportional to its weight.
// Negative and NaN weights count as zero.
func ChooseIndex(rng *rand.Rand, weights []float64) (int, error) {
	var total float64
	last := -1
	for i, w := range weights {
		if w > 0 && !math.IsInf(w, 0) {
			total += w
			last = i
		}
	}
	if last < 0 {
		return 0, ErrNoWeight
	}

	r := rng.Float64() * total
	for i, w := range weights {
		if !(w > 0) || math.IsInf(w, 0) {
			continue
		}
		r -= w
		if r < 0 {
			return i, nil
		}
	}
	// float accumulation can leave r at a hair above zero
	return last, nil
}

// Choose picks an item with probability proportional to weight(item).
func Choose[T any](rng *rand.Rand, items []T, weight func(T) float64) (T, error) {
	weights := make([]float64, len(items))
	for i, it := range items {
		weights[i] = weight(it)
	}

	idx, err := ChooseIndex(rng, weights)
	if err != nil {
		var zero T
		return zero, err
	}
	return items[idx], nil
}

// Uniform picks one item with equal probability.
func Uniform[T any](rng *rand.Rand, items []T) (T, error) {
	if len(items) == 0 {
		var zero T
		return zero, ErrNoWeight
	}
	return items[rng.IntN(len(items))], nil
}

// IntBetween returns a uniform integer in [lo, hi].
func IntBetween(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.IntN(hi-lo+1)
}
