package clanbench

import (
	"fmt"
	"math/rand/v2"
)

// maxDelta bounds seeded deltas: each one is drawn from [0, maxDelta).
const maxDelta = 1000

// Workload is an immutable ordered sequence of increment deltas. The same
// Workload is replayed against every strategy and every counter of a round.
type Workload struct {
	deltas []int64
	seed   uint64
	seeded bool
}

// GenerateWorkload produces count deltas.
//
// With seeded == false every delta is 1, so the expected final balance of a
// counter is simply count. With seeded == true the deltas are drawn from a PCG
// source in [0, 1000); the same non-zero seed always yields the same
// sequence, and seed == 0 picks one at random.
func GenerateWorkload(count int, seeded bool, seed uint64) Workload {
	if count < 0 {
		count = 0
	}
	w := Workload{deltas: make([]int64, count), seeded: seeded}

	if !seeded {
		for i := range w.deltas {
			w.deltas[i] = 1
		}
		return w
	}

	if seed == 0 {
		seed = rand.Uint64() | 1
	}
	w.seed = seed
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for i := range w.deltas {
		w.deltas[i] = int64(rng.IntN(maxDelta))
	}
	return w
}

// Len returns the number of deltas.
func (w Workload) Len() int { return len(w.deltas) }

// At returns the i-th delta.
func (w Workload) At(i int) int64 { return w.deltas[i] }

// Seeded reports whether the deltas are pseudo-random.
func (w Workload) Seeded() bool { return w.seeded }

// Seed returns the seed used for a seeded workload, or 0.
func (w Workload) Seed() uint64 { return w.seed }

// Sum returns the total of all deltas: the amount every counter must gain
// from one strategy run.
func (w Workload) Sum() int64 {
	var sum int64
	for _, d := range w.deltas {
		sum += d
	}
	return sum
}

// Prefix returns a Workload holding the first n deltas. The backing array is
// shared; Workload never exposes it for writing.
func (w Workload) Prefix(n int) (Workload, error) {
	if n < 0 || n > len(w.deltas) {
		return Workload{}, fmt.Errorf("%w: want %d, have %d", ErrWorkloadTooShort, n, len(w.deltas))
	}
	return Workload{deltas: w.deltas[:n:n], seed: w.seed, seeded: w.seeded}, nil
}

// Deltas returns a copy of the sequence.
func (w Workload) Deltas() []int64 {
	out := make([]int64, len(w.deltas))
	copy(out, w.deltas)
	return out
}
