package clanbench

import (
	"fmt"
	"math"
	"strings"
	"testing"
)

// AssertConverged verifies that every counter's balance equals want.
//
// After a strategy run from a drained baseline, want is the workload sum:
// each counter accumulated the whole workload exactly once.
func AssertConverged(t *testing.T, counters []*Counter, want int64) {
	t.Helper()

	var failures []string
	for _, c := range counters {
		if got := c.Balance(); got != want {
			failures = append(failures, fmt.Sprintf("  counter %d: balance=%d", c.ID(), got))
		}
	}

	if len(failures) > 0 {
		t.Errorf("Counters did not converge to %d:\n%s", want, strings.Join(failures, "\n"))
		return
	}
	t.Logf("✓ Converged: %d counters at balance %d", len(counters), want)
}

// AssertDrained verifies that both accumulators of every counter are zero.
func AssertDrained(t *testing.T, counters []*Counter) {
	t.Helper()

	for _, c := range counters {
		s := c.Snapshot()
		if s.Balance != 0 || s.AtomicBalance != 0 {
			t.Errorf("Counter %d not drained: balance=%d, atomic=%d",
				s.ID, s.Balance, s.AtomicBalance)
		}
	}
}

// AssertReciprocal verifies ratio(a, b) == 1/ratio(b, a) for every pair,
// within a relative tolerance.
func AssertReciprocal(t *testing.T, cs []Comparison, tolerance float64) {
	t.Helper()

	index := make(map[[2]StrategyID]float64, len(cs))
	for _, c := range cs {
		index[[2]StrategyID{c.A, c.B}] = c.Ratio
	}

	for _, c := range cs {
		back, ok := index[[2]StrategyID{c.B, c.A}]
		if !ok {
			t.Errorf("Missing reverse pair for %s / %s", c.A, c.B)
			continue
		}
		want := 1 / back
		if math.IsInf(c.Ratio, 1) && math.IsInf(want, 1) {
			continue
		}
		if diff := math.Abs(c.Ratio - want); diff > tolerance*math.Max(1, math.Abs(want)) {
			t.Errorf("Ratios not reciprocal: %s/%s = %.6f, 1/(%s/%s) = %.6f",
				c.A, c.B, c.Ratio, c.B, c.A, want)
		}
	}
}

// PrintRound outputs a round's timings and throughput to the test log.
func PrintRound(t *testing.T, r RoundResult) {
	t.Helper()

	t.Logf("\n=== Round: %d increments x %d counters ===", r.Iterations, r.Counters)
	t.Logf("  Strategy        Elapsed       Increments/sec")
	t.Logf("  --------------  ------------  --------------")
	for _, id := range StrategyIDs() {
		d, ok := r.Timings[id]
		if !ok {
			continue
		}
		t.Logf("  %-14s  %12s  %14.0f", id, millis(d), r.Throughput(id))
	}
}
