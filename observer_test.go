package clanbench

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsObserver_Callbacks(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewMetricsObserver(reg, 3)

	obs.OnStrategyDone(500, LockFree, 20*time.Millisecond, nil)
	obs.OnStrategyDone(500, LockFree, 30*time.Millisecond, nil)
	obs.OnStrategyDone(500, ExplicitLock, time.Second, errors.New("boom"))
	obs.OnRoundDone(RoundResult{})

	if got := testutil.ToFloat64(obs.increments.WithLabelValues(string(LockFree))); got != 3000 {
		t.Errorf("lock-free increments: got %v, want 3000", got)
	}
	if got := testutil.ToFloat64(obs.failures.WithLabelValues(string(ExplicitLock))); got != 1 {
		t.Errorf("explicit-lock failures: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(obs.increments.WithLabelValues(string(ExplicitLock))); got != 0 {
		t.Errorf("Failed run counted increments: %v", got)
	}
	if got := testutil.ToFloat64(obs.rounds); got != 1 {
		t.Errorf("rounds: got %v, want 1", got)
	}
	if n := testutil.CollectAndCount(obs.duration); n != 1 {
		t.Errorf("Expected 1 duration series, got %d", n)
	}
}

// TestMetricsObserver_WithRunner wires the observer into a real round.
func TestMetricsObserver_WithRunner(t *testing.T) {
	reg := prometheus.NewRegistry()
	counters := newTestCounters(t, nil, FailFast, 2)
	obs := NewMetricsObserver(reg, len(counters))

	r, err := NewRunner(testConfig(50), counters, WithOutput(io.Discard), WithObserver(obs))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, id := range StrategyIDs() {
		if got := testutil.ToFloat64(obs.increments.WithLabelValues(string(id))); got != 100 {
			t.Errorf("%s increments: got %v, want 100", id, got)
		}
	}
	if n := testutil.CollectAndCount(obs.duration, "clanbench_strategy_duration_seconds"); n != 4 {
		t.Errorf("Expected 4 duration series, got %d", n)
	}
	if got := testutil.ToFloat64(obs.rounds); got != 1 {
		t.Errorf("rounds: got %v, want 1", got)
	}
}
