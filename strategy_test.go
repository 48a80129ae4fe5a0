package clanbench

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
)

// applyFresh drains counters and applies id once.
func applyFresh(t *testing.T, id StrategyID, counters []*Counter, w Workload, timeout time.Duration) error {
	t.Helper()
	ctx := context.Background()
	for _, c := range counters {
		if err := c.Reset(ctx); err != nil {
			t.Fatalf("Reset failed: %v", err)
		}
	}
	s, err := NewStrategy(id, timeout)
	if err != nil {
		t.Fatalf("NewStrategy(%s) failed: %v", id, err)
	}
	return s.Apply(ctx, counters, w)
}

// TestStrategies_ConstantWorkload runs every strategy over 3 counters and
// 500 increments of 1.
func TestStrategies_ConstantWorkload(t *testing.T) {
	w := GenerateWorkload(500, false, 0)

	for _, id := range StrategyIDs() {
		t.Run(string(id), func(t *testing.T) {
			defer leaktest.Check(t)()

			counters := newTestCounters(t, newFakeStore(), FailFast, 3)
			if err := applyFresh(t, id, counters, w, 10*time.Second); err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			AssertConverged(t, counters, 500)
		})
	}
}

// TestStrategies_SeededWorkload checks convergence to the workload sum with
// pseudo-random deltas and a store that records every change.
func TestStrategies_SeededWorkload(t *testing.T) {
	w := GenerateWorkload(300, true, 2024)

	for _, id := range StrategyIDs() {
		t.Run(string(id), func(t *testing.T) {
			defer leaktest.Check(t)()

			st := newFakeStore()
			counters := newTestCounters(t, st, FailFast, 4)
			if err := applyFresh(t, id, counters, w, 10*time.Second); err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			AssertConverged(t, counters, w.Sum())

			for _, c := range counters {
				if got := st.counters[c.ID()].Balance; got != w.Sum() {
					t.Errorf("Counter %d persisted balance %d, want %d", c.ID(), got, w.Sum())
				}
			}
		})
	}
}

func TestStrategies_NoCounters(t *testing.T) {
	w := GenerateWorkload(100, false, 0)
	for _, id := range StrategyIDs() {
		if err := applyFresh(t, id, nil, w, time.Second); err != nil {
			t.Errorf("%s over no counters: %v", id, err)
		}
	}
}

func TestStrategies_EmptyWorkload(t *testing.T) {
	for _, id := range StrategyIDs() {
		counters := newTestCounters(t, nil, FailFast, 2)
		if err := applyFresh(t, id, counters, Workload{}, time.Second); err != nil {
			t.Errorf("%s over empty workload: %v", id, err)
		}
		AssertConverged(t, counters, 0)
	}
}

// TestStrategies_Timeout verifies a stalled store trips the await bound.
func TestStrategies_Timeout(t *testing.T) {
	w := GenerateWorkload(20, false, 0)

	for _, id := range StrategyIDs() {
		t.Run(string(id), func(t *testing.T) {
			st := newFakeStore()
			counters := newTestCounters(t, st, FailFast, 2)
			st.release = make(chan struct{})

			s, _ := NewStrategy(id, 20*time.Millisecond)
			start := time.Now()
			err := s.Apply(context.Background(), counters, w)
			close(st.release)

			if !errors.Is(err, ErrTimeout) {
				t.Fatalf("Expected ErrTimeout, got %v", err)
			}
			if elapsed := time.Since(start); elapsed > 5*time.Second {
				t.Errorf("Timeout returned after %v", elapsed)
			}
			t.Logf("✓ %s: %v", id, err)
		})
	}
}

// TestStrategies_Interrupted verifies a cancelled context is reported as an
// interruption that still wraps the context error.
func TestStrategies_Interrupted(t *testing.T) {
	w := GenerateWorkload(50, false, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, id := range StrategyIDs() {
		t.Run(string(id), func(t *testing.T) {
			defer leaktest.Check(t)()

			counters := newTestCounters(t, nil, FailFast, 2)
			s, _ := NewStrategy(id, time.Second)
			err := s.Apply(ctx, counters, w)

			if !errors.Is(err, ErrInterrupted) {
				t.Errorf("Expected ErrInterrupted, got %v", err)
			}
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Expected context.Canceled in chain, got %v", err)
			}
		})
	}
}

func TestStrategies_StoreFailure(t *testing.T) {
	errBoom := errors.New("store offline")
	w := GenerateWorkload(30, false, 0)

	for _, id := range StrategyIDs() {
		t.Run(string(id)+"/fail-fast", func(t *testing.T) {
			st := newFakeStore()
			counters := newTestCounters(t, st, FailFast, 2)
			st.failAppend = errBoom

			s, _ := NewStrategy(id, 5*time.Second)
			if err := s.Apply(context.Background(), counters, w); !errors.Is(err, errBoom) {
				t.Errorf("Expected %v, got %v", errBoom, err)
			}
		})

		t.Run(string(id)+"/best-effort", func(t *testing.T) {
			st := newFakeStore()
			counters := newTestCounters(t, st, BestEffort, 2)
			st.failAppend = errBoom

			s, _ := NewStrategy(id, 5*time.Second)
			if err := s.Apply(context.Background(), counters, w); err != nil {
				t.Fatalf("Expected best-effort success, got %v", err)
			}
			AssertConverged(t, counters, 30)
		})
	}
}

// TestApplyJoined_PreservesOrder verifies joined deltas land one at a time
// in workload order.
func TestApplyJoined_PreservesOrder(t *testing.T) {
	w := GenerateWorkload(200, true, 9)
	c := NewCounter("ordered", nil)

	var (
		mu       sync.Mutex
		seen     []int64
		inFlight int
		overlap  bool
	)
	deposit := func(_ context.Context, delta int64) error {
		mu.Lock()
		inFlight++
		if inFlight > 1 {
			overlap = true
		}
		seen = append(seen, delta)
		mu.Unlock()

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}

	if err := applyJoined(context.Background(), c, w, deposit); err != nil {
		t.Fatal(err)
	}
	if overlap {
		t.Error("Joined deposits overlapped")
	}
	want := w.Deltas()
	if len(seen) != len(want) {
		t.Fatalf("Expected %d deposits, got %d", len(want), len(seen))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("Deposit %d: got %d, want %d", i, seen[i], want[i])
		}
	}
}

// TestApplyUnordered_FailureCancelsRest verifies the first failing deposit
// cancels the context seen by the others and its error is returned.
func TestApplyUnordered_FailureCancelsRest(t *testing.T) {
	defer leaktest.Check(t)()

	errBoom := errors.New("store offline")
	w := GenerateWorkload(1000, false, 0)
	c := NewCounter("failing", nil)

	var (
		mu        sync.Mutex
		calls     int
		cancelled int
	)
	deposit := func(ctx context.Context, _ int64) error {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			return errBoom
		}
		select {
		case <-ctx.Done():
			mu.Lock()
			cancelled++
			mu.Unlock()
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("deposit context never cancelled")
		}
	}

	err := applyUnordered(context.Background(), c, w, deposit)
	if !errors.Is(err, errBoom) {
		t.Fatalf("Expected %v, got %v", errBoom, err)
	}
	if errors.Is(err, ErrInterrupted) {
		t.Errorf("Store failure reported as interruption: %v", err)
	}
	if cancelled != calls-1 {
		t.Errorf("Expected every other deposit to see cancellation: %d of %d", cancelled, calls-1)
	}
	t.Logf("✓ %d of %d deposits started before spawning stopped", calls, w.Len())
}

func TestLockTable_OneMutexPerCounter(t *testing.T) {
	counters := newTestCounters(t, nil, FailFast, 5)
	locks := newLockTable(counters)

	if len(locks) != 5 {
		t.Fatalf("Expected 5 locks, got %d", len(locks))
	}
	seen := make(map[*sync.Mutex]bool)
	for _, c := range counters {
		mu := locks.get(c.ID())
		if mu == nil {
			t.Fatalf("No lock for counter %d", c.ID())
		}
		if seen[mu] {
			t.Errorf("Counter %d shares a lock", c.ID())
		}
		seen[mu] = true
	}
}

func TestParseStrategyID(t *testing.T) {
	for _, id := range StrategyIDs() {
		if got, err := ParseStrategyID(string(id)); err != nil || got != id {
			t.Errorf("ParseStrategyID(%q) = %q, %v", id, got, err)
		}
	}
	if _, err := ParseStrategyID("spinlock"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
	if _, err := NewStrategy("spinlock", time.Second); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewStrategy: expected ErrInvalidConfig, got %v", err)
	}
}

func TestAwaitWithin(t *testing.T) {
	t.Run("completes", func(t *testing.T) {
		err := awaitWithin(context.Background(), time.Second, func(context.Context) error { return nil })
		if err != nil {
			t.Errorf("Expected nil, got %v", err)
		}
	})

	t.Run("expires and cancels", func(t *testing.T) {
		cancelled := make(chan struct{})
		err := awaitWithin(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
			<-ctx.Done()
			close(cancelled)
			return ctx.Err()
		})
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("Expected ErrTimeout, got %v", err)
		}
		select {
		case <-cancelled:
		case <-time.After(time.Second):
			t.Error("Work context was not cancelled after timeout")
		}
	})

	t.Run("unbounded", func(t *testing.T) {
		err := awaitWithin(context.Background(), 0, func(context.Context) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		})
		if err != nil {
			t.Errorf("Expected nil, got %v", err)
		}
	})
}
