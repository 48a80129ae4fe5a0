// Package clanbench compares ways of serializing concurrent updates to shared
// counters.
//
// # Overview
//
// A counter (a "clan") holds two accumulators: a plain balance that needs
// external exclusion and an atomic balance updated with fetch-and-add. Each
// benchmark round applies one reproducible workload of deltas to every
// counter with four strategies, times them, prints pairwise ratios and
// resets the counters before the next, larger round.
//
// Every delta runs on its own short-lived goroutine. The point is to expose
// the cost of goroutine creation plus the exclusion mechanism, so the work is
// never batched.
//
// # Strategies
//
//   - intrinsic-lock - per counter, one driver goroutine spawns and joins one
//     goroutine per delta, each holding the counter's own lock
//   - managed-pool   - same lock discipline, drivers submitted to a pool
//   - lock-free      - per-delta goroutines on the atomic accumulator, no
//     lock, folded into balance at the end
//   - explicit-lock  - per-delta goroutines holding a dedicated lock keyed by
//     counter id
//
// The first two apply a counter's deltas one at a time in workload order.
// The last two spawn all of a counter's goroutines before waiting, so only
// the final sum is ordered.
//
// # Quick Start
//
//	st := store.NewMemory()
//	rec := clanbench.NewRecorder(st, clanbench.FailFast, slog.Default())
//	counters, err := clanbench.LoadCounters(ctx, st, 10, rec)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	runner, err := clanbench.NewRunner(clanbench.DefaultConfig(), counters)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	rounds, err := runner.Run(ctx)
//
// # Persistence
//
// Every mutation synchronously updates the counter's stored snapshot and
// appends one audit entry through a [Store]. A slow store inflates measured
// latency; that is accepted rather than hidden behind asynchronous writes.
// [WritePolicy] decides whether a failed write aborts the round (FailFast)
// or is logged and ignored (BestEffort).
//
// # Failure
//
// A strategy that does not finish within Config.AwaitTimeout fails with
// [ErrTimeout]; cancellation while spawning or joining fails with
// [ErrInterrupted]. Nothing is retried: a retry would corrupt the timing
// comparison.
package clanbench
