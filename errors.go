package clanbench

import "errors"

var (
	// ErrTimeout reports that a strategy did not finish within its await bound.
	// The timing of that round is invalid, and so is the counter set:
	// goroutines of the timed-out strategy may still be mutating it.
	ErrTimeout = errors.New("clanbench: strategy await timeout exceeded")

	// ErrInterrupted reports that spawning or joining increment goroutines was
	// cut short by context cancellation.
	ErrInterrupted = errors.New("clanbench: strategy interrupted")

	// ErrWorkloadTooShort reports a round larger than the generated workload.
	ErrWorkloadTooShort = errors.New("clanbench: workload shorter than round size")

	// ErrBalanceMismatch reports a counter that did not accumulate the whole
	// workload exactly once.
	ErrBalanceMismatch = errors.New("clanbench: balance mismatch")

	// ErrCounterExists is returned by a Store when a counter identity is
	// created twice.
	ErrCounterExists = errors.New("clanbench: counter already exists")

	// ErrUnknownCounter is returned by a Store when updating a counter that was
	// never created.
	ErrUnknownCounter = errors.New("clanbench: unknown counter")

	// ErrInvalidConfig reports a Config that cannot drive a benchmark.
	ErrInvalidConfig = errors.New("clanbench: invalid config")
)
