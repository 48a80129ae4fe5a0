package clanbench

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	"golang.org/x/sync/errgroup"
)

// StrategyID names a synchronization strategy.
type StrategyID string

const (
	// IntrinsicLock drives each counter from one goroutine that spawns and
	// joins one goroutine per delta, each holding the counter's own lock.
	IntrinsicLock StrategyID = "intrinsic-lock"

	// ManagedPool submits one driver task per counter to a shared pool; the
	// drivers spawn and join per-delta goroutines under the counter's lock.
	ManagedPool StrategyID = "managed-pool"

	// LockFree spawns one goroutine per delta calling the atomic
	// accumulator, then folds it into balance.
	LockFree StrategyID = "lock-free"

	// ExplicitLock spawns one goroutine per delta, each holding a dedicated
	// lock taken from a table keyed by counter id.
	ExplicitLock StrategyID = "explicit-lock"
)

var declaredOrder = []StrategyID{IntrinsicLock, ManagedPool, LockFree, ExplicitLock}

// StrategyIDs returns every strategy in declared order.
func StrategyIDs() []StrategyID { return slices.Clone(declaredOrder) }

// ParseStrategyID validates s as a StrategyID.
func ParseStrategyID(s string) (StrategyID, error) {
	id := StrategyID(s)
	if !slices.Contains(declaredOrder, id) {
		return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, s)
	}
	return id, nil
}

// A Strategy applies a workload to a counter set under one exclusion
// mechanism. Apply blocks until every counter accumulated the whole workload
// once, or until it fails.
type Strategy interface {
	ID() StrategyID
	Apply(ctx context.Context, counters []*Counter, w Workload) error
}

// NewStrategy returns the strategy named id. Every Apply waits at most
// timeout for its work to finish; timeout <= 0 waits without bound.
func NewStrategy(id StrategyID, timeout time.Duration) (Strategy, error) {
	switch id {
	case IntrinsicLock:
		return intrinsicLock{timeout}, nil
	case ManagedPool:
		return managedPool{timeout}, nil
	case LockFree:
		return lockFree{timeout}, nil
	case ExplicitLock:
		return explicitLock{timeout}, nil
	}
	return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, id)
}

// NewStrategies returns the strategies named by ids, in the given order.
func NewStrategies(ids []StrategyID, timeout time.Duration) ([]Strategy, error) {
	out := make([]Strategy, 0, len(ids))
	for _, id := range ids {
		s, err := NewStrategy(id, timeout)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

type depositFunc func(ctx context.Context, delta int64) error

// lockedDeposit mutates balance while holding the counter's own lock.
func lockedDeposit(c *Counter) depositFunc {
	return func(ctx context.Context, delta int64) error {
		c.Lock()
		defer c.Unlock()
		return c.AddBalance(ctx, delta)
	}
}

type intrinsicLock struct{ timeout time.Duration }

func (intrinsicLock) ID() StrategyID { return IntrinsicLock }

func (s intrinsicLock) Apply(ctx context.Context, counters []*Counter, w Workload) error {
	return awaitWithin(ctx, s.timeout, func(ctx context.Context) error {
		for _, c := range counters {
			driver := taskgroup.Go(func() error {
				return applyJoined(ctx, c, w, lockedDeposit(c))
			})
			if err := driver.Wait(); err != nil {
				return err
			}
		}
		return nil
	})
}

type managedPool struct{ timeout time.Duration }

func (managedPool) ID() StrategyID { return ManagedPool }

func (s managedPool) Apply(ctx context.Context, counters []*Counter, w Workload) error {
	return awaitWithin(ctx, s.timeout, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		for _, c := range counters {
			g.Go(func() error {
				return applyJoined(gctx, c, w, lockedDeposit(c))
			})
		}
		return g.Wait()
	})
}

type lockFree struct{ timeout time.Duration }

func (lockFree) ID() StrategyID { return LockFree }

func (s lockFree) Apply(ctx context.Context, counters []*Counter, w Workload) error {
	return awaitWithin(ctx, s.timeout, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		for _, c := range counters {
			g.Go(func() error {
				return applyUnordered(gctx, c, w, c.AddAtomicBalance)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for _, c := range counters {
			if err := c.FoldAtomic(ctx); err != nil {
				return fmt.Errorf("fold counter %d: %w", c.ID(), err)
			}
		}
		return nil
	})
}

type explicitLock struct{ timeout time.Duration }

func (explicitLock) ID() StrategyID { return ExplicitLock }

func (s explicitLock) Apply(ctx context.Context, counters []*Counter, w Workload) error {
	locks := newLockTable(counters)
	return awaitWithin(ctx, s.timeout, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		for _, c := range counters {
			mu := locks.get(c.ID())
			g.Go(func() error {
				return applyUnordered(gctx, c, w, func(ctx context.Context, delta int64) error {
					mu.Lock()
					defer mu.Unlock()
					return c.AddBalance(ctx, delta)
				})
			})
		}
		return g.Wait()
	})
}

// lockTable holds one dedicated mutex per counter id. It is filled before
// any goroutine starts and only read afterwards.
type lockTable map[int64]*sync.Mutex

func newLockTable(counters []*Counter) lockTable {
	t := make(lockTable, len(counters))
	for _, c := range counters {
		t[c.ID()] = new(sync.Mutex)
	}
	return t
}

func (t lockTable) get(id int64) *sync.Mutex { return t[id] }

// applyJoined spawns one goroutine per delta and joins it before spawning
// the next, so deltas land one at a time in workload order.
func applyJoined(ctx context.Context, c *Counter, w Workload, deposit depositFunc) error {
	for i := 0; i < w.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return interrupted(c, i, err)
		}
		delta := w.At(i)
		if err := taskgroup.Go(func() error { return deposit(ctx, delta) }).Wait(); err != nil {
			return err
		}
	}
	return nil
}

// applyUnordered spawns one goroutine per delta without joining in between,
// then waits for all of them. Only the final sum is ordered. The first
// failing deposit stops further spawning.
func applyUnordered(ctx context.Context, c *Counter, w Workload, deposit depositFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g := taskgroup.New(cancel)
	for i := 0; i < w.Len(); i++ {
		if err := ctx.Err(); err != nil {
			if werr := g.Wait(); werr != nil {
				return werr
			}
			return interrupted(c, i, err)
		}
		delta := w.At(i)
		g.Go(func() error { return deposit(ctx, delta) })
	}
	return g.Wait()
}

func interrupted(c *Counter, i int, cause error) error {
	return fmt.Errorf("%w: counter %d at delta %d: %w", ErrInterrupted, c.ID(), i, cause)
}

// awaitWithin runs fn and waits at most timeout for it. On expiry the context
// passed to fn is cancelled, so no further goroutines are spawned, and
// ErrTimeout is returned without waiting for stragglers.
func awaitWithin(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	if timeout <= 0 {
		return <-done
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}
