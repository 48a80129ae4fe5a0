package clanbench

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Cause labels why a counter balance changed.
type Cause string

const (
	CauseDeposit       Cause = "deposit"        // AddBalance
	CauseAtomicDeposit Cause = "atomic-deposit" // AddAtomicBalance
	CauseFold          Cause = "fold"           // atomic balance folded into balance
	CauseReset         Cause = "reset"          // both accumulators zeroed
)

// Snapshot is the persisted view of a counter.
type Snapshot struct {
	ID            int64
	Name          string
	Balance       int64
	AtomicBalance int64
}

// AuditEntry is one immutable balance-changing event.
type AuditEntry struct {
	CounterID     int64
	Cause         Cause
	BalanceBefore int64
	BalanceAfter  int64
	Delta         int64
	Time          time.Time
}

// Store persists counters and their audit history.
type Store interface {
	LoadAllCounters(ctx context.Context) ([]Snapshot, error)
	CreateCounter(ctx context.Context, s Snapshot) error
	UpdateCounter(ctx context.Context, s Snapshot) error
	AppendAuditEntry(ctx context.Context, e AuditEntry) error
	ReadAuditEntries(ctx context.Context, counterID int64) ([]string, error)
}

// WritePolicy selects how store errors on the mutation path are handled.
type WritePolicy int

const (
	// FailFast returns the store error from the mutating call.
	FailFast WritePolicy = iota
	// BestEffort logs the store error and reports success.
	BestEffort
)

func (p WritePolicy) String() string {
	switch p {
	case FailFast:
		return "fail-fast"
	case BestEffort:
		return "best-effort"
	default:
		return fmt.Sprintf("WritePolicy(%d)", int(p))
	}
}

// ParseWritePolicy parses the String form of a WritePolicy.
func ParseWritePolicy(s string) (WritePolicy, error) {
	switch s {
	case "fail-fast":
		return FailFast, nil
	case "best-effort":
		return BestEffort, nil
	}
	return 0, fmt.Errorf("%w: unknown write policy %q", ErrInvalidConfig, s)
}

// Recorder forwards counter changes to a Store under a WritePolicy.
// A nil *Recorder records nothing.
type Recorder struct {
	store  Store
	policy WritePolicy
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder returns a Recorder writing to store. A nil logger means
// slog.Default().
func NewRecorder(store Store, policy WritePolicy, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, policy: policy, logger: logger, now: time.Now}
}

// Store returns the underlying store.
func (r *Recorder) Store() Store {
	if r == nil {
		return nil
	}
	return r.store
}

// record writes the snapshot update and the audit entry, in that order.
func (r *Recorder) record(ctx context.Context, s Snapshot, cause Cause, before, after, delta int64) error {
	if r == nil || r.store == nil {
		return nil
	}
	if err := r.store.UpdateCounter(ctx, s); err != nil {
		return r.fail(fmt.Errorf("update counter %d: %w", s.ID, err))
	}
	e := AuditEntry{
		CounterID:     s.ID,
		Cause:         cause,
		BalanceBefore: before,
		BalanceAfter:  after,
		Delta:         delta,
		Time:          r.now(),
	}
	if err := r.store.AppendAuditEntry(ctx, e); err != nil {
		return r.fail(fmt.Errorf("append audit entry for counter %d: %w", s.ID, err))
	}
	return nil
}

func (r *Recorder) fail(err error) error {
	if r.policy == BestEffort {
		r.logger.Error("store write failed", "err", err)
		return nil
	}
	return err
}

// idSeq mints counter identities. It only ever grows.
var idSeq = atomic.NewInt64(0)

func nextID() int64 { return idSeq.Inc() }

// observeID advances idSeq so that it is at least id.
func observeID(id int64) {
	for {
		cur := idSeq.Load()
		if cur >= id || idSeq.CompareAndSwap(cur, id) {
			return
		}
	}
}

// A Counter is a shared clan balance under test. It carries two independent
// accumulators: balance, guarded by whatever exclusion the caller chooses,
// and atomicBalance, updated with a lock-free fetch-and-add.
//
// A Counter must not be copied.
type Counter struct {
	id   int64
	name string

	mu      sync.Mutex // the counter's own lock
	balance int64

	atomicBalance atomic.Int64

	rec *Recorder
}

// NewCounter mints a counter with the next process-wide id.
func NewCounter(name string, rec *Recorder) *Counter {
	return &Counter{id: nextID(), name: name, rec: rec}
}

// RestoreCounter rebuilds a persisted counter. Restoring does not record a
// change.
func RestoreCounter(s Snapshot, rec *Recorder) *Counter {
	observeID(s.ID)
	c := &Counter{id: s.ID, name: s.Name, balance: s.Balance, rec: rec}
	c.atomicBalance.Store(s.AtomicBalance)
	return c
}

// ID returns the counter identity.
func (c *Counter) ID() int64 { return c.id }

// Name returns the counter name.
func (c *Counter) Name() string { return c.name }

// Lock acquires the counter's own lock.
func (c *Counter) Lock() { c.mu.Lock() }

// Unlock releases the counter's own lock.
func (c *Counter) Unlock() { c.mu.Unlock() }

// Balance reads balance under the counter's lock.
func (c *Counter) Balance() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance
}

// AtomicBalance loads the lock-free accumulator.
func (c *Counter) AtomicBalance() int64 { return c.atomicBalance.Load() }

// Snapshot returns the counter state, read under the counter's lock.
func (c *Counter) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Counter) snapshot() Snapshot {
	return Snapshot{
		ID:            c.id,
		Name:          c.name,
		Balance:       c.balance,
		AtomicBalance: c.atomicBalance.Load(),
	}
}

// AddBalance adds delta to balance and records the change.
//
// AddBalance is not synchronized: the caller must hold the counter lock or
// an equivalent exclusion for the whole call.
func (c *Counter) AddBalance(ctx context.Context, delta int64) error {
	before := c.balance
	c.balance += delta
	return c.rec.record(ctx, c.snapshot(), CauseDeposit, before, c.balance, delta)
}

// AddAtomicBalance adds delta to the lock-free accumulator and records the
// change. It is safe for any number of concurrent callers.
func (c *Counter) AddAtomicBalance(ctx context.Context, delta int64) error {
	after := c.atomicBalance.Add(delta)
	// balance has no writer while atomic deposits are in flight.
	s := Snapshot{ID: c.id, Name: c.name, Balance: c.balance, AtomicBalance: after}
	return c.rec.record(ctx, s, CauseAtomicDeposit, after-delta, after, delta)
}

// FoldAtomic adds the atomic accumulator into balance under the counter lock.
func (c *Counter) FoldAtomic(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delta := c.atomicBalance.Load()
	before := c.balance
	c.balance += delta
	return c.rec.record(ctx, c.snapshot(), CauseFold, before, c.balance, delta)
}

// Reset zeroes both accumulators under the counter lock and records a single
// audit entry.
func (c *Counter) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := c.balance
	c.balance = 0
	c.atomicBalance.Store(0)
	return c.rec.record(ctx, c.snapshot(), CauseReset, before, 0, -before)
}

// String renders the counter the way the runner prints it.
func (c *Counter) String() string { return formatSnapshot(c.Snapshot()) }

func formatSnapshot(s Snapshot) string {
	return fmt.Sprintf("ID: %03d; name: %s; balance: %d; atomic: %d",
		s.ID, s.Name, s.Balance, s.AtomicBalance)
}

// LoadCounters returns the counters persisted in store. If the store holds
// none, it mints n counters named ClanName_0..ClanName_{n-1}, creates them in
// the store and returns them. A nil store yields n fresh in-memory counters.
func LoadCounters(ctx context.Context, store Store, n int, rec *Recorder) ([]*Counter, error) {
	if store != nil {
		snaps, err := store.LoadAllCounters(ctx)
		if err != nil {
			return nil, fmt.Errorf("load counters: %w", err)
		}
		if len(snaps) > 0 {
			counters := make([]*Counter, 0, len(snaps))
			for _, s := range snaps {
				counters = append(counters, RestoreCounter(s, rec))
			}
			return counters, nil
		}
	}

	counters := make([]*Counter, 0, n)
	for i := 0; i < n; i++ {
		c := NewCounter(fmt.Sprintf("ClanName_%d", i), rec)
		if store != nil {
			if err := store.CreateCounter(ctx, c.Snapshot()); err != nil {
				return nil, fmt.Errorf("create counter %d: %w", c.ID(), err)
			}
		}
		counters = append(counters, c)
	}
	return counters, nil
}
