package clanbench

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"
	"sort"
	"time"
)

// Config controls a benchmark run. It is fixed before the run starts.
type Config struct {
	InitialIterations int           // Workload size of the first round
	FinalIterations   int           // Inclusive ceiling on the workload size
	GrowthFactor      int           // Multiplier between rounds (≥ 2)
	Seeded            bool          // Pseudo-random deltas instead of constant 1
	Seed              uint64        // PCG seed (0 = random)
	AwaitTimeout      time.Duration // Bound on each strategy's completion wait
	Counters          int           // Counters minted when the store is empty

	// RegenerateEachRound draws a fresh workload for every round instead of
	// slicing the one generated at start.
	RegenerateEachRound bool

	// DrainBetweenStrategies zeroes every counter before each strategy so
	// each one starts from the same baseline.
	DrainBetweenStrategies bool

	WritePolicy   WritePolicy  // Handling of store errors on mutation
	PrintAuditLog bool         // Print each counter's audit log before reset
	Strategies    []StrategyID // Strategies to run, in order
}

// DefaultConfig returns the reference settings.
func DefaultConfig() Config {
	return Config{
		InitialIterations:      1000,
		FinalIterations:        1000,
		GrowthFactor:           10,
		Seeded:                 true,
		AwaitTimeout:           150 * time.Second,
		Counters:               10,
		DrainBetweenStrategies: true,
		WritePolicy:            FailFast,
		Strategies:             StrategyIDs(),
	}
}

// Validate reports whether c can drive a benchmark.
func (c Config) Validate() error {
	switch {
	case c.InitialIterations < 1:
		return fmt.Errorf("%w: initial iterations %d < 1", ErrInvalidConfig, c.InitialIterations)
	case c.FinalIterations < c.InitialIterations:
		return fmt.Errorf("%w: final iterations %d < initial %d", ErrInvalidConfig, c.FinalIterations, c.InitialIterations)
	case c.GrowthFactor < 2:
		return fmt.Errorf("%w: growth factor %d < 2", ErrInvalidConfig, c.GrowthFactor)
	case c.AwaitTimeout <= 0:
		return fmt.Errorf("%w: await timeout %v must be positive", ErrInvalidConfig, c.AwaitTimeout)
	case c.Counters < 0:
		return fmt.Errorf("%w: negative counter count %d", ErrInvalidConfig, c.Counters)
	case len(c.Strategies) == 0:
		return fmt.Errorf("%w: no strategies", ErrInvalidConfig)
	}
	seen := make(map[StrategyID]bool, len(c.Strategies))
	for _, id := range c.Strategies {
		if _, err := ParseStrategyID(string(id)); err != nil {
			return err
		}
		if seen[id] {
			return fmt.Errorf("%w: strategy %q listed twice", ErrInvalidConfig, id)
		}
		seen[id] = true
	}
	return nil
}

// Sizes lists the workload size of every round.
func (c Config) Sizes() []int {
	var sizes []int
	if c.InitialIterations < 1 || c.GrowthFactor < 2 {
		return nil
	}
	for n := c.InitialIterations; n <= c.FinalIterations; n *= c.GrowthFactor {
		sizes = append(sizes, n)
		if n > math.MaxInt/c.GrowthFactor {
			break
		}
	}
	return sizes
}

// RoundResult records one round: every strategy at one workload size.
type RoundResult struct {
	Iterations  int
	Counters    int
	Started     time.Time
	Finished    time.Time
	Timings     TimingTable
	Comparisons []Comparison
}

// Increments returns the number of deltas applied by each strategy.
func (r RoundResult) Increments() int { return r.Iterations * r.Counters }

// Throughput returns increments per second for strategy id, or 0 when the
// strategy did not run or took no measurable time.
func (r RoundResult) Throughput(id StrategyID) float64 {
	d, ok := r.Timings[id]
	if !ok || d <= 0 {
		return 0
	}
	return float64(r.Increments()) / d.Seconds()
}

// AuditReader renders a counter's audit history.
type AuditReader interface {
	ReadAuditEntries(ctx context.Context, counterID int64) ([]string, error)
}

// An Option configures a Runner.
type Option func(*Runner)

// WithOutput sets the console writer. The default is os.Stdout.
func WithOutput(w io.Writer) Option { return func(r *Runner) { r.out = w } }

// WithLogger sets the diagnostic logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) Option { return func(r *Runner) { r.obs = o } }

// WithAuditReader sets where audit logs are read from when
// Config.PrintAuditLog is set.
func WithAuditReader(a AuditReader) Option { return func(r *Runner) { r.audit = a } }

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// Runner executes rounds of strategies against one counter set.
type Runner struct {
	cfg        Config
	counters   []*Counter
	strategies []Strategy

	out    io.Writer
	logger *slog.Logger
	obs    Observer
	audit  AuditReader
	now    func() time.Time
}

// NewRunner validates cfg and returns a Runner over counters.
func NewRunner(cfg Config, counters []*Counter, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	strategies, err := NewStrategies(cfg.Strategies, cfg.AwaitTimeout)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:        cfg,
		counters:   slices.Clone(counters),
		strategies: strategies,
		out:        os.Stdout,
		logger:     slog.Default(),
		obs:        NopObserver{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes one round per configured size and returns the results of the
// rounds that completed. The first failing round stops the run.
func (r *Runner) Run(ctx context.Context) ([]RoundResult, error) {
	sizes := r.cfg.Sizes()
	results := make([]RoundResult, 0, len(sizes))

	var w Workload
	if !r.cfg.RegenerateEachRound {
		w = GenerateWorkload(r.cfg.FinalIterations, r.cfg.Seeded, r.cfg.Seed)
		r.logger.Info("workload generated",
			"deltas", w.Len(), "seeded", w.Seeded(), "seed", w.Seed())
	}

	for _, n := range sizes {
		if r.cfg.RegenerateEachRound {
			w = GenerateWorkload(n, r.cfg.Seeded, r.cfg.Seed)
		}
		round, err := w.Prefix(n)
		if err != nil {
			return results, err
		}

		res, err := r.RunRound(ctx, round)
		if err != nil {
			return results, fmt.Errorf("round of %d iterations: %w", n, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// RunRound applies every strategy to the counters with workload w, prints
// the ratio report and resets the counters. After an ErrTimeout the counters
// are left untouched and must not be reused.
func (r *Runner) RunRound(ctx context.Context, w Workload) (RoundResult, error) {
	res := RoundResult{
		Iterations: w.Len(),
		Counters:   len(r.counters),
		Started:    r.now(),
		Timings:    make(TimingTable, len(r.strategies)),
	}
	r.logger.Info("round started", "iterations", res.Iterations, "counters", res.Counters)
	r.banner(fmt.Sprintf("round: %d increments x %d counters", res.Iterations, res.Counters),
		res.Started.Format("2006-01-02T15:04:05.000"))

	for _, s := range r.strategies {
		elapsed, err := r.runStrategy(ctx, s, w)
		r.obs.OnStrategyDone(res.Iterations, s.ID(), elapsed, err)
		if err != nil {
			r.logger.Error("strategy failed", "strategy", s.ID(), "err", err)
			return res, fmt.Errorf("%s: %w", s.ID(), err)
		}
		res.Timings[s.ID()] = elapsed
	}

	res.Comparisons = Compare(res.Timings)
	if err := WriteReport(r.out, res.Comparisons); err != nil {
		r.logger.Warn("writing ratio report", "err", err)
	}

	if r.cfg.PrintAuditLog {
		if err := r.printAuditLog(ctx); err != nil {
			return res, err
		}
	}
	if err := r.resetCounters(ctx); err != nil {
		return res, err
	}

	res.Finished = r.now()
	r.banner("round finished", res.Finished.Format("15:04:05.000"))
	r.obs.OnRoundDone(res)
	return res, nil
}

func (r *Runner) runStrategy(ctx context.Context, s Strategy, w Workload) (time.Duration, error) {
	if r.cfg.DrainBetweenStrategies {
		if err := r.resetCounters(ctx); err != nil {
			return 0, err
		}
	}
	baselines := make([]Snapshot, len(r.counters))
	for i, c := range r.counters {
		baselines[i] = c.Snapshot()
	}

	start := r.now()
	err := s.Apply(ctx, r.counters, w)
	end := r.now()
	elapsed := end.Sub(start)

	fmt.Fprintf(r.out, "strategy: %s\nfinished: %s\nit took %s\n%s\n",
		s.ID(), end.Format("15:04:05.000"), millis(elapsed), Separator)
	if err != nil {
		// After a timeout, stragglers may still hold counter locks or write
		// balances, so the counters are not read again.
		fmt.Fprintf(r.out, "failed: %v\n%s\n", err, Separator)
		return elapsed, err
	}
	for _, c := range r.counters {
		fmt.Fprintln(r.out, c)
	}
	fmt.Fprintln(r.out, Separator)

	r.logger.Debug("strategy done", "strategy", s.ID(), "elapsed", elapsed)
	return elapsed, verify(s.ID(), r.counters, baselines, w.Sum())
}

// verify checks that every counter gained the whole workload exactly once.
// The lock-free strategy folds its accumulator, baseline included.
func verify(id StrategyID, counters []*Counter, baselines []Snapshot, sum int64) error {
	for i, c := range counters {
		want := baselines[i].Balance + sum
		if id == LockFree {
			want += baselines[i].AtomicBalance
		}
		if got := c.Balance(); got != want {
			return fmt.Errorf("%w: counter %d: balance %d, want %d", ErrBalanceMismatch, c.ID(), got, want)
		}
	}
	return nil
}

func (r *Runner) resetCounters(ctx context.Context) error {
	for _, c := range r.counters {
		if err := c.Reset(ctx); err != nil {
			return fmt.Errorf("reset counter %d: %w", c.ID(), err)
		}
	}
	return nil
}

func (r *Runner) printAuditLog(ctx context.Context) error {
	if r.audit == nil {
		return nil
	}
	for _, c := range r.counters {
		lines, err := r.audit.ReadAuditEntries(ctx, c.ID())
		if err != nil {
			return fmt.Errorf("read audit log of counter %d: %w", c.ID(), err)
		}
		for _, line := range lines {
			fmt.Fprintln(r.out, line)
		}
	}
	return nil
}

func (r *Runner) banner(lines ...string) {
	fmt.Fprintln(r.out, Separator)
	for _, l := range lines {
		fmt.Fprintln(r.out, l)
	}
	fmt.Fprintln(r.out, Separator)
}

// Statistics summarizes the cost of one increment for a strategy across
// rounds.
type Statistics struct {
	Rounds int
	Mean   time.Duration
	Stddev time.Duration
	Min    time.Duration
	Max    time.Duration
	P50    time.Duration
}

// Summarize computes per-increment cost statistics for each strategy that
// appears in rounds. Rounds without increments are skipped.
func Summarize(rounds []RoundResult) map[StrategyID]Statistics {
	costs := make(map[StrategyID][]time.Duration)
	for _, r := range rounds {
		n := r.Increments()
		if n == 0 {
			continue
		}
		for id, d := range r.Timings {
			costs[id] = append(costs[id], d/time.Duration(n))
		}
	}

	out := make(map[StrategyID]Statistics, len(costs))
	for id, samples := range costs {
		out[id] = calculateStatistics(samples)
	}
	return out
}

func calculateStatistics(samples []time.Duration) Statistics {
	if len(samples) == 0 {
		return Statistics{}
	}

	sorted := slices.Clone(samples)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	mean := sum / time.Duration(len(sorted))

	var variance float64
	for _, d := range sorted {
		diff := float64(d - mean)
		variance += diff * diff
	}

	return Statistics{
		Rounds: len(sorted),
		Mean:   mean,
		Stddev: time.Duration(math.Sqrt(variance / float64(len(sorted)))),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		P50:    sorted[len(sorted)*50/100],
	}
}
