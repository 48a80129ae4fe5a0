// Binary clanbench runs the counter synchronization benchmark against a
// SQLite-backed (or in-memory) counter set and prints the ratio report.
//
// Usage:
//
//	clanbench -initial 1000 -final 100000 -factor 10 -db clans.db
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/gops/agent"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexshd/clanbench"
	"github.com/alexshd/clanbench/store"
)

var (
	initial     = flag.Int("initial", 1000, "Workload size of the first round")
	final       = flag.Int("final", 1000, "Inclusive ceiling on the workload size")
	factor      = flag.Int("factor", 10, "Workload growth factor between rounds")
	seeded      = flag.Bool("seeded", true, "Use pseudo-random deltas in [0, 1000) instead of 1")
	seed        = flag.Uint64("seed", 0, "Seed for pseudo-random deltas (0 = random)")
	regenerate  = flag.Bool("regenerate", false, "Draw a fresh workload every round")
	timeout     = flag.Duration("timeout", 150*time.Second, "Bound on each strategy's completion wait")
	numCounters = flag.Int("counters", 10, "Counters to create when the store is empty")
	drain       = flag.Bool("drain", true, "Zero counters before each strategy")
	policy      = flag.String("write-policy", "fail-fast", "Store error handling: fail-fast or best-effort")
	auditLog    = flag.Bool("audit-log", false, "Print every counter's audit log before reset")
	strategies  = flag.String("strategies", "", "Comma-separated strategies to run (default all)")
	dbPath      = flag.String("db", "", "SQLite database path (empty = in-memory SQLite)")
	memory      = flag.Bool("memory", false, "Use the plain in-memory store instead of SQLite")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	gops        = flag.Bool("gops", false, "Start the gops diagnostics agent")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level: %v\n", err)
		os.Exit(2)
	}
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
		}),
	))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("benchmark failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := configFromFlags()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if *gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			return fmt.Errorf("start gops agent: %w", err)
		}
		defer agent.Close()
	}

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	rec := clanbench.NewRecorder(st, cfg.WritePolicy, slog.Default())
	counters, err := clanbench.LoadCounters(ctx, st, cfg.Counters, rec)
	if err != nil {
		return err
	}
	slog.Info("counters ready", "count", len(counters), "policy", cfg.WritePolicy)

	opts := []clanbench.Option{
		clanbench.WithLogger(slog.Default()),
		clanbench.WithAuditReader(st),
	}
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, clanbench.WithObserver(clanbench.NewMetricsObserver(reg, len(counters))))
		srv := serveMetrics(*metricsAddr, reg)
		defer srv.Close()
	}

	runner, err := clanbench.NewRunner(cfg, counters, opts...)
	if err != nil {
		return err
	}
	rounds, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	for id, s := range clanbench.Summarize(rounds) {
		slog.Info("per-increment cost", "strategy", id, "rounds", s.Rounds,
			"mean", s.Mean, "stddev", s.Stddev, "min", s.Min, "max", s.Max)
	}
	return nil
}

func configFromFlags() (clanbench.Config, error) {
	cfg := clanbench.DefaultConfig()
	cfg.InitialIterations = *initial
	cfg.FinalIterations = *final
	cfg.GrowthFactor = *factor
	cfg.Seeded = *seeded
	cfg.Seed = *seed
	cfg.RegenerateEachRound = *regenerate
	cfg.AwaitTimeout = *timeout
	cfg.Counters = *numCounters
	cfg.DrainBetweenStrategies = *drain
	cfg.PrintAuditLog = *auditLog

	wp, err := clanbench.ParseWritePolicy(*policy)
	if err != nil {
		return cfg, err
	}
	cfg.WritePolicy = wp

	if *strategies != "" {
		cfg.Strategies = nil
		for _, name := range strings.Split(*strategies, ",") {
			id, err := clanbench.ParseStrategyID(strings.TrimSpace(name))
			if err != nil {
				return cfg, err
			}
			cfg.Strategies = append(cfg.Strategies, id)
		}
	}
	return cfg, nil
}

func openStore(ctx context.Context) (clanbench.Store, func(), error) {
	if *memory {
		return store.NewMemory(), func() {}, nil
	}
	db, err := store.OpenSQLite(ctx, *dbPath)
	if err != nil {
		return nil, nil, err
	}
	return db, func() {
		if err := db.Close(); err != nil {
			slog.Warn("closing store", "err", err)
		}
	}, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server", "err", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)
	return srv
}
