package clanbench

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer receives runner lifecycle callbacks. Calls are made from the
// goroutine running the benchmark, never concurrently.
type Observer interface {
	OnStrategyDone(iterations int, id StrategyID, elapsed time.Duration, err error)
	OnRoundDone(r RoundResult)
}

// NopObserver ignores every callback.
type NopObserver struct{}

// OnStrategyDone does nothing.
func (NopObserver) OnStrategyDone(int, StrategyID, time.Duration, error) {}

// OnRoundDone does nothing.
func (NopObserver) OnRoundDone(RoundResult) {}

// MetricsObserver exports runner events as Prometheus metrics.
type MetricsObserver struct {
	counters   int
	duration   *prometheus.HistogramVec
	increments *prometheus.CounterVec
	failures   *prometheus.CounterVec
	rounds     prometheus.Counter
}

// NewMetricsObserver registers the clanbench metrics on reg. A nil reg means
// prometheus.DefaultRegisterer. counters is the size of the counter set, used
// to count increments.
func NewMetricsObserver(reg prometheus.Registerer, counters int) *MetricsObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	obs := &MetricsObserver{
		counters: counters,
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clanbench_strategy_duration_seconds",
				Help:    "Wall-clock time of one strategy run.",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"strategy"},
		),
		increments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clanbench_increments_total",
				Help: "Increments applied by successful strategy runs.",
			},
			[]string{"strategy"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clanbench_strategy_failures_total",
				Help: "Strategy runs that returned an error.",
			},
			[]string{"strategy"},
		),
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clanbench_rounds_total",
			Help: "Completed benchmark rounds.",
		}),
	}

	reg.MustRegister(obs.duration, obs.increments, obs.failures, obs.rounds)
	return obs
}

// OnStrategyDone records the run duration and increments, or a failure.
func (o *MetricsObserver) OnStrategyDone(iterations int, id StrategyID, elapsed time.Duration, err error) {
	label := string(id)
	if err != nil {
		o.failures.WithLabelValues(label).Inc()
		return
	}
	o.duration.WithLabelValues(label).Observe(elapsed.Seconds())
	o.increments.WithLabelValues(label).Add(float64(iterations * o.counters))
}

// OnRoundDone counts a completed round.
func (o *MetricsObserver) OnRoundDone(RoundResult) { o.rounds.Inc() }
