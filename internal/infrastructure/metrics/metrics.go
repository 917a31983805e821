package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ledger service.
type Metrics struct {
	// Append path
	TransactionsAppended prometheus.Counter
	TransactionsReversed prometheus.Counter
	LinesWritten         prometheus.Counter
	AppendErrors         *prometheus.CounterVec
	AppendDuration       prometheus.Histogram

	// Projection path
	BalanceQueries      prometheus.Counter
	TrialBalanceQueries prometheus.Counter
	BalanceCacheHits    prometheus.Counter
	BalanceCacheMisses  prometheus.Counter

	// Rebuild engine
	RebuildRuns     *prometheus.CounterVec
	RebuildDuration prometheus.Histogram
	EventsReplayed  prometheus.Counter

	// Outbox publishing
	OutboxPublished prometheus.Counter
	OutboxErrors    prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		TransactionsAppended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courseledger_transactions_appended_total",
			Help: "Total number of transactions appended",
		}),
		TransactionsReversed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courseledger_transactions_reversed_total",
			Help: "Total number of reversal transactions appended",
		}),
		LinesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courseledger_lines_written_total",
			Help: "Total number of ledger lines written",
		}),
		AppendErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courseledger_append_errors_total",
				Help: "Total number of rejected appends by error type",
			},
			[]string{"error_type"},
		),
		AppendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "courseledger_append_duration_seconds",
			Help:    "Duration of append operations",
			Buckets: prometheus.DefBuckets,
		}),

		BalanceQueries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courseledger_balance_queries_total",
			Help: "Total number of account balance projections",
		}),
		TrialBalanceQueries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courseledger_trial_balance_queries_total",
			Help: "Total number of trial balance checks",
		}),
		BalanceCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courseledger_balance_cache_hits_total",
			Help: "Balance projections extended from the memo cache",
		}),
		BalanceCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courseledger_balance_cache_misses_total",
			Help: "Balance projections folded from scratch",
		}),

		RebuildRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courseledger_rebuild_runs_total",
				Help: "Total rebuild runs by mode and terminal state",
			},
			[]string{"mode", "state"},
		),
		RebuildDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "courseledger_rebuild_duration_seconds",
			Help:    "Duration of rebuild runs",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		}),
		EventsReplayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courseledger_events_replayed_total",
			Help: "Total source events replayed across rebuild runs",
		}),

		OutboxPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courseledger_outbox_published_total",
			Help: "Total outbox events published",
		}),
		OutboxErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courseledger_outbox_errors_total",
			Help: "Total outbox publish failures",
		}),
	}
}
