package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueriesSubmitted counts queries accepted into a batch by query_type
	QueriesSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_queries_submitted_total",
			Help: "Total number of queries added to a batch",
		},
		[]string{"query_type"},
	)

	// QueriesDropped counts queries the fingerprinter rejected
	QueriesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duet_queries_dropped_total",
			Help: "Total number of queries dropped because they could not be parsed",
		},
	)

	// Flushes counts batch flushes by trigger (size, window, manual)
	Flushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_flushes_total",
			Help: "Total number of batch flushes",
		},
		[]string{"trigger"},
	)

	// BatchSize tracks the number of queries per flushed batch
	BatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duet_batch_size",
			Help:    "Number of queries in a flushed batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"query"},
	)

	// BatchDelay tracks how long a batch waited between its first query and its flush
	BatchDelay = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duet_batch_delay_seconds",
			Help:    "Time from the first query of a batch to its flush",
			Buckets: []float64{.0005, .001, .002, .005, .01, .025, .05, .1, .25},
		},
		[]string{"query"},
	)

	// DispatchLatency tracks kernel round trips by entry point
	DispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duet_dispatch_latency_seconds",
			Help:    "Kernel call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entry"},
	)

	// DispatchErrors counts failed kernel calls by entry point
	DispatchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_dispatch_errors_total",
			Help: "Total number of failed kernel calls",
		},
		[]string{"entry"},
	)

	// PlanCacheHits counts plan cache hits
	PlanCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duet_plan_cache_hits_total",
			Help: "Total number of plan cache hits",
		},
	)

	// PlanCacheMisses counts plan cache misses
	PlanCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duet_plan_cache_misses_total",
			Help: "Total number of plan cache misses",
		},
	)

	// PlanCacheStale counts cached plans found invalid and re-prepared
	PlanCacheStale = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duet_plan_cache_stale_total",
			Help: "Total number of stale plans re-prepared",
		},
	)

	// PlanCacheEvictions counts plans released to make room
	PlanCacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duet_plan_cache_evictions_total",
			Help: "Total number of plans evicted from the cache",
		},
	)

	// PlanCacheEntries is the current number of cached plans
	PlanCacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "duet_plan_cache_entries",
			Help: "Number of plans in the cache",
		},
	)

	// KernelBatches counts executed batches by mode
	KernelBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_kernel_batches_total",
			Help: "Total number of batches executed by the kernel",
		},
		[]string{"mode", "committed"},
	)

	// KernelRows counts batch rows by mode and result (succeeded, failed, skipped)
	KernelRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_kernel_rows_total",
			Help: "Total number of batch rows processed by the kernel",
		},
		[]string{"mode", "result"},
	)

	// SharedScanRows counts table rows read by shared scans
	SharedScanRows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duet_shared_scan_rows_total",
			Help: "Total number of table rows read by shared scans",
		},
	)

	// SharedScanMatches counts table rows matching a shared scan key
	SharedScanMatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duet_shared_scan_matches_total",
			Help: "Total number of rows matched by shared scans",
		},
	)

	// KernelCalls counts calls sent to a kernel by pool name (primary, kernel1, ...)
	KernelCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_kernel_calls_total",
			Help: "Total calls sent to kernels",
		},
		[]string{"kernel"},
	)

	once sync.Once
)

// Init registers all metrics with Prometheus
func Init() {
	once.Do(func() {
		prometheus.MustRegister(QueriesSubmitted)
		prometheus.MustRegister(QueriesDropped)
		prometheus.MustRegister(Flushes)
		prometheus.MustRegister(BatchSize)
		prometheus.MustRegister(BatchDelay)
		prometheus.MustRegister(DispatchLatency)
		prometheus.MustRegister(DispatchErrors)
		prometheus.MustRegister(PlanCacheHits)
		prometheus.MustRegister(PlanCacheMisses)
		prometheus.MustRegister(PlanCacheStale)
		prometheus.MustRegister(PlanCacheEvictions)
		prometheus.MustRegister(PlanCacheEntries)
		prometheus.MustRegister(KernelBatches)
		prometheus.MustRegister(KernelRows)
		prometheus.MustRegister(SharedScanRows)
		prometheus.MustRegister(SharedScanMatches)
		prometheus.MustRegister(KernelCalls)
	})
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
