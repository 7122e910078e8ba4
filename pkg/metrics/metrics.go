// Package metrics holds the Prometheus instruments of the statistics engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "metaqs"

var (
	// searchDuration measures search index round trips.
	// Labels: status (ok, error)
	searchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "search",
		Name:      "request_duration_seconds",
		Help:      "Search index request latency in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	}, []string{"status"})

	// statsWritten counts snapshot rows written by runs and seeding.
	// Labels: stat_type, source (run, seed)
	statsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stats",
		Name:      "rows_written_total",
		Help:      "Total snapshot rows written",
	}, []string{"stat_type", "source"})

	// statsFailed counts stat kinds skipped within a run.
	// Labels: stat_type
	statsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stats",
		Name:      "kind_failures_total",
		Help:      "Total stat kinds skipped because computing them failed",
	}, []string{"stat_type"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "stats",
		Name:      "run_duration_seconds",
		Help:      "Duration of a full statistics run for one node",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	runsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dispatcher",
		Name:      "runs_in_flight",
		Help:      "Background jobs currently executing",
	})

	// httpDuration measures API latency per route pattern.
	// Labels: route, status
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "status"})

	// toolCalls counts MCP tool invocations.
	// Labels: tool, result (ok, error)
	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mcp",
		Name:      "tool_calls_total",
		Help:      "MCP tool calls by tool and result",
	}, []string{"tool", "result"})

	// scoreCache counts score cache lookups.
	// Labels: result (hit, miss)
	scoreCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "score",
		Name:      "cache_lookups_total",
		Help:      "Score cache lookups by result",
	}, []string{"result"})
)

// ObserveSearch records one search round trip.
func ObserveSearch(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	searchDuration.WithLabelValues(status).Observe(d.Seconds())
}

// StatWritten records a written snapshot row.
func StatWritten(statType, source string) {
	statsWritten.WithLabelValues(statType, source).Inc()
}

// StatFailed records a stat kind skipped within a run.
func StatFailed(statType string) {
	statsFailed.WithLabelValues(statType).Inc()
}

// ObserveRun records the duration of a statistics run.
func ObserveRun(d time.Duration) {
	runDuration.Observe(d.Seconds())
}

// RunStarted and RunFinished track background jobs in flight.
func RunStarted()  { runsInFlight.Inc() }
func RunFinished() { runsInFlight.Dec() }

// ScoreCacheLookup records a cache hit or miss.
func ScoreCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	scoreCache.WithLabelValues(result).Inc()
}

// ObserveHTTP records one served request. route is the matched mux pattern;
// unmatched requests are folded into "unmatched" to bound cardinality.
func ObserveHTTP(route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(d.Seconds())
}

// ToolCalled records one MCP tool invocation.
func ToolCalled(tool string, failed bool) {
	result := "ok"
	if failed {
		result = "error"
	}
	toolCalls.WithLabelValues(tool, result).Inc()
}
