// Package metrics provides Prometheus metrics for monitoring the polling agent.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts processed lookup requests by tool and status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mitchell_requests_total",
			Help: "Total number of lookup requests processed",
		},
		[]string{"tool", "status"},
	)

	// RequestDuration tracks end-to-end request execution time by tool.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mitchell_request_duration_seconds",
			Help:    "Request execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~256s
		},
		[]string{"tool"},
	)

	// WorkersByState shows the current worker count per lifecycle state.
	WorkersByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mitchell_workers",
			Help: "Current number of workers by state",
		},
		[]string{"state"},
	)

	// PoolAcquisitions counts worker checkouts from the pool.
	PoolAcquisitions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mitchell_pool_acquisitions_total",
			Help: "Total worker acquisitions from the pool",
		},
	)

	// PoolAcquireTimeouts counts acquisitions that gave up waiting.
	PoolAcquireTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mitchell_pool_acquire_timeouts_total",
			Help: "Total worker acquisitions that timed out",
		},
	)

	// PollSweeps counts polling sweeps across all job servers.
	PollSweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mitchell_poll_sweeps_total",
			Help: "Total polling sweeps by server and outcome",
		},
		[]string{"server", "outcome"},
	)

	// Claims counts claim attempts by outcome (won, lost, error).
	Claims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mitchell_claims_total",
			Help: "Total claim attempts by outcome",
		},
		[]string{"outcome"},
	)

	// ReasonerCalls counts LLM reasoner invocations by backend and status.
	ReasonerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mitchell_reasoner_calls_total",
			Help: "Total reasoner invocations by backend and status",
		},
		[]string{"backend", "status"},
	)

	// NavigationSteps tracks how many steps a vehicle selection took.
	NavigationSteps = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mitchell_navigation_steps",
			Help:    "Steps taken per vehicle selector navigation",
			Buckets: prometheus.LinearBuckets(1, 2, 10), // 1 to 19
		},
	)

	// PortalSessions shows the number of workers currently logged in.
	PortalSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mitchell_portal_sessions",
			Help: "Number of active portal login sessions",
		},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mitchell_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mitchell_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mitchell_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		WorkersByState,
		PoolAcquisitions,
		PoolAcquireTimeouts,
		PollSweeps,
		Claims,
		ReasonerCalls,
		NavigationSteps,
		PortalSessions,
		MemoryUsageBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartRuntimeCollector starts a goroutine that periodically updates
// runtime metrics until stopCh is closed.
func StartRuntimeCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateRuntimeMetrics()
		case <-stopCh:
			return
		}
	}
}

func updateRuntimeMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordRequest records metrics for a completed lookup request.
func RecordRequest(tool, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(tool, status).Inc()
	RequestDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordClaim records a claim attempt outcome.
func RecordClaim(outcome string) {
	Claims.WithLabelValues(outcome).Inc()
}

// RecordPollSweep records one server's share of a polling sweep.
func RecordPollSweep(server, outcome string) {
	PollSweeps.WithLabelValues(server, outcome).Inc()
}

// RecordReasonerCall records a reasoner invocation.
func RecordReasonerCall(backend, status string) {
	ReasonerCalls.WithLabelValues(backend, status).Inc()
}

// SetWorkerState updates the worker gauge for a lifecycle state.
func SetWorkerState(state string, count int) {
	WorkersByState.WithLabelValues(state).Set(float64(count))
}
