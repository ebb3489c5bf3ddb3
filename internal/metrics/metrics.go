// Package metrics exposes prometheus instrumentation for the catalog.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediacat"

var (
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "cache_lookups_total",
			Help:      "Node cache lookups by result (hit or miss).",
		},
		[]string{"result"},
	)
	registryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "errors_total",
			Help:      "Backend failures by operation.",
		},
		[]string{"op"},
	)
	browseRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "browse",
			Name:      "requests_total",
			Help:      "Browse and Search requests by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)
	browseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "browse",
			Name:      "duration_seconds",
			Help:      "Browse and Search latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Repository scan duration.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
		},
		[]string{"repository"},
	)
	reconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "candidates_total",
			Help:      "Reconciled candidates by repository and action (kept, inserted, replaced, removed, failed).",
		},
		[]string{"repository", "action"},
	)
	pipelineErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "handler_errors_total",
			Help:      "Enrichment handler failures by topic.",
		},
		[]string{"topic"},
	)
	systemUpdateID = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_update_id",
			Help:      "Current service-wide update counter.",
		},
	)
)

var (
	registerMetrics sync.Once
	registry        = prometheus.NewRegistry()
)

// Register registers all collectors once.
func Register() {
	registerMetrics.Do(func() {
		registry.MustRegister(cacheLookups)
		registry.MustRegister(registryErrors)
		registry.MustRegister(browseRequests)
		registry.MustRegister(browseDuration)
		registry.MustRegister(scanDuration)
		registry.MustRegister(reconciled)
		registry.MustRegister(pipelineErrors)
		registry.MustRegister(systemUpdateID)
		registry.MustRegister(prometheus.NewGoCollector())
	})
}

// Handler serves the registered collectors.
func Handler() http.Handler {
	Register()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordCacheLookup counts a node cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

// RecordRegistryError counts a failed backend operation.
func RecordRegistryError(op string) {
	registryErrors.WithLabelValues(op).Inc()
}

// RecordBrowse counts a Browse or Search request and observes its latency.
func RecordBrowse(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	browseRequests.WithLabelValues(op, outcome).Inc()
	browseDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// RecordScan observes a repository scan duration.
func RecordScan(repository string, start time.Time) {
	scanDuration.WithLabelValues(repository).Observe(time.Since(start).Seconds())
}

// RecordReconciled counts one reconciled candidate.
func RecordReconciled(repository, action string) {
	reconciled.WithLabelValues(repository, action).Inc()
}

// RecordPipelineError counts a failed enrichment handler.
func RecordPipelineError(topic string) {
	pipelineErrors.WithLabelValues(topic).Inc()
}

// SetSystemUpdateID publishes the service-wide update counter.
func SetSystemUpdateID(v uint64) {
	systemUpdateID.Set(float64(v))
}
