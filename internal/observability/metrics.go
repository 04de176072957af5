package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Handlers only read memory, so p99 should stay in the low ms.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// OpenAQ API call rate by endpoint (locations, parameters, latest) and status.
	UpstreamAPICallsTotal *prometheus.CounterVec

	// OpenAQ API latency per request. Watch for: p95 > 5s (snapshot builds getting slow).
	UpstreamAPIDuration *prometheus.HistogramVec

	// Retry attempts for OpenAQ calls. Zero unless retries are configured.
	UpstreamAPIRetriesTotal *prometheus.CounterVec

	// Failed OpenAQ calls by stable error category.
	UpstreamAPIErrorsTotal *prometheus.CounterVec

	// Snapshot builds by result (success, error). Watch for: error streaks with refresh enabled.
	SnapshotBuildsTotal *prometheus.CounterVec

	// Wall time of a full snapshot build (three sequential upstream calls plus the join).
	SnapshotBuildDuration prometheus.Histogram

	// Sizes of the published snapshot.
	SnapshotLocations    prometheus.Gauge
	SnapshotParameters   prometheus.Gauge
	SnapshotMeasurements prometheus.Gauge

	// Measurements whose location or parameter name did not resolve to an id.
	// Watch for: non-zero means the upstream renamed something between calls.
	SnapshotUnresolvedMeasurements prometheus.Gauge

	// Unix time the published snapshot was built. time() - this = snapshot age.
	SnapshotRefreshedTimestamp prometheus.Gauge

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openaqApiCallsTotal",
			Help: "Total number of OpenAQ API calls",
		},
		[]string{"endpoint", "status"},
	)
	UpstreamAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "openaqApiDurationSeconds",
			Help:    "OpenAQ API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status"},
	)
	UpstreamAPIRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openaqApiRetriesTotal",
			Help: "Total number of retry attempts for OpenAQ API calls",
		},
		[]string{"endpoint"},
	)
	UpstreamAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openaqApiErrorsTotal",
			Help: "Failed OpenAQ API calls by error category",
		},
		[]string{"endpoint", "category"},
	)
	SnapshotBuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshotBuildsTotal",
			Help: "Total number of snapshot builds by result",
		},
		[]string{"result"},
	)
	SnapshotBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snapshotBuildDurationSeconds",
			Help:    "Duration of a full snapshot build in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	SnapshotLocations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapshotLocations",
			Help: "Locations in the published snapshot",
		},
	)
	SnapshotParameters = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapshotParameters",
			Help: "Measured parameters in the published snapshot",
		},
	)
	SnapshotMeasurements = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapshotMeasurements",
			Help: "Latest measurements in the published snapshot",
		},
	)
	SnapshotUnresolvedMeasurements = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapshotUnresolvedMeasurements",
			Help: "Measurements in the published snapshot with an unresolved location or parameter id",
		},
	)
	SnapshotRefreshedTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapshotRefreshedTimestampSeconds",
			Help: "Unix time at which the published snapshot was built",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamAPICallsTotal, UpstreamAPIDuration, UpstreamAPIRetriesTotal, UpstreamAPIErrorsTotal,
		SnapshotBuildsTotal, SnapshotBuildDuration,
		SnapshotLocations, SnapshotParameters, SnapshotMeasurements,
		SnapshotUnresolvedMeasurements, SnapshotRefreshedTimestamp,
		RateLimitDeniedTotal,
	)
}

// RecordSnapshotPublished updates the snapshot gauges. Call after a snapshot becomes current.
func RecordSnapshotPublished(locations, parameters, measurements, unresolved int, refreshedAt time.Time) {
	SnapshotLocations.Set(float64(locations))
	SnapshotParameters.Set(float64(parameters))
	SnapshotMeasurements.Set(float64(measurements))
	SnapshotUnresolvedMeasurements.Set(float64(unresolved))
	SnapshotRefreshedTimestamp.Set(float64(refreshedAt.Unix()))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
