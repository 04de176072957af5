package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetrics_Usable verifies that label dimensions match usage in client, service and http.
func TestMetrics_Usable(t *testing.T) {
	// Route uses the registered template, never a raw path
	HTTPRequestsTotal.WithLabelValues("GET", "/locations", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/locations").Observe(0.01)
	UpstreamAPICallsTotal.WithLabelValues("locations", "success").Inc()
	UpstreamAPICallsTotal.WithLabelValues("latest", "error").Inc()
	UpstreamAPIDuration.WithLabelValues("parameters", "success").Observe(0.1)
	UpstreamAPIRetriesTotal.WithLabelValues("latest").Inc()
	UpstreamAPIErrorsTotal.WithLabelValues("latest", "timeout").Inc()
	SnapshotBuildsTotal.WithLabelValues("success").Inc()
	SnapshotBuildDuration.Observe(1.2)
}

// TestRecordSnapshotPublished verifies the gauges reflect the published snapshot.
func TestRecordSnapshotPublished(t *testing.T) {
	at := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	RecordSnapshotPublished(12, 4, 30, 2, at)

	if got := testutil.ToFloat64(SnapshotLocations); got != 12 {
		t.Errorf("snapshotLocations = %v, want 12", got)
	}
	if got := testutil.ToFloat64(SnapshotParameters); got != 4 {
		t.Errorf("snapshotParameters = %v, want 4", got)
	}
	if got := testutil.ToFloat64(SnapshotMeasurements); got != 30 {
		t.Errorf("snapshotMeasurements = %v, want 30", got)
	}
	if got := testutil.ToFloat64(SnapshotUnresolvedMeasurements); got != 2 {
		t.Errorf("snapshotUnresolvedMeasurements = %v, want 2", got)
	}
	if got := testutil.ToFloat64(SnapshotRefreshedTimestamp); got != float64(at.Unix()) {
		t.Errorf("snapshotRefreshedTimestampSeconds = %v, want %v", got, at.Unix())
	}
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/", "2xx").Inc()
	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"httpRequestsTotal", "snapshotLocations"} {
		if !strings.Contains(body, name) {
			t.Errorf("MetricsHandler response missing %s", name)
		}
	}
}
