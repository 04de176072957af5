package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/air-quality-service/internal/lifecycle"
	"github.com/kjstillabower/air-quality-service/internal/reqctx"
	"github.com/kjstillabower/air-quality-service/internal/service"
)

// Collection names listed by the discovery root, in the order they are advertised.
const (
	CollectionLocations          = "locations"
	CollectionParameters         = "parameters"
	CollectionLatestMeasurements = "latestMeasurements"
)

// rootBody is the discovery response. The "avaiable" key spelling is part of the public
// contract and must not be corrected.
var rootBody = mustMarshal(map[string][]string{
	"avaiable": {CollectionLocations, CollectionParameters, CollectionLatestMeasurements},
})

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// SnapshotSource yields the snapshot to serve. *service.Store implements it.
type SnapshotSource interface {
	Current() *service.Snapshot
}

// HealthConfig holds the thresholds used by the health handler.
type HealthConfig struct {
	// RefreshInterval is the configured rebuild interval; zero disables the stale check.
	RefreshInterval time.Duration
	StartTime       time.Time
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	snapshots        SnapshotSource
	healthConfig     *HealthConfig
	logger           *zap.Logger
	now              func() time.Time
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(snapshots SnapshotSource, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		snapshots:    snapshots,
		healthConfig: healthConfig,
		logger:       logger,
		now:          time.Now,
	}
}

// Root handles GET /.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rootBody)
}

// GetLocations handles GET /locations.
func (h *Handler) GetLocations(w http.ResponseWriter, r *http.Request) {
	if snap := h.current(w, r); snap != nil {
		writeJSON(w, http.StatusOK, snap.Locations)
	}
}

// GetParameters handles GET /parameters.
func (h *Handler) GetParameters(w http.ResponseWriter, r *http.Request) {
	if snap := h.current(w, r); snap != nil {
		writeJSON(w, http.StatusOK, snap.Parameters)
	}
}

// GetLatestMeasurements handles GET /latestMeasurements.
func (h *Handler) GetLatestMeasurements(w http.ResponseWriter, r *http.Request) {
	if snap := h.current(w, r); snap != nil {
		writeJSON(w, http.StatusOK, snap.LatestMeasurements)
	}
}

// NotFound is the router's fallback for unknown paths.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "NOT_FOUND", "no such resource: "+r.URL.Path)
}

// MethodNotAllowed is the router's fallback for known paths with a non-GET method.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is supported")
}

// current returns the published snapshot or writes 503 and returns nil.
func (h *Handler) current(w http.ResponseWriter, r *http.Request) *service.Snapshot {
	snap := h.snapshots.Current()
	if snap == nil {
		writeError(w, r, http.StatusServiceUnavailable, "NOT_READY", "air quality data not loaded yet")
		return nil
	}
	return snap
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health. It never calls upstream.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshots.Current()
	now := h.now()
	result := h.computeHealthStatus(snap, now)

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "air-quality-service",
		"version":   "dev",
		"phase":     lifecycle.CurrentPhase().String(),
		"timestamp": now.UTC().Format(time.RFC3339),
	}
	if h.healthConfig != nil && !h.healthConfig.StartTime.IsZero() {
		resp["uptimeSeconds"] = int64(now.Sub(h.healthConfig.StartTime).Seconds())
	}
	if snap != nil {
		resp["snapshot"] = map[string]interface{}{
			"refreshedAt":            snap.RefreshedAt.UTC().Format(time.RFC3339),
			"ageSeconds":             int64(now.Sub(snap.RefreshedAt).Seconds()),
			"locations":              len(snap.Locations),
			"parameters":             len(snap.Parameters),
			"measurements":           len(snap.LatestMeasurements),
			"unresolvedMeasurements": snap.UnresolvedMeasurements,
		}
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > not-ready > stale > healthy.
func (h *Handler) computeHealthStatus(snap *service.Snapshot, now time.Time) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if snap == nil {
		return healthResult{"not-ready", http.StatusServiceUnavailable, "no_snapshot"}
	}
	// Stale only applies when rebuilds are enabled; a one-shot snapshot ages by design.
	if h.healthConfig != nil && h.healthConfig.RefreshInterval > 0 {
		if now.Sub(snap.RefreshedAt) > 2*h.healthConfig.RefreshInterval {
			return healthResult{"stale", http.StatusOK, "refresh_overdue"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes v as the JSON body with the given status. The body carries no trailing
// newline so fixed responses stay byte-stable.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":{"code":"INTERNAL","message":"encode response"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": reqctx.CorrelationID(r.Context()),
		},
	})
	if logger := reqctx.Logger(r.Context()); logger != nil {
		logger.Debug("request failed", zap.Int("status", status), zap.String("code", code))
	}
}
