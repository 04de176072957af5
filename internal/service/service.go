package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/air-quality-service/internal/client"
	"github.com/kjstillabower/air-quality-service/internal/observability"
	"github.com/kjstillabower/air-quality-service/internal/reqctx"
)

// AirQualityService builds snapshots from the upstream API. It holds no snapshot state
// itself; every Connect call produces an independent result.
type AirQualityService struct {
	client         client.AirQualityClient
	cutoffLocation *time.Location
	logger         *zap.Logger
	now            func() time.Time
}

// NewAirQualityService creates a service. cutoffLocation is the zone whose local midnight
// starts "today" for the location recency filter; nil means time.Local.
func NewAirQualityService(client client.AirQualityClient, cutoffLocation *time.Location, logger *zap.Logger) *AirQualityService {
	if cutoffLocation == nil {
		cutoffLocation = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AirQualityService{
		client:         client,
		cutoffLocation: cutoffLocation,
		logger:         logger,
		now:            time.Now,
	}
}

// Connect fetches, filters and joins a complete snapshot. The three upstream calls run
// strictly one after another. Transport and payload-shape failures abort the build;
// unresolved names do not.
func (s *AirQualityService) Connect(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	snap, err := s.connect(ctx)
	observability.SnapshotBuildDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.SnapshotBuildsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	observability.SnapshotBuildsTotal.WithLabelValues("success").Inc()
	return snap, nil
}

func (s *AirQualityService) connect(ctx context.Context) (*Snapshot, error) {
	buildID := uuid.New().String()
	ctx = reqctx.WithCorrelationID(ctx, buildID)
	logger := s.logger.With(zap.String("build_id", buildID))

	refreshedAt := s.now()
	cutoff := StartOfDay(refreshedAt, s.cutoffLocation)
	logger.Debug("snapshot build started", zap.Time("cutoff", cutoff))

	rawLocations, err := s.client.FetchLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch locations: %w", err)
	}
	locations, err := FilterLocations(rawLocations, cutoff)
	if err != nil {
		return nil, fmt.Errorf("filter locations: %w", err)
	}
	logger.Debug("locations filtered",
		zap.Int("fetched", len(rawLocations)),
		zap.Int("retained", len(locations.IDs)))
	preparedLocations := PrepareLocations(locations.ByID)

	rawParameters, err := s.client.FetchParameters(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch parameters: %w", err)
	}
	parameters := ParametersByID(rawParameters)

	latest, err := s.client.FetchLatestMeasurements(ctx, locations.IDs)
	if err != nil {
		return nil, fmt.Errorf("fetch latest measurements: %w", err)
	}
	joined, err := JoinMeasurements(latest, LocationIndex(locations), ParameterIndex(rawParameters))
	if err != nil {
		return nil, fmt.Errorf("join measurements: %w", err)
	}
	if joined.Unresolved > 0 {
		logger.Debug("measurements with unresolved ids",
			zap.Int("count", joined.Unresolved),
			zap.Strings("unknown_locations", joined.UnknownLocations),
			zap.Strings("unknown_parameters", joined.UnknownParameters))
	}

	snap := &Snapshot{
		RefreshedAt:            refreshedAt,
		Locations:              preparedLocations,
		Parameters:             PrepareParameters(parameters, joined.Measurements),
		LatestMeasurements:     joined.Measurements,
		UnresolvedMeasurements: joined.Unresolved,
	}
	logger.Info("snapshot built",
		zap.Int("locations", len(snap.Locations)),
		zap.Int("parameters", len(snap.Parameters)),
		zap.Int("measurements", len(snap.LatestMeasurements)),
		zap.Int("unresolved", snap.UnresolvedMeasurements))
	return snap, nil
}
