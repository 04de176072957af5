package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/air-quality-service/internal/client"
	"github.com/kjstillabower/air-quality-service/internal/models"
	"github.com/kjstillabower/air-quality-service/internal/reqctx"
)

type mockAirQualityClient struct {
	locations  []models.RawLocation
	parameters []models.RawParameter
	latest     []models.RawLatest

	locationsErr  error
	parametersErr error
	latestErr     error

	calls       []string
	latestIDs   []int64
	correlation []string
}

func (m *mockAirQualityClient) FetchLocations(ctx context.Context) ([]models.RawLocation, error) {
	m.calls = append(m.calls, client.EndpointLocations)
	m.correlation = append(m.correlation, reqctx.CorrelationID(ctx))
	return m.locations, m.locationsErr
}

func (m *mockAirQualityClient) FetchParameters(ctx context.Context) ([]models.RawParameter, error) {
	m.calls = append(m.calls, client.EndpointParameters)
	m.correlation = append(m.correlation, reqctx.CorrelationID(ctx))
	return m.parameters, m.parametersErr
}

func (m *mockAirQualityClient) FetchLatestMeasurements(ctx context.Context, locationIDs []int64) ([]models.RawLatest, error) {
	m.calls = append(m.calls, client.EndpointLatest)
	m.correlation = append(m.correlation, reqctx.CorrelationID(ctx))
	m.latestIDs = append([]int64(nil), locationIDs...)
	return m.latest, m.latestErr
}

// fixedNow is 10:00 UTC on 2026-10-19, so the cutoff is 2026-10-19T00:00:00Z.
var fixedNow = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

func newTestService(c client.AirQualityClient, logger *zap.Logger) *AirQualityService {
	svc := NewAirQualityService(c, time.UTC, logger)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func viennaFixture() *mockAirQualityClient {
	ts := "2026-10-19T08:00:00+00:00"
	return &mockAirQualityClient{
		locations: []models.RawLocation{
			rawLocation(1, "A", ts),
			rawLocation(2, "B", ts),
			rawLocation(3, "Old", "2026-09-01T08:00:00+00:00"),
		},
		parameters: []models.RawParameter{
			{ID: 2, Name: "pm25", DisplayName: "PM2.5", PreferredUnit: "µg/m³"},
			{ID: 5, Name: "no2", DisplayName: "NO₂ mass", PreferredUnit: "µg/m³"},
		},
		latest: []models.RawLatest{
			{Location: "A", Measurements: []models.RawLatestMeasurement{{Parameter: "pm25", Value: 5.0, LastUpdated: ts}}},
		},
	}
}

// TestAirQualityService_Connect_BuildsSnapshot verifies the whole fetch, filter, join and
// normalize sequence against a canned upstream.
func TestAirQualityService_Connect_BuildsSnapshot(t *testing.T) {
	mock := viennaFixture()
	svc := newTestService(mock, nil)

	snap, err := svc.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if !reflect.DeepEqual(mock.calls, []string{"locations", "parameters", "latest"}) {
		t.Errorf("upstream call order = %v, want locations, parameters, latest", mock.calls)
	}
	if !reflect.DeepEqual(mock.latestIDs, []int64{1, 2}) {
		t.Errorf("latest location filter = %v, want [1 2] (retained ids in upstream order)", mock.latestIDs)
	}
	if !snap.RefreshedAt.Equal(fixedNow) {
		t.Errorf("RefreshedAt = %v, want %v", snap.RefreshedAt, fixedNow)
	}

	if len(snap.Locations) != 2 {
		t.Errorf("Locations = %v, want ids 1 and 2", snap.Locations)
	}
	if _, ok := snap.Locations["3"]; ok {
		t.Error("stale location 3 must not be served")
	}

	wantParams := map[string]models.Parameter{"2": {Name: "pm25", DisplayName: "PM2.5", PreferredUnit: "µg/m³"}}
	if !reflect.DeepEqual(snap.Parameters, wantParams) {
		t.Errorf("Parameters = %v, want only measured pm25", snap.Parameters)
	}

	if len(snap.LatestMeasurements) != 1 {
		t.Fatalf("LatestMeasurements len = %d, want 1", len(snap.LatestMeasurements))
	}
	m := snap.LatestMeasurements[0]
	if *m.ParameterID != 2 || *m.LocationID != 1 || m.Value != 5.0 {
		t.Errorf("measurement = (%d, %d, %v), want (2, 1, 5)", *m.ParameterID, *m.LocationID, m.Value)
	}
	if snap.UnresolvedMeasurements != 0 {
		t.Errorf("UnresolvedMeasurements = %d, want 0", snap.UnresolvedMeasurements)
	}
}

func TestAirQualityService_Connect_SharesBuildCorrelationID(t *testing.T) {
	mock := viennaFixture()
	if _, err := newTestService(mock, nil).Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if len(mock.correlation) != 3 || mock.correlation[0] == "" {
		t.Fatalf("correlation ids = %v, want one non-empty id per call", mock.correlation)
	}
	if mock.correlation[0] != mock.correlation[1] || mock.correlation[1] != mock.correlation[2] {
		t.Errorf("correlation ids = %v, want the same id for one build", mock.correlation)
	}
}

func TestAirQualityService_Connect_UnresolvedLocationKeepsNull(t *testing.T) {
	mock := viennaFixture()
	mock.latest = append(mock.latest, models.RawLatest{
		Location:     "Renamed upstream",
		Measurements: []models.RawLatestMeasurement{{Parameter: "no2", Value: 12, LastUpdated: "2026-10-19T08:00:00+00:00"}},
	})
	core, logs := observer.New(zapcore.DebugLevel)
	svc := newTestService(mock, zap.New(core))

	snap, err := svc.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v, want tolerant join", err)
	}
	if len(snap.LatestMeasurements) != 2 {
		t.Fatalf("LatestMeasurements len = %d, want 2", len(snap.LatestMeasurements))
	}
	m := snap.LatestMeasurements[1]
	if m.LocationID != nil {
		t.Errorf("LocationID = %d, want nil", *m.LocationID)
	}
	if m.ParameterID == nil || *m.ParameterID != 5 {
		t.Errorf("ParameterID = %v, want 5", m.ParameterID)
	}
	if snap.UnresolvedMeasurements != 1 {
		t.Errorf("UnresolvedMeasurements = %d, want 1", snap.UnresolvedMeasurements)
	}
	if _, ok := snap.Parameters["5"]; !ok {
		t.Error("no2 is referenced by a measurement and must be served")
	}
	if logs.FilterMessage("measurements with unresolved ids").Len() != 1 {
		t.Error("expected a debug log for unresolved ids")
	}
}

// TestAirQualityService_Connect_IndependentSnapshots verifies two builds never share or
// accumulate state.
func TestAirQualityService_Connect_IndependentSnapshots(t *testing.T) {
	mock := viennaFixture()
	svc := newTestService(mock, nil)

	first, err := svc.Connect(context.Background())
	if err != nil {
		t.Fatalf("first Connect() error = %v", err)
	}
	mock.latest = nil
	second, err := svc.Connect(context.Background())
	if err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}

	if first == second {
		t.Fatal("Connect() returned the same snapshot twice")
	}
	if len(first.LatestMeasurements) != 1 {
		t.Errorf("first snapshot changed: %d measurements", len(first.LatestMeasurements))
	}
	if len(second.LatestMeasurements) != 0 || len(second.Parameters) != 0 {
		t.Errorf("second snapshot = %d measurements, %d parameters; want none (no accumulation)",
			len(second.LatestMeasurements), len(second.Parameters))
	}
	delete(second.Locations, "1")
	if _, ok := first.Locations["1"]; !ok {
		t.Error("snapshots must not share location maps")
	}
}

func TestAirQualityService_Connect_Errors(t *testing.T) {
	upstream := errors.New("dial tcp: connection refused")
	tests := []struct {
		name      string
		mutate    func(m *mockAirQualityClient)
		wantIs    error
		wantCalls int
	}{
		{"locations fail", func(m *mockAirQualityClient) { m.locationsErr = upstream }, upstream, 1},
		{"locations malformed", func(m *mockAirQualityClient) { m.locations[0].LastUpdated = "garbage" }, client.ErrMalformedPayload, 1},
		{"parameters fail", func(m *mockAirQualityClient) { m.parametersErr = upstream }, upstream, 2},
		{"latest fail", func(m *mockAirQualityClient) { m.latestErr = client.ErrRateLimited }, client.ErrRateLimited, 3},
		{"latest malformed", func(m *mockAirQualityClient) { m.latest[0].Measurements[0].LastUpdated = "" }, client.ErrMalformedPayload, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := viennaFixture()
			tt.mutate(mock)

			snap, err := newTestService(mock, nil).Connect(context.Background())
			if !errors.Is(err, tt.wantIs) {
				t.Errorf("Connect() error = %v, want %v", err, tt.wantIs)
			}
			if snap != nil {
				t.Error("Connect() must not return a partial snapshot")
			}
			if len(mock.calls) != tt.wantCalls {
				t.Errorf("upstream calls = %v, want %d (later stages skipped)", mock.calls, tt.wantCalls)
			}
		})
	}
}

func TestAirQualityService_Connect_NoRecentLocations(t *testing.T) {
	mock := viennaFixture()
	mock.locations = mock.locations[2:]
	mock.latest = nil

	snap, err := newTestService(mock, nil).Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if len(snap.Locations) != 0 || len(snap.Parameters) != 0 || len(snap.LatestMeasurements) != 0 {
		t.Errorf("snapshot = %+v, want empty collections", snap)
	}
	if len(mock.latestIDs) != 0 {
		t.Errorf("latest filter = %v, want empty", mock.latestIDs)
	}
}
