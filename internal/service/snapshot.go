package service

import (
	"sync/atomic"
	"time"

	"github.com/kjstillabower/air-quality-service/internal/models"
	"github.com/kjstillabower/air-quality-service/internal/observability"
)

// Snapshot is one complete fetch cycle. It is never mutated after it is published;
// a refresh builds a new Snapshot instead.
type Snapshot struct {
	RefreshedAt        time.Time
	Locations          map[string]models.Location
	Parameters         map[string]models.Parameter
	LatestMeasurements []models.Measurement
	// UnresolvedMeasurements counts LatestMeasurements entries carrying a nil id.
	UnresolvedMeasurements int
}

// Store publishes the current snapshot. Readers always see a whole snapshot.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore returns a store already holding initial (which may be nil).
func NewStore(initial *Snapshot) *Store {
	s := &Store{}
	if initial != nil {
		s.Publish(initial)
	}
	return s
}

// Current returns the published snapshot, or nil before the first Publish.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Publish swaps in snap and updates the snapshot gauges.
func (s *Store) Publish(snap *Snapshot) {
	if snap == nil {
		return
	}
	s.current.Store(snap)
	observability.RecordSnapshotPublished(
		len(snap.Locations),
		len(snap.Parameters),
		len(snap.LatestMeasurements),
		snap.UnresolvedMeasurements,
		snap.RefreshedAt,
	)
}
