package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SnapshotBuilder is implemented by AirQualityService. Used by Refresher so tests can
// supply canned snapshots.
type SnapshotBuilder interface {
	Connect(ctx context.Context) (*Snapshot, error)
}

// Refresher rebuilds the whole snapshot on a fixed interval and publishes it to a Store.
// A failed rebuild leaves the previous snapshot in place.
type Refresher struct {
	builder SnapshotBuilder
	store   *Store
	logger  *zap.Logger
}

// NewRefresher creates a Refresher publishing builds from builder into store.
func NewRefresher(builder SnapshotBuilder, store *Store, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{builder: builder, store: store, logger: logger}
}

// Refresh builds one snapshot and publishes it on success.
func (r *Refresher) Refresh(ctx context.Context) error {
	snap, err := r.builder.Connect(ctx)
	if err != nil {
		return err
	}
	r.store.Publish(snap)
	return nil
}

// RunPeriodic refreshes at the given interval until ctx is done. It does not build
// immediately; the caller publishes the startup snapshot first.
func (r *Refresher) RunPeriodic(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Warn("periodic snapshot refresh failed, keeping previous snapshot", zap.Error(err))
				continue
			}
			r.logger.Info("snapshot refreshed", zap.Time("refreshed_at", r.store.Current().RefreshedAt))
		}
	}
}
