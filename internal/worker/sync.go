package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sportrank/internal/config"
	"github.com/sportrank/internal/postgres"
	"github.com/sportrank/internal/redis"
)

// SyncWorker periodically rebuilds the Redis rating cache from PostgreSQL.
// Ratings are committed to Postgres first and pushed to Redis best-effort,
// so the cache can drift after a Redis outage; the rebuild converges it.
type SyncWorker struct {
	cache    *redis.RatingCache
	postgres *postgres.Repository
	config   *config.SyncConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	cache *redis.RatingCache,
	repo *postgres.Repository,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		cache:    cache,
		postgres: repo,
		config:   cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.syncAll(ctx)
		}
	}
}

// syncAll rebuilds the cache for every configured activity type
func (w *SyncWorker) syncAll(ctx context.Context) {
	w.logger.Info("starting sync cycle")
	startTime := time.Now()

	activityTypes, err := w.postgres.ListActivityTypes(ctx)
	if err != nil {
		w.logger.Error("failed to list activity types for sync", "error", err)
		return
	}

	syncedCount := 0
	errorCount := 0

	for _, typeID := range activityTypes {
		if err := w.SyncActivityType(ctx, typeID); err != nil {
			w.logger.Error("failed to sync activity type",
				"activity_type_id", typeID,
				"error", err,
			)
			errorCount++
		} else {
			syncedCount++
		}
	}

	duration := time.Since(startTime)
	w.logger.Info("sync cycle completed",
		"duration", duration,
		"synced", syncedCount,
		"errors", errorCount,
	)
}

// SyncActivityType rebuilds one activity type's cached ratings from Postgres
func (w *SyncWorker) SyncActivityType(ctx context.Context, activityTypeID string) error {
	w.logger.Debug("rebuilding rating cache", "activity_type_id", activityTypeID)

	ratings, err := w.postgres.GetAllRatings(ctx, activityTypeID)
	if err != nil {
		return err
	}

	if err := w.cache.Rebuild(ctx, activityTypeID, ratings); err != nil {
		return err
	}

	w.logger.Debug("rebuilt rating cache",
		"activity_type_id", activityTypeID,
		"player_count", len(ratings),
	)
	return nil
}

// SyncAllFromDatabase rebuilds every activity type's cache. Used on startup
// so API reads never serve a cold or stale cache.
func (w *SyncWorker) SyncAllFromDatabase(ctx context.Context) error {
	w.logger.Info("rebuilding rating caches from database")

	activityTypes, err := w.postgres.ListActivityTypes(ctx)
	if err != nil {
		return err
	}

	for _, typeID := range activityTypes {
		if err := w.SyncActivityType(ctx, typeID); err != nil {
			w.logger.Error("failed to rebuild rating cache",
				"activity_type_id", typeID,
				"error", err,
			)
			// Continue with other activity types
		}
	}

	w.logger.Info("completed rebuilding rating caches", "count", len(activityTypes))
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle (useful for manual triggers)
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.syncAll(ctx)
}
