// Package application contains the application services.
package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrRateLimited is returned when a triggered sync follows the previous one
// within SyncCooldown.
var ErrRateLimited = errors.New("rate limit exceeded")

// SyncCooldown is the minimum time between two triggered syncs.
const SyncCooldown = 30 * time.Second

// SyncResult reports one seed synchronisation.
type SyncResult struct {
	SeedsAdded      int           `json:"seeds_added"`
	SeedsUpdated    int           `json:"seeds_updated"`
	SeedsRemoved    int           `json:"seeds_removed"`
	SeedsTotal      int           `json:"seeds_total"`
	RecordsLoaded   int           `json:"records_loaded"`
	Duration        time.Duration `json:"duration_ns"`
	SyncedAt        time.Time     `json:"synced_at"`
	NextScheduledAt time.Time     `json:"next_scheduled_at,omitempty"`
}

// SyncService keeps the catalog store in sync with the seed files, on a
// schedule and on demand. At most one sync runs at a time.
type SyncService struct {
	registry *SeedRegistry
	interval time.Duration
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	running sync.Mutex

	triggerMu   sync.Mutex
	lastTrigger time.Time

	nextSync atomic.Int64 // unix nanoseconds, 0 when unscheduled
}

// NewSyncService creates a new sync service. A non-positive interval
// disables the schedule; triggered syncs still work.
func NewSyncService(registry *SeedRegistry, interval time.Duration, logger *slog.Logger) *SyncService {
	return &SyncService{
		registry: registry,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sync scheduler.
func (s *SyncService) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("scheduled seed sync disabled")
		return
	}
	s.logger.Info("starting sync service", "interval", s.interval)

	s.wg.Add(1)
	go s.run(ctx)
}

func (s *SyncService) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.schedule()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync service stopped: context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("sync service stopped")
			return
		case <-ticker.C:
			s.logger.Debug("scheduled sync triggered")
			if _, err := s.sync(ctx); err != nil {
				s.logger.Error("scheduled sync failed", "error", err)
			}
			s.schedule()
		}
	}
}

// Stop stops the scheduler and waits for a running sync. It may be called
// more than once.
func (s *SyncService) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping sync service")
		close(s.stopCh)
	})
	s.wg.Wait()
}

// TriggerSync runs a sync on request. It returns ErrRateLimited when the
// previous triggered sync started less than SyncCooldown ago.
func (s *SyncService) TriggerSync(ctx context.Context) (SyncResult, error) {
	s.triggerMu.Lock()
	if !s.lastTrigger.IsZero() && time.Since(s.lastTrigger) < SyncCooldown {
		s.triggerMu.Unlock()
		return SyncResult{}, ErrRateLimited
	}
	s.lastTrigger = time.Now()
	s.triggerMu.Unlock()

	return s.sync(ctx)
}

// Refresh syncs immediately without rate limiting. The seed directory
// watcher calls it.
func (s *SyncService) Refresh(ctx context.Context) {
	if _, err := s.sync(ctx); err != nil {
		s.logger.Error("seed refresh failed", "error", err)
	}
}

func (s *SyncService) sync(ctx context.Context) (SyncResult, error) {
	s.running.Lock()
	defer s.running.Unlock()

	start := time.Now()
	stats, err := s.registry.Sync(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	res := SyncResult{
		SeedsAdded:    stats.Added,
		SeedsUpdated:  stats.Updated,
		SeedsRemoved:  stats.Removed,
		SeedsTotal:    s.registry.SeedCount(),
		RecordsLoaded: s.registry.RecordCount(),
		Duration:      time.Since(start),
		SyncedAt:      time.Now(),
	}
	if next := s.nextSync.Load(); next > 0 {
		res.NextScheduledAt = time.Unix(0, next)
	}
	s.logger.Debug("sync finished",
		"added", res.SeedsAdded,
		"updated", res.SeedsUpdated,
		"removed", res.SeedsRemoved,
		"records", res.RecordsLoaded,
		"duration", res.Duration,
	)
	return res, nil
}

func (s *SyncService) schedule() {
	s.nextSync.Store(time.Now().Add(s.interval).UnixNano())
}

// Interval returns the sync interval.
func (s *SyncService) Interval() time.Duration {
	return s.interval
}
