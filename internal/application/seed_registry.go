package application

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jobrunner/owsgate/internal/ports/output"
)

// SeedRegistry keeps the catalog store in line with the record seed files
// found under a prefix of the object storage.
type SeedRegistry struct {
	mu      sync.RWMutex
	seeds   map[string]*seedEntry
	loader  output.SeedLoader
	storage output.ObjectStorage
	metrics output.MetricsCollector
	logger  *slog.Logger
	prefix  string
}

type seedEntry struct {
	Key      string
	Version  string
	Records  int
	LoadedAt time.Time
}

// SeedInfo describes one loaded seed file.
type SeedInfo struct {
	Key      string    `json:"key"`
	Records  int       `json:"records"`
	LoadedAt time.Time `json:"loaded_at"`
}

// NewSeedRegistry creates a new seed registry.
func NewSeedRegistry(
	loader output.SeedLoader,
	storage output.ObjectStorage,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	prefix string,
) *SeedRegistry {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return &SeedRegistry{
		seeds:   make(map[string]*seedEntry),
		loader:  loader,
		storage: storage,
		metrics: metrics,
		logger:  logger,
		prefix:  prefix,
	}
}

// SyncStats contains statistics from a sync operation.
type SyncStats struct {
	Added   int
	Updated int
	Removed int
}

// Sync loads new and changed seed files and drops the records of seed files
// that disappeared. A seed that fails to load is logged and skipped.
func (r *SeedRegistry) Sync(ctx context.Context) (SyncStats, error) {
	r.logger.Info("syncing seeds from storage", "prefix", r.prefix)

	start := time.Now()
	objects, err := r.storage.List(ctx, r.prefix)
	r.metrics.ObserveStorageDuration("list", time.Since(start))
	r.metrics.IncStorageOperations("list", err == nil)
	if err != nil {
		return SyncStats{}, fmt.Errorf("listing seeds: %w", err)
	}

	remote := make(map[string]string) // key -> version
	for _, obj := range objects {
		if !IsSeedFile(obj.Key) {
			continue
		}
		remote[obj.Key] = objectVersion(obj)
	}
	keys := make([]string, 0, len(remote))
	for k := range remote {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	stats := SyncStats{}
	for _, key := range keys {
		version := remote[key]
		loadedVersion, loaded := r.version(key)
		if loaded && loadedVersion == version {
			r.logger.Debug("seed unchanged, skipping", "key", key)
			continue
		}
		if err := r.load(ctx, key, version); err != nil {
			r.logger.Error("failed to load seed", "key", key, "error", err)
			continue
		}
		if loaded {
			stats.Updated++
		} else {
			stats.Added++
		}
	}

	for _, key := range r.findSeedsToRemove(remote) {
		r.logger.Info("removing seed not in storage", "key", key)
		if err := r.loader.RemoveSeed(ctx, key); err != nil {
			r.logger.Error("failed to remove seed", "key", key, "error", err)
			continue
		}
		r.mu.Lock()
		delete(r.seeds, key)
		r.mu.Unlock()
		stats.Removed++
	}

	r.updateMetrics()
	r.logger.Info("seed sync completed",
		"added", stats.Added,
		"updated", stats.Updated,
		"removed", stats.Removed,
		"total", r.SeedCount(),
	)
	return stats, nil
}

func (r *SeedRegistry) load(ctx context.Context, key, version string) error {
	start := time.Now()
	rc, err := r.storage.GetReader(ctx, key)
	r.metrics.ObserveStorageDuration("read", time.Since(start))
	r.metrics.IncStorageOperations("read", err == nil)
	if err != nil {
		return err
	}
	defer rc.Close()

	n, err := r.loader.LoadSeed(ctx, key, rc)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.seeds[key] = &seedEntry{Key: key, Version: version, Records: n, LoadedAt: time.Now()}
	r.mu.Unlock()

	r.logger.Info("seed loaded", "key", key, "records", n)
	return nil
}

func (r *SeedRegistry) version(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.seeds[key]
	if !ok {
		return "", false
	}
	return e.Version, true
}

// findSeedsToRemove returns keys that are loaded but not in storage.
func (r *SeedRegistry) findSeedsToRemove(remote map[string]string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var toRemove []string
	for key := range r.seeds {
		if _, exists := remote[key]; !exists {
			toRemove = append(toRemove, key)
		}
	}
	sort.Strings(toRemove)
	return toRemove
}

// Seeds returns the loaded seeds ordered by key.
func (r *SeedRegistry) Seeds() []SeedInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SeedInfo, 0, len(r.seeds))
	for _, e := range r.seeds {
		out = append(out, SeedInfo{Key: e.Key, Records: e.Records, LoadedAt: e.LoadedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// SeedCount returns the number of loaded seeds.
func (r *SeedRegistry) SeedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.seeds)
}

// RecordCount returns the number of records loaded from seeds.
func (r *SeedRegistry) RecordCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.seeds {
		n += e.Records
	}
	return n
}

func (r *SeedRegistry) updateMetrics() {
	r.metrics.SetRecordsLoaded(r.RecordCount())
}

// IsSeedFile reports whether path names a YAML seed file.
func IsSeedFile(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func objectVersion(obj output.StorageObject) string {
	if obj.ETag != "" {
		return obj.ETag
	}
	return fmt.Sprintf("%d-%d", obj.Size, obj.LastModified)
}
