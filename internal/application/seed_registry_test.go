package application

import (
	"context"
	"errors"
	"testing"

	"github.com/jobrunner/owsgate/internal/ports/output"
)

func TestSeedRegistry_SyncLifecycle(t *testing.T) {
	storage := &mockStorage{}
	storage.put("seeds/a.yaml", "1\n2\n", 1)
	storage.put("seeds/b.yaml", "1\n", 1)
	loader := &mockSeedLoader{}
	registry := newTestSeedRegistry(storage, loader)
	ctx := context.Background()

	stats, err := registry.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if stats.Added != 2 || stats.Updated != 0 || stats.Removed != 0 {
		t.Errorf("first sync stats = %+v", stats)
	}

	// Unchanged seeds are not reloaded.
	stats, err = registry.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if stats != (SyncStats{}) {
		t.Errorf("second sync stats = %+v, want none", stats)
	}

	storage.put("seeds/a.yaml", "1\n2\n3\n", 2)
	storage.remove("seeds/b.yaml")
	stats, err = registry.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if stats.Updated != 1 || stats.Removed != 1 {
		t.Errorf("third sync stats = %+v", stats)
	}
	if len(loader.removed) != 1 || loader.removed[0] != "seeds/b.yaml" {
		t.Errorf("removed = %v", loader.removed)
	}

	seeds := registry.Seeds()
	if len(seeds) != 1 || seeds[0].Key != "seeds/a.yaml" || seeds[0].Records != 3 {
		t.Errorf("seeds = %+v", seeds)
	}
	if registry.RecordCount() != 3 {
		t.Errorf("RecordCount() = %d, want 3", registry.RecordCount())
	}
}

func TestSeedRegistry_UsesETag(t *testing.T) {
	storage := &mockStorage{}
	storage.put("seeds/a.yaml", "1\n", 1)
	storage.objects[0].ETag = "v1"
	registry := newTestSeedRegistry(storage, &mockSeedLoader{})
	ctx := context.Background()

	if _, err := registry.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	// Same ETag, different timestamp: unchanged.
	storage.objects[0].LastModified = 99
	stats, _ := registry.Sync(ctx)
	if stats.Updated != 0 {
		t.Errorf("Updated = %d, want 0", stats.Updated)
	}

	storage.objects[0].ETag = "v2"
	stats, _ = registry.Sync(ctx)
	if stats.Updated != 1 {
		t.Errorf("Updated = %d, want 1", stats.Updated)
	}
}

func TestSeedRegistry_SkipsFailingSeeds(t *testing.T) {
	storage := &mockStorage{}
	storage.put("seeds/a.yaml", "1\n", 1)
	loader := &mockSeedLoader{loadErr: errors.New("bad yaml")}
	registry := newTestSeedRegistry(storage, loader)

	stats, err := registry.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if stats.Added != 0 || registry.SeedCount() != 0 {
		t.Errorf("failing seed was registered: %+v", stats)
	}
}

func TestSeedRegistry_ListFailure(t *testing.T) {
	registry := newTestSeedRegistry(&mockStorage{listErr: errors.New("offline")}, &mockSeedLoader{})

	if _, err := registry.Sync(context.Background()); err == nil {
		t.Error("Sync() should fail when storage cannot be listed")
	}
}

func TestSeedRegistry_RecordsLoadedMetric(t *testing.T) {
	storage := &mockStorage{}
	storage.put("seeds/a.yaml", "1\n2\n", 1)
	metrics := &recordingMetrics{}
	registry := NewSeedRegistry(&mockSeedLoader{}, storage, metrics, quietLogger(), "seeds/")

	if _, err := registry.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if metrics.loaded != 2 {
		t.Errorf("records loaded metric = %d, want 2", metrics.loaded)
	}
}

func TestIsSeedFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"seeds/records.yaml", true},
		{"seeds/records.YML", true},
		{"seeds/records.json", false},
		{"seeds/", false},
	}

	for _, tt := range tests {
		if got := IsSeedFile(tt.path); got != tt.want {
			t.Errorf("IsSeedFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestObjectVersion(t *testing.T) {
	if v := objectVersion(output.StorageObject{ETag: "abc", Size: 1}); v != "abc" {
		t.Errorf("objectVersion() = %s, want abc", v)
	}
	if v := objectVersion(output.StorageObject{Size: 10, LastModified: 7}); v != "10-7" {
		t.Errorf("objectVersion() = %s, want 10-7", v)
	}
}
