package application

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/jobrunner/owsgate/internal/domain"
	"github.com/jobrunner/owsgate/internal/ports/input"
	"github.com/jobrunner/owsgate/internal/ports/output"
)

// DownloadService serves the files of downloadable resources from object
// storage. Files of a resource live under "<resourceId>/".
type DownloadService struct {
	storage output.ObjectStorage
	cache   *expirable.LRU[string, []domain.DownloadLink]
	metrics output.MetricsCollector
	logger  *slog.Logger
}

// DownloadConfig holds configuration for the download service.
type DownloadConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// NewDownloadService creates a new download service.
func NewDownloadService(storage output.ObjectStorage, metrics output.MetricsCollector, logger *slog.Logger, cfg DownloadConfig) *DownloadService {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return &DownloadService{
		storage: storage,
		cache:   expirable.NewLRU[string, []domain.DownloadLink](cfg.CacheSize, nil, cfg.CacheTTL),
		metrics: metrics,
		logger:  logger,
	}
}

// FileID returns the stable identifier of an object key.
func FileID(key string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(key))
}

// Download lists the files of a resource, or opens one of them when a file
// id is given.
func (s *DownloadService) Download(ctx context.Context, req domain.DirectDownloadRequest) (*input.Download, error) {
	resourceID := strings.TrimSpace(req.ResourceID)
	if resourceID == "" {
		return nil, domain.MissingParameter("resourceId")
	}
	if !validResourceID(resourceID) {
		return nil, domain.InvalidParameter("resourceId", "invalid resource id %q", resourceID)
	}

	links, err := s.links(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, domain.InvalidParameter("resourceId", "unknown resource %s", resourceID)
	}

	if req.FileID == "" {
		return &input.Download{Links: links}, nil
	}

	for _, l := range links {
		if !strings.EqualFold(l.FileID, req.FileID) {
			continue
		}
		key := resourceID + "/" + l.Name
		start := time.Now()
		r, err := s.storage.GetReader(ctx, key)
		s.metrics.ObserveStorageDuration("read", time.Since(start))
		s.metrics.IncStorageOperations("read", err == nil)
		if err != nil {
			return nil, domain.NoApplicableCode("opening resource file",
				&domain.StorageError{Operation: "read", Key: key, Err: err})
		}
		return &input.Download{Name: path.Base(l.Name), Size: l.Size, Reader: r}, nil
	}
	return nil, domain.InvalidParameter("fileId", "unknown file %s for resource %s", req.FileID, resourceID)
}

// Invalidate drops the cached listing of a resource.
func (s *DownloadService) Invalidate(resourceID string) {
	s.cache.Remove(resourceID)
}

func (s *DownloadService) links(ctx context.Context, resourceID string) ([]domain.DownloadLink, error) {
	if links, ok := s.cache.Get(resourceID); ok {
		return links, nil
	}

	prefix := resourceID + "/"
	start := time.Now()
	objects, err := s.storage.List(ctx, prefix)
	s.metrics.ObserveStorageDuration("list", time.Since(start))
	s.metrics.IncStorageOperations("list", err == nil)
	if err != nil {
		return nil, domain.NoApplicableCode("listing resource files",
			&domain.StorageError{Operation: "list", Key: prefix, Err: err})
	}

	links := make([]domain.DownloadLink, 0, len(objects))
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, prefix)
		if name == "" || strings.HasSuffix(name, "/") {
			continue
		}
		links = append(links, domain.DownloadLink{
			ResourceID: resourceID,
			FileID:     FileID(obj.Key),
			Name:       name,
			Size:       obj.Size,
		})
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Name < links[j].Name })

	s.cache.Add(resourceID, links)
	s.logger.Debug("listed resource files", "resource", resourceID, "files", len(links))
	return links, nil
}

func validResourceID(id string) bool {
	if strings.HasPrefix(id, "/") || strings.Contains(id, "..") || strings.Contains(id, "\\") {
		return false
	}
	return path.Clean(id) == id
}
