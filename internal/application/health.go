package application

import (
	"context"

	"github.com/jobrunner/owsgate/internal/ports/input"
)

// HealthService provides health check functionality.
type HealthService struct {
	catalog  *CatalogService
	coverage *CoverageService
	seeds    *SeedRegistry
}

// NewHealthService creates a new health service. coverage and seeds may be
// nil.
func NewHealthService(catalog *CatalogService, coverage *CoverageService, seeds *SeedRegistry) *HealthService {
	return &HealthService{
		catalog:  catalog,
		coverage: coverage,
		seeds:    seeds,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(ctx context.Context) bool {
	return true // Basic health check
}

// IsReady returns true once a catalog store is bound and serves at least
// one record type.
func (s *HealthService) IsReady(ctx context.Context) bool {
	return s.catalog.StoreName() != "" && s.catalog.Registry().Len() > 0
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	components := map[string]string{
		"store": "ok",
	}
	if s.catalog.StoreName() == "" {
		components["store"] = "missing"
	}

	coverages := 0
	if s.coverage != nil && s.coverage.store != nil {
		list, err := s.coverage.store.Coverages(ctx)
		if err != nil {
			components["coverage"] = "error"
		} else {
			components["coverage"] = "ok"
			coverages = len(list)
		}
	}
	if s.seeds != nil {
		components["seeds"] = "ok"
	}

	return input.HealthDetails{
		Healthy:    s.IsHealthy(ctx),
		Ready:      s.IsReady(ctx),
		Store:      s.catalog.StoreName(),
		Types:      s.catalog.Registry().Len(),
		Coverages:  coverages,
		Components: components,
	}
}

// Seeds returns the loaded seeds, or nil without seed synchronisation.
func (s *HealthService) Seeds() []SeedInfo {
	if s.seeds == nil {
		return nil
	}
	return s.seeds.Seeds()
}
