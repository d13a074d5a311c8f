package output

import (
	"context"

	"github.com/jobrunner/owsgate/internal/domain"
)

// CoverageStore defines the secondary port for gridded coverage backends.
type CoverageStore interface {
	// Coverages returns every coverage served by the store.
	Coverages(ctx context.Context) ([]domain.CoverageDescriptor, error)

	// Coverage returns one coverage, or an error wrapping
	// domain.ErrCoverageNotFound.
	Coverage(ctx context.Context, id string) (domain.CoverageDescriptor, error)

	// Read reads the cells selected by plan.
	Read(ctx context.Context, plan domain.CoverageReadPlan) (*domain.Coverage, error)
}
