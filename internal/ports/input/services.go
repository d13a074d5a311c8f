// Package input defines the primary/driving ports of the application.
package input

import (
	"context"
	"io"

	"github.com/jobrunner/owsgate/internal/domain"
)

// CatalogService is the entry point for catalog (CSW) and feature (WFS)
// operations.
type CatalogService interface {
	GetCapabilities(ctx context.Context, req domain.CapabilitiesRequest) (*domain.Capabilities, error)
	DescribeType(ctx context.Context, req domain.DescribeTypeRequest) (*domain.DescribeResult, error)
	Query(ctx context.Context, req domain.QueryRequest) (*domain.AggregateResult, error)
	QueryByID(ctx context.Context, req domain.QueryByIDRequest) (*domain.AggregateResult, error)
	GetDomain(ctx context.Context, req domain.DomainRequest) ([]domain.DomainValues, error)
	Transaction(ctx context.Context, req domain.TransactionRequest) (*domain.TransactionResult, error)
	Harvest(ctx context.Context, req domain.HarvestRequest) error
	DirectDownload(ctx context.Context, req domain.DirectDownloadRequest) (*Download, error)
}

// Download is the outcome of DirectDownload: either a listing or an open
// file.
type Download struct {
	Links  []domain.DownloadLink
	Name   string
	Size   int64
	Reader io.ReadCloser // nil for listings
}

// CoverageService is the entry point for coverage (WCS) operations.
type CoverageService interface {
	GetCapabilities(ctx context.Context, req domain.CapabilitiesRequest) (*domain.Capabilities, error)
	DescribeCoverage(ctx context.Context, req domain.DescribeCoverageRequest) ([]domain.CoverageDescriptor, error)
	GetCoverage(ctx context.Context, req domain.GetCoverageRequest) (*domain.Coverage, error)
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy    bool              // Overall health status
	Ready      bool              // Ready to accept requests
	Store      string            // Bound catalog store, empty if none
	Types      int               // Number of registered record types
	Coverages  int               // Number of served coverages
	Components map[string]string // Component statuses
}
