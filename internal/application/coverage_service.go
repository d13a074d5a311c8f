package application

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jobrunner/owsgate/internal/domain"
	"github.com/jobrunner/owsgate/internal/ports/input"
	"github.com/jobrunner/owsgate/internal/ports/output"
)

// Coverage service identity.
const (
	CoverageServiceType = "WCS"
	CoverageVersion     = "2.0.1"
)

// RectifiedGridCoverage is the subtype reported for every coverage.
const RectifiedGridCoverage = "RectifiedGridCoverage"

var coverageSections = []domain.Section{
	domain.SectionServiceIdentification,
	domain.SectionServiceProvider,
	domain.SectionOperationsMetadata,
	domain.SectionServiceMetadata,
	domain.SectionContents,
}

// CoverageService is the entry point of every coverage operation.
type CoverageService struct {
	store   output.CoverageStore
	planner *CoveragePlanner
	info    domain.ServiceInfo
	metrics output.MetricsCollector
	logger  *slog.Logger
}

// CoverageServiceConfig holds configuration for the coverage service.
type CoverageServiceConfig struct {
	Service  domain.ServiceInfo
	MaxCells int
}

// Ensure CoverageService implements input.CoverageService.
var _ input.CoverageService = (*CoverageService)(nil)

// NewCoverageService creates a coverage service. store may be nil.
func NewCoverageService(store output.CoverageStore, metrics output.MetricsCollector, logger *slog.Logger, cfg CoverageServiceConfig) *CoverageService {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return &CoverageService{
		store:   store,
		planner: NewCoveragePlanner(cfg.MaxCells),
		info:    cfg.Service,
		metrics: metrics,
		logger:  logger,
	}
}

// GetCapabilities implements input.CoverageService.
func (s *CoverageService) GetCapabilities(ctx context.Context, req domain.CapabilitiesRequest) (*domain.Capabilities, error) {
	var caps *domain.Capabilities
	err := s.observe("GetCapabilities", func() error {
		version, err := negotiateVersion(CoverageVersion, req.AcceptVersions)
		if err != nil {
			return err
		}
		sections, err := parseSections(req.Sections, coverageSections)
		if err != nil {
			return err
		}

		var coverages []domain.CoverageDescriptor
		if s.store != nil {
			coverages, err = s.store.Coverages(ctx)
			if err != nil {
				return domain.NoApplicableCode("listing coverages", err)
			}
		}

		caps = &domain.Capabilities{Service: CoverageServiceType, Version: version}
		if sections[domain.SectionServiceIdentification] {
			caps.ServiceIdentification = serviceIdentification(s.info, CoverageServiceType, version)
		}
		if sections[domain.SectionServiceProvider] {
			caps.ServiceProvider = serviceProvider(s.info)
		}
		if sections[domain.SectionOperationsMetadata] {
			caps.OperationsMetadata = coverageOperations(req.BaseURL)
		}
		if sections[domain.SectionServiceMetadata] {
			caps.ServiceMetadata = coverageFormats(coverages)
		}
		if sections[domain.SectionContents] {
			for _, c := range coverages {
				caps.Contents = append(caps.Contents, domain.CoverageSummary{
					ID:          c.ID,
					Subtype:     RectifiedGridCoverage,
					WGS84Bounds: c.Envelope,
				})
			}
		}
		return nil
	})
	return caps, err
}

// DescribeCoverage implements input.CoverageService.
func (s *CoverageService) DescribeCoverage(ctx context.Context, req domain.DescribeCoverageRequest) ([]domain.CoverageDescriptor, error) {
	var out []domain.CoverageDescriptor
	err := s.observe("DescribeCoverage", func() error {
		if s.store == nil {
			return domain.NoStore()
		}
		if len(req.CoverageIDs) == 0 {
			return domain.MissingParameter("coverageId")
		}
		for _, id := range req.CoverageIDs {
			desc, err := s.coverage(ctx, id)
			if err != nil {
				return err
			}
			out = append(out, desc)
		}
		return nil
	})
	return out, err
}

// GetCoverage implements input.CoverageService.
func (s *CoverageService) GetCoverage(ctx context.Context, req domain.GetCoverageRequest) (*domain.Coverage, error) {
	var cov *domain.Coverage
	err := s.observe("GetCoverage", func() error {
		if s.store == nil {
			return domain.NoStore()
		}
		if strings.TrimSpace(req.CoverageID) == "" {
			return domain.MissingParameter("coverageId")
		}
		desc, err := s.coverage(ctx, req.CoverageID)
		if err != nil {
			return err
		}
		plan, err := s.planner.Plan(desc, req)
		if err != nil {
			return err
		}

		s.logger.Debug("reading coverage",
			"coverage", desc.ID,
			"window", plan.Window.String(),
			"width", plan.TargetWidth,
			"height", plan.TargetHeight,
			"bands", len(plan.Bands),
		)
		cov, err = s.store.Read(ctx, plan)
		if err != nil {
			return domain.NoApplicableCode("reading coverage",
				&domain.QueryError{TypeName: desc.ID, Err: err})
		}
		return nil
	})
	return cov, err
}

func (s *CoverageService) coverage(ctx context.Context, id string) (domain.CoverageDescriptor, error) {
	desc, err := s.store.Coverage(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrCoverageNotFound) {
			return desc, domain.CoverageError(domain.CodeNoSuchCoverage, id, "no such coverage %s", id)
		}
		return desc, domain.NoApplicableCode("reading coverage description", err)
	}
	return desc, nil
}

func (s *CoverageService) observe(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.metrics.IncRequestCount(CoverageServiceType, operation, err == nil)
	s.metrics.ObserveRequestDuration(CoverageServiceType, operation, time.Since(start))
	if errors.Is(err, domain.ErrNoStore) {
		s.logger.Error("operation rejected", "operation", operation, "error", err)
	}
	return err
}

func coverageOperations(baseURL string) *domain.OperationsMetadata {
	om := &domain.OperationsMetadata{
		Parameters: []domain.Domain{
			{Name: "service", Values: []string{CoverageServiceType}},
			{Name: "version", Values: []string{CoverageVersion}},
		},
	}
	for _, name := range []string{"GetCapabilities", "DescribeCoverage", "GetCoverage"} {
		om.Operations = append(om.Operations, domain.Operation{Name: name, GetURL: baseURL, PostURL: baseURL})
	}
	return om
}

// coverageFormats returns the sorted union of the coverage formats.
func coverageFormats(coverages []domain.CoverageDescriptor) []string {
	seen := map[string]bool{"application/json": true}
	out := []string{"application/json"}
	for _, c := range coverages {
		for _, f := range c.Formats {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	sort.Strings(out)
	return out
}
