package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jobrunner/owsgate/internal/domain"
	"github.com/jobrunner/owsgate/internal/ports/input"
	"github.com/jobrunner/owsgate/internal/ports/output"
)

// Schema languages accepted by DescribeRecord, lower-cased.
var xmlSchemaLanguages = map[string]bool{
	"http://www.w3.org/xml/schema":      true,
	"http://www.w3.org/tr/xmlschema-1/": true,
	"xmlschema":                         true,
}

// CatalogService is the entry point of every catalog and feature operation.
// The store and the type registry are fixed at construction; requests share
// no other state.
type CatalogService struct {
	store     output.CatalogStore
	registry  *TypeRegistry
	planner   *QueryPlanner
	assembler *ResultAssembler
	caps      *CapabilitiesBuilder
	filters   FilterAdapter
	downloads *DownloadService
	metrics   output.MetricsCollector
	logger    *slog.Logger
}

// CatalogServiceConfig holds configuration for the catalog service.
type CatalogServiceConfig struct {
	Service    domain.ServiceInfo
	Decorators []output.CapabilitiesDecorator
}

// Ensure CatalogService implements input.CatalogService.
var _ input.CatalogService = (*CatalogService)(nil)

// NewCatalogService creates the catalog service bound to store. store may
// be nil, in which case only GetCapabilities succeeds. downloads may be nil
// to disable DirectDownload.
func NewCatalogService(
	ctx context.Context,
	store output.CatalogStore,
	downloads *DownloadService,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg CatalogServiceConfig,
) (*CatalogService, error) {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}

	var types []domain.TypeDescriptor
	var translator PropertyTranslator
	if store != nil {
		var err error
		types, err = store.RecordDescriptors(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading record descriptors from %s: %w", store.Name(), err)
		}
		translator = store
	}
	registry := NewTypeRegistry(types)

	logger.Info("catalog service initialized",
		"types", registry.TypeNames(),
		"decorators", len(cfg.Decorators),
	)

	return &CatalogService{
		store:     store,
		registry:  registry,
		planner:   NewQueryPlanner(registry, translator),
		assembler: NewResultAssembler(store, metrics, logger),
		caps:      NewCapabilitiesBuilder(cfg.Service, registry, cfg.Decorators),
		downloads: downloads,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// Registry returns the type registry.
func (s *CatalogService) Registry() *TypeRegistry {
	return s.registry
}

// StoreName returns the name of the bound store, empty when none.
func (s *CatalogService) StoreName() string {
	if s.store == nil {
		return ""
	}
	return s.store.Name()
}

// GetCapabilities implements input.CatalogService. It works without a bound
// store.
func (s *CatalogService) GetCapabilities(ctx context.Context, req domain.CapabilitiesRequest) (*domain.Capabilities, error) {
	var caps *domain.Capabilities
	err := s.observe("GetCapabilities", func() error {
		var err error
		caps, err = s.caps.Build(ctx, s.store, req)
		return err
	})
	return caps, err
}

// DescribeType implements input.CatalogService. Requested names matching no
// type are ignored as long as one matches.
func (s *CatalogService) DescribeType(ctx context.Context, req domain.DescribeTypeRequest) (*domain.DescribeResult, error) {
	var result *domain.DescribeResult
	err := s.observe("DescribeRecord", func() error {
		if err := s.guard(); err != nil {
			return err
		}
		lang := strings.TrimSpace(req.SchemaLanguage)
		if lang != "" && !xmlSchemaLanguages[strings.ToLower(lang)] {
			return domain.InvalidParameter("schemaLanguage", "unsupported schema language %s", lang)
		}

		result = &domain.DescribeResult{SchemaLanguage: "http://www.w3.org/XML/Schema"}
		if len(req.TypeNames) == 0 {
			result.Types = s.registry.All()
			return nil
		}
		for _, n := range req.TypeNames {
			desc, ok := s.registry.Lookup(n)
			if !ok {
				s.logger.Debug("ignoring unknown type name", "type", n.String())
				continue
			}
			result.Types = append(result.Types, desc)
		}
		if len(result.Types) == 0 {
			return domain.InvalidParameter("typeName", "none of the requested types is known")
		}
		return nil
	})
	return result, err
}

// Query implements input.CatalogService.
func (s *CatalogService) Query(ctx context.Context, req domain.QueryRequest) (*domain.AggregateResult, error) {
	var result *domain.AggregateResult
	err := s.observe("GetRecords", func() error {
		if err := s.guard(); err != nil {
			return err
		}
		plan, err := s.planner.Plan(req)
		if err != nil {
			return err
		}
		result, err = s.assembler.Execute(ctx, plan)
		return err
	})
	return result, err
}

// QueryByID implements input.CatalogService. Ids without a record are
// logged and left out of the result.
func (s *CatalogService) QueryByID(ctx context.Context, req domain.QueryByIDRequest) (*domain.AggregateResult, error) {
	var result *domain.AggregateResult
	err := s.observe("GetRecordById", func() error {
		if err := s.guard(); err != nil {
			return err
		}
		plan, err := s.planner.PlanByID(req)
		if err != nil {
			return err
		}
		result, err = s.assembler.Execute(ctx, plan)
		if err != nil {
			return err
		}

		found := make(map[string]bool, result.NumberReturned)
		_ = result.Records.Each(func(r domain.Record) error {
			found[r.ID] = true
			return nil
		})
		for _, id := range req.IDs {
			if !found[id] {
				s.logger.Debug("record id not found", "id", id)
			}
		}
		return nil
	})
	return result, err
}

// Transaction implements input.CatalogService. Only stores accepting writes
// execute transactions.
func (s *CatalogService) Transaction(ctx context.Context, req domain.TransactionRequest) (*domain.TransactionResult, error) {
	var result *domain.TransactionResult
	err := s.observe("Transaction", func() error {
		if err := s.guard(); err != nil {
			return err
		}
		ts, ok := s.store.(output.TransactionalStore)
		if !ok {
			return domain.NotSupported("Transaction")
		}
		sc, err := s.store.Capabilities(ctx)
		if err != nil {
			return domain.NoApplicableCode("reading store capabilities", err)
		}
		if !sc.SupportsTransactions() {
			return domain.NotSupported("Transaction")
		}
		if len(req.Actions) == 0 {
			return domain.InvalidParameter("Transaction", "transaction has no action")
		}

		actions := make([]domain.TransactionAction, 0, len(req.Actions))
		for _, a := range req.Actions {
			prepared, err := s.prepareAction(a)
			if err != nil {
				return err
			}
			actions = append(actions, prepared)
		}

		res, err := ts.Apply(ctx, domain.TransactionRequest{Actions: actions})
		if err != nil {
			var se *domain.ServiceError
			if errors.As(err, &se) {
				return err
			}
			return domain.NoApplicableCode("transaction failed", err)
		}
		result = &res
		s.logger.Info("transaction applied",
			"inserted", res.Inserted,
			"updated", res.Updated,
			"deleted", res.Deleted,
		)
		return nil
	})
	return result, err
}

func (s *CatalogService) prepareAction(a domain.TransactionAction) (domain.TransactionAction, error) {
	desc, err := s.registry.ByName(a.TypeName)
	if err != nil {
		return a, err
	}
	out := domain.TransactionAction{Kind: a.Kind, TypeName: desc.Name()}

	switch a.Kind {
	case domain.TransactionInsert:
		if len(a.Records) == 0 {
			return a, domain.MissingParameter("Insert")
		}
		out.Records = make([]domain.Record, len(a.Records))
		for i, r := range a.Records {
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			r.TypeName = desc.Name()
			out.Records[i] = r
		}
		return out, nil

	case domain.TransactionUpdate, domain.TransactionDelete:
		if a.Filter == nil {
			return a, domain.MissingParameter("Constraint")
		}
		f, err := s.filters.Normalize(a.Filter, desc)
		if err != nil {
			return a, err
		}
		q, err := desc.AdaptQuery(domain.Query{TypeName: desc.Name(), Filter: f, MaxRecords: domain.Unbounded})
		if err != nil {
			return a, domain.NoApplicableCode("adapting transaction filter", err)
		}
		out.Filter = q.Filter
		if a.Kind == domain.TransactionDelete {
			return out, nil
		}
		if len(a.Set) == 0 {
			return a, domain.MissingParameter("RecordProperty")
		}
		out.Set = make(map[string]any, len(a.Set))
		for name, v := range a.Set {
			prop, err := s.store.TranslateProperty(desc, name)
			if err != nil {
				return a, domain.InvalidParameter("RecordProperty", "unknown property %q: %v", name, err)
			}
			out.Set[prop] = v
		}
		return out, nil
	}
	return a, domain.InvalidParameter("Transaction", "unknown action %q", a.Kind)
}

// Harvest implements input.CatalogService. Harvesting is never offered.
func (s *CatalogService) Harvest(_ context.Context, _ domain.HarvestRequest) error {
	return s.observe("Harvest", func() error {
		if err := s.guard(); err != nil {
			return err
		}
		return domain.NotSupported("Harvest")
	})
}

// DirectDownload implements input.CatalogService.
func (s *CatalogService) DirectDownload(ctx context.Context, req domain.DirectDownloadRequest) (*input.Download, error) {
	var result *input.Download
	err := s.observe("DirectDownload", func() error {
		if err := s.guard(); err != nil {
			return err
		}
		if s.downloads == nil {
			return domain.NotSupported("DirectDownload")
		}
		var err error
		result, err = s.downloads.Download(ctx, req)
		return err
	})
	return result, err
}

func (s *CatalogService) guard() error {
	if s.store == nil {
		return domain.NoStore()
	}
	return nil
}

// observe runs one operation, records its metrics and logs configuration
// errors.
func (s *CatalogService) observe(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.metrics.IncRequestCount(CatalogServiceType, operation, err == nil)
	s.metrics.ObserveRequestDuration(CatalogServiceType, operation, time.Since(start))

	if errors.Is(err, domain.ErrNoStore) || domain.IsUnsupported(err) {
		s.logger.Error("operation rejected",
			"operation", operation,
			"error", err,
		)
	}
	return err
}
