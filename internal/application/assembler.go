package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/jobrunner/owsgate/internal/domain"
	"github.com/jobrunner/owsgate/internal/ports/output"
)

// ResultAssembler executes execution plans against a catalog store and
// shapes the aggregate result.
type ResultAssembler struct {
	store   output.CatalogStore
	metrics output.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time
}

// NewResultAssembler creates a result assembler.
func NewResultAssembler(store output.CatalogStore, metrics output.MetricsCollector, logger *slog.Logger) *ResultAssembler {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return &ResultAssembler{
		store:   store,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Execute runs plan. Every plan is counted first; in results mode the
// request window is then allocated greedily across the plans in declared
// order. A backend failure aborts the whole execution.
func (a *ResultAssembler) Execute(ctx context.Context, plan *domain.ExecutionPlan) (*domain.AggregateResult, error) {
	counts := make([]int, len(plan.Plans))
	matched := 0
	for i, p := range plan.Plans {
		n, err := a.store.Count(ctx, p.Query.CountQuery())
		if err != nil {
			return nil, backendError(p, err)
		}
		counts[i] = n
		matched += n
	}

	result := &domain.AggregateResult{
		ResultType:    plan.ResultType,
		ElementSet:    plan.ElementSet,
		OutputSchema:  plan.OutputSchema,
		NumberMatched: matched,
		Timestamp:     a.now().UTC(),
		Records:       domain.EmptyCollection,
	}

	if plan.ResultType != domain.ResultTypeResults {
		window := min(plan.Limit, max(0, matched-plan.Offset))
		result.NextRecord = nextRecord(plan.Offset, window, matched)
		return result, nil
	}

	offset, limit := plan.Offset, plan.Limit
	var members []*domain.RecordSet
	returned := 0
	for i, p := range plan.Plans {
		if limit <= 0 {
			break
		}
		if offset >= counts[i] {
			offset -= counts[i]
			continue
		}
		set, err := a.pull(ctx, p, offset, min(limit, counts[i]-offset))
		if err != nil {
			return nil, err
		}
		offset = 0
		limit -= set.Size()
		returned += set.Size()
		if set.Size() > 0 {
			members = append(members, set)
			a.metrics.ObserveRecordsReturned(p.Query.TypeName.String(), set.Size())
		}
	}

	result.NumberReturned = returned
	result.NextRecord = nextRecord(plan.Offset, returned, matched)
	switch len(members) {
	case 0:
	case 1:
		result.Records = members[0]
	default:
		result.Records = &domain.CompositeCollection{Members: members}
	}
	return result, nil
}

// pull reads at most limit records of one plan starting at start.
func (a *ResultAssembler) pull(ctx context.Context, p domain.QueryPlan, start, limit int) (*domain.RecordSet, error) {
	it, err := a.store.Query(ctx, p.Query.Window(start, limit))
	if err != nil {
		return nil, backendError(p, err)
	}
	defer func() {
		if cerr := it.Close(); cerr != nil {
			a.logger.Debug("failed to close record iterator",
				"type", p.Query.TypeName.String(),
				"error", cerr,
			)
		}
	}()

	set := &domain.RecordSet{TypeName: p.Query.TypeName}
	for len(set.Records) < limit && it.Next() {
		set.Records = append(set.Records, it.Record())
	}
	if err := it.Err(); err != nil {
		return nil, backendError(p, err)
	}
	return set, nil
}

// nextRecord returns the 1-based position of the first record after the
// window, or 0 when the window reaches the end.
func nextRecord(offset, returned, matched int) int {
	if offset+returned >= matched {
		return 0
	}
	return offset + returned + 1
}

func backendError(p domain.QueryPlan, err error) error {
	return domain.NoApplicableCode("query execution failed", &domain.QueryError{
		TypeName: p.Query.TypeName.String(),
		Err:      err,
	})
}
