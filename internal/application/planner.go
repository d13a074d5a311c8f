package application

import (
	"errors"

	"github.com/jobrunner/owsgate/internal/domain"
)

// PropertyTranslator maps descriptor properties to backend properties.
type PropertyTranslator interface {
	TranslateProperty(desc domain.TypeDescriptor, name string) (string, error)
}

// QueryPlanner turns query requests into execution plans holding one backend
// query per declared type.
type QueryPlanner struct {
	registry   *TypeRegistry
	filters    FilterAdapter
	translator PropertyTranslator
}

// NewQueryPlanner creates a planner over registry.
func NewQueryPlanner(registry *TypeRegistry, translator PropertyTranslator) *QueryPlanner {
	return &QueryPlanner{
		registry:   registry,
		translator: translator,
	}
}

// Plan builds the execution plan of a GetRecords or GetFeature request.
// Plans keep the order in which type names were declared.
func (p *QueryPlanner) Plan(req domain.QueryRequest) (*domain.ExecutionPlan, error) {
	outputSchema := req.OutputSchema
	if outputSchema != "" {
		if _, err := p.registry.ByOutputSchema(outputSchema); err != nil {
			return nil, err
		}
	}

	descs, err := p.resolveTypes(req.TypeNames)
	if err != nil {
		return nil, err
	}
	if outputSchema == "" {
		outputSchema = descs[0].OutputSchema()
	}

	plans := make([]domain.QueryPlan, 0, len(descs))
	for _, desc := range descs {
		projection, err := projectionFor(desc, req.ElementNames, req.ElementSet)
		if err != nil {
			return nil, err
		}
		q, err := p.buildQuery(desc, req.Filter, projection, req.SortBy, outputSchema)
		if err != nil {
			return nil, err
		}
		plans = append(plans, domain.QueryPlan{Descriptor: desc, Query: q})
	}

	limit := domain.DefaultMaxRecords
	if req.MaxRecords != nil {
		limit = *req.MaxRecords
		if limit < 0 {
			return nil, domain.InvalidParameter("maxRecords", "maxRecords must not be negative, got %d", limit)
		}
	}
	offset := 0
	if req.StartPosition != nil {
		if *req.StartPosition < 1 {
			return nil, domain.InvalidParameter("startPosition", "startPosition must be at least 1, got %d", *req.StartPosition)
		}
		offset = *req.StartPosition - 1
	}

	resultType := req.ResultType
	if resultType == "" {
		resultType = domain.ResultTypeResults
	}
	if resultType == domain.ResultTypeResults && limit == 0 {
		resultType = domain.ResultTypeHits
	}

	elementSet := req.ElementSet
	switch {
	case len(req.ElementNames) > 0:
		elementSet = ""
	case elementSet == "":
		elementSet = domain.ElementSetFull
	}

	return &domain.ExecutionPlan{
		Plans:        plans,
		ResultType:   resultType,
		Offset:       offset,
		Limit:        limit,
		ElementSet:   elementSet,
		OutputSchema: outputSchema,
	}, nil
}

// PlanByID builds the plan of a GetRecordById request: one query per type
// producing the requested output schema, each restricted to the ids.
func (p *QueryPlanner) PlanByID(req domain.QueryByIDRequest) (*domain.ExecutionPlan, error) {
	if len(req.IDs) == 0 {
		return nil, domain.MissingParameter("Id")
	}
	first, err := p.registry.ByOutputSchema(req.OutputSchema)
	if err != nil {
		return nil, err
	}
	descs := []domain.TypeDescriptor{first}
	if req.OutputSchema != "" {
		descs = descs[:0]
		for _, d := range p.registry.All() {
			if d.OutputSchema() == req.OutputSchema {
				descs = append(descs, d)
			}
		}
	}

	elementSet := req.ElementSet
	if elementSet == "" {
		elementSet = domain.ElementSetFull
	}
	filter := &domain.IDFilter{IDs: append([]string(nil), req.IDs...)}

	plans := make([]domain.QueryPlan, 0, len(descs))
	for _, desc := range descs {
		q, err := p.buildQuery(desc, filter, desc.PropertiesForElementSet(elementSet), nil, first.OutputSchema())
		if err != nil {
			return nil, err
		}
		plans = append(plans, domain.QueryPlan{Descriptor: desc, Query: q})
	}

	return &domain.ExecutionPlan{
		Plans:        plans,
		ResultType:   domain.ResultTypeResults,
		Limit:        len(req.IDs),
		ElementSet:   elementSet,
		OutputSchema: first.OutputSchema(),
	}, nil
}

func (p *QueryPlanner) resolveTypes(names []domain.QName) ([]domain.TypeDescriptor, error) {
	if len(names) == 0 {
		d := p.registry.Default()
		if d == nil {
			return nil, domain.InvalidParameter("typeNames", "no record type registered")
		}
		return []domain.TypeDescriptor{d}, nil
	}
	descs := make([]domain.TypeDescriptor, 0, len(names))
	for _, n := range names {
		d, err := p.registry.ByName(n)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return descs, nil
}

func (p *QueryPlanner) buildQuery(
	desc domain.TypeDescriptor,
	filter domain.Filter,
	projection []domain.QName,
	sortBy []domain.SortBy,
	outputSchema string,
) (domain.Query, error) {
	f, err := p.filters.Normalize(filter, desc)
	if err != nil {
		return domain.Query{}, err
	}
	for _, sb := range sortBy {
		attr, ok := desc.Attribute(sb.Property)
		if !ok || !attr.Sortable {
			return domain.Query{}, domain.InvalidParameter("sortBy", "property %q of %s is not sortable", sb.Property, desc.Name())
		}
	}

	q := domain.Query{
		TypeName:     desc.Name(),
		Filter:       f,
		Properties:   projection,
		SortBy:       append([]domain.SortBy(nil), sortBy...),
		MaxRecords:   domain.Unbounded,
		Namespace:    desc.Name().Space,
		OutputSchema: outputSchema,
	}
	q, err = desc.AdaptQuery(q)
	if err != nil {
		var se *domain.ServiceError
		if errors.As(err, &se) {
			return domain.Query{}, err
		}
		return domain.Query{}, domain.NoApplicableCode("adapting query to "+desc.Name().String(), err)
	}

	if p.translator != nil {
		for i, sb := range q.SortBy {
			prop, err := p.translator.TranslateProperty(desc, sb.Property)
			if err != nil {
				return domain.Query{}, domain.InvalidParameter("sortBy", "cannot sort on %q: %v", sb.Property, err)
			}
			q.SortBy[i].Property = prop
		}
	}
	return q, nil
}

// projectionFor resolves the returned properties. Explicit element names
// win over the element set; no element set means no projection.
func projectionFor(desc domain.TypeDescriptor, names []domain.QName, set domain.ElementSet) ([]domain.QName, error) {
	if len(names) > 0 {
		out := make([]domain.QName, 0, len(names))
		for _, n := range names {
			attr, ok := desc.Attribute(n.String())
			if !ok {
				return nil, domain.InvalidParameter("elementName", "unknown element %s for %s", n, desc.Name())
			}
			out = append(out, attr.Name)
		}
		return out, nil
	}
	if set == "" {
		return nil, nil
	}
	return desc.PropertiesForElementSet(set), nil
}
