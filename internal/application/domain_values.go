package application

import (
	"context"
	"sort"
	"strings"

	"github.com/jobrunner/owsgate/internal/domain"
)

// GetDomain implements input.CatalogService. Parameter names resolve
// against the operations metadata, property names against the values held
// by the store. Names matching nothing are skipped.
func (s *CatalogService) GetDomain(ctx context.Context, req domain.DomainRequest) ([]domain.DomainValues, error) {
	var result []domain.DomainValues
	err := s.observe("GetDomain", func() error {
		if err := s.guard(); err != nil {
			return err
		}
		if len(req.ParameterNames) == 0 && len(req.PropertyNames) == 0 {
			return domain.MissingParameter("ParameterName")
		}

		if len(req.ParameterNames) > 0 {
			values, err := s.parameterDomains(ctx, req.ParameterNames)
			if err != nil {
				return err
			}
			result = append(result, values...)
		}
		for _, prop := range req.PropertyNames {
			values, ok, err := s.propertyDomain(ctx, prop)
			if err != nil {
				return err
			}
			if !ok {
				s.logger.Debug("no queryable matches domain property", "property", prop)
				continue
			}
			result = append(result, domain.DomainValues{PropertyName: prop, Values: values})
		}
		return nil
	})
	return result, err
}

func (s *CatalogService) parameterDomains(ctx context.Context, names []string) ([]domain.DomainValues, error) {
	om, err := s.caps.OperationsMetadata(ctx, s.store, "")
	if err != nil {
		return nil, err
	}
	var out []domain.DomainValues
	for _, name := range names {
		opName, param, ok := strings.Cut(strings.TrimSpace(name), ".")
		if !ok {
			s.logger.Debug("malformed domain parameter", "parameter", name)
			continue
		}
		var values []string
		found := false
		for i := range om.Operations {
			if !strings.EqualFold(om.Operations[i].Name, opName) {
				continue
			}
			if p, ok := om.Operations[i].Parameter(param); ok {
				values = append([]string(nil), p.Values...)
				found = true
			}
			break
		}
		if !found {
			s.logger.Debug("no operation parameter matches domain parameter", "parameter", name)
			continue
		}
		out = append(out, domain.DomainValues{ParameterName: name, Values: values})
	}
	return out, nil
}

// propertyDomain collects the distinct values of prop across every type
// exposing it as a queryable.
func (s *CatalogService) propertyDomain(ctx context.Context, prop string) ([]string, bool, error) {
	seen := make(map[string]bool)
	var values []string
	matched := false
	for _, desc := range s.registry.All() {
		attr, ok := desc.Attribute(prop)
		if !ok || !attr.Queryable || attr.IsGeometry() {
			continue
		}
		backend, err := s.store.TranslateProperty(desc, prop)
		if err != nil {
			continue
		}
		matched = true
		vals, err := s.store.DomainValues(ctx, desc.Name(), backend)
		if err != nil {
			return nil, false, domain.NoApplicableCode("reading domain values",
				&domain.QueryError{TypeName: desc.Name().String(), Err: err})
		}
		for _, v := range vals {
			if !seen[v] {
				seen[v] = true
				values = append(values, v)
			}
		}
	}
	sort.Strings(values)
	return values, matched, nil
}
