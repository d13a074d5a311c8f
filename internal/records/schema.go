// Package records provides the built-in record type descriptors.
package records

import (
	"sort"
	"strings"

	"github.com/jobrunner/owsgate/internal/domain"
)

// AnyText is the queryable matching any text property of a record.
const AnyText = "AnyText"

// Schema is a table driven domain.TypeDescriptor.
type Schema struct {
	name         domain.QName
	outputSchema string
	namespaces   map[string]string
	attributes   []domain.Attribute
	elementSets  map[domain.ElementSet][]domain.QName
	mapping      map[string][]string // lower-cased queryable -> backing attributes
	queryables   []string
	adapt        func(domain.Query) (domain.Query, error)
}

// Option configures a Schema.
type Option func(*Schema)

// WithElementSet sets the projection for a profile.
func WithElementSet(set domain.ElementSet, names ...string) Option {
	return func(s *Schema) {
		props := make([]domain.QName, 0, len(names))
		for _, n := range names {
			props = append(props, s.attributeName(n))
		}
		s.elementSets[set] = props
	}
}

// WithQueryable exposes name as a queryable backed by one or more
// attributes. A queryable mapped to several attributes is expanded into a
// disjunction when queries are adapted.
func WithQueryable(name string, backing ...string) Option {
	return func(s *Schema) {
		s.mapping[strings.ToLower(localName(name))] = backing
		s.queryables = append(s.queryables, name)
	}
}

// WithAdapter replaces the query adaptation step.
func WithAdapter(fn func(domain.Query) (domain.Query, error)) Option {
	return func(s *Schema) {
		s.adapt = fn
	}
}

// NewSchema builds a descriptor. Attributes flagged queryable are exposed as
// queryables under their local name unless a WithQueryable option already
// names them.
func NewSchema(name domain.QName, outputSchema string, namespaces map[string]string, attrs []domain.Attribute, opts ...Option) *Schema {
	s := &Schema{
		name:         name,
		outputSchema: outputSchema,
		namespaces:   namespaces,
		attributes:   attrs,
		elementSets:  make(map[domain.ElementSet][]domain.QName),
		mapping:      make(map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.adapt == nil {
		s.adapt = s.mapQueryables
	}
	if len(s.queryables) == 0 {
		for _, a := range attrs {
			if a.Queryable {
				s.queryables = append(s.queryables, a.Name.String())
			}
		}
	}
	return s
}

// Name implements domain.TypeDescriptor.
func (s *Schema) Name() domain.QName { return s.name }

// OutputSchema implements domain.TypeDescriptor.
func (s *Schema) OutputSchema() string { return s.outputSchema }

// Namespaces implements domain.TypeDescriptor.
func (s *Schema) Namespaces() map[string]string {
	out := make(map[string]string, len(s.namespaces))
	for k, v := range s.namespaces {
		out[k] = v
	}
	return out
}

// Attributes implements domain.TypeDescriptor.
func (s *Schema) Attributes() []domain.Attribute {
	return append([]domain.Attribute(nil), s.attributes...)
}

// Attribute implements domain.TypeDescriptor. Property paths are reduced to
// their last step and prefixes are ignored. Queryable names resolve to their
// first backing attribute.
func (s *Schema) Attribute(name string) (domain.Attribute, bool) {
	local := localName(name)
	if backing, ok := s.mapping[strings.ToLower(local)]; ok && len(backing) > 0 {
		local = backing[0]
	}
	if strings.EqualFold(local, AnyText) {
		return domain.Attribute{Name: domain.QName{Local: AnyText}, Kind: domain.KindString, Queryable: true}, true
	}
	for _, a := range s.attributes {
		if a.Name.Local == local {
			return a, true
		}
	}
	for _, a := range s.attributes {
		if strings.EqualFold(a.Name.Local, local) {
			return a, true
		}
	}
	return domain.Attribute{}, false
}

// PropertiesForElementSet implements domain.TypeDescriptor.
func (s *Schema) PropertiesForElementSet(set domain.ElementSet) []domain.QName {
	props, ok := s.elementSets[set]
	if !ok {
		return nil
	}
	return append([]domain.QName(nil), props...)
}

// Queryables implements domain.TypeDescriptor. The list is sorted.
func (s *Schema) Queryables() []string {
	out := append([]string(nil), s.queryables...)
	sort.Strings(out)
	return out
}

// AdaptQuery implements domain.TypeDescriptor.
func (s *Schema) AdaptQuery(q domain.Query) (domain.Query, error) {
	return s.adapt(q)
}

// mapQueryables rewrites queryable names in filters and sort keys to the
// attributes backing them.
func (s *Schema) mapQueryables(q domain.Query) (domain.Query, error) {
	if q.Filter != nil {
		f, err := domain.Rewrite(q.Filter, func(f domain.Filter) (domain.Filter, error) {
			prop, ok := domain.PropertyOf(f)
			if !ok {
				return f, nil
			}
			backing, ok := s.mapping[strings.ToLower(localName(prop))]
			if !ok || len(backing) == 0 {
				return f, nil
			}
			if len(backing) == 1 {
				return domain.WithProperty(f, backing[0]), nil
			}
			alternatives := make([]domain.Filter, 0, len(backing))
			for _, b := range backing {
				alternatives = append(alternatives, domain.WithProperty(f, b))
			}
			return &domain.Or{Filters: alternatives}, nil
		})
		if err != nil {
			return q, err
		}
		q.Filter = f
	}
	if len(q.SortBy) > 0 {
		sorts := make([]domain.SortBy, len(q.SortBy))
		for i, sb := range q.SortBy {
			if backing, ok := s.mapping[strings.ToLower(localName(sb.Property))]; ok && len(backing) > 0 {
				sb.Property = backing[0]
			}
			sorts[i] = sb
		}
		q.SortBy = sorts
	}
	return q, nil
}

func (s *Schema) attributeName(local string) domain.QName {
	for _, a := range s.attributes {
		if a.Name.Local == local {
			return a.Name
		}
	}
	return domain.QName{Local: local}
}

// localName strips XPath steps and a namespace prefix from a property
// reference.
func localName(ref string) string {
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		ref = ref[i+1:]
	}
	ref = strings.TrimPrefix(ref, "@")
	if _, local, ok := strings.Cut(ref, ":"); ok {
		return local
	}
	return ref
}

// LocalName exposes the property reference reduction used by descriptors to
// stores evaluating filters.
func LocalName(ref string) string {
	return localName(ref)
}
