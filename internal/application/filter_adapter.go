package application

import (
	"github.com/jobrunner/owsgate/internal/domain"
)

// FilterAdapter prepares client filters for backend execution.
type FilterAdapter struct{}

// Normalize returns a copy of f in which every Like predicate matches case
// insensitively. Spatial predicates must target a geometry attribute of
// desc, otherwise an InvalidParameterValue error naming the predicate is
// returned; a spatial predicate without property targets the first
// geometry attribute. The input tree is left untouched.
func (FilterAdapter) Normalize(f domain.Filter, desc domain.TypeDescriptor) (domain.Filter, error) {
	if f == nil {
		return nil, nil
	}
	return domain.Rewrite(f, func(n domain.Filter) (domain.Filter, error) {
		switch p := n.(type) {
		case *domain.Like:
			c := *p
			c.MatchCase = false
			return &c, nil
		case *domain.Spatial:
			if p.Property == "" {
				geom, ok := defaultGeometry(desc)
				if !ok {
					return nil, domain.InvalidParameter("filter",
						"spatial operator %s used on %s, which has no geometry", p.Op, desc.Name())
				}
				c := *p
				c.Property = geom
				return &c, nil
			}
			attr, ok := desc.Attribute(p.Property)
			if !ok || !attr.IsGeometry() {
				return nil, domain.InvalidParameter("filter",
					"spatial operator %s used on non spatial property %q of %s",
					domain.DescribeFilter(p), p.Property, desc.Name())
			}
		}
		return n, nil
	})
}

func defaultGeometry(desc domain.TypeDescriptor) (string, bool) {
	for _, a := range desc.Attributes() {
		if a.IsGeometry() {
			return a.Name.String(), true
		}
	}
	return "", false
}
