package application

import (
	"github.com/jobrunner/owsgate/internal/domain"
)

// TypeRegistry holds the descriptors served by the bound store. It is built
// once and never modified, so lookups need no locking.
type TypeRegistry struct {
	types []domain.TypeDescriptor
}

// NewTypeRegistry creates a registry. The first descriptor is the canonical
// type used when a request names none.
func NewTypeRegistry(types []domain.TypeDescriptor) *TypeRegistry {
	return &TypeRegistry{types: append([]domain.TypeDescriptor(nil), types...)}
}

// Len returns the number of registered types.
func (r *TypeRegistry) Len() int {
	return len(r.types)
}

// All returns the registered descriptors in registration order.
func (r *TypeRegistry) All() []domain.TypeDescriptor {
	return append([]domain.TypeDescriptor(nil), r.types...)
}

// Default returns the canonical type, or nil for an empty registry.
func (r *TypeRegistry) Default() domain.TypeDescriptor {
	if len(r.types) == 0 {
		return nil
	}
	return r.types[0]
}

// Lookup finds a descriptor by name.
func (r *TypeRegistry) Lookup(name domain.QName) (domain.TypeDescriptor, bool) {
	for _, t := range r.types {
		if t.Name().Matches(name) {
			return t, true
		}
	}
	return nil, false
}

// ByName resolves a requested type name.
func (r *TypeRegistry) ByName(name domain.QName) (domain.TypeDescriptor, error) {
	if t, ok := r.Lookup(name); ok {
		return t, nil
	}
	return nil, domain.InvalidParameter("typeNames", "unknown type name %s", name)
}

// ByOutputSchema resolves the type producing schema. An empty schema
// selects the canonical type.
func (r *TypeRegistry) ByOutputSchema(schema string) (domain.TypeDescriptor, error) {
	if schema == "" {
		if d := r.Default(); d != nil {
			return d, nil
		}
		return nil, domain.InvalidParameter("outputSchema", "no record type registered")
	}
	for _, t := range r.types {
		if t.OutputSchema() == schema {
			return t, nil
		}
	}
	return nil, domain.InvalidParameter("outputSchema", "unsupported output schema %s", schema)
}

// OutputSchemas returns the distinct output schemas in registration order.
func (r *TypeRegistry) OutputSchemas() []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range r.types {
		if s := t.OutputSchema(); !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// TypeNames returns the prefixed names of every registered type.
func (r *TypeRegistry) TypeNames() []string {
	out := make([]string, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t.Name().String())
	}
	return out
}
