package records

import (
	"sync"

	"github.com/jobrunner/owsgate/internal/domain"
)

// TypeSet holds the descriptors a store serves: the built-in types plus the
// feature types declared by seed files, grouped by seed source.
type TypeSet struct {
	mu       sync.RWMutex
	base     []domain.TypeDescriptor
	bySource map[string][]domain.TypeDescriptor
	sources  []string // load order
}

// NewTypeSet creates a type set serving base.
func NewTypeSet(base ...domain.TypeDescriptor) *TypeSet {
	return &TypeSet{
		base:     base,
		bySource: make(map[string][]domain.TypeDescriptor),
	}
}

// All returns the built-in types followed by declared types in load order.
func (t *TypeSet) All() []domain.TypeDescriptor {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := append([]domain.TypeDescriptor(nil), t.base...)
	for _, src := range t.sources {
		out = append(out, t.bySource[src]...)
	}
	return out
}

// Lookup finds the descriptor matching name.
func (t *TypeSet) Lookup(name domain.QName) (domain.TypeDescriptor, bool) {
	for _, d := range t.All() {
		if d.Name().Matches(name) {
			return d, true
		}
	}
	return nil, false
}

// Resolve parses a prefixed type reference against the namespaces of the
// known types and looks it up. An empty reference resolves to the first
// built-in type.
func (t *TypeSet) Resolve(ref string) (domain.TypeDescriptor, bool) {
	all := t.All()
	if ref == "" {
		if len(all) == 0 {
			return nil, false
		}
		return all[0], true
	}
	ns := make(map[string]string)
	for _, d := range all {
		for p, uri := range d.Namespaces() {
			ns[p] = uri
		}
	}
	return t.Lookup(domain.ParseQName(ref, ns))
}

// SetSource replaces the types declared by source.
func (t *TypeSet) SetSource(source string, types []domain.TypeDescriptor) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.bySource[source]; !ok {
		t.sources = append(t.sources, source)
	}
	t.bySource[source] = types
}

// RemoveSource drops the types declared by source.
func (t *TypeSet) RemoveSource(source string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.bySource[source]; !ok {
		return
	}
	delete(t.bySource, source)
	for i, s := range t.sources {
		if s == source {
			t.sources = append(t.sources[:i], t.sources[i+1:]...)
			break
		}
	}
}
