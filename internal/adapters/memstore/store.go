// Package memstore provides an in-memory catalog store filled from record
// seed files.
package memstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/jobrunner/owsgate/internal/domain"
	"github.com/jobrunner/owsgate/internal/ports/output"
	"github.com/jobrunner/owsgate/internal/records"
)

// Name identifies the store for selection.
const Name = "memory"

type entry struct {
	source string
	record domain.Record
}

// Store implements output.CatalogStore and output.SeedLoader.
type Store struct {
	mu      sync.RWMutex
	entries []entry
	types   *records.TypeSet
	logger  *slog.Logger
}

// New creates an empty store serving the Dublin Core and ISO record types.
func New(logger *slog.Logger) *Store {
	return &Store{
		types:  records.NewTypeSet(records.DublinCore(), records.ISO()),
		logger: logger,
	}
}

// Name implements output.CatalogStore.
func (s *Store) Name() string {
	return Name
}

// RecordDescriptors implements output.CatalogStore.
func (s *Store) RecordDescriptors(_ context.Context) ([]domain.TypeDescriptor, error) {
	return s.types.All(), nil
}

// Count implements output.CatalogStore.
func (s *Store) Count(_ context.Context, q domain.Query) (int, error) {
	match, err := compile(q.Filter)
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.entries {
		if e.record.TypeName.Matches(q.TypeName) && match(e.record) {
			n++
		}
	}
	return n, nil
}

// Query implements output.CatalogStore. Records are returned in load order
// unless the query sorts them.
func (s *Store) Query(_ context.Context, q domain.Query) (output.RecordIterator, error) {
	match, err := compile(q.Filter)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	var matched []domain.Record
	for _, e := range s.entries {
		if e.record.TypeName.Matches(q.TypeName) && match(e.record) {
			matched = append(matched, e.record)
		}
	}
	s.mu.RUnlock()

	if len(q.SortBy) > 0 {
		sortRecords(matched, q.SortBy)
	}

	start := min(max(q.StartIndex, 0), len(matched))
	matched = matched[start:]
	if q.Limited() && q.MaxRecords < len(matched) {
		matched = matched[:q.MaxRecords]
	}

	keepGeometry := q.Properties == nil
	if desc, ok := s.types.Lookup(q.TypeName); ok && q.Properties != nil {
		for _, p := range q.Properties {
			if a, ok := desc.Attribute(p.Local); ok && a.IsGeometry() {
				keepGeometry = true
				break
			}
		}
	}
	out := make([]domain.Record, len(matched))
	for i, r := range matched {
		out[i] = r.Project(q.Properties, keepGeometry)
	}
	return &sliceIterator{records: out, pos: -1}, nil
}

// sortRecords orders records stably on the sort keys. Records lacking a key
// sort after those having it.
func sortRecords(recs []domain.Record, keys []domain.SortBy) {
	sort.SliceStable(recs, func(i, j int) bool {
		for _, k := range keys {
			prop := records.LocalName(k.Property)
			vi, vj := values(recs[i], prop), values(recs[j], prop)
			switch {
			case len(vi) == 0 && len(vj) == 0:
				continue
			case len(vi) == 0:
				return false
			case len(vj) == 0:
				return true
			}
			cmp, ok := compareValues(vi[0], vj[0], true)
			if !ok || cmp == 0 {
				continue
			}
			if k.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// DomainValues implements output.CatalogStore.
func (s *Store) DomainValues(_ context.Context, typeName domain.QName, property string) ([]string, error) {
	prop := records.LocalName(property)

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, e := range s.entries {
		if !e.record.TypeName.Matches(typeName) {
			continue
		}
		for _, v := range values(e.record, prop) {
			str := toString(v)
			if !seen[str] {
				seen[str] = true
				out = append(out, str)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// Capabilities implements output.CatalogStore.
func (s *Store) Capabilities(_ context.Context) (output.StoreCapabilities, error) {
	types := s.types.All()
	queryables := make(map[string][]string, len(types))
	for _, t := range types {
		queryables[t.Name().String()] = t.Queryables()
	}
	return output.StoreCapabilities{
		OperationParameters: records.OperationParameters(types),
		Queryables:          queryables,
	}, nil
}

// TranslateProperty implements output.CatalogStore. Properties are stored
// under their local attribute name.
func (s *Store) TranslateProperty(desc domain.TypeDescriptor, name string) (string, error) {
	attr, ok := desc.Attribute(name)
	if !ok {
		return "", fmt.Errorf("%s has no property %s", desc.Name(), name)
	}
	return attr.Name.Local, nil
}

// LoadSeed implements output.SeedLoader.
func (s *Store) LoadSeed(_ context.Context, source string, r io.Reader) (int, error) {
	seed, err := records.DecodeSeed(r)
	if err != nil {
		return 0, err
	}
	declared, recs, err := seed.Resolve(s.types)
	if err != nil {
		return 0, fmt.Errorf("seed %s: %w", source, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make(map[string]string)
	for _, e := range s.entries {
		if e.source != source {
			ids[e.record.ID] = e.source
		}
	}
	for _, rec := range recs {
		if other, ok := ids[rec.ID]; ok {
			return 0, fmt.Errorf("seed %s: record %s already loaded from %s", source, rec.ID, other)
		}
	}

	s.removeLocked(source)
	for _, rec := range recs {
		s.entries = append(s.entries, entry{source: source, record: rec})
	}
	if len(declared) > 0 {
		s.types.SetSource(source, declared)
	} else {
		s.types.RemoveSource(source)
	}

	s.logger.Debug("seed loaded", "source", source, "records", len(recs), "types", len(declared))
	return len(recs), nil
}

// RemoveSeed implements output.SeedLoader.
func (s *Store) RemoveSeed(_ context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(source)
	s.types.RemoveSource(source)
	return nil
}

func (s *Store) removeLocked(source string) {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.source != source {
			kept = append(kept, e)
		}
	}
	clear(s.entries[len(kept):])
	s.entries = kept
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

type sliceIterator struct {
	records []domain.Record
	pos     int
}

func (it *sliceIterator) Next() bool {
	if it.pos+1 >= len(it.records) {
		it.pos = len(it.records)
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Record() domain.Record {
	return it.records[it.pos]
}

func (it *sliceIterator) Err() error   { return nil }
func (it *sliceIterator) Close() error { return nil }

var (
	_ output.CatalogStore = (*Store)(nil)
	_ output.SeedLoader   = (*Store)(nil)
)
