package domain

import "github.com/paulmach/orb"

// Record is a catalog record or feature.
type Record struct {
	ID         string
	TypeName   QName
	Properties map[string]any
	Geometry   orb.Geometry // may be nil
}

// Get returns a property value by name.
func (r Record) Get(name string) (any, bool) {
	if r.Properties == nil {
		return nil, false
	}
	v, ok := r.Properties[name]
	return v, ok
}

// Bound returns the bounding box of the record geometry.
func (r Record) Bound() (orb.Bound, bool) {
	if r.Geometry == nil {
		return orb.Bound{}, false
	}
	return r.Geometry.Bound(), true
}

// Project returns a copy holding only the named properties. The geometry is
// kept when keepGeometry is set. A nil list returns the record unchanged.
func (r Record) Project(names []QName, keepGeometry bool) Record {
	if names == nil {
		return r
	}
	props := make(map[string]any, len(names))
	for _, n := range names {
		if v, ok := r.Properties[n.Local]; ok {
			props[n.Local] = v
		}
	}
	out := Record{ID: r.ID, TypeName: r.TypeName, Properties: props}
	if keepGeometry {
		out.Geometry = r.Geometry
	}
	return out
}

// Collection is a set of records returned by a query.
type Collection interface {
	Size() int
	Each(fn func(Record) error) error
}

// RecordSet holds the records of a single type.
type RecordSet struct {
	TypeName QName
	Records  []Record
}

// Size implements Collection.
func (s *RecordSet) Size() int {
	return len(s.Records)
}

// Each implements Collection.
func (s *RecordSet) Each(fn func(Record) error) error {
	for _, r := range s.Records {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// CompositeCollection merges record sets of several types in order.
type CompositeCollection struct {
	Members []*RecordSet
}

// Size implements Collection.
func (c *CompositeCollection) Size() int {
	n := 0
	for _, m := range c.Members {
		n += m.Size()
	}
	return n
}

// Each implements Collection.
func (c *CompositeCollection) Each(fn func(Record) error) error {
	for _, m := range c.Members {
		if err := m.Each(fn); err != nil {
			return err
		}
	}
	return nil
}

// EmptyCollection is returned when no record is pulled.
var EmptyCollection Collection = &RecordSet{}
