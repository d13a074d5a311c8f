package records

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gopkg.in/yaml.v3"

	"github.com/jobrunner/owsgate/internal/domain"
)

// Seed is the content of a record seed file.
//
//	featureTypes:
//	  - name: app:rivers
//	    namespace: http://example.com/app
//	    attributes:
//	      - {name: name, kind: string}
//	      - {name: geom, kind: geometry}
//	records:
//	  - id: rec-1
//	    type: csw:Record
//	    bbox: [5.8, 47.2, 15.1, 55.1]
//	    properties:
//	      title: Rivers of Germany
//	      subject: [hydrography, inland waters]
type Seed struct {
	FeatureTypes []FeatureTypeSpec `yaml:"featureTypes"`
	Records      []SeedRecord      `yaml:"records"`
}

// FeatureTypeSpec declares a feature type served through WFS.
type FeatureTypeSpec struct {
	Name       string          `yaml:"name"`
	Namespace  string          `yaml:"namespace"`
	Attributes []AttributeSpec `yaml:"attributes"`
}

// AttributeSpec declares one feature type attribute.
type AttributeSpec struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Multiple bool   `yaml:"multiple"`
}

// SeedRecord is one record of a seed file. At most one of BBox, Point and
// GeoJSON is expected.
type SeedRecord struct {
	ID         string         `yaml:"id"`
	Type       string         `yaml:"type"`
	BBox       []float64      `yaml:"bbox"`
	Point      []float64      `yaml:"point"`
	GeoJSON    string         `yaml:"geojson"`
	Properties map[string]any `yaml:"properties"`
}

// DecodeSeed reads a YAML seed file.
func DecodeSeed(r io.Reader) (*Seed, error) {
	var s Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return &s, nil
		}
		return nil, fmt.Errorf("decoding seed: %w", err)
	}
	return &s, nil
}

// Descriptor builds the feature type descriptor.
func (f FeatureTypeSpec) Descriptor() (*Schema, error) {
	if f.Name == "" {
		return nil, errors.New("feature type without name")
	}
	name := domain.ParseQName(f.Name, nil)
	if f.Namespace != "" {
		name.Space = f.Namespace
	}
	attrs := make([]domain.Attribute, 0, len(f.Attributes))
	for _, a := range f.Attributes {
		kind, err := ParseKind(a.Kind)
		if err != nil {
			return nil, fmt.Errorf("feature type %s: attribute %s: %w", f.Name, a.Name, err)
		}
		attrs = append(attrs, domain.Attribute{
			Name:     domain.QName{Local: a.Name},
			Kind:     kind,
			Multiple: a.Multiple,
		})
	}
	return FeatureType(name, attrs), nil
}

// ParseKind parses an attribute kind name.
func ParseKind(s string) (domain.AttributeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "string", "text":
		return domain.KindString, nil
	case "number", "int", "integer", "float", "double":
		return domain.KindNumber, nil
	case "date", "datetime", "timestamp":
		return domain.KindDate, nil
	case "bool", "boolean":
		return domain.KindBoolean, nil
	case "geometry", "geom":
		return domain.KindGeometry, nil
	}
	return 0, fmt.Errorf("unknown attribute kind %q", s)
}

// Record converts the seed record into a record of typeName.
func (s SeedRecord) Record(typeName domain.QName) (domain.Record, error) {
	if s.ID == "" {
		return domain.Record{}, errors.New("record without id")
	}
	geom, err := s.geometry()
	if err != nil {
		return domain.Record{}, fmt.Errorf("record %s: %w", s.ID, err)
	}
	props := make(map[string]any, len(s.Properties))
	for k, v := range s.Properties {
		props[localName(k)] = v
	}
	return domain.Record{
		ID:         s.ID,
		TypeName:   typeName,
		Properties: props,
		Geometry:   geom,
	}, nil
}

// identifierProperties are the properties holding the record id in the
// built-in types.
var identifierProperties = []string{"identifier", "fileIdentifier"}

// Resolve builds the feature types declared by the seed and converts its
// records. Record types are looked up in the declared types first, then in
// known. A record without type belongs to the first known type.
func (s *Seed) Resolve(known *TypeSet) ([]domain.TypeDescriptor, []domain.Record, error) {
	declared := make([]domain.TypeDescriptor, 0, len(s.FeatureTypes))
	for _, ft := range s.FeatureTypes {
		d, err := ft.Descriptor()
		if err != nil {
			return nil, nil, err
		}
		declared = append(declared, d)
	}

	scope := NewTypeSet(append(known.All(), declared...)...)
	recs := make([]domain.Record, 0, len(s.Records))
	seen := make(map[string]bool, len(s.Records))
	for _, sr := range s.Records {
		desc, ok := scope.Resolve(sr.Type)
		if !ok {
			return nil, nil, fmt.Errorf("record %s: unknown type %q", sr.ID, sr.Type)
		}
		rec, err := sr.Record(desc.Name())
		if err != nil {
			return nil, nil, err
		}
		if seen[rec.ID] {
			return nil, nil, fmt.Errorf("duplicate record id %s", rec.ID)
		}
		seen[rec.ID] = true
		if p := identifierProperty(desc); p != "" && rec.Properties[p] == nil {
			rec.Properties[p] = rec.ID
		}
		recs = append(recs, rec)
	}
	return declared, recs, nil
}

func identifierProperty(desc domain.TypeDescriptor) string {
	for _, a := range desc.Attributes() {
		for _, p := range identifierProperties {
			if a.Name.Local == p {
				return p
			}
		}
	}
	return ""
}

func (s SeedRecord) geometry() (orb.Geometry, error) {
	switch {
	case len(s.BBox) > 0:
		if len(s.BBox) != 4 {
			return nil, fmt.Errorf("bbox needs 4 values, got %d", len(s.BBox))
		}
		b := orb.Bound{Min: orb.Point{s.BBox[0], s.BBox[1]}, Max: orb.Point{s.BBox[2], s.BBox[3]}}
		if b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] {
			return nil, fmt.Errorf("bbox min exceeds max")
		}
		return b.ToPolygon(), nil
	case len(s.Point) > 0:
		if len(s.Point) != 2 {
			return nil, fmt.Errorf("point needs 2 values, got %d", len(s.Point))
		}
		return orb.Point{s.Point[0], s.Point[1]}, nil
	case s.GeoJSON != "":
		g, err := geojson.UnmarshalGeometry([]byte(s.GeoJSON))
		if err != nil {
			return nil, fmt.Errorf("geojson: %w", err)
		}
		return g.Geometry(), nil
	}
	return nil, nil
}
