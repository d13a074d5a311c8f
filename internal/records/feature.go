package records

import "github.com/jobrunner/owsgate/internal/domain"

// GMLSchema is the output schema reported for feature types.
const GMLSchema = "http://www.opengis.net/gml/3.2"

// FeatureType returns a descriptor for a simple feature type. Feature types
// have no element set profiles; every attribute is queryable.
func FeatureType(name domain.QName, attrs []domain.Attribute) *Schema {
	ns := map[string]string{}
	if name.Prefix != "" {
		ns[name.Prefix] = name.Space
	}
	qualified := make([]domain.Attribute, len(attrs))
	for i, a := range attrs {
		if a.Name.Space == "" && a.Name.Prefix == "" {
			a.Name = domain.NewQName(name.Space, name.Prefix, a.Name.Local)
		}
		a.Queryable = true
		a.Sortable = a.Kind != domain.KindGeometry
		qualified[i] = a
	}
	return NewSchema(name, GMLSchema, ns, qualified)
}
