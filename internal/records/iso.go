package records

import "github.com/jobrunner/owsgate/internal/domain"

// MetadataType is the name of the ISO 19139 metadata record type.
var MetadataType = domain.NewQName(domain.NamespaceGMD, "gmd", "MD_Metadata")

// isoQueryables maps the ISO application profile queryables to the record
// attributes holding them.
var isoQueryables = []struct {
	name    string
	backing []string
}{
	{"Identifier", []string{"fileIdentifier"}},
	{"Title", []string{"title"}},
	{"AlternateTitle", []string{"alternateTitle"}},
	{"Abstract", []string{"abstract"}},
	{"Subject", []string{"keyword", "topicCategory"}},
	{"TopicCategory", []string{"topicCategory"}},
	{"Type", []string{"hierarchyLevel"}},
	{"Format", []string{"distributionFormat"}},
	{"Modified", []string{"dateStamp"}},
	{"CreationDate", []string{"creationDate"}},
	{"OrganisationName", []string{"organisationName"}},
	{"CRS", []string{"referenceSystem"}},
	{"Language", []string{"language"}},
	{"BoundingBox", []string{"BoundingBox"}},
	{AnyText, []string{AnyText}},
}

// ISO returns the descriptor of gmd:MD_Metadata. Queries written against the
// ISO queryables are rewritten to the backing attributes; a queryable backed
// by several attributes becomes a disjunction.
func ISO() *Schema {
	ns := map[string]string{
		"gmd":   domain.NamespaceGMD,
		"gco":   domain.NamespaceGCO,
		"apiso": domain.NamespaceApiso,
	}
	attr := func(local string, kind domain.AttributeKind, multiple bool) domain.Attribute {
		return domain.Attribute{
			Name:      domain.NewQName(domain.NamespaceGMD, "gmd", local),
			Kind:      kind,
			Queryable: true,
			Sortable:  kind != domain.KindGeometry && !multiple,
			Multiple:  multiple,
		}
	}

	attrs := []domain.Attribute{
		attr("fileIdentifier", domain.KindString, false),
		attr("title", domain.KindString, false),
		attr("alternateTitle", domain.KindString, false),
		attr("abstract", domain.KindString, false),
		attr("keyword", domain.KindString, true),
		attr("topicCategory", domain.KindString, true),
		attr("hierarchyLevel", domain.KindString, false),
		attr("distributionFormat", domain.KindString, true),
		attr("dateStamp", domain.KindDate, false),
		attr("creationDate", domain.KindDate, false),
		attr("organisationName", domain.KindString, false),
		attr("referenceSystem", domain.KindString, false),
		attr("language", domain.KindString, false),
		attr("BoundingBox", domain.KindGeometry, true),
	}

	opts := []Option{
		WithElementSet(domain.ElementSetBrief,
			"fileIdentifier", "title", "hierarchyLevel", "BoundingBox"),
		WithElementSet(domain.ElementSetSummary,
			"fileIdentifier", "title", "hierarchyLevel", "abstract", "keyword",
			"topicCategory", "distributionFormat", "dateStamp", "referenceSystem",
			"language", "BoundingBox"),
	}
	for _, q := range isoQueryables {
		opts = append(opts, WithQueryable("apiso:"+q.name, q.backing...))
	}

	return NewSchema(MetadataType, domain.NamespaceGMD, ns, attrs, opts...)
}
