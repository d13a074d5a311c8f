package records

import "github.com/jobrunner/owsgate/internal/domain"

// RecordType is the name of the Dublin Core catalog record type.
var RecordType = domain.NewQName(domain.NamespaceCSW, "csw", "Record")

// DublinCore returns the descriptor of csw:Record.
func DublinCore() *Schema {
	ns := map[string]string{
		"csw": domain.NamespaceCSW,
		"dc":  domain.NamespaceDC,
		"dct": domain.NamespaceDCT,
		"ows": domain.NamespaceOWS,
	}
	dc := func(local string, kind domain.AttributeKind, multiple bool) domain.Attribute {
		return domain.Attribute{
			Name:      domain.NewQName(domain.NamespaceDC, "dc", local),
			Kind:      kind,
			Queryable: true,
			Sortable:  kind != domain.KindGeometry,
			Multiple:  multiple,
		}
	}
	dct := func(local string, kind domain.AttributeKind) domain.Attribute {
		return domain.Attribute{
			Name:      domain.NewQName(domain.NamespaceDCT, "dct", local),
			Kind:      kind,
			Queryable: true,
			Sortable:  true,
		}
	}

	attrs := []domain.Attribute{
		dc("identifier", domain.KindString, false),
		dc("title", domain.KindString, false),
		dc("type", domain.KindString, false),
		dc("subject", domain.KindString, true),
		dc("format", domain.KindString, true),
		dc("relation", domain.KindString, true),
		dc("creator", domain.KindString, true),
		dc("publisher", domain.KindString, true),
		dc("contributor", domain.KindString, true),
		dc("source", domain.KindString, true),
		dc("language", domain.KindString, false),
		dc("rights", domain.KindString, true),
		dc("date", domain.KindDate, false),
		dc("description", domain.KindString, false),
		dct("modified", domain.KindDate),
		dct("abstract", domain.KindString),
		dct("alternative", domain.KindString),
		dct("spatial", domain.KindString),
		dct("references", domain.KindString),
		{
			Name:      domain.NewQName(domain.NamespaceOWS, "ows", "BoundingBox"),
			Kind:      domain.KindGeometry,
			Queryable: true,
			Multiple:  true,
		},
	}

	return NewSchema(RecordType, domain.NamespaceCSW, ns, attrs,
		WithElementSet(domain.ElementSetBrief,
			"identifier", "title", "type", "BoundingBox"),
		WithElementSet(domain.ElementSetSummary,
			"identifier", "title", "type", "subject", "format", "relation",
			"modified", "abstract", "spatial", "BoundingBox"),
	)
}
