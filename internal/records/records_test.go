package records

import (
	"testing"

	"github.com/jobrunner/owsgate/internal/domain"
)

func TestDublinCoreElementSets(t *testing.T) {
	dc := DublinCore()

	tests := []struct {
		set  domain.ElementSet
		want []string
	}{
		{domain.ElementSetBrief, []string{"identifier", "title", "type", "BoundingBox"}},
		{domain.ElementSetSummary, []string{"identifier", "title", "type", "subject", "format", "relation", "modified", "abstract", "spatial", "BoundingBox"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.set), func(t *testing.T) {
			got := dc.PropertiesForElementSet(tt.set)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i, n := range got {
				if n.Local != tt.want[i] {
					t.Errorf("[%d] = %s, want %s", i, n.Local, tt.want[i])
				}
			}
		})
	}

	if dc.PropertiesForElementSet(domain.ElementSetFull) != nil {
		t.Error("full profile should have no projection")
	}
}

func TestDublinCoreAttributeResolution(t *testing.T) {
	dc := DublinCore()

	tests := []struct {
		ref      string
		wantKind domain.AttributeKind
		found    bool
	}{
		{"dc:title", domain.KindString, true},
		{"title", domain.KindString, true},
		{"csw:Record/dc:title", domain.KindString, true},
		{"ows:BoundingBox", domain.KindGeometry, true},
		{"dct:modified", domain.KindDate, true},
		{"AnyText", domain.KindString, true},
		{"dc:nope", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			a, ok := dc.Attribute(tt.ref)
			if ok != tt.found {
				t.Fatalf("found = %v, want %v", ok, tt.found)
			}
			if ok && a.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", a.Kind, tt.wantKind)
			}
		})
	}
}

func TestQueryablesSorted(t *testing.T) {
	q := DublinCore().Queryables()
	for i := 1; i < len(q); i++ {
		if q[i-1] > q[i] {
			t.Fatalf("queryables not sorted: %v", q)
		}
	}
	if len(q) == 0 {
		t.Fatal("expected queryables")
	}
}

func TestISOAdaptQueryMapsQueryables(t *testing.T) {
	iso := ISO()

	q := domain.Query{
		TypeName: MetadataType,
		Filter: &domain.And{Filters: []domain.Filter{
			domain.DefaultLike("apiso:Title", "Roads*"),
			&domain.Comparison{Op: domain.OpEqual, Property: "Subject", Value: "transport"},
		}},
		SortBy: []domain.SortBy{{Property: "apiso:Modified"}},
	}

	got, err := iso.AdaptQuery(q)
	if err != nil {
		t.Fatalf("AdaptQuery() error = %v", err)
	}

	and := got.Filter.(*domain.And)
	if like := and.Filters[0].(*domain.Like); like.Property != "title" {
		t.Errorf("title mapped to %q", like.Property)
	}
	or, ok := and.Filters[1].(*domain.Or)
	if !ok {
		t.Fatalf("Subject should expand to Or, got %T", and.Filters[1])
	}
	if len(or.Filters) != 2 {
		t.Fatalf("Or has %d children, want 2", len(or.Filters))
	}
	if p, _ := domain.PropertyOf(or.Filters[1]); p != "topicCategory" {
		t.Errorf("second alternative = %q, want topicCategory", p)
	}
	if got.SortBy[0].Property != "dateStamp" {
		t.Errorf("sort mapped to %q, want dateStamp", got.SortBy[0].Property)
	}

	// the input query is untouched
	if q.SortBy[0].Property != "apiso:Modified" {
		t.Error("AdaptQuery modified its input")
	}
}

func TestISOQueryableResolvesToBackingAttribute(t *testing.T) {
	a, ok := ISO().Attribute("apiso:BoundingBox")
	if !ok || !a.IsGeometry() {
		t.Errorf("apiso:BoundingBox = %+v, %v", a, ok)
	}
	a, ok = ISO().Attribute("Title")
	if !ok || a.Name.Local != "title" {
		t.Errorf("Title = %+v, %v", a, ok)
	}
}

func TestFeatureType(t *testing.T) {
	name := domain.NewQName("http://example.com/topp", "topp", "roads")
	ft := FeatureType(name, []domain.Attribute{
		{Name: domain.QName{Local: "name"}, Kind: domain.KindString},
		{Name: domain.QName{Local: "geom"}, Kind: domain.KindGeometry},
	})

	a, ok := ft.Attribute("topp:geom")
	if !ok || !a.IsGeometry() {
		t.Fatalf("geom = %+v, %v", a, ok)
	}
	if a.Sortable {
		t.Error("geometry should not be sortable")
	}
	if a.Name.Prefix != "topp" {
		t.Errorf("prefix = %q, want topp", a.Name.Prefix)
	}
	if ft.PropertiesForElementSet(domain.ElementSetBrief) != nil {
		t.Error("feature types have no element sets")
	}
	if got := ft.Queryables(); len(got) != 2 || got[0] != "topp:geom" {
		t.Errorf("Queryables() = %v", got)
	}
}
