package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/jobrunner/owsgate/internal/domain"
	"github.com/jobrunner/owsgate/internal/records"
)

// builder translates filters into SQL over the records table aliased r.
// Arguments are collected in the order their placeholders appear.
type builder struct {
	args []any
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return "?"
}

// typeCondition restricts r to one record type.
func (b *builder) typeCondition(name domain.QName) string {
	return fmt.Sprintf("r.type_local = %s AND r.type_ns = %s", b.arg(name.Local), b.arg(name.Space))
}

func (b *builder) where(f domain.Filter) (string, error) {
	switch n := f.(type) {
	case nil, domain.Include, *domain.Include:
		return "1 = 1", nil
	case domain.Exclude, *domain.Exclude:
		return "1 = 0", nil

	case *domain.And:
		return b.join(n.Filters, " AND ", "1 = 1")
	case *domain.Or:
		return b.join(n.Filters, " OR ", "1 = 0")
	case *domain.Not:
		inner, err := b.where(n.Filter)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil

	case *domain.Comparison:
		return b.comparison(n)

	case *domain.Like:
		return b.exists(n.Property, func() string {
			return "v.value_text REGEXP " + b.arg(n.Regexp())
		}), nil

	case *domain.Between:
		lo, lok := numeric(n.Lower)
		hi, hok := numeric(n.Upper)
		if lok && hok {
			return b.exists(n.Property, func() string {
				return fmt.Sprintf("v.value_num BETWEEN %s AND %s", b.arg(lo), b.arg(hi))
			}), nil
		}
		return b.exists(n.Property, func() string {
			return fmt.Sprintf("v.value_text BETWEEN %s AND %s", b.arg(text(n.Lower)), b.arg(text(n.Upper)))
		}), nil

	case *domain.IsNull:
		return "NOT " + b.exists(n.Property, func() string { return "1 = 1" }), nil

	case *domain.Spatial:
		return b.spatial(n)

	case *domain.IDFilter:
		if len(n.IDs) == 0 {
			return "1 = 0", nil
		}
		ph := make([]string, len(n.IDs))
		for i, id := range n.IDs {
			ph[i] = b.arg(id)
		}
		return "r.id IN (" + strings.Join(ph, ", ") + ")", nil
	}
	return "", fmt.Errorf("unsupported filter %T", f)
}

func (b *builder) join(filters []domain.Filter, sep, empty string) (string, error) {
	if len(filters) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(filters))
	for _, c := range filters {
		p, err := b.where(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, p)
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

// exists renders a lookup matching when any value of property satisfies
// cond. AnyText looks at every textual value.
func (b *builder) exists(property string, cond func() string) string {
	local := records.LocalName(property)
	propCond := "v.kind = 'text'"
	if !strings.EqualFold(local, records.AnyText) {
		propCond = "v.property = " + b.arg(local)
	}
	return fmt.Sprintf("EXISTS (SELECT 1 FROM record_values v WHERE v.rid = r.rid AND %s AND %s)", propCond, cond())
}

var sqlOps = map[domain.ComparisonOp]string{
	domain.OpEqual:          "=",
	domain.OpNotEqual:       "<>",
	domain.OpLess:           "<",
	domain.OpLessOrEqual:    "<=",
	domain.OpGreater:        ">",
	domain.OpGreaterOrEqual: ">=",
}

func (b *builder) comparison(c *domain.Comparison) (string, error) {
	op, ok := sqlOps[c.Op]
	if !ok {
		return "", fmt.Errorf("unsupported comparison %s", c.Op)
	}
	if f, ok := numeric(c.Value); ok {
		return b.exists(c.Property, func() string {
			return fmt.Sprintf("v.value_num %s %s", op, b.arg(f))
		}), nil
	}
	if c.MatchCase {
		return b.exists(c.Property, func() string {
			return fmt.Sprintf("v.value_text %s %s", op, b.arg(text(c.Value)))
		}), nil
	}
	return b.exists(c.Property, func() string {
		return fmt.Sprintf("lower(v.value_text) %s lower(%s)", op, b.arg(text(c.Value)))
	}), nil
}

// spatial relates record envelopes with the envelope of the literal. The
// R*Tree narrows candidates; the exact envelope held by the record row
// decides.
func (b *builder) spatial(s *domain.Spatial) (string, error) {
	if s.Geometry == nil {
		return "", fmt.Errorf("%s without geometry", s.Op)
	}
	bound := s.Geometry.Bound()

	switch s.Op {
	case domain.OpBBOX, domain.OpIntersects:
		return b.intersects(bound), nil
	case domain.OpDisjoint:
		return "(r.minx IS NULL OR NOT " + b.intersects(bound) + ")", nil
	case domain.OpContains:
		return b.contains(bound), nil
	case domain.OpWithin:
		return b.within(bound), nil
	case domain.OpEquals:
		return fmt.Sprintf("(r.minx = %s AND r.miny = %s AND r.maxx = %s AND r.maxy = %s)",
			b.arg(bound.Min[0]), b.arg(bound.Min[1]), b.arg(bound.Max[0]), b.arg(bound.Max[1])), nil
	case domain.OpTouches:
		return fmt.Sprintf("(%s AND (r.maxx = %s OR r.minx = %s OR r.maxy = %s OR r.miny = %s))",
			b.intersects(bound),
			b.arg(bound.Min[0]), b.arg(bound.Max[0]), b.arg(bound.Min[1]), b.arg(bound.Max[1])), nil
	case domain.OpCrosses, domain.OpOverlaps:
		return fmt.Sprintf("(%s AND NOT %s AND NOT %s)",
			b.intersects(bound), b.contains(bound), b.within(bound)), nil
	case domain.OpDWithin:
		return b.dwithin(bound, s.Distance), nil
	case domain.OpBeyond:
		return "(r.minx IS NULL OR NOT " + b.dwithin(bound, s.Distance) + ")", nil
	}
	return "", fmt.Errorf("unsupported spatial operator %s", s.Op)
}

func (b *builder) candidates(bound orb.Bound) string {
	return fmt.Sprintf("r.rid IN (SELECT id FROM rtree_records_bbox WHERE maxx >= %s AND minx <= %s AND maxy >= %s AND miny <= %s)",
		b.arg(bound.Min[0]), b.arg(bound.Max[0]), b.arg(bound.Min[1]), b.arg(bound.Max[1]))
}

func (b *builder) intersects(bound orb.Bound) string {
	return fmt.Sprintf("(%s AND r.maxx >= %s AND r.minx <= %s AND r.maxy >= %s AND r.miny <= %s)",
		b.candidates(bound),
		b.arg(bound.Min[0]), b.arg(bound.Max[0]), b.arg(bound.Min[1]), b.arg(bound.Max[1]))
}

// contains matches records whose envelope holds bound.
func (b *builder) contains(bound orb.Bound) string {
	return fmt.Sprintf("(r.minx <= %s AND r.miny <= %s AND r.maxx >= %s AND r.maxy >= %s)",
		b.arg(bound.Min[0]), b.arg(bound.Min[1]), b.arg(bound.Max[0]), b.arg(bound.Max[1]))
}

// within matches records whose envelope lies inside bound.
func (b *builder) within(bound orb.Bound) string {
	return fmt.Sprintf("(r.minx >= %s AND r.miny >= %s AND r.maxx <= %s AND r.maxy <= %s)",
		b.arg(bound.Min[0]), b.arg(bound.Min[1]), b.arg(bound.Max[0]), b.arg(bound.Max[1]))
}

func (b *builder) dwithin(bound orb.Bound, distance float64) string {
	grown := orb.Bound{
		Min: orb.Point{bound.Min[0] - distance, bound.Min[1] - distance},
		Max: orb.Point{bound.Max[0] + distance, bound.Max[1] + distance},
	}
	dx := func() string {
		return fmt.Sprintf("max(0, r.minx - %s, %s - r.maxx)", b.arg(bound.Max[0]), b.arg(bound.Min[0]))
	}
	dy := func() string {
		return fmt.Sprintf("max(0, r.miny - %s, %s - r.maxy)", b.arg(bound.Max[1]), b.arg(bound.Min[1]))
	}
	cand := b.candidates(grown)
	dist := fmt.Sprintf("%s * %s + %s * %s", dx(), dx(), dy(), dy())
	return fmt.Sprintf("(%s AND %s <= %s)", cand, dist, b.arg(distance*distance))
}

// orderBy renders sort keys. Records lacking a key sort last; ties keep
// load order.
func (b *builder) orderBy(keys []domain.SortBy) string {
	parts := make([]string, 0, len(keys)*2+1)
	for _, k := range keys {
		prop := records.LocalName(k.Property)
		missing := fmt.Sprintf("(SELECT count(*) FROM record_values v WHERE v.rid = r.rid AND v.property = %s) = 0",
			b.arg(prop))
		first := fmt.Sprintf("(SELECT coalesce(v.value_num, v.value_text) FROM record_values v WHERE v.rid = r.rid AND v.property = %s ORDER BY v.seq LIMIT 1)",
			b.arg(prop))
		dir := "ASC"
		if k.Descending {
			dir = "DESC"
		}
		parts = append(parts, missing, first+" "+dir)
	}
	parts = append(parts, "r.rid")
	return strings.Join(parts, ", ")
}

// numeric reports whether v is a number, or text holding one.
func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}
