package memstore

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/jobrunner/owsgate/internal/domain"
	"github.com/jobrunner/owsgate/internal/records"
)

// predicate is a compiled filter.
type predicate func(domain.Record) bool

func matchAll(domain.Record) bool  { return true }
func matchNone(domain.Record) bool { return false }

// compile turns a filter tree into a predicate. Property references are
// reduced to local names, which is how record properties are keyed.
func compile(f domain.Filter) (predicate, error) {
	switch n := f.(type) {
	case nil, domain.Include, *domain.Include:
		return matchAll, nil
	case domain.Exclude, *domain.Exclude:
		return matchNone, nil

	case *domain.And:
		children, err := compileAll(n.Filters)
		if err != nil {
			return nil, err
		}
		return func(r domain.Record) bool {
			for _, c := range children {
				if !c(r) {
					return false
				}
			}
			return true
		}, nil

	case *domain.Or:
		children, err := compileAll(n.Filters)
		if err != nil {
			return nil, err
		}
		return func(r domain.Record) bool {
			for _, c := range children {
				if c(r) {
					return true
				}
			}
			return false
		}, nil

	case *domain.Not:
		child, err := compile(n.Filter)
		if err != nil {
			return nil, err
		}
		return func(r domain.Record) bool { return !child(r) }, nil

	case *domain.Comparison:
		return compileComparison(n), nil

	case *domain.Like:
		re, err := regexp.Compile(n.Regexp())
		if err != nil {
			return nil, fmt.Errorf("like pattern %q: %w", n.Pattern, err)
		}
		prop := records.LocalName(n.Property)
		return func(r domain.Record) bool {
			for _, v := range values(r, prop) {
				if re.MatchString(toString(v)) {
					return true
				}
			}
			return false
		}, nil

	case *domain.Between:
		prop := records.LocalName(n.Property)
		return func(r domain.Record) bool {
			for _, v := range values(r, prop) {
				lo, ok1 := compareValues(v, n.Lower, true)
				hi, ok2 := compareValues(v, n.Upper, true)
				if ok1 && ok2 && lo >= 0 && hi <= 0 {
					return true
				}
			}
			return false
		}, nil

	case *domain.IsNull:
		prop := records.LocalName(n.Property)
		return func(r domain.Record) bool {
			return len(values(r, prop)) == 0
		}, nil

	case *domain.Spatial:
		if n.Geometry == nil {
			return nil, fmt.Errorf("%s without geometry", n.Op)
		}
		if !knownSpatialOp(n.Op) {
			return nil, fmt.Errorf("unsupported spatial operator %s", n.Op)
		}
		return func(r domain.Record) bool {
			return relate(n, r.Geometry)
		}, nil

	case *domain.IDFilter:
		ids := make(map[string]bool, len(n.IDs))
		for _, id := range n.IDs {
			ids[id] = true
		}
		return func(r domain.Record) bool { return ids[r.ID] }, nil
	}
	return nil, fmt.Errorf("unsupported filter %T", f)
}

func compileAll(filters []domain.Filter) ([]predicate, error) {
	out := make([]predicate, 0, len(filters))
	for _, f := range filters {
		p, err := compile(f)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// compileComparison matches when any value of a multi-valued property
// satisfies the comparison.
func compileComparison(c *domain.Comparison) predicate {
	prop := records.LocalName(c.Property)
	return func(r domain.Record) bool {
		for _, v := range values(r, prop) {
			cmp, ok := compareValues(v, c.Value, c.MatchCase)
			if !ok {
				continue
			}
			switch c.Op {
			case domain.OpEqual:
				if cmp == 0 {
					return true
				}
			case domain.OpNotEqual:
				if cmp != 0 {
					return true
				}
			case domain.OpLess:
				if cmp < 0 {
					return true
				}
			case domain.OpLessOrEqual:
				if cmp <= 0 {
					return true
				}
			case domain.OpGreater:
				if cmp > 0 {
					return true
				}
			case domain.OpGreaterOrEqual:
				if cmp >= 0 {
					return true
				}
			}
		}
		return false
	}
}

// values returns the values of a property, flattening lists. AnyText
// yields every textual value of the record.
func values(r domain.Record, prop string) []any {
	if strings.EqualFold(prop, records.AnyText) {
		var out []any
		for _, v := range r.Properties {
			for _, item := range flatten(v) {
				if _, ok := item.(string); ok {
					out = append(out, item)
				}
			}
		}
		return out
	}
	v, ok := r.Get(prop)
	if !ok {
		return nil
	}
	return flatten(v)
}

func flatten(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			if item != nil {
				out = append(out, item)
			}
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	}
	return []any{v}
}

// compareValues orders a against b. Numbers compare numerically, dates
// chronologically and everything else as text. ok is false when the values
// cannot be ordered against each other.
func compareValues(a, b any, matchCase bool) (int, bool) {
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			return compareFloat(x, y), true
		}
	}
	if x, ok := toTime(a); ok {
		if y, ok := toTime(b); ok {
			return x.Compare(y), true
		}
	}
	if x, ok := a.(bool); ok {
		if y, ok := toBool(b); ok {
			switch {
			case x == y:
				return 0, true
			case !x:
				return -1, true
			default:
				return 1, true
			}
		}
		return 0, false
	}
	sa, sb := toString(a), toString(b)
	if !matchCase {
		sa, sb = strings.ToLower(sa), strings.ToLower(sb)
	}
	return strings.Compare(sa, sb), true
}

func compareFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
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

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

func toBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(t)
		return b, err == nil
	}
	return false, false
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func knownSpatialOp(op domain.SpatialOp) bool {
	switch op {
	case domain.OpBBOX, domain.OpIntersects, domain.OpDisjoint, domain.OpContains,
		domain.OpWithin, domain.OpEquals, domain.OpTouches, domain.OpCrosses,
		domain.OpOverlaps, domain.OpDWithin, domain.OpBeyond:
		return true
	}
	return false
}

// relate evaluates a spatial predicate on envelopes. Points tested against
// polygons use exact containment. Records without geometry only match
// Disjoint and Beyond.
func relate(s *domain.Spatial, g orb.Geometry) bool {
	if g == nil {
		return s.Op == domain.OpDisjoint || s.Op == domain.OpBeyond
	}
	a, b := g.Bound(), s.Geometry.Bound()

	switch s.Op {
	case domain.OpBBOX, domain.OpIntersects:
		if pt, ok := g.(orb.Point); ok {
			return pointIn(pt, s.Geometry)
		}
		return a.Intersects(b)
	case domain.OpDisjoint:
		return !a.Intersects(b)
	case domain.OpContains:
		return contains(a, b)
	case domain.OpWithin:
		if pt, ok := g.(orb.Point); ok {
			return pointIn(pt, s.Geometry)
		}
		return contains(b, a)
	case domain.OpEquals:
		return orb.Equal(g, s.Geometry) || a.Equal(b)
	case domain.OpTouches:
		return a.Intersects(b) && (a.Max[0] == b.Min[0] || a.Min[0] == b.Max[0] ||
			a.Max[1] == b.Min[1] || a.Min[1] == b.Max[1])
	case domain.OpCrosses, domain.OpOverlaps:
		return a.Intersects(b) && !contains(a, b) && !contains(b, a)
	case domain.OpDWithin:
		return boundDistance(a, b) <= s.Distance
	case domain.OpBeyond:
		return boundDistance(a, b) > s.Distance
	}
	return false
}

func pointIn(pt orb.Point, g orb.Geometry) bool {
	switch t := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(t, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(t, pt)
	}
	return g.Bound().Contains(pt)
}

func contains(outer, inner orb.Bound) bool {
	return outer.Contains(inner.Min) && outer.Contains(inner.Max)
}

func boundDistance(a, b orb.Bound) float64 {
	dx := math.Max(0, math.Max(a.Min[0]-b.Max[0], b.Min[0]-a.Max[0]))
	dy := math.Max(0, math.Max(a.Min[1]-b.Max[1], b.Min[1]-a.Max[1]))
	return math.Hypot(dx, dy)
}
