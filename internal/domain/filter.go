package domain

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/paulmach/orb"
)

// Filter is a node of a predicate tree evaluated against records.
type Filter interface {
	filterNode()
}

// ComparisonOp is a binary comparison operator.
type ComparisonOp string

// Comparison operators.
const (
	OpEqual          ComparisonOp = "EqualTo"
	OpNotEqual       ComparisonOp = "NotEqualTo"
	OpLess           ComparisonOp = "LessThan"
	OpLessOrEqual    ComparisonOp = "LessThanEqualTo"
	OpGreater        ComparisonOp = "GreaterThan"
	OpGreaterOrEqual ComparisonOp = "GreaterThanEqualTo"
)

// SpatialOp is a spatial operator.
type SpatialOp string

// Spatial operators.
const (
	OpBBOX       SpatialOp = "BBOX"
	OpIntersects SpatialOp = "Intersects"
	OpDisjoint   SpatialOp = "Disjoint"
	OpContains   SpatialOp = "Contains"
	OpWithin     SpatialOp = "Within"
	OpEquals     SpatialOp = "Equals"
	OpTouches    SpatialOp = "Touches"
	OpCrosses    SpatialOp = "Crosses"
	OpOverlaps   SpatialOp = "Overlaps"
	OpDWithin    SpatialOp = "DWithin"
	OpBeyond     SpatialOp = "Beyond"
)

// Include matches every record.
type Include struct{}

// Exclude matches no record.
type Exclude struct{}

// And matches when all children match.
type And struct {
	Filters []Filter
}

// Or matches when any child matches.
type Or struct {
	Filters []Filter
}

// Not negates its child.
type Not struct {
	Filter Filter
}

// Comparison compares a property with a literal.
type Comparison struct {
	Op        ComparisonOp
	Property  string
	Value     any
	MatchCase bool
}

// Like matches a property against a pattern.
type Like struct {
	Property   string
	Pattern    string
	Wildcard   string
	SingleChar string
	Escape     string
	MatchCase  bool
}

// Between matches values within [Lower, Upper].
type Between struct {
	Property string
	Lower    any
	Upper    any
}

// IsNull matches records where the property is absent or nil.
type IsNull struct {
	Property string
}

// Spatial relates a geometry property with a literal geometry.
type Spatial struct {
	Op       SpatialOp
	Property string
	Geometry orb.Geometry
	Distance float64 // DWithin and Beyond only
}

// IDFilter matches records by identifier.
type IDFilter struct {
	IDs []string
}

func (Include) filterNode()     {}
func (Exclude) filterNode()     {}
func (*And) filterNode()        {}
func (*Or) filterNode()         {}
func (*Not) filterNode()        {}
func (*Comparison) filterNode() {}
func (*Like) filterNode()       {}
func (*Between) filterNode()    {}
func (*IsNull) filterNode()     {}
func (*Spatial) filterNode()    {}
func (*IDFilter) filterNode()   {}

// DefaultLike returns a Like predicate using the OGC default tokens.
func DefaultLike(property, pattern string) *Like {
	return &Like{
		Property:   property,
		Pattern:    pattern,
		Wildcard:   "*",
		SingleChar: ".",
		Escape:     "!",
		MatchCase:  true,
	}
}

// Regexp returns the anchored regular expression equivalent to the pattern.
// An escaped token matches itself.
func (l *Like) Regexp() string {
	var b strings.Builder
	if !l.MatchCase {
		b.WriteString("(?i)")
	}
	b.WriteString("(?s)^")
	p := l.Pattern
	for len(p) > 0 {
		switch {
		case l.Escape != "" && strings.HasPrefix(p, l.Escape):
			p = p[len(l.Escape):]
			if p == "" {
				b.WriteString(regexp.QuoteMeta(l.Escape))
				continue
			}
			_, n := utf8.DecodeRuneInString(p)
			for _, tok := range []string{l.Wildcard, l.SingleChar, l.Escape} {
				if tok != "" && strings.HasPrefix(p, tok) {
					n = len(tok)
					break
				}
			}
			b.WriteString(regexp.QuoteMeta(p[:n]))
			p = p[n:]
		case l.Wildcard != "" && strings.HasPrefix(p, l.Wildcard):
			b.WriteString(".*")
			p = p[len(l.Wildcard):]
		case l.SingleChar != "" && strings.HasPrefix(p, l.SingleChar):
			b.WriteString(".")
			p = p[len(l.SingleChar):]
		default:
			_, size := utf8.DecodeRuneInString(p)
			b.WriteString(regexp.QuoteMeta(p[:size]))
			p = p[size:]
		}
	}
	b.WriteString("$")
	return b.String()
}

// BBox returns a BBOX predicate on property.
func BBox(property string, bound orb.Bound) *Spatial {
	return &Spatial{Op: OpBBOX, Property: property, Geometry: bound}
}

// Walk visits f and its children depth first. Returning an error stops the
// walk.
func Walk(f Filter, fn func(Filter) error) error {
	if f == nil {
		return nil
	}
	if err := fn(f); err != nil {
		return err
	}
	switch n := f.(type) {
	case *And:
		for _, c := range n.Filters {
			if err := Walk(c, fn); err != nil {
				return err
			}
		}
	case *Or:
		for _, c := range n.Filters {
			if err := Walk(c, fn); err != nil {
				return err
			}
		}
	case *Not:
		return Walk(n.Filter, fn)
	}
	return nil
}

// Rewrite rebuilds f bottom-up, replacing every node with the result of fn.
// The input tree is never modified.
func Rewrite(f Filter, fn func(Filter) (Filter, error)) (Filter, error) {
	if f == nil {
		return nil, nil
	}
	switch n := f.(type) {
	case *And:
		children, err := rewriteAll(n.Filters, fn)
		if err != nil {
			return nil, err
		}
		return fn(&And{Filters: children})
	case *Or:
		children, err := rewriteAll(n.Filters, fn)
		if err != nil {
			return nil, err
		}
		return fn(&Or{Filters: children})
	case *Not:
		child, err := Rewrite(n.Filter, fn)
		if err != nil {
			return nil, err
		}
		return fn(&Not{Filter: child})
	}
	return fn(f)
}

func rewriteAll(filters []Filter, fn func(Filter) (Filter, error)) ([]Filter, error) {
	out := make([]Filter, 0, len(filters))
	for _, c := range filters {
		r, err := Rewrite(c, fn)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// PropertyOf returns the property a leaf predicate refers to.
func PropertyOf(f Filter) (string, bool) {
	switch n := f.(type) {
	case *Comparison:
		return n.Property, true
	case *Like:
		return n.Property, true
	case *Between:
		return n.Property, true
	case *IsNull:
		return n.Property, true
	case *Spatial:
		return n.Property, true
	}
	return "", false
}

// WithProperty returns a copy of the leaf predicate f targeting property.
// Non-leaf filters are returned unchanged.
func WithProperty(f Filter, property string) Filter {
	switch n := f.(type) {
	case *Comparison:
		c := *n
		c.Property = property
		return &c
	case *Like:
		c := *n
		c.Property = property
		return &c
	case *Between:
		c := *n
		c.Property = property
		return &c
	case *IsNull:
		return &IsNull{Property: property}
	case *Spatial:
		c := *n
		c.Property = property
		return &c
	}
	return f
}

// DescribeFilter returns a short human readable form of a predicate, used
// in error messages.
func DescribeFilter(f Filter) string {
	switch n := f.(type) {
	case *Spatial:
		return fmt.Sprintf("%s(%s)", n.Op, n.Property)
	case *Comparison:
		return fmt.Sprintf("%s(%s)", n.Op, n.Property)
	case *Like:
		return fmt.Sprintf("Like(%s, %q)", n.Property, n.Pattern)
	case *Between:
		return fmt.Sprintf("Between(%s)", n.Property)
	case *IsNull:
		return fmt.Sprintf("IsNull(%s)", n.Property)
	case *IDFilter:
		return fmt.Sprintf("Id(%d)", len(n.IDs))
	}
	return fmt.Sprintf("%T", f)
}
