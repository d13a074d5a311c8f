package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/jobrunner/owsgate/internal/domain"
)

// ParseCQL parses a CQL text constraint into a filter tree.
//
//	dc:title LIKE 'water%' AND modified >= '2024-01-01'
//	BBOX(ows:BoundingBox, 5, 45, 10, 50) OR NOT type = 'service'
//	DWITHIN(geom, POINT(7 46), 0.5, degrees)
func ParseCQL(text string) (domain.Filter, error) {
	p := &cqlParser{src: text}
	p.advance()
	if p.tok.kind == tokEOF {
		return nil, fmt.Errorf("empty expression")
	}
	f, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.errorf("unexpected %q", p.tok.text)
	}
	return f, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokOperator
	tokLParen
	tokRParen
	tokComma
	tokInvalid
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type cqlParser struct {
	src string
	pos int
	tok token
}

var spatialOps = map[string]domain.SpatialOp{
	"BBOX":       domain.OpBBOX,
	"INTERSECTS": domain.OpIntersects,
	"DISJOINT":   domain.OpDisjoint,
	"CONTAINS":   domain.OpContains,
	"WITHIN":     domain.OpWithin,
	"EQUALS":     domain.OpEquals,
	"TOUCHES":    domain.OpTouches,
	"CROSSES":    domain.OpCrosses,
	"OVERLAPS":   domain.OpOverlaps,
	"DWITHIN":    domain.OpDWithin,
	"BEYOND":     domain.OpBeyond,
}

var comparisonOps = map[string]domain.ComparisonOp{
	"=":  domain.OpEqual,
	"<>": domain.OpNotEqual,
	"!=": domain.OpNotEqual,
	"<":  domain.OpLess,
	"<=": domain.OpLessOrEqual,
	">":  domain.OpGreater,
	">=": domain.OpGreaterOrEqual,
}

var wktTypes = map[string]bool{
	"POINT":              true,
	"LINESTRING":         true,
	"POLYGON":            true,
	"MULTIPOINT":         true,
	"MULTILINESTRING":    true,
	"MULTIPOLYGON":       true,
	"GEOMETRYCOLLECTION": true,
}

func (p *cqlParser) errorf(format string, args ...any) error {
	return fmt.Errorf("at offset %d: %s", p.tok.pos, fmt.Sprintf(format, args...))
}

// advance scans the next token into p.tok.
func (p *cqlParser) advance() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
	start := p.pos
	if p.pos >= len(p.src) {
		p.tok = token{kind: tokEOF, pos: start}
		return
	}

	c := p.src[p.pos]
	switch {
	case c == '(':
		p.pos++
		p.tok = token{kind: tokLParen, text: "(", pos: start}
	case c == ')':
		p.pos++
		p.tok = token{kind: tokRParen, text: ")", pos: start}
	case c == ',':
		p.pos++
		p.tok = token{kind: tokComma, text: ",", pos: start}
	case c == '\'':
		p.tok = p.scanString(start)
	case c == '"':
		end := strings.IndexByte(p.src[start+1:], '"')
		if end < 0 {
			p.pos = len(p.src)
			p.tok = token{kind: tokInvalid, text: p.src[start:], pos: start}
			return
		}
		p.pos = start + end + 2
		p.tok = token{kind: tokIdent, text: p.src[start+1 : start+1+end], pos: start}
	case strings.ContainsRune("=<>!", rune(c)):
		p.pos++
		if p.pos < len(p.src) && strings.ContainsRune("=>", rune(p.src[p.pos])) {
			p.pos++
		}
		p.tok = token{kind: tokOperator, text: p.src[start:p.pos], pos: start}
	case isDigit(c) || ((c == '-' || c == '+' || c == '.') && p.pos+1 < len(p.src) && (isDigit(p.src[p.pos+1]) || p.src[p.pos+1] == '.')):
		p.pos++
		for p.pos < len(p.src) && isNumberChar(p.src[p.pos], p.src[p.pos-1]) {
			p.pos++
		}
		p.tok = token{kind: tokNumber, text: p.src[start:p.pos], pos: start}
	case isIdentStart(c):
		for p.pos < len(p.src) && isIdentChar(p.src[p.pos]) {
			p.pos++
		}
		p.tok = token{kind: tokIdent, text: p.src[start:p.pos], pos: start}
	default:
		p.pos++
		p.tok = token{kind: tokInvalid, text: string(c), pos: start}
	}
}

// scanString reads a quoted literal; a doubled quote is an escaped quote.
func (p *cqlParser) scanString(start int) token {
	var b strings.Builder
	i := start + 1
	for i < len(p.src) {
		if p.src[i] == '\'' {
			if i+1 < len(p.src) && p.src[i+1] == '\'' {
				b.WriteByte('\'')
				i += 2
				continue
			}
			p.pos = i + 1
			return token{kind: tokString, text: b.String(), pos: start}
		}
		b.WriteByte(p.src[i])
		i++
	}
	p.pos = len(p.src)
	return token{kind: tokInvalid, text: p.src[start:], pos: start}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isNumberChar(c, prev byte) bool {
	if isDigit(c) || c == '.' || c == 'e' || c == 'E' {
		return true
	}
	return (c == '-' || c == '+') && (prev == 'e' || prev == 'E')
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == ':' || c == '.' || c == '/' || c == '-'
}

func (p *cqlParser) keyword(words ...string) bool {
	if p.tok.kind != tokIdent {
		return false
	}
	for _, w := range words {
		if strings.EqualFold(p.tok.text, w) {
			return true
		}
	}
	return false
}

func (p *cqlParser) expect(kind tokenKind, what string) error {
	if p.tok.kind != kind {
		if p.tok.kind == tokEOF {
			return p.errorf("expected %s, got end of input", what)
		}
		return p.errorf("expected %s, got %q", what, p.tok.text)
	}
	p.advance()
	return nil
}

func (p *cqlParser) parseOr() (domain.Filter, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	filters := []domain.Filter{left}
	for p.keyword("OR") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		filters = append(filters, right)
	}
	if len(filters) == 1 {
		return left, nil
	}
	return &domain.Or{Filters: filters}, nil
}

func (p *cqlParser) parseAnd() (domain.Filter, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	filters := []domain.Filter{left}
	for p.keyword("AND") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		filters = append(filters, right)
	}
	if len(filters) == 1 {
		return left, nil
	}
	return &domain.And{Filters: filters}, nil
}

func (p *cqlParser) parseNot() (domain.Filter, error) {
	if p.keyword("NOT") {
		p.advance()
		f, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &domain.Not{Filter: f}, nil
	}
	return p.parsePrimary()
}

func (p *cqlParser) parsePrimary() (domain.Filter, error) {
	switch p.tok.kind {
	case tokLParen:
		p.advance()
		f, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return f, nil
	case tokIdent:
	default:
		return nil, p.errorf("expected a predicate, got %q", p.tok.text)
	}

	word := strings.ToUpper(p.tok.text)
	switch word {
	case "INCLUDE":
		p.advance()
		return domain.Include{}, nil
	case "EXCLUDE":
		p.advance()
		return domain.Exclude{}, nil
	case "IN":
		p.advance()
		values, err := p.parseList()
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(values))
		for i, v := range values {
			ids[i] = fmt.Sprint(v)
		}
		return &domain.IDFilter{IDs: ids}, nil
	}
	if op, ok := spatialOps[word]; ok {
		name := p.tok.text
		p.advance()
		if p.tok.kind == tokLParen {
			return p.parseSpatial(op)
		}
		// A property named like an operator.
		return p.parsePredicate(name)
	}

	prop := p.tok.text
	p.advance()
	return p.parsePredicate(prop)
}

func (p *cqlParser) parsePredicate(prop string) (domain.Filter, error) {
	if p.tok.kind == tokOperator {
		op, ok := comparisonOps[p.tok.text]
		if !ok {
			return nil, p.errorf("unknown operator %q", p.tok.text)
		}
		p.advance()
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &domain.Comparison{Op: op, Property: prop, Value: v, MatchCase: true}, nil
	}

	negate := false
	if p.keyword("NOT") {
		negate = true
		p.advance()
	}

	var f domain.Filter
	switch {
	case p.keyword("LIKE", "ILIKE"):
		matchCase := p.keyword("LIKE")
		p.advance()
		if p.tok.kind != tokString {
			return nil, p.errorf("expected a pattern string")
		}
		f = &domain.Like{
			Property:   prop,
			Pattern:    p.tok.text,
			Wildcard:   "%",
			SingleChar: "_",
			Escape:     "\\",
			MatchCase:  matchCase,
		}
		p.advance()

	case p.keyword("BETWEEN"):
		p.advance()
		lower, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		if !p.keyword("AND") {
			return nil, p.errorf("expected AND in BETWEEN")
		}
		p.advance()
		upper, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		f = &domain.Between{Property: prop, Lower: lower, Upper: upper}

	case p.keyword("IN"):
		p.advance()
		values, err := p.parseList()
		if err != nil {
			return nil, err
		}
		or := &domain.Or{}
		for _, v := range values {
			or.Filters = append(or.Filters, &domain.Comparison{Op: domain.OpEqual, Property: prop, Value: v, MatchCase: true})
		}
		f = or
		if len(or.Filters) == 1 {
			f = or.Filters[0]
		}

	case p.keyword("IS") && !negate:
		p.advance()
		isNot := false
		if p.keyword("NOT") {
			isNot = true
			p.advance()
		}
		if !p.keyword("NULL") {
			return nil, p.errorf("expected NULL")
		}
		p.advance()
		f = &domain.IsNull{Property: prop}
		if isNot {
			f = &domain.Not{Filter: f}
		}
		return f, nil

	default:
		if p.tok.kind == tokEOF {
			return nil, p.errorf("incomplete predicate on %s", prop)
		}
		return nil, p.errorf("unexpected %q after %s", p.tok.text, prop)
	}

	if negate {
		return &domain.Not{Filter: f}, nil
	}
	return f, nil
}

func (p *cqlParser) parseList() ([]any, error) {
	if err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	var values []any
	for {
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.tok.kind != tokComma {
			break
		}
		p.advance()
	}
	if err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return values, nil
}

func (p *cqlParser) parseLiteral() (any, error) {
	t := p.tok
	switch t.kind {
	case tokString:
		p.advance()
		return t.text, nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorf("invalid number %q", t.text)
		}
		p.advance()
		return f, nil
	case tokIdent:
		switch strings.ToUpper(t.text) {
		case "TRUE":
			p.advance()
			return true, nil
		case "FALSE":
			p.advance()
			return false, nil
		}
	}
	if t.kind == tokEOF {
		return nil, p.errorf("expected a literal, got end of input")
	}
	return nil, p.errorf("expected a literal, got %q", t.text)
}

func (p *cqlParser) parseNumber() (float64, error) {
	if p.tok.kind != tokNumber {
		return 0, p.errorf("expected a number, got %q", p.tok.text)
	}
	f, err := strconv.ParseFloat(p.tok.text, 64)
	if err != nil {
		return 0, p.errorf("invalid number %q", p.tok.text)
	}
	p.advance()
	return f, nil
}

func (p *cqlParser) parseSpatial(op domain.SpatialOp) (domain.Filter, error) {
	p.advance() // (
	if p.tok.kind != tokIdent {
		return nil, p.errorf("expected a geometry property")
	}
	prop := p.tok.text
	p.advance()
	if err := p.expect(tokComma, "','"); err != nil {
		return nil, err
	}

	f := &domain.Spatial{Op: op, Property: prop}
	if op == domain.OpBBOX {
		var c [4]float64
		for i := range c {
			if i > 0 {
				if err := p.expect(tokComma, "','"); err != nil {
					return nil, err
				}
			}
			v, err := p.parseNumber()
			if err != nil {
				return nil, err
			}
			c[i] = v
		}
		// optional CRS
		if p.tok.kind == tokComma {
			p.advance()
			if p.tok.kind != tokString {
				return nil, p.errorf("expected a CRS string")
			}
			p.advance()
		}
		if c[0] > c[2] || c[1] > c[3] {
			return nil, p.errorf("bbox minimum exceeds maximum")
		}
		f.Geometry = orb.Bound{Min: orb.Point{c[0], c[1]}, Max: orb.Point{c[2], c[3]}}
		return f, p.expect(tokRParen, "')'")
	}

	g, err := p.parseGeometry()
	if err != nil {
		return nil, err
	}
	f.Geometry = g

	if op == domain.OpDWithin || op == domain.OpBeyond {
		if err := p.expect(tokComma, "','"); err != nil {
			return nil, err
		}
		d, err := p.parseNumber()
		if err != nil {
			return nil, err
		}
		if d < 0 {
			return nil, p.errorf("negative distance")
		}
		f.Distance = d
		// Distances are in CRS units; a unit name is accepted and ignored.
		if p.tok.kind == tokComma {
			p.advance()
			if p.tok.kind != tokIdent && p.tok.kind != tokString {
				return nil, p.errorf("expected a distance unit")
			}
			p.advance()
		}
	}
	return f, p.expect(tokRParen, "')'")
}

// parseGeometry reads a WKT literal or ENVELOPE(minx, maxx, maxy, miny)
// from the raw input.
func (p *cqlParser) parseGeometry() (orb.Geometry, error) {
	if p.tok.kind != tokIdent {
		return nil, p.errorf("expected a geometry literal")
	}
	word := strings.ToUpper(p.tok.text)

	if word == "ENVELOPE" {
		p.advance()
		if err := p.expect(tokLParen, "'('"); err != nil {
			return nil, err
		}
		var c [4]float64
		for i := range c {
			if i > 0 {
				if err := p.expect(tokComma, "','"); err != nil {
					return nil, err
				}
			}
			v, err := p.parseNumber()
			if err != nil {
				return nil, err
			}
			c[i] = v
		}
		if err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return orb.Bound{Min: orb.Point{c[0], c[3]}, Max: orb.Point{c[1], c[2]}}, nil
	}

	if !wktTypes[word] {
		return nil, p.errorf("unknown geometry type %s", p.tok.text)
	}
	start := p.tok.pos
	end, err := p.matchParens(p.pos)
	if err != nil {
		return nil, err
	}
	g, err := wkt.Unmarshal(p.src[start:end])
	if err != nil {
		return nil, p.errorf("invalid geometry: %v", err)
	}
	p.pos = end
	p.advance()
	return g, nil
}

// matchParens returns the offset just past the parenthesised group that
// starts at or after from.
func (p *cqlParser) matchParens(from int) (int, error) {
	i := from
	for i < len(p.src) && unicode.IsSpace(rune(p.src[i])) {
		i++
	}
	// EMPTY geometries carry no coordinates.
	if rest := p.src[i:]; len(rest) >= 5 && strings.EqualFold(rest[:5], "EMPTY") {
		return i + 5, nil
	}
	if i >= len(p.src) || p.src[i] != '(' {
		return 0, p.errorf("expected '(' after geometry type")
	}
	depth := 0
	for ; i < len(p.src); i++ {
		switch p.src[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i + 1, nil
			}
		}
	}
	return 0, p.errorf("unbalanced parentheses in geometry")
}
