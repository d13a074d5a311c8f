package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/jobrunner/owsgate/internal/domain"
)

// defaultNamespaces resolve the prefixes clients use without declaring them.
var defaultNamespaces = map[string]string{
	"csw":   domain.NamespaceCSW,
	"dc":    domain.NamespaceDC,
	"dct":   domain.NamespaceDCT,
	"ows":   domain.NamespaceOWS,
	"gmd":   domain.NamespaceGMD,
	"gco":   domain.NamespaceGCO,
	"apiso": domain.NamespaceApiso,
	"wfs":   domain.NamespaceWFS,
}

// kvp holds request parameters with lower-cased names.
type kvp map[string]string

func newKVP(values url.Values) kvp {
	p := make(kvp, len(values))
	for k, v := range values {
		if len(v) > 0 {
			p[strings.ToLower(k)] = strings.TrimSpace(v[0])
		}
	}
	return p
}

// get returns the first non-empty value among names.
func (p kvp) get(names ...string) string {
	for _, n := range names {
		if v := p[strings.ToLower(n)]; v != "" {
			return v
		}
	}
	return ""
}

// list splits a comma separated value, dropping empty items.
func (p kvp) list(names ...string) []string {
	return splitList(p.get(names...))
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// intValue parses an optional integer parameter.
func (p kvp) intValue(name string) (*int, error) {
	raw := p.get(name)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, domain.InvalidParameter(name, "%s must be an integer, got %q", name, raw)
	}
	return &n, nil
}

var xmlnsPattern = regexp.MustCompile(`xmlns\(([^)]*)\)`)

// namespaces returns the prefix bindings of the NAMESPACE parameter merged
// over the defaults. Both xmlns(p=uri) and xmlns(p,uri) are accepted.
func (p kvp) namespaces() map[string]string {
	ns := make(map[string]string, len(defaultNamespaces))
	for k, v := range defaultNamespaces {
		ns[k] = v
	}
	for _, m := range xmlnsPattern.FindAllStringSubmatch(p.get("namespace", "namespaces"), -1) {
		decl := m[1]
		sep := strings.IndexAny(decl, "=,")
		if sep < 0 {
			ns[""] = strings.TrimSpace(decl)
			continue
		}
		ns[strings.TrimSpace(decl[:sep])] = strings.TrimSpace(decl[sep+1:])
	}
	return ns
}

func (p kvp) qnames(ns map[string]string, names ...string) []domain.QName {
	var out []domain.QName
	for _, n := range p.list(names...) {
		out = append(out, domain.ParseQName(n, ns))
	}
	return out
}

// parseSortBy parses "prop:A,prop2:D" (CSW) or "prop ASC,prop2 DESC" (WFS).
func parseSortBy(s, locator string) ([]domain.SortBy, error) {
	var out []domain.SortBy
	for _, item := range splitList(s) {
		prop, dir := item, ""
		if fields := strings.Fields(item); len(fields) == 2 {
			prop, dir = fields[0], fields[1]
		} else if i := strings.LastIndex(item, ":"); i > 0 {
			switch strings.ToUpper(item[i+1:]) {
			case "A", "D", "ASC", "DESC":
				prop, dir = item[:i], item[i+1:]
			}
		}
		sb := domain.SortBy{Property: prop}
		switch strings.ToUpper(dir) {
		case "", "A", "ASC":
		case "D", "DESC":
			sb.Descending = true
		default:
			return nil, domain.InvalidParameter(locator, "unknown sort order %q", dir)
		}
		out = append(out, sb)
	}
	return out, nil
}

// parseBBox parses minx,miny,maxx,maxy with an optional trailing CRS.
func parseBBox(s string) (orb.Bound, error) {
	parts := splitList(s)
	if len(parts) != 4 && len(parts) != 5 {
		return orb.Bound{}, domain.InvalidParameter("bbox", "expected 4 coordinates and an optional CRS, got %q", s)
	}
	var c [4]float64
	for i := range c {
		v, err := strconv.ParseFloat(parts[i], 64)
		if err != nil {
			return orb.Bound{}, domain.InvalidParameter("bbox", "invalid coordinate %q", parts[i])
		}
		c[i] = v
	}
	if c[0] > c[2] || c[1] > c[3] {
		return orb.Bound{}, domain.InvalidParameter("bbox", "minimum exceeds maximum in %q", s)
	}
	return orb.Bound{Min: orb.Point{c[0], c[1]}, Max: orb.Point{c[2], c[3]}}, nil
}
