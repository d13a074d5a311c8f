package domain

import "strings"

// Well-known namespaces.
const (
	NamespaceCSW   = "http://www.opengis.net/cat/csw/2.0.2"
	NamespaceDC    = "http://purl.org/dc/elements/1.1/"
	NamespaceDCT   = "http://purl.org/dc/terms/"
	NamespaceOWS   = "http://www.opengis.net/ows"
	NamespaceGMD   = "http://www.isotc211.org/2005/gmd"
	NamespaceGCO   = "http://www.isotc211.org/2005/gco"
	NamespaceApiso = "http://www.opengis.net/cat/csw/apiso/1.0"
	NamespaceWFS   = "http://www.opengis.net/wfs/2.0"
)

// QName is a namespace qualified name.
type QName struct {
	Space  string // Namespace URI, may be empty
	Prefix string // Prefix used when the name was written, may be empty
	Local  string
}

// NewQName creates a qualified name.
func NewQName(space, prefix, local string) QName {
	return QName{Space: space, Prefix: prefix, Local: local}
}

// ParseQName parses "prefix:local", "{uri}local" or "local". Prefixes are
// resolved against namespaces when possible.
func ParseQName(s string, namespaces map[string]string) QName {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		if end := strings.Index(s, "}"); end > 0 {
			return QName{Space: s[1:end], Local: s[end+1:]}
		}
	}
	prefix, local, ok := strings.Cut(s, ":")
	if !ok {
		return QName{Local: s}
	}
	return QName{Space: namespaces[prefix], Prefix: prefix, Local: local}
}

// String returns the prefixed form of the name.
func (q QName) String() string {
	if q.Prefix != "" {
		return q.Prefix + ":" + q.Local
	}
	if q.Space != "" {
		return "{" + q.Space + "}" + q.Local
	}
	return q.Local
}

// IsZero reports whether the name is empty.
func (q QName) IsZero() bool {
	return q.Local == ""
}

// Matches compares two names. Namespaces are compared when both sides carry
// one, otherwise prefixes are compared when both carry one, otherwise the
// local parts decide.
func (q QName) Matches(other QName) bool {
	if q.Local != other.Local {
		return false
	}
	if q.Space != "" && other.Space != "" {
		return q.Space == other.Space
	}
	if q.Prefix != "" && other.Prefix != "" {
		return q.Prefix == other.Prefix
	}
	return true
}
