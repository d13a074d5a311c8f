package domain

import "strings"

// ElementSet is a named projection profile.
type ElementSet string

// Element set profiles.
const (
	ElementSetBrief   ElementSet = "brief"
	ElementSetSummary ElementSet = "summary"
	ElementSetFull    ElementSet = "full"
)

// ParseElementSet parses an element set name case-insensitively.
func ParseElementSet(s string) (ElementSet, error) {
	switch ElementSet(strings.ToLower(strings.TrimSpace(s))) {
	case ElementSetBrief:
		return ElementSetBrief, nil
	case ElementSetSummary:
		return ElementSetSummary, nil
	case ElementSetFull:
		return ElementSetFull, nil
	}
	return "", InvalidParameter("ElementSetName", "unknown element set %q", s)
}

// AttributeKind is the value type of an attribute.
type AttributeKind int

// Attribute kinds.
const (
	KindString AttributeKind = iota
	KindNumber
	KindDate
	KindBoolean
	KindGeometry
)

// String returns the kind name.
func (k AttributeKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	case KindBoolean:
		return "boolean"
	case KindGeometry:
		return "geometry"
	default:
		return "unknown"
	}
}

// Attribute describes one attribute of a record type.
type Attribute struct {
	Name      QName
	Kind      AttributeKind
	Queryable bool
	Sortable  bool
	Multiple  bool // may occur more than once
}

// IsGeometry reports whether the attribute holds geometries.
func (a Attribute) IsGeometry() bool {
	return a.Kind == KindGeometry
}

// TypeDescriptor describes one queryable type: its schema, element set
// profiles, queryables and how generic queries are adapted to it.
// Descriptors are immutable once registered.
type TypeDescriptor interface {
	// Name returns the qualified type name.
	Name() QName

	// OutputSchema returns the schema URI records of this type are encoded in.
	OutputSchema() string

	// Namespaces returns prefix to URI bindings used by the type.
	Namespaces() map[string]string

	// Attributes returns the attribute schema.
	Attributes() []Attribute

	// Attribute resolves a property reference (local, prefixed or queryable
	// name) to an attribute.
	Attribute(name string) (Attribute, bool)

	// PropertiesForElementSet returns the ordered projection for a profile,
	// or nil for no projection.
	PropertiesForElementSet(set ElementSet) []QName

	// Queryables returns the names exposed as filterable.
	Queryables() []string

	// AdaptQuery rewrites a generic query into the backing representation.
	AdaptQuery(q Query) (Query, error)
}
