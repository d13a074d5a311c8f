package domain

import (
	"strings"

	"github.com/paulmach/orb"
)

// Section names a part of a capabilities document.
type Section string

// Capabilities sections.
const (
	SectionServiceIdentification Section = "ServiceIdentification"
	SectionServiceProvider       Section = "ServiceProvider"
	SectionOperationsMetadata    Section = "OperationsMetadata"
	SectionFilterCapabilities    Section = "Filter_Capabilities"
	SectionServiceMetadata       Section = "ServiceMetadata"
	SectionContents              Section = "Contents"
)

// Domain is a named list of allowed values, used for operation parameters
// and constraints.
type Domain struct {
	Name   string
	Values []string
}

// Copy returns a deep copy of the domain.
func (d Domain) Copy() Domain {
	return Domain{Name: d.Name, Values: append([]string(nil), d.Values...)}
}

// CopyDomains deep copies a list of domains.
func CopyDomains(in []Domain) []Domain {
	if in == nil {
		return nil
	}
	out := make([]Domain, len(in))
	for i, d := range in {
		out[i] = d.Copy()
	}
	return out
}

// Operation describes one operation in OperationsMetadata.
type Operation struct {
	Name        string
	GetURL      string
	PostURL     string
	Parameters  []Domain
	Constraints []Domain
}

// Parameter returns the named parameter, matched case-insensitively.
func (o *Operation) Parameter(name string) (*Domain, bool) {
	for i := range o.Parameters {
		if strings.EqualFold(o.Parameters[i].Name, name) {
			return &o.Parameters[i], true
		}
	}
	return nil, false
}

// OperationsMetadata lists the operations offered by a service.
type OperationsMetadata struct {
	Operations  []Operation
	Parameters  []Domain
	Constraints []Domain
}

// Operation returns the named operation.
func (m *OperationsMetadata) Operation(name string) (*Operation, bool) {
	for i := range m.Operations {
		if m.Operations[i].Name == name {
			return &m.Operations[i], true
		}
	}
	return nil, false
}

// ServiceIdentification is the identity section.
type ServiceIdentification struct {
	Title              string
	Abstract           string
	Keywords           []string
	ServiceType        string
	ServiceTypeVersion []string
	Fees               string
	AccessConstraints  string
}

// ServiceProvider is the provider section.
type ServiceProvider struct {
	Name    string
	Site    string
	Contact Contact
}

// FilterCapabilities lists supported filter operators.
type FilterCapabilities struct {
	ComparisonOperators []string
	SpatialOperators    []string
	GeometryOperands    []string
	IDCapabilities      bool
}

// CoverageSummary describes a coverage in the Contents section.
type CoverageSummary struct {
	ID          string
	Subtype     string
	WGS84Bounds orb.Bound
}

// Capabilities is an assembled capabilities document. Nil sections were not
// requested.
type Capabilities struct {
	Service               string
	Version               string
	ServiceIdentification *ServiceIdentification
	ServiceProvider       *ServiceProvider
	OperationsMetadata    *OperationsMetadata
	FilterCapabilities    *FilterCapabilities
	ServiceMetadata       []string // supported formats (WCS)
	Contents              []CoverageSummary
}
