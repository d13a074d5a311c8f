package application

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/jobrunner/owsgate/internal/domain"
	"github.com/jobrunner/owsgate/internal/ports/output"
)

// Catalog service identity.
const (
	CatalogServiceType = "CSW"
	CatalogVersion     = "2.0.2"
)

var catalogSections = []domain.Section{
	domain.SectionServiceIdentification,
	domain.SectionServiceProvider,
	domain.SectionOperationsMetadata,
	domain.SectionFilterCapabilities,
}

// catalogOperations are listed in this order. Transaction is added when the
// store accepts writes.
var catalogOperations = []string{
	"GetCapabilities",
	"DescribeRecord",
	"GetRecords",
	"GetRecordById",
	"GetDomain",
}

// CapabilitiesBuilder assembles catalog capabilities documents. Nothing is
// cached: store metadata is read on every build.
type CapabilitiesBuilder struct {
	info       domain.ServiceInfo
	registry   *TypeRegistry
	decorators []output.CapabilitiesDecorator
}

// NewCapabilitiesBuilder creates a builder. Decorators run in the given
// order.
func NewCapabilitiesBuilder(info domain.ServiceInfo, registry *TypeRegistry, decorators []output.CapabilitiesDecorator) *CapabilitiesBuilder {
	return &CapabilitiesBuilder{
		info:       info,
		registry:   registry,
		decorators: append([]output.CapabilitiesDecorator(nil), decorators...),
	}
}

// Build assembles the capabilities document for req. store may be nil, in
// which case no store reported metadata is included.
func (b *CapabilitiesBuilder) Build(ctx context.Context, store output.CatalogStore, req domain.CapabilitiesRequest) (*domain.Capabilities, error) {
	version, err := negotiateVersion(CatalogVersion, req.AcceptVersions)
	if err != nil {
		return nil, err
	}
	sections, err := parseSections(req.Sections, catalogSections)
	if err != nil {
		return nil, err
	}

	caps := &domain.Capabilities{
		Service: CatalogServiceType,
		Version: version,
	}
	if sections[domain.SectionServiceIdentification] {
		caps.ServiceIdentification = serviceIdentification(b.info, CatalogServiceType, version)
	}
	if sections[domain.SectionServiceProvider] {
		caps.ServiceProvider = serviceProvider(b.info)
	}
	if sections[domain.SectionOperationsMetadata] {
		om, err := b.OperationsMetadata(ctx, store, req.BaseURL)
		if err != nil {
			return nil, err
		}
		caps.OperationsMetadata = om
	}
	if sections[domain.SectionFilterCapabilities] {
		caps.FilterCapabilities = filterCapabilities()
	}

	for _, d := range b.decorators {
		next, err := d.Decorate(ctx, caps, store)
		if err != nil {
			var se *domain.ServiceError
			if errors.As(err, &se) {
				return nil, err
			}
			return nil, domain.NoApplicableCode("capabilities decorator failed", err)
		}
		if next != nil {
			caps = next
		}
	}
	return caps, nil
}

// OperationsMetadata assembles the operations section. Store reported
// domains are copied before they are amended.
func (b *CapabilitiesBuilder) OperationsMetadata(ctx context.Context, store output.CatalogStore, baseURL string) (*domain.OperationsMetadata, error) {
	var sc output.StoreCapabilities
	if store != nil {
		var err error
		sc, err = store.Capabilities(ctx)
		if err != nil {
			return nil, domain.NoApplicableCode("reading store capabilities", err)
		}
	}

	names := append([]string(nil), catalogOperations...)
	if sc.SupportsTransactions() {
		names = append(names, "Transaction")
	}

	om := &domain.OperationsMetadata{
		Parameters: []domain.Domain{
			{Name: "service", Values: []string{domain.NamespaceCSW}},
			{Name: "version", Values: []string{CatalogVersion}},
		},
		Constraints: []domain.Domain{
			{Name: "PostEncoding", Values: []string{"XML"}},
		},
	}
	for _, name := range names {
		om.Operations = append(om.Operations, domain.Operation{
			Name:        name,
			GetURL:      baseURL,
			PostURL:     baseURL,
			Parameters:  domain.CopyDomains(sc.OperationParameters[name]),
			Constraints: domain.CopyDomains(sc.OperationConstraints[name]),
		})
	}

	queryables := b.queryables(sc)
	if op, ok := om.Operation("GetRecords"); ok {
		for _, t := range b.registry.All() {
			op.Constraints = append(op.Constraints, domain.Domain{
				Name:   t.Name().Local + "Queryables",
				Values: queryables[t.Name().String()],
			})
		}
		op.Constraints = append(op.Constraints, domain.Domain{
			Name:   "XPathQueryables",
			Values: []string{"allowed"},
		})
	}
	if op, ok := om.Operation("GetDomain"); ok {
		setParameter(op, "ParameterName", parameterNames(om))
		setParameter(op, "PropertyName", propertyNames(queryables))
	}
	return om, nil
}

// queryables returns the sorted queryables per prefixed type name. Store
// reported lists take precedence over the descriptor's own.
func (b *CapabilitiesBuilder) queryables(sc output.StoreCapabilities) map[string][]string {
	out := make(map[string][]string, b.registry.Len())
	for _, t := range b.registry.All() {
		name := t.Name().String()
		list, ok := sc.Queryables[name]
		if !ok {
			list = t.Queryables()
		}
		list = append([]string(nil), list...)
		sort.Strings(list)
		out[name] = list
	}
	return out
}

// parameterNames lists "Operation.parameter" for every operation parameter
// except GetDomain's own.
func parameterNames(om *domain.OperationsMetadata) []string {
	var out []string
	for _, op := range om.Operations {
		if op.Name == "GetDomain" {
			continue
		}
		for _, p := range op.Parameters {
			out = append(out, op.Name+"."+p.Name)
		}
	}
	sort.Strings(out)
	return out
}

func propertyNames(queryables map[string][]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range queryables {
		for _, q := range list {
			if !seen[q] {
				seen[q] = true
				out = append(out, q)
			}
		}
	}
	sort.Strings(out)
	return out
}

func setParameter(op *domain.Operation, name string, values []string) {
	if p, ok := op.Parameter(name); ok {
		p.Values = values
		return
	}
	op.Parameters = append(op.Parameters, domain.Domain{Name: name, Values: values})
}

// negotiateVersion picks the single supported version if the client accepts
// it. An empty accept list accepts anything.
func negotiateVersion(supported string, accepted []string) (string, error) {
	if len(accepted) == 0 {
		return supported, nil
	}
	for _, v := range accepted {
		if strings.TrimSpace(v) == supported {
			return supported, nil
		}
	}
	return "", domain.VersionMismatch(strings.Join(accepted, ","))
}

// parseSections resolves requested section names case-insensitively against
// known. No sections, or "All", selects every section.
func parseSections(requested []string, known []domain.Section) (map[domain.Section]bool, error) {
	out := make(map[domain.Section]bool, len(known))
	all := len(requested) == 0
	for _, r := range requested {
		r = strings.TrimSpace(r)
		if strings.EqualFold(r, "All") {
			all = true
			continue
		}
		found := false
		for _, s := range known {
			if strings.EqualFold(r, string(s)) {
				out[s] = true
				found = true
				break
			}
		}
		if !found {
			return nil, domain.InvalidParameter("sections", "unknown section %s", r)
		}
	}
	if all {
		for _, s := range known {
			out[s] = true
		}
	}
	return out, nil
}

func serviceIdentification(info domain.ServiceInfo, serviceType, version string) *domain.ServiceIdentification {
	return &domain.ServiceIdentification{
		Title:              info.Title,
		Abstract:           info.Abstract,
		Keywords:           append([]string(nil), info.Keywords...),
		ServiceType:        serviceType,
		ServiceTypeVersion: []string{version},
		Fees:               info.Fees,
		AccessConstraints:  info.AccessConstraints,
	}
}

func serviceProvider(info domain.ServiceInfo) *domain.ServiceProvider {
	return &domain.ServiceProvider{
		Name:    info.ProviderName,
		Site:    info.ProviderSite,
		Contact: info.Contact,
	}
}

func filterCapabilities() *domain.FilterCapabilities {
	return &domain.FilterCapabilities{
		ComparisonOperators: []string{
			string(domain.OpEqual), "Like", string(domain.OpLess), string(domain.OpGreater),
			string(domain.OpLessOrEqual), string(domain.OpGreaterOrEqual), string(domain.OpNotEqual),
			"Between", "NullCheck",
		},
		SpatialOperators: []string{
			string(domain.OpBBOX), string(domain.OpEquals), string(domain.OpOverlaps),
			string(domain.OpDisjoint), string(domain.OpIntersects), string(domain.OpTouches),
			string(domain.OpCrosses), string(domain.OpWithin), string(domain.OpContains),
			string(domain.OpBeyond), string(domain.OpDWithin),
		},
		GeometryOperands: []string{"Envelope", "Point", "LineString", "Polygon"},
		IDCapabilities:   true,
	}
}
