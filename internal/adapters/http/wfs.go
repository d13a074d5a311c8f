package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"math"
	"net/http"
	"strings"

	"github.com/jobrunner/owsgate/internal/domain"
)

// WFS protocol identifiers.
const (
	featureServiceType = "WFS"
	featureVersion     = "2.0.0"
)

// handleWFS serves the catalog records as GeoJSON features.
func (s *Server) handleWFS(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	p, err := requestKVP(r)
	if err == nil {
		err = checkService(p, featureServiceType)
	}
	if err != nil {
		s.writeException(w, r, err)
		return
	}

	switch request := p.get("request"); strings.ToLower(request) {
	case "getcapabilities":
		s.wfsGetCapabilities(w, r, p)
	case "describefeaturetype":
		s.cswDescribeRecord(w, r, p)
	case "getfeature":
		s.wfsGetFeature(w, r, p)
	case "":
		s.writeException(w, r, domain.MissingParameter("request"))
	default:
		s.writeException(w, r, operationNotSupported(request))
	}
}

func (s *Server) wfsGetCapabilities(w http.ResponseWriter, r *http.Request, p kvp) {
	caps, err := s.catalog.GetCapabilities(r.Context(), domain.CapabilitiesRequest{
		Sections: p.list("sections"),
		BaseURL:  s.serviceURL("/wfs"),
	})
	if err != nil {
		s.writeException(w, r, err)
		return
	}
	out := newCapabilities(caps)
	out.Service = featureServiceType
	out.Version = featureVersion
	if out.ServiceIdentification != nil {
		out.ServiceIdentification.ServiceType = featureServiceType
		out.ServiceIdentification.ServiceTypeVersion = []string{featureVersion}
	}

	// The feature type list is informative; a catalog without types still
	// answers GetCapabilities.
	if types, err := s.catalog.DescribeType(r.Context(), domain.DescribeTypeRequest{}); err == nil {
		for _, t := range types.Types {
			out.FeatureTypes = append(out.FeatureTypes, featureTypeJSON{
				Name:         t.Name().String(),
				OutputSchema: t.OutputSchema(),
			})
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) wfsGetFeature(w http.ResponseWriter, r *http.Request, p kvp) {
	req, err := getFeatureRequest(p)
	if err != nil {
		s.writeException(w, r, err)
		return
	}
	res, err := s.catalog.Query(r.Context(), req)
	if err != nil {
		s.writeException(w, r, err)
		return
	}
	body, err := newFeatureCollection(res)
	if err != nil {
		s.writeException(w, r, domain.NoApplicableCode("encoding features", err))
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	s.encode(w, body)
}

// getFeatureRequest binds GetFeature parameters. startIndex is 0-based
// while catalog positions start at 1; bbox, resourceId and cql_filter are
// combined with AND.
func getFeatureRequest(p kvp) (domain.QueryRequest, error) {
	ns := p.namespaces()
	req := domain.QueryRequest{
		TypeNames:    p.qnames(ns, "typeNames", "typeName"),
		ElementNames: p.qnames(ns, "propertyName"),
		OutputSchema: p.get("outputSchema"),
	}
	if len(req.ElementNames) == 0 {
		req.ElementSet = domain.ElementSetFull
	}

	var err error
	if req.ResultType, err = domain.ParseResultType(p.get("resultType")); err != nil {
		return req, err
	}
	if req.MaxRecords, err = p.intValue("count"); err != nil {
		return req, err
	}
	if req.MaxRecords == nil {
		if req.MaxRecords, err = p.intValue("maxFeatures"); err != nil {
			return req, err
		}
	}
	start, err := p.intValue("startIndex")
	if err != nil {
		return req, err
	}
	if start != nil {
		if *start < 0 || *start == math.MaxInt {
			return req, domain.InvalidParameter("startIndex", "startIndex out of range, got %d", *start)
		}
		pos := *start + 1
		req.StartPosition = &pos
	}
	if req.SortBy, err = parseSortBy(p.get("sortBy"), "sortBy"); err != nil {
		return req, err
	}

	var filters []domain.Filter
	if raw := p.get("bbox"); raw != "" {
		b, err := parseBBox(raw)
		if err != nil {
			return req, err
		}
		filters = append(filters, domain.BBox("", b))
	}
	if ids := p.list("resourceId", "featureId"); len(ids) > 0 {
		filters = append(filters, &domain.IDFilter{IDs: ids})
	}
	if text := p.get("cql_filter"); text != "" {
		f, err := ParseCQL(text)
		if err != nil {
			return req, domain.InvalidParameter("cql_filter", "invalid CQL: %v", err)
		}
		filters = append(filters, f)
	}
	if p.get("filter") != "" {
		return req, domain.InvalidParameter("filter", "XML filters are not accepted, use cql_filter")
	}

	switch len(filters) {
	case 0:
	case 1:
		req.Filter = filters[0]
	default:
		req.Filter = &domain.And{Filters: filters}
	}
	return req, nil
}
