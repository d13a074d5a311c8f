package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"bytes"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/jobrunner/owsgate/internal/domain"
)

// handleWCS serves coverage requests.
func (s *Server) handleWCS(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	p, err := requestKVP(r)
	if err == nil {
		err = checkService(p, "WCS")
	}
	if err != nil {
		s.writeException(w, r, err)
		return
	}

	switch request := p.get("request"); strings.ToLower(request) {
	case "getcapabilities":
		caps, err := s.coverage.GetCapabilities(r.Context(), domain.CapabilitiesRequest{
			AcceptVersions: p.list("acceptVersions"),
			Sections:       p.list("sections"),
			BaseURL:        s.serviceURL("/wcs"),
		})
		if err != nil {
			s.writeException(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, newCapabilities(caps))
	case "describecoverage":
		descs, err := s.coverage.DescribeCoverage(r.Context(), domain.DescribeCoverageRequest{
			CoverageIDs: p.list("coverageId", "identifiers"),
		})
		if err != nil {
			s.writeException(w, r, err)
			return
		}
		out := make([]coverageDescriptionJSON, 0, len(descs))
		for _, d := range descs {
			out = append(out, newCoverageDescription(d))
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"coverageDescriptions": out})
	case "getcoverage":
		s.wcsGetCoverage(w, r, p)
	case "":
		s.writeException(w, r, domain.MissingParameter("request"))
	default:
		s.writeException(w, r, operationNotSupported(request))
	}
}

func (s *Server) wcsGetCoverage(w http.ResponseWriter, r *http.Request, p kvp) {
	values := r.URL.Query()
	if r.Method == http.MethodPost {
		values = r.Form
	}
	req, err := getCoverageRequest(p, values)
	if err != nil {
		s.writeException(w, r, err)
		return
	}
	cov, err := s.coverage.GetCoverage(r.Context(), req)
	if err != nil {
		s.writeException(w, r, err)
		return
	}

	enc, ok := coverageEncoders[cov.Plan.Format]
	if !ok {
		s.writeException(w, r, &domain.ServiceError{
			Code:    domain.CodeInvalidParameterValue,
			Locator: "format",
			Message: "coverage encoding " + cov.Plan.Format + " is not available",
			Err:     domain.ErrUnsupported,
		})
		return
	}
	var buf bytes.Buffer
	if err := enc(&buf, cov); err != nil {
		s.writeException(w, r, err)
		return
	}
	w.Header().Set("Content-Type", cov.Plan.Format)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Debug("writing coverage failed", "coverage", req.CoverageID, "error", err)
	}
}

// getCoverageRequest binds GetCoverage parameters. SUBSET may repeat, so it
// is read from the raw values.
func getCoverageRequest(p kvp, values url.Values) (domain.GetCoverageRequest, error) {
	req := domain.GetCoverageRequest{
		CoverageID: p.get("coverageId"),
		Format:     p.get("format"),
	}
	if req.CoverageID == "" {
		return req, domain.MissingParameter("coverageId")
	}

	for k, vs := range values {
		if !strings.EqualFold(k, "subset") {
			continue
		}
		for _, v := range vs {
			sub, err := parseSubset(v)
			if err != nil {
				return req, err
			}
			req.Subsets = append(req.Subsets, sub)
		}
	}

	sc, err := parseScaling(p)
	if err != nil {
		return req, err
	}
	req.Scaling = sc

	for _, item := range p.list("rangeSubset") {
		if start, end, ok := strings.Cut(item, ":"); ok {
			req.RangeSubset = append(req.RangeSubset, domain.RangeItem{
				Start: strings.TrimSpace(start),
				End:   strings.TrimSpace(end),
			})
			continue
		}
		req.RangeSubset = append(req.RangeSubset, domain.RangeItem{Component: item})
	}
	return req, nil
}

// parseSubset parses axis(low,high) or axis(point). An optional CRS after
// the axis label, as in Lat,http://...(10,20), is dropped.
func parseSubset(v string) (domain.DimensionSubset, error) {
	open := strings.LastIndex(v, "(")
	if open <= 0 || !strings.HasSuffix(v, ")") {
		return domain.DimensionSubset{}, domain.CoverageError(domain.CodeInvalidSubsetting, v,
			"subset must look like axis(low,high) or axis(point)")
	}
	axis, _, _ := strings.Cut(v[:open], ",")
	sub := domain.DimensionSubset{Axis: strings.TrimSpace(axis)}
	args := strings.Split(v[open+1:len(v)-1], ",")
	switch len(args) {
	case 1:
		sub.Point = unquote(args[0])
	case 2:
		sub.Low, sub.High = unquote(args[0]), unquote(args[1])
	default:
		return domain.DimensionSubset{}, domain.CoverageError(domain.CodeInvalidSubsetting, v,
			"subset takes one or two values")
	}
	if sub.Axis == "" || (len(args) == 1 && sub.Point == "") {
		return domain.DimensionSubset{}, domain.CoverageError(domain.CodeInvalidSubsetting, v, "empty subset")
	}
	return sub, nil
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}

var axisValuePattern = regexp.MustCompile(`([^(),\s]+)\(([^)]*)\)`)

// parseScaling reads the scaling extension. At most one of scaleFactor,
// scaleAxes, scaleSize and scaleExtent may be given.
func parseScaling(p kvp) (*domain.Scaling, error) {
	var sc *domain.Scaling
	set := func(next *domain.Scaling, name string) error {
		if sc != nil {
			return domain.InvalidParameter(name, "only one scaling parameter may be given")
		}
		sc = next
		return nil
	}

	if raw := p.get("scaleFactor"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, domain.CoverageError(domain.CodeInvalidScaleFactor, raw, "invalid scale factor")
		}
		if err := set(&domain.Scaling{Kind: domain.ScaleByFactor, Factor: f}, "scaleFactor"); err != nil {
			return nil, err
		}
	}

	kinds := []struct {
		name  string
		kind  domain.ScalingKind
		parse func(axis, value string) (domain.AxisScale, error)
	}{
		{"scaleAxes", domain.ScaleAxesByFactor, func(axis, value string) (domain.AxisScale, error) {
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return domain.AxisScale{}, domain.CoverageError(domain.CodeInvalidScaleFactor, value, "invalid scale factor")
			}
			return domain.AxisScale{Axis: axis, Factor: f}, nil
		}},
		{"scaleSize", domain.ScaleToSize, func(axis, value string) (domain.AxisScale, error) {
			n, err := strconv.Atoi(value)
			if err != nil {
				return domain.AxisScale{}, domain.CoverageError(domain.CodeInvalidExtent, value, "invalid size")
			}
			return domain.AxisScale{Axis: axis, Size: n}, nil
		}},
		{"scaleExtent", domain.ScaleToExtent, func(axis, value string) (domain.AxisScale, error) {
			low, high, ok := strings.Cut(value, ":")
			lo, err1 := strconv.Atoi(strings.TrimSpace(low))
			hi, err2 := strconv.Atoi(strings.TrimSpace(high))
			if !ok || err1 != nil || err2 != nil {
				return domain.AxisScale{}, domain.CoverageError(domain.CodeInvalidExtent, value, "extent must be low:high")
			}
			return domain.AxisScale{Axis: axis, Low: lo, High: hi}, nil
		}},
	}
	for _, k := range kinds {
		raw := p.get(k.name)
		if raw == "" {
			continue
		}
		matches := axisValuePattern.FindAllStringSubmatch(raw, -1)
		if len(matches) == 0 {
			return nil, domain.InvalidParameter(k.name, "expected axis(value) pairs, got %q", raw)
		}
		next := &domain.Scaling{Kind: k.kind}
		for _, m := range matches {
			a, err := k.parse(m[1], strings.TrimSpace(m[2]))
			if err != nil {
				return nil, err
			}
			next.Axes = append(next.Axes, a)
		}
		if err := set(next, k.name); err != nil {
			return nil, err
		}
	}
	return sc, nil
}
