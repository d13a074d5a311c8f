package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/owsgate/internal/domain"
)

// exceptionReport is the body of every error response.
type exceptionReport struct {
	Version    string          `json:"version"`
	Exceptions []exceptionJSON `json:"exceptions"`
}

type exceptionJSON struct {
	Code    domain.ExceptionCode `json:"code"`
	Locator string               `json:"locator,omitempty"`
	Message string               `json:"message"`
}

// statusFor maps an error to the HTTP status of its exception report.
func statusFor(err error) int {
	var se *domain.ServiceError
	if errors.As(err, &se) {
		switch {
		case se.Code == domain.CodeNoSuchCoverage:
			return http.StatusNotFound
		case se.Code == domain.CodeOperationNotSupported, domain.IsUnsupported(err):
			return http.StatusNotImplemented
		case errors.Is(err, domain.ErrNoStore):
			return http.StatusServiceUnavailable
		case se.Code == domain.CodeNoApplicableCode:
			return http.StatusInternalServerError
		}
		return http.StatusBadRequest
	}
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnsupported):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

// exception converts any error into an exception. Errors that are not
// service errors become NoApplicableCode without leaking their text.
func exception(err error) exceptionJSON {
	var se *domain.ServiceError
	if errors.As(err, &se) {
		msg := se.Message
		if se.Code != domain.CodeNoApplicableCode || errors.Is(err, domain.ErrNoStore) || domain.IsUnsupported(err) {
			msg = se.Error()
		}
		return exceptionJSON{Code: se.Code, Locator: se.Locator, Message: msg}
	}
	return exceptionJSON{Code: domain.CodeNoApplicableCode, Message: "internal error"}
}

type recordJSON struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	TypeName   string            `json:"typeName"`
	BBox       []float64         `json:"bbox,omitempty"`
	Geometry   *geojson.Geometry `json:"geometry"`
	Properties map[string]any    `json:"properties"`
}

func newRecordJSON(r domain.Record) recordJSON {
	out := recordJSON{
		ID:         r.ID,
		Type:       "Feature",
		TypeName:   r.TypeName.String(),
		Properties: r.Properties,
	}
	if out.Properties == nil {
		out.Properties = map[string]any{}
	}
	if r.Geometry != nil {
		out.Geometry = geojson.NewGeometry(r.Geometry)
		out.BBox = boundJSON(r.Geometry.Bound())
	}
	return out
}

func boundJSON(b orb.Bound) []float64 {
	return []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
}

func collectRecords(c domain.Collection) ([]recordJSON, error) {
	out := make([]recordJSON, 0, c.Size())
	err := c.Each(func(r domain.Record) error {
		out = append(out, newRecordJSON(r))
		return nil
	})
	return out, err
}

type searchResultsJSON struct {
	Version       string             `json:"version"`
	SearchStatus  searchStatusJSON   `json:"searchStatus"`
	SearchResults searchResultDetail `json:"searchResults"`
}

type searchStatusJSON struct {
	Timestamp time.Time `json:"timestamp"`
}

type searchResultDetail struct {
	ResultType              domain.ResultType `json:"resultType"`
	ElementSet              domain.ElementSet `json:"elementSet"`
	RecordSchema            string            `json:"recordSchema,omitempty"`
	NumberOfRecordsMatched  int               `json:"numberOfRecordsMatched"`
	NumberOfRecordsReturned int               `json:"numberOfRecordsReturned"`
	NextRecord              int               `json:"nextRecord"`
	Records                 []recordJSON      `json:"records"`
}

func newSearchResults(res *domain.AggregateResult) (searchResultsJSON, error) {
	recs, err := collectRecords(res.Records)
	if err != nil {
		return searchResultsJSON{}, err
	}
	return searchResultsJSON{
		Version:      "2.0.2",
		SearchStatus: searchStatusJSON{Timestamp: res.Timestamp},
		SearchResults: searchResultDetail{
			ResultType:              res.ResultType,
			ElementSet:              res.ElementSet,
			RecordSchema:            res.OutputSchema,
			NumberOfRecordsMatched:  res.NumberMatched,
			NumberOfRecordsReturned: res.NumberReturned,
			NextRecord:              res.NextRecord,
			Records:                 recs,
		},
	}, nil
}

type featureCollectionJSON struct {
	Type           string       `json:"type"`
	NumberMatched  int          `json:"numberMatched"`
	NumberReturned int          `json:"numberReturned"`
	NextIndex      *int         `json:"nextIndex,omitempty"` // 0-based
	TimeStamp      time.Time    `json:"timeStamp"`
	Features       []recordJSON `json:"features"`
}

func newFeatureCollection(res *domain.AggregateResult) (featureCollectionJSON, error) {
	recs, err := collectRecords(res.Records)
	if err != nil {
		return featureCollectionJSON{}, err
	}
	fc := featureCollectionJSON{
		Type:           "FeatureCollection",
		NumberMatched:  res.NumberMatched,
		NumberReturned: res.NumberReturned,
		TimeStamp:      res.Timestamp,
		Features:       recs,
	}
	if res.NextRecord > 0 {
		next := res.NextRecord - 1
		fc.NextIndex = &next
	}
	return fc, nil
}

type attributeJSON struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Queryable bool   `json:"queryable"`
	Sortable  bool   `json:"sortable"`
	Multiple  bool   `json:"multiple,omitempty"`
}

type typeJSON struct {
	TypeName     string              `json:"typeName"`
	OutputSchema string              `json:"outputSchema"`
	Namespaces   map[string]string   `json:"namespaces,omitempty"`
	Attributes   []attributeJSON     `json:"attributes"`
	Queryables   []string            `json:"queryables"`
	ElementSets  map[string][]string `json:"elementSets,omitempty"`
}

func newTypeJSON(d domain.TypeDescriptor) typeJSON {
	t := typeJSON{
		TypeName:     d.Name().String(),
		OutputSchema: d.OutputSchema(),
		Namespaces:   d.Namespaces(),
		Queryables:   d.Queryables(),
	}
	for _, a := range d.Attributes() {
		t.Attributes = append(t.Attributes, attributeJSON{
			Name:      a.Name.String(),
			Type:      a.Kind.String(),
			Queryable: a.Queryable,
			Sortable:  a.Sortable,
			Multiple:  a.Multiple,
		})
	}
	for _, set := range []domain.ElementSet{domain.ElementSetBrief, domain.ElementSetSummary} {
		names := d.PropertiesForElementSet(set)
		if names == nil {
			continue
		}
		if t.ElementSets == nil {
			t.ElementSets = make(map[string][]string)
		}
		list := make([]string, len(names))
		for i, n := range names {
			list[i] = n.String()
		}
		t.ElementSets[string(set)] = list
	}
	return t
}

type describeJSON struct {
	SchemaLanguage string     `json:"schemaLanguage"`
	Types          []typeJSON `json:"types"`
}

func newDescribe(res *domain.DescribeResult) describeJSON {
	out := describeJSON{SchemaLanguage: res.SchemaLanguage, Types: make([]typeJSON, 0, len(res.Types))}
	for _, d := range res.Types {
		out.Types = append(out.Types, newTypeJSON(d))
	}
	return out
}

type domainJSON struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

func domainsJSON(in []domain.Domain) []domainJSON {
	if len(in) == 0 {
		return nil
	}
	out := make([]domainJSON, len(in))
	for i, d := range in {
		out[i] = domainJSON{Name: d.Name, Values: d.Values}
	}
	return out
}

type operationJSON struct {
	Name        string       `json:"name"`
	Get         string       `json:"get,omitempty"`
	Post        string       `json:"post,omitempty"`
	Parameters  []domainJSON `json:"parameters,omitempty"`
	Constraints []domainJSON `json:"constraints,omitempty"`
}

type capabilitiesJSON struct {
	Service               string                  `json:"service"`
	Version               string                  `json:"version"`
	ServiceIdentification *identificationJSON     `json:"serviceIdentification,omitempty"`
	ServiceProvider       *providerJSON           `json:"serviceProvider,omitempty"`
	OperationsMetadata    *operationsMetadataJSON `json:"operationsMetadata,omitempty"`
	FilterCapabilities    *filterCapabilitiesJSON `json:"filterCapabilities,omitempty"`
	ServiceMetadata       *serviceMetadataJSON    `json:"serviceMetadata,omitempty"`
	Contents              []coverageSummaryJSON   `json:"contents,omitempty"`
	FeatureTypes          []featureTypeJSON       `json:"featureTypes,omitempty"`
}

type identificationJSON struct {
	Title              string   `json:"title"`
	Abstract           string   `json:"abstract,omitempty"`
	Keywords           []string `json:"keywords,omitempty"`
	ServiceType        string   `json:"serviceType"`
	ServiceTypeVersion []string `json:"serviceTypeVersion"`
	Fees               string   `json:"fees,omitempty"`
	AccessConstraints  string   `json:"accessConstraints,omitempty"`
}

type providerJSON struct {
	Name    string      `json:"providerName"`
	Site    string      `json:"providerSite,omitempty"`
	Contact contactJSON `json:"serviceContact"`
}

type contactJSON struct {
	IndividualName string `json:"individualName,omitempty"`
	PositionName   string `json:"positionName,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Email          string `json:"electronicMailAddress,omitempty"`
	Address        string `json:"deliveryPoint,omitempty"`
	City           string `json:"city,omitempty"`
	Country        string `json:"country,omitempty"`
}

type filterCapabilitiesJSON struct {
	ComparisonOperators []string `json:"comparisonOperators"`
	SpatialOperators    []string `json:"spatialOperators"`
	GeometryOperands    []string `json:"geometryOperands"`
	IDCapabilities      bool     `json:"idCapabilities"`
}

type operationsMetadataJSON struct {
	Operations  []operationJSON `json:"operations"`
	Parameters  []domainJSON    `json:"parameters,omitempty"`
	Constraints []domainJSON    `json:"constraints,omitempty"`
}

type serviceMetadataJSON struct {
	FormatSupported []string `json:"formatSupported"`
}

type coverageSummaryJSON struct {
	CoverageID       string    `json:"coverageId"`
	CoverageSubtype  string    `json:"coverageSubtype"`
	WGS84BoundingBox []float64 `json:"wgs84BoundingBox"`
}

type featureTypeJSON struct {
	Name         string `json:"name"`
	OutputSchema string `json:"outputSchema"`
}

func newCapabilities(c *domain.Capabilities) capabilitiesJSON {
	out := capabilitiesJSON{Service: c.Service, Version: c.Version}
	if si := c.ServiceIdentification; si != nil {
		out.ServiceIdentification = &identificationJSON{
			Title:              si.Title,
			Abstract:           si.Abstract,
			Keywords:           si.Keywords,
			ServiceType:        si.ServiceType,
			ServiceTypeVersion: si.ServiceTypeVersion,
			Fees:               si.Fees,
			AccessConstraints:  si.AccessConstraints,
		}
	}
	if sp := c.ServiceProvider; sp != nil {
		out.ServiceProvider = &providerJSON{
			Name: sp.Name,
			Site: sp.Site,
			Contact: contactJSON{
				IndividualName: sp.Contact.IndividualName,
				PositionName:   sp.Contact.PositionName,
				Phone:          sp.Contact.Phone,
				Email:          sp.Contact.Email,
				Address:        sp.Contact.Address,
				City:           sp.Contact.City,
				Country:        sp.Contact.Country,
			},
		}
	}
	if fc := c.FilterCapabilities; fc != nil {
		out.FilterCapabilities = &filterCapabilitiesJSON{
			ComparisonOperators: fc.ComparisonOperators,
			SpatialOperators:    fc.SpatialOperators,
			GeometryOperands:    fc.GeometryOperands,
			IDCapabilities:      fc.IDCapabilities,
		}
	}
	if om := c.OperationsMetadata; om != nil {
		out.OperationsMetadata = &operationsMetadataJSON{
			Parameters:  domainsJSON(om.Parameters),
			Constraints: domainsJSON(om.Constraints),
		}
		for _, op := range om.Operations {
			out.OperationsMetadata.Operations = append(out.OperationsMetadata.Operations, operationJSON{
				Name:        op.Name,
				Get:         op.GetURL,
				Post:        op.PostURL,
				Parameters:  domainsJSON(op.Parameters),
				Constraints: domainsJSON(op.Constraints),
			})
		}
	}
	if c.ServiceMetadata != nil {
		out.ServiceMetadata = &serviceMetadataJSON{FormatSupported: c.ServiceMetadata}
	}
	for _, s := range c.Contents {
		out.Contents = append(out.Contents, coverageSummaryJSON{
			CoverageID:       s.ID,
			CoverageSubtype:  s.Subtype,
			WGS84BoundingBox: boundJSON(s.WGS84Bounds),
		})
	}
	return out
}

type bandJSON struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	NoData      *float64 `json:"nodata,omitempty"`
}

type coverageDescriptionJSON struct {
	CoverageID string      `json:"coverageId"`
	Title      string      `json:"title,omitempty"`
	CRS        string      `json:"crs"`
	Envelope   []float64   `json:"envelope"`
	GridSize   [2]int      `json:"gridSize"`
	Bands      []bandJSON  `json:"bands"`
	Times      []time.Time `json:"times,omitempty"`
	Elevations []float64   `json:"elevations,omitempty"`
	Formats    []string    `json:"formats"`
}

func newCoverageDescription(d domain.CoverageDescriptor) coverageDescriptionJSON {
	out := coverageDescriptionJSON{
		CoverageID: d.ID,
		Title:      d.Title,
		CRS:        d.CRS,
		Envelope:   boundJSON(d.Envelope),
		GridSize:   [2]int{d.Width, d.Height},
		Times:      d.Times,
		Elevations: d.Elevations,
		Formats:    d.Formats,
	}
	for _, b := range d.Bands {
		out.Bands = append(out.Bands, bandJSON{Name: b.Name, Description: b.Description, Unit: b.Unit, NoData: b.NoData})
	}
	return out
}

type coverageJSON struct {
	Type       string               `json:"type"`
	CoverageID string               `json:"coverageId"`
	CRS        string               `json:"crs"`
	Envelope   []float64            `json:"envelope"`
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	Time       *time.Time           `json:"time,omitempty"`
	Elevation  *float64             `json:"elevation,omitempty"`
	Ranges     map[string]rangeJSON `json:"ranges"`
}

type rangeJSON struct {
	Unit   string    `json:"unit,omitempty"`
	NoData *float64  `json:"nodata,omitempty"`
	Values []float64 `json:"values"`
}

func newCoverageJSON(c *domain.Coverage) coverageJSON {
	p := c.Plan
	out := coverageJSON{
		Type:       "Coverage",
		CoverageID: p.Coverage.ID,
		CRS:        p.Coverage.CRS,
		Envelope:   boundJSON(p.Envelope),
		Width:      p.TargetWidth,
		Height:     p.TargetHeight,
		Time:       p.Time,
		Elevation:  p.Elevation,
		Ranges:     make(map[string]rangeJSON, len(c.BandNames)),
	}
	for i, name := range c.BandNames {
		r := rangeJSON{Values: c.Data[i]}
		if idx := p.Coverage.BandIndex(name); idx >= 0 {
			r.Unit = p.Coverage.Bands[idx].Unit
			r.NoData = p.Coverage.Bands[idx].NoData
		}
		out.Ranges[name] = r
	}
	return out
}

// coverageEncoders render a read coverage in a response format.
var coverageEncoders = map[string]func(io.Writer, *domain.Coverage) error{
	"application/json": func(w io.Writer, c *domain.Coverage) error {
		return json.NewEncoder(w).Encode(newCoverageJSON(c))
	},
	"text/csv":   writeCoverageCSV,
	"text/plain": writeASCIIGrid,
}

// writeCoverageCSV writes one row per cell: column, row, then one value per
// band.
func writeCoverageCSV(w io.Writer, c *domain.Coverage) error {
	cw := csv.NewWriter(w)
	header := append([]string{"i", "j"}, c.BandNames...)
	if err := cw.Write(header); err != nil {
		return err
	}
	width := c.Plan.TargetWidth
	row := make([]string, len(header))
	for cell := 0; cell < width*c.Plan.TargetHeight; cell++ {
		row[0] = strconv.Itoa(cell % width)
		row[1] = strconv.Itoa(cell / width)
		for b := range c.Data {
			row[b+2] = strconv.FormatFloat(c.Data[b][cell], 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeASCIIGrid writes the first band as an ESRI ASCII grid.
func writeASCIIGrid(w io.Writer, c *domain.Coverage) error {
	if len(c.Data) != 1 {
		return domain.InvalidParameter("format", "text/plain holds a single band, got %d", len(c.Data))
	}
	p := c.Plan
	cellX := (p.Envelope.Max[0] - p.Envelope.Min[0]) / float64(p.TargetWidth)
	if _, err := fmt.Fprintf(w, "ncols %d\nnrows %d\nxllcorner %g\nyllcorner %g\ncellsize %g\n",
		p.TargetWidth, p.TargetHeight, p.Envelope.Min[0], p.Envelope.Min[1], cellX); err != nil {
		return err
	}
	if idx := p.Coverage.BandIndex(c.BandNames[0]); idx >= 0 && p.Coverage.Bands[idx].NoData != nil {
		if _, err := fmt.Fprintf(w, "NODATA_value %g\n", *p.Coverage.Bands[idx].NoData); err != nil {
			return err
		}
	}
	for y := 0; y < p.TargetHeight; y++ {
		for x := 0; x < p.TargetWidth; x++ {
			sep := " "
			if x == p.TargetWidth-1 {
				sep = "\n"
			}
			if _, err := fmt.Fprintf(w, "%g%s", c.Data[0][y*p.TargetWidth+x], sep); err != nil {
				return err
			}
		}
	}
	return nil
}

type transactionJSON struct {
	TotalInserted int      `json:"totalInserted"`
	TotalUpdated  int      `json:"totalUpdated"`
	TotalDeleted  int      `json:"totalDeleted"`
	InsertedIDs   []string `json:"insertedIds,omitempty"`
}

type downloadLinkJSON struct {
	ResourceID string `json:"resourceId"`
	FileID     string `json:"fileId"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	Href       string `json:"href"`
}
