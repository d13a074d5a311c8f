package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/jobrunner/owsgate/internal/application"
	"github.com/jobrunner/owsgate/internal/config"
	"github.com/jobrunner/owsgate/internal/domain"
	"github.com/jobrunner/owsgate/internal/ports/input"
)

// mockCatalog records the last request of each operation.
type mockCatalog struct {
	queryReq    domain.QueryRequest
	byIDReq     domain.QueryByIDRequest
	txReq       domain.TransactionRequest
	downloadReq domain.DirectDownloadRequest

	result   *domain.AggregateResult
	txResult *domain.TransactionResult
	download *input.Download
	err      error
}

func (m *mockCatalog) GetCapabilities(_ context.Context, req domain.CapabilitiesRequest) (*domain.Capabilities, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Capabilities{
		Service: "CSW",
		Version: "2.0.2",
		ServiceIdentification: &domain.ServiceIdentification{
			Title:              "Test catalogue",
			ServiceType:        "CSW",
			ServiceTypeVersion: []string{"2.0.2"},
		},
		OperationsMetadata: &domain.OperationsMetadata{
			Operations: []domain.Operation{{Name: "GetRecords", GetURL: req.BaseURL}},
		},
	}, nil
}

func (m *mockCatalog) DescribeType(_ context.Context, _ domain.DescribeTypeRequest) (*domain.DescribeResult, error) {
	return nil, domain.NoStore()
}

func (m *mockCatalog) Query(_ context.Context, req domain.QueryRequest) (*domain.AggregateResult, error) {
	m.queryReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockCatalog) QueryByID(_ context.Context, req domain.QueryByIDRequest) (*domain.AggregateResult, error) {
	m.byIDReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockCatalog) GetDomain(_ context.Context, req domain.DomainRequest) ([]domain.DomainValues, error) {
	return []domain.DomainValues{{ParameterName: req.ParameterNames[0], Values: []string{"a", "b"}}}, nil
}

func (m *mockCatalog) Transaction(_ context.Context, req domain.TransactionRequest) (*domain.TransactionResult, error) {
	m.txReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.txResult, nil
}

func (m *mockCatalog) Harvest(_ context.Context, _ domain.HarvestRequest) error {
	return domain.NotSupported("Harvest")
}

func (m *mockCatalog) DirectDownload(_ context.Context, req domain.DirectDownloadRequest) (*input.Download, error) {
	m.downloadReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.download, nil
}

type mockCoverage struct {
	req      domain.GetCoverageRequest
	coverage *domain.Coverage
	err      error
}

func (m *mockCoverage) GetCapabilities(_ context.Context, _ domain.CapabilitiesRequest) (*domain.Capabilities, error) {
	return &domain.Capabilities{Service: "WCS", Version: "2.0.1"}, nil
}

func (m *mockCoverage) DescribeCoverage(_ context.Context, req domain.DescribeCoverageRequest) ([]domain.CoverageDescriptor, error) {
	if len(req.CoverageIDs) == 0 {
		return nil, domain.MissingParameter("coverageId")
	}
	return []domain.CoverageDescriptor{testDescriptor()}, nil
}

func (m *mockCoverage) GetCoverage(_ context.Context, req domain.GetCoverageRequest) (*domain.Coverage, error) {
	m.req = req
	if m.err != nil {
		return nil, m.err
	}
	return m.coverage, nil
}

type mockHealth struct {
	healthy bool
	ready   bool
}

func (m *mockHealth) IsHealthy(_ context.Context) bool { return m.healthy }
func (m *mockHealth) IsReady(_ context.Context) bool   { return m.ready }
func (m *mockHealth) GetHealthDetails(_ context.Context) input.HealthDetails {
	return input.HealthDetails{
		Healthy:    m.healthy,
		Ready:      m.ready,
		Store:      "memory",
		Types:      2,
		Components: map[string]string{"store": "ok"},
	}
}

type mockSyncer struct {
	err error
}

func (m *mockSyncer) TriggerSync(_ context.Context) (application.SyncResult, error) {
	return application.SyncResult{SeedsTotal: 3, RecordsLoaded: 12}, m.err
}

type mockSeeds struct{}

func (mockSeeds) Seeds() []application.SeedInfo {
	return []application.SeedInfo{{Key: "seeds/a.json", Records: 4}}
}

func testDescriptor() domain.CoverageDescriptor {
	return domain.CoverageDescriptor{
		ID:       "dem",
		CRS:      "EPSG:4326",
		Envelope: orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{2, 1}},
		Width:    2,
		Height:   1,
		Bands:    []domain.Band{{Name: "height", Unit: "m"}},
		Formats:  []string{"application/json", "text/csv"},
	}
}

func testRecords() *domain.AggregateResult {
	typ := domain.QName{Space: domain.NamespaceCSW, Prefix: "csw", Local: "Record"}
	return &domain.AggregateResult{
		ResultType:     domain.ResultTypeResults,
		ElementSet:     domain.ElementSetSummary,
		NumberMatched:  12,
		NumberReturned: 2,
		NextRecord:     4,
		Timestamp:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Records: &domain.RecordSet{TypeName: typ, Records: []domain.Record{
			{ID: "r1", TypeName: typ, Properties: map[string]any{"title": "Rivers"}, Geometry: orb.Point{7, 46}},
			{ID: "r2", TypeName: typ, Properties: map[string]any{"title": "Lakes"}},
		}},
	}
}

func newTestServer(catalog *mockCatalog, coverage *mockCoverage) *Server {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := Services{
		Catalog: catalog,
		Health:  &mockHealth{healthy: true, ready: true},
		Sync:    &mockSyncer{},
		Seeds:   mockSeeds{},
	}
	if coverage != nil {
		svc.Coverage = coverage
	}
	return NewServer(config.ServerConfig{
		Host:    "localhost",
		Port:    8080,
		BaseURL: "https://ows.example.com/",
	}, svc, logger)
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", rr.Body.String(), err)
	}
	return resp
}

func firstException(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	resp := decodeBody(t, rr)
	list, ok := resp["exceptions"].([]interface{})
	if !ok || len(list) == 0 {
		t.Fatalf("response has no exceptions: %s", rr.Body.String())
	}
	return list[0].(map[string]interface{})
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(&mockCatalog{}, nil)

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	resp := decodeBody(t, rr)
	if resp["status"] != "ok" || resp["store"] != "memory" || resp["types"] != float64(2) {
		t.Errorf("unexpected health body: %v", resp)
	}

	for _, path := range []string{"/health/live", "/health/ready"} {
		if rr := serve(srv, httptest.NewRequest(http.MethodGet, path, nil)); rr.Code != http.StatusOK {
			t.Errorf("%s status = %d, want %d", path, rr.Code, http.StatusOK)
		}
	}
}

func TestHandleReadinessNotReady(t *testing.T) {
	srv := newTestServer(&mockCatalog{}, nil)
	srv.health = &mockHealth{healthy: true, ready: false}

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(&mockCatalog{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	if got := serve(srv, req).Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want propagated value", got)
	}

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("a request id should be generated")
	}
}

func TestCSWGetCapabilities(t *testing.T) {
	srv := newTestServer(&mockCatalog{}, nil)

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/csw?service=CSW&request=GetCapabilities", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeBody(t, rr)
	if resp["service"] != "CSW" || resp["version"] != "2.0.2" {
		t.Errorf("service/version = %v/%v", resp["service"], resp["version"])
	}
	ops := resp["operationsMetadata"].(map[string]interface{})["operations"].([]interface{})
	if get := ops[0].(map[string]interface{})["get"]; get != "https://ows.example.com/csw" {
		t.Errorf("operation endpoint = %v, want public base URL", get)
	}
}

func TestCSWGetRecords(t *testing.T) {
	catalog := &mockCatalog{result: testRecords()}
	srv := newTestServer(catalog, nil)

	q := url.Values{}
	q.Set("service", "CSW")
	q.Set("request", "GetRecords")
	q.Set("typeNames", "csw:Record")
	q.Set("resultType", "results")
	q.Set("maxRecords", "2")
	q.Set("startPosition", "2")
	q.Set("sortBy", "dc:title:D")
	q.Set("constraintLanguage", "CQL_TEXT")
	q.Set("constraint", "title LIKE '%river%'")

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/csw?"+q.Encode(), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	req := catalog.queryReq
	if len(req.TypeNames) != 1 || req.TypeNames[0].Space != domain.NamespaceCSW || req.TypeNames[0].Local != "Record" {
		t.Errorf("TypeNames = %v", req.TypeNames)
	}
	if req.ElementSet != domain.ElementSetSummary {
		t.Errorf("ElementSet = %q, want summary by default", req.ElementSet)
	}
	if req.MaxRecords == nil || *req.MaxRecords != 2 || req.StartPosition == nil || *req.StartPosition != 2 {
		t.Errorf("paging = %v/%v", req.MaxRecords, req.StartPosition)
	}
	if len(req.SortBy) != 1 || req.SortBy[0].Property != "dc:title" || !req.SortBy[0].Descending {
		t.Errorf("SortBy = %v", req.SortBy)
	}
	if _, ok := req.Filter.(*domain.Like); !ok {
		t.Errorf("Filter = %T, want *domain.Like", req.Filter)
	}

	results := decodeBody(t, rr)["searchResults"].(map[string]interface{})
	if results["numberOfRecordsMatched"] != float64(12) || results["nextRecord"] != float64(4) {
		t.Errorf("searchResults = %v", results)
	}
	records := results["records"].([]interface{})
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	first := records[0].(map[string]interface{})
	if first["id"] != "r1" || first["typeName"] != "csw:Record" || first["geometry"] == nil {
		t.Errorf("first record = %v", first)
	}
	if second := records[1].(map[string]interface{}); second["geometry"] != nil {
		t.Errorf("record without geometry should encode null, got %v", second["geometry"])
	}
}

func TestCSWGetRecordsFormPost(t *testing.T) {
	catalog := &mockCatalog{result: testRecords()}
	srv := newTestServer(catalog, nil)

	form := url.Values{}
	form.Set("service", "CSW")
	form.Set("request", "GetRecords")
	form.Set("typeNames", "csw:Record")
	form.Set("ElementSetName", "brief")
	req := httptest.NewRequest(http.MethodPost, "/csw", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rr := serve(srv, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if catalog.queryReq.ElementSet != domain.ElementSetBrief {
		t.Errorf("ElementSet = %q, want brief", catalog.queryReq.ElementSet)
	}
}

func TestCSWExceptions(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		err        error
		wantStatus int
		wantCode   domain.ExceptionCode
		wantLoc    string
	}{
		{
			name:       "missing request",
			url:        "/csw?service=CSW",
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.CodeMissingParameterValue,
			wantLoc:    "request",
		},
		{
			name:       "unknown request",
			url:        "/csw?service=CSW&request=Frobnicate",
			wantStatus: http.StatusNotImplemented,
			wantCode:   domain.CodeOperationNotSupported,
			wantLoc:    "Frobnicate",
		},
		{
			name:       "wrong service",
			url:        "/csw?service=WMS&request=GetCapabilities",
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.CodeInvalidParameterValue,
			wantLoc:    "service",
		},
		{
			name:       "bad constraint",
			url:        "/csw?request=GetRecords&typeNames=csw:Record&constraint=" + url.QueryEscape("title = "),
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.CodeInvalidParameterValue,
			wantLoc:    "constraint",
		},
		{
			name:       "xml filter constraint",
			url:        "/csw?request=GetRecords&constraintLanguage=FILTER&constraint=x",
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.CodeInvalidParameterValue,
			wantLoc:    "constraintLanguage",
		},
		{
			name:       "bad element set",
			url:        "/csw?request=GetRecords&ElementSetName=huge",
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.CodeInvalidParameterValue,
			wantLoc:    "ElementSetName",
		},
		{
			name:       "bad maxRecords",
			url:        "/csw?request=GetRecords&maxRecords=ten",
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.CodeInvalidParameterValue,
			wantLoc:    "maxRecords",
		},
		{
			name:       "planner rejection",
			url:        "/csw?request=GetRecords&typeNames=csw:Nope",
			err:        domain.InvalidParameter("typeNames", "unknown type"),
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.CodeInvalidParameterValue,
			wantLoc:    "typeNames",
		},
		{
			name:       "no store",
			url:        "/csw?request=GetRecords&typeNames=csw:Record",
			err:        domain.NoStore(),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   domain.CodeNoApplicableCode,
		},
		{
			name:       "harvest not supported",
			url:        "/csw?request=Harvest&source=http://x",
			wantStatus: http.StatusNotImplemented,
			wantCode:   domain.CodeNoApplicableCode,
		},
		{
			name:       "internal failure",
			url:        "/csw?request=GetRecords&typeNames=csw:Record",
			err:        errors.New("disk on fire"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   domain.CodeNoApplicableCode,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&mockCatalog{err: tt.err, result: testRecords()}, nil)
			rr := serve(srv, httptest.NewRequest(http.MethodGet, tt.url, nil))
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			exc := firstException(t, rr)
			if exc["code"] != string(tt.wantCode) {
				t.Errorf("code = %v, want %s", exc["code"], tt.wantCode)
			}
			if tt.wantLoc != "" && exc["locator"] != tt.wantLoc {
				t.Errorf("locator = %v, want %s", exc["locator"], tt.wantLoc)
			}
			if strings.Contains(rr.Body.String(), "disk on fire") {
				t.Error("internal error text must not reach the client")
			}
		})
	}
}

func TestCSWGetRecordByID(t *testing.T) {
	catalog := &mockCatalog{result: testRecords()}
	srv := newTestServer(catalog, nil)

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/csw?request=GetRecordById&id=r1,r2&ElementSetName=full", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if got := catalog.byIDReq.IDs; len(got) != 2 || got[1] != "r2" {
		t.Errorf("IDs = %v", got)
	}
	if catalog.byIDReq.ElementSet != domain.ElementSetFull {
		t.Errorf("ElementSet = %q, want full", catalog.byIDReq.ElementSet)
	}
	if records := decodeBody(t, rr)["records"].([]interface{}); len(records) != 2 {
		t.Errorf("records = %d, want 2", len(records))
	}
}

func TestCSWGetDomain(t *testing.T) {
	srv := newTestServer(&mockCatalog{}, nil)

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/csw?request=GetDomain&parameterName=GetRecords.resultType", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	values := decodeBody(t, rr)["domainValues"].([]interface{})
	first := values[0].(map[string]interface{})
	if first["parameterName"] != "GetRecords.resultType" || len(first["values"].([]interface{})) != 2 {
		t.Errorf("domainValues = %v", values)
	}
}

func TestCSWTransactionDocument(t *testing.T) {
	catalog := &mockCatalog{txResult: &domain.TransactionResult{Inserted: 1, Deleted: 2, InsertedIDs: []string{"new-1"}}}
	srv := newTestServer(catalog, nil)

	body := `{"request": "Transaction", "actions": [
		{"kind": "insert", "typeName": "csw:Record", "records": [
			{"id": "new-1", "properties": {"title": "Glaciers", "year": 2024}, "geometry": {"type": "Point", "coordinates": [8, 46]}}
		]},
		{"kind": "delete", "typeName": "csw:Record", "constraint": "year < 2000"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/csw", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	rr := serve(srv, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	actions := catalog.txReq.Actions
	if len(actions) != 2 {
		t.Fatalf("actions = %d, want 2", len(actions))
	}
	insert := actions[0]
	if insert.Kind != domain.TransactionInsert || insert.TypeName.Space != domain.NamespaceCSW {
		t.Errorf("insert action = %+v", insert)
	}
	rec := insert.Records[0]
	if rec.Properties["year"] != 2024.0 {
		t.Errorf("year = %#v, want float64", rec.Properties["year"])
	}
	if p, ok := rec.Geometry.(orb.Point); !ok || !p.Equal(orb.Point{8, 46}) {
		t.Errorf("Geometry = %#v", rec.Geometry)
	}
	if _, ok := actions[1].Filter.(*domain.Comparison); !ok {
		t.Errorf("delete filter = %T, want *domain.Comparison", actions[1].Filter)
	}

	resp := decodeBody(t, rr)
	if resp["totalInserted"] != float64(1) || resp["totalDeleted"] != float64(2) {
		t.Errorf("summary = %v", resp)
	}
}

func TestCSWTransactionDocumentErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"malformed", `{"request":`, http.StatusBadRequest},
		{"other request", `{"request": "GetRecords"}`, http.StatusNotImplemented},
		{"unknown action", `{"request": "Transaction", "actions": [{"kind": "upsert", "typeName": "csw:Record"}]}`, http.StatusBadRequest},
		{"bad geometry", `{"request": "Transaction", "actions": [{"kind": "insert", "typeName": "csw:Record", "records": [{"geometry": {"type": "Blob"}}]}]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&mockCatalog{}, nil)
			req := httptest.NewRequest(http.MethodPost, "/csw", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if rr := serve(srv, req); rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
		})
	}
}

func TestCSWDirectDownload(t *testing.T) {
	t.Run("listing", func(t *testing.T) {
		catalog := &mockCatalog{download: &input.Download{Links: []domain.DownloadLink{
			{ResourceID: "r1", FileID: "f1", Name: "data.zip", Size: 42},
		}}}
		srv := newTestServer(catalog, nil)

		rr := serve(srv, httptest.NewRequest(http.MethodGet, "/csw?request=DirectDownload&resourceId=r1", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
		}
		files := decodeBody(t, rr)["files"].([]interface{})
		href, _ := files[0].(map[string]interface{})["href"].(string)
		if !strings.HasPrefix(href, "https://ows.example.com/csw?") || !strings.Contains(href, "fileId=f1") {
			t.Errorf("href = %q", href)
		}
	})

	t.Run("file", func(t *testing.T) {
		catalog := &mockCatalog{download: &input.Download{
			Name:   "data.zip",
			Size:   5,
			Reader: io.NopCloser(strings.NewReader("hello")),
		}}
		srv := newTestServer(catalog, nil)

		rr := serve(srv, httptest.NewRequest(http.MethodGet, "/csw?request=DirectDownload&resourceId=r1&fileId=f1", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
		}
		if catalog.downloadReq.FileID != "f1" {
			t.Errorf("FileID = %q", catalog.downloadReq.FileID)
		}
		if rr.Body.String() != "hello" {
			t.Errorf("body = %q", rr.Body.String())
		}
		if cd := rr.Header().Get("Content-Disposition"); cd != `attachment; filename=data.zip` {
			t.Errorf("Content-Disposition = %q", cd)
		}
	})
}

func TestWFSGetFeature(t *testing.T) {
	catalog := &mockCatalog{result: testRecords()}
	srv := newTestServer(catalog, nil)

	q := url.Values{}
	q.Set("service", "WFS")
	q.Set("request", "GetFeature")
	q.Set("typeNames", "csw:Record")
	q.Set("count", "2")
	q.Set("startIndex", "1")
	q.Set("bbox", "5,45,10,50")
	q.Set("cql_filter", "title = 'Rivers'")

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/wfs?"+q.Encode(), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("Content-Type = %q", ct)
	}

	req := catalog.queryReq
	if req.MaxRecords == nil || *req.MaxRecords != 2 {
		t.Errorf("MaxRecords = %v, want 2", req.MaxRecords)
	}
	if req.StartPosition == nil || *req.StartPosition != 2 {
		t.Errorf("StartPosition = %v, want 2 for startIndex 1", req.StartPosition)
	}
	and, ok := req.Filter.(*domain.And)
	if !ok || len(and.Filters) != 2 {
		t.Fatalf("Filter = %#v, want AND of bbox and cql", req.Filter)
	}
	if s, ok := and.Filters[0].(*domain.Spatial); !ok || s.Op != domain.OpBBOX || s.Property != "" {
		t.Errorf("first filter = %#v, want BBOX on the default geometry", and.Filters[0])
	}

	resp := decodeBody(t, rr)
	if resp["type"] != "FeatureCollection" || resp["numberMatched"] != float64(12) {
		t.Errorf("collection = %v", resp)
	}
	if resp["nextIndex"] != float64(3) {
		t.Errorf("nextIndex = %v, want 3", resp["nextIndex"])
	}
}

func TestWFSGetFeatureErrors(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantLoc string
	}{
		{"negative start", "/wfs?request=GetFeature&typeNames=csw:Record&startIndex=-1", "startIndex"},
		{"largest start", "/wfs?request=GetFeature&typeNames=csw:Record&startIndex=" + strconv.Itoa(math.MaxInt), "startIndex"},
		{"bad bbox", "/wfs?request=GetFeature&typeNames=csw:Record&bbox=1,2,3", "bbox"},
		{"xml filter", "/wfs?request=GetFeature&typeNames=csw:Record&filter=%3CFilter/%3E", "filter"},
		{"bad cql", "/wfs?request=GetFeature&typeNames=csw:Record&cql_filter=" + url.QueryEscape("a >"), "cql_filter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&mockCatalog{result: testRecords()}, nil)
			rr := serve(srv, httptest.NewRequest(http.MethodGet, tt.url, nil))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
			}
			if exc := firstException(t, rr); exc["locator"] != tt.wantLoc {
				t.Errorf("locator = %v, want %s", exc["locator"], tt.wantLoc)
			}
		})
	}
}

func TestWFSGetCapabilities(t *testing.T) {
	srv := newTestServer(&mockCatalog{}, nil)

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/wfs?service=WFS&request=GetCapabilities", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	resp := decodeBody(t, rr)
	if resp["service"] != "WFS" || resp["version"] != "2.0.0" {
		t.Errorf("service/version = %v/%v", resp["service"], resp["version"])
	}
	ident := resp["serviceIdentification"].(map[string]interface{})
	if ident["serviceType"] != "WFS" {
		t.Errorf("serviceType = %v", ident["serviceType"])
	}
}

func TestWCSDisabled(t *testing.T) {
	srv := newTestServer(&mockCatalog{}, nil)
	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/wcs?request=GetCapabilities", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestWCSGetCoverage(t *testing.T) {
	desc := testDescriptor()
	coverage := &mockCoverage{coverage: &domain.Coverage{
		Plan: domain.CoverageReadPlan{
			Coverage:     desc,
			Envelope:     desc.Envelope,
			TargetWidth:  2,
			TargetHeight: 1,
			Format:       "text/csv",
		},
		BandNames: []string{"height"},
		Data:      [][]float64{{1.5, 2}},
	}}
	srv := newTestServer(&mockCatalog{}, coverage)

	q := url.Values{}
	q.Set("service", "WCS")
	q.Set("request", "GetCoverage")
	q.Set("coverageId", "dem")
	q.Add("subset", "Long(0,2)")
	q.Add("subset", `time("2024-01-01")`)
	q.Set("scaleSize", "i(2),j(1)")
	q.Set("rangeSubset", "height,a:b")
	q.Set("format", "text/csv")

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/wcs?"+q.Encode(), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q", ct)
	}
	if want := "i,j,height\n0,0,1.5\n1,0,2\n"; rr.Body.String() != want {
		t.Errorf("body = %q, want %q", rr.Body.String(), want)
	}

	req := coverage.req
	if req.CoverageID != "dem" || req.Format != "text/csv" {
		t.Errorf("request = %+v", req)
	}
	if len(req.Subsets) != 2 {
		t.Fatalf("Subsets = %v", req.Subsets)
	}
	for _, s := range req.Subsets {
		switch s.Axis {
		case "Long":
			if s.Low != "0" || s.High != "2" {
				t.Errorf("Long subset = %+v", s)
			}
		case "time":
			if s.Point != "2024-01-01" {
				t.Errorf("time subset = %+v", s)
			}
		default:
			t.Errorf("unexpected axis %q", s.Axis)
		}
	}
	if req.Scaling == nil || req.Scaling.Kind != domain.ScaleToSize || len(req.Scaling.Axes) != 2 || req.Scaling.Axes[1].Size != 1 {
		t.Errorf("Scaling = %+v", req.Scaling)
	}
	if len(req.RangeSubset) != 2 || req.RangeSubset[0].Component != "height" || req.RangeSubset[1].Start != "a" {
		t.Errorf("RangeSubset = %+v", req.RangeSubset)
	}
}

func TestWCSGetCoverageErrors(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		format     string
		err        error
		wantStatus int
		wantCode   domain.ExceptionCode
	}{
		{
			name:       "missing coverage id",
			query:      "request=GetCoverage",
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.CodeMissingParameterValue,
		},
		{
			name:       "malformed subset",
			query:      "request=GetCoverage&coverageId=dem&subset=Long",
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.CodeInvalidSubsetting,
		},
		{
			name:       "two scaling parameters",
			query:      "request=GetCoverage&coverageId=dem&scaleFactor=2&scaleSize=i(1),j(1)",
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.CodeInvalidParameterValue,
		},
		{
			name:       "bad scale factor",
			query:      "request=GetCoverage&coverageId=dem&scaleFactor=big",
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.CodeInvalidScaleFactor,
		},
		{
			name:       "no such coverage",
			query:      "request=GetCoverage&coverageId=nope",
			err:        domain.CoverageError(domain.CodeNoSuchCoverage, "nope", "no coverage nope"),
			wantStatus: http.StatusNotFound,
			wantCode:   domain.CodeNoSuchCoverage,
		},
		{
			name:       "encoding unavailable",
			query:      "request=GetCoverage&coverageId=dem",
			format:     "image/tiff",
			wantStatus: http.StatusNotImplemented,
			wantCode:   domain.CodeInvalidParameterValue,
		},
		{
			name:       "ascii grid needs one band",
			query:      "request=GetCoverage&coverageId=dem",
			format:     "text/plain",
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.CodeInvalidParameterValue,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := testDescriptor()
			format := tt.format
			if format == "" {
				format = "application/json"
			}
			coverage := &mockCoverage{err: tt.err, coverage: &domain.Coverage{
				Plan:      domain.CoverageReadPlan{Coverage: desc, Envelope: desc.Envelope, TargetWidth: 1, TargetHeight: 1, Format: format},
				BandNames: []string{"a", "b"},
				Data:      [][]float64{{1}, {2}},
			}}
			srv := newTestServer(&mockCatalog{}, coverage)

			rr := serve(srv, httptest.NewRequest(http.MethodGet, "/wcs?"+tt.query, nil))
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if exc := firstException(t, rr); exc["code"] != string(tt.wantCode) {
				t.Errorf("code = %v, want %s", exc["code"], tt.wantCode)
			}
		})
	}
}

func TestWCSDescribeCoverage(t *testing.T) {
	srv := newTestServer(&mockCatalog{}, &mockCoverage{})

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/wcs?service=WCS&request=DescribeCoverage&coverageId=dem", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	descs := decodeBody(t, rr)["coverageDescriptions"].([]interface{})
	first := descs[0].(map[string]interface{})
	if first["coverageId"] != "dem" || first["crs"] != "EPSG:4326" {
		t.Errorf("description = %v", first)
	}
}

func TestHandleSync(t *testing.T) {
	srv := newTestServer(&mockCatalog{}, nil)

	rr := serve(srv, httptest.NewRequest(http.MethodPost, "/admin/sync", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if resp := decodeBody(t, rr); resp["records_loaded"] != float64(12) {
		t.Errorf("records_loaded = %v", resp["records_loaded"])
	}

	srv.sync = &mockSyncer{err: application.ErrRateLimited}
	rr = serve(srv, httptest.NewRequest(http.MethodPost, "/admin/sync", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
	if rr.Header().Get("Retry-After") != "30" {
		t.Errorf("Retry-After = %q", rr.Header().Get("Retry-After"))
	}
}

func TestHandleSeeds(t *testing.T) {
	srv := newTestServer(&mockCatalog{}, nil)

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/admin/seeds", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if resp := decodeBody(t, rr); resp["count"] != float64(1) {
		t.Errorf("count = %v, want 1", resp["count"])
	}
}
