package application

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/jobrunner/owsgate/internal/domain"
	"github.com/jobrunner/owsgate/internal/ports/output"
	"github.com/jobrunner/owsgate/internal/records"
)

func newTestCatalog(t *testing.T, store output.CatalogStore, logger *slog.Logger) *CatalogService {
	t.Helper()
	if logger == nil {
		logger = quietLogger()
	}
	svc, err := NewCatalogService(context.Background(), store, nil, nil, logger,
		CatalogServiceConfig{Service: testServiceInfo()})
	if err != nil {
		t.Fatalf("NewCatalogService() error = %v", err)
	}
	return svc
}

func TestCatalogServiceWithoutStore(t *testing.T) {
	h := &captureHandler{}
	svc := newTestCatalog(t, nil, slog.New(h))
	ctx := context.Background()

	if _, err := svc.GetCapabilities(ctx, domain.CapabilitiesRequest{}); err != nil {
		t.Errorf("GetCapabilities() error = %v", err)
	}

	calls := []struct {
		name string
		call func() error
	}{
		{"DescribeRecord", func() error { _, err := svc.DescribeType(ctx, domain.DescribeTypeRequest{}); return err }},
		{"GetRecords", func() error { _, err := svc.Query(ctx, domain.QueryRequest{}); return err }},
		{"GetRecordById", func() error {
			_, err := svc.QueryByID(ctx, domain.QueryByIDRequest{IDs: []string{"x"}})
			return err
		}},
		{"GetDomain", func() error {
			_, err := svc.GetDomain(ctx, domain.DomainRequest{PropertyNames: []string{"dc:title"}})
			return err
		}},
		{"Transaction", func() error { _, err := svc.Transaction(ctx, domain.TransactionRequest{}); return err }},
		{"Harvest", func() error { return svc.Harvest(ctx, domain.HarvestRequest{}) }},
	}

	for _, c := range calls {
		t.Run(c.name, func(t *testing.T) {
			err := c.call()
			if !errors.Is(err, domain.ErrNoStore) {
				t.Errorf("error = %v, want ErrNoStore", err)
			}
		})
	}

	if got := len(h.find(slog.LevelError, "operation rejected")); got != len(calls) {
		t.Errorf("logged %d rejections, want %d", got, len(calls))
	}
}

func TestCatalogServiceUnsupportedOperations(t *testing.T) {
	h := &captureHandler{}
	svc := newTestCatalog(t, twoTypeStore(1, 1), slog.New(h))
	ctx := context.Background()

	err := svc.Harvest(ctx, domain.HarvestRequest{Source: "http://example.com/csw"})
	if !domain.IsUnsupported(err) {
		t.Errorf("Harvest() error = %v, want unsupported", err)
	}

	_, err = svc.Transaction(ctx, domain.TransactionRequest{Actions: []domain.TransactionAction{
		{Kind: domain.TransactionDelete, TypeName: records.RecordType, Filter: domain.Include{}},
	}})
	if !domain.IsUnsupported(err) {
		t.Errorf("Transaction() error = %v, want unsupported", err)
	}

	_, err = svc.DirectDownload(ctx, domain.DirectDownloadRequest{ResourceID: "r"})
	if !domain.IsUnsupported(err) {
		t.Errorf("DirectDownload() error = %v, want unsupported", err)
	}

	entries := h.find(slog.LevelError, "operation rejected")
	if len(entries) != 3 {
		t.Fatalf("logged %d rejections, want 3", len(entries))
	}
	if entries[0].Attrs["operation"] != "Harvest" {
		t.Errorf("operation attr = %s", entries[0].Attrs["operation"])
	}
}

func TestCatalogServiceTransaction(t *testing.T) {
	base := twoTypeStore(0, 0)
	base.caps.Transactions = true
	store := &mockTxStore{mockStore: base}
	svc := newTestCatalog(t, store, nil)
	ctx := context.Background()

	res, err := svc.Transaction(ctx, domain.TransactionRequest{Actions: []domain.TransactionAction{
		{
			Kind:     domain.TransactionInsert,
			TypeName: domain.ParseQName("csw:Record", nil),
			Records:  []domain.Record{{Properties: map[string]any{"title": "new"}}, {ID: "keep"}},
		},
		{
			Kind:     domain.TransactionUpdate,
			TypeName: domain.ParseQName("gmd:MD_Metadata", nil),
			Filter:   domain.DefaultLike("apiso:Title", "old*"),
			Set:      map[string]any{"apiso:Title": "renamed"},
		},
	}})
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}
	if res.Inserted != 2 || res.Updated != 1 {
		t.Errorf("result = %+v", res)
	}

	applied := store.applied[0].Actions
	if _, err := uuid.Parse(applied[0].Records[0].ID); err != nil {
		t.Errorf("generated id %q is not a uuid", applied[0].Records[0].ID)
	}
	if applied[0].Records[1].ID != "keep" {
		t.Errorf("client id replaced: %s", applied[0].Records[1].ID)
	}
	if !applied[0].Records[0].TypeName.Matches(records.RecordType) {
		t.Errorf("insert type = %s", applied[0].Records[0].TypeName)
	}

	like, ok := applied[1].Filter.(*domain.Like)
	if !ok || like.Property != "title" || like.MatchCase {
		t.Errorf("update filter = %#v", applied[1].Filter)
	}
	if applied[1].Set["title"] != "renamed" {
		t.Errorf("update set = %v", applied[1].Set)
	}
}

func TestCatalogServiceTransactionValidation(t *testing.T) {
	base := twoTypeStore(0, 0)
	base.caps.Transactions = true
	svc := newTestCatalog(t, &mockTxStore{mockStore: base}, nil)

	tests := []struct {
		name    string
		actions []domain.TransactionAction
		code    domain.ExceptionCode
		locator string
	}{
		{"no actions", nil, domain.CodeInvalidParameterValue, "Transaction"},
		{
			"unknown type",
			[]domain.TransactionAction{{Kind: domain.TransactionDelete, TypeName: domain.ParseQName("x:Nope", nil), Filter: domain.Include{}}},
			domain.CodeInvalidParameterValue, "typeNames",
		},
		{
			"insert without records",
			[]domain.TransactionAction{{Kind: domain.TransactionInsert, TypeName: records.RecordType}},
			domain.CodeMissingParameterValue, "Insert",
		},
		{
			"delete without constraint",
			[]domain.TransactionAction{{Kind: domain.TransactionDelete, TypeName: records.RecordType}},
			domain.CodeMissingParameterValue, "Constraint",
		},
		{
			"update without properties",
			[]domain.TransactionAction{{Kind: domain.TransactionUpdate, TypeName: records.RecordType, Filter: domain.Include{}}},
			domain.CodeMissingParameterValue, "RecordProperty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Transaction(context.Background(), domain.TransactionRequest{Actions: tt.actions})
			assertServiceError(t, err, tt.code, tt.locator)
		})
	}
}

func TestCatalogServiceQueryByIDSkipsMissingIDs(t *testing.T) {
	h := &captureHandler{}
	svc := newTestCatalog(t, twoTypeStore(3, 0), slog.New(h))

	res, err := svc.QueryByID(context.Background(), domain.QueryByIDRequest{IDs: []string{"a-0", "missing", "a-2"}})
	if err != nil {
		t.Fatalf("QueryByID() error = %v", err)
	}
	if got := strings.Join(collectIDs(t, res.Records), ","); got != "a-0,a-2" {
		t.Errorf("ids = %s, want a-0,a-2", got)
	}

	entries := h.find(slog.LevelDebug, "record id not found")
	if len(entries) != 1 || entries[0].Attrs["id"] != "missing" {
		t.Errorf("debug entries = %+v", entries)
	}
}

func TestCatalogServiceDescribeType(t *testing.T) {
	svc := newTestCatalog(t, twoTypeStore(0, 0), nil)
	ctx := context.Background()

	tests := []struct {
		name      string
		req       domain.DescribeTypeRequest
		wantTypes int
		locator   string
	}{
		{"all types", domain.DescribeTypeRequest{}, 2, ""},
		{
			"unknown names ignored",
			domain.DescribeTypeRequest{TypeNames: []domain.QName{
				domain.ParseQName("csw:Record", nil), domain.ParseQName("csw:Nope", nil),
			}},
			1, "",
		},
		{
			"no known name",
			domain.DescribeTypeRequest{TypeNames: []domain.QName{domain.ParseQName("csw:Nope", nil)}},
			0, "typeName",
		},
		{
			"schema language case-insensitive",
			domain.DescribeTypeRequest{SchemaLanguage: "http://www.w3.org/XML/SCHEMA"},
			2, "",
		},
		{
			"unsupported schema language",
			domain.DescribeTypeRequest{SchemaLanguage: "http://relaxng.org/ns/structure/1.0"},
			0, "schemaLanguage",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.DescribeType(ctx, tt.req)
			if tt.locator != "" {
				assertServiceError(t, err, domain.CodeInvalidParameterValue, tt.locator)
				return
			}
			if err != nil {
				t.Fatalf("DescribeType() error = %v", err)
			}
			if len(res.Types) != tt.wantTypes {
				t.Errorf("len(Types) = %d, want %d", len(res.Types), tt.wantTypes)
			}
		})
	}
}

func TestCatalogServiceQueryRecordsMetrics(t *testing.T) {
	metrics := &recordingMetrics{}
	svc, err := NewCatalogService(context.Background(), twoTypeStore(2, 2), nil, metrics, quietLogger(),
		CatalogServiceConfig{Service: testServiceInfo()})
	if err != nil {
		t.Fatalf("NewCatalogService() error = %v", err)
	}

	if _, err := svc.Query(context.Background(), domain.QueryRequest{}); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if _, err := svc.Query(context.Background(), domain.QueryRequest{StartPosition: intPtr(0)}); err == nil {
		t.Fatal("Query() should reject startPosition 0")
	}

	if metrics.requests["CSW.GetRecords"] != 2 || metrics.failures["CSW.GetRecords"] != 1 {
		t.Errorf("requests = %v, failures = %v", metrics.requests, metrics.failures)
	}
}

func TestCatalogServiceQueryRejectsOverflowingStartPosition(t *testing.T) {
	svc := newTestCatalog(t, twoTypeStore(2, 1), nil)

	_, err := svc.Query(context.Background(), domain.QueryRequest{StartPosition: intPtr(math.MinInt)})
	assertServiceError(t, err, domain.CodeInvalidParameterValue, "startPosition")
}

func TestCatalogServiceGetDomain(t *testing.T) {
	store := twoTypeStore(0, 0)
	store.values = map[string][]string{
		"Record/subject":      {"water", "soil"},
		"MD_Metadata/keyword": {"soil", "air"},
	}
	store.caps.OperationParameters = records.OperationParameters(store.types)
	h := &captureHandler{}
	svc := newTestCatalog(t, store, slog.New(h))
	ctx := context.Background()

	values, err := svc.GetDomain(ctx, domain.DomainRequest{PropertyNames: []string{"Subject", "nothing"}})
	if err != nil {
		t.Fatalf("GetDomain() error = %v", err)
	}
	if len(values) != 1 {
		t.Fatalf("len(values) = %d, want 1", len(values))
	}
	if got := strings.Join(values[0].Values, ","); got != "air,soil,water" {
		t.Errorf("values = %s, want air,soil,water", got)
	}
	if len(h.find(slog.LevelDebug, "no queryable matches domain property")) != 1 {
		t.Error("unmatched property should be logged")
	}

	values, err = svc.GetDomain(ctx, domain.DomainRequest{ParameterNames: []string{"GetRecords.resultType", "GetRecords.nope"}})
	if err != nil {
		t.Fatalf("GetDomain() error = %v", err)
	}
	if len(values) != 1 || values[0].ParameterName != "GetRecords.resultType" {
		t.Fatalf("values = %+v", values)
	}
	if got := strings.Join(values[0].Values, ","); got != "hits,results,validate" {
		t.Errorf("resultType values = %s", got)
	}

	_, err = svc.GetDomain(ctx, domain.DomainRequest{})
	assertServiceError(t, err, domain.CodeMissingParameterValue, "ParameterName")
}

func TestSelectStore(t *testing.T) {
	a := &mockStore{name: "memory"}
	b := &mockStore{name: "sqlite"}
	stores := []output.CatalogStore{a, b}

	tests := []struct {
		name     string
		stores   []output.CatalogStore
		override string
		want     output.CatalogStore
		wantErr  bool
	}{
		{"first store", stores, "", a, false},
		{"override", stores, "SQLite", b, false},
		{"unknown override", stores, "postgres", nil, true},
		{"no store", nil, "", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectStore(tt.stores, tt.override, quietLogger())
			if tt.wantErr {
				var ce *domain.ConfigError
				if !errors.As(err, &ce) || ce.Field != "catalog.store" {
					t.Errorf("error = %v, want config error on catalog.store", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SelectStore() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("SelectStore() = %v, want %v", got, tt.want)
			}
		})
	}
}
