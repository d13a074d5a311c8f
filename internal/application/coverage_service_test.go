package application

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jobrunner/owsgate/internal/domain"
)

func newTestCoverageService(store *mockCoverageStore) *CoverageService {
	cfg := CoverageServiceConfig{Service: testServiceInfo()}
	if store == nil {
		return NewCoverageService(nil, nil, quietLogger(), cfg)
	}
	return NewCoverageService(store, nil, quietLogger(), cfg)
}

func TestCoverageServiceCapabilities(t *testing.T) {
	second := testCoverage()
	second.ID = "slope"
	second.Formats = []string{"image/png"}
	svc := newTestCoverageService(&mockCoverageStore{coverages: []domain.CoverageDescriptor{testCoverage(), second}})

	caps, err := svc.GetCapabilities(context.Background(), domain.CapabilitiesRequest{AcceptVersions: []string{"2.0.1"}})
	if err != nil {
		t.Fatalf("GetCapabilities() error = %v", err)
	}
	if caps.Service != CoverageServiceType || caps.Version != CoverageVersion {
		t.Errorf("service = %s %s", caps.Service, caps.Version)
	}
	if len(caps.Contents) != 2 || caps.Contents[1].ID != "slope" {
		t.Fatalf("Contents = %+v", caps.Contents)
	}
	if caps.Contents[0].Subtype != RectifiedGridCoverage {
		t.Errorf("Subtype = %s", caps.Contents[0].Subtype)
	}
	if got := strings.Join(caps.ServiceMetadata, ","); got != "application/json,image/png,image/tiff" {
		t.Errorf("formats = %s", got)
	}
	if _, ok := caps.OperationsMetadata.Operation("GetCoverage"); !ok {
		t.Error("GetCoverage missing from operations")
	}

	_, err = svc.GetCapabilities(context.Background(), domain.CapabilitiesRequest{AcceptVersions: []string{"1.0.0"}})
	assertServiceError(t, err, domain.CodeVersionNegotiationFailed, "acceptVersions")

	caps, err = svc.GetCapabilities(context.Background(), domain.CapabilitiesRequest{Sections: []string{"contents"}})
	if err != nil {
		t.Fatalf("GetCapabilities() error = %v", err)
	}
	if caps.ServiceIdentification != nil || len(caps.Contents) != 2 {
		t.Error("only Contents was requested")
	}
}

func TestCoverageServiceWithoutStore(t *testing.T) {
	svc := newTestCoverageService(nil)
	ctx := context.Background()

	caps, err := svc.GetCapabilities(ctx, domain.CapabilitiesRequest{})
	if err != nil {
		t.Fatalf("GetCapabilities() error = %v", err)
	}
	if len(caps.Contents) != 0 {
		t.Errorf("Contents = %+v", caps.Contents)
	}

	if _, err := svc.DescribeCoverage(ctx, domain.DescribeCoverageRequest{CoverageIDs: []string{"dem"}}); !errors.Is(err, domain.ErrNoStore) {
		t.Errorf("DescribeCoverage() error = %v, want ErrNoStore", err)
	}
	if _, err := svc.GetCoverage(ctx, domain.GetCoverageRequest{CoverageID: "dem"}); !errors.Is(err, domain.ErrNoStore) {
		t.Errorf("GetCoverage() error = %v, want ErrNoStore", err)
	}
}

func TestCoverageServiceDescribeCoverage(t *testing.T) {
	svc := newTestCoverageService(&mockCoverageStore{coverages: []domain.CoverageDescriptor{testCoverage()}})
	ctx := context.Background()

	descs, err := svc.DescribeCoverage(ctx, domain.DescribeCoverageRequest{CoverageIDs: []string{"dem"}})
	if err != nil {
		t.Fatalf("DescribeCoverage() error = %v", err)
	}
	if len(descs) != 1 || descs[0].ID != "dem" {
		t.Errorf("descs = %+v", descs)
	}

	_, err = svc.DescribeCoverage(ctx, domain.DescribeCoverageRequest{CoverageIDs: []string{"dem", "nope"}})
	assertServiceError(t, err, domain.CodeNoSuchCoverage, "nope")

	_, err = svc.DescribeCoverage(ctx, domain.DescribeCoverageRequest{})
	assertServiceError(t, err, domain.CodeMissingParameterValue, "coverageId")
}

func TestCoverageServiceGetCoverage(t *testing.T) {
	store := &mockCoverageStore{coverages: []domain.CoverageDescriptor{testCoverage()}}
	svc := newTestCoverageService(store)
	ctx := context.Background()

	cov, err := svc.GetCoverage(ctx, domain.GetCoverageRequest{
		CoverageID:  "dem",
		Subsets:     []domain.DimensionSubset{{Axis: "Long", Low: "0", High: "4"}},
		RangeSubset: []domain.RangeItem{{Component: "blue"}},
	})
	if err != nil {
		t.Fatalf("GetCoverage() error = %v", err)
	}
	if len(store.plans) != 1 {
		t.Fatalf("store reads = %d, want 1", len(store.plans))
	}
	if got := strings.Join(cov.BandNames, ","); got != "blue" {
		t.Errorf("BandNames = %s", got)
	}
	if len(cov.Data[0]) != 4*10 {
		t.Errorf("cells = %d, want 40", len(cov.Data[0]))
	}

	_, err = svc.GetCoverage(ctx, domain.GetCoverageRequest{CoverageID: "nope"})
	assertServiceError(t, err, domain.CodeNoSuchCoverage, "nope")

	_, err = svc.GetCoverage(ctx, domain.GetCoverageRequest{})
	assertServiceError(t, err, domain.CodeMissingParameterValue, "coverageId")

	_, err = svc.GetCoverage(ctx, domain.GetCoverageRequest{CoverageID: "dem", RangeSubset: []domain.RangeItem{{Component: "nir"}}})
	assertServiceError(t, err, domain.CodeNoSuchField, "nir")
	if len(store.plans) != 1 {
		t.Error("invalid requests must not reach the store")
	}
}

func TestCoverageServiceReadFailure(t *testing.T) {
	cause := errors.New("tile missing")
	svc := newTestCoverageService(&mockCoverageStore{
		coverages: []domain.CoverageDescriptor{testCoverage()},
		readErr:   cause,
	})

	_, err := svc.GetCoverage(context.Background(), domain.GetCoverageRequest{CoverageID: "dem"})
	assertServiceError(t, err, domain.CodeNoApplicableCode, "")
	var qe *domain.QueryError
	if !errors.As(err, &qe) || qe.TypeName != "dem" {
		t.Errorf("error should wrap a QueryError for dem: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("cause lost: %v", err)
	}
}
