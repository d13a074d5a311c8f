package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestServiceError(t *testing.T) {
	tests := []struct {
		name     string
		err      *ServiceError
		code     ExceptionCode
		locator  string
		sentinel error
	}{
		{
			name:     "invalid parameter",
			err:      InvalidParameter("startPosition", "must be >= 1, got %d", 0),
			code:     CodeInvalidParameterValue,
			locator:  "startPosition",
			sentinel: ErrInvalidInput,
		},
		{
			name:     "not supported",
			err:      NotSupported("Harvest"),
			code:     CodeNoApplicableCode,
			locator:  "Harvest",
			sentinel: ErrUnsupported,
		},
		{
			name:     "no store",
			err:      NoStore(),
			code:     CodeNoApplicableCode,
			sentinel: ErrNoStore,
		},
		{
			name:     "version",
			err:      VersionMismatch("9.9.9"),
			code:     CodeVersionNegotiationFailed,
			locator:  "acceptVersions",
			sentinel: ErrInvalidInput,
		},
		{
			name:     "no such coverage",
			err:      CoverageError(CodeNoSuchCoverage, "dem", "unknown coverage"),
			code:     CodeNoSuchCoverage,
			locator:  "dem",
			sentinel: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %s, want %s", tt.err.Code, tt.code)
			}
			if tt.err.Locator != tt.locator {
				t.Errorf("Locator = %q, want %q", tt.err.Locator, tt.locator)
			}
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.sentinel)
			}
			if tt.err.Error() == "" {
				t.Error("Error() should not return empty string")
			}
		})
	}
}

func TestNoApplicableCodeKeepsCause(t *testing.T) {
	cause := errors.New("disk on fire")
	err := NoApplicableCode("querying records", &QueryError{TypeName: "csw:Record", Err: cause})

	if !errors.Is(err, cause) {
		t.Error("NoApplicableCode should unwrap to the cause")
	}
	var qe *QueryError
	if !errors.As(err, &qe) {
		t.Fatal("expected QueryError in chain")
	}
	if qe.TypeName != "csw:Record" {
		t.Errorf("TypeName = %q", qe.TypeName)
	}
	if !strings.Contains(err.Error(), "disk on fire") {
		t.Errorf("Error() = %q, want cause in message", err.Error())
	}
}

func TestIsUnsupported(t *testing.T) {
	if !IsUnsupported(NotSupported("Transaction")) {
		t.Error("NotSupported should be unsupported")
	}
	if IsUnsupported(NoApplicableCode("backend", errors.New("io"))) {
		t.Error("backend failure should not be unsupported")
	}
	if IsUnsupported(NoStore()) {
		t.Error("missing store should not be unsupported")
	}
}

func TestStorageError(t *testing.T) {
	tests := []struct {
		name string
		err  *StorageError
	}{
		{
			name: "with key",
			err: &StorageError{
				Operation: "download",
				Key:       "records/dc.yaml",
				Err:       errors.New("network error"),
			},
		},
		{
			name: "without key",
			err: &StorageError{
				Operation: "list",
				Err:       errors.New("access denied"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() == "" {
				t.Error("Error() should not return empty string")
			}
			if !errors.Is(tt.err, tt.err.Err) {
				t.Error("Unwrap should return the underlying error")
			}
		})
	}
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{Field: "catalog.store", Message: "unknown store"}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ConfigError should unwrap to ErrInvalidInput")
	}
}
