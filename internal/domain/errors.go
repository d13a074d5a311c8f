package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
)

// Specific errors.
var (
	ErrNoStore          = fmt.Errorf("no store registered: %w", ErrUnavailable)
	ErrTypeNotFound     = fmt.Errorf("record type: %w", ErrNotFound)
	ErrCoverageNotFound = fmt.Errorf("coverage: %w", ErrNotFound)
	ErrResourceNotFound = fmt.Errorf("resource: %w", ErrNotFound)
	ErrNotReady         = fmt.Errorf("service not ready: %w", ErrUnavailable)
)

// ExceptionCode is the machine readable code of an OWS exception.
type ExceptionCode string

// Exception codes reported to clients.
const (
	CodeInvalidParameterValue    ExceptionCode = "InvalidParameterValue"
	CodeMissingParameterValue    ExceptionCode = "MissingParameterValue"
	CodeNoApplicableCode         ExceptionCode = "NoApplicableCode"
	CodeVersionNegotiationFailed ExceptionCode = "VersionNegotiationFailed"
	CodeOperationNotSupported    ExceptionCode = "OperationNotSupported"

	// WCS 2.0 codes.
	CodeNoSuchCoverage     ExceptionCode = "NoSuchCoverage"
	CodeInvalidAxisLabel   ExceptionCode = "InvalidAxisLabel"
	CodeInvalidSubsetting  ExceptionCode = "InvalidSubsetting"
	CodeInvalidScaleFactor ExceptionCode = "InvalidScaleFactor"
	CodeInvalidExtent      ExceptionCode = "InvalidExtent"
	CodeScaleAxisUndefined ExceptionCode = "ScaleAxisUndefined"
	CodeNoSuchField        ExceptionCode = "NoSuchField"
)

// ServiceError is an error surfaced to the protocol layer. It carries a
// message, an exception code and an optional locator naming the offending
// request parameter.
type ServiceError struct {
	Code    ExceptionCode
	Locator string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	msg := e.Message
	if e.Err != nil && !isSentinel(e.Err) {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Locator != "" {
		return fmt.Sprintf("%s (%s, locator %s)", msg, e.Code, e.Locator)
	}
	return fmt.Sprintf("%s (%s)", msg, e.Code)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

func isSentinel(err error) bool {
	switch err {
	case ErrInvalidInput, ErrUnsupported, ErrNoStore, ErrNotFound, ErrCoverageNotFound:
		return true
	}
	return false
}

// InvalidParameter returns an InvalidParameterValue error for locator.
func InvalidParameter(locator, format string, args ...any) *ServiceError {
	return &ServiceError{
		Code:    CodeInvalidParameterValue,
		Locator: locator,
		Message: fmt.Sprintf(format, args...),
		Err:     ErrInvalidInput,
	}
}

// MissingParameter returns a MissingParameterValue error for locator.
func MissingParameter(locator string) *ServiceError {
	return &ServiceError{
		Code:    CodeMissingParameterValue,
		Locator: locator,
		Message: fmt.Sprintf("missing parameter %s", locator),
		Err:     ErrInvalidInput,
	}
}

// NoApplicableCode wraps cause into a NoApplicableCode error.
func NoApplicableCode(message string, cause error) *ServiceError {
	return &ServiceError{
		Code:    CodeNoApplicableCode,
		Message: message,
		Err:     cause,
	}
}

// NotSupported reports an operation this deployment declines to execute.
// errors.Is(err, ErrUnsupported) identifies it.
func NotSupported(operation string) *ServiceError {
	return &ServiceError{
		Code:    CodeNoApplicableCode,
		Locator: operation,
		Message: fmt.Sprintf("%s is not supported by this service", operation),
		Err:     ErrUnsupported,
	}
}

// NoStore reports that no backend store is bound.
func NoStore() *ServiceError {
	return &ServiceError{
		Code:    CodeNoApplicableCode,
		Message: "no store registered",
		Err:     ErrNoStore,
	}
}

// VersionMismatch reports that none of the accepted versions is supported.
func VersionMismatch(versions string) *ServiceError {
	return &ServiceError{
		Code:    CodeVersionNegotiationFailed,
		Locator: "acceptVersions",
		Message: fmt.Sprintf("unsupported version %s", versions),
		Err:     ErrInvalidInput,
	}
}

// CoverageError returns a WCS error with the given code.
func CoverageError(code ExceptionCode, locator, format string, args ...any) *ServiceError {
	err := ErrInvalidInput
	if code == CodeNoSuchCoverage {
		err = ErrCoverageNotFound
	}
	return &ServiceError{
		Code:    code,
		Locator: locator,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// IsUnsupported reports whether err marks an operation as not supported.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}

// QueryError represents an error while querying one record type.
type QueryError struct {
	TypeName string // Qualified type name
	Err      error  // Underlying error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.TypeName != "" {
		return fmt.Sprintf("query error for type %s: %v", e.TypeName, e.Err)
	}
	return fmt.Sprintf("query error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (download, list, etc.)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
