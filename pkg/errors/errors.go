// Package errors provides a structured error system for perfmetrics with error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for metrics operations.
type ErrorCode string

const (
	// Argument errors
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Snapshot errors
	ErrCodeSnapshotCollect ErrorCode = "SNAPSHOT_COLLECT"
	ErrCodeSnapshotWrite   ErrorCode = "SNAPSHOT_WRITE"
	ErrCodeArchiveUpload   ErrorCode = "ARCHIVE_UPLOAD"
	ErrCodeArchiveOpen     ErrorCode = "ARCHIVE_CIRCUIT_OPEN"

	// Export errors
	ErrCodeExporterDisabled ErrorCode = "EXPORTER_DISABLED"
	ErrCodeServerStart      ErrorCode = "SERVER_START"

	// Probe errors
	ErrCodeProbeFailed ErrorCode = "PROBE_FAILED"

	// Lifecycle errors
	ErrCodeShutdownTimeout ErrorCode = "SHUTDOWN_TIMEOUT"

	// Connection errors
	ErrCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeNetworkError      ErrorCode = "NETWORK_ERROR"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryArgument      ErrorCategory = "argument"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryPersistence   ErrorCategory = "persistence"
	CategoryExport        ErrorCategory = "export"
	CategoryProbe         ErrorCategory = "probe"
	CategoryState         ErrorCategory = "state"
	CategoryConnection    ErrorCategory = "connection"
	CategoryInternal      ErrorCategory = "internal"
)

// PerfMetricsError represents a structured error with context and metadata.
type PerfMetricsError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	Retryable  bool `json:"retryable"`
	HTTPStatus int  `json:"http_status,omitempty"`
}

// Error implements the error interface.
func (e *PerfMetricsError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Component != "" {
		if e.Operation != "" {
			msg = fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, msg)
		} else {
			msg = fmt.Sprintf("[%s] %s", e.Component, msg)
		}
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *PerfMetricsError) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same error code.
func (e *PerfMetricsError) Is(target error) bool {
	if t, ok := target.(*PerfMetricsError); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *PerfMetricsError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("PerfMetricsError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new error with defaults derived from the code.
func NewError(code ErrorCode, message string) *PerfMetricsError {
	return &PerfMetricsError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Details:    make(map[string]interface{}),
		Timestamp:  time.Now(),
		Retryable:  IsRetryableByDefault(code),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// InvalidArgument is shorthand for an INVALID_ARGUMENT error.
func InvalidArgument(format string, args ...interface{}) *PerfMetricsError {
	return NewError(ErrCodeInvalidArgument, fmt.Sprintf(format, args...))
}

// Wrap creates an error of the given code around cause.
func Wrap(cause error, code ErrorCode, message string) *PerfMetricsError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidArgument:
		return CategoryArgument
	case ErrCodeInvalidConfig, ErrCodeConfigLoad, ErrCodeConfigValidation:
		return CategoryConfiguration
	case ErrCodeSnapshotCollect, ErrCodeSnapshotWrite, ErrCodeArchiveUpload, ErrCodeArchiveOpen:
		return CategoryPersistence
	case ErrCodeExporterDisabled, ErrCodeServerStart:
		return CategoryExport
	case ErrCodeProbeFailed:
		return CategoryProbe
	case ErrCodeShutdownTimeout:
		return CategoryState
	case ErrCodeConnectionFailed, ErrCodeConnectionTimeout, ErrCodeNetworkError:
		return CategoryConnection
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeConnectionFailed, ErrCodeConnectionTimeout, ErrCodeNetworkError,
		ErrCodeArchiveUpload, ErrCodeInternalError:
		return true
	}
	return false
}

// GetDefaultHTTPStatus returns the default HTTP status for an error code.
func GetDefaultHTTPStatus(code ErrorCode) int {
	statusMap := map[ErrorCode]int{
		ErrCodeInvalidArgument:   400,
		ErrCodeInvalidConfig:     400,
		ErrCodeConfigValidation:  400,
		ErrCodeExporterDisabled:  503,
		ErrCodeArchiveOpen:       503,
		ErrCodeConnectionTimeout: 504,
		ErrCodeShutdownTimeout:   504,
	}
	if status, ok := statusMap[code]; ok {
		return status
	}
	return 500
}

// WithDetail adds detailed information to an error
func (e *PerfMetricsError) WithDetail(key string, value interface{}) *PerfMetricsError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *PerfMetricsError) WithComponent(component string) *PerfMetricsError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *PerfMetricsError) WithOperation(operation string) *PerfMetricsError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *PerfMetricsError) WithCause(cause error) *PerfMetricsError {
	e.Cause = cause
	return e
}

// HasCode reports whether err is (or wraps) a PerfMetricsError with the given code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if pe, ok := err.(*PerfMetricsError); ok && pe.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
