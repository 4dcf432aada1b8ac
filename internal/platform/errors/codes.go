// Package errors provides the structured error type shared by the runtime.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Plugin discovery and registration
	CodePluginLoad Code = "PLUGIN_LOAD"
	CodePluginHook Code = "PLUGIN_HOOK"

	// Snapshot restore
	CodeDeserialization Code = "DESERIALIZATION"

	// Instance and element resolution
	CodeLookup    Code = "LOOKUP"
	CodeInitOrder Code = "INIT_ORDER"

	// Lifecycle rules
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"

	// Client input
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeUnavailable     Code = "UNAVAILABLE"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument, CodeDeserialization:
		return http.StatusBadRequest
	case CodeLookup:
		return http.StatusNotFound
	case CodeInvariantViolation, CodeInitOrder:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
