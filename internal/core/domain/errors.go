// Package domain defines the core domain models for hamesh.
package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// DomainError represents a daemon domain error with a structured error code.
//
// Codes follow the HA-<AREA>-<NNNN> format. The leading digits of NNNN
// select the response class: 1xxx validation, 401x authentication,
// 403x authorization, 404x not found, 408x timeout, 409x conflict,
// 429x throttled, 5xxx internal.
type DomainError struct {
	Code    string // Error code (e.g., "HA-LOCK-4080")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithDetailsf is WithDetails with fmt.Sprintf formatting.
func (e *DomainError) WithDetailsf(format string, args ...any) *DomainError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// HTTPStatus maps the error code class to an HTTP status code.
func (e *DomainError) HTTPStatus() int {
	return CodeHTTPStatus(e.Code)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// CodeHTTPStatus maps an HA-<AREA>-<NNNN> code to an HTTP status code.
// Unknown or malformed codes map to 500.
func CodeHTTPStatus(code string) int {
	if len(code) < 4 {
		return http.StatusInternalServerError
	}
	n, err := strconv.Atoi(code[len(code)-4:])
	if err != nil {
		return http.StatusInternalServerError
	}
	switch {
	case n < 2000:
		return http.StatusBadRequest
	case n >= 4000 && n < 4010:
		return http.StatusBadRequest
	case n >= 4010 && n < 4020:
		return http.StatusUnauthorized
	case n >= 4030 && n < 4040:
		return http.StatusForbidden
	case n >= 4040 && n < 4050:
		return http.StatusNotFound
	case n >= 4080 && n < 4090:
		return http.StatusRequestTimeout
	case n >= 4090 && n < 4100:
		return http.StatusConflict
	case n >= 4290 && n < 4300:
		return http.StatusTooManyRequests
	case n >= 5030 && n < 5040:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("HA-ARG-1001", "invalid argument")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = NewDomainError("HA-ARG-1002", "missing required argument")

	// ErrUnknownArgument indicates an argument not declared by the handler.
	ErrUnknownArgument = NewDomainError("HA-ARG-1003", "unknown argument")

	// ErrInvalidPath indicates a malformed object path.
	ErrInvalidPath = NewDomainError("HA-ARG-1004", "invalid object path")
)

// ============================================================================
// Request Errors (REQ)
// ============================================================================

var (
	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = NewDomainError("HA-REQ-4000", "bad request")

	// ErrRouteNotFound indicates no handler is registered for the route.
	ErrRouteNotFound = NewDomainError("HA-REQ-4040", "no handler for route")

	// ErrBlacklisted indicates the sender address is banned.
	ErrBlacklisted = NewDomainError("HA-REQ-4290", "sender blacklisted")

	// ErrRateLimited indicates too many requests from the sender.
	ErrRateLimited = NewDomainError("HA-REQ-4291", "too many requests")
)

// ============================================================================
// Authentication and Authorization Errors (AUTH)
// ============================================================================

var (
	// ErrAuthFailed indicates the presented credentials were rejected.
	ErrAuthFailed = NewDomainError("HA-AUTH-4010", "authentication failed")

	// ErrAuthRequired indicates the handler refuses anonymous callers.
	ErrAuthRequired = NewDomainError("HA-AUTH-4011", "authentication required")

	// ErrPermissionDenied indicates a missing role.
	ErrPermissionDenied = NewDomainError("HA-AUTH-4030", "permission denied")

	// ErrNamespaceDenied indicates a role granted outside the target namespace.
	ErrNamespaceDenied = NewDomainError("HA-AUTH-4031", "namespace not granted")

	// ErrInvalidGrant indicates an unparsable grant string.
	ErrInvalidGrant = NewDomainError("HA-AUTH-1001", "invalid grant")
)

// ============================================================================
// Object Errors (OBJ)
// ============================================================================

var (
	// ErrObjectNotFound indicates the object is not configured on this node.
	ErrObjectNotFound = NewDomainError("HA-OBJ-4040", "object not found")

	// ErrKeyNotFound indicates the data key does not exist.
	ErrKeyNotFound = NewDomainError("HA-OBJ-4041", "key not found")

	// ErrKindNotSupported indicates the object kind has no data store.
	ErrKindNotSupported = NewDomainError("HA-OBJ-4001", "object kind does not support this operation")

	// ErrInstanceBusy indicates a transient monitor state forbids the request.
	ErrInstanceBusy = NewDomainError("HA-OBJ-4090", "instance busy")
)

// ============================================================================
// Cluster Errors (CLU)
// ============================================================================

var (
	// ErrNodeNotMember indicates the node is not part of the cluster.
	ErrNodeNotMember = NewDomainError("HA-CLU-4040", "node is not a cluster member")

	// ErrNodeIsSelf indicates an operation that cannot target the local node.
	ErrNodeIsSelf = NewDomainError("HA-CLU-4001", "operation cannot target the local node")

	// ErrNodeUnreachable indicates a multiplexed request could not reach a peer.
	ErrNodeUnreachable = NewDomainError("HA-CLU-5030", "node unreachable")

	// ErrRelaySlotNotFound indicates no payload was stored for the relay slot.
	ErrRelaySlotNotFound = NewDomainError("HA-CLU-4041", "relay slot not found")
)

// ============================================================================
// Lock Errors (LOCK)
// ============================================================================

var (
	// ErrLockTimeout indicates the lock stayed held by another requester
	// until the acquire timeout elapsed.
	ErrLockTimeout = NewDomainError("HA-LOCK-4080", "lock acquire timeout")

	// ErrLockInternal indicates the lock manager failed for a reason
	// unrelated to contention.
	ErrLockInternal = NewDomainError("HA-LOCK-5000", "lock internal error")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternalServer indicates an internal server error.
	ErrInternalServer = NewDomainError("HA-SYS-5000", "internal server error")

	// ErrStorageError indicates a storage layer error.
	ErrStorageError = NewDomainError("HA-SYS-5001", "storage error")

	// ErrServiceUnavailable indicates the daemon is shutting down or not ready.
	ErrServiceUnavailable = NewDomainError("HA-SYS-5030", "service unavailable")
)
