package storegate

import (
	"fmt"
	"net/http"

	"github.com/giantswarm/storegate/internal/util"
)

// API error codes as constants
const (
	ErrorCodeInvalidRequest         = "invalid_request"
	ErrorCodeInvalidSignature       = "invalid_signature"
	ErrorCodeInvalidState           = "invalid_state"
	ErrorCodeInvalidToken           = "invalid_token"
	ErrorCodeNotFound               = "not_found"
	ErrorCodeAccessDenied           = "access_denied"
	ErrorCodeServerError            = "server_error"
	ErrorCodeTemporarilyUnavailable = "temporarily_unavailable"
	ErrorCodeUpstreamError          = "upstream_error"
	ErrorCodeRateLimitExceeded      = "rate_limit_exceeded"
)

// APIError represents an error response
type APIError struct {
	Code        string // error code (e.g., "invalid_request")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Write renders the error as {"error": code, "error_description": text}.
func (e *APIError) Write(w http.ResponseWriter) {
	util.WriteJSONError(w, e.Status, e.Code, e.Description)
}

// NewAPIError creates a new API error
func NewAPIError(code, description string, status int) *APIError {
	return &APIError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *APIError {
		return NewAPIError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidSignature indicates a failed HMAC check
	ErrInvalidSignature = func(desc string) *APIError {
		return NewAPIError(ErrorCodeInvalidSignature, desc, http.StatusUnauthorized)
	}

	// ErrInvalidState indicates a missing or mismatched OAuth state
	ErrInvalidState = func(desc string) *APIError {
		return NewAPIError(ErrorCodeInvalidState, desc, http.StatusForbidden)
	}

	// ErrInvalidToken indicates a missing or wrong admin bearer token
	ErrInvalidToken = func(desc string) *APIError {
		return NewAPIError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
	}

	// ErrNotFound indicates the named resource does not exist
	ErrNotFound = func(desc string) *APIError {
		return NewAPIError(ErrorCodeNotFound, desc, http.StatusNotFound)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *APIError {
		return NewAPIError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}

	// ErrTemporarilyUnavailable indicates the credential store cannot be reached
	ErrTemporarilyUnavailable = func(desc string) *APIError {
		return NewAPIError(ErrorCodeTemporarilyUnavailable, desc, http.StatusServiceUnavailable)
	}

	// ErrUpstream indicates the platform failed a token exchange
	ErrUpstream = func(desc string) *APIError {
		return NewAPIError(ErrorCodeUpstreamError, desc, http.StatusBadGateway)
	}

	// ErrRateLimitExceeded indicates the client exceeded its request rate
	ErrRateLimitExceeded = func(desc string) *APIError {
		return NewAPIError(ErrorCodeRateLimitExceeded, desc, http.StatusTooManyRequests)
	}
)
