package graph

import (
	"errors"
	"fmt"
	"time"
)

// APIError is a non-2xx response from the Graph API.
type APIError struct {
	StatusCode int
	Code       string // Graph error code, e.g. "ErrorItemNotFound"
	Message    string
	RetryAfter time.Duration // from the Retry-After header on 429
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("graph: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("graph: %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether the error is a transient condition worth
// retrying: rate limits, server errors, and request timeouts.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode == 408 || apiErr.StatusCode >= 500
	}
	// Network-level failures (no HTTP response) are transient.
	return err != nil && !errors.As(err, &apiErr)
}

// IsAuthError reports whether the error is a 401.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 401
}

// IsNotFound reports whether the error is a 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

// IsPermissionDenied reports whether the error is a 403.
func IsPermissionDenied(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 403
}

// RetryAfter returns the server-requested retry delay, or zero.
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
