package restapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Static errors for err113 compliance.
var (
	// ErrAuthUnavailable is returned when the call requires a signed assertion
	// and the active credential cannot supply one. The request is not sent.
	ErrAuthUnavailable = errors.New("no credential satisfies the auth constraint")

	// ErrTokenRefreshFailed is matched by every TokenRefreshError.
	ErrTokenRefreshFailed = errors.New("delegated token refresh failed")

	// ErrCacheUnreachable is returned for a 304 that cannot be answered from
	// the cache.
	ErrCacheUnreachable = errors.New("not modified but cached response is unavailable")

	ErrConfigRequired    = errors.New("config is required")
	ErrInvalidBaseURL    = errors.New("invalid base URL")
	ErrEmptyResponseBody = errors.New("empty response body")
)

// RateLimitError is returned for a failed response that reports an exhausted
// rate limit.
type RateLimitError struct {
	// ResetAt is the epoch second at which the limit resets.
	ResetAt uint64
	// RetryAfter is the delay until ResetAt, never negative.
	RetryAfter time.Duration
	// StatusCode of the response that carried the limit headers.
	StatusCode int
}

// NewRateLimitError computes the retry delay for resetAt relative to now.
func NewRateLimitError(statusCode int, resetAt uint64, now time.Time) *RateLimitError {
	delay := time.Duration(0)

	if remaining := int64(resetAt) - now.Unix(); remaining > 0 { //nolint:gosec // epoch seconds fit in int64
		delay = time.Duration(remaining) * time.Second
	}

	return &RateLimitError{ResetAt: resetAt, RetryAfter: delay, StatusCode: statusCode}
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, will reset in %d seconds", int64(e.RetryAfter/time.Second))
}

// RequestError is a non-success response that is not rate limited.
type RequestError struct {
	StatusCode int
	Body       []byte
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("code: %d, empty response", e.StatusCode)
	}

	return fmt.Sprintf("code: %d, error: %s", e.StatusCode, strconv.Quote(string(e.Body)))
}

// DecodeError is returned when a success body cannot be parsed into the
// requested type.
type DecodeError struct {
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return "decoding response body: " + e.Err.Error()
}

// Unwrap returns the parse error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// TokenRefreshError is returned when a delegated access token could not be
// issued.
type TokenRefreshError struct {
	InstallationID int64
	Err            error
}

// Error implements the error interface.
func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("refreshing access token for installation %d: %v", e.InstallationID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TokenRefreshError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrTokenRefreshFailed.
func (e *TokenRefreshError) Is(target error) bool {
	return target == ErrTokenRefreshFailed
}

// IsRateLimited reports whether err is a RateLimitError and returns it.
func IsRateLimited(err error) (*RateLimitError, bool) {
	rateErr := &RateLimitError{}
	if errors.As(err, &rateErr) {
		return rateErr, true
	}

	return nil, false
}

// IsNotFound checks if the error is a 404 response.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsUnauthorized checks if the error is a 401 response.
func IsUnauthorized(err error) bool {
	return hasStatus(err, http.StatusUnauthorized)
}

// IsForbidden checks if the error is a 403 response that is not rate limited.
func IsForbidden(err error) bool {
	return hasStatus(err, http.StatusForbidden)
}

// IsAuthUnavailable checks if err is ErrAuthUnavailable.
func IsAuthUnavailable(err error) bool {
	return errors.Is(err, ErrAuthUnavailable)
}

func hasStatus(err error, code int) bool {
	reqErr := &RequestError{}
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode == code
	}

	return false
}
