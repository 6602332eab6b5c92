package transport

import (
	"fmt"
	"time"
)

// APIError is any non-2xx response that is not a credential or rate-limit
// problem. Message carries the server's error field when one was sent.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
}

// AuthenticationError is a persistent 401: the request was rejected again
// after one forced refresh and retry. Fatal to the in-flight request only.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed after forced refresh: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// RateLimitedError surfaces a 429. The client never retries these
// automatically; the caller decides what to do with RetryAfter.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}
