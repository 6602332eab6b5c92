package auth

import "fmt"

// AuthorizationError reports an invalid or expired authorization code
// during the initial exchange. The caller must restart the authorize flow.
type AuthorizationError struct {
	Err error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization failed: %v", e.Err)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// ReauthorizationRequired reports that the refresh token was rejected or
// that no usable credential exists. The remedy is the same as for
// AuthorizationError: restart the authorize flow.
type ReauthorizationRequired struct {
	Err error
}

func (e *ReauthorizationRequired) Error() string {
	return fmt.Sprintf("reauthorization required: %v", e.Err)
}

func (e *ReauthorizationRequired) Unwrap() error { return e.Err }
