package oidc

import (
	"fmt"
	"time"
)

// DiscoveryError is returned when the provider configuration cannot be fetched
// or lacks what the device flow needs.
type DiscoveryError struct {
	URL    string
	Reason string
	Err    error
}

func (e *DiscoveryError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("OIDC discovery at %s failed: %s", e.URL, e.Reason)
	}
	return fmt.Sprintf("OIDC discovery at %s failed: %v", e.URL, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// AuthorizationError is returned when the provider rejects a registration,
// device authorization or poll request for a reason other than the
// terminal device-flow outcomes.
type AuthorizationError struct {
	Stage       string
	Code        string
	Description string
	Err         error
}

func (e *AuthorizationError) Error() string {
	switch {
	case e.Code != "" && e.Description != "":
		return fmt.Sprintf("OIDC %s failed: %s: %s", e.Stage, e.Code, e.Description)
	case e.Code != "":
		return fmt.Sprintf("OIDC %s failed: %s", e.Stage, e.Code)
	default:
		return fmt.Sprintf("OIDC %s failed: %v", e.Stage, e.Err)
	}
}

func (e *AuthorizationError) Unwrap() error {
	return e.Err
}

// ExpiredTokenError means the device code expired before the user finished.
type ExpiredTokenError struct{}

func (e *ExpiredTokenError) Error() string {
	return "device code expired before authorization completed; please login again"
}

// AccessDeniedError means the user declined the authorization request.
type AccessDeniedError struct{}

func (e *AccessDeniedError) Error() string {
	return "authorization request was denied; please login again"
}

// PollTimeoutError means polling reached the device code deadline without
// an answer from the provider.
type PollTimeoutError struct {
	Elapsed time.Duration
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for device authorization; please login again", e.Elapsed.Round(time.Second))
}

// CancelledError means the caller cancelled the login while it was waiting.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string {
	return "login cancelled"
}

func (e *CancelledError) Unwrap() error {
	return e.Err
}

// RefreshError means the refresh token could not be exchanged. A new
// device-flow login is required.
type RefreshError struct {
	Code        string
	Description string
	Err         error
}

func (e *RefreshError) Error() string {
	switch {
	case e.Code != "" && e.Description != "":
		return fmt.Sprintf("token refresh failed: %s: %s", e.Code, e.Description)
	case e.Code != "":
		return fmt.Sprintf("token refresh failed: %s", e.Code)
	case e.Err != nil:
		return fmt.Sprintf("token refresh failed: %v", e.Err)
	default:
		return "token refresh failed"
	}
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}
