package auth

import (
	"fmt"
)

// ExpiredCredentialError is returned when an X.509 credential is missing,
// unreadable or outside its validity window. No request is attempted.
type ExpiredCredentialError struct {
	Context string
	Err     error
}

func (e *ExpiredCredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("context %q: certificate is not usable: %v; run 'skaha auth login' to renew it", e.Context, e.Err)
	}
	return fmt.Sprintf("context %q: certificate has expired; run 'skaha auth login' to renew it", e.Context)
}

func (e *ExpiredCredentialError) Unwrap() error {
	return e.Err
}

// ReauthenticationRequiredError is returned when an expired OIDC credential
// could not be refreshed.
type ReauthenticationRequiredError struct {
	Context string
	Err     error
}

func (e *ReauthenticationRequiredError) Error() string {
	return fmt.Sprintf("context %q: session expired and could not be renewed (%v); run 'skaha auth login'", e.Context, e.Err)
}

func (e *ReauthenticationRequiredError) Unwrap() error {
	return e.Err
}

// NotAuthenticatedError is returned for a context that has never been
// authenticated.
type NotAuthenticatedError struct {
	Context string
}

func (e *NotAuthenticatedError) Error() string {
	return fmt.Sprintf("context %q has no credential; run 'skaha auth login'", e.Context)
}
