package cli

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"skaha/internal/auth"
	"skaha/internal/certificate"
	"skaha/internal/client"
	"skaha/internal/config"
	skahactx "skaha/internal/context"
	"skaha/internal/oidc"
	"skaha/internal/registry"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	// ExitAuth means the user must (re)authenticate.
	ExitAuth = 2
	// ExitConfig means the settings or the config file need attention.
	ExitConfig = 3
)

// ExitCode maps err to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		expired    *auth.ExpiredCredentialError
		reauth     *auth.ReauthenticationRequiredError
		notAuth    *auth.NotAuthenticatedError
		refresh    *oidc.RefreshError
		denied     *oidc.AccessDeniedError
		expiredDev *oidc.ExpiredTokenError
		timeout    *oidc.PollTimeoutError
		authz      *oidc.AuthorizationError
		certNF     *certificate.CertificateNotFoundError
		certParse  *certificate.CertificateParseError
	)
	switch {
	case errors.As(err, &expired), errors.As(err, &reauth), errors.As(err, &notAuth),
		errors.As(err, &refresh), errors.As(err, &denied), errors.As(err, &expiredDev),
		errors.As(err, &timeout), errors.As(err, &authz),
		errors.As(err, &certNF), errors.As(err, &certParse):
		return ExitAuth
	}

	var (
		corrupt      *skahactx.ConfigCorruptError
		notFound     *skahactx.ContextNotFoundError
		active       *skahactx.ActiveContextError
		noActive     *skahactx.NoActiveContextError
		incompatible *skahactx.IncompatibleCredentialError
		setting      *config.InvalidSettingError
		option       *client.InvalidOptionError
		server       *registry.InvalidServerError
	)
	switch {
	case errors.As(err, &noActive):
		return ExitAuth
	case errors.As(err, &corrupt), errors.As(err, &notFound), errors.As(err, &active),
		errors.As(err, &incompatible), errors.As(err, &setting), errors.As(err, &option),
		errors.As(err, &server):
		return ExitConfig
	}

	return ExitFailure
}

// ConnectionErrorType categorizes the type of connection error.
type ConnectionErrorType int

const (
	// ConnectionErrorUnknown indicates an unclassified connection error.
	ConnectionErrorUnknown ConnectionErrorType = iota
	// ConnectionErrorTLS indicates a TLS/certificate verification error.
	ConnectionErrorTLS
	// ConnectionErrorNetwork indicates a network connectivity error (e.g., refused, unreachable).
	ConnectionErrorNetwork
	// ConnectionErrorTimeout indicates a connection timeout.
	ConnectionErrorTimeout
	// ConnectionErrorDNS indicates a DNS resolution failure.
	ConnectionErrorDNS
)

// String returns a human-readable name for the connection error type.
func (t ConnectionErrorType) String() string {
	switch t {
	case ConnectionErrorTLS:
		return "TLS error"
	case ConnectionErrorNetwork:
		return "Network error"
	case ConnectionErrorTimeout:
		return "Connection timeout"
	case ConnectionErrorDNS:
		return "DNS resolution error"
	default:
		return "Connection error"
	}
}

// ConnectionError is a request that never reached the server.
type ConnectionError struct {
	// Endpoint is the URL that could not be reached.
	Endpoint string
	Type     ConnectionErrorType
	Reason   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s reaching %s: %v", e.Type, e.Endpoint, e.Reason)
}

func (e *ConnectionError) Unwrap() error {
	return e.Reason
}

// ClassifyConnectionError wraps a transport failure with its category.
// Errors that are not transport failures, including credential errors
// raised by the client before dialing, are returned unchanged.
func ClassifyConnectionError(err error, endpoint string) error {
	if err == nil || ExitCode(err) != ExitFailure {
		return err
	}
	var httpErr *client.HTTPError
	if errors.As(err, &httpErr) {
		return err
	}

	kind := ConnectionErrorUnknown
	var dnsErr *net.DNSError
	switch {
	case isTLSError(err):
		kind = ConnectionErrorTLS
	case errors.As(err, &dnsErr):
		kind = ConnectionErrorDNS
	case isTimeoutError(err):
		kind = ConnectionErrorTimeout
	case isNetworkError(err.Error()):
		kind = ConnectionErrorNetwork
	}
	return &ConnectionError{Endpoint: endpoint, Type: kind, Reason: err}
}

func isTLSError(err error) bool {
	var (
		certErr        x509.CertificateInvalidError
		hostErr        x509.HostnameError
		unknownAuthErr x509.UnknownAuthorityError
		systemRootsErr x509.SystemRootsError
	)
	if errors.As(err, &certErr) || errors.As(err, &hostErr) ||
		errors.As(err, &unknownAuthErr) || errors.As(err, &systemRootsErr) {
		return true
	}

	msg := err.Error()
	for _, keyword := range []string{"x509:", "tls:", "TLS handshake"} {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "deadline exceeded")
}

func isNetworkError(msg string) bool {
	for _, keyword := range []string{
		"connection refused",
		"connection reset",
		"network is unreachable",
		"no route to host",
		"dial tcp",
	} {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}
