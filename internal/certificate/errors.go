package certificate

import "fmt"

// CertificateNotFoundError is returned when the PEM file does not exist or
// cannot be read.
type CertificateNotFoundError struct {
	Path string
	Err  error
}

func (e *CertificateNotFoundError) Error() string {
	return fmt.Sprintf("certificate %s not found", e.Path)
}

func (e *CertificateNotFoundError) Unwrap() error {
	return e.Err
}

// CertificateParseError is returned when the file exists but does not hold a
// usable certificate (or certificate and key pair, when building TLS config).
type CertificateParseError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CertificateParseError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("certificate %s is not valid: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("certificate %s is not valid: %v", e.Path, e.Err)
}

func (e *CertificateParseError) Unwrap() error {
	return e.Err
}
