package client

import (
	"crypto/x509"
	"fmt"
	"time"
)

const (
	// DefaultTimeout is the default per-request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxTimeout is the largest accepted per-request timeout.
	MaxTimeout = 300 * time.Second

	// DefaultConcurrency is the default connection and in-flight request limit.
	DefaultConcurrency = 32

	// MaxConcurrency is the largest accepted concurrency.
	MaxConcurrency = 128

	// DefaultUserAgent identifies requests made by this library.
	DefaultUserAgent = "skaha-go"
)

// Options configures clients built by a Factory.
type Options struct {
	// Timeout bounds every request, including reading the body.
	Timeout time.Duration

	// Concurrency caps connections per host and, for AsyncClient, requests
	// in flight.
	Concurrency int

	UserAgent string

	// RootCAs verifies servers; nil uses the system pool.
	RootCAs *x509.CertPool
}

// InvalidOptionError is returned by Validate.
type InvalidOptionError struct {
	Field  string
	Reason string
}

func (e *InvalidOptionError) Error() string {
	return fmt.Sprintf("invalid client option %s: %s", e.Field, e.Reason)
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		Timeout:     DefaultTimeout,
		Concurrency: DefaultConcurrency,
		UserAgent:   DefaultUserAgent,
	}
}

// Validate rejects values outside the allowed ranges. Zero values are
// accepted and replaced by defaults.
func (o Options) Validate() error {
	if o.Timeout < 0 {
		return &InvalidOptionError{Field: "timeout", Reason: "must not be negative"}
	}
	if o.Timeout > MaxTimeout {
		return &InvalidOptionError{Field: "timeout", Reason: fmt.Sprintf("%s exceeds the maximum of %s", o.Timeout, MaxTimeout)}
	}
	if o.Concurrency < 0 {
		return &InvalidOptionError{Field: "concurrency", Reason: "must not be negative"}
	}
	if o.Concurrency > MaxConcurrency {
		return &InvalidOptionError{Field: "concurrency", Reason: fmt.Sprintf("%d exceeds the maximum of %d", o.Concurrency, MaxConcurrency)}
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Concurrency == 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	return o
}
