package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"skaha/internal/auth"
	"skaha/internal/certificate"
	"skaha/internal/credential"
	"skaha/internal/registry"
	"skaha/pkg/logging"
	textutil "skaha/pkg/strings"
)

const maxErrorBody = 4096

// Factory builds clients for the contexts of a binder's store.
type Factory struct {
	binder      *auth.Binder
	opts        Options
	contextName string
	watch       bool
	now         func() time.Time
	logger      *slog.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithContext makes clients authenticate as name instead of the active context.
func WithContext(name string) FactoryOption {
	return func(f *Factory) {
		f.contextName = name
	}
}

// WithCertificateWatch makes clients of X.509 contexts pick up a renewed
// certificate as soon as the file changes, instead of at expiry.
func WithCertificateWatch() FactoryOption {
	return func(f *Factory) {
		f.watch = true
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) FactoryOption {
	return func(f *Factory) {
		f.now = now
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// NewFactory validates opts and returns a Factory.
func NewFactory(binder *auth.Binder, opts Options, fopts ...FactoryOption) (*Factory, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	f := &Factory{
		binder: binder,
		opts:   opts.withDefaults(),
		now:    time.Now,
		logger: logging.Logger("HTTP"),
	}
	for _, opt := range fopts {
		opt(f)
	}
	return f, nil
}

// Options returns the effective options.
func (f *Factory) Options() Options {
	return f.opts
}

// New binds the context and returns a client for it. Credential problems
// are reported here, before any request is made.
func (f *Factory) New(ctx context.Context) (*Client, error) {
	transport, err := newTransport(ctx, f.binder, f.contextName, f.opts, f.now, f.logger)
	if err != nil {
		return nil, err
	}

	stored, err := f.binder.Store().Get(transport.name)
	if err != nil {
		return nil, err
	}

	c := &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   f.opts.Timeout,
		},
		transport: transport,
		server:    stored.Server,
	}

	if x, ok := stored.Credential.(credential.X509); ok && f.watch {
		c.watcher = certificate.NewWatcher(certificate.WatcherConfig{
			Path:     x.Path,
			OnChange: transport.invalidate,
		})
		if err := c.watcher.Start(); err != nil {
			f.logger.Warn("Certificate watch unavailable", "context", transport.name, "error", err)
			c.watcher = nil
		}
	}
	return c, nil
}

// NewAsync returns a client whose requests run in goroutines, at most
// Options.Concurrency at a time.
func (f *Factory) NewAsync(ctx context.Context) (*AsyncClient, error) {
	c, err := f.New(ctx)
	if err != nil {
		return nil, err
	}
	return newAsyncClient(c, f.opts.Concurrency), nil
}

// Client is an authenticated HTTP client for one context. It is safe for
// concurrent use.
type Client struct {
	http      *http.Client
	transport *authTransport
	server    registry.Server
	watcher   *certificate.Watcher
	closeOnce sync.Once
}

// HTTP returns the underlying *http.Client for use with other libraries.
func (c *Client) HTTP() *http.Client {
	return c.http
}

// ContextName returns the context the client authenticates as.
func (c *Client) ContextName() string {
	return c.transport.name
}

// Server returns the server of the context.
func (c *Client) Server() registry.Server {
	return c.server
}

// Expiry returns when the current credential expires. ok is false when it
// has no known expiry.
func (c *Client) Expiry() (expiry time.Time, ok bool) {
	b := c.transport.snapshot()
	return b.Expiry, b.HasExpiry
}

// NewRequest creates a request for path below the versioned server URL.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	endpoint, err := c.server.Endpoint(strings.Split(strings.Trim(path, "/"), "/")...)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, method, endpoint, body)
}

// Do sends req. Responses with status 400 or above are returned as
// *HTTPError with the body consumed and closed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 400 {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, &HTTPError{
		Method:     req.Method,
		URL:        req.URL.Redacted(),
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
}

// Close stops the certificate watch and drops idle connections.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.watcher != nil {
			c.watcher.Stop()
		}
		c.transport.close()
	})
	return nil
}

// HTTPError is an error status returned by the server.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Method, e.URL, e.Status, textutil.Summarize(e.Body, textutil.DefaultSummaryLen))
}
