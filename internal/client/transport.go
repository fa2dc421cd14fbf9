package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"skaha/internal/auth"
	"skaha/pkg/logging"
)

// RequestIDHeader correlates a request with server side logs.
const RequestIDHeader = "X-Request-Id"

// authTransport authenticates every request with the cached binding of one
// context. The binding is resolved again only once it has expired or has
// been invalidated, for example after the certificate file changed.
type authTransport struct {
	binder  *auth.Binder
	name    string
	opts    Options
	now     func() time.Time
	logger  *slog.Logger
	mu      sync.RWMutex
	binding *auth.Binding
	base    *http.Transport
	stale   bool
}

func newTransport(ctx context.Context, binder *auth.Binder, name string, opts Options, now func() time.Time, logger *slog.Logger) (*authTransport, error) {
	var (
		binding *auth.Binding
		err     error
	)
	if name == "" {
		binding, err = binder.BindActive(ctx)
	} else {
		binding, err = binder.Bind(ctx, name)
	}
	if err != nil {
		return nil, err
	}

	return &authTransport{
		binder:  binder,
		name:    binding.ContextName,
		opts:    opts,
		now:     now,
		logger:  logger,
		binding: binding,
		base:    newBaseTransport(binding.TLS, opts),
	}, nil
}

// newBaseTransport returns a pooled transport that never negotiates below
// TLS 1.2.
func newBaseTransport(tlsConfig *tls.Config, opts Options) *http.Transport {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	} else {
		tlsConfig = tlsConfig.Clone()
		if tlsConfig.MinVersion < tls.VersionTLS12 {
			tlsConfig.MinVersion = tls.VersionTLS12
		}
	}
	if tlsConfig.RootCAs == nil {
		tlsConfig.RootCAs = opts.RootCAs
	}

	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     tlsConfig,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        opts.Concurrency,
		MaxIdleConnsPerHost: opts.Concurrency,
		MaxConnsPerHost:     opts.Concurrency,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// current returns the binding to use, rebinding when it has expired.
func (t *authTransport) current(ctx context.Context) (*auth.Binding, *http.Transport, error) {
	t.mu.RLock()
	binding, base, stale := t.binding, t.base, t.stale
	t.mu.RUnlock()
	if !stale && !binding.Expired(t.now()) {
		return binding, base, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stale && !t.binding.Expired(t.now()) {
		return t.binding, t.base, nil
	}

	next, err := t.binder.Bind(ctx, t.name)
	if err != nil {
		return nil, nil, err
	}
	if next.TLS != nil || t.binding.TLS != nil {
		t.base.CloseIdleConnections()
		t.base = newBaseTransport(next.TLS, t.opts)
	}
	t.binding = next
	t.stale = false
	t.logger.Debug("Rebound credential", "context", t.name, "kind", string(next.Kind))
	return t.binding, t.base, nil
}

// invalidate forces a rebind before the next request.
func (t *authTransport) invalidate() {
	t.mu.Lock()
	t.stale = true
	t.mu.Unlock()
	t.logger.Debug("Credential invalidated", "context", t.name)
}

func (t *authTransport) snapshot() *auth.Binding {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.binding
}

// RoundTrip implements http.RoundTripper.
func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, fmt.Errorf("context %q: refusing to send credentials over %s to %s", t.name, req.URL.Scheme, req.URL.Redacted())
	}

	binding, base, err := t.current(req.Context())
	if err != nil {
		return nil, err
	}

	// Clone the request to avoid modifying the original
	reqCopy := req.Clone(req.Context())
	binding.Apply(reqCopy)
	if reqCopy.Header.Get("User-Agent") == "" {
		reqCopy.Header.Set("User-Agent", t.opts.UserAgent)
	}
	if reqCopy.Header.Get(RequestIDHeader) == "" {
		reqCopy.Header.Set(RequestIDHeader, uuid.NewString())
	}

	start := t.now()
	resp, err := base.RoundTrip(reqCopy)
	if err != nil {
		t.logger.Warn("Request failed",
			"context", t.name,
			"method", reqCopy.Method,
			"url", reqCopy.URL.Redacted(),
			"request_id", reqCopy.Header.Get(RequestIDHeader),
			"headers", redactHeaders(reqCopy.Header),
			"error", err)
		return nil, err
	}
	if resp.StatusCode >= 400 {
		t.logger.Warn("Request returned an error status",
			"context", t.name,
			"method", reqCopy.Method,
			"url", reqCopy.URL.Redacted(),
			"status", resp.StatusCode,
			"request_id", reqCopy.Header.Get(RequestIDHeader),
			"duration", t.now().Sub(start),
			"headers", redactHeaders(reqCopy.Header))
	}
	return resp, nil
}

func (t *authTransport) close() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.base.CloseIdleConnections()
}

// redactHeaders flattens h for logging with every credential-bearing value
// replaced by logging.Redacted.
func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if isSensitiveHeader(k) {
			out[k] = logging.Redacted
			continue
		}
		out[k] = strings.Join(v, ", ")
	}
	return out
}

func isSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	return logging.IsSensitiveKey(name) ||
		strings.Contains(lower, "auth") ||
		strings.Contains(lower, "token") ||
		strings.Contains(lower, "cookie")
}
