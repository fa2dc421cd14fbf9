package auth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"skaha/internal/certificate"
	skahactx "skaha/internal/context"
	"skaha/internal/credential"
	"skaha/pkg/logging"
)

const (
	// AuthTypeHeader tells the server which credential kind is in use.
	AuthTypeHeader = "X-Skaha-Authentication-Type"

	// RegistryAuthHeader carries base64("username:secret") for the
	// configured container registry.
	RegistryAuthHeader = "X-Skaha-Registry-Auth"

	// refreshTimeout bounds a shared token refresh.
	refreshTimeout = 30 * time.Second
)

// Refresher renews an expired OIDC credential. *oidc.Engine implements it.
type Refresher interface {
	Refresh(ctx context.Context, cred credential.OIDC) (credential.OIDC, error)
}

// Binding is what a request needs to authenticate as a context: a TLS
// config for X.509, headers for bearer tokens.
type Binding struct {
	ContextName string
	Kind        credential.Kind
	// TLS is set for X.509 credentials only.
	TLS    *tls.Config
	Header http.Header
	// Expiry is meaningful when HasExpiry is set.
	Expiry    time.Time
	HasExpiry bool
}

// Expired reports whether the bound credential has expired at now. A
// binding without a known expiry never expires.
func (b *Binding) Expired(now time.Time) bool {
	return b.HasExpiry && !now.Before(b.Expiry)
}

// Apply adds the binding headers to req.
func (b *Binding) Apply(req *http.Request) {
	for k, v := range b.Header {
		req.Header[k] = append([]string(nil), v...)
	}
}

// Binder resolves contexts from a store into Bindings, refreshing OIDC
// credentials when needed.
type Binder struct {
	store     *skahactx.Store
	refresher Refresher
	now       func() time.Time
	roots     *x509.CertPool
	logger    *slog.Logger
	registry  *skahactx.ContainerRegistry
	group     singleflight.Group
}

// BinderOption configures a Binder.
type BinderOption func(*Binder)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) BinderOption {
	return func(b *Binder) {
		b.now = now
	}
}

// WithRootCAs sets the CA pool used to verify servers for X.509 bindings.
func WithRootCAs(roots *x509.CertPool) BinderOption {
	return func(b *Binder) {
		b.roots = roots
	}
}

// WithRegistry sets container registry credentials that take precedence
// over the ones saved in the store. nil keeps the stored ones.
func WithRegistry(r *skahactx.ContainerRegistry) BinderOption {
	return func(b *Binder) {
		b.registry = r
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) BinderOption {
	return func(b *Binder) {
		b.logger = logger
	}
}

// NewBinder creates a Binder over store. refresher may be nil, in which
// case expired OIDC credentials always require a new login.
func NewBinder(store *skahactx.Store, refresher Refresher, opts ...BinderOption) *Binder {
	b := &Binder{
		store:     store,
		refresher: refresher,
		now:       time.Now,
		logger:    logging.Logger("Auth"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Store returns the store the binder reads from.
func (b *Binder) Store() *skahactx.Store {
	return b.store
}

// BindActive binds the active context.
func (b *Binder) BindActive(ctx context.Context) (*Binding, error) {
	name := b.store.ActiveName()
	if name == "" {
		return nil, &skahactx.NoActiveContextError{}
	}
	return b.Bind(ctx, name)
}

// Bind resolves the named context. X.509 credentials are checked before
// anything else happens; expired OIDC credentials are refreshed and the
// result is saved to the store.
func (b *Binder) Bind(ctx context.Context, name string) (*Binding, error) {
	c, err := b.store.Get(name)
	if err != nil {
		return nil, err
	}
	// Credentials are only ever bound to an https server.
	if err := c.Server.Validate(); err != nil {
		return nil, fmt.Errorf("context %q: %w", name, err)
	}

	switch cred := c.Credential.(type) {
	case credential.X509:
		return b.bindX509(c, cred)
	case credential.OIDC:
		if cred.ExpiredAt(b.now()) {
			refreshed, err := b.refresh(ctx, name, cred)
			if err != nil {
				return nil, err
			}
			cred = refreshed
		}
		return b.bindBearer(c, cred), nil
	case credential.Token:
		return b.bindBearer(c, cred), nil
	case credential.None, nil:
		return nil, &NotAuthenticatedError{Context: name}
	default:
		panic(fmt.Sprintf("auth: unhandled credential type %T", cred))
	}
}

func (b *Binder) bindX509(c *skahactx.Context, cred credential.X509) (*Binding, error) {
	parsed, err := certificate.Load(cred.Path)
	if err != nil {
		return nil, &ExpiredCredentialError{Context: c.Name, Err: err}
	}
	if !parsed.ValidAt(b.now()) {
		return nil, &ExpiredCredentialError{Context: c.Name}
	}
	tlsConfig, err := parsed.TLSConfig(b.roots)
	if err != nil {
		return nil, &ExpiredCredentialError{Context: c.Name, Err: err}
	}

	header := b.baseHeader(credential.KindX509)
	return &Binding{
		ContextName: c.Name,
		Kind:        credential.KindX509,
		TLS:         tlsConfig,
		Header:      header,
		Expiry:      parsed.NotAfter(),
		HasExpiry:   true,
	}, nil
}

func (b *Binder) bindBearer(c *skahactx.Context, cred credential.Credential) *Binding {
	header := b.baseHeader(cred.Kind())
	for k, v := range credential.Headers(cred) {
		header[k] = v
	}
	expiry, ok := credential.Expiry(cred)
	return &Binding{
		ContextName: c.Name,
		Kind:        cred.Kind(),
		Header:      header,
		Expiry:      expiry,
		HasExpiry:   ok,
	}
}

func (b *Binder) baseHeader(kind credential.Kind) http.Header {
	header := http.Header{}
	header.Set(AuthTypeHeader, string(kind))
	r := b.registry
	if r == nil {
		r = b.store.Registry()
	}
	if r != nil && r.Username != "" && !r.Secret.IsZero() {
		header.Set(RegistryAuthHeader, r.Encoded())
	}
	return header
}

// refresh renews an expired credential once per context even when several
// requests find it expired at the same time. The network call happens
// outside the store lock; only the swap is serialized. The shared call is
// detached from the cancellation of the caller that started it. Each caller
// stops waiting when its own ctx ends.
func (b *Binder) refresh(ctx context.Context, name string, cred credential.OIDC) (credential.OIDC, error) {
	if b.refresher == nil {
		return credential.OIDC{}, &ReauthenticationRequiredError{Context: name, Err: errors.New("token refresh is not available")}
	}

	ch := b.group.DoChan(name, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		refreshed, err := b.refresher.Refresh(rctx, cred)
		if err != nil {
			if rctx.Err() != nil {
				return nil, fmt.Errorf("context %q: token refresh timed out: %w", name, err)
			}
			logging.Audit("Auth", "token_refresh_failed", "context", name)
			return nil, &ReauthenticationRequiredError{Context: name, Err: err}
		}

		stored, err := b.store.UpdateCredential(name, func(current credential.Credential) (credential.Credential, error) {
			// Another process may have refreshed in the meantime.
			if o, ok := current.(credential.OIDC); ok && !o.ExpiredAt(b.now()) {
				return o, nil
			}
			return refreshed, nil
		})
		if err != nil {
			return nil, fmt.Errorf("context %q: failed to save refreshed credential: %w", name, err)
		}

		logging.Audit("Auth", "token_refreshed", "context", name)
		return stored, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return credential.OIDC{}, ctx.Err()
	case res = <-ch:
	}
	result, err, shared := res.Val, res.Err, res.Shared
	if err != nil {
		return credential.OIDC{}, err
	}
	if shared {
		b.logger.Debug("Joined in-flight token refresh", "context", name)
	}

	o, ok := result.(credential.OIDC)
	if !ok {
		return credential.OIDC{}, &ReauthenticationRequiredError{Context: name, Err: errors.New("credential changed kind during refresh")}
	}
	return o, nil
}
