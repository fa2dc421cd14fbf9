package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"skaha/pkg/logging"
	"skaha/pkg/secret"
)

const (
	// DefaultHTTPTimeout is the default timeout for provider requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultInterval is the poll interval when the provider does not send one.
	DefaultInterval = 5 * time.Second

	// DefaultSlowDownStep is added to the interval on every slow_down reply.
	DefaultSlowDownStep = 5 * time.Second

	// DefaultDeviceCodeLifetime applies when the provider omits expires_in.
	DefaultDeviceCodeLifetime = 10 * time.Minute

	// DefaultTokenLifetime applies when neither expires_in nor the JWT exp
	// claim tells how long an access token lives.
	DefaultTokenLifetime = 5 * time.Minute

	// DefaultMetadataCacheTTL is how long a discovered provider is reused.
	DefaultMetadataCacheTTL = 30 * time.Minute

	maxResponseSize = 1 << 20
)

// DefaultDiscoveryURL is the SKA IAM provider used by the SRCnet servers.
const DefaultDiscoveryURL = "https://ska-iam.stfc.ac.uk/.well-known/openid-configuration"

// DefaultScopes are requested when none are configured.
var DefaultScopes = []string{"openid", "profile", "email", "offline_access"}

// Sleeper waits for d or until ctx is done, whichever is first.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type providerCacheEntry struct {
	provider  *Provider
	fetchedAt time.Time
}

// Engine runs the OIDC device flow and token refresh. It is safe for
// concurrent use; separate logins share nothing but the discovery cache.
type Engine struct {
	httpClient   *http.Client
	logger       *slog.Logger
	now          func() time.Time
	sleep        Sleeper
	scopes       []string
	slowDownStep time.Duration
	clientName   string
	observer     Observer

	cacheMu  sync.RWMutex
	cache    map[string]*providerCacheEntry
	cacheTTL time.Duration
	group    singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient sets the HTTP client used for every provider request.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(e *Engine) {
		e.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithSleeper replaces the wait between polls, mainly for tests.
func WithSleeper(sleep Sleeper) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// WithScopes sets the scopes requested at device authorization.
func WithScopes(scopes ...string) Option {
	return func(e *Engine) {
		e.scopes = scopes
	}
}

// WithSlowDownStep sets how much a slow_down reply adds to the interval.
func WithSlowDownStep(step time.Duration) Option {
	return func(e *Engine) {
		e.slowDownStep = step
	}
}

// WithClientName sets the client_name sent on dynamic registration.
func WithClientName(name string) Option {
	return func(e *Engine) {
		e.clientName = name
	}
}

// WithObserver registers a callback for login state transitions.
func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		e.observer = observer
	}
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		httpClient:   &http.Client{Timeout: DefaultHTTPTimeout},
		logger:       logging.Logger("OIDC"),
		now:          time.Now,
		sleep:        sleepContext,
		scopes:       DefaultScopes,
		slowDownStep: DefaultSlowDownStep,
		cache:        make(map[string]*providerCacheEntry),
		cacheTTL:     DefaultMetadataCacheTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.clientName == "" {
		host, _ := os.Hostname()
		e.clientName = fmt.Sprintf("Science Platform CLI @ %s %s", host, e.now().Format("2006-01-02"))
	}
	return e
}

func (e *Engine) observe(state State, auth *DeviceAuthorization) {
	e.logger.Debug("Device flow state", "state", state.String())
	if e.observer != nil {
		e.observer(state, auth)
	}
}

// clientContext makes go-oidc and oauth2 use the engine's HTTP client.
func (e *Engine) clientContext(ctx context.Context) context.Context {
	ctx = gooidc.ClientContext(ctx, e.httpClient)
	return context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
}

// issuerFromURL accepts either an issuer or its discovery document URL.
func issuerFromURL(discoveryURL string) string {
	issuer := strings.TrimSuffix(discoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	return strings.TrimSuffix(issuer, "/")
}

// Discover fetches the provider configuration. Results are cached per issuer
// and concurrent lookups of the same issuer share one request.
func (e *Engine) Discover(ctx context.Context, discoveryURL string) (*Provider, error) {
	issuer := issuerFromURL(discoveryURL)

	if p := e.cached(issuer); p != nil {
		return p, nil
	}

	result, err, _ := e.group.Do(issuer, func() (interface{}, error) {
		if p := e.cached(issuer); p != nil {
			return p, nil
		}
		return e.doDiscover(ctx, issuer)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Provider), nil
}

func (e *Engine) cached(issuer string) *Provider {
	e.cacheMu.RLock()
	defer e.cacheMu.RUnlock()
	if entry, ok := e.cache[issuer]; ok && e.now().Sub(entry.fetchedAt) < e.cacheTTL {
		return entry.provider
	}
	return nil
}

func (e *Engine) doDiscover(ctx context.Context, issuer string) (*Provider, error) {
	wellKnown := issuer + "/.well-known/openid-configuration"

	op, err := gooidc.NewProvider(e.clientContext(ctx), issuer)
	if err != nil {
		return nil, &DiscoveryError{URL: wellKnown, Err: err}
	}

	var claims providerClaims
	if err := op.Claims(&claims); err != nil {
		return nil, &DiscoveryError{URL: wellKnown, Err: err}
	}
	if claims.TokenEndpoint == "" {
		return nil, &DiscoveryError{URL: wellKnown, Reason: "provider has no token endpoint"}
	}
	if claims.DeviceAuthorizationEndpoint == "" {
		return nil, &DiscoveryError{URL: wellKnown, Reason: "provider does not support the device authorization grant"}
	}

	p := &Provider{
		Issuer:                      issuer,
		DiscoveryURL:                wellKnown,
		TokenEndpoint:               claims.TokenEndpoint,
		DeviceAuthorizationEndpoint: claims.DeviceAuthorizationEndpoint,
		RegistrationEndpoint:        claims.RegistrationEndpoint,
		UserinfoEndpoint:            claims.UserinfoEndpoint,
		ScopesSupported:             claims.ScopesSupported,
		oidc:                        op,
	}

	e.cacheMu.Lock()
	e.cache[issuer] = &providerCacheEntry{provider: p, fetchedAt: e.now()}
	e.cacheMu.Unlock()

	e.logger.Debug("Discovered OIDC provider",
		"issuer", issuer,
		"token_endpoint", p.TokenEndpoint,
		"device_authorization_endpoint", p.DeviceAuthorizationEndpoint)
	return p, nil
}

// Register performs RFC 7591 dynamic client registration for a client that
// may use the device code and refresh token grants.
func (e *Engine) Register(ctx context.Context, provider *Provider) (Client, error) {
	if provider.RegistrationEndpoint == "" {
		return Client{}, &AuthorizationError{Stage: "register", Code: "unsupported", Description: "provider does not allow dynamic client registration"}
	}

	payload, err := json.Marshal(map[string]any{
		"client_name":                e.clientName,
		"grant_types":                []string{"urn:ietf:params:oauth:grant-type:device_code", "refresh_token"},
		"token_endpoint_auth_method": "client_secret_basic",
		"scope":                      strings.Join(e.scopes, " "),
	})
	if err != nil {
		return Client{}, &AuthorizationError{Stage: "register", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.RegistrationEndpoint, bytes.NewReader(payload))
	if err != nil {
		return Client{}, &AuthorizationError{Stage: "register", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Client{}, &AuthorizationError{Stage: "register", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Client{}, &AuthorizationError{Stage: "register", Err: err}
	}

	var reg registrationResponse
	if err := json.Unmarshal(body, &reg); err != nil && resp.StatusCode < 300 {
		return Client{}, &AuthorizationError{Stage: "register", Err: fmt.Errorf("failed to parse registration response: %w", err)}
	}
	if resp.StatusCode >= 300 || reg.Error != "" {
		code := reg.Error
		if code == "" {
			code = fmt.Sprintf("http_%d", resp.StatusCode)
		}
		return Client{}, &AuthorizationError{Stage: "register", Code: code, Description: reg.ErrorDescription}
	}
	if reg.ClientID == "" {
		return Client{}, &AuthorizationError{Stage: "register", Code: "invalid_response", Description: "no client_id returned"}
	}

	e.logger.Info("Registered OIDC client", "issuer", provider.Issuer, "client_id", reg.ClientID)
	return Client{ID: reg.ClientID, Secret: secret.New(reg.ClientSecret)}, nil
}

func (e *Engine) oauthConfig(tokenEndpoint, deviceEndpoint string, client Client, scopes []string) *oauth2.Config {
	style := oauth2.AuthStyleInParams
	if !client.Secret.IsZero() {
		style = oauth2.AuthStyleInHeader
	}
	return &oauth2.Config{
		ClientID:     client.ID,
		ClientSecret: client.Secret.Reveal(),
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:      tokenEndpoint,
			DeviceAuthURL: deviceEndpoint,
			AuthStyle:     style,
		},
	}
}

// Authorize starts the device flow and returns the codes to show the user.
func (e *Engine) Authorize(ctx context.Context, provider *Provider, client Client) (*DeviceAuthorization, error) {
	cfg := e.oauthConfig(provider.TokenEndpoint, provider.DeviceAuthorizationEndpoint, client, e.scopes)

	var opts []oauth2.AuthCodeOption
	if !client.Secret.IsZero() {
		opts = append(opts, oauth2.SetAuthURLParam("client_secret", client.Secret.Reveal()))
	}

	resp, err := cfg.DeviceAuth(e.clientContext(ctx), opts...)
	if err != nil {
		return nil, authorizationError("device_authorize", err)
	}

	interval := time.Duration(resp.Interval) * time.Second
	if interval <= 0 {
		interval = DefaultInterval
	}
	lifetime := DefaultDeviceCodeLifetime
	if !resp.Expiry.IsZero() {
		lifetime = time.Until(resp.Expiry).Round(time.Second)
	}

	return &DeviceAuthorization{
		DeviceCode:              secret.New(resp.DeviceCode),
		UserCode:                resp.UserCode,
		VerificationURI:         resp.VerificationURI,
		VerificationURIComplete: resp.VerificationURIComplete,
		Interval:                interval,
		ExpiresAt:               e.now().Add(lifetime),
	}, nil
}

func authorizationError(stage string, err error) error {
	code, description, ok := retrieveErrorCode(err)
	if !ok {
		return &AuthorizationError{Stage: stage, Err: err}
	}
	return &AuthorizationError{Stage: stage, Code: code, Description: description, Err: err}
}

// retrieveErrorCode pulls the OAuth error code out of an oauth2 failure.
// Some oauth2 paths leave ErrorCode empty, so the body is parsed as well.
func retrieveErrorCode(err error) (code, description string, ok bool) {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return "", "", false
	}
	code, description = re.ErrorCode, re.ErrorDescription
	if code == "" && len(re.Body) > 0 {
		var body tokenResponse
		if json.Unmarshal(re.Body, &body) == nil {
			code, description = body.Error, body.ErrorDescription
		}
	}
	if code == "" && re.Response != nil {
		code = fmt.Sprintf("http_%d", re.Response.StatusCode)
	}
	return code, description, true
}
