package oidc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manual clock whose sleeper advances time instantly.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type jsonReply struct {
	status int
	body   map[string]any
}

// fakeProvider is an OpenID provider supporting discovery, registration,
// the device grant, refresh and userinfo.
type fakeProvider struct {
	*httptest.Server

	mu              sync.Mutex
	noDevice        bool
	noRegistration  bool
	deviceExpiresIn int
	deviceInterval  int
	deviceReply     *jsonReply
	registerReply   *jsonReply
	pollReplies     []jsonReply
	refreshReply    jsonReply
	discoveryHits   int
	deviceForms     []url.Values
	pollForms       []url.Values
	pollBasicAuth   []string
	refreshForms    []url.Values
	refreshAuth     []string
	registerBodies  []map[string]any
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{
		deviceExpiresIn: 600,
		deviceInterval:  5,
		pollReplies: []jsonReply{{status: http.StatusOK, body: map[string]any{
			"access_token":       "access-1",
			"refresh_token":      "refresh-1",
			"token_type":         "Bearer",
			"expires_in":         3600,
			"refresh_expires_in": 86400,
		}}},
		refreshReply: jsonReply{status: http.StatusOK, body: map[string]any{
			"access_token":       "access-2",
			"refresh_token":      "refresh-2",
			"token_type":         "Bearer",
			"expires_in":         300,
			"refresh_expires_in": 1800,
		}},
	}
	p.Server = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.Close)
	return p
}

func (p *fakeProvider) script(replies ...jsonReply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pollReplies = replies
}

func oauthError(code string) jsonReply {
	return jsonReply{status: http.StatusBadRequest, body: map[string]any{"error": code}}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (p *fakeProvider) serve(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch r.URL.Path {
	case "/.well-known/openid-configuration":
		p.discoveryHits++
		doc := map[string]any{
			"issuer":                 p.URL,
			"authorization_endpoint": p.URL + "/authorize",
			"token_endpoint":         p.URL + "/token",
			"userinfo_endpoint":      p.URL + "/userinfo",
			"jwks_uri":               p.URL + "/jwks",
			"scopes_supported":       []string{"openid", "profile", "email", "offline_access"},
		}
		if !p.noDevice {
			doc["device_authorization_endpoint"] = p.URL + "/device"
		}
		if !p.noRegistration {
			doc["registration_endpoint"] = p.URL + "/register"
		}
		writeJSON(w, http.StatusOK, doc)

	case "/register":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		p.registerBodies = append(p.registerBodies, body)
		if p.registerReply != nil {
			writeJSON(w, p.registerReply.status, p.registerReply.body)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"client_id": "registered-client", "client_secret": "registered-secret"})

	case "/device":
		_ = r.ParseForm()
		p.deviceForms = append(p.deviceForms, r.PostForm)
		if p.deviceReply != nil {
			writeJSON(w, p.deviceReply.status, p.deviceReply.body)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"device_code":               "device-code-1",
			"user_code":                 "ABCD-EFGH",
			"verification_uri":          p.URL + "/activate",
			"verification_uri_complete": p.URL + "/activate?user_code=ABCD-EFGH",
			"expires_in":                p.deviceExpiresIn,
			"interval":                  p.deviceInterval,
		})

	case "/token":
		_ = r.ParseForm()
		user, pass, _ := r.BasicAuth()
		switch r.PostForm.Get("grant_type") {
		case deviceCodeGrantType:
			p.pollForms = append(p.pollForms, r.PostForm)
			p.pollBasicAuth = append(p.pollBasicAuth, user+":"+pass)
			reply := p.pollReplies[0]
			if len(p.pollReplies) > 1 {
				p.pollReplies = p.pollReplies[1:]
			}
			writeJSON(w, reply.status, reply.body)
		case "refresh_token":
			p.refreshForms = append(p.refreshForms, r.PostForm)
			p.refreshAuth = append(p.refreshAuth, user+":"+pass)
			writeJSON(w, p.refreshReply.status, p.refreshReply.body)
		default:
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
		}

	case "/userinfo":
		if r.Header.Get("Authorization") != "Bearer access-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sub": "1234", "preferred_username": "alice", "email": "alice@example.org"})

	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "not found")
	}
}

func (p *fakeProvider) pollCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pollForms)
}

func newTestEngine(clock *fakeClock, opts ...Option) *Engine {
	base := []Option{
		WithClock(clock.Now),
		WithSleeper(clock.Sleep),
		WithClientName("test-client"),
	}
	return NewEngine(append(base, opts...)...)
}

// startFlow discovers p and requests a device code for a fixed client.
func startFlow(t *testing.T, e *Engine, p *fakeProvider) (*Provider, Client, *DeviceAuthorization) {
	t.Helper()
	ctx := context.Background()
	provider, err := e.Discover(ctx, p.URL)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	client := Client{ID: "cli"}
	auth, err := e.Authorize(ctx, provider, client)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	return provider, client, auth
}

func (p *fakeProvider) discoveryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoveryHits
}

func (p *fakeProvider) registerBody(i int) map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registerBodies[i]
}

func (p *fakeProvider) deviceForm(i int) url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deviceForms[i]
}

func (p *fakeProvider) pollForm(i int) (url.Values, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pollForms[i], p.pollBasicAuth[i]
}

func (p *fakeProvider) refreshRequests() ([]url.Values, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]url.Values(nil), p.refreshForms...), append([]string(nil), p.refreshAuth...)
}
