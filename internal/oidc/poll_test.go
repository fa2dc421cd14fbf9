package oidc

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"testing"
	"time"
)

var issuedReply = jsonReply{status: http.StatusOK, body: map[string]any{
	"access_token":       "access-1",
	"refresh_token":      "refresh-1",
	"token_type":         "Bearer",
	"expires_in":         3600,
	"refresh_expires_in": 86400,
}}

func TestPoll(t *testing.T) {
	t.Run("backs off on slow_down and issues tokens", func(t *testing.T) {
		p := newFakeProvider(t)
		p.script(oauthError("authorization_pending"), oauthError("slow_down"), oauthError("slow_down"), issuedReply)
		clock := newFakeClock()
		e := newTestEngine(clock)
		provider, client, auth := startFlow(t, e, p)
		start := clock.Now()

		cred, err := e.Poll(context.Background(), provider, client, auth)
		if err != nil {
			t.Fatalf("Poll() error = %v", err)
		}

		want := []time.Duration{5 * time.Second, 5 * time.Second, 10 * time.Second, 15 * time.Second}
		if got := clock.Sleeps(); !reflect.DeepEqual(got, want) {
			t.Errorf("sleeps = %v, want %v", got, want)
		}
		sleeps := clock.Sleeps()
		for i := 2; i < len(sleeps); i++ {
			if sleeps[i] <= sleeps[i-1] {
				t.Errorf("interval did not grow after slow_down: %v", sleeps)
			}
		}

		if cred.AccessToken.Reveal() != "access-1" || cred.RefreshToken.Reveal() != "refresh-1" {
			t.Error("unexpected tokens")
		}
		if want := start.Add(35 * time.Second); !cred.IssuedAt.Equal(want) {
			t.Errorf("IssuedAt = %v, want %v", cred.IssuedAt, want)
		}
		if cred.ExpiresIn != 3600 {
			t.Errorf("ExpiresIn = %d", cred.ExpiresIn)
		}
		if want := cred.IssuedAt.Add(24 * time.Hour); !cred.RefreshExpiresAt.Equal(want) {
			t.Errorf("RefreshExpiresAt = %v, want %v", cred.RefreshExpiresAt, want)
		}
		if cred.TokenEndpoint != p.URL+"/token" || cred.ClientID != "cli" {
			t.Errorf("unexpected endpoint fields %q %q", cred.TokenEndpoint, cred.ClientID)
		}
		if cred.DiscoveryURL != p.URL+"/.well-known/openid-configuration" {
			t.Errorf("DiscoveryURL = %q", cred.DiscoveryURL)
		}
		if cred.ExpiredAt(clock.Now()) {
			t.Error("fresh credential should not be expired")
		}

		form, _ := p.pollForm(0)
		if form.Get("device_code") != "device-code-1" || form.Get("client_id") != "cli" {
			t.Errorf("unexpected poll form %v", form)
		}
	})

	t.Run("times out at the device code expiry", func(t *testing.T) {
		p := newFakeProvider(t)
		p.deviceExpiresIn = 30
		p.script(oauthError("authorization_pending"))
		clock := newFakeClock()
		e := newTestEngine(clock)
		provider, client, auth := startFlow(t, e, p)
		start := clock.Now()

		_, err := e.Poll(context.Background(), provider, client, auth)
		var te *PollTimeoutError
		if !errors.As(err, &te) {
			t.Fatalf("expected PollTimeoutError, got %v", err)
		}
		if elapsed := clock.Now().Sub(start); elapsed != 30*time.Second {
			t.Errorf("gave up after %v, want 30s", elapsed)
		}
		if te.Elapsed != 30*time.Second {
			t.Errorf("Elapsed = %v", te.Elapsed)
		}
		if n := p.pollCount(); n != 5 {
			t.Errorf("expected 5 polls, got %d", n)
		}
	})

	t.Run("never sleeps past the deadline", func(t *testing.T) {
		p := newFakeProvider(t)
		p.deviceExpiresIn = 12
		p.script(oauthError("authorization_pending"))
		clock := newFakeClock()
		e := newTestEngine(clock)
		provider, client, auth := startFlow(t, e, p)

		_, err := e.Poll(context.Background(), provider, client, auth)
		var te *PollTimeoutError
		if !errors.As(err, &te) {
			t.Fatalf("expected PollTimeoutError, got %v", err)
		}
		want := []time.Duration{5 * time.Second, 5 * time.Second, 2 * time.Second}
		if got := clock.Sleeps(); !reflect.DeepEqual(got, want) {
			t.Errorf("sleeps = %v, want %v", got, want)
		}
	})

	terminal := []struct {
		name  string
		reply jsonReply
		check func(error) bool
	}{
		{"expired_token", oauthError("expired_token"), func(err error) bool {
			var target *ExpiredTokenError
			return errors.As(err, &target)
		}},
		{"access_denied", oauthError("access_denied"), func(err error) bool {
			var target *AccessDeniedError
			return errors.As(err, &target)
		}},
		{"other errors", oauthError("invalid_grant"), func(err error) bool {
			var target *AuthorizationError
			return errors.As(err, &target) && target.Stage == "poll" && target.Code == "invalid_grant"
		}},
	}
	for _, tt := range terminal {
		t.Run("stops on "+tt.name, func(t *testing.T) {
			p := newFakeProvider(t)
			p.script(oauthError("authorization_pending"), tt.reply)
			e := newTestEngine(newFakeClock())
			provider, client, auth := startFlow(t, e, p)

			_, err := e.Poll(context.Background(), provider, client, auth)
			if !tt.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
			if n := p.pollCount(); n != 2 {
				t.Errorf("expected 2 polls, got %d", n)
			}
		})
	}

	t.Run("stops when cancelled", func(t *testing.T) {
		p := newFakeProvider(t)
		p.script(oauthError("authorization_pending"))
		e := newTestEngine(newFakeClock())
		provider, client, auth := startFlow(t, e, p)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := e.Poll(ctx, provider, client, auth)
		var ce *CancelledError
		if !errors.As(err, &ce) {
			t.Fatalf("expected CancelledError, got %v", err)
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled in chain, got %v", err)
		}
		if n := p.pollCount(); n != 0 {
			t.Errorf("expected no polls, got %d", n)
		}
	})

	t.Run("sends client credentials with basic auth", func(t *testing.T) {
		p := newFakeProvider(t)
		e := newTestEngine(newFakeClock())
		provider, err := e.Discover(context.Background(), p.URL)
		if err != nil {
			t.Fatalf("Discover() error = %v", err)
		}
		client, err := e.Register(context.Background(), provider)
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		auth, err := e.Authorize(context.Background(), provider, client)
		if err != nil {
			t.Fatalf("Authorize() error = %v", err)
		}

		cred, err := e.Poll(context.Background(), provider, client, auth)
		if err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
		if _, basic := p.pollForm(0); basic != "registered-client:registered-secret" {
			t.Errorf("basic auth = %q", basic)
		}
		if cred.ClientSecret.Reveal() != "registered-secret" {
			t.Error("client secret not kept on credential")
		}
	})

	t.Run("reports provider outages", func(t *testing.T) {
		p := newFakeProvider(t)
		p.script(jsonReply{status: http.StatusBadGateway, body: map[string]any{}})
		e := newTestEngine(newFakeClock())
		provider, client, auth := startFlow(t, e, p)

		_, err := e.Poll(context.Background(), provider, client, auth)
		var ae *AuthorizationError
		if !errors.As(err, &ae) || ae.Stage != "poll" {
			t.Fatalf("expected poll AuthorizationError, got %v", err)
		}
	})
}

func TestPollAsync(t *testing.T) {
	p := newFakeProvider(t)
	p.script(oauthError("authorization_pending"), issuedReply)
	e := newTestEngine(newFakeClock())
	provider, client, auth := startFlow(t, e, p)

	select {
	case res := <-e.PollAsync(context.Background(), provider, client, auth):
		if res.Err != nil {
			t.Fatalf("PollAsync() error = %v", res.Err)
		}
		if res.Credential.AccessToken.Reveal() != "access-1" {
			t.Error("unexpected access token")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("PollAsync did not deliver a result")
	}
}
