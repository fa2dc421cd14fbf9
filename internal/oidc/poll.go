package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"skaha/internal/credential"
	"skaha/pkg/logging"
	"skaha/pkg/secret"
)

const deviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// PollResult is delivered by PollAsync.
type PollResult struct {
	Credential credential.OIDC
	Err        error
}

// Poll waits for the user to approve auth and returns the issued
// credential. It waits at least the provider interval before every request,
// grows the interval on slow_down and gives up at auth.ExpiresAt.
func (e *Engine) Poll(ctx context.Context, provider *Provider, client Client, auth *DeviceAuthorization) (credential.OIDC, error) {
	start := e.now()
	interval := auth.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	e.observe(StatePolling, auth)

	for attempt := 1; ; attempt++ {
		remaining := auth.ExpiresAt.Sub(e.now())
		if remaining <= 0 {
			e.observe(StateTimedOut, auth)
			return credential.OIDC{}, &PollTimeoutError{Elapsed: e.now().Sub(start)}
		}

		if err := e.sleep(ctx, min(interval, remaining)); err != nil {
			e.observe(StateCancelled, auth)
			return credential.OIDC{}, &CancelledError{Err: cancelCause(ctx, err)}
		}
		if !e.now().Before(auth.ExpiresAt) {
			e.observe(StateTimedOut, auth)
			return credential.OIDC{}, &PollTimeoutError{Elapsed: e.now().Sub(start)}
		}

		tok, err := e.requestDeviceToken(ctx, provider.TokenEndpoint, client, auth.DeviceCode)
		if err != nil {
			if ctx.Err() != nil {
				e.observe(StateCancelled, auth)
				return credential.OIDC{}, &CancelledError{Err: ctx.Err()}
			}
			return credential.OIDC{}, &AuthorizationError{Stage: "poll", Err: err}
		}

		switch tok.Error {
		case "":
			cred := e.issue(provider, client, tok)
			e.observe(StateIssued, auth)
			logging.Audit("OIDC", "device_authorization_granted", "issuer", provider.Issuer, "attempts", attempt)
			return cred, nil
		case "authorization_pending":
			e.logger.Debug("Authorization pending", "attempt", attempt, "interval", interval)
		case "slow_down":
			interval += e.slowDownStep
			e.logger.Debug("Provider asked to slow down", "attempt", attempt, "interval", interval)
		case "expired_token":
			e.observe(StateExpired, auth)
			return credential.OIDC{}, &ExpiredTokenError{}
		case "access_denied":
			e.observe(StateDenied, auth)
			logging.Audit("OIDC", "device_authorization_denied", "issuer", provider.Issuer)
			return credential.OIDC{}, &AccessDeniedError{}
		default:
			return credential.OIDC{}, &AuthorizationError{Stage: "poll", Code: tok.Error, Description: tok.ErrorDescription}
		}
	}
}

// PollAsync runs Poll in its own goroutine. The channel receives exactly one
// result and is then closed.
func (e *Engine) PollAsync(ctx context.Context, provider *Provider, client Client, auth *DeviceAuthorization) <-chan PollResult {
	ch := make(chan PollResult, 1)
	go func() {
		defer close(ch)
		cred, err := e.Poll(ctx, provider, client, auth)
		ch <- PollResult{Credential: cred, Err: err}
	}()
	return ch
}

func cancelCause(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// requestDeviceToken makes one token request. OAuth error replies are
// returned in the response, not as an error.
func (e *Engine) requestDeviceToken(ctx context.Context, tokenEndpoint string, client Client, deviceCode secret.Secret) (*tokenResponse, error) {
	data := url.Values{
		"grant_type":  {deviceCodeGrantType},
		"device_code": {deviceCode.Reveal()},
		"client_id":   {client.ID},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if !client.Secret.IsZero() {
		req.SetBasicAuth(url.QueryEscape(client.ID), url.QueryEscape(client.Secret.Reveal()))
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		e.logger.Debug("Token response is not JSON", "status", resp.StatusCode)
		return nil, fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && tok.Error == "" {
		return nil, fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}
	if tok.Error == "" && tok.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}
	return &tok, nil
}

// issue builds the credential for a successful token response.
func (e *Engine) issue(provider *Provider, client Client, tok *tokenResponse) credential.OIDC {
	now := e.now()
	cred := credential.OIDC{
		DiscoveryURL:     provider.DiscoveryURL,
		TokenEndpoint:    provider.TokenEndpoint,
		DeviceEndpoint:   provider.DeviceAuthorizationEndpoint,
		UserinfoEndpoint: provider.UserinfoEndpoint,
		ClientID:         client.ID,
		ClientSecret:     client.Secret,
		Scopes:           append([]string(nil), e.scopes...),
	}
	return cred.WithTokens(
		secret.New(tok.AccessToken),
		secret.New(tok.RefreshToken),
		now,
		accessLifetime(tok.AccessToken, tok.ExpiresIn, now),
		refreshExpiry(tok.RefreshToken, tok.RefreshExpiresIn, now),
	)
}

// accessLifetime returns the access token lifetime in seconds, preferring
// expires_in, then the JWT exp claim, then DefaultTokenLifetime.
func accessLifetime(accessToken string, expiresIn int64, now time.Time) int64 {
	if expiresIn > 0 {
		return expiresIn
	}
	if exp, err := credential.JWTExpiry(accessToken); err == nil {
		if secs := int64(exp.Sub(now) / time.Second); secs > 0 {
			return secs
		}
	}
	return int64(DefaultTokenLifetime / time.Second)
}

// refreshExpiry returns when the refresh token stops working, or zero when
// that is unknown.
func refreshExpiry(refreshToken string, refreshExpiresIn int64, now time.Time) time.Time {
	if refreshToken == "" {
		return time.Time{}
	}
	if refreshExpiresIn > 0 {
		return now.Add(time.Duration(refreshExpiresIn) * time.Second)
	}
	if exp, err := credential.JWTExpiry(refreshToken); err == nil {
		return exp
	}
	return time.Time{}
}
