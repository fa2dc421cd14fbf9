package oidc

import (
	"context"
	"math"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"skaha/internal/credential"
	"skaha/pkg/secret"
)

// RefreshResult is delivered by RefreshAsync.
type RefreshResult struct {
	Credential credential.OIDC
	Err        error
}

// Refresh exchanges the refresh token of cred for a new token pair and
// returns an updated copy. cred itself is not modified.
func (e *Engine) Refresh(ctx context.Context, cred credential.OIDC) (credential.OIDC, error) {
	now := e.now()
	if cred.RefreshToken.IsZero() {
		return credential.OIDC{}, &RefreshError{Code: "no_refresh_token", Description: "credential has no refresh token"}
	}
	if !cred.CanRefresh(now) {
		return credential.OIDC{}, &RefreshError{Code: "refresh_token_expired", Description: "refresh token expired at " + cred.RefreshExpiresAt.UTC().Format(time.RFC3339)}
	}

	tokenEndpoint := cred.TokenEndpoint
	if tokenEndpoint == "" {
		provider, err := e.Discover(ctx, cred.DiscoveryURL)
		if err != nil {
			return credential.OIDC{}, &RefreshError{Err: err}
		}
		tokenEndpoint = provider.TokenEndpoint
	}

	client := Client{ID: cred.ClientID, Secret: cred.ClientSecret}
	cfg := e.oauthConfig(tokenEndpoint, cred.DeviceEndpoint, client, cred.Scopes)

	tok, err := cfg.TokenSource(e.clientContext(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken.Reveal()}).Token()
	if err != nil {
		if code, description, ok := retrieveErrorCode(err); ok {
			return credential.OIDC{}, &RefreshError{Code: code, Description: description, Err: err}
		}
		return credential.OIDC{}, &RefreshError{Err: err}
	}

	var expiresIn int64
	if !tok.Expiry.IsZero() {
		expiresIn = int64(math.Round(time.Until(tok.Expiry).Seconds()))
	}

	// oauth2 carries the old refresh token forward when none is returned.
	refresh := tok.RefreshToken
	if refresh == cred.RefreshToken.Reveal() {
		refresh = ""
	}

	next := cred.WithTokens(
		secret.New(tok.AccessToken),
		secret.New(refresh),
		now,
		accessLifetime(tok.AccessToken, expiresIn, now),
		refreshExpiry(refresh, extraSeconds(tok, "refresh_expires_in"), now),
	)
	if next.TokenEndpoint == "" {
		next.TokenEndpoint = tokenEndpoint
	}

	e.logger.Debug("Refreshed access token", "client_id", cred.ClientID, "expires_in", next.ExpiresIn)
	return next, nil
}

// RefreshAsync runs Refresh in its own goroutine. The channel receives
// exactly one result and is then closed.
func (e *Engine) RefreshAsync(ctx context.Context, cred credential.OIDC) <-chan RefreshResult {
	ch := make(chan RefreshResult, 1)
	go func() {
		defer close(ch)
		next, err := e.Refresh(ctx, cred)
		ch <- RefreshResult{Credential: next, Err: err}
	}()
	return ch
}

func extraSeconds(tok *oauth2.Token, key string) int64 {
	switch v := tok.Extra(key).(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}
