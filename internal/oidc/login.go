package oidc

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"skaha/internal/credential"
	"skaha/pkg/logging"
)

// Login runs the whole device flow against the provider at discoveryURL. A
// client without an ID is registered first. The username is looked up
// afterwards on a best-effort basis.
func (e *Engine) Login(ctx context.Context, discoveryURL string, client Client) (credential.OIDC, error) {
	e.observe(StateDiscover, nil)
	provider, err := e.Discover(ctx, discoveryURL)
	if err != nil {
		return credential.OIDC{}, err
	}

	if client.ID == "" {
		e.observe(StateRegister, nil)
		client, err = e.Register(ctx, provider)
		if err != nil {
			return credential.OIDC{}, err
		}
	}

	e.observe(StateDeviceAuthorize, nil)
	auth, err := e.Authorize(ctx, provider, client)
	if err != nil {
		return credential.OIDC{}, err
	}

	cred, err := e.Poll(ctx, provider, client, auth)
	if err != nil {
		return credential.OIDC{}, err
	}

	if username, err := e.UserInfo(ctx, provider, cred); err == nil {
		cred.Username = username
	} else {
		e.logger.Debug("Could not look up username", "error", err)
	}

	logging.Audit("OIDC", "login_completed", "issuer", provider.Issuer, "client_id", client.ID, "username", cred.Username)
	return cred, nil
}

// UserInfo returns the preferred_username claim from the userinfo endpoint.
func (e *Engine) UserInfo(ctx context.Context, provider *Provider, cred credential.OIDC) (string, error) {
	if provider.oidc == nil || provider.UserinfoEndpoint == "" {
		return "", errors.New("provider has no userinfo endpoint")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken.Reveal(), TokenType: "Bearer"})
	info, err := provider.oidc.UserInfo(e.clientContext(ctx), ts)
	if err != nil {
		return "", fmt.Errorf("userinfo request failed: %w", err)
	}

	var claims struct {
		PreferredUsername string `json:"preferred_username"`
	}
	if err := info.Claims(&claims); err != nil {
		return "", fmt.Errorf("failed to parse userinfo claims: %w", err)
	}
	if claims.PreferredUsername != "" {
		return claims.PreferredUsername, nil
	}
	return info.Email, nil
}
