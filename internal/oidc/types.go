package oidc

import (
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"

	"skaha/pkg/secret"
)

// State is a step of a device-flow login.
type State int

const (
	StateDiscover State = iota
	StateRegister
	StateDeviceAuthorize
	StatePolling
	StateIssued
	StateExpired
	StateDenied
	StateTimedOut
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateDiscover:
		return "discover"
	case StateRegister:
		return "register"
	case StateDeviceAuthorize:
		return "device_authorize"
	case StatePolling:
		return "polling"
	case StateIssued:
		return "issued"
	case StateExpired:
		return "expired"
	case StateDenied:
		return "denied"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s >= StateIssued
}

// Provider is the discovered configuration of an OpenID provider.
type Provider struct {
	Issuer                      string
	DiscoveryURL                string
	TokenEndpoint               string
	DeviceAuthorizationEndpoint string
	RegistrationEndpoint        string
	UserinfoEndpoint            string
	ScopesSupported             []string

	oidc *gooidc.Provider
}

// providerClaims are the discovery document fields go-oidc does not expose
// through Endpoint().
type providerClaims struct {
	TokenEndpoint               string   `json:"token_endpoint"`
	DeviceAuthorizationEndpoint string   `json:"device_authorization_endpoint"`
	RegistrationEndpoint        string   `json:"registration_endpoint"`
	UserinfoEndpoint            string   `json:"userinfo_endpoint"`
	ScopesSupported             []string `json:"scopes_supported"`
}

// Client identifies this application to the provider.
type Client struct {
	ID     string
	Secret secret.Secret
}

// DeviceAuthorization is what the provider hands out at the start of the
// device flow. The user visits VerificationURI and enters UserCode.
type DeviceAuthorization struct {
	DeviceCode              secret.Secret
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	// Interval is the minimum wait between polls.
	Interval time.Duration
	// ExpiresAt is when the device code stops being accepted, on the engine clock.
	ExpiresAt time.Time
}

// Observer is told about every state transition of a login. auth is set
// from StatePolling on.
type Observer func(state State, auth *DeviceAuthorization)

// tokenResponse is the token endpoint reply, success or error.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	Scope            string `json:"scope"`
	IDToken          string `json:"id_token"`

	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// registrationResponse is the RFC 7591 client registration reply.
type registrationResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`

	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}
