package credential

import (
	"fmt"
	"slices"
	"time"

	"skaha/pkg/secret"
)

// Document is the persisted form of a Credential. Only the fields of Kind are
// set; Decode rejects documents that populate another variant's fields.
type Document struct {
	Kind Kind `yaml:"kind"`

	// x509
	Path string `yaml:"path,omitempty"`

	// oidc
	AccessToken      secret.Secret `yaml:"access_token,omitempty"`
	RefreshToken     secret.Secret `yaml:"refresh_token,omitempty"`
	IssuedAt         time.Time     `yaml:"issued_at,omitempty"`
	ExpiresIn        int64         `yaml:"expires_in,omitempty"`
	RefreshExpiresAt time.Time     `yaml:"refresh_expires_at,omitempty"`
	DiscoveryURL     string        `yaml:"discovery_url,omitempty"`
	TokenEndpoint    string        `yaml:"token_endpoint,omitempty"`
	DeviceEndpoint   string        `yaml:"device_endpoint,omitempty"`
	UserinfoEndpoint string        `yaml:"userinfo_endpoint,omitempty"`
	ClientID         string        `yaml:"client_id,omitempty"`
	ClientSecret     secret.Secret `yaml:"client_secret,omitempty"`
	Scopes           []string      `yaml:"scopes,omitempty,flow"`
	Username         string        `yaml:"username,omitempty"`

	// token
	Token     secret.Secret `yaml:"token,omitempty"`
	ExpiresAt time.Time     `yaml:"expires_at,omitempty"`
}

// Encode converts c into its persisted form.
func Encode(c Credential) Document {
	switch v := c.(type) {
	case X509:
		return Document{Kind: KindX509, Path: v.Path}
	case OIDC:
		return Document{
			Kind:             KindOIDC,
			AccessToken:      v.AccessToken,
			RefreshToken:     v.RefreshToken,
			IssuedAt:         v.IssuedAt,
			ExpiresIn:        v.ExpiresIn,
			RefreshExpiresAt: v.RefreshExpiresAt,
			DiscoveryURL:     v.DiscoveryURL,
			TokenEndpoint:    v.TokenEndpoint,
			DeviceEndpoint:   v.DeviceEndpoint,
			UserinfoEndpoint: v.UserinfoEndpoint,
			ClientID:         v.ClientID,
			ClientSecret:     v.ClientSecret,
			Scopes:           slices.Clone(v.Scopes),
			Username:         v.Username,
		}
	case Token:
		return Document{Kind: KindToken, Token: v.Value, ExpiresAt: v.ExpiresAt}
	case None, nil:
		return Document{Kind: KindNone}
	default:
		panic(fmt.Sprintf("credential: unhandled kind %T", c))
	}
}

// Decode validates d and returns the Credential it describes.
func (d Document) Decode() (Credential, error) {
	hasX509 := d.Path != ""
	hasOIDC := !d.AccessToken.IsZero() || !d.RefreshToken.IsZero() || d.TokenEndpoint != "" ||
		d.ClientID != "" || d.DiscoveryURL != ""
	hasToken := !d.Token.IsZero()

	switch d.Kind {
	case KindX509:
		if !hasX509 {
			return nil, fmt.Errorf("x509 credential has no certificate path")
		}
		if hasOIDC || hasToken {
			return nil, fmt.Errorf("x509 credential carries fields of another kind")
		}
		return X509{Path: d.Path}, nil
	case KindOIDC:
		if hasX509 || hasToken {
			return nil, fmt.Errorf("oidc credential carries fields of another kind")
		}
		if d.TokenEndpoint == "" && d.DiscoveryURL == "" {
			return nil, fmt.Errorf("oidc credential has neither token endpoint nor discovery url")
		}
		return OIDC{
			AccessToken:      d.AccessToken,
			RefreshToken:     d.RefreshToken,
			IssuedAt:         d.IssuedAt,
			ExpiresIn:        d.ExpiresIn,
			RefreshExpiresAt: d.RefreshExpiresAt,
			DiscoveryURL:     d.DiscoveryURL,
			TokenEndpoint:    d.TokenEndpoint,
			DeviceEndpoint:   d.DeviceEndpoint,
			UserinfoEndpoint: d.UserinfoEndpoint,
			ClientID:         d.ClientID,
			ClientSecret:     d.ClientSecret,
			Scopes:           slices.Clone(d.Scopes),
			Username:         d.Username,
		}, nil
	case KindToken:
		if !hasToken {
			return nil, fmt.Errorf("token credential has no token")
		}
		if hasX509 || hasOIDC {
			return nil, fmt.Errorf("token credential carries fields of another kind")
		}
		return Token{Value: d.Token, ExpiresAt: d.ExpiresAt}, nil
	case KindNone, "":
		if hasX509 || hasOIDC || hasToken {
			return nil, fmt.Errorf("credential without kind carries credential fields")
		}
		return None{}, nil
	default:
		return nil, fmt.Errorf("unknown credential kind %q", d.Kind)
	}
}
