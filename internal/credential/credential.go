package credential

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"skaha/internal/certificate"
	"skaha/pkg/secret"
)

// Kind names a credential variant. The values double as the persisted tag.
type Kind string

const (
	KindX509  Kind = "x509"
	KindOIDC  Kind = "oidc"
	KindToken Kind = "token"
	KindNone  Kind = "none"
)

// Kinds lists every credential kind in display order.
var Kinds = []Kind{KindX509, KindOIDC, KindToken, KindNone}

// ParseKind maps a user-supplied name onto a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Kinds, k) {
		return k, nil
	}
	return "", fmt.Errorf("unknown credential kind %q (want one of x509, oidc, token)", s)
}

// Credential is the closed set of authentication materials.
type Credential interface {
	Kind() Kind
	sealed()
}

// X509 authenticates at the TLS layer with a proxy certificate. Its expiry is
// read from the PEM file on demand.
type X509 struct {
	Path string
}

// OIDC holds tokens obtained through the device flow.
type OIDC struct {
	AccessToken  secret.Secret
	RefreshToken secret.Secret
	IssuedAt     time.Time
	// ExpiresIn is the access token lifetime in seconds, counted from IssuedAt.
	ExpiresIn int64
	// RefreshExpiresAt is zero when the provider did not say.
	RefreshExpiresAt time.Time

	DiscoveryURL     string
	TokenEndpoint    string
	DeviceEndpoint   string
	UserinfoEndpoint string
	ClientID         string
	ClientSecret     secret.Secret
	Scopes           []string
	Username         string
}

// Token is a static bearer token. ExpiresAt is zero unless the caller knows it.
type Token struct {
	Value     secret.Secret
	ExpiresAt time.Time
}

// None marks a context that has never been authenticated.
type None struct{}

func (X509) Kind() Kind  { return KindX509 }
func (OIDC) Kind() Kind  { return KindOIDC }
func (Token) Kind() Kind { return KindToken }
func (None) Kind() Kind  { return KindNone }

func (X509) sealed()  {}
func (OIDC) sealed()  {}
func (Token) sealed() {}
func (None) sealed()  {}

// Expiry is IssuedAt + ExpiresIn.
func (o OIDC) Expiry() time.Time {
	return o.IssuedAt.Add(time.Duration(o.ExpiresIn) * time.Second)
}

// ExpiredAt reports whether the access token is no longer usable at now.
func (o OIDC) ExpiredAt(now time.Time) bool {
	return !now.Before(o.Expiry())
}

// CanRefresh reports whether a refresh token is present and, when its expiry
// is known, still valid at now.
func (o OIDC) CanRefresh(now time.Time) bool {
	if o.RefreshToken.IsZero() {
		return false
	}
	return o.RefreshExpiresAt.IsZero() || now.Before(o.RefreshExpiresAt)
}

// WithTokens returns a copy carrying a freshly issued token pair. An empty
// refresh token keeps the current one, as providers may omit it on refresh.
func (o OIDC) WithTokens(access, refresh secret.Secret, issuedAt time.Time, expiresIn int64, refreshExpiresAt time.Time) OIDC {
	next := o
	next.Scopes = slices.Clone(o.Scopes)
	next.AccessToken = access
	if !refresh.IsZero() {
		next.RefreshToken = refresh
		next.RefreshExpiresAt = refreshExpiresAt
	}
	next.IssuedAt = issuedAt
	next.ExpiresIn = expiresIn
	return next
}

// IsExpired reports whether c can no longer be used at now. An X.509
// credential whose file is missing or unreadable counts as expired. A nil or
// None credential is always expired.
func IsExpired(c Credential, now time.Time) bool {
	switch v := c.(type) {
	case X509:
		return !certificate.IsValid(v.Path, now)
	case OIDC:
		return v.ExpiredAt(now)
	case Token:
		return !v.ExpiresAt.IsZero() && !now.Before(v.ExpiresAt)
	case None, nil:
		return true
	default:
		panic(fmt.Sprintf("credential: unhandled kind %T", c))
	}
}

// Expiry returns when c stops being usable. ok is false when that cannot be
// determined: a token without a known expiry, or an X.509 credential whose
// certificate cannot be read. Callers should skip expiry display in that case.
func Expiry(c Credential) (time.Time, bool) {
	switch v := c.(type) {
	case X509:
		notAfter, err := certificate.NotAfter(v.Path)
		if err != nil {
			return time.Time{}, false
		}
		return notAfter, true
	case OIDC:
		return v.Expiry(), true
	case Token:
		return v.ExpiresAt, !v.ExpiresAt.IsZero()
	case None, nil:
		return time.Time{}, false
	default:
		panic(fmt.Sprintf("credential: unhandled kind %T", c))
	}
}

// Headers returns the HTTP headers that carry c. X.509 authenticates during
// the TLS handshake and contributes no headers.
func Headers(c Credential) http.Header {
	h := make(http.Header)
	switch v := c.(type) {
	case OIDC:
		if !v.AccessToken.IsZero() {
			h.Set("Authorization", "Bearer "+v.AccessToken.Reveal())
		}
	case Token:
		if !v.Value.IsZero() {
			h.Set("Authorization", "Bearer "+v.Value.Reveal())
		}
	case X509, None, nil:
	default:
		panic(fmt.Sprintf("credential: unhandled kind %T", c))
	}
	return h
}

// Redact renders c with every secret masked. It is the only representation
// of a credential that may be logged or printed.
func Redact(c Credential) string {
	switch v := c.(type) {
	case X509:
		return fmt.Sprintf("x509{path=%s}", v.Path)
	case OIDC:
		var b strings.Builder
		fmt.Fprintf(&b, "oidc{client_id=%s", v.ClientID)
		if v.Username != "" {
			fmt.Fprintf(&b, " user=%s", v.Username)
		}
		fmt.Fprintf(&b, " access_token=%s refresh_token=%s", v.AccessToken, v.RefreshToken)
		if !v.ClientSecret.IsZero() {
			fmt.Fprintf(&b, " client_secret=%s", v.ClientSecret)
		}
		if !v.IssuedAt.IsZero() {
			fmt.Fprintf(&b, " issued_at=%s expires_in=%ds", v.IssuedAt.UTC().Format(time.RFC3339), v.ExpiresIn)
		}
		if len(v.Scopes) > 0 {
			fmt.Fprintf(&b, " scopes=%s", strings.Join(v.Scopes, ","))
		}
		b.WriteString("}")
		return b.String()
	case Token:
		if v.ExpiresAt.IsZero() {
			return fmt.Sprintf("token{value=%s}", v.Value)
		}
		return fmt.Sprintf("token{value=%s expires_at=%s}", v.Value, v.ExpiresAt.UTC().Format(time.RFC3339))
	case None, nil:
		return "none{}"
	default:
		panic(fmt.Sprintf("credential: unhandled kind %T", c))
	}
}

// Describe returns a short human label for the kind, used in tables.
func (k Kind) Describe() string {
	switch k {
	case KindX509:
		return "X.509"
	case KindOIDC:
		return "OIDC"
	case KindToken:
		return "Token"
	case KindNone:
		return "None"
	default:
		return string(k)
	}
}
