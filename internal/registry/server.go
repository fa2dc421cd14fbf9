// Package registry describes Science Platform servers and discovers them
// from IVOA registries.
package registry

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"skaha/internal/credential"
)

// DefaultVersion is the API version assumed when a server does not state one.
const DefaultVersion = "v0"

var versionPattern = regexp.MustCompile(`^v\d+$`)

// Capabilities is what a server advertises. Empty lists mean "not advertised"
// and impose no restriction.
type Capabilities struct {
	AuthModes    []credential.Kind `yaml:"auth_modes,omitempty,flow"`
	SessionKinds []string          `yaml:"session_kinds,omitempty,flow"`
}

// Server is the record of a remote Science Platform attached to a context.
type Server struct {
	Name            string       `yaml:"name"`
	URL             string       `yaml:"url"`
	URI             string       `yaml:"uri,omitempty"`
	Version         string       `yaml:"version,omitempty"`
	Capabilities    Capabilities `yaml:"capabilities,omitempty"`
	DiscoverySource string       `yaml:"discovery_source,omitempty"`
	LastChecked     time.Time    `yaml:"last_checked,omitempty"`

	// Status is the HTTP status seen by the last liveness probe, zero if the
	// server did not answer. It is not persisted.
	Status int `yaml:"-"`
}

// InvalidServerError reports a server record that cannot be used.
type InvalidServerError struct {
	Name   string
	Reason string
}

func (e *InvalidServerError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("invalid server: %s", e.Reason)
	}
	return fmt.Sprintf("invalid server %q: %s", e.Name, e.Reason)
}

// Validate checks the record invariants: a name, an https URL with a host,
// and a version of the form vN.
func (s Server) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return &InvalidServerError{Reason: "name is required"}
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return &InvalidServerError{Name: s.Name, Reason: "url does not parse"}
	}
	if u.Scheme != "https" {
		return &InvalidServerError{Name: s.Name, Reason: fmt.Sprintf("url must use https, got %q", u.Scheme)}
	}
	if u.Host == "" {
		return &InvalidServerError{Name: s.Name, Reason: "url has no host"}
	}
	if s.Version != "" && !versionPattern.MatchString(s.Version) {
		return &InvalidServerError{Name: s.Name, Reason: fmt.Sprintf("version %q does not match vN", s.Version)}
	}
	return nil
}

// APIVersion returns Version or DefaultVersion.
func (s Server) APIVersion() string {
	if s.Version == "" {
		return DefaultVersion
	}
	return s.Version
}

// Endpoint joins the versioned base URL with elem.
func (s Server) Endpoint(elem ...string) (string, error) {
	return url.JoinPath(s.URL, append([]string{s.APIVersion()}, elem...)...)
}

// Supports reports whether the server accepts credentials of kind. A server
// that advertises no auth modes accepts every kind.
func (s Server) Supports(kind credential.Kind) bool {
	if len(s.Capabilities.AuthModes) == 0 {
		return true
	}
	return slices.Contains(s.Capabilities.AuthModes, kind)
}

// Alive reports whether the last liveness probe got an answer.
func (s Server) Alive() bool {
	return s.Status != 0
}

// Clone returns a deep copy.
func (s Server) Clone() Server {
	c := s
	c.Capabilities.AuthModes = slices.Clone(s.Capabilities.AuthModes)
	c.Capabilities.SessionKinds = slices.Clone(s.Capabilities.SessionKinds)
	return c
}
