// Package secret holds the wrapper type used for every piece of secret
// material in skaha: access and refresh tokens, client secrets, static bearer
// tokens and registry passwords.
//
// A Secret prints as a fixed mask through fmt, slog and encoding/json. The
// raw value is only available through Reveal, so every call site that needs
// it is easy to find. YAML marshalling is the one exception: the context
// store keeps secrets in the clear, protected by file permissions.
package secret

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"
)

// Mask is what a Secret prints as.
const Mask = "**********"

// Secret wraps a sensitive string.
type Secret struct {
	value string
}

// New wraps value.
func New(value string) Secret {
	return Secret{value: value}
}

// Reveal returns the raw value. Only use it where the secret has to go on the
// wire or to disk.
func (s Secret) Reveal() string {
	return s.value
}

// IsZero reports whether the secret is empty. yaml.v3 uses it for omitempty.
func (s Secret) IsZero() bool {
	return s.value == ""
}

// Equal compares two secrets without exposing either.
func (s Secret) Equal(other Secret) bool {
	return s.value == other.value
}

func (s Secret) String() string {
	if s.value == "" {
		return ""
	}
	return Mask
}

func (s Secret) GoString() string {
	return "secret.Secret{" + s.String() + "}"
}

// Format keeps %v, %s, %q, %x and friends from reaching the raw value.
func (s Secret) Format(f fmt.State, verb rune) {
	switch verb {
	case 'q':
		fmt.Fprintf(f, "%q", s.String())
	case 'v':
		if f.Flag('#') {
			fmt.Fprint(f, s.GoString())
			return
		}
		fmt.Fprint(f, s.String())
	default:
		fmt.Fprint(f, s.String())
	}
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// MarshalJSON never emits the raw value.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// MarshalYAML writes the raw value; the config file is the only YAML sink.
func (s Secret) MarshalYAML() (interface{}, error) {
	return s.value, nil
}

// UnmarshalYAML reads a raw value.
func (s *Secret) UnmarshalYAML(node *yaml.Node) error {
	var v string
	if err := node.Decode(&v); err != nil {
		return err
	}
	s.value = v
	return nil
}
