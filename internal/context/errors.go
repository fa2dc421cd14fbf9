package context

import (
	"fmt"

	"skaha/internal/credential"
)

// ContextNotFoundError is returned when a named context does not exist.
type ContextNotFoundError struct {
	Name string
}

func (e *ContextNotFoundError) Error() string {
	return fmt.Sprintf("context %q not found", e.Name)
}

// ActiveContextError is returned when removing the active context.
type ActiveContextError struct {
	Name string
}

func (e *ActiveContextError) Error() string {
	return fmt.Sprintf("context %q is active; switch to another context before removing it", e.Name)
}

// NoActiveContextError is returned when no context has been selected.
type NoActiveContextError struct{}

func (e *NoActiveContextError) Error() string {
	return "no active context; run 'skaha auth login' first"
}

// ConfigCorruptError is returned when the config file cannot be parsed or
// violates the store invariants. The file is never rewritten automatically.
type ConfigCorruptError struct {
	Path string
	Err  error
}

func (e *ConfigCorruptError) Error() string {
	return fmt.Sprintf("config file %s is corrupt: %v; fix it or run 'skaha auth purge'", e.Path, e.Err)
}

func (e *ConfigCorruptError) Unwrap() error {
	return e.Err
}

// IncompatibleCredentialError is returned when a context would pair a
// credential with a server that does not advertise support for its kind.
type IncompatibleCredentialError struct {
	Context string
	Server  string
	Kind    credential.Kind
}

func (e *IncompatibleCredentialError) Error() string {
	return fmt.Sprintf("context %q: server %q does not accept %s credentials", e.Context, e.Server, e.Kind.Describe())
}
