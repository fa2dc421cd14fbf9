package context

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"slices"
	"time"

	"skaha/internal/credential"
	"skaha/internal/registry"
	"skaha/pkg/secret"
)

// ContextEnvVar overrides the active context for a single invocation.
const ContextEnvVar = "SKAHA_CONTEXT"

// maxContextNameLength is the maximum allowed length for context names.
const maxContextNameLength = 63

// contextNamePattern allows the server names published by the registries,
// such as "SRCnet-Sweden" or "UK-CAM".
var contextNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Context pairs a server with the credential used to talk to it.
type Context struct {
	Name       string
	Server     registry.Server
	Credential credential.Credential
	CreatedAt  time.Time
}

// Kind is a shortcut for the credential kind, KindNone when unset.
func (c Context) Kind() credential.Kind {
	if c.Credential == nil {
		return credential.KindNone
	}
	return c.Credential.Kind()
}

// ContainerRegistry holds credentials for a private image registry. They are
// forwarded to the server so sessions can pull private images.
type ContainerRegistry struct {
	URL      string
	Username string
	Secret   secret.Secret
}

// Validate requires the username and the secret to be set together.
func (r ContainerRegistry) Validate() error {
	switch {
	case r.Username == "" && !r.Secret.IsZero():
		return fmt.Errorf("container registry username is required")
	case r.Username != "" && r.Secret.IsZero():
		return fmt.Errorf("container registry secret is required")
	}
	return nil
}

// Encoded returns base64("username:secret") as expected by the server.
func (r ContainerRegistry) Encoded() string {
	return base64.StdEncoding.EncodeToString([]byte(r.Username + ":" + r.Secret.Reveal()))
}

// Config is the whole persisted store: an ordered set of contexts and the
// name of the active one. A *Config published by a Store is never modified;
// writers work on a copy.
type Config struct {
	Active   string
	Contexts []Context
	Registry *ContainerRegistry
}

// ValidateContextName validates a context name according to the naming rules.
// Context names must:
//   - Be between 1 and 63 characters
//   - Contain only letters, numbers, dots, underscores and hyphens
//   - Start with a letter or number
func ValidateContextName(name string) error {
	if name == "" {
		return fmt.Errorf("context name cannot be empty")
	}

	if len(name) > maxContextNameLength {
		return fmt.Errorf("context name cannot exceed %d characters", maxContextNameLength)
	}

	if !contextNamePattern.MatchString(name) {
		return fmt.Errorf("context name %q must contain only letters, numbers, dots, underscores and hyphens, and must start with a letter or number", name)
	}

	return nil
}

// Get returns the context with the given name, or nil if not found.
func (c *Config) Get(name string) *Context {
	for i := range c.Contexts {
		if c.Contexts[i].Name == name {
			return &c.Contexts[i]
		}
	}
	return nil
}

// Has returns true if a context with the given name exists.
func (c *Config) Has(name string) bool {
	return c.Get(name) != nil
}

// Names returns the context names in store order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Contexts))
	for _, ctx := range c.Contexts {
		names = append(names, ctx.Name)
	}
	return names
}

// put adds a context or replaces the one with the same name in place.
func (c *Config) put(ctx Context) {
	for i := range c.Contexts {
		if c.Contexts[i].Name == ctx.Name {
			c.Contexts[i] = ctx
			return
		}
	}
	c.Contexts = append(c.Contexts, ctx)
}

// remove deletes the named context and reports whether it existed.
func (c *Config) remove(name string) bool {
	for i := range c.Contexts {
		if c.Contexts[i].Name == name {
			c.Contexts = slices.Delete(c.Contexts, i, i+1)
			return true
		}
	}
	return false
}

// clone returns a copy that can be modified without affecting c.
func (c *Config) clone() *Config {
	next := &Config{Active: c.Active, Contexts: make([]Context, len(c.Contexts))}
	for i, ctx := range c.Contexts {
		ctx.Server = ctx.Server.Clone()
		next.Contexts[i] = ctx
	}
	if c.Registry != nil {
		r := *c.Registry
		next.Registry = &r
	}
	return next
}

// validate checks the invariants of a single context: a valid name, a
// usable server and a credential the server accepts.
func (c Context) validate() error {
	if err := ValidateContextName(c.Name); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("context %q: %w", c.Name, err)
	}
	if kind := c.Kind(); !c.Server.Supports(kind) {
		return &IncompatibleCredentialError{Context: c.Name, Server: c.Server.Name, Kind: kind}
	}
	return nil
}

// validate checks the store invariants.
func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Contexts))
	for _, ctx := range c.Contexts {
		if _, dup := seen[ctx.Name]; dup {
			return fmt.Errorf("duplicate context %q", ctx.Name)
		}
		seen[ctx.Name] = struct{}{}
		if err := ctx.validate(); err != nil {
			return err
		}
	}
	if c.Active != "" && !c.Has(c.Active) {
		return fmt.Errorf("active context %q does not exist", c.Active)
	}
	if c.Registry != nil {
		if err := c.Registry.Validate(); err != nil {
			return err
		}
	}
	return nil
}
