package context

import (
	"sync"
	"sync/atomic"
	"time"

	"skaha/internal/credential"
	"skaha/pkg/logging"
)

// Store is the process-wide view of the contexts. It is created once at
// startup and passed to whatever needs it.
//
// Readers get an immutable *Config snapshot. Every mutation builds a new
// Config (from the file, under the writer lock, when the store is backed by
// Storage) and swaps it in, so a reader never observes a half-applied change
// such as a refreshed access token paired with the old expiry.
type Store struct {
	storage *Storage

	mu      sync.Mutex
	current atomic.Pointer[Config]
	now     func() time.Time
}

// NewStore loads the store from storage. A missing file yields an empty
// store; a corrupt one is reported as *ConfigCorruptError and left untouched.
func NewStore(storage *Storage) (*Store, error) {
	cfg, err := storage.Load()
	if err != nil {
		return nil, err
	}
	s := &Store{storage: storage, now: time.Now}
	s.current.Store(cfg)
	logging.Debug("Context", "Loaded %d contexts from %s", len(cfg.Contexts), storage.Path())
	return s, nil
}

// NewMemoryStore returns a store that is never persisted, used for runtime
// credentials supplied through the environment.
func NewMemoryStore(cfg *Config) *Store {
	if cfg == nil {
		cfg = &Config{}
	}
	s := &Store{now: time.Now}
	s.current.Store(cfg.clone())
	return s
}

// Path returns the backing file, or "" for a memory store.
func (s *Store) Path() string {
	if s.storage == nil {
		return ""
	}
	return s.storage.Path()
}

// Snapshot returns the current state. Callers must not modify it.
func (s *Store) Snapshot() *Config {
	return s.current.Load()
}

// ActiveName returns the name of the active context, or "".
func (s *Store) ActiveName() string {
	return s.Snapshot().Active
}

// Active returns the active context.
func (s *Store) Active() (*Context, error) {
	cfg := s.Snapshot()
	if cfg.Active == "" {
		return nil, &NoActiveContextError{}
	}
	ctx := cfg.Get(cfg.Active)
	if ctx == nil {
		return nil, &ContextNotFoundError{Name: cfg.Active}
	}
	c := *ctx
	return &c, nil
}

// Get returns a copy of the named context.
func (s *Store) Get(name string) (*Context, error) {
	ctx := s.Snapshot().Get(name)
	if ctx == nil {
		return nil, &ContextNotFoundError{Name: name}
	}
	c := *ctx
	return &c, nil
}

// List returns the contexts in store order.
func (s *Store) List() []Context {
	cfg := s.Snapshot()
	out := make([]Context, len(cfg.Contexts))
	copy(out, cfg.Contexts)
	return out
}

// Names returns the context names in store order.
func (s *Store) Names() []string {
	return s.Snapshot().Names()
}

// Registry returns the configured container registry, if any.
func (s *Store) Registry() *ContainerRegistry {
	r := s.Snapshot().Registry
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func (s *Store) update(fn func(*Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.storage != nil {
		cfg, err := s.storage.Update(fn)
		if err != nil {
			return err
		}
		s.current.Store(cfg)
		return nil
	}

	next := s.Snapshot().clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := next.validate(); err != nil {
		return err
	}
	s.current.Store(next)
	return nil
}

// Put adds ctx or replaces the context with the same name. The first context
// added becomes active; later ones only when activate is set.
func (s *Store) Put(ctx Context, activate bool) error {
	if ctx.Credential == nil {
		ctx.Credential = credential.None{}
	}
	if err := ctx.validate(); err != nil {
		return err
	}
	if ctx.CreatedAt.IsZero() {
		ctx.CreatedAt = s.now().UTC()
	}

	err := s.update(func(cfg *Config) error {
		cfg.put(ctx)
		if activate || cfg.Active == "" {
			cfg.Active = ctx.Name
		}
		return nil
	})
	if err != nil {
		return err
	}
	logging.Audit("Context", "context_saved", "context", ctx.Name, "kind", string(ctx.Credential.Kind()))
	return nil
}

// Switch makes name the active context.
func (s *Store) Switch(name string) error {
	return s.update(func(cfg *Config) error {
		if !cfg.Has(name) {
			return &ContextNotFoundError{Name: name}
		}
		cfg.Active = name
		return nil
	})
}

// Remove deletes a context. The active context cannot be removed.
func (s *Store) Remove(name string) error {
	err := s.update(func(cfg *Config) error {
		if !cfg.Has(name) {
			return &ContextNotFoundError{Name: name}
		}
		if cfg.Active == name {
			return &ActiveContextError{Name: name}
		}
		cfg.remove(name)
		return nil
	})
	if err != nil {
		return err
	}
	logging.Audit("Context", "context_removed", "context", name)
	return nil
}

// Purge deletes every context along with the config file.
func (s *Store) Purge() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.storage != nil {
		if err := s.storage.Remove(); err != nil {
			return err
		}
	}
	s.current.Store(&Config{})
	logging.Audit("Context", "contexts_purged", "path", s.Path())
	return nil
}

// UpdateCredential replaces the credential of the named context with the
// result of fn, which receives the credential currently on record. The
// swap and the save happen as one step under the writer lock.
func (s *Store) UpdateCredential(name string, fn func(credential.Credential) (credential.Credential, error)) (credential.Credential, error) {
	var updated credential.Credential
	err := s.update(func(cfg *Config) error {
		ctx := cfg.Get(name)
		if ctx == nil {
			return &ContextNotFoundError{Name: name}
		}
		next, err := fn(ctx.Credential)
		if err != nil {
			return err
		}
		if next == nil {
			next = credential.None{}
		}
		if !ctx.Server.Supports(next.Kind()) {
			return &IncompatibleCredentialError{Context: name, Server: ctx.Server.Name, Kind: next.Kind()}
		}
		ctx.Credential = next
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetRegistry stores container registry credentials; nil clears them.
func (s *Store) SetRegistry(r *ContainerRegistry) error {
	return s.update(func(cfg *Config) error {
		if r == nil {
			cfg.Registry = nil
			return nil
		}
		if err := r.Validate(); err != nil {
			return err
		}
		c := *r
		cfg.Registry = &c
		return nil
	})
}

// Reload re-reads the file, picking up changes made by other processes.
func (s *Store) Reload() error {
	if s.storage == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.storage.Load()
	if err != nil {
		return err
	}
	s.current.Store(cfg)
	return nil
}
