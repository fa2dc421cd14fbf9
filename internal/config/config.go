package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"

	skahactx "skaha/internal/context"
	"skaha/pkg/logging"
	"skaha/pkg/secret"
)

const (
	MinTimeout     = time.Second
	MaxTimeout     = 300 * time.Second
	MinConcurrency = 1
	MaxConcurrency = 128
)

// env mirrors the environment; secrets are moved into secret.Secret
// straight after decoding.
type env struct {
	ConfigPath  string        `env:"SKAHA_CONFIG"`
	Context     string        `env:"SKAHA_CONTEXT"`
	Timeout     time.Duration `env:"SKAHA_TIMEOUT,default=30s"`
	Concurrency int           `env:"SKAHA_CONCURRENCY,default=32"`
	LogLevel    string        `env:"SKAHA_LOGLEVEL,default=info"`
	Token       string        `env:"SKAHA_TOKEN"`
	Certificate string        `env:"SKAHA_CERTIFICATE"`
	URL         string        `env:"SKAHA_URL"`

	RegistryURL      string `env:"SKAHA_REGISTRY__URL"`
	RegistryUsername string `env:"SKAHA_REGISTRY__USERNAME"`
	RegistrySecret   string `env:"SKAHA_REGISTRY__SECRET"`
}

// Settings are the resolved process settings.
type Settings struct {
	ConfigPath  string
	Context     string
	Timeout     time.Duration
	Concurrency int
	LogLevel    logging.LogLevel
	Token       secret.Secret
	Certificate string
	URL         string
	// Registry overrides the container registry stored with the contexts.
	Registry *skahactx.ContainerRegistry

	// logLevelErr holds a bad SKAHA_LOGLEVEL until SetLogLevel replaces it.
	logLevelErr error
}

// InvalidSettingError is returned for a value outside its allowed range.
type InvalidSettingError struct {
	Name   string
	Value  string
	Reason string
}

func (e *InvalidSettingError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Name, e.Value, e.Reason)
}

// Load decodes and validates the settings from the environment.
func Load() (*Settings, error) {
	s, err := Decode()
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Decode reads the settings from the environment without validating them,
// so that command line overrides can be applied before Validate.
func Decode() (*Settings, error) {
	var e env
	if err := envdecode.Decode(&e); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to read SKAHA_* environment: %w", err)
	}

	s := &Settings{
		ConfigPath:  e.ConfigPath,
		Context:     e.Context,
		Timeout:     e.Timeout,
		Concurrency: e.Concurrency,
		Token:       secret.New(e.Token),
		Certificate: e.Certificate,
		URL:         e.URL,
	}
	if err := s.SetLogLevel(e.LogLevel); err != nil {
		s.LogLevel = logging.LevelInfo
		s.logLevelErr = &InvalidSettingError{Name: "SKAHA_LOGLEVEL", Value: e.LogLevel, Reason: err.Error()}
	}
	if e.RegistryURL != "" || e.RegistryUsername != "" || e.RegistrySecret != "" {
		s.Registry = &skahactx.ContainerRegistry{
			URL:      e.RegistryURL,
			Username: e.RegistryUsername,
			Secret:   secret.New(e.RegistrySecret),
		}
	}
	return s, nil
}

// SetLogLevel parses and applies level, replacing any earlier bad value.
func (s *Settings) SetLogLevel(level string) error {
	parsed, err := logging.ParseLevel(level)
	if err != nil {
		return &InvalidSettingError{Name: "loglevel", Value: level, Reason: err.Error()}
	}
	s.LogLevel = parsed
	s.logLevelErr = nil
	return nil
}

// Validate checks ranges and that runtime credentials come with a URL.
func (s *Settings) Validate() error {
	if s.logLevelErr != nil {
		return s.logLevelErr
	}
	if s.Timeout < MinTimeout || s.Timeout > MaxTimeout {
		return &InvalidSettingError{Name: "timeout", Value: s.Timeout.String(), Reason: fmt.Sprintf("must be between %s and %s", MinTimeout, MaxTimeout)}
	}
	if s.Concurrency < MinConcurrency || s.Concurrency > MaxConcurrency {
		return &InvalidSettingError{Name: "concurrency", Value: fmt.Sprint(s.Concurrency), Reason: fmt.Sprintf("must be between %d and %d", MinConcurrency, MaxConcurrency)}
	}
	if s.HasRuntimeCredentials() && s.URL == "" {
		return &InvalidSettingError{Name: "SKAHA_URL", Reason: "required with SKAHA_TOKEN or SKAHA_CERTIFICATE"}
	}
	if s.Registry != nil {
		if err := s.Registry.Validate(); err != nil {
			return &InvalidSettingError{Name: "SKAHA_REGISTRY", Value: s.Registry.URL, Reason: err.Error()}
		}
	}
	return nil
}

// HasRuntimeCredentials reports whether a token or certificate was supplied
// through the environment.
func (s *Settings) HasRuntimeCredentials() bool {
	return !s.Token.IsZero() || s.Certificate != ""
}

// StorePath returns ConfigPath or the default store location.
func (s *Settings) StorePath() (string, error) {
	if s.ConfigPath != "" {
		return s.ConfigPath, nil
	}
	return skahactx.DefaultPath()
}
