package context

import (
	stdcontext "context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"skaha/pkg/logging"
)

const (
	// configFileName is the name of the store file.
	configFileName = "config.yaml"
	// userConfigDir is the subdirectory under home for skaha configuration.
	userConfigDir = ".skaha"

	// lockTimeout bounds how long a writer waits for another process.
	lockTimeout = 10 * time.Second
	// lockRetry is how often a blocked writer retries the file lock.
	lockRetry = 25 * time.Millisecond
)

// DefaultPath returns ~/.skaha/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

// Storage reads and writes the config file.
//
// Saves go through a temp file in the same directory followed by a rename,
// so a reader (or the next process after a crash) sees either the old or the
// new file, never a mix. Writers additionally hold an advisory lock on
// <path>.lock so read-modify-write cycles from two processes do not
// interleave.
type Storage struct {
	mu   sync.RWMutex
	path string
	lock *flock.Flock

	// write fills the temp file; tests replace it to simulate a crash.
	write func(f *os.File, data []byte) error
}

// NewStorage creates a Storage at the default path.
func NewStorage() (*Storage, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return NewStorageWithPath(path), nil
}

// NewStorageWithPath creates a Storage for the config file at path.
func NewStorageWithPath(path string) *Storage {
	return &Storage{
		path:  path,
		lock:  flock.New(path + ".lock"),
		write: writeAll,
	}
}

// Path returns the config file location.
func (s *Storage) Path() string {
	return s.path
}

// Load reads and parses the config file. A missing file is an empty store.
func (s *Storage) Load() (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadLocked()
}

func (s *Storage) loadLocked() (*Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodeConfig(data)
	if err != nil {
		return nil, &ConfigCorruptError{Path: s.path, Err: err}
	}
	return cfg, nil
}

// Save replaces the config file with cfg.
func (s *Storage) Save(cfg *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	return s.saveLocked(cfg)
}

// Update runs fn on the current file contents and saves the result, holding
// both the in-process and the cross-process lock for the whole cycle. The
// config passed to fn is private to the call. Nothing is written if fn or
// validation fails.
func (s *Storage) Update(fn func(*Config) error) (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer unlock()

	cfg, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	if err := fn(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := s.saveLocked(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Remove deletes the config file. A missing file is not an error.
func (s *Storage) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove config file: %w", err)
	}
	return nil
}

// acquire takes the cross-process writer lock.
func (s *Storage) acquire() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	ctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), lockTimeout)
	defer cancel()

	locked, err := s.lock.TryLockContext(ctx, lockRetry)
	if err != nil || !locked {
		return nil, fmt.Errorf("failed to lock %s: another skaha process may be writing it: %w", s.lock.Path(), err)
	}
	return func() {
		if err := s.lock.Unlock(); err != nil {
			logging.Warn("Context", "Failed to release lock %s: %v", s.lock.Path(), err)
		}
	}, nil
}

func (s *Storage) saveLocked(cfg *Config) error {
	data, err := encodeConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+configFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}
	if err := s.write(tmp, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close config file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	committed = true

	logging.Debug("Context", "Saved %d contexts to %s", len(cfg.Contexts), s.path)
	return nil
}

func writeAll(f *os.File, data []byte) error {
	_, err := f.Write(data)
	return err
}
