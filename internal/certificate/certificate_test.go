package certificate_test

import (
	"context"
	"crypto/tls"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skaha/internal/certificate"
	"skaha/internal/certificate/certtest"
	"skaha/pkg/secret"
)

func TestLoad(t *testing.T) {
	t.Run("valid certificate", func(t *testing.T) {
		dir := t.TempDir()
		notAfter := time.Now().Add(24 * time.Hour).Truncate(time.Second)
		path := certtest.Write(t, dir, time.Now().Add(-time.Hour), notAfter)

		parsed, err := certificate.Load(path)
		require.NoError(t, err)
		assert.True(t, parsed.NotAfter().Equal(notAfter))
		assert.Equal(t, "Test User", parsed.Subject())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := certificate.Load(filepath.Join(t.TempDir(), "missing.pem"))
		var nf *certificate.CertificateNotFoundError
		require.True(t, errors.As(err, &nf))
		assert.True(t, errors.Is(err, os.ErrNotExist))
		assert.True(t, certificate.IsNotFound(err))
	})

	t.Run("garbage content", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "garbage.pem")
		require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0600))

		_, err := certificate.Load(path)
		var pe *certificate.CertificateParseError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, path, pe.Path)
	})

	t.Run("corrupt certificate block", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "corrupt.pem")
		data := []byte("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n")
		require.NoError(t, os.WriteFile(path, data, 0600))

		_, err := certificate.Load(path)
		var pe *certificate.CertificateParseError
		assert.True(t, errors.As(err, &pe))
	})
}

func TestIsValid(t *testing.T) {
	now := time.Now()

	t.Run("missing path is never valid", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "nope.pem")
		for _, at := range []time.Time{now, now.Add(-100 * 24 * time.Hour), now.Add(100 * 24 * time.Hour), {}} {
			assert.False(t, certificate.IsValid(missing, at))
		}
	})

	t.Run("expired one second ago", func(t *testing.T) {
		path := certtest.Write(t, t.TempDir(), now.Add(-time.Hour), now.Add(-time.Second))
		assert.False(t, certificate.IsValid(path, now))
	})

	t.Run("notAfter equal to now is expired", func(t *testing.T) {
		notAfter := now.Add(time.Hour).Truncate(time.Second)
		path := certtest.Write(t, t.TempDir(), now.Add(-time.Hour), notAfter)
		assert.True(t, certificate.IsValid(path, notAfter.Add(-time.Second)))
		assert.False(t, certificate.IsValid(path, notAfter))
	})

	t.Run("not yet valid", func(t *testing.T) {
		path := certtest.Write(t, t.TempDir(), now.Add(time.Hour), now.Add(2*time.Hour))
		assert.False(t, certificate.IsValid(path, now))
	})

	t.Run("valid", func(t *testing.T) {
		path := certtest.WriteValid(t, t.TempDir())
		assert.True(t, certificate.IsValid(path, now))
	})
}

func TestTLSConfig(t *testing.T) {
	t.Run("enforces TLS 1.2 minimum", func(t *testing.T) {
		path := certtest.WriteValid(t, t.TempDir())

		cfg, err := certificate.TLSConfig(path, nil)
		require.NoError(t, err)
		assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
		require.Len(t, cfg.Certificates, 1)
		assert.NotNil(t, cfg.Certificates[0].Leaf)
	})

	t.Run("certificate without key", func(t *testing.T) {
		data := certtest.PEM(t, time.Now(), time.Now().Add(time.Hour))
		block, _ := pem.Decode(data)
		require.NotNil(t, block)

		certOnly, err := certificate.Parse("memory", pem.EncodeToMemory(block))
		require.NoError(t, err)

		_, err = certOnly.TLSConfig(nil)
		var pe *certificate.CertificateParseError
		assert.True(t, errors.As(err, &pe))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := certificate.TLSConfig(filepath.Join(t.TempDir(), "missing.pem"), nil)
		assert.True(t, certificate.IsNotFound(err))
	})
}

func TestFetch(t *testing.T) {
	pemData := certtest.PEM(t, time.Now().Add(-time.Minute), time.Now().Add(10*24*time.Hour))

	t.Run("writes certificate with owner-only permissions", func(t *testing.T) {
		var gotDays string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != "alice" || pass != "hunter2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			gotDays = r.URL.Query().Get("daysValid")
			_, _ = w.Write(pemData)
		}))
		defer server.Close()

		path := filepath.Join(t.TempDir(), "ssl", "cadcproxy.pem")
		parsed, err := certificate.Fetch(context.Background(), certificate.FetchOptions{
			URL:       server.URL,
			Username:  "alice",
			Password:  secret.New("hunter2"),
			DaysValid: 7,
			Path:      path,
		})
		require.NoError(t, err)
		assert.Equal(t, "7", gotDays)
		assert.True(t, parsed.ValidAt(time.Now()))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("rejected credentials leave existing file untouched", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		dir := t.TempDir()
		path := certtest.WriteValid(t, dir)
		before, err := os.ReadFile(path)
		require.NoError(t, err)

		_, err = certificate.Fetch(context.Background(), certificate.FetchOptions{
			URL:      server.URL,
			Username: "alice",
			Password: secret.New("wrong"),
			Path:     path,
		})
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "wrong")

		after, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("requires credentials", func(t *testing.T) {
		_, err := certificate.Fetch(context.Background(), certificate.FetchOptions{Username: "alice"})
		assert.Error(t, err)
	})
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	path := certtest.WriteValid(t, dir)

	var calls atomic.Int32
	w := certificate.NewWatcher(certificate.WatcherConfig{
		Path:     path,
		Debounce: 20 * time.Millisecond,
		OnChange: func() { calls.Add(1) },
	})
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, certtest.PEM(t, time.Now(), time.Now().Add(time.Hour)), 0600))

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)

	// Unrelated files in the same directory are ignored.
	seen := calls.Load()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0600))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, seen, calls.Load())

	w.Stop()
	w.Stop()
}
