package certificate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"skaha/pkg/logging"
	"skaha/pkg/secret"
)

// DefaultCredentialURL issues proxy certificates in exchange for a username
// and password.
const DefaultCredentialURL = "https://ws-cadc.canfar.net/cred/generate"

// DefaultDaysValid is the lifetime requested for new proxy certificates.
const DefaultDaysValid = 10

// maxCertificateSize bounds the response body read from the credential service.
const maxCertificateSize = 1 << 20

// FetchOptions configures a password exchange for a proxy certificate.
type FetchOptions struct {
	// URL of the credential service. Defaults to DefaultCredentialURL.
	URL string
	// Username and Password are sent with HTTP basic auth.
	Username string
	Password secret.Secret
	// DaysValid is the requested certificate lifetime.
	DaysValid int
	// Path the PEM is written to. Defaults to DefaultPath().
	Path string
	// HTTPClient used for the exchange. Defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// Fetch obtains a proxy certificate and writes it to opts.Path with owner-only
// permissions. The file is only replaced once the new certificate parses.
func Fetch(ctx context.Context, opts FetchOptions) (*Parsed, error) {
	if opts.Username == "" || opts.Password.IsZero() {
		return nil, fmt.Errorf("username and password are required to obtain a certificate")
	}
	if opts.URL == "" {
		opts.URL = DefaultCredentialURL
	}
	if opts.DaysValid <= 0 {
		opts.DaysValid = DefaultDaysValid
	}
	if opts.Path == "" {
		opts.Path = DefaultPath()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid credential service URL: %w", err)
	}
	q := u.Query()
	q.Set("daysValid", strconv.Itoa(opts.DaysValid))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate request: %w", err)
	}
	req.SetBasicAuth(opts.Username, opts.Password.Reveal())

	logging.Debug("Certificate", "Requesting %d-day certificate for %s from %s", opts.DaysValid, opts.Username, u.Host)

	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("certificate request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCertificateSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("certificate request failed with status %d", resp.StatusCode)
	}

	parsed, err := Parse(opts.Path, body)
	if err != nil {
		return nil, err
	}
	if _, err := parsed.TLSConfig(nil); err != nil {
		return nil, err
	}

	if err := writeFileAtomic(opts.Path, body); err != nil {
		return nil, fmt.Errorf("failed to save certificate: %w", err)
	}

	logging.Audit("Certificate", "certificate_obtained",
		"path", opts.Path, "expires", parsed.NotAfter().Format(time.RFC3339))
	return parsed, nil
}

// writeFileAtomic replaces path with data via a temp file in the same directory.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
