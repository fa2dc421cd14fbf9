package certificate

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// DefaultPath is where the proxy certificate lives unless a context says otherwise.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".ssl", "cadcproxy.pem")
	}
	return filepath.Join(home, ".ssl", "cadcproxy.pem")
}

// Parsed is a loaded proxy certificate. The PEM data holds both the
// certificate chain and the private key.
type Parsed struct {
	Path string
	Leaf *x509.Certificate

	data []byte
}

// NotAfter returns the end of the certificate validity window.
func (p *Parsed) NotAfter() time.Time {
	return p.Leaf.NotAfter
}

// NotBefore returns the start of the certificate validity window.
func (p *Parsed) NotBefore() time.Time {
	return p.Leaf.NotBefore
}

// ValidAt reports whether now falls inside the validity window. A certificate
// whose NotAfter equals now is already expired.
func (p *Parsed) ValidAt(now time.Time) bool {
	return !now.Before(p.Leaf.NotBefore) && now.Before(p.Leaf.NotAfter)
}

// Subject returns the certificate subject common name.
func (p *Parsed) Subject() string {
	return p.Leaf.Subject.CommonName
}

// Load reads and parses the first certificate of a PEM file.
func Load(path string) (*Parsed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CertificateNotFoundError{Path: path, Err: err}
	}
	return Parse(path, data)
}

// Parse parses PEM data as read from path.
func Parse(path string, data []byte) (*Parsed, error) {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, &CertificateParseError{Path: path, Reason: "no PEM certificate block found"}
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		leaf, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, &CertificateParseError{Path: path, Err: err}
		}
		return &Parsed{Path: path, Leaf: leaf, data: data}, nil
	}
}

// NotAfter is Load followed by Parsed.NotAfter.
func NotAfter(path string) (time.Time, error) {
	p, err := Load(path)
	if err != nil {
		return time.Time{}, err
	}
	return p.NotAfter(), nil
}

// IsValid reports whether the certificate at path can be used at now. A
// missing or unreadable file is reported as invalid rather than as an error:
// both cases mean the user has to authenticate again.
func IsValid(path string, now time.Time) bool {
	p, err := Load(path)
	if err != nil {
		return false
	}
	return p.ValidAt(now)
}

// IsNotFound reports whether err means the certificate file is missing.
func IsNotFound(err error) bool {
	var nf *CertificateNotFoundError
	return errors.As(err, &nf)
}

// TLSConfig builds a client TLS configuration that presents the certificate
// and refuses anything below TLS 1.2.
func (p *Parsed) TLSConfig(roots *x509.CertPool) (*tls.Config, error) {
	pair, err := tls.X509KeyPair(p.data, p.data)
	if err != nil {
		return nil, &CertificateParseError{Path: p.Path, Err: err}
	}
	pair.Leaf = p.Leaf

	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		RootCAs:      roots,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// TLSConfig loads path and builds its client TLS configuration.
func TLSConfig(path string, roots *x509.CertPool) (*tls.Config, error) {
	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	return p.TLSConfig(roots)
}
