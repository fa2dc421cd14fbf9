// Package certtest writes throwaway proxy certificates for tests.
package certtest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// PEM returns a self-signed client certificate followed by its EC private key.
func PEM(t testing.TB, notBefore, notAfter time.Time) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "Test User"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("Failed to marshal key: %v", err)
	}

	out := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return append(out, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})...)
}

// Write stores a certificate valid from notBefore to notAfter in dir and
// returns its path.
func Write(t testing.TB, dir string, notBefore, notAfter time.Time) string {
	t.Helper()

	path := filepath.Join(dir, "cadcproxy.pem")
	if err := os.WriteFile(path, PEM(t, notBefore, notAfter), 0600); err != nil {
		t.Fatalf("Failed to write certificate: %v", err)
	}
	return path
}

// WriteValid stores a certificate valid for the next 24 hours.
func WriteValid(t testing.TB, dir string) string {
	t.Helper()
	now := time.Now()
	return Write(t, dir, now.Add(-time.Hour), now.Add(24*time.Hour))
}
