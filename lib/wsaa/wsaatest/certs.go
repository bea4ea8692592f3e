// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsaatest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/wsaa/lib/wsaa"
)

// TestCUIT is the taxpayer id in test certificate subjects.
const TestCUIT = "20123456786"

// DefaultSubject is the subject of certificates from NewCertificate.
var DefaultSubject = pkix.Name{
	Country:      []string{"AR"},
	Organization: []string{"Bureau Test"},
	CommonName:   "wsaa-test",
	SerialNumber: "CUIT " + TestCUIT,
}

// RSA key generation dominates test time, so keys are generated once
// per process and reused by every certificate.
var (
	keysOnce sync.Once
	keys     [2]*rsa.PrivateKey
	keysErr  error
)

func testKey(t testing.TB, index int) *rsa.PrivateKey {
	t.Helper()
	keysOnce.Do(func() {
		for i := range keys {
			keys[i], keysErr = rsa.GenerateKey(rand.Reader, 2048)
			if keysErr != nil {
				return
			}
		}
	})
	if keysErr != nil {
		t.Fatalf("generating RSA key: %v", keysErr)
	}
	return keys[index]
}

// Key returns the process-wide test signing key.
func Key(t testing.TB) *rsa.PrivateKey {
	return testKey(t, 0)
}

// OtherKey returns a second key that does not match certificates from
// NewCertificate.
func OtherKey(t testing.TB) *rsa.PrivateKey {
	return testKey(t, 1)
}

// NewCertificate returns a self-signed certificate for Key with the
// given subject, valid from an hour before now for validity.
func NewCertificate(t testing.TB, subject pkix.Name, now time.Time, validity time.Duration) *x509.Certificate {
	t.Helper()
	key := Key(t)
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("generating serial: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	certificate, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing certificate: %v", err)
	}
	return certificate
}

// NewCredentials returns credentials for a fresh DefaultSubject
// certificate valid for a year.
func NewCredentials(t testing.TB) *wsaa.Credentials {
	t.Helper()
	certificate := NewCertificate(t, DefaultSubject, time.Now(), 365*24*time.Hour)
	credentials, err := wsaa.NewCredentials(certificate, Key(t))
	if err != nil {
		t.Fatalf("NewCredentials: %v", err)
	}
	return credentials
}

// CredentialFiles are PEM files written by WriteCredentials.
type CredentialFiles struct {
	Certificate string
	PrivateKey  string
}

// Paths converts the files to wsaa.CredentialPaths.
func (files CredentialFiles) Paths() wsaa.CredentialPaths {
	return wsaa.CredentialPaths{Certificate: files.Certificate, PrivateKey: files.PrivateKey}
}

// WriteCredentials writes credentials as cert.pem and key.pem (PKCS#8)
// in dir.
func WriteCredentials(t testing.TB, dir string, credentials *wsaa.Credentials) CredentialFiles {
	t.Helper()
	keyDER, err := x509.MarshalPKCS8PrivateKey(credentials.PrivateKey)
	if err != nil {
		t.Fatalf("marshaling key: %v", err)
	}
	files := CredentialFiles{
		Certificate: filepath.Join(dir, "cert.pem"),
		PrivateKey:  filepath.Join(dir, "key.pem"),
	}
	WritePEM(t, files.Certificate, "CERTIFICATE", credentials.Certificate.Raw)
	WritePEM(t, files.PrivateKey, "PRIVATE KEY", keyDER)
	return files
}

// WritePEM writes one PEM block to path with mode 0600.
func WritePEM(t testing.TB, path, blockType string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
