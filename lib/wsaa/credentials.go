// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsaa

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/pkcs12"

	"github.com/bureau-foundation/wsaa/lib/secret"
)

// CredentialPaths locates the signing material. Either Certificate and
// PrivateKey (PEM) or PKCS12 must be set.
type CredentialPaths struct {
	// Certificate is a PEM file holding the certificate issued by the
	// authority's CA. Additional certificates after the first are
	// ignored.
	Certificate string

	// PrivateKey is a PEM file holding the matching unencrypted key in
	// PKCS#1, PKCS#8, or SEC 1 form.
	PrivateKey string

	// PKCS12 is a .p12/.pfx bundle holding both. When set, Certificate
	// and PrivateKey are ignored.
	PKCS12 string

	// PKCS12PasswordFile holds the bundle password. Trailing newlines
	// are removed. Empty means no password.
	PKCS12PasswordFile string
}

// Credentials is a parsed signing certificate and its private key.
type Credentials struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.Signer

	fingerprint string
}

// LoadCredentials reads and parses the signing material. Missing files
// are reported as KindCertificateNotFound or KindPrivateKeyNotFound;
// unparsable or mismatched material as KindSigning. File contents are
// read into protected memory and released before returning.
func LoadCredentials(paths CredentialPaths) (*Credentials, error) {
	if paths.PKCS12 != "" {
		return loadPKCS12(paths.PKCS12, paths.PKCS12PasswordFile)
	}
	if paths.Certificate == "" {
		return nil, newError(KindCertificateNotFound, "no certificate path configured")
	}
	if paths.PrivateKey == "" {
		return nil, newError(KindPrivateKeyNotFound, "no private key path configured")
	}

	certificatePEM, err := secret.ReadFile(paths.Certificate)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, wrapError(KindCertificateNotFound, err, "certificate %s", paths.Certificate)
		}
		return nil, signingError(ReasonCertificateLoad, err, "reading certificate %s", paths.Certificate)
	}
	defer certificatePEM.Close()

	keyPEM, err := secret.ReadFile(paths.PrivateKey)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, wrapError(KindPrivateKeyNotFound, err, "private key %s", paths.PrivateKey)
		}
		return nil, signingError(ReasonKeyLoad, err, "reading private key %s", paths.PrivateKey)
	}
	defer keyPEM.Close()

	certificate, err := parseCertificatePEM(certificatePEM.Bytes())
	if err != nil {
		return nil, signingError(ReasonCertificateLoad, err, "parsing certificate %s", paths.Certificate)
	}
	key, err := parsePrivateKeyPEM(keyPEM.Bytes())
	if err != nil {
		return nil, signingError(ReasonKeyLoad, err, "parsing private key %s", paths.PrivateKey)
	}
	return NewCredentials(certificate, key)
}

func loadPKCS12(path, passwordFile string) (*Credentials, error) {
	bundle, err := secret.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, wrapError(KindCertificateNotFound, err, "PKCS#12 bundle %s", path)
		}
		return nil, signingError(ReasonCertificateLoad, err, "reading PKCS#12 bundle %s", path)
	}
	defer bundle.Close()

	var password string
	if passwordFile != "" {
		passwordBuffer, err := secret.ReadFile(passwordFile)
		if err != nil {
			return nil, signingError(ReasonKeyLoad, err, "reading PKCS#12 password %s", passwordFile)
		}
		password = strings.TrimRight(string(passwordBuffer.Bytes()), "\r\n")
		passwordBuffer.Close()
	}

	key, certificate, err := pkcs12.Decode(bundle.Bytes(), password)
	if err != nil {
		return nil, signingError(ReasonKeyLoad, err, "decoding PKCS#12 bundle %s", path)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, signingError(ReasonKeyLoad, nil, "PKCS#12 bundle %s holds an unsupported %T key", path, key)
	}
	return NewCredentials(certificate, signer)
}

// NewCredentials pairs a certificate with its key, failing with
// ReasonKeyMismatch when the key does not belong to the certificate.
func NewCredentials(certificate *x509.Certificate, key crypto.Signer) (*Credentials, error) {
	if certificate == nil {
		return nil, signingError(ReasonCertificateLoad, nil, "certificate is nil")
	}
	if key == nil {
		return nil, signingError(ReasonKeyLoad, nil, "private key is nil")
	}
	public, ok := key.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !public.Equal(certificate.PublicKey) {
		return nil, signingError(ReasonKeyMismatch, nil, "private key does not match certificate %q", certificate.Subject.CommonName)
	}
	sum := blake3.Sum256(certificate.Raw)
	return &Credentials{
		Certificate: certificate,
		PrivateKey:  key,
		fingerprint: hex.EncodeToString(sum[:]),
	}, nil
}

// Fingerprint is the hex BLAKE3 digest of the certificate DER. Tickets
// record it so a ticket obtained with one certificate is never served
// to a client configured with another.
func (credentials *Credentials) Fingerprint() string {
	return credentials.fingerprint
}

// NotAfter returns the certificate expiry.
func (credentials *Credentials) NotAfter() time.Time {
	return credentials.Certificate.NotAfter
}

func parseCertificatePEM(data []byte) (*x509.Certificate, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("no CERTIFICATE block found")
		}
		if block.Type == "CERTIFICATE" {
			return x509.ParseCertificate(block.Bytes)
		}
	}
}

func parsePrivateKeyPEM(data []byte) (crypto.Signer, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("no private key block found")
		}
		if !strings.HasSuffix(block.Type, "PRIVATE KEY") {
			continue
		}
		defer secret.Zero(block.Bytes)
		if block.Type == "ENCRYPTED PRIVATE KEY" || block.Headers["Proc-Type"] != "" {
			return nil, fmt.Errorf("encrypted private keys are not supported")
		}
		return parsePrivateKeyDER(block.Bytes)
	}
}

func parsePrivateKeyDER(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("not a PKCS#1, SEC 1, or PKCS#8 key: %w", err)
	}
	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported %T key", parsed)
	}
	return signer, nil
}

// attributeNames are the short names RFC 2253 and RFC 4514 define, plus
// serialNumber, which the authority uses to carry the CUIT.
var attributeNames = map[string]string{
	"2.5.4.3":                    "CN",
	"2.5.4.5":                    "serialNumber",
	"2.5.4.6":                    "C",
	"2.5.4.7":                    "L",
	"2.5.4.8":                    "ST",
	"2.5.4.9":                    "STREET",
	"2.5.4.10":                   "O",
	"2.5.4.11":                   "OU",
	"0.9.2342.19200300.100.1.1":  "UID",
	"0.9.2342.19200300.100.1.25": "DC",
}

// SubjectDN renders the certificate subject as an RFC 2253 string: RDNs
// in reverse encoding order, multi-valued RDNs joined with '+', and
// special characters escaped. The authority compares it with the TRA
// source element.
func (credentials *Credentials) SubjectDN() (string, error) {
	var sequence pkix.RDNSequence
	rest, err := asn1.Unmarshal(credentials.Certificate.RawSubject, &sequence)
	if err != nil {
		return "", fmt.Errorf("decoding certificate subject: %w", err)
	}
	if len(rest) > 0 {
		return "", fmt.Errorf("trailing data after certificate subject")
	}
	if len(sequence) == 0 {
		return "", fmt.Errorf("certificate subject is empty")
	}

	var builder strings.Builder
	for index := len(sequence) - 1; index >= 0; index-- {
		if builder.Len() > 0 {
			builder.WriteByte(',')
		}
		for attributeIndex, attribute := range sequence[index] {
			if attributeIndex > 0 {
				builder.WriteByte('+')
			}
			value, ok := attribute.Value.(string)
			if !ok {
				return "", fmt.Errorf("subject attribute %s has non-string value %T", attribute.Type, attribute.Value)
			}
			name, known := attributeNames[attribute.Type.String()]
			if !known {
				name = attribute.Type.String()
			}
			builder.WriteString(name)
			builder.WriteByte('=')
			builder.WriteString(escapeDNValue(value))
		}
	}
	return builder.String(), nil
}

// escapeDNValue applies RFC 2253 section 2.4 escaping.
func escapeDNValue(value string) string {
	var buffer bytes.Buffer
	for index, character := range value {
		switch {
		case strings.ContainsRune(",+\"\\<>;", character):
			buffer.WriteByte('\\')
		case index == 0 && (character == ' ' || character == '#'):
			buffer.WriteByte('\\')
		case index == len(value)-1 && character == ' ':
			buffer.WriteByte('\\')
		}
		buffer.WriteRune(character)
	}
	return buffer.String()
}
