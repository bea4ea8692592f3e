// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsaa

import (
	"github.com/digitorus/pkcs7"

	"github.com/bureau-foundation/wsaa/lib/secret"
)

// Signer produces the CMS envelope the authority expects: SignedData
// with the content attached, a SHA-1 digest, and the signer
// certificate included.
type Signer struct {
	credentials *Credentials
}

// NewSigner returns a signer for the given credentials.
func NewSigner(credentials *Credentials) *Signer {
	return &Signer{credentials: credentials}
}

// Sign wraps content in a DER-encoded CMS SignedData envelope.
//
// Sign consumes content: it is moved into protected memory and the
// caller's slice is zeroed, whether or not signing succeeds. Failures
// are KindSigning with ReasonSign.
func (signer *Signer) Sign(content []byte) ([]byte, error) {
	if signer.credentials == nil {
		secret.Zero(content)
		return nil, signingError(ReasonKeyLoad, nil, "signer has no credentials")
	}
	if len(content) == 0 {
		return nil, signingError(ReasonSign, nil, "content is empty")
	}

	plaintext, err := secret.NewFromBytes(content)
	if err != nil {
		secret.Zero(content)
		return nil, signingError(ReasonSign, err, "protecting request content")
	}
	defer plaintext.Close()

	signedData, err := pkcs7.NewSignedData(plaintext.Bytes())
	if err != nil {
		return nil, signingError(ReasonSign, err, "initializing SignedData")
	}
	signedData.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA1)
	if err := signedData.AddSigner(signer.credentials.Certificate, signer.credentials.PrivateKey, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, signingError(ReasonSign, err, "adding signer %q", signer.credentials.Certificate.Subject.CommonName)
	}
	envelope, err := signedData.Finish()
	if err != nil {
		return nil, signingError(ReasonSign, err, "finishing SignedData")
	}
	return envelope, nil
}
