// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts persisted ticket records with age.
//
// A ticket's token and sign are bearer credentials: anyone holding them
// can call the protected service until expiry. When the file ticket
// store is configured with an age recipient, each record is encrypted
// to that recipient before it touches disk, and decrypted with the
// matching identity on load. Decrypted plaintext and private keys are
// returned as *secret.Buffer values.
package sealed
