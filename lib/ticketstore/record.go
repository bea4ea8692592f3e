// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ticketstore

import (
	"bytes"
	"fmt"

	"github.com/bureau-foundation/wsaa/lib/codec"
	"github.com/bureau-foundation/wsaa/lib/sealed"
	"github.com/bureau-foundation/wsaa/lib/secret"
	"github.com/bureau-foundation/wsaa/lib/wsaa"
)

// recordVersion is bumped when the record layout changes incompatibly.
// Records with another version are treated as absent.
const recordVersion = 1

// ageHeader prefixes every binary age file.
var ageHeader = []byte("age-encryption.org/v1\n")

type record struct {
	Version int                `cbor:"version"`
	Ticket  *wsaa.AccessTicket `cbor:"ticket"`
}

// Sealing configures age encryption of stored records.
type Sealing struct {
	// Recipients are age X25519 public keys. Records are encrypted to
	// all of them when non-empty, and stored as plain CBOR otherwise.
	Recipients []string

	// Identity is the age private key used to read sealed records.
	// Borrowed; the caller keeps ownership and closes it.
	Identity *secret.Buffer
}

// Validate checks every recipient key.
func (sealing Sealing) Validate() error {
	for _, recipient := range sealing.Recipients {
		if err := sealed.ParsePublicKey(recipient); err != nil {
			return fmt.Errorf("ticketstore: %w", err)
		}
	}
	return nil
}

func (sealing Sealing) encode(ticket *wsaa.AccessTicket) ([]byte, error) {
	plaintext, err := codec.Marshal(record{Version: recordVersion, Ticket: ticket})
	if err != nil {
		return nil, fmt.Errorf("ticketstore: encoding ticket: %w", err)
	}
	if len(sealing.Recipients) == 0 {
		return plaintext, nil
	}
	defer secret.Zero(plaintext)
	ciphertext, err := sealed.Encrypt(plaintext, sealing.Recipients)
	if err != nil {
		return nil, fmt.Errorf("ticketstore: sealing ticket: %w", err)
	}
	return ciphertext, nil
}

// decode returns the stored ticket, or nil for a record of another
// version.
func (sealing Sealing) decode(data []byte) (*wsaa.AccessTicket, error) {
	if bytes.HasPrefix(data, ageHeader) {
		if sealing.Identity == nil {
			return nil, fmt.Errorf("ticketstore: record is sealed and no identity is configured")
		}
		plaintext, err := sealed.Decrypt(data, sealing.Identity)
		if err != nil {
			return nil, fmt.Errorf("ticketstore: opening sealed record: %w", err)
		}
		defer plaintext.Close()
		return decodeRecord(plaintext.Bytes())
	}
	return decodeRecord(data)
}

func decodeRecord(data []byte) (*wsaa.AccessTicket, error) {
	var stored record
	if err := codec.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("ticketstore: decoding record: %w", err)
	}
	if stored.Version != recordVersion {
		return nil, nil
	}
	if stored.Ticket == nil {
		return nil, fmt.Errorf("ticketstore: record has no ticket")
	}
	return stored.Ticket, nil
}
