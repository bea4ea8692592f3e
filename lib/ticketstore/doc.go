// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ticketstore persists Tickets of Access outside the process,
// implementing wsaa.Persister.
//
// [File] keeps one document per environment and service in a directory,
// written atomically. [Redis] keeps one key per environment and service
// with a TTL equal to the ticket's remaining validity, so several
// processes sharing a certificate can share tickets instead of each
// provoking coe.alreadyAuthenticated.
//
// Records are CBOR (lib/codec). When [Sealing] names age recipients,
// records are encrypted to them before they leave the process; reading
// a sealed record needs the matching identity. Token and sign are
// credentials, so unsealed files are written with mode 0600.
package ticketstore
