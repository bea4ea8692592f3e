// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used for persisted ticket
// records.
//
// JSON is the format for CLI output; CBOR is the format for on-disk and
// Redis-stored ticket records. The encoder uses Core Deterministic
// Encoding (RFC 8949 §4.2) so the same record always produces the same
// bytes, and encodes time.Time as tagged RFC 3339 strings so the
// authority's UTC offset survives a round trip.
//
// Types serialized here use `cbor` struct tags when they are only ever
// stored, and `json` tags when they are also printed by the CLI
// (fxamacker/cbor falls back to `json` tags).
package codec
