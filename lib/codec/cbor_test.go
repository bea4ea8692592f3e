// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
	"time"
)

type sampleRecord struct {
	Service   string    `cbor:"service"`
	UniqueID  uint32    `cbor:"unique_id"`
	ExpiresAt time.Time `cbor:"expires_at"`
	Warnings  []string  `cbor:"warnings,omitempty"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	offset := time.FixedZone("-03:00", -3*60*60)
	original := sampleRecord{
		Service:   "wsfe",
		UniqueID:  4294967295,
		ExpiresAt: time.Date(2026, 3, 1, 21, 0, 0, 0, offset),
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.Service != original.Service || decoded.UniqueID != original.UniqueID {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
	if !decoded.ExpiresAt.Equal(original.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", decoded.ExpiresAt, original.ExpiresAt)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	record := sampleRecord{Service: "wslsp", UniqueID: 7}

	first, err := Marshal(record)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(record)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("same record produced different encodings")
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	data, err := Marshal(map[string]any{"service": "mtxca", "added_later": true})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Service != "mtxca" {
		t.Errorf("Service = %q, want mtxca", decoded.Service)
	}
}
