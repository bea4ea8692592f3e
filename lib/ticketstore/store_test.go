// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ticketstore_test

import (
	"testing"
	"time"

	"github.com/bureau-foundation/wsaa/lib/sealed"
	"github.com/bureau-foundation/wsaa/lib/wsaa"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testTicket(serviceID string, environment wsaa.Environment, validity time.Duration) *wsaa.AccessTicket {
	location := time.FixedZone("-03", -3*60*60)
	generation := testNow.In(location)
	return &wsaa.AccessTicket{
		ServiceID:              serviceID,
		ServiceDisplayName:     serviceID,
		Environment:            environment,
		Token:                  "PD94bWwgdmVyc2lvbj0iMS4wIiBlbmNvZGluZz0iVVRGLTgi",
		Signature:              "Y2VydGlmaWNhdGUtc2lnbmF0dXJl",
		Source:                 "serialNumber=CUIT 20123456786,CN=wsaa-test",
		Destination:            wsaa.TestingDestination,
		UniqueID:               4031859296,
		GenerationTime:         generation,
		ExpirationTime:         generation.Add(validity),
		AcquiredAt:             testNow,
		CertificateFingerprint: "9f2c",
		Warnings:               []string{"token is shorter than expected"},
	}
}

func requireSameTicket(t *testing.T, got, want *wsaa.AccessTicket) {
	t.Helper()
	if got == nil {
		t.Fatal("ticket is nil")
	}
	if got.ServiceID != want.ServiceID || got.Environment != want.Environment {
		t.Errorf("ticket identity = %s/%s, want %s/%s", got.ServiceID, got.Environment, want.ServiceID, want.Environment)
	}
	if got.Token != want.Token || got.Signature != want.Signature {
		t.Errorf("credentials = %q/%q, want %q/%q", got.Token, got.Signature, want.Token, want.Signature)
	}
	if got.Source != want.Source || got.Destination != want.Destination || got.UniqueID != want.UniqueID {
		t.Errorf("header = %q %q %d, want %q %q %d",
			got.Source, got.Destination, got.UniqueID, want.Source, want.Destination, want.UniqueID)
	}
	if !got.GenerationTime.Equal(want.GenerationTime) || !got.ExpirationTime.Equal(want.ExpirationTime) {
		t.Errorf("window = %v..%v, want %v..%v", got.GenerationTime, got.ExpirationTime, want.GenerationTime, want.ExpirationTime)
	}
	if _, offset := got.ExpirationTime.Zone(); offset != -3*60*60 {
		t.Errorf("expiration offset = %d, want -10800", offset)
	}
	if got.CertificateFingerprint != want.CertificateFingerprint {
		t.Errorf("fingerprint = %q, want %q", got.CertificateFingerprint, want.CertificateFingerprint)
	}
	if len(got.Warnings) != len(want.Warnings) {
		t.Errorf("warnings = %v, want %v", got.Warnings, want.Warnings)
	}
}

func newKeypair(t *testing.T) *sealed.Keypair {
	t.Helper()
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	t.Cleanup(func() { keypair.Close() })
	return keypair
}
