// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsaa

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type fixedSubject struct {
	dn  string
	err error
}

func (subject fixedSubject) SubjectDN() (string, error) { return subject.dn, subject.err }

var buenosAires = time.FixedZone("ART", -3*60*60)

func TestBuildRequest(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 30, 15, 500_000_000, buenosAires)
	request, err := BuildRequest(DefaultCatalog(), Testing, "wslsp", 0, fixedSubject{dn: "serialNumber=CUIT 20123456786,CN=test"}, now)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if request.ServiceID != "wslsp" {
		t.Errorf("ServiceID = %q", request.ServiceID)
	}
	if request.Destination != TestingDestination {
		t.Errorf("Destination = %q", request.Destination)
	}
	if request.Source != "serialNumber=CUIT 20123456786,CN=test" {
		t.Errorf("Source = %q", request.Source)
	}
	if want := now.Truncate(time.Second); !request.GenerationTime.Equal(want) {
		t.Errorf("GenerationTime = %v, want %v", request.GenerationTime, want)
	}
	if span := request.ExpirationTime.Sub(request.GenerationTime); span != DefaultValidity {
		t.Errorf("validity = %v, want %v", span, DefaultValidity)
	}
	if request.UniqueID != uint32(now.UnixMilli()) {
		t.Errorf("UniqueID = %d", request.UniqueID)
	}
	if len(request.Warnings) != 0 {
		t.Errorf("Warnings = %v", request.Warnings)
	}
}

func TestBuildRequestProductionDestination(t *testing.T) {
	request, err := BuildRequest(DefaultCatalog(), Production, "mtxca", time.Hour, nil, time.Now())
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if request.Destination != ProductionDestination {
		t.Errorf("Destination = %q", request.Destination)
	}
	if request.Source != "" {
		t.Errorf("Source = %q, want empty without a subject", request.Source)
	}
}

func TestBuildRequestSourceFailureIsWarning(t *testing.T) {
	request, err := BuildRequest(DefaultCatalog(), Testing, "wslsp", 0, fixedSubject{err: errors.New("subject has non-string value")}, time.Now())
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if request.Source != "" {
		t.Errorf("Source = %q", request.Source)
	}
	if len(request.Warnings) != 1 || !strings.Contains(request.Warnings[0], "non-string value") {
		t.Errorf("Warnings = %v", request.Warnings)
	}
	encoded, err := request.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if strings.Contains(string(encoded), "<source>") {
		t.Errorf("encoded request has a source element: %s", encoded)
	}
}

func TestBuildRequestRejectsServiceIDs(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"too short", "ws"},
		{"too long", strings.Repeat("a", 33)},
		{"leading digit", "1wsfe"},
		{"hyphen", "ws-fe"},
		{"space", "ws fe"},
		{"not in catalog", "wsfake"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := BuildRequest(DefaultCatalog(), Testing, test.id, 0, nil, time.Now())
			if !IsKind(err, KindInvalidServiceID) {
				t.Errorf("BuildRequest(%q) error = %v, want %s", test.id, err, KindInvalidServiceID)
			}
		})
	}
}

func TestEncodeCanonical(t *testing.T) {
	generation := time.Date(2026, 3, 1, 10, 0, 0, 0, buenosAires)
	request := &TicketRequest{
		ServiceID:      "wsfe",
		Source:         "CN=a&b",
		Destination:    TestingDestination,
		UniqueID:       4294967295,
		GenerationTime: generation,
		ExpirationTime: generation.Add(12 * time.Hour),
	}
	encoded, err := request.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<loginTicketRequest version="1.0"><header>` +
		`<source>CN=a&amp;b</source>` +
		`<destination>cn=wsaahomo,o=afip,c=ar,serialNumber=CUIT 33693450239</destination>` +
		`<uniqueId>4294967295</uniqueId>` +
		`<generationTime>2026-03-01T10:00:00-03:00</generationTime>` +
		`<expirationTime>2026-03-01T22:00:00-03:00</expirationTime>` +
		`</header><service>wsfe</service></loginTicketRequest>`
	if string(encoded) != want {
		t.Errorf("Encode =\n%s\nwant\n%s", encoded, want)
	}
}

func TestParseRequestRejects(t *testing.T) {
	tests := map[string]string{
		"not xml":      "garbage",
		"wrong root":   `<loginTicketResponse version="1.0"/>`,
		"bad version":  `<loginTicketRequest version="2.0"><header><uniqueId>1</uniqueId></header></loginTicketRequest>`,
		"big uniqueId": `<loginTicketRequest version="1.0"><header><uniqueId>4294967296</uniqueId><generationTime>2026-03-01T10:00:00-03:00</generationTime><expirationTime>2026-03-01T11:00:00-03:00</expirationTime></header><service>wsfe</service></loginTicketRequest>`,
		"no offset":    `<loginTicketRequest version="1.0"><header><uniqueId>1</uniqueId><generationTime>2026-03-01T10:00:00</generationTime><expirationTime>2026-03-01T11:00:00-03:00</expirationTime></header><service>wsfe</service></loginTicketRequest>`,
	}
	for name, document := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseRequest([]byte(document)); err == nil {
				t.Error("ParseRequest succeeded")
			}
		})
	}
}

func TestClampValidity(t *testing.T) {
	tests := []struct {
		input, want time.Duration
	}{
		{0, DefaultValidity},
		{-time.Hour, DefaultValidity},
		{time.Hour, time.Hour},
		{24 * time.Hour, 24 * time.Hour},
		{25 * time.Hour, MaxValidity},
		{time.Second, MinValidity},
	}
	for _, test := range tests {
		if got := ClampValidity(test.input); got != test.want {
			t.Errorf("ClampValidity(%v) = %v, want %v", test.input, got, test.want)
		}
	}
}

func TestRequestProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	catalog := DefaultCatalog()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, buenosAires)

	properties.Property("validity window is positive and at most 24h", prop.ForAll(
		func(validity int64, offset int64) bool {
			request, err := BuildRequest(catalog, Testing, "wsfe", time.Duration(validity), nil, base.Add(time.Duration(offset)))
			if err != nil {
				return false
			}
			span := request.ExpirationTime.Sub(request.GenerationTime)
			return span > 0 && span <= MaxValidity
		},
		gen.Int64Range(-int64(48*time.Hour), int64(48*time.Hour)),
		gen.Int64Range(0, int64(365*24*time.Hour)),
	))

	properties.Property("uniqueId is Unix milliseconds modulo 2^32", prop.ForAll(
		func(milliseconds int64) bool {
			now := time.UnixMilli(milliseconds)
			request, err := BuildRequest(catalog, Testing, "wsfe", 0, nil, now)
			return err == nil && uint64(request.UniqueID) == uint64(milliseconds)%(1<<32)
		},
		gen.Int64Range(0, 1<<45),
	))

	properties.Property("encode then parse preserves every field", prop.ForAll(
		func(offset int64, validity int64, serviceIndex int, source string) bool {
			services := catalog.Services()
			service := services[serviceIndex%len(services)]
			request, err := BuildRequest(catalog, Production, service.ID, time.Duration(validity), fixedSubject{dn: source}, base.Add(time.Duration(offset)))
			if err != nil {
				return false
			}
			encoded, err := request.Encode()
			if err != nil {
				return false
			}
			parsed, err := ParseRequest(encoded)
			if err != nil {
				return false
			}
			return parsed.ServiceID == request.ServiceID &&
				parsed.Source == request.Source &&
				parsed.Destination == request.Destination &&
				parsed.UniqueID == request.UniqueID &&
				parsed.GenerationTime.Equal(request.GenerationTime) &&
				parsed.ExpirationTime.Equal(request.ExpirationTime)
		},
		gen.Int64Range(0, int64(365*24*time.Hour)),
		gen.Int64Range(int64(time.Minute), int64(30*time.Hour)),
		gen.IntRange(0, 100),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
