// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsaa

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Validity bounds for a requested ticket.
const (
	DefaultValidity = 12 * time.Hour
	MaxValidity     = 24 * time.Hour
	MinValidity     = time.Minute
)

// TimestampLayout is the TRA timestamp format: seconds precision with an
// explicit numeric offset.
const TimestampLayout = "2006-01-02T15:04:05-07:00"

// requestVersion is the loginTicketRequest schema version the authority
// accepts.
const requestVersion = "1.0"

// TicketRequest is a loginTicketRequest (TRA). Build one with
// BuildRequest; treat it as immutable afterwards.
type TicketRequest struct {
	ServiceID      string
	Source         string
	Destination    string
	UniqueID       uint32
	GenerationTime time.Time
	ExpirationTime time.Time

	// Warnings are non-fatal diagnostics raised while building, such as
	// a source DN that could not be extracted.
	Warnings []string
}

// Subject supplies the source DN for a request. *Credentials
// implements it.
type Subject interface {
	SubjectDN() (string, error)
}

// UniqueIDAt derives the TRA uniqueId from a time: Unix milliseconds
// reduced modulo 2^32.
func UniqueIDAt(t time.Time) uint32 {
	return uint32(t.UnixMilli())
}

// ClampValidity applies the validity rules: zero or negative selects
// DefaultValidity, anything above MaxValidity is reduced to it, and
// anything below MinValidity is raised to it.
func ClampValidity(validity time.Duration) time.Duration {
	switch {
	case validity <= 0:
		return DefaultValidity
	case validity > MaxValidity:
		return MaxValidity
	case validity < MinValidity:
		return MinValidity
	default:
		return validity
	}
}

// BuildRequest produces the TRA for serviceID. The id must satisfy
// ValidateServiceID and be present in catalog. Timestamps are rendered
// in now's location, truncated to whole seconds. A nil subject, or one
// that fails, omits the source element; a failure is recorded in
// Warnings rather than returned.
func BuildRequest(catalog *Catalog, environment Environment, serviceID string, validity time.Duration, subject Subject, now time.Time) (*TicketRequest, error) {
	if err := ValidateServiceID(serviceID); err != nil {
		return nil, err
	}
	if _, ok := catalog.Lookup(serviceID); !ok {
		return nil, newError(KindInvalidServiceID, "service %q is not in the catalog", serviceID)
	}

	generation := now.Truncate(time.Second)
	request := &TicketRequest{
		ServiceID:      serviceID,
		Destination:    environment.Destination(),
		UniqueID:       UniqueIDAt(now),
		GenerationTime: generation,
		ExpirationTime: generation.Add(ClampValidity(validity)).Truncate(time.Second),
	}

	if subject != nil {
		source, err := subject.SubjectDN()
		if err != nil {
			request.Warnings = append(request.Warnings, fmt.Sprintf("source DN omitted: %v", err))
		} else {
			request.Source = source
		}
	}
	return request, nil
}

type requestDocument struct {
	XMLName xml.Name      `xml:"loginTicketRequest"`
	Version string        `xml:"version,attr"`
	Header  requestHeader `xml:"header"`
	Service string        `xml:"service"`
}

type requestHeader struct {
	Source         string `xml:"source,omitempty"`
	Destination    string `xml:"destination"`
	UniqueID       string `xml:"uniqueId"`
	GenerationTime string `xml:"generationTime"`
	ExpirationTime string `xml:"expirationTime"`
}

// Encode serializes the request as a UTF-8 XML document with a
// declaration. Element order is fixed, so equal requests encode to
// equal bytes.
func (request *TicketRequest) Encode() ([]byte, error) {
	document := requestDocument{
		Version: requestVersion,
		Header: requestHeader{
			Source:         request.Source,
			Destination:    request.Destination,
			UniqueID:       strconv.FormatUint(uint64(request.UniqueID), 10),
			GenerationTime: request.GenerationTime.Format(TimestampLayout),
			ExpirationTime: request.ExpirationTime.Format(TimestampLayout),
		},
		Service: request.ServiceID,
	}
	body, err := xml.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("wsaa: encoding ticket request: %w", err)
	}
	var buffer bytes.Buffer
	buffer.Grow(len(xml.Header) + len(body))
	buffer.WriteString(xml.Header)
	buffer.Write(body)
	return buffer.Bytes(), nil
}

// ParseRequest decodes a TRA produced by Encode. Warnings are not
// serialized and come back empty.
func ParseRequest(data []byte) (*TicketRequest, error) {
	var document requestDocument
	if err := xml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("wsaa: parsing ticket request: %w", err)
	}
	if document.Version != requestVersion {
		return nil, fmt.Errorf("wsaa: ticket request version %q is not %q", document.Version, requestVersion)
	}
	uniqueID, err := strconv.ParseUint(strings.TrimSpace(document.Header.UniqueID), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("wsaa: ticket request uniqueId: %w", err)
	}
	generation, err := time.Parse(TimestampLayout, strings.TrimSpace(document.Header.GenerationTime))
	if err != nil {
		return nil, fmt.Errorf("wsaa: ticket request generationTime: %w", err)
	}
	expiration, err := time.Parse(TimestampLayout, strings.TrimSpace(document.Header.ExpirationTime))
	if err != nil {
		return nil, fmt.Errorf("wsaa: ticket request expirationTime: %w", err)
	}
	return &TicketRequest{
		ServiceID:      document.Service,
		Source:         document.Header.Source,
		Destination:    document.Header.Destination,
		UniqueID:       uint32(uniqueID),
		GenerationTime: generation,
		ExpirationTime: expiration,
	}, nil
}
