// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsaa

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinCredentialLength is the shortest token or sign the authority is
// known to issue. Shorter values are accepted with a warning.
const MinCredentialLength = 100

// AccessTicket is a Ticket of Access issued by the authority for one
// service. Values are immutable once returned.
type AccessTicket struct {
	ServiceID          string      `json:"service"`
	ServiceDisplayName string      `json:"service_name"`
	Environment        Environment `json:"environment"`

	Token     string `json:"token"`
	Signature string `json:"sign"`

	Source         string    `json:"source"`
	Destination    string    `json:"destination"`
	UniqueID       uint32    `json:"unique_id"`
	GenerationTime time.Time `json:"generation_time"`
	ExpirationTime time.Time `json:"expiration_time"`

	// AcquiredAt is the local time the ticket passed validation.
	AcquiredAt time.Time `json:"acquired_at"`

	// CertificateFingerprint identifies the certificate that signed the
	// request; see Credentials.Fingerprint.
	CertificateFingerprint string `json:"certificate_fingerprint,omitempty"`

	// Warnings are non-fatal diagnostics from building the request and
	// validating the response.
	Warnings []string `json:"warnings,omitempty"`
}

// Valid reports whether the ticket has not expired at now.
func (ticket *AccessTicket) Valid(now time.Time) bool {
	return ticket != nil && !now.After(ticket.ExpirationTime)
}

// Remaining returns the validity left at now, or zero once expired.
func (ticket *AccessTicket) Remaining(now time.Time) time.Duration {
	remaining := ticket.ExpirationTime.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// xmlNode is a generic element tree. SOAP responses are matched by local
// name so both namespaced and bare forms are recognized.
type xmlNode struct {
	XMLName  xml.Name
	Text     string    `xml:",chardata"`
	Inner    []byte    `xml:",innerxml"`
	Children []xmlNode `xml:",any"`
}

// find returns the first element in document order, including node
// itself, whose local name is local.
func (node *xmlNode) find(local string) *xmlNode {
	if node.XMLName.Local == local {
		return node
	}
	for index := range node.Children {
		if found := node.Children[index].find(local); found != nil {
			return found
		}
	}
	return nil
}

// findParent returns the parent of the first element named local.
func (node *xmlNode) findParent(local string) *xmlNode {
	for index := range node.Children {
		if node.Children[index].XMLName.Local == local {
			return node
		}
		if found := node.Children[index].findParent(local); found != nil {
			return found
		}
	}
	return nil
}

// child returns the first direct child named local.
func (node *xmlNode) child(local string) *xmlNode {
	for index := range node.Children {
		if node.Children[index].XMLName.Local == local {
			return &node.Children[index]
		}
	}
	return nil
}

// text returns the concatenated character data of node and its
// descendants, trimmed.
func (node *xmlNode) text() string {
	var builder strings.Builder
	node.collectText(&builder)
	return strings.TrimSpace(builder.String())
}

func (node *xmlNode) collectText(builder *strings.Builder) {
	builder.WriteString(node.Text)
	for index := range node.Children {
		node.Children[index].collectText(builder)
	}
}

func parseXMLTree(data []byte) (*xmlNode, error) {
	var root xmlNode
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = true
	if err := decoder.Decode(&root); err != nil {
		return nil, err
	}
	return &root, nil
}

// ValidateResponse turns a LoginCms response body into an AccessTicket
// for service, or fails closed.
//
// Validation order: the body must be XML (KindMalformedResponse); a
// SOAP fault, namespaced or bare, becomes KindAuthorityFault with its
// classification; the loginCmsReturn payload must be present
// (KindMissingPayload) and decode to a loginTicketResponse
// (KindMalformedPayload); every header timestamp and both credentials
// must be present (KindIncompleteTicket); and the ticket must be
// neither expired (KindExpiredTicket) nor generated after now
// (KindFutureGenerationTime).
func ValidateResponse(body []byte, service Service, environment Environment, now time.Time) (*AccessTicket, error) {
	root, err := parseXMLTree(body)
	if err != nil {
		return nil, wrapError(KindMalformedResponse, err, "response is not well-formed XML")
	}

	if fault := extractFault(root); fault != nil {
		return nil, faultError(fault)
	}

	payload := root.find("loginCmsReturn")
	if payload == nil {
		return nil, newError(KindMissingPayload, "response has no loginCmsReturn element")
	}
	var document []byte
	if payload.child("loginTicketResponse") != nil {
		document = bytes.TrimSpace(payload.Inner)
	} else if document, err = decodePayload(payload.text()); err != nil {
		return nil, err
	}

	ticket, err := parseTicketDocument(document)
	if err != nil {
		return nil, err
	}

	if now.After(ticket.ExpirationTime) {
		return nil, newError(KindExpiredTicket, "ticket expired at %s (now %s)",
			ticket.ExpirationTime.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	if ticket.GenerationTime.After(now) {
		return nil, newError(KindFutureGenerationTime, "ticket generated at %s, after local time %s; check the system clock",
			ticket.GenerationTime.Format(time.RFC3339), now.Format(time.RFC3339))
	}

	if length := len(ticket.Token); length < MinCredentialLength {
		ticket.Warnings = append(ticket.Warnings, fmt.Sprintf("token is %d characters, shorter than the expected %d", length, MinCredentialLength))
	}
	if length := len(ticket.Signature); length < MinCredentialLength {
		ticket.Warnings = append(ticket.Warnings, fmt.Sprintf("sign is %d characters, shorter than the expected %d", length, MinCredentialLength))
	}

	ticket.ServiceID = service.ID
	ticket.ServiceDisplayName = service.DisplayName
	ticket.Environment = environment
	ticket.AcquiredAt = now
	return ticket, nil
}

// extractFault recognizes SOAP 1.1 (faultcode, faultstring) and SOAP
// 1.2 (Code/Value, Reason/Text) faults, and a faultstring outside any
// Fault element.
func extractFault(root *xmlNode) *Fault {
	fault := root.find("Fault")
	if fault == nil {
		fault = root.findParent("faultstring")
	}
	if fault == nil {
		return nil
	}

	var code string
	if element := fault.child("faultcode"); element != nil {
		code = element.text()
	} else if element := fault.child("Code"); element != nil {
		code = soap12Code(element)
	}
	code = NormalizeFaultCode(code)
	if code == "" {
		code = "unknown"
	}

	var description string
	if element := fault.child("faultstring"); element != nil {
		description = element.text()
	} else if element := fault.child("Reason"); element != nil {
		description = element.text()
	} else {
		description = fault.text()
	}
	return &Fault{Code: code, Description: description}
}

// soap12Code returns the innermost Subcode/Value under a SOAP 1.2 Code,
// which carries the application code when the outer Value is a generic
// Sender or Receiver.
func soap12Code(code *xmlNode) string {
	value := ""
	for current := code; current != nil; current = current.child("Subcode") {
		if element := current.child("Value"); element != nil {
			value = element.text()
		}
	}
	return value
}

// decodePayload returns the loginTicketResponse document carried as
// text in loginCmsReturn. The authority sends it as escaped XML; base64
// is also accepted, strictly. A document embedded as child elements is
// handled by the caller.
func decodePayload(payload string) ([]byte, error) {
	if payload == "" {
		return nil, newError(KindMissingPayload, "loginCmsReturn is empty")
	}
	if strings.HasPrefix(payload, "<") {
		return []byte(payload), nil
	}
	compact := strings.Map(func(character rune) rune {
		switch character {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return character
	}, payload)
	document, err := base64.StdEncoding.Strict().DecodeString(compact)
	if err != nil {
		return nil, wrapError(KindMalformedPayload, err, "loginCmsReturn is neither XML nor valid base64")
	}
	return document, nil
}

type ticketDocument struct {
	XMLName     xml.Name           `xml:"loginTicketResponse"`
	Header      *ticketHeader      `xml:"header"`
	Credentials *ticketCredentials `xml:"credentials"`
}

type ticketHeader struct {
	Source         string `xml:"source"`
	Destination    string `xml:"destination"`
	UniqueID       string `xml:"uniqueId"`
	GenerationTime string `xml:"generationTime"`
	ExpirationTime string `xml:"expirationTime"`
}

type ticketCredentials struct {
	Token string `xml:"token"`
	Sign  string `xml:"sign"`
}

func parseTicketDocument(data []byte) (*AccessTicket, error) {
	var document ticketDocument
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = true
	if err := decoder.Decode(&document); err != nil {
		return nil, wrapError(KindMalformedPayload, err, "payload is not a loginTicketResponse document")
	}
	if document.Header == nil {
		return nil, newError(KindIncompleteTicket, "ticket has no header")
	}
	if document.Credentials == nil {
		return nil, newError(KindIncompleteTicket, "ticket has no credentials")
	}

	header := document.Header
	required := []struct{ name, value string }{
		{"source", header.Source},
		{"destination", header.Destination},
		{"uniqueId", header.UniqueID},
		{"generationTime", header.GenerationTime},
		{"expirationTime", header.ExpirationTime},
		{"token", document.Credentials.Token},
		{"sign", document.Credentials.Sign},
	}
	var missing []string
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return nil, newError(KindIncompleteTicket, "ticket is missing %s", strings.Join(missing, ", "))
	}

	uniqueID, err := strconv.ParseUint(strings.TrimSpace(header.UniqueID), 10, 32)
	if err != nil {
		return nil, wrapError(KindMalformedPayload, err, "ticket uniqueId %q", header.UniqueID)
	}
	generation, err := parseTicketTime("generationTime", header.GenerationTime)
	if err != nil {
		return nil, err
	}
	expiration, err := parseTicketTime("expirationTime", header.ExpirationTime)
	if err != nil {
		return nil, err
	}
	if !expiration.After(generation) {
		return nil, newError(KindMalformedPayload, "ticket expirationTime %s is not after generationTime %s",
			header.ExpirationTime, header.GenerationTime)
	}

	return &AccessTicket{
		Token:          strings.TrimSpace(document.Credentials.Token),
		Signature:      strings.TrimSpace(document.Credentials.Sign),
		Source:         strings.TrimSpace(header.Source),
		Destination:    strings.TrimSpace(header.Destination),
		UniqueID:       uint32(uniqueID),
		GenerationTime: generation,
		ExpirationTime: expiration,
	}, nil
}

// parseTicketTime accepts RFC 3339 with an explicit offset and optional
// fractional seconds. A timestamp without an offset is rejected.
func parseTicketTime(name, value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, wrapError(KindMalformedPayload, err, "ticket %s %q", name, value)
	}
	return parsed, nil
}
