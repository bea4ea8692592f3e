// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsaatest

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/bureau-foundation/wsaa/lib/wsaa"
)

// responseTimestampLayout matches what the live authority sends:
// milliseconds and a numeric offset.
const responseTimestampLayout = "2006-01-02T15:04:05.000-07:00"

// TicketFields are the contents of a loginTicketResponse. Empty string
// fields are omitted from the document, which is how tests build
// incomplete tickets.
type TicketFields struct {
	Source         string
	Destination    string
	UniqueID       string
	GenerationTime string
	ExpirationTime string
	Token          string
	Sign           string
}

// ValidTicket returns fields for a ticket generated at generation and
// valid for validity, with realistic credential lengths.
func ValidTicket(generation time.Time, validity time.Duration) TicketFields {
	return TicketFields{
		Source:         wsaa.TestingDestination,
		Destination:    "SERIALNUMBER=CUIT " + TestCUIT + ", CN=wsaa-test",
		UniqueID:       fmt.Sprint(wsaa.UniqueIDAt(generation)),
		GenerationTime: generation.Format(responseTimestampLayout),
		ExpirationTime: generation.Add(validity).Format(responseTimestampLayout),
		Token:          Credential("token", 600),
		Sign:           Credential("sign", 172),
	}
}

// Credential returns a deterministic base64-looking string of length n.
func Credential(seed string, n int) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(strings.Repeat(seed+"-credential-", n/8+1)))
	return encoded[:n]
}

// TicketDocument renders a loginTicketResponse document.
func TicketDocument(fields TicketFields) string {
	var buffer bytes.Buffer
	buffer.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	buffer.WriteString(`<loginTicketResponse version="1.0"><header>`)
	writeElement(&buffer, "source", fields.Source)
	writeElement(&buffer, "destination", fields.Destination)
	writeElement(&buffer, "uniqueId", fields.UniqueID)
	writeElement(&buffer, "generationTime", fields.GenerationTime)
	writeElement(&buffer, "expirationTime", fields.ExpirationTime)
	buffer.WriteString(`</header><credentials>`)
	writeElement(&buffer, "token", fields.Token)
	writeElement(&buffer, "sign", fields.Sign)
	buffer.WriteString(`</credentials></loginTicketResponse>`)
	return buffer.String()
}

func writeElement(buffer *bytes.Buffer, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(buffer, "<%s>", name)
	xml.EscapeText(buffer, []byte(value))
	fmt.Fprintf(buffer, "</%s>", name)
}

const soap11Open = `<?xml version="1.0" encoding="UTF-8"?>` +
	`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" ` +
	`xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">` +
	`<soapenv:Body>`

const soap11Close = `</soapenv:Body></soapenv:Envelope>`

// LoginResponse wraps a ticket document in a loginCmsResponse, escaped
// as the live authority does.
func LoginResponse(document string) string {
	var buffer bytes.Buffer
	buffer.WriteString(soap11Open)
	buffer.WriteString(`<loginCmsResponse xmlns="http://wsaa.view.sua.dvadac.desein.afip.gov"><loginCmsReturn>`)
	xml.EscapeText(&buffer, []byte(document))
	buffer.WriteString(`</loginCmsReturn></loginCmsResponse>`)
	buffer.WriteString(soap11Close)
	return buffer.String()
}

// LoginResponseBase64 wraps a ticket document base64-encoded.
func LoginResponseBase64(document string) string {
	return soap11Open +
		`<ns1:loginCmsResponse xmlns:ns1="http://wsaa.view.sua.dvadac.desein.afip.gov"><ns1:loginCmsReturn>` +
		base64.StdEncoding.EncodeToString([]byte(document)) +
		`</ns1:loginCmsReturn></ns1:loginCmsResponse>` +
		soap11Close
}

// LoginResponsePayload wraps raw payload text without escaping it.
func LoginResponsePayload(payload string) string {
	return soap11Open +
		`<loginCmsResponse xmlns="http://wsaa.view.sua.dvadac.desein.afip.gov"><loginCmsReturn>` +
		payload +
		`</loginCmsReturn></loginCmsResponse>` +
		soap11Close
}

// FaultResponse renders the SOAP 1.1 fault the authority sends, with
// the code in the Axis namespace ("ns1:coe.alreadyAuthenticated").
func FaultResponse(code, description string) string {
	var buffer bytes.Buffer
	buffer.WriteString(soap11Open)
	buffer.WriteString(`<soapenv:Fault><faultcode xmlns:ns1="http://xml.apache.org/axis/">ns1:`)
	xml.EscapeText(&buffer, []byte(code))
	buffer.WriteString(`</faultcode><faultstring>`)
	xml.EscapeText(&buffer, []byte(description))
	buffer.WriteString(`</faultstring><detail><ns2:hostname xmlns:ns2="http://xml.apache.org/axis/">wsaahomo</ns2:hostname></detail></soapenv:Fault>`)
	buffer.WriteString(soap11Close)
	return buffer.String()
}

// FaultResponse12 renders a SOAP 1.2 fault with the code as a Subcode
// under a Receiver Value.
func FaultResponse12(code, description string) string {
	var buffer bytes.Buffer
	buffer.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buffer.WriteString(`<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope"><env:Body><env:Fault>`)
	buffer.WriteString(`<env:Code><env:Value>env:Receiver</env:Value><env:Subcode><env:Value xmlns:ns1="http://xml.apache.org/axis/">ns1:`)
	xml.EscapeText(&buffer, []byte(code))
	buffer.WriteString(`</env:Value></env:Subcode></env:Code><env:Reason><env:Text xml:lang="es">`)
	xml.EscapeText(&buffer, []byte(description))
	buffer.WriteString(`</env:Text></env:Reason></env:Fault></env:Body></env:Envelope>`)
	return buffer.String()
}
