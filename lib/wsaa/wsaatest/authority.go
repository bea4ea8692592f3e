// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsaatest

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/digitorus/pkcs7"

	"github.com/bureau-foundation/wsaa/lib/clock"
	"github.com/bureau-foundation/wsaa/lib/wsaa"
)

// LoginRequest is a LoginCms call as the fake authority decoded it.
type LoginRequest struct {
	Header          http.Header
	Ticket          *wsaa.TicketRequest
	Certificates    []*x509.Certificate
	DigestAlgorithm asn1.ObjectIdentifier
}

// Reply is the fake authority's HTTP response.
type Reply struct {
	StatusCode int
	Body       string
}

// Responder decides the reply to a decoded login request.
type Responder func(request *LoginRequest) Reply

// Authority is an in-process LoginCms server over TLS. By default it
// issues a ticket for every well-formed request, valid over the
// request's own generation and expiration times.
type Authority struct {
	t      testing.TB
	server *httptest.Server
	clock  clock.Clock

	mu        sync.Mutex
	responder Responder
	requests  []*LoginRequest
	gates     map[string]chan struct{}
	arrivals  chan string
}

// NewAuthority starts a fake authority. The server is closed when the
// test ends.
func NewAuthority(t testing.TB, clk clock.Clock) *Authority {
	t.Helper()
	authority := &Authority{
		t:        t,
		clock:    clk,
		gates:    make(map[string]chan struct{}),
		arrivals: make(chan string, 64),
	}
	authority.responder = authority.Issue
	authority.server = httptest.NewTLSServer(http.HandlerFunc(authority.serveHTTP))
	t.Cleanup(authority.Close)
	return authority
}

// URL is the LoginCms endpoint.
func (authority *Authority) URL() string {
	return authority.server.URL + "/ws/services/LoginCms"
}

// HTTPClient trusts the server's certificate.
func (authority *Authority) HTTPClient() *http.Client {
	return authority.server.Client()
}

// Certificate is the server's TLS certificate.
func (authority *Authority) Certificate() *x509.Certificate {
	return authority.server.Certificate()
}

// Close releases held requests and stops the server.
func (authority *Authority) Close() {
	authority.mu.Lock()
	for serviceID, gate := range authority.gates {
		close(gate)
		delete(authority.gates, serviceID)
	}
	authority.mu.Unlock()
	authority.server.Close()
}

// Respond replaces the responder.
func (authority *Authority) Respond(responder Responder) {
	authority.mu.Lock()
	authority.responder = responder
	authority.mu.Unlock()
}

// RespondWith always replies with body and status.
func (authority *Authority) RespondWith(statusCode int, body string) {
	authority.Respond(func(*LoginRequest) Reply {
		return Reply{StatusCode: statusCode, Body: body}
	})
}

// Requests returns the decoded login requests received so far.
func (authority *Authority) Requests() []*LoginRequest {
	authority.mu.Lock()
	defer authority.mu.Unlock()
	return append([]*LoginRequest(nil), authority.requests...)
}

// Calls returns the number of login requests received.
func (authority *Authority) Calls() int {
	authority.mu.Lock()
	defer authority.mu.Unlock()
	return len(authority.requests)
}

// Hold parks login requests for serviceID until the returned release
// function is called.
func (authority *Authority) Hold(serviceID string) (release func()) {
	gate := make(chan struct{})
	authority.mu.Lock()
	authority.gates[serviceID] = gate
	authority.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			authority.mu.Lock()
			if authority.gates[serviceID] == gate {
				delete(authority.gates, serviceID)
				close(gate)
			}
			authority.mu.Unlock()
		})
	}
}

// Arrivals delivers the service id of each login request as it is
// received, before any hold.
func (authority *Authority) Arrivals() <-chan string {
	return authority.arrivals
}

// Issue is the default responder: a ticket spanning the request's
// validity window.
func (authority *Authority) Issue(request *LoginRequest) Reply {
	fields := ValidTicket(request.Ticket.GenerationTime, request.Ticket.ExpirationTime.Sub(request.Ticket.GenerationTime))
	fields.UniqueID = fmt.Sprint(request.Ticket.UniqueID)
	fields.Source = wsaa.TestingDestination
	fields.Destination = request.Ticket.Source
	if fields.Destination == "" {
		fields.Destination = "SERIALNUMBER=CUIT " + TestCUIT
	}
	return Reply{StatusCode: http.StatusOK, Body: LoginResponse(TicketDocument(fields))}
}

type soapRequest struct {
	In0 string `xml:"Body>loginCms>in0"`
}

func (authority *Authority) serveHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method == http.MethodGet && request.URL.RawQuery == "wsdl" {
		writer.Header().Set("Content-Type", "text/xml")
		io.WriteString(writer, `<?xml version="1.0"?><wsdl:definitions xmlns:wsdl="http://schemas.xmlsoap.org/wsdl/" name="LoginCMSService"/>`)
		return
	}
	if request.Method != http.MethodPost {
		http.Error(writer, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	login, err := decodeLogin(request)
	if err != nil {
		authority.t.Logf("fake authority: rejecting request: %v", err)
		writeReply(writer, Reply{StatusCode: http.StatusInternalServerError, Body: FaultResponse("cms.bad", err.Error())})
		return
	}

	authority.mu.Lock()
	authority.requests = append(authority.requests, login)
	gate := authority.gates[login.Ticket.ServiceID]
	responder := authority.responder
	authority.mu.Unlock()

	select {
	case authority.arrivals <- login.Ticket.ServiceID:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-request.Context().Done():
			return
		}
	}
	writeReply(writer, responder(login))
}

func decodeLogin(request *http.Request) (*LoginRequest, error) {
	body, err := io.ReadAll(request.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	var envelope soapRequest
	if err := xml.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parsing SOAP envelope: %w", err)
	}
	der, err := base64.StdEncoding.DecodeString(envelope.In0)
	if err != nil {
		return nil, fmt.Errorf("decoding in0: %w", err)
	}
	signed, err := pkcs7.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("parsing CMS: %w", err)
	}
	if len(signed.Signers) != 1 {
		return nil, fmt.Errorf("CMS has %d signers, want 1", len(signed.Signers))
	}
	ticket, err := wsaa.ParseRequest(signed.Content)
	if err != nil {
		return nil, err
	}
	return &LoginRequest{
		Header:          request.Header.Clone(),
		Ticket:          ticket,
		Certificates:    signed.Certificates,
		DigestAlgorithm: signed.Signers[0].DigestAlgorithm.Algorithm,
	}, nil
}

func writeReply(writer http.ResponseWriter, reply Reply) {
	statusCode := reply.StatusCode
	if statusCode == 0 {
		statusCode = http.StatusOK
	}
	writer.Header().Set("Content-Type", "text/xml; charset=utf-8")
	writer.WriteHeader(statusCode)
	io.WriteString(writer, reply.Body)
}

// ExpiredReply returns a responder issuing tickets that expired an hour
// before the authority clock.
func (authority *Authority) ExpiredReply() Responder {
	return func(request *LoginRequest) Reply {
		now := authority.clock.Now()
		fields := ValidTicket(now.Add(-13*time.Hour), 12*time.Hour)
		return Reply{StatusCode: http.StatusOK, Body: LoginResponse(TicketDocument(fields))}
	}
}
