// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsaa

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bureau-foundation/wsaa/lib/netutil"
	"github.com/bureau-foundation/wsaa/lib/version"
)

// Transport deadlines.
const (
	DefaultTimeout = 30 * time.Second
	ProbeTimeout   = 10 * time.Second
)

// SOAP 1.2 constants for the LoginCms operation.
const (
	soapEnvelopeNamespace = "http://www.w3.org/2003/05/soap-envelope"
	loginCmsNamespace     = "http://wsaa.view.sua.dvadac.desein.afip.gov"
	soapContentType       = "application/soap+xml; charset=utf-8"
)

// errorBodyLimit bounds the response excerpt included in HTTP errors.
const errorBodyLimit = 512

// TransportConfig configures a Transport.
type TransportConfig struct {
	// Endpoint is the LoginCms URL. Must use HTTPS.
	Endpoint string

	// HTTPClient is used for all requests. Defaults to
	// http.DefaultClient. Its own Timeout, if any, applies in addition
	// to Timeout.
	HTTPClient *http.Client

	// Timeout is the deadline for one Invoke. Defaults to
	// DefaultTimeout.
	Timeout time.Duration

	// ProbeTimeout is the deadline for one Probe. Defaults to
	// ProbeTimeout.
	ProbeTimeout time.Duration

	// UserAgent defaults to version.UserAgent().
	UserAgent string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Transport posts signed envelopes to LoginCms.
type Transport struct {
	endpoint     string
	httpClient   *http.Client
	timeout      time.Duration
	probeTimeout time.Duration
	userAgent    string
	logger       *slog.Logger
}

// Response is a LoginCms HTTP response. Invoke returns one for 200 and
// for error statuses whose body may carry a SOAP fault.
type Response struct {
	StatusCode int
	Body       []byte
}

// NewTransport validates config and returns a Transport.
func NewTransport(config TransportConfig) (*Transport, error) {
	endpoint := strings.TrimSpace(config.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("wsaa: transport endpoint is required")
	}
	if !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("wsaa: authority endpoint requires HTTPS (got %q)", endpoint)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	probeTimeout := config.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = ProbeTimeout
	}
	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Transport{
		endpoint:     endpoint,
		httpClient:   httpClient,
		timeout:      timeout,
		probeTimeout: probeTimeout,
		userAgent:    userAgent,
		logger:       logger,
	}, nil
}

// Endpoint returns the configured LoginCms URL.
func (transport *Transport) Endpoint() string { return transport.endpoint }

type soapEnvelope struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	Soap    string   `xml:"xmlns:soap,attr"`
	Wsaa    string   `xml:"xmlns:wsaa,attr"`
	Header  struct{} `xml:"soap:Header"`
	Body    soapBody `xml:"soap:Body"`
}

type soapBody struct {
	LoginCms loginCms `xml:"wsaa:loginCms"`
}

type loginCms struct {
	In0 string `xml:"wsaa:in0"`
}

// EncodeEnvelope wraps a base64 CMS envelope in the SOAP 1.2 loginCms
// request document.
func EncodeEnvelope(encodedCMS string) ([]byte, error) {
	document := soapEnvelope{
		Soap: soapEnvelopeNamespace,
		Wsaa: loginCmsNamespace,
		Body: soapBody{LoginCms: loginCms{In0: encodedCMS}},
	}
	body, err := xml.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("wsaa: encoding SOAP envelope: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// Invoke posts the base64 CMS envelope to LoginCms. serviceID is used
// for logging only.
//
// A 200 response, or a 400/500 response with an XML body (SOAP carries
// faults on those statuses), is returned for validation. Other statuses
// fail with KindTransportHTTP. Network failures are KindTransportTimeout
// or KindTransportConnection; cancellation of ctx is KindCanceled.
func (transport *Transport) Invoke(ctx context.Context, serviceID, encodedCMS string) (*Response, error) {
	payload, err := EncodeEnvelope(encodedCMS)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, transport.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, transport.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, wrapError(KindTransportConnection, err, "creating request")
	}
	request.Header.Set("Content-Type", soapContentType)
	request.Header.Set("SOAPAction", `""`)
	request.Header.Set("Accept", "application/soap+xml, text/xml")
	request.Header.Set("User-Agent", transport.userAgent)

	started := time.Now()
	response, err := transport.httpClient.Do(request)
	if err != nil {
		return nil, transport.classifyNetworkError(ctx, err, transport.timeout)
	}
	defer response.Body.Close()

	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, transport.classifyNetworkError(ctx, err, transport.timeout)
		}
		return nil, wrapError(KindTransportConnection, err, "reading response from %s", transport.endpoint)
	}

	transport.logger.Debug("authority responded",
		"service", serviceID,
		"status", response.StatusCode,
		"bytes", len(body),
		"duration", time.Since(started),
	)

	if response.StatusCode == http.StatusOK || mayCarryFault(response.StatusCode, body) {
		return &Response{StatusCode: response.StatusCode, Body: body}, nil
	}
	return nil, &Error{
		Kind:       KindTransportHTTP,
		Message:    fmt.Sprintf("%s: %s", transport.endpoint, excerpt(body)),
		StatusCode: response.StatusCode,
		Retryable:  response.StatusCode >= 500 || response.StatusCode == http.StatusTooManyRequests,
	}
}

// Probe checks that the authority is reachable by fetching its WSDL.
func (transport *Transport) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, transport.probeTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, transport.endpoint+"?wsdl", nil)
	if err != nil {
		return wrapError(KindTransportConnection, err, "creating probe request")
	}
	request.Header.Set("User-Agent", transport.userAgent)

	response, err := transport.httpClient.Do(request)
	if err != nil {
		return transport.classifyNetworkError(ctx, err, transport.probeTimeout)
	}
	defer response.Body.Close()

	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		if ctx.Err() != nil {
			return transport.classifyNetworkError(ctx, err, transport.probeTimeout)
		}
		return wrapError(KindTransportConnection, err, "reading WSDL from %s", transport.endpoint)
	}
	if response.StatusCode != http.StatusOK {
		return &Error{
			Kind:       KindTransportHTTP,
			Message:    fmt.Sprintf("WSDL %s: %s", transport.endpoint, excerpt(body)),
			StatusCode: response.StatusCode,
			Retryable:  response.StatusCode >= 500,
		}
	}
	if !bytes.Contains(body, []byte("definitions")) {
		return newError(KindMalformedResponse, "%s?wsdl did not return a WSDL document", transport.endpoint)
	}
	return nil
}

func (transport *Transport) classifyNetworkError(ctx context.Context, err error, deadline time.Duration) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return wrapError(KindCanceled, ctx.Err(), "request to %s", transport.endpoint)
	}
	var netError net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netError) && netError.Timeout()) {
		return &Error{
			Kind:      KindTransportTimeout,
			Message:   fmt.Sprintf("no response from %s within %s", transport.endpoint, deadline),
			Retryable: true,
			Err:       err,
		}
	}
	return &Error{
		Kind:      KindTransportConnection,
		Message:   transport.endpoint,
		Retryable: true,
		Err:       err,
	}
}

func mayCarryFault(statusCode int, body []byte) bool {
	if statusCode != http.StatusInternalServerError && statusCode != http.StatusBadRequest {
		return false
	}
	return bytes.HasPrefix(bytes.TrimSpace(body), []byte("<"))
}

func excerpt(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > errorBodyLimit {
		cut := errorBodyLimit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	if text == "" {
		return "empty body"
	}
	return text
}
