// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsaa

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/bureau-foundation/wsaa/lib/clock"
	"github.com/bureau-foundation/wsaa/lib/secret"
)

const tracerName = "github.com/bureau-foundation/wsaa/lib/wsaa"

// TicketSource provides tickets to code that calls protected services.
// *Client implements it; wsaatest.StaticSource is a test double.
type TicketSource interface {
	Ticket(ctx context.Context, serviceID string) (*AccessTicket, error)
}

// Config holds configuration for creating a Client.
type Config struct {
	// Environment selects the authority and destination DN. Required.
	Environment Environment

	// Credentials sign every request. Required.
	Credentials *Credentials

	// Catalog lists the services tickets can be requested for.
	// Defaults to DefaultCatalog().
	Catalog *Catalog

	// Endpoint overrides the environment's LoginCms URL. Must use HTTPS.
	Endpoint string

	// HTTPClient is used for LoginCms requests. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// Timeout bounds each LoginCms request. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Validity is the requested ticket lifetime. Zero selects
	// DefaultValidity; see ClampValidity.
	Validity time.Duration

	// Location renders TRA timestamps. Defaults to ArgentinaLocation().
	Location *time.Location

	// Persister, if set, receives every acquired ticket and is
	// consulted by Ticket on a cache miss.
	Persister Persister

	// Metrics records acquisitions, faults, and cache lookups. Nil
	// disables metrics.
	Metrics *Metrics

	// Tracer defaults to the global OpenTelemetry tracer provider.
	Tracer trace.Tracer

	// Clock provides time operations. Defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client acquires tickets from the authority and caches them per
// service.
type Client struct {
	environment Environment
	credentials *Credentials
	catalog     *Catalog
	signer      *Signer
	transport   *Transport
	validity    time.Duration
	location    *time.Location
	cache       *Cache
	persister   Persister
	metrics     *Metrics
	tracer      trace.Tracer
	clock       clock.Clock
	logger      *slog.Logger

	flights  singleflight.Group
	mu       sync.Mutex
	inflight map[string]*flight
}

// flight is one shared login for a service. Its context is detached
// from every caller and canceled once the last waiter leaves.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	fresh   bool
	waiters int
}

// NewClient creates a client from config.
func NewClient(config Config) (*Client, error) {
	if config.Environment != Testing && config.Environment != Production {
		return nil, fmt.Errorf("wsaa: environment must be %q or %q (got %q)", Testing, Production, config.Environment)
	}
	if config.Credentials == nil {
		return nil, fmt.Errorf("wsaa: credentials are required")
	}

	catalog := config.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	location := config.Location
	if location == nil {
		location = ArgentinaLocation()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := config.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = config.Environment.AuthorityURL()
	}
	transport, err := NewTransport(TransportConfig{
		Endpoint:   endpoint,
		HTTPClient: config.HTTPClient,
		Timeout:    config.Timeout,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		environment: config.Environment,
		credentials: config.Credentials,
		catalog:     catalog,
		signer:      NewSigner(config.Credentials),
		transport:   transport,
		validity:    ClampValidity(config.Validity),
		location:    location,
		cache:       NewCache(clk),
		persister:   config.Persister,
		metrics:     config.Metrics,
		tracer:      tracer,
		clock:       clk,
		logger:      logger,
		inflight:    make(map[string]*flight),
	}, nil
}

// Environment returns the configured environment.
func (client *Client) Environment() Environment { return client.environment }

// Catalog returns the client's service catalog.
func (client *Client) Catalog() *Catalog { return client.catalog }

// Cache returns the client's ticket cache.
func (client *Client) Cache() *Cache { return client.cache }

// Endpoint returns the LoginCms URL in use.
func (client *Client) Endpoint() string { return client.transport.Endpoint() }

// ObtainTicket performs a login for serviceID and caches the result.
// It never returns a cached or persisted ticket; use Ticket for that.
// Concurrent forced calls for the same service share one login, and a
// Ticket lookup already in flight is waited out before logging in. If
// ctx ends first the call returns KindCanceled.
func (client *Client) ObtainTicket(ctx context.Context, serviceID string) (*AccessTicket, error) {
	if err := client.checkService(serviceID); err != nil {
		return nil, err
	}
	return client.coalesce(ctx, serviceID, true, func(ctx context.Context) (*AccessTicket, error) {
		return client.acquire(ctx, serviceID)
	})
}

// Ticket returns a valid ticket for serviceID: from the cache, then the
// persister, and otherwise from a new login.
func (client *Client) Ticket(ctx context.Context, serviceID string) (*AccessTicket, error) {
	if err := client.checkService(serviceID); err != nil {
		return nil, err
	}
	if ticket, err := client.cache.Get(serviceID); err == nil {
		client.metrics.observeCacheLookup(cacheHit)
		return ticket, nil
	}
	return client.coalesce(ctx, serviceID, false, func(ctx context.Context) (*AccessTicket, error) {
		// A flight that finished just before this one started may
		// have filled the cache.
		if ticket, err := client.cache.Get(serviceID); err == nil {
			client.metrics.observeCacheLookup(cacheHit)
			return ticket, nil
		}
		if ticket := client.loadPersisted(ctx, serviceID); ticket != nil {
			client.metrics.observeCacheLookup(cachePersisted)
			client.cache.Put(ticket)
			return ticket, nil
		}
		client.metrics.observeCacheLookup(cacheMiss)
		return client.acquire(ctx, serviceID)
	})
}

// checkService rejects ids that are malformed or absent from the
// catalog before any cache, persister, or network access.
func (client *Client) checkService(serviceID string) error {
	if err := ValidateServiceID(serviceID); err != nil {
		return err
	}
	if _, ok := client.catalog.Lookup(serviceID); !ok {
		return newError(KindInvalidServiceID, "service %q is not in the catalog", serviceID)
	}
	return nil
}

// Result is one service's outcome from ObtainAll.
type Result struct {
	ServiceID string
	Ticket    *AccessTicket
	Err       error
}

// ObtainAll calls Ticket for every catalog service concurrently and
// returns the results in catalog order.
func (client *Client) ObtainAll(ctx context.Context) []Result {
	services := client.catalog.Services()
	results := make([]Result, len(services))
	var waitGroup sync.WaitGroup
	for index, service := range services {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			ticket, err := client.Ticket(ctx, service.ID)
			results[index] = Result{ServiceID: service.ID, Ticket: ticket, Err: err}
		}()
	}
	waitGroup.Wait()
	return results
}

// CheckConnectivity probes the authority's WSDL endpoint.
func (client *Client) CheckConnectivity(ctx context.Context) error {
	ctx, span := client.tracer.Start(ctx, "wsaa.probe")
	defer span.End()
	if err := client.transport.Probe(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return err
	}
	return nil
}

// coalesce runs fn once per service at a time. Each caller stops
// waiting when its own ctx ends; the shared login is canceled only when
// no caller is left waiting for it. A fresh caller that finds a
// non-fresh flight waits for it to land and then starts its own.
func (client *Client) coalesce(ctx context.Context, serviceID string, fresh bool, fn func(context.Context) (*AccessTicket, error)) (*AccessTicket, error) {
	for {
		current, results := client.join(ctx, serviceID, fresh, fn)
		select {
		case <-ctx.Done():
			client.leave(serviceID, current)
			return nil, wrapError(KindCanceled, ctx.Err(), "waiting for ticket %q", serviceID)
		case result := <-results:
			client.leave(serviceID, current)
			if fresh && !current.fresh {
				continue
			}
			if result.Err != nil {
				return nil, result.Err
			}
			return result.Val.(*AccessTicket), nil
		}
	}
}

// join registers the caller with the service's flight, starting one
// if none is running. The flight map and the singleflight group change
// together under client.mu, so a registered flight is always the one
// DoChan joins.
func (client *Client) join(ctx context.Context, serviceID string, fresh bool, fn func(context.Context) (*AccessTicket, error)) (*flight, <-chan singleflight.Result) {
	client.mu.Lock()
	defer client.mu.Unlock()
	current := client.inflight[serviceID]
	if current == nil {
		flightCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		current = &flight{ctx: flightCtx, cancel: cancel, fresh: fresh}
		client.inflight[serviceID] = current
	}
	current.waiters++
	launched := current
	results := client.flights.DoChan(serviceID, func() (any, error) {
		defer client.land(serviceID, launched)
		return fn(launched.ctx)
	})
	return current, results
}

// leave drops one waiter. The last waiter out cancels the login and
// unregisters it so later callers start a new one.
func (client *Client) leave(serviceID string, current *flight) {
	client.mu.Lock()
	defer client.mu.Unlock()
	current.waiters--
	if current.waiters > 0 {
		return
	}
	current.cancel()
	client.forget(serviceID, current)
}

// land unregisters a flight whose function has returned.
func (client *Client) land(serviceID string, current *flight) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.forget(serviceID, current)
}

func (client *Client) forget(serviceID string, current *flight) {
	if client.inflight[serviceID] == current {
		delete(client.inflight, serviceID)
		client.flights.Forget(serviceID)
	}
}

// acquire runs the login pipeline: build, sign, invoke, validate.
func (client *Client) acquire(ctx context.Context, serviceID string) (ticket *AccessTicket, err error) {
	ctx, span := client.tracer.Start(ctx, "wsaa.acquire", trace.WithAttributes(
		attribute.String("wsaa.service", serviceID),
		attribute.String("wsaa.environment", string(client.environment)),
	))
	defer func() {
		client.metrics.observeAcquisition(serviceID, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(KindOf(err)))
		}
		span.End()
	}()

	now := client.clock.Now().In(client.location)
	request, err := BuildRequest(client.catalog, client.environment, serviceID, client.validity, client.credentials, now)
	if err != nil {
		return nil, err
	}
	for _, warning := range request.Warnings {
		client.logger.Warn("ticket request warning", "service", serviceID, "warning", warning)
	}
	span.SetAttributes(attribute.Int64("wsaa.unique_id", int64(request.UniqueID)))

	encodedCMS, err := client.sign(ctx, request)
	if err != nil {
		return nil, err
	}

	started := client.clock.Now()
	response, err := client.transport.Invoke(ctx, serviceID, encodedCMS)
	client.metrics.observeRoundTrip(serviceID, client.clock.Now().Sub(started))
	if err != nil {
		client.logger.Error("authority request failed", "service", serviceID, "error", err)
		return nil, err
	}

	service, _ := client.catalog.Lookup(serviceID)
	ticket, err = ValidateResponse(response.Body, service, client.environment, client.clock.Now())
	if err != nil {
		var wsaaError *Error
		if errors.As(err, &wsaaError) && wsaaError.Fault != nil {
			client.metrics.observeFault(wsaaError.Fault)
			client.logFault(serviceID, wsaaError)
			return nil, err
		}
		if response.StatusCode != http.StatusOK {
			return nil, &Error{
				Kind:       KindTransportHTTP,
				Message:    fmt.Sprintf("%s returned no recognizable fault", client.transport.Endpoint()),
				StatusCode: response.StatusCode,
				Retryable:  response.StatusCode >= 500,
				Err:        err,
			}
		}
		client.logger.Error("ticket rejected", "service", serviceID, "error", err)
		return nil, err
	}
	if response.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind:       KindTransportHTTP,
			Message:    "ticket delivered with an error status",
			StatusCode: response.StatusCode,
		}
	}

	// A context that ended after the response arrived still commits
	// nothing.
	if ctx.Err() != nil {
		return nil, wrapError(KindCanceled, ctx.Err(), "obtaining ticket %q", serviceID)
	}

	ticket.CertificateFingerprint = client.credentials.Fingerprint()
	ticket.Warnings = append(append([]string(nil), request.Warnings...), ticket.Warnings...)
	for _, warning := range ticket.Warnings[len(request.Warnings):] {
		client.logger.Warn("ticket warning", "service", serviceID, "warning", warning)
	}

	client.cache.Put(ticket)
	client.savePersisted(ctx, ticket)

	client.logger.Info("ticket acquired",
		"service", serviceID,
		"environment", client.environment,
		"unique_id", ticket.UniqueID,
		"expires_at", ticket.ExpirationTime,
		"token_length", len(ticket.Token),
	)
	return ticket, nil
}

func (client *Client) sign(ctx context.Context, request *TicketRequest) (string, error) {
	_, span := client.tracer.Start(ctx, "wsaa.sign")
	defer span.End()

	content, err := request.Encode()
	if err != nil {
		return "", signingError(ReasonSign, err, "encoding ticket request")
	}
	envelope, err := client.signer.Sign(content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return "", err
	}
	encoded := base64.StdEncoding.EncodeToString(envelope)
	secret.Zero(envelope)
	span.SetAttributes(attribute.Int("wsaa.envelope_bytes", len(envelope)))
	return encoded, nil
}

func (client *Client) logFault(serviceID string, wsaaError *Error) {
	attributes := []any{
		"service", serviceID,
		"code", wsaaError.Fault.Code,
		"description", wsaaError.Fault.Description,
		"verdict", wsaaError.Fault.Verdict.String(),
	}
	if wsaaError.RetryAfter > 0 {
		attributes = append(attributes, "retry_after", wsaaError.RetryAfter)
	}
	if !KnownFaultCode(wsaaError.Fault.Code) {
		client.logger.Error("authority returned an unrecognized fault", attributes...)
		return
	}
	client.logger.Warn("authority fault", attributes...)
}

// loadPersisted returns a stored ticket that is still valid and was
// obtained for this environment with this certificate, or nil.
func (client *Client) loadPersisted(ctx context.Context, serviceID string) *AccessTicket {
	if client.persister == nil {
		return nil
	}
	ticket, err := client.persister.Load(ctx, client.environment, serviceID)
	if err != nil {
		client.logger.Warn("loading persisted ticket failed", "service", serviceID, "error", err)
		return nil
	}
	if ticket == nil {
		return nil
	}
	switch {
	case ticket.ServiceID != serviceID, ticket.Environment != client.environment:
		client.logger.Warn("persisted ticket belongs to another service or environment",
			"service", serviceID, "stored_service", ticket.ServiceID, "stored_environment", ticket.Environment)
		return nil
	case ticket.CertificateFingerprint != client.credentials.Fingerprint():
		client.logger.Info("persisted ticket was obtained with another certificate", "service", serviceID)
		return nil
	case !ticket.Valid(client.clock.Now()):
		client.logger.Debug("persisted ticket expired", "service", serviceID, "expired_at", ticket.ExpirationTime)
		return nil
	}
	return ticket
}

func (client *Client) savePersisted(ctx context.Context, ticket *AccessTicket) {
	if client.persister == nil {
		return
	}
	if err := client.persister.Save(ctx, ticket); err != nil {
		client.logger.Warn("persisting ticket failed", "service", ticket.ServiceID, "error", err)
	}
}
