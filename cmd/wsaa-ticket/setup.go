// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/bureau-foundation/wsaa/lib/config"
	"github.com/bureau-foundation/wsaa/lib/sealed"
	"github.com/bureau-foundation/wsaa/lib/secret"
	"github.com/bureau-foundation/wsaa/lib/ticketstore"
	"github.com/bureau-foundation/wsaa/lib/version"
	"github.com/bureau-foundation/wsaa/lib/wsaa"
)

const defaultTimezone = "America/Argentina/Buenos_Aires"

// session is a configured client and the resources behind it. Close
// releases them and flushes telemetry.
type session struct {
	config      *config.Config
	client      *wsaa.Client
	credentials *wsaa.Credentials
	registry    *prometheus.Registry
	logger      *slog.Logger

	closers []func(context.Context) error
}

func (a *app) loadConfig(globals globalFlags) (*config.Config, error) {
	path := globals.configPath
	if path == "" {
		path = a.getenv("WSAA_CONFIG")
	}
	if path == "" {
		return nil, fmt.Errorf("no configuration: use --config or set WSAA_CONFIG")
	}

	var environment config.Environment
	if globals.environment != "" {
		parsed, err := wsaa.ParseEnvironment(globals.environment)
		if err != nil {
			return nil, err
		}
		environment = config.Environment(parsed)
	}

	cfg, err := config.LoadFileEnvironment(path, environment)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s:\n%w", path, err)
	}
	return cfg, nil
}

// newSession builds the client described by the configuration.
// validityHours, when positive, replaces authority.validity_hours.
func (a *app) newSession(ctx context.Context, globals globalFlags, logger *slog.Logger, validityHours int) (*session, error) {
	cfg, err := a.loadConfig(globals)
	if err != nil {
		return nil, err
	}
	if validityHours > 0 {
		cfg.Authority.ValidityHours = validityHours
	}
	environment, err := wsaa.ParseEnvironment(string(cfg.Environment))
	if err != nil {
		return nil, err
	}
	logger = logger.With("environment", string(environment))

	current := &session{config: cfg, logger: logger, registry: prometheus.NewRegistry()}
	if err := current.build(ctx, environment, a); err != nil {
		current.Close(ctx)
		return nil, err
	}
	return current, nil
}

func (current *session) build(ctx context.Context, environment wsaa.Environment, a *app) error {
	cfg := current.config

	credentials, err := wsaa.LoadCredentials(wsaa.CredentialPaths{
		Certificate:        cfg.Credentials.Certificate,
		PrivateKey:         cfg.Credentials.PrivateKey,
		PKCS12:             cfg.Credentials.PKCS12,
		PKCS12PasswordFile: cfg.Credentials.PKCS12PasswordFile,
	})
	if err != nil {
		return err
	}
	current.credentials = credentials

	catalog, err := buildCatalog(cfg.Services)
	if err != nil {
		return err
	}

	location, err := loadLocation(cfg.Authority.Timezone)
	if err != nil {
		return err
	}

	timeout, err := cfg.Authority.TimeoutDuration()
	if err != nil {
		return err
	}

	httpClient, err := newHTTPClient(cfg.Authority.CAFile)
	if err != nil {
		return err
	}

	persister, err := current.openStore(a)
	if err != nil {
		return err
	}

	metrics, err := wsaa.NewMetrics(current.registry)
	if err != nil {
		return err
	}

	clientConfig := wsaa.Config{
		Environment: environment,
		Credentials: credentials,
		Catalog:     catalog,
		Endpoint:    cfg.Authority.Endpoint,
		HTTPClient:  httpClient,
		Timeout:     timeout,
		Validity:    cfg.Authority.Validity(),
		Location:    location,
		Persister:   persister,
		Metrics:     metrics,
		Clock:       a.clock,
		Logger:      current.logger,
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		provider, err := newTracerProvider(ctx, cfg.Telemetry, environment)
		if err != nil {
			return err
		}
		current.closers = append(current.closers, provider.Shutdown)
		clientConfig.Tracer = provider.Tracer("github.com/bureau-foundation/wsaa/cmd/wsaa-ticket")
	}

	client, err := wsaa.NewClient(clientConfig)
	if err != nil {
		return err
	}
	current.client = client
	return nil
}

// Close flushes traces, writes the metrics file, and releases store
// connections. All steps run; their errors are joined.
func (current *session) Close(ctx context.Context) error {
	var errs []error
	if path := current.config.Telemetry.MetricsFile; path != "" && current.client != nil {
		if err := prometheus.WriteToTextfile(path, current.registry); err != nil {
			errs = append(errs, fmt.Errorf("writing metrics to %s: %w", path, err))
		}
	}
	for index := len(current.closers) - 1; index >= 0; index-- {
		if err := current.closers[index](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	current.closers = nil
	return errors.Join(errs...)
}

func buildCatalog(services []config.ServiceConfig) (*wsaa.Catalog, error) {
	if len(services) == 0 {
		return wsaa.DefaultCatalog(), nil
	}
	overrides := make([]wsaa.Service, 0, len(services))
	for _, service := range services {
		overrides = append(overrides, wsaa.Service{
			ID:                 service.ID,
			DisplayName:        service.DisplayName,
			Description:        service.Description,
			TestingEndpoint:    service.TestingEndpoint,
			ProductionEndpoint: service.ProductionEndpoint,
		})
	}
	return wsaa.DefaultCatalog().With(overrides...)
}

// loadLocation resolves the request timezone. The default zone falls
// back to a fixed offset when tzdata is unavailable; any other name
// must load.
func loadLocation(name string) (*time.Location, error) {
	if name == "" || name == defaultTimezone {
		return wsaa.ArgentinaLocation(), nil
	}
	location, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("authority.timezone: %w", err)
	}
	return location, nil
}

// newHTTPClient returns nil (the transport default) unless a CA bundle
// is configured, in which case the bundle is trusted alongside the
// system roots.
func newHTTPClient(caFile string) (*http.Client, error) {
	if caFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("reading authority CA bundle: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("authority CA bundle %s contains no certificates", caFile)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	return &http.Client{Transport: transport}, nil
}

// openStore returns the configured persister, or nil for the memory
// store.
func (current *session) openStore(a *app) (wsaa.Persister, error) {
	storeConfig := current.config.Store
	if storeConfig.Kind == config.StoreMemory {
		return nil, nil
	}

	sealing := ticketstore.Sealing{Recipients: storeConfig.Recipients}
	if storeConfig.IdentityFile != "" {
		identity, err := readIdentity(storeConfig.IdentityFile)
		if err != nil {
			return nil, err
		}
		current.closers = append(current.closers, func(context.Context) error { return identity.Close() })
		sealing.Identity = identity
	}

	switch storeConfig.Kind {
	case config.StoreFile:
		store, err := ticketstore.NewFile(storeConfig.Directory, sealing)
		if err != nil {
			return nil, err
		}
		current.logger.Debug("using file ticket store", "directory", storeConfig.Directory, "sealed", len(sealing.Recipients) > 0)
		return store, nil

	case config.StoreRedis:
		password, err := readPassword(storeConfig.Redis.PasswordFile)
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(&redis.Options{
			Addr:     storeConfig.Redis.Address,
			DB:       storeConfig.Redis.DB,
			Password: password,
		})
		current.closers = append(current.closers, func(context.Context) error { return client.Close() })
		store, err := ticketstore.NewRedis(ticketstore.RedisConfig{
			Client:    client,
			KeyPrefix: storeConfig.Redis.KeyPrefix,
			Sealing:   sealing,
			Clock:     a.clock,
		})
		if err != nil {
			return nil, err
		}
		current.logger.Debug("using redis ticket store", "address", storeConfig.Redis.Address, "db", storeConfig.Redis.DB)
		return store, nil
	}
	return nil, fmt.Errorf("unsupported store kind %q", storeConfig.Kind)
}

func readIdentity(path string) (*secret.Buffer, error) {
	contents, err := secret.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading store identity: %w", err)
	}
	defer contents.Close()
	identity, err := sealed.ReadIdentity(contents)
	if err != nil {
		return nil, fmt.Errorf("store identity %s: %w", path, err)
	}
	return identity, nil
}

func readPassword(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	contents, err := secret.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading redis password: %w", err)
	}
	defer contents.Close()
	return strings.TrimRight(string(contents.Bytes()), "\r\n"), nil
}

func newTracerProvider(ctx context.Context, telemetry config.TelemetryConfig, environment wsaa.Environment) (*sdktrace.TracerProvider, error) {
	options := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(telemetry.OTLPEndpoint)}
	if telemetry.OTLPInsecure {
		options = append(options, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "wsaa-ticket"),
			attribute.String("service.version", version.Version),
			attribute.String("deployment.environment", string(environment)),
		)),
	), nil
}
