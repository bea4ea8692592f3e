// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment selects the authority's deployment.
type Environment string

const (
	// Testing is the homologation environment.
	Testing Environment = "testing"
	// Production is the live environment.
	Production Environment = "production"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Config is the configuration of the wsaa-ticket command.
type Config struct {
	// Environment selects the authority and the override section.
	Environment Environment `yaml:"environment"`

	Credentials CredentialsConfig `yaml:"credentials"`
	Authority   AuthorityConfig   `yaml:"authority"`

	// Services add to or replace entries of the built-in catalog.
	Services []ServiceConfig `yaml:"services"`

	Store     StoreConfig     `yaml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Per-environment overrides, applied after the base config is
	// loaded when Environment matches.
	Testing    *Overrides `yaml:"testing,omitempty"`
	Production *Overrides `yaml:"production,omitempty"`
}

// Overrides contains fields that can be overridden per environment.
type Overrides struct {
	Credentials *CredentialsConfig `yaml:"credentials,omitempty"`
	Authority   *AuthorityConfig   `yaml:"authority,omitempty"`
	Store       *StoreConfig       `yaml:"store,omitempty"`
	Telemetry   *TelemetryConfig   `yaml:"telemetry,omitempty"`
}

// CredentialsConfig locates the certificate and private key. Either
// Certificate and PrivateKey, or PKCS12, must be set.
type CredentialsConfig struct {
	// Certificate is a PEM X.509 certificate issued by the authority.
	Certificate string `yaml:"certificate"`

	// PrivateKey is the PEM private key matching Certificate.
	PrivateKey string `yaml:"private_key"`

	// PKCS12 is a bundle holding both certificate and key.
	PKCS12 string `yaml:"pkcs12"`

	// PKCS12PasswordFile holds the bundle password. Optional.
	PKCS12PasswordFile string `yaml:"pkcs12_password_file"`
}

// AuthorityConfig configures requests to the authority.
type AuthorityConfig struct {
	// Endpoint overrides the LoginCms URL of the environment.
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds each login. Default: 30s
	Timeout string `yaml:"timeout"`

	// ValidityHours is the requested ticket lifetime. Zero selects the
	// default (12); values above 24 are clamped by the client.
	ValidityHours int `yaml:"validity_hours"`

	// Timezone is the IANA zone request timestamps are rendered in.
	// Default: America/Argentina/Buenos_Aires
	Timezone string `yaml:"timezone"`

	// CAFile is a PEM bundle trusted in addition to the system roots.
	CAFile string `yaml:"ca_file"`
}

// ServiceConfig describes one catalog entry.
type ServiceConfig struct {
	ID                 string `yaml:"id"`
	DisplayName        string `yaml:"display_name"`
	Description        string `yaml:"description"`
	TestingEndpoint    string `yaml:"testing_endpoint"`
	ProductionEndpoint string `yaml:"production_endpoint"`
}

// StoreConfig configures where tickets are kept between runs.
type StoreConfig struct {
	// Kind is memory, file, or redis. Default: memory
	Kind string `yaml:"kind"`

	// Directory holds ticket files for the file store.
	Directory string `yaml:"directory"`

	// Recipients are age public keys tickets are sealed to.
	Recipients []string `yaml:"recipients"`

	// IdentityFile is the age private key reading sealed tickets.
	IdentityFile string `yaml:"identity_file"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis store.
type RedisConfig struct {
	Address      string `yaml:"address"`
	DB           int    `yaml:"db"`
	PasswordFile string `yaml:"password_file"`
	KeyPrefix    string `yaml:"key_prefix"`
}

// TelemetryConfig configures metrics and tracing export.
type TelemetryConfig struct {
	// MetricsFile receives the metrics registry in textfile collector
	// format when a command finishes.
	MetricsFile string `yaml:"metrics_file"`

	// OTLPEndpoint is a host:port receiving OTLP/gRPC traces.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// OTLPInsecure disables TLS to OTLPEndpoint.
	OTLPInsecure bool `yaml:"otlp_insecure"`
}

// Default returns the configuration values used before the file is
// applied.
func Default() *Config {
	return &Config{
		Environment: Testing,
		Authority: AuthorityConfig{
			Timeout:       "30s",
			ValidityHours: 12,
			Timezone:      "America/Argentina/Buenos_Aires",
		},
		Store: StoreConfig{
			Kind:      StoreMemory,
			Directory: "${HOME}/.cache/wsaa/tickets",
		},
	}
}

// Load loads configuration from the WSAA_CONFIG environment variable.
// There is no discovery: if WSAA_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("WSAA_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("WSAA_CONFIG environment variable not set; " +
			"set it to the path of your wsaa.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path. Files ending in .json or
// .jsonc may contain comments and trailing commas.
func LoadFile(path string) (*Config, error) {
	return LoadFileEnvironment(path, "")
}

// LoadFileEnvironment is LoadFile with the file's environment replaced
// by environment when it is non-empty, before overrides are applied.
func LoadFileEnvironment(path string, environment Environment) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if environment != "" {
		cfg.Environment = environment
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data, err = jsonToYAML(jsonc.ToJSON(data))
		if err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// jsonToYAML re-encodes a JSON document as YAML so both formats share
// the yaml struct tags. JSON indentation may use tabs, which YAML
// rejects.
func jsonToYAML(data []byte) ([]byte, error) {
	var document any
	if err := json.Unmarshal(data, &document); err != nil {
		return nil, err
	}
	return yaml.Marshal(document)
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Testing:
		overrides = c.Testing
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.Credentials != nil {
		// Credentials are replaced as a unit so a PKCS#12 override does
		// not combine with base PEM paths.
		credentials := *overrides.Credentials
		if credentials != (CredentialsConfig{}) {
			c.Credentials = credentials
		}
	}

	if overrides.Authority != nil {
		if overrides.Authority.Endpoint != "" {
			c.Authority.Endpoint = overrides.Authority.Endpoint
		}
		if overrides.Authority.Timeout != "" {
			c.Authority.Timeout = overrides.Authority.Timeout
		}
		if overrides.Authority.ValidityHours != 0 {
			c.Authority.ValidityHours = overrides.Authority.ValidityHours
		}
		if overrides.Authority.Timezone != "" {
			c.Authority.Timezone = overrides.Authority.Timezone
		}
		if overrides.Authority.CAFile != "" {
			c.Authority.CAFile = overrides.Authority.CAFile
		}
	}

	if overrides.Store != nil {
		if overrides.Store.Kind != "" {
			c.Store.Kind = overrides.Store.Kind
		}
		if overrides.Store.Directory != "" {
			c.Store.Directory = overrides.Store.Directory
		}
		if len(overrides.Store.Recipients) > 0 {
			c.Store.Recipients = overrides.Store.Recipients
		}
		if overrides.Store.IdentityFile != "" {
			c.Store.IdentityFile = overrides.Store.IdentityFile
		}
		if overrides.Store.Redis.Address != "" {
			c.Store.Redis.Address = overrides.Store.Redis.Address
		}
		if overrides.Store.Redis.DB != 0 {
			c.Store.Redis.DB = overrides.Store.Redis.DB
		}
		if overrides.Store.Redis.PasswordFile != "" {
			c.Store.Redis.PasswordFile = overrides.Store.Redis.PasswordFile
		}
		if overrides.Store.Redis.KeyPrefix != "" {
			c.Store.Redis.KeyPrefix = overrides.Store.Redis.KeyPrefix
		}
	}

	if overrides.Telemetry != nil {
		if overrides.Telemetry.MetricsFile != "" {
			c.Telemetry.MetricsFile = overrides.Telemetry.MetricsFile
		}
		if overrides.Telemetry.OTLPEndpoint != "" {
			c.Telemetry.OTLPEndpoint = overrides.Telemetry.OTLPEndpoint
		}
		// OTLPInsecure is a bool, so it is always applied from overrides.
		c.Telemetry.OTLPInsecure = overrides.Telemetry.OTLPInsecure
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":        os.Getenv("HOME"),
		"ENVIRONMENT": string(c.Environment),
	}

	c.Credentials.Certificate = expandVars(c.Credentials.Certificate, vars)
	c.Credentials.PrivateKey = expandVars(c.Credentials.PrivateKey, vars)
	c.Credentials.PKCS12 = expandVars(c.Credentials.PKCS12, vars)
	c.Credentials.PKCS12PasswordFile = expandVars(c.Credentials.PKCS12PasswordFile, vars)
	c.Authority.CAFile = expandVars(c.Authority.CAFile, vars)
	c.Store.Directory = expandVars(c.Store.Directory, vars)
	c.Store.IdentityFile = expandVars(c.Store.IdentityFile, vars)
	c.Store.Redis.PasswordFile = expandVars(c.Store.Redis.PasswordFile, vars)
	c.Telemetry.MetricsFile = expandVars(c.Telemetry.MetricsFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, checking vars
// before the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// TimeoutDuration parses Authority.Timeout. Empty means zero, which
// selects the client default.
func (a AuthorityConfig) TimeoutDuration() (time.Duration, error) {
	if a.Timeout == "" {
		return 0, nil
	}
	timeout, err := time.ParseDuration(a.Timeout)
	if err != nil {
		return 0, fmt.Errorf("authority.timeout: %w", err)
	}
	if timeout <= 0 {
		return 0, fmt.Errorf("authority.timeout must be positive (got %s)", a.Timeout)
	}
	return timeout, nil
}

// Validity returns the requested ticket lifetime.
func (a AuthorityConfig) Validity() time.Duration {
	return time.Duration(a.ValidityHours) * time.Hour
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Testing && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q (want testing or production)", c.Environment))
	}

	credentials := c.Credentials
	hasPEM := credentials.Certificate != "" || credentials.PrivateKey != ""
	hasBundle := credentials.PKCS12 != ""
	switch {
	case hasPEM && hasBundle:
		errs = append(errs, fmt.Errorf("credentials: set either certificate and private_key, or pkcs12, not both"))
	case hasPEM:
		if credentials.Certificate == "" {
			errs = append(errs, fmt.Errorf("credentials.certificate is required with private_key"))
		}
		if credentials.PrivateKey == "" {
			errs = append(errs, fmt.Errorf("credentials.private_key is required with certificate"))
		}
	case hasBundle:
	default:
		errs = append(errs, fmt.Errorf("credentials: certificate and private_key, or pkcs12, are required"))
	}
	if credentials.PKCS12PasswordFile != "" && !hasBundle {
		errs = append(errs, fmt.Errorf("credentials.pkcs12_password_file is set without pkcs12"))
	}

	if c.Authority.Endpoint != "" && !strings.HasPrefix(c.Authority.Endpoint, "https://") {
		errs = append(errs, fmt.Errorf("authority.endpoint must use HTTPS (got %q)", c.Authority.Endpoint))
	}
	if _, err := c.Authority.TimeoutDuration(); err != nil {
		errs = append(errs, err)
	}
	if c.Authority.ValidityHours < 0 {
		errs = append(errs, fmt.Errorf("authority.validity_hours must not be negative (got %d)", c.Authority.ValidityHours))
	}

	seen := make(map[string]bool, len(c.Services))
	for index, service := range c.Services {
		if service.ID == "" {
			errs = append(errs, fmt.Errorf("services[%d].id is required", index))
			continue
		}
		if seen[service.ID] {
			errs = append(errs, fmt.Errorf("services[%d]: duplicate id %q", index, service.ID))
		}
		seen[service.ID] = true
	}

	switch c.Store.Kind {
	case StoreMemory:
	case StoreFile:
		if c.Store.Directory == "" {
			errs = append(errs, fmt.Errorf("store.directory is required for the file store"))
		}
	case StoreRedis:
		if c.Store.Redis.Address == "" {
			errs = append(errs, fmt.Errorf("store.redis.address is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.kind must be one of: %v (got %q)",
			[]string{StoreMemory, StoreFile, StoreRedis}, c.Store.Kind))
	}
	for _, recipient := range c.Store.Recipients {
		if !strings.HasPrefix(recipient, "age1") {
			errs = append(errs, fmt.Errorf("store.recipients: %q is not an age public key", recipient))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
