// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/wsaa/lib/sealed"
	"github.com/bureau-foundation/wsaa/lib/wsaa"
)

// certificateWarning is how close to expiry check starts warning.
const certificateWarning = 30 * 24 * time.Hour

// runServices lists the catalog. Configuration is optional: without
// one the built-in catalog and testing endpoints are shown.
func (a *app) runServices(args []string) error {
	var globals globalFlags
	var asJSON bool
	flagSet := pflag.NewFlagSet("services", pflag.ContinueOnError)
	globals.register(flagSet)
	flagSet.BoolVar(&asJSON, "json", false, "print the catalog as JSON")
	if err := a.parseFlags(flagSet, args); err != nil {
		return helpOK(err)
	}

	catalog := wsaa.DefaultCatalog()
	environment := wsaa.Testing
	if globals.configPath != "" || a.getenv("WSAA_CONFIG") != "" {
		cfg, err := a.loadConfig(globals)
		if err != nil {
			return err
		}
		if catalog, err = buildCatalog(cfg.Services); err != nil {
			return err
		}
		if environment, err = wsaa.ParseEnvironment(string(cfg.Environment)); err != nil {
			return err
		}
	} else if globals.environment != "" {
		parsed, err := wsaa.ParseEnvironment(globals.environment)
		if err != nil {
			return err
		}
		environment = parsed
	}

	if asJSON {
		return writeJSON(a.stdout, catalog.Services())
	}
	table := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(table, "ID\tNAME\t%s ENDPOINT\n", environment)
	for _, service := range catalog.Services() {
		endpoint := service.Endpoint(environment)
		if endpoint == "" {
			endpoint = "-"
		}
		fmt.Fprintf(table, "%s\t%s\t%s\n", service.ID, service.DisplayName, endpoint)
	}
	return table.Flush()
}

// runCheck verifies that the credentials load and the authority answers.
func (a *app) runCheck(ctx context.Context, args []string) error {
	var globals globalFlags
	flagSet := pflag.NewFlagSet("check", pflag.ContinueOnError)
	globals.register(flagSet)
	if err := a.parseFlags(flagSet, args); err != nil {
		return helpOK(err)
	}

	logger := a.newCommandLogger(a.stderr).With("command", "check")
	current, err := a.newSession(ctx, globals, logger, 0)
	if err != nil {
		return err
	}
	defer closeSession(ctx, current)

	credentials := current.credentials
	subject, err := credentials.SubjectDN()
	if err != nil {
		subject = fmt.Sprintf("(unreadable: %v)", err)
	}
	now := a.clock.Now()
	notAfter := credentials.NotAfter()

	table := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(table, "environment:\t%s\n", current.client.Environment())
	fmt.Fprintf(table, "endpoint:\t%s\n", current.client.Endpoint())
	fmt.Fprintf(table, "subject:\t%s\n", subject)
	fmt.Fprintf(table, "fingerprint:\t%s\n", credentials.Fingerprint())
	fmt.Fprintf(table, "not after:\t%s\n", notAfter.Format(time.RFC3339))
	table.Flush()

	if now.After(notAfter) {
		return fmt.Errorf("certificate expired on %s", notAfter.Format(time.DateOnly))
	}
	if remaining := notAfter.Sub(now); remaining < certificateWarning {
		logger.Warn("certificate expires soon",
			"not_after", notAfter,
			"days_left", int(remaining.Hours()/24),
		)
	}

	if err := current.client.CheckConnectivity(ctx); err != nil {
		return fmt.Errorf("authority unreachable: %w", err)
	}
	fmt.Fprintln(a.stdout, "authority:    reachable")
	return nil
}

// runKeygen generates an age keypair for sealed ticket stores. The
// public key goes to stdout for store.recipients; the private key goes
// to --output (mode 0600) or stderr.
func (a *app) runKeygen(args []string) error {
	var outputPath string
	flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
	flagSet.StringVarP(&outputPath, "output", "o", "", "write the private key to this file instead of stderr")
	if err := a.parseFlags(flagSet, args); err != nil {
		return helpOK(err)
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("generating keypair: %w", err)
	}
	defer keypair.Close()

	if outputPath != "" {
		file, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return fmt.Errorf("creating %s: %w", outputPath, err)
		}
		if _, err := fmt.Fprintf(file, "# public key: %s\n%s\n", keypair.PublicKey, keypair.PrivateKey.Bytes()); err != nil {
			file.Close()
			return fmt.Errorf("writing %s: %w", outputPath, err)
		}
		if err := file.Close(); err != nil {
			return fmt.Errorf("writing %s: %w", outputPath, err)
		}
	} else {
		fmt.Fprintf(a.stderr, "# Private key (set store.identity_file to a file holding it):\n")
		fmt.Fprintf(a.stderr, "%s\n", keypair.PrivateKey.Bytes())
	}
	fmt.Fprintf(a.stdout, "%s\n", keypair.PublicKey)
	return nil
}
