// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/wsaa/lib/wsaa"
)

type obtainFlags struct {
	globals   globalFlags
	serviceID string
	hours     int
	json      bool
	retry     bool
	force     bool
}

func (a *app) runObtain(ctx context.Context, args []string) error {
	var flags obtainFlags
	flagSet := pflag.NewFlagSet("obtain", pflag.ContinueOnError)
	flags.globals.register(flagSet)
	flagSet.StringVarP(&flags.serviceID, "service", "s", "", "service id, e.g. wslsp (required)")
	flagSet.IntVar(&flags.hours, "hours", 0, "requested validity in hours, at most 24 (default: configured)")
	flagSet.BoolVar(&flags.json, "json", false, "print the ticket as JSON")
	flagSet.BoolVar(&flags.retry, "retry", false, "wait and retry once after a retryable failure")
	flagSet.BoolVar(&flags.force, "force", false, "log in again even if a valid ticket is stored")
	if err := a.parseFlags(flagSet, args); err != nil {
		return helpOK(err)
	}
	if flags.serviceID == "" {
		return fmt.Errorf("--service is required")
	}
	if flags.hours < 0 {
		return fmt.Errorf("--hours must not be negative")
	}

	logger := a.newCommandLogger(a.stderr).With("command", "obtain")
	current, err := a.newSession(ctx, flags.globals, logger, flags.hours)
	if err != nil {
		return err
	}
	defer closeSession(ctx, current)

	ticket, err := a.obtain(ctx, current, flags.serviceID, flags.force, flags.retry)
	if err != nil {
		return err
	}

	if flags.json {
		return writeJSON(a.stdout, ticket)
	}
	writeTicket(a.stdout, ticket, a.clock.Now())
	return nil
}

// obtain fetches one ticket. With retry, a failure the classifier marks
// retryable is retried once after its delay.
func (a *app) obtain(ctx context.Context, current *session, serviceID string, force, retry bool) (*wsaa.AccessTicket, error) {
	fetch := current.client.Ticket
	if force {
		fetch = current.client.ObtainTicket
	}

	ticket, err := fetch(ctx, serviceID)
	if err == nil || !retry {
		return ticket, err
	}
	delay, ok := wsaa.RetryDelay(err)
	if !ok {
		return nil, err
	}
	current.logger.Warn("retrying after failure",
		"service", serviceID,
		"delay", delay,
		"kind", string(wsaa.KindOf(err)),
		"error", err,
	)
	select {
	case <-a.clock.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return fetch(ctx, serviceID)
}

type obtainAllFlags struct {
	globals globalFlags
	hours   int
	json    bool
}

// serviceResult is the JSON form of one obtain-all outcome.
type serviceResult struct {
	Service   string             `json:"service"`
	Ticket    *wsaa.AccessTicket `json:"ticket,omitempty"`
	Error     string             `json:"error,omitempty"`
	Kind      wsaa.Kind          `json:"kind,omitempty"`
	Retryable bool               `json:"retryable,omitempty"`
}

func (a *app) runObtainAll(ctx context.Context, args []string) error {
	var flags obtainAllFlags
	flagSet := pflag.NewFlagSet("obtain-all", pflag.ContinueOnError)
	flags.globals.register(flagSet)
	flagSet.IntVar(&flags.hours, "hours", 0, "requested validity in hours, at most 24 (default: configured)")
	flagSet.BoolVar(&flags.json, "json", false, "print results as JSON")
	if err := a.parseFlags(flagSet, args); err != nil {
		return helpOK(err)
	}

	logger := a.newCommandLogger(a.stderr).With("command", "obtain-all")
	current, err := a.newSession(ctx, flags.globals, logger, flags.hours)
	if err != nil {
		return err
	}
	defer closeSession(ctx, current)

	results := current.client.ObtainAll(ctx)
	failed := 0
	output := make([]serviceResult, 0, len(results))
	for _, result := range results {
		entry := serviceResult{Service: result.ServiceID, Ticket: result.Ticket}
		if result.Err != nil {
			failed++
			entry.Error = result.Err.Error()
			entry.Kind = wsaa.KindOf(result.Err)
			entry.Retryable = wsaa.IsRetryable(result.Err)
		}
		output = append(output, entry)
	}

	if flags.json {
		if err := writeJSON(a.stdout, output); err != nil {
			return err
		}
	} else {
		writeResults(a.stdout, output, a.clock.Now())
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d services failed", failed, len(results))
	}
	return nil
}

func closeSession(ctx context.Context, current *session) {
	// Flushing telemetry must not be cut short by a canceled command.
	flushContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := current.Close(flushContext); err != nil {
		current.logger.Warn("closing session", "error", err)
	}
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func writeTicket(w io.Writer, ticket *wsaa.AccessTicket, now time.Time) {
	table := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(table, "service:\t%s (%s)\n", ticket.ServiceID, ticket.ServiceDisplayName)
	fmt.Fprintf(table, "environment:\t%s\n", ticket.Environment)
	fmt.Fprintf(table, "generated:\t%s\n", ticket.GenerationTime.Format(time.RFC3339))
	fmt.Fprintf(table, "expires:\t%s (in %s)\n", ticket.ExpirationTime.Format(time.RFC3339), ticket.Remaining(now).Round(time.Minute))
	fmt.Fprintf(table, "unique id:\t%d\n", ticket.UniqueID)
	for _, warning := range ticket.Warnings {
		fmt.Fprintf(table, "warning:\t%s\n", warning)
	}
	fmt.Fprintf(table, "token:\t%s\n", ticket.Token)
	fmt.Fprintf(table, "sign:\t%s\n", ticket.Signature)
	table.Flush()
}

func writeResults(w io.Writer, results []serviceResult, now time.Time) {
	table := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(table, "SERVICE\tSTATUS\tEXPIRES\tDETAIL")
	for _, result := range results {
		if result.Ticket != nil {
			fmt.Fprintf(table, "%s\tok\t%s\tvalid for %s\n",
				result.Service,
				result.Ticket.ExpirationTime.Format(time.RFC3339),
				result.Ticket.Remaining(now).Round(time.Minute))
			continue
		}
		status := "failed"
		if result.Retryable {
			status = "retryable"
		}
		fmt.Fprintf(table, "%s\t%s\t-\t%s\n", result.Service, status, result.Error)
	}
	table.Flush()
}
