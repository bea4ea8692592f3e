// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/wsaa/lib/clock"
	"github.com/bureau-foundation/wsaa/lib/process"
	"github.com/bureau-foundation/wsaa/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := &app{
		stdout: os.Stdout,
		stderr: os.Stderr,
		clock:  clock.Real(),
		getenv: os.Getenv,
	}
	if err := command.run(ctx, os.Args[1:]); err != nil {
		stop()
		process.Fatal(err)
	}
}

// app holds the process surroundings so tests can run commands
// in-process.
type app struct {
	stdout io.Writer
	stderr io.Writer
	clock  clock.Clock
	getenv func(string) string
}

// globalFlags are accepted by every subcommand that talks to the
// authority.
type globalFlags struct {
	configPath  string
	environment string
}

func (globals *globalFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&globals.configPath, "config", "", "configuration file (default: $WSAA_CONFIG)")
	flagSet.StringVar(&globals.environment, "environment", "", "override the configured environment (testing or production)")
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) < 1 {
		a.printUsage()
		return fmt.Errorf("subcommand required")
	}

	subcommand, rest := args[0], args[1:]
	switch subcommand {
	case "obtain":
		return a.runObtain(ctx, rest)
	case "obtain-all":
		return a.runObtainAll(ctx, rest)
	case "services":
		return a.runServices(rest)
	case "check":
		return a.runCheck(ctx, rest)
	case "keygen":
		return a.runKeygen(rest)
	case "version", "--version":
		fmt.Fprintf(a.stdout, "wsaa-ticket %s\n", version.Info())
		return nil
	case "-h", "--help", "help":
		a.printUsage()
		return nil
	default:
		a.printUsage()
		return fmt.Errorf("unknown subcommand: %q", subcommand)
	}
}

func (a *app) printUsage() {
	fmt.Fprintf(a.stderr, `Usage: wsaa-ticket <subcommand> [flags]

Subcommands:
  obtain      Obtain a ticket for one service (reusing a valid stored one)
  obtain-all  Obtain tickets for every catalog service
  services    List the service catalog
  check       Check credentials and authority reachability
  keygen      Generate an age keypair for sealing stored tickets
  version     Print version information

Global flags:
  --config PATH         configuration file (default: $WSAA_CONFIG)
  --environment NAME    testing or production, overriding the file

Run 'wsaa-ticket <subcommand> --help' for subcommand flags.
`)
}

// parseFlags parses args, printing flag help on --help. It returns
// errHelp when the caller should stop without error.
func (a *app) parseFlags(flagSet *pflag.FlagSet, args []string) error {
	flagSet.SetOutput(a.stderr)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return errHelp
		}
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	return nil
}

var errHelp = errors.New("help requested")

// helpOK converts errHelp into success.
func helpOK(err error) error {
	if errors.Is(err, errHelp) {
		return nil
	}
	return err
}
