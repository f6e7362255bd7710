// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// pmsample reports metric rates of the local host or of a recorded archive
// and records archives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

type exitCode int

const (
	exitSuccess exitCode = 0
	exitFailure exitCode = 1

	// Go 'flag' package calls os.Exit(2) on flag parse errors, if ExitOnError is set
	exitParseError exitCode = 2
)

func main() {
	os.Exit(int(mainWithExitCode()))
}

func mainWithExitCode() exitCode {
	log.SetReportCaller(false)
	log.SetFormatter(&log.TextFormatter{})

	// Context to drive the sampling loop; canceled on the first signal.
	mainCtx, mainCancel := signal.NotifyContext(context.Background(),
		unix.SIGINT, unix.SIGTERM)
	defer mainCancel()

	err := run(mainCtx, newEnvironment(os.Stdout), os.Args[1:])
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, flag.ErrHelp):
		// -h, the usage was printed by the flag set.
		return exitSuccess
	case errors.Is(err, errParse), errors.Is(err, errUsage):
		return parseError("%v", err)
	}
	return failure("%v", err)
}

var (
	errParse = errors.New("failure to parse arguments")
	errUsage = errors.New("invalid usage")
)

// run parses args into the command tree, applies the global flags and
// executes the selected command.
func run(ctx context.Context, env *environment, args []string) error {
	root := newRootCmd(env)
	if err := root.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %w", errParse, err)
	}
	env.setup()

	err := root.Run(ctx)
	if errors.Is(err, errUsage) {
		fmt.Fprintln(os.Stderr, ffcli.DefaultUsageFunc(selected(root)))
	}
	return err
}

// selected returns the deepest command picked by the last Parse.
func selected(cmd *ffcli.Command) *ffcli.Command {
	for _, sub := range cmd.Subcommands {
		if sub.FlagSet != nil && sub.FlagSet.Parsed() {
			return selected(sub)
		}
	}
	return cmd
}

func parseError(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitParseError
}

func failure(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitFailure
}
