// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric"

	"github.com/pcpstat/pmsample/archive"
	"github.com/pcpstat/pmsample/localsource"
	"github.com/pcpstat/pmsample/pmapi"
	"github.com/pcpstat/pmsample/pmcc"
)

const (
	// Default values for CLI flags
	defaultArgInterval     = 1 * time.Second
	defaultArgSamples      = 0
	defaultArgNewInstances = "raw"

	envVarPrefix = "PMSAMPLE"
)

// Help strings for command line arguments
var (
	verboseModeHelp  = "Enable verbose logging and debugging capabilities."
	configFileHelp   = "Read flag values from this file, one 'name value' pair per line."
	archiveHelp      = "Read samples from this archive (path or s3://bucket/key) instead of the local host."
	intervalHelp     = "Time between samples."
	samplesHelp      = "Stop after this many reports. 0 means no limit."
	durationHelp     = "Stop after this much time when -samples is not set."
	pauseHelp        = "Time to wait between reports. Defaults to -interval, or none for archives."
	newInstancesHelp = "What counters report for instances without a previous value: " +
		"'raw' reports the raw value, 'wait' reports nothing until the next sample."
	ignoreUnknownHelp = "Skip metric names that cannot be resolved instead of failing."
	outputHelp        = "Path of the archive to write."
	uploadHelp        = "Upload the finished archive to this s3://bucket/key location."
	hostHelp          = "Host name stored in the archive header."
)

// environment carries what the subcommands share: parsed global flags, the
// output and the sources. Tests replace the sources.
type environment struct {
	out     io.Writer
	verbose bool

	// live returns the source for the local host.
	live func() pmapi.Client
	// s3 creates the client for s3:// locations.
	s3 func(ctx context.Context) (archive.ObjectAPI, error)
	// meterProvider receives the self-metrics; nil means the global provider.
	meterProvider metric.MeterProvider
}

func newEnvironment(out io.Writer) *environment {
	return &environment{
		out:  out,
		live: func() pmapi.Client { return localsource.New() },
		s3: func(ctx context.Context) (archive.ObjectAPI, error) {
			return archive.NewS3Client(ctx)
		},
	}
}

// setup applies the global flags.
func (env *environment) setup() {
	if env.verbose {
		log.SetLevel(log.DebugLevel)
	}
}

// store returns a store for location, creating an S3 client only when
// location is remote.
func (env *environment) store(ctx context.Context, location string) (*archive.Store, error) {
	if !archive.IsRemote(location) {
		return archive.NewStore(nil), nil
	}
	client, err := env.s3(ctx)
	if err != nil {
		return nil, err
	}
	return archive.NewStore(client), nil
}

// source opens the archive at location, or returns the live source if
// location is empty.
func (env *environment) source(ctx context.Context, location string) (pmapi.Client, error) {
	if location == "" {
		return env.live(), nil
	}
	store, err := env.store(ctx, location)
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, location)
}

// sourceFlags are the flags of the subcommands that read metrics.
type sourceFlags struct {
	configFile    string
	archive       string
	ignoreUnknown bool
}

func (f *sourceFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.archive, "a", "", "Shorthand for -archive.")
	fs.StringVar(&f.archive, "archive", "", archiveHelp)
	fs.StringVar(&f.configFile, "config", "", configFileHelp)
	fs.BoolVar(&f.ignoreUnknown, "ignore-unknown", false, ignoreUnknownHelp)
}

// ffOptions returns the options every flag set is parsed with.
func ffOptions() []ff.Option {
	return []ff.Option{
		ff.WithEnvVarPrefix(envVarPrefix),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		// Options of other subcommands may share the configuration file.
		ff.WithIgnoreUndefined(true),
		ff.WithAllowMissingConfigFile(true),
	}
}

func newRootCmd(env *environment) *ffcli.Command {
	fs := flag.NewFlagSet("pmsample", flag.ContinueOnError)
	fs.BoolVar(&env.verbose, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&env.verbose, "verbose", false, verboseModeHelp)

	return &ffcli.Command{
		Name:       "pmsample",
		ShortUsage: "pmsample [-v] <subcommand> [flags] [metric ...]",
		ShortHelp:  "Report metric rates of the local host or of a recorded archive",
		FlagSet:    fs,
		Options:    ffOptions(),
		Subcommands: []*ffcli.Command{
			newStatCmd(env),
			newInfoCmd(env),
			newRecordCmd(env),
			newVersionCmd(env),
		},
		Exec: func(context.Context, []string) error {
			return usageError("missing subcommand")
		},
	}
}

// groupConfig builds the sampling configuration shared by stat and info.
func (env *environment) groupConfig(f *sourceFlags) pmcc.Config {
	return pmcc.Config{
		IgnoreUnknown: f.ignoreUnknown,
		Archive:       f.archive != "",
		MeterProvider: env.meterProvider,
	}
}

func usageError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}
