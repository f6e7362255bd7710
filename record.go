// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/pcpstat/pmsample/archive"
)

// localTempPrefix is prepended to archives while they are being written.
const localTempPrefix = "tmp."

type recordCmd struct {
	env *environment

	configFile    string
	output        string
	upload        string
	host          string
	interval      time.Duration
	samples       int
	ignoreUnknown bool
}

func newRecordCmd(env *environment) *ffcli.Command {
	cmd := &recordCmd{env: env}

	fs := flag.NewFlagSet("record", flag.ContinueOnError)
	fs.StringVar(&cmd.configFile, "config", "", configFileHelp)
	fs.StringVar(&cmd.host, "host", "", hostHelp)
	fs.BoolVar(&cmd.ignoreUnknown, "ignore-unknown", false, ignoreUnknownHelp)
	fs.StringVar(&cmd.output, "o", "", "Shorthand for -output.")
	fs.StringVar(&cmd.output, "output", "", outputHelp)
	fs.IntVar(&cmd.samples, "s", defaultArgSamples, "Shorthand for -samples.")
	fs.IntVar(&cmd.samples, "samples", defaultArgSamples, samplesHelp)
	fs.DurationVar(&cmd.interval, "t", defaultArgInterval, "Shorthand for -interval.")
	fs.DurationVar(&cmd.interval, "interval", defaultArgInterval, intervalHelp)
	fs.StringVar(&cmd.upload, "upload", "", uploadHelp)

	return &ffcli.Command{
		Name:       "record",
		ShortUsage: "pmsample record -o archive [flags] metric [metric ...]",
		ShortHelp:  "Record metrics of the local host into an archive",
		LongHelp: "Recording stops after -samples samples or on SIGINT. The archive " +
			"only appears under its final name once it is complete.",
		FlagSet: fs,
		Options: ffOptions(),
		Exec:    cmd.exec,
	}
}

func (cmd *recordCmd) exec(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return usageError("no metrics given")
	}
	if cmd.output == "" {
		return usageError("-output is required")
	}
	if cmd.upload != "" {
		if _, _, err := archive.ParseS3Location(cmd.upload); err != nil {
			return usageError("%v", err)
		}
	}

	temp, err := os.CreateTemp(filepath.Dir(cmd.output), localTempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		temp.Close()
		// No-op once the file was renamed.
		os.Remove(temp.Name())
	}()

	n, recErr := archive.Record(ctx, cmd.env.live(), temp, names, archive.RecordOptions{
		Interval:      cmd.interval,
		Samples:       cmd.samples,
		Host:          cmd.host,
		IgnoreUnknown: cmd.ignoreUnknown,
		MeterProvider: cmd.env.meterProvider,
	})
	if n == 0 {
		if recErr == nil {
			recErr = errors.New("no samples recorded")
		}
		return recErr
	}
	if recErr != nil {
		log.Errorf("Recording ended early: %v", recErr)
	}

	if err := commitTempFile(temp, cmd.output); err != nil {
		return err
	}
	fmt.Fprintf(cmd.env.out, "Recorded %d samples to %s\n", n, cmd.output)

	if cmd.upload != "" {
		store, err := cmd.env.store(ctx, cmd.upload)
		if err != nil {
			return err
		}
		if err := store.Upload(ctx, cmd.output, cmd.upload); err != nil {
			return err
		}
		fmt.Fprintf(cmd.env.out, "Uploaded to %s\n", cmd.upload)
	}
	return recErr
}

// commitTempFile makes sure that the given file is flushed to disk, then moves it to its final
// destination.
func commitTempFile(temp *os.File, finalPath string) error {
	if err := unix.Fsync(int(temp.Fd())); err != nil {
		return fmt.Errorf("failed to flush file to disk: %w", err)
	}
	if err := os.Rename(temp.Name(), finalPath); err != nil {
		return fmt.Errorf("failed to move file to final location: %w", err)
	}

	return nil
}
