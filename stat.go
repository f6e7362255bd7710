// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"time"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/pcpstat/pmsample/pmcc"
)

type statCmd struct {
	env *environment
	src sourceFlags

	interval     time.Duration
	samples      int
	duration     time.Duration
	pause        time.Duration
	newInstances string
}

func newStatCmd(env *environment) *ffcli.Command {
	cmd := &statCmd{env: env}

	fs := flag.NewFlagSet("stat", flag.ContinueOnError)
	cmd.src.register(fs)
	fs.DurationVar(&cmd.duration, "duration", 0, durationHelp)
	fs.StringVar(&cmd.newInstances, "new-instances", defaultArgNewInstances, newInstancesHelp)
	fs.DurationVar(&cmd.pause, "pause", 0, pauseHelp)
	fs.IntVar(&cmd.samples, "s", defaultArgSamples, "Shorthand for -samples.")
	fs.IntVar(&cmd.samples, "samples", defaultArgSamples, samplesHelp)
	fs.DurationVar(&cmd.interval, "t", defaultArgInterval, "Shorthand for -interval.")
	fs.DurationVar(&cmd.interval, "interval", defaultArgInterval, intervalHelp)

	return &ffcli.Command{
		Name:       "stat",
		ShortUsage: "pmsample stat [flags] metric [metric ...]",
		ShortHelp:  "Report values and rates of metrics",
		LongHelp: "Counters are reported as rates per second over the last interval. " +
			"Values that cannot be computed yet are printed as '?'.",
		FlagSet: fs,
		Options: ffOptions(),
		Exec:    cmd.exec,
	}
}

func (cmd *statCmd) exec(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return usageError("no metrics given")
	}
	policy, err := pmcc.ParseNewInstancePolicy(cmd.newInstances)
	if err != nil {
		return usageError("%v", err)
	}

	cfg := cmd.env.groupConfig(&cmd.src)
	cfg.NewInstances = policy
	cfg.Interval = cmd.interval
	cfg.Samples = cmd.samples
	cfg.Duration = cmd.duration
	cfg.Pause = cmd.pause
	if err = cfg.Validate(); err != nil {
		return usageError("%v", err)
	}

	client, err := cmd.env.source(ctx, cmd.src.archive)
	if err != nil {
		return err
	}
	gm, err := pmcc.NewGroupManager(client, cfg)
	if err != nil {
		return err
	}
	if _, err = gm.Create(ctx, "stat", names...); err != nil {
		return err
	}
	return gm.Run(ctx, newTablePrinter(cmd.env.out))
}
