// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/pcpstat/pmsample/vc"
)

func newVersionCmd(env *environment) *ffcli.Command {
	return &ffcli.Command{
		Name:       "version",
		ShortUsage: "pmsample version",
		ShortHelp:  "Show version",
		FlagSet:    flag.NewFlagSet("version", flag.ContinueOnError),
		Exec: func(context.Context, []string) error {
			_, err := fmt.Fprintln(env.out, vc.Summary())
			return err
		},
	}
}
