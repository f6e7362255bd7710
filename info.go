// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/pcpstat/pmsample/pmapi"
	"github.com/pcpstat/pmsample/pmcc"
)

// namer is implemented by sources that can list their metrics.
type namer interface {
	Names() []string
}

// helper is implemented by sources that carry help texts.
type helper interface {
	Help(name string) (string, bool)
}

type infoCmd struct {
	env *environment
	src sourceFlags
}

func newInfoCmd(env *environment) *ffcli.Command {
	cmd := &infoCmd{env: env}

	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	cmd.src.register(fs)

	return &ffcli.Command{
		Name:       "info",
		ShortUsage: "pmsample info [flags] [metric ...]",
		ShortHelp:  "Print descriptors and instances of metrics",
		LongHelp:   "Without metric names, every metric of the source is listed.",
		FlagSet:    fs,
		Options:    ffOptions(),
		Exec:       cmd.exec,
	}
}

func (cmd *infoCmd) exec(ctx context.Context, names []string) error {
	client, err := cmd.env.source(ctx, cmd.src.archive)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		n, ok := client.(namer)
		if !ok {
			return usageError("no metrics given")
		}
		names = n.Names()
	}

	cache, err := pmcc.NewMetricCache(client, cmd.env.groupConfig(&cmd.src))
	if err != nil {
		return err
	}
	cores, unknown, err := cache.Resolve(ctx, names)
	if err != nil {
		return err
	}

	out := cmd.env.out
	for _, core := range cores {
		desc := core.Desc
		fmt.Fprintf(out, "%s\n", core.Name)
		fmt.Fprintf(out, "    PMID: %v  Type: %v  Semantics: %v  Units: %s\n",
			desc.PmID, desc.Type, desc.Sem, unitsOrNone(desc.Units))
		if h, ok := client.(helper); ok {
			if text, ok := h.Help(core.Name); ok {
				fmt.Fprintf(out, "    Help: %s\n", text)
			}
		}
		if desc.InDom == pmapi.InDomNull {
			continue
		}
		fmt.Fprintf(out, "    InDom: %v\n", desc.InDom)
		m, err := cache.InstanceMap(ctx, desc.InDom)
		if err != nil {
			fmt.Fprintf(out, "    Instances: %v\n", err)
			continue
		}
		instances := make([]string, 0, m.Len())
		for _, inst := range m.Instances() {
			instances = append(instances, fmt.Sprintf("%d %q", inst.ID, inst.Name))
		}
		fmt.Fprintf(out, "    Instances: %s\n", strings.Join(instances, ", "))
	}

	if len(unknown) == 0 {
		return nil
	}
	err = &pmcc.UnknownMetricError{Names: unknown}
	if cmd.src.ignoreUnknown {
		fmt.Fprintf(out, "%v\n", err)
		return nil
	}
	return err
}

func unitsOrNone(u pmapi.Units) string {
	if s := u.String(); s != "" {
		return s
	}
	return "none"
}
