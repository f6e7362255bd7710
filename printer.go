// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"

	"github.com/pcpstat/pmsample/pmcc"
)

// absent is printed for values that cannot be computed.
const absent = "?"

// tablePrinter prints one table per report, one row per instance.
type tablePrinter struct {
	out     io.Writer
	reports int
}

var _ pmcc.Printer = (*tablePrinter)(nil)

func newTablePrinter(out io.Writer) *tablePrinter {
	return &tablePrinter{out: out}
}

func (p *tablePrinter) Report(gm *pmcc.GroupManager) error {
	tw := tabwriter.NewWriter(p.out, 0, 8, 2, ' ', 0)
	if p.reports > 0 {
		fmt.Fprintln(tw)
	}
	p.reports++
	fmt.Fprintln(tw, "TIME\tMETRIC\tINSTANCE\tVALUE\tUNITS")

	for _, g := range gm.Groups() {
		ts := g.Timestamp().Format("15:04:05")
		for _, m := range g.Metrics() {
			units := unitsLabel(m)
			values, ok, err := m.NetValues()
			if err != nil {
				log.Warnf("%s: %v", m.Name(), err)
			}
			if err != nil || !ok || len(values) == 0 {
				fmt.Fprintf(tw, "%s\t%s\t-\t%s\t%s\n", ts, m.Name(), absent, units)
				continue
			}
			for _, v := range values {
				inst := v.Name
				if inst == pmcc.ScalarInstanceName {
					inst = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\n", ts, m.Name(), inst, v.Value, units)
			}
		}
	}
	return tw.Flush()
}

// unitsLabel returns the units of the reported values. Counters are reported
// per second.
func unitsLabel(m *pmcc.Metric) string {
	units := m.ConvUnits().String()
	if !m.Core().IsCounter() {
		if units == "" {
			return "-"
		}
		return units
	}
	if units == "" {
		return "/ sec"
	}
	return units + " / sec"
}
