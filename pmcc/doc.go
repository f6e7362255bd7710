// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package pmcc collects sampled performance metrics and turns them into
// reporting-ready values.
//
// Metrics are organized in named groups that are fetched together in one
// round trip. Every metric keeps its current and its previous snapshot;
// counters are reported as per-second rates between the two, instantaneous
// and discrete metrics as their latest value. Metric metadata and instance
// domains are cached for the life of the GroupManager and shared by all of
// its groups.
//
// A typical tool creates a GroupManager on top of a pmapi.Client, creates one
// or more groups and calls Run with a Printer:
//
//	gm, err := pmcc.NewGroupManager(client, pmcc.Config{Interval: time.Second})
//	...
//	_, err = gm.Create(ctx, "disk", "disk.dev.read", "disk.dev.write")
//	...
//	err = gm.Run(ctx, printer)
package pmcc // import "github.com/pcpstat/pmsample/pmcc"
