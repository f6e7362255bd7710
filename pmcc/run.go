// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pmcc // import "github.com/pcpstat/pmsample/pmcc"

import (
	"context"
	"errors"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pcpstat/pmsample/periodiccaller"
)

// Printer renders the state of all groups after every fetch of Run.
type Printer interface {
	Report(gm *GroupManager) error
}

// PrinterFunc adapts a function to the Printer interface.
type PrinterFunc func(gm *GroupManager) error

func (f PrinterFunc) Report(gm *GroupManager) error { return f(gm) }

// Samples returns the number of fetches Run performs, 0 meaning no limit. One
// extra fetch is added when every metric is a counter, since the first fetch
// of a counter has nothing to report.
func (gm *GroupManager) Samples() int {
	extra := 1
	if gm.HasNonCounters() {
		extra = 0
	}
	switch {
	case gm.cfg.Samples > 0:
		return gm.cfg.Samples + extra
	case gm.cfg.Duration > 0:
		window := float64(gm.cfg.Duration) / float64(gm.cfg.Interval)
		return int(math.Round(window)) + extra
	}
	return 0
}

// Pause returns the time Run waits between fetches.
func (gm *GroupManager) Pause() time.Duration {
	switch {
	case gm.cfg.Pause > 0:
		return gm.cfg.Pause
	case gm.cfg.Archive:
		return 0
	}
	return gm.cfg.Interval
}

// Run fetches all groups and reports them through printer once per pause,
// until the sample limit is reached, a recorded source runs out of data or
// ctx is canceled. It fails if the printer fails or if every group failed to
// fetch in the same iteration.
func (gm *GroupManager) Run(ctx context.Context, printer Printer) error {
	if gm.Len() == 0 {
		return errors.New("no metrics to fetch")
	}
	samples := gm.Samples()
	pause := gm.Pause()
	log.Debugf("Sampling %d groups, %d samples, pause %v", len(gm.order), samples, pause)

	var runErr error
	err := periodiccaller.Run(ctx, pause, func() bool {
		results := gm.FetchAll(ctx)

		var errs []error
		for _, g := range gm.order {
			res := results[g.name]
			if res.Outcome == FetchNoData {
				return false
			}
			if res.Err != nil {
				errs = append(errs, res.Err)
			}
		}
		if len(errs) > 0 && len(errs) == len(gm.order) {
			runErr = errors.Join(errs...)
			return false
		}

		gm.counter++
		if err := printer.Report(gm); err != nil {
			runErr = err
			return false
		}
		return samples == 0 || gm.counter < samples
	})
	if runErr != nil {
		return runErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
