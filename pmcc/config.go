// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pmcc // import "github.com/pcpstat/pmsample/pmcc"

import (
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/pcpstat/pmsample/pmapi"
)

// NewInstancePolicy decides what a counter reports for an instance that has a
// current value but no previous one, e.g. a disk that was just plugged in.
type NewInstancePolicy uint8

const (
	// NewInstanceReportRaw reports the raw current value, as if the metric
	// were instantaneous, so that new instances are visible immediately.
	NewInstanceReportRaw NewInstancePolicy = iota
	// NewInstanceWaitBaseline reports nothing until the instance has two samples.
	NewInstanceWaitBaseline
)

func (p NewInstancePolicy) String() string {
	switch p {
	case NewInstanceReportRaw:
		return "raw"
	case NewInstanceWaitBaseline:
		return "wait"
	}
	return fmt.Sprintf("NewInstancePolicy(%d)", uint8(p))
}

// ParseNewInstancePolicy parses the textual form accepted on the command line.
func ParseNewInstancePolicy(s string) (NewInstancePolicy, error) {
	switch s {
	case "raw", "":
		return NewInstanceReportRaw, nil
	case "wait":
		return NewInstanceWaitBaseline, nil
	}
	return 0, fmt.Errorf("invalid new instance policy %q (use raw or wait)", s)
}

const (
	defaultInterval             = time.Second
	defaultUnknownNameLifetime  = 30 * time.Second
	defaultUnknownNameCacheSize = 1024
)

// Config is passed to NewGroupManager and shared by all groups and metrics
// it creates.
type Config struct {
	// IgnoreUnknown makes MetricGroup.Add skip names the source cannot
	// resolve instead of failing.
	IgnoreUnknown bool
	// NewInstances is the counter policy for newly appeared instances.
	NewInstances NewInstancePolicy
	// UnknownNameLifetime is how long an unresolvable name is remembered
	// before the source is asked again. Negative disables the negative cache.
	UnknownNameLifetime time.Duration
	// UnknownNameCacheSize bounds the negative cache.
	UnknownNameCacheSize uint32
	// Converter performs unit conversion. Defaults to pmapi.ScaleConverter.
	Converter pmapi.UnitConverter

	// Interval is the sampling interval used by Run.
	Interval time.Duration
	// Samples limits the number of reports produced by Run. 0 means no limit.
	Samples int
	// Duration limits the reporting window of Run when Samples is 0.
	Duration time.Duration
	// Archive tells Run that the source is a recording.
	Archive bool
	// Pause overrides the delay between samples in Run. If zero, recordings
	// are replayed without delay and live sources pause for Interval.
	Pause time.Duration

	// MeterProvider receives the self-metrics. Defaults to the global provider.
	MeterProvider metric.MeterProvider
}

// Validate checks the configuration for values that cannot work.
func (cfg *Config) Validate() error {
	if cfg.Interval < 0 {
		return errors.New("interval must not be negative")
	}
	if cfg.Samples < 0 {
		return errors.New("samples must not be negative")
	}
	if cfg.Duration < 0 {
		return errors.New("duration must not be negative")
	}
	if cfg.Pause < 0 {
		return errors.New("pause must not be negative")
	}
	if cfg.NewInstances > NewInstanceWaitBaseline {
		return fmt.Errorf("invalid new instance policy %d", cfg.NewInstances)
	}
	return nil
}

func (cfg Config) withDefaults() Config {
	if cfg.Interval == 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.UnknownNameLifetime == 0 {
		cfg.UnknownNameLifetime = defaultUnknownNameLifetime
	}
	if cfg.UnknownNameCacheSize == 0 {
		cfg.UnknownNameCacheSize = defaultUnknownNameCacheSize
	}
	if cfg.Converter == nil {
		cfg.Converter = pmapi.ScaleConverter{}
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	return cfg
}
