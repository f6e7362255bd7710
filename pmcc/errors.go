// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pmcc // import "github.com/pcpstat/pmsample/pmcc"

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pcpstat/pmsample/pmapi"
)

var (
	// ErrUnknownMetric matches any UnknownMetricError.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrDuplicateGroup is returned when creating a group under a name that is taken.
	ErrDuplicateGroup = errors.New("metric group already exists")

	// ErrMalformedResult is returned when a fetched value-set cannot be
	// distributed to the group's metrics. No metric is updated in that case.
	ErrMalformedResult = errors.New("malformed fetch result")
)

// UnknownMetricError lists metric names the source could not resolve.
type UnknownMetricError struct {
	Names []string
}

func (e *UnknownMetricError) Error() string {
	return fmt.Sprintf("unknown metric: %s", strings.Join(e.Names, ", "))
}

func (e *UnknownMetricError) Is(target error) bool {
	return target == ErrUnknownMetric
}

// IncompatibleUnitsError is returned by the net value accessors when the
// requested conversion units do not match the dimension of the metric.
type IncompatibleUnitsError struct {
	Metric   string
	From, To pmapi.Units
	Err      error
}

func (e *IncompatibleUnitsError) Error() string {
	return fmt.Sprintf("%s: cannot convert %q to %q: %v", e.Metric, e.From, e.To, e.Err)
}

func (e *IncompatibleUnitsError) Unwrap() error {
	return e.Err
}

func (e *IncompatibleUnitsError) Is(target error) bool {
	return target == pmapi.ErrIncompatibleUnits
}
