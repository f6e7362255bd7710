// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pmapi // import "github.com/pcpstat/pmsample/pmapi"

import (
	"errors"
	"fmt"
)

var (
	// ErrEndOfData is returned by Fetch when a recorded source has no more samples.
	ErrEndOfData = errors.New("end of data")

	// ErrIncompatibleUnits is returned when converting between units of different dimensions.
	ErrIncompatibleUnits = errors.New("incompatible units")

	// ErrUnknownInDom is returned by GetInDom for an instance domain the source does not know.
	ErrUnknownInDom = errors.New("unknown instance domain")

	// ErrUnknownPmID is returned by LookupDesc for an identifier the source does not know.
	ErrUnknownPmID = errors.New("unknown metric identifier")
)

// TransportError reports a failed round trip to a metric source.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
