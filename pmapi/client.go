// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pmapi // import "github.com/pcpstat/pmsample/pmapi"

import "context"

// Client is a source of metrics, either a live host or a recorded archive.
//
// Implementations are called from a single goroutine at a time by a metric
// group, but the descriptor and instance domain lookups may be issued
// concurrently when a cache is shared between goroutines.
type Client interface {
	// LookupNames resolves metric names. The returned slice has one entry
	// per name; unresolvable names map to PmIDNull.
	LookupNames(ctx context.Context, names []string) ([]PmID, error)

	// LookupDesc returns the descriptor of a metric.
	LookupDesc(ctx context.Context, id PmID) (Desc, error)

	// GetInDom enumerates the current members of an instance domain.
	GetInDom(ctx context.Context, indom InDom) ([]Instance, error)

	// Fetch returns the current values of the given metrics. A recorded
	// source returns ErrEndOfData once it is exhausted.
	Fetch(ctx context.Context, ids []PmID) (*Result, error)
}
