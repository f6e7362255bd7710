// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package selfmetrics // import "github.com/pcpstat/pmsample/selfmetrics"

// MetricID is the type for metric IDs.
type MetricID uint16

// MetricType distinguishes monotonic counters from gauges.
type MetricType string

const (
	MetricTypeCounter MetricType = "counter"
	MetricTypeGauge   MetricType = "gauge"
)

// MetricDefinition is one entry of metrics.json.
type MetricDefinition struct {
	Description string     `json:"description"`
	Type        MetricType `json:"type"`
	Name        string     `json:"name"`
	FieldName   string     `json:"field"`
	Unit        string     `json:"unit"`
	ID          MetricID   `json:"id"`
	Obsolete    bool       `json:"obsolete"`
}

// IDs of the entries in metrics.json. Append only.
const (
	// Leave out the 0 value. It's an indication of not explicitly initialized variables.
	IDInvalid MetricID = iota

	IDFetchOK
	IDFetchStale
	IDFetchNoData
	IDFetchError
	IDDescCacheHit
	IDDescCacheMiss
	IDUnknownNames
	IDUnknownNameCacheHit
	IDInDomLookups
	IDInDomRefreshes
	IDCounterResets
	IDGroups

	// IDMax is one past the last valid ID.
	IDMax
)
