// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

/*
Package selfmetrics reports the health of the sampling core itself: fetch
outcomes per group, descriptor and instance domain cache efficiency and
counter resets seen by the value materializer.

The metric definitions are embedded from metrics.json. To add a metric,
append an entry there and a matching ID in types.go.

A Recorder is created from an OpenTelemetry MeterProvider:

	rec := selfmetrics.New(otel.GetMeterProvider())
	rec.Add(ctx, selfmetrics.IDFetchOK, 1, attribute.String("group", "disk"))

A nil *Recorder is valid and discards everything.
*/
package selfmetrics // import "github.com/pcpstat/pmsample/selfmetrics"

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pcpstat/pmsample/vc"
)

//go:embed metrics.json
var metricsJSON []byte

// GetDefinitions returns the metric definitions from the embedded metrics.json file.
func GetDefinitions() []MetricDefinition {
	var defs []MetricDefinition

	dec := json.NewDecoder(bytes.NewReader(metricsJSON))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&defs); err != nil {
		panic(fmt.Sprintf("extracting definitions from metrics.json: %v", err))
	}
	return defs
}

// Recorder owns one OTel instrument per definition.
type Recorder struct {
	counters map[MetricID]metric.Int64Counter
	gauges   map[MetricID]metric.Int64Gauge
}

// New creates the instruments for all non-obsolete definitions.
func New(mp metric.MeterProvider) *Recorder {
	meter := mp.Meter("github.com/pcpstat/pmsample",
		metric.WithInstrumentationVersion(vc.Version()))

	r := &Recorder{
		counters: make(map[MetricID]metric.Int64Counter),
		gauges:   make(map[MetricID]metric.Int64Gauge),
	}
	for _, md := range GetDefinitions() {
		if md.Obsolete {
			continue
		}
		switch typ := md.Type; typ {
		case MetricTypeCounter:
			counter, err := meter.Int64Counter(md.Name,
				metric.WithDescription(md.Description),
				metric.WithUnit(md.Unit))
			if err != nil {
				log.Errorf("Creating Int64Counter %s: %v", md.Name, err)
				continue
			}
			r.counters[md.ID] = counter
		case MetricTypeGauge:
			gauge, err := meter.Int64Gauge(md.Name,
				metric.WithDescription(md.Description),
				metric.WithUnit(md.Unit))
			if err != nil {
				log.Errorf("Creating Int64Gauge %s: %v", md.Name, err)
				continue
			}
			r.gauges[md.ID] = gauge
		default:
			panic(fmt.Sprintf("Unknown metric type: %v", typ))
		}
	}
	return r
}

// Add increments a counter. Zero increments are dropped.
func (r *Recorder) Add(ctx context.Context, id MetricID, value int64,
	attrs ...attribute.KeyValue) {
	if r == nil || value == 0 {
		return
	}
	counter, ok := r.counters[id]
	if !ok {
		log.Warnf("Invalid counter id %d, skipping", id)
		return
	}
	counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

// Record sets a gauge.
func (r *Recorder) Record(ctx context.Context, id MetricID, value int64,
	attrs ...attribute.KeyValue) {
	if r == nil {
		return
	}
	gauge, ok := r.gauges[id]
	if !ok {
		log.Warnf("Invalid gauge id %d, skipping", id)
		return
	}
	gauge.Record(ctx, value, metric.WithAttributes(attrs...))
}
