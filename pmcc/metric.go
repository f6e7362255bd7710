// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pmcc // import "github.com/pcpstat/pmsample/pmcc"

import (
	"cmp"
	"slices"

	"github.com/pcpstat/pmsample/pmapi"
	"github.com/pcpstat/pmsample/selfmetrics"
)

// NetValue is the reporting-ready value of one instance.
type NetValue struct {
	Inst  int32
	Name  string
	Value float64
}

// NetValues are ordered by instance id.
type NetValues []NetValue

// Lookup returns the value of the instance with the given name.
func (nv NetValues) Lookup(name string) (float64, bool) {
	for _, v := range nv {
		if v.Name == name {
			return v.Value, true
		}
	}
	return 0, false
}

// Inst returns the value of the instance with the given id.
func (nv NetValues) Inst(inst int32) (float64, bool) {
	i, found := slices.BinarySearchFunc(nv, inst, func(v NetValue, inst int32) int {
		return cmp.Compare(v.Inst, inst)
	})
	if !found {
		return 0, false
	}
	return nv[i].Value, true
}

// Map returns the values keyed by instance name.
func (nv NetValues) Map() map[string]float64 {
	out := make(map[string]float64, len(nv))
	for _, v := range nv {
		out[v.Name] = v.Value
	}
	return out
}

// memo caches one materialization until the next push.
type memo struct {
	valid   bool
	present bool
	values  NetValues
}

func (m *memo) reset() {
	*m = memo{}
}

// Metric is one member of a MetricGroup. It holds the current and the previous
// snapshot of the metric and derives net values from them on demand.
type Metric struct {
	core *MetricCore
	buf  sampleBuffer

	conv      pmapi.UnitConverter
	convUnits *pmapi.Units
	policy    NewInstancePolicy
	rec       *selfmetrics.Recorder

	netCur, netPrev memo
}

func newMetric(core *MetricCore, cfg *Config, rec *selfmetrics.Recorder) *Metric {
	return &Metric{
		core:   core,
		conv:   cfg.Converter,
		policy: cfg.NewInstances,
		rec:    rec,
	}
}

// Name returns the metric name.
func (m *Metric) Name() string { return m.core.Name }

// Core returns the shared metadata of the metric.
func (m *Metric) Core() *MetricCore { return m.core }

// Desc returns the descriptor of the metric.
func (m *Metric) Desc() pmapi.Desc { return m.core.Desc }

// Current returns the latest snapshot or nil before the first fetch.
func (m *Metric) Current() *Snapshot { return m.buf.current() }

// Previous returns the snapshot that was current before the latest fetch.
func (m *Metric) Previous() *Snapshot { return m.buf.previous() }

// BaselineReady reports whether the metric has both a current and a previous
// snapshot, i.e. whether counter rates can be computed.
func (m *Metric) BaselineReady() bool { return m.buf.hasBaseline() }

// Instances returns the instance table captured with the current snapshot.
func (m *Metric) Instances() *InstanceMap {
	if cur := m.buf.current(); cur != nil {
		return cur.instances
	}
	return nil
}

// ConvUnits returns the units net values are converted to, or the declared
// units of the metric if no conversion was requested.
func (m *Metric) ConvUnits() pmapi.Units {
	if m.convUnits != nil {
		return *m.convUnits
	}
	return m.core.Desc.Units
}

// SetConvUnits requests net values in the given units.
func (m *Metric) SetConvUnits(units pmapi.Units) {
	m.convUnits = &units
	m.invalidate()
}

// ClearConvUnits reports net values in the declared units again.
func (m *Metric) ClearConvUnits() {
	m.convUnits = nil
	m.invalidate()
}

// push is the only way a metric's snapshots change.
func (m *Metric) push(s *Snapshot) {
	m.buf.push(s)
	m.invalidate()
}

func (m *Metric) invalidate() {
	m.netCur.reset()
	m.netPrev.reset()
}

// NetValues returns the reporting-ready values of the current snapshot. For
// counters these are per-second rates over the last interval. ok is false if
// there is nothing to report yet, which callers should render as a
// placeholder rather than as zero.
func (m *Metric) NetValues() (values NetValues, ok bool, err error) {
	return m.cached(&m.netCur, false)
}

// NetPrevValues is NetValues for the previous snapshot. Counters never have
// a previous rate.
func (m *Metric) NetPrevValues() (values NetValues, ok bool, err error) {
	return m.cached(&m.netPrev, true)
}

func (m *Metric) cached(c *memo, usePrevious bool) (NetValues, bool, error) {
	if !c.valid {
		values, ok, err := m.materialize(usePrevious)
		if err != nil {
			return nil, false, err
		}
		*c = memo{valid: true, present: ok, values: values}
	}
	if !c.present {
		return nil, false, nil
	}
	return slices.Clone(c.values), true, nil
}
