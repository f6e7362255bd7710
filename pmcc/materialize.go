// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pmcc // import "github.com/pcpstat/pmsample/pmcc"

import (
	"context"
	"errors"
	"fmt"

	"github.com/pcpstat/pmsample/pmapi"
	"github.com/pcpstat/pmsample/selfmetrics"
)

// materialize derives the net values of the current or the previous snapshot.
// This is the only place where the semantics of a metric are looked at.
func (m *Metric) materialize(usePrevious bool) (NetValues, bool, error) {
	switch m.core.Desc.Sem {
	case pmapi.SemCounter:
		if usePrevious {
			// A rate for the previous snapshot needs a third snapshot.
			return nil, false, nil
		}
		return m.rates()
	case pmapi.SemInstant, pmapi.SemDiscrete:
		snap := m.buf.current()
		if usePrevious {
			snap = m.buf.previous()
		}
		return m.passThrough(snap)
	default:
		return nil, false, fmt.Errorf("%s: unsupported semantics %v",
			m.core.Name, m.core.Desc.Sem)
	}
}

// passThrough reports the raw values of snap.
func (m *Metric) passThrough(snap *Snapshot) (NetValues, bool, error) {
	if snap == nil {
		return nil, false, nil
	}
	if err := m.checkUnits(); err != nil {
		return nil, false, err
	}

	out := make(NetValues, 0, snap.Len())
	for _, inst := range snap.order {
		v, err := m.convert(snap.values[inst].Float64())
		if err != nil {
			return nil, false, err
		}
		out = append(out, NetValue{
			Inst:  inst,
			Name:  instanceName(snap.instances, inst),
			Value: v,
		})
	}
	return out, true, nil
}

// rates turns the counter values of the current and the previous snapshot
// into per-second rates.
func (m *Metric) rates() (NetValues, bool, error) {
	cur, prev := m.buf.current(), m.buf.previous()
	if cur == nil || prev == nil {
		return nil, false, nil
	}
	dt := cur.Timestamp.Sub(prev.Timestamp).Seconds()
	if dt <= 0 {
		return nil, false, nil
	}
	if err := m.checkUnits(); err != nil {
		return nil, false, err
	}

	var resets int64
	out := make(NetValues, 0, cur.Len())
	for _, inst := range cur.order {
		value := cur.values[inst]

		var v float64
		if old, ok := prev.values[inst]; ok {
			delta, ok := value.Sub(old)
			if !ok {
				// The counter was reset or wrapped.
				resets++
				continue
			}
			converted, err := m.convert(delta)
			if err != nil {
				return nil, false, err
			}
			v = converted / dt
		} else {
			if m.policy == NewInstanceWaitBaseline {
				continue
			}
			converted, err := m.convert(value.Float64())
			if err != nil {
				return nil, false, err
			}
			v = converted
		}
		out = append(out, NetValue{
			Inst:  inst,
			Name:  instanceName(cur.instances, inst),
			Value: v,
		})
	}
	// NetValues is a pure read and takes no context. The counter add does not
	// block, so the background context only satisfies the instrument API.
	m.rec.Add(context.Background(), selfmetrics.IDCounterResets, resets)
	return out, true, nil
}

func (m *Metric) checkUnits() error {
	if m.convUnits == nil {
		return nil
	}
	from, to := m.core.Desc.Units, *m.convUnits
	if !from.SameDimension(to) {
		return &IncompatibleUnitsError{
			Metric: m.core.Name,
			From:   from,
			To:     to,
			Err:    pmapi.ErrIncompatibleUnits,
		}
	}
	return nil
}

func (m *Metric) convert(v float64) (float64, error) {
	if m.convUnits == nil {
		return v, nil
	}
	from, to := m.core.Desc.Units, *m.convUnits
	out, err := m.conv.ConvertUnit(v, pmapi.TypeDouble, from, to)
	if err != nil {
		if errors.Is(err, pmapi.ErrIncompatibleUnits) {
			return 0, &IncompatibleUnitsError{Metric: m.core.Name, From: from, To: to, Err: err}
		}
		return 0, fmt.Errorf("%s: %w", m.core.Name, err)
	}
	return out, nil
}
