// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pmcc // import "github.com/pcpstat/pmsample/pmcc"

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/pcpstat/pmsample/pmapi"
	"github.com/pcpstat/pmsample/selfmetrics"
)

// ScalarInstanceName is the instance name of values of metrics without an
// instance domain.
const ScalarInstanceName = "PM_IN_NULL"

// InstanceMap is an immutable id to name table of one instance domain.
type InstanceMap struct {
	InDom pmapi.InDom
	names map[int32]string
	ids   []int32
}

// scalarInstances is shared by every metric without an instance domain.
var scalarInstances = newInstanceMap(pmapi.InDomNull,
	[]pmapi.Instance{{ID: pmapi.InNull, Name: ScalarInstanceName}})

func newInstanceMap(indom pmapi.InDom, instances []pmapi.Instance) *InstanceMap {
	m := &InstanceMap{
		InDom: indom,
		names: make(map[int32]string, len(instances)),
		ids:   make([]int32, 0, len(instances)),
	}
	for _, inst := range instances {
		if _, dup := m.names[inst.ID]; dup {
			continue
		}
		m.names[inst.ID] = inst.Name
		m.ids = append(m.ids, inst.ID)
	}
	slices.Sort(m.ids)
	return m
}

// Name returns the name of an instance.
func (m *InstanceMap) Name(inst int32) (string, bool) {
	if m == nil {
		return "", false
	}
	name, ok := m.names[inst]
	return name, ok
}

// Len returns the number of instances.
func (m *InstanceMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.ids)
}

// Instances returns the members ordered by instance id.
func (m *InstanceMap) Instances() []pmapi.Instance {
	if m == nil {
		return nil
	}
	out := make([]pmapi.Instance, len(m.ids))
	for i, id := range m.ids {
		out[i] = pmapi.Instance{ID: id, Name: m.names[id]}
	}
	return out
}

// instanceName falls back to the decimal instance id for instances that
// appeared after the domain was enumerated.
func instanceName(m *InstanceMap, inst int32) string {
	if name, ok := m.Name(inst); ok {
		return name
	}
	return strconv.FormatInt(int64(inst), 10)
}

// InstanceMap returns the cached instance table of indom, enumerating it from
// the source on first use. InDomNull resolves to the scalar table without a
// round trip.
func (c *MetricCache) InstanceMap(ctx context.Context, indom pmapi.InDom) (*InstanceMap, error) {
	if indom == pmapi.InDomNull {
		return scalarInstances, nil
	}

	st := c.state.RLock()
	m, ok := st.indoms[indom]
	c.state.RUnlock(&st)
	if ok {
		return m, nil
	}

	v, err, _ := c.flight.Do("indom:"+strconv.FormatUint(uint64(indom), 10),
		func() (any, error) {
			st := c.state.RLock()
			m, ok := st.indoms[indom]
			c.state.RUnlock(&st)
			if ok {
				return m, nil
			}

			m, err := c.enumerate(ctx, indom)
			if err != nil {
				return nil, err
			}
			st = c.state.WLock()
			defer c.state.WUnlock(&st)
			if existing, ok := st.indoms[indom]; ok {
				return existing, nil
			}
			st.indoms[indom] = m
			return m, nil
		})
	if err != nil {
		return nil, err
	}
	return v.(*InstanceMap), nil
}

// RefreshInDom enumerates indom again and replaces the cached table wholesale.
// Snapshots captured before the refresh keep the table they were captured with.
func (c *MetricCache) RefreshInDom(ctx context.Context, indom pmapi.InDom) (*InstanceMap, error) {
	if indom == pmapi.InDomNull {
		return scalarInstances, nil
	}
	m, err := c.enumerate(ctx, indom)
	if err != nil {
		return nil, err
	}

	st := c.state.WLock()
	st.indoms[indom] = m
	c.state.WUnlock(&st)

	c.rec.Add(ctx, selfmetrics.IDInDomRefreshes, 1)
	log.Debugf("Refreshed instance domain %v: %d instances", indom, m.Len())
	return m, nil
}

func (c *MetricCache) enumerate(ctx context.Context, indom pmapi.InDom) (*InstanceMap, error) {
	instances, err := c.client.GetInDom(ctx, indom)
	if err != nil {
		return nil, fmt.Errorf("enumerating instance domain %v: %w", indom, err)
	}
	c.rec.Add(ctx, selfmetrics.IDInDomLookups, 1)
	return newInstanceMap(indom, instances), nil
}
