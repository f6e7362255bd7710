// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pmcc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/pcpstat/pmsample/pmapi"
	"github.com/pcpstat/pmsample/pmapi/pmapitest"
)

const (
	idDiskRead      pmapi.PmID = 60<<22 | 0<<10 | 4
	idDiskReadBytes pmapi.PmID = 60<<22 | 0<<10 | 38
	idLoad          pmapi.PmID = 60<<22 | 2<<10 | 0
	idMemFree       pmapi.PmID = 58<<22 | 0<<10 | 2
	idNCPU          pmapi.PmID = 60<<22 | 0<<10 | 32

	diskInDom pmapi.InDom = 60<<22 | 1
)

var (
	countUnits = pmapi.Units{DimCount: 1}
	kbyteUnits = pmapi.Units{DimSpace: 1, ScaleSpace: pmapi.SpaceKByte}
	mbyteUnits = pmapi.Units{DimSpace: 1, ScaleSpace: pmapi.SpaceMByte}
	msecUnits  = pmapi.Units{DimTime: 1, ScaleTime: pmapi.TimeMSec}

	descDiskRead = pmapi.Desc{PmID: idDiskRead, Type: pmapi.TypeUint64,
		Sem: pmapi.SemCounter, Units: countUnits, InDom: diskInDom}
	descDiskReadBytes = pmapi.Desc{PmID: idDiskReadBytes, Type: pmapi.TypeUint64,
		Sem: pmapi.SemCounter, Units: kbyteUnits, InDom: diskInDom}
	descLoad = pmapi.Desc{PmID: idLoad, Type: pmapi.TypeDouble,
		Sem: pmapi.SemInstant, InDom: pmapi.InDomNull}
	descMemFree = pmapi.Desc{PmID: idMemFree, Type: pmapi.TypeUint64,
		Sem: pmapi.SemInstant, Units: kbyteUnits, InDom: pmapi.InDomNull}
	descNCPU = pmapi.Desc{PmID: idNCPU, Type: pmapi.TypeUint32,
		Sem: pmapi.SemDiscrete, Units: countUnits, InDom: pmapi.InDomNull}
)

// newTestClient returns a scripted client knowing a handful of metrics and a
// disk instance domain with sda and sdb.
func newTestClient() *pmapitest.Client {
	client := pmapitest.New()
	client.AddMetric("disk.dev.read", descDiskRead)
	client.AddMetric("disk.dev.read_bytes", descDiskReadBytes)
	client.AddMetric("kernel.all.load", descLoad)
	client.AddMetric("mem.util.free", descMemFree)
	client.AddMetric("hinv.ncpu", descNCPU)
	client.SetInDom(diskInDom,
		pmapi.Instance{ID: 0, Name: "sda"},
		pmapi.Instance{ID: 1, Name: "sdb"})
	return client
}

func testConfig() Config {
	return Config{MeterProvider: noop.NewMeterProvider()}
}

func newTestManager(t *testing.T, client pmapi.Client, cfg Config) *GroupManager {
	t.Helper()
	gm, err := NewGroupManager(client, cfg)
	require.NoError(t, err)
	return gm
}

// newTestMetric returns a metric that is not part of any group, for feeding
// snapshots by hand.
func newTestMetric(name string, desc pmapi.Desc, policy NewInstancePolicy) *Metric {
	cfg := testConfig()
	cfg.NewInstances = policy
	cfg = cfg.withDefaults()
	return newMetric(&MetricCore{Name: name, PmID: desc.PmID, Desc: desc}, &cfg, nil)
}

var testDisks = newInstanceMap(diskInDom, []pmapi.Instance{
	{ID: 0, Name: "sda"},
	{ID: 1, Name: "sdb"},
	{ID: 2, Name: "sdc"},
})

// snap builds a snapshot at the given second from instance/value pairs.
func snap(seconds float64, instances *InstanceMap, pairs ...any) *Snapshot {
	values := make(map[int32]pmapi.Atom)
	for i := 0; i+1 < len(pairs); i += 2 {
		var inst int32
		switch v := pairs[i].(type) {
		case int:
			inst = int32(v)
		case int32:
			inst = v
		}
		values[inst] = pairs[i+1].(pmapi.Atom)
	}
	ts := time.Unix(0, 0).Add(time.Duration(seconds * float64(time.Second)))
	return newSnapshot(ts, values, instances)
}

// sumValue returns the value of an int64 sum or gauge named name.
func sumValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}
