// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pmcc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/pcpstat/pmsample/pmapi"
	"github.com/pcpstat/pmsample/pmapi/pmapitest"
)

func newTestCache(t *testing.T, client pmapi.Client, cfg Config) *MetricCache {
	t.Helper()
	cache, err := NewMetricCache(client, cfg)
	require.NoError(t, err)
	return cache
}

func coreNames(cores []*MetricCore) []string {
	names := make([]string, len(cores))
	for i, c := range cores {
		names[i] = c.Name
	}
	return names
}

func TestResolve(t *testing.T) {
	client := newTestClient()
	cache := newTestCache(t, client, testConfig())
	ctx := context.Background()

	cores, unknown, err := cache.Resolve(ctx,
		[]string{"kernel.all.load", "no.such.metric", "disk.dev.read", "kernel.all.load"})
	require.NoError(t, err)
	assert.Equal(t, []string{"kernel.all.load", "disk.dev.read"}, coreNames(cores))
	assert.Equal(t, []string{"no.such.metric"}, unknown)
	assert.Equal(t, descDiskRead, cores[1].Desc)
	assert.True(t, cores[1].IsCounter())
	assert.False(t, cores[0].IsCounter())
	assert.Equal(t, 1, client.CallCount("LookupNames"))
	assert.Equal(t, 2, client.CallCount("LookupDesc"))
	// The disk domain was enumerated on the way, the scalar one needs no call.
	assert.Equal(t, 1, client.CallCount("GetInDom"))

	// Cached names cost no round trip and resolve to the same core.
	again, unknown, err := cache.Resolve(ctx, []string{"disk.dev.read"})
	require.NoError(t, err)
	assert.Empty(t, unknown)
	assert.Same(t, cores[1], again[0])
	assert.Equal(t, 1, client.CallCount("LookupNames"))
	assert.Equal(t, 2, client.CallCount("LookupDesc"))

	core, ok := cache.Lookup("disk.dev.read")
	require.True(t, ok)
	assert.Same(t, cores[1], core)
	_, ok = cache.Lookup("no.such.metric")
	assert.False(t, ok)
}

func TestResolveAliases(t *testing.T) {
	client := newTestClient()
	client.AddMetric("disk.all.read", descDiskRead)
	cache := newTestCache(t, client, testConfig())

	cores, unknown, err := cache.Resolve(context.Background(),
		[]string{"disk.dev.read", "disk.all.read"})
	require.NoError(t, err)
	assert.Empty(t, unknown)
	require.Len(t, cores, 2)
	assert.Equal(t, cores[0].PmID, cores[1].PmID)
	assert.Equal(t, cores[0].Desc, cores[1].Desc)
	assert.Equal(t, 1, client.CallCount("LookupDesc"))
}

func TestResolveUnknownNameCache(t *testing.T) {
	tests := map[string]struct {
		lifetime    time.Duration
		wantLookups int
	}{
		"cached":   {lifetime: 0, wantLookups: 1},
		"disabled": {lifetime: -1, wantLookups: 2},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			client := newTestClient()
			cfg := testConfig()
			cfg.UnknownNameLifetime = tc.lifetime
			cache := newTestCache(t, client, cfg)

			for range 2 {
				_, unknown, err := cache.Resolve(context.Background(), []string{"no.such.metric"})
				require.NoError(t, err)
				assert.Equal(t, []string{"no.such.metric"}, unknown)
			}
			assert.Equal(t, tc.wantLookups, client.CallCount("LookupNames"))
		})
	}
}

func TestResolveInvalidDescriptor(t *testing.T) {
	client := newTestClient()
	client.AddMetric("broken.metric", pmapi.Desc{PmID: 77, Type: pmapi.TypeUint64,
		Sem: pmapi.Semantics(9), InDom: pmapi.InDomNull})
	cache := newTestCache(t, client, testConfig())

	cores, unknown, err := cache.Resolve(context.Background(),
		[]string{"broken.metric", "hinv.ncpu"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hinv.ncpu"}, coreNames(cores))
	assert.Equal(t, []string{"broken.metric"}, unknown)
}

type failingClient struct {
	*pmapitest.Client
	err error
}

func (c *failingClient) LookupNames(context.Context, []string) ([]pmapi.PmID, error) {
	return nil, c.err
}

func TestResolveTransportError(t *testing.T) {
	transport := &pmapi.TransportError{Op: "lookup", Err: errors.New("connection refused")}
	cache := newTestCache(t, &failingClient{Client: newTestClient(), err: transport},
		testConfig())

	cores, unknown, err := cache.Resolve(context.Background(), []string{"disk.dev.read"})
	require.Error(t, err)
	var te *pmapi.TransportError
	assert.ErrorAs(t, err, &te)
	assert.Nil(t, cores)
	assert.Nil(t, unknown)
}

// descFailingClient fails descriptor lookups of a single PmID.
type descFailingClient struct {
	*pmapitest.Client
	id  pmapi.PmID
	err error
}

func (c *descFailingClient) LookupDesc(ctx context.Context, id pmapi.PmID) (pmapi.Desc, error) {
	if id == c.id {
		return pmapi.Desc{}, c.err
	}
	return c.Client.LookupDesc(ctx, id)
}

func TestResolveDescriptorError(t *testing.T) {
	client := newTestClient()
	client.AddMetric("bogus.metric", pmapi.Desc{PmID: 77, Type: pmapi.TypeUint64,
		Sem: pmapi.SemInstant, InDom: pmapi.InDomNull})
	names := []string{"disk.dev.read", "bogus.metric", "kernel.all.load"}

	t.Run("unknown id", func(t *testing.T) {
		cache := newTestCache(t, &descFailingClient{Client: client, id: 77,
			err: pmapi.ErrUnknownPmID}, testConfig())
		cores, unknown, err := cache.Resolve(context.Background(), names)
		require.NoError(t, err)
		assert.Equal(t, []string{"disk.dev.read", "kernel.all.load"}, coreNames(cores))
		assert.Equal(t, []string{"bogus.metric"}, unknown)
	})

	t.Run("transport", func(t *testing.T) {
		transport := &pmapi.TransportError{Op: "desc", Err: errors.New("connection reset")}
		cache := newTestCache(t, &descFailingClient{Client: client, id: 77, err: transport},
			testConfig())
		_, _, err := cache.Resolve(context.Background(), names)
		var te *pmapi.TransportError
		require.ErrorAs(t, err, &te)
	})
}

func TestResolveConcurrent(t *testing.T) {
	client := newTestClient()
	cache := newTestCache(t, client, testConfig())

	var wg sync.WaitGroup
	cores := make([]*MetricCore, 16)
	for i := range cores {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resolved, _, err := cache.Resolve(context.Background(), []string{"disk.dev.read"})
			assert.NoError(t, err)
			if len(resolved) == 1 {
				cores[i] = resolved[0]
			}
		}()
	}
	wg.Wait()

	for _, c := range cores {
		assert.Same(t, cores[0], c)
	}
	assert.Equal(t, 1, client.CallCount("LookupDesc"))
	assert.Equal(t, 1, client.CallCount("GetInDom"))
}

func TestResolveSelfMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	cfg := testConfig()
	cfg.MeterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	cache := newTestCache(t, newTestClient(), cfg)
	ctx := context.Background()

	_, _, err := cache.Resolve(ctx, []string{"disk.dev.read", "no.such.metric"})
	require.NoError(t, err)
	_, _, err = cache.Resolve(ctx, []string{"disk.dev.read", "no.such.metric"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), sumValue(t, reader, "pmsample.cache.desc.hits"))
	assert.Equal(t, int64(2), sumValue(t, reader, "pmsample.cache.desc.misses"))
	assert.Equal(t, int64(2), sumValue(t, reader, "pmsample.cache.unknown"))
	assert.Equal(t, int64(1), sumValue(t, reader, "pmsample.cache.unknown.hits"))
	assert.Equal(t, int64(1), sumValue(t, reader, "pmsample.cache.indom.lookups"))
}

func TestInstanceMap(t *testing.T) {
	client := newTestClient()
	cache := newTestCache(t, client, testConfig())
	ctx := context.Background()

	scalar, err := cache.InstanceMap(ctx, pmapi.InDomNull)
	require.NoError(t, err)
	name, ok := scalar.Name(pmapi.InNull)
	require.True(t, ok)
	assert.Equal(t, ScalarInstanceName, name)
	assert.Zero(t, client.CallCount("GetInDom"))

	disks, err := cache.InstanceMap(ctx, diskInDom)
	require.NoError(t, err)
	assert.Equal(t, []pmapi.Instance{{ID: 0, Name: "sda"}, {ID: 1, Name: "sdb"}},
		disks.Instances())
	again, err := cache.InstanceMap(ctx, diskInDom)
	require.NoError(t, err)
	assert.Same(t, disks, again)
	assert.Equal(t, 1, client.CallCount("GetInDom"))

	// A refresh replaces the table; holders of the old one keep it intact.
	client.SetInDom(diskInDom, pmapi.Instance{ID: 0, Name: "sda"},
		pmapi.Instance{ID: 2, Name: "sdc"})
	fresh, err := cache.RefreshInDom(ctx, diskInDom)
	require.NoError(t, err)
	assert.Equal(t, 2, client.CallCount("GetInDom"))
	assert.NotSame(t, disks, fresh)
	assert.Equal(t, 2, disks.Len())
	_, ok = disks.Name(2)
	assert.False(t, ok)
	name, ok = fresh.Name(2)
	require.True(t, ok)
	assert.Equal(t, "sdc", name)

	current, err := cache.InstanceMap(ctx, diskInDom)
	require.NoError(t, err)
	assert.Same(t, fresh, current)

	_, err = cache.InstanceMap(ctx, pmapi.InDom(12345))
	require.ErrorIs(t, err, pmapi.ErrUnknownInDom)
}

func TestNilInstanceMap(t *testing.T) {
	var m *InstanceMap
	_, ok := m.Name(0)
	assert.False(t, ok)
	assert.Zero(t, m.Len())
	assert.Nil(t, m.Instances())
	assert.Equal(t, "42", instanceName(m, 42))
}

func TestCheckMissing(t *testing.T) {
	client := newTestClient()
	cache := newTestCache(t, client, testConfig())

	missing, err := cache.CheckMissing(context.Background(),
		[]string{"disk.dev.read", "no.such.metric", "hinv.ncpu", "other.metric"})
	require.NoError(t, err)
	assert.Equal(t, []string{"no.such.metric", "other.metric"}, missing)
	assert.Equal(t, 1, client.CallCount("LookupNames"))

	// Checking does not populate the cache.
	_, ok := cache.Lookup("disk.dev.read")
	assert.False(t, ok)

	missing, err = cache.CheckMissing(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// batchRejectingClient fails lookups of more than one name, like a source
// that rejects a whole request when one name is unknown.
type batchRejectingClient struct {
	*pmapitest.Client
}

func (c *batchRejectingClient) LookupNames(ctx context.Context, names []string) (
	[]pmapi.PmID, error) {
	ids, err := c.Client.LookupNames(ctx, names)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if id == pmapi.PmIDNull {
			return nil, errors.New("unknown metric name")
		}
	}
	return ids, nil
}

func TestCheckMissingPerName(t *testing.T) {
	client := &batchRejectingClient{Client: newTestClient()}
	cache := newTestCache(t, client, testConfig())

	missing, err := cache.CheckMissing(context.Background(),
		[]string{"disk.dev.read", "no.such.metric", "hinv.ncpu"})
	require.NoError(t, err)
	assert.Equal(t, []string{"no.such.metric"}, missing)
	assert.Equal(t, 4, client.CallCount("LookupNames"))

	transport := errors.New("connection refused")
	cache = newTestCache(t, &failingClient{Client: newTestClient(), err: transport},
		testConfig())
	_, err = cache.CheckMissing(context.Background(), []string{"disk.dev.read"})
	require.ErrorIs(t, err, transport)
}
