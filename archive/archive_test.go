// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/pcpstat/pmsample/pmapi"
	"github.com/pcpstat/pmsample/pmapi/pmapitest"
	"github.com/pcpstat/pmsample/pmcc"
)

var (
	idDiskRead = pmapi.NewPmID(60, 0, 4)
	idNProcs   = pmapi.NewPmID(60, 2, 3)
	diskInDom  = pmapi.NewInDom(60, 1)

	diskReadDesc = pmapi.Desc{
		PmID:  idDiskRead,
		Type:  pmapi.TypeUint64,
		Sem:   pmapi.SemCounter,
		Units: pmapi.Units{DimCount: 1},
		InDom: diskInDom,
	}
	nprocsDesc = pmapi.Desc{
		PmID:  idNProcs,
		Type:  pmapi.TypeUint32,
		Sem:   pmapi.SemInstant,
		Units: pmapi.Units{DimCount: 1},
		InDom: pmapi.InDomNull,
	}

	sda = pmapi.Instance{ID: 0, Name: "sda"}
	sdb = pmapi.Instance{ID: 1, Name: "sdb"}
)

func testHeader() Header {
	return NewHeader("testhost", time.Unix(0, 0), []MetricRecord{
		NewMetricRecord("disk.dev.read", diskReadDesc),
		NewMetricRecord("kernel.all.nprocs", nprocsDesc),
	})
}

func u64(v uint64) pmapi.Atom { return pmapi.Uint64Atom(v) }

func u32(v uint32) pmapi.Atom { return pmapi.AtomOf(pmapi.TypeUint32, v) }

// lines decompresses an archive and returns its JSON lines.
func lines(t *testing.T, data []byte) []string {
	t.Helper()
	dec, err := zstd.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer dec.Close()

	var out []string
	scanner := bufio.NewScanner(dec)
	for scanner.Scan() {
		out = append(out, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return out
}

func writeTestArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, testHeader())
	require.NoError(t, err)

	require.NoError(t, w.WriteInDom(diskInDom, time.Unix(1, 0), []pmapi.Instance{sda}))
	require.NoError(t, w.Append(pmapitest.Sample(1,
		pmapitest.Values(idDiskRead, 0, u64(100)),
		pmapitest.Values(idNProcs, pmapi.InNull, u32(300)))))

	// Unchanged members are not written again.
	require.NoError(t, w.WriteInDom(diskInDom, time.Unix(2, 0), []pmapi.Instance{sda}))
	require.NoError(t, w.WriteInDom(diskInDom, time.Unix(2, 0), []pmapi.Instance{sdb, sda}))
	require.NoError(t, w.Append(pmapitest.Sample(2,
		pmapitest.Values(idDiskRead, 0, u64(150), 1, u64(10)),
		pmapi.ValueSet{PmID: idNProcs, Err: errors.New("no permission")})))

	// The disk set is missing from the last sample.
	require.NoError(t, w.Append(pmapitest.Sample(3,
		pmapitest.Values(idNProcs, pmapi.InNull, u32(310)))))
	assert.Equal(t, 3, w.Len())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestWriterFormat(t *testing.T) {
	data := writeTestArchive(t)
	out := lines(t, data)
	// header, two instance domains, three samples
	require.Len(t, out, 6)
	assert.Contains(t, out[0], `"magic":"pmsample-archive"`)
	assert.Contains(t, out[1], `"indom"`)
	assert.Contains(t, out[2], `"sample"`)
	assert.Contains(t, out[3], `"indom"`)
	assert.Contains(t, out[3], `"sdb"`)
}

func TestReplay(t *testing.T) {
	a, err := Open(bytes.NewReader(writeTestArchive(t)))
	require.NoError(t, err)
	ctx := context.Background()

	hdr := a.Header()
	assert.Equal(t, "testhost", hdr.Host)
	assert.Equal(t, 3, a.Len())
	assert.Equal(t, []string{"disk.dev.read", "kernel.all.nprocs"}, a.Names())

	ids, err := a.LookupNames(ctx, []string{"kernel.all.nprocs", "nope"})
	require.NoError(t, err)
	assert.Equal(t, []pmapi.PmID{idNProcs, pmapi.PmIDNull}, ids)

	desc, err := a.LookupDesc(ctx, idDiskRead)
	require.NoError(t, err)
	assert.Equal(t, diskReadDesc, desc)
	_, err = a.LookupDesc(ctx, pmapi.PmID(7))
	require.ErrorIs(t, err, pmapi.ErrUnknownPmID)

	instances, err := a.GetInDom(ctx, diskInDom)
	require.NoError(t, err)
	assert.Equal(t, []pmapi.Instance{sda, sdb}, instances)
	_, err = a.GetInDom(ctx, pmapi.NewInDom(60, 9))
	require.ErrorIs(t, err, pmapi.ErrUnknownInDom)

	// Only the requested metrics are returned, in request order.
	res, err := a.Fetch(ctx, []pmapi.PmID{idNProcs, idDiskRead, pmapi.PmID(7)})
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1, 0).UTC(), res.Timestamp.UTC())
	require.Len(t, res.ValueSets, 3)
	assert.Equal(t, pmapitest.Values(idNProcs, pmapi.InNull, u32(300)), res.ValueSets[0])
	assert.Equal(t, pmapitest.Values(idDiskRead, 0, u64(100)), res.ValueSets[1])
	require.ErrorIs(t, res.ValueSets[2].Err, pmapi.ErrUnknownPmID)

	res, err = a.Fetch(ctx, []pmapi.PmID{idDiskRead, idNProcs})
	require.NoError(t, err)
	assert.Equal(t, pmapitest.Values(idDiskRead, 0, u64(150), 1, u64(10)), res.ValueSets[0])
	require.EqualError(t, res.ValueSets[1].Err, "no permission")

	res, err = a.Fetch(ctx, []pmapi.PmID{idDiskRead})
	require.NoError(t, err)
	require.NoError(t, res.ValueSets[0].Err)
	assert.Empty(t, res.ValueSets[0].Values)

	_, err = a.Fetch(ctx, []pmapi.PmID{idDiskRead})
	require.ErrorIs(t, err, pmapi.ErrEndOfData)

	a.Rewind()
	res, err = a.Fetch(ctx, []pmapi.PmID{idDiskRead})
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1, 0).UTC(), res.Timestamp.UTC())

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = a.Fetch(canceled, []pmapi.PmID{idDiskRead})
	var te *pmapi.TransportError
	require.ErrorAs(t, err, &te)
}

func TestWriterRejects(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, testHeader())
	require.NoError(t, err)

	err = w.Append(pmapitest.Sample(1, pmapitest.Values(pmapi.PmID(7), 0, u64(1))))
	require.ErrorContains(t, err, "not part of the archive")

	err = w.Append(pmapitest.Sample(1, pmapitest.Values(idDiskRead, 0, pmapi.Int64Atom(1))))
	require.ErrorContains(t, err, "expected u64")

	require.Error(t, w.Append(nil))

	require.NoError(t, w.Append(pmapitest.Sample(5)))
	require.ErrorContains(t, w.Append(pmapitest.Sample(4)), "precedes")

	require.NoError(t, w.Close())
	require.Error(t, w.Append(pmapitest.Sample(6)))
	require.Error(t, w.WriteInDom(diskInDom, time.Unix(6, 0), nil))
}

func TestBadArchives(t *testing.T) {
	tests := map[string]func(*Header){
		"magic":     func(h *Header) { h.Magic = "pcp" },
		"version":   func(h *Header) { h.Version = 2 },
		"type":      func(h *Header) { h.Metrics[0].Type = "string" },
		"semantics": func(h *Header) { h.Metrics[0].Sem = "gauge" },
		"duplicate": func(h *Header) { h.Metrics[1].Name = h.Metrics[0].Name },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			hdr := testHeader()
			mutate(&hdr)
			_, err := NewWriter(&bytes.Buffer{}, hdr)
			require.ErrorIs(t, err, ErrBadArchive)
		})
	}

	_, err := Open(bytes.NewReader([]byte("plain text")))
	require.Error(t, err)

	// A truncated stream fails instead of returning a partial archive.
	data := writeTestArchive(t)
	_, err = Open(bytes.NewReader(data[:len(data)/2]))
	require.Error(t, err)
}

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenFile(filepath.Join(dir, "missing.pmz"))
	require.ErrorIs(t, err, ErrNotFound)

	path := filepath.Join(dir, "disk.pmz")
	require.NoError(t, os.WriteFile(path, writeTestArchive(t), 0o600))
	a, err := OpenFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Len())
}

// growingClient adds sdb to the disk domain after the first fetch.
type growingClient struct {
	*pmapitest.Client
	fetches int
}

func (c *growingClient) Fetch(ctx context.Context, ids []pmapi.PmID) (*pmapi.Result, error) {
	c.fetches++
	if c.fetches == 2 {
		c.SetInDom(diskInDom, sda, sdb)
	}
	return c.Client.Fetch(ctx, ids)
}

func newRecordClient() *growingClient {
	c := pmapitest.New()
	c.AddMetric("disk.dev.read", diskReadDesc)
	c.AddMetric("kernel.all.nprocs", nprocsDesc)
	c.SetInDom(diskInDom, sda)
	c.PushResult(pmapitest.Sample(1,
		pmapitest.Values(idDiskRead, 0, u64(100)),
		pmapitest.Values(idNProcs, pmapi.InNull, u32(300))))
	c.PushResult(pmapitest.Sample(2,
		pmapitest.Values(idDiskRead, 0, u64(150), 1, u64(10)),
		pmapitest.Values(idNProcs, pmapi.InNull, u32(301))))
	c.PushResult(pmapitest.Sample(3,
		pmapitest.Values(idDiskRead, 0, u64(170), 1, u64(30)),
		pmapitest.Values(idNProcs, pmapi.InNull, u32(299))))
	return &growingClient{Client: c}
}

func TestRecordAndReplay(t *testing.T) {
	client := newRecordClient()
	var buf bytes.Buffer
	n, err := Record(context.Background(), client, &buf,
		[]string{"disk.dev.read", "kernel.all.nprocs"},
		RecordOptions{Host: "recorded", MeterProvider: noop.NewMeterProvider()})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	// Initial enumeration plus one refresh for the new disk.
	assert.Equal(t, 2, client.CallCount("GetInDom"))

	a, err := Open(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "recorded", a.Header().Host)
	instances, err := a.GetInDom(context.Background(), diskInDom)
	require.NoError(t, err)
	assert.Equal(t, []pmapi.Instance{sda, sdb}, instances)

	gm, err := pmcc.NewGroupManager(a, pmcc.Config{
		Archive:       true,
		MeterProvider: noop.NewMeterProvider(),
	})
	require.NoError(t, err)
	g, err := gm.Create(context.Background(), "disk", "disk.dev.read", "kernel.all.nprocs")
	require.NoError(t, err)

	outcome, err := g.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pmcc.FetchStale, outcome)
	outcome, err = g.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pmcc.FetchOK, outcome)

	read, _ := g.Metric("disk.dev.read")
	values, ok, err := read.NetValues()
	require.NoError(t, err)
	require.True(t, ok)
	// sdb has no baseline yet and is reported raw.
	assert.Equal(t, map[string]float64{"sda": 50, "sdb": 10}, values.Map())

	outcome, err = g.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pmcc.FetchOK, outcome)
	values, ok, err = read.NetValues()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]float64{"sda": 20, "sdb": 20}, values.Map())

	outcome, err = g.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pmcc.FetchNoData, outcome)
}

func TestRecordSampleLimit(t *testing.T) {
	var buf bytes.Buffer
	n, err := Record(context.Background(), newRecordClient(), &buf,
		[]string{"kernel.all.nprocs"},
		RecordOptions{Host: "h", Samples: 2, MeterProvider: noop.NewMeterProvider()})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	a, err := Open(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, a.Len())
	_, err = a.GetInDom(context.Background(), diskInDom)
	require.ErrorIs(t, err, pmapi.ErrUnknownInDom)
}

func TestRecordUnknown(t *testing.T) {
	names := []string{"kernel.all.nprocs", "no.such.metric"}
	opts := RecordOptions{Host: "h", Samples: 1, MeterProvider: noop.NewMeterProvider()}

	_, err := Record(context.Background(), newRecordClient(), &bytes.Buffer{}, names, opts)
	require.ErrorIs(t, err, pmcc.ErrUnknownMetric)

	opts.IgnoreUnknown = true
	var buf bytes.Buffer
	n, err := Record(context.Background(), newRecordClient(), &buf, names, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	a, err := Open(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []string{"kernel.all.nprocs"}, a.Names())

	_, err = Record(context.Background(), newRecordClient(), &bytes.Buffer{},
		[]string{"no.such.metric"}, opts)
	require.ErrorContains(t, err, "no metrics")
}

func TestRecordFetchError(t *testing.T) {
	client := pmapitest.New()
	client.AddMetric("kernel.all.nprocs", nprocsDesc)
	client.PushResult(pmapitest.Sample(1, pmapitest.Values(idNProcs, pmapi.InNull, u32(1))))
	client.PushError(errors.New("connection reset"))

	var buf bytes.Buffer
	n, err := Record(context.Background(), client, &buf, []string{"kernel.all.nprocs"},
		RecordOptions{Host: "h", MeterProvider: noop.NewMeterProvider()})
	require.ErrorContains(t, err, "connection reset")
	assert.Equal(t, 1, n)

	// The samples written before the failure are readable.
	a, err := Open(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 1, a.Len())
}

func TestRecordCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := pmapitest.New()
	client.AddMetric("kernel.all.nprocs", nprocsDesc)
	for i := range 100 {
		client.PushResult(pmapitest.Sample(float64(i),
			pmapitest.Values(idNProcs, pmapi.InNull, u32(1))))
	}
	cancelling := &cancelingClient{Client: client, cancel: cancel, after: 3}

	var buf bytes.Buffer
	n, err := Record(ctx, cancelling, &buf, []string{"kernel.all.nprocs"},
		RecordOptions{Host: "h", MeterProvider: noop.NewMeterProvider()})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

type cancelingClient struct {
	*pmapitest.Client
	cancel  context.CancelFunc
	after   int
	fetches int
}

func (c *cancelingClient) Fetch(ctx context.Context, ids []pmapi.PmID) (*pmapi.Result, error) {
	c.fetches++
	if c.fetches == c.after {
		c.cancel()
	}
	return c.Client.Fetch(ctx, ids)
}
