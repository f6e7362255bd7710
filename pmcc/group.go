// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pmcc // import "github.com/pcpstat/pmsample/pmcc"

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pcpstat/pmsample/pmapi"
	"github.com/pcpstat/pmsample/selfmetrics"
)

// FetchOutcome classifies the result of MetricGroup.Fetch.
type FetchOutcome uint8

const (
	// FetchOK means every metric received a new snapshot.
	FetchOK FetchOutcome = iota
	// FetchStale means the snapshots were stored but at least one metric has
	// no previous snapshot yet. Fetching again resolves it.
	FetchStale
	// FetchNoData means a recorded source is exhausted. No metric changed.
	FetchNoData
	// FetchError means the fetch failed. No metric changed.
	FetchError
)

func (o FetchOutcome) String() string {
	switch o {
	case FetchOK:
		return "ok"
	case FetchStale:
		return "stale"
	case FetchNoData:
		return "nodata"
	case FetchError:
		return "error"
	}
	return fmt.Sprintf("FetchOutcome(%d)", uint8(o))
}

var outcomeIDs = [...]selfmetrics.MetricID{
	FetchOK:     selfmetrics.IDFetchOK,
	FetchStale:  selfmetrics.IDFetchStale,
	FetchNoData: selfmetrics.IDFetchNoData,
	FetchError:  selfmetrics.IDFetchError,
}

// MetricGroup is an ordered set of uniquely named metrics that are fetched
// together in one round trip.
type MetricGroup struct {
	name  string
	cache *MetricCache
	cfg   Config
	rec   *selfmetrics.Recorder
	attr  attribute.KeyValue

	metrics []*Metric
	byName  map[string]*Metric
	// ids holds every PmID once, in the order of first appearance.
	ids  []pmapi.PmID
	byID map[pmapi.PmID][]*Metric

	missing []string

	timestamp, prevTimestamp time.Time
	fetches                  int
}

// NewMetricGroup creates an empty group. Groups are usually created through
// GroupManager.Create which shares one cache between them.
func NewMetricGroup(name string, cache *MetricCache, cfg Config) *MetricGroup {
	cfg = cfg.withDefaults()
	return &MetricGroup{
		name:   name,
		cache:  cache,
		cfg:    cfg,
		rec:    selfmetrics.New(cfg.MeterProvider),
		attr:   attribute.String("group", name),
		byName: make(map[string]*Metric),
		byID:   make(map[pmapi.PmID][]*Metric),
	}
}

// Name returns the name the group was created with.
func (g *MetricGroup) Name() string { return g.name }

// Len returns the number of metrics in the group.
func (g *MetricGroup) Len() int { return len(g.metrics) }

// Metrics returns the metrics in the order they were added.
func (g *MetricGroup) Metrics() []*Metric {
	return append([]*Metric(nil), g.metrics...)
}

// Metric returns the metric with the given name.
func (g *MetricGroup) Metric(name string) (*Metric, bool) {
	m, ok := g.byName[name]
	return m, ok
}

// Missing returns the names that were skipped by Add because the source
// could not resolve them.
func (g *MetricGroup) Missing() []string {
	return append([]string(nil), g.missing...)
}

// Timestamp returns the time of the latest successful fetch.
func (g *MetricGroup) Timestamp() time.Time { return g.timestamp }

// PrevTimestamp returns the time of the fetch before the latest one.
func (g *MetricGroup) PrevTimestamp() time.Time { return g.prevTimestamp }

// Delta returns the time between the last two successful fetches, or zero if
// there were fewer than two.
func (g *MetricGroup) Delta() time.Duration {
	if g.fetches < 2 {
		return 0
	}
	return g.timestamp.Sub(g.prevTimestamp)
}

// Fetches returns the number of successful fetches.
func (g *MetricGroup) Fetches() int { return g.fetches }

// HasNonCounters reports whether any metric of the group is instantaneous or
// discrete.
func (g *MetricGroup) HasNonCounters() bool {
	for _, m := range g.metrics {
		if !m.core.IsCounter() {
			return true
		}
	}
	return false
}

// Add resolves names and appends them to the group. Names already in the
// group are skipped. Resolvable names are appended even if others fail; the
// failing names are returned in an UnknownMetricError unless the group was
// configured to ignore them.
func (g *MetricGroup) Add(ctx context.Context, names ...string) error {
	cores, unknown, err := g.cache.Resolve(ctx, names)
	if err != nil {
		return fmt.Errorf("group %s: %w", g.name, err)
	}

	for _, core := range cores {
		if _, dup := g.byName[core.Name]; dup {
			continue
		}
		m := newMetric(core, &g.cfg, g.rec)
		g.metrics = append(g.metrics, m)
		g.byName[core.Name] = m
		if _, seen := g.byID[core.PmID]; !seen {
			g.ids = append(g.ids, core.PmID)
		}
		g.byID[core.PmID] = append(g.byID[core.PmID], m)
	}

	if len(unknown) == 0 {
		return nil
	}
	if g.cfg.IgnoreUnknown {
		log.Warnf("Group %s: skipping unknown metrics %v", g.name, unknown)
		g.missing = append(g.missing, unknown...)
		return nil
	}
	return &UnknownMetricError{Names: unknown}
}

// Fetch retrieves new values for every metric of the group in one round trip.
// Either every metric receives a new snapshot or none does.
func (g *MetricGroup) Fetch(ctx context.Context) (outcome FetchOutcome, err error) {
	defer func() {
		g.rec.Add(ctx, outcomeIDs[outcome], 1, g.attr)
	}()

	if len(g.metrics) == 0 {
		return FetchOK, nil
	}

	res, err := g.cache.Client().Fetch(ctx, g.ids)
	if errors.Is(err, pmapi.ErrEndOfData) {
		log.Debugf("Group %s: end of data", g.name)
		return FetchNoData, nil
	}
	if err != nil {
		var te *pmapi.TransportError
		if !errors.As(err, &te) {
			err = &pmapi.TransportError{Op: "fetch", Err: err}
		}
		return FetchError, fmt.Errorf("group %s: %w", g.name, err)
	}

	staged, err := g.stage(res)
	if err != nil {
		return FetchError, fmt.Errorf("group %s: %w", g.name, err)
	}

	for id, snap := range g.capture(ctx, res.Timestamp, staged) {
		for _, m := range g.byID[id] {
			m.push(snap)
		}
	}
	g.prevTimestamp, g.timestamp = g.timestamp, res.Timestamp
	g.fetches++

	for _, m := range g.metrics {
		if !m.BaselineReady() {
			return FetchStale, nil
		}
	}
	return FetchOK, nil
}

// stagedSet holds the parsed values of one PmID before instance names are
// attached.
type stagedSet struct {
	indom  pmapi.InDom
	values map[int32]pmapi.Atom
}

// stage parses res into one value set per PmID of the group. It touches
// neither the metrics nor the instance domain cache, so a malformed result
// leaves all state as it was.
func (g *MetricGroup) stage(res *pmapi.Result) (map[pmapi.PmID]stagedSet, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: empty result", ErrMalformedResult)
	}

	staged := make(map[pmapi.PmID]stagedSet, len(g.ids))
	for i := range res.ValueSets {
		vs := &res.ValueSets[i]
		metrics, ok := g.byID[vs.PmID]
		if !ok {
			log.Debugf("Group %s: ignoring values of unrequested metric %v",
				g.name, vs.PmID)
			continue
		}
		if _, dup := staged[vs.PmID]; dup {
			return nil, fmt.Errorf("%w: metric %v returned twice",
				ErrMalformedResult, vs.PmID)
		}
		desc := metrics[0].core.Desc

		values := make(map[int32]pmapi.Atom, len(vs.Values))
		if vs.Err != nil {
			log.Debugf("Group %s: no values for %s: %v", g.name,
				metrics[0].core.Name, vs.Err)
		} else {
			for _, iv := range vs.Values {
				if _, dup := values[iv.Inst]; dup {
					return nil, fmt.Errorf("%w: metric %v: instance %d returned twice",
						ErrMalformedResult, vs.PmID, iv.Inst)
				}
				if iv.Value.Type() != desc.Type {
					return nil, fmt.Errorf("%w: metric %v: value of type %v, want %v",
						ErrMalformedResult, vs.PmID, iv.Value.Type(), desc.Type)
				}
				if desc.InDom == pmapi.InDomNull && iv.Inst != pmapi.InNull {
					return nil, fmt.Errorf("%w: metric %v: instance %d for a scalar metric",
						ErrMalformedResult, vs.PmID, iv.Inst)
				}
				values[iv.Inst] = iv.Value
			}
		}
		staged[vs.PmID] = stagedSet{indom: desc.InDom, values: values}
	}

	for _, id := range g.ids {
		if _, ok := staged[id]; !ok {
			staged[id] = stagedSet{
				indom:  g.byID[id][0].core.Desc.InDom,
				values: map[int32]pmapi.Atom{},
			}
		}
	}
	return staged, nil
}

// capture turns staged value sets into snapshots, attaching the instance
// table of each domain. It runs only once the whole result parsed.
func (g *MetricGroup) capture(ctx context.Context, ts time.Time,
	staged map[pmapi.PmID]stagedSet) map[pmapi.PmID]*Snapshot {
	snaps := make(map[pmapi.PmID]*Snapshot, len(staged))
	refreshed := make(map[pmapi.InDom]bool)
	for _, id := range g.ids {
		set := staged[id]
		instances := g.instances(ctx, set.indom, set.values, refreshed)
		snaps[id] = newSnapshot(ts, set.values, instances)
	}
	return snaps
}

// instances returns the instance table to capture with a new snapshot. A table
// that lacks some of the fetched instances is enumerated again, at most once
// per fetch. Lookup failures are logged; the instance ids are reported instead
// of names then.
func (g *MetricGroup) instances(ctx context.Context, indom pmapi.InDom,
	values map[int32]pmapi.Atom, refreshed map[pmapi.InDom]bool) *InstanceMap {
	m, err := g.cache.InstanceMap(ctx, indom)
	if err != nil {
		log.Warnf("Group %s: %v", g.name, err)
		return nil
	}
	if refreshed[indom] {
		return m
	}
	for inst := range values {
		if _, ok := m.Name(inst); ok {
			continue
		}
		refreshed[indom] = true
		fresh, err := g.cache.RefreshInDom(ctx, indom)
		if err != nil {
			log.Warnf("Group %s: %v", g.name, err)
			return m
		}
		return fresh
	}
	return m
}
