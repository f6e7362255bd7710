// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pmcc // import "github.com/pcpstat/pmsample/pmcc"

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/pcpstat/pmsample/internal/lrucache"
	"github.com/pcpstat/pmsample/internal/xsync"
	"github.com/pcpstat/pmsample/pmapi"
	"github.com/pcpstat/pmsample/selfmetrics"
)

// MetricCore is the immutable metadata of a metric. It is shared read-only by
// every Metric created for the same name.
type MetricCore struct {
	Name string
	PmID pmapi.PmID
	Desc pmapi.Desc
}

// IsCounter reports whether values of the metric need rate conversion.
func (c *MetricCore) IsCounter() bool {
	return c.Desc.Sem == pmapi.SemCounter
}

type cacheState struct {
	byName map[string]*MetricCore
	// Several names may alias one PmID, they share the descriptor.
	byPmID map[pmapi.PmID]pmapi.Desc
	indoms map[pmapi.InDom]*InstanceMap
}

// MetricCache memoizes metric cores and instance domains of one source so that
// repeated lookups cost no round trip. It is safe for concurrent use; entries
// are only ever inserted if absent or replaced wholesale.
type MetricCache struct {
	client pmapi.Client
	state  xsync.RWMutex[cacheState]
	flight singleflight.Group
	rec    *selfmetrics.Recorder

	// unknown remembers unresolvable names for a while. May be nil.
	unknown *lrucache.LRU[string, struct{}]
}

// NewMetricCache creates an empty cache in front of client.
func NewMetricCache(client pmapi.Client, cfg Config) (*MetricCache, error) {
	cfg = cfg.withDefaults()
	c := &MetricCache{
		client: client,
		state: xsync.NewRWMutex(cacheState{
			byName: make(map[string]*MetricCore),
			byPmID: make(map[pmapi.PmID]pmapi.Desc),
			indoms: make(map[pmapi.InDom]*InstanceMap),
		}),
		rec: selfmetrics.New(cfg.MeterProvider),
	}
	if cfg.UnknownNameLifetime > 0 {
		unknown, err := lrucache.NewStrings[struct{}](cfg.UnknownNameCacheSize,
			cfg.UnknownNameLifetime)
		if err != nil {
			return nil, fmt.Errorf("failed to create unknown name cache: %w", err)
		}
		c.unknown = unknown
	}
	return c, nil
}

// Client returns the source behind the cache.
func (c *MetricCache) Client() pmapi.Client {
	return c.client
}

// Resolve returns the cores of the given names in input order. Names that the
// source cannot resolve are returned in unknown and do not prevent the other
// names from resolving. err is only set for failed round trips.
func (c *MetricCache) Resolve(ctx context.Context, names []string) (
	cores []*MetricCore, unknown []string, err error) {
	found := make(map[string]*MetricCore, len(names))
	var misses []string

	st := c.state.RLock()
	for _, name := range names {
		if _, seen := found[name]; seen {
			continue
		}
		if core, ok := st.byName[name]; ok {
			found[name] = core
			continue
		}
		found[name] = nil
		misses = append(misses, name)
	}
	c.state.RUnlock(&st)

	c.rec.Add(ctx, selfmetrics.IDDescCacheHit, int64(len(found)-len(misses)))

	failed := make(map[string]bool)
	if c.unknown != nil {
		remaining := misses[:0]
		for _, name := range misses {
			if _, ok := c.unknown.Get(name); ok {
				failed[name] = true
				continue
			}
			remaining = append(remaining, name)
		}
		misses = remaining
		c.rec.Add(ctx, selfmetrics.IDUnknownNameCacheHit,
			int64(c.unknown.GetAndResetStatistics().Hit))
	}

	if len(misses) > 0 {
		c.rec.Add(ctx, selfmetrics.IDDescCacheMiss, int64(len(misses)))
		created, err := c.createCores(ctx, misses)
		if err != nil {
			return nil, nil, err
		}
		for _, name := range misses {
			if core := created[name]; core != nil {
				found[name] = core
			} else {
				failed[name] = true
			}
		}
	}

	emitted := make(map[string]bool, len(names))
	for _, name := range names {
		if emitted[name] {
			continue
		}
		emitted[name] = true
		if failed[name] {
			unknown = append(unknown, name)
			continue
		}
		cores = append(cores, found[name])
	}
	c.rec.Add(ctx, selfmetrics.IDUnknownNames, int64(len(unknown)))
	return cores, unknown, nil
}

// createCores resolves names in a single round trip and inserts the new cores.
// Names missing from the returned map are unknown to the source.
func (c *MetricCache) createCores(ctx context.Context, names []string) (
	map[string]*MetricCore, error) {
	ids, err := c.client.LookupNames(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("resolving metric names: %w", err)
	}
	if len(ids) != len(names) {
		return nil, fmt.Errorf("resolving metric names: got %d ids for %d names",
			len(ids), len(names))
	}

	created := make(map[string]*MetricCore, len(names))
	for i, name := range names {
		if ids[i] == pmapi.PmIDNull {
			log.Debugf("Metric %s is unknown to the source", name)
			if c.unknown != nil {
				c.unknown.Add(name, struct{}{})
			}
			continue
		}
		desc, err := c.lookupDesc(ctx, ids[i])
		if err != nil {
			var te *pmapi.TransportError
			if errors.As(err, &te) || ctx.Err() != nil {
				return nil, err
			}
			log.Warnf("Ignoring metric %s: %v", name, err)
			continue
		}
		if err := validateDesc(desc); err != nil {
			log.Warnf("Ignoring metric %s: %v", name, err)
			continue
		}

		// Warm the instance domain cache. A failure here is not fatal: the
		// enumeration is retried when the metric is fetched.
		if _, err := c.InstanceMap(ctx, desc.InDom); err != nil {
			log.Warnf("Metric %s: %v", name, err)
		}
		created[name] = &MetricCore{Name: name, PmID: ids[i], Desc: desc}
	}

	st := c.state.WLock()
	defer c.state.WUnlock(&st)
	for name, core := range created {
		if existing, ok := st.byName[name]; ok {
			created[name] = existing
			continue
		}
		st.byName[name] = core
	}
	return created, nil
}

func (c *MetricCache) lookupDesc(ctx context.Context, id pmapi.PmID) (pmapi.Desc, error) {
	st := c.state.RLock()
	desc, ok := st.byPmID[id]
	c.state.RUnlock(&st)
	if ok {
		return desc, nil
	}

	v, err, _ := c.flight.Do("desc:"+strconv.FormatUint(uint64(id), 10),
		func() (any, error) {
			// An earlier flight may have finished since the check above.
			st := c.state.RLock()
			desc, ok := st.byPmID[id]
			c.state.RUnlock(&st)
			if ok {
				return desc, nil
			}

			desc, err := c.client.LookupDesc(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("looking up descriptor of %v: %w", id, err)
			}
			desc.PmID = id

			st = c.state.WLock()
			defer c.state.WUnlock(&st)
			if existing, ok := st.byPmID[id]; ok {
				return existing, nil
			}
			st.byPmID[id] = desc
			return desc, nil
		})
	if err != nil {
		return pmapi.Desc{}, err
	}
	return v.(pmapi.Desc), nil
}

func validateDesc(desc pmapi.Desc) error {
	switch desc.Sem {
	case pmapi.SemCounter, pmapi.SemInstant, pmapi.SemDiscrete:
	default:
		return fmt.Errorf("unsupported semantics %v", desc.Sem)
	}
	if desc.Type > pmapi.TypeDouble {
		return fmt.Errorf("unsupported type %v", desc.Type)
	}
	return nil
}

// Lookup returns the cached core of name without contacting the source.
func (c *MetricCache) Lookup(name string) (*MetricCore, bool) {
	st := c.state.RLock()
	defer c.state.RUnlock(&st)
	core, ok := st.byName[name]
	return core, ok
}

// CheckMissing returns the names the source cannot resolve. Unlike Resolve it
// always asks the source and leaves the cache untouched. All names are looked
// up in one round trip; if the source rejects the batch, every name is looked
// up on its own and the ones failing are reported.
func (c *MetricCache) CheckMissing(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var missing []string
	ids, err := c.client.LookupNames(ctx, names)
	if err == nil && len(ids) == len(names) {
		for i, name := range names {
			if ids[i] == pmapi.PmIDNull {
				missing = append(missing, name)
			}
		}
		return missing, nil
	}

	var errs []error
	for _, name := range names {
		ids, err := c.client.LookupNames(ctx, []string{name})
		if err != nil {
			errs = append(errs, err)
		}
		if err != nil || len(ids) != 1 || ids[0] == pmapi.PmIDNull {
			missing = append(missing, name)
		}
	}
	if len(errs) == len(names) {
		return nil, fmt.Errorf("resolving metric names: %w", errors.Join(errs...))
	}
	return missing, nil
}
