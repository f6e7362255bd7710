// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pmcc // import "github.com/pcpstat/pmsample/pmcc"

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/pcpstat/pmsample/pmapi"
	"github.com/pcpstat/pmsample/selfmetrics"
)

// GroupResult is the outcome of fetching one group.
type GroupResult struct {
	Outcome FetchOutcome
	Err     error
}

// GroupManager is a registry of named metric groups sharing one source and
// one metric cache.
type GroupManager struct {
	cfg   Config
	cache *MetricCache
	rec   *selfmetrics.Recorder

	order  []*MetricGroup
	groups map[string]*MetricGroup

	// counter counts the iterations of Run.
	counter int
}

// NewGroupManager creates a manager that fetches from client.
func NewGroupManager(client pmapi.Client, cfg Config) (*GroupManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	cache, err := NewMetricCache(client, cfg)
	if err != nil {
		return nil, err
	}
	return &GroupManager{
		cfg:    cfg,
		cache:  cache,
		rec:    selfmetrics.New(cfg.MeterProvider),
		groups: make(map[string]*MetricGroup),
	}, nil
}

// Cache returns the metric cache shared by all groups.
func (gm *GroupManager) Cache() *MetricCache { return gm.cache }

// Config returns the configuration with defaults applied.
func (gm *GroupManager) Config() Config { return gm.cfg }

// Counter returns the number of completed Run iterations.
func (gm *GroupManager) Counter() int { return gm.counter }

// Create registers a new group and adds names to it. If some names are
// unknown the group is still registered with the resolvable ones and the
// UnknownMetricError is returned alongside it.
func (gm *GroupManager) Create(ctx context.Context, name string, names ...string) (
	*MetricGroup, error) {
	if _, exists := gm.groups[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateGroup, name)
	}

	g := NewMetricGroup(name, gm.cache, gm.cfg)
	err := g.Add(ctx, names...)
	if err != nil && !errors.Is(err, ErrUnknownMetric) {
		return nil, err
	}

	gm.order = append(gm.order, g)
	gm.groups[name] = g
	gm.rec.Record(ctx, selfmetrics.IDGroups, int64(len(gm.order)))
	return g, err
}

// Get returns the group registered under name.
func (gm *GroupManager) Get(name string) (*MetricGroup, bool) {
	g, ok := gm.groups[name]
	return g, ok
}

// Groups returns all groups in creation order.
func (gm *GroupManager) Groups() []*MetricGroup {
	return append([]*MetricGroup(nil), gm.order...)
}

// Len returns the total number of metrics in all groups.
func (gm *GroupManager) Len() int {
	n := 0
	for _, g := range gm.order {
		n += g.Len()
	}
	return n
}

// HasNonCounters reports whether any metric of any group is instantaneous or
// discrete.
func (gm *GroupManager) HasNonCounters() bool {
	for _, g := range gm.order {
		if g.HasNonCounters() {
			return true
		}
	}
	return false
}

// FetchAll fetches every group once, in creation order. A failing group does
// not keep the following groups from being fetched.
func (gm *GroupManager) FetchAll(ctx context.Context) map[string]GroupResult {
	results := make(map[string]GroupResult, len(gm.order))
	for _, g := range gm.order {
		outcome, err := g.Fetch(ctx)
		if err != nil {
			log.Errorf("Failed to fetch group %s: %v", g.name, err)
		}
		results[g.name] = GroupResult{Outcome: outcome, Err: err}
	}
	return results
}

// CheckMissingMetrics returns the names the source cannot resolve. It is meant
// to be called before groups are created, e.g. to validate a list of names
// against an archive.
func (gm *GroupManager) CheckMissingMetrics(ctx context.Context, names []string) (
	[]string, error) {
	return gm.cache.CheckMissing(ctx, names)
}
