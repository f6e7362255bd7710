// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package localsource implements pmapi.Client on top of the metrics of the
// local host, as reported by gopsutil.
package localsource // import "github.com/pcpstat/pmsample/localsource"

import (
	"bytes"
	"cmp"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pcpstat/pmsample/pmapi"
)

// Domain is the domain number of every metric and instance domain served
// by the local source.
const Domain = 60

// Instance domains.
var (
	InDomCPU     = pmapi.NewInDom(Domain, 0)
	InDomDisk    = pmapi.NewInDom(Domain, 1)
	InDomNetIf   = pmapi.NewInDom(Domain, 3)
	InDomLoadAvg = pmapi.NewInDom(Domain, 2)
)

var indomNames = map[string]pmapi.InDom{
	"":        pmapi.InDomNull,
	"cpu":     InDomCPU,
	"disk":    InDomDisk,
	"netif":   InDomNetIf,
	"loadavg": InDomLoadAvg,
}

//go:embed metrics.json
var metricsJSON []byte

// definition is one entry of metrics.json.
type definition struct {
	Name    string      `json:"name"`
	Cluster uint32      `json:"cluster"`
	Item    uint32      `json:"item"`
	Type    string      `json:"type"`
	Sem     string      `json:"sem"`
	Units   pmapi.Units `json:"units"`
	InDom   string      `json:"indom"`
	Help    string      `json:"help"`
}

// metricInfo is a parsed definition.
type metricInfo struct {
	name string
	desc pmapi.Desc
	help string
	// subsystem names the gopsutil call providing the values.
	subsystem subsystem
}

func loadDefinitions() []metricInfo {
	var defs []definition
	dec := json.NewDecoder(bytes.NewReader(metricsJSON))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&defs); err != nil {
		panic(fmt.Sprintf("extracting definitions from metrics.json: %v", err))
	}

	infos := make([]metricInfo, 0, len(defs))
	for _, d := range defs {
		typ, err := pmapi.ParseType(d.Type)
		if err != nil {
			panic(fmt.Sprintf("metric %s: %v", d.Name, err))
		}
		sem, err := pmapi.ParseSemantics(d.Sem)
		if err != nil {
			panic(fmt.Sprintf("metric %s: %v", d.Name, err))
		}
		indom, ok := indomNames[d.InDom]
		if !ok {
			panic(fmt.Sprintf("metric %s: unknown instance domain %q", d.Name, d.InDom))
		}
		sub, ok := extractors[d.Name]
		if !ok {
			panic(fmt.Sprintf("metric %s: no extractor", d.Name))
		}
		infos = append(infos, metricInfo{
			name: d.Name,
			desc: pmapi.Desc{
				PmID:  pmapi.NewPmID(Domain, d.Cluster, d.Item),
				Type:  typ,
				Sem:   sem,
				Units: d.Units,
				InDom: indom,
			},
			help:      d.Help,
			subsystem: sub.subsystem,
		})
	}
	return infos
}

// Source serves the metrics of the local host.
type Source struct {
	provider provider
	now      func() time.Time

	byName map[string]*metricInfo
	byPmID map[pmapi.PmID]*metricInfo
	names  []string

	mu        sync.Mutex
	instances map[pmapi.InDom]*instanceRegistry
}

var _ pmapi.Client = (*Source)(nil)

// New creates a source reading from the local host.
func New() *Source {
	return newSource(gopsutilProvider{}, time.Now)
}

func newSource(p provider, now func() time.Time) *Source {
	s := &Source{
		provider: p,
		now:      now,
		byName:   make(map[string]*metricInfo),
		byPmID:   make(map[pmapi.PmID]*metricInfo),
		instances: map[pmapi.InDom]*instanceRegistry{
			InDomCPU:   newInstanceRegistry(),
			InDomDisk:  newInstanceRegistry(),
			InDomNetIf: newInstanceRegistry(),
		},
	}
	for _, info := range loadDefinitions() {
		s.byName[info.name] = &info
		s.byPmID[info.desc.PmID] = &info
		s.names = append(s.names, info.name)
	}
	slices.Sort(s.names)
	return s
}

// Names returns the names of all metrics the source serves, sorted.
func (s *Source) Names() []string {
	return slices.Clone(s.names)
}

// Help returns the one line description of a metric.
func (s *Source) Help(name string) (string, bool) {
	info, ok := s.byName[name]
	if !ok {
		return "", false
	}
	return info.help, true
}

// LookupNames implements pmapi.Client.
func (s *Source) LookupNames(_ context.Context, names []string) ([]pmapi.PmID, error) {
	ids := make([]pmapi.PmID, len(names))
	for i, name := range names {
		if info, ok := s.byName[name]; ok {
			ids[i] = info.desc.PmID
		} else {
			ids[i] = pmapi.PmIDNull
		}
	}
	return ids, nil
}

// LookupDesc implements pmapi.Client.
func (s *Source) LookupDesc(_ context.Context, id pmapi.PmID) (pmapi.Desc, error) {
	info, ok := s.byPmID[id]
	if !ok {
		return pmapi.Desc{}, fmt.Errorf("%w: %v", pmapi.ErrUnknownPmID, id)
	}
	return info.desc, nil
}

// GetInDom implements pmapi.Client. Dynamic domains list every instance seen
// so far, including the ones found by gathering the domain now.
func (s *Source) GetInDom(ctx context.Context, indom pmapi.InDom) ([]pmapi.Instance, error) {
	switch indom {
	case InDomLoadAvg:
		return slices.Clone(loadAvgInstances), nil
	case InDomCPU, InDomDisk, InDomNetIf:
	default:
		return nil, fmt.Errorf("%w: %v", pmapi.ErrUnknownInDom, indom)
	}

	sub := map[pmapi.InDom]subsystem{
		InDomCPU:   subsystemPerCPU,
		InDomDisk:  subsystemDisk,
		InDomNetIf: subsystemNet,
	}[indom]
	if _, errs := s.gather(ctx, []subsystem{sub}); errs[sub] != nil {
		return nil, &pmapi.TransportError{Op: "instances", Err: errs[sub]}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instances[indom].list(), nil
}

// Fetch implements pmapi.Client. Every subsystem needed by ids is queried
// once. A failing subsystem only fails the value sets of its metrics.
func (s *Source) Fetch(ctx context.Context, ids []pmapi.PmID) (*pmapi.Result, error) {
	var needed []subsystem
	for _, id := range ids {
		if info, ok := s.byPmID[id]; ok && !slices.Contains(needed, info.subsystem) {
			needed = append(needed, info.subsystem)
		}
	}

	snap, errs := s.gather(ctx, needed)
	if err := ctx.Err(); err != nil {
		return nil, &pmapi.TransportError{Op: "fetch", Err: err}
	}

	res := &pmapi.Result{
		Timestamp: s.now(),
		ValueSets: make([]pmapi.ValueSet, 0, len(ids)),
	}
	for _, id := range ids {
		vs := pmapi.ValueSet{PmID: id}
		info, ok := s.byPmID[id]
		switch {
		case !ok:
			vs.Err = fmt.Errorf("%w: %v", pmapi.ErrUnknownPmID, id)
		case errs[info.subsystem] != nil:
			vs.Err = errs[info.subsystem]
		default:
			vs.Values = extractors[info.name].extract(snap, info.desc.Type)
		}
		res.ValueSets = append(res.ValueSets, vs)
	}
	return res, nil
}

// instanceRegistry hands out stable instance ids for names as they are seen.
type instanceRegistry struct {
	ids   map[string]int32
	names map[int32]string
	next  int32
}

func newInstanceRegistry() *instanceRegistry {
	return &instanceRegistry{
		ids:   make(map[string]int32),
		names: make(map[int32]string),
	}
}

func (r *instanceRegistry) id(name string) int32 {
	if id, ok := r.ids[name]; ok {
		return id
	}
	id := r.next
	r.next++
	r.ids[name] = id
	r.names[id] = name
	return id
}

// assign registers a name under a fixed id, e.g. cpu3 under 3.
func (r *instanceRegistry) assign(name string, id int32) int32 {
	if known, ok := r.ids[name]; ok {
		return known
	}
	r.ids[name] = id
	r.names[id] = name
	if id >= r.next {
		r.next = id + 1
	}
	return id
}

func (r *instanceRegistry) list() []pmapi.Instance {
	out := make([]pmapi.Instance, 0, len(r.names))
	for id, name := range r.names {
		out = append(out, pmapi.Instance{ID: id, Name: name})
	}
	slices.SortFunc(out, func(a, b pmapi.Instance) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
