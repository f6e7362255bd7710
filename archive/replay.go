// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package archive // import "github.com/pcpstat/pmsample/archive"

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"

	"github.com/pcpstat/pmsample/pmapi"
)

// Archive replays a recorded archive. It implements pmapi.Client: every call
// to Fetch returns the next sample, restricted to the requested metrics, and
// pmapi.ErrEndOfData after the last one.
type Archive struct {
	hdr     Header
	names   map[string]pmapi.PmID
	descs   map[pmapi.PmID]pmapi.Desc
	indoms  map[pmapi.InDom]map[int32]string
	samples []*pmapi.Result

	mu  sync.Mutex
	pos int
}

var _ pmapi.Client = (*Archive)(nil)

// OpenFile reads the archive at path.
func OpenFile(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	defer f.Close()
	a, err := Open(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// Open reads a whole archive from r into memory.
func Open(r io.Reader) (*Archive, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create decompressor: %w", err)
	}
	defer dec.Close()

	jd := json.NewDecoder(dec)
	var hdr Header
	if err := jd.Decode(&hdr); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrBadArchive, err)
	}
	if err := hdr.validate(); err != nil {
		return nil, err
	}

	a := &Archive{
		hdr:    hdr,
		names:  make(map[string]pmapi.PmID, len(hdr.Metrics)),
		descs:  make(map[pmapi.PmID]pmapi.Desc, len(hdr.Metrics)),
		indoms: make(map[pmapi.InDom]map[int32]string),
	}
	for _, m := range hdr.Metrics {
		desc, _ := m.Desc()
		a.names[m.Name] = m.PmID
		a.descs[m.PmID] = desc
	}

	for line := 2; ; line++ {
		var rec record
		if err := jd.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: record %d: %v", ErrBadArchive, line, err)
		}
		switch {
		case rec.InDom != nil:
			a.addInDom(rec.InDom)
		case rec.Sample != nil:
			res, err := a.decodeSample(rec.Sample)
			if err != nil {
				return nil, fmt.Errorf("%w: record %d: %v", ErrBadArchive, line, err)
			}
			a.samples = append(a.samples, res)
		default:
			return nil, fmt.Errorf("%w: record %d is empty", ErrBadArchive, line)
		}
	}
	log.Debugf("Loaded archive %s with %d samples of %d metrics",
		hdr.ID, len(a.samples), len(hdr.Metrics))
	return a, nil
}

func (a *Archive) addInDom(rec *indomRecord) {
	members, ok := a.indoms[rec.InDom]
	if !ok {
		members = make(map[int32]string, len(rec.Instances))
		a.indoms[rec.InDom] = members
	}
	for _, inst := range rec.Instances {
		members[inst.ID] = inst.Name
	}
}

func (a *Archive) decodeSample(rec *sampleRecord) (*pmapi.Result, error) {
	if n := len(a.samples); n > 0 && rec.Timestamp.Before(a.samples[n-1].Timestamp) {
		return nil, errors.New("timestamps go backwards")
	}
	res := &pmapi.Result{
		Timestamp: rec.Timestamp,
		ValueSets: make([]pmapi.ValueSet, 0, len(rec.Sets)),
	}
	for _, set := range rec.Sets {
		desc, ok := a.descs[set.PmID]
		if !ok {
			return nil, fmt.Errorf("values of unknown metric %v", set.PmID)
		}
		vs := pmapi.ValueSet{PmID: set.PmID}
		if set.Err != "" {
			vs.Err = errors.New(set.Err)
		}
		for _, v := range set.Values {
			atom, err := pmapi.ParseAtom(desc.Type, v.Value)
			if err != nil {
				return nil, fmt.Errorf("metric %v instance %d: %v", set.PmID, v.Inst, err)
			}
			vs.Values = append(vs.Values, pmapi.InstanceValue{Inst: v.Inst, Value: atom})
		}
		res.ValueSets = append(res.ValueSets, vs)
	}
	return res, nil
}

// Header returns the archive header.
func (a *Archive) Header() Header {
	return a.hdr
}

// Names returns the names of the recorded metrics in header order.
func (a *Archive) Names() []string {
	names := make([]string, 0, len(a.hdr.Metrics))
	for _, m := range a.hdr.Metrics {
		names = append(names, m.Name)
	}
	return names
}

// Len returns the number of samples.
func (a *Archive) Len() int {
	return len(a.samples)
}

// Rewind restarts the replay at the first sample.
func (a *Archive) Rewind() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pos = 0
}

// LookupNames implements pmapi.Client.
func (a *Archive) LookupNames(_ context.Context, names []string) ([]pmapi.PmID, error) {
	ids := make([]pmapi.PmID, len(names))
	for i, name := range names {
		if id, ok := a.names[name]; ok {
			ids[i] = id
		} else {
			ids[i] = pmapi.PmIDNull
		}
	}
	return ids, nil
}

// LookupDesc implements pmapi.Client.
func (a *Archive) LookupDesc(_ context.Context, id pmapi.PmID) (pmapi.Desc, error) {
	desc, ok := a.descs[id]
	if !ok {
		return pmapi.Desc{}, fmt.Errorf("%w: %v", pmapi.ErrUnknownPmID, id)
	}
	return desc, nil
}

// GetInDom implements pmapi.Client. It returns every instance recorded for
// indom anywhere in the archive. An instance that was renamed keeps its
// latest name.
func (a *Archive) GetInDom(_ context.Context, indom pmapi.InDom) ([]pmapi.Instance, error) {
	members, ok := a.indoms[indom]
	if !ok {
		return nil, fmt.Errorf("%w: %v", pmapi.ErrUnknownInDom, indom)
	}
	out := make([]pmapi.Instance, 0, len(members))
	for id, name := range members {
		out = append(out, pmapi.Instance{ID: id, Name: name})
	}
	slices.SortFunc(out, func(x, y pmapi.Instance) int {
		return cmp.Compare(x.ID, y.ID)
	})
	return out, nil
}

// Fetch implements pmapi.Client. The result has one value-set per requested
// metric; a metric without values in the sample gets an empty value-set.
func (a *Archive) Fetch(ctx context.Context, ids []pmapi.PmID) (*pmapi.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &pmapi.TransportError{Op: "fetch", Err: err}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pos >= len(a.samples) {
		log.Debugf("Archive %s: end of data after %d samples", a.hdr.ID, a.pos)
		return nil, pmapi.ErrEndOfData
	}
	sample := a.samples[a.pos]
	a.pos++

	res := &pmapi.Result{
		Timestamp: sample.Timestamp,
		ValueSets: make([]pmapi.ValueSet, 0, len(ids)),
	}
	for _, id := range ids {
		if _, known := a.descs[id]; !known {
			res.ValueSets = append(res.ValueSets, pmapi.ValueSet{
				PmID: id,
				Err:  fmt.Errorf("%w: %v", pmapi.ErrUnknownPmID, id),
			})
			continue
		}
		vs := pmapi.ValueSet{PmID: id}
		for _, recorded := range sample.ValueSets {
			if recorded.PmID == id {
				vs.Err = recorded.Err
				vs.Values = slices.Clone(recorded.Values)
				break
			}
		}
		res.ValueSets = append(res.ValueSets, vs)
	}
	return res, nil
}
