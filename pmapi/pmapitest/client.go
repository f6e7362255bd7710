// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package pmapitest provides an in-memory pmapi.Client whose metrics,
// instance domains and fetch results are scripted by tests.
package pmapitest // import "github.com/pcpstat/pmsample/pmapi/pmapitest"

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pcpstat/pmsample/pmapi"
)

// Client is a scripted pmapi.Client. The zero value is not usable, use New.
type Client struct {
	mu sync.Mutex

	names  map[string]pmapi.PmID
	descs  map[pmapi.PmID]pmapi.Desc
	indoms map[pmapi.InDom][]pmapi.Instance

	// queue of scripted fetch results, consumed in order
	queue []step

	// Calls counts the round trips per operation.
	Calls map[string]int
	// LastFetch is the id list of the most recent Fetch call.
	LastFetch []pmapi.PmID
}

type step struct {
	result *pmapi.Result
	err    error
}

var _ pmapi.Client = (*Client)(nil)

// New returns an empty scripted client.
func New() *Client {
	return &Client{
		names:  make(map[string]pmapi.PmID),
		descs:  make(map[pmapi.PmID]pmapi.Desc),
		indoms: make(map[pmapi.InDom][]pmapi.Instance),
		Calls:  make(map[string]int),
	}
}

// AddMetric registers a metric name with its descriptor.
func (c *Client) AddMetric(name string, desc pmapi.Desc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names[name] = desc.PmID
	c.descs[desc.PmID] = desc
}

// SetInDom replaces the members of an instance domain.
func (c *Client) SetInDom(indom pmapi.InDom, instances ...pmapi.Instance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indoms[indom] = instances
}

// PushResult appends a successful fetch result to the script.
func (c *Client) PushResult(res *pmapi.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, step{result: res})
}

// PushError appends a failing fetch to the script.
func (c *Client) PushError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, step{err: err})
}

// CallCount returns how often op was called.
func (c *Client) CallCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Calls[op]
}

func (c *Client) LookupNames(_ context.Context, names []string) ([]pmapi.PmID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls["LookupNames"]++

	ids := make([]pmapi.PmID, len(names))
	for i, name := range names {
		id, ok := c.names[name]
		if !ok {
			id = pmapi.PmIDNull
		}
		ids[i] = id
	}
	return ids, nil
}

func (c *Client) LookupDesc(_ context.Context, id pmapi.PmID) (pmapi.Desc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls["LookupDesc"]++

	desc, ok := c.descs[id]
	if !ok {
		return pmapi.Desc{}, fmt.Errorf("%w: %v", pmapi.ErrUnknownPmID, id)
	}
	return desc, nil
}

func (c *Client) GetInDom(_ context.Context, indom pmapi.InDom) ([]pmapi.Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls["GetInDom"]++

	instances, ok := c.indoms[indom]
	if !ok {
		return nil, fmt.Errorf("%w: %v", pmapi.ErrUnknownInDom, indom)
	}
	return append([]pmapi.Instance(nil), instances...), nil
}

// Fetch pops the next scripted step. An exhausted script behaves like the
// end of an archive.
func (c *Client) Fetch(_ context.Context, ids []pmapi.PmID) (*pmapi.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls["Fetch"]++
	c.LastFetch = append([]pmapi.PmID(nil), ids...)

	if len(c.queue) == 0 {
		return nil, pmapi.ErrEndOfData
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	return next.result, next.err
}

// Sample is a convenience constructor for a Result at the given offset (in
// seconds) from the Unix epoch.
func Sample(seconds float64, sets ...pmapi.ValueSet) *pmapi.Result {
	return &pmapi.Result{
		Timestamp: time.Unix(0, 0).Add(time.Duration(seconds * float64(time.Second))),
		ValueSets: sets,
	}
}

// Values builds a ValueSet from instance id / atom pairs.
func Values(id pmapi.PmID, pairs ...any) pmapi.ValueSet {
	vs := pmapi.ValueSet{PmID: id}
	for i := 0; i+1 < len(pairs); i += 2 {
		var inst int32
		switch v := pairs[i].(type) {
		case int:
			inst = int32(v)
		case int32:
			inst = v
		default:
			panic(fmt.Sprintf("instance id of type %T", pairs[i]))
		}
		vs.Values = append(vs.Values, pmapi.InstanceValue{
			Inst:  inst,
			Value: pairs[i+1].(pmapi.Atom),
		})
	}
	return vs
}
