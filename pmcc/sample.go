// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pmcc // import "github.com/pcpstat/pmsample/pmcc"

import (
	"maps"
	"slices"
	"time"

	"github.com/pcpstat/pmsample/pmapi"
)

// Snapshot holds the raw values of one metric from one fetch.
// It is never modified after it was captured; values are only reachable
// through Value and Instances.
type Snapshot struct {
	Timestamp time.Time

	values map[int32]pmapi.Atom
	// order lists the keys of values in ascending order.
	order []int32
	// instances is the instance table that was current when the snapshot
	// was captured.
	instances *InstanceMap
}

func newSnapshot(ts time.Time, values map[int32]pmapi.Atom, instances *InstanceMap) *Snapshot {
	return &Snapshot{
		Timestamp: ts,
		values:    values,
		order:     slices.Sorted(maps.Keys(values)),
		instances: instances,
	}
}

// Len returns the number of instances with a value.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Instances returns the instance ids with a value in ascending order.
func (s *Snapshot) Instances() []int32 {
	if s == nil {
		return nil
	}
	return slices.Clone(s.order)
}

// Value returns the raw value of an instance.
func (s *Snapshot) Value(inst int32) (pmapi.Atom, bool) {
	if s == nil {
		return pmapi.Atom{}, false
	}
	v, ok := s.values[inst]
	return v, ok
}

// sampleBuffer is a two generation ring: the slot at head is the current
// snapshot, the other one is the previous snapshot.
type sampleBuffer struct {
	ring [2]*Snapshot
	head uint8
}

// push makes s the current snapshot. The old current snapshot becomes the
// previous one and the old previous snapshot is released.
func (b *sampleBuffer) push(s *Snapshot) {
	b.head ^= 1
	b.ring[b.head] = s
}

func (b *sampleBuffer) current() *Snapshot {
	return b.ring[b.head]
}

func (b *sampleBuffer) previous() *Snapshot {
	return b.ring[b.head^1]
}

// hasBaseline reports whether both generations are populated.
func (b *sampleBuffer) hasBaseline() bool {
	return b.ring[0] != nil && b.ring[1] != nil
}
