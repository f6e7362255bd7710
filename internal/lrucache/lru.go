// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package lrucache wraps go-freelru's synchronized LRU and keeps hit, miss,
// add and delete statistics so they can be exported as self-metrics.
package lrucache // import "github.com/pcpstat/pmsample/internal/lrucache"

import (
	"sync/atomic"
	"time"

	lru "github.com/elastic/go-freelru"
	"github.com/zeebo/xxh3"
)

// LRU is a concurrency-safe LRU with statistics.
type LRU[K comparable, V any] struct {
	lru *lru.SyncedLRU[K, V]

	hit     atomic.Uint64
	miss    atomic.Uint64
	added   atomic.Uint64
	deleted atomic.Uint64
}

// Statistics are the counts accumulated since the last reset.
type Statistics struct {
	Hit     uint64
	Miss    uint64
	Added   uint64
	Deleted uint64
}

// HashString is the hash callback used for string keys.
func HashString(s string) uint32 {
	return uint32(xxh3.HashString(s))
}

// New creates an LRU holding at most capacity entries. A non-zero lifetime
// expires entries that long after they were added.
func New[K comparable, V any](capacity uint32, lifetime time.Duration,
	hash lru.HashKeyCallback[K]) (*LRU[K, V], error) {
	cache, err := lru.NewSynced[K, V](capacity, hash)
	if err != nil {
		return nil, err
	}
	if lifetime > 0 {
		cache.SetLifetime(lifetime)
	}
	return &LRU[K, V]{lru: cache}, nil
}

// NewStrings is New for string keys.
func NewStrings[V any](capacity uint32, lifetime time.Duration) (*LRU[string, V], error) {
	return New[string, V](capacity, lifetime, HashString)
}

func (c *LRU[K, V]) Add(key K, value V) (evicted bool) {
	evicted = c.lru.Add(key, value)
	if evicted {
		c.deleted.Add(1)
	}
	c.added.Add(1)
	return evicted
}

func (c *LRU[K, V]) Get(key K) (value V, ok bool) {
	value, ok = c.lru.Get(key)
	if ok {
		c.hit.Add(1)
	} else {
		c.miss.Add(1)
	}
	return value, ok
}

func (c *LRU[K, V]) Remove(key K) (present bool) {
	present = c.lru.Remove(key)
	if present {
		c.deleted.Add(1)
	}
	return present
}

func (c *LRU[K, V]) Len() int {
	return c.lru.Len()
}

func (c *LRU[K, V]) Purge() {
	c.deleted.Add(uint64(c.lru.Len()))
	c.lru.Purge()
}

// GetAndResetStatistics returns the statistics and resets them to 0.
func (c *LRU[K, V]) GetAndResetStatistics() Statistics {
	return Statistics{
		Hit:     c.hit.Swap(0),
		Miss:    c.miss.Swap(0),
		Added:   c.added.Swap(0),
		Deleted: c.deleted.Swap(0),
	}
}
