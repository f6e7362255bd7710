// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package xsync provides locks that own the data they protect.
package xsync // import "github.com/pcpstat/pmsample/internal/xsync"

import "sync"

// RWMutex guards a value of type T. The value is only reachable through the
// pointer handed out by RLock or WLock, so it cannot be touched by accident
// without holding the lock.
//
//	type registry struct {
//		entries xsync.RWMutex[map[string]int]
//	}
//
//	func (r *registry) get(key string) int {
//		entries := r.entries.RLock()
//		defer r.entries.RUnlock(&entries)
//		return (*entries)[key]
//	}
type RWMutex[T any] struct {
	guarded T
	mutex   sync.RWMutex
}

// NewRWMutex creates a read-write mutex guarding the given value.
func NewRWMutex[T any](guarded T) RWMutex[T] {
	return RWMutex[T]{guarded: guarded}
}

// RLock locks for reading. The caller must not write through the returned
// pointer nor keep it beyond the matching RUnlock.
func (mtx *RWMutex[T]) RLock() *T {
	mtx.mutex.RLock()
	return &mtx.guarded
}

// RUnlock releases a read lock and clears the caller's pointer.
func (mtx *RWMutex[T]) RUnlock(ref **T) {
	*ref = nil
	mtx.mutex.RUnlock()
}

// WLock locks for writing. The caller must not keep the returned pointer
// beyond the matching WUnlock.
func (mtx *RWMutex[T]) WLock() *T {
	mtx.mutex.Lock()
	return &mtx.guarded
}

// WUnlock releases a write lock and clears the caller's pointer.
func (mtx *RWMutex[T]) WUnlock(ref **T) {
	*ref = nil
	mtx.mutex.Unlock()
}
