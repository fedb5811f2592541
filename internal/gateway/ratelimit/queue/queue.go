// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue is the local, in-process queue-depth accountant behind
// a rule's leaky-bucket admission: one striped VSA counter per (rule,
// identifier), with a periodic sweeper to drop entries that have
// drained back to zero. Queue state is node-local by design (there is
// no multi-datacenter queue coordination), so nothing here talks to the
// shared state store.
package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ealvarez/poormans-ratelimit/pkg/vsa"
)

// managedVSA pairs a striped VSA depth counter with the bookkeeping the
// sweeper needs to reclaim it once drained: a hot-path accumulator plus
// a lastAccessed timestamp read only by background routines. The queue
// has no durable scalar to reconcile against, so it runs the VSA with
// an initial scalar of zero and never calls Commit.
type managedVSA struct {
	v            *vsa.VSA
	lastAccessed int64 // UnixNano, atomic
}

// Manager tracks one managedVSA per (rule, identifier) composite key.
type Manager struct {
	entries sync.Map // string -> *managedVSA
}

// NewManager returns an empty depth accountant.
func NewManager() *Manager {
	return &Manager{}
}

func compositeKey(ruleID, identifier string) string {
	return ruleID + "\x00" + identifier
}

func (m *Manager) getOrCreate(key string) *managedVSA {
	if v, ok := m.entries.Load(key); ok {
		return v.(*managedVSA)
	}
	fresh := &managedVSA{v: vsa.New(0), lastAccessed: time.Now().UnixNano()}
	actual, _ := m.entries.LoadOrStore(key, fresh)
	return actual.(*managedVSA)
}

// Reserve is a queue-depth admission check: if the VSA's in-memory
// vector is already at maxQueueSize the slot is refused (queue full);
// otherwise the vector is incremented and the post-increment value
// becomes the caller's 1-indexed position. Positions are unique per
// (rule, identifier) until the matching Release fires. Abandoned
// requests never call Release, which is deliberate: there is no slot
// rollback on cancellation.
func (m *Manager) Reserve(ruleID, identifier string, maxQueueSize int64) (position int64, ok bool) {
	key := compositeKey(ruleID, identifier)
	e := m.getOrCreate(key)
	atomic.StoreInt64(&e.lastAccessed, time.Now().UnixNano())
	return e.v.ReserveSlot(maxQueueSize)
}

// Release gives back one reserved slot for (ruleID, identifier). Call
// it after delayMs has elapsed for a reservation that was honored,
// never for a reservation that was refused.
func (m *Manager) Release(ruleID, identifier string) {
	key := compositeKey(ruleID, identifier)
	v, ok := m.entries.Load(key)
	if !ok {
		return
	}
	v.(*managedVSA).v.ReleaseSlot()
}

// ScheduleRelease arranges for Release to run once after delay. The
// caller does not block on it.
func (m *Manager) ScheduleRelease(ruleID, identifier string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		m.Release(ruleID, identifier)
	})
}

// Depth returns the current depth for (ruleID, identifier), 0 if no
// entry exists yet. Exposed for the queue-depth gauge in metrics.
func (m *Manager) Depth(ruleID, identifier string) int64 {
	key := compositeKey(ruleID, identifier)
	v, ok := m.entries.Load(key)
	if !ok {
		return 0
	}
	_, depth := v.(*managedVSA).v.State()
	return depth
}

// Sweep removes every entry whose depth has drained to zero and whose
// last reservation is older than idleFor, bounding the entries map's
// memory growth.
func (m *Manager) Sweep(idleFor time.Duration) int {
	cutoff := time.Now().Add(-idleFor).UnixNano()
	removed := 0
	m.entries.Range(func(key, value interface{}) bool {
		e := value.(*managedVSA)
		_, depth := e.v.State()
		if depth == 0 && atomic.LoadInt64(&e.lastAccessed) < cutoff {
			e.v.Close()
			m.entries.Delete(key)
			removed++
		}
		return true
	})
	return removed
}
