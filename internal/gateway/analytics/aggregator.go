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

// Package analytics folds per-request allowed/blocked counts into the
// minute-bucket index on a fixed tick, and answers the admin plane's
// summary/timeseries/traffic reads. The aggregator is a ticker-driven
// loop with a stop channel and a final flush on shutdown.
package analytics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// BucketStore is the subset of state.Store the aggregator depends on.
type BucketStore interface {
	IncrMinuteBucket(ctx context.Context, minute, allowed, blocked, retentionSeconds int64) error
	PruneBucketsBefore(ctx context.Context, cutoffMinute int64) (int64, error)
}

// RetentionConfig supplies the dynamic retention window in days.
type RetentionConfig interface {
	AnalyticsRetentionDays() int64
}

// Aggregator accumulates pending allowed/blocked counts in-process and
// folds them into the shared minute-bucket index on each tick.
type Aggregator struct {
	store  BucketStore
	cfg    RetentionConfig
	log    *logrus.Logger
	tick   time.Duration
	prune  time.Duration
	now    func() time.Time
	allowed int64 // atomic
	blocked int64 // atomic

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
}

// New returns an Aggregator that flushes every tick and prunes expired
// buckets every prune interval.
func New(store BucketStore, cfg RetentionConfig, log *logrus.Logger, tick, prune time.Duration) *Aggregator {
	return &Aggregator{
		store:    store,
		cfg:      cfg,
		log:      log,
		tick:     tick,
		prune:    prune,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// RecordAllowed increments the in-process pending-allowed counter; the
// data plane calls this once per terminal allowed decision.
func (a *Aggregator) RecordAllowed() { atomic.AddInt64(&a.allowed, 1) }

// RecordBlocked increments the in-process pending-blocked counter.
func (a *Aggregator) RecordBlocked() { atomic.AddInt64(&a.blocked, 1) }

// Start launches the flush and prune loops as background goroutines.
func (a *Aggregator) Start() {
	a.log.Info("starting analytics aggregator")
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.flushLoop()
	}()
	go func() {
		defer a.wg.Done()
		a.pruneLoop()
	}()
}

// Stop halts both loops, performing one final flush so in-flight counts
// are not lost on shutdown. Safe to call more than once.
func (a *Aggregator) Stop() {
	if !atomic.CompareAndSwapUint32(&a.stopped, 0, 1) {
		return
	}
	close(a.stopChan)
	a.wg.Wait()
}

func (a *Aggregator) flushLoop() {
	ticker := time.NewTicker(a.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.flush()
		case <-a.stopChan:
			a.flush()
			return
		}
	}
}

// flush atomically swaps the pending counters to zero and adds them
// into the minute bucket for floor(now/60s), refreshing that bucket's
// TTL to the configured retention window.
func (a *Aggregator) flush() {
	allowed := atomic.SwapInt64(&a.allowed, 0)
	blocked := atomic.SwapInt64(&a.blocked, 0)
	if allowed == 0 && blocked == 0 {
		return
	}
	minute := a.now().Unix() / 60
	retentionSeconds := a.cfg.AnalyticsRetentionDays() * 24 * 60 * 60
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.IncrMinuteBucket(ctx, minute, allowed, blocked, retentionSeconds); err != nil {
		a.log.WithError(err).Error("flush analytics bucket")
	}
}

func (a *Aggregator) pruneLoop() {
	ticker := time.NewTicker(a.prune)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.pruneOnce()
		case <-a.stopChan:
			return
		}
	}
}

func (a *Aggregator) pruneOnce() {
	retentionMinutes := a.cfg.AnalyticsRetentionDays() * 24 * 60
	cutoff := a.now().Unix()/60 - retentionMinutes
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n, err := a.store.PruneBucketsBefore(ctx, cutoff)
	if err != nil {
		a.log.WithError(err).Error("prune analytics buckets")
		return
	}
	if n > 0 {
		a.log.WithField("count", n).Debug("pruned expired analytics buckets")
	}
}
