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

package analytics

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type fakeBucketStore struct {
	mu      sync.Mutex
	minutes []int64
	allowed map[int64]int64
	blocked map[int64]int64
	pruned  []int64
}

func newFakeBucketStore() *fakeBucketStore {
	return &fakeBucketStore{allowed: map[int64]int64{}, blocked: map[int64]int64{}}
}

func (f *fakeBucketStore) IncrMinuteBucket(ctx context.Context, minute, allowed, blocked, retentionSeconds int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.allowed[minute]; !ok {
		f.minutes = append(f.minutes, minute)
	}
	f.allowed[minute] += allowed
	f.blocked[minute] += blocked
	return nil
}

func (f *fakeBucketStore) PruneBucketsBefore(ctx context.Context, cutoffMinute int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned = append(f.pruned, cutoffMinute)
	return 0, nil
}

type fakeRetentionConfig struct{ days int64 }

func (f fakeRetentionConfig) AnalyticsRetentionDays() int64 { return f.days }

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestAggregatorFlushFoldsCountsIntoBucket(t *testing.T) {
	store := newFakeBucketStore()
	a := New(store, fakeRetentionConfig{days: 7}, newTestLogger(), time.Hour, time.Hour)
	a.now = func() time.Time { return time.Unix(120, 0) }

	a.RecordAllowed()
	a.RecordAllowed()
	a.RecordBlocked()
	a.flush()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.minutes) != 1 {
		t.Fatalf("expected one bucket written, got %d", len(store.minutes))
	}
	minute := store.minutes[0]
	if store.allowed[minute] != 2 || store.blocked[minute] != 1 {
		t.Fatalf("got allowed=%d blocked=%d, want 2/1", store.allowed[minute], store.blocked[minute])
	}
}

func TestAggregatorFlushIsNoopWhenNothingPending(t *testing.T) {
	store := newFakeBucketStore()
	a := New(store, fakeRetentionConfig{days: 7}, newTestLogger(), time.Hour, time.Hour)
	a.flush()
	if len(store.minutes) != 0 {
		t.Fatalf("expected no bucket write when nothing pending")
	}
}

func TestAggregatorStopPerformsFinalFlush(t *testing.T) {
	store := newFakeBucketStore()
	a := New(store, fakeRetentionConfig{days: 7}, newTestLogger(), time.Hour, time.Hour)
	a.RecordAllowed()
	a.Start()
	a.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.minutes) != 1 {
		t.Fatalf("expected the final flush to write one bucket, got %d", len(store.minutes))
	}
}
