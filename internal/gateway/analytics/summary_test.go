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
	"testing"
	"time"

	"github.com/ealvarez/poormans-ratelimit/internal/gateway/state"
)

type fakeRangeStore struct {
	buckets  []state.MinuteBucket
	decisions []string
}

func (f *fakeRangeStore) BucketsInRange(ctx context.Context, fromMinute, toMinute int64) ([]state.MinuteBucket, error) {
	return f.buckets, nil
}

func (f *fakeRangeStore) RecentDecisions(ctx context.Context, limit int) ([]string, error) {
	if limit < len(f.decisions) {
		return f.decisions[:limit], nil
	}
	return f.decisions, nil
}

type fakeActiveRuleCounter struct{ n int }

func (f fakeActiveRuleCounter) ActiveRuleCount() int { return f.n }

func TestSummary24hSumsBuckets(t *testing.T) {
	store := &fakeRangeStore{buckets: []state.MinuteBucket{
		{Minute: 1, Allowed: 10, Blocked: 2},
		{Minute: 2, Allowed: 5, Blocked: 1},
	}}
	r := NewReader(store, fakeActiveRuleCounter{n: 3})
	r.now = func() time.Time { return time.Unix(200, 0) }

	sum, err := r.Summary24h(context.Background())
	if err != nil {
		t.Fatalf("Summary24h: %v", err)
	}
	if sum.Allowed != 15 || sum.Blocked != 3 || sum.ActivePolicies != 3 {
		t.Fatalf("got %+v, want allowed=15 blocked=3 activePolicies=3", sum)
	}
}

func TestTimeseriesConvertsBucketsToPoints(t *testing.T) {
	store := &fakeRangeStore{buckets: []state.MinuteBucket{{Minute: 60, Allowed: 1, Blocked: 0}}}
	r := NewReader(store, fakeActiveRuleCounter{})
	points, err := r.Timeseries(context.Background(), 1)
	if err != nil {
		t.Fatalf("Timeseries: %v", err)
	}
	if len(points) != 1 || points[0].Allowed != 1 {
		t.Fatalf("got %+v", points)
	}
}

func TestTrafficRespectsLimit(t *testing.T) {
	store := &fakeRangeStore{decisions: []string{"a", "b", "c"}}
	r := NewReader(store, fakeActiveRuleCounter{})
	got, err := r.Traffic(context.Background(), 2)
	if err != nil {
		t.Fatalf("Traffic: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
}
