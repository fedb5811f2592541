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
	"fmt"
	"time"

	"github.com/ealvarez/poormans-ratelimit/internal/gateway/state"
)

// RangeStore is the subset of state.Store the analytics reader depends
// on for summary/timeseries queries.
type RangeStore interface {
	BucketsInRange(ctx context.Context, fromMinute, toMinute int64) ([]state.MinuteBucket, error)
	RecentDecisions(ctx context.Context, limit int) ([]string, error)
}

// ActiveRuleCounter reports how many rules are currently active, for
// the summary's activePolicies field.
type ActiveRuleCounter interface {
	ActiveRuleCount() int
}

// Summary is the payload for GET /analytics/summary and for every
// push-broadcaster message.
type Summary struct {
	Allowed        int64 `json:"allowed"`
	Blocked        int64 `json:"blocked"`
	ActivePolicies int   `json:"activePolicies"`
}

// Point is one minute's totals, the unit of GET /analytics/timeseries.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Allowed   int64     `json:"allowed"`
	Blocked   int64     `json:"blocked"`
}

// Reader answers the admin plane's analytics read endpoints.
type Reader struct {
	store RangeStore
	rules ActiveRuleCounter
	now   func() time.Time
}

// NewReader returns a Reader backed by store for bucket/decision-log
// reads and rules for the active-rule count.
func NewReader(store RangeStore, rules ActiveRuleCounter) *Reader {
	return &Reader{store: store, rules: rules, now: time.Now}
}

// Summary24h returns allowed/blocked totals over the trailing 24 hours
// plus the current active-rule count.
func (r *Reader) Summary24h(ctx context.Context) (Summary, error) {
	toMinute := r.now().Unix() / 60
	fromMinute := toMinute - 24*60
	buckets, err := r.store.BucketsInRange(ctx, fromMinute, toMinute)
	if err != nil {
		return Summary{}, fmt.Errorf("summary: %w", err)
	}
	var allowed, blocked int64
	for _, b := range buckets {
		allowed += b.Allowed
		blocked += b.Blocked
	}
	return Summary{Allowed: allowed, Blocked: blocked, ActivePolicies: r.rules.ActiveRuleCount()}, nil
}

// Timeseries returns per-minute totals for the trailing hours window.
func (r *Reader) Timeseries(ctx context.Context, hours int) ([]Point, error) {
	if hours <= 0 {
		hours = 1
	}
	toMinute := r.now().Unix() / 60
	fromMinute := toMinute - int64(hours)*60
	buckets, err := r.store.BucketsInRange(ctx, fromMinute, toMinute)
	if err != nil {
		return nil, fmt.Errorf("timeseries: %w", err)
	}
	points := make([]Point, 0, len(buckets))
	for _, b := range buckets {
		points = append(points, Point{
			Timestamp: time.Unix(b.Minute*60, 0).UTC(),
			Allowed:   b.Allowed,
			Blocked:   b.Blocked,
		})
	}
	return points, nil
}

// Traffic returns up to limit of the most recently appended decision
// log entries, each already-serialized JSON (the admin handler passes
// these straight through as a JSON array).
func (r *Reader) Traffic(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	entries, err := r.store.RecentDecisions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("traffic: %w", err)
	}
	return entries, nil
}
