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

package state

import (
	"context"
	"testing"
)

// fakeEval is a minimal in-memory Redis stand-in: enough hash, list and
// sorted-set semantics to exercise every script in store.go without a
// real server. It dispatches on which constant script string it was
// handed rather than actually interpreting Lua.
type fakeEval struct {
	hashes map[string]map[string]string
	lists  map[string][]string
	zsets  map[string]map[string]int64
}

func newFakeEval() *fakeEval {
	return &fakeEval{
		hashes: map[string]map[string]string{},
		lists:  map[string][]string{},
		zsets:  map[string]map[string]int64{},
	}
}

func (f *fakeEval) Eval(_ context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	switch script {
	case ruleListScript:
		h := f.hashes[keys[0]]
		out := make([]interface{}, 0, len(h)*2)
		for k, v := range h {
			out = append(out, k, v)
		}
		return out, nil
	case rulePutScript:
		h := f.hashes[keys[0]]
		if h == nil {
			h = map[string]string{}
			f.hashes[keys[0]] = h
		}
		h[args[0].(string)] = args[1].(string)
		return int64(1), nil
	case ruleGetScript:
		h := f.hashes[keys[0]]
		v, ok := h[args[0].(string)]
		if !ok {
			return nil, nil
		}
		return v, nil
	case ruleDeleteScript:
		delete(f.hashes[keys[0]], args[0].(string))
		return int64(1), nil
	case counterCheckScript:
		return f.evalCounterCheck(keys[0], args)
	case decisionPushScript:
		key := keys[0]
		f.lists[key] = append([]string{args[0].(string)}, f.lists[key]...)
		maxEntries := toInt(args[1])
		if int64(len(f.lists[key])) > maxEntries {
			f.lists[key] = f.lists[key][:maxEntries]
		}
		return int64(1), nil
	case decisionRangeScript:
		key := keys[0]
		limit := toInt(args[0])
		list := f.lists[key]
		if limit < int64(len(list)) {
			list = list[:limit]
		}
		out := make([]interface{}, len(list))
		for i, v := range list {
			out[i] = v
		}
		return out, nil
	case decisionTrimScript:
		key := keys[0]
		keep := toInt(args[0])
		before := int64(len(f.lists[key]))
		if keep < int64(len(f.lists[key])) {
			f.lists[key] = f.lists[key][:keep]
		}
		return before - int64(len(f.lists[key])), nil
	case bucketIncrScript:
		h := f.hashes[keys[0]]
		if h == nil {
			h = map[string]string{"allowed": "0", "blocked": "0"}
			f.hashes[keys[0]] = h
		}
		h["allowed"] = incrStr(h["allowed"], toInt(args[0]))
		h["blocked"] = incrStr(h["blocked"], toInt(args[1]))
		z := f.zsets[keys[1]]
		if z == nil {
			z = map[string]int64{}
			f.zsets[keys[1]] = z
		}
		z[itoa(toInt(args[3]))] = toInt(args[3])
		return int64(1), nil
	case bucketGetScript:
		h := f.hashes[keys[0]]
		return []interface{}{h["allowed"], h["blocked"]}, nil
	case bucketRangeScript:
		z := f.zsets[keys[0]]
		from, to := toInt(args[0]), toInt(args[1])
		out := []interface{}{}
		for member, score := range z {
			if score >= from && score <= to {
				out = append(out, member)
			}
		}
		return out, nil
	case bucketPruneScript:
		z := f.zsets[keys[0]]
		cutoff := toInt(args[0])
		removed := int64(0)
		for member, score := range z {
			if score <= cutoff {
				delete(z, member)
				delete(f.hashes, bucketKey(score))
				removed++
			}
		}
		return removed, nil
	}
	return nil, nil
}

func (f *fakeEval) evalCounterCheck(key string, args []interface{}) (interface{}, error) {
	h := f.hashes[key]
	now := toInt(args[0])
	windowSeconds := toInt(args[1])
	quota := toInt(args[2])

	var count, windowStart int64
	fresh := true
	if h != nil {
		if cs, ok := h["count"]; ok {
			count = toInt(cs)
			windowStart = toInt(h["windowStart"])
			fresh = false
		}
	}
	if fresh || now >= windowStart+windowSeconds {
		f.hashes[key] = map[string]string{"count": "1", "windowStart": itoa(now)}
		return []interface{}{int64(1), int64(1), now}, nil
	}
	if count < quota {
		count++
		h["count"] = itoa(count)
		return []interface{}{int64(1), count, windowStart}, nil
	}
	return []interface{}{int64(0), count, windowStart}, nil
}

func toInt(v interface{}) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64:
		return t
	case string:
		return toInt64OrZero(t)
	}
	return 0
}

func toInt64OrZero(s string) int64 {
	var n int64
	var neg bool
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	return n
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func incrStr(s string, delta int64) string {
	return itoa(toInt64OrZero(s) + delta)
}

func TestRulePutGetDelete(t *testing.T) {
	s := New(newFakeEval())
	ctx := context.Background()

	if err := s.PutRule(ctx, "r1", `{"id":"r1"}`); err != nil {
		t.Fatalf("PutRule: %v", err)
	}
	got, ok, err := s.GetRule(ctx, "r1")
	if err != nil || !ok || got != `{"id":"r1"}` {
		t.Fatalf("GetRule = %q, %v, %v", got, ok, err)
	}
	if err := s.DeleteRule(ctx, "r1"); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	if _, ok, _ := s.GetRule(ctx, "r1"); ok {
		t.Fatalf("rule r1 should be gone after delete")
	}
}

func TestCheckAndIncrementAdmitsUntilQuota(t *testing.T) {
	s := New(newFakeEval())
	ctx := context.Background()

	const quota = 3
	const window = int64(60)
	now := int64(1000)

	for i := int64(1); i <= quota; i++ {
		admitted, c, err := s.CheckAndIncrement(ctx, "rule1", "idA", now, window, quota)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if !admitted {
			t.Fatalf("call %d should be admitted", i)
		}
		if c.Count != i {
			t.Fatalf("call %d: count = %d, want %d", i, c.Count, i)
		}
	}

	admitted, _, err := s.CheckAndIncrement(ctx, "rule1", "idA", now, window, quota)
	if err != nil {
		t.Fatalf("overflow call: %v", err)
	}
	if admitted {
		t.Fatalf("call beyond quota should be blocked")
	}
}

func TestCheckAndIncrementResetsOnNewWindow(t *testing.T) {
	s := New(newFakeEval())
	ctx := context.Background()

	const quota = 1
	const window = int64(60)

	admitted, _, err := s.CheckAndIncrement(ctx, "rule1", "idA", 1000, window, quota)
	if err != nil || !admitted {
		t.Fatalf("first call: admitted=%v err=%v", admitted, err)
	}
	if admitted, _, err := s.CheckAndIncrement(ctx, "rule1", "idA", 1010, window, quota); err != nil || admitted {
		t.Fatalf("second call within window should be blocked: admitted=%v err=%v", admitted, err)
	}
	admitted, c, err := s.CheckAndIncrement(ctx, "rule1", "idA", 1061, window, quota)
	if err != nil || !admitted || c.Count != 1 {
		t.Fatalf("call after window elapsed should reset and admit: admitted=%v count=%d err=%v", admitted, c.Count, err)
	}
}

func TestAppendDecisionTrimsToMaxEntries(t *testing.T) {
	s := New(newFakeEval())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.AppendDecision(ctx, itoa(int64(i)), 3); err != nil {
			t.Fatalf("AppendDecision: %v", err)
		}
	}
	recent, err := s.RecentDecisions(ctx, 10)
	if err != nil {
		t.Fatalf("RecentDecisions: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("len(recent) = %d, want 3", len(recent))
	}
	if recent[0] != "4" {
		t.Fatalf("recent[0] = %q, want newest entry 4", recent[0])
	}
}

func TestMinuteBucketIncrAndRange(t *testing.T) {
	s := New(newFakeEval())
	ctx := context.Background()

	if err := s.IncrMinuteBucket(ctx, 100, 5, 2, 3600); err != nil {
		t.Fatalf("IncrMinuteBucket: %v", err)
	}
	if err := s.IncrMinuteBucket(ctx, 100, 1, 0, 3600); err != nil {
		t.Fatalf("IncrMinuteBucket: %v", err)
	}
	if err := s.IncrMinuteBucket(ctx, 160, 0, 1, 3600); err != nil {
		t.Fatalf("IncrMinuteBucket: %v", err)
	}

	b, err := s.GetBucket(ctx, 100)
	if err != nil {
		t.Fatalf("GetBucket: %v", err)
	}
	if b.Allowed != 6 || b.Blocked != 2 {
		t.Fatalf("bucket 100 = %+v, want allowed=6 blocked=2", b)
	}

	buckets, err := s.BucketsInRange(ctx, 100, 160)
	if err != nil {
		t.Fatalf("BucketsInRange: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("len(buckets) = %d, want 2", len(buckets))
	}
}

func TestPruneBucketsBefore(t *testing.T) {
	s := New(newFakeEval())
	ctx := context.Background()

	_ = s.IncrMinuteBucket(ctx, 100, 1, 0, 3600)
	_ = s.IncrMinuteBucket(ctx, 200, 1, 0, 3600)

	removed, err := s.PruneBucketsBefore(ctx, 150)
	if err != nil {
		t.Fatalf("PruneBucketsBefore: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	buckets, err := s.BucketsInRange(ctx, 0, 1000)
	if err != nil {
		t.Fatalf("BucketsInRange: %v", err)
	}
	if len(buckets) != 1 || buckets[0].Minute != 200 {
		t.Fatalf("buckets = %+v, want only minute 200 left", buckets)
	}
}
