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
	"fmt"
	"strconv"
)

// Key layout. A single Redis instance (or cluster with hash-tagged keys,
// out of scope here) backs all of it.
const (
	rulesKey        = "rate_limit_rules"
	configKey       = "system_config"
	trafficLogsKey  = "traffic_logs"
	statsIndexKey   = "request_stats:index"
	statsBucketStem = "request_stats:"
)

func counterKey(ruleID, identifier string) string {
	return fmt.Sprintf("request_counter:%s:%s", ruleID, identifier)
}

func bucketKey(minute int64) string {
	return statsBucketStem + strconv.FormatInt(minute, 10)
}

// Store is the shared-state client every gateway component depends on.
// It owns no in-process cache of its own; callers that need a cached
// snapshot (the rule cache, the system config reader) build one on top
// of it and refresh on their own schedule.
type Store struct {
	eval Evaler
}

// New returns a Store backed by the given Evaler.
func New(eval Evaler) *Store {
	return &Store{eval: eval}
}

// --- Rules -----------------------------------------------------------

const ruleListScript = `return redis.call('HGETALL', KEYS[1])`

// ListRules returns every stored rule, in no particular order; callers
// that need a stable partition order sort them after loading.
func (s *Store) ListRules(ctx context.Context) ([]Rule, error) {
	res, err := s.eval.Eval(ctx, ruleListScript, []string{rulesKey})
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	flat, err := toStringSlice(res)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	rules := make([]Rule, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		rules = append(rules, Rule{ID: flat[i], JSON: flat[i+1]})
	}
	return rules, nil
}

const rulePutScript = `
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`

// PutRule creates or replaces a rule's stored JSON.
func (s *Store) PutRule(ctx context.Context, id, ruleJSON string) error {
	_, err := s.eval.Eval(ctx, rulePutScript, []string{rulesKey}, id, ruleJSON)
	if err != nil {
		return fmt.Errorf("put rule %s: %w", id, err)
	}
	return nil
}

const ruleGetScript = `
local v = redis.call('HGET', KEYS[1], ARGV[1])
if v == false then
  return nil
end
return v
`

// GetRule returns a single rule's JSON, and false if it doesn't exist.
func (s *Store) GetRule(ctx context.Context, id string) (string, bool, error) {
	res, err := s.eval.Eval(ctx, ruleGetScript, []string{rulesKey}, id)
	if err != nil {
		return "", false, fmt.Errorf("get rule %s: %w", id, err)
	}
	if res == nil {
		return "", false, nil
	}
	v, ok := res.(string)
	if !ok {
		return "", false, fmt.Errorf("get rule %s: unexpected reply type %T", id, res)
	}
	return v, true, nil
}

const ruleDeleteScript = `
redis.call('HDEL', KEYS[1], ARGV[1])
return 1
`

// DeleteRule removes a rule. Deleting an id that doesn't exist is not an
// error.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	_, err := s.eval.Eval(ctx, ruleDeleteScript, []string{rulesKey}, id)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	return nil
}

// --- System config -----------------------------------------------------

// GetConfig returns every recognized config key/value pair currently
// stored. Unrecognized keys that happen to be present are returned
// too; it is the sysconfig package's job to ignore what it doesn't
// recognize.
func (s *Store) GetConfig(ctx context.Context) (map[string]string, error) {
	res, err := s.eval.Eval(ctx, ruleListScript, []string{configKey})
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	flat, err := toStringSlice(res)
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	out := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		out[flat[i]] = flat[i+1]
	}
	return out, nil
}

// SetConfig writes a single config key/value pair.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.eval.Eval(ctx, rulePutScript, []string{configKey}, key, value)
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

// --- Counters -----------------------------------------------------------

// counterCheckScript implements the window-check-and-increment pseudocode:
// a fresh or expired window resets to count=1 and is admitted; inside an
// active window the request is admitted iff count < quota, in which case
// count is incremented. The script runs as a single EVAL, so concurrent
// callers on the same key are serialized by Redis and cannot both pass
// the count < quota check; no distributed lock is involved.
const counterCheckScript = `
local data = redis.call('HMGET', KEYS[1], 'count', 'windowStart')
local count = tonumber(data[1])
local windowStart = tonumber(data[2])
local now = tonumber(ARGV[1])
local windowSeconds = tonumber(ARGV[2])
local quota = tonumber(ARGV[3])
local ttlSeconds = tonumber(ARGV[4])

if windowStart == nil or now >= windowStart + windowSeconds then
  redis.call('HMSET', KEYS[1], 'count', 1, 'windowStart', now)
  redis.call('EXPIRE', KEYS[1], ttlSeconds)
  return {1, 1, now}
end

if count < quota then
  local newCount = redis.call('HINCRBY', KEYS[1], 'count', 1)
  redis.call('EXPIRE', KEYS[1], ttlSeconds)
  return {1, newCount, windowStart}
end

return {0, count, windowStart}
`

// CheckAndIncrement evaluates one request against a rule's quota for the
// window starting at or after now-windowSeconds. It returns whether the
// request is admitted and the counter's state immediately after the
// evaluation.
func (s *Store) CheckAndIncrement(ctx context.Context, ruleID, identifier string, now int64, windowSeconds, quota int64) (admitted bool, after Counter, err error) {
	ttl := windowSeconds * 2
	if ttl < 1 {
		ttl = 1
	}
	res, err := s.eval.Eval(ctx, counterCheckScript, []string{counterKey(ruleID, identifier)}, now, windowSeconds, quota, ttl)
	if err != nil {
		return false, Counter{}, fmt.Errorf("check counter rule=%s id=%s: %w", ruleID, identifier, err)
	}
	vals, err := toInt64Slice(res)
	if err != nil || len(vals) != 3 {
		return false, Counter{}, fmt.Errorf("check counter rule=%s id=%s: unexpected reply %v", ruleID, identifier, res)
	}
	return vals[0] == 1, Counter{Count: vals[1], WindowStart: vals[2]}, nil
}

// --- Decision log -----------------------------------------------------

const decisionPushScript = `
redis.call('LPUSH', KEYS[1], ARGV[1])
redis.call('LTRIM', KEYS[1], 0, tonumber(ARGV[2]) - 1)
return 1
`

// AppendDecision pushes one serialized decision log entry, trimming the
// list to maxEntries. The list is bounded by entry count only; entries
// are not evicted by age, here or in RecentDecisions.
func (s *Store) AppendDecision(ctx context.Context, entryJSON string, maxEntries int) error {
	_, err := s.eval.Eval(ctx, decisionPushScript, []string{trafficLogsKey}, entryJSON, maxEntries)
	if err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

const decisionRangeScript = `return redis.call('LRANGE', KEYS[1], 0, tonumber(ARGV[1]) - 1)`

// RecentDecisions returns up to limit of the most recently appended
// decision log entries, newest first.
func (s *Store) RecentDecisions(ctx context.Context, limit int) ([]string, error) {
	res, err := s.eval.Eval(ctx, decisionRangeScript, []string{trafficLogsKey}, limit)
	if err != nil {
		return nil, fmt.Errorf("recent decisions: %w", err)
	}
	return toStringSlice(res)
}

const decisionTrimScript = `
local removed = redis.call('LLEN', KEYS[1])
redis.call('LTRIM', KEYS[1], 0, tonumber(ARGV[1]) - 1)
removed = removed - redis.call('LLEN', KEYS[1])
return removed
`

// TrimDecisionsTo caps the decision log at keep entries, returning how
// many were dropped. The decision log Archiver calls this on its tick;
// like the trim on every push, it is a count cap, not an age cap.
func (s *Store) TrimDecisionsTo(ctx context.Context, keep int) (int64, error) {
	res, err := s.eval.Eval(ctx, decisionTrimScript, []string{trafficLogsKey}, keep)
	if err != nil {
		return 0, fmt.Errorf("trim decisions: %w", err)
	}
	n, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("trim decisions: unexpected reply type %T", res)
	}
	return n, nil
}

// --- Minute buckets -----------------------------------------------------

const bucketIncrScript = `
redis.call('HINCRBY', KEYS[1], 'allowed', tonumber(ARGV[1]))
redis.call('HINCRBY', KEYS[1], 'blocked', tonumber(ARGV[2]))
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[3]))
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[4])
return 1
`

// IncrMinuteBucket folds pending allowed/blocked counts into the bucket
// for the given minute (minutes since the unix epoch)
// and indexes that minute in the sorted set used for range scans.
func (s *Store) IncrMinuteBucket(ctx context.Context, minute, allowed, blocked int64, retentionSeconds int64) error {
	_, err := s.eval.Eval(ctx, bucketIncrScript,
		[]string{bucketKey(minute), statsIndexKey},
		allowed, blocked, retentionSeconds, minute)
	if err != nil {
		return fmt.Errorf("incr minute bucket %d: %w", minute, err)
	}
	return nil
}

const bucketGetScript = `
local v = redis.call('HMGET', KEYS[1], 'allowed', 'blocked')
return v
`

// GetBucket returns the allowed/blocked totals for one minute.
func (s *Store) GetBucket(ctx context.Context, minute int64) (MinuteBucket, error) {
	res, err := s.eval.Eval(ctx, bucketGetScript, []string{bucketKey(minute)})
	if err != nil {
		return MinuteBucket{}, fmt.Errorf("get bucket %d: %w", minute, err)
	}
	vals, err := toInt64Slice(res)
	if err != nil || len(vals) != 2 {
		return MinuteBucket{Minute: minute}, nil
	}
	return MinuteBucket{Minute: minute, Allowed: vals[0], Blocked: vals[1]}, nil
}

const bucketRangeScript = `return redis.call('ZRANGEBYSCORE', KEYS[1], ARGV[1], ARGV[2])`

// BucketsInRange returns the minute buckets indexed in [fromMinute,
// toMinute], inclusive, ordered ascending.
func (s *Store) BucketsInRange(ctx context.Context, fromMinute, toMinute int64) ([]MinuteBucket, error) {
	res, err := s.eval.Eval(ctx, bucketRangeScript, []string{statsIndexKey}, fromMinute, toMinute)
	if err != nil {
		return nil, fmt.Errorf("buckets in range: %w", err)
	}
	minutes, err := toStringSlice(res)
	if err != nil {
		return nil, fmt.Errorf("buckets in range: %w", err)
	}
	out := make([]MinuteBucket, 0, len(minutes))
	for _, m := range minutes {
		minute, convErr := strconv.ParseInt(m, 10, 64)
		if convErr != nil {
			continue
		}
		b, getErr := s.GetBucket(ctx, minute)
		if getErr != nil {
			return nil, getErr
		}
		out = append(out, b)
	}
	return out, nil
}

const bucketPruneScript = `
local minutes = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, m in ipairs(minutes) do
  redis.call('DEL', 'request_stats:' .. m)
end
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
return #minutes
`

// PruneBucketsBefore deletes every indexed minute bucket at or before
// cutoffMinute, returning how many were removed. Called periodically by
// the aggregator to bound the analytics index's growth.
func (s *Store) PruneBucketsBefore(ctx context.Context, cutoffMinute int64) (int64, error) {
	res, err := s.eval.Eval(ctx, bucketPruneScript, []string{statsIndexKey}, cutoffMinute)
	if err != nil {
		return 0, fmt.Errorf("prune buckets before %d: %w", cutoffMinute, err)
	}
	n, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("prune buckets before %d: unexpected reply type %T", cutoffMinute, res)
	}
	return n, nil
}

// --- reply decoding helpers ---------------------------------------------

// toStringSlice normalizes the []interface{} shape go-redis (and our
// fakes) return for multi-bulk replies into a []string.
func toStringSlice(res interface{}) ([]string, error) {
	if res == nil {
		return nil, nil
	}
	raw, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected reply type %T", res)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		switch t := v.(type) {
		case string:
			out = append(out, t)
		case []byte:
			out = append(out, string(t))
		case nil:
			out = append(out, "")
		default:
			return nil, fmt.Errorf("unexpected element type %T", v)
		}
	}
	return out, nil
}

// toInt64Slice normalizes a multi-bulk integer/bulk-string reply into a
// []int64, used for the compound replies the Lua scripts above return.
func toInt64Slice(res interface{}) ([]int64, error) {
	raw, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected reply type %T", res)
	}
	out := make([]int64, 0, len(raw))
	for _, v := range raw {
		switch t := v.(type) {
		case int64:
			out = append(out, t)
		case string:
			n, err := strconv.ParseInt(t, 10, 64)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		case []byte:
			n, err := strconv.ParseInt(string(t), 10, 64)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		case nil:
			out = append(out, 0)
		default:
			return nil, fmt.Errorf("unexpected element type %T", v)
		}
	}
	return out, nil
}
