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

// Package sysconfig caches the dynamic SystemConfig stored in the shared
// state store (key "system_config") the same way the rule cache caches
// rules: a published snapshot, replaced wholesale on refresh, never
// mutated in place while a reader holds it.
package sysconfig

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Recognized configuration keys, with their defaults.
const (
	KeyAntibotEnabled          = "antibot-enabled"
	KeyAntibotMinSubmitTimeMs  = "antibot-min-submit-time"
	KeyAntibotHoneypotField    = "antibot-honeypot-field"
	KeyAntibotChallengeType    = "antibot-challenge-type"
	KeyAntibotMetarefreshDelay = "antibot-metarefresh-delay"
	KeyAntibotPreactDifficulty = "antibot-preact-difficulty"
	KeyAnalyticsRetentionDays  = "analytics-retention-days"
	KeyTrafficLogsRetentionHrs = "traffic-logs-retention-hours"
	KeyTrafficLogsMaxEntries   = "traffic-logs-max-entries"
)

var defaults = map[string]string{
	KeyAntibotEnabled:          "true",
	KeyAntibotMinSubmitTimeMs:  "2000",
	KeyAntibotHoneypotField:    "_hp_email",
	KeyAntibotChallengeType:    "metarefresh",
	KeyAntibotMetarefreshDelay: "3",
	KeyAntibotPreactDifficulty: "1",
	KeyAnalyticsRetentionDays:  "7",
	KeyTrafficLogsRetentionHrs: "24",
	KeyTrafficLogsMaxEntries:   "10000",
}

// Store is the subset of state.Store this package depends on.
type Store interface {
	GetConfig(ctx context.Context) (map[string]string, error)
}

// Cache is a cached, read-only view of the system config at the time it
// was last refreshed.
type Cache struct {
	store Store
	log   *logrus.Logger
	ptr   atomic.Pointer[map[string]string]
}

// New returns a Cache seeded with defaults; call Refresh to pull stored
// overrides.
func New(store Store, log *logrus.Logger) *Cache {
	c := &Cache{store: store, log: log}
	seed := cloneDefaults()
	c.ptr.Store(&seed)
	return c
}

func cloneDefaults() map[string]string {
	out := make(map[string]string, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	return out
}

// Refresh reloads overrides from the store and publishes a new snapshot
// merged over the defaults. Unrecognized keys present in the store are
// dropped; only the defaults' keys are ever exposed.
func (c *Cache) Refresh(ctx context.Context) error {
	stored, err := c.store.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("refresh system config: %w", err)
	}
	merged := cloneDefaults()
	for k := range merged {
		if v, ok := stored[k]; ok && v != "" {
			merged[k] = v
		}
	}
	c.ptr.Store(&merged)
	return nil
}

func (c *Cache) snapshot() map[string]string { return *c.ptr.Load() }

// All returns every recognized key/value pair.
func (c *Cache) All() map[string]string {
	snap := c.snapshot()
	out := make(map[string]string, len(snap))
	for k, v := range snap {
		out[k] = v
	}
	return out
}

func (c *Cache) raw(key string) string { return c.snapshot()[key] }

// Bool, Int and String read one recognized key, falling back to the
// compiled-in default (never an error) if the stored/cached value fails
// to parse — a misconfigured value should degrade, not crash a request.

func (c *Cache) Bool(key string) bool {
	v, err := strconv.ParseBool(c.raw(key))
	if err != nil {
		v, _ = strconv.ParseBool(defaults[key])
	}
	return v
}

func (c *Cache) Int(key string) int64 {
	v, err := strconv.ParseInt(c.raw(key), 10, 64)
	if err != nil {
		v, _ = strconv.ParseInt(defaults[key], 10, 64)
	}
	return v
}

func (c *Cache) String(key string) string {
	v := c.raw(key)
	if v == "" {
		return defaults[key]
	}
	return v
}

// AntibotEnabled, MinSubmitTimeMs, HoneypotField and ChallengeType are
// typed convenience readers for the anti-bot validator's hot path.
func (c *Cache) AntibotEnabled() bool       { return c.Bool(KeyAntibotEnabled) }
func (c *Cache) MinSubmitTimeMs() int64     { return c.Int(KeyAntibotMinSubmitTimeMs) }
func (c *Cache) HoneypotField() string      { return c.String(KeyAntibotHoneypotField) }
func (c *Cache) ChallengeType() string      { return c.String(KeyAntibotChallengeType) }
func (c *Cache) MetarefreshDelaySec() int64 { return c.Int(KeyAntibotMetarefreshDelay) }
func (c *Cache) PreactDifficultySec() int64 { return c.Int(KeyAntibotPreactDifficulty) }

// AnalyticsRetentionDays clamps to [1, 90] regardless of what was stored.
func (c *Cache) AnalyticsRetentionDays() int64 {
	return clamp(c.Int(KeyAnalyticsRetentionDays), 1, 90)
}

// TrafficLogsRetentionHours clamps to [1, 168].
func (c *Cache) TrafficLogsRetentionHours() int64 {
	return clamp(c.Int(KeyTrafficLogsRetentionHrs), 1, 168)
}

// TrafficLogsMaxEntries clamps to [1000, 100000].
func (c *Cache) TrafficLogsMaxEntries() int64 {
	return clamp(c.Int(KeyTrafficLogsMaxEntries), 1000, 100000)
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Validate reports whether key is recognized, for the admin config
// setter to reject unknown keys early.
func Validate(key string) error {
	if _, ok := defaults[key]; !ok {
		return fmt.Errorf("unrecognized config key: %s", key)
	}
	return nil
}
