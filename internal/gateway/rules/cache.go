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

package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/ealvarez/poormans-ratelimit/internal/gateway/errs"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/state"
)

// Store is the subset of state.Store the cache needs, narrowed so tests
// can substitute a fake without a real backing store.
type Store interface {
	ListRules(ctx context.Context) ([]state.Rule, error)
}

// Cache holds a published, wholesale-replaced snapshot of every valid
// stored rule (active and inactive),
// sorted by priority ascending. Readers grab the current snapshot with
// Snapshot and hold it for the duration of one request; a concurrent
// Refresh never mutates a snapshot a reader already holds.
type Cache struct {
	store Store
	log   *logrus.Logger
	ptr   atomic.Pointer[[]Rule]
}

// New returns an empty Cache; call Refresh before serving traffic.
func New(store Store, log *logrus.Logger) *Cache {
	c := &Cache{store: store, log: log}
	empty := []Rule{}
	c.ptr.Store(&empty)
	return c
}

// Refresh reloads every rule from the store, skipping and logging any
// that fail to deserialize or validate, then publishes the new
// snapshot. A malformed rule never aborts the whole reload: one bad
// entry is dropped, the rest of the cache still refreshes.
func (c *Cache) Refresh(ctx context.Context) error {
	stored, err := c.store.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("refresh rule cache: %w", err)
	}
	loaded := make([]Rule, 0, len(stored))
	for _, sr := range stored {
		var r Rule
		if err := json.Unmarshal([]byte(sr.JSON), &r); err != nil {
			c.log.WithError(errs.ErrMalformedRule).WithField("rule_id", sr.ID).WithField("cause", err).Warn("skipping malformed rule")
			continue
		}
		if r.ID == "" {
			r.ID = sr.ID
		}
		if err := r.Validate(); err != nil {
			c.log.WithError(errs.ErrMalformedRule).WithField("rule_id", r.ID).WithField("cause", err).Warn("skipping malformed rule")
			continue
		}
		loaded = append(loaded, r)
	}
	sort.SliceStable(loaded, func(i, j int) bool { return loaded[i].Priority < loaded[j].Priority })
	c.ptr.Store(&loaded)
	c.log.WithField("count", len(loaded)).Info("rule cache refreshed")
	return nil
}

// Snapshot returns the currently published rule set.
func (c *Cache) Snapshot() []Rule {
	return *c.ptr.Load()
}

// Match filters active rules whose pattern, methods and hosts all
// match, then returns specific rules followed by global rules, each
// partition preserving priority order. A nil/empty result means the
// request is allowed unconditionally.
func (c *Cache) Match(path, method, host string) []Rule {
	snapshot := c.Snapshot()
	var specific, global []Rule
	for _, r := range snapshot {
		if !r.Active {
			continue
		}
		if !MatchGlob(r.PathPattern, path) {
			continue
		}
		if len(r.Methods) > 0 && !containsFold(r.Methods, method) {
			continue
		}
		if len(r.Hosts) > 0 && !matchAnyHost(r.Hosts, host) {
			continue
		}
		if r.IsGlobal() {
			global = append(global, r)
		} else {
			specific = append(specific, r)
		}
	}
	out := make([]Rule, 0, len(specific)+len(global))
	out = append(out, specific...)
	out = append(out, global...)
	return out
}

// ActiveRuleCount reports how many rules in the current snapshot are
// active, for the analytics summary's activePolicies field.
func (c *Cache) ActiveRuleCount() int {
	snapshot := c.Snapshot()
	n := 0
	for _, r := range snapshot {
		if r.Active {
			n++
		}
	}
	return n
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func matchAnyHost(patterns []string, host string) bool {
	for _, p := range patterns {
		if MatchHost(p, host) {
			return true
		}
	}
	return false
}
