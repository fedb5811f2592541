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
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/ealvarez/poormans-ratelimit/internal/gateway/state"
)

type fakeRuleStore struct {
	rules []state.Rule
}

func (f *fakeRuleStore) ListRules(context.Context) ([]state.Rule, error) {
	return f.rules, nil
}

func mustJSON(t *testing.T, r Rule) string {
	t.Helper()
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal rule: %v", err)
	}
	return string(b)
}

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestCacheMatchOrdersSpecificBeforeGlobal(t *testing.T) {
	store := &fakeRuleStore{rules: []state.Rule{
		{ID: "global", JSON: mustJSON(t, Rule{ID: "global", PathPattern: "/**", Priority: 100, Active: true, AllowedRequests: 1000, WindowSeconds: 60})},
		{ID: "specific", JSON: mustJSON(t, Rule{ID: "specific", PathPattern: "/api/**", Priority: 1, Active: true, TargetURI: "http://upstream", AllowedRequests: 3, WindowSeconds: 15})},
	}}
	c := New(store, newTestLogger())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	matched := c.Match("/api/hello", "GET", "example.com")
	if len(matched) != 2 {
		t.Fatalf("len(matched) = %d, want 2", len(matched))
	}
	if matched[0].ID != "specific" || matched[1].ID != "global" {
		t.Fatalf("order = %v, want [specific global]", []string{matched[0].ID, matched[1].ID})
	}
}

func TestCacheMatchSkipsInactiveAndWrongMethod(t *testing.T) {
	store := &fakeRuleStore{rules: []state.Rule{
		{ID: "inactive", JSON: mustJSON(t, Rule{ID: "inactive", PathPattern: "/**", Active: false, AllowedRequests: 1, WindowSeconds: 1})},
		{ID: "post-only", JSON: mustJSON(t, Rule{ID: "post-only", PathPattern: "/**", Active: true, Methods: []string{"POST"}, AllowedRequests: 1, WindowSeconds: 1})},
	}}
	c := New(store, newTestLogger())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if matched := c.Match("/x", "GET", "h"); len(matched) != 0 {
		t.Fatalf("expected no match for GET, got %v", matched)
	}
	if matched := c.Match("/x", "POST", "h"); len(matched) != 1 {
		t.Fatalf("expected one match for POST, got %v", matched)
	}
}

func TestCacheRefreshSkipsMalformedRule(t *testing.T) {
	store := &fakeRuleStore{rules: []state.Rule{
		{ID: "bad", JSON: "{not json"},
		{ID: "good", JSON: mustJSON(t, Rule{ID: "good", PathPattern: "/**", Active: true, AllowedRequests: 1, WindowSeconds: 1})},
	}}
	c := New(store, newTestLogger())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh should not fail on a malformed rule: %v", err)
	}
	if got := len(c.Snapshot()); got != 1 {
		t.Fatalf("snapshot len = %d, want 1 (malformed rule skipped)", got)
	}
}
