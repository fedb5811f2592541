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

import "testing"

func TestValidateRejectsMultipleIdentifierSources(t *testing.T) {
	r := Rule{
		ID:              "r1",
		PathPattern:     "/api/**",
		Active:          true,
		TargetURI:       "http://upstream",
		AllowedRequests: 10,
		WindowSeconds:   60,
		HeaderName:      "X-API-Key",
		CookieName:      "session",
	}
	if err := r.Validate(); err == nil {
		t.Fatalf("expected error for two identifier sources configured at once")
	}
}

func TestValidateAcceptsSingleIdentifierSource(t *testing.T) {
	r := Rule{
		ID:              "r1",
		PathPattern:     "/api/**",
		Active:          true,
		TargetURI:       "http://upstream",
		AllowedRequests: 10,
		WindowSeconds:   60,
		HeaderName:      "X-API-Key",
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsActiveNonGlobalRuleWithoutTarget(t *testing.T) {
	r := Rule{
		ID:              "r1",
		PathPattern:     "/api/**",
		Active:          true,
		AllowedRequests: 10,
		WindowSeconds:   60,
	}
	if err := r.Validate(); err == nil {
		t.Fatalf("expected error for an active, non-global rule with no targetUri")
	}
}

func TestValidateAcceptsActiveGlobalRuleWithoutTarget(t *testing.T) {
	r := Rule{
		ID:              "global",
		PathPattern:     "/**",
		Active:          true,
		AllowedRequests: 1000,
		WindowSeconds:   60,
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsQueueWithoutSize(t *testing.T) {
	r := Rule{
		ID:              "r1",
		PathPattern:     "/api/**",
		Active:          true,
		TargetURI:       "http://upstream",
		AllowedRequests: 10,
		WindowSeconds:   60,
		QueueEnabled:    true,
	}
	if err := r.Validate(); err == nil {
		t.Fatalf("expected error for queueEnabled without maxQueueSize")
	}
}
