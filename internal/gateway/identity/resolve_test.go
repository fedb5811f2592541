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

package identity

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/ealvarez/poormans-ratelimit/internal/gateway/rules"
)

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestResolveHeaderWinsOverEverything(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "key-123")
	req.AddCookie(&http.Cookie{Name: "session", Value: "sess-456"})

	r := rules.Rule{HeaderName: "X-API-Key", CookieName: "session"}
	got := Resolve(r, req, nil, "1.2.3.4", newTestLogger())
	if got != "key-123" {
		t.Fatalf("got %q, want key-123", got)
	}
}

func TestResolveFallsBackToCookieWhenHeaderAbsent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "sess-456"})

	r := rules.Rule{HeaderName: "X-API-Key", CookieName: "session"}
	got := Resolve(r, req, nil, "1.2.3.4", newTestLogger())
	if got != "sess-456" {
		t.Fatalf("got %q, want sess-456", got)
	}
}

func TestResolveCombineWithIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "key-123")

	r := rules.Rule{HeaderName: "X-API-Key", HeaderMode: rules.ModeCombineWithIP}
	got := Resolve(r, req, nil, "1.2.3.4", newTestLogger())
	if got != "1.2.3.4:key-123" {
		t.Fatalf("got %q, want 1.2.3.4:key-123", got)
	}
}

func TestResolveFallsBackToBodyThenIP(t *testing.T) {
	body := []byte(`{"email":"a@b.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Content-Type", "application/json")

	r := rules.Rule{BodyFieldPath: "email", BodyContentType: rules.BodyJSON}
	got := Resolve(r, req, body, "1.2.3.4", newTestLogger())
	if got != "a@b.com" {
		t.Fatalf("got %q, want a@b.com", got)
	}
}

func TestResolveFallsThroughMalformedBodyToIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Content-Type", "application/json")

	r := rules.Rule{BodyFieldPath: "email", BodyContentType: rules.BodyJSON}
	got := Resolve(r, req, []byte("not json"), "1.2.3.4", newTestLogger())
	if got != "1.2.3.4" {
		t.Fatalf("got %q, want fallback to IP", got)
	}
}

func TestResolveFallsBackToIPWhenNoSourceConfigured(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	r := rules.Rule{}
	got := Resolve(r, req, nil, "9.9.9.9", newTestLogger())
	if got != "9.9.9.9" {
		t.Fatalf("got %q, want 9.9.9.9", got)
	}
}
