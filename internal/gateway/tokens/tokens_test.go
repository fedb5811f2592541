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

package tokens

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
)

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeIssuer struct{ n int }

func (f *fakeIssuer) IssueToken() (string, int64, string, error) {
	f.n++
	return "tok-abc", 1000, "_hp_email", nil
}

func (f *fakeIssuer) TokenTTLSeconds() int64 { return 600 }

type fakeConfig struct {
	challengeType string
	delaySec      int64
}

func (f fakeConfig) ChallengeType() string      { return f.challengeType }
func (f fakeConfig) MetarefreshDelaySec() int64 { return f.delaySec }

func TestHandleFormReturnsTokenPayload(t *testing.T) {
	h := New(&fakeIssuer{}, fakeConfig{}, newTestLogger())
	req := httptest.NewRequest("GET", "/api/tokens/form", nil)
	rec := httptest.NewRecorder()
	h.HandleForm(rec, req)

	var resp formResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Token != "tok-abc" || resp.ExpiresIn != 600 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleChallengeSetsFallbackCookie(t *testing.T) {
	h := New(&fakeIssuer{}, fakeConfig{challengeType: "metarefresh", delaySec: 3}, newTestLogger())
	req := httptest.NewRequest("GET", "/api/tokens/challenge", nil)
	rec := httptest.NewRecorder()
	h.HandleChallenge(rec, req)

	resp := rec.Result()
	found := false
	for _, c := range resp.Cookies() {
		if c.Name == challengeCookieName && c.Value == "tok-abc" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected challenge cookie to be set, got %v", resp.Cookies())
	}
}

func TestTemplateForSelectsByType(t *testing.T) {
	if templateFor("javascript") != javascriptTemplate {
		t.Fatalf("expected javascript template")
	}
	if templateFor("preact") != preactTemplate {
		t.Fatalf("expected preact template")
	}
	if templateFor("anything-else") != metarefreshTemplate {
		t.Fatalf("expected metarefresh default template")
	}
}
