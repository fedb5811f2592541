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

package decisionlog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

type fakeAppendStore struct {
	appended []string
	err      error
}

func (f *fakeAppendStore) AppendDecision(ctx context.Context, entryJSON string, maxEntries int) error {
	if f.err != nil {
		return f.err
	}
	f.appended = append(f.appended, entryJSON)
	return nil
}

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestAppendAssignsIDAndTimestampWhenMissing(t *testing.T) {
	store := &fakeAppendStore{}
	w := New(store, newTestLogger(), 10000)
	w.Append(context.Background(), Entry{Method: "GET", Path: "/x", Decision: DecisionAllowed})

	if len(store.appended) != 1 {
		t.Fatalf("expected one append, got %d", len(store.appended))
	}
	var got Entry
	if err := json.Unmarshal([]byte(store.appended[0]), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID == "" {
		t.Fatalf("expected a generated ID")
	}
	if got.Timestamp.IsZero() {
		t.Fatalf("expected a generated timestamp")
	}
}

func TestAppendSwallowsStoreErrors(t *testing.T) {
	store := &fakeAppendStore{err: errors.New("store unreachable")}
	w := New(store, newTestLogger(), 10000)
	// must not panic and must not propagate an error (no return value to check)
	w.Append(context.Background(), Entry{Method: "POST", Path: "/y", Decision: DecisionBlocked})
}
