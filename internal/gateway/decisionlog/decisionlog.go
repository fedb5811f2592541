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

// Package decisionlog appends one structured record per terminal
// gateway decision to the shared state store's bounded list, optionally
// fanning out to an archival state.Sink once entries age out. Writes
// are best-effort: a failure is logged, never propagated to the
// request path.
package decisionlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	gwmetrics "github.com/ealvarez/poormans-ratelimit/internal/gateway/metrics"
)

// Decision enumerates the terminal outcome of one request.
type Decision string

const (
	DecisionAllowed           Decision = "allowed"
	DecisionQueued            Decision = "queued"
	DecisionBlocked           Decision = "blocked"
	DecisionRejectedByAntibot Decision = "rejected-by-antibot"
)

// Entry is one decision log record.
type Entry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Host       string    `json:"host"`
	ClientAddr string    `json:"clientAddr"`
	Identifier string    `json:"identifier"`
	Decision   Decision  `json:"decision"`
	StatusCode int       `json:"statusCode"`
	DelayMs    int64     `json:"delayMs"`
	MatchedIDs []string  `json:"matchedRuleIds"`
}

// AppendStore is the subset of state.Store the writer depends on.
type AppendStore interface {
	AppendDecision(ctx context.Context, entryJSON string, maxEntries int) error
}

// Writer appends decision log entries, trimming the list to maxEntries
// on every push. Archival to a sink is the Archiver's job.
type Writer struct {
	store      AppendStore
	log        *logrus.Logger
	maxEntries int
}

// New returns a Writer bounding the decision log to maxEntries per
// push.
func New(store AppendStore, log *logrus.Logger, maxEntries int) *Writer {
	return &Writer{store: store, log: log, maxEntries: maxEntries}
}

// Append serializes and pushes one entry. Failures are logged and
// swallowed: the hot path must never block or fail on logging.
func (w *Writer) Append(ctx context.Context, e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		w.log.WithError(err).Error("marshal decision log entry")
		gwmetrics.ObserveDecisionLogDropped(1)
		return
	}
	if err := w.store.AppendDecision(ctx, string(payload), w.maxEntries); err != nil {
		w.log.WithError(err).WithField("rule_ids", e.MatchedIDs).Warn("append decision log entry failed")
		gwmetrics.ObserveDecisionLogDropped(1)
	}
}
